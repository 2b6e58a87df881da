package attest

import (
	"encoding/json"
	"time"

	"github.com/proofpulse/evidence-ledger/pkg/canonical"
	"github.com/proofpulse/evidence-ledger/pkg/ledger"
)

const (
	PayloadSchemaVersion = 1
	PayloadType          = "EVIDENCE_LEDGER_ATTESTATION"
	DefaultIssuer        = "proofpulse-ledger-service"
	AlgorithmEd25519     = "Ed25519"
)

// VerificationSteps is the human-readable procedure included in every
// bundle.
var VerificationSteps = []string{
	"1) Recompute chain head using /chains/verify?projectId=...&artifactId=...",
	"2) Confirm headHash and headChainIndex match attestation payload.",
	"3) Verify Ed25519 signature over payloadCanonical using publicKeyB64.",
}

// Payload is the signed statement about a chain head.
type Payload struct {
	SchemaVersion  int
	Type           string
	IssuedAt       time.Time
	Issuer         string
	ProjectID      string
	ArtifactID     string
	HeadChainIndex int64
	HeadHash       string
}

// Value returns the payload as the object that gets canonicalized and
// signed.
func (p Payload) Value() canonical.Value {
	return canonical.Object(map[string]canonical.Value{
		"schemaVersion":  canonical.Number(float64(p.SchemaVersion)),
		"type":           canonical.String(p.Type),
		"issuedAt":       canonical.String(ledger.FormatTimestamp(p.IssuedAt)),
		"issuer":         canonical.String(p.Issuer),
		"projectId":      canonical.String(p.ProjectID),
		"artifactId":     canonical.String(p.ArtifactID),
		"headChainIndex": canonical.Number(float64(p.HeadChainIndex)),
		"headHash":       canonical.String(p.HeadHash),
	})
}

// Bundle is a signed attestation as stored and transmitted. Payload is kept
// as a structured value so that a bundle from an outside holder verifies
// over exactly the fields it carries. An empty PayloadCanonical means the
// holder did not supply one.
type Bundle struct {
	Payload           canonical.Value `json:"payload"`
	PayloadCanonical  string          `json:"payloadCanonical,omitempty"`
	SignatureB64      string          `json:"signatureB64"`
	PublicKeyB64      string          `json:"publicKeyB64"`
	Algorithm         string          `json:"algorithm"`
	VerificationSteps []string        `json:"verificationSteps,omitempty"`
}

// Value returns the bundle as a structured value.
func (b *Bundle) Value() canonical.Value {
	fields := map[string]canonical.Value{
		"payload":      b.Payload,
		"signatureB64": canonical.String(b.SignatureB64),
		"publicKeyB64": canonical.String(b.PublicKeyB64),
		"algorithm":    canonical.String(b.Algorithm),
	}
	if b.PayloadCanonical != "" {
		fields["payloadCanonical"] = canonical.String(b.PayloadCanonical)
	}
	if b.VerificationSteps != nil {
		steps := make([]canonical.Value, len(b.VerificationSteps))
		for i, s := range b.VerificationSteps {
			steps[i] = canonical.String(s)
		}
		fields["verificationSteps"] = canonical.Array(steps...)
	}
	return canonical.Object(fields)
}

// Encode renders the bundle as canonical JSON.
func (b *Bundle) Encode() ([]byte, error) {
	s, err := canonical.Canonicalize(b.Value())
	if err != nil {
		return nil, err
	}
	return []byte(s), nil
}

// DecodeBundle parses a bundle document. Unknown fields are ignored.
func DecodeBundle(data []byte) (*Bundle, error) {
	var b Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, &ledger.ValidationError{Field: "bundle", Reason: "malformed attestation bundle", Err: err}
	}
	return &b, nil
}

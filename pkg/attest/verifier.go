package attest

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/proofpulse/evidence-ledger/pkg/canonical"
	"github.com/proofpulse/evidence-ledger/pkg/ledger"
)

// RepairHistory reports the most recent effective repair of a chain.
type RepairHistory interface {
	LatestRepair(ctx context.Context, projectID, artifactID string) (*ledger.RepairRecord, error)
}

// SignatureCheck is the offline part of verification: it needs only the
// bundle.
type SignatureCheck struct {
	CanonicalForm           string
	PayloadCanonicalMatches bool
	SignatureValid          bool
}

// CheckSignature recanonicalizes the payload, compares it with the
// precomputed form when present, and verifies the signature over the
// recomputed bytes.
func CheckSignature(b *Bundle) (*SignatureCheck, error) {
	if !strings.EqualFold(b.Algorithm, AlgorithmEd25519) {
		return nil, &CryptoError{Reason: fmt.Sprintf("unsupported algorithm %q", b.Algorithm)}
	}
	if b.Payload.Kind() != canonical.KindObject {
		return nil, &ledger.ValidationError{Field: "payload", Reason: "missing payload object"}
	}
	form, err := canonical.Canonicalize(b.Payload)
	if err != nil {
		return nil, &ledger.ValidationError{Field: "payload", Reason: "payload cannot be canonicalized", Err: err}
	}

	pub, err := DecodePublicKey(b.PublicKeyB64)
	if err != nil {
		return nil, err
	}
	sig, err := base64.StdEncoding.DecodeString(b.SignatureB64)
	if err != nil {
		return nil, &CryptoError{Reason: "signature is not valid base64", Err: err}
	}
	if len(sig) != ed25519.SignatureSize {
		return nil, &CryptoError{Reason: fmt.Sprintf("signature is %d bytes, want %d", len(sig), ed25519.SignatureSize)}
	}

	return &SignatureCheck{
		CanonicalForm:           form,
		PayloadCanonicalMatches: b.PayloadCanonical == "" || b.PayloadCanonical == form,
		SignatureValid:          ed25519.Verify(pub, []byte(form), sig),
	}, nil
}

// VerifyResult reports every sub-check of a bundle verification. The
// attestation head fields echo the payload as given.
type VerifyResult struct {
	OK         bool   `json:"ok"`
	VerifiedAt string `json:"verifiedAt"`

	SignatureValid              bool `json:"signatureValid"`
	PayloadCanonicalMatches     bool `json:"payloadCanonicalMatches"`
	ChainValid                  bool `json:"chainValid"`
	ChainHeadMatchesAttestation bool `json:"chainHeadMatchesAttestation"`

	AttestationHeadChainIndex canonical.Value `json:"attestationHeadChainIndex"`
	AttestationHeadHash       canonical.Value `json:"attestationHeadHash"`
	CurrentHeadChainIndex     *int64          `json:"currentHeadChainIndex"`
	CurrentHeadHash           *string         `json:"currentHeadHash"`

	RepairedSinceIssued bool   `json:"repairedSinceIssued"`
	LastRepairAt        string `json:"lastRepairAt,omitempty"`

	ChainReport *ledger.VerifyReport `json:"chainReport,omitempty"`
}

// Verifier checks bundles against the live ledger.
type Verifier struct {
	chains  ChainVerifier
	repairs RepairHistory
	now     func() time.Time
}

// VerifierOption configures a Verifier.
type VerifierOption func(*Verifier)

// WithRepairHistory enables the repairedSinceIssued diagnostic.
func WithRepairHistory(r RepairHistory) VerifierOption {
	return func(v *Verifier) { v.repairs = r }
}

// WithVerifierClock overrides time.Now.
func WithVerifierClock(now func() time.Time) VerifierOption {
	return func(v *Verifier) { v.now = now }
}

// NewVerifier returns a Verifier reading chains through chains.
func NewVerifier(chains ChainVerifier, opts ...VerifierOption) *Verifier {
	v := &Verifier{chains: chains, now: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify checks b. A bundle that fails a check is a normal result with
// OK=false; errors are reserved for undecodable input, a missing chain
// and storage faults.
func (v *Verifier) Verify(ctx context.Context, b *Bundle) (*VerifyResult, error) {
	sc, err := CheckSignature(b)
	if err != nil {
		return nil, err
	}

	projectID, ok := stringField(b.Payload, "projectId")
	if !ok {
		return nil, &ledger.ValidationError{Field: "payload.projectId", Reason: "must be a string"}
	}
	artifactID, ok := stringField(b.Payload, "artifactId")
	if !ok {
		return nil, &ledger.ValidationError{Field: "payload.artifactId", Reason: "must be a string"}
	}

	report, err := v.chains.Verify(ctx, projectID, artifactID)
	if err != nil {
		return nil, err
	}
	if !report.Found() {
		return nil, &ledger.NotFoundError{Resource: "chain", ProjectID: projectID, ArtifactID: artifactID}
	}

	attIndex, _ := b.Payload.Field("headChainIndex")
	attHash, _ := b.Payload.Field("headHash")

	curIndex, curHash := "null", "null"
	if report.HeadChainIndex != nil {
		curIndex = strconv.FormatInt(*report.HeadChainIndex, 10)
	}
	var currentHash *string
	if report.HeadHash != "" {
		curHash = report.HeadHash
		currentHash = &report.HeadHash
	}
	headMatches := normalize(attIndex) == curIndex && normalize(attHash) == curHash

	res := &VerifyResult{
		VerifiedAt:                  ledger.FormatTimestamp(v.now()),
		SignatureValid:              sc.SignatureValid,
		PayloadCanonicalMatches:     sc.PayloadCanonicalMatches,
		ChainValid:                  report.Valid,
		ChainHeadMatchesAttestation: headMatches,
		AttestationHeadChainIndex:   attIndex,
		AttestationHeadHash:         attHash,
		CurrentHeadChainIndex:       report.HeadChainIndex,
		CurrentHeadHash:             currentHash,
	}
	res.OK = res.PayloadCanonicalMatches && res.SignatureValid && res.ChainValid && res.ChainHeadMatchesAttestation
	if !res.OK {
		res.ChainReport = report
	}

	if err := v.checkRepairs(ctx, b.Payload, projectID, artifactID, res); err != nil {
		return nil, err
	}
	return res, nil
}

func (v *Verifier) checkRepairs(ctx context.Context, payload canonical.Value, projectID, artifactID string, res *VerifyResult) error {
	if v.repairs == nil {
		return nil
	}
	issuedRaw, ok := stringField(payload, "issuedAt")
	if !ok {
		return nil
	}
	issuedAt, err := time.Parse(time.RFC3339Nano, issuedRaw)
	if err != nil {
		return nil
	}
	rec, err := v.repairs.LatestRepair(ctx, projectID, artifactID)
	if err != nil {
		return err
	}
	if rec != nil && rec.RepairedAt.After(issuedAt) {
		res.RepairedSinceIssued = true
		res.LastRepairAt = ledger.FormatTimestamp(rec.RepairedAt)
	}
	return nil
}

func stringField(obj canonical.Value, key string) (string, bool) {
	f, ok := obj.Field(key)
	if !ok {
		return "", false
	}
	return f.AsString()
}

// normalize renders an asserted head value the way the live head is
// rendered: strings as-is, anything else in canonical form.
func normalize(v canonical.Value) string {
	if s, ok := v.AsString(); ok {
		return s
	}
	s, err := canonical.Canonicalize(v)
	if err != nil {
		return ""
	}
	return s
}

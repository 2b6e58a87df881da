// Package attest signs chain heads and verifies the resulting bundles.
package attest

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/proofpulse/evidence-ledger/pkg/blobstore"
	"github.com/proofpulse/evidence-ledger/pkg/canonical"
	"github.com/proofpulse/evidence-ledger/pkg/ledger"
)

// DefaultDownloadPath prefixes the download endpoint returned for stores
// that cannot presign.
const DefaultDownloadPath = "/internal/ledger/attestations/"

// ChainVerifier is the view of the chain engine that attestation needs.
type ChainVerifier interface {
	Verify(ctx context.Context, projectID, artifactID string) (*ledger.VerifyReport, error)
}

// Attestor issues signed bundles for valid chains.
type Attestor struct {
	chains       ChainVerifier
	keys         *KeyPair
	store        blobstore.Store
	issuer       string
	downloadPath string
	now          func() time.Time
	logger       *slog.Logger
}

// AttestorOption configures an Attestor.
type AttestorOption func(*Attestor)

// WithBlobStore persists generated bundles in s.
func WithBlobStore(s blobstore.Store) AttestorOption {
	return func(a *Attestor) { a.store = s }
}

// WithDefaultIssuer overrides the issuer used when a request names none.
func WithDefaultIssuer(issuer string) AttestorOption {
	return func(a *Attestor) {
		if issuer != "" {
			a.issuer = issuer
		}
	}
}

// WithDownloadPath overrides DefaultDownloadPath.
func WithDownloadPath(prefix string) AttestorOption {
	return func(a *Attestor) { a.downloadPath = prefix }
}

// WithAttestorClock overrides time.Now.
func WithAttestorClock(now func() time.Time) AttestorOption {
	return func(a *Attestor) { a.now = now }
}

// WithAttestorLogger sets the logger.
func WithAttestorLogger(l *slog.Logger) AttestorOption {
	return func(a *Attestor) { a.logger = l }
}

// NewAttestor returns an Attestor signing with keys.
func NewAttestor(chains ChainVerifier, keys *KeyPair, opts ...AttestorOption) *Attestor {
	a := &Attestor{
		chains:       chains,
		keys:         keys,
		issuer:       DefaultIssuer,
		downloadPath: DefaultDownloadPath,
		now:          time.Now,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// PublicKeyBase64 returns the signer's public key in bundle form.
func (a *Attestor) PublicKeyBase64() string { return a.keys.PublicKeyBase64() }

// Generate verifies the chain and signs its head. A missing chain is a
// ledger.NotFoundError; an invalid chain is an InvalidChainError carrying
// the failing report.
func (a *Attestor) Generate(ctx context.Context, projectID, artifactID, issuer string) (*Bundle, error) {
	if !utf8.ValidString(issuer) {
		return nil, &ledger.ValidationError{Field: "issuer", Reason: "must be valid UTF-8"}
	}
	report, err := a.chains.Verify(ctx, projectID, artifactID)
	if err != nil {
		return nil, err
	}
	if !report.Found() {
		return nil, &ledger.NotFoundError{Resource: "chain", ProjectID: projectID, ArtifactID: artifactID}
	}
	if !report.Valid {
		return nil, &InvalidChainError{Report: report}
	}
	if issuer == "" {
		issuer = a.issuer
	}

	payload := Payload{
		SchemaVersion:  PayloadSchemaVersion,
		Type:           PayloadType,
		IssuedAt:       a.now(),
		Issuer:         issuer,
		ProjectID:      projectID,
		ArtifactID:     artifactID,
		HeadChainIndex: *report.HeadChainIndex,
		HeadHash:       report.HeadHash,
	}
	value := payload.Value()
	form, err := canonical.Canonicalize(value)
	if err != nil {
		return nil, err
	}

	bundle := &Bundle{
		Payload:           value,
		PayloadCanonical:  form,
		SignatureB64:      base64.StdEncoding.EncodeToString(a.keys.sign([]byte(form))),
		PublicKeyB64:      a.keys.PublicKeyBase64(),
		Algorithm:         AlgorithmEd25519,
		VerificationSteps: VerificationSteps,
	}
	a.logger.Info("attestation generated",
		"projectId", projectID, "artifactId", artifactID,
		"headChainIndex", payload.HeadChainIndex, "issuer", issuer)
	return bundle, nil
}

// StoredBundle is the result of GenerateAndStore. DownloadURL is set for
// stores that presign, DownloadEndpoint otherwise.
type StoredBundle struct {
	BundleID         string  `json:"bundleId,omitempty"`
	DownloadURL      string  `json:"downloadUrl,omitempty"`
	ExpiresInMinutes int     `json:"expiresInMinutes,omitempty"`
	DownloadEndpoint string  `json:"downloadEndpoint,omitempty"`
	Bundle           *Bundle `json:"bundle"`
}

// GenerateAndStore generates a bundle and, when a blob store is
// configured, persists its canonical JSON under a new identifier.
func (a *Attestor) GenerateAndStore(ctx context.Context, projectID, artifactID, issuer string) (*StoredBundle, error) {
	bundle, err := a.Generate(ctx, projectID, artifactID, issuer)
	if err != nil {
		return nil, err
	}
	out := &StoredBundle{Bundle: bundle}
	if a.store == nil {
		return out, nil
	}

	data, err := bundle.Encode()
	if err != nil {
		return nil, err
	}
	id := uuid.NewString()
	if err := a.store.Put(ctx, id, data); err != nil {
		return nil, &ledger.StorageFault{Op: "store attestation", Err: err}
	}
	out.BundleID = id

	if p, ok := a.store.(blobstore.Presigner); ok {
		url, ttl, err := p.PresignGet(ctx, id)
		if err != nil {
			return nil, &ledger.StorageFault{Op: "presign attestation", Err: err}
		}
		out.DownloadURL = url
		out.ExpiresInMinutes = int(ttl / time.Minute)
		return out, nil
	}
	out.DownloadEndpoint = strings.TrimSuffix(a.downloadPath, "/") + "/" + id
	return out, nil
}

// Get returns the stored canonical JSON of a bundle.
func (a *Attestor) Get(ctx context.Context, bundleID string) ([]byte, error) {
	if a.store == nil {
		return nil, &ledger.NotFoundError{Resource: "attestation bundle", ID: bundleID}
	}
	if err := blobstore.ValidateKey(bundleID); err != nil {
		return nil, &ledger.ValidationError{Field: "bundleId", Reason: "invalid bundle id", Err: err}
	}
	data, err := a.store.Get(ctx, bundleID)
	if errors.Is(err, blobstore.ErrNotFound) {
		return nil, &ledger.NotFoundError{Resource: "attestation bundle", ID: bundleID}
	}
	if err != nil {
		return nil, &ledger.StorageFault{Op: "load attestation", Err: fmt.Errorf("bundle %s: %w", bundleID, err)}
	}
	return data, nil
}

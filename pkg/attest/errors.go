package attest

import (
	"github.com/proofpulse/evidence-ledger/pkg/ledger"
)

// CryptoError reports an unsupported algorithm or a key or signature that
// cannot be decoded. It fails the one verification request only.
type CryptoError struct {
	Reason string
	Err    error
}

func (e *CryptoError) Error() string {
	if e.Err != nil {
		return e.Reason + ": " + e.Err.Error()
	}
	return e.Reason
}

func (e *CryptoError) Unwrap() error { return e.Err }

// InvalidChainError is returned by Generate when the chain fails
// verification. Nothing is signed.
type InvalidChainError struct {
	Report *ledger.VerifyReport
}

func (e *InvalidChainError) Error() string {
	return "chain " + ledger.ChainKey(e.Report.ProjectID, e.Report.ArtifactID) + " is invalid: " + e.Report.Reason
}

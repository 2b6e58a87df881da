package audit

import (
	"net/http"
	"strings"
)

// Audited actions.
const (
	ActionRepair         = "chain.repair"
	ActionAttestGenerate = "attestation.generate"
)

// actionFor names the audited action of a request, or "" when the request
// is not audited. Appends are not audited; the chain itself records them.
func actionFor(method, path string) string {
	if method != http.MethodPost {
		return ""
	}
	path = strings.TrimSuffix(path, "/")
	switch {
	case strings.HasSuffix(path, "/chains/repair"):
		return ActionRepair
	case strings.HasSuffix(path, "/attestations/generate"):
		return ActionAttestGenerate
	}
	return ""
}

// outcomeFromStatus maps HTTP status codes to audit outcomes.
func outcomeFromStatus(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "success"
	case code == http.StatusForbidden:
		return "denied"
	default:
		return "failure"
	}
}

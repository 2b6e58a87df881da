package ledger

import (
	_ "crypto/sha256" // registers SHA-256 for go-digest
	"strconv"
	"time"

	"github.com/opencontainers/go-digest"

	"github.com/proofpulse/evidence-ledger/pkg/canonical"
)

// TimestampLayout is the only instant format used in canonical forms.
// Instants are UTC with exactly six fractional digits.
const TimestampLayout = "2006-01-02T15:04:05.000000Z"

// NormalizeTimestamp converts t to UTC and truncates it to microseconds,
// the finest precision every supported database stores.
func NormalizeTimestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// FormatTimestamp renders t in TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return NormalizeTimestamp(t).Format(TimestampLayout)
}

// CanonicalEventForm is the exact string hashed for one event: an object
// with the seven event fields plus the payload, in canonical form. A null
// payload is rendered as {}.
func CanonicalEventForm(schemaVersion int, eventID, projectID, artifactID, source string, timestamp time.Time, eventType string, payload canonical.Value) (string, error) {
	form := canonical.Object(map[string]canonical.Value{
		"schemaVersion": canonical.Number(float64(schemaVersion)),
		"eventId":       canonical.String(eventID),
		"projectId":     canonical.String(projectID),
		"artifactId":    canonical.String(artifactID),
		"source":        canonical.String(source),
		"timestamp":     canonical.String(FormatTimestamp(timestamp)),
		"type":          canonical.String(eventType),
		"payload":       canonical.ObjectOrEmpty(payload),
	})
	return canonical.Canonicalize(form)
}

// ChainHash is SHA-256 over prevHash, a "|" separator and the canonical
// form, as one UTF-8 string, rendered as lower-case hex. prevHash is empty
// for chainIndex 0. Append, Verify and Repair all hash through here.
func ChainHash(prevHash, canonicalForm string) string {
	return digest.FromString(prevHash + "|" + canonicalForm).Encoded()
}

func formatIndex(i int64) string {
	return strconv.FormatInt(i, 10)
}

package main

import (
	"bytes"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/proofpulse/evidence-ledger/pkg/attest"
	"github.com/proofpulse/evidence-ledger/pkg/audit"
	"github.com/proofpulse/evidence-ledger/pkg/canonical"
	"github.com/proofpulse/evidence-ledger/pkg/jobs"
	"github.com/proofpulse/evidence-ledger/pkg/ledger"
)

// runCLI executes a fresh root command against srvURL and returns what it
// wrote to stdout.
func runCLI(t *testing.T, srvURL string, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	stdout = &buf
	t.Cleanup(func() { stdout = os.Stdout })

	root := newRootCmd()
	root.SetArgs(append([]string{"--server", srvURL}, args...))
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	err := root.Execute()
	return buf.String(), err
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// --- pure helpers ---

func TestTruncate(t *testing.T) {
	tests := []struct {
		input string
		max   int
		want  string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"this is a long string", 10, "this is..."},
		{"abcdef", 3, "abc"},
	}
	for _, tt := range tests {
		got := truncate(tt.input, tt.max)
		if got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.input, tt.max, got, tt.want)
		}
	}
}

func TestEventFromFlags(t *testing.T) {
	tests := []struct {
		name      string
		eventType string
		eventID   string
		payload   string
		wantErr   string
	}{
		{name: "defaults event id", eventType: "build.completed", payload: "{}"},
		{name: "keeps event id", eventType: "build.completed", eventID: "ev-1", payload: `{"a":1}`},
		{name: "missing type", payload: "{}", wantErr: "--type"},
		{name: "invalid payload", eventType: "x", payload: "{", wantErr: "--payload"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := eventFromFlags("proj-1", "artifact-1", tt.eventType, "ci", tt.eventID, "", tt.payload)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ev["eventId"] == "" {
				t.Error("eventId should default to a new UUID")
			}
			if tt.eventID != "" && ev["eventId"] != tt.eventID {
				t.Errorf("eventId = %v, want %q", ev["eventId"], tt.eventID)
			}
			if ev["timestamp"] == "" {
				t.Error("timestamp should default to now")
			}
		})
	}
}

// --- HTTP integration tests with httptest ---

func TestAppendHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/internal/ledger/events" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Idempotency-Key"); got != "retry-1" {
			t.Errorf("Idempotency-Key = %q, want %q", got, "retry-1")
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body["projectId"] != "proj-1" || body["type"] != "scan.passed" {
			t.Errorf("unexpected body: %v", body)
		}
		writeJSON(w, http.StatusCreated, map[string]any{
			"ok": true, "eventId": "ev-1", "chainIndex": 0, "prevHash": nil, "eventHash": "abc123",
		})
	}))
	defer srv.Close()

	out, err := runCLI(t, srv.URL, "append", "-p", "proj-1", "-a", "artifact-1", "--type", "scan.passed",
		"--idempotency-key", "retry-1")
	if err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if !strings.Contains(out, "abc123") || !strings.Contains(out, "ev-1") {
		t.Errorf("output missing result:\n%s", out)
	}
}

func TestAppendFromFileRejectsInvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "event.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := runCLI(t, "http://127.0.0.1:1", "append", "--file", path)
	if err == nil || !strings.Contains(err.Error(), "not valid JSON") {
		t.Fatalf("expected invalid JSON error, got %v", err)
	}
}

func TestHeadJSONOutput(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("projectId") != "proj-1" || r.URL.Query().Get("artifactId") != "artifact-1" {
			t.Errorf("unexpected query: %s", r.URL.RawQuery)
		}
		writeJSON(w, http.StatusOK, ledger.ChainHead{
			ProjectID: "proj-1", ArtifactID: "artifact-1", ChainIndex: 4, EventHash: "feed",
		})
	}))
	defer srv.Close()

	out, err := runCLI(t, srv.URL, "head", "-p", "proj-1", "-a", "artifact-1", "-o", "json")
	if err != nil {
		t.Fatalf("head failed: %v", err)
	}
	var head ledger.ChainHead
	if err := json.Unmarshal([]byte(out), &head); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if head.ChainIndex != 4 || head.EventHash != "feed" {
		t.Errorf("unexpected head: %+v", head)
	}
}

func TestVerifyAllHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/internal/ledger/chains":
			writeJSON(w, http.StatusOK, chainList{Items: []ledger.ChainSummary{
				{ProjectID: "proj-1", ArtifactID: "a-1", TotalEvents: 2, HeadChainIndex: 1},
				{ProjectID: "proj-1", ArtifactID: "a-2", TotalEvents: 3, HeadChainIndex: 2},
				{ProjectID: "proj-2", ArtifactID: "a-1", TotalEvents: 1, HeadChainIndex: 0},
			}, Size: 3})
		case "/internal/ledger/chains/verify":
			q := r.URL.Query()
			report := ledger.VerifyReport{
				ProjectID: q.Get("projectId"), ArtifactID: q.Get("artifactId"), Valid: true,
			}
			if report.ArtifactID == "a-2" {
				idx := int64(1)
				report.Valid = false
				report.FirstMismatchIndex = &idx
				report.Reason = "event_hash_mismatch"
			}
			writeJSON(w, http.StatusOK, report)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	out, err := runCLI(t, srv.URL, "verify", "--all", "-o", "json")
	if err == nil || !strings.Contains(err.Error(), "1 of 3") {
		t.Fatalf("expected one failed chain, got %v", err)
	}
	var reports []ledger.VerifyReport
	if err := json.Unmarshal([]byte(out), &reports); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if len(reports) != 3 {
		t.Fatalf("got %d reports, want 3", len(reports))
	}
	order := []string{"proj-1/a-1", "proj-1/a-2", "proj-2/a-1"}
	for i, r := range reports {
		if got := r.ProjectID + "/" + r.ArtifactID; got != order[i] {
			t.Errorf("report %d = %s, want %s", i, got, order[i])
		}
	}
	if reports[1].Reason != "event_hash_mismatch" {
		t.Errorf("reason = %q", reports[1].Reason)
	}
}

func TestVerifyRequiresPairOrAll(t *testing.T) {
	_, err := runCLI(t, "http://127.0.0.1:1", "verify", "-p", "proj-1")
	if err == nil || !strings.Contains(err.Error(), "--all") {
		t.Fatalf("expected usage error, got %v", err)
	}
}

func TestRepairRequiresConfirmation(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	_, err := runCLI(t, srv.URL, "repair", "-p", "proj-1", "-a", "artifact-1")
	if err == nil || !strings.Contains(err.Error(), "--yes") {
		t.Fatalf("expected confirmation error, got %v", err)
	}
	if hits.Load() != 0 {
		t.Error("repair without --yes must not contact the server")
	}
}

func TestRepairSendsRole(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/internal/ledger/chains/repair" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("X-User-Role"); got != "operator" {
			t.Errorf("X-User-Role = %q, want operator", got)
		}
		writeJSON(w, http.StatusOK, ledger.RepairResult{RowsRewritten: 2, Warning: "attestations invalidated"})
	}))
	defer srv.Close()

	out, err := runCLI(t, srv.URL, "--role", "operator", "repair", "-p", "proj-1", "-a", "artifact-1", "--yes")
	if err != nil {
		t.Fatalf("repair failed: %v", err)
	}
	if !strings.Contains(out, "rows rewritten: 2") {
		t.Errorf("output missing row count:\n%s", out)
	}
}

func TestClientErrorHandling(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found", "message": "no chain"})
	}))
	defer srv.Close()

	client := &ledgerClient{baseURL: srv.URL, http: srv.Client()}
	var head ledger.ChainHead
	err := client.getJSON(t.Context(), apiBase+"/chains/head", pairQuery("p", "a"), &head)
	var apiErr *apiError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *apiError, got %v", err)
	}
	if apiErr.Status != http.StatusNotFound || apiErr.Code != "not_found" {
		t.Errorf("unexpected error: %+v", apiErr)
	}
	if !strings.Contains(err.Error(), "404") {
		t.Errorf("error should contain status code, got: %v", err)
	}
}

func TestClientAcceptsListedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusConflict, map[string]bool{"ok": false})
	}))
	defer srv.Close()

	client := &ledgerClient{baseURL: srv.URL, http: srv.Client()}
	status, body, err := client.do(t.Context(), http.MethodPost, "/x", nil, nil, nil, http.StatusConflict)
	if err != nil {
		t.Fatalf("409 should be accepted: %v", err)
	}
	if status != http.StatusConflict || !strings.Contains(string(body), `"ok":false`) {
		t.Errorf("unexpected response %d %s", status, body)
	}
}

// --- attestation ---

// signedBundle builds a bundle signed with a throwaway key.
func signedBundle(t *testing.T) *attest.Bundle {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatal(err)
	}
	payload := canonical.Object(map[string]canonical.Value{
		"schemaVersion":  canonical.Number(1),
		"type":           canonical.String(attest.PayloadType),
		"issuedAt":       canonical.String("2025-03-01T09:30:00.000000Z"),
		"issuer":         canonical.String(attest.DefaultIssuer),
		"projectId":      canonical.String("proj-1"),
		"artifactId":     canonical.String("artifact-1"),
		"headChainIndex": canonical.Number(2),
		"headHash":       canonical.String("abc"),
	})
	form := canonical.MustCanonicalize(payload)
	return &attest.Bundle{
		Payload:          payload,
		PayloadCanonical: form,
		SignatureB64:     base64.StdEncoding.EncodeToString(ed25519.Sign(priv, []byte(form))),
		PublicKeyB64:     base64.StdEncoding.EncodeToString(pub),
		Algorithm:        attest.AlgorithmEd25519,
	}
}

func writeBundle(t *testing.T, b *attest.Bundle) string {
	t.Helper()
	data, err := b.Encode()
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "bundle.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestAttestVerifyOffline(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		path := writeBundle(t, signedBundle(t))
		out, err := runCLI(t, "http://127.0.0.1:1", "attest", "verify", "--offline", "-f", path)
		if err != nil {
			t.Fatalf("offline verify failed: %v", err)
		}
		if !strings.Contains(out, "true") {
			t.Errorf("unexpected output:\n%s", out)
		}
	})

	t.Run("edited payload", func(t *testing.T) {
		b := signedBundle(t)
		b.Payload = b.Payload.With("headChainIndex", canonical.Number(3))
		path := writeBundle(t, b)
		_, err := runCLI(t, "http://127.0.0.1:1", "attest", "verify", "--offline", "-f", path)
		if err == nil {
			t.Fatal("expected verification failure for an edited payload")
		}
	})

	t.Run("wrong algorithm", func(t *testing.T) {
		b := signedBundle(t)
		b.Algorithm = "RSA"
		path := writeBundle(t, b)
		_, err := runCLI(t, "http://127.0.0.1:1", "attest", "verify", "--offline", "-f", path)
		var cryptoErr *attest.CryptoError
		if !errors.As(err, &cryptoErr) {
			t.Fatalf("expected CryptoError, got %v", err)
		}
	})
}

func TestAttestVerifyOnlineStale(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/internal/ledger/attestations/verify" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var b attest.Bundle
		if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
			t.Errorf("decode bundle: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		io.WriteString(w, `{"ok":false,"verifiedAt":"2025-03-02T00:00:00.000000Z","signatureValid":true,`+
			`"payloadCanonicalMatches":true,"chainValid":true,"chainHeadMatchesAttestation":false,`+
			`"attestationHeadChainIndex":2,"attestationHeadHash":"abc","currentHeadChainIndex":3,`+
			`"currentHeadHash":"def","repairedSinceIssued":false}`)
	}))
	defer srv.Close()

	path := writeBundle(t, signedBundle(t))
	out, err := runCLI(t, srv.URL, "attest", "verify", "-f", path)
	if err == nil || !strings.Contains(err.Error(), "does not verify") {
		t.Fatalf("expected verification failure, got %v", err)
	}
	if !strings.Contains(out, "HEAD MATCHES") && !strings.Contains(out, "Head matches") {
		t.Errorf("expected result table, got:\n%s", out)
	}
	if !strings.Contains(out, "3") {
		t.Errorf("expected current head in output:\n%s", out)
	}
}

func TestAttestGenerateSave(t *testing.T) {
	b := signedBundle(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("issuer") != "release-bot" {
			t.Errorf("issuer = %q", r.URL.Query().Get("issuer"))
		}
		writeJSON(w, http.StatusCreated, attest.StoredBundle{
			BundleID:         "b-1",
			DownloadEndpoint: "/internal/ledger/attestations/b-1",
			Bundle:           b,
		})
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "saved.json")
	out, err := runCLI(t, srv.URL, "attest", "generate", "-p", "proj-1", "-a", "artifact-1",
		"--issuer", "release-bot", "--save", path)
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if !strings.Contains(out, "b-1") {
		t.Errorf("output missing bundle id:\n%s", out)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	saved, err := attest.DecodeBundle(data)
	if err != nil {
		t.Fatal(err)
	}
	sc, err := attest.CheckSignature(saved)
	if err != nil {
		t.Fatal(err)
	}
	if !sc.SignatureValid || !sc.PayloadCanonicalMatches {
		t.Errorf("saved bundle does not verify: %+v", sc)
	}
}

func TestHealthHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/healthz":
			writeJSON(w, http.StatusOK, map[string]string{"status": "alive", "uptime": "5s"})
		case "/readyz":
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not_ready"})
		}
	}))
	defer srv.Close()

	out, err := runCLI(t, srv.URL, "health")
	if err == nil || !strings.Contains(err.Error(), "not ready") {
		t.Fatalf("expected not ready error, got %v", err)
	}
	if !strings.Contains(out, "alive") || !strings.Contains(out, "not_ready") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestAuditListHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/internal/ledger/audit/events" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("action"); got != audit.ActionRepair {
			t.Errorf("action = %q", got)
		}
		if r.URL.Query().Has("actor") {
			t.Error("empty filters should not be sent")
		}
		writeJSON(w, http.StatusOK, auditPage{
			Items: []audit.Record{{
				ID: "r-1", Action: audit.ActionRepair, Actor: "alice", Outcome: "denied",
				StatusCode: http.StatusForbidden, ProjectID: "proj-1",
			}},
			TotalSize: 1,
		})
	}))
	defer srv.Close()

	out, err := runCLI(t, srv.URL, "audit", "--action", audit.ActionRepair)
	if err != nil {
		t.Fatalf("audit failed: %v", err)
	}
	for _, want := range []string{"alice", "denied", "403", "proj-1"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestSweepRunWait(t *testing.T) {
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/internal/ledger/sweeps":
			writeJSON(w, http.StatusAccepted, jobs.SweepRun{ID: "run-1", State: jobs.RunStateRunning, Trigger: jobs.TriggerManual})
		case r.Method == http.MethodGet && r.URL.Path == "/internal/ledger/sweeps/run-1":
			run := jobs.SweepRun{ID: "run-1", State: jobs.RunStateRunning, Trigger: jobs.TriggerManual}
			if polls.Add(1) > 1 {
				run.State = jobs.RunStateSucceeded
				run.ChainsChecked = 2
				run.InvalidChains = []string{"proj-1/a-2"}
			}
			writeJSON(w, http.StatusOK, run)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	out, err := runCLI(t, srv.URL, "--role", "operator", "sweep", "run", "--wait", "--timeout", "10s")
	if err == nil || !strings.Contains(err.Error(), "proj-1/a-2") {
		t.Fatalf("expected invalid chain error, got %v", err)
	}
	if !strings.Contains(out, "succeeded") {
		t.Errorf("output missing final state:\n%s", out)
	}
	if polls.Load() < 2 {
		t.Errorf("expected at least 2 polls, got %d", polls.Load())
	}
}

func TestValueText(t *testing.T) {
	big, err := canonical.Decimal("9007199254740993")
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		name string
		in   canonical.Value
		want string
	}{
		{"exact integer", big, "9007199254740993"},
		{"small number", canonical.Number(3), "3"},
		{"string", canonical.String("7"), "7"},
		{"null", canonical.Null(), "-"},
		{"object", canonical.Object(map[string]canonical.Value{"a": canonical.Bool(true)}), `{"a":true}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := valueText(tt.in); got != tt.want {
				t.Errorf("valueText() = %q, want %q", got, tt.want)
			}
		})
	}
}

package ledger

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/proofpulse/evidence-ledger/pkg/authz"
)

func setupRouter(t *testing.T) (chi.Router, *Engine, *gorm.DB) {
	t.Helper()
	e, db := setupEngine(t)
	r := chi.NewRouter()
	r.Use(authz.IdentityMiddleware)
	r.Mount("/internal/ledger", Router(e, RouterConfig{}))
	return r, e, db
}

func do(t *testing.T, h http.Handler, method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func eventBody(eventID string) string {
	return `{"schemaVersion":1,"eventId":"` + eventID + `","projectId":"proj-1","artifactId":"art-1",` +
		`"source":"ci","timestamp":"2025-06-01T12:00:00Z","type":"build","payload":{"ok":true}}`
}

func TestAppendEventHandler(t *testing.T) {
	r, _, _ := setupRouter(t)
	id := uuid.NewString()

	rec := do(t, r, http.MethodPost, "/internal/ledger/events", eventBody(id), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, id, body["eventId"])
	assert.Equal(t, float64(0), body["chainIndex"])
	assert.Nil(t, body["prevHash"])
	assert.Len(t, body["eventHash"], 64)

	rec = do(t, r, http.MethodPost, "/internal/ledger/events", eventBody(id), nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), `"conflict"`)
}

func TestAppendEventHandlerValidation(t *testing.T) {
	r, _, _ := setupRouter(t)
	tests := map[string]string{
		"bad schema":    strings.Replace(eventBody(uuid.NewString()), `"schemaVersion":1`, `"schemaVersion":3`, 1),
		"unknown field": strings.Replace(eventBody(uuid.NewString()), `"type":"build"`, `"type":"build","chainIndex":7`, 1),
		"not json":      `{"schemaVersion":`,
		"bad eventId":   eventBody("evt-1"),
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			rec := do(t, r, http.MethodPost, "/internal/ledger/events", body, nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.Contains(t, rec.Body.String(), "validation_error")
		})
	}
}

func TestChainReadHandlers(t *testing.T) {
	r, e, _ := setupRouter(t)
	results := appendN(t, e, "proj-1", "art-1", 3)

	rec := do(t, r, http.MethodGet, "/internal/ledger/chains/head?projectId=proj-1&artifactId=art-1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var head ChainHead
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &head))
	assert.Equal(t, int64(2), head.ChainIndex)
	assert.Equal(t, results[2].EventHash, head.EventHash)

	rec = do(t, r, http.MethodGet, "/internal/ledger/chains/head?projectId=proj-1&artifactId=missing", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, r, http.MethodGet, "/internal/ledger/chains/head?projectId=proj-1", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, r, http.MethodGet, "/internal/ledger/chains/verify?projectId=proj-1&artifactId=art-1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var report VerifyReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.True(t, report.Valid)
	assert.Equal(t, int64(3), report.TotalEvents)

	rec = do(t, r, http.MethodGet, "/internal/ledger/chains/verify?projectId=proj-1&artifactId=missing", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"reason":"no_chain"`)

	rec = do(t, r, http.MethodGet, "/internal/ledger/chains", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"totalEvents":3`)

	rec = do(t, r, http.MethodGet, "/internal/ledger/chains/events?projectId=proj-1&artifactId=art-1&pageSize=2", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var page EventPage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Len(t, page.Items, 2)
	assert.Equal(t, "1", page.NextPageToken)

	rec = do(t, r, http.MethodGet, "/internal/ledger/events/"+results[0].EventID, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"payload":{"n":0,"result":"pass"}`)

	rec = do(t, r, http.MethodGet, "/internal/ledger/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRepairHandlerRequiresOperator(t *testing.T) {
	r, e, _ := setupRouter(t)
	appendN(t, e, "proj-1", "art-1", 2)
	target := "/internal/ledger/chains/repair?projectId=proj-1&artifactId=art-1"

	rec := do(t, r, http.MethodPost, target, "", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, r, http.MethodPost, target, "", map[string]string{
		authz.RoleHeader: "operator",
		authz.UserHeader: "alice",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var result RepairResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, RepairWarning, result.Warning)
	assert.True(t, result.Report.Valid)

	rec = do(t, r, http.MethodPost, "/internal/ledger/chains/repair?projectId=proj-1&artifactId=missing", "", map[string]string{
		authz.RoleHeader: "operator",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

package idempotency

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func countingHandler(status int, calls *atomic.Int32) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = fmt.Fprintf(w, `{"call":%d}`, n)
	})
}

func post(h http.Handler, key, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/events", strings.NewReader(body))
	if key != "" {
		req.Header.Set(Header, key)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestMiddleware_ReplaysSuccess(t *testing.T) {
	var calls atomic.Int32
	h := Middleware(DefaultConfig(), nil)(countingHandler(http.StatusCreated, &calls))

	first := post(h, "k1", `{"a":1}`)
	require.Equal(t, http.StatusCreated, first.Code)
	assert.Empty(t, first.Header().Get(ReplayHeader))

	second := post(h, "k1", `{"a":1}`)
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, "true", second.Header().Get(ReplayHeader))
	assert.Equal(t, "application/json", second.Header().Get("Content-Type"))
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, int32(1), calls.Load())

	post(h, "k2", `{"a":1}`)
	assert.Equal(t, int32(2), calls.Load())
}

func TestMiddleware_DoesNotRememberFailures(t *testing.T) {
	var calls atomic.Int32
	h := Middleware(DefaultConfig(), nil)(countingHandler(http.StatusConflict, &calls))

	post(h, "k1", `{}`)
	rec := post(h, "k1", `{}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Empty(t, rec.Header().Get(ReplayHeader))
	assert.Equal(t, int32(2), calls.Load())
}

func TestMiddleware_KeyReuseWithDifferentBody(t *testing.T) {
	var calls atomic.Int32
	h := Middleware(DefaultConfig(), nil)(countingHandler(http.StatusCreated, &calls))

	post(h, "k1", `{"a":1}`)
	rec := post(h, "k1", `{"a":2}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "idempotency_key_reused")
	assert.Equal(t, int32(1), calls.Load())
}

func TestMiddleware_RejectsOversizedBody(t *testing.T) {
	var calls atomic.Int32
	cfg := DefaultConfig()
	cfg.MaxBodyBytes = 16
	h := Middleware(cfg, nil)(countingHandler(http.StatusCreated, &calls))

	rec := post(h, "k1", `{"payload":"`+strings.Repeat("x", 64)+`"}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Contains(t, rec.Body.String(), "request_too_large")
	assert.Equal(t, int32(0), calls.Load())

	rec = post(h, "k1", `{"a":1}`)
	assert.Equal(t, http.StatusCreated, rec.Code, "a small body under the same key still goes through")
	assert.Equal(t, int32(1), calls.Load())
}

func TestMiddleware_ZeroMaxBodyUsesDefault(t *testing.T) {
	var calls atomic.Int32
	cfg := DefaultConfig()
	cfg.MaxBodyBytes = 0
	h := Middleware(cfg, nil)(countingHandler(http.StatusCreated, &calls))

	rec := post(h, "k1", strings.Repeat(" ", DefaultMaxBodyBytes+1))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, http.StatusCreated, post(h, "k2", `{}`).Code)
}

func TestMiddleware_NoKey(t *testing.T) {
	var calls atomic.Int32
	h := Middleware(DefaultConfig(), nil)(countingHandler(http.StatusCreated, &calls))
	post(h, "", `{}`)
	post(h, "", `{}`)
	assert.Equal(t, int32(2), calls.Load())

	cfg := DefaultConfig()
	cfg.Required = true
	strict := Middleware(cfg, nil)(countingHandler(http.StatusCreated, &calls))
	rec := post(strict, "", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, int32(2), calls.Load())

	rec = post(strict, strings.Repeat("k", 300), `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMiddleware_Disabled(t *testing.T) {
	var calls atomic.Int32
	h := Middleware(&Config{Enabled: false}, nil)(countingHandler(http.StatusCreated, &calls))
	post(h, "k1", `{}`)
	rec := post(h, "k1", `{}`)
	assert.Empty(t, rec.Header().Get(ReplayHeader))
	assert.Equal(t, int32(2), calls.Load())
}

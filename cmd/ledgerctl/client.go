package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const apiBase = "/internal/ledger"

type ledgerClient struct {
	baseURL string
	http    *http.Client
	headers map[string]string
}

func newClient() *ledgerClient {
	headers := map[string]string{}
	if roleFlag != "" {
		headers["X-User-Role"] = roleFlag
	}
	if userFlag != "" {
		headers["X-Remote-User"] = userFlag
	}
	return &ledgerClient{
		baseURL: strings.TrimSuffix(serverURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		headers: headers,
	}
}

// apiError is a non-2xx response.
type apiError struct {
	Status  int
	Code    string
	Message string
	Body    []byte
}

func (e *apiError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("server returned %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("server returned %d: %s", e.Status, strings.TrimSpace(string(e.Body)))
}

// do sends a request and returns the raw body. Statuses listed in accept
// are returned without error along with 2xx.
func (c *ledgerClient) do(ctx context.Context, method, path string, query url.Values, body io.Reader, headers map[string]string, accept ...int) (int, []byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return 0, nil, fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("connecting to ledger at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp.StatusCode, data, nil
	}
	for _, s := range accept {
		if resp.StatusCode == s {
			return resp.StatusCode, data, nil
		}
	}
	apiErr := &apiError{Status: resp.StatusCode, Body: data}
	var errResp struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(data, &errResp) == nil {
		apiErr.Code = errResp.Error
		apiErr.Message = errResp.Message
	}
	return resp.StatusCode, data, apiErr
}

// getJSON performs a GET and decodes the response into v.
func (c *ledgerClient) getJSON(ctx context.Context, path string, query url.Values, v any) error {
	_, data, err := c.do(ctx, http.MethodGet, path, query, nil, nil)
	if err != nil {
		return err
	}
	return decode(data, v)
}

// postJSON performs a POST with a JSON body and decodes the response into v.
func (c *ledgerClient) postJSON(ctx context.Context, path string, query url.Values, body any, headers map[string]string, v any) error {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal error: %w", err)
		}
		rdr = bytes.NewReader(data)
	}
	_, data, err := c.do(ctx, http.MethodPost, path, query, rdr, headers)
	if err != nil {
		return err
	}
	return decode(data, v)
}

func decode(data []byte, v any) error {
	if v == nil {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode error: %w", err)
	}
	return nil
}

func pairQuery(projectID, artifactID string) url.Values {
	return url.Values{"projectId": {projectID}, "artifactId": {artifactID}}
}

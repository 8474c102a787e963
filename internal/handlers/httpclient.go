package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rendis/leadflow/pkg/schema"
)

const (
	defaultMaxResponseBody = 10 * 1024 * 1024 // 10MB
	defaultHTTPTimeout     = 30 * time.Second
)

// apiClient is the shared HTTP glue for handlers wrapping third-party APIs.
// One client per handler instance; headers carry the API auth.
type apiClient struct {
	base    string
	headers map[string]string
	client  *http.Client
	maxBody int64
}

func newAPIClient(base string, timeout time.Duration, headers map[string]string) *apiClient {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return &apiClient{
		base:    base,
		headers: headers,
		client:  &http.Client{Timeout: timeout},
		maxBody: defaultMaxResponseBody,
	}
}

// postJSON sends a JSON body and decodes a JSON response. Non-2xx statuses
// are errors: handlers report distinguishable failures instead of crashing.
func (c *apiClient) postJSON(ctx context.Context, path string, body any) (map[string]any, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "marshal request body: %s", err.Error()).WithCause(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(payload))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "create request: %s", err.Error()).WithCause(err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

// getJSON performs a GET with query parameters and decodes a JSON response.
func (c *apiClient) getJSON(ctx context.Context, path string, query url.Values) (map[string]any, error) {
	u := c.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "create request: %s", err.Error()).WithCause(err)
	}
	return c.do(req)
}

func (c *apiClient) do(req *http.Request) (map[string]any, error) {
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "%s %s: %s", req.Method, req.URL.Path, err.Error()).WithCause(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "read response: %s", err.Error()).WithCause(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, schema.NewErrorf(schema.ErrCodeExecution,
			"%s %s: status %d", req.Method, req.URL.Path, resp.StatusCode).
			WithDetails(map[string]any{"status": resp.StatusCode, "body": truncate(string(raw), 512)})
	}

	// Some endpoints (SendGrid send) reply 202 with an empty body.
	if len(bytes.TrimSpace(raw)) == 0 {
		return map[string]any{}, nil
	}

	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "decode response: %s", err.Error()).WithCause(err)
	}
	return out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// --- Param helpers shared by all handler files ---

func stringParam(m map[string]any, key, defaultVal string) string {
	v, ok := m[key]
	if !ok {
		return defaultVal
	}
	s, ok := v.(string)
	if !ok {
		return defaultVal
	}
	return s
}

func boolParam(m map[string]any, key string, defaultVal bool) bool {
	v, ok := m[key]
	if !ok {
		return defaultVal
	}
	b, ok := v.(bool)
	if !ok {
		return defaultVal
	}
	return b
}

func intParam(m map[string]any, key string, defaultVal int) int {
	v, ok := m[key]
	if !ok {
		return defaultVal
	}
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return defaultVal
		}
		return int(i)
	default:
		return defaultVal
	}
}

func floatParam(m map[string]any, key string, defaultVal float64) float64 {
	v, ok := m[key]
	if !ok {
		return defaultVal
	}
	return toFloat(v, defaultVal)
}

func toFloat(v any, defaultVal float64) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return defaultVal
		}
		return f
	default:
		return defaultVal
	}
}

// mapParam returns a nested map value, or nil.
func mapParam(m map[string]any, key string) map[string]any {
	v, ok := m[key].(map[string]any)
	if !ok {
		return nil
	}
	return v
}

// leadList coerces an input value into a list of lead maps. JSON round-trips
// produce []any of map[string]any; handler-to-handler passing may keep
// []map[string]any directly.
func leadList(v any) []map[string]any {
	switch list := v.(type) {
	case []map[string]any:
		return list
	case []any:
		out := make([]map[string]any, 0, len(list))
		for _, item := range list {
			if m, ok := item.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	default:
		return nil
	}
}

func missingConfig(handler, key string) error {
	return schema.NewErrorf(schema.ErrCodeValidation, "%s: missing required config %q", handler, key)
}

func missingInput(handler, key string) error {
	return schema.NewErrorf(schema.ErrCodeValidation, "%s: missing required input %q", handler, key)
}

func fmtVal(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

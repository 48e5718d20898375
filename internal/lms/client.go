package lms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// maxErrorBody caps how much of a failed response is kept in an APIError.
const maxErrorBody = 512

// Body is a decoded JSON object from the API.
type Body map[string]any

// ID reads an id field. The LMS sends ids as strings in string-id mode but
// plain numbers are accepted too.
func (b Body) ID(key string) (int64, error) {
	v, ok := b[key]
	if !ok || v == nil {
		return 0, fmt.Errorf("response has no %q field", key)
	}
	switch id := v.(type) {
	case string:
		n, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("response field %q: %w", key, err)
		}
		return n, nil
	case json.Number:
		n, err := id.Int64()
		if err != nil {
			return 0, fmt.Errorf("response field %q: %w", key, err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("response field %q has unexpected type %T", key, v)
	}
}

// String reads a string field.
func (b Body) String(key string) (string, error) {
	v, ok := b[key].(string)
	if !ok {
		return "", fmt.Errorf("response has no string %q field", key)
	}
	return v, nil
}

// Client issues authenticated API requests on behalf of a principal.
type Client struct {
	Server  string // scheme://host[:port], no trailing slash
	APIBase string // e.g. "api/v1"
	HTTP    *http.Client

	// SettleDelay is slept after every successful POST or PUT. The LMS can
	// acknowledge a write before it is visible to the next request, so the
	// delay is a correctness workaround and must not be tuned to zero
	// against a real server.
	SettleDelay time.Duration

	Sleep  Sleeper
	Logger *slog.Logger
}

// NewClient returns a Client for server with the given settle delay.
func NewClient(server, apiBase string, httpClient *http.Client, settle time.Duration) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		Server:      strings.TrimRight(server, "/"),
		APIBase:     strings.Trim(apiBase, "/"),
		HTTP:        httpClient,
		SettleDelay: settle,
		Sleep:       Sleep,
		Logger:      slog.Default(),
	}
}

// URL returns the absolute URL for an API endpoint.
func (c *Client) URL(endpoint string) string {
	return c.Server + "/" + c.APIBase + "/" + strings.TrimLeft(endpoint, "/")
}

// Post is shorthand for Request with http.MethodPost.
func (c *Client) Post(ctx context.Context, p *Principal, endpoint string, form url.Values) (Body, error) {
	_, body, err := c.Request(ctx, p, http.MethodPost, endpoint, form)
	return body, err
}

// Put is shorthand for Request with http.MethodPut.
func (c *Client) Put(ctx context.Context, p *Principal, endpoint string, form url.Values) (Body, error) {
	_, body, err := c.Request(ctx, p, http.MethodPut, endpoint, form)
	return body, err
}

// Request sends form as p and decodes the JSON reply. Any non-2xx status is
// returned as an *APIError. For GET the form is sent as the query string.
func (c *Client) Request(ctx context.Context, p *Principal, method, endpoint string, form url.Values) (int, Body, error) {
	if !p.HasToken() {
		name := ""
		if p != nil {
			name = p.Name
		}
		return 0, nil, fmt.Errorf("%s %s as %q: %w", method, endpoint, name, ErrNoToken)
	}

	target := c.URL(endpoint)
	var reqBody io.Reader
	if method == http.MethodGet || method == http.MethodDelete {
		if len(form) > 0 {
			target += "?" + form.Encode()
		}
	} else {
		reqBody = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reqBody)
	if err != nil {
		return 0, nil, fmt.Errorf("build request %s %s: %w", method, endpoint, err)
	}
	req.Header.Set("Authorization", "Bearer "+p.Token)
	req.Header.Set("Accept", AcceptHeader)
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	c.Logger.Debug("api request", "method", method, "endpoint", endpoint, "principal", p.Name)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response %s %s: %w", method, endpoint, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, nil, &APIError{
			Method:   method,
			Endpoint: endpoint,
			Status:   resp.StatusCode,
			Body:     truncate(string(raw), maxErrorBody),
		}
	}

	body, err := decodeBody(raw)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("decode response %s %s: %w", method, endpoint, err)
	}

	if method == http.MethodPost || method == http.MethodPut {
		if err := c.Sleep(ctx, c.SettleDelay); err != nil {
			return resp.StatusCode, body, err
		}
	}
	return resp.StatusCode, body, nil
}

func decodeBody(raw []byte) (Body, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return Body{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var body Body
	if err := dec.Decode(&body); err != nil {
		return nil, err
	}
	return body, nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

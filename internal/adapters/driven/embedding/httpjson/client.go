// Package httpjson is the JSON-over-HTTP plumbing shared by the embedding
// adapters.
package httpjson

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/custodia-labs/queryindex/internal/core/domain"
)

const maxErrorBody = 4 << 10

// Client talks to one API. Failed requests follow the embedding port's
// contract: a 4xx other than 429 wraps domain.ErrEmbeddingUnavailable,
// everything else is transient.
type Client struct {
	// Service prefixes every error, e.g. "ollama".
	Service string
	BaseURL string
	HTTP    *http.Client

	// Header is added to every request.
	Header http.Header

	// Message extracts the error text from a failed response body. The
	// trimmed body is used when Message is nil or returns "".
	Message func(body []byte) string
}

// New returns a client for baseURL with a trailing slash removed.
func New(service, baseURL string, timeout time.Duration) *Client {
	return &Client{
		Service: service,
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: timeout},
		Header:  make(http.Header),
	}
}

// Do sends in as a JSON body, or no body when in is nil, and decodes a 200
// response into out. A nil out discards the response.
func (c *Client) Do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader = http.NoBody
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: encoding request: %w", c.Service, err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("%s: building request: %w", c.Service, err)
	}
	for k, v := range c.Header {
		req.Header[k] = v
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %s %s: %w", c.Service, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return c.statusError(resp.StatusCode, raw)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decoding response: %w", c.Service, err)
	}
	return nil
}

// Close drops idle keep-alive connections.
func (c *Client) Close() {
	c.HTTP.CloseIdleConnections()
}

func (c *Client) statusError(code int, body []byte) error {
	msg := ""
	if c.Message != nil {
		msg = c.Message(body)
	}
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}
	if code >= 400 && code < 500 && code != http.StatusTooManyRequests {
		return fmt.Errorf("%w: %s status %d: %s", domain.ErrEmbeddingUnavailable, c.Service, code, msg)
	}
	return fmt.Errorf("%s status %d: %s", c.Service, code, msg)
}

// Float32 narrows a decoded vector.
func Float32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}

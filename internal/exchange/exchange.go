// Package exchange trades a one-time authorization envelope for session
// artifacts with the backend.
//
// The client makes exactly one request per call and never retries: codes are
// single use, so a second attempt with the same code is expected to fail
// server-side. Non-2xx responses are not transport errors; their status and
// body are inspected and returned as a *StatusError.
package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/vibesec/vibesec-login/internal/log"
)

// maxBodySize bounds how much of a response body is read
const maxBodySize = 1 << 20

// DefaultPath is the exchange endpoint relative to the backend base URL
const DefaultPath = "/api/v2/user/exchangeCode"

// ErrIncompleteResult is returned for a 2xx response whose body lacks any of
// token, csrf or user_id.
var ErrIncompleteResult = errors.New("exchange response is missing session fields")

// Envelope is the signed one-time code as sent to the backend. Both fields
// are opaque here; the backend validates the signature.
type Envelope struct {
	Data      string `json:"data"`
	Signature string `json:"signature"`
}

// Result holds the session artifacts returned by a successful exchange
type Result struct {
	Token  string `json:"token"`
	CSRF   string `json:"csrf"`
	UserID string `json:"user_id"`
}

type request struct {
	Code Envelope `json:"code"`
}

type errorBody struct {
	Error string `json:"error"`
}

// StatusError reports a non-2xx exchange response
type StatusError struct {
	StatusCode int
	// Message is the backend's "error" field, empty when absent
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("exchange failed with status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("exchange failed with status %d", e.StatusCode)
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient sets the http.Client used for the exchange. Its Jar supplies
// the ambient cookies sent with the request.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// Client performs code exchanges against one endpoint
type Client struct {
	endpoint   string
	httpClient *http.Client
}

// NewClient targets the absolute exchange endpoint URL
func NewClient(endpoint string, opts ...Option) *Client {
	c := &Client{
		endpoint:   endpoint,
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Exchange posts env and returns the session artifacts.
//
// Return values:
//   - (*Result, nil): 2xx with a complete body
//   - (nil, *StatusError): non-2xx
//   - (nil, ErrIncompleteResult): 2xx without all three fields
//   - (nil, err): transport failure or ctx done; errors.Is(err, ctx.Err())
//     holds when the request was aborted
func (c *Client) Exchange(ctx context.Context, env Envelope) (*Result, error) {
	body, err := json.Marshal(request{Code: env})
	if err != nil {
		return nil, fmt.Errorf("encoding exchange request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building exchange request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	log.LogDebugWithFields("exchange", "Exchanging authorization code", map[string]any{
		"endpoint": c.endpoint,
	})

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("exchange request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("reading exchange response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var eb errorBody
		if jsonErr := json.Unmarshal(raw, &eb); jsonErr != nil {
			log.LogDebugWithFields("exchange", "Non-JSON error body", map[string]any{
				"status": resp.StatusCode,
				"body":   snippet(raw),
			})
		}
		return nil, &StatusError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(eb.Error)}
	}

	var result Result
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decoding exchange response: %w", err)
	}
	if result.Token == "" || result.CSRF == "" || result.UserID == "" {
		return nil, ErrIncompleteResult
	}

	log.LogInfoWithFields("exchange", "Authorization code exchanged", map[string]any{
		"status":  resp.StatusCode,
		"user_id": result.UserID,
	})
	return &result, nil
}

func snippet(b []byte) string {
	const limit = 256
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}

// Package api calls the authenticated backend endpoints that sit next to the
// login flow: who am I, logout, account deletion, and the dev-only code
// generator and health check.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/vibesec/vibesec-login/internal/log"
	"github.com/vibesec/vibesec-login/internal/session"
	"github.com/vibesec/vibesec-login/internal/urlutil"
)

const maxBodySize = 1 << 20

// ErrUnexpectedStatus wraps every non-2xx answer
var ErrUnexpectedStatus = errors.New("unexpected status")

// Paths are relative to the backend base URL
type Paths struct {
	Me       string
	Logout   string
	Delete   string
	TestCode string
	Health   string
}

// DefaultPaths matches the hosted backend
var DefaultPaths = Paths{
	Me:       "/api/v2/user/me",
	Logout:   "/api/v2/user/logout",
	Delete:   "/api/v2/user/delete",
	TestCode: "/api/v2/user/test-generate-code",
	Health:   "/api/v2/user/health",
}

// User is the profile returned by the me endpoint
type User struct {
	Name           string `json:"name"`
	Email          string `json:"email"`
	AvatarURL      string `json:"avatar_url"`
	GitHubUsername string `json:"github_username"`
}

type testCodeResponse struct {
	CodeExchange string `json:"code_exchange"`
}

type Client struct {
	base     *url.URL
	paths    Paths
	sessions *session.Bootstrapper
	http     *http.Client
}

// New builds a client for baseURL. httpClient is used for unauthenticated
// calls and as the transport under authenticated ones; nil means the
// default client.
func New(baseURL string, paths Paths, sessions *session.Bootstrapper, httpClient *http.Client) (*Client, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing backend URL: %w", err)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{base: base, paths: paths, sessions: sessions, http: httpClient}, nil
}

func (c *Client) endpoint(p string) (string, error) {
	return urlutil.Endpoint(c.base.String(), p)
}

func (c *Client) authed(ctx context.Context) (*http.Client, session.Record, error) {
	rec, err := c.sessions.Load(ctx)
	if err != nil {
		return nil, session.Record{}, err
	}
	return session.NewHTTPClient(ctx, rec, c.base, c.sessions.Cookies(), c.http), rec, nil
}

func (c *Client) do(ctx context.Context, hc *http.Client, method, p string, out any) error {
	endpoint, err := c.endpoint(p)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, p, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: %w %d", method, p, ErrUnexpectedStatus, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding %s response: %w", p, err)
	}
	return nil
}

// Me fetches the signed-in user's profile
func (c *Client) Me(ctx context.Context) (*User, error) {
	hc, _, err := c.authed(ctx)
	if err != nil {
		return nil, err
	}
	var user User
	if err := c.do(ctx, hc, http.MethodGet, c.paths.Me, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// Logout tells the backend the session is over and then clears it locally.
// The local clear happens even when the backend call fails; the backend
// error is still returned.
func (c *Client) Logout(ctx context.Context) error {
	var remote error
	hc, rec, err := c.authed(ctx)
	switch {
	case errors.Is(err, session.ErrNoSession):
		log.LogDebugWithFields("api", "No stored session, clearing locally only", nil)
	case err != nil:
		remote = err
	default:
		remote = c.do(ctx, hc, http.MethodPost, c.paths.Logout, nil)
		if remote != nil {
			log.LogWarnWithFields("api", "Backend logout failed, clearing local session anyway", map[string]any{
				"user_id": rec.UserID,
				"error":   remote.Error(),
			})
		}
	}

	if err := c.sessions.Clear(ctx); err != nil {
		return errors.Join(remote, err)
	}
	return remote
}

// DeleteAccount permanently deletes the account. The local session is only
// cleared once the backend confirms.
func (c *Client) DeleteAccount(ctx context.Context) error {
	hc, rec, err := c.authed(ctx)
	if err != nil {
		return err
	}
	if err := c.do(ctx, hc, http.MethodDelete, c.paths.Delete, nil); err != nil {
		return err
	}
	log.LogInfoWithFields("api", "Account deleted", map[string]any{"user_id": rec.UserID})
	return c.sessions.Clear(ctx)
}

// TestCode asks a development backend for a fresh authorization code. The
// returned string is the envelope JSON, ready to be placed in a code
// parameter.
func (c *Client) TestCode(ctx context.Context) (string, error) {
	var out testCodeResponse
	if err := c.do(ctx, c.http, http.MethodGet, c.paths.TestCode, &out); err != nil {
		return "", err
	}
	if out.CodeExchange == "" {
		return "", errors.New("backend returned no code_exchange")
	}
	return out.CodeExchange, nil
}

// Health checks the backend without credentials
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, c.http, http.MethodGet, c.paths.Health, nil)
}

package session

import (
	"context"
	"net/http"
	"net/url"

	"golang.org/x/oauth2"

	"github.com/vibesec/vibesec-login/internal/cookie"
)

// NewHTTPClient returns a client that authenticates as rec against site:
// bearer token via oauth2, csrf header, and the mirrored cookies for
// same-site requests. base may be nil.
func NewHTTPClient(ctx context.Context, rec Record, site *url.URL, cookies *cookie.Store, base *http.Client) *http.Client {
	if base == nil {
		base = http.DefaultClient
	}
	transport := base.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}

	inner := &http.Client{
		Transport: &csrfTransport{csrf: rec.CSRF, base: transport},
		Timeout:   base.Timeout,
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, inner)

	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: rec.Token, TokenType: "Bearer"})
	client := oauth2.NewClient(ctx, src)
	client.Timeout = base.Timeout
	if cookies != nil && site != nil {
		client.Jar = cookie.NewJar(cookies, site)
	}
	return client
}

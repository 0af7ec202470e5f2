package urlutil

import (
	"fmt"
	"net/url"
	"path"
	"strings"
)

// Endpoint resolves an API path against a backend base URL. The base may
// carry its own path prefix; a trailing slash on p is preserved.
func Endpoint(base, p string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parsing base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("base url %q must be absolute", base)
	}

	u.Path = path.Join("/", u.Path, p)
	if strings.HasSuffix(p, "/") && !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}

// WithoutParam returns a copy of u with every occurrence of the query
// parameter name removed. The remaining parameters keep their encoding order
// as produced by url.Values.Encode.
func WithoutParam(u *url.URL, name string) *url.URL {
	clone := *u
	q := clone.Query()
	q.Del(name)
	clone.RawQuery = q.Encode()
	return &clone
}

// WithParam returns a copy of u with name set to value.
func WithParam(u *url.URL, name, value string) *url.URL {
	clone := *u
	q := clone.Query()
	q.Set(name, value)
	clone.RawQuery = q.Encode()
	return &clone
}

// SameOrigin reports whether a and b share scheme and host.
func SameOrigin(a, b *url.URL) bool {
	return strings.EqualFold(a.Scheme, b.Scheme) && strings.EqualFold(a.Host, b.Host)
}

package cookie

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/vibesec/vibesec-login/internal/log"
	"github.com/vibesec/vibesec-login/internal/storage"
)

// Cookie names mirrored from the session record
const (
	SessionCookie = "session-token"
	CSRFCookie    = "X-CSRF-Token"
)

// ErrNotFound is returned when no cookie with the requested name is stored
var ErrNotFound = errors.New("cookie not found")

// Session builds the site-wide session cookie
func Session(value string) *http.Cookie {
	return siteCookie(SessionCookie, value)
}

// CSRF builds the site-wide CSRF cookie
func CSRF(value string) *http.Cookie {
	return siteCookie(CSRFCookie, value)
}

// siteCookie scopes a cookie to the whole site, same-site strict and
// secure-only. No expiry: the cookie lives until cleared.
func siteCookie(name, value string) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	}
}

// record is the persisted form of an http.Cookie
type record struct {
	Name     string    `json:"name"`
	Value    string    `json:"value"`
	Path     string    `json:"path"`
	Domain   string    `json:"domain,omitempty"`
	Expires  time.Time `json:"expires,omitempty"`
	Secure   bool      `json:"secure"`
	HttpOnly bool      `json:"http_only"`
	SameSite string    `json:"same_site"`
}

func toRecord(c *http.Cookie) record {
	return record{
		Name:     c.Name,
		Value:    c.Value,
		Path:     c.Path,
		Domain:   c.Domain,
		Expires:  c.Expires,
		Secure:   c.Secure,
		HttpOnly: c.HttpOnly,
		SameSite: sameSiteName(c.SameSite),
	}
}

func (r record) cookie() *http.Cookie {
	return &http.Cookie{
		Name:     r.Name,
		Value:    r.Value,
		Path:     r.Path,
		Domain:   r.Domain,
		Expires:  r.Expires,
		Secure:   r.Secure,
		HttpOnly: r.HttpOnly,
		SameSite: parseSameSite(r.SameSite),
	}
}

func sameSiteName(s http.SameSite) string {
	switch s {
	case http.SameSiteStrictMode:
		return "Strict"
	case http.SameSiteLaxMode:
		return "Lax"
	case http.SameSiteNoneMode:
		return "None"
	default:
		return ""
	}
}

func parseSameSite(s string) http.SameSite {
	switch s {
	case "Strict":
		return http.SameSiteStrictMode
	case "Lax":
		return http.SameSiteLaxMode
	case "None":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteDefaultMode
	}
}

// Store persists cookies for a single site, keyed by name.
type Store struct {
	backend storage.Store
}

// NewStore keeps cookies in backend. The backend should be distinct from
// the durable session store; the two are written independently.
func NewStore(backend storage.Store) *Store {
	return &Store{backend: backend}
}

func entryKey(name string) string {
	return "cookie:" + name
}

// Set writes every cookie or none of them
func (s *Store) Set(ctx context.Context, cookies ...*http.Cookie) error {
	entries := make(map[string]string, len(cookies))
	for _, c := range cookies {
		if c == nil || c.Name == "" {
			return fmt.Errorf("cookie name is required")
		}
		data, err := json.Marshal(toRecord(c))
		if err != nil {
			return fmt.Errorf("encoding cookie %s: %w", c.Name, err)
		}
		entries[entryKey(c.Name)] = string(data)
	}
	if err := s.backend.SetMany(ctx, entries); err != nil {
		return fmt.Errorf("writing cookies: %w", err)
	}

	log.LogTraceWithFields("cookie", "Cookies set", map[string]any{
		"count":    len(cookies),
		"sameSite": "Strict",
	})
	return nil
}

// Get returns the stored cookie with the given name
func (s *Store) Get(ctx context.Context, name string) (*http.Cookie, error) {
	raw, err := s.backend.Get(ctx, entryKey(name))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var r record
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return nil, fmt.Errorf("decoding cookie %s: %w", name, err)
	}
	return r.cookie(), nil
}

// Value returns only the cookie value
func (s *Store) Value(ctx context.Context, name string) (string, error) {
	c, err := s.Get(ctx, name)
	if err != nil {
		return "", err
	}
	return c.Value, nil
}

// Delete removes the named cookies
func (s *Store) Delete(ctx context.Context, names ...string) error {
	keys := make([]string, len(names))
	for i, n := range names {
		keys[i] = entryKey(n)
	}
	return s.backend.Delete(ctx, keys...)
}

// Clear removes every stored cookie
func (s *Store) Clear(ctx context.Context) error {
	if err := s.backend.Clear(ctx); err != nil {
		return err
	}
	log.LogTraceWithFields("cookie", "Cookie store cleared", nil)
	return nil
}

func (s *Store) Close() error {
	return s.backend.Close()
}

// Jar exposes a Store as a read-only http.CookieJar for one site. Cookies set
// by responses are ignored: only the session bootstrapper writes the store.
type Jar struct {
	store *Store
	site  *url.URL
	names []string
}

var _ http.CookieJar = (*Jar)(nil)

// NewJar serves the named cookies to requests for site's host.
func NewJar(store *Store, site *url.URL, names ...string) *Jar {
	if len(names) == 0 {
		names = []string{SessionCookie, CSRFCookie}
	}
	return &Jar{store: store, site: site, names: names}
}

func (j *Jar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	if len(cookies) > 0 {
		log.LogTraceWithFields("cookie", "Ignoring response cookies", map[string]any{
			"host":  u.Host,
			"count": len(cookies),
		})
	}
}

func (j *Jar) Cookies(u *url.URL) []*http.Cookie {
	if !strings.EqualFold(u.Hostname(), j.site.Hostname()) {
		return nil
	}

	now := time.Now()
	var out []*http.Cookie
	for _, name := range j.names {
		c, err := j.store.Get(context.Background(), name)
		if err != nil {
			if !errors.Is(err, ErrNotFound) {
				log.LogWarn("Failed to read cookie %s: %v", name, err)
			}
			continue
		}
		if c.Secure && u.Scheme != "https" {
			continue
		}
		if !c.Expires.IsZero() && c.Expires.Before(now) {
			continue
		}
		if c.Path != "" && !strings.HasPrefix(pathOf(u), c.Path) {
			continue
		}
		out = append(out, &http.Cookie{Name: c.Name, Value: c.Value})
	}
	return out
}

func pathOf(u *url.URL) string {
	if u.Path == "" {
		return "/"
	}
	return u.Path
}

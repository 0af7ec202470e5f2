// Package session persists the token/csrf/user triple that authenticates
// every request after login, and builds HTTP clients that present it.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/vibesec/vibesec-login/internal/cookie"
	"github.com/vibesec/vibesec-login/internal/log"
	"github.com/vibesec/vibesec-login/internal/storage"
)

// Durable store keys
const (
	KeyToken  = "session-token"
	KeyCSRF   = "csrf"
	KeyUserID = "user_id"
)

// CSRFHeader carries the csrf value on authenticated requests
const CSRFHeader = "X-CSRF-Token"

// ErrNoSession is returned by Load when no complete record is stored
var ErrNoSession = errors.New("no session")

// ErrIncompleteRecord rejects a record missing any of its three fields
var ErrIncompleteRecord = errors.New("session record is incomplete")

// Record is the persisted session triple. The fields are only meaningful
// together.
type Record struct {
	Token  string
	CSRF   string
	UserID string
}

func (r Record) complete() bool {
	return r.Token != "" && r.CSRF != "" && r.UserID != ""
}

func (r Record) entries() map[string]string {
	return map[string]string{
		KeyToken:  r.Token,
		KeyCSRF:   r.CSRF,
		KeyUserID: r.UserID,
	}
}

// Bootstrapper owns both persistence stores. It is the only writer.
type Bootstrapper struct {
	store   storage.Store
	cookies *cookie.Store
}

func NewBootstrapper(store storage.Store, cookies *cookie.Store) *Bootstrapper {
	return &Bootstrapper{store: store, cookies: cookies}
}

// Commit persists rec: durable store first, cookies second. If the cookie
// write fails the store is restored to what it held before, so a failed
// commit leaves the previous session (or none) in place. The two stores are
// not transactional relative to each other; between the two writes a reader
// of the durable store can already see the new record.
func (b *Bootstrapper) Commit(ctx context.Context, rec Record) error {
	if !rec.complete() {
		return ErrIncompleteRecord
	}

	previous, err := storage.GetMany(ctx, b.store, KeyToken, KeyCSRF, KeyUserID)
	if err != nil {
		return fmt.Errorf("reading previous session: %w", err)
	}

	if err := b.store.SetMany(ctx, rec.entries()); err != nil {
		return fmt.Errorf("writing session store: %w", err)
	}

	if err := b.cookies.Set(ctx, cookie.Session(rec.Token), cookie.CSRF(rec.CSRF)); err != nil {
		if rbErr := b.rollback(ctx, previous); rbErr != nil {
			log.LogErrorWithFields("session", "Session store rollback failed", map[string]any{
				"error": rbErr.Error(),
			})
			return errors.Join(fmt.Errorf("writing session cookies: %w", err), rbErr)
		}
		return fmt.Errorf("writing session cookies: %w", err)
	}

	log.LogInfoWithFields("session", "Session committed", map[string]any{
		"user_id": rec.UserID,
		"store":   b.store.Name(),
	})
	return nil
}

func (b *Bootstrapper) rollback(ctx context.Context, previous map[string]string) error {
	var missing []string
	for _, k := range []string{KeyToken, KeyCSRF, KeyUserID} {
		if _, ok := previous[k]; !ok {
			missing = append(missing, k)
		}
	}
	if len(previous) > 0 {
		if err := b.store.SetMany(ctx, previous); err != nil {
			return fmt.Errorf("restoring session store: %w", err)
		}
	}
	if len(missing) > 0 {
		if err := b.store.Delete(ctx, missing...); err != nil {
			return fmt.Errorf("restoring session store: %w", err)
		}
	}
	return nil
}

// Load returns the stored record. A partially present record is reported
// as ErrNoSession; it is never handed out.
func (b *Bootstrapper) Load(ctx context.Context) (Record, error) {
	values, err := storage.GetMany(ctx, b.store, KeyToken, KeyCSRF, KeyUserID)
	if err != nil {
		return Record{}, err
	}
	rec := Record{Token: values[KeyToken], CSRF: values[KeyCSRF], UserID: values[KeyUserID]}
	if !rec.complete() {
		return Record{}, ErrNoSession
	}
	return rec, nil
}

// Clear wipes both stores. Both are attempted even if the first fails.
func (b *Bootstrapper) Clear(ctx context.Context) error {
	storeErr := b.store.Clear(ctx)
	cookieErr := b.cookies.Clear(ctx)
	if err := errors.Join(storeErr, cookieErr); err != nil {
		return fmt.Errorf("clearing session: %w", err)
	}
	log.LogInfoWithFields("session", "Session cleared", nil)
	return nil
}

// Cookies exposes the cookie store for building request jars
func (b *Bootstrapper) Cookies() *cookie.Store {
	return b.cookies
}

// csrfTransport stamps the csrf header on every request
type csrfTransport struct {
	csrf string
	base http.RoundTripper
}

func (t *csrfTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.Header.Set(CSRFHeader, t.csrf)
	return t.base.RoundTrip(r)
}

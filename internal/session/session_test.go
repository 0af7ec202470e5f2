package session

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vibesec/vibesec-login/internal/cookie"
	"github.com/vibesec/vibesec-login/internal/storage"
)

// brokenStore fails every SetMany, standing in for a full disk
type brokenStore struct {
	*storage.MemoryStore
}

func (b brokenStore) SetMany(context.Context, map[string]string) error {
	return errors.New("disk full")
}

func newTestBootstrapper() (*Bootstrapper, *storage.MemoryStore, *storage.MemoryStore) {
	durable := storage.NewMemoryStore()
	jar := storage.NewMemoryStore()
	return NewBootstrapper(durable, cookie.NewStore(jar)), durable, jar
}

func TestCommitWritesBothStores(t *testing.T) {
	ctx := context.Background()
	b, durable, _ := newTestBootstrapper()

	require.NoError(t, b.Commit(ctx, Record{Token: "t1", CSRF: "c1", UserID: "u1"}))

	assert.Equal(t, map[string]string{
		"session-token": "t1",
		"csrf":          "c1",
		"user_id":       "u1",
	}, durable.Snapshot())

	for name, want := range map[string]string{"session-token": "t1", "X-CSRF-Token": "c1"} {
		c, err := b.Cookies().Get(ctx, name)
		require.NoError(t, err, name)
		assert.Equal(t, want, c.Value)
		assert.Equal(t, "/", c.Path)
		assert.True(t, c.Secure)
		assert.Equal(t, http.SameSiteStrictMode, c.SameSite)
	}

	rec, err := b.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, Record{Token: "t1", CSRF: "c1", UserID: "u1"}, rec)
}

func TestCommitRejectsIncompleteRecord(t *testing.T) {
	b, durable, jar := newTestBootstrapper()

	for _, rec := range []Record{
		{CSRF: "c1", UserID: "u1"},
		{Token: "t1", UserID: "u1"},
		{Token: "t1", CSRF: "c1"},
	} {
		err := b.Commit(context.Background(), rec)
		assert.ErrorIs(t, err, ErrIncompleteRecord)
	}
	assert.Empty(t, durable.Snapshot())
	assert.Empty(t, jar.Snapshot())
}

func TestCommitOverwritesPreviousSession(t *testing.T) {
	ctx := context.Background()
	b, _, _ := newTestBootstrapper()

	require.NoError(t, b.Commit(ctx, Record{Token: "t1", CSRF: "c1", UserID: "u1"}))
	require.NoError(t, b.Commit(ctx, Record{Token: "t2", CSRF: "c2", UserID: "u2"}))

	rec, err := b.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "t2", rec.Token)

	v, err := b.Cookies().Value(ctx, cookie.CSRFCookie)
	require.NoError(t, err)
	assert.Equal(t, "c2", v)
}

func TestCommitRollsBackStoreWhenCookiesFail(t *testing.T) {
	ctx := context.Background()

	t.Run("no previous session", func(t *testing.T) {
		durable := storage.NewMemoryStore()
		b := NewBootstrapper(durable, cookie.NewStore(brokenStore{storage.NewMemoryStore()}))

		err := b.Commit(ctx, Record{Token: "t1", CSRF: "c1", UserID: "u1"})
		assert.ErrorContains(t, err, "disk full")
		assert.Empty(t, durable.Snapshot())
	})

	t.Run("previous session restored", func(t *testing.T) {
		durable := storage.NewMemoryStore()
		require.NoError(t, durable.SetMany(ctx, map[string]string{
			"session-token": "old-t", "csrf": "old-c", "user_id": "old-u",
		}))
		b := NewBootstrapper(durable, cookie.NewStore(brokenStore{storage.NewMemoryStore()}))

		err := b.Commit(ctx, Record{Token: "t1", CSRF: "c1", UserID: "u1"})
		assert.Error(t, err)
		assert.Equal(t, map[string]string{
			"session-token": "old-t", "csrf": "old-c", "user_id": "old-u",
		}, durable.Snapshot())
	})
}

func TestCommitStoreFailureWritesNoCookies(t *testing.T) {
	jar := storage.NewMemoryStore()
	b := NewBootstrapper(brokenStore{storage.NewMemoryStore()}, cookie.NewStore(jar))

	err := b.Commit(context.Background(), Record{Token: "t1", CSRF: "c1", UserID: "u1"})
	assert.Error(t, err)
	assert.Empty(t, jar.Snapshot())
}

func TestLoadPartialRecordIsNoSession(t *testing.T) {
	ctx := context.Background()
	b, durable, _ := newTestBootstrapper()

	_, err := b.Load(ctx)
	assert.ErrorIs(t, err, ErrNoSession)

	require.NoError(t, durable.SetMany(ctx, map[string]string{"session-token": "t1"}))
	_, err = b.Load(ctx)
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestClearWipesBothStores(t *testing.T) {
	ctx := context.Background()
	b, durable, jar := newTestBootstrapper()
	require.NoError(t, b.Commit(ctx, Record{Token: "t1", CSRF: "c1", UserID: "u1"}))

	require.NoError(t, b.Clear(ctx))
	assert.Empty(t, durable.Snapshot())
	assert.Empty(t, jar.Snapshot())
}

func TestNewHTTPClientPresentsSession(t *testing.T) {
	ctx := context.Background()
	b, _, _ := newTestBootstrapper()
	rec := Record{Token: "t1", CSRF: "c1", UserID: "u1"}
	require.NoError(t, b.Commit(ctx, rec))

	var got *http.Request
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	site, err := url.Parse(srv.URL)
	require.NoError(t, err)

	client := NewHTTPClient(ctx, rec, site, b.Cookies(), srv.Client())
	resp, err := client.Get(srv.URL + "/api/v2/user/me")
	require.NoError(t, err)
	resp.Body.Close()

	require.NotNil(t, got)
	assert.Equal(t, "Bearer t1", got.Header.Get("Authorization"))
	assert.Equal(t, "c1", got.Header.Get("X-CSRF-Token"))

	c, err := got.Cookie("session-token")
	require.NoError(t, err)
	assert.Equal(t, "t1", c.Value)
	c, err = got.Cookie("X-CSRF-Token")
	require.NoError(t, err)
	assert.Equal(t, "c1", c.Value)
}

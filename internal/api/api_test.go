package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vibesec/vibesec-login/internal/cookie"
	"github.com/vibesec/vibesec-login/internal/session"
	"github.com/vibesec/vibesec-login/internal/storage"
)

var testRecord = session.Record{Token: "t1", CSRF: "c1", UserID: "u1"}

type backend struct {
	*httptest.Server
	logoutStatus int
	deleteStatus int
	calls        map[string]int
}

func newBackend(t *testing.T) *backend {
	t.Helper()
	b := &backend{logoutStatus: http.StatusOK, deleteStatus: http.StatusOK, calls: map[string]int{}}

	mux := http.NewServeMux()
	requireAuth := func(w http.ResponseWriter, r *http.Request) bool {
		if r.Header.Get("Authorization") != "Bearer t1" || r.Header.Get(session.CSRFHeader) != "c1" {
			w.WriteHeader(http.StatusUnauthorized)
			return false
		}
		if c, err := r.Cookie(cookie.SessionCookie); err != nil || c.Value != "t1" {
			w.WriteHeader(http.StatusUnauthorized)
			return false
		}
		return true
	}
	mux.HandleFunc("GET /api/v2/user/me", func(w http.ResponseWriter, r *http.Request) {
		b.calls["me"]++
		if !requireAuth(w, r) {
			return
		}
		_, _ = w.Write([]byte(`{"name":"Ada","email":"ada@example.com","avatar_url":"https://a/x.png","github_username":"ada"}`))
	})
	mux.HandleFunc("POST /api/v2/user/logout", func(w http.ResponseWriter, r *http.Request) {
		b.calls["logout"]++
		if !requireAuth(w, r) {
			return
		}
		w.WriteHeader(b.logoutStatus)
	})
	mux.HandleFunc("DELETE /api/v2/user/delete", func(w http.ResponseWriter, r *http.Request) {
		b.calls["delete"]++
		if !requireAuth(w, r) {
			return
		}
		w.WriteHeader(b.deleteStatus)
	})
	mux.HandleFunc("GET /api/v2/user/test-generate-code", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code_exchange":"{\"data\":\"d\",\"signature\":\"s\"}"}`))
	})
	mux.HandleFunc("GET /api/v2/user/health", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`ok`))
	})

	b.Server = httptest.NewTLSServer(mux)
	t.Cleanup(b.Close)
	return b
}

func newClient(t *testing.T, b *backend, withSession bool) (*Client, *storage.MemoryStore) {
	t.Helper()
	durable := storage.NewMemoryStore()
	sessions := session.NewBootstrapper(durable, cookie.NewStore(storage.NewMemoryStore()))
	if withSession {
		require.NoError(t, sessions.Commit(context.Background(), testRecord))
	}
	c, err := New(b.URL, DefaultPaths, sessions, b.Client())
	require.NoError(t, err)
	return c, durable
}

func TestMe(t *testing.T) {
	b := newBackend(t)
	c, _ := newClient(t, b, true)

	user, err := c.Me(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &User{Name: "Ada", Email: "ada@example.com", AvatarURL: "https://a/x.png", GitHubUsername: "ada"}, user)
}

func TestMeWithoutSession(t *testing.T) {
	b := newBackend(t)
	c, _ := newClient(t, b, false)

	_, err := c.Me(context.Background())
	assert.ErrorIs(t, err, session.ErrNoSession)
	assert.Zero(t, b.calls["me"])
}

func TestLogoutClearsSession(t *testing.T) {
	b := newBackend(t)
	c, durable := newClient(t, b, true)

	require.NoError(t, c.Logout(context.Background()))
	assert.Equal(t, 1, b.calls["logout"])
	assert.Empty(t, durable.Snapshot())
}

func TestLogoutClearsEvenWhenBackendFails(t *testing.T) {
	b := newBackend(t)
	b.logoutStatus = http.StatusInternalServerError
	c, durable := newClient(t, b, true)

	err := c.Logout(context.Background())
	assert.ErrorIs(t, err, ErrUnexpectedStatus)
	assert.Empty(t, durable.Snapshot())
}

func TestLogoutWithoutSession(t *testing.T) {
	b := newBackend(t)
	c, _ := newClient(t, b, false)

	require.NoError(t, c.Logout(context.Background()))
	assert.Zero(t, b.calls["logout"])
}

func TestDeleteAccount(t *testing.T) {
	t.Run("success clears", func(t *testing.T) {
		b := newBackend(t)
		c, durable := newClient(t, b, true)

		require.NoError(t, c.DeleteAccount(context.Background()))
		assert.Equal(t, 1, b.calls["delete"])
		assert.Empty(t, durable.Snapshot())
	})

	t.Run("failure keeps session", func(t *testing.T) {
		b := newBackend(t)
		b.deleteStatus = http.StatusForbidden
		c, durable := newClient(t, b, true)

		err := c.DeleteAccount(context.Background())
		assert.ErrorIs(t, err, ErrUnexpectedStatus)
		assert.Len(t, durable.Snapshot(), 3)
	})
}

func TestTestCodeAndHealth(t *testing.T) {
	b := newBackend(t)
	c, _ := newClient(t, b, false)

	code, err := c.TestCode(context.Background())
	require.NoError(t, err)
	assert.JSONEq(t, `{"data":"d","signature":"s"}`, code)

	assert.NoError(t, c.Health(context.Background()))
}

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vibesec/vibesec-login/internal/config"
	"github.com/vibesec/vibesec-login/internal/envutil"
)

const testKey = "0123456789abcdef0123456789abcdef"

// syncBuffer lets the test read command output while the command runs
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func execute(ctx context.Context, out *syncBuffer, args ...string) error {
	cmd := newRootCmd()
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs(args)
	return cmd.ExecuteContext(ctx)
}

func TestGenerateDefaultConfigLoads(t *testing.T) {
	t.Setenv("VIBESEC_ENCRYPTION_KEY", testKey)
	t.Setenv("VIBESEC_STATE_DIR", t.TempDir())
	path := filepath.Join(t.TempDir(), "config.json")

	var out syncBuffer
	require.NoError(t, execute(context.Background(), &out, "config", "init", path))
	assert.Contains(t, out.String(), "Generated default config at: "+path)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, config.StorageFile, cfg.Session.Storage)
	assert.Equal(t, config.Secret(testKey), cfg.Session.EncryptionKey)
	assert.Equal(t, config.DefaultEntryURL, cfg.App.EntryURL)
}

func TestValidateConfigCommand(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.json")
	require.NoError(t, generateDefaultConfig(good))

	var out syncBuffer
	require.NoError(t, execute(context.Background(), &out, "config", "validate", good))
	assert.Contains(t, out.String(), "Result: PASS")

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{
		"version": "v0.0.1-DEV_EDITION",
		"session": {"storage": "file", "encryptionKey": "plaintext"}
	}`), 0600))

	var failed syncBuffer
	err := execute(context.Background(), &failed, "config", "validate", bad)
	require.Error(t, err)
	assert.Contains(t, failed.String(), "session.encryptionKey")
	assert.Contains(t, failed.String(), "Result: FAIL")
}

func TestAccountDeleteRequiresConfirmation(t *testing.T) {
	var out syncBuffer
	err := execute(context.Background(), &out, "account", "delete")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--yes")
}

func TestVersionCommand(t *testing.T) {
	var out syncBuffer
	require.NoError(t, execute(context.Background(), &out, "version"))
	assert.Equal(t, BuildVersion+"\n", out.String())
}

func newDevBackend(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+config.DefaultTestCodePath, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{
			"code_exchange": `{"data":"d","signature":"sig"}`,
		})
	})
	mux.HandleFunc("POST "+config.DefaultExchangePath, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"token":"t1","csrf":"c1","user_id":"u1"}`))
	})
	mux.HandleFunc("GET "+config.DefaultMePath, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer t1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"name":"Ada","email":"ada@example.com","github_username":"ada"}`))
	})
	mux.HandleFunc("POST "+config.DefaultLogoutPath, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET "+config.DefaultHealthPath, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func writeDevConfig(t *testing.T, backendURL string) string {
	t.Helper()
	t.Setenv(envutil.EnvVar, "dev")
	t.Setenv("VIBESEC_ENCRYPTION_KEY", testKey)
	t.Setenv("VIBESEC_STATE_DIR", t.TempDir())

	raw := map[string]any{
		"version":  config.VersionPrefix,
		"backend":  map[string]any{"baseURL": backendURL},
		"app":      map[string]any{"redirectDelay": "10ms"},
		"callback": map[string]any{"addr": "127.0.0.1:0"},
		"session": map[string]any{
			"storage":       config.StorageFile,
			"encryptionKey": map[string]string{"$env": "VIBESEC_ENCRYPTION_KEY"},
		},
	}
	data, err := json.Marshal(raw)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, data, 0600))
	return path
}

var callbackLine = regexp.MustCompile(`http://127\.0\.0\.1:\d+/\?code=\S+`)

func TestLoginWithTestCodeThenWhoamiAndLogout(t *testing.T) {
	path := writeDevConfig(t, newDevBackend(t).URL)

	var out syncBuffer
	errc := make(chan error, 1)
	go func() {
		errc <- execute(context.Background(), &out, "--config", path, "login", "--no-browser", "--test-code", "--timeout", "10s")
	}()

	var target string
	require.Eventually(t, func() bool {
		target = callbackLine.FindString(out.String())
		return target != ""
	}, 5*time.Second, 10*time.Millisecond)

	resp, err := http.Get(target)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("login did not finish")
	}
	assert.Contains(t, out.String(), "Signed in as u1")

	var who syncBuffer
	require.NoError(t, execute(context.Background(), &who, "--config", path, "whoami"))
	assert.Contains(t, who.String(), "Ada <ada@example.com>")
	assert.Contains(t, who.String(), "GitHub: ada")

	var bye syncBuffer
	require.NoError(t, execute(context.Background(), &bye, "--config", path, "logout"))
	assert.Contains(t, bye.String(), "Signed out")

	err = execute(context.Background(), &syncBuffer{}, "--config", path, "whoami")
	assert.Error(t, err)
}

func TestLoginTimesOutWithoutCallback(t *testing.T) {
	path := writeDevConfig(t, newDevBackend(t).URL)

	var out syncBuffer
	err := execute(context.Background(), &out, "--config", path, "login", "--no-browser", "--timeout", "50ms")
	require.Error(t, err)
	assert.Contains(t, out.String(), "redirect_uri=")
}

func TestHealthCommand(t *testing.T) {
	backend := newDevBackend(t)
	path := writeDevConfig(t, backend.URL)

	var out syncBuffer
	require.NoError(t, execute(context.Background(), &out, "--config", path, "health"))
	assert.Contains(t, out.String(), "Backend OK")

	backend.Close()
	err := execute(context.Background(), &syncBuffer{}, "--config", path, "health")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend unhealthy")
}

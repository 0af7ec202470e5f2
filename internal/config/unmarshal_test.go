package config

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfigValue(t *testing.T) {
	tests := []struct {
		name          string
		input         string
		envVars       map[string]string
		expectedValue string
		expectedError bool
	}{
		{
			name:          "plain string",
			input:         `"hello world"`,
			expectedValue: "hello world",
		},
		{
			name:          "env reference",
			input:         `{"$env": "TEST_VAR"}`,
			envVars:       map[string]string{"TEST_VAR": "test value"},
			expectedValue: "test value",
		},
		{
			name:          "env reference with double quotes",
			input:         `{"$env": "QUOTED_VAR"}`,
			envVars:       map[string]string{"QUOTED_VAR": `"quoted value"`},
			expectedValue: "quoted value",
		},
		{
			name:          "env reference with single quotes",
			input:         `{"$env": "SINGLE_QUOTED"}`,
			envVars:       map[string]string{"SINGLE_QUOTED": `'single quoted'`},
			expectedValue: "single quoted",
		},
		{
			name:          "env reference with mixed quotes not stripped",
			input:         `{"$env": "MIXED_QUOTES"}`,
			envVars:       map[string]string{"MIXED_QUOTES": `"mixed quotes'`},
			expectedValue: `"mixed quotes'`,
		},
		{
			name:          "missing env var",
			input:         `{"$env": "MISSING_VAR"}`,
			expectedError: true,
		},
		{
			name:          "unknown reference",
			input:         `{"$file": "/etc/passwd"}`,
			expectedError: true,
		},
		{
			name:          "number",
			input:         `42`,
			expectedError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			value, err := ParseConfigValue(json.RawMessage(tt.input))
			if tt.expectedError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expectedValue, value)
		})
	}
}

func TestBackendConfigUnmarshal(t *testing.T) {
	t.Setenv("VIBESEC_BACKEND", "https://api.example.com")

	var b BackendConfig
	err := json.Unmarshal([]byte(`{
		"baseURL": {"$env": "VIBESEC_BACKEND"},
		"exchangePath": "/v3/exchange",
		"exchangeTimeout": "45s"
	}`), &b)
	require.NoError(t, err)

	assert.Equal(t, "https://api.example.com", b.BaseURL)
	assert.Equal(t, "/v3/exchange", b.ExchangePath)
	assert.Equal(t, 45*time.Second, b.ExchangeTimeout)
}

func TestBackendConfigBadDuration(t *testing.T) {
	var b BackendConfig
	err := json.Unmarshal([]byte(`{"baseURL": "https://a.example.com", "exchangeTimeout": "soon"}`), &b)
	assert.ErrorContains(t, err, "exchangeTimeout")
}

func TestAppConfigUnmarshal(t *testing.T) {
	var a AppConfig
	err := json.Unmarshal([]byte(`{"loginURL": "https://b.example.com/login", "entryURL": "https://app.example.com/home", "redirectDelay": "1500ms"}`), &a)
	require.NoError(t, err)
	assert.Equal(t, "https://b.example.com/login", a.LoginURL)
	assert.Equal(t, "https://app.example.com/home", a.EntryURL)
	assert.Equal(t, 1500*time.Millisecond, a.RedirectDelay)
}

func TestSessionConfigUnmarshal(t *testing.T) {
	t.Setenv("ENC_KEY", "0123456789abcdef0123456789abcdef")
	t.Setenv("REDIS_PASSWORD", "hunter2")

	var s SessionConfig
	err := json.Unmarshal([]byte(`{
		"storage": "redis",
		"encryptionKey": {"$env": "ENC_KEY"},
		"redis": {"addr": "localhost:6379", "password": {"$env": "REDIS_PASSWORD"}, "db": 2, "keyPrefix": "vs:"}
	}`), &s)
	require.NoError(t, err)

	assert.Equal(t, StorageRedis, s.Storage)
	assert.Equal(t, Secret("0123456789abcdef0123456789abcdef"), s.EncryptionKey)
	require.NotNil(t, s.Redis)
	assert.Equal(t, "localhost:6379", s.Redis.Addr)
	assert.Equal(t, Secret("hunter2"), s.Redis.Password)
	assert.Equal(t, 2, s.Redis.DB)
	assert.Equal(t, "vs:", s.Redis.KeyPrefix)
}

func TestSessionConfigMissingEnv(t *testing.T) {
	var s SessionConfig
	err := json.Unmarshal([]byte(`{"storage": "file", "encryptionKey": {"$env": "DEFINITELY_NOT_SET_VIBESEC"}}`), &s)
	assert.ErrorContains(t, err, "DEFINITELY_NOT_SET_VIBESEC")
}

func TestFirestoreConfigUnmarshal(t *testing.T) {
	t.Setenv("GCP_PROJECT", "vibesec-prod")

	var f FirestoreConfig
	err := json.Unmarshal([]byte(`{"project": {"$env": "GCP_PROJECT"}, "collection": "sessions"}`), &f)
	require.NoError(t, err)
	assert.Equal(t, "vibesec-prod", f.Project)
	assert.Equal(t, "sessions", f.Collection)
	assert.Empty(t, f.Database)
}

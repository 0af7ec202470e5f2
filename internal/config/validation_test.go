package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func paths(errs []ValidationError) []string {
	out := make([]string, len(errs))
	for i, e := range errs {
		out[i] = e.Path
	}
	return out
}

func TestValidateFile(t *testing.T) {
	tests := []struct {
		name         string
		content      string
		wantErrors   []string
		wantWarnings []string
	}{
		{
			name: "valid full config",
			content: `{
				"version": "v0.0.1-DEV_EDITION",
				"backend": {"baseURL": "https://backend.vibesec.app", "exchangeTimeout": "30s"},
				"app": {"loginURL": "https://backend.vibesec.app/api/v2/user/login", "redirectDelay": "1s"},
				"callback": {"addr": "127.0.0.1:8976"},
				"session": {"storage": "file", "encryptionKey": {"$env": "VIBESEC_ENCRYPTION_KEY"}}
			}`,
		},
		{
			name:       "missing version",
			content:    `{}`,
			wantErrors: []string{"version"},
		},
		{
			name:       "bad version",
			content:    `{"version": "v1.0.0"}`,
			wantErrors: []string{"version"},
		},
		{
			name:       "invalid json",
			content:    `{"version": }`,
			wantErrors: []string{""},
		},
		{
			name:         "unknown section",
			content:      `{"version": "v0.0.1-DEV_EDITION", "proxy": {}}`,
			wantWarnings: []string{"proxy"},
		},
		{
			name:       "section not an object",
			content:    `{"version": "v0.0.1-DEV_EDITION", "backend": "https://x"}`,
			wantErrors: []string{"backend"},
		},
		{
			name:       "bad duration",
			content:    `{"version": "v0.0.1-DEV_EDITION", "backend": {"exchangeTimeout": "forever"}}`,
			wantErrors: []string{"backend.exchangeTimeout"},
		},
		{
			name:         "very short timeout",
			content:      `{"version": "v0.0.1-DEV_EDITION", "backend": {"exchangeTimeout": "10ms"}}`,
			wantWarnings: []string{"backend.exchangeTimeout"},
		},
		{
			name:         "plain http backend",
			content:      `{"version": "v0.0.1-DEV_EDITION", "backend": {"baseURL": "http://localhost:8000"}}`,
			wantWarnings: []string{"backend.baseURL"},
		},
		{
			name:       "relative base url",
			content:    `{"version": "v0.0.1-DEV_EDITION", "backend": {"baseURL": "backend.vibesec.app"}}`,
			wantErrors: []string{"backend.baseURL"},
		},
		{
			name:       "plain text key",
			content:    `{"version": "v0.0.1-DEV_EDITION", "session": {"storage": "file", "encryptionKey": "abc"}}`,
			wantErrors: []string{"session.encryptionKey"},
		},
		{
			name:       "missing key for redis",
			content:    `{"version": "v0.0.1-DEV_EDITION", "session": {"storage": "redis", "redis": {"addr": "localhost:6379"}}}`,
			wantErrors: []string{"session.encryptionKey"},
		},
		{
			name:       "redis without section",
			content:    `{"version": "v0.0.1-DEV_EDITION", "session": {"storage": "redis", "encryptionKey": {"$env": "K"}}}`,
			wantErrors: []string{"session.redis"},
		},
		{
			name:       "firestore without project",
			content:    `{"version": "v0.0.1-DEV_EDITION", "session": {"storage": "firestore", "encryptionKey": {"$env": "K"}, "firestore": {}}}`,
			wantErrors: []string{"session.firestore.project"},
		},
		{
			name:       "same file for both stores",
			content:    `{"version": "v0.0.1-DEV_EDITION", "session": {"storage": "file", "encryptionKey": {"$env": "K"}, "filePath": "/tmp/a", "cookieFile": "/tmp/a"}}`,
			wantErrors: []string{"session.cookieFile"},
		},
		{
			name:         "memory storage",
			content:      `{"version": "v0.0.1-DEV_EDITION", "session": {"storage": "memory"}}`,
			wantWarnings: []string{"session.storage"},
		},
		{
			name:         "bash style reference",
			content:      `{"version": "v0.0.1-DEV_EDITION", "backend": {"baseURL": "https://x.example.com/$BACKEND_PATH"}}`,
			wantWarnings: []string{"backend.baseURL"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ValidateFile(writeConfig(t, tt.content))
			require.NoError(t, err)

			assert.ElementsMatch(t, tt.wantErrors, paths(result.Errors), "errors: %+v", result.Errors)
			assert.ElementsMatch(t, tt.wantWarnings, paths(result.Warnings), "warnings: %+v", result.Warnings)
			assert.Equal(t, len(tt.wantErrors) == 0, result.IsValid())
		})
	}
}

func TestValidateFileMissing(t *testing.T) {
	_, err := ValidateFile("/nonexistent/vibesec/config.json")
	assert.Error(t, err)
}

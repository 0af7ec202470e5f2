package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vibesec/vibesec-login/internal/log"
)

const (
	testEncryptionKey = "0123456789abcdef0123456789abcdef"
	testRedisPassword = "redis-pass-12345"
)

func testSessionConfig() SessionConfig {
	return SessionConfig{
		Storage:       StorageRedis,
		EncryptionKey: Secret(testEncryptionKey),
		Redis: &RedisConfig{
			Addr:     "localhost:6379",
			Password: Secret(testRedisPassword),
		},
	}
}

func TestSecretFormatting(t *testing.T) {
	for _, verb := range []string{"%s", "%v", "%+v"} {
		t.Run(verb, func(t *testing.T) {
			assert.Equal(t, "***", fmt.Sprintf(verb, Secret("hunter2")))
			assert.Empty(t, fmt.Sprintf(verb, Secret("")))
		})
	}
}

func TestSessionConfigNeverLeaksSecrets(t *testing.T) {
	session := testSessionConfig()

	str := fmt.Sprintf("%+v %+v", session, *session.Redis)
	assert.NotContains(t, str, testEncryptionKey)
	assert.NotContains(t, str, testRedisPassword)

	data, err := json.Marshal(session)
	require.NoError(t, err)
	assert.NotContains(t, string(data), testEncryptionKey)
	assert.NotContains(t, string(data), testRedisPassword)
	assert.Contains(t, string(data), `"encryptionKey":"***"`)

	// the raw value stays usable for the encryptor
	assert.Len(t, string(session.EncryptionKey), 32)
}

func TestLoggedSessionConfigIsRedacted(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	t.Cleanup(func() { log.SetOutput(os.Stderr) })

	session := testSessionConfig()
	log.LogInfoWithFields("config", "Session storage", map[string]any{
		"key":      session.EncryptionKey,
		"password": session.Redis.Password,
	})

	assert.NotContains(t, buf.String(), testEncryptionKey)
	assert.NotContains(t, buf.String(), testRedisPassword)
	assert.Contains(t, buf.String(), "key=***")
}

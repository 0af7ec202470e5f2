package envutil

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsDev(t *testing.T) {
	for value, want := range map[string]bool{
		"dev":         true,
		"Development": true,
		"production":  false,
		"":            false,
	} {
		t.Setenv("VIBESEC_ENV", value)
		assert.Equal(t, want, IsDev(), "VIBESEC_ENV=%q", value)
	}
}

func TestStatePathOverride(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("VIBESEC_STATE_DIR", dir)

	path, err := StatePath("session.json")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "session.json"), path)
}

package envutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// AppName names the per-user state directory and the keyring service
const AppName = "vibesec"

// EnvVar selects the environment; "dev" or "development" enables dev mode
const EnvVar = "VIBESEC_ENV"

// IsDev reports whether VIBESEC_ENV selects development mode, where plain
// http backends are accepted for local testing.
func IsDev() bool {
	env := strings.ToLower(os.Getenv(EnvVar))
	return env == "development" || env == "dev"
}

// StateDir returns the directory holding the file-backed session stores.
// VIBESEC_STATE_DIR overrides the platform default.
func StateDir() (string, error) {
	if dir := os.Getenv("VIBESEC_STATE_DIR"); dir != "" {
		return dir, nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolving user config dir: %w", err)
	}
	return filepath.Join(base, AppName), nil
}

// StatePath joins name onto StateDir.
func StatePath(name string) (string, error) {
	dir, err := StateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}

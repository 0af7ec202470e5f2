package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/vibesec/vibesec-login/internal/envutil"
	"github.com/vibesec/vibesec-login/internal/log"
)

// VersionPrefix is required at the start of every config version
const VersionPrefix = "v0.0.1-DEV_EDITION"

// Defaults used when a field is left out
const (
	DefaultBaseURL         = "https://backend.vibesec.app"
	DefaultExchangePath    = "/api/v2/user/exchangeCode"
	DefaultMePath          = "/api/v2/user/me"
	DefaultLogoutPath      = "/api/v2/user/logout"
	DefaultDeletePath      = "/api/v2/user/delete"
	DefaultTestCodePath    = "/api/v2/user/test-generate-code"
	DefaultHealthPath      = "/api/v2/user/health"
	DefaultExchangeTimeout = 30 * time.Second
	DefaultLoginURL        = "https://backend.vibesec.app/api/v2/user/login"
	DefaultEntryURL        = "https://vibesec.app/dashboard"
	DefaultRedirectDelay   = time.Second
	DefaultCallbackAddr    = "127.0.0.1:8976"
	DefaultKeyringService  = "vibesec-login"
	DefaultFirestoreColl   = "vibesec_sessions"
)

// Default is the configuration used when no file is given: the hosted
// backend with the session kept in the OS keyring.
func Default() Config {
	cfg := Config{Session: SessionConfig{Storage: StorageKeyring}}
	ApplyDefaults(&cfg)
	return cfg
}

// ApplyDefaults fills every unset optional field
func ApplyDefaults(cfg *Config) {
	b := &cfg.Backend
	if b.BaseURL == "" {
		b.BaseURL = DefaultBaseURL
	}
	setDefault(&b.ExchangePath, DefaultExchangePath)
	setDefault(&b.MePath, DefaultMePath)
	setDefault(&b.LogoutPath, DefaultLogoutPath)
	setDefault(&b.DeletePath, DefaultDeletePath)
	setDefault(&b.TestCodePath, DefaultTestCodePath)
	setDefault(&b.HealthPath, DefaultHealthPath)
	if b.ExchangeTimeout == 0 {
		b.ExchangeTimeout = DefaultExchangeTimeout
	}

	setDefault(&cfg.App.LoginURL, DefaultLoginURL)
	setDefault(&cfg.App.EntryURL, DefaultEntryURL)
	if cfg.App.RedirectDelay == 0 {
		cfg.App.RedirectDelay = DefaultRedirectDelay
	}

	setDefault(&cfg.Callback.Addr, DefaultCallbackAddr)

	s := &cfg.Session
	setDefault(&s.Storage, StorageKeyring)
	setDefault(&s.KeyringService, DefaultKeyringService)
	if s.Firestore != nil {
		setDefault(&s.Firestore.Collection, DefaultFirestoreColl)
	}
	if s.Storage == StorageFile {
		if s.FilePath == "" {
			if p, err := envutil.StatePath("session.json"); err == nil {
				s.FilePath = p
			}
		}
		if s.CookieFile == "" {
			if p, err := envutil.StatePath("cookies.json"); err == nil {
				s.CookieFile = p
			}
		}
	}
}

func setDefault(field *string, value string) {
	if *field == "" {
		*field = value
	}
}

// Load loads and processes the config with immediate env var resolution
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}

	var rawConfig map[string]any
	if err := json.Unmarshal(data, &rawConfig); err != nil {
		return Config{}, fmt.Errorf("parsing config JSON: %w", err)
	}

	version, ok := rawConfig["version"].(string)
	if !ok {
		return Config{}, fmt.Errorf("config version is required")
	}
	if !strings.HasPrefix(version, VersionPrefix) {
		return Config{}, fmt.Errorf("unsupported config version: %s", version)
	}

	if err := validateRawConfig(rawConfig); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}

	// The custom UnmarshalJSON methods resolve env vars immediately
	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}
	ApplyDefaults(&config)

	if err := ValidateConfig(&config); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// validateRawConfig checks secrets before environment resolution: they must
// come from the environment, never from the file itself.
func validateRawConfig(rawConfig map[string]any) error {
	session, ok := rawConfig["session"].(map[string]any)
	if !ok {
		return nil
	}

	storage, _ := session["storage"].(string)
	if value, exists := session["encryptionKey"]; exists {
		if err := requireEnvRef("encryptionKey", value); err != nil {
			return err
		}
	} else if storageNeedsKey[storage] {
		return fmt.Errorf("encryptionKey is required when using %s storage", storage)
	}

	if redis, ok := session["redis"].(map[string]any); ok {
		if value, exists := redis["password"]; exists {
			if err := requireEnvRef("redis.password", value); err != nil {
				return err
			}
		}
	}
	return nil
}

func requireEnvRef(name string, value any) error {
	if _, isString := value.(string); isString {
		return fmt.Errorf("%s must use environment variable reference for security", name)
	}
	if refMap, isMap := value.(map[string]any); isMap {
		if _, hasEnv := refMap["$env"]; !hasEnv {
			return fmt.Errorf("%s must use {\"$env\": \"VAR_NAME\"} format", name)
		}
	}
	return nil
}

// ValidateConfig validates the resolved configuration
func ValidateConfig(config *Config) error {
	if err := validateBackend(&config.Backend); err != nil {
		return fmt.Errorf("backend config: %w", err)
	}

	if _, err := absoluteURL(config.App.LoginURL, "app.loginURL"); err != nil {
		return err
	}
	if config.App.EntryURL == "" {
		return fmt.Errorf("app.entryURL is required")
	}
	if config.App.RedirectDelay < 0 {
		return fmt.Errorf("app.redirectDelay cannot be negative")
	}
	if config.App.RedirectDelay > 10*time.Second {
		log.LogWarn("app.redirectDelay of %s keeps the user on the success page for a long time", config.App.RedirectDelay)
	}

	if config.Callback.Addr == "" {
		return fmt.Errorf("callback.addr is required")
	}

	if err := validateSession(&config.Session); err != nil {
		return fmt.Errorf("session config: %w", err)
	}
	return nil
}

func absoluteURL(raw, field string) (*url.URL, error) {
	if raw == "" {
		return nil, fmt.Errorf("%s is required", field)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", field, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%s must be an absolute URL, got %q", field, raw)
	}
	return u, nil
}

func validateBackend(b *BackendConfig) error {
	u, err := absoluteURL(b.BaseURL, "baseURL")
	if err != nil {
		return err
	}
	// Session cookies are Secure; they would never be sent over plain http.
	if u.Scheme != "https" && !envutil.IsDev() {
		return fmt.Errorf("baseURL must use https (set %s=dev to allow http)", envutil.EnvVar)
	}
	for field, p := range map[string]string{
		"exchangePath": b.ExchangePath,
		"mePath":       b.MePath,
		"logoutPath":   b.LogoutPath,
		"deletePath":   b.DeletePath,
	} {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("%s must start with /, got %q", field, p)
		}
	}
	if b.ExchangeTimeout < 0 {
		return fmt.Errorf("exchangeTimeout cannot be negative")
	}
	return nil
}

func validateSession(s *SessionConfig) error {
	switch s.Storage {
	case StorageMemory:
		log.LogWarn("Memory session storage does not survive the process; later commands will not see the session")
	case StorageKeyring:
	case StorageFile:
		if s.FilePath == "" || s.CookieFile == "" {
			return fmt.Errorf("filePath and cookieFile are required for file storage")
		}
		if s.FilePath == s.CookieFile {
			return fmt.Errorf("filePath and cookieFile must differ")
		}
	case StorageRedis:
		if s.Redis == nil || s.Redis.Addr == "" {
			return fmt.Errorf("redis.addr is required for redis storage")
		}
	case StorageFirestore:
		if s.Firestore == nil || s.Firestore.Project == "" {
			return fmt.Errorf("firestore.project is required for firestore storage")
		}
	default:
		return fmt.Errorf("unknown storage %q (memory, file, keyring, redis or firestore)", s.Storage)
	}

	if storageNeedsKey[s.Storage] && len(s.EncryptionKey) != 32 {
		return fmt.Errorf("encryptionKey must be exactly 32 characters (got %d). Generate with: openssl rand -base64 32 | head -c 32", len(s.EncryptionKey))
	}
	return nil
}

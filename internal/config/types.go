package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Secret is a string type that redacts itself when printed
type Secret string

// String implements fmt.Stringer to redact the secret
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "***"
}

// MarshalJSON implements json.Marshaler to prevent secrets in JSON logs
func (s Secret) MarshalJSON() ([]byte, error) {
	if s == "" {
		return json.Marshal("")
	}
	return json.Marshal("***")
}

// Storage backends for the session record
const (
	StorageMemory    = "memory"
	StorageFile      = "file"
	StorageKeyring   = "keyring"
	StorageRedis     = "redis"
	StorageFirestore = "firestore"
)

// storageNeedsKey lists backends that keep the session outside the OS
// keychain and must encrypt it at rest.
var storageNeedsKey = map[string]bool{
	StorageFile:      true,
	StorageRedis:     true,
	StorageFirestore: true,
}

// BackendConfig points at the VibeSec API
type BackendConfig struct {
	BaseURL         string        `json:"baseURL"`
	ExchangePath    string        `json:"exchangePath"`
	MePath          string        `json:"mePath"`
	LogoutPath      string        `json:"logoutPath"`
	DeletePath      string        `json:"deletePath"`
	TestCodePath    string        `json:"testCodePath"`
	HealthPath      string        `json:"healthPath"`
	ExchangeTimeout time.Duration `json:"exchangeTimeout"`
}

// AppConfig holds the surfaces the browser is sent to
type AppConfig struct {
	// LoginURL starts the identity provider redirect
	LoginURL string `json:"loginURL"`
	// EntryURL is the authenticated surface opened after success
	EntryURL      string        `json:"entryURL"`
	RedirectDelay time.Duration `json:"redirectDelay"`
}

// CallbackConfig configures the local page the provider redirects to
type CallbackConfig struct {
	Addr string `json:"addr"`
}

type RedisConfig struct {
	Addr      string `json:"addr"`
	Username  string `json:"username,omitempty"`
	Password  Secret `json:"password,omitempty"`
	DB        int    `json:"db,omitempty"`
	KeyPrefix string `json:"keyPrefix,omitempty"`
}

type FirestoreConfig struct {
	Project    string `json:"project"`
	Database   string `json:"database,omitempty"`
	Collection string `json:"collection,omitempty"`
}

// SessionConfig selects where the session record and cookies live
type SessionConfig struct {
	Storage        string           `json:"storage"`
	FilePath       string           `json:"filePath,omitempty"`
	CookieFile     string           `json:"cookieFile,omitempty"`
	EncryptionKey  Secret           `json:"encryptionKey,omitempty"`
	KeyringService string           `json:"keyringService,omitempty"`
	Redis          *RedisConfig     `json:"redis,omitempty"`
	Firestore      *FirestoreConfig `json:"firestore,omitempty"`
}

// Config represents the config structure with resolved values
type Config struct {
	Backend  BackendConfig  `json:"backend"`
	App      AppConfig      `json:"app"`
	Callback CallbackConfig `json:"callback"`
	Session  SessionConfig  `json:"session"`
}

// ParseConfigValue parses a JSON value that is either a plain string or an
// {"$env": "VAR"} reference, resolving the reference immediately.
//
// The explicit JSON syntax is used instead of $VAR substitution so that
// config files passed through shell scripts are never expanded by the shell,
// and an env value containing $ is never expanded a second time.
func ParseConfigValue(raw json.RawMessage) (string, error) {
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str, nil
	}

	var ref map[string]string
	if err := json.Unmarshal(raw, &ref); err != nil {
		return "", fmt.Errorf("config value must be string or reference object")
	}

	envVar, ok := ref["$env"]
	if !ok {
		return "", fmt.Errorf("unknown reference type in config value")
	}
	value := os.Getenv(envVar)
	if value == "" {
		return "", fmt.Errorf("environment variable %s not set", envVar)
	}
	// Strip surrounding quotes if present (only matching pairs)
	if len(value) >= 2 {
		if (value[0] == '"' && value[len(value)-1] == '"') ||
			(value[0] == '\'' && value[len(value)-1] == '\'') {
			value = value[1 : len(value)-1]
		}
	}
	return value, nil
}

package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"
)

// ValidationResult holds validation errors and warnings
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// ValidationError represents a validation issue
type ValidationError struct {
	Path    string
	Message string
}

// IsValid returns true if there are no errors
func (v *ValidationResult) IsValid() bool {
	return len(v.Errors) == 0
}

func (v *ValidationResult) addError(path, format string, args ...any) {
	v.Errors = append(v.Errors, ValidationError{Path: path, Message: fmt.Sprintf(format, args...)})
}

func (v *ValidationResult) addWarning(path, format string, args ...any) {
	v.Warnings = append(v.Warnings, ValidationError{Path: path, Message: fmt.Sprintf(format, args...)})
}

var knownSections = map[string]bool{
	"version":  true,
	"backend":  true,
	"app":      true,
	"callback": true,
	"session":  true,
}

// ValidateFile validates a config file structure without requiring env vars
func ValidateFile(path string) (*ValidationResult, error) {
	result := &ValidationResult{}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var rawConfig map[string]any
	if err := json.Unmarshal(data, &rawConfig); err != nil {
		result.addError("", "invalid JSON: %v", err)
		return result, nil
	}

	checkBashStyleSyntax(rawConfig, "", result)

	version, ok := rawConfig["version"].(string)
	if !ok {
		result.addError("version", "version field is required. Hint: Add \"version\": \"%s\"", VersionPrefix)
	} else if !strings.HasPrefix(version, VersionPrefix) {
		result.addError("version", "unsupported version '%s' - use '%s' or '%s-<variant>'", version, VersionPrefix, VersionPrefix)
	}

	keys := make([]string, 0, len(rawConfig))
	for k := range rawConfig {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !knownSections[k] {
			result.addWarning(k, "unknown section '%s' is ignored", k)
		}
	}

	validateBackendStructure(rawConfig, result)
	validateAppStructure(rawConfig, result)
	validateSessionStructure(rawConfig, result)

	return result, nil
}

// section returns rawConfig[name] as an object; a missing section is fine
// since every field has a default.
func section(rawConfig map[string]any, name string, result *ValidationResult) map[string]any {
	value, exists := rawConfig[name]
	if !exists {
		return nil
	}
	obj, ok := value.(map[string]any)
	if !ok {
		result.addError(name, "%s must be an object", name)
		return nil
	}
	return obj
}

func validateDurationField(obj map[string]any, key, path string, result *ValidationResult) {
	value, exists := obj[key]
	if !exists {
		return
	}
	s, ok := value.(string)
	if !ok {
		result.addError(path, "%s must be a duration string like \"30s\"", key)
		return
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		result.addError(path, "invalid duration '%s': %v", s, err)
		return
	}
	if d < 0 {
		result.addError(path, "%s cannot be negative", key)
	}
}

func validateURLField(obj map[string]any, key, path string, result *ValidationResult) *url.URL {
	value, exists := obj[key]
	if !exists {
		return nil
	}
	s, ok := value.(string)
	if !ok {
		// env references are resolved at load time
		return nil
	}
	u, err := url.Parse(s)
	if err != nil || u.Scheme == "" || u.Host == "" {
		result.addError(path, "%s must be an absolute URL. Example: \"https://backend.vibesec.app\"", key)
		return nil
	}
	return u
}

func validateBackendStructure(rawConfig map[string]any, result *ValidationResult) {
	backend := section(rawConfig, "backend", result)
	if backend == nil {
		return
	}

	if u := validateURLField(backend, "baseURL", "backend.baseURL", result); u != nil && u.Scheme != "https" {
		result.addWarning("backend.baseURL", "baseURL uses %s; only accepted in dev mode because session cookies are Secure", u.Scheme)
	}

	for _, key := range []string{"exchangePath", "mePath", "logoutPath", "deletePath", "testCodePath", "healthPath"} {
		if p, ok := backend[key].(string); ok && !strings.HasPrefix(p, "/") {
			result.addError("backend."+key, "%s must start with /", key)
		}
	}

	validateDurationField(backend, "exchangeTimeout", "backend.exchangeTimeout", result)
	if s, ok := backend["exchangeTimeout"].(string); ok {
		if d, err := time.ParseDuration(s); err == nil && d > 0 && d < time.Second {
			result.addWarning("backend.exchangeTimeout", "exchangeTimeout of %s is likely too short for a real network round trip", s)
		}
	}
}

func validateAppStructure(rawConfig map[string]any, result *ValidationResult) {
	app := section(rawConfig, "app", result)
	if app == nil {
		return
	}
	validateURLField(app, "loginURL", "app.loginURL", result)
	validateDurationField(app, "redirectDelay", "app.redirectDelay", result)
}

func validateSessionStructure(rawConfig map[string]any, result *ValidationResult) {
	session := section(rawConfig, "session", result)
	if session == nil {
		return
	}

	storage, _ := session["storage"].(string)
	switch storage {
	case "", StorageKeyring, StorageFile:
	case StorageMemory:
		result.addWarning("session.storage", "memory storage loses the session when the process exits")
	case StorageRedis:
		redis, ok := session["redis"].(map[string]any)
		if !ok {
			result.addError("session.redis", "redis section is required for redis storage")
		} else if _, ok := redis["addr"]; !ok {
			result.addError("session.redis.addr", "addr is required. Example: \"localhost:6379\"")
		}
		if redis != nil {
			if password, exists := redis["password"]; exists {
				if err := validateEnvVarReference(password, "password", "session.redis.password"); err != nil {
					result.Errors = append(result.Errors, *err)
				}
			}
		}
	case StorageFirestore:
		fs, ok := session["firestore"].(map[string]any)
		if !ok {
			result.addError("session.firestore", "firestore section is required for firestore storage")
		} else if _, ok := fs["project"]; !ok {
			result.addError("session.firestore.project", "project is required for firestore storage")
		}
	default:
		result.addError("session.storage", "unknown storage '%s'. Use memory, file, keyring, redis or firestore", storage)
	}

	if key, exists := session["encryptionKey"]; exists {
		if err := validateEnvVarReference(key, "encryptionKey", "session.encryptionKey"); err != nil {
			result.Errors = append(result.Errors, *err)
		}
	} else if storageNeedsKey[storage] {
		result.addError("session.encryptionKey", "encryptionKey is required for %s storage. Hint: {\"$env\": \"VIBESEC_ENCRYPTION_KEY\"}", storage)
	}

	if fp, ok := session["filePath"].(string); ok {
		if cf, ok := session["cookieFile"].(string); ok && fp == cf {
			result.addError("session.cookieFile", "cookieFile must differ from filePath; the two stores are independent")
		}
	}
}

// validateEnvVarReference validates that a field uses proper env var reference format
func validateEnvVarReference(value any, fieldName, path string) *ValidationError {
	switch v := value.(type) {
	case string:
		bashStyleRegex := regexp.MustCompile(`\$\{?([A-Z_][A-Z0-9_]*)\}?`)
		if matches := bashStyleRegex.FindStringSubmatch(v); len(matches) > 1 {
			varName := matches[1]
			return &ValidationError{
				Path:    path,
				Message: fmt.Sprintf("found bash-style syntax '%s' - use {\"$env\": \"%s\"} instead. Hint: JSON syntax prevents accidental shell expansion and ensures security", v, varName),
			}
		}
		return &ValidationError{
			Path:    path,
			Message: fmt.Sprintf("%s must use environment variable reference {\"$env\": \"YOUR_ENV_VAR\"} instead of plain text. Hint: This prevents secrets from being stored in config files", fieldName),
		}
	case map[string]any:
		if _, hasEnv := v["$env"]; !hasEnv {
			return &ValidationError{
				Path:    path,
				Message: fmt.Sprintf("%s must use {\"$env\": \"YOUR_ENV_VAR\"} format", fieldName),
			}
		}
		return nil
	default:
		return &ValidationError{
			Path:    path,
			Message: fmt.Sprintf("%s must be an environment variable reference {\"$env\": \"YOUR_ENV_VAR\"}, not %T", fieldName, value),
		}
	}
}

// checkBashStyleSyntax recursively checks for bash-style env var syntax
func checkBashStyleSyntax(value any, path string, result *ValidationResult) {
	bashStyleRegex := regexp.MustCompile(`\$\{?[A-Z_][A-Z0-9_]*\}?`)

	switch v := value.(type) {
	case string:
		for _, match := range bashStyleRegex.FindAllString(v, -1) {
			varName := strings.Trim(match, "${}")
			result.addWarning(path, "found bash-style syntax '%s' - use {\"$env\": \"%s\"} instead. Hint: JSON syntax prevents accidental shell expansion in scripts/CI and ensures unambiguous parsing", match, varName)
		}
	case map[string]any:
		if _, hasEnv := v["$env"]; hasEnv {
			return
		}
		for key, val := range v {
			newPath := path
			if newPath == "" {
				newPath = key
			} else {
				newPath = path + "." + key
			}
			checkBashStyleSyntax(val, newPath, result)
		}
	case []any:
		for i, item := range v {
			checkBashStyleSyntax(item, fmt.Sprintf("%s[%d]", path, i), result)
		}
	}
}

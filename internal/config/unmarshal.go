package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// parseValue resolves an optional string-or-reference field
func parseValue(raw json.RawMessage, field string) (string, error) {
	if raw == nil {
		return "", nil
	}
	value, err := ParseConfigValue(raw)
	if err != nil {
		return "", fmt.Errorf("parsing %s: %w", field, err)
	}
	return value, nil
}

func parseDuration(s, field string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", field, err)
	}
	return d, nil
}

// UnmarshalJSON implements custom unmarshaling for BackendConfig
func (b *BackendConfig) UnmarshalJSON(data []byte) error {
	type rawBackend struct {
		BaseURL         json.RawMessage `json:"baseURL"`
		ExchangePath    string          `json:"exchangePath"`
		MePath          string          `json:"mePath"`
		LogoutPath      string          `json:"logoutPath"`
		DeletePath      string          `json:"deletePath"`
		TestCodePath    string          `json:"testCodePath"`
		HealthPath      string          `json:"healthPath"`
		ExchangeTimeout string          `json:"exchangeTimeout"`
	}

	var raw rawBackend
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	b.ExchangePath = raw.ExchangePath
	b.MePath = raw.MePath
	b.LogoutPath = raw.LogoutPath
	b.DeletePath = raw.DeletePath
	b.TestCodePath = raw.TestCodePath
	b.HealthPath = raw.HealthPath

	var err error
	if b.BaseURL, err = parseValue(raw.BaseURL, "baseURL"); err != nil {
		return err
	}
	if b.ExchangeTimeout, err = parseDuration(raw.ExchangeTimeout, "exchangeTimeout"); err != nil {
		return err
	}
	return nil
}

// UnmarshalJSON implements custom unmarshaling for AppConfig
func (a *AppConfig) UnmarshalJSON(data []byte) error {
	type rawApp struct {
		LoginURL      json.RawMessage `json:"loginURL"`
		EntryURL      json.RawMessage `json:"entryURL"`
		RedirectDelay string          `json:"redirectDelay"`
	}

	var raw rawApp
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var err error
	if a.LoginURL, err = parseValue(raw.LoginURL, "loginURL"); err != nil {
		return err
	}
	if a.EntryURL, err = parseValue(raw.EntryURL, "entryURL"); err != nil {
		return err
	}
	if a.RedirectDelay, err = parseDuration(raw.RedirectDelay, "redirectDelay"); err != nil {
		return err
	}
	return nil
}

// UnmarshalJSON implements custom unmarshaling for RedisConfig
func (r *RedisConfig) UnmarshalJSON(data []byte) error {
	type rawRedis struct {
		Addr      json.RawMessage `json:"addr"`
		Username  json.RawMessage `json:"username"`
		Password  json.RawMessage `json:"password"`
		DB        int             `json:"db"`
		KeyPrefix string          `json:"keyPrefix"`
	}

	var raw rawRedis
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	r.DB = raw.DB
	r.KeyPrefix = raw.KeyPrefix

	var err error
	if r.Addr, err = parseValue(raw.Addr, "redis.addr"); err != nil {
		return err
	}
	if r.Username, err = parseValue(raw.Username, "redis.username"); err != nil {
		return err
	}
	password, err := parseValue(raw.Password, "redis.password")
	if err != nil {
		return err
	}
	r.Password = Secret(password)
	return nil
}

// UnmarshalJSON implements custom unmarshaling for FirestoreConfig
func (f *FirestoreConfig) UnmarshalJSON(data []byte) error {
	type rawFirestore struct {
		Project    json.RawMessage `json:"project"`
		Database   string          `json:"database"`
		Collection string          `json:"collection"`
	}

	var raw rawFirestore
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	f.Database = raw.Database
	f.Collection = raw.Collection

	var err error
	if f.Project, err = parseValue(raw.Project, "firestore.project"); err != nil {
		return err
	}
	return nil
}

// UnmarshalJSON implements custom unmarshaling for SessionConfig
func (s *SessionConfig) UnmarshalJSON(data []byte) error {
	type rawSession struct {
		Storage        string           `json:"storage"`
		FilePath       json.RawMessage  `json:"filePath"`
		CookieFile     json.RawMessage  `json:"cookieFile"`
		EncryptionKey  json.RawMessage  `json:"encryptionKey"`
		KeyringService string           `json:"keyringService"`
		Redis          *RedisConfig     `json:"redis"`
		Firestore      *FirestoreConfig `json:"firestore"`
	}

	var raw rawSession
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	s.Storage = raw.Storage
	s.KeyringService = raw.KeyringService
	s.Redis = raw.Redis
	s.Firestore = raw.Firestore

	var err error
	if s.FilePath, err = parseValue(raw.FilePath, "filePath"); err != nil {
		return err
	}
	if s.CookieFile, err = parseValue(raw.CookieFile, "cookieFile"); err != nil {
		return err
	}
	key, err := parseValue(raw.EncryptionKey, "encryptionKey")
	if err != nil {
		return err
	}
	s.EncryptionKey = Secret(key)
	return nil
}

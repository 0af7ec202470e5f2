package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"

	"github.com/vibesec/vibesec-login/internal/log"
)

var _ Store = (*KeyringStore)(nil)

type previousValue struct {
	value  string
	exists bool
}

// KeyringStore keeps each key as its own item in the OS keyring under one
// service name. The keyring has no transactions, so SetMany restores the
// previous values when a later write fails.
type KeyringStore struct {
	service string
}

func NewKeyringStore(service string) (*KeyringStore, error) {
	if service == "" {
		return nil, fmt.Errorf("keyring service is required")
	}
	return &KeyringStore{service: service}, nil
}

func (s *KeyringStore) Get(_ context.Context, key string) (string, error) {
	v, err := keyring.Get(s.service, key)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("reading %s from keyring: %w", key, err)
	}
	return v, nil
}

func (s *KeyringStore) SetMany(ctx context.Context, entries map[string]string) error {
	written := make(map[string]previousValue, len(entries))

	for k, v := range entries {
		old, err := s.Get(ctx, k)
		prev := previousValue{value: old, exists: err == nil}
		if err != nil && !errors.Is(err, ErrNotFound) {
			s.restore(written)
			return err
		}

		if err := keyring.Set(s.service, k, v); err != nil {
			s.restore(written)
			return fmt.Errorf("writing %s to keyring: %w", k, err)
		}
		written[k] = prev
	}
	return nil
}

// restore puts back the values that existed before a failed SetMany
func (s *KeyringStore) restore(written map[string]previousValue) {
	for k, prev := range written {
		var err error
		if prev.exists {
			err = keyring.Set(s.service, k, prev.value)
		} else {
			err = keyring.Delete(s.service, k)
		}
		if err != nil && !errors.Is(err, keyring.ErrNotFound) {
			log.LogErrorWithFields("storage", "Keyring rollback failed", map[string]any{
				"key":   k,
				"error": err.Error(),
			})
		}
	}
}

func (s *KeyringStore) Delete(_ context.Context, keys ...string) error {
	for _, k := range keys {
		if err := keyring.Delete(s.service, k); err != nil && !errors.Is(err, keyring.ErrNotFound) {
			return fmt.Errorf("deleting %s from keyring: %w", k, err)
		}
	}
	return nil
}

func (s *KeyringStore) Clear(_ context.Context) error {
	if err := keyring.DeleteAll(s.service); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("clearing keyring service %s: %w", s.service, err)
	}
	return nil
}

func (s *KeyringStore) Name() string { return string(KindKeyring) }

func (s *KeyringStore) Close() error { return nil }

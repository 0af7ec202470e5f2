package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a key has no value in the store
var ErrNotFound = errors.New("key not found")

// Kind selects a Store implementation
type Kind string

const (
	KindMemory    Kind = "memory"
	KindFile      Kind = "file"
	KindKeyring   Kind = "keyring"
	KindRedis     Kind = "redis"
	KindFirestore Kind = "firestore"
)

// Store is a durable key-value store addressed by fixed string keys.
//
// SetMany is all-or-nothing: either every entry is visible afterwards or
// none of them changed. Callers that need several keys to stay consistent
// (the session triple) must write them through SetMany.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	SetMany(ctx context.Context, entries map[string]string) error
	Delete(ctx context.Context, keys ...string) error
	// Clear removes every key the store owns.
	Clear(ctx context.Context) error
	Name() string
	Close() error
}

// GetMany reads keys in order and returns what exists. Missing keys are
// simply absent from the result.
func GetMany(ctx context.Context, s Store, keys ...string) (map[string]string, error) {
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		v, err := s.Get(ctx, k)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/vibesec/vibesec-login/internal/crypto"
	"github.com/vibesec/vibesec-login/internal/log"
)

// lockTimeout bounds how long a write waits for another process
const lockTimeout = time.Second

var _ Store = (*FileStore)(nil)

// fileDocument is the on-disk layout. Values are sealed by the encryptor.
type fileDocument struct {
	Version int               `json:"version"`
	Entries map[string]string `json:"entries"`
}

// FileStore persists entries as a single JSON document. Every mutation
// holds an advisory lock on path+".lock" and replaces the file atomically,
// so concurrent CLI invocations never observe a half-written session.
type FileStore struct {
	path      string
	lock      *flock.Flock
	encryptor crypto.Encryptor
}

func NewFileStore(path string, encryptor crypto.Encryptor) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("file store path is required")
	}
	if encryptor == nil {
		return nil, fmt.Errorf("encryptor is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}
	return &FileStore{
		path:      filepath.Clean(path),
		lock:      flock.New(filepath.Clean(path) + ".lock"),
		encryptor: encryptor,
	}, nil
}

func (s *FileStore) Get(_ context.Context, key string) (string, error) {
	doc, err := s.read()
	if err != nil {
		return "", err
	}
	sealed, ok := doc.Entries[key]
	if !ok {
		return "", ErrNotFound
	}
	v, err := s.encryptor.Decrypt(sealed)
	if err != nil {
		return "", fmt.Errorf("decrypting %s: %w", key, err)
	}
	return v, nil
}

func (s *FileStore) SetMany(ctx context.Context, entries map[string]string) error {
	sealed := make(map[string]string, len(entries))
	for k, v := range entries {
		enc, err := s.encryptor.Encrypt(v)
		if err != nil {
			return fmt.Errorf("encrypting %s: %w", k, err)
		}
		sealed[k] = enc
	}

	return s.update(ctx, func(doc *fileDocument) {
		for k, v := range sealed {
			doc.Entries[k] = v
		}
	})
}

func (s *FileStore) Delete(ctx context.Context, keys ...string) error {
	return s.update(ctx, func(doc *fileDocument) {
		for _, k := range keys {
			delete(doc.Entries, k)
		}
	})
}

func (s *FileStore) Clear(ctx context.Context) error {
	return s.withLock(ctx, func() error {
		if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("removing store file: %w", err)
		}
		log.LogDebugWithFields("storage", "File store cleared", map[string]any{"path": s.path})
		return nil
	})
}

func (s *FileStore) Name() string { return string(KindFile) }

func (s *FileStore) Close() error { return nil }

func (s *FileStore) read() (*fileDocument, error) {
	doc := &fileDocument{Version: 1, Entries: map[string]string{}}

	// #nosec G304: path comes from configuration, not from user input
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return doc, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading store file: %w", err)
	}
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("parsing store file %s: %w", s.path, err)
	}
	if doc.Entries == nil {
		doc.Entries = map[string]string{}
	}
	return doc, nil
}

func (s *FileStore) update(ctx context.Context, fn func(*fileDocument)) error {
	return s.withLock(ctx, func() error {
		doc, err := s.read()
		if err != nil {
			return err
		}
		fn(doc)
		return s.write(doc)
	})
}

func (s *FileStore) withLock(ctx context.Context, fn func() error) error {
	lockCtx, cancel := context.WithTimeout(ctx, lockTimeout)
	defer cancel()

	locked, err := s.lock.TryLockContext(lockCtx, 50*time.Millisecond)
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("failed to acquire lock: timeout after %v", lockTimeout)
	}
	defer func() {
		if err := s.lock.Unlock(); err != nil {
			log.LogWarn("Failed to release store lock %s: %v", s.path, err)
		}
	}()

	return fn()
}

func (s *FileStore) write(doc *fileDocument) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding store file: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("setting store file mode: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing store file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing store file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replacing store file: %w", err)
	}
	return nil
}

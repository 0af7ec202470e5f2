package storage

import (
	"context"
	"fmt"

	"github.com/vibesec/vibesec-login/internal/crypto"
)

// Options selects and configures a Store
type Options struct {
	Kind           Kind
	FilePath       string
	KeyringService string
	Redis          RedisConfig
	Firestore      FirestoreConfig

	// EncryptionKey seals values in the file, redis and firestore stores.
	EncryptionKey []byte
}

// New builds the Store named by opts.Kind
func New(ctx context.Context, opts Options) (Store, error) {
	switch opts.Kind {
	case KindMemory, "":
		return NewMemoryStore(), nil
	case KindKeyring:
		return NewKeyringStore(opts.KeyringService)
	}

	encryptor, err := crypto.NewEncryptor(opts.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("%s storage: %w", opts.Kind, err)
	}

	switch opts.Kind {
	case KindFile:
		return NewFileStore(opts.FilePath, encryptor)
	case KindRedis:
		return NewRedisStore(ctx, opts.Redis, encryptor)
	case KindFirestore:
		return NewFirestoreStore(ctx, opts.Firestore, encryptor)
	default:
		return nil, fmt.Errorf("unknown storage kind %q", opts.Kind)
	}
}

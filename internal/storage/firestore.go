package storage

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vibesec/vibesec-login/internal/crypto"
	"github.com/vibesec/vibesec-login/internal/log"
)

var _ Store = (*FirestoreStore)(nil)

// FirestoreConfig locates the collection holding session entries
type FirestoreConfig struct {
	ProjectID  string
	Database   string
	Collection string

	// Namespace separates the entries of one client installation from
	// another sharing the collection.
	Namespace string
}

// entryDoc is one key of one namespace. Value is sealed.
type entryDoc struct {
	Namespace string    `firestore:"namespace"`
	Key       string    `firestore:"key"`
	Value     string    `firestore:"value"`
	UpdatedAt time.Time `firestore:"updated_at"`
}

// FirestoreStore keeps one document per key. Multi-key writes run in a
// transaction; reads return errors rather than falling back, since a
// missing session must never look like an empty one.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
	namespace  string
	encryptor  crypto.Encryptor
}

func NewFirestoreStore(ctx context.Context, cfg FirestoreConfig, encryptor crypto.Encryptor) (*FirestoreStore, error) {
	if encryptor == nil {
		return nil, fmt.Errorf("encryptor is required")
	}
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("projectID is required")
	}
	if cfg.Collection == "" {
		return nil, fmt.Errorf("collection is required")
	}
	if cfg.Namespace == "" {
		return nil, fmt.Errorf("namespace is required")
	}

	var client *firestore.Client
	var err error
	if cfg.Database != "" && cfg.Database != "(default)" {
		client, err = firestore.NewClientWithDatabase(ctx, cfg.ProjectID, cfg.Database)
	} else {
		client, err = firestore.NewClient(ctx, cfg.ProjectID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	log.LogInfoWithFields("storage", "Firestore store ready", map[string]any{
		"project":    cfg.ProjectID,
		"collection": cfg.Collection,
	})

	return &FirestoreStore{
		client:     client,
		collection: cfg.Collection,
		namespace:  cfg.Namespace,
		encryptor:  encryptor,
	}, nil
}

func (s *FirestoreStore) doc(key string) *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(s.namespace + "__" + key)
}

func (s *FirestoreStore) Get(ctx context.Context, key string) (string, error) {
	snap, err := s.doc(key).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("reading %s from Firestore: %w", key, err)
	}

	var entry entryDoc
	if err := snap.DataTo(&entry); err != nil {
		return "", fmt.Errorf("decoding %s: %w", key, err)
	}
	v, err := s.encryptor.Decrypt(entry.Value)
	if err != nil {
		return "", fmt.Errorf("decrypting %s: %w", key, err)
	}
	return v, nil
}

func (s *FirestoreStore) SetMany(ctx context.Context, entries map[string]string) error {
	docs := make(map[string]entryDoc, len(entries))
	now := time.Now().UTC()
	for k, v := range entries {
		sealed, err := s.encryptor.Encrypt(v)
		if err != nil {
			return fmt.Errorf("encrypting %s: %w", k, err)
		}
		docs[k] = entryDoc{Namespace: s.namespace, Key: k, Value: sealed, UpdatedAt: now}
	}

	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		for k, d := range docs {
			if err := tx.Set(s.doc(k), d); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("firestore transaction: %w", err)
	}
	return nil
}

func (s *FirestoreStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		for _, k := range keys {
			if err := tx.Delete(s.doc(k)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("firestore delete: %w", err)
	}
	return nil
}

// Clear deletes every document in the namespace, including keys this
// version of the client no longer writes.
func (s *FirestoreStore) Clear(ctx context.Context) error {
	iter := s.client.Collection(s.collection).Where("namespace", "==", s.namespace).Documents(ctx)
	defer iter.Stop()

	var refs []*firestore.DocumentRef
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return fmt.Errorf("error iterating Firestore documents: %w", err)
		}
		refs = append(refs, snap.Ref)
	}
	if len(refs) == 0 {
		return nil
	}

	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		for _, ref := range refs {
			if err := tx.Delete(ref); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("firestore clear: %w", err)
	}
	return nil
}

func (s *FirestoreStore) Name() string { return string(KindFirestore) }

func (s *FirestoreStore) Close() error {
	return s.client.Close()
}

package artifact

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"hookbox/internal/domain"
)

const boltBucket = "artifacts"

// BoltStore keeps artifact payloads inside a BoltDB file.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) the artifact database at path.
func NewBoltStore(path string) (*BoltStore, error) {
	if path == "" {
		return nil, errors.New("artifact path is required")
	}

	cleaned := filepath.Clean(path)
	if dir := filepath.Dir(cleaned); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create artifact directory: %w", err)
		}
	}

	db, err := bolt.Open(cleaned, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open artifact store: %w", err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(boltBucket))
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create artifact bucket: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// Store writes data under its content hash. Existing content is left as is.
func (s *BoltStore) Store(ctx context.Context, data []byte) (Handle, error) {
	h := HandleFor(data)
	err := s.db.Update(func(tx *bolt.Tx) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		b := tx.Bucket([]byte(boltBucket))
		if b.Get([]byte(h)) != nil {
			return nil
		}
		return b.Put([]byte(h), data)
	})
	if err != nil {
		return "", fmt.Errorf("failed to store artifact: %w", err)
	}
	return h, nil
}

// Retrieve returns a copy of the stored payload.
func (s *BoltStore) Retrieve(ctx context.Context, h Handle) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		v := tx.Bucket([]byte(boltBucket)).Get([]byte(h))
		if v == nil {
			return domain.ErrNotFound.Wrap(fmt.Errorf("artifact %s", h))
		}
		// bolt values are only valid for the life of the transaction
		out = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteAll removes every listed handle. Unknown handles are ignored.
func (s *BoltStore) DeleteAll(ctx context.Context, handles []Handle) error {
	if len(handles) == 0 {
		return nil
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(boltBucket))
		for _, h := range handles {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := b.Delete([]byte(h)); err != nil {
				return fmt.Errorf("failed to delete artifact %s: %w", h, err)
			}
		}
		return nil
	})
}

// Close releases the underlying database file.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

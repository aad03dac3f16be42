package zkstore

import (
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"
)

var bucketSnapshot = []byte("snapshot")

// BoltSnapshotStore is an on-disk path->blob store for non-ephemeral
// coordination-store data. No component in this module opens or writes
// one; Backend data lives only in memory. It adapts the teacher's
// pkg/storage/boltdb.go
// bucket-per-entity layout to a single namespace-path-keyed bucket: unlike
// warren's fixed Node/Service/Task schema, Treadmill's namespace has
// variable-depth paths, so one generic path->blob bucket replaces the
// per-entity buckets.
type BoltSnapshotStore struct {
	db *bolt.DB
}

// NewBoltSnapshotStore opens (creating if necessary) a bbolt database
// under dataDir for persisting snapshot blobs keyed by store path.
func NewBoltSnapshotStore(dataDir string) (*BoltSnapshotStore, error) {
	dbPath := filepath.Join(dataDir, "treadmill.db")
	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open snapshot store: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSnapshot)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init snapshot store: %w", err)
	}
	return &BoltSnapshotStore{db: db}, nil
}

// Put persists blob under key (typically a namespace path).
func (s *BoltSnapshotStore) Put(key string, blob []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSnapshot).Put([]byte(key), blob)
	})
}

// Get retrieves the blob stored under key, or (nil, false) if absent.
func (s *BoltSnapshotStore) Get(key string) ([]byte, bool, error) {
	var out []byte
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketSnapshot).Get([]byte(key))
		if v == nil {
			return nil
		}
		found = true
		out = append([]byte(nil), v...)
		return nil
	})
	return out, found, err
}

// Delete removes the blob stored under key.
func (s *BoltSnapshotStore) Delete(key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSnapshot).Delete([]byte(key))
	})
}

// ForEach iterates every stored key/blob pair in key order.
func (s *BoltSnapshotStore) ForEach(fn func(key string, blob []byte) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSnapshot).ForEach(func(k, v []byte) error {
			return fn(string(k), v)
		})
	})
}

// Close closes the underlying database.
func (s *BoltSnapshotStore) Close() error {
	return s.db.Close()
}

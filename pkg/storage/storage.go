// Package storage is the durable store behind document and user state: a
// single embedded bbolt database holding a docs bucket (id allocation) and a
// users bucket (personal-document lookup), standing in for the original's
// pair of RocksDB stores without a CGo dependency.
package storage

import (
	"fmt"

	"github.com/dzfranklin/shrubbery/pkg/frame"
	bolt "go.etcd.io/bbolt"
)

var (
	docsBucket  = []byte("docs")
	usersBucket = []byte("users")
)

// DB wraps the single bbolt file shared by DocDb and UserDb.
type DB struct {
	bolt *bolt.DB
}

// Open opens (creating if missing) the bbolt database at path and ensures
// both buckets exist.
func Open(path string) (*DB, error) {
	bdb, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}
	err = bdb.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(docsBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(usersBucket)
		return err
	})
	if err != nil {
		bdb.Close()
		return nil, fmt.Errorf("storage: init buckets: %w", err)
	}
	return &DB{bolt: bdb}, nil
}

// Close releases the underlying file.
func (d *DB) Close() error {
	return d.bolt.Close()
}

// Docs returns the document-id collaborator backed by this database.
func (d *DB) Docs() *DocDb {
	return &DocDb{db: d.bolt}
}

// Users returns the personal-document collaborator backed by this database.
func (d *DB) Users() *UserDb {
	return &UserDb{db: d.bolt}
}

// DocDb allocates fresh document ids, recording each as an empty value so
// the bucket also inventories every id ever created.
type DocDb struct {
	db *bolt.DB
}

// Create allocates a new DocId and records it.
func (d *DocDb) Create() (frame.DocId, error) {
	id := frame.NewDocId()
	err := d.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(docsBucket).Put(id[:], nil)
	})
	if err != nil {
		return frame.DocId{}, fmt.Errorf("storage: create doc: %w", err)
	}
	return id, nil
}

// UserDb maps a user to their always-open personal document, allocating one
// on first access.
type UserDb struct {
	db *bolt.DB
}

// PersonalDoc returns user's personal DocId, allocating and persisting a new
// one under a single read-write transaction if this is the user's first
// access. bbolt serializes all writers against a single mutex, which stands
// in for the original's optimistic-transaction get-for-update.
func (u *UserDb) PersonalDoc(user string) (frame.DocId, error) {
	var id frame.DocId
	key := []byte(user + ":personal_doc")

	err := u.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(usersBucket)
		existing := bucket.Get(key)
		if existing != nil {
			if len(existing) != 16 {
				return fmt.Errorf("storage: corrupt personal_doc value for %q", user)
			}
			copy(id[:], existing)
			return nil
		}

		id = frame.NewDocId()
		if err := tx.Bucket(docsBucket).Put(id[:], nil); err != nil {
			return err
		}
		return bucket.Put(key, id[:])
	})
	if err != nil {
		return frame.DocId{}, fmt.Errorf("storage: personal doc for %q: %w", user, err)
	}
	return id, nil
}

// Package metacache keeps fetched metadata documents in a bolt database.
package metacache

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	documentsBucket = []byte("documents")
	documentKey     = []byte("document")
	storedAtKey     = []byte("stored-at")
)

// Cache stores one document per accession together with the time it was stored.
type Cache struct {
	db  *bolt.DB
	now func() time.Time
}

// Open opens or creates the cache database at path. Parent directories are created.
func Open(path string) (*Cache, error) {
	err := os.MkdirAll(filepath.Dir(path), 0750)
	if err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0640, &bolt.Options{Timeout: time.Second})
	if err == bolt.ErrTimeout {
		return nil, errors.New("metadata cache is locked by another process")
	} else if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err2 := tx.CreateBucketIfNotExists(documentsBucket)
		return err2
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Cache{db: db, now: time.Now}, nil
}

// Close the database.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Get returns the document stored for accession.
func (c *Cache) Get(accession string) (doc []byte, storedAt time.Time, ok bool, err error) {
	err = c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(documentsBucket).Bucket([]byte(accession))
		if b == nil {
			return nil
		}
		val := b.Get(documentKey)
		if val == nil {
			return nil
		}
		var err2 error
		storedAt, err2 = time.Parse(time.RFC3339, string(b.Get(storedAtKey)))
		if err2 != nil {
			return err2
		}
		doc = make([]byte, len(val))
		copy(doc, val)
		ok = true
		return nil
	})
	return
}

// Put stores doc for accession, replacing any previous entry.
func (c *Cache) Put(accession string, doc []byte) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.Bucket(documentsBucket).CreateBucketIfNotExists([]byte(accession))
		if err != nil {
			return err
		}
		err = b.Put(documentKey, doc)
		if err != nil {
			return err
		}
		return b.Put(storedAtKey, []byte(c.now().UTC().Format(time.RFC3339)))
	})
}

// Delete removes the entry for accession if there is one.
func (c *Cache) Delete(accession string) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		err := tx.Bucket(documentsBucket).DeleteBucket([]byte(accession))
		if err == bolt.ErrBucketNotFound {
			return nil
		}
		return err
	})
}

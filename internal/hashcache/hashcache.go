// Package hashcache memoizes per-file content hashes keyed by mtime
// and size, so the snapshot backup can skip files that have not
// changed since the last sync. It is bookkeeping only -- nothing here is part of the
// persisted client config or the wire protocol -- ported from the
// teacher's state.LocalFile memoization pattern in obsidian/scanner.go
// (hash is cleared and recomputed only when mtime or size changed) but
// backed by its own small bbolt database instead of the app-wide store.
package hashcache

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucket = []byte("hashes")

// Entry is the cached fingerprint for a single file.
type Entry struct {
	MTime int64  `json:"mtime"`
	Size  int64  `json:"size"`
	Hash  string `json:"hash"`
}

// Cache wraps a bbolt database of path -> Entry.
type Cache struct {
	db *bolt.DB
}

// Open opens (creating if absent) the hash cache at path.
func Open(path string) (*Cache, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening hash cache: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing hash cache: %w", err)
	}

	return &Cache{db: db}, nil
}

// Close closes the underlying database.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Get returns the cached entry for relPath, if any.
func (c *Cache) Get(relPath string) (Entry, bool) {
	var e Entry
	found := false
	_ = c.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucket).Get([]byte(relPath))
		if v == nil {
			return nil
		}
		if err := json.Unmarshal(v, &e); err != nil {
			return nil
		}
		found = true
		return nil
	})
	return e, found
}

// Set persists the entry for relPath.
func (c *Cache) Set(relPath string, e Entry) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		return tx.Bucket(bucket).Put([]byte(relPath), data)
	})
}

// Delete removes any cached entry for relPath.
func (c *Cache) Delete(relPath string) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Delete([]byte(relPath))
	})
}

// Fresh reports whether the cached entry for relPath still matches the
// given mtime/size, returning its hash if so.
func (c *Cache) Fresh(relPath string, mtime, size int64) (string, bool) {
	e, ok := c.Get(relPath)
	if !ok || e.MTime != mtime || e.Size != size {
		return "", false
	}
	return e.Hash, true
}

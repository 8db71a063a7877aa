package cache

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/olegkotsar/ncbi-sync/config"
	"github.com/olegkotsar/ncbi-sync/model"
	"go.etcd.io/bbolt"
)

// BboltBackend stores one bucket per "<site>/<group>" key with one JSON value
// per remote path.
type BboltBackend struct {
	db *bbolt.DB
}

// NewBboltBackend opens (or creates) the database file
func NewBboltBackend(cfg *config.BboltConfig) (*BboltBackend, error) {
	// Apply defaults to ensure required values are set
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid bbolt config: %w", err)
	}

	// A second process holding the file lock must not hang the run
	db, err := bbolt.Open(cfg.Path, cfg.Mode, &bbolt.Options{Timeout: 5 * time.Second, NoSync: cfg.NoSync})
	if err != nil {
		if isBboltCorrupt(err) {
			return nil, fmt.Errorf("%w: open bbolt %s: %v", ErrMetadataCorrupt, cfg.Path, err)
		}
		return nil, fmt.Errorf("open bbolt %s: %w", cfg.Path, err)
	}

	return &BboltBackend{db: db}, nil
}

// isBboltCorrupt reports open errors caused by the file content rather than
// by its location or lock
func isBboltCorrupt(err error) bool {
	return errors.Is(err, bbolt.ErrInvalid) ||
		errors.Is(err, bbolt.ErrChecksum) ||
		errors.Is(err, bbolt.ErrVersionMismatch)
}

func (c *BboltBackend) Close() error {
	return c.db.Close()
}

func (c *BboltBackend) Load() (Document, error) {
	doc := Document{}

	err := c.db.View(func(tx *bbolt.Tx) error {
		return tx.ForEach(func(name []byte, b *bbolt.Bucket) error {
			records := make(map[string]model.LocalRecord)
			err := b.ForEach(func(k, v []byte) error {
				var rec model.LocalRecord
				if err := json.Unmarshal(v, &rec); err != nil {
					return fmt.Errorf("%w: unmarshal error for key %s/%s: %v", ErrMetadataCorrupt, name, k, err)
				}
				records[string(k)] = rec
				return nil
			})
			if err != nil {
				return err
			}
			doc[string(name)] = records
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// Save replaces the persisted document in a single transaction. Buckets and
// keys absent from doc are removed.
func (c *BboltBackend) Save(doc Document) error {
	return c.db.Update(func(tx *bbolt.Tx) error {
		var stale [][]byte
		err := tx.ForEach(func(name []byte, _ *bbolt.Bucket) error {
			if _, ok := doc[string(name)]; !ok {
				stale = append(stale, append([]byte(nil), name...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, name := range stale {
			if err := tx.DeleteBucket(name); err != nil {
				return err
			}
		}

		keys := make([]string, 0, len(doc))
		for key := range doc {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		for _, key := range keys {
			records := doc[key]
			b, err := tx.CreateBucketIfNotExists([]byte(key))
			if err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", key, err)
			}

			// Collect first, deleting while iterating a cursor skips keys
			var staleKeys [][]byte
			if err := b.ForEach(func(k, _ []byte) error {
				if _, ok := records[string(k)]; !ok {
					staleKeys = append(staleKeys, append([]byte(nil), k...))
				}
				return nil
			}); err != nil {
				return err
			}
			for _, k := range staleKeys {
				if err := b.Delete(k); err != nil {
					return err
				}
			}

			paths := make([]string, 0, len(records))
			for p := range records {
				paths = append(paths, p)
			}
			sort.Strings(paths)

			// Sorted puts append to the B+tree; unchanged records are not rewritten
			for _, p := range paths {
				val, err := json.Marshal(records[p])
				if err != nil {
					return err
				}
				if bytes.Equal(b.Get([]byte(p)), val) {
					continue
				}
				if err := b.Put([]byte(p), val); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

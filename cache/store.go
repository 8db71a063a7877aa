package cache

import (
	"errors"
	"fmt"
	"sync"

	"github.com/olegkotsar/ncbi-sync/model"
)

var (
	// ErrMetadataCorrupt is returned when the persisted document cannot be parsed
	ErrMetadataCorrupt = errors.New("metadata corrupt")
	// ErrInvalidRecord is returned by Upsert for records that break the store invariants
	ErrInvalidRecord = errors.New("invalid record")
)

// TaxonomySite and TaxonomyGroup form the document key of the taxonomy dump,
// which does not depend on the site.
const (
	TaxonomySite  = "taxonomy"
	TaxonomyGroup = "taxdump"
)

// Document maps "<site>/<group>" to the records of that group keyed by remote path
type Document map[string]map[string]model.LocalRecord

// Key returns the document key of a group
func Key(site, group string) string {
	return site + "/" + group
}

func (d Document) clone() Document {
	out := make(Document, len(d))
	for key, records := range d {
		m := make(map[string]model.LocalRecord, len(records))
		for p, r := range records {
			m[p] = r
		}
		out[key] = m
	}
	return out
}

// Count returns the number of records across all groups
func (d Document) Count() int {
	n := 0
	for _, records := range d {
		n += len(records)
	}
	return n
}

// Store keeps the metadata document in memory and persists it as a whole
// through a Backend. It is safe for concurrent use; the scheduler still funnels
// all writes of a run through one collector goroutine.
type Store struct {
	mu      sync.Mutex
	doc     Document
	backend Backend
}

// NewStore returns an empty store persisted through backend (may be nil for
// a memory-only store).
func NewStore(backend Backend) *Store {
	return &Store{doc: Document{}, backend: backend}
}

// Load reads the persisted document. When it cannot be parsed the returned
// store is empty but usable, and the error wraps ErrMetadataCorrupt.
func Load(backend Backend) (*Store, error) {
	s := NewStore(backend)
	doc, err := backend.Load()
	if err != nil {
		if errors.Is(err, ErrMetadataCorrupt) {
			return s, err
		}
		return nil, err
	}
	if doc != nil {
		s.doc = doc
	}
	return s, nil
}

// Get returns a copy of the record stored for remotePath
func (s *Store) Get(site, group, remotePath string) (model.LocalRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.doc[Key(site, group)][remotePath]
	return r, ok
}

// Upsert inserts or replaces a record. A verified record must carry the
// digest it was verified against.
func (s *Store) Upsert(site, group string, rec model.LocalRecord) error {
	if rec.RemotePath == "" {
		return fmt.Errorf("%w: empty remote path", ErrInvalidRecord)
	}
	if rec.State == model.StateVerified && rec.LastDigest == "" {
		return fmt.Errorf("%w: %s is verified without a digest", ErrInvalidRecord, rec.RemotePath)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	key := Key(site, group)
	records, ok := s.doc[key]
	if !ok {
		records = make(map[string]model.LocalRecord)
		s.doc[key] = records
	}
	records[rec.RemotePath] = rec
	return nil
}

// Group returns a copy of every record of one group
func (s *Store) Group(site, group string) map[string]model.LocalRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	records := s.doc[Key(site, group)]
	out := make(map[string]model.LocalRecord, len(records))
	for p, r := range records {
		out[p] = r
	}
	return out
}

// Snapshot returns a deep copy of the whole document
func (s *Store) Snapshot() Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.clone()
}

// Flush persists the current document. The copy is taken under the lock, the
// write happens outside it so workers are not blocked on disk I/O.
func (s *Store) Flush() error {
	if s.backend == nil {
		return nil
	}
	if err := s.backend.Save(s.Snapshot()); err != nil {
		return fmt.Errorf("flush metadata: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	if s.backend == nil {
		return nil
	}
	return s.backend.Close()
}

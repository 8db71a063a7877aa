package cache

import (
	"errors"
	"fmt"
	"os"

	"github.com/olegkotsar/ncbi-sync/config"
)

// Backend persists the metadata document. Save replaces the whole persisted
// document atomically: after a crash either the old or the new form is read.
type Backend interface {
	Load() (Document, error)
	Save(doc Document) error
	Close() error
}

// CorruptSuffix is appended to a metadata file that could not be opened
const CorruptSuffix = ".corrupt"

// CreateBackend creates a backend based on configuration. A bbolt or sqlite
// file that cannot be opened because of its content is renamed with
// CorruptSuffix and replaced by a fresh one; the first Load of the returned
// backend then reports ErrMetadataCorrupt so callers start from an empty
// document.
func CreateBackend(cfg *config.MetadataConfig) (Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid metadata configuration: %w", err)
	}

	switch cfg.MetadataType {
	case config.MetadataTypeJSON:
		return NewJSONBackend(cfg.JSON), nil
	case config.MetadataTypeBbolt:
		return openRecovering(cfg.Bbolt.Path, func() (Backend, error) {
			b, err := NewBboltBackend(cfg.Bbolt)
			if err != nil {
				return nil, err
			}
			return b, nil
		})
	case config.MetadataTypeSQLite:
		return openRecovering(cfg.SQLite.Path, func() (Backend, error) {
			b, err := NewSQLiteBackend(cfg.SQLite)
			if err != nil {
				return nil, err
			}
			return b, nil
		})
	default:
		return nil, fmt.Errorf("unsupported metadata type: %s", cfg.MetadataType)
	}
}

func openRecovering(path string, open func() (Backend, error)) (Backend, error) {
	b, err := open()
	if err == nil || !errors.Is(err, ErrMetadataCorrupt) {
		return b, err
	}

	aside := path + CorruptSuffix
	if rerr := os.Rename(path, aside); rerr != nil {
		return nil, fmt.Errorf("%w (moving it aside failed: %v)", err, rerr)
	}
	fresh, ferr := open()
	if ferr != nil {
		return nil, ferr
	}
	return &recoveredBackend{Backend: fresh, cause: fmt.Errorf("%w; moved to %s", err, aside)}, nil
}

// recoveredBackend wraps a fresh backend that replaced a corrupt file
type recoveredBackend struct {
	Backend
	cause error
}

func (r *recoveredBackend) Load() (Document, error) {
	if r.cause != nil {
		err := r.cause
		r.cause = nil
		return nil, err
	}
	return r.Backend.Load()
}

package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/olegkotsar/ncbi-sync/config"
)

// JSONBackend keeps the document in one JSON file
type JSONBackend struct {
	path string
	mode os.FileMode
}

func NewJSONBackend(cfg *config.JSONConfig) *JSONBackend {
	mode := cfg.Mode
	if mode == 0 {
		mode = 0644
	}
	return &JSONBackend{path: cfg.Path, mode: mode}
}

// Load returns an empty document when the file does not exist yet
func (b *JSONBackend) Load() (Document, error) {
	data, err := os.ReadFile(b.path)
	if errors.Is(err, os.ErrNotExist) {
		return Document{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", b.path, err)
	}

	doc := Document{}
	if len(data) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMetadataCorrupt, b.path, err)
	}
	return doc, nil
}

// Save writes to a temporary file in the same directory, syncs it and renames
// it over the previous document.
func (b *JSONBackend) Save(doc Document) (retErr error) {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(b.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(b.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if retErr != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Chmod(b.mode); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), b.path)
}

func (b *JSONBackend) Close() error { return nil }

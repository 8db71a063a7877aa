package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// MetadataType represents the persistence backend of the download state document
type MetadataType string

const (
	MetadataTypeJSON   MetadataType = "json"
	MetadataTypeBbolt  MetadataType = "bbolt"
	MetadataTypeSQLite MetadataType = "sqlite"
)

// MetadataConfig holds the configuration for the metadata store
type MetadataConfig struct {
	MetadataType MetadataType `json:"type" yaml:"type" toml:"type"`

	// Type-specific configs
	JSON   *JSONConfig   `json:"json,omitempty" yaml:"json,omitempty" toml:"json,omitempty"`
	Bbolt  *BboltConfig  `json:"bbolt,omitempty" yaml:"bbolt,omitempty" toml:"bbolt,omitempty"`
	SQLite *SQLiteConfig `json:"sqlite,omitempty" yaml:"sqlite,omitempty" toml:"sqlite,omitempty"`
}

// JSONConfig holds settings for the single-file JSON document
type JSONConfig struct {
	Path string      `json:"path" yaml:"path" toml:"path"`
	Mode os.FileMode `json:"mode,omitempty" yaml:"mode,omitempty" toml:"mode,omitempty"`
}

// BboltConfig holds bbolt-specific configuration
type BboltConfig struct {
	Path   string      `json:"path" yaml:"path" toml:"path"`                                        // Path to bbolt DB file
	Mode   os.FileMode `json:"mode,omitempty" yaml:"mode,omitempty" toml:"mode,omitempty"`          // File open mode: "0600", "0644"
	NoSync bool        `json:"no_sync,omitempty" yaml:"no_sync,omitempty" toml:"no_sync,omitempty"` // Disable fsync for better performance
}

// SQLiteConfig holds sqlite-specific configuration
type SQLiteConfig struct {
	Path string `json:"path" yaml:"path" toml:"path"`
}

// Validate validates the metadata configuration
func (mc *MetadataConfig) Validate() error {
	switch mc.MetadataType {
	case MetadataTypeJSON:
		if mc.JSON == nil || mc.JSON.Path == "" {
			return fmt.Errorf("json metadata path is required when type is 'json'")
		}
		return nil
	case MetadataTypeBbolt:
		if mc.Bbolt == nil {
			return fmt.Errorf("bbolt configuration is required when type is 'bbolt'")
		}
		return mc.Bbolt.Validate()
	case MetadataTypeSQLite:
		if mc.SQLite == nil || mc.SQLite.Path == "" {
			return fmt.Errorf("sqlite metadata path is required when type is 'sqlite'")
		}
		return nil
	default:
		return fmt.Errorf("unsupported metadata type: %s", mc.MetadataType)
	}
}

// ApplyDefaults places the metadata file inside the database root unless a
// path was given explicitly.
func (mc *MetadataConfig) ApplyDefaults(database string) {
	if mc.MetadataType == "" {
		mc.MetadataType = MetadataTypeJSON
	}
	switch mc.MetadataType {
	case MetadataTypeJSON:
		if mc.JSON == nil {
			mc.JSON = &JSONConfig{}
		}
		if mc.JSON.Path == "" {
			mc.JSON.Path = filepath.Join(database, ".metadata.json")
		}
		if mc.JSON.Mode == 0 {
			mc.JSON.Mode = 0644
		}
	case MetadataTypeBbolt:
		if mc.Bbolt == nil {
			mc.Bbolt = &BboltConfig{}
		}
		if mc.Bbolt.Path == "" {
			mc.Bbolt.Path = filepath.Join(database, ".metadata.db")
		}
		mc.Bbolt.ApplyDefaults()
	case MetadataTypeSQLite:
		if mc.SQLite == nil {
			mc.SQLite = &SQLiteConfig{}
		}
		if mc.SQLite.Path == "" {
			mc.SQLite.Path = filepath.Join(database, ".metadata.sqlite")
		}
	}
}

func (bc *BboltConfig) Validate() error {
	if bc.Path == "" {
		return fmt.Errorf("bbolt path is required")
	}
	return nil
}

// ApplyDefaults sets default values if not provided for bbolt
func (bc *BboltConfig) ApplyDefaults() {
	if bc.Mode == 0 {
		bc.Mode = 0600 // Default file permission
	}
	// NoSync remains false by default for data safety
}

package config

import (
	"fmt"
	"strings"
	"time"
)

// SchedulerConfig controls the download worker pool
type SchedulerConfig struct {
	NumThreads      int `json:"num_threads" yaml:"num_threads" toml:"num_threads"`                                           // width of the fetch pool
	MaxAttempts     int `json:"max_attempts,omitempty" yaml:"max_attempts,omitempty" toml:"max_attempts,omitempty"`          // transport attempts per entry
	BackoffBaseMs   int `json:"backoff_base_ms,omitempty" yaml:"backoff_base_ms,omitempty" toml:"backoff_base_ms,omitempty"` // first retry delay
	BackoffMaxMs    int `json:"backoff_max_ms,omitempty" yaml:"backoff_max_ms,omitempty" toml:"backoff_max_ms,omitempty"`    // delay ceiling
	CheckpointEvery int `json:"checkpoint_every,omitempty" yaml:"checkpoint_every,omitempty" toml:"checkpoint_every,omitempty"`
}

func (sc *SchedulerConfig) ApplyDefaults() {
	if sc.NumThreads <= 0 {
		sc.NumThreads = 8
	}
	if sc.MaxAttempts <= 0 {
		sc.MaxAttempts = 3
	}
	if sc.BackoffBaseMs <= 0 {
		sc.BackoffBaseMs = 200
	}
	if sc.BackoffMaxMs <= 0 {
		sc.BackoffMaxMs = 10000
	}
	if sc.CheckpointEvery <= 0 {
		sc.CheckpointEvery = 100
	}
}

func (sc *SchedulerConfig) Validate() error {
	if sc.NumThreads < 0 {
		return fmt.Errorf("num_threads cannot be negative")
	}
	if sc.MaxAttempts < 0 {
		return fmt.Errorf("max_attempts cannot be negative")
	}
	if sc.BackoffMaxMs > 0 && sc.BackoffBaseMs > sc.BackoffMaxMs {
		return fmt.Errorf("backoff_base_ms cannot exceed backoff_max_ms")
	}
	return nil
}

func (sc *SchedulerConfig) BackoffBase() time.Duration {
	return time.Duration(sc.BackoffBaseMs) * time.Millisecond
}

func (sc *SchedulerConfig) BackoffMax() time.Duration {
	return time.Duration(sc.BackoffMaxMs) * time.Millisecond
}

// CatalogConfig controls which manifest rows become download entries
type CatalogConfig struct {
	AssemblyLevels         []string `json:"assembly_levels,omitempty" yaml:"assembly_levels,omitempty" toml:"assembly_levels,omitempty"`
	LatestOnly             bool     `json:"latest_only" yaml:"latest_only" toml:"latest_only"`
	IncludeAccession2TaxID bool     `json:"include_accession2taxid,omitempty" yaml:"include_accession2taxid,omitempty" toml:"include_accession2taxid,omitempty"`
	TaxonomyFiles          []string `json:"taxonomy_files,omitempty" yaml:"taxonomy_files,omitempty" toml:"taxonomy_files,omitempty"` // members extracted from taxdump.tar.gz
}

func (cc *CatalogConfig) ApplyDefaults() {
	if len(cc.AssemblyLevels) == 0 {
		cc.AssemblyLevels = []string{"Complete Genome", "Chromosome"}
	}
	if len(cc.TaxonomyFiles) == 0 {
		cc.TaxonomyFiles = []string{"names.dmp", "nodes.dmp"}
	}
}

// AnyAssemblyLevel in AssemblyLevels disables the level filter
const AnyAssemblyLevel = "all"

// Levels returns the assembly levels to filter on; nil keeps every level
func (cc *CatalogConfig) Levels() []string {
	for _, level := range cc.AssemblyLevels {
		if strings.EqualFold(level, AnyAssemblyLevel) {
			return nil
		}
	}
	return cc.AssemblyLevels
}

// MetricsConfig controls the optional prometheus textfile written after a run
type MetricsConfig struct {
	TextfilePath string `json:"textfile_path,omitempty" yaml:"textfile_path,omitempty" toml:"textfile_path,omitempty"`
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// AppConfig represents the complete application configuration
type AppConfig struct {
	Database  string          `json:"database" yaml:"database" toml:"database"` // root of the local library
	Transport TransportConfig `json:"transport" yaml:"transport" toml:"transport"`
	Metadata  MetadataConfig  `json:"metadata" yaml:"metadata" toml:"metadata"`
	Scheduler SchedulerConfig `json:"scheduler" yaml:"scheduler" toml:"scheduler"`
	Catalog   CatalogConfig   `json:"catalog" yaml:"catalog" toml:"catalog"`
	Metrics   MetricsConfig   `json:"metrics" yaml:"metrics" toml:"metrics"`
	Logger    LoggerConfig    `json:"logger" yaml:"logger" toml:"logger"`
}

// Validate validates the entire configuration
func (ac *AppConfig) Validate() error {
	if ac.Database == "" {
		return fmt.Errorf("database directory is required")
	}
	if err := ac.Transport.Validate(); err != nil {
		return fmt.Errorf("transport config error: %w", err)
	}
	if err := ac.Metadata.Validate(); err != nil {
		return fmt.Errorf("metadata config error: %w", err)
	}
	if err := ac.Scheduler.Validate(); err != nil {
		return fmt.Errorf("scheduler config error: %w", err)
	}
	if err := ac.Logger.Validate(); err != nil {
		return fmt.Errorf("logger config error: %w", err)
	}
	return nil
}

// ApplyDefaults applies default values to all components
func (ac *AppConfig) ApplyDefaults() {
	if ac.Database == "" {
		ac.Database = "lib"
	}
	ac.Transport.ApplyDefaults()
	ac.Metadata.ApplyDefaults(ac.Database)
	ac.Scheduler.ApplyDefaults()
	ac.Catalog.ApplyDefaults()
	ac.Logger.ApplyDefaults()
}

// LoadFromEnv loads configuration from environment variables.
// Defaults are not applied here so that CLI flags can still override
// values that depend on each other (the metadata path follows the database).
func LoadFromEnv() (*AppConfig, error) {
	cfg := &AppConfig{}

	cfg.Database = getEnv("NCBI_DATABASE", "lib")

	// Logger configuration
	cfg.Logger.Level = LogLevel(getEnv("LOG_LEVEL", string(LogLevelInfo)))
	cfg.Logger.Color = getEnvBool("LOG_COLOR", false)

	// Transport configuration
	cfg.Transport.TransportType = TransportType(getEnv("TRANSPORT_TYPE", string(TransportTypeHTTP)))
	cfg.Transport.Common.TimeoutSeconds = getEnvInt("TRANSPORT_TIMEOUT_SECONDS", 300)
	cfg.Transport.Common.MaxRPS = getEnvInt("TRANSPORT_MAX_RPS", 0)
	cfg.Transport.Common.MaxConnections = getEnvInt("TRANSPORT_MAX_CONNECTIONS", 0)

	cfg.Transport.HTTP = &HTTPConfig{
		BaseURL:   getEnv("HTTP_BASE_URL", DefaultArchiveURL),
		UserAgent: getEnv("HTTP_USER_AGENT", ""),
	}
	cfg.Transport.FTP = &FTPConfig{
		Host:     getEnv("FTP_HOST", "ftp.ncbi.nlm.nih.gov"),
		Port:     getEnvInt("FTP_PORT", 21),
		Username: getEnv("FTP_USERNAME", ""),
		Password: getEnv("FTP_PASSWORD", ""),
		UseTLS:   getEnvBool("FTP_USE_TLS", false),
	}
	cfg.Transport.S3 = &S3Config{
		Region:          getEnv("S3_REGION", ""),
		Bucket:          getEnv("S3_BUCKET", ""),
		Prefix:          getEnv("S3_PREFIX", ""),
		AccessKeyID:     getEnv("S3_ACCESS_KEY_ID", ""),
		SecretAccessKey: getEnv("S3_SECRET_ACCESS_KEY", ""),
		Endpoint:        getEnv("S3_ENDPOINT", ""),
	}

	// Metadata configuration
	cfg.Metadata.MetadataType = MetadataType(getEnv("METADATA_TYPE", string(MetadataTypeJSON)))
	cfg.Metadata.JSON = &JSONConfig{Path: getEnv("METADATA_JSON_PATH", "")}
	cfg.Metadata.Bbolt = &BboltConfig{
		Path:   getEnv("METADATA_BBOLT_PATH", ""),
		NoSync: getEnvBool("METADATA_BBOLT_NO_SYNC", false),
	}
	cfg.Metadata.SQLite = &SQLiteConfig{Path: getEnv("METADATA_SQLITE_PATH", "")}

	// Scheduler configuration
	cfg.Scheduler.NumThreads = getEnvInt("NUM_THREADS", 8)
	cfg.Scheduler.MaxAttempts = getEnvInt("MAX_ATTEMPTS", 3)
	cfg.Scheduler.BackoffBaseMs = getEnvInt("BACKOFF_BASE_MS", 200)
	cfg.Scheduler.BackoffMaxMs = getEnvInt("BACKOFF_MAX_MS", 10000)
	cfg.Scheduler.CheckpointEvery = getEnvInt("CHECKPOINT_EVERY", 100)

	// Catalog configuration
	cfg.Catalog.AssemblyLevels = getEnvList("CATALOG_ASSEMBLY_LEVELS")
	cfg.Catalog.LatestOnly = getEnvBool("CATALOG_LATEST_ONLY", true)
	cfg.Catalog.IncludeAccession2TaxID = getEnvBool("CATALOG_ACCESSION2TAXID", false)
	cfg.Catalog.TaxonomyFiles = getEnvList("TAXONOMY_FILES")

	cfg.Metrics.TextfilePath = getEnv("METRICS_TEXTFILE", "")

	return cfg, nil
}

// Helper functions for environment variables
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

// getEnvList reads a comma separated list; empty items are dropped
func getEnvList(key string) []string {
	return SplitList(os.Getenv(key))
}

// SplitList splits a comma separated value and trims each item
func SplitList(value string) []string {
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

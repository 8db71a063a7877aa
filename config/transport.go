// The transport configuration mirrors the archive access methods. Adding a new
// method means adding a TransportType, a section below and its validation.
package config

import (
	"fmt"
	"net/url"
)

// TransportType represents the protocol used to reach the archive
type TransportType string

const (
	TransportTypeHTTP TransportType = "http"
	TransportTypeFTP  TransportType = "ftp"
	TransportTypeS3   TransportType = "s3"
)

const DefaultArchiveURL = "https://ftp.ncbi.nlm.nih.gov"

// TransportConfig holds the configuration for archive access
type TransportConfig struct {
	TransportType TransportType `json:"type" yaml:"type" toml:"type"`

	// Common options for all transports
	Common CommonTransportConfig `json:"common,omitempty" yaml:"common,omitempty" toml:"common,omitempty"`

	// type-specific configurations
	HTTP *HTTPConfig `json:"http,omitempty" yaml:"http,omitempty" toml:"http,omitempty"`
	FTP  *FTPConfig  `json:"ftp,omitempty" yaml:"ftp,omitempty" toml:"ftp,omitempty"`
	S3   *S3Config   `json:"s3,omitempty" yaml:"s3,omitempty" toml:"s3,omitempty"`
}

// CommonTransportConfig contains settings shared by every transport
type CommonTransportConfig struct {
	TimeoutSeconds int `json:"timeout_seconds,omitempty" yaml:"timeout_seconds,omitempty" toml:"timeout_seconds,omitempty"` // per-attempt timeout
	MaxRPS         int `json:"max_rps,omitempty" yaml:"max_rps,omitempty" toml:"max_rps,omitempty"`                         // 0 means no limit
	MaxConnections int `json:"max_connections,omitempty" yaml:"max_connections,omitempty" toml:"max_connections,omitempty"` // idle pool size (ftp, http)
}

// HTTPConfig holds HTTP(S)-specific configuration
type HTTPConfig struct {
	BaseURL   string `json:"base_url" yaml:"base_url" toml:"base_url"`
	UserAgent string `json:"user_agent,omitempty" yaml:"user_agent,omitempty" toml:"user_agent,omitempty"`
}

// FTPConfig holds FTP-specific configuration
type FTPConfig struct {
	Host     string `json:"host" yaml:"host" toml:"host"`                                           // FTP server host
	Port     int    `json:"port" yaml:"port" toml:"port"`                                           // FTP server port (default: 21)
	Username string `json:"username" yaml:"username" toml:"username"`                               // FTP username (default: anonymous)
	Password string `json:"password,omitempty" yaml:"password,omitempty" toml:"password,omitempty"` // FTP password
	UseTLS   bool   `json:"use_tls,omitempty" yaml:"use_tls,omitempty" toml:"use_tls,omitempty"`    // Use FTPS (FTP over TLS)
}

// S3Config holds configuration for an S3-compatible mirror of the archive
type S3Config struct {
	Region          string `json:"region" yaml:"region" toml:"region"`
	Bucket          string `json:"bucket" yaml:"bucket" toml:"bucket"`
	Prefix          string `json:"prefix,omitempty" yaml:"prefix,omitempty" toml:"prefix,omitempty"` // key prefix the archive tree is stored under
	AccessKeyID     string `json:"access_key_id,omitempty" yaml:"access_key_id,omitempty" toml:"access_key_id,omitempty"`
	SecretAccessKey string `json:"secret_access_key,omitempty" yaml:"secret_access_key,omitempty" toml:"secret_access_key,omitempty"`
	Endpoint        string `json:"endpoint,omitempty" yaml:"endpoint,omitempty" toml:"endpoint,omitempty"` // For S3-compatible services
}

// Validate ensures the configuration is valid for the specified transport type
func (tc *TransportConfig) Validate() error {
	if err := tc.Common.Validate(); err != nil {
		return err
	}

	switch tc.TransportType {
	case TransportTypeHTTP:
		if tc.HTTP == nil {
			return fmt.Errorf("http configuration is required when type is 'http'")
		}
		return tc.HTTP.Validate()
	case TransportTypeFTP:
		if tc.FTP == nil {
			return fmt.Errorf("ftp configuration is required when type is 'ftp'")
		}
		return tc.FTP.Validate()
	case TransportTypeS3:
		if tc.S3 == nil {
			return fmt.Errorf("s3 configuration is required when type is 's3'")
		}
		return tc.S3.Validate()
	default:
		return fmt.Errorf("unsupported transport type: %s", tc.TransportType)
	}
}

// ApplyDefaults fills unset values for the common and active sections
func (tc *TransportConfig) ApplyDefaults() {
	if tc.TransportType == "" {
		tc.TransportType = TransportTypeHTTP
	}
	tc.Common.ApplyDefaults()
	switch tc.TransportType {
	case TransportTypeHTTP:
		if tc.HTTP == nil {
			tc.HTTP = &HTTPConfig{}
		}
		tc.HTTP.ApplyDefaults()
	case TransportTypeFTP:
		if tc.FTP == nil {
			tc.FTP = &FTPConfig{}
		}
		tc.FTP.ApplyDefaults()
	}
}

func (c *CommonTransportConfig) ApplyDefaults() {
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = 300
	}
	if c.MaxConnections <= 0 {
		c.MaxConnections = 8
	}
	// MaxRPS leave 0 (means no limit)
}

func (c *CommonTransportConfig) Validate() error {
	if c.TimeoutSeconds < 0 {
		return fmt.Errorf("timeout_seconds cannot be negative")
	}
	if c.MaxRPS < 0 {
		return fmt.Errorf("max_rps cannot be negative")
	}
	if c.MaxConnections < 0 {
		return fmt.Errorf("max_connections cannot be negative")
	}
	return nil
}

func (hc *HTTPConfig) ApplyDefaults() {
	if hc.BaseURL == "" {
		hc.BaseURL = DefaultArchiveURL
	}
	if hc.UserAgent == "" {
		hc.UserAgent = "ncbi-sync"
	}
}

func (hc *HTTPConfig) Validate() error {
	if hc.BaseURL == "" {
		return fmt.Errorf("http base url is required")
	}
	u, err := url.Parse(hc.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid http base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("http base url must use http or https, got %q", u.Scheme)
	}
	return nil
}

// ApplyDefaults sets default values for FTP configuration
func (fc *FTPConfig) ApplyDefaults() {
	if fc.Host == "" {
		fc.Host = "ftp.ncbi.nlm.nih.gov"
	}
	if fc.Port == 0 {
		fc.Port = 21 // Default FTP port
	}
	if fc.Username == "" {
		fc.Username = "anonymous"
		if fc.Password == "" {
			fc.Password = "anonymous@"
		}
	}
}

// Validate validates FTP configuration
func (fc *FTPConfig) Validate() error {
	if fc.Host == "" {
		return fmt.Errorf("ftp host is required")
	}
	if fc.Port <= 0 || fc.Port > 65535 {
		return fmt.Errorf("ftp port must be between 1 and 65535")
	}
	if fc.Username == "" {
		return fmt.Errorf("ftp username is required")
	}
	return nil
}

// Validate validates S3 configuration
func (s3c *S3Config) Validate() error {
	if s3c.Bucket == "" {
		return fmt.Errorf("s3 bucket is required")
	}
	if s3c.Endpoint == "" {
		return fmt.Errorf("s3 endpoint is required")
	}
	if (s3c.AccessKeyID == "") != (s3c.SecretAccessKey == "") {
		return fmt.Errorf("s3 access key and secret key must be set together")
	}
	return nil
}

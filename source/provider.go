package source

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/olegkotsar/ncbi-sync/config"
	"golang.org/x/time/rate"
)

// Transport reads files from the archive. Paths are relative to the archive
// host, e.g. "genomes/refseq/viral/assembly_summary.txt".
//
// Open performs a single attempt; retries belong to the caller (see RetryPolicy).
// The per-attempt timeout covers reading the body, so callers must Close the
// reader to release it.
type Transport interface {
	Open(ctx context.Context, remotePath string) (io.ReadCloser, error)
	Name() string
	Close() error
}

// CreateTransport creates a transport based on configuration
func CreateTransport(cfg *config.TransportConfig) (Transport, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid transport configuration: %w", err)
	}

	switch cfg.TransportType {
	case config.TransportTypeHTTP:
		return NewHTTPTransport(cfg.HTTP, &cfg.Common)
	case config.TransportTypeFTP:
		return NewFTPTransport(cfg.FTP, &cfg.Common)
	case config.TransportTypeS3:
		return NewS3Transport(cfg.S3, &cfg.Common)
	default:
		return nil, fmt.Errorf("unsupported transport type: %s", cfg.TransportType)
	}
}

// newLimiter returns nil when maxRPS is 0 (no limit)
func newLimiter(maxRPS int) *rate.Limiter {
	if maxRPS <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(maxRPS), maxRPS) // burst = MaxRPS
}

func waitLimiter(ctx context.Context, limiter *rate.Limiter) error {
	if limiter == nil {
		return nil
	}
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter error: %w", err)
	}
	return nil
}

// cleanPath strips leading slashes so every transport joins paths the same way
func cleanPath(remotePath string) string {
	return strings.TrimLeft(remotePath, "/")
}

// contextAwareReader wraps an io.ReadCloser and cancels the attempt context on close
type contextAwareReader struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (r *contextAwareReader) Close() error {
	defer r.cancel()
	return r.ReadCloser.Close()
}

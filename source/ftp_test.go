package source

import (
	"context"
	"fmt"
	"io"
	"os"
	"testing"

	"github.com/olegkotsar/ncbi-sync/config"
	"github.com/stretchr/testify/require"
)

// getFTPConfigFromEnv reads FTP configuration from environment variables for integration testing
func getFTPConfigFromEnv() *config.FTPConfig {
	host := os.Getenv("FTP_HOST")
	if host == "" {
		return nil
	}

	cfg := &config.FTPConfig{
		Host:     host,
		Username: os.Getenv("FTP_USERNAME"),
		Password: os.Getenv("FTP_PASSWORD"),
	}

	if port := os.Getenv("FTP_PORT"); port != "" {
		var p int
		if _, err := fmt.Sscanf(port, "%d", &p); err == nil {
			cfg.Port = p
		}
	}

	return cfg
}

func TestNewFTPTransport_InvalidConfig(t *testing.T) {
	tests := []struct {
		name         string
		ftpCfg       *config.FTPConfig
		commonCfg    *config.CommonTransportConfig
		errorMessage string
	}{
		{
			name:         "port out of range",
			ftpCfg:       &config.FTPConfig{Host: "localhost", Port: 70000},
			commonCfg:    &config.CommonTransportConfig{},
			errorMessage: "port",
		},
		{
			name:         "negative rps",
			ftpCfg:       &config.FTPConfig{Host: "localhost"},
			commonCfg:    &config.CommonTransportConfig{MaxRPS: -1},
			errorMessage: "max_rps",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewFTPTransport(tt.ftpCfg, tt.commonCfg)
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.errorMessage)
		})
	}
}

func TestFTPConfig_AnonymousDefaults(t *testing.T) {
	cfg := &config.FTPConfig{}
	cfg.ApplyDefaults()

	require.Equal(t, "ftp.ncbi.nlm.nih.gov", cfg.Host)
	require.Equal(t, 21, cfg.Port)
	require.Equal(t, "anonymous", cfg.Username)
	require.Equal(t, "anonymous@", cfg.Password)
	require.NoError(t, cfg.Validate())
}

func TestNewFTPTransport_Unreachable(t *testing.T) {
	// Port 1 on localhost is reserved and normally closed
	_, err := NewFTPTransport(
		&config.FTPConfig{Host: "127.0.0.1", Port: 1},
		&config.CommonTransportConfig{TimeoutSeconds: 2},
	)
	require.Error(t, err)
	require.ErrorIs(t, err, ErrTransport)
	require.True(t, IsTemporary(err))
}

func TestFTPTransport_Integration(t *testing.T) {
	cfg := getFTPConfigFromEnv()
	if cfg == nil {
		t.Skip("FTP_HOST not set, skipping integration test")
	}

	tr, err := NewFTPTransport(cfg, &config.CommonTransportConfig{MaxConnections: 2})
	require.NoError(t, err)
	defer tr.Close()

	ctx := context.Background()

	t.Run("read manifest", func(t *testing.T) {
		body, err := tr.Open(ctx, "genomes/refseq/viral/assembly_summary.txt")
		require.NoError(t, err)
		head := make([]byte, 1)
		_, err = io.ReadFull(body, head)
		require.NoError(t, err)
		require.NoError(t, body.Close())
		require.Equal(t, byte('#'), head[0])
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := tr.Open(ctx, "genomes/refseq/no_such_group/assembly_summary.txt")
		require.ErrorIs(t, err, ErrNotFound)
		require.False(t, IsTemporary(err))
	})

	t.Run("connections are reused", func(t *testing.T) {
		for i := 0; i < 5; i++ {
			body, err := tr.Open(ctx, "pub/taxonomy/taxdump.tar.gz.md5")
			require.NoError(t, err)
			_, err = io.Copy(io.Discard, body)
			require.NoError(t, err)
			require.NoError(t, body.Close())
		}
		require.LessOrEqual(t, len(tr.connPool), 2)
	})
}

package source

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/olegkotsar/ncbi-sync/config"
	"github.com/stretchr/testify/require"
)

func newTestHTTPTransport(t *testing.T, handler http.HandlerFunc, common *config.CommonTransportConfig) *HTTPTransport {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	if common == nil {
		common = &config.CommonTransportConfig{}
	}
	tr, err := NewHTTPTransport(&config.HTTPConfig{BaseURL: srv.URL + "/"}, common)
	require.NoError(t, err)
	t.Cleanup(func() { tr.Close() })
	return tr
}

func TestHTTPTransport_Open(t *testing.T) {
	var gotPath, gotAgent string
	tr := newTestHTTPTransport(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAgent = r.UserAgent()
		w.Write([]byte("abc"))
	}, nil)

	body, err := tr.Open(context.Background(), "/genomes/all/GCF/000/001/GCF_000001.1_x/md5checksums.txt")
	require.NoError(t, err)
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	require.NoError(t, body.Close())

	require.Equal(t, "abc", string(data))
	require.Equal(t, "/genomes/all/GCF/000/001/GCF_000001.1_x/md5checksums.txt", gotPath)
	require.Equal(t, "ncbi-sync", gotAgent)
}

func TestHTTPTransport_StatusClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		notFound  bool
		temporary bool
	}{
		{name: "not found", status: http.StatusNotFound, notFound: true},
		{name: "forbidden", status: http.StatusForbidden},
		{name: "unavailable", status: http.StatusServiceUnavailable, temporary: true},
		{name: "throttled", status: http.StatusTooManyRequests, temporary: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newTestHTTPTransport(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}, nil)

			_, err := tr.Open(context.Background(), "x")
			require.Error(t, err)
			require.ErrorIs(t, err, ErrTransport)
			require.Equal(t, tt.notFound, errors.Is(err, ErrNotFound))
			require.Equal(t, tt.temporary, IsTemporary(err))
		})
	}
}

func TestHTTPTransport_TimeoutIsTemporary(t *testing.T) {
	release := make(chan struct{})
	tr := newTestHTTPTransport(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}, &config.CommonTransportConfig{TimeoutSeconds: 1})
	defer close(release)

	_, err := tr.Open(context.Background(), "slow")
	require.Error(t, err)
	require.True(t, IsTemporary(err))
}

func TestHTTPTransport_CanceledIsNotTemporary(t *testing.T) {
	tr := newTestHTTPTransport(t, func(w http.ResponseWriter, r *http.Request) {}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := tr.Open(ctx, "x")
	require.Error(t, err)
	require.False(t, IsTemporary(err))
}

func TestHTTPTransport_RateLimit(t *testing.T) {
	var hits atomic.Int32
	tr := newTestHTTPTransport(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}, &config.CommonTransportConfig{MaxRPS: 2})

	start := time.Now()
	for i := 0; i < 4; i++ {
		body, err := tr.Open(context.Background(), "x")
		require.NoError(t, err)
		body.Close()
	}

	// burst of 2, then two more tokens at 2/s
	require.GreaterOrEqual(t, time.Since(start), 900*time.Millisecond)
	require.Equal(t, int32(4), hits.Load())
}

func TestNewHTTPTransport_InvalidBaseURL(t *testing.T) {
	_, err := NewHTTPTransport(&config.HTTPConfig{BaseURL: "ftp://ftp.ncbi.nlm.nih.gov"}, &config.CommonTransportConfig{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "http or https")
}

package source

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRetryPolicy_Backoff(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, BaseDelay: 200 * time.Millisecond, MaxDelay: time.Second}

	require.Equal(t, 200*time.Millisecond, p.Backoff(0))
	require.Equal(t, 400*time.Millisecond, p.Backoff(1))
	require.Equal(t, 800*time.Millisecond, p.Backoff(2))
	require.Equal(t, time.Second, p.Backoff(3))
	require.Equal(t, time.Second, p.Backoff(30))
}

func fastPolicy(attempts int) RetryPolicy {
	return RetryPolicy{MaxAttempts: attempts, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func TestRetryPolicy_Do(t *testing.T) {
	temporary := &Error{Op: "get", Path: "x", Temporary: true, Err: errors.New("reset")}
	permanent := &Error{Op: "get", Path: "x", Err: errors.New("forbidden")}

	t.Run("succeeds after temporary failures", func(t *testing.T) {
		calls := 0
		n, err := fastPolicy(3).Do(context.Background(), func(ctx context.Context, attempt int) error {
			require.Equal(t, calls, attempt)
			calls++
			if calls < 3 {
				return temporary
			}
			return nil
		})
		require.NoError(t, err)
		require.Equal(t, 3, n)
	})

	t.Run("stops on permanent error", func(t *testing.T) {
		calls := 0
		n, err := fastPolicy(5).Do(context.Background(), func(ctx context.Context, attempt int) error {
			calls++
			return permanent
		})
		require.ErrorIs(t, err, permanent)
		require.Equal(t, 1, n)
		require.Equal(t, 1, calls)
	})

	t.Run("gives up at the ceiling", func(t *testing.T) {
		calls := 0
		n, err := fastPolicy(4).Do(context.Background(), func(ctx context.Context, attempt int) error {
			calls++
			return temporary
		})
		require.Error(t, err)
		require.ErrorIs(t, err, ErrTransport)
		require.Contains(t, err.Error(), "all 4 attempts failed")
		require.Equal(t, 4, n)
		require.Equal(t, 4, calls)
	})

	t.Run("zero attempts means one", func(t *testing.T) {
		n, err := RetryPolicy{}.Do(context.Background(), func(ctx context.Context, attempt int) error {
			return temporary
		})
		require.Error(t, err)
		require.Equal(t, 1, n)
	})

	t.Run("canceled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		n, err := fastPolicy(3).Do(ctx, func(ctx context.Context, attempt int) error {
			return nil
		})
		require.ErrorIs(t, err, context.Canceled)
		require.Equal(t, 0, n)
	})
}

type flakyTransport struct {
	failures int
	body     string
	opens    int
}

func (f *flakyTransport) Open(ctx context.Context, remotePath string) (io.ReadCloser, error) {
	f.opens++
	if f.opens <= f.failures {
		return nil, &Error{Op: "get", Path: remotePath, Temporary: true, Err: errors.New("timeout")}
	}
	return io.NopCloser(strings.NewReader(f.body)), nil
}

func (f *flakyTransport) Name() string { return "flaky" }
func (f *flakyTransport) Close() error { return nil }

func TestFetchBytes(t *testing.T) {
	tr := &flakyTransport{failures: 2, body: "payload"}

	data, err := FetchBytes(context.Background(), tr, fastPolicy(3), "genomes/refseq/viral/assembly_summary.txt")
	require.NoError(t, err)
	require.Equal(t, "payload", string(data))
	require.Equal(t, 3, tr.opens)

	tr = &flakyTransport{failures: 5}
	_, err = FetchBytes(context.Background(), tr, fastPolicy(2), "x")
	require.Error(t, err)
	require.Equal(t, 2, tr.opens)
}

package source

import (
	"context"
	"fmt"
	"io"
	"time"
)

// RetryPolicy is a bounded exponential backoff: attempt i (0-based) is
// followed by a pause of BaseDelay*2^i capped at MaxDelay.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy mirrors the scheduler defaults
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts: 3,
	BaseDelay:   200 * time.Millisecond,
	MaxDelay:    10 * time.Second,
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts <= 0 {
		return 1
	}
	return p.MaxAttempts
}

// Backoff returns the pause after the given failed attempt
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 0; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Do runs fn until it succeeds, returns a non-temporary error, or the attempt
// ceiling is reached. It returns the number of attempts made.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) (int, error) {
	var lastErr error
	max := p.attempts()
	for i := 0; i < max; i++ {
		if err := ctx.Err(); err != nil {
			return i, err
		}

		err := fn(ctx, i)
		if err == nil {
			return i + 1, nil
		}
		lastErr = err
		if !IsTemporary(err) {
			return i + 1, err
		}
		if i == max-1 {
			break
		}

		select {
		case <-time.After(p.Backoff(i)):
		case <-ctx.Done():
			return i + 1, ctx.Err()
		}
	}
	return max, fmt.Errorf("all %d attempts failed: %w", max, lastErr)
}

// FetchBytes reads remotePath fully, retrying the whole open+read sequence
// under the policy. Meant for small files such as manifests.
func FetchBytes(ctx context.Context, t Transport, p RetryPolicy, remotePath string) ([]byte, error) {
	var data []byte
	_, err := p.Do(ctx, func(ctx context.Context, _ int) error {
		body, err := t.Open(ctx, remotePath)
		if err != nil {
			return err
		}
		defer body.Close()
		b, err := io.ReadAll(body)
		if err != nil {
			return classify("read", remotePath, err)
		}
		data = b
		return nil
	})
	return data, err
}

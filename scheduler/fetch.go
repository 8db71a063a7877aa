package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/olegkotsar/ncbi-sync/source"
)

// fsError wraps a local I/O failure. The cause is formatted, not wrapped:
// syscall.Errno satisfies net.Error and would otherwise look retryable.
func fsError(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrFilesystemWrite, op, err)
}

// trackingWriter remembers write errors so a failed copy can be attributed
// to the local disk rather than the transport
type trackingWriter struct {
	w   io.Writer
	err error
}

func (t *trackingWriter) Write(p []byte) (int, error) {
	n, err := t.w.Write(p)
	if err != nil {
		t.err = err
	}
	return n, err
}

// fetch downloads remotePath into local via a ".part" file that is renamed
// into place only after a complete transfer. It returns the number of
// transport attempts and the bytes written by the successful one.
func (s *Scheduler) fetch(ctx context.Context, remotePath, local string) (int, int64, error) {
	part := local + partSuffix
	var written int64

	attempts, err := s.opts.Retry.Do(ctx, func(ctx context.Context, attempt int) error {
		if attempt > 0 {
			s.logger.Debug("retrying %s (attempt %d)", remotePath, attempt+1)
		}

		body, err := s.transport.Open(ctx, remotePath)
		if err != nil {
			return err
		}
		defer body.Close()

		f, err := os.OpenFile(part, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
		if err != nil {
			return fsError("create", err)
		}

		tw := &trackingWriter{w: f}
		n, err := io.Copy(tw, body)
		if err != nil {
			f.Close()
			os.Remove(part)
			if tw.err != nil {
				return fsError("write", tw.err)
			}
			return &source.Error{Op: "read", Path: remotePath, Temporary: !errors.Is(ctx.Err(), context.Canceled), Err: err}
		}
		if err := f.Sync(); err != nil {
			f.Close()
			os.Remove(part)
			return fsError("sync", err)
		}
		if err := f.Close(); err != nil {
			os.Remove(part)
			return fsError("close", err)
		}
		written = n
		return nil
	})
	if err != nil {
		return attempts, 0, err
	}

	if err := os.Rename(part, local); err != nil {
		os.Remove(part)
		return attempts, written, fsError("rename", err)
	}
	return attempts, written, nil
}

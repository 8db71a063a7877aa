// Package checksum computes and compares the MD5 digests NCBI publishes in
// md5checksums.txt and *.md5 files.
package checksum

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
)

// Outcome is the result class of a verification.
type Outcome int

const (
	Match Outcome = iota
	Mismatch
	ReadError
)

func (o Outcome) String() string {
	switch o {
	case Match:
		return "match"
	case Mismatch:
		return "mismatch"
	case ReadError:
		return "read_error"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result describes one verification. Actual is empty on ReadError.
type Result struct {
	Outcome Outcome
	Actual  string
	Err     error
}

// Codec computes digests. The zero value is ready to use.
type Codec struct{}

// Digest returns the lowercase hex MD5 of b.
func (Codec) Digest(b []byte) string {
	sum := md5.Sum(b)
	return hex.EncodeToString(sum[:])
}

// DigestReader hashes everything read from r.
func (Codec) DigestReader(r io.Reader) (string, error) {
	h := md5.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// DigestFile hashes the file at path.
func (c Codec) DigestFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return c.DigestReader(f)
}

// Verify compares the digest of localPath with expected. Read failures are
// reported as ReadError and never retried here.
func (c Codec) Verify(localPath, expected string) Result {
	actual, err := c.DigestFile(localPath)
	if err != nil {
		return Result{Outcome: ReadError, Err: fmt.Errorf("failed to read %s: %w", localPath, err)}
	}
	if Equal(actual, expected) {
		return Result{Outcome: Match, Actual: actual}
	}
	return Result{Outcome: Mismatch, Actual: actual}
}

// Equal compares two hex digests ignoring case and surrounding whitespace.
// An empty digest never equals anything.
func Equal(a, b string) bool {
	a = strings.TrimSpace(a)
	b = strings.TrimSpace(b)
	if a == "" || b == "" {
		return false
	}
	return strings.EqualFold(a, b)
}

// Package testutils holds an in-memory archive shared by package tests.
package testutils

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/olegkotsar/ncbi-sync/source"
)

var _ source.Transport = (*MemoryTransport)(nil)

// MemoryTransport serves files from memory and records how it was used.
// A path can be given several versions; successive opens walk through them
// and the last version repeats.
type MemoryTransport struct {
	mu       sync.Mutex
	files    map[string][][]byte
	failures map[string]int
	opens    map[string]int
	served   map[string]int
	inFlight int
	peak     int

	// Delay is slept (honoring ctx) before every open succeeds
	Delay time.Duration
}

func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{
		files:    make(map[string][][]byte),
		failures: make(map[string]int),
		opens:    make(map[string]int),
		served:   make(map[string]int),
	}
}

// Put stores one or more versions of a file
func (m *MemoryTransport) Put(remotePath string, versions ...[]byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[remotePath] = versions
}

// PutString is Put for text content
func (m *MemoryTransport) PutString(remotePath, content string) {
	m.Put(remotePath, []byte(content))
}

// Remove makes the path answer not found
func (m *MemoryTransport) Remove(remotePath string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, remotePath)
}

// FailNext makes the next n opens of remotePath fail with a temporary error
func (m *MemoryTransport) FailNext(remotePath string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[remotePath] = n
}

// Opens returns how many times remotePath was opened, failures included
func (m *MemoryTransport) Opens(remotePath string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opens[remotePath]
}

// TotalOpens returns the number of opens across all paths
func (m *MemoryTransport) TotalOpens() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, n := range m.opens {
		total += n
	}
	return total
}

// PeakInFlight returns the highest number of concurrently open readers
func (m *MemoryTransport) PeakInFlight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.peak
}

// ResetCounters clears open counts and the in-flight peak
func (m *MemoryTransport) ResetCounters() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opens = make(map[string]int)
	m.served = make(map[string]int)
	m.peak = m.inFlight
}

func (m *MemoryTransport) Name() string { return "memory" }

func (m *MemoryTransport) Close() error { return nil }

func (m *MemoryTransport) Open(ctx context.Context, remotePath string) (io.ReadCloser, error) {
	m.mu.Lock()
	m.opens[remotePath]++
	m.inFlight++
	if m.inFlight > m.peak {
		m.peak = m.inFlight
	}
	if m.failures[remotePath] > 0 {
		m.failures[remotePath]--
		m.inFlight--
		m.mu.Unlock()
		return nil, &source.Error{Op: "get", Path: remotePath, Temporary: true, Err: errors.New("connection reset by peer")}
	}
	versions, ok := m.files[remotePath]
	idx := m.served[remotePath]
	if ok {
		m.served[remotePath]++
	}
	m.mu.Unlock()

	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			m.done()
			return nil, ctx.Err()
		}
	}

	if !ok || len(versions) == 0 {
		m.done()
		return nil, &source.Error{Op: "get", Path: remotePath, Err: fmt.Errorf("%w: %s", source.ErrNotFound, remotePath)}
	}
	if idx >= len(versions) {
		idx = len(versions) - 1
	}
	return &memoryReader{Reader: bytes.NewReader(versions[idx]), done: m.done}, nil
}

func (m *MemoryTransport) done() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inFlight--
}

type memoryReader struct {
	*bytes.Reader
	done func()
	once sync.Once
}

func (r *memoryReader) Close() error {
	r.once.Do(r.done)
	return nil
}

// Package scheduler downloads and verifies a catalog snapshot into the local
// library with a fixed-width worker pool, recording every outcome in the
// metadata store.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/olegkotsar/ncbi-sync/cache"
	"github.com/olegkotsar/ncbi-sync/checksum"
	"github.com/olegkotsar/ncbi-sync/config"
	"github.com/olegkotsar/ncbi-sync/logger"
	"github.com/olegkotsar/ncbi-sync/metrics"
	"github.com/olegkotsar/ncbi-sync/model"
	"github.com/olegkotsar/ncbi-sync/source"
)

var (
	// ErrDigestMismatch marks entries whose content still disagreed with the
	// published digest after the one allowed re-fetch
	ErrDigestMismatch = errors.New("digest mismatch")
	// ErrFilesystemWrite marks local write failures; they are never retried
	ErrFilesystemWrite = errors.New("filesystem write failed")
)

const (
	partSuffix       = ".part"
	progressInterval = 5 * time.Second
)

// Options sizes the pool and the retry behaviour
type Options struct {
	NumThreads      int
	Retry           source.RetryPolicy
	CheckpointEvery int // flush the store every N completed entries; 0 disables
}

// OptionsFromConfig converts the scheduler section of the app config
func OptionsFromConfig(cfg *config.SchedulerConfig) Options {
	return Options{
		NumThreads: cfg.NumThreads,
		Retry: source.RetryPolicy{
			MaxAttempts: cfg.MaxAttempts,
			BaseDelay:   cfg.BackoffBase(),
			MaxDelay:    cfg.BackoffMax(),
		},
		CheckpointEvery: cfg.CheckpointEvery,
	}
}

// Job is one catalog snapshot to bring in sync. Site and Group are the store
// scope; LocalDir is relative to DatabaseRoot.
type Job struct {
	Site         string
	Group        string
	Entries      []model.RemoteEntry
	LocalDir     string
	DatabaseRoot string
}

// LocalPath returns the on-disk location of an entry
func (j Job) LocalPath(e model.RemoteEntry) string {
	return filepath.Join(j.DatabaseRoot, filepath.FromSlash(j.relPath(e)))
}

func (j Job) relPath(e model.RemoteEntry) string {
	return path.Join(filepath.ToSlash(j.LocalDir), path.Base(e.RemotePath))
}

// Summary is the outcome of one Run or Verify call
type Summary struct {
	Site            string
	Group           string
	Total           int
	Skipped         int // already verified, nothing to do
	Adopted         int // existing local file matched, no download
	Verified        int
	Fetched         int
	Mismatched      int
	Failed          int
	Missing         int // verify mode: no local file
	Canceled        int
	FailedPaths     []string
	MismatchedPaths []string
	Bytes           int64
}

func (s *Summary) String() string {
	sizeMB := float64(s.Bytes) / (1024 * 1024)
	return fmt.Sprintf("%s/%s: total=%d, skipped=%d, adopted=%d, verified=%d, fetched=%d, mismatched=%d, failed=%d, missing=%d, downloaded=%d bytes (%.2f MB)",
		s.Site, s.Group, s.Total, s.Skipped, s.Adopted, s.Verified, s.Fetched, s.Mismatched, s.Failed, s.Missing, s.Bytes, sizeMB)
}

// OK reports whether nothing failed or mismatched
func (s *Summary) OK() bool {
	return s.Failed == 0 && s.Mismatched == 0 && s.Canceled == 0
}

// Codec hashes local files; checksum.Codec is the production implementation
type Codec interface {
	DigestFile(path string) (string, error)
	Verify(localPath, expected string) checksum.Result
}

type Scheduler struct {
	store     *cache.Store
	transport source.Transport
	codec     Codec
	opts      Options
	logger    logger.Logger
	metrics   *metrics.Metrics
}

func New(store *cache.Store, transport source.Transport, codec Codec, opts Options, log logger.Logger, m *metrics.Metrics) *Scheduler {
	if opts.NumThreads <= 0 {
		opts.NumThreads = 1
	}
	return &Scheduler{
		store:     store,
		transport: transport,
		codec:     codec,
		opts:      opts,
		logger:    logger.OrNoOp(log).With("component", "scheduler"),
		metrics:   m,
	}
}

// result is what a worker reports back to the collector
type result struct {
	entry    model.RemoteEntry
	state    model.State
	digest   string
	attempts int
	bytes    int64
	adopted  bool
	canceled bool
	err      error
}

// Run computes the work set and downloads it. Per-entry failures are recorded
// in the store and the summary; the returned error is reserved for
// cancellation and for failures that affect the whole job.
func (s *Scheduler) Run(ctx context.Context, job Job) (*Summary, error) {
	log := s.logger.WithFields(map[string]interface{}{"site": job.Site, "group": job.Group})
	summary := &Summary{Site: job.Site, Group: job.Group, Total: len(job.Entries)}

	if err := os.MkdirAll(filepath.Join(job.DatabaseRoot, job.LocalDir), 0755); err != nil {
		return summary, fsError("create directory", err)
	}

	var work []model.RemoteEntry
	for _, e := range job.Entries {
		rec, ok := s.store.Get(job.Site, job.Group, e.RemotePath)
		if !needsWork(e, rec, ok, fileExists(job.LocalPath(e))) {
			summary.Skipped++
			s.metrics.ObserveFile(job.Site, job.Group, metrics.OutcomeSkipped)
			continue
		}
		work = append(work, e)
	}

	log.Info("%d of %d entries need work", len(work), len(job.Entries))
	if len(work) == 0 {
		return summary, s.flush(log)
	}

	for _, e := range work {
		rec := s.record(job, e, model.StateFetching, "", 0)
		if err := s.store.Upsert(job.Site, job.Group, rec); err != nil {
			return summary, fmt.Errorf("mark %s fetching: %w", e.RemotePath, err)
		}
	}

	err := s.runPool(ctx, log, job, work, summary, s.process)
	return summary, err
}

// Verify re-hashes the local files of every entry without touching the
// network: match becomes verified, mismatch becomes mismatched and a missing
// file becomes pending.
func (s *Scheduler) Verify(ctx context.Context, job Job) (*Summary, error) {
	log := s.logger.WithFields(map[string]interface{}{"site": job.Site, "group": job.Group, "mode": "verify"})
	summary := &Summary{Site: job.Site, Group: job.Group, Total: len(job.Entries)}
	if len(job.Entries) == 0 {
		return summary, s.flush(log)
	}
	err := s.runPool(ctx, log, job, job.Entries, summary, s.verifyLocal)
	return summary, err
}

// needsWork decides membership of the work set
func needsWork(e model.RemoteEntry, rec model.LocalRecord, ok bool, exists bool) bool {
	if !ok || rec.State.Retryable() {
		return true
	}
	switch rec.State {
	case model.StateVerified:
		if e.Verifiable() && !checksum.Equal(rec.LastDigest, e.ExpectedDigest) {
			return true
		}
		return !exists
	case model.StateFetched:
		// a digest published since the download gets checked
		return e.Verifiable() || !exists
	}
	return true
}

func (s *Scheduler) record(job Job, e model.RemoteEntry, state model.State, digest string, attempts int) model.LocalRecord {
	return model.LocalRecord{
		Name:       e.Name,
		RemotePath: e.RemotePath,
		LocalPath:  job.relPath(e),
		State:      state,
		LastDigest: digest,
		Attempts:   uint32(attempts),
	}
}

// runPool feeds entries to NumThreads workers and collects results on the
// calling goroutine, which is the only writer of the store for the job.
func (s *Scheduler) runPool(
	ctx context.Context,
	log logger.Logger,
	job Job,
	entries []model.RemoteEntry,
	summary *Summary,
	work func(ctx context.Context, log logger.Logger, job Job, e model.RemoteEntry) result,
) error {
	jobs := make(chan model.RemoteEntry, len(entries))
	results := make(chan result, len(entries))

	workerCount := s.opts.NumThreads
	if workerCount > len(entries) {
		workerCount = len(entries)
	}

	log.Debug("Starting %d workers for %d entries", workerCount, len(entries))

	var wg sync.WaitGroup
	for w := 0; w < workerCount; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for e := range jobs {
				if ctx.Err() != nil {
					results <- result{entry: e, state: model.StatePending, canceled: true, err: ctx.Err()}
					continue
				}
				log.Verbose("[Worker %d] processing %s", workerID, e.Name)
				results <- work(ctx, log, job, e)
			}
		}(w)
	}

	for _, e := range entries {
		jobs <- e
	}
	close(jobs)

	total := int64(len(entries))
	var processed int64

	progressCtx, progressCancel := context.WithCancel(ctx)
	defer progressCancel()
	go func() {
		ticker := time.NewTicker(progressInterval)
		defer ticker.Stop()
		for {
			select {
			case <-progressCtx.Done():
				return
			case <-ticker.C:
				done := atomic.LoadInt64(&processed)
				if done > 0 && done < total {
					log.Info("progress: %d/%d entries (%.1f%%)", done, total, float64(done)/float64(total)*100)
				}
			}
		}
	}()

	for i := 0; i < len(entries); i++ {
		r := <-results
		s.collect(log, job, summary, r)
		completed := atomic.AddInt64(&processed, 1)

		if s.opts.CheckpointEvery > 0 && completed%int64(s.opts.CheckpointEvery) == 0 {
			if err := s.flush(log); err != nil {
				log.Warn("checkpoint failed: %v", err)
			}
		}
	}
	wg.Wait()

	sort.Strings(summary.FailedPaths)
	sort.Strings(summary.MismatchedPaths)

	if err := s.flush(log); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return nil
}

func (s *Scheduler) flush(log logger.Logger) error {
	if err := s.store.Flush(); err != nil {
		log.Error("failed to flush metadata: %v", err)
		return err
	}
	s.metrics.Checkpoint()
	return nil
}

// collect applies one result to the store and the summary
func (s *Scheduler) collect(log logger.Logger, job Job, summary *Summary, r result) {
	// a verified record always holds the digest the catalog published
	if r.state == model.StateVerified && !checksum.Equal(r.digest, r.entry.ExpectedDigest) {
		r.state = model.StateMismatched
		r.err = fmt.Errorf("%w: %s: verified digest %q differs from published %q", ErrDigestMismatch, r.entry.RemotePath, r.digest, r.entry.ExpectedDigest)
	}

	rec := s.record(job, r.entry, r.state, r.digest, r.attempts)
	if err := s.store.Upsert(job.Site, job.Group, rec); err != nil {
		log.Error("failed to record %s: %v", r.entry.RemotePath, err)
	}

	s.metrics.AddAttempts(job.Site, job.Group, r.attempts)
	s.metrics.AddBytes(job.Site, job.Group, r.bytes)
	summary.Bytes += r.bytes

	switch {
	case r.canceled:
		summary.Canceled++
		return
	case r.adopted:
		summary.Adopted++
		s.metrics.ObserveFile(job.Site, job.Group, metrics.OutcomeAdopted)
	}

	switch r.state {
	case model.StateVerified:
		summary.Verified++
		if !r.adopted {
			s.metrics.ObserveFile(job.Site, job.Group, metrics.OutcomeVerified)
		}
		log.Verbose("verified %s", r.entry.Name)
	case model.StateFetched:
		summary.Fetched++
		s.metrics.ObserveFile(job.Site, job.Group, metrics.OutcomeFetched)
		log.Debug("fetched %s without a published digest", r.entry.Name)
	case model.StateMismatched:
		summary.Mismatched++
		summary.MismatchedPaths = append(summary.MismatchedPaths, r.entry.RemotePath)
		s.metrics.ObserveFile(job.Site, job.Group, metrics.OutcomeMismatched)
		log.Warn("%s: %v", r.entry.Name, r.err)
	case model.StateFailed:
		summary.Failed++
		summary.FailedPaths = append(summary.FailedPaths, r.entry.RemotePath)
		s.metrics.ObserveFile(job.Site, job.Group, metrics.OutcomeFailed)
		log.Error("%s failed after %d attempts: %v", r.entry.Name, r.attempts, r.err)
	case model.StatePending:
		summary.Missing++
		log.Debug("%s has no local file", r.entry.Name)
	}
}

// process handles one entry of the work set
func (s *Scheduler) process(ctx context.Context, log logger.Logger, job Job, e model.RemoteEntry) result {
	done := s.metrics.FetchStarted(job.Site, job.Group)
	defer done()

	local := job.LocalPath(e)

	// a file written before an interrupted run may already be complete
	if e.Verifiable() && fileExists(local) {
		if res := s.codec.Verify(local, e.ExpectedDigest); res.Outcome == checksum.Match {
			return result{entry: e, state: model.StateVerified, digest: res.Actual, adopted: true}
		}
	}

	r := result{entry: e}
	for round := 0; ; round++ {
		n, written, err := s.fetch(ctx, e.RemotePath, local)
		r.attempts += n
		r.bytes += written
		if err != nil {
			if ctx.Err() != nil {
				r.state, r.canceled, r.err = model.StatePending, true, ctx.Err()
				return r
			}
			r.state, r.err = model.StateFailed, err
			return r
		}

		if !e.Verifiable() {
			// keep the digest of what was fetched for later comparison
			digest, err := s.codec.DigestFile(local)
			if err != nil {
				r.state, r.err = model.StateFailed, fsError("read", err)
				return r
			}
			r.state, r.digest = model.StateFetched, digest
			return r
		}

		res := s.codec.Verify(local, e.ExpectedDigest)
		switch res.Outcome {
		case checksum.Match:
			r.state, r.digest = model.StateVerified, res.Actual
			return r
		case checksum.Mismatch:
			if round == 0 {
				log.Warn("digest mismatch for %s (got %s, want %s), fetching again", e.Name, res.Actual, e.ExpectedDigest)
				continue
			}
			r.state = model.StateMismatched
			r.err = fmt.Errorf("%w: %s: got %s, want %s", ErrDigestMismatch, e.RemotePath, res.Actual, strings.ToLower(e.ExpectedDigest))
			return r
		default:
			r.state, r.err = model.StateFailed, fsError("verify", res.Err)
			return r
		}
	}
}

// verifyLocal checks one entry against its local file only
func (s *Scheduler) verifyLocal(ctx context.Context, log logger.Logger, job Job, e model.RemoteEntry) result {
	local := job.LocalPath(e)
	if !fileExists(local) {
		return result{entry: e, state: model.StatePending}
	}
	if !e.Verifiable() {
		digest, err := s.codec.DigestFile(local)
		if err != nil {
			return result{entry: e, state: model.StateFailed, err: fsError("read", err)}
		}
		return result{entry: e, state: model.StateFetched, digest: digest}
	}

	res := s.codec.Verify(local, e.ExpectedDigest)
	switch res.Outcome {
	case checksum.Match:
		return result{entry: e, state: model.StateVerified, digest: res.Actual}
	case checksum.Mismatch:
		return result{entry: e, state: model.StateMismatched, digest: res.Actual,
			err: fmt.Errorf("%w: %s: got %s, want %s", ErrDigestMismatch, e.RemotePath, res.Actual, e.ExpectedDigest)}
	default:
		return result{entry: e, state: model.StateFailed, err: fsError("verify", res.Err)}
	}
}

func fileExists(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular()
}

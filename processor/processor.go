// Package processor drives a multi-group run: for every requested group it
// dispatches the selected mode to the catalog, scheduler and aggregator, and
// checkpoints the metadata store between groups.
package processor

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/olegkotsar/ncbi-sync/aggregator"
	"github.com/olegkotsar/ncbi-sync/cache"
	"github.com/olegkotsar/ncbi-sync/catalog"
	"github.com/olegkotsar/ncbi-sync/checksum"
	"github.com/olegkotsar/ncbi-sync/config"
	"github.com/olegkotsar/ncbi-sync/logger"
	"github.com/olegkotsar/ncbi-sync/metrics"
	"github.com/olegkotsar/ncbi-sync/model"
	"github.com/olegkotsar/ncbi-sync/scheduler"
	"github.com/olegkotsar/ncbi-sync/source"
	"github.com/olegkotsar/ncbi-sync/taxonomy"
)

type Runner struct {
	store        *cache.Store
	catalog      *catalog.Catalog
	scheduler    *scheduler.Scheduler
	aggregator   *aggregator.Aggregator
	taxonomy     *taxonomy.Fetcher
	databaseRoot string
	logger       logger.Logger
	metrics      *metrics.Metrics
}

// NewRunner wires the pipeline components from an already defaulted config
func NewRunner(store *cache.Store, transport source.Transport, cfg *config.AppConfig, log logger.Logger, m *metrics.Metrics) *Runner {
	log = logger.OrNoOp(log)
	opts := scheduler.OptionsFromConfig(&cfg.Scheduler)

	cat := catalog.New(transport, catalog.Options{
		Filter: catalog.Filter{
			AssemblyLevels: cfg.Catalog.Levels(),
			LatestOnly:     cfg.Catalog.LatestOnly,
		},
		IncludeAccession2TaxID: cfg.Catalog.IncludeAccession2TaxID,
		Concurrency:            cfg.Scheduler.NumThreads,
		Retry:                  opts.Retry,
	}, log)
	sched := scheduler.New(store, transport, checksum.Codec{}, opts, log, m)

	return &Runner{
		store:        store,
		catalog:      cat,
		scheduler:    sched,
		aggregator:   aggregator.New(store, log),
		taxonomy:     taxonomy.New(cat, sched, store, cfg.Catalog.TaxonomyFiles, log),
		databaseRoot: cfg.Database,
		logger:       log,
		metrics:      m,
	}
}

// LibraryDir is the group's directory below the database root. It keeps the
// group's own name even when the remote path is translated.
func LibraryDir(site model.Site, group model.Group) string {
	return path.Join("library", string(group), string(site))
}

// GroupResult is the outcome of one group. Summary is set for acquire, verify
// and full; Report for aggregate and full.
type GroupResult struct {
	Site     model.Site
	Group    model.Group
	Mode     model.Mode
	Summary  *scheduler.Summary
	Report   *aggregator.Report
	Duration time.Duration
	Err      error
}

// OK reports whether the group finished without errors or failed entries
func (g *GroupResult) OK() bool {
	return g.Err == nil && (g.Summary == nil || g.Summary.OK())
}

// RunGroups processes groups one after another. A group whose catalog is
// unavailable is recorded and the next group proceeds. The store is flushed
// after every group. The returned error joins the per-group errors.
func (r *Runner) RunGroups(ctx context.Context, site model.Site, groups []model.Group, mode model.Mode) ([]GroupResult, error) {
	r.logger.Info("Starting %s run for %d group(s) on %s", mode, len(groups), site)

	var (
		results []GroupResult
		errs    []error
	)
	for _, group := range groups {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		start := time.Now()
		res := r.runGroup(ctx, site, group, mode)
		res.Duration = time.Since(start)
		results = append(results, res)
		r.metrics.GroupCompleted(string(site), string(group), string(mode), res.OK())

		if err := r.store.Flush(); err != nil {
			r.logger.Error("failed to flush metadata after %s: %v", group, err)
			errs = append(errs, err)
		}

		r.logResult(res)
		if res.Err != nil {
			errs = append(errs, fmt.Errorf("%s/%s: %w", site, group, res.Err))
			if errors.Is(res.Err, context.Canceled) {
				break
			}
		}
	}

	if err := r.store.Flush(); err != nil {
		errs = append(errs, err)
	}
	return results, errors.Join(errs...)
}

func (r *Runner) runGroup(ctx context.Context, site model.Site, group model.Group, mode model.Mode) GroupResult {
	res := GroupResult{Site: site, Group: group, Mode: mode}

	entries, err := r.catalog.ListGroup(ctx, site, group)
	if err != nil {
		if mode != model.ModeAggregate || !errors.Is(err, catalog.ErrCatalogUnavailable) {
			res.Err = err
			return res
		}
		// aggregation only needs what is already on disk
		r.logger.Warn("catalog for %s/%s unavailable, aggregating from metadata: %v", site, group, err)
		entries = r.entriesFromStore(site, group)
	}

	job := scheduler.Job{
		Site:         string(site),
		Group:        string(group),
		Entries:      entries,
		LocalDir:     LibraryDir(site, group),
		DatabaseRoot: r.databaseRoot,
	}

	switch mode {
	case model.ModeAcquire, model.ModeFull:
		res.Summary, res.Err = r.scheduler.Run(ctx, job)
	case model.ModeVerify:
		res.Summary, res.Err = r.scheduler.Verify(ctx, job)
	}
	if res.Err != nil || (mode != model.ModeAggregate && mode != model.ModeFull) {
		return res
	}

	res.Report, res.Err = r.aggregator.Aggregate(ctx, aggregator.Job{
		Site:         job.Site,
		Group:        job.Group,
		Entries:      entries,
		LibraryDir:   job.LocalDir,
		DatabaseRoot: r.databaseRoot,
	})
	return res
}

// entriesFromStore rebuilds a catalog snapshot from the group's records
func (r *Runner) entriesFromStore(site model.Site, group model.Group) []model.RemoteEntry {
	records := r.store.Group(string(site), string(group))
	entries := make([]model.RemoteEntry, 0, len(records))
	for remotePath, rec := range records {
		name := rec.Name
		if name == "" {
			name = strings.TrimSuffix(path.Base(remotePath), "_genomic.fna.gz")
		}
		entries = append(entries, model.RemoteEntry{
			Name:           name,
			RemotePath:     remotePath,
			ExpectedDigest: rec.LastDigest,
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries
}

func (r *Runner) logResult(res GroupResult) {
	log := r.logger.WithFields(map[string]interface{}{"site": res.Site, "group": res.Group, "mode": res.Mode})
	if res.Err != nil {
		log.Error("group failed after %s: %v", res.Duration.Round(time.Millisecond), res.Err)
	}
	if s := res.Summary; s != nil {
		log.Info("%s", s)
		for _, p := range s.FailedPaths {
			log.Warn("failed: %s", p)
		}
		for _, p := range s.MismatchedPaths {
			log.Warn("mismatched: %s", p)
		}
	}
	if rep := res.Report; rep != nil {
		log.Info("library %s: %d included, %d omitted", rep.Output, len(rep.Included), len(rep.Omitted))
		if len(rep.Omitted) > 0 {
			names := make([]string, len(rep.Omitted))
			for i, o := range rep.Omitted {
				names[i] = o.Name
			}
			log.Warn("omitted organisms: %s", strings.Join(names, ", "))
		}
	}
}

// RunTaxonomy fetches the taxonomy dump and flushes the store
func (r *Runner) RunTaxonomy(ctx context.Context, site model.Site) (*scheduler.Summary, error) {
	r.logger.Info("Starting taxonomy download")
	summary, err := r.taxonomy.Run(ctx, r.databaseRoot, site)
	ok := err == nil && summary != nil && summary.OK()
	r.metrics.GroupCompleted(cache.TaxonomySite, cache.TaxonomyGroup, string(model.ModeAcquire), ok)

	if ferr := r.store.Flush(); ferr != nil {
		return summary, errors.Join(err, ferr)
	}
	if err != nil {
		return summary, err
	}
	r.logger.Info("taxonomy ready in %s", path.Join(r.databaseRoot, taxonomy.Dir))
	return summary, nil
}

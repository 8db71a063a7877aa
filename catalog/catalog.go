// Package catalog lists the files the archive publishes for a group or for
// the taxonomy dump, together with their published digests.
package catalog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"sort"

	"github.com/olegkotsar/ncbi-sync/logger"
	"github.com/olegkotsar/ncbi-sync/model"
	"github.com/olegkotsar/ncbi-sync/source"
	"golang.org/x/sync/errgroup"
)

// ErrCatalogUnavailable is returned when a group manifest cannot be fetched
// or parsed. It is fatal for the group, not for the run.
var ErrCatalogUnavailable = errors.New("catalog unavailable")

const (
	summaryFile   = "assembly_summary.txt"
	checksumsFile = "md5checksums.txt"
	genomicSuffix = "_genomic.fna.gz"

	taxonomyRoot = "pub/taxonomy"
)

// Options controls filtering and the checksum fan-out
type Options struct {
	Filter                 Filter
	IncludeAccession2TaxID bool
	Concurrency            int // parallel md5checksums.txt fetches
	Retry                  source.RetryPolicy
}

type Catalog struct {
	transport source.Transport
	opts      Options
	logger    logger.Logger
}

func New(transport source.Transport, opts Options, log logger.Logger) *Catalog {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	return &Catalog{
		transport: transport,
		opts:      opts,
		logger:    logger.OrNoOp(log).With("component", "catalog"),
	}
}

// SummaryPath is the manifest location of a group
func SummaryPath(site model.Site, group model.Group) string {
	return path.Join(site.Root(), group.RemotePath(), summaryFile)
}

// ListGroup returns the group's entries sorted by name. Entries whose digest
// could not be found keep an empty ExpectedDigest.
func (c *Catalog) ListGroup(ctx context.Context, site model.Site, group model.Group) ([]model.RemoteEntry, error) {
	log := c.logger.WithFields(map[string]interface{}{"site": site, "group": group})
	summary := SummaryPath(site, group)

	log.Debug("fetching %s", summary)
	data, err := source.FetchBytes(ctx, c.transport, c.opts.Retry, summary)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrCatalogUnavailable, summary, err)
	}

	entries, err := ParseAssemblySummary(bytes.NewReader(data), c.opts.Filter)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCatalogUnavailable, summary, err)
	}

	if err := c.attachDigests(ctx, entries); err != nil {
		return nil, err
	}

	unverifiable := 0
	for _, e := range entries {
		if !e.Verifiable() {
			unverifiable++
		}
	}
	if unverifiable > 0 {
		log.Warn("%d of %d entries have no published digest", unverifiable, len(entries))
	}
	log.Info("catalog listed %d entries", len(entries))

	sortByName(entries)
	return entries, nil
}

// attachDigests fetches every assembly directory's checksum listing with
// bounded concurrency. A listing that cannot be fetched leaves the digest
// empty; only cancellation fails the call.
func (c *Catalog) attachDigests(ctx context.Context, entries []model.RemoteEntry) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Concurrency)

	for i := range entries {
		i := i
		g.Go(func() error {
			listing := path.Join(path.Dir(entries[i].RemotePath), checksumsFile)
			data, err := source.FetchBytes(gctx, c.transport, c.opts.Retry, listing)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				c.logger.Debug("no checksum listing for %s: %v", entries[i].Name, err)
				return nil
			}
			sums, err := ParseChecksums(bytes.NewReader(data))
			if err != nil {
				c.logger.Debug("unreadable checksum listing %s: %v", listing, err)
				return nil
			}
			entries[i].ExpectedDigest = sums[path.Base(entries[i].RemotePath)]
			return nil
		})
	}
	return g.Wait()
}

// ListTaxonomy returns the fixed taxonomy work set. The dump lives outside the
// genome sites, so site does not change it. Every file needs a published
// digest; without one the set is unusable and ErrCatalogUnavailable is returned.
func (c *Catalog) ListTaxonomy(ctx context.Context, site model.Site) ([]model.RemoteEntry, error) {
	files := []string{path.Join(taxonomyRoot, "taxdump.tar.gz")}
	if c.opts.IncludeAccession2TaxID {
		files = append(files,
			path.Join(taxonomyRoot, "accession2taxid", "nucl_gb.accession2taxid.gz"),
			path.Join(taxonomyRoot, "accession2taxid", "nucl_wgs.accession2taxid.gz"),
		)
	}

	entries := make([]model.RemoteEntry, len(files))
	for i, f := range files {
		entries[i] = model.RemoteEntry{Name: path.Base(f), RemotePath: f}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Concurrency)
	for i := range entries {
		i := i
		g.Go(func() error {
			digestPath := entries[i].RemotePath + ".md5"
			data, err := source.FetchBytes(gctx, c.transport, c.opts.Retry, digestPath)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				return fmt.Errorf("%w: %s: %w", ErrCatalogUnavailable, digestPath, err)
			}
			sums, err := ParseChecksums(bytes.NewReader(data))
			if err != nil {
				return fmt.Errorf("%w: %s: %w", ErrCatalogUnavailable, digestPath, err)
			}
			digest, ok := sums[entries[i].Name]
			if !ok {
				return fmt.Errorf("%w: %s has no line for %s", ErrCatalogUnavailable, digestPath, entries[i].Name)
			}
			entries[i].ExpectedDigest = digest
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	c.logger.With("site", site).Debug("taxonomy work set has %d files", len(entries))
	sortByName(entries)
	return entries, nil
}

func sortByName(entries []model.RemoteEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Name < entries[j].Name
	})
}

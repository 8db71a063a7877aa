// Package taxonomy downloads the NCBI taxonomy dump and extracts the files
// classifiers need from it. The dump is usable only as a whole.
package taxonomy

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/pgzip"
	"github.com/olegkotsar/ncbi-sync/cache"
	"github.com/olegkotsar/ncbi-sync/catalog"
	"github.com/olegkotsar/ncbi-sync/logger"
	"github.com/olegkotsar/ncbi-sync/model"
	"github.com/olegkotsar/ncbi-sync/scheduler"
)

// ErrTaxonomyIncomplete is returned when any file of the dump is not verified
// or an expected member is missing from the archive
var ErrTaxonomyIncomplete = errors.New("taxonomy incomplete")

const (
	// Dir is the taxonomy directory below the database root
	Dir         = "taxonomy"
	dumpArchive = "taxdump.tar.gz"
)

// DefaultFiles are extracted when no list is configured
var DefaultFiles = []string{"names.dmp", "nodes.dmp"}

type Fetcher struct {
	catalog   *catalog.Catalog
	scheduler *scheduler.Scheduler
	store     *cache.Store
	files     []string
	logger    logger.Logger
}

func New(cat *catalog.Catalog, sched *scheduler.Scheduler, store *cache.Store, files []string, log logger.Logger) *Fetcher {
	if len(files) == 0 {
		files = DefaultFiles
	}
	return &Fetcher{
		catalog:   cat,
		scheduler: sched,
		store:     store,
		files:     files,
		logger:    logger.OrNoOp(log).With("component", "taxonomy"),
	}
}

// Run fetches and verifies the dump into <databaseRoot>/taxonomy and extracts
// the configured members next to it.
func (f *Fetcher) Run(ctx context.Context, databaseRoot string, site model.Site) (*scheduler.Summary, error) {
	entries, err := f.catalog.ListTaxonomy(ctx, site)
	if err != nil {
		return nil, err
	}

	job := scheduler.Job{
		Site:         cache.TaxonomySite,
		Group:        cache.TaxonomyGroup,
		Entries:      entries,
		LocalDir:     Dir,
		DatabaseRoot: databaseRoot,
	}
	summary, err := f.scheduler.Run(ctx, job)
	if err != nil {
		return summary, err
	}
	f.logger.Info("%s", summary)

	var incomplete []string
	for _, e := range entries {
		rec, ok := f.store.Get(cache.TaxonomySite, cache.TaxonomyGroup, e.RemotePath)
		if !ok || rec.State != model.StateVerified {
			state := "missing"
			if ok {
				state = rec.State.String()
			}
			incomplete = append(incomplete, fmt.Sprintf("%s (%s)", e.Name, state))
		}
	}
	if len(incomplete) > 0 {
		return summary, fmt.Errorf("%w: %s", ErrTaxonomyIncomplete, strings.Join(incomplete, ", "))
	}

	for _, e := range entries {
		if e.Name != dumpArchive {
			continue
		}
		archive := job.LocalPath(e)
		if err := f.extract(archive, filepath.Dir(archive)); err != nil {
			return summary, err
		}
	}
	return summary, nil
}

// extract writes the wanted members of a .tar.gz archive into dir. Each
// member goes through a temporary file and a rename. Members already newer
// than the archive are left alone.
func (f *Fetcher) extract(archive, dir string) error {
	if f.upToDate(archive, dir) {
		f.logger.Debug("extracted files are up to date")
		return nil
	}

	file, err := os.Open(archive)
	if err != nil {
		return fmt.Errorf("open %s: %w", archive, err)
	}
	defer file.Close()

	zr, err := pgzip.NewReader(file)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrTaxonomyIncomplete, archive, err)
	}
	defer zr.Close()

	wanted := make(map[string]bool, len(f.files))
	for _, name := range f.files {
		wanted[name] = true
	}

	tr := tar.NewReader(zr)
	for len(wanted) > 0 {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("%w: read %s: %v", ErrTaxonomyIncomplete, archive, err)
		}
		name := path.Base(hdr.Name)
		if hdr.Typeflag != tar.TypeReg || !wanted[name] {
			continue
		}
		if err := writeAtomic(filepath.Join(dir, name), tr); err != nil {
			return fmt.Errorf("extract %s: %w", name, err)
		}
		delete(wanted, name)
		f.logger.Debug("extracted %s", name)
	}

	if len(wanted) > 0 {
		var missing []string
		for _, name := range f.files {
			if wanted[name] {
				missing = append(missing, name)
			}
		}
		return fmt.Errorf("%w: %s lacks %s", ErrTaxonomyIncomplete, archive, strings.Join(missing, ", "))
	}
	return nil
}

func (f *Fetcher) upToDate(archive, dir string) bool {
	src, err := os.Stat(archive)
	if err != nil {
		return false
	}
	for _, name := range f.files {
		dst, err := os.Stat(filepath.Join(dir, name))
		if err != nil || dst.ModTime().Before(src.ModTime()) {
			return false
		}
	}
	return true
}

func writeAtomic(dst string, r io.Reader) (retErr error) {
	tmp, err := os.CreateTemp(filepath.Dir(dst), filepath.Base(dst)+".*.tmp")
	if err != nil {
		return err
	}
	defer func() {
		if retErr != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if _, err := io.Copy(tmp, r); err != nil {
		return err
	}
	if err := tmp.Chmod(0644); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dst)
}

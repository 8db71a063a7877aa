// Package aggregator merges the verified sequence files of a group into one
// library file, in catalog name order.
package aggregator

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/pgzip"
	"github.com/olegkotsar/ncbi-sync/cache"
	"github.com/olegkotsar/ncbi-sync/logger"
	"github.com/olegkotsar/ncbi-sync/model"
)

const (
	OutputFile = "library.fna"
	ReportFile = "library.report.json"
)

// Omission reasons
const (
	ReasonNotDownloaded = "not downloaded"
	ReasonMissingFile   = "missing local file"
)

// Job names the group to merge. LibraryDir is relative to DatabaseRoot and
// receives the output and report files.
type Job struct {
	Site         string
	Group        string
	Entries      []model.RemoteEntry
	LibraryDir   string
	DatabaseRoot string
}

type Included struct {
	Name      string `json:"name"`
	Organism  string `json:"organism,omitempty"`
	TaxID     string `json:"taxid,omitempty"`
	LocalPath string `json:"local_path"`
}

type Omitted struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// Report is regenerated on every run next to the output
type Report struct {
	Site     string     `json:"site"`
	Group    string     `json:"group"`
	Output   string     `json:"output"`
	Bytes    int64      `json:"bytes"`
	Included []Included `json:"included"`
	Omitted  []Omitted  `json:"omitted"`
}

type Aggregator struct {
	store  *cache.Store
	logger logger.Logger
}

func New(store *cache.Store, log logger.Logger) *Aggregator {
	return &Aggregator{store: store, logger: logger.OrNoOp(log).With("component", "aggregator")}
}

// Aggregate rewrites <LibraryDir>/library.fna from scratch. Entries that are
// not verified, or whose file is gone, are omitted and reported.
func (a *Aggregator) Aggregate(ctx context.Context, job Job) (*Report, error) {
	log := a.logger.WithFields(map[string]interface{}{"site": job.Site, "group": job.Group})

	entries := append([]model.RemoteEntry(nil), job.Entries...)
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })

	libDir := filepath.Join(job.DatabaseRoot, filepath.FromSlash(job.LibraryDir))
	if err := os.MkdirAll(libDir, 0755); err != nil {
		return nil, fmt.Errorf("create library directory: %w", err)
	}

	report := &Report{
		Site:     job.Site,
		Group:    job.Group,
		Output:   path.Join(filepath.ToSlash(job.LibraryDir), OutputFile),
		Included: []Included{},
		Omitted:  []Omitted{},
	}

	var sources []string
	for _, e := range entries {
		rec, ok := a.store.Get(job.Site, job.Group, e.RemotePath)
		reason := ""
		switch {
		case !ok:
			reason = ReasonNotDownloaded
		case rec.State != model.StateVerified:
			reason = "state=" + rec.State.String()
		case !isRegular(filepath.Join(job.DatabaseRoot, filepath.FromSlash(rec.LocalPath))):
			reason = ReasonMissingFile
		}
		if reason != "" {
			report.Omitted = append(report.Omitted, Omitted{Name: e.Name, Reason: reason})
			log.Warn("omitting %s: %s", e.Name, reason)
			continue
		}
		report.Included = append(report.Included, Included{
			Name:      e.Name,
			Organism:  e.Organism,
			TaxID:     e.TaxID,
			LocalPath: rec.LocalPath,
		})
		sources = append(sources, filepath.Join(job.DatabaseRoot, filepath.FromSlash(rec.LocalPath)))
	}

	n, err := writeMerged(ctx, filepath.Join(libDir, OutputFile), sources)
	if err != nil {
		return nil, err
	}
	report.Bytes = n

	if err := writeReport(filepath.Join(libDir, ReportFile), report); err != nil {
		return nil, err
	}

	if len(report.Included) == 0 {
		log.Warn("library is empty, no verified entries")
	}
	log.Info("merged %d entries into %s (%d omitted, %d bytes)", len(report.Included), report.Output, len(report.Omitted), n)
	return report, nil
}

// writeMerged concatenates sources into dst through a temporary file
func writeMerged(ctx context.Context, dst string, sources []string) (n int64, retErr error) {
	tmp, err := os.CreateTemp(filepath.Dir(dst), filepath.Base(dst)+".*.tmp")
	if err != nil {
		return 0, fmt.Errorf("create output: %w", err)
	}
	defer func() {
		if retErr != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	bw := bufio.NewWriterSize(tmp, 1<<20)
	out := &tailWriter{w: bw}
	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if err := appendFile(out, src); err != nil {
			return 0, fmt.Errorf("append %s: %w", filepath.Base(src), err)
		}
		// keep record boundaries between files
		if out.n > 0 && out.last != '\n' {
			if _, err := out.Write([]byte{'\n'}); err != nil {
				return 0, err
			}
		}
	}

	if err := bw.Flush(); err != nil {
		return 0, err
	}
	if err := tmp.Sync(); err != nil {
		return 0, err
	}
	if err := tmp.Chmod(0644); err != nil {
		return 0, err
	}
	if err := tmp.Close(); err != nil {
		return 0, err
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return 0, err
	}
	return out.n, nil
}

func appendFile(w io.Writer, src string) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(src, ".gz") {
		zr, err := pgzip.NewReader(f)
		if err != nil {
			return err
		}
		defer zr.Close()
		r = zr
	}
	_, err = io.Copy(w, r)
	return err
}

// tailWriter counts bytes and remembers the last one written
type tailWriter struct {
	w    io.Writer
	n    int64
	last byte
}

func (t *tailWriter) Write(p []byte) (int, error) {
	n, err := t.w.Write(p)
	if n > 0 {
		t.n += int64(n)
		t.last = p[n-1]
	}
	return n, err
}

func writeReport(dst string, report *Report) (retErr error) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
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
	if _, err := tmp.Write(append(data, '\n')); err != nil {
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

func isRegular(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular()
}

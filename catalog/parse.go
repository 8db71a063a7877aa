package catalog

import (
	"bufio"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/olegkotsar/ncbi-sync/model"
)

// assembly_summary.txt columns
const (
	colAccession     = 0
	colTaxID         = 5
	colOrganism      = 7
	colVersionStatus = 10
	colAssemblyLevel = 11
	colFTPPath       = 19

	minColumns = colFTPPath + 1
)

// Filter selects manifest rows
type Filter struct {
	AssemblyLevels []string // empty means any level
	LatestOnly     bool
}

// DefaultFilter keeps complete genomes and chromosomes of the latest version
var DefaultFilter = Filter{
	AssemblyLevels: []string{"Complete Genome", "Chromosome"},
	LatestOnly:     true,
}

func (f Filter) accept(fields []string) bool {
	if f.LatestOnly && fields[colVersionStatus] != "latest" {
		return false
	}
	if len(f.AssemblyLevels) == 0 {
		return true
	}
	for _, level := range f.AssemblyLevels {
		if fields[colAssemblyLevel] == level {
			return true
		}
	}
	return false
}

func newScanner(r io.Reader) *bufio.Scanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	return sc
}

// ParseAssemblySummary reads a tab separated manifest. Comment lines start
// with '#'. A manifest with data lines of which none has the expected column
// count is rejected; individual short lines are skipped. Later duplicates of a
// remote path are dropped.
func ParseAssemblySummary(r io.Reader, f Filter) ([]model.RemoteEntry, error) {
	var (
		entries   []model.RemoteEntry
		seen      = make(map[string]bool)
		dataLines int
		malformed int
	)

	sc := newScanner(r)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		dataLines++

		fields := strings.Split(line, "\t")
		if len(fields) < minColumns {
			malformed++
			continue
		}
		if !f.accept(fields) {
			continue
		}

		ftpPath := strings.TrimSpace(fields[colFTPPath])
		if ftpPath == "" || ftpPath == "na" {
			continue
		}
		dir, err := hostRelative(ftpPath)
		if err != nil {
			malformed++
			continue
		}

		name := path.Base(dir)
		remotePath := dir + "/" + name + genomicSuffix
		if seen[remotePath] {
			continue
		}
		seen[remotePath] = true

		entries = append(entries, model.RemoteEntry{
			Name:       name,
			RemotePath: remotePath,
			TaxID:      fields[colTaxID],
			Organism:   fields[colOrganism],
		})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	if dataLines > 0 && malformed == dataLines {
		return nil, fmt.Errorf("no parsable lines in manifest (%d malformed)", malformed)
	}
	return entries, nil
}

// hostRelative turns "https://ftp.ncbi.nlm.nih.gov/genomes/all/GCF/..." into
// "genomes/all/GCF/...". Paths without a scheme are returned cleaned.
func hostRelative(ftpPath string) (string, error) {
	p := ftpPath
	if strings.Contains(ftpPath, "://") {
		u, err := url.Parse(ftpPath)
		if err != nil {
			return "", err
		}
		p = u.Path
	}
	p = strings.Trim(path.Clean("/"+p), "/")
	if p == "" {
		return "", fmt.Errorf("empty path in %q", ftpPath)
	}
	return p, nil
}

// ParseChecksums reads "<md5>  ./<file>" lines into a map keyed by file name.
// The leading "./" (or any directory part) is dropped.
func ParseChecksums(r io.Reader) (map[string]string, error) {
	sums := make(map[string]string)
	sc := newScanner(r)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 2 {
			continue
		}
		file := strings.TrimPrefix(fields[len(fields)-1], "*")
		sums[path.Base(file)] = strings.ToLower(fields[0])
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read checksums: %w", err)
	}
	return sums, nil
}

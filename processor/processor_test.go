package processor

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/pgzip"
	"github.com/stretchr/testify/require"

	"github.com/olegkotsar/ncbi-sync/cache"
	"github.com/olegkotsar/ncbi-sync/catalog"
	"github.com/olegkotsar/ncbi-sync/checksum"
	"github.com/olegkotsar/ncbi-sync/config"
	"github.com/olegkotsar/ncbi-sync/metrics"
	"github.com/olegkotsar/ncbi-sync/model"
	"github.com/olegkotsar/ncbi-sync/testutils"
)

// archive builds a fake NCBI tree in memory
type archive struct {
	t  *testing.T
	tr *testutils.MemoryTransport
	// uncompressed sequence text per assembly name
	sequences map[string]string
}

func newArchive(t *testing.T) *archive {
	return &archive{t: t, tr: testutils.NewMemoryTransport(), sequences: make(map[string]string)}
}

func gzipped(t *testing.T, s string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := pgzip.NewWriter(&buf)
	_, err := zw.Write([]byte(s))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

// publish adds a group manifest with the named assemblies
func (a *archive) publish(site model.Site, group model.Group, names ...string) {
	var lines []string
	for _, name := range names {
		dir := "genomes/all/GCF/" + name
		cols := make([]string, 22)
		for i := range cols {
			cols[i] = "na"
		}
		cols[0] = name
		cols[5] = "1"
		cols[7] = "Organism " + name
		cols[10] = "latest"
		cols[11] = "Complete Genome"
		cols[19] = "https://ftp.ncbi.nlm.nih.gov/" + dir
		lines = append(lines, strings.Join(cols, "\t"))

		seq := fmt.Sprintf(">%s\nACGT\n", name)
		body := gzipped(a.t, seq)
		a.sequences[name] = seq
		file := name + "_genomic.fna.gz"
		a.tr.Put(dir+"/"+file, body)
		a.tr.PutString(dir+"/md5checksums.txt", checksum.Codec{}.Digest(body)+"  ./"+file+"\n")
	}
	a.tr.PutString(catalog.SummaryPath(site, group), "# header\n"+strings.Join(lines, "\n")+"\n")
}

type countingBackend struct {
	saves int
}

func (b *countingBackend) Load() (cache.Document, error) { return cache.Document{}, nil }
func (b *countingBackend) Save(cache.Document) error      { b.saves++; return nil }
func (b *countingBackend) Close() error                   { return nil }

func newTestRunner(t *testing.T, a *archive) (*Runner, *cache.Store, *countingBackend, string) {
	t.Helper()
	root := t.TempDir()
	cfg := &config.AppConfig{
		Database: root,
		Scheduler: config.SchedulerConfig{
			NumThreads:    4,
			MaxAttempts:   2,
			BackoffBaseMs: 1,
			BackoffMaxMs:  2,
		},
		Catalog: config.CatalogConfig{LatestOnly: true},
	}
	cfg.ApplyDefaults()

	backend := &countingBackend{}
	store := cache.NewStore(backend)
	return NewRunner(store, a.tr, cfg, nil, metrics.New()), store, backend, root
}

func TestLibraryDir(t *testing.T) {
	require.Equal(t, "library/human/refseq", LibraryDir(model.SiteRefSeq, model.GroupHuman))
	require.Equal(t, "library/viral/genbank", LibraryDir(model.SiteGenBank, model.GroupViral))
}

func TestRunGroups_Acquire(t *testing.T) {
	a := newArchive(t)
	a.publish(model.SiteRefSeq, model.GroupViral, "GCF_2", "GCF_1")
	r, store, backend, root := newTestRunner(t, a)

	results, err := r.RunGroups(context.Background(), model.SiteRefSeq, []model.Group{model.GroupViral}, model.ModeAcquire)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.True(t, results[0].OK())
	require.Equal(t, 2, results[0].Summary.Verified)
	require.Nil(t, results[0].Report)

	require.FileExists(t, filepath.Join(root, "library/viral/refseq/GCF_1_genomic.fna.gz"))
	require.NoFileExists(t, filepath.Join(root, "library/viral/refseq", "library.fna"))
	require.Len(t, store.Group("refseq", "viral"), 2)
	// scheduler drain, after the group, at the end
	require.GreaterOrEqual(t, backend.saves, 2)
}

func TestRunGroups_HumanPathTranslation(t *testing.T) {
	a := newArchive(t)
	a.publish(model.SiteRefSeq, model.GroupHuman, "GCF_000001405.40_GRCh38.p14")
	r, store, _, root := newTestRunner(t, a)

	results, err := r.RunGroups(context.Background(), model.SiteRefSeq, []model.Group{model.GroupHuman}, model.ModeAcquire)
	require.NoError(t, err)
	require.Equal(t, 1, results[0].Summary.Verified)

	require.Equal(t, 1, a.tr.Opens("genomes/refseq/vertebrate_mammalian/Homo_sapiens/assembly_summary.txt"))
	require.Equal(t, 0, a.tr.Opens("genomes/refseq/human/assembly_summary.txt"))
	require.FileExists(t, filepath.Join(root, "library", "human", "refseq", "GCF_000001405.40_GRCh38.p14_genomic.fna.gz"))
	require.Len(t, store.Group("refseq", "human"), 1)
	require.Empty(t, store.Group("refseq", "vertebrate_mammalian/Homo_sapiens"))
}

func TestRunGroups_CatalogUnavailableDoesNotAbort(t *testing.T) {
	a := newArchive(t)
	a.publish(model.SiteRefSeq, model.GroupViral, "GCF_1")
	r, _, _, _ := newTestRunner(t, a)

	groups := []model.Group{model.GroupFungi, model.GroupViral}
	results, err := r.RunGroups(context.Background(), model.SiteRefSeq, groups, model.ModeAcquire)
	require.Error(t, err)
	require.ErrorIs(t, err, catalog.ErrCatalogUnavailable)
	require.Contains(t, err.Error(), "refseq/fungi")

	require.Len(t, results, 2)
	require.ErrorIs(t, results[0].Err, catalog.ErrCatalogUnavailable)
	require.False(t, results[0].OK())
	require.NoError(t, results[1].Err)
	require.Equal(t, 1, results[1].Summary.Verified)
}

func TestRunGroups_Full(t *testing.T) {
	a := newArchive(t)
	a.publish(model.SiteGenBank, model.GroupArchaea, "GCA_3", "GCA_1", "GCA_2")
	r, _, _, root := newTestRunner(t, a)

	results, err := r.RunGroups(context.Background(), model.SiteGenBank, []model.Group{model.GroupArchaea}, model.ModeFull)
	require.NoError(t, err)
	require.Equal(t, 3, results[0].Summary.Verified)
	require.Len(t, results[0].Report.Included, 3)

	data, err := os.ReadFile(filepath.Join(root, "library/archaea/genbank/library.fna"))
	require.NoError(t, err)
	require.Equal(t, a.sequences["GCA_1"]+a.sequences["GCA_2"]+a.sequences["GCA_3"], string(data))
}

func TestRunGroups_IdempotentAcquire(t *testing.T) {
	a := newArchive(t)
	a.publish(model.SiteRefSeq, model.GroupBacteria, "GCF_1", "GCF_2", "GCF_3")
	r, store, _, _ := newTestRunner(t, a)
	groups := []model.Group{model.GroupBacteria}

	_, err := r.RunGroups(context.Background(), model.SiteRefSeq, groups, model.ModeAcquire)
	require.NoError(t, err)
	first := store.Snapshot()

	a.tr.ResetCounters()
	results, err := r.RunGroups(context.Background(), model.SiteRefSeq, groups, model.ModeAcquire)
	require.NoError(t, err)
	require.Equal(t, 3, results[0].Summary.Skipped)
	require.Equal(t, first, store.Snapshot())
	for _, name := range []string{"GCF_1", "GCF_2", "GCF_3"} {
		require.Equal(t, 0, a.tr.Opens("genomes/all/GCF/"+name+"/"+name+"_genomic.fna.gz"))
	}
}

func TestRunGroups_VerifyUsesNoDownloads(t *testing.T) {
	a := newArchive(t)
	a.publish(model.SiteRefSeq, model.GroupPlant, "GCF_1", "GCF_2")
	r, store, _, root := newTestRunner(t, a)
	groups := []model.Group{model.GroupPlant}

	_, err := r.RunGroups(context.Background(), model.SiteRefSeq, groups, model.ModeAcquire)
	require.NoError(t, err)

	local := filepath.Join(root, "library/plant/refseq/GCF_2_genomic.fna.gz")
	require.NoError(t, os.WriteFile(local, []byte("corrupted"), 0644))
	a.tr.ResetCounters()

	results, err := r.RunGroups(context.Background(), model.SiteRefSeq, groups, model.ModeVerify)
	require.NoError(t, err)
	require.Equal(t, 1, results[0].Summary.Verified)
	require.Equal(t, 1, results[0].Summary.Mismatched)
	require.False(t, results[0].OK())
	require.Equal(t, 0, a.tr.Opens("genomes/all/GCF/GCF_2/GCF_2_genomic.fna.gz"))

	rec, ok := store.Get("refseq", "plant", "genomes/all/GCF/GCF_2/GCF_2_genomic.fna.gz")
	require.True(t, ok)
	require.Equal(t, model.StateMismatched, rec.State)
}

func TestRunGroups_AggregateFallsBackToMetadata(t *testing.T) {
	a := newArchive(t)
	a.publish(model.SiteRefSeq, model.GroupProtozoa, "GCF_2", "GCF_1")
	r, _, _, root := newTestRunner(t, a)
	groups := []model.Group{model.GroupProtozoa}

	_, err := r.RunGroups(context.Background(), model.SiteRefSeq, groups, model.ModeAcquire)
	require.NoError(t, err)

	a.tr.Remove(catalog.SummaryPath(model.SiteRefSeq, model.GroupProtozoa))
	results, err := r.RunGroups(context.Background(), model.SiteRefSeq, groups, model.ModeAggregate)
	require.NoError(t, err)
	require.Nil(t, results[0].Summary)
	require.Len(t, results[0].Report.Included, 2)
	require.Equal(t, "GCF_1", results[0].Report.Included[0].Name)

	data, err := os.ReadFile(filepath.Join(root, "library/protozoa/refseq/library.fna"))
	require.NoError(t, err)
	require.Equal(t, a.sequences["GCF_1"]+a.sequences["GCF_2"], string(data))
}

func TestRunGroups_Canceled(t *testing.T) {
	a := newArchive(t)
	a.publish(model.SiteRefSeq, model.GroupViral, "GCF_1")
	r, _, _, _ := newTestRunner(t, a)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	results, err := r.RunGroups(ctx, model.SiteRefSeq, []model.Group{model.GroupViral, model.GroupFungi}, model.ModeAcquire)
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, results)
}

func TestRunTaxonomy(t *testing.T) {
	a := newArchive(t)
	a.tr.PutString("pub/taxonomy/taxdump.tar.gz.md5", "0cc175b9c0f1b6a831c399e269772661  taxdump.tar.gz\n")
	r, store, _, _ := newTestRunner(t, a)

	// digest published, archive missing
	_, err := r.RunTaxonomy(context.Background(), model.SiteRefSeq)
	require.Error(t, err)

	rec, ok := store.Get(cache.TaxonomySite, cache.TaxonomyGroup, "pub/taxonomy/taxdump.tar.gz")
	require.True(t, ok)
	require.Equal(t, model.StateFailed, rec.State)
}

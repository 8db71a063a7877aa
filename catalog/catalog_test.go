package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/olegkotsar/ncbi-sync/model"
	"github.com/olegkotsar/ncbi-sync/source"
	"github.com/olegkotsar/ncbi-sync/testutils"
	"github.com/stretchr/testify/require"
)

// summaryLine builds a 23 column manifest row
func summaryLine(accession, taxid, organism, status, level, ftpPath string) string {
	cols := make([]string, 23)
	for i := range cols {
		cols[i] = "na"
	}
	cols[colAccession] = accession
	cols[colTaxID] = taxid
	cols[colOrganism] = organism
	cols[colVersionStatus] = status
	cols[colAssemblyLevel] = level
	cols[colFTPPath] = ftpPath
	return strings.Join(cols, "\t")
}

const (
	dirA = "genomes/all/GCF/000/001/GCF_000001.1_ASM1v1"
	dirB = "genomes/all/GCF/000/002/GCF_000002.1_ASM2v1"
	dirC = "genomes/all/GCF/000/003/GCF_000003.1_ASM3v1"
)

func testManifest() string {
	return strings.Join([]string{
		"#   See ftp://ftp.ncbi.nlm.nih.gov/genomes/README_assembly_summary.txt for a description of the columns in this file.",
		"# assembly_accession\tbioproject\t...",
		summaryLine("GCF_000002.1", "11", "Virus two", "latest", "Complete Genome", "https://ftp.ncbi.nlm.nih.gov/"+dirB),
		summaryLine("GCF_000001.1", "10", "Virus one", "latest", "Chromosome", "https://ftp.ncbi.nlm.nih.gov/"+dirA),
		summaryLine("GCF_000003.1", "12", "Virus three", "latest", "Scaffold", "https://ftp.ncbi.nlm.nih.gov/"+dirC),
		summaryLine("GCF_000004.1", "13", "Virus four", "replaced", "Complete Genome", "https://ftp.ncbi.nlm.nih.gov/genomes/all/GCF/000/004/GCF_000004.1_x"),
		summaryLine("GCF_000005.1", "14", "Virus five", "latest", "Complete Genome", "na"),
		summaryLine("GCF_000002.1", "11", "Virus two", "latest", "Complete Genome", "https://ftp.ncbi.nlm.nih.gov/"+dirB),
		"",
	}, "\n")
}

func newTestCatalog(tr source.Transport) *Catalog {
	return New(tr, Options{
		Filter:      DefaultFilter,
		Concurrency: 4,
		Retry:       source.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
	}, nil)
}

func TestParseAssemblySummary(t *testing.T) {
	entries, err := ParseAssemblySummary(strings.NewReader(testManifest()), DefaultFilter)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	require.Equal(t, "GCF_000002.1_ASM2v1", entries[0].Name)
	require.Equal(t, dirB+"/GCF_000002.1_ASM2v1_genomic.fna.gz", entries[0].RemotePath)
	require.Equal(t, "11", entries[0].TaxID)
	require.Equal(t, "Virus two", entries[0].Organism)
	require.Empty(t, entries[0].ExpectedDigest)

	require.Equal(t, "GCF_000001.1_ASM1v1", entries[1].Name)
}

func TestParseAssemblySummary_AnyLevel(t *testing.T) {
	entries, err := ParseAssemblySummary(strings.NewReader(testManifest()), Filter{})
	require.NoError(t, err)
	// replaced and scaffold rows are kept, "na" and the duplicate are not
	require.Len(t, entries, 4)
}

func TestParseAssemblySummary_Malformed(t *testing.T) {
	_, err := ParseAssemblySummary(strings.NewReader("<html>503 Service Unavailable</html>\n"), DefaultFilter)
	require.Error(t, err)

	entries, err := ParseAssemblySummary(strings.NewReader("# only comments\n"), DefaultFilter)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestParseChecksums(t *testing.T) {
	sums, err := ParseChecksums(strings.NewReader(
		"D41D8CD98F00B204E9800998ECF8427E  ./GCF_000001.1_ASM1v1_genomic.fna.gz\n" +
			"900150983cd24fb0d6963f7d28e17f72  ./GCF_000001.1_ASM1v1_protein.faa.gz\n" +
			"garbage\n" +
			"0cc175b9c0f1b6a831c399e269772661  taxdump.tar.gz\n"))
	require.NoError(t, err)

	require.Equal(t, map[string]string{
		"GCF_000001.1_ASM1v1_genomic.fna.gz": "d41d8cd98f00b204e9800998ecf8427e",
		"GCF_000001.1_ASM1v1_protein.faa.gz": "900150983cd24fb0d6963f7d28e17f72",
		"taxdump.tar.gz":                     "0cc175b9c0f1b6a831c399e269772661",
	}, sums)
}

func TestSummaryPath(t *testing.T) {
	require.Equal(t, "genomes/refseq/viral/assembly_summary.txt", SummaryPath(model.SiteRefSeq, model.GroupViral))
	require.Equal(t, "genomes/genbank/vertebrate_mammalian/Homo_sapiens/assembly_summary.txt", SummaryPath(model.SiteGenBank, model.GroupHuman))
}

func TestListGroup(t *testing.T) {
	tr := testutils.NewMemoryTransport()
	tr.PutString("genomes/refseq/viral/assembly_summary.txt", testManifest())
	tr.PutString(dirA+"/md5checksums.txt", "aaaa  ./GCF_000001.1_ASM1v1_genomic.fna.gz\n")
	// dirB has no checksum listing at all

	entries, err := newTestCatalog(tr).ListGroup(context.Background(), model.SiteRefSeq, model.GroupViral)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	// sorted by name
	require.Equal(t, "GCF_000001.1_ASM1v1", entries[0].Name)
	require.Equal(t, "aaaa", entries[0].ExpectedDigest)
	require.True(t, entries[0].Verifiable())

	require.Equal(t, "GCF_000002.1_ASM2v1", entries[1].Name)
	require.False(t, entries[1].Verifiable())
}

func TestListGroup_RetriesManifest(t *testing.T) {
	tr := testutils.NewMemoryTransport()
	tr.PutString("genomes/refseq/viral/assembly_summary.txt", testManifest())
	tr.FailNext("genomes/refseq/viral/assembly_summary.txt", 2)

	entries, err := newTestCatalog(tr).ListGroup(context.Background(), model.SiteRefSeq, model.GroupViral)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, 3, tr.Opens("genomes/refseq/viral/assembly_summary.txt"))
}

func TestListGroup_Unavailable(t *testing.T) {
	tr := testutils.NewMemoryTransport()
	tr.FailNext("genomes/refseq/fungi/assembly_summary.txt", 10)

	_, err := newTestCatalog(tr).ListGroup(context.Background(), model.SiteRefSeq, model.GroupFungi)
	require.ErrorIs(t, err, ErrCatalogUnavailable)
	require.ErrorIs(t, err, source.ErrTransport)
	require.Equal(t, 3, tr.Opens("genomes/refseq/fungi/assembly_summary.txt"))

	_, err = newTestCatalog(tr).ListGroup(context.Background(), model.SiteRefSeq, model.GroupPlant)
	require.ErrorIs(t, err, ErrCatalogUnavailable)
	require.True(t, errors.Is(err, source.ErrNotFound))
}

func TestListGroup_HumanPath(t *testing.T) {
	tr := testutils.NewMemoryTransport()
	tr.PutString("genomes/refseq/vertebrate_mammalian/Homo_sapiens/assembly_summary.txt",
		summaryLine("GCF_000001405.40", "9606", "Homo sapiens", "latest", "Chromosome",
			"https://ftp.ncbi.nlm.nih.gov/genomes/all/GCF/000/001/405/GCF_000001405.40_GRCh38.p14")+"\n")

	entries, err := newTestCatalog(tr).ListGroup(context.Background(), model.SiteRefSeq, model.GroupHuman)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "GCF_000001405.40_GRCh38.p14", entries[0].Name)
	require.Equal(t, 0, tr.Opens("genomes/refseq/human/assembly_summary.txt"))
}

func TestListGroup_ChecksumFanOutIsBounded(t *testing.T) {
	tr := testutils.NewMemoryTransport()
	tr.Delay = 5 * time.Millisecond

	var lines []string
	for i := 0; i < 20; i++ {
		dir := fmt.Sprintf("genomes/all/GCF/%03d/GCF_%03d.1_x", i, i)
		lines = append(lines, summaryLine("GCF", "1", "o", "latest", "Complete Genome", dir))
		tr.PutString(dir+"/md5checksums.txt", fmt.Sprintf("%032d  ./GCF_%03d.1_x_genomic.fna.gz\n", i, i))
	}
	tr.PutString("genomes/refseq/bacteria/assembly_summary.txt", strings.Join(lines, "\n"))

	c := newTestCatalog(tr)
	c.opts.Concurrency = 3
	entries, err := c.ListGroup(context.Background(), model.SiteRefSeq, model.GroupBacteria)
	require.NoError(t, err)
	require.Len(t, entries, 20)
	for _, e := range entries {
		require.True(t, e.Verifiable(), e.Name)
	}
	require.LessOrEqual(t, tr.PeakInFlight(), 3)
}

func TestListTaxonomy(t *testing.T) {
	tr := testutils.NewMemoryTransport()
	tr.PutString("pub/taxonomy/taxdump.tar.gz.md5", "0cc175b9c0f1b6a831c399e269772661  taxdump.tar.gz\n")

	c := newTestCatalog(tr)
	entries, err := c.ListTaxonomy(context.Background(), model.SiteGenBank)
	require.NoError(t, err)
	require.Equal(t, []model.RemoteEntry{{
		Name:           "taxdump.tar.gz",
		RemotePath:     "pub/taxonomy/taxdump.tar.gz",
		ExpectedDigest: "0cc175b9c0f1b6a831c399e269772661",
	}}, entries)

	tr.PutString("pub/taxonomy/accession2taxid/nucl_gb.accession2taxid.gz.md5", "92eb5ffee6ae2fec3ad71c777531578f  nucl_gb.accession2taxid.gz\n")
	tr.PutString("pub/taxonomy/accession2taxid/nucl_wgs.accession2taxid.gz.md5", "4a8a08f09d37b73795649038408b5f33  nucl_wgs.accession2taxid.gz\n")
	c.opts.IncludeAccession2TaxID = true
	entries, err = c.ListTaxonomy(context.Background(), model.SiteRefSeq)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.Equal(t, "nucl_gb.accession2taxid.gz", entries[0].Name)
	require.Equal(t, "92eb5ffee6ae2fec3ad71c777531578f", entries[0].ExpectedDigest)
	require.Equal(t, "taxdump.tar.gz", entries[2].Name)
}

func TestListTaxonomy_DigestRequired(t *testing.T) {
	t.Run("missing md5 file", func(t *testing.T) {
		tr := testutils.NewMemoryTransport()
		tr.PutString("pub/taxonomy/taxdump.tar.gz", "archive")

		_, err := newTestCatalog(tr).ListTaxonomy(context.Background(), model.SiteRefSeq)
		require.ErrorIs(t, err, ErrCatalogUnavailable)
		require.ErrorIs(t, err, source.ErrNotFound)
		require.Equal(t, 0, tr.Opens("pub/taxonomy/taxdump.tar.gz"))
	})

	t.Run("md5 without a line for the dump", func(t *testing.T) {
		tr := testutils.NewMemoryTransport()
		tr.PutString("pub/taxonomy/taxdump.tar.gz.md5", "0cc175b9c0f1b6a831c399e269772661  taxcat.tar.gz\n")

		_, err := newTestCatalog(tr).ListTaxonomy(context.Background(), model.SiteRefSeq)
		require.ErrorIs(t, err, ErrCatalogUnavailable)
		require.Contains(t, err.Error(), "taxdump.tar.gz")
	})

	t.Run("one accession map unpublished", func(t *testing.T) {
		tr := testutils.NewMemoryTransport()
		tr.PutString("pub/taxonomy/taxdump.tar.gz.md5", "0cc175b9c0f1b6a831c399e269772661  taxdump.tar.gz\n")
		tr.PutString("pub/taxonomy/accession2taxid/nucl_gb.accession2taxid.gz.md5", "92eb5ffee6ae2fec3ad71c777531578f  nucl_gb.accession2taxid.gz\n")

		c := newTestCatalog(tr)
		c.opts.IncludeAccession2TaxID = true
		_, err := c.ListTaxonomy(context.Background(), model.SiteRefSeq)
		require.ErrorIs(t, err, ErrCatalogUnavailable)
		require.Contains(t, err.Error(), "nucl_wgs.accession2taxid.gz.md5")
	})
}

// Command catalog lists what a group would download without touching the
// local library. Transport settings come from the same environment variables
// as ncbi-sync.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/olegkotsar/ncbi-sync/catalog"
	"github.com/olegkotsar/ncbi-sync/config"
	"github.com/olegkotsar/ncbi-sync/logger"
	"github.com/olegkotsar/ncbi-sync/model"
	"github.com/olegkotsar/ncbi-sync/scheduler"
	"github.com/olegkotsar/ncbi-sync/source"
)

func main() {
	var (
		groupName = flag.String("group", string(model.GroupViral), "Group to list")
		siteName  = flag.String("site", string(model.SiteRefSeq), "Archive site: refseq or genbank")
		taxonomy  = flag.Bool("taxonomy", false, "List the taxonomy files instead of a group")
		verbose   = flag.Bool("v", false, "Print every entry")
	)
	flag.Parse()

	cfg, err := config.LoadFromEnv()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	cfg.ApplyDefaults()

	site, err := model.ParseSite(*siteName)
	if err != nil {
		log.Fatal(err)
	}
	group := model.Group(*groupName)
	if !*taxonomy && !group.Valid() {
		log.Fatalf("unknown group %q", *groupName)
	}

	transport, err := source.CreateTransport(&cfg.Transport)
	if err != nil {
		log.Fatalf("Failed to create transport: %v", err)
	}
	defer transport.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cat := catalog.New(transport, catalog.Options{
		Filter: catalog.Filter{
			AssemblyLevels: cfg.Catalog.Levels(),
			LatestOnly:     cfg.Catalog.LatestOnly,
		},
		IncludeAccession2TaxID: cfg.Catalog.IncludeAccession2TaxID,
		Concurrency:            cfg.Scheduler.NumThreads,
		Retry:                  scheduler.OptionsFromConfig(&cfg.Scheduler).Retry,
	}, logger.NewLogger(&cfg.Logger))

	start := time.Now()
	var entries []model.RemoteEntry
	if *taxonomy {
		entries, err = cat.ListTaxonomy(ctx, site)
	} else {
		entries, err = cat.ListGroup(ctx, site, group)
	}
	if err != nil {
		log.Fatalf("Listing failed: %v", err)
	}
	elapsed := time.Since(start)

	unverifiable := 0
	for _, e := range entries {
		if !e.Verifiable() {
			unverifiable++
		}
	}

	if *verbose {
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tMD5\tREMOTE PATH")
		for _, e := range entries {
			digest := e.ExpectedDigest
			if digest == "" {
				digest = "-"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", e.Name, digest, e.RemotePath)
		}
		w.Flush()
	}

	fmt.Printf("%s via %s: %d entries (%d without a published digest) in %s\n",
		describe(*taxonomy, site, group), transport.Name(), len(entries), unverifiable, elapsed.Round(time.Millisecond))
}

func describe(taxonomy bool, site model.Site, group model.Group) string {
	if taxonomy {
		return "taxonomy"
	}
	return fmt.Sprintf("%s/%s", site, group)
}

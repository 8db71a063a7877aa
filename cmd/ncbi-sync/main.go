package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/olegkotsar/ncbi-sync/cache"
	"github.com/olegkotsar/ncbi-sync/config"
	"github.com/olegkotsar/ncbi-sync/logger"
	"github.com/olegkotsar/ncbi-sync/metrics"
	"github.com/olegkotsar/ncbi-sync/model"
	"github.com/olegkotsar/ncbi-sync/processor"
	"github.com/olegkotsar/ncbi-sync/source"
	"github.com/olegkotsar/ncbi-sync/taxonomy"
)

func main() {
	// Define CLI flags
	var (
		// General flags
		database   = flag.String("database", "", "Root directory of the local library (env: NCBI_DATABASE)")
		numThreads = flag.Int("num-threads", 0, "Number of concurrent downloads (env: NUM_THREADS)")

		// Logger flags
		logLevel = flag.String("log-level", "", "Log level: silent, error, warn, info, debug, verbose (env: LOG_LEVEL)")
		logColor = flag.Bool("log-color", false, "Colorize log level tags (env: LOG_COLOR)")

		// Metadata flags
		metadataType = flag.String("metadata-type", "", "Metadata backend: json, bbolt, sqlite (env: METADATA_TYPE)")
		metadataPath = flag.String("metadata-path", "", "Path to the metadata file (default: inside the database root)")

		// Transport flags
		transportType = flag.String("transport", "", "Transport: http, ftp, s3 (env: TRANSPORT_TYPE)")
		timeout       = flag.Int("timeout", 0, "Per-attempt timeout in seconds (env: TRANSPORT_TIMEOUT_SECONDS)")
		maxRPS        = flag.Int("max-rps", -1, "Max requests per second to the archive, 0 = no limit (env: TRANSPORT_MAX_RPS)")
		baseURL       = flag.String("base-url", "", "HTTP base URL of the archive (env: HTTP_BASE_URL)")
		ftpHost       = flag.String("ftp-host", "", "FTP server host (env: FTP_HOST)")
		s3Bucket      = flag.String("s3-bucket", "", "S3 mirror bucket (env: S3_BUCKET)")
		s3Endpoint    = flag.String("s3-endpoint", "", "S3 mirror endpoint URL (env: S3_ENDPOINT)")

		// Scheduler flags
		maxAttempts     = flag.Int("max-attempts", 0, "Transport attempts per file (env: MAX_ATTEMPTS)")
		checkpointEvery = flag.Int("checkpoint-every", 0, "Flush metadata every N completed files (env: CHECKPOINT_EVERY)")

		// Catalog flags
		assemblyLevels = flag.String("assembly-levels", "", "Comma separated assembly levels to keep, \"all\" keeps every level (env: CATALOG_ASSEMBLY_LEVELS)")

		metricsFile = flag.String("metrics-textfile", "", "Write prometheus metrics to this file after the run (env: METRICS_TEXTFILE)")

		showHelp = flag.Bool("help", false, "Show help message")
	)

	flag.Usage = printHelp
	flag.Parse()

	if *showHelp || flag.NArg() == 0 {
		printHelp()
		if *showHelp {
			os.Exit(0)
		}
		os.Exit(2)
	}

	// Load base configuration from environment variables
	cfg, err := config.LoadFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config from environment: %v\n", err)
		os.Exit(1)
	}

	// Override with CLI flags if provided
	applyFlags(cfg, flagValues{
		database:        *database,
		numThreads:      *numThreads,
		logLevel:        *logLevel,
		logColor:        *logColor,
		metadataType:    *metadataType,
		metadataPath:    *metadataPath,
		transportType:   *transportType,
		timeout:         *timeout,
		maxRPS:          *maxRPS,
		baseURL:         *baseURL,
		ftpHost:         *ftpHost,
		s3Bucket:        *s3Bucket,
		s3Endpoint:      *s3Endpoint,
		maxAttempts:     *maxAttempts,
		checkpointEvery: *checkpointEvery,
		assemblyLevels:  *assemblyLevels,
		metricsFile:     *metricsFile,
	})
	cfg.ApplyDefaults()

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration validation error: %v\n", err)
		os.Exit(1)
	}

	cmd, err := parseCommand(flag.Args())
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n\n", err)
		printHelp()
		os.Exit(2)
	}

	// Initialize logger
	log := logger.NewLogger(&cfg.Logger)
	log.Debug("Configuration loaded and validated")

	if err := run(cfg, cmd, log); err != nil {
		if errors.Is(err, context.Canceled) {
			log.Info("Interrupted, progress has been saved")
		} else {
			log.Error("%v", err)
		}
		os.Exit(1)
	}
}

// command is a parsed subcommand line
type command struct {
	name   string
	site   model.Site
	groups []model.Group
	mode   model.Mode
}

func parseCommand(args []string) (command, error) {
	switch args[0] {
	case "taxonomy":
		if len(args) > 1 {
			return command{}, fmt.Errorf("taxonomy takes no arguments, got %v", args[1:])
		}
		return command{name: "taxonomy", site: model.SiteRefSeq}, nil

	case "genomes":
		fs := flag.NewFlagSet("genomes", flag.ContinueOnError)
		groupList := fs.String("group", "", "Comma separated groups: "+groupNames())
		siteName := fs.String("site", string(model.SiteRefSeq), "Archive site: refseq or genbank")
		modeName := fs.String("mode", string(model.ModeAcquire), "Mode: acquire, verify, aggregate, full")
		if err := fs.Parse(args[1:]); err != nil {
			return command{}, err
		}
		if fs.NArg() > 0 {
			return command{}, fmt.Errorf("unexpected arguments: %v", fs.Args())
		}

		groups, err := model.ParseGroups(*groupList)
		if err != nil {
			return command{}, err
		}
		site, err := model.ParseSite(*siteName)
		if err != nil {
			return command{}, err
		}
		mode, err := model.ParseMode(*modeName)
		if err != nil {
			return command{}, err
		}
		return command{name: "genomes", site: site, groups: groups, mode: mode}, nil

	default:
		return command{}, fmt.Errorf("unknown command %q", args[0])
	}
}

func run(cfg *config.AppConfig, cmd command, log logger.Logger) error {
	start := time.Now()

	for _, dir := range []string{cfg.Database, filepath.Join(cfg.Database, "library"), filepath.Join(cfg.Database, taxonomy.Dir)} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}

	// Initialize metadata store
	log.Debug("Initializing metadata store...")
	backend, err := cache.CreateBackend(&cfg.Metadata)
	if err != nil {
		return fmt.Errorf("failed to create metadata backend: %w", err)
	}
	store, err := cache.Load(backend)
	if err != nil {
		if !errors.Is(err, cache.ErrMetadataCorrupt) {
			backend.Close()
			return fmt.Errorf("failed to load metadata: %w", err)
		}
		log.Warn("Metadata is unreadable, starting from an empty state: %v", err)
	}
	defer func() {
		log.Debug("Closing metadata store...")
		if cerr := store.Close(); cerr != nil {
			log.Error("Error closing metadata store: %v", cerr)
		}
	}()
	log.Info("Metadata store initialized: type=%s, records=%d", cfg.Metadata.MetadataType, store.Snapshot().Count())

	// Initialize transport
	log.Debug("Initializing transport...")
	transport, err := source.CreateTransport(&cfg.Transport)
	if err != nil {
		return fmt.Errorf("failed to create transport: %w", err)
	}
	defer func() {
		log.Debug("Closing transport...")
		if cerr := transport.Close(); cerr != nil {
			log.Error("Error closing transport: %v", cerr)
		}
	}()
	log.Info("Transport initialized: %s", transport.Name())

	m := metrics.New()
	defer func() {
		if cfg.Metrics.TextfilePath == "" {
			return
		}
		if werr := m.WriteToTextfile(cfg.Metrics.TextfilePath); werr != nil {
			log.Error("Failed to write metrics textfile: %v", werr)
		}
	}()

	runner := processor.NewRunner(store, transport, cfg, log, m)

	// Set up signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch cmd.name {
	case "taxonomy":
		summary, err := runner.RunTaxonomy(ctx, cmd.site)
		if summary != nil {
			log.Info("%s", summary)
		}
		if err != nil {
			return err
		}
	case "genomes":
		results, err := runner.RunGroups(ctx, cmd.site, cmd.groups, cmd.mode)
		failed := 0
		for _, res := range results {
			if !res.OK() {
				failed++
			}
		}
		log.Info("Processed %d group(s), %d with problems, in %s", len(results), failed, time.Since(start).Round(time.Millisecond))
		if err != nil {
			return err
		}
	}
	return nil
}

type flagValues struct {
	database        string
	numThreads      int
	logLevel        string
	logColor        bool
	metadataType    string
	metadataPath    string
	transportType   string
	timeout         int
	maxRPS          int
	baseURL         string
	ftpHost         string
	s3Bucket        string
	s3Endpoint      string
	maxAttempts     int
	checkpointEvery int
	assemblyLevels  string
	metricsFile     string
}

func applyFlags(cfg *config.AppConfig, flags flagValues) {
	// Boolean flags only override the environment when given explicitly
	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })

	// General
	if flags.database != "" {
		cfg.Database = flags.database
	}
	if flags.numThreads > 0 {
		cfg.Scheduler.NumThreads = flags.numThreads
	}

	// Logger
	if flags.logLevel != "" {
		cfg.Logger.Level = config.LogLevel(flags.logLevel)
	}
	if set["log-color"] {
		cfg.Logger.Color = flags.logColor
	}

	// Metadata
	if flags.metadataType != "" {
		cfg.Metadata.MetadataType = config.MetadataType(flags.metadataType)
	}
	if flags.metadataPath != "" {
		switch cfg.Metadata.MetadataType {
		case config.MetadataTypeBbolt:
			cfg.Metadata.Bbolt = &config.BboltConfig{Path: flags.metadataPath}
		case config.MetadataTypeSQLite:
			cfg.Metadata.SQLite = &config.SQLiteConfig{Path: flags.metadataPath}
		default:
			cfg.Metadata.JSON = &config.JSONConfig{Path: flags.metadataPath}
		}
	}

	// Transport
	if flags.transportType != "" {
		cfg.Transport.TransportType = config.TransportType(flags.transportType)
	}
	if flags.timeout > 0 {
		cfg.Transport.Common.TimeoutSeconds = flags.timeout
	}
	if flags.maxRPS >= 0 {
		// Allow 0 (no limit) to be explicitly set
		cfg.Transport.Common.MaxRPS = flags.maxRPS
	}
	if flags.baseURL != "" {
		cfg.Transport.HTTP.BaseURL = flags.baseURL
	}
	if flags.ftpHost != "" {
		cfg.Transport.FTP.Host = flags.ftpHost
	}
	if flags.s3Bucket != "" {
		cfg.Transport.S3.Bucket = flags.s3Bucket
	}
	if flags.s3Endpoint != "" {
		cfg.Transport.S3.Endpoint = flags.s3Endpoint
	}

	// Scheduler
	if flags.maxAttempts > 0 {
		cfg.Scheduler.MaxAttempts = flags.maxAttempts
	}
	if flags.checkpointEvery > 0 {
		cfg.Scheduler.CheckpointEvery = flags.checkpointEvery
	}

	// Catalog
	if flags.assemblyLevels != "" {
		cfg.Catalog.AssemblyLevels = config.SplitList(flags.assemblyLevels)
	}

	if flags.metricsFile != "" {
		cfg.Metrics.TextfilePath = flags.metricsFile
	}
}

func groupNames() string {
	names := ""
	for i, g := range model.Groups {
		if i > 0 {
			names += ","
		}
		names += string(g)
	}
	return names
}

func printHelp() {
	fmt.Println("NCBI genome library mirror")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  ncbi-sync [options] taxonomy")
	fmt.Println("  ncbi-sync [options] genomes -group a,b [-site refseq|genbank] [-mode acquire|verify|aggregate|full]")
	fmt.Println()
	fmt.Println("Configuration can be provided via environment variables or command-line flags.")
	fmt.Println("Command-line flags take precedence over environment variables.")
	fmt.Println()
	fmt.Println("Options:")
	flag.PrintDefaults()
	fmt.Println()
	fmt.Println("Groups: " + groupNames())
	fmt.Println()
	fmt.Println("Example:")
	fmt.Println("  ncbi-sync -database=./lib -num-threads=16 genomes -group viral,archaea -mode full")
	fmt.Println()
	fmt.Println("Environment Variables:")
	fmt.Println("  NCBI_DATABASE             - Root directory of the local library")
	fmt.Println("  LOG_LEVEL                 - Log level (silent, error, warn, info, debug, verbose)")
	fmt.Println("  LOG_COLOR                 - Colorize log level tags (true/false)")
	fmt.Println("  TRANSPORT_TYPE            - Transport (http, ftp, s3)")
	fmt.Println("  TRANSPORT_TIMEOUT_SECONDS - Per-attempt timeout in seconds")
	fmt.Println("  TRANSPORT_MAX_RPS         - Max requests per second (0 = no limit)")
	fmt.Println("  TRANSPORT_MAX_CONNECTIONS - Idle connection pool size")
	fmt.Println("  HTTP_BASE_URL             - HTTP base URL of the archive")
	fmt.Println("  HTTP_USER_AGENT           - User-Agent header")
	fmt.Println("  FTP_HOST                  - FTP server host")
	fmt.Println("  FTP_PORT                  - FTP server port")
	fmt.Println("  FTP_USERNAME              - FTP username (default: anonymous)")
	fmt.Println("  FTP_PASSWORD              - FTP password")
	fmt.Println("  FTP_USE_TLS               - Use FTPS (true/false)")
	fmt.Println("  S3_BUCKET                 - S3 mirror bucket")
	fmt.Println("  S3_PREFIX                 - Key prefix of the archive tree in the bucket")
	fmt.Println("  S3_REGION                 - S3 region")
	fmt.Println("  S3_ENDPOINT               - S3 endpoint URL")
	fmt.Println("  S3_ACCESS_KEY_ID          - S3 access key ID (anonymous when empty)")
	fmt.Println("  S3_SECRET_ACCESS_KEY      - S3 secret access key")
	fmt.Println("  METADATA_TYPE             - Metadata backend (json, bbolt, sqlite)")
	fmt.Println("  METADATA_JSON_PATH        - Path of the json metadata file")
	fmt.Println("  METADATA_BBOLT_PATH       - Path of the bbolt metadata file")
	fmt.Println("  METADATA_BBOLT_NO_SYNC    - Disable fsync for bbolt (true/false)")
	fmt.Println("  METADATA_SQLITE_PATH      - Path of the sqlite metadata file")
	fmt.Println("  NUM_THREADS               - Number of concurrent downloads")
	fmt.Println("  MAX_ATTEMPTS              - Transport attempts per file")
	fmt.Println("  BACKOFF_BASE_MS           - First retry delay in milliseconds")
	fmt.Println("  BACKOFF_MAX_MS            - Retry delay ceiling in milliseconds")
	fmt.Println("  CHECKPOINT_EVERY          - Flush metadata every N completed files")
	fmt.Println("  CATALOG_ASSEMBLY_LEVELS   - Comma separated assembly levels to keep")
	fmt.Println("  CATALOG_LATEST_ONLY       - Keep only the latest assembly version (true/false)")
	fmt.Println("  CATALOG_ACCESSION2TAXID   - Also fetch accession2taxid maps with taxonomy (true/false)")
	fmt.Println("  TAXONOMY_FILES            - Members to extract from taxdump.tar.gz")
	fmt.Println("  METRICS_TEXTFILE          - Write prometheus metrics to this file after the run")
}

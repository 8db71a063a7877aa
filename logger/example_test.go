package logger_test

import (
	"github.com/olegkotsar/ncbi-sync/config"
	"github.com/olegkotsar/ncbi-sync/logger"
)

// Example_withContext shows the per-group logger the orchestrator hands to
// the scheduler and aggregator.
func Example_withContext() {
	log := logger.NewLogger(&config.LoggerConfig{
		Level:      config.LogLevelInfo,
		TimeFormat: config.NoTimestamp,
	})

	groupLog := log.WithFields(map[string]interface{}{
		"site":  "refseq",
		"group": "viral",
	})
	groupLog.Info("Catalog listed %d entries", 12)

	workerLog := groupLog.With("worker", 3)
	workerLog.Verbose("This won't be logged at info level")
	workerLog.Warn("Digest mismatch for %s, re-fetching", "GCF_000001_genomic.fna.gz")
}

// Example_injection shows how components accept an optional logger
func Example_injection() {
	type Service struct {
		logger logger.Logger
	}

	svc := &Service{logger: logger.OrNoOp(nil)}
	svc.logger.Info("Nothing is printed by the no-op logger")
}

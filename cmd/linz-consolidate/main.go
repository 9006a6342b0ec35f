// Command linz-consolidate runs the LinZ memory consolidation job. It can
// run a single cycle (-once), loop on a fixed interval (-interval), or
// follow a cron expression (-cron).
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/joho/godotenv"

	"github.com/famconomy/linz-memory/internal/config"
	"github.com/famconomy/linz-memory/internal/consolidate"
	"github.com/famconomy/linz-memory/internal/extract"
	"github.com/famconomy/linz-memory/internal/llm"
	"github.com/famconomy/linz-memory/internal/storage"
	"github.com/famconomy/linz-memory/internal/storage/postgres"
	"github.com/famconomy/linz-memory/internal/storage/sqlite"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file (optional)")
	once := flag.Bool("once", false, "Run a single consolidation cycle and exit")
	interval := flag.Duration("interval", 0, "Run on a fixed interval (e.g. 6h)")
	cronSpec := flag.String("cron", "", "Run on a cron schedule (e.g. \"0 3 * * *\")")
	flag.Parse()

	// Optional .env for local development; absence is not an error.
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	store, err := openStore(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	defer store.Close()

	if stats, err := store.Stats(context.Background()); err != nil {
		log.Printf("Failed to read store stats: %v", err)
	} else {
		log.Printf("Store ready (%s): pending=%d consolidated=%d memory=%d facts=%d summaries=%d",
			cfg.Storage.Engine, stats.PendingRecords, stats.ConsolidatedRecords,
			stats.MemoryRecords, stats.Facts, stats.Summaries)
	}

	generator, err := llm.NewTextGenerator(llm.ProviderConfig{
		Provider:          cfg.LLM.Provider,
		APIKey:            cfg.LLM.APIKey(),
		Model:             cfg.LLM.Model,
		BaseURL:           cfg.LLM.OllamaURL,
		Timeout:           time.Duration(cfg.LLM.TimeoutSeconds) * time.Second,
		RequestsPerSecond: cfg.LLM.RequestsPerSecond,
	})
	if err != nil {
		log.Fatalf("Failed to initialize LLM client: %v", err)
	}

	job := consolidate.NewJob(store, extract.NewClient(generator), consolidate.Config{
		LookbackWindow: time.Duration(cfg.Job.LookbackHours) * time.Hour,
		MaxRecords:     cfg.Job.MaxRecords,
		Retention:      time.Duration(cfg.Job.RetentionHours) * time.Hour,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Println("Shutting down...")
		cancel()
	}()

	switch {
	case *once:
		if _, err := job.Run(ctx, time.Time{}); err != nil {
			log.Fatalf("Consolidation cycle failed: %v", err)
		}
	case *cronSpec != "":
		expr, err := cronexpr.Parse(*cronSpec)
		if err != nil {
			log.Fatalf("Invalid cron expression %q: %v", *cronSpec, err)
		}
		runCron(ctx, job, expr)
	case *interval > 0:
		runInterval(ctx, job, *interval)
	default:
		log.Fatalf("One of -once, -interval, or -cron is required")
	}
}

// openStore picks the storage backend from configuration.
func openStore(cfg *config.Config) (storage.RecordStore, error) {
	if cfg.Storage.Engine == "postgres" {
		return postgres.NewRecordStore(cfg.Storage.DSN)
	}
	return sqlite.NewRecordStore(cfg.Storage.DSN)
}

// runInterval runs the job immediately and then on every tick until the
// context is cancelled. A failed cycle is logged; the next tick retries.
func runInterval(ctx context.Context, job *consolidate.Job, interval time.Duration) {
	log.Printf("Running every %s", interval)

	runCycle(ctx, job)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runCycle(ctx, job)
		}
	}
}

// runCron sleeps until each next cron activation and runs one cycle.
func runCron(ctx context.Context, job *consolidate.Job, expr *cronexpr.Expression) {
	for {
		next := expr.Next(time.Now())
		if next.IsZero() {
			log.Printf("Cron schedule has no future activations; exiting")
			return
		}
		log.Printf("Next run at %s", next.Format(time.RFC3339))

		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Until(next)):
			runCycle(ctx, job)
		}
	}
}

// runCycle runs one cycle, logging failures instead of exiting so the
// schedule keeps going.
func runCycle(ctx context.Context, job *consolidate.Job) {
	if ctx.Err() != nil {
		return
	}
	if _, err := job.Run(ctx, time.Time{}); err != nil {
		log.Printf("Consolidation cycle failed: %v", err)
	}
}

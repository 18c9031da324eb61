package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/blacktide/blacktide/internal/cache"
	"github.com/blacktide/blacktide/internal/collector"
	"github.com/blacktide/blacktide/internal/config"
	"github.com/blacktide/blacktide/internal/credstore"
	"github.com/blacktide/blacktide/internal/dedup"
	"github.com/blacktide/blacktide/internal/export"
	"github.com/blacktide/blacktide/internal/health"
	"github.com/blacktide/blacktide/internal/intel"
	"github.com/blacktide/blacktide/internal/logging"
	"github.com/blacktide/blacktide/internal/metrics"
	"github.com/blacktide/blacktide/internal/orchestrator"
	"github.com/blacktide/blacktide/internal/queue"
	"github.com/blacktide/blacktide/internal/runlog"
	"github.com/blacktide/blacktide/internal/stats"
	"github.com/blacktide/blacktide/internal/storage"
	"github.com/blacktide/blacktide/internal/telemetry"
)

const version = "1.0.0"

func main() {
	var configFile string
	var credFile, credKeyFile string
	var redisAddr string
	var postgresDSN string
	var metricsAddr string
	var exportEndpoint string
	var spoolDir string
	var otelEndpoint string
	var otelInsecure bool
	var otelService string
	var once bool
	var collectDays int
	var feedFormat string
	var feedDays int
	var statsDump bool
	var statsWindow int
	var showVersion bool

	flag.StringVar(&configFile, "config", "", "path to config file (YAML or JSON)")
	flag.StringVar(&credFile, "cred_file", "", "encrypted credential container path")
	flag.StringVar(&credKeyFile, "cred_key_file", "", "credential key file path")
	flag.StringVar(&redisAddr, "redis_addr", "", "redis addr for cache and dedup (empty = in-process only)")
	flag.StringVar(&postgresDSN, "postgres_dsn", "", "postgres DSN for run log and detections (empty = in-memory)")
	flag.StringVar(&metricsAddr, "metrics_addr", "", "metrics/health listen addr (empty to disable)")
	flag.StringVar(&exportEndpoint, "export_endpoint", "", "ingest endpoint for collected batches (optional)")
	flag.StringVar(&spoolDir, "spool_dir", "", "spool dir for undeliverable export batches")
	flag.StringVar(&otelEndpoint, "otel_endpoint", "", "OTLP HTTP endpoint (host:port)")
	flag.BoolVar(&otelInsecure, "otel_insecure", true, "OTLP insecure (no TLS)")
	flag.StringVar(&otelService, "otel_service", "", "OTEL service.name")
	flag.BoolVar(&once, "once", false, "run one collection for every source, then exit")
	flag.IntVar(&collectDays, "collect_days", 1, "trailing days to collect in -once mode")
	flag.StringVar(&feedFormat, "feed", "", "dump recent detections to stdout in this format and exit (plain, csv, jsonl, json)")
	flag.IntVar(&feedDays, "feed_days", 30, "trailing days covered by -feed")
	flag.BoolVar(&statsDump, "stats", false, "print per-source success rate and availability as JSON and exit")
	flag.IntVar(&statsWindow, "stats_window", 30, "trailing days for the -stats success rate")
	flag.BoolVar(&showVersion, "version", false, "show version and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "blacktide - threat intelligence IP collection daemon\n\n")
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s -config=config.yaml\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -once -collect_days=7\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -feed=plain -feed_days=30 > blocklist.txt\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  REDIS_ADDR          Redis server for cache and dedup\n")
		fmt.Fprintf(os.Stderr, "  TRIGGER_QUEUE_ADDR  Redis server carrying collection triggers\n")
		fmt.Fprintf(os.Stderr, "  POSTGRES_DSN        Postgres for run log and detections\n")
	}

	flag.Parse()

	if showVersion {
		fmt.Println("blacktide v" + version)
		fmt.Println("Built with Go", strings.TrimPrefix(runtime.Version(), "go"))
		os.Exit(0)
	}

	log := logging.New()
	defer log.Sync()

	var cfg *config.Config
	var err error
	if configFile != "" {
		cfg, err = config.LoadFromFile(configFile)
		if err != nil {
			log.Fatal("failed to load config file", "file", configFile, "err", err)
		}
		log.Info("loaded config from file", "file", configFile)
	} else {
		cfg = &config.Config{}
		cfg.SetDefaults()
	}
	cfg.LoadFromEnv()

	flags := make(map[string]interface{})
	if credFile != "" {
		flags["cred_file"] = credFile
	}
	if credKeyFile != "" {
		flags["cred_key_file"] = credKeyFile
	}
	if redisAddr != "" {
		flags["redis_addr"] = redisAddr
	}
	if postgresDSN != "" {
		flags["postgres_dsn"] = postgresDSN
	}
	if metricsAddr != "" {
		flags["metrics_addr"] = metricsAddr
	}
	if exportEndpoint != "" {
		flags["export_endpoint"] = exportEndpoint
	}
	if spoolDir != "" {
		flags["spool_dir"] = spoolDir
	}
	if otelEndpoint != "" {
		flags["otel_endpoint"] = otelEndpoint
	}
	if otelService != "" {
		flags["otel_service"] = otelService
	}
	flags["otel_insecure"] = otelInsecure
	cfg.MergeWithFlags(flags)

	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid configuration", "err", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if feedFormat != "" {
		if err := dumpFeed(ctx, cfg, feedFormat, feedDays); err != nil {
			log.Fatal("feed dump failed", "err", err)
		}
		return
	}
	if statsDump {
		if err := dumpStats(ctx, cfg, statsWindow); err != nil {
			log.Fatal("stats dump failed", "err", err)
		}
		return
	}

	shutdownTracing, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.OTELService, cfg.OTELInsecure)
	if err != nil {
		log.Warn("otel init failed", "err", err)
	} else {
		defer shutdownTracing(context.Background())
	}

	creds, err := credstore.New(cfg.CredFile, cfg.CredKeyFile)
	if err != nil {
		log.Fatal("credential store init failed", "err", err)
	}

	cacheBackend := cache.New(cfg.RedisAddr, cfg.CacheCapacity, log)

	var dd dedup.Interface
	if cfg.RedisAddr != "" {
		rd, err := dedup.NewRedis(cfg.RedisAddr, time.Duration(cfg.DedupTTLHours)*time.Hour, log)
		if err != nil {
			log.Warn("redis dedup unavailable, using memory", "err", err)
			dd = dedup.NewMemory()
		} else {
			dd = rd
		}
	} else {
		dd = dedup.NewMemory()
	}

	var runs runlog.Store
	var store storage.Store
	var pgRuns *runlog.PostgresStore
	if cfg.PostgresDSN != "" {
		pgRuns, err = runlog.NewPostgresStore(ctx, cfg.PostgresDSN)
		if err != nil {
			log.Fatal("run log init failed", "err", err)
		}
		runs = pgRuns
		pgStore, err := storage.NewPostgresStore(ctx, cfg.PostgresDSN)
		if err != nil {
			log.Fatal("detection storage init failed", "err", err)
		}
		store = pgStore
	} else {
		log.Info("no postgres DSN, run log and detections are in-memory")
		runs = runlog.NewMemoryStore()
		store = storage.NewMemoryStore()
	}
	defer runs.Close()
	defer store.Close()

	registry := collector.NewRegistry(cfg, creds, log)
	orch := orchestrator.New(registry, runs, store, cacheBackend, dd, log)

	var pusher *export.Pusher
	if cfg.ExportEndpoint != "" {
		pusher = export.NewPusher(cfg.ExportEndpoint, cfg.SpoolDir, log)
		pusher.Drain(ctx)
		orch.SetExporter(pusher)
	}

	healthHandler := health.NewHandler(log)
	healthHandler.SetMetadata("version", version)
	healthHandler.RegisterDegraded("cache-primary", func(ctx context.Context) error {
		if h := cacheBackend.HealthCheck(ctx); !h.PrimaryAvailable {
			return errors.New("cache primary unreachable, fallback active")
		}
		return nil
	})
	healthHandler.Register("credstore", func(context.Context) error {
		_, err := creds.Sources()
		return err
	})
	if pgRuns != nil {
		healthHandler.Register("postgres", pgRuns.Ping)
	}
	healthHandler.SetReady(true)

	if cfg.MetricsAddr != "" {
		go metrics.ServeWithHealth(cfg.MetricsAddr, healthHandler, log)
		log.Info("metrics and health server started", "addr", cfg.MetricsAddr)
	}

	if once {
		runOnce(ctx, orch, registry, collectDays, log)
	} else {
		consumeTriggers(ctx, cfg, orch, log)
	}

	orch.Wait()
	if pusher != nil {
		pusher.Drain(context.Background())
	}
	log.Info("shutdown complete")
}

// runOnce triggers every source and waits for the runs to finish.
func runOnce(ctx context.Context, orch *orchestrator.Orchestrator, registry map[string]collector.Collector, days int, log *logging.Logger) {
	dr := intel.LastDays(days)
	for name := range registry {
		if err := orch.Trigger(ctx, name, dr); err != nil {
			log.Warn("trigger rejected", "source", name, "err", err)
		}
	}
	orch.Wait()
	for _, st := range orch.States() {
		log.Info("source finished", "source", st.Name, "status", st.Status)
	}
}

// consumeTriggers leases collection triggers from the redis queue until
// the context is cancelled. Without a queue address it just waits for the
// shutdown signal; runs can still be started through the trigger queue on
// another instance sharing the same state.
func consumeTriggers(ctx context.Context, cfg *config.Config, orch *orchestrator.Orchestrator, log *logging.Logger) {
	addr := cfg.TriggerQueueAddr
	if addr == "" {
		addr = cfg.RedisAddr
	}
	if addr == "" {
		log.Info("no trigger queue configured, waiting for shutdown signal")
		<-ctx.Done()
		return
	}

	q, err := queue.NewRedis(addr, cfg.TriggerQueueKey)
	if err != nil {
		log.Error("trigger queue unavailable", "addr", addr, "err", err)
		<-ctx.Done()
		return
	}
	log.Info("consuming triggers", "addr", addr, "key", cfg.TriggerQueueKey)

	for ctx.Err() == nil {
		req, ack, err := q.Lease(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn("trigger lease failed", "err", err)
			time.Sleep(time.Second)
			continue
		}
		if req == nil {
			continue
		}
		if err := orch.Trigger(ctx, req.Source, req.Range()); err != nil {
			log.Warn("trigger rejected", "source", req.Source, "err", err)
		}
		if err := ack(); err != nil {
			log.Warn("trigger ack failed", "source", req.Source, "err", err)
		}
	}
}

// dumpStats prints success rate and period availability for both sources.
func dumpStats(ctx context.Context, cfg *config.Config, windowDays int) error {
	if cfg.PostgresDSN == "" {
		return errors.New("stats require a postgres DSN")
	}
	runs, err := runlog.NewPostgresStore(ctx, cfg.PostgresDSN)
	if err != nil {
		return err
	}
	defer runs.Close()

	engine := stats.New(runs)
	type sourceStats struct {
		SuccessRate  float64                       `json:"success_rate"`
		Availability map[string]stats.PeriodStatus `json:"availability"`
	}
	out := make(map[string]sourceStats)
	for _, source := range []string{collector.SourceRegtech, collector.SourceSecudium} {
		rate, err := engine.SuccessRate(ctx, source, windowDays)
		if err != nil {
			return err
		}
		avail, err := engine.PeriodAvailability(ctx, source)
		if err != nil {
			return err
		}
		out[source] = sourceStats{SuccessRate: rate, Availability: avail}
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// dumpFeed writes recent detections to stdout and exits. Requires postgres;
// an in-memory store has nothing to dump across processes.
func dumpFeed(ctx context.Context, cfg *config.Config, format string, days int) error {
	f, err := export.ParseFormat(format)
	if err != nil {
		return err
	}
	if cfg.PostgresDSN == "" {
		return errors.New("feed dump requires a postgres DSN")
	}
	store, err := storage.NewPostgresStore(ctx, cfg.PostgresDSN)
	if err != nil {
		return err
	}
	defer store.Close()

	entries, err := store.Recent(ctx, time.Now().UTC().AddDate(0, 0, -days))
	if err != nil {
		return err
	}
	return export.Write(os.Stdout, f, entries)
}

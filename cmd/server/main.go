package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/spanlight/spanlight/internal/alerting"
	"github.com/spanlight/spanlight/internal/analyzer"
	"github.com/spanlight/spanlight/internal/api"
	"github.com/spanlight/spanlight/internal/api/health"
	"github.com/spanlight/spanlight/internal/codesearch"
	"github.com/spanlight/spanlight/internal/correlate"
	"github.com/spanlight/spanlight/internal/metrics"
	"github.com/spanlight/spanlight/internal/notifier"
	"github.com/spanlight/spanlight/internal/storage"
	"github.com/spanlight/spanlight/internal/tuning"
	"github.com/spanlight/spanlight/pkg/config"
)

var (
	configFile string
	httpAddr   string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "spanlight-server",
	Short: "Spanlight Server - LLM application observability backend",
	Long: `Spanlight Server ingests trace spans from instrumented LLM
applications, evaluates alert rules against them, and correlates
incidents with recent code changes.`,
	RunE: runServer,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("spanlight-server %s\n", config.Version)
		fmt.Printf("  commit: %s\n", config.Commit)
		fmt.Printf("  built:  %s\n", config.BuildTime)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path (optional)")
	rootCmd.PersistentFlags().StringVarP(&httpAddr, "address", "a", "", "HTTP listen address (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	var cfg *Config

	// Load configuration from file if provided
	if configFile != "" {
		var err error
		cfg, err = LoadConfig(configFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
	} else {
		cfg = DefaultConfig()
	}

	// Override with CLI flags
	if httpAddr != "" {
		cfg.Server.Address = httpAddr
	}
	cfg.Verbose = verbose

	// Secrets come from the environment, never the config file.
	masterKey := os.Getenv("SPANLIGHT_MASTER_KEY")
	if masterKey == "" {
		return fmt.Errorf("SPANLIGHT_MASTER_KEY environment variable is required")
	}
	jwtSecret := os.Getenv("SPANLIGHT_JWT_SECRET")
	if jwtSecret == "" {
		return fmt.Errorf("SPANLIGHT_JWT_SECRET environment variable is required")
	}
	adminKey := os.Getenv("SPANLIGHT_ADMIN_KEY")
	if adminKey == "" {
		log.Printf("SPANLIGHT_ADMIN_KEY not set: admin token exchange disabled")
	}

	// Auto-create data directory
	dbDir := filepath.Dir(cfg.Database.Path)
	if err := os.MkdirAll(dbDir, 0750); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	// Initialize control-plane storage
	store := storage.NewSQLiteStorage(cfg.Database.Path, []byte(masterKey))
	if err := store.Open(); err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close()

	if err := store.Migrate(); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}
	log.Printf("database initialized at %s", cfg.Database.Path)

	// Initialize the span store. Optional: without it the API still
	// serves alert and project management, but ingestion, span queries,
	// and alert evaluation are off.
	var spanStore storage.SpanStorage
	var spanRepo storage.SpanRepository
	var buffer *storage.SpanBuffer
	if cfg.ClickHouse.Enabled {
		chStore := storage.NewClickHouseStorage(&storage.ClickHouseConfig{
			Addresses:     cfg.ClickHouse.Addresses,
			Database:      cfg.ClickHouse.Database,
			Username:      cfg.ClickHouse.Username,
			Password:      cfg.ClickHouse.Password,
			Compression:   cfg.ClickHouse.Compression,
			RetentionDays: cfg.ClickHouse.RetentionDays,
		})
		if err := chStore.Open(); err != nil {
			return fmt.Errorf("open clickhouse: %w", err)
		}
		defer chStore.Close()

		if err := chStore.Migrate(); err != nil {
			return fmt.Errorf("migrate clickhouse: %w", err)
		}

		spanStore = chStore
		spanRepo = chStore.Spans()
		buffer = storage.NewSpanBuffer(spanRepo, &storage.SpanBufferConfig{
			BatchSize:     cfg.ClickHouse.Buffer.BatchSize,
			FlushInterval: cfg.ClickHouse.Buffer.FlushInterval,
			MaxSize:       cfg.ClickHouse.Buffer.MaxSize,
		})
		defer buffer.Close()

		log.Printf("span store initialized at %v", cfg.ClickHouse.Addresses)
	} else {
		log.Printf("ClickHouse disabled: span ingestion and alert evaluation are off")
	}

	// Analysis tuning, hot-reloaded on file change.
	source, err := tuning.NewSource(cfg.Tuning.Path)
	if err != nil {
		return fmt.Errorf("load tuning config: %w", err)
	}

	// Code search collaborator. An empty endpoint yields a client whose
	// searches report "unavailable" and correlation degrades to
	// temporal + path scoring.
	searcher := codesearch.NewClient(codesearch.Options{
		Endpoint:          cfg.CodeSearch.Endpoint,
		APIKey:            cfg.CodeSearch.APIKey,
		Timeout:           cfg.CodeSearch.Timeout,
		RequestsPerSecond: cfg.CodeSearch.RequestsPerSecond,
		Burst:             cfg.CodeSearch.Burst,
	})

	engine := correlate.NewEngine(store.Projects(), store.Repos(), searcher, source)

	// Notification dedup: Redis fences duplicates across instances,
	// otherwise dedup is process-local.
	var deduper notifier.Deduper
	var redisDeduper *notifier.RedisDeduper
	if cfg.Redis.Enabled {
		redisDeduper, err = notifier.NewRedisDeduper(notifier.RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer redisDeduper.Close()
		deduper = redisDeduper
		log.Printf("redis dedup enabled at %s", cfg.Redis.Addr)
	}

	dispatcher := notifier.NewDispatcher(store.Channels(), notifier.Options{
		Deduper: deduper,
	})

	// Signal handling
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := source.Start(ctx); err != nil {
		return fmt.Errorf("start tuning watcher: %w", err)
	}
	defer source.Stop()

	g, ctx := errgroup.WithContext(ctx)

	// Alert evaluation runs only with a span store to read metrics from.
	var inv api.Investigation
	if spanRepo != nil {
		metricSource := alerting.NewSpanMetricSource(spanRepo)
		traceAnalyzer := analyzer.New(spanRepo, source)

		inv = api.Investigation{
			MetricSource: metricSource,
			Analyzer:     traceAnalyzer,
			Correlator:   engine,
		}

		loop := alerting.NewLoop(
			alerting.LoopConfig{
				Interval:           cfg.Alerting.Interval,
				Refresh:            cfg.Alerting.Refresh,
				InvestigateTimeout: cfg.Server.InvestigateTimeout,
				MaxInvestigations:  cfg.Alerting.MaxInvestigations,
				Verbose:            cfg.Verbose,
			},
			store,
			alerting.NewEvaluator(metricSource),
			alerting.NewWriter(store.Alerts()),
			dispatcher,
			traceAnalyzer,
			engine,
		)
		g.Go(func() error {
			return loop.Run(ctx)
		})
	}

	// API server
	apiServer, err := api.New(&api.Config{
		Address:             cfg.Server.Address,
		JWTSecret:           []byte(jwtSecret),
		AdminAPIKey:         adminKey,
		HTTPTLSEnabled:      cfg.Server.TLS.Enabled,
		HTTPTLSCertFile:     cfg.Server.TLS.CertFile,
		HTTPTLSKeyFile:      cfg.Server.TLS.KeyFile,
		TokenTTL:            cfg.Server.TokenTTL,
		RateLimitPerIP:      cfg.Server.RateLimitPerIP,
		RateLimitPerProject: cfg.Server.RateLimitPerProject,
		MaxQueryRange:       cfg.Server.MaxQueryRange,
		QueryTimeout:        cfg.Server.QueryTimeout,
		InvestigateTimeout:  cfg.Server.InvestigateTimeout,
		Verbose:             cfg.Verbose,
	}, store, spanStore, buffer, inv)
	if err != nil {
		return fmt.Errorf("create api server: %w", err)
	}

	apiServer.RegisterHealthChecker(health.NewSQLiteChecker(store.DB()))
	if spanStore != nil {
		apiServer.RegisterHealthChecker(health.NewClickHouseChecker(spanStore))
	}
	if redisDeduper != nil {
		apiServer.RegisterHealthChecker(health.NewRedisChecker(redisDeduper))
	}

	g.Go(func() error {
		return apiServer.Run(ctx)
	})

	// Metrics endpoint
	if cfg.Metrics.Enabled {
		metricsServer := metrics.NewServer(cfg.Metrics.Address)
		g.Go(func() error {
			errCh := make(chan error, 1)
			go func() { errCh <- metricsServer.Start() }()
			select {
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return metricsServer.Shutdown(shutdownCtx)
			case err := <-errCh:
				return err
			}
		})
	}

	// Trigger history retention
	if cfg.Alerting.TriggerRetentionDays > 0 {
		g.Go(func() error {
			return sweepTriggers(ctx, store, cfg.Alerting.TriggerRetentionDays)
		})
	}

	log.Printf("starting spanlight-server %s", config.Version)

	if err := g.Wait(); err != nil && err != context.Canceled {
		return fmt.Errorf("run server: %w", err)
	}

	log.Printf("server stopped")
	return nil
}

// sweepTriggers deletes trigger records older than the retention
// window, once an hour.
func sweepTriggers(ctx context.Context, store storage.Storage, retentionDays int) error {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			cutoff := time.Now().AddDate(0, 0, -retentionDays)
			n, err := store.Triggers().DeleteBefore(ctx, cutoff)
			if err != nil {
				log.Printf("trigger retention sweep: %v", err)
				continue
			}
			if n > 0 {
				log.Printf("trigger retention: deleted %d triggers older than %d days", n, retentionDays)
			}
		}
	}
}

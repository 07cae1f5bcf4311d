// Searchd is the multimodal retrieval daemon. It fans queries out across
// per-modality vector collections, enriches hits from the metadata store,
// and serves ranked results with citation-bearing context bundles over HTTP.
//
// Configuration is loaded from a YAML file plus environment overrides.
//
// Usage:
//
//	# Start with defaults (embedded chromem index, local Postgres)
//	searchd
//
//	# Configure via file and environment
//	searchd -config /etc/searchd/config.yaml
//	SERVER_PORT=9080 VECTORINDEX_PROVIDER=qdrant searchd
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/searchd/internal/blob"
	"github.com/fyrsmithlabs/searchd/internal/config"
	"github.com/fyrsmithlabs/searchd/internal/embedding"
	"github.com/fyrsmithlabs/searchd/internal/httpapi"
	"github.com/fyrsmithlabs/searchd/internal/logging"
	"github.com/fyrsmithlabs/searchd/internal/metadata"
	"github.com/fyrsmithlabs/searchd/internal/retrieval"
	"github.com/fyrsmithlabs/searchd/internal/telemetry"
	"github.com/fyrsmithlabs/searchd/internal/vectorindex"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("searchd by Fyrsmith Labs\n")
		fmt.Printf("Version:    %s\n", version)
		fmt.Printf("Commit:     %s\n", gitCommit)
		fmt.Printf("Build Date: %s\n", buildDate)
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("searchd: %v", err)
	}
	log.Println("searchd: shutdown complete")
}

// run initializes all dependencies and blocks until the context is
// cancelled, then drains the server.
func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	tel, err := telemetry.New(ctx, &telemetry.Config{
		Enabled:        cfg.Observability.EnableTelemetry,
		Endpoint:       cfg.Observability.OTLPEndpoint,
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: version,
		Insecure:       true,
		SamplingRate:   1.0,
		ExportInterval: 15 * time.Second,
		ShutdownGrace:  5 * time.Second,
	})
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer func() { _ = tel.Shutdown(context.Background()) }()

	logger, err := initLogger(cfg, tel)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info(ctx, "starting searchd",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.String("vector_index", cfg.VectorIndex.Provider),
		zap.Bool("telemetry", cfg.Observability.EnableTelemetry))

	store, err := metadata.New(ctx, metadata.Config{
		DSN:             cfg.Metadata.DSN.Value(),
		MaxOpenConns:    cfg.Metadata.MaxOpenConns,
		MaxIdleConns:    cfg.Metadata.MaxIdleConns,
		ConnMaxLifetime: cfg.Metadata.ConnMaxLifetime.Duration(),
	}, logger.Named("metadata"))
	if err != nil {
		return fmt.Errorf("connecting to metadata store: %w", err)
	}
	defer func() { _ = store.Close() }()

	if err := store.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensuring metadata schema: %w", err)
	}

	var blobs blob.Store
	if cfg.Blob.Bucket != "" {
		s3store, err := blob.NewS3Store(ctx, blob.Config{
			Region:         cfg.Blob.Region,
			Bucket:         cfg.Blob.Bucket,
			Endpoint:       cfg.Blob.Endpoint,
			ForcePathStyle: cfg.Blob.ForcePathStyle,
			URLTTL:         cfg.Blob.URLTTL.Duration(),
		}, logger.Named("blob"))
		if err != nil {
			return fmt.Errorf("initializing blob store: %w", err)
		}
		blobs = s3store
	} else {
		logger.Warn(ctx, "no blob bucket configured, artifact URLs disabled")
	}

	index, err := vectorindex.New(ctx, cfg.VectorIndex, logger.Named("vectorindex"))
	if err != nil {
		return fmt.Errorf("initializing vector index: %w", err)
	}
	defer func() { _ = index.Close() }()

	hybrid, err := vectorindex.NewHybridFromConfig(index, cfg.VectorIndex, cfg.Search)
	if err != nil {
		return fmt.Errorf("configuring hybrid search: %w", err)
	}

	embedder, err := embedding.NewWorkerClient(embedding.Config{
		WorkerURL:  cfg.Embedding.WorkerURL,
		VectorSize: cfg.VectorIndex.VectorSize,
		Timeout:    cfg.Embedding.Timeout.Duration(),
		MaxRetries: cfg.Embedding.MaxRetries,
	}, logger.Named("embedding"))
	if err != nil {
		return fmt.Errorf("initializing embedding client: %w", err)
	}

	engine, err := retrieval.New(store, blobs, hybrid, embedder, retrieval.Config{
		VectorSize:            cfg.VectorIndex.VectorSize,
		DefaultLimit:          cfg.Search.DefaultLimit,
		MaxLimit:              cfg.Search.MaxLimit,
		SimilarityThreshold:   cfg.Search.SimilarityThreshold,
		MaxQueryBytes:         cfg.Search.MaxQueryBytes,
		EnrichmentTimeout:     cfg.Search.EnrichmentTimeout.Duration(),
		SessionWriteTimeout:   cfg.Search.SessionWriteTimeout.Duration(),
		EnrichmentConcurrency: cfg.Search.EnrichmentConcurrency,
		CacheSize:             cfg.Search.CacheSize,
		CacheTTL:              cfg.Search.CacheTTL.Duration(),
		SessionRetention:      time.Duration(cfg.Search.SessionRetentionHours) * time.Hour,
	}, logger.Named("retrieval"))
	if err != nil {
		return fmt.Errorf("initializing retrieval engine: %w", err)
	}

	go engine.RunSessionSweeper(ctx)

	srv, err := httpapi.NewServer(engine, logger.Named("http"), httpapi.Config{
		Host:               cfg.Server.Host,
		Port:               cfg.Server.Port,
		RequestTimeout:     cfg.Server.RequestTimeout.Duration(),
		InboundConcurrency: cfg.Server.InboundConcurrency,
	})
	if err != nil {
		return fmt.Errorf("initializing http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	return nil
}

// initLogger builds the structured logger, bridging to OTEL when the
// telemetry provider carries one.
func initLogger(cfg *config.Config, tel *telemetry.Telemetry) (*logging.Logger, error) {
	level, err := logging.LevelFromString(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	logCfg := logging.NewDefaultConfig()
	logCfg.Level = level
	logCfg.Format = cfg.Logging.Format
	logCfg.Output.OTEL = cfg.Observability.EnableTelemetry
	return logging.NewLogger(logCfg, tel.LoggerProvider())
}

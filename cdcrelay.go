package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/maxpert/cdcrelay/cfg"
	"github.com/maxpert/cdcrelay/dedupe"
	"github.com/maxpert/cdcrelay/enrich"
	"github.com/maxpert/cdcrelay/normalize"
	"github.com/maxpert/cdcrelay/pipeline"
	"github.com/maxpert/cdcrelay/publisher"
	_ "github.com/maxpert/cdcrelay/publisher/sink"
	"github.com/maxpert/cdcrelay/registry"
	"github.com/maxpert/cdcrelay/server"
	"github.com/maxpert/cdcrelay/telemetry"
	"github.com/maxpert/cdcrelay/tracing"
)

var (
	configPathFlag = flag.String("config", "", "Path to configuration file")
	listenFlag     = flag.String("listen", "", "Override HTTP listen address (host:port)")
)

const shutdownTimeout = 30 * time.Second

func main() {
	flag.Parse()

	conf, err := cfg.Load(*configPathFlag)
	if err != nil {
		panic(err)
	}
	if *listenFlag != "" {
		if err := applyListen(conf, *listenFlag); err != nil {
			panic(err)
		}
	}
	if err := conf.Validate(); err != nil {
		panic(fmt.Sprintf("Invalid configuration: %v", err))
	}

	setupLogging(conf)
	log.Info().Str("instance_id", conf.Service.InstanceID).Msg("cdcrelay - CDC relay")

	log.Debug().Msg("Initializing telemetry")
	telemetry.InitializeTelemetry(conf.Prometheus.Enabled, conf.Service.InstanceID)
	telemetry.InitMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := tracing.Init(ctx, conf.Tracing, conf.Service.Name, conf.Service.InstanceID); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize tracing")
	}

	repo, closeRepo := openRepository(ctx, conf.Enrichment)
	defer closeRepo()

	log.Info().Str("store", conf.Dedupe.Store).Msg("Opening dedupe store")
	store, err := dedupe.Open(ctx, conf.Dedupe)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open dedupe store")
	}
	defer store.Close()

	snk, err := publisher.NewSink(conf.Publisher)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create sink")
	}
	pub, err := publisher.New(publisher.ConfigFrom(conf.Publisher, snk))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create publisher")
	}
	defer pub.Close()

	var eventPub pipeline.EventPublisher = pub
	if conf.Publisher.FlushIntervalMS > 0 {
		batcher := publisher.NewBatcher(pub, time.Duration(conf.Publisher.FlushIntervalMS)*time.Millisecond)
		batcher.Start()
		defer batcher.Stop()
		eventPub = batcher
	}

	filter, err := pipeline.NewTableFilter(conf.Filter)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid table filter")
	}

	reg := registry.Default()
	normalizer := normalize.New(normalize.Options{
		Source:         conf.Service.Source,
		EventBusTarget: conf.Service.EventBus,
		Service:        conf.Service.Name,
		SchemaVersion:  conf.Service.SchemaVersion,
	})

	processor, err := pipeline.NewProcessor(
		pipeline.ConfigFrom(conf.Pipeline),
		reg,
		enrich.NewRouter(repo),
		normalizer,
		store,
		eventPub,
		pipeline.WithFilter(filter),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create pipeline")
	}

	srv := server.New(conf.HTTP, server.NewRouter(processor, conf.HTTP.MaxBodyBytes, conf.Prometheus.Enabled))
	if err := srv.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start HTTP server")
	}

	log.Info().
		Str("addr", srv.Addr()).
		Str("sink", conf.Publisher.Sink).
		Str("dedupe", conf.Dedupe.Store).
		Int("record_types", reg.Len()).
		Int("workers", conf.Pipeline.Workers).
		Msg("Relay is operational")

	<-ctx.Done()
	log.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("HTTP server shutdown incomplete")
	}
	tracing.Shutdown(shutdownCtx)
}

func setupLogging(conf *cfg.Configuration) {
	var writer io.Writer = zerolog.NewConsoleWriter()
	if conf.Logging.Format == "json" {
		writer = os.Stdout
	}
	gLog := zerolog.New(writer).
		With().
		Timestamp().
		Str("instance_id", conf.Service.InstanceID).
		Logger()

	if conf.Logging.Verbose {
		log.Logger = gLog.Level(zerolog.DebugLevel)
	} else {
		log.Logger = gLog.Level(zerolog.InfoLevel)
	}
}

// openRepository connects the lookup database. Without a DSN, lookup record
// types fail with a retryable error until one is configured.
func openRepository(ctx context.Context, conf cfg.EnrichmentConfiguration) (enrich.Repository, func()) {
	if conf.DSN == "" {
		log.Warn().Msg("No enrichment DSN configured, lookup record types will fail")
		return nil, func() {}
	}

	sqlRepo, err := enrich.OpenSQLRepository(ctx, conf)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open enrichment database")
	}
	closeFn := func() {
		if err := sqlRepo.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close enrichment database")
		}
	}

	if conf.CacheSize <= 0 {
		return sqlRepo, closeFn
	}
	ttl := time.Duration(conf.CacheTTLMS) * time.Millisecond
	log.Info().Int("size", conf.CacheSize).Dur("ttl", ttl).Msg("Enrichment lookup cache enabled")
	queryTimeout := time.Duration(conf.QueryTimeoutMS) * time.Millisecond
	return enrich.NewCachingRepository(sqlRepo, conf.CacheSize, ttl, enrich.WithFlightTimeout(queryTimeout)), closeFn
}

func applyListen(conf *cfg.Configuration, addr string) error {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid -listen %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("invalid -listen port %q: %w", portStr, err)
	}
	conf.HTTP.BindAddress = host
	conf.HTTP.Port = port
	return nil
}

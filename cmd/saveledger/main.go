package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"SaveLedger/internal/config"
	"SaveLedger/internal/core"
	"SaveLedger/internal/devnet"
	"SaveLedger/internal/ingestion"
	"SaveLedger/internal/observability"
	"SaveLedger/internal/persistence"
	"SaveLedger/internal/projection"
	"SaveLedger/internal/query"
	"SaveLedger/internal/registry"
	"SaveLedger/internal/server"

	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

func main() {
	logger := observability.NewLogger("main")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}
	logger = logger.Level(observability.ParseLogLevel(cfg.LogLevel))

	logger.Info().
		Str("http", cfg.HTTPAddr).
		Str("grpc", cfg.GRPCAddr).
		Str("metrics", cfg.MetricsAddr).
		Bool("postgres", !cfg.DisablePostgres).
		Bool("nats", !cfg.DisableNATS).
		Bool("trusted_ingress", cfg.TrustedIngress).
		Msg("SaveLedger starting")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// ctx governs ingress (HTTP, gRPC, NATS). workerCtx outlives it so the
	// output workers can drain after ingress has stopped.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker()

	// --- Postgres ---
	var db *sql.DB
	if !cfg.DisablePostgres {
		db, err = openPostgres(ctx, cfg, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres")
		}
		defer db.Close()
		healthChecker.SetComponent("postgres", true)
	}

	// --- NATS ---
	var (
		nc *nats.Conn
		js jetstream.JetStream
	)
	if !cfg.DisableNATS {
		nc, js, err = ingestion.ConnectNATS(cfg.NATSURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("nats connect")
		}
		defer nc.Close()
		if err := ingestion.EnsureStreams(ctx, js); err != nil {
			logger.Fatal().Err(err).Msg("ensure command stream")
		}
		if err := ingestion.EnsureOutboundStream(ctx, js); err != nil {
			logger.Fatal().Err(err).Msg("ensure outbound stream")
		}
		healthChecker.SetComponent("nats", true)
		logger.Info().Str("url", cfg.NATSURL).Msg("NATS connected")
	}

	// --- Output channels ---
	// Persist is blocking, so it exists only when something drains it.
	emitter := &core.ChannelEmitter{Metrics: metrics}
	var persistChan, projectionChan, publishChan chan core.Output
	if db != nil {
		persistChan = make(chan core.Output, cfg.PersistChanSize)
		projectionChan = make(chan core.Output, cfg.ProjectionChanSize)
		emitter.Persist = persistChan
		emitter.Projection = projectionChan
	}
	if js != nil {
		publishChan = make(chan core.Output, cfg.PublishChanSize)
		emitter.Publish = publishChan
	}

	// --- Share classes ---
	network, err := devnet.New(devnet.Config{Start: time.Now().UTC()},
		registry.WithLedgerOptions(core.WithEmitter(emitter)),
		registry.WithMetrics(metrics),
		registry.WithLogger(observability.NewLogger("registry")),
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("devnet")
	}
	classes, err := network.CreateDefaultClasses(ctx, cfg.AdminAddress)
	if err != nil {
		logger.Fatal().Err(err).Msg("create share classes")
	}
	for _, l := range classes {
		logger.Info().Str("symbol", l.Symbol()).Str("class_id", l.Class().ID.String()).Msg("share class ready")
	}

	// --- Idempotency ---
	var dbChecker core.DBIdempotencyChecker
	var pgChecker *persistence.PostgresIdempotencyChecker
	if db != nil {
		pgChecker = persistence.NewPostgresIdempotencyChecker(db)
		dbChecker = pgChecker
	}
	idempotency := core.NewIdempotencyChecker(cfg.IdempotencyLRUCapacity, dbChecker, metrics)
	if pgChecker != nil {
		keys, err := pgChecker.RecentKeys(ctx, cfg.IdempotencyLRUCapacity)
		if err != nil {
			logger.Warn().Err(err).Msg("idempotency warm-up failed, relying on database tier")
		} else {
			idempotency.Warm(keys)
			logger.Info().Int("keys", len(keys)).Msg("idempotency cache warmed")
		}
	}

	var dispatchOpts []ingestion.DispatcherOption
	if cfg.TrustedIngress {
		dispatchOpts = append(dispatchOpts, ingestion.WithTrustedIngress())
		logger.Warn().Msg("trusted ingress: command signatures are not checked")
	}
	dispatcher := ingestion.NewDispatcher(network.Registry, idempotency, metrics, observability.NewLogger("dispatcher"), dispatchOpts...)

	// --- Servers ---
	httpDeps := server.HTTPDeps{
		Classes:       network.Registry,
		Dispatcher:    dispatcher,
		HealthChecker: healthChecker,
		Metrics:       metrics,
	}
	if db != nil {
		httpDeps.History = query.NewQueryService(db)
	}
	httpServer, err := server.NewHTTPServer(cfg.HTTPAddr, httpDeps)
	if err != nil {
		logger.Fatal().Err(err).Msg("http server")
	}
	grpcServer := server.NewGRPCServer(cfg.GRPCAddr, network.Registry)

	errChan := make(chan error, 16)
	var ingress, workers sync.WaitGroup

	// --- Output workers ---
	if db != nil {
		persistWorker := persistence.NewPersistenceWorker(db, persistChan, cfg.PersistBatchSize, cfg.PersistFlushTimeout, metrics)
		goRun(&workers, errChan, "persistence", func() error { return persistWorker.Run(workerCtx) })

		projWorker := projection.NewProjectionWorker(db, projectionChan, metrics)
		goRun(&workers, errChan, "projection", func() error { return projWorker.Run(workerCtx) })

		snapshotter := persistence.NewSnapshotter(persistence.NewSnapshotManager(db), network.Registry, cfg.SnapshotInterval, metrics)
		goRun(&ingress, errChan, "snapshotter", func() error { return snapshotter.Run(ctx) })
	}
	if publishChan != nil {
		publisher := ingestion.NewOutboundPublisher(js, publishChan, metrics)
		goRun(&workers, errChan, "publisher", func() error { return publisher.Run(workerCtx) })
	}

	// --- Ingress ---
	var subscriber *ingestion.NATSSubscriber
	if js != nil {
		cmdChan := make(chan ingestion.RawCommand, cfg.CommandChanSize)
		subscriber = ingestion.NewNATSSubscriber(js, cmdChan)
		if err := subscriber.Subscribe(ctx, ingestion.DefaultSubjects()); err != nil {
			logger.Fatal().Err(err).Msg("nats subscribe")
		}
		goRun(&ingress, errChan, "dispatcher", func() error { return dispatcher.Run(ctx, cmdChan) })
		go reportChannels(ctx, metrics, map[string]func() (int, int){
			"commands": func() (int, int) { return len(cmdChan), cap(cmdChan) },
		})
	}
	goRun(&ingress, errChan, "http", func() error { return httpServer.Start(ctx) })
	goRun(&ingress, errChan, "grpc", func() error { return grpcServer.Start(ctx) })
	go driveClock(ctx, network.Clock)
	go reportChannels(ctx, metrics, outputGauges(persistChan, projectionChan, publishChan))

	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info().Str("addr", cfg.MetricsAddr).Msg("metrics server listening")
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	healthChecker.SetReady(true)
	logger.Info().Int("classes", network.Registry.Len()).Msg("SaveLedger ready")

	// --- Wait for shutdown signal ---
	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errChan:
		logger.Error().Err(err).Msg("component failed, shutting down")
	}

	// --- Graceful shutdown ---
	// Stop ingress first so no ledger emits after the output channels close.
	healthChecker.SetReady(false)
	if subscriber != nil {
		subscriber.Stop()
	}
	cancel()
	ingress.Wait()

	if persistChan != nil {
		close(persistChan)
		close(projectionChan)
	}
	if publishChan != nil {
		close(publishChan)
	}

	drained := make(chan struct{})
	go func() {
		workers.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		logger.Info().Msg("output workers drained")
	case <-time.After(30 * time.Second):
		logger.Error().Msg("output workers did not drain in time")
		workerCancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = metricsServer.Shutdown(shutdownCtx)

	logger.Info().Msg("SaveLedger shutdown complete")
}

func openPostgres(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	logger.Info().Msg("postgres connected")

	if err := persistence.NewMigrator(db, cfg.MigrationsDir).Up(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}
	return db, nil
}

// goRun starts fn under wg and reports an unexpected error on errChan
func goRun(wg *sync.WaitGroup, errChan chan<- error, name string, fn func() error) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := fn(); err != nil && !errors.Is(err, context.Canceled) {
			select {
			case errChan <- fmt.Errorf("%s: %w", name, err):
			default:
			}
		}
	}()
}

func metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// driveClock advances the devnet clock with wall time so venues accrue
func driveClock(ctx context.Context, clock *devnet.Clock) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			clock.Advance(now.Sub(last))
			last = now
		}
	}
}

func outputGauges(persist, projection, publish chan core.Output) map[string]func() (int, int) {
	gauges := make(map[string]func() (int, int))
	for name, ch := range map[string]chan core.Output{"persist": persist, "projection": projection, "publish": publish} {
		if ch == nil {
			continue
		}
		gauges[name] = func() (int, int) { return len(ch), cap(ch) }
	}
	return gauges
}

// reportChannels samples channel fill every second
func reportChannels(ctx context.Context, metrics *observability.Metrics, gauges map[string]func() (int, int)) {
	if len(gauges) == 0 {
		return
	}
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for name, g := range gauges {
				size, capacity := g()
				metrics.SetChannelMetrics(name, size, capacity)
			}
		}
	}
}

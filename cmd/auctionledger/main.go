package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"AuctionLedger/internal/auction"
	"AuctionLedger/internal/config"
	"AuctionLedger/internal/ingestion"
	"AuctionLedger/internal/liquidation"
	"AuctionLedger/internal/observability"
	"AuctionLedger/internal/persistence"
	"AuctionLedger/internal/position"
	"AuctionLedger/internal/projection"
	"AuctionLedger/internal/query"
	"AuctionLedger/internal/server"
	"AuctionLedger/internal/settlement"
	"AuctionLedger/internal/token"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to TOML configuration")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}
	if err := cfg.Validate(); err != nil {
		panic(err)
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := observability.NewLoggerWithLevel("main", level)
	logger.Info().Str("config", *configPath).Msg("auction ledger starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.Postgres.DSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres open")
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Postgres.MaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		logger.Fatal().Err(err).Msg("postgres ping")
	}
	if err := persistence.NewMigrator(db, "migrations").Up(ctx); err != nil {
		logger.Fatal().Err(err).Msg("run migrations")
	}
	logger.Info().Msg("postgres connected, migrations applied")

	// --- Recovery: event log head + open auctions ---
	head, err := persistence.LoadHead(ctx, db)
	if err != nil {
		logger.Fatal().Err(err).Msg("load event log head")
	}
	openAuctions, err := persistence.LoadOpenAuctions(ctx, db)
	if err != nil {
		logger.Fatal().Err(err).Msg("load open auctions")
	}
	registry := auction.NewRegistry()
	for _, a := range openAuctions {
		registry.Restore(a)
	}
	logger.Info().
		Int64("sequence", head.Sequence).
		Int("open_auctions", len(openAuctions)).
		Msg("recovered event log head")

	// --- Domain state ---
	vaults := position.NewLedger()
	for _, s := range cfg.Engine.Series {
		if err := vaults.AddSeries(position.Series{ID: s.ID, Rate: s.Rate}); err != nil {
			logger.Fatal().Err(err).Str("series", s.ID).Msg("add series")
		}
	}
	baseToken := token.NewLedger(cfg.Engine.BaseSymbol)
	collToken := token.NewLedger(cfg.Engine.CollateralSymbol)
	router := settlement.NewRouter(baseToken, collToken, cfg.Engine.JoinAccount, cfg.Engine.RouterAccount)

	// --- Observability ---
	metrics := observability.NewMetrics()
	health := observability.NewHealthChecker()

	// --- Channels ---
	persistCh := make(chan liquidation.Output, cfg.Engine.PersistChanSize)
	projectionCh := make(chan liquidation.Output, cfg.Engine.ProjectionChanSize)
	var publishCh chan liquidation.Output
	if cfg.NATS.Enabled {
		publishCh = make(chan liquidation.Output, cfg.Engine.PublishChanSize)
	}

	// --- Controller ---
	var resumeHash *[32]byte
	if head.Sequence > 0 {
		h := head.StateHash
		resumeHash = &h
	}
	ctrlCfg := liquidation.Config{
		Registry:  registry,
		Vaults:    vaults,
		Router:    router,
		Custodian: cfg.Engine.Custodian,
		Params: liquidation.Params{
			Duration:     cfg.Auction.DurationSeconds,
			InitialOffer: cfg.Auction.InitialOffer,
			Dust:         cfg.Auction.Dust,
		},
		PersistChan:    persistCh,
		ProjectionChan: projectionCh,
		Logger:         observability.NewLoggerWithLevel("liquidation", level),
		Metrics:        metrics,
		StartSequence:  head.Sequence,
		ResumeHash:     resumeHash,
	}
	if publishCh != nil {
		ctrlCfg.PublishChan = publishCh
	}
	ctrl, err := liquidation.New(ctrlCfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("build controller")
	}

	// Workers get their own context so they keep draining after the API
	// stops accepting requests.
	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()
	var wg sync.WaitGroup

	// --- Persistence worker ---
	persistRows := make(chan persistence.EventRow, cfg.Engine.PersistChanSize)
	wg.Add(1)
	go func() {
		defer wg.Done()
		bridgePersist(workerCtx, persistCh, persistRows)
	}()
	persistWorker := persistence.NewWorker(db, persistRows, cfg.Engine.PersistBatchSize, cfg.PersistFlushTimeout(), metrics)
	wg.Add(1)
	go func() {
		defer wg.Done()
		persistWorker.Run(workerCtx)
	}()

	// --- Projection worker ---
	projUpdates := make(chan projection.Update, cfg.Engine.ProjectionChanSize)
	wg.Add(1)
	go func() {
		defer wg.Done()
		bridgeProjection(workerCtx, projectionCh, projUpdates)
	}()
	projWorker := projection.NewWorker(db, projUpdates)
	wg.Add(1)
	go func() {
		defer wg.Done()
		projWorker.Run(workerCtx)
	}()

	// --- NATS ingestion and outbound publishing ---
	var subscriber *ingestion.CommandSubscriber
	if cfg.NATS.Enabled {
		nc, js, err := ingestion.ConnectNATS(cfg.NATS.URL)
		if err != nil {
			logger.Fatal().Err(err).Msg("nats connect")
		}
		defer nc.Close()

		if err := ingestion.EnsureStreams(ctx, js); err != nil {
			logger.Fatal().Err(err).Msg("ensure command streams")
		}
		if err := ingestion.EnsureOutboundStream(ctx, js); err != nil {
			logger.Fatal().Err(err).Msg("ensure outbound stream")
		}

		commands := make(chan ingestion.RawCommand, 256)
		subscriber = ingestion.NewCommandSubscriber(js, commands)
		if err := subscriber.Subscribe(workerCtx, ingestion.DefaultSubjects()); err != nil {
			logger.Fatal().Err(err).Msg("subscribe commands")
		}

		dedup := ingestion.NewIdempotencyChecker(
			cfg.Engine.DedupLRUCapacity,
			persistence.NewPostgresIdempotencyChecker(db),
			metrics,
		)
		runner := ingestion.NewRunner(commands, ctrl, dedup, observability.NewLoggerWithLevel("ingestion", level), metrics)
		wg.Add(1)
		go func() {
			defer wg.Done()
			runner.Run(workerCtx)
		}()

		pubEvents := make(chan ingestion.PublishableEvent, cfg.Engine.PublishChanSize)
		wg.Add(1)
		go func() {
			defer wg.Done()
			bridgePublish(workerCtx, publishCh, pubEvents)
		}()
		publisher := ingestion.NewOutboundPublisher(js, pubEvents)
		wg.Add(1)
		go func() {
			defer wg.Done()
			publisher.Run(workerCtx)
		}()
	} else {
		logger.Warn().Msg("nats disabled, commands accepted over HTTP only")
	}

	// --- Channel utilization gauge loop ---
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-workerCtx.Done():
				return
			case <-ticker.C:
				metrics.SetChannelMetrics("persist", len(persistCh), cap(persistCh))
				metrics.SetChannelMetrics("projection", len(projectionCh), cap(projectionCh))
				if publishCh != nil {
					metrics.SetChannelMetrics("publish", len(publishCh), cap(publishCh))
				}
			}
		}
	}()

	// --- HTTP API ---
	api := server.New(ctrl, query.NewService(db), cfg.Server.AdminToken, observability.NewLoggerWithLevel("server", level), metrics)
	apiSrv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", cfg.Server.Addr).Msg("api listening")
		if err := apiSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("api server")
			stop()
		}
	}()

	// --- Metrics and health listener ---
	opsMux := http.NewServeMux()
	opsMux.Handle("/metrics", promhttp.Handler())
	opsMux.HandleFunc("/healthz", health.LivenessHandler)
	opsMux.HandleFunc("/readyz", health.ReadinessHandler)
	opsSrv := &http.Server{
		Addr:              cfg.Server.MetricsAddr,
		Handler:           opsMux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", cfg.Server.MetricsAddr).Msg("metrics listening")
		if err := opsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics server")
		}
	}()

	health.SetReady(true)
	logger.Info().Msg("auction ledger ready")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")
	health.SetReady(false)

	// Stop intake first, then let the workers drain.
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()
	if err := apiSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("api shutdown")
	}
	if subscriber != nil {
		subscriber.Stop()
	}
	time.Sleep(200 * time.Millisecond)
	cancelWorkers()
	opsSrv.Shutdown(shutdownCtx)

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		logger.Warn().Msg("workers did not drain before timeout")
	}

	logger.Info().Int64("sequence", ctrl.Sequence()).Msg("auction ledger stopped")
	os.Exit(0)
}

// bridgePersist converts controller outputs into event log rows. Sends
// block end to end: the controller stalls before the log loses an event.
func bridgePersist(ctx context.Context, in <-chan liquidation.Output, out chan<- persistence.EventRow) {
	for {
		select {
		case <-ctx.Done():
			// Drain whatever the controller already emitted.
			for {
				select {
				case o := <-in:
					out <- toEventRow(o)
				default:
					close(out)
					return
				}
			}
		case o := <-in:
			out <- toEventRow(o)
		}
	}
}

func toEventRow(o liquidation.Output) persistence.EventRow {
	env := o.Envelope
	var vault *string
	if env.Vault != "" {
		v := env.Vault
		vault = &v
	}
	return persistence.EventRow{
		Sequence:       env.Sequence,
		EventType:      env.EventType.String(),
		IdempotencyKey: env.IdempotencyKey,
		Vault:          vault,
		Payload:        env.Payload,
		StateHash:      env.StateHash[:],
		PrevHash:       env.PrevHash[:],
		Timestamp:      env.Timestamp,
	}
}

func bridgeProjection(ctx context.Context, in <-chan liquidation.Output, out chan<- projection.Update) {
	for {
		select {
		case <-ctx.Done():
			return
		case o := <-in:
			select {
			case out <- projection.Update{
				Sequence:  o.Envelope.Sequence,
				EventType: o.Envelope.EventType,
				Vault:     o.Envelope.Vault,
				Payload:   o.Envelope.Payload,
			}:
			case <-ctx.Done():
				return
			}
		}
	}
}

func bridgePublish(ctx context.Context, in <-chan liquidation.Output, out chan<- ingestion.PublishableEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case o := <-in:
			env := o.Envelope
			select {
			case out <- ingestion.PublishableEvent{
				Sequence:       env.Sequence,
				EventType:      env.EventType.String(),
				IdempotencyKey: env.IdempotencyKey,
				Vault:          env.Vault,
				Payload:        o.Event,
				StateHash:      env.StateHash[:],
				Timestamp:      env.Timestamp,
			}:
			case <-ctx.Done():
				return
			}
		}
	}
}

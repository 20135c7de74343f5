package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"PerpIndexer/internal/config"
	"PerpIndexer/internal/core"
	"PerpIndexer/internal/ingestion"
	"PerpIndexer/internal/ledger"
	"PerpIndexer/internal/observability"
	"PerpIndexer/internal/oracle"
	"PerpIndexer/internal/persistence"
	"PerpIndexer/internal/query"
)

func main() {
	log := observability.NewLogger("main")
	cfg := config.Default()

	net, err := config.ResolveNetwork(cfg.Network, cfg.NetworksFile)
	if err != nil {
		log.Fatal().Err(err).Msg("resolve network")
	}
	log.Info().Str("network", net.Name).Str("factory", net.FactoryAddress).
		Msg("perpindexer starting")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	metrics := observability.NewMetrics()
	health := observability.NewHealthChecker()

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("postgres open")
	}
	defer db.Close()

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		log.Fatal().Err(err).Msg("postgres ping")
	}
	log.Info().Msg("postgres connected")

	migrator := persistence.NewMigrator(db, cfg.MigrationsDir, observability.NewLogger("migrate"))
	if err := migrator.Up(ctx); err != nil {
		log.Fatal().Err(err).Msg("run migrations")
	}

	// --- NATS ---
	nc, js, err := ingestion.ConnectNATS(cfg.NATSURL, observability.NewLogger("nats"))
	if err != nil {
		log.Fatal().Err(err).Msg("nats connect")
	}
	defer nc.Close()

	if err := ingestion.EnsureStreams(ctx, js, observability.NewLogger("nats")); err != nil {
		log.Fatal().Err(err).Msg("ensure streams")
	}

	// --- Channels ---
	rawEvents := make(chan ingestion.RawEvent, cfg.EventChanSize)
	routerOut := make(chan core.Output, cfg.EventChanSize)
	persistIn := make(chan persistence.Output, cfg.PersistChanSize)

	// --- Router ---
	// The settlement currency is a USD stablecoin, so a fixed price of 1
	// values margin exactly. On-chain metadata lookup is not wired; the
	// resolver serves the settlement token from config.
	resolver := oracle.StaticResolver{
		ledger.TokenID(net.SettlementToken): {Name: "Synth sUSD", Symbol: "sUSD", Decimals: 18},
	}
	router := core.NewRouter(
		ledger.NewMemStore(),
		oracle.NewFixedPricer(decimal.NewFromInt(1)),
		resolver,
		net,
		metrics,
		observability.NewLogger("core"),
		routerOut,
	)

	errChan := make(chan error, 4)

	// --- Persistence worker ---
	worker := persistence.NewWorker(db, persistIn, cfg.PersistBatchSize, cfg.PersistFlushTimeout,
		metrics, observability.NewLogger("persistence"))
	go func() {
		errChan <- worker.Run(ctx)
	}()

	// --- Bridge: router output → persistence rows ---
	go func() {
		defer close(persistIn)
		for out := range routerOut {
			batch, err := marshalOutput(out)
			if err != nil {
				log.Error().Err(err).Str("kind", out.Kind.String()).
					Int64("block", out.Ctx.BlockNumber).Msg("marshal entities")
				continue
			}
			select {
			case persistIn <- batch:
			case <-ctx.Done():
				return
			}
		}
	}()

	// --- Apply loop: NATS raw events → router ---
	go func() {
		defer close(routerOut)
		runApplyLoop(ctx, rawEvents, router, metrics, observability.NewLogger("apply"))
	}()

	// --- Subscriber ---
	subscriber := ingestion.NewNATSSubscriber(js, rawEvents, observability.NewLogger("ingestion"))
	if err := subscriber.Subscribe(ctx, ingestion.DefaultSubjects()); err != nil {
		log.Fatal().Err(err).Msg("nats subscribe")
	}

	// --- Channel gauges ---
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				metrics.SetChannelMetrics("raw_events", len(rawEvents), cap(rawEvents))
				metrics.SetChannelMetrics("router_out", len(routerOut), cap(routerOut))
				metrics.SetChannelMetrics("persist_in", len(persistIn), cap(persistIn))
			}
		}
	}()

	// --- HTTP surfaces ---
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	startServer(ctx, errChan, "metrics", cfg.MetricsAddr, metricsMux, log)

	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/healthz", health.LivenessHandler)
	healthMux.HandleFunc("/readyz", health.ReadinessHandler)
	startServer(ctx, errChan, "health", cfg.HealthAddr, healthMux, log)

	queryHandler := query.NewHandler(query.NewService(db), metrics, observability.NewLogger("query"))
	startServer(ctx, errChan, "query", cfg.QueryAddr, queryHandler.Mux(), log)

	health.SetReady(true)
	log.Info().Str("query", cfg.QueryAddr).Str("metrics", cfg.MetricsAddr).
		Str("health", cfg.HealthAddr).Msg("perpindexer ready")

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errChan:
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("component failed, shutting down")
		}
	}

	cancel()
	subscriber.Stop()

	// Give the persistence worker time for its final flush.
	time.Sleep(2 * time.Second)
	log.Info().Msg("perpindexer shutdown complete")
}

// runApplyLoop drains raw NATS events, decodes them, and feeds the
// router. ACK discipline: applied events and permanent rejects (bad
// payload, already-applied coordinates) are acked; transient handler
// failures are nacked for redelivery.
func runApplyLoop(
	ctx context.Context,
	rawEvents <-chan ingestion.RawEvent,
	router *core.Router,
	metrics *observability.Metrics,
	log zerolog.Logger,
) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-rawEvents:
			if !ok {
				return
			}

			evt, err := ingestion.ParseRawEvent(raw.Kind, raw.Data)
			if err != nil {
				log.Warn().Err(err).Str("subject", raw.Subject).Msg("unparseable event")
				raw.AckFunc()
				continue
			}

			if err := router.Process(evt); err != nil {
				var stale *core.OutOfOrderError
				if errors.As(err, &stale) {
					// Redelivery of an already-applied event.
					raw.AckFunc()
					continue
				}
				log.Error().Err(err).Str("subject", raw.Subject).Msg("apply failed")
				raw.NakFunc()
				continue
			}

			if metrics != nil {
				metrics.IngestToApply.WithLabelValues(evt.Kind().String()).
					Observe(time.Since(raw.Timestamp).Seconds())
			}
			raw.AckFunc()
		}
	}
}

// marshalOutput serializes one committed event's dirty entities into a
// persistence batch.
func marshalOutput(out core.Output) (persistence.Output, error) {
	rows := make([]persistence.EntityRow, 0, len(out.Entities))
	for _, d := range out.Entities {
		data, err := json.Marshal(d.Entity)
		if err != nil {
			return persistence.Output{}, errors.Wrapf(err, "marshal %s %s", d.Kind, d.ID)
		}
		rows = append(rows, persistence.EntityRow{
			Kind: string(d.Kind),
			ID:   d.ID,
			Data: data,
		})
	}
	return persistence.Output{
		BatchID:   uuid.New(),
		Rows:      rows,
		Block:     out.Ctx.BlockNumber,
		Timestamp: out.Ctx.Timestamp,
	}, nil
}

func startServer(ctx context.Context, errChan chan<- error, name, addr string, handler http.Handler, log zerolog.Logger) {
	srv := &http.Server{Addr: addr, Handler: handler}
	go func() {
		<-ctx.Done()
		shutCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
		defer c()
		srv.Shutdown(shutCtx)
	}()
	go func() {
		log.Info().Str("addr", addr).Msgf("%s server listening", name)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- errors.Wrapf(err, "%s server", name)
		}
	}()
}

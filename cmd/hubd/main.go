// Command hubd is the signaling hub process entrypoint: it loads
// configuration, wires every collaborator together, and serves the
// WebSocket signaling endpoint alongside the REST and admin HTTP
// surfaces until told to shut down. Grounded in ws/main.go's flag ->
// config -> server -> signal-wait shape.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/callhub/signalhub/internal/adminapi"
	"github.com/callhub/signalhub/internal/bus"
	"github.com/callhub/signalhub/internal/calltracker"
	"github.com/callhub/signalhub/internal/config"
	"github.com/callhub/signalhub/internal/envelope"
	"github.com/callhub/signalhub/internal/events"
	"github.com/callhub/signalhub/internal/httpapi"
	"github.com/callhub/signalhub/internal/ledger"
	"github.com/callhub/signalhub/internal/logging"
	"github.com/callhub/signalhub/internal/metrics"
	"github.com/callhub/signalhub/internal/policy"
	"github.com/callhub/signalhub/internal/ratelimit"
	"github.com/callhub/signalhub/internal/registry"
	"github.com/callhub/signalhub/internal/resource"
	"github.com/callhub/signalhub/internal/signaling"
	"github.com/callhub/signalhub/internal/store"
	"github.com/callhub/signalhub/internal/store/memory"
	"github.com/callhub/signalhub/internal/store/postgres"
	"github.com/callhub/signalhub/internal/tokens"
	"github.com/callhub/signalhub/internal/usage"
)

func main() {
	debug := flag.Bool("debug", false, "enable debug logging (overrides LOG_LEVEL)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	if *debug {
		cfg.LogLevel = "debug"
	}

	logger := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})

	if _, err := maxprocs.Set(maxprocs.Logger(func(format string, args ...interface{}) {
		logger.Info().Msgf(format, args...)
	})); err != nil {
		logger.Warn().Err(err).Msg("failed to set GOMAXPROCS from cgroup limits")
	}

	cfg.LogConfig(logger)

	st, closeStore, err := openStore(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open store")
	}
	defer closeStore()

	reg := registry.New()
	verifier := envelope.NewVerifier(reg)
	rings := ratelimit.NewRingLimiter()
	usageSvc := usage.New(st.Usage())
	policyEngine := policy.New(st.Policies(), st.Contacts(), st.Passes(), st.ActiveCalls(), usageSvc, rings)
	ledgerSvc := ledger.New(st.Conversations())
	tracker := calltracker.New(st.ActiveCalls(), usageSvc, logger)
	connLimiter := ratelimit.NewConnectionLimiter(ratelimit.ConnectionLimiterConfig{})

	msgBus, err := bus.Connect(cfg.NATSURL, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("bus: continuing without cross-instance fan-out")
	}
	if msgBus != nil {
		defer msgBus.Close()
		if err := msgBus.Subscribe(reg); err != nil {
			logger.Warn().Err(err).Msg("bus: subscribe failed")
		}
	}

	auditStream, err := events.Connect(cfg.KafkaBrokers, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("events: continuing without audit stream")
	}
	if auditStream != nil {
		defer auditStream.Close()
	}

	tokenSvc := tokens.New(st.Tokens(), cfg).WithAudit(auditStream)

	var liveConnections atomic.Int64
	guard := resource.New(cfg, logger, &liveConnections)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	guard.StartMonitoring(ctx, 15*time.Second)
	go pollConnectionCount(ctx, reg, &liveConnections, 5*time.Second)
	go tracker.RunSweeper(ctx, calltracker.DefaultSweepInterval, func(ended []calltracker.Ended) {
		for _, e := range ended {
			logger.Info().Str("call_session_id", e.Call.CallSessionID).Str("reason", string(e.Reason)).Msg("call swept")
			auditStream.Emit(ctx, events.KindCallEnded, e.Call.CallerAddress, map[string]any{
				"call_session_id": e.Call.CallSessionID,
				"reason":          string(e.Reason),
			})
		}
	})

	// Nonce memos and idle per-IP connection-limiter entries are pruned on
	// the call sweeper's cadence.
	go func() {
		ticker := time.NewTicker(calltracker.DefaultSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case now := <-ticker.C:
				verifier.Nonces().Prune(now)
				connLimiter.Cleanup(now)
			case <-ctx.Done():
				return
			}
		}
	}()

	signalingServer := signaling.New(signaling.Deps{
		Config:      cfg,
		Registry:    reg,
		Verifier:    verifier,
		Policy:      policyEngine,
		Tokens:      tokenSvc,
		Ledger:      ledgerSvc,
		Tracker:     tracker,
		Usage:       usageSvc,
		Identities:  st.Identities(),
		Contacts:    st.Contacts(),
		Policies:    st.Policies(),
		Passes:      st.Passes(),
		ConnLimiter: connLimiter,
		Logger:      logger,
	})

	restServer := httpapi.New(cfg, tokenSvc, ledgerSvc, st.Identities(), logger)

	adminJWT := adminapi.NewJWTManager(cfg.AdminJWTSecret, 24*time.Hour)
	adminServer := adminapi.New(adminJWT, st.Identities(), logger)

	mux := http.NewServeMux()
	mux.Handle("/ws", admissionGuard(guard, logger, signalingServer))
	mux.Handle("/api/", restServer.Mux())
	mux.Handle("/admin/", adminServer.Mux())

	httpSrv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	metricsSrv := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           metrics.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.MetricsAddr).Msg("metrics listening")
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics server failed")
		}
	}()

	go func() {
		logger.Info().Str("addr", cfg.Addr).Msg("hubd listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("hub server failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("hub server shutdown error")
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("metrics server shutdown error")
	}
}

// openStore picks the postgres-backed store when DATABASE_URL is set,
// applying the schema on first connect, and otherwise falls back to the
// in-memory store for single-process / local-dev deployments (SPEC_FULL.md
// Open Question 1).
func openStore(cfg *config.Config, logger zerolog.Logger) (store.Store, func(), error) {
	if cfg.DatabaseURL == "" {
		logger.Info().Msg("DATABASE_URL unset, using in-memory store")
		return memory.New(), func() {}, nil
	}

	db, err := sqlx.Connect("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	if _, err := db.Exec(postgres.Schema); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("apply schema: %w", err)
	}

	logger.Info().Msg("using postgres-backed store")
	return postgres.New(db), func() { _ = db.Close() }, nil
}

// admissionGuard rejects /ws upgrades the resource guard says this
// instance cannot afford, before the request ever reaches the
// signaling server's own connection-count and rate-limit checks.
func admissionGuard(guard *resource.Guard, logger zerolog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if accept, reason := guard.ShouldAcceptConnection(); !accept {
			logger.Debug().Str("reason", reason).Msg("connection rejected by resource guard")
			http.Error(w, reason, http.StatusServiceUnavailable)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// pollConnectionCount keeps counter in sync with the registry's live
// connection count, so the resource guard's hard connection-limit check
// reflects reality without the registry needing to know about the guard.
func pollConnectionCount(ctx context.Context, reg *registry.Registry, counter *atomic.Int64, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			counter.Store(int64(reg.Count()))
		case <-ctx.Done():
			return
		}
	}
}

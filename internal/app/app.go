// Package app wires the timestamp mediator's components into a runnable
// process: configuration, infrastructure connections, the six core
// components (C1-C6), and the ambient HTTP surface, with graceful
// shutdown in reverse acquisition order.
package app

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/sentrytsa/tsamediator/internal/config"
	"github.com/sentrytsa/tsamediator/internal/httpserver"
	"github.com/sentrytsa/tsamediator/internal/platform"
	"github.com/sentrytsa/tsamediator/internal/telemetry"
	"github.com/sentrytsa/tsamediator/pkg/asn1tsp"
	"github.com/sentrytsa/tsamediator/pkg/failover"
	"github.com/sentrytsa/tsamediator/pkg/health"
	"github.com/sentrytsa/tsamediator/pkg/orchestrator"
	"github.com/sentrytsa/tsamediator/pkg/policy"
	"github.com/sentrytsa/tsamediator/pkg/provider"
	"github.com/sentrytsa/tsamediator/pkg/tokenvalidator"
)

// seedProviderIDs is the built-in set of well-known TSAs the mediator wires
// up HTTP adapters for at startup, matching policy.DefaultPolicy's
// routing_priority. A deployment with a different provider set configures
// its tenants' routing_priority accordingly; these three cover the bundled
// default.
var seedProviderIDs = []string{"digicert", "globalsign", "sectigo"}

// Application holds every wired component of a running mediator instance.
// Orchestrator is the single public entry point (C6) an embedding program
// calls into to issue a verified timestamp; this repo itself exposes no
// REST/HTTP business API over it, per the non-goals its HTTP surface
// deliberately stops short of.
type Application struct {
	Orchestrator *orchestrator.Orchestrator
	Policies     *policy.Manager
	Monitor      *health.Monitor
	Registry     *provider.Registry
	Metrics      *prometheus.Registry

	logger      *slog.Logger
	db          *pgxpool.Pool
	rdb         *redis.Client
	auditWriter *policy.AuditWriter
	httpServer  *httpserver.Server
	addr        string

	cancelProbes context.CancelFunc
}

// New connects to infrastructure and wires C1-C6 into a ready-to-serve
// Application. Call Serve to run the ambient HTTP surface and synthetic
// health probes, and Close to release every acquired resource.
func New(ctx context.Context, cfg *config.Config) (*Application, error) {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)
	logger.Info("starting tsamediator", "listen", cfg.ListenAddr())

	db, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	rdb, err := platform.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	metricsReg := telemetry.NewMetricsRegistry(telemetry.All()...)

	// C1: provider registry, seeded from the well-known TSA directory.
	registry := provider.NewRegistry()
	for _, id := range seedProviderIDs {
		info, ok := provider.WellKnownTSAServers[id]
		if !ok {
			continue
		}
		registry.Register(provider.NewHTTPAdapter(provider.HTTPConfig{
			ID:      id,
			URL:     info.URL,
			Timeout: cfg.ProviderTimeout,
		}, nil, logger))
	}

	// C2: health monitor, fanning transitions out to Slack (if configured)
	// and Redis pub/sub.
	slackNotifier := health.NewSlackNotifier(cfg.SlackBotToken, cfg.SlackAlertChannel, logger)
	if slackNotifier.IsEnabled() {
		logger.Info("slack ops-visibility notifications enabled", "channel", cfg.SlackAlertChannel)
	} else {
		logger.Info("slack ops-visibility notifications disabled (SLACK_BOT_TOKEN not set)")
	}
	redisNotifier := health.NewRedisNotifier(rdb, logger)
	notifier := health.NewMultiNotifier(slackNotifier, redisNotifier)

	monitor := health.NewMonitor(logger, notifier)
	for _, id := range registry.IDs() {
		monitor.Register(id)
	}

	probeCtx, cancelProbes := context.WithCancel(ctx)
	go monitor.RunProbes(probeCtx, registry.IDs(), probeFunc(registry))

	// C3: failover controller, with a Redis-backed per-tenant hedge burst limiter.
	burstLimiter := failover.NewHedgeBurstLimiter(rdb, cfg.HedgeBurstMax, cfg.HedgeBurstWindow)
	foController := failover.NewController(registry, monitor, cfg.HedgeDelay, burstLimiter)

	// C4: policy manager, backed by Postgres and an async audit writer.
	store := policy.NewStore(db)
	auditWriter := policy.NewAuditWriter(store, logger)
	auditWriter.Start(ctx)

	knownProviderIDsFn := func() map[string]bool {
		ids := make(map[string]bool, len(registry.IDs()))
		for _, id := range registry.IDs() {
			ids[id] = true
		}
		return ids
	}
	policyMgr := policy.NewManager(store, auditWriter, logger, knownProviderIDsFn)

	// C5: token validator, with real chain/CMS verifiers (no placeholders).
	chainValidator := tokenvalidator.NewDefaultChainValidator(nil, logger)
	cmsVerifier := tokenvalidator.NewDefaultCMSVerifier()
	validator := tokenvalidator.New(chainValidator, cmsVerifier, nil)

	// C6: request orchestrator, the single public entry point tying C3-C5 together.
	orch := orchestrator.New(policyMgr, foController, validator)

	// Ambient HTTP surface: /healthz, /readyz, /metrics only.
	srv := httpserver.NewServer(logger, db, rdb, metricsReg, monitor)

	return &Application{
		Orchestrator: orch,
		Policies:     policyMgr,
		Monitor:      monitor,
		Registry:     registry,
		Metrics:      metricsReg,

		logger:       logger,
		db:           db,
		rdb:          rdb,
		auditWriter:  auditWriter,
		httpServer:   srv,
		addr:         cfg.ListenAddr(),
		cancelProbes: cancelProbes,
	}, nil
}

// Serve runs the ambient HTTP surface until ctx is cancelled or the server
// fails, then shuts it down gracefully.
func (a *Application) Serve(ctx context.Context) error {
	httpSrv := &http.Server{
		Addr:         a.addr,
		Handler:      a.httpServer,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("ambient http server listening", "addr", a.addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// Close releases every resource Application acquired, in the reverse of
// acquisition order.
func (a *Application) Close() {
	a.cancelProbes()
	a.auditWriter.Close()
	if err := a.rdb.Close(); err != nil {
		a.logger.Error("closing redis", "error", err)
	}
	a.db.Close()
}

// probeFunc builds a health.Probe that sends a lightweight synthetic
// timestamp request to providerID and classifies the outcome the same way
// real traffic is classified, so synthetic probes and live attempts share
// one code path.
func probeFunc(registry *provider.Registry) health.Probe {
	return func(ctx context.Context, providerID string) (bool, time.Duration, string) {
		adapter, err := registry.Get(providerID)
		if err != nil {
			return false, 0, provider.ErrConnectionFailure
		}
		nonce, err := provider.NewNonce()
		if err != nil {
			return false, 0, provider.ErrSystemFailure
		}
		req := probeRequest(nonce)
		out := adapter.SendRequest(ctx, req)
		return out.Success, out.Latency, out.Error
	}
}

// probeMarker is hashed into every synthetic probe's message imprint. Its
// content is arbitrary; only its digest matters, and probe responses are
// never validated against it since probes never route through C5.
var probeMarker = sha256.Sum256([]byte("tsamediator-health-probe"))

func probeRequest(nonce *big.Int) asn1tsp.Request {
	return asn1tsp.Request{
		MessageImprint: asn1tsp.MessageImprint{
			HashAlgorithm: asn1tsp.OIDSHA256,
			HashedMessage: probeMarker[:],
		},
		Nonce:   nonce,
		CertReq: false,
	}
}

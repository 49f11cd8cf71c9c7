package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/okian/proctor/internal/adapters/http/api"
	"github.com/okian/proctor/internal/adapters/live"
	app "github.com/okian/proctor/internal/app"
	"github.com/okian/proctor/internal/auth"
	"github.com/okian/proctor/internal/config"
	"github.com/okian/proctor/internal/domain/scoring"
	"github.com/okian/proctor/internal/supervisor"
	"github.com/okian/proctor/pkg/logger"
	"github.com/okian/proctor/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// HTTP server timeout constants.
const (
	readTimeout               = 10 * time.Second
	writeTimeout              = 30 * time.Second
	idleTimeout               = 60 * time.Second
	readHeaderTimeout         = 5 * time.Second
	shutdownTimeout           = 30 * time.Second
	systemMetricsInterval     = 10 * time.Second
	serviceMetricsInterval    = 5 * time.Second
	nanosecondsPerMillisecond = 1e6
)

func main() {
	var (
		issueRole = flag.String("issue-token", "", "Print a bearer token for the given role (candidate, examiner, admin) and exit")
		issueID   = flag.String("id", "", "Principal ID for -issue-token")
		issueName = flag.String("name", "", "Display name for -issue-token")
		issueMail = flag.String("email", "", "Email for -issue-token")
	)
	flag.Parse()

	// Disable default Go metrics collection to avoid duplicate metrics
	// We collect our own custom system metrics instead
	prometheus.Unregister(collectors.NewGoCollector())
	prometheus.Unregister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration (defaults -> optional file -> env)
	cfg, err := config.Load(ctx)
	if err != nil {
		// Use fmt for initialization errors since logger isn't available yet
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}

	if *issueRole != "" {
		tok, err := issueToken(cfg, *issueRole, *issueID, *issueName, *issueMail)
		if err != nil {
			os.Stderr.WriteString("failed to issue token: " + err.Error() + "\n")
			os.Exit(1)
		}
		os.Stdout.WriteString(tok + "\n")
		return
	}

	// Initialize logging
	if err := logger.Init(logger.WithFormat(cfg.LogFormat)); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() {
		if err := logger.Sync(); err != nil {
			os.Stderr.WriteString("failed to sync logger: " + err.Error() + "\n")
		}
	}()

	loggerInstance := logger.Get()

	// Apply configured log level (fallback to info on invalid input)
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		loggerInstance.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	if err := run(ctx, cfg); err != nil {
		loggerInstance.Error(ctx, "server stopped with error", logger.Error(err))
		os.Exit(1)
	}
	loggerInstance.Info(ctx, "server stopped")
}

// issueToken mints a token with the configured secret, for local testing.
func issueToken(cfg *config.Config, role, id, name, email string) (string, error) {
	r, err := auth.ParseRole(role)
	if err != nil {
		return "", err
	}
	if id == "" {
		return "", errors.New("-id is required")
	}
	tokens, err := auth.NewTokenManager(cfg.JWTSecret, auth.WithTTL(cfg.TokenTTL))
	if err != nil {
		return "", err
	}
	return tokens.Issue(auth.Principal{ID: id, Name: name, Email: email, Role: r})
}

// application is the wired backend: service, live channel and HTTP server
// under one supervisor tree.
type application struct {
	svc    *app.Service
	hub    *live.Hub
	relay  *live.Relay
	server *http.Server
	tree   *supervisor.Tree
}

// build wires every component from cfg. The service is started; the tree is not.
func build(ctx context.Context, cfg *config.Config) (*application, error) {
	log := logger.Get()

	svc := app.New(
		app.WithLogger(log.Named("service")),
		app.WithDataDir(cfg.DataDir),
		app.WithInMemory(cfg.InMemory),
		app.WithEvidenceDir(cfg.EvidenceDir),
		app.WithRecordingsDir(cfg.RecordingsDir),
		app.WithPublicURL(cfg.PublicURL),
		app.WithMaxUpload(cfg.MaxChunkBytes),
		app.WithLiveBuffer(cfg.LiveBuffer),
		app.WithScorer(scoring.NewScorer(
			scoring.WithPenalty(cfg.Scoring.PenaltyPerEvent),
			scoring.WithMaxScore(cfg.Scoring.MaxIntegrity),
		)),
	)
	if err := svc.Start(ctx); err != nil {
		return nil, fmt.Errorf("start service: %w", err)
	}

	tokens, err := auth.NewTokenManager(cfg.JWTSecret, auth.WithTTL(cfg.TokenTTL))
	if err != nil {
		svc.Stop()
		return nil, fmt.Errorf("token manager: %w", err)
	}
	authz, err := auth.NewAuthorizer()
	if err != nil {
		svc.Stop()
		return nil, fmt.Errorf("authorizer: %w", err)
	}

	hub := live.NewHub(log.Named("live-hub"))
	relay := live.NewRelay(svc.Broadcaster(), hub, log.Named("live-relay"))

	apiServer := api.NewServer(svc, svc, tokens, authz,
		api.WithLive(live.NewHandler(hub, cfg.CORSOrigins)),
		api.WithCORSOrigins(cfg.CORSOrigins),
		api.WithRateLimit(cfg.RateLimit, cfg.RateWindow),
		api.WithMaxUploadBytes(cfg.MaxChunkBytes),
	)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           apiServer.Routes(),
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	tree := supervisor.NewTree(logger.Slog(), supervisor.DefaultTreeConfig())
	tree.AddLive(hub)
	tree.AddLive(relay)
	tree.AddAPI(supervisor.NewHTTPService(srv, shutdownTimeout))

	return &application{svc: svc, hub: hub, relay: relay, server: srv, tree: tree}, nil
}

// run serves until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config) error {
	a, err := build(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.svc.Stop()

	// Start system metrics updater
	go startSystemMetricsUpdater(ctx)

	// Start service metrics updater
	go startServiceMetricsUpdater(ctx, a.hub)

	logger.Get().Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr))
	if err := a.tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("supervisor: %w", err)
	}

	if report, err := a.tree.UnstoppedServiceReport(); err == nil && len(report) > 0 {
		logger.Get().Warn(ctx, "services did not stop in time", logger.Int("count", len(report)))
	}
	return nil
}

// startSystemMetricsUpdater starts a background goroutine that updates system metrics.
func startSystemMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(systemMetricsInterval) // Update every 10 seconds
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateSystemMetrics()
		}
	}
}

// startServiceMetricsUpdater starts a background goroutine that updates service metrics.
func startServiceMetricsUpdater(ctx context.Context, hub *live.Hub) {
	ticker := time.NewTicker(serviceMetricsInterval) // Update every 5 seconds
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateServiceMetrics(hub)
		}
	}
}

// updateSystemMetrics updates system-level metrics.
func updateSystemMetrics() {
	// Update memory usage
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)

	// Update goroutine count
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())

	// Update GC pause time
	if m.NumGC > 0 {
		// Calculate average GC pause time
		avgPauseMs := float64(m.PauseTotalNs) / float64(m.NumGC) / nanosecondsPerMillisecond
		metrics.RecordSystemGCPauseTime(avgPauseMs)
	}
}

// updateServiceMetrics refreshes gauges the request path does not own.
func updateServiceMetrics(hub *live.Hub) {
	metrics.UpdateLiveClients(hub.ClientCount())
}

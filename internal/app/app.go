// Package app wires all voxvista subsystems into a running server.
//
// The App struct owns the full lifecycle: New creates and connects the
// pipeline (providers → orchestrator → gateway) plus the ops surface, Run
// serves HTTP until the context ends, and Shutdown tears everything down in
// reverse initialisation order.
//
// For testing, inject doubles via functional options (WithToolTransport,
// WithLogger). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/voxvista/voxvista/internal/config"
	"github.com/voxvista/voxvista/internal/conversation"
	"github.com/voxvista/voxvista/internal/gateway"
	"github.com/voxvista/voxvista/internal/health"
	"github.com/voxvista/voxvista/internal/observe"
	"github.com/voxvista/voxvista/internal/orchestrator"
	"github.com/voxvista/voxvista/internal/perf"
	"github.com/voxvista/voxvista/internal/resilience"
	"github.com/voxvista/voxvista/internal/rpc"
	"github.com/voxvista/voxvista/internal/tooling"
	"github.com/voxvista/voxvista/internal/vision"
)

// shutdownTimeout bounds the graceful HTTP drain when Run's context ends.
const shutdownTimeout = 15 * time.Second

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	log       *slog.Logger

	store     *conversation.Store
	monitor   *perf.Monitor
	metrics   *observe.Metrics
	transport tooling.Transport
	orch      *orchestrator.Orchestrator
	pools     *orchestrator.StagePools
	server    *http.Server

	// closers run in reverse registration order during Shutdown.
	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithToolTransport injects a tool-server transport instead of spawning the
// configured child process.
func WithToolTransport(t tooling.Transport) Option {
	return func(a *App) { a.transport = t }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(a *App) { a.log = log }
}

// New creates an App by wiring all subsystems together. The providers struct
// comes from [BuildProviders] (or a test double).
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{
		cfg:       cfg,
		providers: providers,
		log:       slog.Default(),
		metrics:   observe.DefaultMetrics(),
	}
	for _, o := range opts {
		o(a)
	}

	monitorOpts := []perf.Option{
		perf.WithHistoryLimit(cfg.Perf.HistoryLimit),
		perf.WithWindow(cfg.Perf.Window),
		perf.WithLogger(a.log),
	}
	if t := cfg.Perf.ThresholdSeconds(); t != nil {
		monitorOpts = append(monitorOpts, perf.WithThresholds(t))
	}
	a.monitor = perf.NewMonitor(monitorOpts...)
	a.store = conversation.NewStore(cfg.Pipeline.MemoryLimit)

	if err := a.initToolServer(ctx); err != nil {
		return nil, fmt.Errorf("app: init tool server: %w", err)
	}
	a.initOrchestrator()
	a.initHTTP()

	return a, nil
}

// initToolServer spawns and connects the tool-server child process, guarded
// by a circuit breaker. A failed initial handshake is an advisory, not a
// startup failure: the transport reconnects on the next tool call.
func (a *App) initToolServer(ctx context.Context) error {
	if !a.cfg.ToolServer.Enabled || !a.cfg.Pipeline.ToolsEnabled() {
		if a.transport == nil {
			a.log.Info("tool workflow disabled; all turns answered directly")
			return nil
		}
	}
	if a.transport == nil {
		client, err := rpc.New(a.cfg.ToolServer.Command, rpc.WithLogger(a.log))
		if err != nil {
			return err
		}
		a.closers = append(a.closers, client.Close)
		a.transport = resilience.NewGuardedTransport(client, resilience.CircuitBreakerConfig{Name: "toolserver"})
	}

	connectCtx, cancel := context.WithTimeout(ctx, a.cfg.ToolServer.ConnectTimeout.Std())
	defer cancel()
	if err := a.transport.Connect(connectCtx); err != nil {
		a.log.Warn("tool server handshake failed; will retry on first tool call", "error", err)
	}
	return nil
}

// initOrchestrator assembles the reasoning stage and the per-stage pools.
func (a *App) initOrchestrator() {
	p := a.cfg.Pipeline

	var workflow orchestrator.Workflow
	opts := []orchestrator.Option{
		orchestrator.WithQualityThreshold(p.QualityThreshold),
		orchestrator.WithMaxImageSize(p.MaxImageSize),
		orchestrator.WithAnalysisCache(vision.NewAnalysisCache(
			vision.WithAnalysisInterval(p.AnalysisInterval.Std()),
			vision.WithCacheTTL(p.ScreenCacheTTL.Std()),
		)),
		orchestrator.WithMonitor(a.monitor),
		orchestrator.WithLogger(a.log),
	}
	if a.transport != nil {
		workflow = tooling.NewWorkflow(a.providers.LLM, a.transport,
			tooling.WithMaxRetries(p.MaxToolRetries),
			tooling.WithTimeout(p.WorkflowTimeout.Std()),
			tooling.WithWorkflowLogger(a.log),
		)
		opts = append(opts, orchestrator.WithToolLister(a.transport))
	}

	a.orch = orchestrator.New(a.providers.LLM, workflow, a.store, opts...)
	a.pools = orchestrator.NewStagePools(p.StageWorkers, p.StageWorkers, p.StageWorkers)
}

// initHTTP assembles the gateway and the ops surface onto one server.
func (a *App) initHTTP() {
	handler := gateway.NewHandler(a.providers.STT, a.providers.TTS, a.orch,
		gateway.WithStagePools(a.pools),
		gateway.WithMonitor(a.monitor),
		gateway.WithMetrics(a.metrics),
		gateway.WithConversationStore(a.store),
		gateway.WithVoicePreset(a.cfg.TTS.VoicePreset),
		gateway.WithHandlerLogger(a.log),
	)

	mux := http.NewServeMux()
	mux.Handle("/ws", gateway.NewServer(handler))

	healthOpts := []health.Option{health.WithPipeline(a.monitor)}
	for _, c := range a.healthCheckers() {
		healthOpts = append(healthOpts, health.WithChecker(c))
	}
	health.New(healthOpts...).Register(mux)
	mux.HandleFunc("GET /stats", a.handleStats)
	mux.Handle("GET /metrics", promhttp.Handler())

	a.server = &http.Server{
		Addr:    a.cfg.Server.Addr(),
		Handler: observe.Middleware(a.metrics)(mux),
	}
}

// healthCheckers builds the readiness checks for the configured dependencies.
func (a *App) healthCheckers() []health.Checker {
	var checkers []health.Checker

	if a.transport != nil {
		checkers = append(checkers, health.Checker{
			Name: "toolserver",
			Check: func(ctx context.Context) error {
				_, err := a.transport.ListTools(ctx)
				return err
			},
		})
	}
	if guarded, ok := a.providers.STT.(*resilience.GuardedSTT); ok {
		checkers = append(checkers, health.Checker{
			Name: "stt",
			Check: func(context.Context) error {
				if state := guarded.State(); state == resilience.StateOpen {
					return fmt.Errorf("circuit breaker is %s", state)
				}
				return nil
			},
		})
	}
	return checkers
}

// handleStats serves the performance summary and tuning recommendations.
func (a *App) handleStats(w http.ResponseWriter, _ *http.Request) {
	payload := struct {
		Summary         perf.Summary `json:"summary"`
		Recommendations []string     `json:"recommendations"`
	}{
		Summary:         a.monitor.Summary(),
		Recommendations: a.monitor.Recommendations(),
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		a.log.Warn("encode stats response", "error", err)
	}
}

// Handler exposes the assembled HTTP surface, mainly for tests.
func (a *App) Handler() http.Handler { return a.server.Handler }

// Run serves HTTP until ctx is cancelled, then drains connections within
// [shutdownTimeout] and waits for in-flight pipeline stages.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.log.Info("server listening", "addr", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("app: serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		drainCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.server.Shutdown(drainCtx); err != nil {
			return fmt.Errorf("app: drain http server: %w", err)
		}
		return nil
	})

	err := g.Wait()
	if poolErr := a.pools.Wait(); poolErr != nil {
		a.log.Warn("pipeline stage error at shutdown", "error", poolErr)
	}
	return err
}

// Shutdown tears down all subsystems in reverse registration order. It
// respects the context deadline: if ctx expires before all closers finish,
// remaining closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down", "closers", len(a.closers))
		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				a.log.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				a.log.Warn("closer error", "index", i, "error", err)
			}
		}
		a.log.Info("shutdown complete")
	})
	return shutdownErr
}

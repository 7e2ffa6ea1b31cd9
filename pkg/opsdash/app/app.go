// Package app wires the dashboard service together and manages its
// lifecycle.
//
// Data path:
//
//	Scheduler → Collector (one loop per module) → Registry stream →
//	httpapi SSE handler → browser
//
// Trigger path (parallel):
//
//	httpapi trigger handler ┐
//	TrapReceiver            ┴→ trigger.Dispatcher → Registry stream
//
// Every module's state and stream live in the registry; the collectors and
// the dispatcher are the only writers.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/vpbank/opsdash/format/line"
	"github.com/vpbank/opsdash/models"
	"github.com/vpbank/opsdash/pkg/opsdash/collector"
	"github.com/vpbank/opsdash/pkg/opsdash/config"
	"github.com/vpbank/opsdash/pkg/opsdash/httpapi"
	"github.com/vpbank/opsdash/pkg/opsdash/insight"
	"github.com/vpbank/opsdash/pkg/opsdash/observability"
	"github.com/vpbank/opsdash/pkg/opsdash/registry"
	"github.com/vpbank/opsdash/pkg/opsdash/runner"
	"github.com/vpbank/opsdash/pkg/opsdash/scheduler"
	"github.com/vpbank/opsdash/pkg/opsdash/source"
	"github.com/vpbank/opsdash/pkg/opsdash/trapreceiver"
	"github.com/vpbank/opsdash/pkg/opsdash/trigger"
	"github.com/vpbank/opsdash/transport/file"
)

// preflightChecks are probed once at start; a failure is only reported.
var preflightChecks = []struct{ name, command string }{
	{"docker", "docker info"},
	{"kubernetes", "kubectl cluster-info"},
}

// ─────────────────────────────────────────────────────────────────────────────
// App
// ─────────────────────────────────────────────────────────────────────────────

// App owns every component. Create one with New, start it with Start, and
// stop it with Stop. Cancelling the context passed to Start stops the
// collectors but leaves the HTTP server up until Stop.
type App struct {
	settings *config.Settings
	logger   *slog.Logger

	catalog   *config.Catalog
	reg       *registry.Registry
	prom      *prometheus.Registry
	metrics   *observability.Metrics
	run       *runner.Runner
	journals  map[string]*file.Journal
	sched     *scheduler.Scheduler
	api       *httpapi.Server
	server    *http.Server
	trap      *trapreceiver.TrapReceiver
	collected int

	// Lifecycle.
	mu       sync.Mutex
	started  bool
	addr     string
	cancel   context.CancelFunc
	group    *errgroup.Group
	stopOnce sync.Once
}

// New loads the catalog and builds every component. Nothing runs until
// Start. Journals are opened here, so Stop must be called even when Start is
// not.
func New(settings *config.Settings, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	if settings == nil {
		settings = config.DefaultSettings()
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	a := &App{settings: settings, logger: logger, journals: map[string]*file.Journal{}}
	if err := a.build(); err != nil {
		a.closeJournals()
		return nil, err
	}
	return a, nil
}

func (a *App) build() error {
	s := a.settings

	// ── 1. Catalog and registry ─────────────────────────────────────────
	cat, err := config.LoadCatalog(s.Catalog.Dir, a.logger)
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}
	if cat, err = cat.Filter(s.Dashboards); err != nil {
		return fmt.Errorf("app: %w", err)
	}
	a.catalog = cat

	a.reg, err = registry.New(cat.Dashboards, cat.Modules, registry.WithLogCapacity(s.LogCapacity))
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}

	// ── 2. Metrics ──────────────────────────────────────────────────────
	a.prom = prometheus.NewRegistry()
	a.prom.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = observability.New(a.prom)

	// ── 3. Shared collaborators ─────────────────────────────────────────
	fmtr := line.New(line.Config{})

	a.run = runner.New(runner.Config{
		Timeout: s.Runner.Timeout,
		Strict:  s.Runner.Strict,
		Shell:   s.Runner.Shell,
	}, a.logger, a.metrics)

	gen, err := insight.New(insight.Config{
		Provider: s.Insight.Provider,
		Timeout:  s.Insight.Timeout,
		Ollama:   insight.OllamaConfig{BaseURL: s.Insight.Ollama.BaseURL, Model: s.Insight.Ollama.Model},
		OpenAI: insight.OpenAIConfig{
			APIKey:  s.Insight.OpenAI.APIKey,
			BaseURL: s.Insight.OpenAI.BaseURL,
			Model:   s.Insight.OpenAI.Model,
		},
	}, a.logger, a.metrics)
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}

	sources := source.NewFactory(source.Deps{Runner: a.run})

	if s.Journal.Enabled {
		for _, d := range cat.Dashboards {
			j, err := file.OpenJournal(file.JournalConfig{
				Dir:        s.Journal.Dir,
				Name:       d.LogFile,
				MaxBytes:   s.Journal.MaxBytes,
				MaxBackups: s.Journal.MaxBackups,
			}, fmtr, a.logger)
			if err != nil {
				return fmt.Errorf("app: journal for %s: %w", d.Name, err)
			}
			a.journals[d.Name] = j
		}
	}

	// ── 4. Collectors and scheduler ─────────────────────────────────────
	var (
		cyclers []scheduler.Cycler
		errs    []string
	)
	for _, m := range a.reg.All() {
		if m.Def().Kind == models.KindSink {
			continue
		}
		c, err := collector.New(m, collector.Deps{
			Sources:   sources,
			Generator: gen,
			Formatter: fmtr,
			Journal:   a.journals[m.Def().Dashboard],
			Metrics:   a.metrics,
			Logger:    a.logger,
		})
		if err != nil {
			errs = append(errs, err.Error())
			continue
		}
		cyclers = append(cyclers, c)
	}
	if len(errs) > 0 {
		return fmt.Errorf("app: %d error(s):\n  %s", len(errs), strings.Join(errs, "\n  "))
	}
	a.collected = len(cyclers)
	a.sched = scheduler.New(cyclers, scheduler.Config{
		IntervalScale: s.Collect.IntervalScale,
		MinInterval:   s.Collect.MinInterval,
	}, a.logger)

	// ── 5. Trigger path, HTTP and traps ─────────────────────────────────
	disp := trigger.NewDispatcher(trigger.NewRouter(a.reg), trigger.DispatcherConfig{
		Formatter: fmtr,
		Journals:  a.journals,
		Metrics:   a.metrics,
	})

	a.api, err = httpapi.New(httpapi.Config{
		Registry:     a.reg,
		Dispatcher:   disp,
		Metrics:      a.metrics,
		Gatherer:     a.prom,
		Formatter:    fmtr,
		Poll:         s.Stream.Poll,
		Heartbeat:    s.Stream.Heartbeat,
		TriggerRate:  s.Trigger.Rate,
		TriggerBurst: s.Trigger.Burst,
	}, a.logger)
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}
	a.server = &http.Server{
		Addr:              s.HTTP.Listen,
		Handler:           a.api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if s.SNMP.TrapListen != "" {
		a.trap = trapreceiver.New(trapreceiver.Config{
			ListenAddr: s.SNMP.TrapListen,
			Community:  s.SNMP.Community,
			Dashboard:  trapDashboard(cat.Dashboards),
		}, disp, a.logger)
	}
	return nil
}

// Registry exposes the module registry.
func (a *App) Registry() *registry.Registry { return a.reg }

// Addr is the bound HTTP address once Start has returned.
func (a *App) Addr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.addr
}

// Start runs the preflight checks, launches the collectors, the trap
// receiver and the HTTP server, and returns once the HTTP listener is bound.
// A trap receiver that fails to bind is logged and skipped.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return fmt.Errorf("app: already started")
	}
	a.started = true
	a.mu.Unlock()

	if a.settings.Preflight {
		a.preflight(ctx)
	}

	ln, err := net.Listen("tcp", a.settings.HTTP.Listen)
	if err != nil {
		return fmt.Errorf("app: listen %s: %w", a.settings.HTTP.Listen, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(runCtx)

	a.mu.Lock()
	a.addr = ln.Addr().String()
	a.cancel = cancel
	a.group = g
	a.mu.Unlock()

	g.Go(func() error {
		a.sched.Start(gctx)
		return nil
	})
	a.logger.Info("app: scheduler started", "loops", a.collected)

	if a.trap != nil {
		if err := a.trap.Start(gctx); err != nil {
			a.logger.Error("app: trap receiver failed to start, continuing without traps", "error", err.Error())
			a.trap = nil
		}
	}

	g.Go(func() error {
		if err := a.server.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: http: %w", err)
		}
		return nil
	})
	a.logger.Info("app: serving",
		"addr", ln.Addr().String(),
		"dashboards", len(a.catalog.Dashboards),
		"modules", len(a.reg.All()),
		"insight", a.settings.Insight.Provider,
	)
	return nil
}

// Wait blocks until the HTTP server and the collectors have returned, either
// after Stop or because the server failed. It returns the first error.
func (a *App) Wait() error {
	a.mu.Lock()
	g := a.group
	a.mu.Unlock()
	if g == nil {
		return nil
	}
	return g.Wait()
}

// Stop shuts down in order:
//  1. Stop the collectors and wait for them.
//  2. Stop the trap receiver.
//  3. End open streams and shut the HTTP server down, bounded by
//     http.shutdown_timeout.
//  4. Close the journals.
//
// It is safe to call Stop multiple times.
func (a *App) Stop() {
	a.stopOnce.Do(a.stop)
}

func (a *App) stop() {
	a.logger.Info("app: shutting down")

	a.mu.Lock()
	started, cancel := a.started, a.cancel
	a.mu.Unlock()

	if started && cancel != nil {
		a.sched.Stop()

		if a.trap != nil {
			a.trap.Stop()
		}

		a.api.CloseStreams()
		ctx, done := context.WithTimeout(context.Background(), a.settings.HTTP.ShutdownTimeout)
		if err := a.server.Shutdown(ctx); err != nil {
			a.logger.Error("app: http shutdown", "error", err.Error())
			_ = a.server.Close()
		}
		done()

		cancel()
		if err := a.group.Wait(); err != nil {
			a.logger.Error("app: component failed", "error", err.Error())
		}
	}

	a.closeJournals()
	a.logger.Info("app: shutdown complete")
}

// preflight reports unreachable container engines the way an operator
// would check them by hand.
func (a *App) preflight(ctx context.Context) {
	for _, chk := range preflightChecks {
		res := a.run.Run(ctx, chk.command)
		if res.Failed() || res.ExitCode != 0 {
			msg := res.Stderr
			if res.Err != nil {
				msg = res.Err.Error()
			}
			a.logger.Warn("app: preflight failed, not running or accessible",
				"check", chk.name,
				"command", chk.command,
				"error", msg,
			)
			continue
		}
		a.logger.Info("app: preflight ok", "check", chk.name)
	}
}

func (a *App) closeJournals() {
	for name, j := range a.journals {
		if err := j.Close(); err != nil {
			a.logger.Error("app: journal close", "dashboard", name, "error", err.Error())
		}
	}
}

// trapDashboard picks the first dashboard with a sink, falling back to the
// first dashboard.
func trapDashboard(ds []models.DashboardDef) string {
	for _, d := range ds {
		if d.Sink != "" {
			return d.Name
		}
	}
	if len(ds) > 0 {
		return ds[0].Name
	}
	return ""
}

// ─────────────────────────────────────────────────────────────────────────────
// Utilities
// ─────────────────────────────────────────────────────────────────────────────

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }

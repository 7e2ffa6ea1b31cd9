// Package httpapi serves the dashboards over HTTP: one SSE stream per module,
// the trigger endpoints, the dashboard pages and a small JSON API.
//
// Route map:
//
//	GET  /<module>_stream       SSE, one "data:" frame per stream line
//	POST /trigger               trigger, plus each dashboard's trigger_route
//	GET  <dashboard route>      HTML page
//	GET  /                      dashboard index
//	GET  /api/modules[/:id]     module snapshots
//	GET  /healthz, /metrics
package httpapi

import (
	"context"
	"embed"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/vpbank/opsdash/format/line"
	"github.com/vpbank/opsdash/pkg/opsdash/observability"
	"github.com/vpbank/opsdash/pkg/opsdash/registry"
)

//go:embed templates/*.html
var templatesFS embed.FS

// Dispatcher delivers a trigger event. *trigger.Dispatcher implements it.
type Dispatcher interface {
	Dispatch(dashboard, module, event, origin string) (string, error)
}

// ─────────────────────────────────────────────────────────────────────────────
// Configuration
// ─────────────────────────────────────────────────────────────────────────────

// Config holds the server's collaborators and knobs.
type Config struct {
	Registry   *registry.Registry
	Dispatcher Dispatcher
	Metrics    *observability.Metrics

	// Gatherer backs /metrics (default prometheus.DefaultGatherer).
	Gatherer prometheus.Gatherer

	Formatter *line.Formatter

	// Poll is how long an idle stream waits before checking again (default 1 s).
	Poll time.Duration

	// Heartbeat is the idle time after which a stream sends its heartbeat
	// (default 15 s).
	Heartbeat time.Duration

	// TriggerRate is the accepted trigger requests per second across all
	// trigger routes. Zero disables the limit.
	TriggerRate  float64
	TriggerBurst int

	// Now defaults to time.Now.
	Now func() time.Time
}

func (c Config) withDefaults() Config {
	if c.Gatherer == nil {
		c.Gatherer = prometheus.DefaultGatherer
	}
	if c.Formatter == nil {
		c.Formatter = line.New(line.Config{})
	}
	if c.Poll <= 0 {
		c.Poll = time.Second
	}
	if c.Heartbeat <= 0 {
		c.Heartbeat = 15 * time.Second
	}
	if c.TriggerBurst <= 0 {
		c.TriggerBurst = 10
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// ─────────────────────────────────────────────────────────────────────────────
// Server
// ─────────────────────────────────────────────────────────────────────────────

// Server is the gin engine with every route registered.
type Server struct {
	cfg     Config
	engine  *gin.Engine
	limiter *rate.Limiter
	logger  *slog.Logger

	// base is cancelled by CloseStreams; open SSE responses watch it.
	base   context.Context
	cancel context.CancelFunc
}

// New builds the server. Routes that would collide are reported as an error
// rather than left to gin's registration panic.
func New(cfg Config, logger *slog.Logger) (*Server, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("httpapi: registry is required")
	}
	if cfg.Dispatcher == nil {
		return nil, fmt.Errorf("httpapi: dispatcher is required")
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	cfg = cfg.withDefaults()

	tmpl, err := template.New("").ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("httpapi: templates: %w", err)
	}

	s := &Server{cfg: cfg, logger: logger}
	s.base, s.cancel = context.WithCancel(context.Background())
	if cfg.TriggerRate > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.TriggerRate), cfg.TriggerBurst)
	}

	routes, err := s.routes()
	if err != nil {
		return nil, err
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger(logger))
	engine.SetHTMLTemplate(tmpl)
	for _, r := range routes {
		engine.Handle(r.method, r.path, r.handler)
	}
	s.engine = engine
	return s, nil
}

// Handler returns the engine for use with an http.Server.
func (s *Server) Handler() http.Handler { return s.engine }

// CloseStreams ends every open SSE response. Call it before
// http.Server.Shutdown, which otherwise waits for them forever.
func (s *Server) CloseStreams() { s.cancel() }

type route struct {
	method  string
	path    string
	handler gin.HandlerFunc
}

func (s *Server) routes() ([]route, error) {
	reg := s.cfg.Registry
	rs := []route{
		{http.MethodGet, "/", s.index},
		{http.MethodGet, "/healthz", healthz},
		{http.MethodGet, "/metrics", gin.WrapH(promhttp.HandlerFor(s.cfg.Gatherer, promhttp.HandlerOpts{}))},
		{http.MethodGet, "/api/modules", s.listModules},
		{http.MethodGet, "/api/modules/:id", s.getModule},
	}

	hasDefault := false
	for _, d := range reg.Dashboards() {
		rs = append(rs,
			route{http.MethodGet, d.Route, s.dashboardPage(d.Name)},
			route{http.MethodPost, d.TriggerRoute, s.triggerHandler(d.Name)},
		)
		hasDefault = hasDefault || d.TriggerRoute == "/trigger"
	}
	// Without a dashboard owning /trigger it still accepts events that name
	// their module.
	if !hasDefault {
		rs = append(rs, route{http.MethodPost, "/trigger", s.triggerHandler("")})
	}
	for _, m := range reg.All() {
		rs = append(rs, route{http.MethodGet, "/" + m.ID() + "_stream", s.streamHandler(m)})
	}

	seen := map[string]bool{}
	var errs []string
	for _, r := range rs {
		key := r.method + " " + r.path
		if seen[key] {
			errs = append(errs, key)
			continue
		}
		seen[key] = true
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("httpapi: %d duplicate route(s):\n  %s", len(errs), strings.Join(errs, "\n  "))
	}
	return rs, nil
}

func healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }

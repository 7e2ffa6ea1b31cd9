// Package trigger routes externally supplied events into module streams and
// produces such events for testing a running dashboard.
//
// An event is routed in this order:
//
//  1. the module named explicitly by the sender, if any; it must belong to
//     the dashboard the event was posted to, unless no dashboard was named
//  2. the first module of the dashboard, in catalog order, with a trigger
//     substring contained in the event
//  3. the dashboard's sink module
//
// The routed module receives "[ts] Trigger: <event>" on its stream and in its
// log list, and the dashboard journal records it.
package trigger

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vpbank/opsdash/format/line"
	"github.com/vpbank/opsdash/models"
	"github.com/vpbank/opsdash/pkg/opsdash/observability"
	"github.com/vpbank/opsdash/pkg/opsdash/registry"
	"github.com/vpbank/opsdash/transport/file"
)

// ErrUnroutable is returned when no module accepts an event.
var ErrUnroutable = errors.New("trigger: no module accepts the event")

// ErrEmptyEvent is returned for an empty event text.
var ErrEmptyEvent = errors.New("trigger: empty event")

// Router picks the module an event belongs to.
type Router struct {
	reg *registry.Registry
}

// NewRouter returns a Router over reg.
func NewRouter(reg *registry.Registry) *Router {
	return &Router{reg: reg}
}

// Route returns the module for event posted to dashboard. A non-empty module
// must name a registered module of dashboard (any dashboard when dashboard is
// empty); otherwise the result wraps registry.ErrUnknownModule.
func (r *Router) Route(dashboard, module, event string) (*registry.Module, error) {
	if module != "" {
		m, err := r.reg.Get(module)
		if err != nil {
			return nil, err
		}
		if dashboard != "" && m.Def().Dashboard != dashboard {
			return nil, fmt.Errorf("%w: %q is not on dashboard %q", registry.ErrUnknownModule, module, dashboard)
		}
		return m, nil
	}
	for _, m := range r.reg.ByDashboard(dashboard) {
		for _, sub := range m.Def().Triggers {
			if sub != "" && strings.Contains(event, sub) {
				return m, nil
			}
		}
	}
	if d, ok := r.reg.Dashboard(dashboard); ok && d.Sink != "" {
		return r.reg.Get(d.Sink)
	}
	return nil, fmt.Errorf("%w on dashboard %q", ErrUnroutable, dashboard)
}

// ─────────────────────────────────────────────────────────────────────────────
// Dispatcher
// ─────────────────────────────────────────────────────────────────────────────

// Origins label where an event came from.
const (
	OriginHTTP = "http"
	OriginTrap = "snmp_trap"
)

// DispatcherConfig holds the Dispatcher's collaborators.
type DispatcherConfig struct {
	Formatter *line.Formatter

	// Journals maps dashboard name to its journal. Missing entries disable
	// journaling for that dashboard.
	Journals map[string]*file.Journal

	Metrics *observability.Metrics

	// Now defaults to time.Now.
	Now func() time.Time
}

// Dispatcher routes events and delivers them.
type Dispatcher struct {
	router   *Router
	fmt      *line.Formatter
	journals map[string]*file.Journal
	metrics  *observability.Metrics
	now      func() time.Time
}

// NewDispatcher returns a Dispatcher delivering through router.
func NewDispatcher(router *Router, cfg DispatcherConfig) *Dispatcher {
	if cfg.Formatter == nil {
		cfg.Formatter = line.New(line.Config{})
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Dispatcher{
		router:   router,
		fmt:      cfg.Formatter,
		journals: cfg.Journals,
		metrics:  cfg.Metrics,
		now:      cfg.Now,
	}
}

// breaks folds CRLF and bare CR into LF. SSE treats all three as line ends.
var breaks = strings.NewReplacer("\r\n", "\n", "\r", "\n")

// Dispatch routes event and, on success, appends the trigger line to the
// module's log list, publishes it, and journals it. It returns the module id.
// Nothing is mutated on error.
func (d *Dispatcher) Dispatch(dashboard, module, event, origin string) (string, error) {
	event = breaks.Replace(event)
	if strings.TrimSpace(event) == "" {
		d.metrics.TriggerRejected("invalid")
		return "", ErrEmptyEvent
	}
	m, err := d.router.Route(dashboard, module, event)
	if err != nil {
		switch {
		case errors.Is(err, registry.ErrUnknownModule):
			d.metrics.TriggerRejected("unknown_module")
		default:
			d.metrics.TriggerRejected("unroutable")
		}
		return "", err
	}

	l := d.fmt.Trigger(models.TriggerEvent{Module: m.ID(), Event: event, At: d.now()})
	m.AppendLog(l)
	if m.Publish(l) {
		d.metrics.StreamDropped(m.ID())
	}
	d.journals[m.Def().Dashboard].Info("Trigger Event Received: " + l)
	d.metrics.Trigger(m.ID(), origin)
	return m.ID(), nil
}

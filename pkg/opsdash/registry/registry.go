// Package registry holds the fixed set of modules an opsdash process serves.
//
// The registry is built once from the catalog and never changes afterwards:
// lookups are plain map reads. Each Module owns its mutable state behind its
// own lock, a stream of formatted lines for SSE subscribers, and a bounded log
// list of the events it has received.
package registry

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/vpbank/opsdash/models"
	"github.com/vpbank/opsdash/pkg/opsdash/stream"
)

// DefaultLogCapacity bounds each module's log list.
const DefaultLogCapacity = 1000

// ErrUnknownModule is returned by Get for an id that is not registered.
var ErrUnknownModule = errors.New("registry: unknown module")

var idPattern = regexp.MustCompile(`^[a-z0-9_]+$`)

// Option customises New.
type Option func(*options)

type options struct {
	logCapacity int
}

// WithLogCapacity bounds every module's log list to n entries.
func WithLogCapacity(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.logCapacity = n
		}
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Module
// ─────────────────────────────────────────────────────────────────────────────

// Module is one registered topic.
type Module struct {
	def models.ModuleDef

	mu    sync.RWMutex
	state models.ModuleState

	stream *stream.Stream
	logs   *stream.Stream
}

func newModule(def models.ModuleDef, logCapacity int) *Module {
	st := models.ModuleState{
		Status:  def.InitialStatus,
		Details: def.InitialDetails,
		Insight: def.InitialInsight,
		Metrics: map[string]float64{},
	}
	if def.Metric != "" {
		st.Metrics[def.Metric] = 0
	}
	return &Module{
		def:    def,
		state:  st,
		stream: stream.New(def.Capacity),
		logs:   stream.New(logCapacity),
	}
}

// ID is the module identifier.
func (m *Module) ID() string { return m.def.ID }

// Def returns the module's catalog entry.
func (m *Module) Def() models.ModuleDef { return m.def }

// State returns a deep copy of the current state.
func (m *Module) State() models.ModuleState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Clone()
}

// Snapshot returns the JSON view of the module.
func (m *Module) Snapshot() models.Snapshot {
	st := m.State()
	return models.Snapshot{
		ID:         m.def.ID,
		Title:      m.def.Title,
		Dashboard:  m.def.Dashboard,
		Kind:       m.def.Kind,
		Status:     st.Status,
		Details:    st.Details,
		LastUpdate: st.LastUpdateString(),
		Metrics:    st.Metrics,
		History:    st.History,
		Insight:    st.Insight,
	}
}

// Apply runs fn with exclusive access to the state.
func (m *Module) Apply(fn func(*models.ModuleState)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(&m.state)
}

// Publish appends line to the module's stream and reports whether the oldest
// line was evicted to make room.
func (m *Module) Publish(line string) bool { return m.stream.Publish(line) }

// AppendLog appends line to the module's log list.
func (m *Module) AppendLog(line string) { m.logs.Publish(line) }

// Stream is the module's line stream.
func (m *Module) Stream() *stream.Stream { return m.stream }

// Logs returns the log list, oldest first.
func (m *Module) Logs() []string { return m.logs.Snapshot() }

// ─────────────────────────────────────────────────────────────────────────────
// Registry
// ─────────────────────────────────────────────────────────────────────────────

// Registry is the immutable set of dashboards and modules.
type Registry struct {
	dashboards []models.DashboardDef
	dashByName map[string]models.DashboardDef

	modules     []*Module
	byID        map[string]*Module
	byDashboard map[string][]*Module
}

// New validates the catalog and builds one Module per definition. All
// problems are reported together.
func New(dashboards []models.DashboardDef, defs []models.ModuleDef, opts ...Option) (*Registry, error) {
	o := options{logCapacity: DefaultLogCapacity}
	for _, opt := range opts {
		opt(&o)
	}

	r := &Registry{
		dashByName:  make(map[string]models.DashboardDef, len(dashboards)),
		byID:        make(map[string]*Module, len(defs)),
		byDashboard: make(map[string][]*Module, len(dashboards)),
	}

	var errs []string
	for _, d := range dashboards {
		switch {
		case !idPattern.MatchString(d.Name):
			errs = append(errs, fmt.Sprintf("dashboard %q: name must match %s", d.Name, idPattern))
			continue
		case r.hasDashboard(d.Name):
			errs = append(errs, fmt.Sprintf("dashboard %q: duplicate name", d.Name))
			continue
		}
		r.dashboards = append(r.dashboards, d)
		r.dashByName[d.Name] = d
	}

	for _, def := range defs {
		def, err := normalize(def)
		if err == nil {
			switch {
			case r.byID[def.ID] != nil:
				err = fmt.Errorf("duplicate id")
			case !r.hasDashboard(def.Dashboard):
				err = fmt.Errorf("unknown dashboard %q", def.Dashboard)
			}
		}
		if err != nil {
			errs = append(errs, fmt.Sprintf("module %q: %v", def.ID, err))
			continue
		}
		m := newModule(def, o.logCapacity)
		r.modules = append(r.modules, m)
		r.byID[def.ID] = m
		r.byDashboard[def.Dashboard] = append(r.byDashboard[def.Dashboard], m)
	}

	for _, d := range r.dashboards {
		if d.Sink == "" {
			continue
		}
		m := r.byID[d.Sink]
		if m == nil || m.def.Dashboard != d.Name {
			errs = append(errs, fmt.Sprintf("dashboard %q: sink %q is not one of its modules", d.Name, d.Sink))
		}
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("registry: %d error(s):\n  %s", len(errs), strings.Join(errs, "\n  "))
	}
	return r, nil
}

func (r *Registry) hasDashboard(name string) bool {
	_, ok := r.dashByName[name]
	return ok
}

// normalize checks one definition and fills its defaults.
func normalize(def models.ModuleDef) (models.ModuleDef, error) {
	if def.ID == "" {
		return def, fmt.Errorf("id is required")
	}
	if !idPattern.MatchString(def.ID) {
		return def, fmt.Errorf("id must match %s", idPattern)
	}
	if def.Kind == "" {
		def.Kind = models.KindStatus
	}
	switch def.Kind {
	case models.KindStatus, models.KindEvent, models.KindAdvisor:
		if def.Interval <= 0 {
			return def, fmt.Errorf("interval must be positive")
		}
	case models.KindSink:
	default:
		return def, fmt.Errorf("unknown kind %q", def.Kind)
	}
	if def.Capacity < 0 {
		return def, fmt.Errorf("capacity must not be negative")
	}
	if def.Capacity == 0 {
		def.Capacity = stream.DefaultCapacity
	}
	if def.Title == "" {
		def.Title = def.ID
	}
	return def, nil
}

// Get returns the module with id.
func (r *Registry) Get(id string) (*Module, error) {
	m, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownModule, id)
	}
	return m, nil
}

// All returns every module in catalog order.
func (r *Registry) All() []*Module { return r.modules }

// Dashboards returns every dashboard in catalog order.
func (r *Registry) Dashboards() []models.DashboardDef { return r.dashboards }

// Dashboard returns the dashboard named name.
func (r *Registry) Dashboard(name string) (models.DashboardDef, bool) {
	d, ok := r.dashByName[name]
	return d, ok
}

// ByDashboard returns the modules of one dashboard in catalog order.
func (r *Registry) ByDashboard(name string) []*Module { return r.byDashboard[name] }

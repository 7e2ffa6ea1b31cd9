// Package source implements the data acquisition strategies a collector
// draws one reading from per cycle: host introspection through gopsutil,
// parsed shell command output, SNMP GETs, and synthetic random values.
//
// Sources degrade instead of failing. A Reading always carries a usable
// default Value; Err records why the default was used so the collector can
// log it.
package source

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/vpbank/opsdash/models"
	"github.com/vpbank/opsdash/pkg/opsdash/runner"
)

// Reading is one data point.
type Reading struct {
	// Value is the primary numeric reading.
	Value float64

	// Extra carries secondary readings keyed by name, e.g. "percent".
	Extra map[string]float64

	// History is the source's sliding window, oldest first, when it keeps one.
	History []float64

	// Lines is the raw output of line-oriented sources.
	Lines []string

	// Text is the chosen element of a choice source.
	Text string

	// Skip reports that the source deliberately produced nothing this cycle.
	Skip bool

	// Err is the reason Value fell back to its default.
	Err error
}

// Source produces one Reading per call. Implementations may keep state
// between calls (windows, counters) and are called by a single collector.
type Source interface {
	Read(ctx context.Context) Reading
}

// Func adapts a function to Source.
type Func func(ctx context.Context) Reading

// Read implements Source.
func (f Func) Read(ctx context.Context) Reading { return f(ctx) }

// CommandRunner is the subset of runner.Runner used by command sources.
type CommandRunner interface {
	Run(ctx context.Context, command string) runner.Result
}

// Deps are the collaborators sources are built from.
type Deps struct {
	Runner CommandRunner

	// Started is the process start time for app_uptime.
	Started time.Time

	// Now defaults to time.Now.
	Now func() time.Time

	// DialSNMP defaults to a gosnmp session.
	DialSNMP func(models.SNMPTarget) (SNMPClient, error)
}

// Builder constructs a Source from its catalog spec.
type Builder func(spec models.SourceSpec, deps Deps) (Source, error)

// Factory maps source types to builders.
type Factory struct {
	deps     Deps
	builders map[string]Builder
}

// NewFactory returns a Factory with every built-in source type registered.
func NewFactory(deps Deps) *Factory {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Started.IsZero() {
		deps.Started = deps.Now()
	}
	if deps.DialSNMP == nil {
		deps.DialSNMP = DialSNMP
	}
	f := &Factory{deps: deps, builders: map[string]Builder{}}

	f.Register("cpu_percent", buildCPUPercent)
	f.Register("cpu_history", buildCPUHistory)
	f.Register("memory", buildMemory)
	f.Register("swap", buildSwap)
	f.Register("disk_usage", buildDiskUsage)
	f.Register("disk_io", buildDiskIO)
	f.Register("net_io", buildNetIO)
	f.Register("net_rate", buildNetRate)
	f.Register("load_avg", buildLoadAvg)
	f.Register("host_uptime", buildHostUptime)
	f.Register("temperature", buildTemperature)
	f.Register("process_count", buildProcessCount)
	f.Register("process_match", buildProcessMatch)
	f.Register("connections", buildConnections)
	f.Register("app_uptime", buildAppUptime)
	f.Register("command", buildCommand)
	f.Register("lines", buildLines)
	f.Register("random", buildRandom)
	f.Register("choice", buildChoice)
	f.Register("snmp_get", buildSNMPGet)
	return f
}

// Register adds or replaces the builder for typ.
func (f *Factory) Register(typ string, b Builder) {
	f.builders[typ] = b
}

// Has reports whether typ is registered.
func (f *Factory) Has(typ string) bool {
	_, ok := f.builders[typ]
	return ok
}

// Build constructs the Source for spec.
func (f *Factory) Build(spec models.SourceSpec) (Source, error) {
	b, ok := f.builders[spec.Type]
	if !ok {
		return nil, fmt.Errorf("source: unknown type %q", spec.Type)
	}
	src, err := b(spec, f.deps)
	if err != nil {
		return nil, fmt.Errorf("source: %s: %w", spec.Type, err)
	}
	return src, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Synthetic sources
// ─────────────────────────────────────────────────────────────────────────────

func uniform(r models.Range) float64 {
	if r.Max <= r.Min {
		return r.Min
	}
	return r.Min + rand.Float64()*(r.Max-r.Min)
}

func buildRandom(spec models.SourceSpec, _ Deps) (Source, error) {
	if spec.Range == nil {
		return nil, fmt.Errorf("range is required")
	}
	r := *spec.Range
	return Func(func(context.Context) Reading {
		return Reading{Value: uniform(r)}
	}), nil
}

func buildChoice(spec models.SourceSpec, _ Deps) (Source, error) {
	if len(spec.Choices) == 0 {
		return nil, fmt.Errorf("choices are required")
	}
	choices := spec.Choices
	p := spec.Probability
	return Func(func(context.Context) Reading {
		if p > 0 && rand.Float64() >= p {
			return Reading{Skip: true}
		}
		return Reading{Text: choices[rand.IntN(len(choices))], Value: 1}
	}), nil
}

func buildAppUptime(_ models.SourceSpec, deps Deps) (Source, error) {
	started, now := deps.Started, deps.Now
	return Func(func(context.Context) Reading {
		return Reading{Value: now().Sub(started).Minutes()}
	}), nil
}

// Package collector runs one module's polling cycle: read a source, update
// the module state, render lines, and publish them to the module's stream.
//
// What a cycle publishes depends on the module kind:
//
//	status   one "[ts] status - details - insight" line per cycle
//	event    one "[ts] <template>" line per matching source line
//	advisor  one "[ts] Title: <answer>" line per cycle, answer from the
//	         insight generator
//	sink     nothing; the module only receives triggers
//
// Nothing a source or generator returns is ever executed.
package collector

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"regexp"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/vpbank/opsdash/format/line"
	"github.com/vpbank/opsdash/models"
	"github.com/vpbank/opsdash/pkg/opsdash/insight"
	"github.com/vpbank/opsdash/pkg/opsdash/observability"
	"github.com/vpbank/opsdash/pkg/opsdash/registry"
	"github.com/vpbank/opsdash/pkg/opsdash/source"
	"github.com/vpbank/opsdash/transport/file"
)

// Deps are the collaborators shared by every collector.
type Deps struct {
	Sources   *source.Factory
	Generator insight.Generator
	Formatter *line.Formatter

	// Journal is the module's dashboard journal. nil disables it.
	Journal *file.Journal

	Metrics *observability.Metrics
	Logger  *slog.Logger

	// Now defaults to time.Now.
	Now func() time.Time
}

// Collector polls one module.
type Collector struct {
	mod *registry.Module
	def models.ModuleDef
	src source.Source

	match   *regexp.Regexp
	exclude *regexp.Regexp

	gen     insight.Generator
	fmt     *line.Formatter
	journal *file.Journal
	metrics *observability.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// New builds the collector for mod. Sink modules get a collector whose Cycle
// does nothing; the scheduler skips them.
func New(mod *registry.Module, deps Deps) (*Collector, error) {
	def := mod.Def()
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Formatter == nil {
		deps.Formatter = line.New(line.Config{})
	}
	if deps.Generator == nil {
		deps.Generator = insight.NewRandom(deps.Metrics)
	}

	c := &Collector{
		mod:     mod,
		def:     def,
		gen:     deps.Generator,
		fmt:     deps.Formatter,
		journal: deps.Journal,
		metrics: deps.Metrics,
		logger:  deps.Logger.With("module", def.ID),
		now:     deps.Now,
	}
	if def.Kind == models.KindSink {
		return c, nil
	}

	if deps.Sources == nil {
		return nil, fmt.Errorf("collector: %s: no source factory", def.ID)
	}
	src, err := deps.Sources.Build(def.Source)
	if err != nil {
		return nil, fmt.Errorf("collector: %s: %w", def.ID, err)
	}
	c.src = src

	if def.Match != "" {
		if c.match, err = regexp.Compile(def.Match); err != nil {
			return nil, fmt.Errorf("collector: %s: match: %w", def.ID, err)
		}
	}
	if def.Exclude != "" {
		if c.exclude, err = regexp.Compile(def.Exclude); err != nil {
			return nil, fmt.Errorf("collector: %s: exclude: %w", def.ID, err)
		}
	}
	return c, nil
}

// ID is the module id.
func (c *Collector) ID() string { return c.def.ID }

// Interval is the catalog interval.
func (c *Collector) Interval() time.Duration { return c.def.Interval }

// Kind is the module kind.
func (c *Collector) Kind() string { return c.def.Kind }

// Cycle runs one iteration. A panic anywhere below is recovered and returned
// as an error so the caller's loop keeps running.
func (c *Collector) Cycle(ctx context.Context) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	start := time.Now()
	defer func() { c.metrics.ObserveCycle(c.def.ID, time.Since(start), err) }()
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("collector: cycle panicked", "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("collector: %s: panic: %v", c.def.ID, r)
		}
	}()

	switch c.def.Kind {
	case models.KindStatus:
		c.statusCycle(ctx)
	case models.KindEvent:
		c.eventCycle(ctx)
	case models.KindAdvisor:
		c.advisorCycle(ctx)
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Kinds
// ─────────────────────────────────────────────────────────────────────────────

func (c *Collector) read(ctx context.Context) source.Reading {
	r := c.src.Read(ctx)
	if r.Err != nil {
		c.logger.Debug("collector: source degraded", "source", c.def.Source.Type, "error", r.Err.Error())
	}
	return r
}

func (c *Collector) statusCycle(ctx context.Context) {
	r := c.read(ctx)
	if r.Skip {
		return
	}

	status := c.classify(r)
	details := RenderDetails(c.def.Details, r.Value, r.Extra)
	at := c.commit(func(s *models.ModuleState) {
		c.record(s, r)
		s.Status = status
		s.Details = details
	})

	state := c.mod.State()
	ins := c.gen.Insight(ctx, c.def.Title, state)
	c.mod.Apply(func(s *models.ModuleState) { s.Insight = ins })

	u := models.Update{
		Module:  c.def.ID,
		Title:   c.def.Title,
		Status:  status,
		Details: details,
		Insight: ins,
		At:      at,
	}
	c.publish(c.fmt.Status(u))
	c.journal.Info(c.fmt.StatusJournal(u))
}

func (c *Collector) eventCycle(ctx context.Context) {
	r := c.read(ctx)
	if r.Skip {
		return
	}

	candidates := r.Lines
	if r.Text != "" {
		candidates = append(candidates, r.Text)
	}
	var events []string
	for _, l := range candidates {
		if c.match != nil && !c.match.MatchString(l) {
			continue
		}
		if c.exclude != nil && c.exclude.MatchString(l) {
			continue
		}
		events = append(events, RenderTemplate(c.def.Template, l))
	}

	status := c.def.Threshold.Normal
	if len(events) > 0 {
		status = c.def.Threshold.High
	}
	if status == "" {
		status = c.def.InitialStatus
	}
	n := float64(len(events))
	details := RenderDetails(c.def.Details, n, nil)

	at := c.commit(func(s *models.ModuleState) {
		if c.def.Metric != "" {
			s.Metrics[c.def.Metric] = n
		}
		s.Status = status
		s.Details = details
	})
	c.metrics.SetValue(c.def.ID, n)

	for _, e := range events {
		c.emit(at, e)
	}
}

func (c *Collector) advisorCycle(ctx context.Context) {
	r := c.read(ctx)
	if r.Skip {
		return
	}
	// Nothing to advise on.
	if c.def.Source.Type == "lines" && len(r.Lines) == 0 {
		return
	}

	choice := r.Text
	if choice == "" && len(c.def.Source.Choices) > 0 {
		choice = c.def.Source.Choices[rand.IntN(len(c.def.Source.Choices))]
	}
	first := ""
	if len(r.Lines) > 0 {
		if f := strings.Fields(r.Lines[0]); len(f) > 0 {
			first = f[0]
		}
	}
	prompt := strings.NewReplacer(
		"{value}", FormatValue(r.Value),
		"{choice}", choice,
		"{first}", first,
	).Replace(c.def.Prompt)

	answer := c.gen.Ask(ctx, c.def.System, prompt)
	status := c.classify(r)
	details := RenderDetails(c.def.Details, r.Value, r.Extra)

	at := c.commit(func(s *models.ModuleState) {
		c.record(s, r)
		s.Status = status
		s.Details = details
		s.Insight = answer
	})
	c.emit(at, c.def.Title+": "+answer)
}

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

// classify maps a reading to the module's high or normal status.
func (c *Collector) classify(r source.Reading) string {
	th := c.def.Threshold
	normal := th.Normal
	if normal == "" {
		normal = c.def.InitialStatus
	}
	if !th.Enabled() {
		return normal
	}
	v := r.Value
	if th.Metric != "" {
		if x, ok := r.Extra[th.Metric]; ok {
			v = x
		}
	}
	if th.Exceeded(v) {
		return th.High
	}
	return normal
}

// record copies the reading's numbers into the state.
func (c *Collector) record(s *models.ModuleState, r source.Reading) {
	if s.Metrics == nil {
		s.Metrics = map[string]float64{}
	}
	if c.def.Metric != "" {
		s.Metrics[c.def.Metric] = r.Value
	}
	for k, v := range r.Extra {
		s.Metrics[k] = v
	}
	if r.History != nil {
		s.History = append(s.History[:0], r.History...)
	}
	c.metrics.SetValue(c.def.ID, r.Value)
}

// commit applies fn and stamps LastUpdate, never moving it backwards. It
// returns the stamp.
func (c *Collector) commit(fn func(*models.ModuleState)) time.Time {
	var at time.Time
	c.mod.Apply(func(s *models.ModuleState) {
		fn(s)
		at = c.now()
		if at.Before(s.LastUpdate) {
			at = s.LastUpdate
		}
		s.LastUpdate = at
	})
	return at
}

func (c *Collector) publish(l string) {
	if c.mod.Publish(l) {
		c.metrics.StreamDropped(c.def.ID)
	}
}

// emit publishes one feed line, keeps it in the log list and journals it.
func (c *Collector) emit(at time.Time, text string) {
	l := c.fmt.Event(at, text)
	c.publish(l)
	c.mod.AppendLog(l)
	c.journal.Info(text)
}

var placeholder = regexp.MustCompile(`\{([a-z0-9_]+)\}`)

// RenderDetails formats value with format, then replaces {key} with the
// matching extra reading. Unknown keys render as N/A. An empty format shows
// the value with one decimal.
func RenderDetails(format string, value float64, extra map[string]float64) string {
	if format == "" {
		return strconv.FormatFloat(value, 'f', 1, 64)
	}
	var s string
	if hasVerb(format) {
		s = fmt.Sprintf(format, value)
	} else {
		s = strings.ReplaceAll(format, "%%", "%")
	}
	return placeholder.ReplaceAllStringFunc(s, func(m string) string {
		key := m[1 : len(m)-1]
		if key == "value" {
			return FormatValue(value)
		}
		if v, ok := extra[key]; ok {
			return strconv.FormatFloat(v, 'f', 1, 64)
		}
		return models.NeverUpdated
	})
}

func hasVerb(format string) bool {
	for i := 0; i < len(format); i++ {
		if format[i] != '%' {
			continue
		}
		if i+1 < len(format) && format[i+1] == '%' {
			i++
			continue
		}
		return true
	}
	return false
}

// RenderTemplate substitutes {line} and {field0}, {field1}, … in tmpl with the
// whole line and its whitespace-separated fields. Missing fields render
// empty. An empty tmpl yields the line itself.
func RenderTemplate(tmpl, l string) string {
	if tmpl == "" {
		return l
	}
	fields := strings.Fields(l)
	return placeholder.ReplaceAllStringFunc(tmpl, func(m string) string {
		key := m[1 : len(m)-1]
		if key == "line" {
			return l
		}
		if idx, ok := strings.CutPrefix(key, "field"); ok {
			if i, err := strconv.Atoi(idx); err == nil {
				if i < len(fields) {
					return fields[i]
				}
				return ""
			}
		}
		return m
	})
}

// FormatValue renders whole numbers without decimals and everything else with
// one.
func FormatValue(v float64) string {
	if v == float64(int64(v)) {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'f', 1, 64)
}

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }

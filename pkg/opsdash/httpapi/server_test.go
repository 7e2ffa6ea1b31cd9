package httpapi_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vpbank/opsdash/format/line"
	"github.com/vpbank/opsdash/models"
	"github.com/vpbank/opsdash/pkg/opsdash/httpapi"
	"github.com/vpbank/opsdash/pkg/opsdash/observability"
	"github.com/vpbank/opsdash/pkg/opsdash/registry"
	"github.com/vpbank/opsdash/pkg/opsdash/trigger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var t0 = time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)

// ─────────────────────────────────────────────────────────────────────────────
// Harness
// ─────────────────────────────────────────────────────────────────────────────

type harness struct {
	reg     *registry.Registry
	fmt     *line.Formatter
	prom    *prometheus.Registry
	metrics *observability.Metrics
	srv     *httpapi.Server
}

func newHarness(t *testing.T, tweak func(*httpapi.Config)) *harness {
	t.Helper()
	src := models.SourceSpec{Type: "random", Range: &models.Range{Max: 1}}
	reg, err := registry.New(
		[]models.DashboardDef{
			{Name: "advanced", Title: "Advanced Features", Route: "/advanced", TriggerRoute: "/trigger", Sink: "trigger_events"},
			{Name: "healing", Title: "Self-Healing", Route: "/healing", TriggerRoute: "/trigger_healing"},
		},
		[]models.ModuleDef{
			{ID: "cpu_load", Title: "CPU Load", Dashboard: "advanced", Interval: time.Second, Source: src, Heartbeat: "CPU: idle at %s"},
			{ID: "trigger_events", Title: "Trigger Events", Dashboard: "advanced", Kind: models.KindSink},
			{ID: "anomaly_feed", Title: "Anomaly Feed", Dashboard: "healing", Kind: models.KindEvent, Interval: time.Second, Source: src, Triggers: []string{"Anomaly Detected"}},
		},
	)
	require.NoError(t, err)

	h := &harness{
		reg:  reg,
		fmt:  line.New(line.Config{Location: time.UTC}),
		prom: prometheus.NewRegistry(),
	}
	h.metrics = observability.New(h.prom)
	now := func() time.Time { return t0 }
	disp := trigger.NewDispatcher(trigger.NewRouter(reg), trigger.DispatcherConfig{
		Formatter: h.fmt,
		Metrics:   h.metrics,
		Now:       now,
	})

	cfg := httpapi.Config{
		Registry:   reg,
		Dispatcher: disp,
		Metrics:    h.metrics,
		Gatherer:   h.prom,
		Formatter:  h.fmt,
		Poll:       10 * time.Millisecond,
		Heartbeat:  time.Hour,
	}
	if tweak != nil {
		tweak(&cfg)
	}
	h.srv, err = httpapi.New(cfg, nil)
	require.NoError(t, err)
	return h
}

func (h *harness) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(w, req)
	return w
}

func (h *harness) module(t *testing.T, id string) *registry.Module {
	t.Helper()
	m, err := h.reg.Get(id)
	require.NoError(t, err)
	return m
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

// ─────────────────────────────────────────────────────────────────────────────
// Construction
// ─────────────────────────────────────────────────────────────────────────────

func TestNew_RequiresRegistryAndDispatcher(t *testing.T) {
	_, err := httpapi.New(httpapi.Config{}, nil)
	require.Error(t, err)
}

func TestNew_DuplicateRoute(t *testing.T) {
	reg, err := registry.New(
		[]models.DashboardDef{{Name: "ops", Route: "/healthz", TriggerRoute: "/trigger_ops"}},
		nil,
	)
	require.NoError(t, err)
	_, err = httpapi.New(httpapi.Config{
		Registry:   reg,
		Dispatcher: trigger.NewDispatcher(trigger.NewRouter(reg), trigger.DispatcherConfig{}),
	}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GET /healthz")
}

// ─────────────────────────────────────────────────────────────────────────────
// Health, metrics, request ids
// ─────────────────────────────────────────────────────────────────────────────

func TestHealthz(t *testing.T) {
	h := newHarness(t, nil)
	w := h.do(http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode(t, w)["status"])
}

func TestRequestID_IssuedAndKept(t *testing.T) {
	h := newHarness(t, nil)

	w := h.do(http.MethodGet, "/healthz", "")
	assert.Len(t, w.Header().Get(httpapi.RequestIDHeader), 36)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(httpapi.RequestIDHeader, "abc-123")
	w = httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(w, req)
	assert.Equal(t, "abc-123", w.Header().Get(httpapi.RequestIDHeader))
}

func TestMetrics_ExposesTriggerCounters(t *testing.T) {
	h := newHarness(t, nil)
	require.Equal(t, http.StatusOK, h.do(http.MethodPost, "/trigger", `{"event":"Disk full"}`).Code)

	w := h.do(http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `opsdash_trigger_events_total{module="trigger_events",origin="http"} 1`)
}

// ─────────────────────────────────────────────────────────────────────────────
// Trigger
// ─────────────────────────────────────────────────────────────────────────────

func TestTrigger_DefaultSink(t *testing.T) {
	h := newHarness(t, nil)

	w := h.do(http.MethodPost, "/trigger", `{"event":"Disk full"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]any{
		"status":  "success",
		"message": "Event triggered",
		"module":  "trigger_events",
	}, decode(t, w))

	want := "[2026-03-04 05:06:07] Trigger: Disk full"
	m := h.module(t, "trigger_events")
	assert.Equal(t, []string{want}, m.Stream().Snapshot())
	assert.Equal(t, []string{want}, m.Logs())
}

func TestTrigger_SubstringAndExplicitModule(t *testing.T) {
	h := newHarness(t, nil)

	w := h.do(http.MethodPost, "/trigger_healing", `{"event":"Anomaly Detected: pod down"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "anomaly_feed", decode(t, w)["module"])

	w = h.do(http.MethodPost, "/trigger", `{"event":"anything","module":"cpu_load"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "cpu_load", decode(t, w)["module"])
	assert.Equal(t, 1, h.module(t, "cpu_load").Stream().Len())
}

func TestTrigger_ModuleOfOtherDashboardRejected(t *testing.T) {
	h := newHarness(t, nil)

	w := h.do(http.MethodPost, "/trigger_healing", `{"event":"x","module":"cpu_load"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, map[string]any{"status": "error", "message": "Unknown module"}, decode(t, w))
	assert.Zero(t, h.module(t, "cpu_load").Stream().Len())
	assert.Empty(t, h.module(t, "cpu_load").Logs())
}

func TestTrigger_InvalidBodies(t *testing.T) {
	h := newHarness(t, nil)

	for _, body := range []string{
		`{}`,
		`not json`,
		`{"event": 5}`,
		`{"event": ""}`,
		`{"event": "   "}`,
		`{"event": "x", "module": 3}`,
		`[]`,
	} {
		t.Run(body, func(t *testing.T) {
			w := h.do(http.MethodPost, "/trigger", body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, map[string]any{"status": "error", "message": "Invalid event data"}, decode(t, w))
		})
	}
	for _, m := range h.reg.All() {
		assert.Zero(t, m.Stream().Len(), m.ID())
		assert.Empty(t, m.Logs(), m.ID())
	}
}

func TestTrigger_UnknownModule(t *testing.T) {
	h := newHarness(t, nil)
	w := h.do(http.MethodPost, "/trigger", `{"event":"x","module":"nope"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "error", decode(t, w)["status"])
}

func TestTrigger_Unroutable(t *testing.T) {
	h := newHarness(t, nil)
	w := h.do(http.MethodPost, "/trigger_healing", `{"event":"Cost Optimization: idle"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Zero(t, h.module(t, "anomaly_feed").Stream().Len())
}

func TestTrigger_RateLimited(t *testing.T) {
	h := newHarness(t, func(c *httpapi.Config) {
		c.TriggerRate = 0.001
		c.TriggerBurst = 1
	})
	assert.Equal(t, http.StatusOK, h.do(http.MethodPost, "/trigger", `{"event":"one"}`).Code)

	w := h.do(http.MethodPost, "/trigger", `{"event":"two"}`)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "error", decode(t, w)["status"])
	assert.Equal(t, 1, h.module(t, "trigger_events").Stream().Len())
}

// ─────────────────────────────────────────────────────────────────────────────
// JSON API and pages
// ─────────────────────────────────────────────────────────────────────────────

func TestAPI_ListModules(t *testing.T) {
	h := newHarness(t, nil)
	w := h.do(http.MethodGet, "/api/modules", "")
	require.Equal(t, http.StatusOK, w.Code)

	var got []models.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got, 3)
	assert.Equal(t, "cpu_load", got[0].ID)
	assert.Equal(t, "advanced", got[0].Dashboard)
	assert.Equal(t, models.NeverUpdated, got[0].LastUpdate)
}

func TestAPI_GetModule(t *testing.T) {
	h := newHarness(t, nil)
	h.module(t, "cpu_load").Publish("[2026-03-04 05:06:07] High - Load: 91.0% - Scale out")

	w := h.do(http.MethodGet, "/api/modules/cpu_load", "")
	require.Equal(t, http.StatusOK, w.Code)
	var got httpapi.ModuleDetail
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "CPU Load", got.Title)
	assert.Equal(t, []string{"[2026-03-04 05:06:07] High - Load: 91.0% - Scale out"}, got.Stream)
	assert.Empty(t, got.Logs)

	assert.Equal(t, http.StatusNotFound, h.do(http.MethodGet, "/api/modules/nope", "").Code)
}

func TestPages(t *testing.T) {
	h := newHarness(t, nil)
	h.module(t, "anomaly_feed").AppendLog("[2026-03-04 05:06:07] Anomaly: <db> down")

	w := h.do(http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `href="/advanced"`)
	assert.Contains(t, w.Body.String(), "Self-Healing")

	w = h.do(http.MethodGet, "/advanced", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `data-stream="/cpu_load_stream"`)
	assert.Contains(t, w.Body.String(), `data-stream="/trigger_events_stream"`)
	assert.NotContains(t, w.Body.String(), "anomaly_feed")

	w = h.do(http.MethodGet, "/healing", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Anomaly: &lt;db&gt; down")
}

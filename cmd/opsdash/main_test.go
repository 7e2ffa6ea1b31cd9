package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

// ─────────────────────────────────────────────────────────────────────────────
// buildLogger
// ─────────────────────────────────────────────────────────────────────────────

func TestBuildLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := buildLogger(&buf, "warn", "json")
	require.NoError(t, err)
	logger.Info("hidden")
	logger.Warn("shown", "k", "v")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "shown", rec["msg"])
	assert.Equal(t, "v", rec["k"])

	buf.Reset()
	logger, err = buildLogger(&buf, "debug", "text")
	require.NoError(t, err)
	logger.Debug("hello")
	assert.Contains(t, buf.String(), "msg=hello")
}

func TestBuildLogger_Errors(t *testing.T) {
	_, err := buildLogger(&bytes.Buffer{}, "verbose", "json")
	assert.ErrorContains(t, err, `unknown log level "verbose"`)

	_, err = buildLogger(&bytes.Buffer{}, "info", "xml")
	assert.ErrorContains(t, err, `unknown log format "xml"`)
}

// ─────────────────────────────────────────────────────────────────────────────
// modules
// ─────────────────────────────────────────────────────────────────────────────

func TestModules_FilterByDashboard(t *testing.T) {
	out, err := execute(t, "modules", "--dashboard", "self_healing", "--log-level", "error")
	require.NoError(t, err)
	assert.Contains(t, out, "auto_repair_feed")
	assert.Contains(t, out, "/auto_repair_feed_stream")
	assert.NotContains(t, out, "predictive_scaling")
}

func TestModules_UnknownDashboard(t *testing.T) {
	_, err := execute(t, "modules", "--dashboard", "nope", "--log-level", "error")
	assert.ErrorContains(t, err, "unknown dashboard(s): nope")
}

func TestModules_CatalogFlag(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ops.yaml"), []byte(`
dashboard:
  name: ops
  sink: inbox
modules:
  - id: cpu
    interval: 2s
    source: {type: random, range: {min: 0, max: 100}}
  - id: inbox
    kind: sink
`), 0o644))

	out, err := execute(t, "modules", "--catalog", dir, "--log-level", "error")
	require.NoError(t, err)
	assert.Contains(t, out, "cpu")
	assert.Contains(t, out, "2s")
	assert.Contains(t, out, "inbox")
	assert.NotContains(t, out, "auto_repair_feed")
}

func TestSettings_FlagBeatsEnv(t *testing.T) {
	t.Setenv("OPSDASH_LOG_LEVEL", "bogus")

	_, err := execute(t, "modules", "--dashboard", "self_healing")
	assert.ErrorContains(t, err, `unknown log level "bogus"`)

	_, err = execute(t, "modules", "--dashboard", "self_healing", "--log-level", "error")
	assert.NoError(t, err)
}

func TestSettings_MissingConfigFile(t *testing.T) {
	_, err := execute(t, "modules", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "not found")
}

// ─────────────────────────────────────────────────────────────────────────────
// serve
// ─────────────────────────────────────────────────────────────────────────────

func TestServe_InvalidFlagValueRejected(t *testing.T) {
	_, err := execute(t, "serve", "--insight", "magic", "--log-level", "error")
	assert.ErrorContains(t, err, `unknown provider "magic"`)
}

type fakeService struct {
	waitErr chan error
	stopped atomic.Int32
}

func (f *fakeService) Wait() error { return <-f.waitErr }

func (f *fakeService) Stop() {
	f.stopped.Add(1)
	select {
	case f.waitErr <- nil:
	default:
	}
}

func TestWaitAndStop_ContextDone(t *testing.T) {
	svc := &fakeService{waitErr: make(chan error, 1)}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.NoError(t, waitAndStop(ctx, svc))
	assert.Equal(t, int32(1), svc.stopped.Load())
}

func TestWaitAndStop_ServiceFailure(t *testing.T) {
	svc := &fakeService{waitErr: make(chan error, 1)}
	svc.waitErr <- errors.New("listener closed")

	err := waitAndStop(context.Background(), svc)
	assert.ErrorContains(t, err, "serve: listener closed")
	assert.Equal(t, int32(1), svc.stopped.Load())
}

// ─────────────────────────────────────────────────────────────────────────────
// trigger
// ─────────────────────────────────────────────────────────────────────────────

func TestTrigger_SendsCount(t *testing.T) {
	var (
		hits   atomic.Int32
		events = make(chan string, 4)
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		events <- body["event"]
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"success","message":"Event triggered","module":"inbox"}`))
	}))
	defer srv.Close()

	out, err := execute(t, "trigger",
		"--url", srv.URL+"/trigger",
		"--event", "Disk full",
		"--count", "2",
		"--min-delay", "1ms",
		"--max-delay", "1ms",
		"--log-level", "error",
	)
	require.NoError(t, err)
	assert.Contains(t, out, "sent 2 event(s)")
	assert.Equal(t, int32(2), hits.Load())
	assert.Equal(t, "Disk full", <-events)
}

func TestTrigger_UnknownEventSet(t *testing.T) {
	_, err := execute(t, "trigger", "--dashboard", "nope", "--log-level", "error")
	assert.ErrorContains(t, err, `no event set for dashboard "nope"`)
}

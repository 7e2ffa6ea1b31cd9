package app_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/vpbank/opsdash/pkg/opsdash/app"
	"github.com/vpbank/opsdash/pkg/opsdash/config"
)

const opsYAML = `
dashboard:
  name: ops
  sink: inbox
defaults:
  interval: 20ms
  capacity: 50
modules:
  - id: cpu
    source: {type: random, range: {min: 0, max: 100}}
    threshold: {value: 50, high: High, normal: Normal}
    details: "Load: %.1f%%"
  - id: inbox
    kind: sink
`

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

func testSettings(t *testing.T) *config.Settings {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ops.yaml"), []byte(opsYAML), 0o644))

	s := config.DefaultSettings()
	s.Catalog.Dir = dir
	s.HTTP.Listen = "127.0.0.1:0"
	s.HTTP.ShutdownTimeout = 2 * time.Second
	s.Journal.Dir = t.TempDir()
	s.Collect.MinInterval = 10 * time.Millisecond
	s.Stream.Poll = 10 * time.Millisecond
	s.Preflight = false
	return s
}

// ─────────────────────────────────────────────────────────────────────────────
// Tests
// ─────────────────────────────────────────────────────────────────────────────

func TestApp_ServeTriggerAndStop(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	defer http.DefaultClient.CloseIdleConnections()

	s := testSettings(t)
	s.SNMP.TrapListen = "127.0.0.1:0"

	a, err := app.New(s, nil)
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))
	base := "http://" + a.Addr()

	cpu, err := a.Registry().Get("cpu")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return cpu.Stream().Len() >= 2 }, 3*time.Second, 10*time.Millisecond)
	assert.Contains(t, cpu.Stream().Snapshot()[0], "Load: ")

	resp, err := http.Get(base + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Post(base+"/trigger_ops", "application/json", strings.NewReader(`{"event":"Disk full"}`))
	require.NoError(t, err)
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "inbox", body["module"])

	a.Stop()
	a.Stop()
	require.NoError(t, a.Wait())

	journal, err := os.ReadFile(filepath.Join(s.Journal.Dir, "ops.log"))
	require.NoError(t, err)
	assert.Contains(t, string(journal), " - INFO - Trigger Event Received: [")
	assert.Contains(t, string(journal), "Trigger: Disk full")
	assert.Contains(t, string(journal), " - INFO - cpu: ")

	_, err = http.Get(base + "/healthz")
	assert.Error(t, err, "server still accepting after Stop")
}

func TestApp_StartTwice(t *testing.T) {
	a, err := app.New(testSettings(t), nil)
	require.NoError(t, err)
	defer a.Stop()

	require.NoError(t, a.Start(context.Background()))
	assert.Error(t, a.Start(context.Background()))
}

func TestApp_StopWithoutStart(t *testing.T) {
	a, err := app.New(testSettings(t), nil)
	require.NoError(t, err)
	a.Stop()
	assert.NoError(t, a.Wait())
}

func TestApp_UnknownDashboard(t *testing.T) {
	s := testSettings(t)
	s.Dashboards = []string{"ops", "nope"}
	_, err := app.New(s, nil)
	assert.ErrorContains(t, err, "nope")
}

func TestApp_InvalidSettings(t *testing.T) {
	s := testSettings(t)
	s.Insight.Provider = "magic"
	_, err := app.New(s, nil)
	assert.Error(t, err)
}

func TestApp_BindFailure(t *testing.T) {
	first, err := app.New(testSettings(t), nil)
	require.NoError(t, err)
	require.NoError(t, first.Start(context.Background()))
	defer first.Stop()

	s := testSettings(t)
	s.HTTP.Listen = first.Addr()
	second, err := app.New(s, nil)
	require.NoError(t, err)
	defer second.Stop()
	assert.Error(t, second.Start(context.Background()))
}

func TestApp_PreflightLogsEachCheck(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	s := testSettings(t)
	s.Preflight = true
	s.Runner.Shell = "/bin/sh"
	s.Runner.Timeout = 5 * time.Second

	a, err := app.New(s, logger)
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))
	a.Stop()

	out, _ := io.ReadAll(&buf)
	assert.Contains(t, string(out), "check=docker")
	assert.Contains(t, string(out), "check=kubernetes")
}

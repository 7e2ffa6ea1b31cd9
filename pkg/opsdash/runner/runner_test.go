package runner_test

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vpbank/opsdash/pkg/opsdash/observability"
	"github.com/vpbank/opsdash/pkg/opsdash/runner"
)

func newRunner(t *testing.T, cfg runner.Config) (*runner.Runner, *bytes.Buffer, *observability.Metrics) {
	t.Helper()
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	m := observability.New(prometheus.NewRegistry())
	if cfg.Shell == "" {
		cfg.Shell = "/bin/sh"
	}
	return runner.New(cfg, logger, m), &buf, m
}

func TestRun_CapturesStdoutAndStderrSeparately(t *testing.T) {
	r, logs, m := newRunner(t, runner.Config{})
	res := r.Run(context.Background(), "echo out; echo err 1>&2")

	require.NoError(t, res.Err)
	assert.Equal(t, "out", res.Stdout)
	assert.Equal(t, "err", res.Stderr)
	assert.Equal(t, 0, res.ExitCode)
	assert.Empty(t, logs.String())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CommandRunsTotal.WithLabelValues("ok")))
}

func TestRun_PipelinesAreInterpreted(t *testing.T) {
	r, _, _ := newRunner(t, runner.Config{})
	res := r.Run(context.Background(), "printf 'a\\nb\\nc\\n' | wc -l")
	require.NoError(t, res.Err)
	assert.Equal(t, "3", res.Stdout)
}

func TestRun_NonZeroExitIsNotAFailure(t *testing.T) {
	r, logs, m := newRunner(t, runner.Config{})
	res := r.Run(context.Background(), "echo partial; exit 3")

	require.NoError(t, res.Err)
	assert.False(t, res.Failed())
	assert.Equal(t, "partial", res.Stdout)
	assert.Equal(t, 3, res.ExitCode)
	assert.Empty(t, logs.String())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CommandRunsTotal.WithLabelValues("exit_nonzero")))
}

func TestRun_StrictNonZeroExitFails(t *testing.T) {
	r, logs, _ := newRunner(t, runner.Config{Strict: true})
	res := r.Run(context.Background(), "echo partial; exit 4")

	var exitErr *runner.ExitError
	require.ErrorAs(t, res.Err, &exitErr)
	assert.Equal(t, 4, exitErr.Code)
	assert.Equal(t, 4, res.ExitCode)
	assert.Empty(t, res.Stdout)
	assert.Equal(t, 1, strings.Count(logs.String(), "runner: command failed"))
}

func TestRun_LaunchFailureReturnsEmptyResult(t *testing.T) {
	r, logs, m := newRunner(t, runner.Config{Shell: "/nonexistent/shell"})
	res := r.Run(context.Background(), "echo hi")

	require.Error(t, res.Err)
	assert.Empty(t, res.Stdout)
	assert.NotEmpty(t, res.Stderr)
	assert.Equal(t, -1, res.ExitCode)
	assert.Equal(t, 1, strings.Count(logs.String(), "runner: command failed"))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CommandRunsTotal.WithLabelValues("failed")))
}

func TestRun_TimeoutKillsCommand(t *testing.T) {
	r, _, m := newRunner(t, runner.Config{Timeout: 100 * time.Millisecond})

	start := time.Now()
	res := r.Run(context.Background(), "sleep 5; echo late")

	assert.ErrorIs(t, res.Err, runner.ErrTimeout)
	assert.Empty(t, res.Stdout)
	assert.Less(t, time.Since(start), 3*time.Second)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CommandRunsTotal.WithLabelValues("timeout")))
}

func TestRun_CancelledContext(t *testing.T) {
	r, _, _ := newRunner(t, runner.Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := r.Run(ctx, "echo never")
	require.Error(t, res.Err)
	assert.Empty(t, res.Stdout)
}

func TestRun_NilLoggerAndMetrics(t *testing.T) {
	r := runner.New(runner.Config{Shell: "/bin/sh"}, nil, nil)
	res := r.Run(context.Background(), "echo ok")
	require.NoError(t, res.Err)
	assert.Equal(t, "ok", res.Stdout)
}

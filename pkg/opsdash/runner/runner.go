// Package runner executes catalog-defined shell commands with a bounded
// lifetime and converts every failure into a value.
//
// Run never returns an error and never panics. A command that cannot be
// launched, or that outlives its timeout, yields an empty Stdout with the
// failure recorded in Err and Stderr. A command that runs and exits non-zero
// keeps its output; only Strict mode treats a non-zero exit as a failure.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/vpbank/opsdash/pkg/opsdash/observability"
)

// DefaultTimeout bounds a command when Config.Timeout is zero.
const DefaultTimeout = 10 * time.Second

// ErrTimeout is recorded in Result.Err when a command outlives its timeout.
var ErrTimeout = errors.New("runner: command timed out")

// ExitError is recorded in Result.Err in Strict mode for a non-zero exit.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string { return fmt.Sprintf("runner: exit status %d", e.Code) }

// Config controls a Runner.
type Config struct {
	// Timeout bounds each command. Zero means DefaultTimeout.
	Timeout time.Duration

	// Strict converts a non-zero exit into the failure result.
	Strict bool

	// Shell interprets the command. Empty means $SHELL, then /bin/sh.
	Shell string
}

// Result is the outcome of one command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Err      error
	Duration time.Duration
}

// Failed reports whether the command produced no usable output.
func (r Result) Failed() bool { return r.Err != nil }

// Runner runs shell commands. It is safe for concurrent use.
type Runner struct {
	cfg     Config
	logger  *slog.Logger
	metrics *observability.Metrics
}

// New constructs a Runner. logger and metrics may be nil.
func New(cfg Config, logger *slog.Logger, metrics *observability.Metrics) *Runner {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Shell == "" {
		cfg.Shell = os.Getenv("SHELL")
	}
	if cfg.Shell == "" {
		cfg.Shell = "/bin/sh"
	}
	return &Runner{cfg: cfg, logger: logger, metrics: metrics}
}

// Run executes command through the configured shell.
func (r *Runner) Run(ctx context.Context, command string) Result {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, r.cfg.Shell, "-c", command)
	// Pipelines leave grandchildren holding the pipes after the shell is
	// killed; WaitDelay stops Wait from blocking on them.
	cmd.WaitDelay = time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	res := Result{
		Stdout:   strings.TrimSpace(stdout.String()),
		Stderr:   strings.TrimSpace(stderr.String()),
		Duration: time.Since(start),
	}

	switch {
	case runErr == nil:
		r.metrics.CommandRun("ok")
		return res

	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		res = failure(res, ErrTimeout)
		r.metrics.CommandRun("timeout")

	case ctx.Err() != nil:
		res = failure(res, ctx.Err())
		r.metrics.CommandRun("failed")

	default:
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			r.metrics.CommandRun("exit_nonzero")
			if !r.cfg.Strict {
				return res
			}
			res = failure(res, &ExitError{Code: res.ExitCode})
		} else {
			res = failure(res, runErr)
			r.metrics.CommandRun("failed")
		}
	}

	r.logger.Warn("runner: command failed",
		"command", command,
		"error", res.Err.Error(),
		"exit_code", res.ExitCode,
		"duration", res.Duration,
	)
	return res
}

// failure applies the empty-result contract while keeping the exit code.
func failure(res Result, err error) Result {
	code := res.ExitCode
	if code == 0 {
		code = -1
	}
	stderr := err.Error()
	if res.Stderr != "" {
		stderr = res.Stderr
	}
	return Result{
		Stderr:   stderr,
		ExitCode: code,
		Err:      err,
		Duration: res.Duration,
	}
}

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }

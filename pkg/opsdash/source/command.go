package source

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/vpbank/opsdash/models"
)

// ErrNoOutput is recorded when a command printed nothing to parse.
var ErrNoOutput = errors.New("source: command produced no output")

// Parse modes for command sources.
const (
	ParseCount = "count"
	ParseInt   = "int"
	ParseFloat = "float"
)

func buildCommand(spec models.SourceSpec, deps Deps) (Source, error) {
	if spec.Command == "" {
		return nil, fmt.Errorf("command is required")
	}
	if deps.Runner == nil {
		return nil, fmt.Errorf("no command runner")
	}
	mode := spec.Parse
	if mode == "" {
		mode = ParseInt
	}
	switch mode {
	case ParseCount, ParseInt, ParseFloat:
	default:
		return nil, fmt.Errorf("unknown parse mode %q", mode)
	}

	run, cmd, fallback := deps.Runner, spec.Command, spec.Fallback
	return Func(func(ctx context.Context) Reading {
		res := run.Run(ctx, cmd)

		def := Reading{}
		if fallback != nil {
			def.Value = uniform(*fallback)
		}
		if res.Err != nil {
			def.Err = res.Err
			return def
		}

		if mode == ParseCount {
			return Reading{Value: float64(len(splitLines(res.Stdout)))}
		}
		if res.Stdout == "" {
			def.Err = ErrNoOutput
			return def
		}
		v, err := ParseNumber(res.Stdout)
		if err != nil {
			def.Err = err
			return def
		}
		return Reading{Value: v}
	}), nil
}

func buildLines(spec models.SourceSpec, deps Deps) (Source, error) {
	if spec.Command == "" {
		return nil, fmt.Errorf("command is required")
	}
	if deps.Runner == nil {
		return nil, fmt.Errorf("no command runner")
	}
	run, cmd := deps.Runner, spec.Command
	return Func(func(ctx context.Context) Reading {
		res := run.Run(ctx, cmd)
		if res.Err != nil {
			return Reading{Err: res.Err}
		}
		lines := splitLines(res.Stdout)
		return Reading{Lines: lines, Value: float64(len(lines))}
	}), nil
}

// ParseNumber reads the first whitespace-separated token of s as a number,
// ignoring a trailing unit such as "%", "MiB" or "ms".
func ParseNumber(s string) (float64, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return 0, ErrNoOutput
	}
	tok := strings.TrimRightFunc(fields[0], func(r rune) bool {
		return !unicode.IsDigit(r) && r != '.'
	})
	v, err := strconv.ParseFloat(tok, 64)
	if err != nil {
		return 0, fmt.Errorf("source: parse %q: %w", fields[0], err)
	}
	return v, nil
}

func splitLines(s string) []string {
	var out []string
	for _, l := range strings.Split(s, "\n") {
		if strings.TrimSpace(l) != "" {
			out = append(out, strings.TrimRight(l, "\r"))
		}
	}
	return out
}

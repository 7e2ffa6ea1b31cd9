// Command opsdash serves the operations dashboards and drives them with test
// events.
//
// Usage:
//
//	opsdash serve [flags]      run the collectors and the HTTP server
//	opsdash trigger [flags]    post random events to a trigger endpoint
//	opsdash modules [flags]    list the catalog modules
//
// Settings come from flags, then OPSDASH_* environment variables, then the
// --config file, then defaults.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/vpbank/opsdash/pkg/opsdash/config"
)

// Version info set via ldflags at build time:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "none"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "opsdash: %v\n", err)
		os.Exit(1)
	}
}

// loadFunc resolves the settings and the logger for one command run.
type loadFunc func() (*config.Settings, *slog.Logger, error)

func newRootCmd() *cobra.Command {
	v := config.NewViper()
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "opsdash",
		Short: "Live operations dashboards over SSE",
		Long: `opsdash polls system sources per module, streams the results to browser
dashboards over server-sent events, and accepts external trigger events.`,
		Version:       version + " (" + commit + ")",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetVersionTemplate("opsdash {{ .Version }}\n")

	pf := cmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "YAML settings file")
	pf.String("log-level", "info", "Log level: debug, info, warn, error")
	pf.String("log-format", "json", "Log format: json, text")
	if err := bindFlags(v, pf, map[string]string{
		"log.level":  "log-level",
		"log.format": "log-format",
	}); err != nil {
		panic(err)
	}

	load := func() (*config.Settings, *slog.Logger, error) {
		settings, err := config.LoadSettings(v, cfgFile)
		if err != nil {
			return nil, nil, err
		}
		logger, err := buildLogger(os.Stderr, settings.Log.Level, settings.Log.Format)
		if err != nil {
			return nil, nil, err
		}
		return settings, logger, nil
	}

	cmd.AddCommand(
		serveCmd(v, load),
		triggerCmd(load),
		modulesCmd(v, load),
	)
	return cmd
}

// bindFlags binds each settings key to the named flag of fs. Subcommands
// bind in PreRunE so that only the running command's flags are bound when
// two commands share a key.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet, keys map[string]string) error {
	for key, name := range keys {
		if err := v.BindPFlag(key, fs.Lookup(name)); err != nil {
			return fmt.Errorf("bind --%s: %w", name, err)
		}
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

func buildLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level %q (expected debug|info|warn|error)", level)
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler

	switch format {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		return nil, fmt.Errorf("unknown log format %q (expected json|text)", format)
	}

	return slog.New(handler), nil
}

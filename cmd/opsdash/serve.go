package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/vpbank/opsdash/pkg/opsdash/app"
)

func serveCmd(v *viper.Viper, load loadFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the collectors and serve the dashboards",
		Long: `serve loads the module catalog, starts one collector per module and serves
the dashboard pages, the SSE streams and the trigger endpoints until
interrupted (SIGINT / SIGTERM).

Examples:
  opsdash serve
  opsdash serve --listen :8080 --dashboards self_healing,decision_making
  opsdash serve --insight ollama --trap-listen 0.0.0.0:9162`,
		Args: cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			return bindFlags(v, cmd.Flags(), map[string]string{
				"http.listen":      "listen",
				"catalog.dir":      "catalog",
				"dashboards":       "dashboards",
				"insight.provider": "insight",
				"snmp.trap_listen": "trap-listen",
				"snmp.community":   "community",
				"journal.dir":      "journal-dir",
				"trigger.rate":     "trigger-rate",
				"preflight":        "preflight",
			})
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, logger, err := load()
			if err != nil {
				return err
			}

			application, err := app.New(settings, logger)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := application.Start(ctx); err != nil {
				application.Stop()
				return fmt.Errorf("start: %w", err)
			}
			logger.Info("opsdash: running, press Ctrl-C to stop", "addr", application.Addr())

			return waitAndStop(ctx, application)
		},
	}

	f := cmd.Flags()
	f.String("listen", ":5001", "HTTP listen address")
	f.String("catalog", "", "Catalog directory (default: embedded catalog)")
	f.StringSlice("dashboards", nil, "Dashboards to serve (default: all)")
	f.String("insight", "random", "Insight provider: random, ollama, openai")
	f.String("trap-listen", "", "SNMP trap listen address (default: disabled)")
	f.String("community", "", "SNMP community accepted on v1/v2c traps")
	f.String("journal-dir", ".", "Directory of the dashboard journals")
	f.Float64("trigger-rate", 0, "Accepted trigger requests per second (0 = unlimited)")
	f.Bool("preflight", true, "Probe docker and kubectl at start")
	return cmd
}

type service interface {
	Wait() error
	Stop()
}

// waitAndStop blocks until ctx ends or the service fails on its own, then
// stops it. A failure is returned.
func waitAndStop(ctx context.Context, s service) error {
	errc := make(chan error, 1)
	go func() { errc <- s.Wait() }()

	var err error
	select {
	case <-ctx.Done():
	case err = <-errc:
		if err != nil {
			err = fmt.Errorf("serve: %w", err)
		}
	}
	s.Stop()
	return err
}

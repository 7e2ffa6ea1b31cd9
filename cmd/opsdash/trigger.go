package main

import (
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vpbank/opsdash/pkg/opsdash/trigger"
)

func triggerCmd(load loadFunc) *cobra.Command {
	var (
		url       string
		dashboard string
		events    []string
		count     int
		minDelay  time.Duration
		maxDelay  time.Duration
		timeout   time.Duration
		retries   int
	)

	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Post random events to a trigger endpoint",
		Long: `trigger sends events drawn at random from a built-in event set (or from
--event values) to a running dashboard, pausing a random delay between
events. It runs until interrupted unless --count is set.

Built-in event sets: ` + strings.Join(trigger.EventSets(), ", ") + `

Examples:
  opsdash trigger --dashboard self_healing --url http://localhost:5001/trigger_self_healing
  opsdash trigger --event "Disk full" --count 1`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pool := events
			if len(pool) == 0 {
				set, ok := trigger.Events(dashboard)
				if !ok {
					return fmt.Errorf("no event set for dashboard %q (have %s)", dashboard, strings.Join(trigger.EventSets(), ", "))
				}
				pool = set
			}

			_, logger, err := load()
			if err != nil {
				return err
			}

			client, err := trigger.NewClient(trigger.ClientConfig{
				URL:        url,
				Timeout:    timeout,
				MaxRetries: retries,
			}, logger)
			if err != nil {
				return err
			}
			producer, err := trigger.NewProducer(client, trigger.ProducerConfig{
				Events:   pool,
				MinDelay: minDelay,
				MaxDelay: maxDelay,
				Count:    count,
			}, logger)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			sent := producer.Run(ctx)
			fmt.Fprintf(cmd.OutOrStdout(), "sent %d event(s)\n", sent)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&url, "url", "http://localhost:5001/trigger", "Trigger endpoint URL")
	f.StringVar(&dashboard, "dashboard", "advanced_features", "Built-in event set to draw from")
	f.StringArrayVar(&events, "event", nil, "Event text to draw from instead of the built-in set (repeatable)")
	f.IntVar(&count, "count", 0, "Stop after this many events (0 = run until interrupted)")
	f.DurationVar(&minDelay, "min-delay", 5*time.Second, "Minimum pause between events")
	f.DurationVar(&maxDelay, "max-delay", 15*time.Second, "Maximum pause between events")
	f.DurationVar(&timeout, "timeout", 30*time.Second, "Per-request timeout including retries")
	f.IntVar(&retries, "retries", 3, "Retries on 5xx replies and temporary errors")
	return cmd
}

package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"recnet/pkg/config"
	"recnet/pkg/eventlog"
)

// eventsConfig holds configuration for the events command.
type eventsConfig struct {
	tail      int
	eventType string
	requestID string
	emissions bool
}

// newEventsCmd creates the "recnet events" subcommand.
func newEventsCmd() *cobra.Command {
	var (
		cfgFlags   eventsConfig
		configPath string
	)
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Query the validator audit log",
		Long:  "Displays events from the validator's audit log, newest first.\nOptionally filter by event type or request id, or show emission cycles.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			r, err := eventlog.NewReader(cfg.Validator.DBPath)
			if err != nil {
				return err
			}
			defer func() { _ = r.Close() }()

			if cfgFlags.emissions {
				return printEmissions(cmd, r, cfgFlags.tail)
			}
			return printEvents(cmd, r, cfgFlags)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultPath(), "config file path")
	cmd.Flags().IntVarP(&cfgFlags.tail, "tail", "n", 20, "number of rows to show")
	cmd.Flags().StringVarP(&cfgFlags.eventType, "type", "t", "", "filter by event type")
	cmd.Flags().StringVarP(&cfgFlags.requestID, "request", "r", "", "filter by request id")
	cmd.Flags().BoolVar(&cfgFlags.emissions, "emissions", false, "show emission cycles instead of events")
	return cmd
}

func printEvents(cmd *cobra.Command, r *eventlog.Reader, cfg eventsConfig) error {
	events, err := r.QueryEvents(cmd.Context(), eventlog.QueryOpts{
		EventType: cfg.eventType,
		RequestID: cfg.requestID,
		Limit:     cfg.tail,
	})
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	if len(events) == 0 {
		fmt.Fprintln(w, "no events")
		return nil
	}
	for _, e := range events {
		printEvent(w, e)
	}
	return nil
}

func printEvent(w io.Writer, e eventlog.Event) {
	uid := "-"
	if e.MinerUID >= 0 {
		uid = fmt.Sprintf("%d", e.MinerUID)
	}
	req := e.RequestID
	if req == "" {
		req = "-"
	}
	fmt.Fprintf(w, "%s  %-20s uid=%-4s req=%-36s %s\n",
		e.CreatedAt.Format(time.DateTime), e.Type, uid, req, e.Payload)
}

func printEmissions(cmd *cobra.Command, r *eventlog.Reader, tail int) error {
	emissions, err := r.QueryEmissions(cmd.Context(), tail)
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	if len(emissions) == 0 {
		fmt.Fprintln(w, "no emissions")
		return nil
	}
	for _, em := range emissions {
		outcome := "ok"
		if !em.OK {
			outcome = "failed"
		}
		fmt.Fprintf(w, "%s  %-6s uids=%s weights=%s %s\n",
			em.CreatedAt.Format(time.DateTime), outcome, em.UIDs, em.Weights, em.Message)
	}
	return nil
}

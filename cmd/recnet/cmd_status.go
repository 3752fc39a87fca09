package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"recnet/pkg/config"
	"recnet/pkg/validator"
)

// newStatusCmd creates the "recnet status" subcommand.
func newStatusCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show node state",
		Long:  "Displays daemon liveness and, when the validator's gateway is\nreachable, the dispatch loop state, membership, and scores.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return runStatus(cmd.OutOrStdout(), cfg)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultPath(), "config file path")
	return cmd
}

// runStatus prints daemon liveness and the gateway status snapshot.
func runStatus(w io.Writer, cfg config.Config) error {
	for _, name := range []string{"validator", "miner"} {
		pidPath, err := DefaultPIDPath(name)
		if err != nil {
			return err
		}
		status, pid, err := DaemonStatus(pidPath)
		if err != nil {
			return err
		}
		switch status {
		case StatusRunning:
			fmt.Fprintf(w, "%-10s %s (PID %d)\n", name, status, pid)
		default:
			fmt.Fprintf(w, "%-10s %s\n", name, status)
		}
	}

	st, err := fetchGatewayStatus(cfg.Gateway.Addr)
	if err != nil {
		fmt.Fprintf(w, "\ngateway unreachable: %v\n", err)
		return nil
	}

	fmt.Fprintf(w, "\nloop: %s (step %d)\n", st.State, st.Step)
	if !st.LastSync.IsZero() {
		fmt.Fprintf(w, "last sync: %s\n", st.LastSync.Format(time.RFC3339))
	}
	if !st.LastEmission.IsZero() {
		fmt.Fprintf(w, "last emission: %s\n", st.LastEmission.Format(time.RFC3339))
	}
	if len(st.Members) > 0 {
		fmt.Fprintf(w, "\n%4s  %-24s %-10s %s\n", "UID", "KEY", "STAKE", "SCORE")
		for _, m := range st.Members {
			fmt.Fprintf(w, "%4d  %-24s %-10.1f %.4f\n", m.UID, m.Key, m.Stake, m.Score)
		}
	}
	return nil
}

// fetchGatewayStatus queries the gateway's status endpoint.
func fetchGatewayStatus(addr string) (*validator.Status, error) {
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://%s/api/v1/status", addr)) //nolint:noctx // short one-shot CLI request
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status endpoint returned %d", resp.StatusCode)
	}

	var st validator.Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}
	return &st, nil
}

package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"recnet/pkg/config"
	"recnet/pkg/ledger"
	"recnet/pkg/miner"
)

// newMinerCmd creates the "recnet miner" subcommand group.
func newMinerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "miner",
		Short: "Manage the miner daemon",
		Long:  "Subcommands for starting and stopping a recnet miner daemon.",
	}
	cmd.AddCommand(newMinerStartCmd())
	cmd.AddCommand(newMinerStopCmd())
	return cmd
}

// newMinerStartCmd creates the "recnet miner start" subcommand.
func newMinerStartCmd() *cobra.Command {
	var (
		configPath string
		verbose    bool
	)
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the miner daemon in the foreground",
		Long:  "Serves recommendation requests on the configured address until\nSIGINT or SIGTERM. The caller gate follows the membership roster.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return runMiner(cmd.Context(), cfg, verbose)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultPath(), "config file path")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	return cmd
}

// runMiner wires the miner's gate to the roster and serves until the context
// is cancelled.
func runMiner(parent context.Context, cfg config.Config, verbose bool) error {
	log, err := newLogger(verbose)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	pidPath, err := DefaultPIDPath("miner")
	if err != nil {
		return err
	}
	if status, pid, _ := DaemonStatus(pidPath); status == StatusRunning {
		return fmt.Errorf("miner already running (PID %d)", pid)
	}
	if err := WritePIDFile(pidPath, os.Getpid()); err != nil {
		return err
	}
	ctx, cleanup := SetupSignalHandler(parent, pidPath)
	defer cleanup()

	led, err := ledger.NewFileLedger(ledger.FileLedgerConfig{
		RosterPath: cfg.Ledger.RosterPath,
	}, log.Named("ledger"))
	if err != nil {
		return err
	}
	snap, err := led.SyncMembership(ctx)
	if err != nil {
		return fmt.Errorf("initial membership sync: %w", err)
	}

	gate := miner.NewGate(cfg.Miner.MinCallerStake, cfg.Miner.AllowUnregistered, snap)
	m := miner.New(miner.Config{
		Addr: cfg.Miner.Addr,
		Key:  cfg.Miner.Key,
	}, miner.CatalogGenerator{}, gate, log.Named("miner"))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return m.Serve(ctx) })
	g.Go(func() error { led.Watch(ctx); return nil })
	g.Go(func() error {
		// The gate follows roster changes picked up by the watcher.
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				fresh, err := led.SyncMembership(ctx)
				if err != nil {
					log.Warn("gate membership refresh failed", zap.Error(err))
					continue
				}
				gate.UpdateMembership(fresh)
			}
		}
	})

	return g.Wait()
}

// newMinerStopCmd creates the "recnet miner stop" subcommand.
func newMinerStopCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the miner daemon",
		RunE: func(cmd *cobra.Command, _ []string) error {
			pidPath, err := DefaultPIDPath("miner")
			if err != nil {
				return err
			}
			return stopDaemon(cmd, "miner", pidPath, force)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "skip interactive confirmation")
	return cmd
}

package main

import (
	"context"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"recnet/pkg/bridge"
	"recnet/pkg/config"
	"recnet/pkg/eventlog"
	"recnet/pkg/gateway"
	"recnet/pkg/ledger"
	"recnet/pkg/reputation"
	"recnet/pkg/transport"
	"recnet/pkg/validator"
)

// newValidatorCmd creates the "recnet validator" subcommand group.
func newValidatorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validator",
		Short: "Manage the validator daemon",
		Long:  "Subcommands for starting and stopping the recnet validator daemon.",
	}
	cmd.AddCommand(newValidatorStartCmd())
	cmd.AddCommand(newValidatorStopCmd())
	return cmd
}

// newValidatorStartCmd creates the "recnet validator start" subcommand.
func newValidatorStartCmd() *cobra.Command {
	var (
		configPath string
		verbose    bool
	)
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the validator daemon in the foreground",
		Long:  "Starts the dispatch loop, the roster watcher, and (when enabled)\nthe HTTP gateway. Runs until SIGINT or SIGTERM.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return runValidator(cmd.Context(), cfg, verbose)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultPath(), "config file path")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	return cmd
}

// runValidator wires the validator's collaborators together and runs them
// until the context is cancelled.
func runValidator(parent context.Context, cfg config.Config, verbose bool) error {
	log, err := newLogger(verbose)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	pidPath, err := DefaultPIDPath("validator")
	if err != nil {
		return err
	}
	if status, pid, _ := DaemonStatus(pidPath); status == StatusRunning {
		return fmt.Errorf("validator already running (PID %d)", pid)
	}
	if err := WritePIDFile(pidPath, os.Getpid()); err != nil {
		return err
	}
	ctx, cleanup := SetupSignalHandler(parent, pidPath)
	defer cleanup()

	db, err := eventlog.Open(cfg.Validator.DBPath)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	led, err := ledger.NewFileLedger(ledger.FileLedgerConfig{
		RosterPath:     cfg.Ledger.RosterPath,
		MinWeight:      cfg.Ledger.MinWeight,
		MaxWeightRatio: cfg.Ledger.MaxWeightRatio,
	}, log.Named("ledger"))
	if err != nil {
		return err
	}

	snap, err := led.SyncMembership(ctx)
	if err != nil {
		return fmt.Errorf("initial membership sync: %w", err)
	}
	log.Info("membership loaded", zap.Int("members", snap.Size()))

	eng := reputation.New(reputation.Config{Alpha: cfg.Validator.Alpha}, snap, log.Named("reputation"))
	br := bridge.New()
	querier := transport.NewTCP(log.Named("transport"))

	v := validator.New(validator.Config{
		SampleSize:      cfg.Validator.SampleSize,
		DispatchTimeout: cfg.Validator.DispatchTimeout.Std(),
		SyncInterval:    cfg.Validator.SyncInterval.Std(),
		EmitInterval:    cfg.Validator.EmitInterval.Std(),
		APIEnabled:      cfg.Validator.APIEnabled,
		APIExclusive:    cfg.Validator.APIExclusive,
		MinStake:        cfg.Validator.MinStake,
		SelfKey:         cfg.Validator.Key,
	}, br, led, eng, querier, snap, db, log.Named("validator"))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return v.Run(ctx) })
	g.Go(func() error { led.Watch(ctx); return nil })
	if cfg.Validator.APIEnabled {
		gw := gateway.New(gateway.Config{
			Addr:           cfg.Gateway.Addr,
			APIKey:         cfg.Gateway.APIKey,
			RequestTimeout: cfg.Gateway.RequestTimeout.Std(),
		}, br, v, cfg.Validator.Key, log.Named("gateway"))
		g.Go(func() error { return gw.Serve(ctx) })
	}

	return g.Wait()
}

// newValidatorStopCmd creates the "recnet validator stop" subcommand. It
// sends SIGTERM, waits for the daemon to drain, and removes the PID file.
func newValidatorStopCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the validator daemon",
		Long:  "Stops the validator daemon by sending SIGTERM and waiting for it to\ndrain. Requires an interactive terminal (TTY) or --force.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			pidPath, err := DefaultPIDPath("validator")
			if err != nil {
				return err
			}
			return stopDaemon(cmd, "validator", pidPath, force)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "skip interactive confirmation")
	return cmd
}

// stopDaemon performs a graceful daemon shutdown: TTY check, SIGTERM, wait,
// SIGKILL as the emergency fallback, PID file removal.
func stopDaemon(cmd *cobra.Command, name, pidPath string, force bool) error {
	w := cmd.OutOrStdout()

	status, pid, err := DaemonStatus(pidPath)
	if err != nil {
		return fmt.Errorf("get daemon status: %w", err)
	}
	switch status {
	case StatusStopped:
		fmt.Fprintf(w, "%s is not running\n", name)
		return nil
	case StatusStale:
		fmt.Fprintln(w, "removing stale PID file (process already dead)")
		return RemovePIDFile(pidPath)
	case StatusRunning:
	}

	if !force && !isStdinTTY() {
		return fmt.Errorf("recnet %s stop requires an interactive terminal (stdin is not a TTY); use --force to override", name)
	}

	fmt.Fprintf(w, "sending SIGTERM to %s (PID %d)\n", name, pid)
	if err := SignalDaemon(pidPath, syscall.SIGTERM); err != nil {
		fmt.Fprintf(w, "warning: SIGTERM failed: %v\n", err)
	}

	fmt.Fprintf(w, "waiting for %s to drain and exit...\n", name)
	if err := waitForExit(cmd.Context(), pid, 15*time.Second, IsProcessAlive); err != nil {
		fmt.Fprintf(w, "warning: %v\n", err)
		fmt.Fprintf(w, "sending SIGKILL to %s (PID %d)\n", name, pid)
		if killErr := SignalDaemon(pidPath, syscall.SIGKILL); killErr != nil {
			fmt.Fprintf(w, "warning: SIGKILL failed: %v\n", killErr)
		}
	}

	_ = RemovePIDFile(pidPath)
	fmt.Fprintf(w, "%s stopped\n", name)
	return nil
}

// newLogger builds the daemon logger. Verbose lowers the level to debug.
func newLogger(verbose bool) (*zap.Logger, error) {
	logCfg := zap.NewProductionConfig()
	if verbose {
		logCfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	log, err := logCfg.Build()
	if err != nil {
		return nil, fmt.Errorf("initialize logger: %w", err)
	}
	return log, nil
}

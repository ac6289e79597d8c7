package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/overlook-dev/overlook/internal/derive"
	"github.com/overlook-dev/overlook/internal/engine"
	"github.com/overlook-dev/overlook/internal/supervisor"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Watch all session servers until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}

			sup := supervisor.New(supervisor.Options{
				FirstPort:         cfg.Discovery.FirstPort,
				LastPort:          cfg.Discovery.LastPort,
				DiscoveryInterval: cfg.Discovery.Interval.Std(),
				HandshakeTimeout:  cfg.Discovery.HandshakeTimeout.Std(),
				BackoffBase:       cfg.Backoff.Base.Std(),
				BackoffCap:        cfg.Backoff.Cap.Std(),
				MaxAttempts:       cfg.Backoff.MaxAttempts,
				Logger:            log,
			})

			eng := engine.New(engine.Options{Supervisor: sup, Logger: log})
			defer eng.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			eng.Start(ctx)
			log.Info("overlook running",
				"ports", fmt.Sprintf("%d-%d", cfg.Discovery.FirstPort, cfg.Discovery.LastPort),
				"interval", cfg.Discovery.Interval.Std())

			it := eng.Updates(ctx)
			defer it.Close()

			for {
				snap, err := it.Next(ctx)
				if err != nil {
					log.Info("overlook stopping")
					return nil
				}
				logSnapshot(log, snap)
			}
		},
	}
}

// logSnapshot reports the headline numbers of a new snapshot.
func logSnapshot(log *slog.Logger, snap *derive.Snapshot) {
	active := ""
	if snap.ActiveSession != nil {
		active = snap.ActiveSession.ID
	}
	log.Info("snapshot",
		"status", snap.ConnectionStatus,
		"sessions", len(snap.Sessions),
		"active", snap.ActiveSessionCount,
		"instances", snap.ConnectedInstanceCount,
		"activeSession", active)
}

func newSnapshotCmd() *cobra.Command {
	var wait time.Duration

	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Print one world snapshot and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}

			sup := supervisor.New(supervisor.Options{
				FirstPort:         cfg.Discovery.FirstPort,
				LastPort:          cfg.Discovery.LastPort,
				DiscoveryInterval: cfg.Discovery.Interval.Std(),
				HandshakeTimeout:  cfg.Discovery.HandshakeTimeout.Std(),
				Logger:            log,
			})
			eng := engine.New(engine.Options{Supervisor: sup, Logger: log})
			defer eng.Close()

			ctx := cmd.Context()
			eng.Start(ctx)

			// Give discovery and bootstrap one window to settle.
			select {
			case <-time.After(wait):
			case <-ctx.Done():
			}

			snap := eng.Snapshot()
			if flagJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(snap)
			}

			fmt.Printf("connection: %s\n", snap.ConnectionStatus)
			fmt.Printf("sessions:   %d (%d active)\n", len(snap.Sessions), snap.ActiveSessionCount)
			fmt.Printf("instances:  %d connected\n", snap.ConnectedInstanceCount)
			for _, p := range snap.Projects {
				fmt.Printf("  %s: %d sessions, %d instances\n",
					p.Worktree, p.SessionCount, len(p.Instances))
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&wait, "wait", 2*time.Second, "How long to collect before printing")
	return cmd
}

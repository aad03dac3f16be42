package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/evreng/treadmill/pkg/cellsync"
	"github.com/evreng/treadmill/pkg/config"
)

var cellSyncCmd = &cobra.Command{
	Use:   "cellsync",
	Short: "Admin-data sync sproc operations",
}

var cellSyncRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the periodic admin-to-store sync loop",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := buildConfig(cmd)
		if cfg.AdminFile == "" {
			return fmt.Errorf("--admin-file is required")
		}
		interval, _ := cmd.Flags().GetDuration("interval")

		env := config.NewEnvironment(cfg)
		syncer := cellsync.NewSyncer(env.Store, env.Admin, interval)

		syncer.Start()
		env.Logger.Info().Str("cell", env.Cell).Str("admin_file", cfg.AdminFile).Msg("cellsync started")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh

		env.Logger.Info().Msg("shutting down cellsync")
		syncer.Stop()
		return nil
	},
}

func init() {
	cellSyncRunCmd.Flags().Duration("interval", cellsync.DefaultSyncInterval, "Sync cadence")
	cellSyncCmd.AddCommand(cellSyncRunCmd)
}

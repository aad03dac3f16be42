package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/evreng/treadmill/pkg/appmonitor"
	"github.com/evreng/treadmill/pkg/config"
	"github.com/evreng/treadmill/pkg/instance"
	"github.com/evreng/treadmill/pkg/metrics"
)

var appMonitorCmd = &cobra.Command{
	Use:   "appmonitor",
	Short: "App-monitor sproc operations",
}

var appMonitorRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the app-monitor rate-limited creation loop",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := buildConfig(cmd)
		instanceAPIAddr, _ := cmd.Flags().GetString("instance-api-addr")
		if instanceAPIAddr == "" {
			return fmt.Errorf("--instance-api-addr is required")
		}

		env := config.NewEnvironment(cfg)
		api := instance.NewHTTPClient(instanceAPIAddr)
		controller := appmonitor.NewController(env.Store, api)

		controller.Start()
		env.Logger.Info().Str("cell", env.Cell).Str("instance_api", instanceAPIAddr).Msg("app-monitor started")

		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				env.Logger.Error().Err(err).Msg("metrics server error")
			}
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh

		env.Logger.Info().Msg("shutting down app-monitor")
		controller.Stop()
		return nil
	},
}

func init() {
	appMonitorRunCmd.Flags().String("instance-api-addr", "", "Base URL of the Instance API service (e.g. http://instance-api:8080)")
	appMonitorCmd.AddCommand(appMonitorRunCmd)
}

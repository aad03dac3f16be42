package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/evreng/treadmill/pkg/config"
	"github.com/evreng/treadmill/pkg/loader"
	"github.com/evreng/treadmill/pkg/metrics"
	"github.com/evreng/treadmill/pkg/scheduler"
)

var schedulerCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "Scheduler sproc operations",
}

var schedulerRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the placement scheduler loop",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := buildConfig(cmd)
		interval, _ := cmd.Flags().GetDuration("interval")

		env := config.NewEnvironment(cfg)
		l := loader.New(env.Store, env.Cell, env.Now)
		sched := scheduler.New(l, env.Store, interval)

		sched.Start()
		env.Logger.Info().Str("cell", env.Cell).Dur("interval", interval).Msg("scheduler started")

		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				env.Logger.Error().Err(err).Msg("metrics server error")
			}
		}()
		fmt.Printf("metrics endpoint: http://%s/metrics\n", metricsAddr)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh

		env.Logger.Info().Msg("shutting down scheduler")
		sched.Stop()
		return nil
	},
}

func init() {
	schedulerRunCmd.Flags().Duration("interval", 5*time.Second, "Scheduling cycle interval")
	schedulerCmd.AddCommand(schedulerRunCmd)
}

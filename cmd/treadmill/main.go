package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/evreng/treadmill/pkg/config"
	"github.com/evreng/treadmill/pkg/log"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "treadmill",
	Short: "Treadmill - cluster workload scheduler",
	Long: `Treadmill schedules application instances onto servers in a
resource cell, reconciling a coordination-store model of buckets,
servers, partitions, allocations, and scheduled apps against live
presence data.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"treadmill version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("cell", "default", "Cell name this process serves")
	rootCmd.PersistentFlags().String("data-dir", "./treadmill-data", "Directory for persistent store snapshots")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("metrics-addr", "127.0.0.1:9090", "Address to serve /metrics on")
	rootCmd.PersistentFlags().String("admin-file", "", "Path to a JSON document describing partitions/allocations/servers/appgroups")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(schedulerCmd)
	rootCmd.AddCommand(appMonitorCmd)
	rootCmd.AddCommand(cellSyncCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

func buildConfig(cmd *cobra.Command) config.Config {
	cellName, _ := cmd.Flags().GetString("cell")
	dataDir, _ := cmd.Flags().GetString("data-dir")
	adminFile, _ := cmd.Flags().GetString("admin-file")
	logLevel, _ := cmd.Flags().GetString("log-level")
	logJSON, _ := cmd.Flags().GetBool("log-json")

	cfg := config.DefaultConfig()
	cfg.CellName = cellName
	cfg.DataDir = dataDir
	cfg.AdminFile = adminFile
	cfg.LogLevel = log.Level(logLevel)
	cfg.LogJSON = logJSON
	return cfg
}

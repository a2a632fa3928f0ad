package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hivellm/synap/pkg/log"
)

// Version information (set via ldflags during build)
var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "synapd",
	Short: "Synap - an in-memory multi-model data server",
	Long: `Synap exposes Redis-compatible string/hash/list/set/sorted-set stores,
a durable priority work queue, a partitioned event log with consumer groups,
optimistic MULTI/WATCH/EXEC transactions, and a sandboxed scripting bridge,
all behind a single in-process engine.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("synapd version %s (%s)\n", Version, Commit))

	rootCmd.PersistentFlags().String("config", "", "path to a YAML config file (defaults to $SYNAP_CONFIG or built-in defaults)")
	rootCmd.PersistentFlags().String("log-level", "", "override the configured log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "emit logs as JSON")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(scriptCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOut, _ := rootCmd.PersistentFlags().GetBool("log-json")
	if level == "" {
		level = "info"
	}
	log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonOut})
}

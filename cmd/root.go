package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags.
var Version = "dev"

var (
	cfgFile   string
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:   "wxdashd",
	Short: "Weather dashboard backend daemon",
	Long: `wxdashd accepts weather lookup requests over HTTP, fetches current
conditions from the weatherstack API, stores the results in SQLite or
PostgreSQL, and pushes a live notification to connected WebSocket
subscribers for every record created.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "json", "log format (text or json)")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// Package commands implements the natctl CLI commands.
package commands

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	// httpClient is the client used for every admin surface request,
	// initialized in PersistentPreRunE.
	httpClient *http.Client

	// outputFormat controls the output format for all commands (table or json).
	outputFormat string

	// serverAddr is the gonatd admin HTTP address (host:port).
	serverAddr string
)

// rootCmd is the top-level cobra command for natctl.
var rootCmd = &cobra.Command{
	Use:   "natctl",
	Short: "CLI client for the gonatd daemon",
	Long:  "natctl talks to the gonatd admin HTTP surface to inspect mappings, configuration, and trigger eviction sweeps.",
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		httpClient = &http.Client{Timeout: 10 * time.Second}
		return nil
	},
	// Silence cobra's built-in usage/error printing so we control it.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverAddr, "addr", "localhost:8080",
		"gonatd admin address (host:port)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table",
		"output format: table, json")

	rootCmd.AddCommand(mappingCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(versionCmd())
}

// Execute runs the root command and exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// baseURL builds the admin surface's base URL from the --addr flag.
func baseURL() string {
	return "http://" + serverAddr
}

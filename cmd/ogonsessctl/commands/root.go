// Package commands implements ogonsessctl's cobra command tree: a thin
// JSON/HTTP client over internal/otsapi's chi-routed surface (spec.md
// §4.9), grounded on gobfdctl's root.go shape (a package-level client,
// persistent --addr/--format flags, SilenceUsage/SilenceErrors).
package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// client is the HTTP client for the otsapi surface.
	client *apiClient

	// outputFormat controls the output format for all commands (table or json).
	outputFormat string

	// serverAddr is the daemon's otsapi HTTP address (host:port).
	serverAddr string

	// authToken is the bearer token presented with every request.
	authToken string
)

var rootCmd = &cobra.Command{
	Use:   "ogonsessctl",
	Short: "CLI client for the ogon-sessiond session manager",
	Long:  "ogonsessctl talks to ogon-sessiond's OTSAPI administrative surface over HTTP to inspect and manage sessions.",
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		client = newAPIClient(serverAddr, authToken)
		return nil
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverAddr, "addr", "localhost:8080",
		"ogon-sessiond otsapi address (host:port)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table",
		"output format: table, json")
	rootCmd.PersistentFlags().StringVar(&authToken, "token", os.Getenv("OGONSESSCTL_TOKEN"),
		"bearer token for the otsapi surface (default: $OGONSESSCTL_TOKEN)")

	rootCmd.AddCommand(sessionCmd())
	rootCmd.AddCommand(connectionCmd())
	rootCmd.AddCommand(remoteControlCmd())
	rootCmd.AddCommand(pingCmd())
	rootCmd.AddCommand(versionCmd())
}

// Execute runs the root command and exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

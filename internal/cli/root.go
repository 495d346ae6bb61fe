// Package cli implements ForestShield's command-line interface using
// Cobra. Each subcommand maps directly to one of the operations spec
// §6 names (region CRUD, scheduler start/stop/trigger, alert
// acknowledgement) against the core packages — there is no HTTP hop,
// since the REST surface itself is an out-of-scope collaborator.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "forestshield",
	Short: "ForestShield — deforestation monitoring from satellite imagery",
	Long: `ForestShield periodically analyzes satellite imagery for user-defined
regions, clusters pixels into land-cover classes, detects adverse change
against prior baselines, and raises alerts with supporting artifacts.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	rootCmd.Version = version

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitCode(err))
	}
}

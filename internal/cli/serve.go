package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the ForestShield daemon: crash recovery, health/metrics HTTP, background scheduler workers",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	app, err := openApp()
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.Resume(ctx); err != nil {
		return err
	}

	fmt.Printf("forestshield serving on :%d\n", app.Config.Telemetry.Port)
	return app.Serve(ctx)
}

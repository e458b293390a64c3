package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hibiki-ai/hibiki/pkg/runner"
)

// newWakeCmd is the entry point for the OS wake facility: one schedule per
// process, everything reconstructed from disk. It always exits 0 once the
// run completes; failures are already queued for the user.
func newWakeCmd() *cobra.Command {
	var scheduleID string

	cmd := &cobra.Command{
		Use:   "wake",
		Short: "Execute one scheduled task by id (called by the OS alarm)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if scheduleID == "" {
				return fmt.Errorf("--id is required")
			}

			app, err := bootstrap()
			if err != nil {
				return err
			}
			defer app.Close()

			run := &runner.Runner{
				Store:  app.store,
				Outbox: app.box,
				Config: app.cfg,
				Memory: app.mem,
			}
			run.Run(cmd.Context(), scheduleID)
			return nil
		},
	}
	cmd.Flags().StringVar(&scheduleID, "id", "", "schedule id to execute")
	return cmd
}

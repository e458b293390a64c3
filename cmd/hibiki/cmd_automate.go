package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/hibiki-ai/hibiki/pkg/automation"
	"github.com/hibiki-ai/hibiki/pkg/bridge"
	"github.com/hibiki-ai/hibiki/pkg/providers"
)

func newAutomateCmd() *cobra.Command {
	var appID string
	var connectWait time.Duration

	cmd := &cobra.Command{
		Use:   "automate --app <id> <goal>",
		Short: "Drive an app on the connected device through its UI",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if appID == "" {
				return fmt.Errorf("--app is required")
			}
			return runAutomate(cmd.Context(), appID, strings.Join(args, " "), connectWait)
		},
	}
	cmd.Flags().StringVar(&appID, "app", "", "application id to automate, e.g. com.spotify.music")
	cmd.Flags().DurationVar(&connectWait, "connect-wait", 30*time.Second, "how long to wait for the companion app to connect")
	return cmd
}

func runAutomate(ctx context.Context, appID, goal string, connectWait time.Duration) error {
	app, err := bootstrap()
	if err != nil {
		return err
	}
	defer app.Close()

	provider, model, err := providers.New(app.cfg)
	if err != nil {
		return err
	}

	// This process hosts its own bridge endpoint; the companion app has to
	// connect here before the device can be driven.
	srv := bridge.New(app.cfg.Bridge, nil, app.box)
	if err := srv.Start(ctx); err != nil {
		return err
	}
	defer srv.Stop(context.Background())

	fmt.Printf("%s Waiting for the companion app on %s ...\n", logo, srv.Addr())
	if err := waitConnected(ctx, srv, connectWait); err != nil {
		return err
	}

	runner := &automation.Runner{
		Device:   srv.Device(),
		Provider: provider,
		Model:    model,
		Config:   app.cfg,
		Hints:    automation.NewHintStore(app.cfg.WorkspacePath()),
		Memory:   app.mem,
		Outbox:   app.box,
	}
	runner.Run(ctx, goal, appID)

	// The outcome went to the queue; if the companion app has not already
	// drained it on its foreground transition, show it here.
	printPendingOutput(app)
	return nil
}

func waitConnected(ctx context.Context, srv *bridge.Server, wait time.Duration) error {
	deadline := time.Now().Add(wait)
	for !srv.Connected() {
		if time.Now().After(deadline) {
			return fmt.Errorf("no companion app connected within %s", wait)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
	return nil
}

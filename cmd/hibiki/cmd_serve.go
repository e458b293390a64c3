package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hibiki-ai/hibiki/pkg/bridge"
	"github.com/hibiki-ai/hibiki/pkg/conversation"
	"github.com/hibiki-ai/hibiki/pkg/logger"
	"github.com/hibiki-ai/hibiki/pkg/providers"
	"github.com/hibiki-ai/hibiki/pkg/runner"
	"github.com/hibiki-ai/hibiki/pkg/schedule"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the daemon: bridge endpoint plus schedule triggers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	app, err := bootstrap()
	if err != nil {
		return err
	}
	defer app.Close()

	provider, model, err := providers.New(app.cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The send closure resolves at call time, after srv is assigned below.
	var srv *bridge.Server
	registry := interactiveRegistry(ctx, app, func(content string) error {
		return srv.PushAssistant(content)
	})

	session := "bridge"
	pipe := conversation.NewPipeline(session)
	pipe.Provider = provider
	pipe.Registry = registry
	pipe.Model = model
	pipe.MaxIters = app.cfg.Agent.MaxIterations
	pipe.MaxTokens = app.cfg.Agent.MaxTokens
	pipe.Temperature = app.cfg.Agent.Temperature
	pipe.Language = app.cfg.Agent.Language
	pipe.DrivingMode = app.cfg.Agent.DrivingMode
	pipe.History = conversation.NewHistory(app.cfg.WorkspacePath(), session)
	pipe.Memory = app.mem
	pipe.SpeakReply = app.cfg.Voice.SpeakReplies

	srv = bridge.New(app.cfg.Bridge, pipe, app.box)

	run := &runner.Runner{
		Store:  app.store,
		Outbox: app.box,
		Config: app.cfg,
		Memory: app.mem,
		Device: srv.Device(),
	}
	svc := schedule.NewService(app.store, func(ctx context.Context, s schedule.Schedule) {
		run.Run(ctx, s.ID)
	})

	if err := srv.Start(ctx); err != nil {
		return err
	}
	defer srv.Stop(context.Background())

	logger.InfoCF("main", "Hibiki serving", map[string]any{"address": srv.Addr()})

	// Blocks until the context is cancelled by a signal.
	svc.Run(ctx)
	return nil
}

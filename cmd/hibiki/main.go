// Hibiki - personal voice assistant agent core.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/hibiki-ai/hibiki/pkg/config"
	"github.com/hibiki-ai/hibiki/pkg/logger"
	"github.com/hibiki-ai/hibiki/pkg/memory"
	"github.com/hibiki-ai/hibiki/pkg/outbox"
	"github.com/hibiki-ai/hibiki/pkg/schedule"
	"github.com/hibiki-ai/hibiki/pkg/tools"
)

var (
	version   = "dev"
	gitCommit string
	buildTime string
)

const logo = "🔊"

func main() {
	root := &cobra.Command{
		Use:           "hibiki",
		Short:         "Hibiki personal voice assistant",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newChatCmd(),
		newServeCmd(),
		newWakeCmd(),
		newScheduleCmd(),
		newAutomateCmd(),
		newVersionCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			v := version
			if gitCommit != "" {
				v += fmt.Sprintf(" (git: %s)", gitCommit)
			}
			fmt.Printf("%s hibiki %s\n", logo, v)
			if buildTime != "" {
				fmt.Printf("  Build: %s\n", buildTime)
			}
			fmt.Printf("  Go: %s\n", runtime.Version())
		},
	}
}

// appState is everything a command needs after bootstrap.
type appState struct {
	cfg   *config.Config
	store *schedule.Store
	box   *outbox.Outbox
	mem   *memory.Store
}

func (a *appState) Close() {
	if a.mem != nil {
		a.mem.Close()
	}
}

func bootstrap() (*appState, error) {
	paths := config.ResolveRuntimePaths()
	cfg, err := config.LoadConfig(paths.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	logger.SetLevel(logger.ParseLevel(cfg.Logging.Level))
	if logFile := cfg.LogFilePath(); logFile != "" {
		if err := logger.EnableFileLogging(logFile); err != nil {
			logger.WarnCF("main", "Could not enable file logging", map[string]any{
				"error": err.Error(),
			})
		}
	}
	for _, secret := range []string{
		cfg.Agent.APIKey,
		cfg.Providers.Claude.APIKey,
		cfg.Providers.OpenAI.APIKey,
		cfg.Bridge.Token,
	} {
		logger.RegisterSecret(secret)
	}

	workspace := cfg.WorkspacePath()
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		return nil, fmt.Errorf("creating workspace: %w", err)
	}

	mem, err := memory.Open(filepath.Join(workspace, "memory.db"))
	if err != nil {
		return nil, fmt.Errorf("opening memory store: %w", err)
	}

	return &appState{
		cfg:   cfg,
		store: schedule.NewStore(filepath.Join(workspace, "schedules.json")),
		box:   outbox.New(filepath.Join(workspace, "outbox.json")),
		mem:   mem,
	}, nil
}

// interactiveRegistry builds the tool set for conversational contexts:
// scheduling, timers, memory, user messaging and whatever MCP servers the
// config lists. send carries send_message output to the active surface.
func interactiveRegistry(ctx context.Context, app *appState, send tools.SendFunc) *tools.Registry {
	registry := tools.NewRegistry()

	registry.Register(tools.NewScheduleTool(app.store))
	registry.Register(tools.NewTimerTool(app.store))
	registry.Register(tools.NewMessageTool(send))
	if app.cfg.Tools.Memory.Enabled {
		registry.Register(tools.NewRememberTool(app.mem))
		registry.Register(tools.NewRecallTool(app.mem))
	}

	mcpTools, err := tools.LoadMCPTools(ctx, app.cfg.Tools.MCP, app.cfg.WorkspacePath())
	if err != nil {
		logger.WarnCF("main", "Some MCP tools failed to load", map[string]any{
			"error": err.Error(),
		})
	}
	for _, t := range mcpTools {
		registry.Register(t)
	}

	tools.ApplyCapabilityFilter(registry, app.cfg.Agent.EnabledCapabilities)
	return registry
}

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/hibiki-ai/hibiki/pkg/conversation"
	"github.com/hibiki-ai/hibiki/pkg/providers"
)

func newChatCmd() *cobra.Command {
	var message string
	var session string
	var modelOverride string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to the assistant from the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.Context(), message, session, modelOverride)
		},
	}
	cmd.Flags().StringVarP(&message, "message", "m", "", "send a single message and exit")
	cmd.Flags().StringVarP(&session, "session", "s", "cli", "session id for conversation history")
	cmd.Flags().StringVar(&modelOverride, "model", "", "override the configured model")
	return cmd
}

func runChat(ctx context.Context, message, session, modelOverride string) error {
	app, err := bootstrap()
	if err != nil {
		return err
	}
	defer app.Close()

	if modelOverride != "" {
		app.cfg.Agent.Model = modelOverride
	}

	provider, model, err := providers.New(app.cfg)
	if err != nil {
		return err
	}

	registry := interactiveRegistry(ctx, app, func(content string) error {
		fmt.Printf("\n%s %s\n", logo, content)
		return nil
	})

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

	// The terminal is the foreground surface here, so it consumes whatever
	// background runs queued while nothing was attached.
	printPendingOutput(app)

	if message != "" {
		reply, err := pipe.ProcessUtterance(ctx, message)
		if err != nil {
			return err
		}
		fmt.Printf("\n%s %s\n", logo, reply)
		return nil
	}

	fmt.Printf("%s Interactive mode (Ctrl+C to exit)\n\n", logo)
	replLoop(ctx, pipe)
	return nil
}

func printPendingOutput(app *appState) {
	entries, err := app.box.Drain()
	if err != nil {
		fmt.Printf("Error reading pending output: %v\n", err)
		return
	}
	if len(entries) == 0 {
		return
	}
	fmt.Println("While you were away:")
	for _, e := range entries {
		fmt.Printf("  %s %s\n", logo, e.Content)
	}
	fmt.Println()
}

func replLoop(ctx context.Context, pipe *conversation.Pipeline) {
	prompt := fmt.Sprintf("%s You: ", logo)

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          prompt,
		HistoryFile:     filepath.Join(os.TempDir(), ".hibiki_history"),
		HistoryLimit:    100,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		fmt.Printf("Error initializing readline: %v\n", err)
		fmt.Println("Falling back to simple input mode...")
		simpleReplLoop(ctx, pipe)
		return
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				fmt.Println("\nGoodbye!")
				return
			}
			fmt.Printf("Error reading input: %v\n", err)
			continue
		}

		if done := handleChatLine(ctx, pipe, line); done {
			return
		}
	}
}

func simpleReplLoop(ctx context.Context, pipe *conversation.Pipeline) {
	reader := bufio.NewReader(os.Stdin)
	for {
		fmt.Printf("%s You: ", logo)
		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				fmt.Println("\nGoodbye!")
				return
			}
			fmt.Printf("Error reading input: %v\n", err)
			continue
		}
		if done := handleChatLine(ctx, pipe, line); done {
			return
		}
	}
}

func handleChatLine(ctx context.Context, pipe *conversation.Pipeline, line string) bool {
	input := strings.TrimSpace(line)
	if input == "" {
		return false
	}
	if input == "exit" || input == "quit" {
		fmt.Println("Goodbye!")
		return true
	}

	reply, err := pipe.ProcessUtterance(ctx, input)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return false
	}
	fmt.Printf("\n%s %s\n\n", logo, reply)
	return false
}

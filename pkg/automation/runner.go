// Package automation drives a single foreground application through the
// device's accessibility surface: launch, wait for foreground, snapshot,
// then a capped loop of UI actions until the model signals finish_task.
// Outcomes are reported through the pending-output queue, never returned.
package automation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hibiki-ai/hibiki/pkg/agent"
	"github.com/hibiki-ai/hibiki/pkg/config"
	"github.com/hibiki-ai/hibiki/pkg/device"
	"github.com/hibiki-ai/hibiki/pkg/logger"
	"github.com/hibiki-ai/hibiki/pkg/memory"
	"github.com/hibiki-ai/hibiki/pkg/outbox"
	"github.com/hibiki-ai/hibiki/pkg/providers"
	"github.com/hibiki-ai/hibiki/pkg/tools"
)

// ErrForegroundTimeout means the target application never reached the
// foreground within the polling window.
var ErrForegroundTimeout = errors.New("target app did not reach the foreground in time")

const (
	defaultForegroundTimeout = 12 * time.Second
	defaultForegroundPoll    = 500 * time.Millisecond
)

// Runner executes one automation goal against one application.
type Runner struct {
	Device   device.Controller
	Provider providers.LLMProvider
	Model    string
	Config   *config.Config
	Hints    *HintStore
	Memory   *memory.Store
	Outbox   *outbox.Outbox

	// pollInterval overrides the foreground poll cadence in tests.
	pollInterval time.Duration
}

// Run drives the goal against the app and queues the outcome. It is a
// catch-all boundary: every failure becomes a queued user-facing message.
func (r *Runner) Run(ctx context.Context, goal, appID string) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.ErrorCF("automation", "Automation run panicked", map[string]any{
				"app":   appID,
				"panic": fmt.Sprintf("%v", rec),
			})
			r.Outbox.Append("assistant", fmt.Sprintf("UI automation failed unexpectedly: %v", rec))
		}
	}()

	logger.InfoCF("automation", "Starting automation run", map[string]any{"app": appID})

	outcome, transcript, err := r.execute(ctx, goal, appID)

	// Timeouts and pre-loop failures produce no transcript, so the hint
	// stays untouched; any run that actually drove the UI gets condensed.
	if transcript != "" && !errors.Is(err, ErrForegroundTimeout) {
		r.condenseHints(ctx, appID, goal, transcript)
	}

	r.Outbox.Append("assistant", r.reformulate(ctx, goal, appID, outcome, err))
	r.requestForeground(ctx)
}

// execute runs the restricted loop and returns the raw outcome plus a
// narrated transcript for hint condensation.
func (r *Runner) execute(ctx context.Context, goal, appID string) (outcome, transcript string, err error) {
	enabled, err := r.Device.IntrospectionEnabled(ctx)
	if err != nil {
		return "", "", fmt.Errorf("checking introspection service: %w", err)
	}
	if !enabled {
		return "", "", device.ErrIntrospectionDisabled
	}

	if appID != "" {
		if err := r.Device.LaunchApp(ctx, appID); err != nil {
			return "", "", fmt.Errorf("launching %s: %w", appID, err)
		}
		if err := r.waitForForeground(ctx, appID); err != nil {
			return "", "", err
		}
	}

	snapshot, err := r.Device.UISnapshot(ctx)
	if err != nil {
		return "", "", fmt.Errorf("capturing UI snapshot: %w", err)
	}

	memoryContext := ""
	if r.Memory != nil {
		if block, memErr := r.Memory.ContextBlock(ctx, 20); memErr == nil {
			memoryContext = block
		}
	}

	finish := tools.NewFinishTaskTool()
	registry := tools.NewRegistry()
	registry.Register(tools.NewUIActionTool(r.Device))
	registry.Register(tools.NewUISnapshotTool(r.Device))
	registry.Register(finish)

	builder := &agent.PromptBuilder{
		Language:      r.Config.Agent.Language,
		DrivingMode:   r.Config.Agent.DrivingMode,
		MemoryContext: memoryContext,
		Registry:      registry,
	}

	messages := []providers.Message{
		{Role: "system", Content: builder.Automation(goal, appID, snapshot, r.Hints.Load(appID))},
		{Role: "user", Content: goal},
	}

	loop := agent.NewLoop(r.Provider, registry)
	loop.Origin = "automation"
	loop.SessionID = appID
	loop.TerminalTool = finish.Name()
	if r.Config.Agent.MaxTokens > 0 {
		loop.MaxTokens = r.Config.Agent.MaxTokens
	}

	result, err := loop.Run(ctx, messages, r.Model, r.Config.Agent.AutomationMaxIterations)
	if err != nil {
		return "", "", err
	}

	transcript = narrateTranscript(result.NewMessages)

	if status, message, done := finish.Outcome(); done {
		if status == "failure" {
			return "", transcript, fmt.Errorf("task reported failure: %s", message)
		}
		return message, transcript, nil
	}

	if result.LimitReached {
		outcome = result.Content
		if outcome == "" {
			outcome = fmt.Sprintf("I ran out of steps while working in %s and could not confirm the task finished.", appID)
		}
		return outcome, transcript, nil
	}

	// The model stopped calling tools without signalling finish_task; its
	// last text is the best outcome available.
	return result.Content, transcript, nil
}

func (r *Runner) waitForForeground(ctx context.Context, appID string) error {
	timeout := defaultForegroundTimeout
	if ms := r.Config.Tools.Automation.ForegroundTimeoutMS; ms > 0 {
		timeout = time.Duration(ms) * time.Millisecond
	}
	poll := r.pollInterval
	if poll <= 0 {
		poll = defaultForegroundPoll
	}

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		current, err := r.Device.ForegroundApp(ctx)
		if err == nil && current == appID {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: %s", ErrForegroundTimeout, appID)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// condenseHints rewrites the app's hint file from the run transcript plus
// the previous hint. Best effort: failures are logged, never surfaced.
func (r *Runner) condenseHints(ctx context.Context, appID, goal, transcript string) {
	prior := r.Hints.Load(appID)

	var body strings.Builder
	fmt.Fprintf(&body, "Goal: %s\n\n", goal)
	if prior != "" {
		fmt.Fprintf(&body, "Previous notes:\n%s\n\n", prior)
	}
	fmt.Fprintf(&body, "Transcript:\n%s", transcript)

	resp, err := r.Provider.Chat(ctx, []providers.Message{
		{Role: "system", Content: fmt.Sprintf(
			"You maintain short operating notes about how to drive the app %s through its UI. From the transcript below (and the previous notes, if any), write the new complete notes: durable navigation knowledge, quirks, and pitfalls that would help a future automation run. Under 150 words, plain sentences. Never mention element identifiers or coordinates, they change between sessions.",
			appID)},
		{Role: "user", Content: body.String()},
	}, nil, r.Model, map[string]any{"max_tokens": 512})
	if err != nil {
		logger.WarnCF("automation", "Hint condensation failed", map[string]any{
			"app":   appID,
			"error": err.Error(),
		})
		return
	}

	hint := strings.TrimSpace(resp.Content)
	if hint == "" {
		return
	}
	if err := r.Hints.Save(appID, hint); err != nil {
		logger.WarnCF("automation", "Failed to save hint file", map[string]any{
			"app":   appID,
			"error": err.Error(),
		})
	}
}

// reformulate turns the raw outcome or failure into a short localized
// message via one provider call, falling back to the raw text.
func (r *Runner) reformulate(ctx context.Context, goal, appID, outcome string, runErr error) string {
	raw := outcome
	if runErr != nil {
		switch {
		case errors.Is(runErr, device.ErrIntrospectionDisabled):
			raw = "The accessibility introspection service is disabled. The user has to enable it in the system settings before app automation can work."
		case errors.Is(runErr, ErrForegroundTimeout):
			raw = fmt.Sprintf("The app %s never came to the foreground, so the task could not start.", appID)
		default:
			raw = fmt.Sprintf("The automation task failed: %v", runErr)
		}
	}
	if raw == "" {
		raw = "The automation task finished."
	}

	mode := "normal"
	if r.Config.Agent.DrivingMode {
		mode = "driving (keep it very short, the user is behind the wheel)"
	}

	resp, err := r.Provider.Chat(ctx, []providers.Message{
		{Role: "system", Content: fmt.Sprintf(
			"You are a voice assistant reporting the outcome of an automated task in the app %s. The goal was: %s. Rewrite the raw outcome below as one or two natural sentences in the user's language (%s), for a %s context.",
			appID, goal, r.Config.Agent.Language, mode)},
		{Role: "user", Content: raw},
	}, nil, r.Model, map[string]any{"max_tokens": 256})
	if err != nil || strings.TrimSpace(resp.Content) == "" {
		if err != nil {
			logger.WarnCF("automation", "Outcome reformulation failed, using raw text", map[string]any{"error": err.Error()})
		}
		return raw
	}
	return resp.Content
}

func (r *Runner) requestForeground(ctx context.Context) {
	if err := r.Device.RequestForeground(ctx); err != nil {
		logger.WarnCF("automation", "Foreground request failed", map[string]any{"error": err.Error()})
	}
}

// narrateTranscript flattens the loop exchange into plain lines for the
// condensation call. Element identifiers are dropped: they are not stable
// across sessions and would poison the hint.
func narrateTranscript(messages []providers.Message) string {
	var b strings.Builder
	for _, m := range messages {
		switch m.Role {
		case "assistant":
			if text := strings.TrimSpace(m.Content); text != "" {
				fmt.Fprintf(&b, "thought: %s\n", text)
			}
			for _, tc := range m.ToolCalls {
				fmt.Fprintf(&b, "action: %s\n", describeCall(tc))
			}
		case "tool":
			fmt.Fprintf(&b, "result: %s\n", clip(m.Content, 500))
		}
	}
	return b.String()
}

func describeCall(tc providers.ToolCall) string {
	name := tc.Name
	if name == "" && tc.Function != nil {
		name = tc.Function.Name
	}
	switch name {
	case "ui_action":
		kind, _ := tc.Arguments["action"].(string)
		if kind == "" {
			return name
		}
		if text, _ := tc.Arguments["text"].(string); text != "" {
			return fmt.Sprintf("%s %q", kind, text)
		}
		return kind
	case "finish_task":
		status, _ := tc.Arguments["status"].(string)
		message, _ := tc.Arguments["message"].(string)
		return strings.TrimSpace(fmt.Sprintf("finish_task %s: %s", status, message))
	default:
		return name
	}
}

func clip(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

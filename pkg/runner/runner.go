// Package runner executes scheduled tasks. Each invocation is isolated
// from the interactive session: it reconstructs everything from the
// persisted schedule record and configuration, runs with its own registry
// and history, and hands its result over through the pending-output queue.
package runner

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
	"github.com/hibiki-ai/hibiki/pkg/schedule"
	"github.com/hibiki-ai/hibiki/pkg/tools"
)

const fallbackUnfinished = "I started on the scheduled task but could not finish it within the allowed number of steps."

// Runner owns one scheduled execution at a time. Device is optional; when
// present it receives the foreground request after the result is durably
// queued.
type Runner struct {
	Store  *schedule.Store
	Outbox *outbox.Outbox
	Config *config.Config
	Memory *memory.Store
	Device device.Controller

	// now and newProvider are swappable for tests.
	Now         func() time.Time
	newProvider func(*config.Config) (providers.LLMProvider, string, error)
}

func (r *Runner) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// Run executes the schedule with the given id. It is a catch-all boundary:
// nothing escapes it, every failure becomes a queued user-facing message.
func (r *Runner) Run(ctx context.Context, scheduleID string) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.ErrorCF("runner", "Scheduled run panicked", map[string]any{
				"schedule": scheduleID,
				"panic":    fmt.Sprintf("%v", rec),
			})
			r.Outbox.Append("assistant", fmt.Sprintf("A scheduled task failed unexpectedly: %v", rec))
		}
	}()

	s, err := r.Store.Get(scheduleID)
	if err != nil {
		if errors.Is(err, schedule.ErrNotFound) {
			logger.WarnCF("runner", "Schedule not found, nothing to do", map[string]any{"schedule": scheduleID})
		} else {
			logger.ErrorCF("runner", "Failed to load schedule", map[string]any{
				"schedule": scheduleID,
				"error":    err.Error(),
			})
		}
		return
	}

	if !s.Enabled {
		logger.InfoCF("runner", "Schedule disabled, skipping", map[string]any{"schedule": scheduleID})
		return
	}

	logger.InfoCF("runner", "Executing schedule", map[string]any{
		"schedule": s.ID,
		"kind":     string(s.Kind),
	})

	if s.IsTimer() {
		r.runTimer(ctx, s)
		return
	}
	r.runTask(ctx, s)
}

// runTimer queues the fixed expiry notification. No provider is involved.
func (r *Runner) runTimer(ctx context.Context, s schedule.Schedule) {
	r.Outbox.Append("assistant", timerMessage(r.Config.Agent.Language, s.Instruction))
	r.requestForeground(ctx)
	r.finish(s)
}

func (r *Runner) runTask(ctx context.Context, s schedule.Schedule) {
	if err := r.Config.Validate(); err != nil {
		// No provider exists yet, so the raw error is all we can queue.
		r.Outbox.Append("assistant", "Scheduled task could not run: "+err.Error())
		r.requestForeground(ctx)
		r.finish(s)
		return
	}

	construct := r.newProvider
	if construct == nil {
		construct = providers.New
	}
	provider, model, err := construct(r.Config)
	if err != nil {
		r.Outbox.Append("assistant", "Scheduled task could not run: "+err.Error())
		r.requestForeground(ctx)
		r.finish(s)
		return
	}

	registry := r.buildRegistry(ctx)

	memoryContext := ""
	if r.Memory != nil {
		if block, memErr := r.Memory.ContextBlock(ctx, 20); memErr == nil {
			memoryContext = block
		}
	}

	builder := &agent.PromptBuilder{
		Language:      r.Config.Agent.Language,
		MemoryContext: memoryContext,
		Registry:      registry,
	}

	messages := []providers.Message{
		{Role: "system", Content: builder.Unattended()},
		{Role: "user", Content: s.Instruction},
	}

	loop := agent.NewLoop(provider, registry)
	loop.Origin = "scheduled"
	loop.SessionID = s.ID
	if r.Config.Agent.MaxTokens > 0 {
		loop.MaxTokens = r.Config.Agent.MaxTokens
	}
	if r.Config.Agent.Temperature > 0 {
		loop.Temperature = r.Config.Agent.Temperature
	}

	result, err := loop.Run(ctx, messages, model, r.Config.Agent.ScheduledMaxIterations)
	if err != nil {
		// A provider exists, so the failure is rephrased for the user.
		r.Outbox.Append("assistant", r.rephraseError(ctx, provider, model, err))
		r.requestForeground(ctx)
		r.finish(s)
		return
	}

	content := result.Content
	if content == "" {
		content = fallbackUnfinished
	}

	// The queue write must be durable before the foreground request: the
	// consumer drains on that transition and would otherwise race an empty
	// queue and drop the result.
	r.Outbox.Append("assistant", content)
	r.requestForeground(ctx)
	r.finish(s)
}

// buildRegistry assembles the scheduled context's own tool set. The
// schedule and timer tools stay out so a background task cannot spawn
// follow-up work; the message tool is redirected into the outbox.
func (r *Runner) buildRegistry(ctx context.Context) *tools.Registry {
	registry := tools.NewRegistry()

	registry.Register(tools.NewMessageTool(func(content string) error {
		r.Outbox.Append("assistant", content)
		return nil
	}))

	if r.Memory != nil && r.Config.Tools.Memory.Enabled {
		registry.Register(tools.NewRememberTool(r.Memory))
		registry.Register(tools.NewRecallTool(r.Memory))
	}

	mcpTools, err := tools.LoadMCPTools(ctx, r.Config.Tools.MCP, r.Config.WorkspacePath())
	if err != nil {
		logger.WarnCF("runner", "Some MCP tools failed to load", map[string]any{"error": err.Error()})
	}
	for _, t := range mcpTools {
		registry.Register(t)
	}

	tools.ApplyCapabilityFilter(registry, r.Config.Agent.EnabledCapabilities)
	return registry
}

func (r *Runner) requestForeground(ctx context.Context) {
	if r.Device == nil {
		return
	}
	if err := r.Device.RequestForeground(ctx); err != nil {
		logger.WarnCF("runner", "Foreground request failed", map[string]any{"error": err.Error()})
	}
}

// finish marks the record executed and advances the recurrence, deleting
// the record when there is no further occurrence. It runs on failure paths
// too: a recurring schedule that keeps failing must move on to its next
// occurrence rather than staying stuck on a past trigger.
func (r *Runner) finish(s schedule.Schedule) {
	executedAt := r.now()

	if err := r.Store.MarkExecuted(s.ID, executedAt.UnixMilli()); err != nil && !errors.Is(err, schedule.ErrNotFound) {
		logger.ErrorCF("runner", "Failed to mark schedule executed", map[string]any{
			"schedule": s.ID,
			"error":    err.Error(),
		})
	}

	next, ok := schedule.NextTrigger(s, executedAt)
	if !ok {
		if err := r.Store.Remove(s.ID); err != nil && !errors.Is(err, schedule.ErrNotFound) {
			logger.ErrorCF("runner", "Failed to remove completed schedule", map[string]any{
				"schedule": s.ID,
				"error":    err.Error(),
			})
		}
		return
	}

	if err := r.Store.UpdateTrigger(s.ID, next); err != nil && !errors.Is(err, schedule.ErrNotFound) {
		logger.ErrorCF("runner", "Failed to advance schedule trigger", map[string]any{
			"schedule": s.ID,
			"error":    err.Error(),
		})
	}
}

// rephraseError turns an internal failure into one user-facing sentence via
// a single extra provider call, falling back to the raw text.
func (r *Runner) rephraseError(ctx context.Context, provider providers.LLMProvider, model string, runErr error) string {
	resp, err := provider.Chat(ctx, []providers.Message{
		{Role: "system", Content: fmt.Sprintf(
			"A scheduled background task of a voice assistant failed. Rewrite the following internal error as one short, friendly sentence telling the user what went wrong, in the user's language (%s). No apologies longer than a few words, no technical jargon.",
			r.Config.Agent.Language)},
		{Role: "user", Content: runErr.Error()},
	}, nil, model, map[string]any{"max_tokens": 256})
	if err != nil || strings.TrimSpace(resp.Content) == "" {
		return "Scheduled task failed: " + runErr.Error()
	}
	return resp.Content
}

func timerMessage(language, label string) string {
	switch {
	case strings.HasPrefix(language, "ja"):
		return fmt.Sprintf("タイマー「%s」が終了しました。", label)
	case strings.HasPrefix(language, "de"):
		return fmt.Sprintf("Timer %q ist abgelaufen.", label)
	default:
		return fmt.Sprintf("Timer %q is done.", label)
	}
}

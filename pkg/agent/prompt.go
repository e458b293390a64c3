package agent

import (
	"fmt"
	"strings"
	"time"

	"github.com/hibiki-ai/hibiki/pkg/tools"
)

// PromptBuilder assembles the system message for a run. Each execution
// context gets its own flavor: the interactive conversation, the unattended
// scheduled run, and the UI automation loop.
type PromptBuilder struct {
	Language      string
	DrivingMode   bool
	MemoryContext string
	Registry      *tools.Registry

	// now is swappable for tests.
	Now func() time.Time
}

func (pb *PromptBuilder) now() time.Time {
	if pb.Now != nil {
		return pb.Now()
	}
	return time.Now()
}

func (pb *PromptBuilder) identity() string {
	var b strings.Builder
	b.WriteString("# Hibiki\n\nYou are Hibiki, a personal voice assistant. You are concise, warm, and practical; your replies are usually spoken aloud, so keep them short and free of markup.\n\n")
	fmt.Fprintf(&b, "## Current Time\n%s\n\n", pb.now().Format("2006-01-02 15:04 (Monday)"))
	fmt.Fprintf(&b, "## Language\nAlways reply in the user's language (%s).", pb.language())
	if pb.DrivingMode {
		b.WriteString("\n\n## Driving Mode\nThe user is driving. Keep every reply to one or two short sentences, never ask for anything that needs the screen, and defer anything non-urgent.")
	}
	return b.String()
}

func (pb *PromptBuilder) language() string {
	if pb.Language == "" {
		return "en"
	}
	return pb.Language
}

func (pb *PromptBuilder) toolsSection() string {
	if pb.Registry == nil {
		return ""
	}
	definitions := pb.Registry.Definitions()
	if len(definitions) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("## Tools\n\nWhen you need to perform an action (schedule a task, set a timer, remember something, operate an app), call the matching tool. Never pretend to have done something without calling it.\n\n")
	for _, d := range definitions {
		fmt.Fprintf(&b, "- **%s**: %s\n", d.Function.Name, firstSentence(d.Function.Description))
	}
	return b.String()
}

func (pb *PromptBuilder) memorySection() string {
	if strings.TrimSpace(pb.MemoryContext) == "" {
		return ""
	}
	return "## Memory\n\n" + pb.MemoryContext
}

func join(parts ...string) string {
	kept := parts[:0]
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "\n\n---\n\n")
}

// Interactive is the system prompt for the foreground conversation.
func (pb *PromptBuilder) Interactive() string {
	return join(pb.identity(), pb.toolsSection(), pb.memorySection())
}

// Unattended is the system prompt for scheduled background runs. The user
// is not present, so the model must not ask clarifying questions.
func (pb *PromptBuilder) Unattended() string {
	note := "## Unattended Execution\n\nThis is an unattended background execution of a scheduled task. The user is not present and cannot answer questions. Do not ask for clarification; make reasonable assumptions, complete the task, and state the outcome in your final reply. Your final reply will be shown to the user later."
	return join(pb.identity(), note, pb.toolsSection(), pb.memorySection())
}

// Automation is the system prompt for the UI automation loop, seeded with
// the goal, the initial snapshot, and any condensed hint from earlier runs
// against the same application.
func (pb *PromptBuilder) Automation(goal, appID, snapshot, hint string) string {
	var b strings.Builder
	b.WriteString("## UI Automation\n\n")
	fmt.Fprintf(&b, "You are operating the application %q on the user's device to accomplish this goal:\n\n%s\n\n", appID, goal)
	b.WriteString("Work step by step: inspect the snapshot, perform one action, then take a fresh snapshot to observe the result. When the goal is reached, or you are certain it cannot be, call finish_task exactly once.\n")
	if strings.TrimSpace(hint) != "" {
		b.WriteString("\n### Notes From Earlier Runs\n\n" + hint + "\n")
	}
	b.WriteString("\n### Current Screen\n\n" + snapshot)
	return join(pb.identity(), b.String(), pb.toolsSection(), pb.memorySection())
}

func firstSentence(s string) string {
	if i := strings.IndexAny(s, ".!?"); i > 0 && i < len(s)-1 {
		return s[:i+1]
	}
	return s
}

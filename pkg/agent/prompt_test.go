package agent

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/hibiki-ai/hibiki/pkg/tools"
)

type describedTool struct {
	name string
	desc string
}

func (t *describedTool) Name() string               { return t.name }
func (t *describedTool) Description() string        { return t.desc }
func (t *describedTool) Parameters() map[string]any { return map[string]any{"type": "object"} }
func (t *describedTool) Execute(ctx context.Context, args map[string]any) *tools.ToolResult {
	return tools.SilentResult("ok")
}

func fixedClock() time.Time {
	return time.Date(2026, 5, 11, 9, 0, 0, 0, time.UTC)
}

func TestInteractivePromptIdentity(t *testing.T) {
	pb := &PromptBuilder{Language: "de", Now: fixedClock}
	prompt := pb.Interactive()

	if !strings.Contains(prompt, "You are Hibiki") {
		t.Error("prompt is missing the identity line")
	}
	if !strings.Contains(prompt, "2026-05-11 09:00 (Monday)") {
		t.Errorf("prompt is missing the formatted clock:\n%s", prompt)
	}
	if !strings.Contains(prompt, "(de)") {
		t.Error("prompt does not name the reply language")
	}
	if strings.Contains(prompt, "Driving Mode") {
		t.Error("driving section present without the flag")
	}
	if strings.Contains(prompt, "## Tools") {
		t.Error("tools section present without a registry")
	}
	if strings.Contains(prompt, "## Memory") {
		t.Error("memory section present without context")
	}
}

func TestInteractivePromptDefaultsToEnglish(t *testing.T) {
	pb := &PromptBuilder{Now: fixedClock}
	if !strings.Contains(pb.Interactive(), "(en)") {
		t.Error("empty language should fall back to en")
	}
}

func TestInteractivePromptDrivingMode(t *testing.T) {
	pb := &PromptBuilder{DrivingMode: true, Now: fixedClock}
	prompt := pb.Interactive()
	if !strings.Contains(prompt, "## Driving Mode") {
		t.Error("driving section missing")
	}
	if !strings.Contains(prompt, "one or two short sentences") {
		t.Error("driving constraints missing")
	}
}

func TestInteractivePromptToolsSection(t *testing.T) {
	registry := tools.NewRegistry()
	registry.Register(&describedTool{
		name: "set_timer",
		desc: "Set a timer that notifies the user. Second sentence with detail.",
	})
	pb := &PromptBuilder{Registry: registry, Now: fixedClock}
	prompt := pb.Interactive()

	if !strings.Contains(prompt, "## Tools") {
		t.Fatal("tools section missing")
	}
	if !strings.Contains(prompt, "- **set_timer**: Set a timer that notifies the user.") {
		t.Errorf("tool line missing or not truncated to the first sentence:\n%s", prompt)
	}
	if strings.Contains(prompt, "Second sentence") {
		t.Error("tool description was not truncated")
	}
}

func TestInteractivePromptMemorySection(t *testing.T) {
	pb := &PromptBuilder{
		MemoryContext: "Known facts about the user:\n- [fact] Lives in Berlin\n",
		Now:           fixedClock,
	}
	prompt := pb.Interactive()
	if !strings.Contains(prompt, "## Memory") || !strings.Contains(prompt, "Lives in Berlin") {
		t.Errorf("memory section missing:\n%s", prompt)
	}
}

func TestUnattendedPrompt(t *testing.T) {
	pb := &PromptBuilder{Now: fixedClock}
	prompt := pb.Unattended()
	if !strings.Contains(prompt, "## Unattended Execution") {
		t.Fatal("unattended section missing")
	}
	if !strings.Contains(prompt, "Do not ask for clarification") {
		t.Error("no-questions instruction missing")
	}
}

func TestAutomationPrompt(t *testing.T) {
	pb := &PromptBuilder{Now: fixedClock}
	prompt := pb.Automation("archive the newsletter", "com.example.mail", `<node id="root"/>`, "The archive button lives in the overflow menu.")

	for _, want := range []string{
		"## UI Automation",
		`"com.example.mail"`,
		"archive the newsletter",
		"### Current Screen",
		`<node id="root"/>`,
		"### Notes From Earlier Runs",
		"overflow menu",
		"finish_task exactly once",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("automation prompt missing %q", want)
		}
	}
}

func TestAutomationPromptWithoutHint(t *testing.T) {
	pb := &PromptBuilder{Now: fixedClock}
	prompt := pb.Automation("goal", "com.example.app", "<node/>", "  ")
	if strings.Contains(prompt, "Notes From Earlier Runs") {
		t.Error("hint section present for a blank hint")
	}
}

func TestFirstSentence(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Does a thing. More detail.", "Does a thing."},
		{"No terminator here", "No terminator here"},
		{"Ends.", "Ends."},
		{"Ask? Then act.", "Ask?"},
	}
	for _, tt := range tests {
		if got := firstSentence(tt.in); got != tt.want {
			t.Errorf("firstSentence(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

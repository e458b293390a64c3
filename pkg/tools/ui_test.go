package tools

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/hibiki-ai/hibiki/pkg/device"
)

type scriptedDevice struct {
	actions     []device.Action
	outcome     string
	actionErr   error
	snapshot    string
	snapshotErr error
}

func (d *scriptedDevice) IntrospectionEnabled(ctx context.Context) (bool, error) { return true, nil }
func (d *scriptedDevice) LaunchApp(ctx context.Context, appID string) error     { return nil }
func (d *scriptedDevice) ForegroundApp(ctx context.Context) (string, error)     { return "", nil }
func (d *scriptedDevice) RequestForeground(ctx context.Context) error           { return nil }

func (d *scriptedDevice) UISnapshot(ctx context.Context) (string, error) {
	return d.snapshot, d.snapshotErr
}

func (d *scriptedDevice) PerformAction(ctx context.Context, action device.Action) (string, error) {
	d.actions = append(d.actions, action)
	return d.outcome, d.actionErr
}

func TestUIActionToolPerformsGesture(t *testing.T) {
	dev := &scriptedDevice{outcome: "tapped Send"}
	tool := NewUIActionTool(dev)

	res := tool.Execute(context.Background(), map[string]any{
		"action":     "tap",
		"element_id": "btn-send",
	})
	if res.IsError {
		t.Fatalf("Execute failed: %s", res.ForLLM)
	}
	if res.ForLLM != "tapped Send" {
		t.Errorf("ForLLM = %q, want device outcome", res.ForLLM)
	}
	if len(dev.actions) != 1 {
		t.Fatalf("recorded %d actions, want 1", len(dev.actions))
	}
	got := dev.actions[0]
	if got.ElementID != "btn-send" || got.Kind != "tap" || got.Text != "" {
		t.Errorf("action = %+v", got)
	}
}

func TestUIActionToolInputCarriesText(t *testing.T) {
	dev := &scriptedDevice{}
	tool := NewUIActionTool(dev)

	res := tool.Execute(context.Background(), map[string]any{
		"action":     "input",
		"element_id": "field-query",
		"text":       "weather berlin",
	})
	if res.IsError {
		t.Fatalf("Execute failed: %s", res.ForLLM)
	}
	if res.ForLLM != "performed input" {
		t.Errorf("ForLLM = %q, want the default outcome", res.ForLLM)
	}
	if dev.actions[0].Text != "weather berlin" {
		t.Errorf("action text = %q", dev.actions[0].Text)
	}
}

func TestUIActionToolBackNeedsNoElement(t *testing.T) {
	dev := &scriptedDevice{}
	tool := NewUIActionTool(dev)

	res := tool.Execute(context.Background(), map[string]any{"action": "back"})
	if res.IsError {
		t.Fatalf("Execute failed: %s", res.ForLLM)
	}
	if dev.actions[0].Kind != "back" || dev.actions[0].ElementID != "" {
		t.Errorf("action = %+v", dev.actions[0])
	}
}

func TestUIActionToolValidation(t *testing.T) {
	tests := []struct {
		name string
		args map[string]any
		want string
	}{
		{"missing action", map[string]any{}, "action is required"},
		{"missing element", map[string]any{"action": "tap"}, "element_id is required for action tap"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := &scriptedDevice{}
			res := NewUIActionTool(dev).Execute(context.Background(), tt.args)
			if !res.IsError || res.ForLLM != tt.want {
				t.Errorf("Execute(%v) = %+v, want error %q", tt.args, res, tt.want)
			}
			if len(dev.actions) != 0 {
				t.Errorf("device was called for invalid args: %+v", dev.actions)
			}
		})
	}
}

func TestUIActionToolElementNotFound(t *testing.T) {
	dev := &scriptedDevice{actionErr: device.ErrElementNotFound}
	tool := NewUIActionTool(dev)

	res := tool.Execute(context.Background(), map[string]any{
		"action":     "tap",
		"element_id": "btn-gone",
	})
	if !res.IsError {
		t.Fatal("expected an error result")
	}
	if !strings.Contains(res.ForLLM, "not found on the current screen") {
		t.Errorf("ForLLM = %q, want a stale-snapshot hint", res.ForLLM)
	}
	if !errors.Is(res.Err, device.ErrElementNotFound) {
		t.Errorf("Err = %v, want ErrElementNotFound", res.Err)
	}
}

func TestUIActionToolDeviceFailure(t *testing.T) {
	dev := &scriptedDevice{actionErr: errors.New("rpc timeout")}
	tool := NewUIActionTool(dev)

	res := tool.Execute(context.Background(), map[string]any{
		"action":     "tap",
		"element_id": "btn-send",
	})
	if !res.IsError || res.ForLLM != "ui action failed: rpc timeout" {
		t.Errorf("result = %+v", res)
	}
}

func TestUISnapshotTool(t *testing.T) {
	dev := &scriptedDevice{snapshot: `<node id="root"><button id="btn-1"/></node>`}
	tool := NewUISnapshotTool(dev)

	res := tool.Execute(context.Background(), nil)
	if res.IsError {
		t.Fatalf("Execute failed: %s", res.ForLLM)
	}
	if res.ForLLM != dev.snapshot {
		t.Errorf("ForLLM = %q, want the raw snapshot", res.ForLLM)
	}
}

func TestUISnapshotToolFailure(t *testing.T) {
	dev := &scriptedDevice{snapshotErr: errors.New("introspection off")}
	tool := NewUISnapshotTool(dev)

	res := tool.Execute(context.Background(), nil)
	if !res.IsError || !strings.Contains(res.ForLLM, "failed to capture ui snapshot") {
		t.Errorf("result = %+v", res)
	}
}

func TestFinishTaskTool(t *testing.T) {
	tool := NewFinishTaskTool()

	if _, _, done := tool.Outcome(); done {
		t.Fatal("done before any call")
	}

	res := tool.Execute(context.Background(), map[string]any{
		"status":  "success",
		"message": "Sent the message to Alex.",
	})
	if res.IsError {
		t.Fatalf("Execute failed: %s", res.ForLLM)
	}
	if !res.Silent || res.ForLLM != "Task marked success" {
		t.Errorf("result = %+v", res)
	}

	status, message, done := tool.Outcome()
	if !done || status != "success" || message != "Sent the message to Alex." {
		t.Errorf("Outcome() = %q, %q, %v", status, message, done)
	}
}

func TestFinishTaskToolValidation(t *testing.T) {
	tests := []struct {
		name string
		args map[string]any
		want string
	}{
		{"bad status", map[string]any{"status": "done", "message": "x"}, "status must be 'success' or 'failure'"},
		{"empty message", map[string]any{"status": "failure", "message": "  "}, "message is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tool := NewFinishTaskTool()
			res := tool.Execute(context.Background(), tt.args)
			if !res.IsError || res.ForLLM != tt.want {
				t.Errorf("result = %+v, want error %q", res, tt.want)
			}
			if _, _, done := tool.Outcome(); done {
				t.Error("invalid call marked the task done")
			}
		})
	}
}

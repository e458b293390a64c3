package bridge

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiki-ai/hibiki/pkg/device"
)

// RemoteDevice drives the companion app's accessibility surface over the
// bridge RPC channel.
type RemoteDevice struct {
	s *Server
}

var _ device.Controller = (*RemoteDevice)(nil)

// Device returns the controller view of the connected companion app.
func (s *Server) Device() *RemoteDevice {
	return &RemoteDevice{s: s}
}

func (d *RemoteDevice) IntrospectionEnabled(ctx context.Context) (bool, error) {
	raw, err := d.s.call(ctx, "introspection_enabled", nil)
	if err != nil {
		return false, err
	}
	var out struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return false, fmt.Errorf("decoding introspection_enabled reply: %w", err)
	}
	return out.Enabled, nil
}

func (d *RemoteDevice) LaunchApp(ctx context.Context, appID string) error {
	_, err := d.s.call(ctx, "launch_app", map[string]any{"appId": appID})
	return err
}

func (d *RemoteDevice) ForegroundApp(ctx context.Context) (string, error) {
	raw, err := d.s.call(ctx, "foreground_app", nil)
	if err != nil {
		return "", err
	}
	var out struct {
		AppID string `json:"appId"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decoding foreground_app reply: %w", err)
	}
	return out.AppID, nil
}

func (d *RemoteDevice) UISnapshot(ctx context.Context) (string, error) {
	raw, err := d.s.call(ctx, "ui_snapshot", nil)
	if err != nil {
		return "", err
	}
	var out struct {
		Snapshot string `json:"snapshot"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decoding ui_snapshot reply: %w", err)
	}
	return out.Snapshot, nil
}

func (d *RemoteDevice) PerformAction(ctx context.Context, action device.Action) (string, error) {
	raw, err := d.s.call(ctx, "ui_action", action)
	if err != nil {
		return "", err
	}
	var out struct {
		Outcome string `json:"outcome"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decoding ui_action reply: %w", err)
	}
	return out.Outcome, nil
}

func (d *RemoteDevice) RequestForeground(ctx context.Context) error {
	_, err := d.s.call(ctx, "request_foreground", nil)
	return err
}

// RemoteSynthesizer speaks through the companion app. Speak blocks until
// the app acknowledges that playback finished, which is what keeps the
// pipeline's speaking state honest.
type RemoteSynthesizer struct {
	s *Server
}

// Synthesizer returns the speech view of the connected companion app.
func (s *Server) Synthesizer() *RemoteSynthesizer {
	return &RemoteSynthesizer{s: s}
}

func (v *RemoteSynthesizer) Speak(ctx context.Context, text string) error {
	_, err := v.s.call(ctx, "speak", map[string]any{"text": text})
	return err
}

func (v *RemoteSynthesizer) IsAvailable() bool {
	return v.s.Connected()
}

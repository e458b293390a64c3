// Package device abstracts the host device surface the assistant drives:
// UI introspection and actions, app launching, and the foreground signal.
// The bridge package provides the production implementation backed by the
// companion app; tests substitute fakes.
package device

import (
	"context"
	"errors"
)

var (
	// ErrIntrospectionDisabled means the OS accessibility/introspection
	// service is not active and UI automation cannot run.
	ErrIntrospectionDisabled = errors.New("ui introspection service is disabled")

	// ErrElementNotFound means an action referenced an element id that is
	// not present in the current UI snapshot.
	ErrElementNotFound = errors.New("ui element not found")
)

// Action is a UI gesture performed on an element from the latest snapshot.
type Action struct {
	ElementID string `json:"elementId"`
	// Kind is one of "tap", "long_press", "input", "scroll_up",
	// "scroll_down", "back".
	Kind string `json:"action"`
	// Text is only used by "input".
	Text string `json:"text,omitempty"`
}

// Controller is the device-side contract for the automation loop.
type Controller interface {
	// IntrospectionEnabled reports whether UI snapshots and actions are
	// currently possible.
	IntrospectionEnabled(ctx context.Context) (bool, error)

	// LaunchApp asks the device to open or navigate to an application.
	LaunchApp(ctx context.Context, appID string) error

	// ForegroundApp returns the identifier of the application currently in
	// the foreground.
	ForegroundApp(ctx context.Context) (string, error)

	// UISnapshot returns a textual structural snapshot of the visible UI,
	// with stable element identifiers usable in PerformAction.
	UISnapshot(ctx context.Context) (string, error)

	// PerformAction executes one UI action and returns a short outcome
	// description.
	PerformAction(ctx context.Context, action Action) (string, error)

	// RequestForeground asks the host application to come to the front.
	// Best effort: failures are reported but callers treat them as
	// non-fatal.
	RequestForeground(ctx context.Context) error
}

// Package voice defines the speech contracts. Synthesis and transcription
// happen on the device side; the bridge provides the production
// implementations, and text-only surfaces use the no-op synthesizer.
package voice

import "context"

// Synthesizer speaks a reply aloud. Speak blocks until playback completes
// or fails, which is what keeps the conversation pipeline in the speaking
// state for the duration.
type Synthesizer interface {
	Speak(ctx context.Context, text string) error
	IsAvailable() bool
}

// Transcriber turns a captured utterance into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audioFilePath string) (string, error)
	IsAvailable() bool
}

// NopSynthesizer is used by text-only surfaces; Speak returns immediately.
type NopSynthesizer struct{}

func (NopSynthesizer) Speak(ctx context.Context, text string) error { return nil }

func (NopSynthesizer) IsAvailable() bool { return false }

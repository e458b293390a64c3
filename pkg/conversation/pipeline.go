package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/hibiki-ai/hibiki/pkg/agent"
	"github.com/hibiki-ai/hibiki/pkg/logger"
	"github.com/hibiki-ai/hibiki/pkg/memory"
	"github.com/hibiki-ai/hibiki/pkg/providers"
	"github.com/hibiki-ai/hibiki/pkg/tools"
	"github.com/hibiki-ai/hibiki/pkg/voice"
)

// State is the pipeline's single mutable field per session.
type State int32

const (
	StateIdle State = iota
	StateListening
	StateProcessing
	StateSpeaking
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateProcessing:
		return "processing"
	case StateSpeaking:
		return "speaking"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// ErrBusy is returned when a turn is requested while another is in flight.
var ErrBusy = errors.New("a turn is already in progress")

const fallbackLimitReply = "I wasn't able to finish that in the allowed number of steps. Try asking again, or split the request up."

// Pipeline runs the interactive conversation: one utterance in, one reply
// out, with history persistence and optional spoken output. At most one
// turn is ever in flight, enforced by a compare-and-swap on the state
// rather than a lock.
type Pipeline struct {
	Provider    providers.LLMProvider
	Registry    *tools.Registry
	Model       string
	MaxIters    int
	MaxTokens   int
	Temperature float64

	Language    string
	DrivingMode bool
	HistoryCap  int

	History     *History
	Memory      *memory.Store
	Synthesizer voice.Synthesizer
	SpeakReply  bool

	// OnToolResult surfaces non-silent tool output mid-turn.
	OnToolResult func(*tools.ToolResult)

	// OnReply receives the final reply text before playback starts, so a
	// transport can render it while speech is still in flight.
	OnReply func(string)

	state     atomic.Int32
	sessionID string
}

func NewPipeline(sessionID string) *Pipeline {
	p := &Pipeline{
		sessionID:  sessionID,
		HistoryCap: DefaultHistoryCap,
	}
	p.state.Store(int32(StateIdle))
	return p
}

func (p *Pipeline) State() State {
	return State(p.state.Load())
}

func (p *Pipeline) SessionID() string {
	return p.sessionID
}

// StartListening moves to listening. A no-op from any state other than
// idle or speaking; starting from speaking supersedes the playback.
func (p *Pipeline) StartListening() bool {
	if p.state.CompareAndSwap(int32(StateIdle), int32(StateListening)) {
		return true
	}
	return p.state.CompareAndSwap(int32(StateSpeaking), int32(StateListening))
}

// StopListening leaves the listening state. A no-op from anywhere else.
func (p *Pipeline) StopListening() bool {
	return p.state.CompareAndSwap(int32(StateListening), int32(StateIdle))
}

// ProcessUtterance runs one full turn. It is rejected with ErrBusy unless
// the pipeline is idle (or still in listening for the utterance being
// delivered). Any failure inside the turn is caught, recorded into history
// as a synthetic assistant note, and the state returns to idle.
func (p *Pipeline) ProcessUtterance(ctx context.Context, text string) (string, error) {
	if !p.state.CompareAndSwap(int32(StateIdle), int32(StateProcessing)) &&
		!p.state.CompareAndSwap(int32(StateListening), int32(StateProcessing)) {
		logger.WarnCF("conversation", "Turn rejected, pipeline busy", map[string]any{
			"state": p.State().String(),
		})
		return "", ErrBusy
	}

	reply, err := p.runTurn(ctx, text)
	if err != nil {
		p.state.Store(int32(StateError))
		p.recordFailure(err)
		p.state.Store(int32(StateIdle))
		return "", err
	}

	if p.OnReply != nil && reply != "" {
		p.OnReply(reply)
	}

	if p.SpeakReply && p.Synthesizer != nil && p.Synthesizer.IsAvailable() && reply != "" {
		p.state.Store(int32(StateSpeaking))
		if speakErr := p.Synthesizer.Speak(ctx, reply); speakErr != nil {
			logger.WarnCF("conversation", "Speech playback failed", map[string]any{
				"error": speakErr.Error(),
			})
		}
		// Listening may have superseded speaking while we were blocked.
		p.state.CompareAndSwap(int32(StateSpeaking), int32(StateIdle))
	} else {
		p.state.Store(int32(StateIdle))
	}

	return reply, nil
}

func (p *Pipeline) runTurn(ctx context.Context, text string) (string, error) {
	history, err := p.History.Load()
	if err != nil {
		return "", fmt.Errorf("loading history: %w", err)
	}
	history = TrimMessages(history, p.HistoryCap)

	memoryContext := ""
	if p.Memory != nil {
		if block, memErr := p.Memory.ContextBlock(ctx, 20); memErr == nil {
			memoryContext = block
		} else {
			logger.WarnCF("conversation", "Memory context unavailable", map[string]any{"error": memErr.Error()})
		}
	}

	builder := &agent.PromptBuilder{
		Language:      p.Language,
		DrivingMode:   p.DrivingMode,
		MemoryContext: memoryContext,
		Registry:      p.Registry,
	}

	userMsg := providers.Message{Role: "user", Content: text}
	messages := make([]providers.Message, 0, len(history)+2)
	messages = append(messages, providers.Message{Role: "system", Content: builder.Interactive()})
	messages = append(messages, history...)
	messages = append(messages, userMsg)

	loop := agent.NewLoop(p.Provider, p.Registry)
	loop.Origin = "conversation"
	loop.SessionID = p.sessionID
	loop.OnToolResult = p.OnToolResult
	if p.MaxTokens > 0 {
		loop.MaxTokens = p.MaxTokens
	}
	if p.Temperature > 0 {
		loop.Temperature = p.Temperature
	}

	result, err := loop.Run(ctx, messages, p.Model, p.MaxIters)
	if err != nil {
		return "", err
	}

	reply := result.Content
	if result.LimitReached && reply == "" {
		reply = fallbackLimitReply
	}

	history = append(history, userMsg)
	history = append(history, result.NewMessages...)
	history = append(history, providers.Message{Role: "assistant", Content: reply})
	history = TrimMessages(history, p.HistoryCap)

	if err := p.History.Save(history); err != nil {
		logger.ErrorCF("conversation", "Failed to persist history", map[string]any{"error": err.Error()})
	}

	return reply, nil
}

// recordFailure leaves a note in history so the next turn has context for
// what went wrong.
func (p *Pipeline) recordFailure(turnErr error) {
	history, err := p.History.Load()
	if err != nil {
		return
	}
	history = append(history, providers.Message{
		Role:    "assistant",
		Content: fmt.Sprintf("(the previous request failed: %v)", turnErr),
	})
	history = TrimMessages(history, p.HistoryCap)
	if err := p.History.Save(history); err != nil {
		logger.ErrorCF("conversation", "Failed to persist failure note", map[string]any{"error": err.Error()})
	}
}

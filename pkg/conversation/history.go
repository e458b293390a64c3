// Package conversation owns the interactive session: its persisted message
// history, the trim invariant that keeps tool exchanges intact, and the
// state machine that guarantees one turn in flight.
package conversation

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/hibiki-ai/hibiki/pkg/providers"
)

const historyVersion = 1

// DefaultHistoryCap bounds how many messages a session keeps after a turn.
const DefaultHistoryCap = 40

type historyFile struct {
	Version  int                 `json:"version"`
	Messages []providers.Message `json:"messages"`
}

// History is one session's persisted message list. The system message is
// never stored; it is rebuilt fresh for every turn.
type History struct {
	path string
	mu   sync.Mutex
}

func NewHistory(workspace, sessionID string) *History {
	return &History{path: filepath.Join(workspace, "sessions", sessionID+".json")}
}

func (h *History) Load() ([]providers.Message, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	data, err := os.ReadFile(h.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading history: %w", err)
	}
	var f historyFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing history: %w", err)
	}
	return f.Messages, nil
}

func (h *History) Save(messages []providers.Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if messages == nil {
		messages = []providers.Message{}
	}
	data, err := json.MarshalIndent(historyFile{Version: historyVersion, Messages: messages}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling history: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(h.path), 0o755); err != nil {
		return fmt.Errorf("creating sessions dir: %w", err)
	}
	tempFile := h.path + ".tmp"
	if err := os.WriteFile(tempFile, data, 0o600); err != nil {
		return fmt.Errorf("writing history: %w", err)
	}
	if err := os.Rename(tempFile, h.path); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("replacing history: %w", err)
	}
	return nil
}

func (h *History) Clear() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := os.Remove(h.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// TrimMessages bounds a history to roughly limit messages without ever
// splitting a tool exchange. A naive tail slice can start inside one: on a
// leading tool message its paired assistant call is gone, and on a leading
// assistant message that still carries toolCalls its results would follow
// without it once more history is prepended. The start index therefore
// advances until the window begins with a plain user or assistant message.
// Every provider rejects histories that violate this pairing, so this runs
// on every trim.
func TrimMessages(messages []providers.Message, limit int) []providers.Message {
	if limit <= 0 || len(messages) <= limit {
		start := advancePastOrphans(messages, 0)
		return messages[start:]
	}

	start := advancePastOrphans(messages, len(messages)-limit)
	return messages[start:]
}

func advancePastOrphans(messages []providers.Message, start int) int {
	for start < len(messages) {
		m := messages[start]
		if m.Role == "tool" {
			start++
			continue
		}
		if m.Role == "assistant" && len(m.ToolCalls) > 0 {
			start++
			continue
		}
		break
	}
	return start
}

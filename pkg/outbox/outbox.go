// Package outbox is the durable hand-off queue from background executions
// (scheduled tasks, timers, UI automation) to the foreground conversation.
// Producers append; the foreground drains once it comes back to front.
package outbox

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hibiki-ai/hibiki/pkg/logger"
)

const fileVersion = 1

type Entry struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	CreatedAt int64  `json:"createdAt"`
}

type queueFile struct {
	Version int     `json:"version"`
	Entries []Entry `json:"entries"`
}

type Outbox struct {
	path string
	mu   sync.Mutex
}

func New(path string) *Outbox {
	return &Outbox{path: path}
}

// Append durably queues one entry. It never reports failure to the caller:
// a queue-write problem must not abort an otherwise successful background
// task, so errors are only logged. Callers relying on the queued message
// being visible must call Append before any foreground signal.
func (o *Outbox) Append(role, content string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	entries, err := o.load()
	if err != nil {
		logger.ErrorCF("outbox", "Failed to read queue, starting fresh", map[string]any{"error": err.Error()})
		entries = nil
	}
	entries = append(entries, Entry{
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UnixMilli(),
	})
	if err := o.save(entries); err != nil {
		logger.ErrorCF("outbox", "Failed to append entry", map[string]any{"error": err.Error()})
	}
}

// Drain returns all queued entries and clears the queue.
func (o *Outbox) Drain() ([]Entry, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	entries, err := o.load()
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	if err := o.save(nil); err != nil {
		return nil, err
	}
	return entries, nil
}

// Pending returns the queue without clearing it.
func (o *Outbox) Pending() ([]Entry, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.load()
}

func (o *Outbox) load() ([]Entry, error) {
	data, err := os.ReadFile(o.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading outbox: %w", err)
	}
	var f queueFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing outbox: %w", err)
	}
	return f.Entries, nil
}

func (o *Outbox) save(entries []Entry) error {
	if entries == nil {
		entries = []Entry{}
	}
	data, err := json.MarshalIndent(queueFile{Version: fileVersion, Entries: entries}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling outbox: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(o.path), 0o755); err != nil {
		return fmt.Errorf("creating outbox dir: %w", err)
	}
	tempFile := o.path + ".tmp"
	if err := os.WriteFile(tempFile, data, 0o600); err != nil {
		return fmt.Errorf("writing outbox: %w", err)
	}
	if err := os.Rename(tempFile, o.path); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("replacing outbox: %w", err)
	}
	return nil
}

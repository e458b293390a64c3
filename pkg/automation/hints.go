package automation

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/hibiki-ai/hibiki/pkg/logger"
)

// HintStore persists one condensed-hint file per application under
// <workspace>/hints/. Hints are full-document overwrites: each condensation
// rewrites the file from the latest transcript plus the previous hint, so
// the store never needs merge logic.
type HintStore struct {
	dir string
}

func NewHintStore(workspace string) *HintStore {
	return &HintStore{dir: filepath.Join(workspace, "hints")}
}

// Load returns the stored hint for the app, or "" when none exists. Hints
// are advisory, so read failures are logged and treated as missing.
func (h *HintStore) Load(appID string) string {
	data, err := os.ReadFile(h.path(appID))
	if err != nil {
		if !os.IsNotExist(err) {
			logger.WarnCF("automation", "Failed to read hint file", map[string]any{
				"app":   appID,
				"error": err.Error(),
			})
		}
		return ""
	}
	return strings.TrimSpace(string(data))
}

// Save overwrites the app's hint file.
func (h *HintStore) Save(appID, hint string) error {
	if err := os.MkdirAll(h.dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(h.path(appID), []byte(strings.TrimSpace(hint)+"\n"), 0o600)
}

func (h *HintStore) path(appID string) string {
	return filepath.Join(h.dir, sanitizeAppID(appID)+".txt")
}

// sanitizeAppID keeps hint filenames flat and predictable for ids such as
// "com.spotify.music".
func sanitizeAppID(appID string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(appID) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "app"
	}
	return b.String()
}

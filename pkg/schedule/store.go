package schedule

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const storeVersion = 1

type storeFile struct {
	Version   int        `json:"version"`
	Schedules []Schedule `json:"schedules"`
}

// Store persists schedules as a single JSON document. Every mutation
// rewrites the whole file atomically (temp file + rename) with 0600
// permissions since instructions may contain personal content.
type Store struct {
	path     string
	mu       sync.Mutex
	onChange func()
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

// SetOnChange registers a callback invoked after every successful mutation.
// The daemon trigger service uses it to recompute its next wake-up.
func (st *Store) SetOnChange(fn func()) {
	st.mu.Lock()
	st.onChange = fn
	st.mu.Unlock()
}

func (st *Store) Add(s Schedule) error {
	if err := s.Validate(); err != nil {
		return err
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	all, err := st.load()
	if err != nil {
		return err
	}
	for _, existing := range all {
		if existing.ID == s.ID {
			return fmt.Errorf("schedule %q already exists", s.ID)
		}
	}
	return st.save(append(all, s))
}

func (st *Store) Get(id string) (Schedule, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	all, err := st.load()
	if err != nil {
		return Schedule{}, err
	}
	for _, s := range all {
		if s.ID == id {
			return s, nil
		}
	}
	return Schedule{}, ErrNotFound
}

func (st *Store) All() ([]Schedule, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.load()
}

// UpdateTrigger moves a schedule to a new trigger time.
func (st *Store) UpdateTrigger(id string, triggerAtMS int64) error {
	return st.mutate(id, func(s *Schedule) {
		s.TriggerAtMS = triggerAtMS
	})
}

// MarkExecuted records the execution timestamp.
func (st *Store) MarkExecuted(id string, executedAtMS int64) error {
	return st.mutate(id, func(s *Schedule) {
		s.LastExecutedAtMS = executedAtMS
	})
}

func (st *Store) SetEnabled(id string, enabled bool) error {
	return st.mutate(id, func(s *Schedule) {
		s.Enabled = enabled
	})
}

func (st *Store) Remove(id string) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	all, err := st.load()
	if err != nil {
		return err
	}
	kept := all[:0]
	found := false
	for _, s := range all {
		if s.ID == id {
			found = true
			continue
		}
		kept = append(kept, s)
	}
	if !found {
		return ErrNotFound
	}
	return st.save(kept)
}

func (st *Store) mutate(id string, apply func(*Schedule)) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	all, err := st.load()
	if err != nil {
		return err
	}
	for i := range all {
		if all[i].ID == id {
			apply(&all[i])
			return st.save(all)
		}
	}
	return ErrNotFound
}

// load must be called with the lock held. A missing file is an empty store.
func (st *Store) load() ([]Schedule, error) {
	data, err := os.ReadFile(st.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading schedule store: %w", err)
	}
	var f storeFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing schedule store: %w", err)
	}
	return f.Schedules, nil
}

// save must be called with the lock held.
func (st *Store) save(all []Schedule) error {
	if all == nil {
		all = []Schedule{}
	}
	data, err := json.MarshalIndent(storeFile{Version: storeVersion, Schedules: all}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling schedule store: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(st.path), 0o755); err != nil {
		return fmt.Errorf("creating schedule store dir: %w", err)
	}
	tempFile := st.path + ".tmp"
	if err := os.WriteFile(tempFile, data, 0o600); err != nil {
		return fmt.Errorf("writing schedule store: %w", err)
	}
	if err := os.Rename(tempFile, st.path); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("replacing schedule store: %w", err)
	}

	if st.onChange != nil {
		st.onChange()
	}
	return nil
}

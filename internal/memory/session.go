package memory

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/waddadaa/gpagent/internal/errkind"
)

// writeJSONDocument atomically writes v as a single pretty-printed JSON
// document to path, used for every single-document store in the memory
// hierarchy (SessionState, CompressedHistory, CheckpointInfo, etc).
func writeJSONDocument(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errkind.Wrap(errkind.FileWriteFailed, err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errkind.Wrap(errkind.FileWriteFailed, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errkind.Wrap(errkind.FileWriteFailed, err)
	}
	return os.Rename(tmp, path)
}

// readJSONDocument reads and unmarshals a single JSON document from path.
// Returns (false, nil) if the file does not exist.
func readJSONDocument(path string, v any) (bool, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, errkind.Wrap(errkind.FileReadFailed, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, errkind.Wrap(errkind.MemoryCorrupted, err).WithContext(path)
	}
	return true, nil
}

// SessionStateStore persists a single session's SessionState document.
type SessionStateStore struct {
	mu    sync.Mutex
	path  string
	state SessionState
}

// OpenSessionState loads an existing SessionState from path, or
// initializes a fresh one for sessionID if none exists.
func OpenSessionState(path, sessionID string) (*SessionStateStore, error) {
	s := &SessionStateStore{path: path}
	ok, err := readJSONDocument(path, &s.state)
	if err != nil {
		return nil, errkind.Wrap(errkind.MemoryLoadFailed, err).WithSource("SessionState")
	}
	if !ok {
		now := time.Now()
		s.state = SessionState{SessionID: sessionID, CreatedAt: now, UpdatedAt: now}
	}
	return s, nil
}

// Get returns a copy of the current state.
func (s *SessionStateStore) Get() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IncrementTurn bumps the turn counter and updated_at, then persists.
func (s *SessionStateStore) IncrementTurn() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.TurnCounter++
	s.state.UpdatedAt = time.Now()
	if err := writeJSONDocument(s.path, s.state); err != nil {
		return s.state.TurnCounter, errkind.Wrap(errkind.MemorySaveFailed, err).WithSource("SessionState")
	}
	return s.state.TurnCounter, nil
}

// SetCurrentTask updates the session's active task and persists.
func (s *SessionStateStore) SetCurrentTask(task *CurrentTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.CurrentTask = task
	s.state.UpdatedAt = time.Now()
	return writeJSONDocument(s.path, s.state)
}

// UpdateScratchpad replaces the scratchpad and persists.
func (s *SessionStateStore) UpdateScratchpad(sp Scratchpad) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Scratchpad = sp
	s.state.UpdatedAt = time.Now()
	return writeJSONDocument(s.path, s.state)
}

// Restore overwrites the current state (used by checkpoint restore).
func (s *SessionStateStore) Restore(state SessionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
	return writeJSONDocument(s.path, s.state)
}

// CompressedHistoryStore persists the ordered list of CompressedSpans
// produced by the Compactor.
type CompressedHistoryStore struct {
	mu    sync.Mutex
	path  string
	spans []CompressedSpan
}

// OpenCompressedHistory loads an existing history document, or starts
// empty if none exists.
func OpenCompressedHistory(path string) (*CompressedHistoryStore, error) {
	h := &CompressedHistoryStore{path: path}
	if _, err := readJSONDocument(path, &h.spans); err != nil {
		return nil, errkind.Wrap(errkind.MemoryLoadFailed, err).WithSource("CompressedHistory")
	}
	return h, nil
}

// All returns a copy of the current spans.
func (h *CompressedHistoryStore) All() []CompressedSpan {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]CompressedSpan, len(h.spans))
	copy(out, h.spans)
	return out
}

// Append adds a new non-overlapping span and persists.
func (h *CompressedHistoryStore) Append(span CompressedSpan) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.spans = append(h.spans, span)
	return writeJSONDocument(h.path, h.spans)
}

// Text concatenates every span's summary in order, for inclusion in the
// Context Builder's "Conversation History Summary" layer.
func (h *CompressedHistoryStore) Text() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := ""
	for i, s := range h.spans {
		if i > 0 {
			out += "\n\n"
		}
		out += s.Summary
	}
	return out
}

// Restore overwrites the spans (used by checkpoint restore).
func (h *CompressedHistoryStore) Restore(spans []CompressedSpan) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.spans = spans
	return writeJSONDocument(h.path, h.spans)
}

package memory

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/waddadaa/gpagent/internal/errkind"
)

const sessionPreviewLen = 50

// ManagerConfig configures a MemoryManager's storage root and
// auto-checkpoint cadence.
type ManagerConfig struct {
	StorageRoot        string
	CheckpointInterval int
	AutoCheckpoint     bool
}

// Manager is the single entry point coordinating the memory hierarchy:
// it owns exactly one active session at a time, plus the three
// persistent sub-stores (cross-thread, episodic, checkpointer).
type Manager struct {
	mu     sync.Mutex
	cfg    ManagerConfig
	logger *slog.Logger

	crossThread *CrossThreadStore
	episodic    *EpisodicStore
	checkpoints *Checkpointer

	activeSessionID string
	thread          *ThreadMemory
	history         *CompressedHistoryStore
	state           *SessionStateStore
}

// NewManager creates a MemoryManager rooted at cfg.StorageRoot, opening
// the cross-thread, episodic, and checkpoint sub-stores immediately.
func NewManager(cfg ManagerConfig, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:         cfg,
		logger:      logger,
		crossThread: OpenCrossThreadStore(filepath.Join(cfg.StorageRoot, "cross_thread", "facts.json")),
		episodic:    OpenEpisodicStore(filepath.Join(cfg.StorageRoot, "episodic")),
		checkpoints: OpenCheckpointer(filepath.Join(cfg.StorageRoot, "checkpoints")),
	}
}

func (m *Manager) sessionDir(id string) string {
	return filepath.Join(m.cfg.StorageRoot, "sessions", id)
}

// StartSession opens (creating if necessary) the session's thread,
// history, and state stores, and makes it the active session.
func (m *Manager) StartSession(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.openSessionLocked(id)
}

// ResumeSession is equivalent to StartSession for an existing session id;
// both paths load whatever is already on disk.
func (m *Manager) ResumeSession(id string) error {
	return m.StartSession(id)
}

func (m *Manager) openSessionLocked(id string) error {
	dir := m.sessionDir(id)

	thread, err := OpenThreadMemory(filepath.Join(dir, "thread.jsonl"))
	if err != nil {
		return errkind.Wrap(errkind.MemoryLoadFailed, err).WithSource("MemoryManager")
	}
	history, err := OpenCompressedHistory(filepath.Join(dir, "history.json"))
	if err != nil {
		return errkind.Wrap(errkind.MemoryLoadFailed, err).WithSource("MemoryManager")
	}
	state, err := OpenSessionState(filepath.Join(dir, "state.json"), id)
	if err != nil {
		return errkind.Wrap(errkind.MemoryLoadFailed, err).WithSource("MemoryManager")
	}

	m.activeSessionID = id
	m.thread = thread
	m.history = history
	m.state = state
	return nil
}

// EndSession clears the active session without deleting its files.
func (m *Manager) EndSession() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeSessionID = ""
	m.thread = nil
	m.history = nil
	m.state = nil
}

// HasActiveSession reports whether a session is currently open.
func (m *Manager) HasActiveSession() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeSessionID != ""
}

// CurrentSessionID returns the active session id, or "" if none.
func (m *Manager) CurrentSessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeSessionID
}

// Thread returns the active session's ThreadMemory, or nil.
func (m *Manager) Thread() *ThreadMemory {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.thread
}

// History returns the active session's CompressedHistoryStore, or nil.
func (m *Manager) History() *CompressedHistoryStore {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.history
}

// State returns the active session's SessionStateStore, or nil.
func (m *Manager) State() *SessionStateStore {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// CrossThread returns the shared cross-thread fact store.
func (m *Manager) CrossThread() *CrossThreadStore { return m.crossThread }

// Episodic returns the shared episodic memory store.
func (m *Manager) Episodic() *EpisodicStore { return m.episodic }

// Checkpoints returns the shared checkpointer.
func (m *Manager) Checkpoints() *Checkpointer { return m.checkpoints }

// AppendMessage appends m to the active session's thread, increments the
// turn counter, and creates an auto checkpoint if configured and due.
func (m *Manager) AppendMessage(msg Message) error {
	m.mu.Lock()
	thread, state := m.thread, m.state
	sessionID := m.activeSessionID
	m.mu.Unlock()

	if thread == nil || state == nil {
		return errkind.New(errkind.SessionNotFound).WithContext("no active session")
	}

	if err := thread.Append(msg); err != nil {
		return err
	}
	turn, err := state.IncrementTurn()
	if err != nil {
		return err
	}

	if m.cfg.AutoCheckpoint && m.cfg.CheckpointInterval > 0 && turn%m.cfg.CheckpointInterval == 0 {
		if _, err := m.CreateCheckpoint(sessionID, "auto checkpoint", CheckpointAuto, turn); err != nil {
			m.logger.Warn("auto checkpoint failed", "session", sessionID, "error", err)
		}
	}
	return nil
}

// CreateCheckpoint snapshots the active session's current state.
func (m *Manager) CreateCheckpoint(threadID, description string, trigger CheckpointTrigger, turn int) (CheckpointInfo, error) {
	m.mu.Lock()
	sessionID, thread, history, state := m.activeSessionID, m.thread, m.history, m.state
	m.mu.Unlock()

	if thread == nil || state == nil {
		return CheckpointInfo{}, errkind.New(errkind.SessionNotFound).WithContext("no active session")
	}

	return m.checkpoints.Create(sessionID, threadID, description, trigger, turn,
		state.Get(), thread.Snapshot(), history.All())
}

// RestoreCheckpoint loads checkpoint id and adopts its snapshot as the
// current session's state, opening the session first if needed.
func (m *Manager) RestoreCheckpoint(id string) error {
	cp, err := m.checkpoints.Restore(id)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.activeSessionID != cp.Info.SessionID {
		if err := m.openSessionLocked(cp.Info.SessionID); err != nil {
			return err
		}
	}
	if err := m.thread.Restore(cp.ThreadMessages); err != nil {
		return err
	}
	if err := m.history.Restore(cp.CompressedHistory); err != nil {
		return err
	}
	return m.state.Restore(cp.SessionState)
}

// ListSessions walks the sessions directory and returns a preview for
// each, sorted by updated_at descending. The preview is the first User
// message's content, truncated to 50 characters with a trailing "..." if
// truncated.
func (m *Manager) ListSessions() ([]SessionSummary, error) {
	root := filepath.Join(m.cfg.StorageRoot, "sessions")
	entries, err := os.ReadDir(root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errkind.Wrap(errkind.FileReadFailed, err).WithSource("MemoryManager")
	}

	var out []SessionSummary
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		id := e.Name()
		var state SessionState
		ok, err := readJSONDocument(filepath.Join(root, id, "state.json"), &state)
		if err != nil || !ok {
			continue
		}

		preview := extractPreview(filepath.Join(root, id, "thread.jsonl"))
		out = append(out, SessionSummary{ID: id, Preview: preview, UpdatedAt: state.UpdatedAt})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func extractPreview(threadPath string) string {
	thread, err := OpenThreadMemory(threadPath)
	if err != nil {
		return ""
	}
	for _, m := range thread.All() {
		if m.Role != RoleUser {
			continue
		}
		if len(m.Content) <= sessionPreviewLen {
			return m.Content
		}
		return m.Content[:sessionPreviewLen] + "..."
	}
	return ""
}

// StoreEpisode stores episode in the episodic store.
func (m *Manager) StoreEpisode(episode Episode) (Episode, error) {
	return m.episodic.Store(episode)
}

// EpisodeStartTime is a convenience for callers computing outcome.duration.
func EpisodeStartTime(t time.Time) time.Duration { return time.Since(t) }

// DebugSummary returns a short human-readable summary of the manager's
// current state, useful for logging.
func (m *Manager) DebugSummary() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.activeSessionID == "" {
		return "no active session"
	}
	return fmt.Sprintf("session=%s turn=%d messages=%d", m.activeSessionID, m.state.Get().TurnCounter, m.thread.Len())
}

package memory

import (
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/waddadaa/gpagent/internal/errkind"
	"github.com/waddadaa/gpagent/internal/idgen"
)

// Checkpointer creates and restores point-in-time snapshots of a
// session's SessionState, ThreadMemory, and CompressedHistory. Each
// checkpoint is stored in its own directory named by its id; a flat
// index.json tracks every checkpoint's CheckpointInfo.
type Checkpointer struct {
	mu      sync.Mutex
	dir     string
	indexFn string
	index   []CheckpointInfo
}

// OpenCheckpointer loads the checkpoint index from dir/index.json. A
// parse failure on the index is recovered by starting empty — the index
// is rebuildable from the per-checkpoint directories if needed.
func OpenCheckpointer(dir string) *Checkpointer {
	c := &Checkpointer{dir: dir, indexFn: filepath.Join(dir, "index.json")}
	readJSONDocument(c.indexFn, &c.index)
	return c
}

// Create snapshots the given state into a new checkpoint directory and
// updates the index.
func (c *Checkpointer) Create(
	sessionID, threadID, description string,
	trigger CheckpointTrigger,
	turn int,
	sessionState SessionState,
	thread []Message,
	history []CompressedSpan,
) (CheckpointInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	info := CheckpointInfo{
		ID:               idgen.Checkpoint(),
		SessionID:        sessionID,
		ThreadID:         threadID,
		Timestamp:        time.Now(),
		Description:      description,
		Trigger:          trigger,
		ConversationTurn: turn,
	}

	cp := Checkpoint{
		Info:              info,
		SessionState:      sessionState,
		ThreadMessages:    thread,
		CompressedHistory: history,
	}

	cpDir := filepath.Join(c.dir, info.ID)
	if err := writeJSONDocument(filepath.Join(cpDir, "checkpoint.json"), cp); err != nil {
		return CheckpointInfo{}, errkind.Wrap(errkind.MemorySaveFailed, err).WithSource("Checkpointer")
	}

	c.index = append(c.index, info)
	if err := writeJSONDocument(c.indexFn, c.index); err != nil {
		return CheckpointInfo{}, errkind.Wrap(errkind.MemorySaveFailed, err).WithSource("Checkpointer")
	}
	return info, nil
}

// Restore reads the full Checkpoint bundle for id.
func (c *Checkpointer) Restore(id string) (Checkpoint, error) {
	var cp Checkpoint
	ok, err := readJSONDocument(filepath.Join(c.dir, id, "checkpoint.json"), &cp)
	if err != nil {
		return Checkpoint{}, errkind.Wrap(errkind.MemoryLoadFailed, err).WithSource("Checkpointer")
	}
	if !ok {
		return Checkpoint{}, errkind.New(errkind.CheckpointNotFound).WithContext(id)
	}
	return cp, nil
}

// List returns every checkpoint's info, most recent first.
func (c *Checkpointer) List() []CheckpointInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]CheckpointInfo, len(c.index))
	copy(out, c.index)
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out
}

// ForSession returns checkpoints for sessionID, most recent first.
func (c *Checkpointer) ForSession(sessionID string) []CheckpointInfo {
	all := c.List()
	var out []CheckpointInfo
	for _, info := range all {
		if info.SessionID == sessionID {
			out = append(out, info)
		}
	}
	return out
}

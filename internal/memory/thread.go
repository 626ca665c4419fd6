package memory

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/waddadaa/gpagent/internal/errkind"
)

// ThreadMemory is the ordered sequence of Messages for one session,
// durably appended as one JSON value per line. Safe for concurrent use.
type ThreadMemory struct {
	mu       sync.Mutex
	path     string
	messages []Message
}

// OpenThreadMemory loads an existing thread log from path, or creates an
// empty one if the file does not exist. A parse failure on an existing
// file is fatal — callers of an *active* session should treat this as
// unrecoverable for that session, per the corruption-handling policy.
func OpenThreadMemory(path string) (*ThreadMemory, error) {
	tm := &ThreadMemory{path: path}

	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return tm, nil
	}
	if err != nil {
		return nil, errkind.Wrap(errkind.FileReadFailed, err).WithSource("ThreadMemory")
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var m Message
		if err := json.Unmarshal(line, &m); err != nil {
			return nil, errkind.Wrap(errkind.MemoryCorrupted, err).WithSource("ThreadMemory").WithContext(path)
		}
		tm.messages = append(tm.messages, m)
	}
	if err := scanner.Err(); err != nil {
		return nil, errkind.Wrap(errkind.FileReadFailed, err).WithSource("ThreadMemory")
	}
	return tm, nil
}

// Append adds m to the thread and durably appends it to the JSONL file.
func (tm *ThreadMemory) Append(m Message) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(tm.path), 0o755); err != nil {
		return errkind.Wrap(errkind.FileWriteFailed, err).WithSource("ThreadMemory")
	}

	f, err := os.OpenFile(tm.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return errkind.Wrap(errkind.FileWriteFailed, err).WithSource("ThreadMemory")
	}
	defer f.Close()

	data, err := json.Marshal(m)
	if err != nil {
		return errkind.Wrap(errkind.FileWriteFailed, err).WithSource("ThreadMemory")
	}
	data = append(data, '\n')
	if _, err := f.Write(data); err != nil {
		return errkind.Wrap(errkind.FileWriteFailed, err).WithSource("ThreadMemory")
	}

	tm.messages = append(tm.messages, m)
	return nil
}

// All returns every message in the thread, oldest first.
func (tm *ThreadMemory) All() []Message {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	out := make([]Message, len(tm.messages))
	copy(out, tm.messages)
	return out
}

// Len returns the number of messages currently held in memory.
func (tm *ThreadMemory) Len() int {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return len(tm.messages)
}

// LastN returns the last n messages (or all of them if n exceeds the
// thread length).
func (tm *ThreadMemory) LastN(n int) []Message {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if n <= 0 {
		return nil
	}
	start := len(tm.messages) - n
	if start < 0 {
		start = 0
	}
	out := make([]Message, len(tm.messages)-start)
	copy(out, tm.messages[start:])
	return out
}

// Range returns messages [start, end).
func (tm *ThreadMemory) Range(start, end int) []Message {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if start < 0 {
		start = 0
	}
	if end > len(tm.messages) {
		end = len(tm.messages)
	}
	if start >= end {
		return nil
	}
	out := make([]Message, end-start)
	copy(out, tm.messages[start:end])
	return out
}

// TrimKeepLastN rewrites the in-memory thread (and its backing file) to
// retain only the last n messages. Used by the Compactor after a batch
// of earlier messages has been folded into CompressedHistory.
func (tm *ThreadMemory) TrimKeepLastN(n int) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	start := len(tm.messages) - n
	if start <= 0 {
		return nil
	}
	kept := make([]Message, len(tm.messages)-start)
	copy(kept, tm.messages[start:])

	if err := tm.rewriteLocked(kept); err != nil {
		return err
	}
	tm.messages = kept
	return nil
}

func (tm *ThreadMemory) rewriteLocked(messages []Message) error {
	if err := os.MkdirAll(filepath.Dir(tm.path), 0o755); err != nil {
		return errkind.Wrap(errkind.FileWriteFailed, err).WithSource("ThreadMemory")
	}
	tmp := tm.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return errkind.Wrap(errkind.FileWriteFailed, err).WithSource("ThreadMemory")
	}
	w := bufio.NewWriter(f)
	for _, m := range messages {
		data, err := json.Marshal(m)
		if err != nil {
			f.Close()
			return errkind.Wrap(errkind.FileWriteFailed, err).WithSource("ThreadMemory")
		}
		w.Write(data)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return errkind.Wrap(errkind.FileWriteFailed, err).WithSource("ThreadMemory")
	}
	if err := f.Close(); err != nil {
		return errkind.Wrap(errkind.FileWriteFailed, err).WithSource("ThreadMemory")
	}
	return os.Rename(tmp, tm.path)
}

// Snapshot returns a copy of the current message slice, for checkpointing.
// The copy is shallow: each message's ToolCalls and Attachments are shared
// with the thread.
func (tm *ThreadMemory) Snapshot() []Message {
	return tm.All()
}

// Restore replaces the thread's contents with messages and rewrites the
// backing file, used when restoring from a checkpoint.
func (tm *ThreadMemory) Restore(messages []Message) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if err := tm.rewriteLocked(messages); err != nil {
		return err
	}
	tm.messages = append([]Message(nil), messages...)
	return nil
}

package context

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/waddadaa/gpagent/internal/memory"
)

func TestShouldCompactRequiresBothConditions(t *testing.T) {
	c := NewCompactor(nil, CompactorConfig{CompactionThreshold: 1000000, KeepRawTurns: 2}, nil)

	var messages []memory.Message
	for i := 0; i < 2; i++ {
		messages = append(messages, memory.Message{Role: memory.RoleUser, Content: "short", Timestamp: time.Now()})
	}
	if c.ShouldCompact(messages) {
		t.Error("expected no compaction: below keep_raw_turns*2 count")
	}

	for i := 0; i < 10; i++ {
		messages = append(messages, memory.Message{Role: memory.RoleUser, Content: "short", Timestamp: time.Now()})
	}
	if c.ShouldCompact(messages) {
		t.Error("expected no compaction: token estimate still below threshold")
	}
}

func TestShouldCompactTriggersOverThreshold(t *testing.T) {
	c := NewCompactor(nil, CompactorConfig{CompactionThreshold: 5, KeepRawTurns: 1}, nil)

	var messages []memory.Message
	for i := 0; i < 10; i++ {
		messages = append(messages, memory.Message{
			Role:      memory.RoleUser,
			Content:   "this is a reasonably long message to push past the token threshold",
			Timestamp: time.Now(),
		})
	}
	if !c.ShouldCompact(messages) {
		t.Error("expected compaction to trigger above threshold with more than keep_raw messages")
	}
}

func TestCompactSkipsFailedBatchAndContinues(t *testing.T) {
	// gateway is nil, so every batch's summarizer call fails; Compact
	// should still trim the thread to the keep-raw window without error.
	c := NewCompactor(nil, CompactorConfig{KeepRawTurns: 1, SummarizeBatch: 2}, nil)

	dir := t.TempDir()
	thread, _ := memory.OpenThreadMemory(filepath.Join(dir, "thread.jsonl"))
	history, _ := memory.OpenCompressedHistory(filepath.Join(dir, "history.json"))
	for i := 0; i < 6; i++ {
		thread.Append(memory.Message{Role: memory.RoleUser, Content: "m", Timestamp: time.Now()})
	}

	if err := c.Compact(nil, thread, history, 0); err != nil {
		t.Fatalf("Compact: %v", err)
	}
	if thread.Len() != 2 {
		t.Fatalf("thread len = %d, want 2 (keep_raw_turns=1 * 2)", thread.Len())
	}
	if len(history.All()) != 0 {
		t.Errorf("expected no successful summaries with nil gateway, got %d", len(history.All()))
	}
}

package llm

import (
	"testing"
	"time"
)

func TestFormatMessagesDropsOrphanToolMessages(t *testing.T) {
	messages := []Message{
		{Role: RoleUser, Content: "turn on the lights"},
		{
			Role: RoleAssistant,
			ToolCalls: []ToolCall{
				{ID: "tc_1", Name: "control_device", Arguments: map[string]any{"entity": "light.kitchen"}},
			},
		},
		{Role: RoleTool, Content: "ok", ToolCallID: "tc_1"},
		{Role: RoleTool, Content: "leftover from a prior turn", ToolCallID: "tc_stale"},
		{Role: RoleAssistant, Content: "Done."},
	}

	out := FormatMessages(messages)

	if len(out) != 4 {
		t.Fatalf("expected orphan tool message dropped, got %d messages", len(out))
	}
	for _, m := range out {
		if m.Role == RoleTool && m.ToolCallID == "tc_stale" {
			t.Fatal("orphan tool message with id tc_stale should have been dropped")
		}
	}
}

func TestFormatMessagesPreservesOrderForMultipleToolCalls(t *testing.T) {
	messages := []Message{
		{Role: RoleUser, Content: "check both lights"},
		{
			Role: RoleAssistant,
			ToolCalls: []ToolCall{
				{ID: "tc_1", Name: "get_state"},
				{ID: "tc_2", Name: "get_state"},
			},
		},
		{Role: RoleTool, Content: "on", ToolCallID: "tc_1"},
		{Role: RoleTool, Content: "off", ToolCallID: "tc_2"},
		{Role: RoleAssistant, Content: "Kitchen is on, bedroom is off."},
	}

	out := FormatMessages(messages)
	if len(out) != len(messages) {
		t.Fatalf("expected no messages dropped, got %d of %d", len(out), len(messages))
	}
	for i, m := range messages {
		if out[i].Role != m.Role || out[i].ToolCallID != m.ToolCallID {
			t.Fatalf("message order changed at index %d", i)
		}
	}
}

func TestFormatMessagesEmpty(t *testing.T) {
	if out := FormatMessages(nil); len(out) != 0 {
		t.Errorf("expected empty output for nil input, got %d", len(out))
	}
}

func TestResponseZeroValueSafe(t *testing.T) {
	var resp Response
	if resp.StopReason != "" {
		t.Error("zero Response.StopReason should be empty")
	}
	if resp.Usage.InputTokens != 0 || resp.Usage.OutputTokens != 0 {
		t.Error("zero Response.Usage should be zero")
	}
}

func TestUsageArithmetic(t *testing.T) {
	u := Usage{InputTokens: 100, OutputTokens: 25}
	total := u.InputTokens + u.OutputTokens
	if total != 125 {
		t.Errorf("total = %d, want 125", total)
	}
}

func TestMessageTimestamp(t *testing.T) {
	now := time.Now()
	m := Message{Role: RoleUser, Content: "hi", Timestamp: now}
	if !m.Timestamp.Equal(now) {
		t.Error("Timestamp not preserved")
	}
}

package context

import (
	"testing"
	"time"

	"github.com/waddadaa/gpagent/internal/llm"
	"github.com/waddadaa/gpagent/internal/memory"
)

func TestEstimateTokens(t *testing.T) {
	got := EstimateTokens("0123456789")
	n := 10.0
	want := int(n/charsPerToken + 0.5)
	if got != want {
		t.Errorf("EstimateTokens = %d, want %d", got, want)
	}
}

func TestBuildAssemblesLayersInOrder(t *testing.T) {
	in := Inputs{
		BaseSystemPrompt: "You are an agent.",
		UserMemory:       "likes dark mode",
		ProjectMemory:    "uses Go",
		CurrentTask:      "fix the bug",
		MaxTokens:        100000,
	}
	win, err := Build(in)
	if err != nil {
		t.Fatalf("Build error: %v", err)
	}

	idxUser := indexOf(win.SystemPrompt, "## User Memory")
	idxProject := indexOf(win.SystemPrompt, "## Project Memory")
	idxTask := indexOf(win.SystemPrompt, "## Current Task")
	if idxUser < 0 || idxProject < 0 || idxTask < 0 {
		t.Fatalf("missing expected layer headers in: %s", win.SystemPrompt)
	}
	if !(idxUser < idxProject && idxProject < idxTask) {
		t.Errorf("layers out of order: user=%d project=%d task=%d", idxUser, idxProject, idxTask)
	}
}

func TestBuildSkipsEmptyLayers(t *testing.T) {
	win, err := Build(Inputs{BaseSystemPrompt: "base", MaxTokens: 1000})
	if err != nil {
		t.Fatalf("Build error: %v", err)
	}
	if indexOf(win.SystemPrompt, "## User Memory") >= 0 {
		t.Error("expected empty User Memory layer to be omitted")
	}
}

func TestBuildRejectsOversizedWindow(t *testing.T) {
	big := make([]byte, 100000)
	for i := range big {
		big[i] = 'x'
	}
	_, err := Build(Inputs{BaseSystemPrompt: string(big), MaxTokens: 10})
	if err == nil {
		t.Fatal("expected ContextTooLarge error")
	}
}

func TestBuildKeepsOnlyRecentMessages(t *testing.T) {
	var messages []memory.Message
	for i := 0; i < 20; i++ {
		messages = append(messages, memory.Message{Role: memory.RoleUser, Content: "m", Timestamp: time.Now()})
	}
	win, err := Build(Inputs{
		BaseSystemPrompt: "base",
		RecentMessages:   messages,
		KeepRawTurns:     3,
		MaxTokens:        100000,
	})
	if err != nil {
		t.Fatalf("Build error: %v", err)
	}
	if len(win.Messages) != 6 {
		t.Fatalf("messages = %d, want 6 (keep_raw_turns=3 * 2)", len(win.Messages))
	}
}

func TestRenderEpisodesCapsAtThree(t *testing.T) {
	episodes := []EpisodeHint{
		{TaskDescription: "a", Success: true, Tools: []string{"t1"}},
		{TaskDescription: "b", Success: false, Tools: []string{"t2"}},
		{TaskDescription: "c", Success: true, Tools: []string{"t3"}},
		{TaskDescription: "d", Success: true, Tools: []string{"t4"}},
	}
	out := renderEpisodes(episodes)
	if idx := indexOf(out, "Task: d"); idx >= 0 {
		t.Error("expected 4th episode to be excluded from rendering")
	}
}

func TestToLLMMessagePreservesToolCalls(t *testing.T) {
	m := memory.Message{
		Role: memory.RoleAssistant,
		ToolCalls: []memory.ToolCall{
			{ID: "tc_1", Name: "read_file", Arguments: map[string]any{"path": "a.go"}},
		},
	}
	out := toLLMMessage(m)
	if out.Role != llm.RoleAssistant {
		t.Errorf("role = %v, want assistant", out.Role)
	}
	if len(out.ToolCalls) != 1 || out.ToolCalls[0].ID != "tc_1" {
		t.Errorf("tool calls not preserved: %+v", out.ToolCalls)
	}
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}

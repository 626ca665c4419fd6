package agent

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/waddadaa/gpagent/internal/config"
	"github.com/waddadaa/gpagent/internal/events"
	"github.com/waddadaa/gpagent/internal/llm"
	"github.com/waddadaa/gpagent/internal/memory"
	"github.com/waddadaa/gpagent/internal/tools"
	"github.com/waddadaa/gpagent/internal/usage"
)

// fakeProvider is a scripted Provider: each call to Complete pops the next
// queued response (or repeats the last one once the queue is drained).
type fakeProvider struct {
	responses []llm.Response
	calls     int
}

func (f *fakeProvider) Name() string     { return "fake" }
func (f *fakeProvider) IsAvailable() bool { return true }

func (f *fakeProvider) Complete(_ context.Context, _ llm.Request) (llm.Response, error) {
	idx := f.calls
	if idx >= len(f.responses) {
		idx = len(f.responses) - 1
	}
	f.calls++
	return f.responses[idx], nil
}

func (f *fakeProvider) Stream(ctx context.Context, req llm.Request, _ llm.StreamCallback) (llm.Response, error) {
	return f.Complete(ctx, req)
}

func newTestOrchestrator(t *testing.T, provider llm.Provider) (*Orchestrator, *memory.Manager) {
	t.Helper()

	mgr := memory.NewManager(memory.ManagerConfig{StorageRoot: t.TempDir()}, nil)
	if err := mgr.StartSession("sess_test"); err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	reg := tools.NewRegistry()
	if err := reg.Register(llm.ToolSpec{
		Name:        "echo",
		Description: "echoes its input back",
		Parameters: []llm.Parameter{
			{Name: "text", Type: llm.ParamString, Required: true},
		},
	}, func(_ context.Context, args map[string]any) (string, error) {
		text, _ := args["text"].(string)
		return fmt.Sprintf("echo: %s", text), nil
	}, "test"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	exec := tools.NewExecutor(reg, 2)

	gw := llm.NewGateway(provider, nil, nil, nil)

	agentCfg := config.AgentConfig{
		MaxTurnsPerTask: 5,
		SystemPrompt:    "you are a test agent",
	}
	ctxCfg := config.ContextConfig{MaxTokens: 50000, KeepRawTurns: 10, ReservedForResponse: 1000}
	trmCfg := config.TRMConfig{MinEpisodesBeforeTraining: 1000}

	o := New(agentCfg, config.LLMConfig{}, ctxCfg, trmCfg, gw, reg, exec, mgr, nil, nil, events.New(), slog.Default())
	if err := o.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return o, mgr
}

func TestProcessRejectsConcurrentCalls(t *testing.T) {
	o, _ := newTestOrchestrator(t, &fakeProvider{responses: []llm.Response{{Content: "hi"}}})
	o.state.Store(int32(StateProcessing))

	_, err := o.Process(context.Background(), "hello")
	if err == nil {
		t.Fatal("expected InvalidState error when already busy")
	}
}

func TestProcessImmediateAnswerFinalizesEpisode(t *testing.T) {
	o, mgr := newTestOrchestrator(t, &fakeProvider{
		responses: []llm.Response{{Content: "the answer is 4"}},
	})

	content, err := o.Process(context.Background(), "what is 2+2?")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if content != "the answer is 4" {
		t.Fatalf("content = %q, want %q", content, "the answer is 4")
	}
	if o.State() != StateIdle {
		t.Fatalf("state = %v, want Idle", o.State())
	}

	episodes, err := mgr.Episodic().All()
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(episodes) != 1 {
		t.Fatalf("expected 1 stored episode, got %d", len(episodes))
	}
	if !episodes[0].Outcome.Success {
		t.Error("expected a successful outcome")
	}
}

func TestProcessExecutesToolCallThenAnswers(t *testing.T) {
	o, mgr := newTestOrchestrator(t, &fakeProvider{
		responses: []llm.Response{
			{
				Content: "",
				ToolCalls: []llm.ToolCall{
					{ID: "tc_1", Name: "echo", Arguments: map[string]any{"text": "ping"}},
				},
			},
			{Content: "done"},
		},
	})

	content, err := o.Process(context.Background(), "echo ping for me")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if content != "done" {
		t.Fatalf("content = %q, want %q", content, "done")
	}

	messages := mgr.Thread().All()
	var sawToolCall, sawToolResult bool
	for _, m := range messages {
		if m.Role == memory.RoleAssistant && len(m.ToolCalls) > 0 {
			sawToolCall = true
		}
		if m.Role == memory.RoleTool && m.ToolCallID == "tc_1" {
			sawToolResult = true
			if m.Content != "echo: ping" {
				t.Errorf("tool result content = %q, want %q", m.Content, "echo: ping")
			}
		}
	}
	if !sawToolCall {
		t.Error("expected an assistant message carrying tool_calls")
	}
	if !sawToolResult {
		t.Error("expected a tool result message for tc_1")
	}

	episodes, _ := mgr.Episodic().All()
	if len(episodes) != 1 || len(episodes[0].Actions) != 1 {
		t.Fatalf("expected 1 episode with 1 recorded action, got %+v", episodes)
	}
}

func TestProcessToolFailureIsNotFatal(t *testing.T) {
	o, mgr := newTestOrchestrator(t, &fakeProvider{
		responses: []llm.Response{
			{
				ToolCalls: []llm.ToolCall{
					{ID: "tc_1", Name: "missing_tool", Arguments: map[string]any{}},
				},
			},
			{Content: "recovered"},
		},
	})

	content, err := o.Process(context.Background(), "call a tool that doesn't exist")
	if err != nil {
		t.Fatalf("Process returned an error for a tool failure, want recovery: %v", err)
	}
	if content != "recovered" {
		t.Fatalf("content = %q, want %q", content, "recovered")
	}

	episodes, _ := mgr.Episodic().All()
	if len(episodes) != 1 || episodes[0].Actions[0].Success {
		t.Fatalf("expected 1 failed recorded action, got %+v", episodes[0].Actions)
	}
	if episodes[0].Actions[0].Error == "" {
		t.Error("expected a non-empty error on the failed action")
	}

	var sawErrorContent bool
	for _, m := range mgr.Thread().All() {
		if m.Role == memory.RoleTool && m.ToolCallID == "tc_1" && m.Content != "" {
			sawErrorContent = true
		}
	}
	if !sawErrorContent {
		t.Error("expected the tool error text to appear as the Tool message content")
	}
}

func TestProcessHitsMaxTurnsAsSoftFailure(t *testing.T) {
	resp := llm.Response{
		Content: "still working",
		ToolCalls: []llm.ToolCall{
			{ID: "tc_loop", Name: "echo", Arguments: map[string]any{"text": "x"}},
		},
	}
	o, _ := newTestOrchestrator(t, &fakeProvider{responses: []llm.Response{resp}})

	content, err := o.Process(context.Background(), "loop forever")
	if err != nil {
		t.Fatalf("max-turns should be a soft failure, not an error: %v", err)
	}
	if content != "still working" {
		t.Fatalf("content = %q, want last seen content %q", content, "still working")
	}
	if o.State() != StateIdle {
		t.Fatalf("state = %v, want Idle after a soft max-turns failure", o.State())
	}
}

func TestFinalizeEpisodeNoopWithoutCurrentTask(t *testing.T) {
	o, mgr := newTestOrchestrator(t, &fakeProvider{responses: []llm.Response{{Content: "x"}}})
	o.finalizeEpisode(true, "x", nil)

	episodes, _ := mgr.Episodic().All()
	if len(episodes) != 0 {
		t.Fatalf("expected no episode stored when no task was in progress, got %d", len(episodes))
	}
}

func TestAugmentSystemPromptWithTRMNoopWhenDisabled(t *testing.T) {
	o, _ := newTestOrchestrator(t, &fakeProvider{responses: []llm.Response{{Content: "x"}}})
	o.cfg.UseTRMRecommendations = false
	got := o.augmentSystemPromptWithTRM("base prompt")
	if got != "base prompt" {
		t.Fatalf("expected unaugmented prompt, got %q", got)
	}
}

func TestRetrieveEpisodeHintsEmptyWithNoHistory(t *testing.T) {
	o, _ := newTestOrchestrator(t, &fakeProvider{responses: []llm.Response{{Content: "x"}}})
	hints := o.retrieveEpisodeHints("anything")
	if len(hints) != 0 {
		t.Fatalf("expected no hints against empty episodic memory, got %d", len(hints))
	}
}

func TestProcessRecordsUsageWhenLedgerEnabled(t *testing.T) {
	o, _ := newTestOrchestrator(t, &fakeProvider{
		responses: []llm.Response{{
			Content: "the answer is 4",
			Model:   "claude-opus-4-5-20251101",
			Usage:   llm.Usage{InputTokens: 100, OutputTokens: 50},
		}},
	})

	store, err := usage.NewStore(filepath.Join(t.TempDir(), "usage_test.db"))
	if err != nil {
		t.Fatalf("usage.NewStore: %v", err)
	}
	defer store.Close()
	o.EnableUsageTracking(store, config.Default().Pricing)

	if _, err := o.Process(context.Background(), "what is 2+2?"); err != nil {
		t.Fatalf("Process: %v", err)
	}

	now := time.Now().UTC()
	sum, err := store.Summary(now.Add(-time.Minute), now.Add(time.Minute))
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if sum.TotalRecords != 1 {
		t.Fatalf("TotalRecords = %d, want 1", sum.TotalRecords)
	}
	if sum.TotalInputTokens != 100 || sum.TotalOutputTokens != 50 {
		t.Fatalf("tokens = %d/%d, want 100/50", sum.TotalInputTokens, sum.TotalOutputTokens)
	}
	if sum.TotalCostUSD <= 0 {
		t.Error("expected a positive computed cost for a priced model")
	}
}

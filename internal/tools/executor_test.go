package tools

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/waddadaa/gpagent/internal/llm"
)

func callFor(name string, args map[string]any) Call {
	return Call{ToolCall: llm.ToolCall{Name: name, Arguments: args}}
}

func TestExecutorExecuteSuccess(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(echoSpec("echo"), echoHandler, "builtin")
	e := NewExecutor(r, 4)

	result, err := e.Execute(context.Background(), callFor("echo", map[string]any{"text": "hi"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Success || result.Output != "hi" {
		t.Fatalf("unexpected result: %+v", result)
	}

	stats := e.Stats()
	if stats.Total != 1 || stats.Successful != 1 || stats.Failed != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestExecutorBatchPreservesInputOrder(t *testing.T) {
	r := NewRegistry()
	for i := 0; i < 5; i++ {
		name := fmt.Sprintf("tool%d", i)
		_ = r.Register(echoSpec(name), echoHandler, "builtin")
	}
	e := NewExecutor(r, 2)

	calls := make([]Call, 5)
	for i := range calls {
		name := fmt.Sprintf("tool%d", i)
		calls[i] = callFor(name, map[string]any{"text": name})
	}

	results := e.ExecuteBatch(context.Background(), calls)
	if len(results) != len(calls) {
		t.Fatalf("expected %d results, got %d", len(calls), len(results))
	}
	for i, result := range results {
		want := fmt.Sprintf("tool%d", i)
		if result.Name != want || result.Output != want {
			t.Fatalf("result[%d] out of order: %+v", i, result)
		}
	}
}

func TestExecutorBatchCapsConcurrency(t *testing.T) {
	r := NewRegistry()
	maxSeen := make(chan int, 1)
	maxSeen <- 0

	inflight := make(chan struct{}, 100)
	slow := func(ctx context.Context, args map[string]any) (string, error) {
		inflight <- struct{}{}
		time.Sleep(20 * time.Millisecond)
		cur := len(inflight)
		m := <-maxSeen
		if cur > m {
			m = cur
		}
		maxSeen <- m
		<-inflight
		return "done", nil
	}
	for i := 0; i < 6; i++ {
		_ = r.Register(echoSpec(fmt.Sprintf("slow%d", i)), slow, "builtin")
	}

	e := NewExecutor(r, 2)
	calls := make([]Call, 6)
	for i := range calls {
		calls[i] = callFor(fmt.Sprintf("slow%d", i), map[string]any{"text": "x"})
	}
	e.ExecuteBatch(context.Background(), calls)

	observed := <-maxSeen
	if observed > 2 {
		t.Fatalf("expected at most 2 concurrent dispatches, observed %d", observed)
	}
}

func TestExecutorTimeoutRecordsTimeoutStat(t *testing.T) {
	r := NewRegistry()
	blocking := func(ctx context.Context, args map[string]any) (string, error) {
		time.Sleep(50 * time.Millisecond)
		return "too late", nil
	}
	_ = r.Register(echoSpec("slow"), blocking, "builtin")
	e := NewExecutor(r, 1)

	result, err := e.ExecuteWithTimeout(context.Background(), callFor("slow", map[string]any{"text": "x"}), 5*time.Millisecond)
	if err == nil {
		t.Fatal("expected a timeout error")
	}
	if result.Success {
		t.Fatal("expected an unsuccessful result on timeout")
	}

	stats := e.Stats()
	if stats.Timeouts != 1 {
		t.Fatalf("expected 1 recorded timeout, got %+v", stats)
	}
}

func TestExecutorTimeoutNotHitOnFastHandler(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(echoSpec("echo"), echoHandler, "builtin")
	e := NewExecutor(r, 1)

	result, err := e.ExecuteWithTimeout(context.Background(), callFor("echo", map[string]any{"text": "hi"}), 100*time.Millisecond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Success || result.Output != "hi" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestExecutorStatsAccumulateFailures(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(echoSpec("echo"), echoHandler, "builtin")
	e := NewExecutor(r, 4)

	// Missing required argument -> validation failure, Execute returns an error.
	_, _ = e.Execute(context.Background(), callFor("echo", map[string]any{}))
	_, _ = e.Execute(context.Background(), callFor("echo", map[string]any{"text": "ok"}))

	stats := e.Stats()
	if stats.Total != 2 || stats.Successful != 1 || stats.Failed != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestNewExecutorClampsMinimumParallelism(t *testing.T) {
	r := NewRegistry()
	e := NewExecutor(r, 0)
	if cap(e.sem) != 1 {
		t.Fatalf("expected pool size to clamp to 1, got %d", cap(e.sem))
	}
}

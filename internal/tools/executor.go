package tools

import (
	"context"
	"sync"
	"time"

	"github.com/waddadaa/gpagent/internal/errkind"
	"github.com/waddadaa/gpagent/internal/llm"
)

// Call is one tool invocation request, as the model emits it.
type Call struct {
	llm.ToolCall
	Context ToolContext
}

// Stats tracks lifetime Executor activity, lock-protected for
// concurrent worker access.
type Stats struct {
	Total      int64
	Successful int64
	Failed     int64
	Timeouts   int64
	TotalTime  time.Duration
}

// Executor runs tool calls through a Registry over a fixed-size worker
// pool, preserving input order across batches and recording aggregate
// stats.
type Executor struct {
	registry *Registry
	sem      chan struct{}

	mu    sync.Mutex
	stats Stats
}

// NewExecutor creates an Executor bound to registry, with a worker pool
// capped at maxParallel concurrent dispatches (minimum 1).
func NewExecutor(registry *Registry, maxParallel int) *Executor {
	if maxParallel < 1 {
		maxParallel = 1
	}
	return &Executor{registry: registry, sem: make(chan struct{}, maxParallel)}
}

// Execute runs a single call synchronously through the registry. A call
// the registry rejects outright (unknown tool, disabled tool, bad
// arguments) comes back as a bare error rather than a populated
// ToolResult; Execute folds that error into the result so callers that
// only look at ToolResult (e.g. building a Tool message) still see it.
func (e *Executor) Execute(ctx context.Context, call Call) (ToolResult, error) {
	e.sem <- struct{}{}
	defer func() { <-e.sem }()

	result, err := e.registry.Execute(ctx, call.Name, call.Arguments, call.Context)
	if err != nil && result.Error == "" {
		result.Name = call.Name
		result.Error = err.Error()
	}
	e.record(result, err)
	return result, err
}

// ExecuteBatch submits every call to the worker pool, capped at the
// pool's concurrency limit in flight, and returns results in the same
// order as calls — callers depend on positional alignment with the
// originating tool-call list, so results are written into a
// pre-sized slice by index rather than appended as they complete.
func (e *Executor) ExecuteBatch(ctx context.Context, calls []Call) []ToolResult {
	results := make([]ToolResult, len(calls))
	var wg sync.WaitGroup
	wg.Add(len(calls))

	for i, call := range calls {
		go func(i int, call Call) {
			defer wg.Done()
			result, _ := e.Execute(ctx, call)
			results[i] = result
		}(i, call)
	}

	wg.Wait()
	return results
}

// ExecuteWithTimeout submits call to the pool and waits up to timeout
// for it to complete. If the timeout elapses first, a Timeout result is
// recorded and returned — this bounds the caller's wait only; it does
// not cancel the handler, which may still be running.
func (e *Executor) ExecuteWithTimeout(ctx context.Context, call Call, timeout time.Duration) (ToolResult, error) {
	type outcome struct {
		result ToolResult
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		result, err := e.Execute(ctx, call)
		done <- outcome{result, err}
	}()

	select {
	case o := <-done:
		return o.result, o.err
	case <-time.After(timeout):
		e.mu.Lock()
		e.stats.Total++
		e.stats.Timeouts++
		e.mu.Unlock()
		return ToolResult{Name: call.Name, Success: false, Error: "tool execution timed out"},
			errkind.New(errkind.ToolTimeout).WithContext(call.Name)
	}
}

func (e *Executor) record(result ToolResult, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stats.Total++
	e.stats.TotalTime += result.Duration
	if err != nil || !result.Success {
		e.stats.Failed++
		return
	}
	e.stats.Successful++
}

// Stats returns a snapshot of the executor's lifetime statistics.
func (e *Executor) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

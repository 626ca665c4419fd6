package llm

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/waddadaa/gpagent/internal/errkind"
)

// Config selects which providers the Gateway wires up and under which
// model ids.
type Config struct {
	PrimaryProvider     string
	PrimaryModel        string
	FallbackProvider    string
	FallbackModel       string
	SummarizationModel  string // empty disables a dedicated summarizer
}

// UsageStats aggregates token and request counters across the Gateway's
// lifetime, reset only by ResetStats.
type UsageStats struct {
	TotalInputTokens  int64
	TotalOutputTokens int64
	TotalLatency      time.Duration
	Requests          int64
	Failures          int64
}

// Gateway holds a primary/fallback/summarizer provider trio and implements
// the failover algorithm: try primary; on a retriable error with an
// available fallback, retry once on fallback; otherwise propagate.
type Gateway struct {
	primary    Provider
	fallback   Provider
	summarizer Provider

	logger *slog.Logger

	mu    sync.Mutex
	stats UsageStats
}

// NewGateway builds a Gateway from already-constructed providers. fallback
// and summarizer may be nil. If summarizer is nil, Summarizer() returns
// primary, matching the original's "use primary provider, different model"
// convention.
func NewGateway(primary, fallback, summarizer Provider, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		primary:    primary,
		fallback:   fallback,
		summarizer: summarizer,
		logger:     logger.With("component", "llm_gateway"),
	}
}

// Primary returns the primary provider handle.
func (g *Gateway) Primary() Provider { return g.primary }

// Fallback returns the fallback provider handle, or nil if none configured.
func (g *Gateway) Fallback() Provider { return g.fallback }

// Summarizer returns the summarizer provider handle, falling back to
// primary if no dedicated summarizer was configured.
func (g *Gateway) Summarizer() Provider {
	if g.summarizer != nil {
		return g.summarizer
	}
	return g.primary
}

// IsAvailable reports whether either the primary or fallback provider has
// credentials configured.
func (g *Gateway) IsAvailable() bool {
	if g.primary != nil && g.primary.IsAvailable() {
		return true
	}
	if g.fallback != nil && g.fallback.IsAvailable() {
		return true
	}
	return false
}

// Complete tries the primary provider, falling back once on a retriable
// error if a fallback provider is configured and available.
func (g *Gateway) Complete(ctx context.Context, req Request) (Response, error) {
	return g.dispatch(ctx, req, nil)
}

// Stream behaves like Complete but forwards incremental events to callback.
func (g *Gateway) Stream(ctx context.Context, req Request, callback StreamCallback) (Response, error) {
	return g.dispatch(ctx, req, callback)
}

func (g *Gateway) dispatch(ctx context.Context, req Request, callback StreamCallback) (Response, error) {
	if g.primary == nil {
		return Response{}, errkind.New(errkind.LLMProviderUnavailable).WithContext("no LLM provider configured")
	}

	call := func(p Provider) (Response, error) {
		if callback != nil {
			return p.Stream(ctx, req, callback)
		}
		return p.Complete(ctx, req)
	}

	if g.primary.IsAvailable() {
		resp, err := call(g.primary)
		if err == nil {
			g.recordRequest(resp)
			return resp, nil
		}

		if isRetriable(err) && g.fallback != nil && g.fallback.IsAvailable() {
			g.logger.Warn("primary provider failed, retrying on fallback",
				"primary", g.primary.Name(), "fallback", g.fallback.Name(), "error", err)
			fbResp, fbErr := call(g.fallback)
			if fbErr == nil {
				g.recordRequest(fbResp)
				return fbResp, nil
			}
			g.recordFailure()
			return Response{}, fbErr
		}

		g.recordFailure()
		return Response{}, err
	}

	// Primary not available, try fallback directly.
	if g.fallback != nil && g.fallback.IsAvailable() {
		resp, err := call(g.fallback)
		if err != nil {
			g.recordFailure()
			return Response{}, err
		}
		g.recordRequest(resp)
		return resp, nil
	}

	return Response{}, errkind.New(errkind.LLMProviderUnavailable).WithContext("no LLM provider available")
}

// isRetriable classifies an error returned by a Provider as retriable,
// consulting the shared errkind taxonomy when the error carries one.
func isRetriable(err error) bool {
	if ek, ok := errkind.As(err); ok {
		return ek.IsRetriable()
	}
	return false
}

func (g *Gateway) recordRequest(resp Response) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stats.TotalInputTokens += int64(resp.Usage.InputTokens)
	g.stats.TotalOutputTokens += int64(resp.Usage.OutputTokens)
	g.stats.TotalLatency += resp.Latency
	g.stats.Requests++
}

func (g *Gateway) recordFailure() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stats.Failures++
}

// Stats returns a snapshot of the Gateway's aggregate usage counters.
func (g *Gateway) Stats() UsageStats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stats
}

// ResetStats zeroes the aggregate usage counters.
func (g *Gateway) ResetStats() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stats = UsageStats{}
}

// FormatMessages enforces the tool-call integrity requirement shared by
// every provider: collect every ToolCall id that appears in an Assistant
// message, drop any Tool message whose ToolCallID is not among them
// (orphans), and preserve message order otherwise. Providers call this
// before converting to their own wire format.
func FormatMessages(messages []Message) []Message {
	knownIDs := make(map[string]bool)
	for _, m := range messages {
		if m.Role != RoleAssistant {
			continue
		}
		for _, tc := range m.ToolCalls {
			knownIDs[tc.ID] = true
		}
	}

	out := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == RoleTool && !knownIDs[m.ToolCallID] {
			continue // orphan tool result, no preceding Assistant tool call
		}
		out = append(out, m)
	}
	return out
}

package context

import (
	gocontext "context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/waddadaa/gpagent/internal/errkind"
	"github.com/waddadaa/gpagent/internal/llm"
	"github.com/waddadaa/gpagent/internal/memory"
)

// summarizationSystemPrompt is the fixed instruction sent to the
// summarizer provider for each compaction batch.
const summarizationSystemPrompt = "Summarize the following conversation excerpt. " +
	"Capture decisions, outcomes, and pending items. No preamble."

// CompactorConfig configures when and how the Compactor folds older
// thread messages into CompressedHistory.
type CompactorConfig struct {
	CompactionThreshold int
	KeepRawTurns        int
	SummarizeBatch      int
}

// Compactor summarizes older ThreadMemory messages into CompressedHistory
// batches when the thread grows past its token budget, grounded on the
// same periodic-batch-worker shape the teacher used for background
// session-summary generation (timeout per call, skip-and-continue on
// failure, no retry loop).
type Compactor struct {
	gateway *llm.Gateway
	cfg     CompactorConfig
	logger  *slog.Logger
}

// NewCompactor creates a Compactor that calls gateway.Summarizer() for
// each batch.
func NewCompactor(gateway *llm.Gateway, cfg CompactorConfig, logger *slog.Logger) *Compactor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Compactor{gateway: gateway, cfg: cfg, logger: logger}
}

// ShouldCompact reports whether the thread's estimated message-area
// tokens exceed the threshold AND there are more messages than the raw
// retention window — the exact two-part trigger condition.
func (c *Compactor) ShouldCompact(messages []memory.Message) bool {
	keepRaw := c.cfg.KeepRawTurns * 2
	if len(messages) <= keepRaw {
		return false
	}
	total := 0
	for _, m := range messages {
		total += EstimateMessageTokens(toLLMMessage(m))
	}
	return total > c.cfg.CompactionThreshold
}

// Compact summarizes messages[0 : total-keepRaw) in batches of
// summarize_batch, appending each batch's summary to history and
// trimming thread to the last keep_raw_turns*2 messages. A batch whose
// summarization call fails is skipped; remaining batches still run —
// this is a best-effort pass, not an all-or-nothing transaction, and is
// invoked at most once per call_llm turn (no re-trigger loop).
func (c *Compactor) Compact(ctx gocontext.Context, thread *memory.ThreadMemory, history *memory.CompressedHistoryStore, startTurn int) error {
	messages := thread.All()
	keepRaw := c.cfg.KeepRawTurns * 2
	boundary := len(messages) - keepRaw
	if boundary <= 0 {
		return nil
	}

	batchSize := c.cfg.SummarizeBatch
	if batchSize <= 0 {
		batchSize = boundary
	}

	turn := startTurn
	for i := 0; i < boundary; i += batchSize {
		end := i + batchSize
		if end > boundary {
			end = boundary
		}
		batch := messages[i:end]

		summary, err := c.summarizeBatch(ctx, batch)
		if err != nil {
			c.logger.Warn("compaction batch failed, skipping", "batch_start", i, "batch_end", end, "error", err)
			turn += end - i
			continue
		}

		span := memory.CompressedSpan{
			StartTurn: turn,
			EndTurn:   turn + (end - i),
			Summary:   summary,
			CreatedAt: time.Now(),
		}
		if err := history.Append(span); err != nil {
			return errkind.Wrap(errkind.ContextCompactionFailed, err)
		}
		turn = span.EndTurn
	}

	return thread.TrimKeepLastN(keepRaw)
}

func (c *Compactor) summarizeBatch(ctx gocontext.Context, batch []memory.Message) (string, error) {
	if c.gateway == nil {
		return "", errkind.New(errkind.ContextCompactionFailed).WithContext("no gateway configured")
	}
	provider := c.gateway.Summarizer()
	if provider == nil || !provider.IsAvailable() {
		return "", errkind.New(errkind.ContextCompactionFailed).WithContext("no summarizer provider available")
	}

	var sb strings.Builder
	for _, m := range batch {
		fmt.Fprintf(&sb, "%s: %s\n", m.Role, m.Content)
	}

	req := llm.Request{
		SystemPrompt: summarizationSystemPrompt,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: sb.String()}},
		MaxTokens:    512,
	}

	resp, err := provider.Complete(ctx, req)
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

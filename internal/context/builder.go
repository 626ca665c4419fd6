// Package context assembles the bounded prompt window the LLM Gateway
// receives each turn, and compacts older thread history into rolling
// summaries once the window grows past its token budget.
//
// Despite the name this package has nothing to do with [context.Context];
// it is named after the domain concept ("context window") the way the
// original specification names it.
package context

import (
	"fmt"
	"strings"
	"time"

	"github.com/waddadaa/gpagent/internal/errkind"
	"github.com/waddadaa/gpagent/internal/llm"
	"github.com/waddadaa/gpagent/internal/memory"
)

// charsPerToken is the cheap token estimator's divisor.
const charsPerToken = 3.5

// EstimateTokens approximates the token count of a text blob using the
// chars/3.5 heuristic.
func EstimateTokens(text string) int {
	return int(float64(len(text))/charsPerToken + 0.5)
}

// perMessageOverhead and perToolCallOverhead are added to the token
// estimate for each message/tool call to account for role/structure
// framing a provider adds on the wire.
const (
	perMessageOverhead  = 3
	perToolCallOverhead = 10
)

// EstimateMessageTokens estimates the token cost of a single message,
// including role overhead and any tool-call argument JSON.
func EstimateMessageTokens(m llm.Message) int {
	total := perMessageOverhead + EstimateTokens(m.Content)
	for _, tc := range m.ToolCalls {
		total += perToolCallOverhead + EstimateTokens(fmt.Sprintf("%v", tc.Arguments))
	}
	return total
}

// EpisodeHint is the condensed form of a retrieved past episode used in
// the "Relevant Past Experiences" layer.
type EpisodeHint struct {
	TaskDescription string
	Success         bool
	Tools           []string // first 5 tools used
}

// Inputs bundles every layer's source material for one Build call.
type Inputs struct {
	BaseSystemPrompt string
	UserMemory       string // markdown
	ProjectMemory    string // markdown
	History          *memory.CompressedHistoryStore
	Episodes         []EpisodeHint // top 3, pre-selected by caller
	CurrentTask      string
	RecentMessages   []memory.Message
	Tools            []llm.ToolSpec
	KeepRawTurns     int
	MaxTokens        int
}

// Window is the assembled prompt ready to hand to the LLM Gateway.
type Window struct {
	SystemPrompt   string
	Messages       []llm.Message
	Tools          []llm.ToolSpec
	EstimatedTokens int
}

// Build assembles the seven-layer system prompt plus the recent-messages
// window and tool schemas, rejecting the result with ContextTooLarge if
// its estimated token count exceeds in.MaxTokens.
func Build(in Inputs) (Window, error) {
	var sb strings.Builder
	sb.WriteString(in.BaseSystemPrompt)

	writeLayer(&sb, "User Memory", in.UserMemory)
	writeLayer(&sb, "Project Memory", in.ProjectMemory)

	if in.History != nil {
		writeLayer(&sb, "Conversation History Summary", in.History.Text())
	}

	if len(in.Episodes) > 0 {
		writeLayer(&sb, "Relevant Past Experiences", renderEpisodes(in.Episodes))
	}

	writeLayer(&sb, "Current Task", in.CurrentTask)

	keepRaw := in.KeepRawTurns * 2
	recent := in.RecentMessages
	if keepRaw > 0 && len(recent) > keepRaw {
		recent = recent[len(recent)-keepRaw:]
	}

	messages := make([]llm.Message, len(recent))
	for i, m := range recent {
		messages[i] = toLLMMessage(m)
	}

	systemPrompt := sb.String()
	estimated := EstimateTokens(systemPrompt)
	for _, m := range messages {
		estimated += EstimateMessageTokens(m)
	}

	if in.MaxTokens > 0 && estimated > in.MaxTokens {
		return Window{}, errkind.New(errkind.ContextTooLarge).
			WithContext(fmt.Sprintf("estimated %d tokens exceeds max_tokens %d", estimated, in.MaxTokens))
	}

	return Window{
		SystemPrompt:    systemPrompt,
		Messages:        messages,
		Tools:           in.Tools,
		EstimatedTokens: estimated,
	}, nil
}

func writeLayer(sb *strings.Builder, header, body string) {
	if strings.TrimSpace(body) == "" {
		return
	}
	sb.WriteString("\n\n## ")
	sb.WriteString(header)
	sb.WriteString("\n\n")
	sb.WriteString(body)
}

func renderEpisodes(episodes []EpisodeHint) string {
	top := episodes
	if len(top) > 3 {
		top = top[:3]
	}
	var sb strings.Builder
	for i, ep := range top {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		outcome := "failed"
		if ep.Success {
			outcome = "succeeded"
		}
		tools := ep.Tools
		if len(tools) > 5 {
			tools = tools[:5]
		}
		fmt.Fprintf(&sb, "- Task: %s\n  Outcome: %s\n  Tools: %s", ep.TaskDescription, outcome, strings.Join(tools, ", "))
	}
	return sb.String()
}

func toLLMMessage(m memory.Message) llm.Message {
	out := llm.Message{
		Role:       llm.Role(m.Role),
		Content:    m.Content,
		ToolCallID: m.ToolCallID,
		Timestamp:  m.Timestamp,
	}
	for _, tc := range m.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, llm.ToolCall{ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments})
	}
	for _, a := range m.Attachments {
		out.Attachments = append(out.Attachments, llm.Attachment{MediaType: llm.MediaType(a.MediaType), Data: a.Data})
	}
	return out
}

// TaskStartedAt is a small helper for callers computing an episode's
// outcome.duration from the moment the builder was first invoked for a
// task, kept here since Build itself is stateless and has no clock.
func TaskStartedAt() time.Time { return time.Now() }

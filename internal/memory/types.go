// Package memory implements the layered memory hierarchy: per-session
// ThreadMemory and CompressedHistory, cross-thread fact storage, episodic
// task history with a keyword index, and checkpoint snapshot/restore — all
// coordinated through a single MemoryManager entry point.
package memory

import "time"

// Role identifies the speaker of a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a single tool invocation requested by the model.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// Attachment is a binary artifact (e.g. an image) attached to a Message.
type Attachment struct {
	MediaType string `json:"media_type"`
	Data      []byte `json:"data"`
}

// Message is one entry in a ThreadMemory. Every Tool message must
// reference a ToolCall id that appears in a preceding Assistant message
// in the same thread — orphans are dropped before transmission to a
// provider (see llm.FormatMessages).
type Message struct {
	Role        Role         `json:"role"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`
	ToolCalls   []ToolCall   `json:"tool_calls,omitempty"`
	ToolCallID  string       `json:"tool_call_id,omitempty"`
	Timestamp   time.Time    `json:"timestamp"`
}

// CompressedSpan is one entry of a CompressedHistory: the summary text
// covering messages [StartTurn, EndTurn).
type CompressedSpan struct {
	StartTurn int       `json:"start_turn"`
	EndTurn   int       `json:"end_turn"`
	Summary   string    `json:"summary"`
	CreatedAt time.Time `json:"created_at"`
}

// TaskStatus is the lifecycle state of a SessionState's current task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
)

// CurrentTask describes the task a session is actively working on.
type CurrentTask struct {
	Description string     `json:"description"`
	Status      TaskStatus `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Scratchpad holds free-form working state for the current session.
type Scratchpad struct {
	ModifiedFiles  []string       `json:"modified_files,omitempty"`
	PendingActions []string       `json:"pending_actions,omitempty"`
	Data           map[string]any `json:"data,omitempty"`
}

// SessionState is the mutable metadata for one session: turn counter,
// current task, and scratchpad. Persisted as a single JSON document.
type SessionState struct {
	SessionID    string       `json:"session_id"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
	TurnCounter  int          `json:"turn_counter"`
	CurrentTask  *CurrentTask `json:"current_task,omitempty"`
	Scratchpad   Scratchpad   `json:"scratchpad"`
	LastToolName string       `json:"last_tool_name,omitempty"`
}

// EpisodeAction is one tool invocation recorded as part of an Episode.
type EpisodeAction struct {
	Tool          string         `json:"tool"`
	Arguments     map[string]any `json:"arguments"`
	Success       bool           `json:"success"`
	Error         string         `json:"error,omitempty"`
	ResultSummary string         `json:"result_summary"`
	ExecutionTime time.Duration  `json:"execution_time"`
	Timestamp     time.Time      `json:"timestamp"`
}

// maxResultSummaryLen bounds EpisodeAction.ResultSummary per the data
// model's "truncated to ≤500 chars" invariant.
const maxResultSummaryLen = 500

// TruncateResultSummary clamps s to maxResultSummaryLen, matching the
// Episode data model's invariant on stored action result summaries.
func TruncateResultSummary(s string) string {
	if len(s) <= maxResultSummaryLen {
		return s
	}
	return s[:maxResultSummaryLen]
}

// Outcome is the result of a completed task.
type Outcome struct {
	Success       bool          `json:"success"`
	TurnsTaken    int           `json:"turns_taken"`
	ToolsUsed     []string      `json:"tools_used"`
	Duration      time.Duration `json:"duration"`
	Summary       string        `json:"summary"`
	FailureReason string        `json:"failure_reason,omitempty"`
}

// Episode is an immutable record of one completed task, stored in the
// episodic memory for later retrieval and TRM training.
type Episode struct {
	ID              string          `json:"id"`
	TaskDescription string          `json:"task_description"`
	TaskCategory    string          `json:"task_category"`
	CreatedAt       time.Time       `json:"created_at"`
	CompletedAt     time.Time       `json:"completed_at"`
	FilesInvolved   []string        `json:"files_involved,omitempty"`
	Actions         []EpisodeAction `json:"actions"`
	Outcome         Outcome         `json:"outcome"`
	Learnings       string          `json:"learnings,omitempty"`
	Keywords        []string        `json:"keywords"`
}

// EpisodeIndexEntry is the lightweight index record for a stored episode,
// kept separate from the full Episode so search can scan the index
// without reading every episode file.
type EpisodeIndexEntry struct {
	ID        string    `json:"id"`
	Keywords  []string  `json:"keywords"`
	Category  string    `json:"category"`
	Success   bool      `json:"success"`
	Timestamp time.Time `json:"timestamp"`
	Turns     int       `json:"turns"`
}

// CheckpointTrigger identifies what caused a checkpoint to be created.
type CheckpointTrigger string

const (
	CheckpointManual CheckpointTrigger = "manual"
	CheckpointAuto   CheckpointTrigger = "auto"
)

// CheckpointInfo describes one checkpoint's metadata. The actual snapshot
// data (session state, thread memory, compressed history) is stored
// alongside it in the checkpoint's directory.
type CheckpointInfo struct {
	ID               string            `json:"id"`
	SessionID        string            `json:"session_id"`
	ThreadID         string            `json:"thread_id"`
	Timestamp        time.Time         `json:"timestamp"`
	ParentID         string            `json:"parent_id,omitempty"`
	Description      string            `json:"description"`
	Trigger          CheckpointTrigger `json:"trigger"`
	ConversationTurn int               `json:"conversation_turn"`
}

// Checkpoint bundles a CheckpointInfo with the full state snapshot it
// describes.
type Checkpoint struct {
	Info             CheckpointInfo   `json:"info"`
	SessionState     SessionState     `json:"session_state"`
	ThreadMessages   []Message        `json:"thread_messages"`
	CompressedHistory []CompressedSpan `json:"compressed_history"`
	CustomState      map[string]any   `json:"custom_state,omitempty"`
}

// SessionSummary is a preview row returned by MemoryManager.ListSessions.
type SessionSummary struct {
	ID        string    `json:"id"`
	Preview   string    `json:"preview"`
	UpdatedAt time.Time `json:"updated_at"`
}

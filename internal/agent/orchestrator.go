// Package agent implements the Orchestrator: the state machine that
// drives one user turn end to end — building the prompt window, calling
// the LLM Gateway, dispatching any requested tool calls through the Tool
// Executor, and finalizing the turn into an episode once the model
// produces a final answer.
package agent

import (
	gocontext "context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/waddadaa/gpagent/internal/config"
	gpcontext "github.com/waddadaa/gpagent/internal/context"
	"github.com/waddadaa/gpagent/internal/errkind"
	"github.com/waddadaa/gpagent/internal/events"
	"github.com/waddadaa/gpagent/internal/idgen"
	"github.com/waddadaa/gpagent/internal/llm"
	"github.com/waddadaa/gpagent/internal/memory"
	"github.com/waddadaa/gpagent/internal/tools"
	"github.com/waddadaa/gpagent/internal/trm"
	"github.com/waddadaa/gpagent/internal/usage"
)

// State is the Orchestrator's lifecycle state, held as an atomic so the
// busy check in Process is lock-free.
type State int32

const (
	StateIdle State = iota
	StateProcessing
	StateExecutingTool
	StateTraining
	StateResponding
	StateShutdown
)

func (s State) String() string {
	switch s {
	case StateProcessing:
		return "processing"
	case StateExecutingTool:
		return "executing_tool"
	case StateTraining:
		return "training"
	case StateResponding:
		return "responding"
	case StateShutdown:
		return "shutdown"
	default:
		return "idle"
	}
}

// trmConfidenceThreshold is the minimum Prediction.Confidence for a TRM
// suggestion to be worth surfacing in the system prompt.
const trmConfidenceThreshold = 0.5

// episodeHintTopK bounds how many past episodes are retrieved as search
// candidates before the context builder trims to its own top 3.
const episodeHintTopK = 5

// toolTimeout bounds one turn's whole batch of tool calls (a single
// ExecuteBatch call), a fixed 120s budget.
const toolTimeout = 120 * time.Second

// NoteReader reads a named memory note ("user" or "project") as
// Markdown. Defined here rather than importing tools/builtin directly so
// the orchestration package does not depend on a leaf tool package;
// *builtin.MemoryNotes satisfies this structurally.
type NoteReader interface {
	Read(note string) (string, error)
}

// Orchestrator drives the turn loop described by the component design:
// it holds references to the LLM Gateway, Tool Registry, Tool Executor,
// Memory Manager, and Context Compactor, but exclusively owns the TRM
// Model, Episode Buffer, and TRM Trainer.
type Orchestrator struct {
	cfg     config.AgentConfig
	llmCfg  config.LLMConfig
	ctxCfg  config.ContextConfig
	trmCfg  config.TRMConfig

	gateway   *llm.Gateway
	registry  *tools.Registry
	executor  *tools.Executor
	mgr       *memory.Manager
	compactor *gpcontext.Compactor
	notes     NoteReader
	bus       *events.Bus
	logger    *slog.Logger

	trmModel   *trm.Model
	episodeBuf *trm.Buffer
	trainer    *trm.Trainer

	// costs and pricing are optional: set via EnableUsageTracking. When
	// nil, callLLM skips cost-ledger recording entirely.
	costs   *usage.Store
	pricing map[string]config.PricingEntry

	state             atomic.Int32
	shutdownRequested atomic.Bool

	// Current-task tracking. Not mutex-guarded: the CAS on state
	// guarantees at most one turn drives these fields at a time, and the
	// single thread driving Process is the only writer.
	currentTaskDescription string
	currentActions         []memory.EpisodeAction
	taskStartTime          time.Time
	currentTurn            int
}

// New constructs an Orchestrator. It does not yet load episodes into the
// TRM buffer or a persisted model from disk — call Initialize for that.
func New(
	cfg config.AgentConfig,
	llmCfg config.LLMConfig,
	ctxCfg config.ContextConfig,
	trmCfg config.TRMConfig,
	gateway *llm.Gateway,
	registry *tools.Registry,
	executor *tools.Executor,
	mgr *memory.Manager,
	compactor *gpcontext.Compactor,
	notes NoteReader,
	bus *events.Bus,
	logger *slog.Logger,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		cfg:        cfg,
		llmCfg:     llmCfg,
		ctxCfg:     ctxCfg,
		trmCfg:     trmCfg,
		gateway:    gateway,
		registry:   registry,
		executor:   executor,
		mgr:        mgr,
		compactor:  compactor,
		notes:      notes,
		bus:        bus,
		logger:     logger,
		trmModel:   trm.NewModel(trmCfg),
		episodeBuf: trm.NewBuffer(trmCfg),
	}
	o.trainer = trm.NewTrainer(o.trmModel, o.episodeBuf, trmCfg, logger)
	o.state.Store(int32(StateIdle))
	return o
}

// Initialize seeds the episode buffer from persisted episodic memory and
// loads a saved TRM model from disk if one exists at trm.model_path.
// Call once before the first Process.
func (o *Orchestrator) Initialize() error {
	n, err := o.episodeBuf.LoadFromMemory(o.mgr.Episodic())
	if err != nil {
		o.logger.Warn("failed to seed episode buffer from memory", "error", err)
	} else {
		o.logger.Info("seeded episode buffer", "episodes", n)
	}

	if o.trmCfg.ModelPath != "" {
		if err := o.trmModel.Load(o.trmCfg.ModelPath); err != nil {
			o.logger.Debug("no persisted trm model loaded", "path", o.trmCfg.ModelPath, "error", err)
		} else {
			o.logger.Info("loaded trm model", "path", o.trmCfg.ModelPath)
		}
	}
	return nil
}

// State returns the Orchestrator's current state. Training is reported
// as an overlay on Idle: the interactive state machine itself never
// blocks on a background training run, so the atomic driving CAS-based
// busy detection stays Idle throughout.
func (o *Orchestrator) State() State {
	s := State(o.state.Load())
	if s == StateIdle && o.trainer.IsTraining() {
		return StateTraining
	}
	return s
}

// IsBusy reports whether a turn is in progress.
func (o *Orchestrator) IsBusy() bool {
	s := o.State()
	return s == StateProcessing || s == StateExecutingTool || s == StateResponding
}

// TRMModel exposes the owned TRM model for status inspection.
func (o *Orchestrator) TRMModel() *trm.Model { return o.trmModel }

// EpisodeBuffer exposes the owned episode buffer for status inspection.
func (o *Orchestrator) EpisodeBuffer() *trm.Buffer { return o.episodeBuf }

// Shutdown requests the orchestrator stop accepting new turns and waits
// for any in-progress training to finish.
func (o *Orchestrator) Shutdown(ctx gocontext.Context) {
	o.shutdownRequested.Store(true)
	o.state.Store(int32(StateShutdown))
	o.trainer.Stop(ctx)
}

// TriggerTraining starts a TRM training run immediately if one is not
// already in progress and enough episodes exist.
func (o *Orchestrator) TriggerTraining() error {
	return o.startTraining()
}

// EnableUsageTracking wires a persistent cost ledger: every successful
// Gateway completion is recorded against store using pricing to compute
// its USD cost. Optional — an Orchestrator with no ledger simply skips
// recording.
func (o *Orchestrator) EnableUsageTracking(store *usage.Store, pricing map[string]config.PricingEntry) {
	o.costs = store
	o.pricing = pricing
}

// Process runs one full user turn: it transitions Idle -> Processing,
// drives the turn loop until the model produces a final answer or
// max_turns_per_task is hit, finalizes the resulting episode, and
// returns to Idle. Returns InvalidState if the orchestrator is already
// busy or shutting down.
func (o *Orchestrator) Process(ctx gocontext.Context, userInput string) (string, error) {
	if o.shutdownRequested.Load() {
		return "", errkind.New(errkind.InvalidState).WithContext("orchestrator is shutting down")
	}
	if !o.state.CompareAndSwap(int32(StateIdle), int32(StateProcessing)) {
		return "", errkind.New(errkind.InvalidState).WithContext("agent is busy")
	}

	o.currentTaskDescription = userInput
	o.currentActions = nil
	o.taskStartTime = time.Now()
	o.currentTurn = 0

	o.publish(events.KindThinking, map[string]any{"task": userInput})

	if err := o.mgr.State().SetCurrentTask(&memory.CurrentTask{
		Description: userInput,
		Status:      memory.TaskInProgress,
		StartedAt:   o.taskStartTime,
	}); err != nil {
		o.logger.Warn("failed to record current task", "error", err)
	}

	if err := o.mgr.AppendMessage(memory.Message{
		Role:      memory.RoleUser,
		Content:   userInput,
		Timestamp: time.Now(),
	}); err != nil {
		o.state.Store(int32(StateIdle))
		return "", errkind.Wrap(errkind.MemorySaveFailed, err)
	}

	content, err := o.runTurnLoop(ctx)

	o.state.Store(int32(StateResponding))
	o.publish(events.KindResponseReady, map[string]any{"content": content})

	o.finalizeEpisode(err == nil, content, err)
	o.checkAndStartTraining()

	o.state.Store(int32(StateIdle))
	return content, err
}

// runTurnLoop drives the model until it produces a final answer (no
// tool calls) or max_turns_per_task is exhausted. Hitting the turn cap
// is a soft failure: the loop returns whatever content the last call
// produced rather than an error, so the caller still gets a response.
func (o *Orchestrator) runTurnLoop(ctx gocontext.Context) (string, error) {
	maxTurns := o.cfg.MaxTurnsPerTask
	if maxTurns <= 0 {
		maxTurns = 50
	}

	var lastContent string
	for o.currentTurn < maxTurns {
		o.currentTurn++

		resp, err := o.callLLM(ctx)
		if err != nil {
			return "", err
		}
		lastContent = resp.Content

		if len(resp.ToolCalls) == 0 {
			if err := o.mgr.AppendMessage(memory.Message{
				Role:      memory.RoleAssistant,
				Content:   resp.Content,
				Timestamp: time.Now(),
			}); err != nil {
				return "", errkind.Wrap(errkind.MemorySaveFailed, err)
			}
			return resp.Content, nil
		}

		o.state.Store(int32(StateExecutingTool))
		names := make([]string, len(resp.ToolCalls))
		for i, tc := range resp.ToolCalls {
			names[i] = tc.Name
		}
		o.publish(events.KindToolSelected, map[string]any{"tools": names})

		// Save the assistant message carrying tool_calls BEFORE executing
		// them, so every Tool message appended below has a corresponding
		// preceding tool_use in memory.
		assistantMsg := memory.Message{
			Role:      memory.RoleAssistant,
			Content:   resp.Content,
			Timestamp: time.Now(),
		}
		for _, tc := range resp.ToolCalls {
			assistantMsg.ToolCalls = append(assistantMsg.ToolCalls, memory.ToolCall{
				ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments,
			})
		}
		if err := o.mgr.AppendMessage(assistantMsg); err != nil {
			return "", errkind.Wrap(errkind.MemorySaveFailed, err)
		}

		if err := o.executeToolCalls(ctx, resp.ToolCalls); err != nil {
			return "", err
		}

		o.state.Store(int32(StateProcessing))
	}

	o.logger.Warn("turn loop hit max_turns_per_task without a final answer",
		"task", o.currentTaskDescription, "max_turns", maxTurns)
	return lastContent, nil
}

// callLLM assembles the context window and invokes the LLM Gateway for
// one turn.
func (o *Orchestrator) callLLM(ctx gocontext.Context) (llm.Response, error) {
	if o.compactor != nil && o.compactor.ShouldCompact(o.mgr.Thread().All()) {
		startTurn := 0
		if spans := o.mgr.History().All(); len(spans) > 0 {
			startTurn = spans[len(spans)-1].EndTurn
		}
		if err := o.compactor.Compact(ctx, o.mgr.Thread(), o.mgr.History(), startTurn); err != nil {
			o.logger.Warn("context compaction failed", "error", err)
		}
	}

	systemPrompt := o.cfg.SystemPrompt
	systemPrompt = o.augmentSystemPromptWithTRM(systemPrompt)

	var userMemory, projectMemory string
	if o.notes != nil {
		if s, err := o.notes.Read("user"); err == nil {
			userMemory = s
		}
		if s, err := o.notes.Read("project"); err == nil {
			projectMemory = s
		}
	}

	window, err := gpcontext.Build(gpcontext.Inputs{
		BaseSystemPrompt: systemPrompt,
		UserMemory:       userMemory,
		ProjectMemory:    projectMemory,
		History:          o.mgr.History(),
		Episodes:         o.retrieveEpisodeHints(o.currentTaskDescription),
		CurrentTask:      o.currentTaskDescription,
		RecentMessages:   o.mgr.Thread().All(),
		Tools:            o.registry.EnabledSpecs(),
		KeepRawTurns:     o.ctxCfg.KeepRawTurns,
		MaxTokens:        o.ctxCfg.MaxTokens,
	})
	if err != nil {
		return llm.Response{}, err
	}

	req := llm.Request{
		SystemPrompt: window.SystemPrompt,
		Messages:     window.Messages,
		Tools:        window.Tools,
		MaxTokens:    o.ctxCfg.ReservedForResponse,
		Temperature:  o.llmCfg.Temperature,
	}

	o.publish(events.KindThinking, map[string]any{"turn": o.currentTurn})
	resp, err := o.gateway.Complete(ctx, req)
	if err != nil {
		o.publish(events.KindError, map[string]any{"error": err.Error()})
		return llm.Response{}, err
	}
	o.recordUsage(ctx, resp)
	return resp, nil
}

// recordUsage persists one completion's token counts and computed cost
// to the ledger, if one is configured. Recording failures are logged, not
// propagated: a cost-ledger write must never fail a turn.
func (o *Orchestrator) recordUsage(ctx gocontext.Context, resp llm.Response) {
	if o.costs == nil {
		return
	}
	rec := usage.Record{
		SessionID:    o.mgr.CurrentSessionID(),
		Model:        resp.Model,
		Provider:     o.llmCfg.PrimaryProvider,
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
		CostUSD:      usage.ComputeCost(resp.Model, resp.Usage.InputTokens, resp.Usage.OutputTokens, o.pricing),
		Role:         "interactive",
	}
	if err := o.costs.Record(ctx, rec); err != nil {
		o.logger.Warn("usage ledger write failed", "error", err)
	}
}

// executeToolCalls dispatches calls through the Tool Executor and
// appends a Tool result message for each, in call order. Tool failures
// are not fatal to the turn: the error text becomes the Tool message
// content so the next turn can attempt to recover.
func (o *Orchestrator) executeToolCalls(ctx gocontext.Context, calls []llm.ToolCall) error {
	batch := make([]tools.Call, len(calls))
	for i, tc := range calls {
		batch[i] = tools.Call{
			ToolCall: tc,
			Context: tools.ToolContext{
				SessionID: o.mgr.CurrentSessionID(),
				TaskID:    o.currentTaskDescription,
			},
		}
		o.publish(events.KindToolExecuting, map[string]any{"tool": tc.Name, "args": tc.Arguments})
	}

	toolCtx, cancel := gocontext.WithTimeout(ctx, toolTimeout)
	defer cancel()
	results := o.executor.ExecuteBatch(toolCtx, batch)

	for i, res := range results {
		call := calls[i]
		o.recordAction(call, res)

		if res.Success {
			o.publish(events.KindToolCompleted, map[string]any{"tool": res.Name, "success": true})
		} else {
			o.publish(events.KindToolFailed, map[string]any{"tool": res.Name, "success": false})
		}

		content := res.Output
		if !res.Success {
			content = res.Error
		}
		if err := o.mgr.AppendMessage(memory.Message{
			Role:       memory.RoleTool,
			Content:    content,
			ToolCallID: call.ID,
			Timestamp:  time.Now(),
		}); err != nil {
			return errkind.Wrap(errkind.MemorySaveFailed, err)
		}
	}
	return nil
}

// recordAction appends one tool completion to the current task's action
// log, for later inclusion in the finalized Episode.
func (o *Orchestrator) recordAction(call llm.ToolCall, res tools.ToolResult) {
	o.currentActions = append(o.currentActions, memory.EpisodeAction{
		Tool:          call.Name,
		Arguments:     call.Arguments,
		Success:       res.Success,
		Error:         res.Error,
		ResultSummary: memory.TruncateResultSummary(res.Output),
		ExecutionTime: res.Duration,
		Timestamp:     time.Now(),
	})
}

// finalizeEpisode builds an Episode from the current task's accumulated
// actions and outcome, persists it to episodic memory, and pushes a copy
// into the TRM episode buffer. A no-op if no task is in progress.
func (o *Orchestrator) finalizeEpisode(success bool, content string, taskErr error) {
	if o.currentTaskDescription == "" {
		return
	}

	outcome := memory.Outcome{
		Success:    success,
		TurnsTaken: o.currentTurn,
		Duration:   time.Since(o.taskStartTime),
		Summary:    content,
	}
	if !success && taskErr != nil {
		outcome.FailureReason = taskErr.Error()
	}
	seen := make(map[string]bool, len(o.currentActions))
	for _, a := range o.currentActions {
		if !seen[a.Tool] {
			seen[a.Tool] = true
			outcome.ToolsUsed = append(outcome.ToolsUsed, a.Tool)
		}
	}

	episode := memory.Episode{
		ID:              idgen.Episode(),
		TaskDescription: o.currentTaskDescription,
		CreatedAt:       o.taskStartTime,
		CompletedAt:     time.Now(),
		Actions:         o.currentActions,
		Outcome:         outcome,
		Keywords:        memory.Tokenize(o.currentTaskDescription),
	}

	stored, err := o.mgr.StoreEpisode(episode)
	if err != nil {
		o.logger.Error("failed to store episode", "error", err)
	} else {
		o.episodeBuf.Add(stored)
		o.publish(events.KindEpisodeComplete, map[string]any{"episode_id": stored.ID, "success": success})
	}

	status := memory.TaskCompleted
	now := time.Now()
	if err := o.mgr.State().SetCurrentTask(&memory.CurrentTask{
		Description: o.currentTaskDescription,
		Status:      status,
		StartedAt:   o.taskStartTime,
		CompletedAt: &now,
	}); err != nil {
		o.logger.Warn("failed to record task completion", "error", err)
	}

	o.currentTaskDescription = ""
	o.currentActions = nil
}

// checkAndStartTraining starts a TRM training run if auto_train_trm is
// enabled and the trainer reports enough buffered episodes. Training
// runs concurrently with the orchestrator's return to Idle; the
// interactive path is never blocked on it.
func (o *Orchestrator) checkAndStartTraining() {
	if !o.cfg.AutoTrainTRM {
		return
	}
	if err := o.startTraining(); err != nil {
		o.logger.Debug("training not started", "reason", err)
	}
}

// startTraining launches a TRM training run on the trainer's own
// goroutine. The orchestrator's interactive state is not held at
// Training for the run's duration — Process returns to Idle as soon as
// the current turn finishes, regardless of whether training is still
// running in the background.
func (o *Orchestrator) startTraining() error {
	if !o.trainer.ShouldStartTraining() {
		return errkind.New(errkind.TRMInsufficientData)
	}
	o.publish(events.KindTrainingStarted, nil)

	return o.trainer.StartTrainingAsync(func(p trm.Progress) {
		kind := events.KindTrainingProgress
		if p.Complete {
			kind = events.KindTrainingComplete
		}
		o.publish(kind, map[string]any{
			"epoch":        p.CurrentEpoch,
			"total_epochs": p.TotalEpochs,
			"loss":         p.Loss,
		})
	})
}

// retrieveEpisodeHints searches episodic memory for past episodes
// relevant to query, fetching the full record for each index hit so the
// context builder has task description and tools used.
func (o *Orchestrator) retrieveEpisodeHints(query string) []gpcontext.EpisodeHint {
	entries := o.mgr.Episodic().Search(query, episodeHintTopK)
	hints := make([]gpcontext.EpisodeHint, 0, len(entries))
	for _, e := range entries {
		full, ok, err := o.mgr.Episodic().Get(e.ID)
		if err != nil || !ok {
			continue
		}
		usedTools := full.Outcome.ToolsUsed
		if len(usedTools) > 5 {
			usedTools = usedTools[:5]
		}
		hints = append(hints, gpcontext.EpisodeHint{
			TaskDescription: full.TaskDescription,
			Success:         full.Outcome.Success,
			Tools:           usedTools,
		})
	}
	return hints
}

// augmentSystemPromptWithTRM appends a TRM tool suggestion block to the
// base system prompt when use_trm_recommendations is enabled and the
// model's top prediction clears the confidence threshold.
func (o *Orchestrator) augmentSystemPromptWithTRM(base string) string {
	if !o.cfg.UseTRMRecommendations || !o.trmModel.IsReady() {
		return base
	}

	enabled := o.registry.EnabledSpecs()
	names := make([]string, len(enabled))
	for i, s := range enabled {
		names[i] = s.Name
	}

	pred, ok := o.trmModel.Predict(o.currentTaskDescription, names, o.currentActions)
	if !ok || pred.Confidence <= trmConfidenceThreshold {
		return base
	}

	block := fmt.Sprintf("\n\n## TRM Suggestion\n\nConsider using `%s` (%.0f%% confidence).",
		pred.RecommendedTool, pred.Confidence*100)

	if len(pred.RankedTools) > 1 {
		alts := pred.RankedTools[1:]
		if len(alts) > 2 {
			alts = alts[:2]
		}
		for _, alt := range alts {
			block += fmt.Sprintf("\nAlternative: `%s` (%.0f%%).", alt.Tool, alt.Score*100)
		}
	}
	return base + block
}

// publish emits an orchestrator event, nil-safe on a nil bus.
func (o *Orchestrator) publish(kind string, data map[string]any) {
	o.bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceAgent,
		Kind:      kind,
		Data:      data,
	})
}

// Package trm implements the tool-selection recommender: a heuristic
// ranker that starts in cold-start mode (keyword matching plus history
// boosting) and graduates to a "ready" inference path once its
// background trainer has run, falling back to the same heuristic on
// any model error.
package trm

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/waddadaa/gpagent/internal/config"
	"github.com/waddadaa/gpagent/internal/errkind"
	"github.com/waddadaa/gpagent/internal/memory"
)

// Status mirrors the model's lifecycle: it starts ColdStart and moves to
// Ready after a successful Load or a completed training run. Training is
// set for the duration of an in-progress training run. No code in this
// package sets Fallback.
type Status int

const (
	NotInitialized Status = iota
	ColdStart
	Training
	Ready
	Fallback
)

func (s Status) String() string {
	switch s {
	case ColdStart:
		return "cold_start"
	case Training:
		return "training"
	case Ready:
		return "ready"
	case Fallback:
		return "fallback"
	default:
		return "not_initialized"
	}
}

// RankedTool is one scored candidate in a Prediction.
type RankedTool struct {
	Tool  string
	Score float64
}

// Prediction is the recommender's output for one context.
type Prediction struct {
	RecommendedTool string
	Confidence      float64
	RankedTools     []RankedTool
}

// modelFileHeader is written verbatim at the start of a saved model
// file; a real weight format would follow it.
const modelFileHeader = "GPAGENT_TRM_V1"

// toolKeywords is the fixed per-tool keyword vocabulary used for
// cold-start and fallback scoring.
var toolKeywords = map[string][]string{
	"file_read":  {"read", "file", "content", "show", "view", "cat", "look", "see", "check", "open", "text"},
	"file_write": {"write", "create", "save", "new", "file", "output", "generate"},
	"file_edit":  {"edit", "modify", "change", "update", "fix", "replace", "refactor"},
	"bash":       {"run", "execute", "command", "shell", "terminal", "script", "install", "build", "compile", "test"},
	"grep":       {"search", "find", "grep", "look", "locate", "pattern", "match", "where", "code"},
	"glob":       {"files", "list", "find", "pattern", "directory", "folder", "ls"},
	"image_read": {"image", "picture", "photo", "screenshot", "png", "jpg", "jpeg", "gif", "see", "look", "show", "visual"},
	"web_search": {"search", "web", "internet", "google", "online", "find", "lookup", "query", "information"},
	"web_fetch":  {"fetch", "url", "website", "page", "download", "http", "link", "browse", "visit"},
}

// historyBoost weights how much a tool's recent-use frequency in
// history can raise its score, applied identically on both the
// cold-start and ready paths (the original's two paths used 0.15 and
// 0.2 inconsistently; this recommender fixes both to 0.15).
const historyBoost = 0.15

var punctRe = regexp.MustCompile(`[[:punct:]]`)

// Model is the tool-selection recommender.
type Model struct {
	mu       sync.RWMutex
	cfg      config.TRMConfig
	status   Status
	progress Progress
}

// Progress reports the last training run's per-loss breakdown.
type Progress struct {
	CurrentEpoch     int
	TotalEpochs      int
	Loss             float64
	ContrastiveLoss  float64
	NextActionLoss   float64
	OutcomeLoss      float64
	MaskedLoss       float64
	Complete         bool
}

// NewModel creates a Model in ColdStart status, matching the teacher's
// choice to allow fallback predictions immediately while episodes
// accumulate for training.
func NewModel(cfg config.TRMConfig) *Model {
	return &Model{cfg: cfg, status: ColdStart}
}

// Status returns the model's current lifecycle status.
func (m *Model) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// IsReady reports whether the model can serve predictions — true for
// both Ready and ColdStart, since ColdStart still serves fallback
// predictions.
func (m *Model) IsReady() bool {
	s := m.Status()
	return s == Ready || s == ColdStart
}

// CanStartTraining reports whether episodeCount meets the configured
// minimum before training may begin.
func (m *Model) CanStartTraining(episodeCount int) bool {
	return episodeCount >= m.cfg.MinEpisodesBeforeTraining
}

// Progress returns the most recent training run's progress snapshot.
func (m *Model) Progress() Progress {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.progress
}

func (m *Model) setProgress(p Progress) {
	m.mu.Lock()
	m.progress = p
	m.mu.Unlock()
}

func (m *Model) setStatus(s Status) {
	m.mu.Lock()
	m.status = s
	m.mu.Unlock()
}

// Predict recommends a tool for the given task context, optionally
// boosting scores using recent tool-use history (most recent action
// weighted highest). Returns false if the model is not ready for
// inference (NotInitialized, Training, or Fallback with no recourse).
func (m *Model) Predict(taskContext string, availableTools []string, history []memory.EpisodeAction) (Prediction, bool) {
	status := m.Status()

	if status == ColdStart {
		pred := m.FallbackPredict(taskContext, availableTools)
		applyHistoryBoost(&pred, history, historyBoost)
		return pred, true
	}

	if status != Ready {
		return Prediction{}, false
	}

	pred := Prediction{RankedTools: keywordMatch(taskContext, availableTools)}
	if len(pred.RankedTools) > 0 {
		pred.RecommendedTool = pred.RankedTools[0].Tool
		pred.Confidence = pred.RankedTools[0].Score
	}
	applyHistoryBoost(&pred, history, historyBoost)
	return pred, true
}

// FallbackPredict always returns a rule-based prediction regardless of
// model status, at half the confidence of a ready-path prediction (or
// the first available tool at very low confidence if nothing matches).
func (m *Model) FallbackPredict(taskContext string, availableTools []string) Prediction {
	ranked := keywordMatch(taskContext, availableTools)

	var pred Prediction
	switch {
	case len(ranked) > 0 && ranked[0].Score > 0:
		pred.RankedTools = ranked
		pred.RecommendedTool = ranked[0].Tool
		pred.Confidence = ranked[0].Score * 0.5
	case len(availableTools) > 0:
		pred.RecommendedTool = availableTools[0]
		pred.Confidence = 0.1
		for _, tool := range availableTools {
			pred.RankedTools = append(pred.RankedTools, RankedTool{Tool: tool, Score: 0.1})
		}
	default:
		pred.RankedTools = ranked
	}
	return pred
}

func applyHistoryBoost(pred *Prediction, history []memory.EpisodeAction, boost float64) {
	if len(history) == 0 || len(pred.RankedTools) == 0 {
		return
	}

	scores := make(map[string]int, len(history))
	recency := len(history)
	for _, action := range history {
		scores[action.Tool] += recency
		recency--
	}

	for i, rt := range pred.RankedTools {
		if hs, ok := scores[rt.Tool]; ok {
			b := float64(hs) / float64(len(history)) * boost
			pred.RankedTools[i].Score = min(1.0, rt.Score+b)
		}
	}

	sort.SliceStable(pred.RankedTools, func(i, j int) bool {
		return pred.RankedTools[i].Score > pred.RankedTools[j].Score
	})

	if len(pred.RankedTools) > 0 {
		pred.RecommendedTool = pred.RankedTools[0].Tool
		pred.Confidence = pred.RankedTools[0].Score
	}
}

// keywordMatch scores each candidate tool against taskContext: +0.5 if
// the tool's own name appears as a substring of the lowercased query,
// plus up to +0.5 scaled by the fraction of that tool's fixed keyword
// vocabulary present in the query's word set (words of length <= 2 are
// dropped as noise).
func keywordMatch(taskContext string, tools []string) []RankedTool {
	lowerQuery := strings.ToLower(taskContext)
	words := strings.Fields(lowerQuery)
	queryWords := make(map[string]struct{}, len(words))
	for _, w := range words {
		w = punctRe.ReplaceAllString(w, "")
		if len(w) > 2 {
			queryWords[w] = struct{}{}
		}
	}

	scores := make([]RankedTool, 0, len(tools))
	for _, tool := range tools {
		var score float64
		lowerTool := strings.ToLower(tool)
		if strings.Contains(lowerQuery, lowerTool) {
			score += 0.5
		}

		if keywords, ok := toolKeywords[tool]; ok && len(keywords) > 0 {
			matches := 0
			for _, kw := range keywords {
				if _, found := queryWords[kw]; found {
					matches++
				}
			}
			score += float64(matches) / float64(len(keywords)) * 0.5
		}

		scores = append(scores, RankedTool{Tool: tool, Score: score})
	}

	sort.SliceStable(scores, func(i, j int) bool {
		return scores[i].Score > scores[j].Score
	})
	return scores
}

// Load marks the model Ready after reading a model file from disk. A
// full implementation would deserialize weights here; this recommender
// only verifies the file exists and carries the expected header.
func (m *Model) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errkind.Wrap(errkind.TRMModelCorrupted, err)
	}
	if len(data) < len(modelFileHeader) || string(data[:len(modelFileHeader)]) != modelFileHeader {
		return errkind.New(errkind.TRMModelCorrupted).WithContext("missing or invalid model file header")
	}
	m.setStatus(Ready)
	return nil
}

// Save writes a placeholder model file to path. Per the data model,
// save only fails when the model has never been initialized — any
// other status (ColdStart, Training, Ready, Fallback) may be saved,
// which is broader than the original's Ready-or-Training-only check.
func (m *Model) Save(path string) error {
	if m.Status() == NotInitialized {
		return errkind.New(errkind.TRMModelNotLoaded).WithContext("cannot save an uninitialized model")
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errkind.Wrap(errkind.TRMTrainingFailed, err)
		}
	}

	return os.WriteFile(path, []byte(modelFileHeader), 0o644)
}

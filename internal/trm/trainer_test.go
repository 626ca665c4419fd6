package trm

import (
	"testing"
	"time"

	"github.com/waddadaa/gpagent/internal/memory"
)

func seedBuffer(t *testing.T, n int) *Buffer {
	t.Helper()
	cfg := testTRMConfig()
	cfg.MinEpisodesBeforeTraining = n
	b := NewBuffer(cfg)
	for i := 0; i < n; i++ {
		ep := memory.Episode{
			ID:      indexID(i),
			Actions: []memory.EpisodeAction{{Tool: "bash"}, {Tool: "grep"}, {Tool: "file_read"}},
			Outcome: memory.Outcome{Success: i%2 == 0},
		}
		b.Add(ep)
	}
	return b
}

func TestShouldStartTrainingRequiresEnoughEpisodes(t *testing.T) {
	cfg := testTRMConfig()
	cfg.MinEpisodesBeforeTraining = 5
	cfg.Epochs = 1
	buf := NewBuffer(cfg)
	model := NewModel(cfg)
	tr := NewTrainer(model, buf, cfg, nil)

	if tr.ShouldStartTraining() {
		t.Error("expected false with empty buffer")
	}

	buf = seedBuffer(t, 5)
	tr = NewTrainer(model, buf, cfg, nil)
	if !tr.ShouldStartTraining() {
		t.Error("expected true once buffer has enough episodes")
	}
}

func TestStartTrainingAsyncRejectsConcurrentRun(t *testing.T) {
	cfg := testTRMConfig()
	cfg.MinEpisodesBeforeTraining = 3
	cfg.Epochs = 5
	buf := seedBuffer(t, 3)
	model := NewModel(cfg)
	tr := NewTrainer(model, buf, cfg, nil)

	if err := tr.StartTrainingAsync(nil); err != nil {
		t.Fatalf("first StartTrainingAsync: %v", err)
	}
	if err := tr.StartTrainingAsync(nil); err == nil {
		t.Error("expected second concurrent StartTrainingAsync to fail")
	}
	tr.WaitForCompletion()
}

func TestTrainLoopCompletesAndReportsProgress(t *testing.T) {
	cfg := testTRMConfig()
	cfg.MinEpisodesBeforeTraining = 4
	cfg.Epochs = 3
	buf := seedBuffer(t, 4)
	model := NewModel(cfg)
	tr := NewTrainer(model, buf, cfg, nil)

	var updates []Progress
	if err := tr.StartTrainingAsync(func(p Progress) { updates = append(updates, p) }); err != nil {
		t.Fatalf("StartTrainingAsync: %v", err)
	}
	tr.WaitForCompletion()

	if len(updates) == 0 {
		t.Fatal("expected at least one progress update")
	}
	last := updates[len(updates)-1]
	if !last.Complete {
		t.Error("expected final update to be marked complete")
	}
	if model.Status() != Ready {
		t.Errorf("status after training = %v, want Ready", model.Status())
	}
	if tr.IsTraining() {
		t.Error("expected IsTraining false after completion")
	}
}

func TestStopTrainingHaltsEarly(t *testing.T) {
	cfg := testTRMConfig()
	cfg.MinEpisodesBeforeTraining = 4
	cfg.Epochs = 1000
	buf := seedBuffer(t, 4)
	model := NewModel(cfg)
	tr := NewTrainer(model, buf, cfg, nil)

	if err := tr.StartTrainingAsync(nil); err != nil {
		t.Fatalf("StartTrainingAsync: %v", err)
	}
	time.Sleep(30 * time.Millisecond)
	tr.StopTraining()
	tr.WaitForCompletion()

	result := tr.LastTrainingResult()
	if result.CurrentEpoch >= 1000 {
		t.Errorf("expected training to stop early, ran %d epochs", result.CurrentEpoch)
	}
}

func TestTimeUntilRetrainAndIsRetrainDue(t *testing.T) {
	cfg := testTRMConfig()
	cfg.RetrainIntervalHours = 0
	buf := NewBuffer(cfg)
	model := NewModel(cfg)
	tr := NewTrainer(model, buf, cfg, nil)

	if !tr.IsRetrainDue() {
		t.Error("expected retrain due immediately with a zero-hour interval")
	}
	if tr.TimeUntilRetrain() != 0 {
		t.Errorf("TimeUntilRetrain = %v, want 0", tr.TimeUntilRetrain())
	}
}

func TestComputeLossesReturnMaxLossOnEmptyBuffer(t *testing.T) {
	cfg := testTRMConfig()
	buf := NewBuffer(cfg)
	model := NewModel(cfg)
	tr := NewTrainer(model, buf, cfg, nil)

	if got := tr.computeContrastiveLoss(); got != 1.0 {
		t.Errorf("computeContrastiveLoss on empty buffer = %v, want 1.0", got)
	}
	if got := tr.computeNextActionLoss(); got != 1.0 {
		t.Errorf("computeNextActionLoss on empty buffer = %v, want 1.0", got)
	}
	if got := tr.computeOutcomeLoss(); got != 1.0 {
		t.Errorf("computeOutcomeLoss on empty buffer = %v, want 1.0", got)
	}
	if got := tr.computeMaskedLoss(); got != 1.0 {
		t.Errorf("computeMaskedLoss on empty buffer = %v, want 1.0", got)
	}
}

func TestDeterministicMaskIsStable(t *testing.T) {
	a := deterministicMask("ep-123", 4)
	b := deterministicMask("ep-123", 4)
	if a != b {
		t.Error("expected deterministicMask to be stable for the same inputs")
	}
}

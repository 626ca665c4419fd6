package trm

import (
	gocontext "context"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/waddadaa/gpagent/internal/config"
	"github.com/waddadaa/gpagent/internal/errkind"
)

// ProgressFunc receives a Progress update after each epoch and once more
// on completion.
type ProgressFunc func(Progress)

// Trainer runs the recommender's unsupervised training loop in the
// background: four self-supervised objectives (contrastive, next-action,
// outcome, masked) combined by the configured loss weights, on a
// schedule driven by retrain_interval_hours.
type Trainer struct {
	model  *Model
	buffer *Buffer
	cfg    config.TRMConfig
	logger *slog.Logger

	inProgress atomic.Bool
	stopReq    atomic.Bool
	wg         sync.WaitGroup

	mu               sync.Mutex
	lastResult       Progress
	lastTrainingTime time.Time

	sched *cron.Cron
}

// NewTrainer creates a Trainer bound to model and buffer.
func NewTrainer(model *Model, buffer *Buffer, cfg config.TRMConfig, logger *slog.Logger) *Trainer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Trainer{
		model:            model,
		buffer:           buffer,
		cfg:              cfg,
		logger:           logger,
		lastTrainingTime: time.Now(),
	}
}

// ShouldStartTraining reports whether no training run is in progress and
// the buffer holds enough episodes.
func (t *Trainer) ShouldStartTraining() bool {
	return !t.inProgress.Load() && t.buffer.HasEnoughForTraining()
}

// IsTraining reports whether a training run is currently executing.
func (t *Trainer) IsTraining() bool {
	return t.inProgress.Load()
}

// StartTrainingAsync begins a training run on a background goroutine,
// invoking onProgress after each epoch. Returns an error without
// starting if a run is already in progress or the buffer lacks enough
// episodes.
func (t *Trainer) StartTrainingAsync(onProgress ProgressFunc) error {
	if t.inProgress.Swap(true) {
		return errkind.New(errkind.TRMTrainingFailed).WithContext("training already in progress")
	}

	if !t.buffer.HasEnoughForTraining() {
		t.inProgress.Store(false)
		return errkind.New(errkind.TRMInsufficientData).WithContext("not enough episodes for training")
	}

	t.stopReq.Store(false)
	t.model.setStatus(Training)

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.trainLoop(onProgress)
	}()

	return nil
}

// WaitForCompletion blocks until the current (or most recently started)
// training run has finished.
func (t *Trainer) WaitForCompletion() {
	t.wg.Wait()
}

// StopTraining requests the current training run exit at the next
// epoch boundary; it does not block for the run to finish.
func (t *Trainer) StopTraining() {
	t.stopReq.Store(true)
}

// LastTrainingResult returns the most recently recorded Progress.
func (t *Trainer) LastTrainingResult() Progress {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastResult
}

// TimeUntilRetrain returns how long until the next scheduled retrain is
// due, or zero if it is already due.
func (t *Trainer) TimeUntilRetrain() time.Duration {
	t.mu.Lock()
	last := t.lastTrainingTime
	t.mu.Unlock()

	interval := time.Duration(t.cfg.RetrainIntervalHours) * time.Hour
	elapsed := time.Since(last)
	if elapsed >= interval {
		return 0
	}
	return interval - elapsed
}

// IsRetrainDue reports whether the configured retrain interval has
// elapsed since the last training run.
func (t *Trainer) IsRetrainDue() bool {
	return t.TimeUntilRetrain() == 0
}

// StartScheduler starts a cron job (grounded on the corpus's
// robfig/cron scheduler for periodic background work) that checks
// IsRetrainDue once per hour and kicks off training when both that and
// ShouldStartTraining hold. Stop() shuts it down.
func (t *Trainer) StartScheduler() error {
	t.sched = cron.New()
	_, err := t.sched.AddFunc("@hourly", func() {
		if t.IsRetrainDue() && t.ShouldStartTraining() {
			if err := t.StartTrainingAsync(nil); err != nil {
				t.logger.Warn("trm: scheduled retrain failed to start", "error", err)
			}
		}
	})
	if err != nil {
		return errkind.Wrap(errkind.TRMTrainingFailed, err)
	}
	t.sched.Start()
	return nil
}

// Stop shuts down the retrain scheduler (if started), requests any
// in-flight training run to stop, and waits for it to finish.
func (t *Trainer) Stop(ctx gocontext.Context) {
	if t.sched != nil {
		stopCtx := t.sched.Stop()
		select {
		case <-stopCtx.Done():
		case <-ctx.Done():
		}
	}
	t.StopTraining()
	t.WaitForCompletion()
}

func (t *Trainer) trainLoop(onProgress ProgressFunc) {
	progress := Progress{TotalEpochs: t.cfg.Epochs}

	for epoch := 0; epoch < t.cfg.Epochs && !t.stopReq.Load(); epoch++ {
		progress.CurrentEpoch = epoch + 1

		contrastive := t.computeContrastiveLoss()
		nextAction := t.computeNextActionLoss()
		outcome := t.computeOutcomeLoss()
		masked := t.computeMaskedLoss()

		w := t.cfg.LossWeights
		progress.ContrastiveLoss = contrastive
		progress.NextActionLoss = nextAction
		progress.OutcomeLoss = outcome
		progress.MaskedLoss = masked
		progress.Loss = w.Contrastive*contrastive + w.NextAction*nextAction + w.Outcome*outcome + w.Masked*masked

		if onProgress != nil {
			onProgress(progress)
		}

		time.Sleep(10 * time.Millisecond)
	}

	progress.Complete = true

	t.mu.Lock()
	t.lastResult = progress
	t.lastTrainingTime = time.Now()
	t.mu.Unlock()

	t.model.setStatus(Ready)
	t.inProgress.Store(false)

	if onProgress != nil {
		onProgress(progress)
	}
}

// computeContrastiveLoss scores sampled anchor/positive/negative triples:
// 0 loss per pair when positive shares the anchor's outcome class and
// negative does not, +0.5 for each side that disagrees.
func (t *Trainer) computeContrastiveLoss() float64 {
	pairs := t.buffer.SampleContrastivePairs(32)
	if len(pairs) == 0 {
		return 1.0
	}

	var total float64
	for _, p := range pairs {
		var loss float64
		if p.Anchor.Outcome.Success != p.Positive.Outcome.Success {
			loss += 0.5
		}
		if p.Anchor.Outcome.Success == p.Negative.Outcome.Success {
			loss += 0.5
		}
		total += loss
	}
	return total / float64(len(pairs))
}

// computeNextActionLoss simulates a sequence-position loss: later
// positions in an episode's action sequence are easier to predict than
// earlier ones.
func (t *Trainer) computeNextActionLoss() float64 {
	batch := t.buffer.SampleBatch(32)
	if len(batch.Episodes) == 0 {
		return 1.0
	}

	var total float64
	var valid int
	for _, ep := range batch.Episodes {
		if len(ep.Actions) < 2 {
			continue
		}
		for i := 0; i < len(ep.Actions)-1; i++ {
			seqLoss := 0.5 + 0.5*(1.0-float64(i)/float64(len(ep.Actions)))
			total += seqLoss
			valid++
		}
	}
	if valid == 0 {
		return 1.0
	}
	return total / float64(valid)
}

// simulatedOutcomeConfidence is the placeholder model's predicted
// probability used by computeOutcomeLoss's binary cross-entropy.
const simulatedOutcomeConfidence = 0.6

// computeOutcomeLoss is binary cross-entropy against a fixed simulated
// confidence, penalized further when the sampled batch's success/failure
// split is severely imbalanced (<0.2 minority ratio).
func (t *Trainer) computeOutcomeLoss() float64 {
	batch := t.buffer.SampleBatch(32)
	if len(batch.Episodes) == 0 {
		return 1.0
	}

	var total float64
	var successCount, failureCount int
	p := math.Min(math.Max(simulatedOutcomeConfidence, 0.001), 0.999)

	for _, ep := range batch.Episodes {
		if ep.Outcome.Success {
			successCount++
		} else {
			failureCount++
		}

		target := 0.0
		if ep.Outcome.Success {
			target = 1.0
		}
		bce := -target*math.Log(p) - (1-target)*math.Log(1-p)
		total += bce
	}

	if successCount > 0 && failureCount > 0 {
		minC, maxC := successCount, failureCount
		if maxC < minC {
			minC, maxC = maxC, minC
		}
		ratio := float64(minC) / float64(maxC)
		if ratio < 0.2 {
			total *= 1.0 + (0.2 - ratio)
		}
	}

	return total / float64(len(batch.Episodes))
}

// maskRate is the fraction of actions masked for the masked-tool
// prediction objective.
const maskRate = 0.15

// computeMaskedLoss simulates BERT-style masked-tool prediction: each
// action is independently masked with probability maskRate, and earlier
// positions are modeled as harder to predict.
func (t *Trainer) computeMaskedLoss() float64 {
	batch := t.buffer.SampleBatch(32)
	if len(batch.Episodes) == 0 {
		return 1.0
	}

	var total float64
	var maskedCount int
	for _, ep := range batch.Episodes {
		if len(ep.Actions) == 0 {
			continue
		}
		for i := range ep.Actions {
			if deterministicMask(ep.ID, i) {
				positionFactor := float64(i) / float64(len(ep.Actions))
				total += 0.8 - 0.3*positionFactor
				maskedCount++
			}
		}
	}

	if maskedCount == 0 {
		return 0.7
	}
	return total / float64(maskedCount)
}

// deterministicMask replaces the original's random mask draw with a
// stable hash-based selection at roughly maskRate frequency, so repeated
// calls against the same episode are reproducible.
func deterministicMask(episodeID string, position int) bool {
	h := fnv32(episodeID) + uint32(position)
	return float64(h%1000)/1000.0 < maskRate
}

func fnv32(s string) uint32 {
	const (
		offset32 = 2166136261
		prime32  = 16777619
	)
	h := uint32(offset32)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= prime32
	}
	return h
}

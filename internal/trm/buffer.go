package trm

import (
	"math/rand"
	"sync"

	"github.com/waddadaa/gpagent/internal/config"
	"github.com/waddadaa/gpagent/internal/memory"
)

// Batch is a training batch sampled from the buffer.
type Batch struct {
	Episodes []memory.Episode
	Indices  []int // original buffer indices, for tracking
}

// ContrastivePair is a sampled (anchor, positive, negative) triple for
// contrastive loss — positive shares the anchor's outcome, negative
// does not.
type ContrastivePair struct {
	Anchor   memory.Episode
	Positive memory.Episode
	Negative memory.Episode
}

// bufferCapMultiple bounds the buffer at this many times the configured
// training threshold, past which oldest episodes are evicted FIFO.
const bufferCapMultiple = 10

// Buffer holds episodes in memory for efficient sampling during
// training, evicting the oldest once it grows past
// min_episodes_before_training*10.
type Buffer struct {
	mu       sync.Mutex
	cfg      config.TRMConfig
	episodes []memory.Episode
	success  int
	failure  int
	rng      *rand.Rand
}

// NewBuffer creates an empty episode buffer.
func NewBuffer(cfg config.TRMConfig) *Buffer {
	return &Buffer{cfg: cfg, rng: rand.New(rand.NewSource(1))}
}

// Add appends an episode, updates the success/failure counters, and
// trims the buffer if it has grown past its cap.
func (b *Buffer) Add(ep memory.Episode) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.episodes = append(b.episodes, ep)
	if ep.Outcome.Success {
		b.success++
	} else {
		b.failure++
	}
	b.trimIfNeeded()
}

// trimIfNeeded must be called with mu held.
func (b *Buffer) trimIfNeeded() {
	capN := b.cfg.MinEpisodesBeforeTraining * bufferCapMultiple
	if capN <= 0 {
		return
	}
	for len(b.episodes) > capN {
		evicted := b.episodes[0]
		b.episodes = b.episodes[1:]
		if evicted.Outcome.Success {
			b.success--
		} else {
			b.failure--
		}
	}
}

// Size returns the number of episodes currently buffered.
func (b *Buffer) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.episodes)
}

// HasEnoughForTraining reports whether the buffer holds at least
// min_episodes_before_training episodes.
func (b *Buffer) HasEnoughForTraining() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.episodes) >= b.cfg.MinEpisodesBeforeTraining
}

// SampleBatch shuffles a copy of the buffer's indices and returns the
// first batchSize of them (shuffle-then-prefix sampling), capped at the
// buffer's current size.
func (b *Buffer) SampleBatch(batchSize int) Batch {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(b.episodes)
	if n == 0 {
		return Batch{}
	}
	if batchSize > n {
		batchSize = n
	}

	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	b.rng.Shuffle(n, func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
	idx = idx[:batchSize]

	out := Batch{Episodes: make([]memory.Episode, batchSize), Indices: idx}
	for i, j := range idx {
		out.Episodes[i] = b.episodes[j]
	}
	return out
}

// SampleContrastivePairs samples numPairs (anchor, positive, negative)
// triples. When both a same-outcome and other-outcome episode exist for
// a sampled anchor, positive is drawn from the anchor's outcome class
// and negative from the other; if either class is empty, pairs fall
// back to three random episodes (with best-effort, not guaranteed,
// distinctness).
func (b *Buffer) SampleContrastivePairs(numPairs int) []ContrastivePair {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(b.episodes)
	if n == 0 {
		return nil
	}

	var success, failure []int
	for i, ep := range b.episodes {
		if ep.Outcome.Success {
			success = append(success, i)
		} else {
			failure = append(failure, i)
		}
	}

	pairs := make([]ContrastivePair, 0, numPairs)
	for i := 0; i < numPairs; i++ {
		anchorIdx := b.rng.Intn(n)
		anchor := b.episodes[anchorIdx]

		var sameClass, otherClass []int
		if anchor.Outcome.Success {
			sameClass, otherClass = success, failure
		} else {
			sameClass, otherClass = failure, success
		}

		if len(sameClass) == 0 || len(otherClass) == 0 {
			// Fall back to three random episodes.
			pairs = append(pairs, ContrastivePair{
				Anchor:   anchor,
				Positive: b.episodes[b.rng.Intn(n)],
				Negative: b.episodes[b.rng.Intn(n)],
			})
			continue
		}

		pairs = append(pairs, ContrastivePair{
			Anchor:   anchor,
			Positive: b.episodes[sameClass[b.rng.Intn(len(sameClass))]],
			Negative: b.episodes[otherClass[b.rng.Intn(len(otherClass))]],
		})
	}
	return pairs
}

// All returns a copy of every buffered episode, for full-batch training.
func (b *Buffer) All() []memory.Episode {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]memory.Episode, len(b.episodes))
	copy(out, b.episodes)
	return out
}

// Clear empties the buffer, for use after a training run or on reset.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.episodes = nil
	b.success = 0
	b.failure = 0
}

// LoadFromMemory seeds the buffer from every episode in an episodic
// store, returning the number loaded.
func (b *Buffer) LoadFromMemory(store *memory.EpisodicStore) (int, error) {
	episodes, err := store.All()
	if err != nil {
		return 0, err
	}
	for _, ep := range episodes {
		b.Add(ep)
	}
	return len(episodes), nil
}

// SuccessfulEpisodes returns the episodes whose outcome succeeded.
func (b *Buffer) SuccessfulEpisodes() []memory.Episode {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []memory.Episode
	for _, ep := range b.episodes {
		if ep.Outcome.Success {
			out = append(out, ep)
		}
	}
	return out
}

// FailedEpisodes returns the episodes whose outcome did not succeed.
func (b *Buffer) FailedEpisodes() []memory.Episode {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []memory.Episode
	for _, ep := range b.episodes {
		if !ep.Outcome.Success {
			out = append(out, ep)
		}
	}
	return out
}

// SuccessRate returns successes / total, or 0 when the buffer is empty.
func (b *Buffer) SuccessRate() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	total := b.success + b.failure
	if total == 0 {
		return 0
	}
	return float64(b.success) / float64(total)
}

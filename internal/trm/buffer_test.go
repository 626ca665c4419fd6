package trm

import (
	"testing"
	"time"

	"github.com/waddadaa/gpagent/internal/memory"
)

func episodeWith(id string, success bool) memory.Episode {
	return memory.Episode{
		ID:        id,
		CreatedAt: time.Now(),
		Actions:   []memory.EpisodeAction{{Tool: "bash"}, {Tool: "grep"}},
		Outcome:   memory.Outcome{Success: success},
	}
}

func TestBufferAddUpdatesCountsAndSize(t *testing.T) {
	b := NewBuffer(testTRMConfig())
	b.Add(episodeWith("e1", true))
	b.Add(episodeWith("e2", false))

	if b.Size() != 2 {
		t.Fatalf("size = %d, want 2", b.Size())
	}
	if rate := b.SuccessRate(); rate != 0.5 {
		t.Errorf("success rate = %v, want 0.5", rate)
	}
}

func TestBufferTrimsAtCap(t *testing.T) {
	cfg := testTRMConfig()
	cfg.MinEpisodesBeforeTraining = 2 // cap = 20
	b := NewBuffer(cfg)
	for i := 0; i < 25; i++ {
		b.Add(episodeWith(indexID(i), true))
	}
	if b.Size() != 20 {
		t.Fatalf("size = %d, want 20 (capped at min_episodes*10)", b.Size())
	}
}

func TestHasEnoughForTraining(t *testing.T) {
	cfg := testTRMConfig()
	cfg.MinEpisodesBeforeTraining = 3
	b := NewBuffer(cfg)
	b.Add(episodeWith("e1", true))
	b.Add(episodeWith("e2", true))
	if b.HasEnoughForTraining() {
		t.Error("expected false below threshold")
	}
	b.Add(episodeWith("e3", true))
	if !b.HasEnoughForTraining() {
		t.Error("expected true at threshold")
	}
}

func TestSampleBatchCapsAtBufferSize(t *testing.T) {
	b := NewBuffer(testTRMConfig())
	b.Add(episodeWith("e1", true))
	b.Add(episodeWith("e2", false))

	batch := b.SampleBatch(10)
	if len(batch.Episodes) != 2 {
		t.Fatalf("batch size = %d, want 2 (capped at buffer size)", len(batch.Episodes))
	}
}

func TestSampleContrastivePairsUsesOutcomeClasses(t *testing.T) {
	b := NewBuffer(testTRMConfig())
	for i := 0; i < 5; i++ {
		b.Add(episodeWith(indexID(i), true))
	}
	for i := 5; i < 10; i++ {
		b.Add(episodeWith(indexID(i), false))
	}

	pairs := b.SampleContrastivePairs(8)
	if len(pairs) != 8 {
		t.Fatalf("pairs = %d, want 8", len(pairs))
	}
	for _, p := range pairs {
		if p.Anchor.Outcome.Success != p.Positive.Outcome.Success {
			t.Error("positive should share anchor's outcome class")
		}
		if p.Anchor.Outcome.Success == p.Negative.Outcome.Success {
			t.Error("negative should differ from anchor's outcome class")
		}
	}
}

func TestSampleContrastivePairsFallsBackWhenOneClassEmpty(t *testing.T) {
	b := NewBuffer(testTRMConfig())
	for i := 0; i < 5; i++ {
		b.Add(episodeWith(indexID(i), true))
	}
	// All episodes succeed; failure class is empty, so pairs should still
	// be produced via the random-triple fallback rather than panicking.
	pairs := b.SampleContrastivePairs(4)
	if len(pairs) != 4 {
		t.Fatalf("pairs = %d, want 4", len(pairs))
	}
}

func TestClearResetsBuffer(t *testing.T) {
	b := NewBuffer(testTRMConfig())
	b.Add(episodeWith("e1", true))
	b.Clear()
	if b.Size() != 0 {
		t.Errorf("size after Clear = %d, want 0", b.Size())
	}
	if b.SuccessRate() != 0 {
		t.Errorf("success rate after Clear = %v, want 0", b.SuccessRate())
	}
}

func TestSuccessfulAndFailedEpisodes(t *testing.T) {
	b := NewBuffer(testTRMConfig())
	b.Add(episodeWith("ok", true))
	b.Add(episodeWith("bad", false))

	if got := b.SuccessfulEpisodes(); len(got) != 1 || got[0].ID != "ok" {
		t.Errorf("SuccessfulEpisodes = %+v", got)
	}
	if got := b.FailedEpisodes(); len(got) != 1 || got[0].ID != "bad" {
		t.Errorf("FailedEpisodes = %+v", got)
	}
}

func indexID(i int) string {
	return "e" + string(rune('a'+i%26)) + string(rune('0'+i/26))
}

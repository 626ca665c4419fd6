package trm

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/waddadaa/gpagent/internal/config"
	"github.com/waddadaa/gpagent/internal/memory"
)

func testTRMConfig() config.TRMConfig {
	return config.Default().TRM
}

func TestNewModelStartsColdStart(t *testing.T) {
	m := NewModel(testTRMConfig())
	if m.Status() != ColdStart {
		t.Fatalf("status = %v, want ColdStart", m.Status())
	}
	if !m.IsReady() {
		t.Error("ColdStart should report IsReady true (serves fallback predictions)")
	}
}

func TestPredictColdStartUsesFallback(t *testing.T) {
	m := NewModel(testTRMConfig())
	pred, ok := m.Predict("please read the file config.yaml", []string{"file_read", "bash"}, nil)
	if !ok {
		t.Fatal("expected ColdStart prediction to succeed")
	}
	if pred.RecommendedTool != "file_read" {
		t.Errorf("recommended = %q, want file_read", pred.RecommendedTool)
	}
}

func TestPredictNotReadyWhenTraining(t *testing.T) {
	m := NewModel(testTRMConfig())
	m.setStatus(Training)
	if _, ok := m.Predict("run a command", []string{"bash"}, nil); ok {
		t.Error("expected Predict to fail while Training")
	}
}

func TestFallbackPredictLowConfidenceWithoutMatch(t *testing.T) {
	m := NewModel(testTRMConfig())
	pred := m.FallbackPredict("zzz zzz zzz", []string{"file_read", "bash"})
	if pred.Confidence != 0.1 {
		t.Errorf("confidence = %v, want 0.1 for no-keyword-match fallback", pred.Confidence)
	}
}

func TestHistoryBoostFavorsRecentTool(t *testing.T) {
	m := NewModel(testTRMConfig())
	m.setStatus(Ready)

	history := []memory.EpisodeAction{
		{Tool: "grep"},
		{Tool: "bash"},
	}
	pred, ok := m.Predict("look for a match in the code", []string{"grep", "bash"}, history)
	if !ok {
		t.Fatal("expected Ready prediction to succeed")
	}
	if pred.RecommendedTool != "grep" {
		t.Errorf("recommended = %q, want grep (keyword + history boosted)", pred.RecommendedTool)
	}
}

func TestSaveFailsOnlyWhenNotInitialized(t *testing.T) {
	m := &Model{status: NotInitialized}
	dir := t.TempDir()
	if err := m.Save(filepath.Join(dir, "model.bin")); err == nil {
		t.Error("expected Save to fail for NotInitialized status")
	}

	m.setStatus(ColdStart)
	if err := m.Save(filepath.Join(dir, "model.bin")); err != nil {
		t.Errorf("expected Save to succeed for ColdStart status: %v", err)
	}
}

func TestSaveThenLoadRoundTrip(t *testing.T) {
	m := NewModel(testTRMConfig())
	path := filepath.Join(t.TempDir(), "model.bin")

	if err := m.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != modelFileHeader {
		t.Fatalf("file contents = %q, want header %q", data, modelFileHeader)
	}

	loaded := NewModel(testTRMConfig())
	if err := loaded.Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Status() != Ready {
		t.Errorf("status after Load = %v, want Ready", loaded.Status())
	}
}

func TestLoadRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.bin")
	if err := os.WriteFile(path, []byte("not a model"), 0o644); err != nil {
		t.Fatal(err)
	}
	m := NewModel(testTRMConfig())
	if err := m.Load(path); err == nil {
		t.Error("expected Load to reject a file without the expected header")
	}
}

func TestCanStartTrainingThreshold(t *testing.T) {
	cfg := testTRMConfig()
	cfg.MinEpisodesBeforeTraining = 5
	m := NewModel(cfg)
	if m.CanStartTraining(4) {
		t.Error("expected false below threshold")
	}
	if !m.CanStartTraining(5) {
		t.Error("expected true at threshold")
	}
}

package builtin

import (
	"context"
	"encoding/json"
	"testing"
)

func TestAskUserReturnsStructuredPrompt(t *testing.T) {
	out, err := askUserHandler(context.Background(), map[string]any{"question": "Which branch should I target?"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var resp askUserResponse
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("expected valid JSON output, got %q: %v", out, err)
	}
	if !resp.NeedsInput || resp.Question != "Which branch should I target?" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestAskUserMissingQuestionFails(t *testing.T) {
	if _, err := askUserHandler(context.Background(), map[string]any{}); err == nil {
		t.Fatal("expected an error for a missing question")
	}
}

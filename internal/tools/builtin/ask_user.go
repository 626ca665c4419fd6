package builtin

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/waddadaa/gpagent/internal/llm"
	"github.com/waddadaa/gpagent/internal/tools"
)

// askUserResponse is what the ask_user handler returns: a structured
// "needs human input" marker. gpagent's core is headless — there is no
// GUI to block on here — so the handler never waits; it surfaces the
// question as tool output for whatever surface (CLI, chat UI) is
// driving the session to relay and re-invoke with the answer.
type askUserResponse struct {
	NeedsInput bool   `json:"needs_input"`
	Question   string `json:"question"`
}

// AskUserSpec returns the ask_user tool spec.
func AskUserSpec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        "ask_user",
		Description: "Ask the human operator a clarifying question. Does not block — the caller must surface the question and resume the turn once an answer arrives.",
		Keywords:    []string{"ask", "clarify", "human", "question"},
		Parameters: []llm.Parameter{
			{Name: "question", Type: llm.ParamString, Required: true},
		},
	}
}

// RegisterAskUser registers ask_user against reg.
func RegisterAskUser(reg *tools.Registry) error {
	return reg.Register(AskUserSpec(), askUserHandler, "builtin")
}

func askUserHandler(ctx context.Context, args map[string]any) (string, error) {
	question, _ := args["question"].(string)
	if question == "" {
		return "", fmt.Errorf("ask_user: question is required")
	}
	out, err := json.Marshal(askUserResponse{NeedsInput: true, Question: question})
	if err != nil {
		return "", err
	}
	return string(out), nil
}

package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"

	"github.com/waddadaa/gpagent/internal/errkind"
)

// GeminiProvider is a Provider backed by Google's Gemini API via the
// google.golang.org/genai SDK.
type GeminiProvider struct {
	apiKey string
	model  string
	client *genai.Client
	logger *slog.Logger
}

// NewGeminiProvider creates a new Gemini provider bound to model. The
// underlying genai client is constructed lazily on first use so that a
// Gateway can hold a GeminiProvider with an empty apiKey (IsAvailable
// reports false, and the Gateway never dispatches to it) without paying
// for a client dial.
func NewGeminiProvider(apiKey, model string, logger *slog.Logger) *GeminiProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &GeminiProvider{
		apiKey: apiKey,
		model:  model,
		logger: logger.With("provider", "gemini"),
	}
}

// Name implements Provider.
func (p *GeminiProvider) Name() string { return "gemini" }

// IsAvailable implements Provider.
func (p *GeminiProvider) IsAvailable() bool { return p.apiKey != "" }

func (p *GeminiProvider) ensureClient(ctx context.Context) (*genai.Client, error) {
	if p.client != nil {
		return p.client, nil
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: p.apiKey})
	if err != nil {
		return nil, errkind.Wrap(errkind.LLMConnectionFailed, err)
	}
	p.client = client
	return client, nil
}

// Complete implements Provider.
func (p *GeminiProvider) Complete(ctx context.Context, req Request) (Response, error) {
	return p.dispatch(ctx, req, nil)
}

// Stream implements Provider.
func (p *GeminiProvider) Stream(ctx context.Context, req Request, callback StreamCallback) (Response, error) {
	return p.dispatch(ctx, req, callback)
}

func (p *GeminiProvider) dispatch(ctx context.Context, req Request, callback StreamCallback) (Response, error) {
	client, err := p.ensureClient(ctx)
	if err != nil {
		return Response{}, err
	}

	model := req.Model
	if model == "" {
		model = p.model
	}

	contents, systemPrompt := convertToGemini(req.Messages)
	if req.SystemPrompt != "" {
		if systemPrompt != "" {
			systemPrompt = req.SystemPrompt + "\n\n" + systemPrompt
		} else {
			systemPrompt = req.SystemPrompt
		}
	}

	temp := float32(req.Temperature)
	cfg := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(req.MaxTokens),
		Temperature:     &temp,
		StopSequences:   req.StopSequences,
	}
	if systemPrompt != "" {
		cfg.SystemInstruction = genai.NewContentFromText(systemPrompt, genai.RoleUser)
	}
	if tools := convertToolsToGemini(req.Tools); len(tools) > 0 {
		cfg.Tools = tools
	}

	if callback == nil {
		result, err := client.Models.GenerateContent(ctx, model, contents, cfg)
		if err != nil {
			return Response{}, classifyGeminiError(err)
		}
		return convertFromGemini(model, result), nil
	}

	return p.streamChat(ctx, client, model, contents, cfg, callback)
}

// streamChat has no native incremental transport wired here (the genai SDK's
// streaming iterator shape varies across SDK versions); it synthesizes
// callback events by word-chunking the completed response, satisfying the
// streaming callback contract via the pseudo-streaming fallback permitted
// for providers without native SSE.
func (p *GeminiProvider) streamChat(ctx context.Context, client *genai.Client, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig, callback StreamCallback) (Response, error) {
	result, err := client.Models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		return Response{}, classifyGeminiError(err)
	}
	resp := convertFromGemini(model, result)

	for _, word := range strings.SplitAfter(resp.Content, " ") {
		if word == "" {
			continue
		}
		callback(StreamEvent{Kind: KindToken, Token: word})
	}
	for i := range resp.ToolCalls {
		callback(StreamEvent{Kind: KindToolCallDone, ToolCall: &resp.ToolCalls[i]})
	}
	callback(StreamEvent{Kind: KindDone})

	return resp, nil
}

// convertToGemini converts internal messages to Gemini's Content/Part
// shape, applying the shared tool-call integrity rule before doing so.
// System messages are extracted and returned separately — Gemini carries
// the system prompt out of band via GenerateContentConfig.SystemInstruction.
func convertToGemini(messages []Message) ([]*genai.Content, string) {
	messages = FormatMessages(messages)

	var systemParts []string
	var result []*genai.Content

	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			systemParts = append(systemParts, msg.Content)

		case RoleUser:
			result = append(result, genai.NewContentFromText(msg.Content, genai.RoleUser))

		case RoleAssistant:
			var parts []*genai.Part
			if msg.Content != "" {
				parts = append(parts, genai.NewPartFromText(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				parts = append(parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{Name: tc.Name, Args: tc.Arguments},
				})
			}
			result = append(result, &genai.Content{Role: genai.RoleModel, Parts: parts})

		case RoleTool:
			result = append(result, &genai.Content{
				Role: genai.RoleUser,
				Parts: []*genai.Part{{
					FunctionResponse: &genai.FunctionResponse{
						Name:     msg.ToolCallID,
						Response: map[string]any{"output": msg.Content},
					},
				}},
			})
		}
	}

	return result, joinNonEmpty(systemParts)
}

func joinNonEmpty(parts []string) string {
	out := ""
	for i, s := range parts {
		if i > 0 {
			out += "\n\n"
		}
		out += s
	}
	return out
}

// convertToolsToGemini converts provider-agnostic ToolSpecs to Gemini's
// FunctionDeclaration shape.
func convertToolsToGemini(tools []ToolSpec) []*genai.Tool {
	if len(tools) == 0 {
		return nil
	}
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, tool := range tools {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  toolSpecToGeminiSchema(tool),
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

func toolSpecToGeminiSchema(tool ToolSpec) *genai.Schema {
	properties := make(map[string]*genai.Schema, len(tool.Parameters))
	var required []string
	for _, p := range tool.Parameters {
		properties[p.Name] = &genai.Schema{
			Type:        genaiSchemaType(p.Type),
			Description: p.Description,
			Enum:        p.Enum,
		}
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return &genai.Schema{
		Type:       genai.TypeObject,
		Properties: properties,
		Required:   required,
	}
}

func genaiSchemaType(t ParamType) genai.Type {
	switch t {
	case ParamString:
		return genai.TypeString
	case ParamInteger:
		return genai.TypeInteger
	case ParamNumber:
		return genai.TypeNumber
	case ParamBoolean:
		return genai.TypeBoolean
	case ParamArray:
		return genai.TypeArray
	case ParamObject:
		return genai.TypeObject
	default:
		return genai.TypeString
	}
}

func convertFromGemini(model string, resp *genai.GenerateContentResponse) Response {
	out := Response{Model: model, Usage: geminiUsage(resp), StopReason: StopEndTurn}
	if len(resp.Candidates) == 0 {
		return out
	}
	cand := resp.Candidates[0]
	out.StopReason = normalizeGeminiStopReason(string(cand.FinishReason))
	if cand.Content == nil {
		return out
	}
	var text string
	var toolCalls []ToolCall
	for _, part := range cand.Content.Parts {
		switch {
		case part.Text != "":
			text += part.Text
		case part.FunctionCall != nil:
			toolCalls = append(toolCalls, ToolCall{Name: part.FunctionCall.Name, Arguments: part.FunctionCall.Args})
		}
	}
	out.Content = text
	out.ToolCalls = toolCalls
	return out
}

func geminiUsage(resp *genai.GenerateContentResponse) Usage {
	if resp == nil || resp.UsageMetadata == nil {
		return Usage{}
	}
	return Usage{
		InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
		OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
	}
}

func normalizeGeminiStopReason(reason string) StopReason {
	switch reason {
	case "STOP", "":
		return StopEndTurn
	case "MAX_TOKENS":
		return StopMaxTokens
	default:
		return StopError
	}
}

func classifyGeminiError(err error) error {
	return errkind.Wrap(errkind.LLMConnectionFailed, fmt.Errorf("gemini: %w", err))
}

package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/waddadaa/gpagent/internal/errkind"
	"github.com/waddadaa/gpagent/internal/httpkit"
)

// encodeBase64 encodes attachment bytes for the Anthropic image source block.
func encodeBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

const (
	anthropicAPIURL     = "https://api.anthropic.com/v1/messages"
	anthropicAPIVersion = "2023-06-01"
	anthropicDefaultMaxTokens = 4096
)

// AnthropicProvider is a Provider backed by the Anthropic Messages API.
type AnthropicProvider struct {
	apiKey     string
	model      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewAnthropicProvider creates a new Anthropic provider bound to model.
func NewAnthropicProvider(apiKey, model string, logger *slog.Logger) *AnthropicProvider {
	if logger == nil {
		logger = slog.Default()
	}
	// LLM responses can take significant time before sending headers
	// (thinking, long prompts). Use a custom transport with a generous
	// response header timeout. Streaming and non-streaming requests both
	// benefit.
	t := httpkit.NewTransport()
	t.ResponseHeaderTimeout = 120 * time.Second

	return &AnthropicProvider{
		apiKey: apiKey,
		model:  model,
		logger: logger.With("provider", "anthropic"),
		httpClient: httpkit.NewClient(
			// No global timeout — streaming responses can be long-lived.
			// Rely on ctx deadlines/cancellation for timeout control.
			httpkit.WithTimeout(0),
			httpkit.WithTransport(t),
		),
	}
}

// Name implements Provider.
func (c *AnthropicProvider) Name() string { return "anthropic" }

// IsAvailable implements Provider.
func (c *AnthropicProvider) IsAvailable() bool { return c.apiKey != "" }

// Anthropic request/response wire types.

type anthropicRequest struct {
	Model     string             `json:"model"`
	Messages  []anthropicMessage `json:"messages"`
	System    string             `json:"system,omitempty"`
	MaxTokens int                `json:"max_tokens"`
	Stream    bool               `json:"stream,omitempty"`
	Tools     []anthropicTool    `json:"tools,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"` // string or []anthropicContent
}

type anthropicContent struct {
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	Input     any    `json:"input,omitempty"`
	Source    *anthropicImageSource `json:"source,omitempty"`
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   any    `json:"content,omitempty"` // string, or []anthropicContent for tool_result
}

type anthropicImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type anthropicTool struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	InputSchema any    `json:"input_schema"`
}

type anthropicResponse struct {
	ID           string             `json:"id"`
	Type         string             `json:"type"`
	Role         string             `json:"role"`
	Content      []anthropicContent `json:"content"`
	Model        string             `json:"model"`
	StopReason   string             `json:"stop_reason"`
	StopSequence *string            `json:"stop_sequence"`
	Usage        anthropicUsage     `json:"usage"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// SSE event types for streaming.
type anthropicStreamEvent struct {
	Type         string             `json:"type"`
	Index        int                `json:"index,omitempty"`
	ContentBlock *anthropicContent  `json:"content_block,omitempty"`
	Delta        *anthropicDelta    `json:"delta,omitempty"`
	Message      *anthropicResponse `json:"message,omitempty"`
	Usage        *anthropicUsage    `json:"usage,omitempty"`
}

type anthropicDelta struct {
	Type         string `json:"type,omitempty"`
	Text         string `json:"text,omitempty"`
	PartialJSON  string `json:"partial_json,omitempty"`
	StopReason   string `json:"stop_reason,omitempty"`
	StopSequence string `json:"stop_sequence,omitempty"`
}

// Complete implements Provider.
func (c *AnthropicProvider) Complete(ctx context.Context, req Request) (Response, error) {
	return c.dispatch(ctx, req, nil)
}

// Stream implements Provider.
func (c *AnthropicProvider) Stream(ctx context.Context, req Request, callback StreamCallback) (Response, error) {
	return c.dispatch(ctx, req, callback)
}

func (c *AnthropicProvider) dispatch(ctx context.Context, req Request, callback StreamCallback) (Response, error) {
	start := time.Now()
	stream := callback != nil

	anthropicMsgs, systemPrompt := convertToAnthropic(req.Messages)
	if req.SystemPrompt != "" {
		if systemPrompt != "" {
			systemPrompt = req.SystemPrompt + "\n\n" + systemPrompt
		} else {
			systemPrompt = req.SystemPrompt
		}
	}
	anthropicTools := convertToolsToAnthropic(req.Tools)

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = anthropicDefaultMaxTokens
	}

	model := req.Model
	if model == "" {
		model = c.model
	}

	c.logger.Debug("preparing request",
		"model", model,
		"messages", len(anthropicMsgs),
		"tools", len(anthropicTools),
		"stream", stream,
		"system_len", len(systemPrompt),
	)

	wireReq := anthropicRequest{
		Model:     model,
		Messages:  anthropicMsgs,
		System:    systemPrompt,
		MaxTokens: maxTokens,
		Stream:    stream,
		Tools:     anthropicTools,
	}

	jsonData, err := json.Marshal(wireReq)
	if err != nil {
		return Response{}, fmt.Errorf("marshal request: %w", err)
	}

	c.logger.Log(ctx, LevelTrace, "request payload", "json", string(jsonData))

	httpReq, err := http.NewRequestWithContext(ctx, "POST", anthropicAPIURL, bytes.NewReader(jsonData))
	if err != nil {
		return Response{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Response{}, errkind.Wrap(errkind.LLMConnectionFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody := httpkit.ReadErrorBody(resp.Body, 4096)
		c.logger.Error("API error", "status", resp.StatusCode, "body", errBody)
		return Response{}, classifyAnthropicStatus(resp.StatusCode, errBody)
	}

	var result Response
	if !stream {
		result, err = c.handleNonStreaming(ctx, resp.Body)
	} else {
		result, err = c.handleStreaming(ctx, resp.Body, callback)
	}
	if err != nil {
		return Response{}, err
	}
	result.Latency = time.Since(start)
	return result, nil
}

// classifyAnthropicStatus maps an Anthropic HTTP status code to the shared
// error taxonomy so the Gateway's failover decision has something to
// inspect.
func classifyAnthropicStatus(status int, body string) error {
	switch {
	case status == http.StatusTooManyRequests:
		return errkind.Newf(errkind.LLMRateLimited, "anthropic rate limited: %s", body)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return errkind.Newf(errkind.LLMApiKeyMissing, "anthropic auth error %d: %s", status, body)
	case status >= 500:
		return errkind.Newf(errkind.LLMConnectionFailed, "anthropic server error %d: %s", status, body)
	default:
		return errkind.Newf(errkind.LLMInvalidResponse, "anthropic API error %d: %s", status, body)
	}
}

func (c *AnthropicProvider) handleNonStreaming(ctx context.Context, body io.Reader) (Response, error) {
	var resp anthropicResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return Response{}, errkind.Wrap(errkind.LLMInvalidResponse, err)
	}
	result := convertFromAnthropic(&resp)

	c.logger.Debug("response received",
		"model", result.Model,
		"input_tokens", result.Usage.InputTokens,
		"output_tokens", result.Usage.OutputTokens,
		"tool_calls", len(result.ToolCalls),
	)
	c.logger.Log(ctx, LevelTrace, "response content", "content", result.Content)

	return result, nil
}

func (c *AnthropicProvider) handleStreaming(ctx context.Context, body io.Reader, callback StreamCallback) (Response, error) {
	scanner := bufio.NewScanner(body)
	// Increase scanner buffer for large responses.
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var (
		contentBuilder strings.Builder
		toolCalls      []ToolCall
		currentTool    *anthropicContent
		toolJSONBuf    strings.Builder
		stopReason     string
		usage          anthropicUsage
		model          string
	)

	for scanner.Scan() {
		line := scanner.Text()

		// SSE format: "event: <type>" followed by "data: <json>".
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		data := strings.TrimSpace(strings.TrimPrefix(line, "data: "))
		if data == "[DONE]" {
			break
		}

		var event anthropicStreamEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			continue // skip malformed events
		}

		switch event.Type {
		case "message_start":
			if event.Message != nil {
				model = event.Message.Model
				usage = event.Message.Usage
			}

		case "content_block_start":
			if event.ContentBlock != nil && event.ContentBlock.Type == "tool_use" {
				currentTool = event.ContentBlock
				toolJSONBuf.Reset()
				if callback != nil {
					callback(StreamEvent{
						Kind:     KindToolCallStart,
						ToolCall: &ToolCall{ID: currentTool.ID, Name: currentTool.Name},
					})
				}
			}

		case "content_block_delta":
			if event.Delta != nil {
				switch event.Delta.Type {
				case "text_delta":
					contentBuilder.WriteString(event.Delta.Text)
					if callback != nil {
						callback(StreamEvent{Kind: KindToken, Token: event.Delta.Text})
					}
				case "input_json_delta":
					toolJSONBuf.WriteString(event.Delta.PartialJSON)
				}
			}

		case "content_block_stop":
			if currentTool != nil {
				var args map[string]any
				if toolJSONBuf.Len() > 0 {
					if err := json.Unmarshal([]byte(toolJSONBuf.String()), &args); err != nil {
						args = map[string]any{"_raw": toolJSONBuf.String()}
					}
				}
				tc := ToolCall{ID: currentTool.ID, Name: currentTool.Name, Arguments: args}
				toolCalls = append(toolCalls, tc)
				if callback != nil {
					callback(StreamEvent{Kind: KindToolCallDone, ToolCall: &tc})
				}
				currentTool = nil
			}

		case "message_delta":
			if event.Delta != nil {
				stopReason = event.Delta.StopReason
			}
			if event.Usage != nil {
				usage.OutputTokens = event.Usage.OutputTokens
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return Response{}, errkind.Wrap(errkind.LLMStreamError, err)
	}

	resp := Response{
		Model:      model,
		Content:    contentBuilder.String(),
		ToolCalls:  toolCalls,
		StopReason: normalizeAnthropicStopReason(stopReason),
		Usage:      Usage{InputTokens: usage.InputTokens, OutputTokens: usage.OutputTokens},
	}

	if callback != nil {
		callback(StreamEvent{Kind: KindDone})
	}

	c.logger.Debug("stream complete",
		"model", resp.Model,
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens,
		"content_len", len(resp.Content),
		"tool_calls", len(resp.ToolCalls),
	)
	c.logger.Log(ctx, LevelTrace, "stream final content", "content", resp.Content)

	return resp, nil
}

// convertToAnthropic converts internal messages to Anthropic format,
// applying the shared tool-call integrity rule (orphan Tool messages
// dropped) before doing so.
func convertToAnthropic(messages []Message) ([]anthropicMessage, string) {
	messages = FormatMessages(messages)

	var systemParts []string
	var result []anthropicMessage

	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			systemParts = append(systemParts, msg.Content)

		case RoleAssistant:
			if len(msg.ToolCalls) > 0 {
				var blocks []anthropicContent
				if msg.Content != "" {
					blocks = append(blocks, anthropicContent{Type: "text", Text: msg.Content})
				}
				for i, tc := range msg.ToolCalls {
					args := tc.Arguments
					if args == nil {
						args = map[string]any{}
					}
					id := tc.ID
					if id == "" {
						id = fmt.Sprintf("toolu_%s_%d", tc.Name, i)
					}
					blocks = append(blocks, anthropicContent{
						Type:  "tool_use",
						ID:    id,
						Name:  tc.Name,
						Input: args,
					})
				}
				result = append(result, anthropicMessage{Role: "assistant", Content: blocks})
			} else {
				result = append(result, anthropicMessage{Role: "assistant", Content: msg.Content})
			}

		case RoleTool:
			result = append(result, anthropicMessage{
				Role: "user",
				Content: []anthropicContent{{
					Type:      "tool_result",
					ToolUseID: msg.ToolCallID,
					Content:   msg.Content,
				}},
			})

		case RoleUser:
			result = append(result, anthropicMessage{Role: "user", Content: userContent(msg)})
		}
	}

	system := strings.Join(systemParts, "\n\n")
	return result, system
}

// userContent builds either a plain string or a content-block array for a
// user message, depending on whether it carries attachments.
func userContent(msg Message) any {
	if len(msg.Attachments) == 0 {
		return msg.Content
	}
	var blocks []anthropicContent
	if msg.Content != "" {
		blocks = append(blocks, anthropicContent{Type: "text", Text: msg.Content})
	}
	for _, a := range msg.Attachments {
		blocks = append(blocks, anthropicContent{
			Type: "image",
			Source: &anthropicImageSource{
				Type:      "base64",
				MediaType: string(a.MediaType),
				Data:      encodeBase64(a.Data),
			},
		})
	}
	return blocks
}

// convertToolsToAnthropic converts provider-agnostic ToolSpecs to the
// Anthropic tools wire shape.
func convertToolsToAnthropic(tools []ToolSpec) []anthropicTool {
	if len(tools) == 0 {
		return nil
	}

	result := make([]anthropicTool, 0, len(tools))
	for _, tool := range tools {
		result = append(result, anthropicTool{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: toolSpecToJSONSchema(tool),
		})
	}
	return result
}

// toolSpecToJSONSchema renders a ToolSpec's parameter list as a JSON
// schema object, the shape every provider's tool-calling API expects.
func toolSpecToJSONSchema(tool ToolSpec) map[string]any {
	properties := make(map[string]any, len(tool.Parameters))
	var required []string
	for _, p := range tool.Parameters {
		prop := map[string]any{
			"type":        string(p.Type),
			"description": p.Description,
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		if p.Default != nil {
			prop["default"] = p.Default
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// convertFromAnthropic converts an Anthropic response to our internal format.
func convertFromAnthropic(resp *anthropicResponse) Response {
	var content strings.Builder
	var toolCalls []ToolCall

	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			content.WriteString(block.Text)
		case "tool_use":
			args, ok := block.Input.(map[string]any)
			if !ok {
				args = map[string]any{}
			}
			toolCalls = append(toolCalls, ToolCall{ID: block.ID, Name: block.Name, Arguments: args})
		}
	}

	return Response{
		Model:      resp.Model,
		Content:    content.String(),
		ToolCalls:  toolCalls,
		StopReason: normalizeAnthropicStopReason(resp.StopReason),
		Usage:      Usage{InputTokens: resp.Usage.InputTokens, OutputTokens: resp.Usage.OutputTokens},
	}
}

func normalizeAnthropicStopReason(reason string) StopReason {
	switch reason {
	case "end_turn", "":
		return StopEndTurn
	case "max_tokens":
		return StopMaxTokens
	case "tool_use":
		return StopToolUse
	case "stop_sequence":
		return StopStopSequence
	default:
		return StopError
	}
}

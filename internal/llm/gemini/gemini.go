// Package gemini is the Google Gemini runner. Gemini speaks a different
// dialect than the conversation loop does: roles are user/model, tool calls
// are functionCall parts without IDs, and function responses are keyed by
// function name. This package translates both directions so the loop only
// ever sees the normalized request and response shapes.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/engezna/engezna-agent/internal/llm"
)

const (
	defaultBaseURL   = "https://generativelanguage.googleapis.com"
	defaultMaxTokens = 4096
)

// callSeq feeds the synthetic tool-use IDs. Gemini does not assign call IDs,
// but the loop threads results back by ID, so each functionCall gets a
// process-unique one. A per-response counter would collide across rounds of
// the same conversation.
var callSeq atomic.Int64

// Client implements llm.Provider against the generateContent endpoint.
type Client struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures the Gemini client.
type Option func(*Client)

// WithBaseURL overrides the API base URL (useful for testing).
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = url }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a Gemini provider.
func NewClient(apiKey, model string, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		apiKey:     apiKey,
		model:      model,
		baseURL:    defaultBaseURL,
		httpClient: http.DefaultClient,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Name() string { return "gemini" }

// SendMessage sends the conversation to the generateContent API and
// normalizes the reply.
func (c *Client) SendMessage(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	payload, err := json.Marshal(c.translate(req))
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.baseURL, c.model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", c.apiKey)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", httpResp.StatusCode, string(respBody))
	}

	var genResp genResponse
	if err := json.Unmarshal(respBody, &genResp); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}

	resp := normalize(&genResp)

	c.logger.DebugContext(ctx, "llm request completed",
		slog.String("provider", "gemini"),
		slog.String("model", c.model),
		slog.Int("input_tokens", resp.Usage.InputTokens),
		slog.Int("output_tokens", resp.Usage.OutputTokens),
		slog.String("stop_reason", resp.StopReason),
	)

	return resp, nil
}

// translate converts the normalized request into Gemini wire form.
func (c *Client) translate(req *llm.Request) genRequest {
	// Function responses are keyed by name, not call ID; recover the names
	// from the tool_use blocks earlier in the conversation.
	names := make(map[string]string)
	for _, m := range req.Messages {
		if m.Role != llm.RoleAssistant {
			continue
		}
		for _, b := range m.ContentBlocks {
			if b.Type == "tool_use" && b.ID != "" {
				names[b.ID] = b.Name
			}
		}
	}

	out := genRequest{
		GenerationConfig: &genConfig{MaxOutputTokens: defaultMaxTokens},
	}
	if req.MaxTokens > 0 {
		out.GenerationConfig.MaxOutputTokens = req.MaxTokens
	}
	if req.SystemPrompt != "" {
		out.SystemInstruction = &genContent{Parts: []genPart{{Text: req.SystemPrompt}}}
	}
	for _, m := range req.Messages {
		out.Contents = append(out.Contents, translateMessage(m, names))
	}

	if len(req.Tools) > 0 {
		decls := make([]genFunctionDecl, len(req.Tools))
		for i, t := range req.Tools {
			decls[i] = genFunctionDecl{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.InputSchema,
			}
		}
		out.Tools = []genTool{{FunctionDeclarations: decls}}
	}

	return out
}

func translateMessage(m llm.Message, names map[string]string) genContent {
	role := "user"
	if m.Role == llm.RoleAssistant {
		role = "model"
	}

	if len(m.ContentBlocks) == 0 {
		return genContent{Role: role, Parts: []genPart{{Text: m.Content}}}
	}

	parts := make([]genPart, 0, len(m.ContentBlocks))
	for _, b := range m.ContentBlocks {
		switch b.Type {
		case "text":
			parts = append(parts, genPart{Text: b.Text})
		case "tool_use":
			parts = append(parts, genPart{
				FunctionCall: &genFunctionCall{Name: b.Name, Args: b.Input},
			})
		case "tool_result":
			parts = append(parts, genPart{
				FunctionResponse: &genFunctionResponse{
					Name:     names[b.ToolUseID],
					Response: map[string]any{"content": b.Text},
				},
			})
		}
	}
	return genContent{Role: role, Parts: parts}
}

// normalize folds the first candidate into the shared response shape,
// assigning synthetic IDs to function calls.
func normalize(genResp *genResponse) *llm.Response {
	out := &llm.Response{Usage: tokenUsage(genResp)}
	if len(genResp.Candidates) == 0 {
		return out
	}

	candidate := genResp.Candidates[0]
	toolCalls := false
	for _, part := range candidate.Content.Parts {
		if part.Text != "" {
			out.Content += part.Text
			out.ContentBlocks = append(out.ContentBlocks, llm.TextBlock(part.Text))
		}
		if part.FunctionCall != nil {
			toolCalls = true
			id := fmt.Sprintf("gmn_call_%d", callSeq.Add(1))
			out.ContentBlocks = append(out.ContentBlocks,
				llm.ToolUseBlock(id, part.FunctionCall.Name, part.FunctionCall.Args))
		}
	}

	out.StopReason = stopReason(candidate.FinishReason, toolCalls)
	return out
}

func tokenUsage(genResp *genResponse) llm.Usage {
	if genResp.UsageMetadata == nil {
		return llm.Usage{}
	}
	return llm.Usage{
		InputTokens:  genResp.UsageMetadata.PromptTokenCount,
		OutputTokens: genResp.UsageMetadata.CandidatesTokenCount,
	}
}

// stopReason maps Gemini finish reasons onto the Anthropic-style vocabulary
// the loop branches on. Any functionCall part means tool_use regardless of
// the reported reason.
func stopReason(reason string, toolCalls bool) string {
	if toolCalls {
		return "tool_use"
	}
	switch reason {
	case "STOP":
		return "end_turn"
	case "MAX_TOKENS":
		return "max_tokens"
	default:
		return reason
	}
}

// Gemini wire types.

type genRequest struct {
	Contents          []genContent `json:"contents"`
	SystemInstruction *genContent  `json:"system_instruction,omitempty"`
	Tools             []genTool    `json:"tools,omitempty"`
	GenerationConfig  *genConfig   `json:"generation_config,omitempty"`
}

type genContent struct {
	Role  string    `json:"role,omitempty"`
	Parts []genPart `json:"parts"`
}

type genPart struct {
	Text             string               `json:"text,omitempty"`
	FunctionCall     *genFunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *genFunctionResponse `json:"functionResponse,omitempty"`
}

type genFunctionCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

type genFunctionResponse struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

type genTool struct {
	FunctionDeclarations []genFunctionDecl `json:"function_declarations"`
}

type genFunctionDecl struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type genConfig struct {
	MaxOutputTokens int `json:"maxOutputTokens,omitempty"`
}

type genResponse struct {
	Candidates    []genCandidate `json:"candidates"`
	UsageMetadata *genUsage      `json:"usageMetadata,omitempty"`
}

type genCandidate struct {
	Content      genContent `json:"content"`
	FinishReason string     `json:"finishReason"`
}

type genUsage struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
}

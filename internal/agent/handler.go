package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/engezna/engezna-agent/internal/embeddings"
	"github.com/engezna/engezna-agent/internal/llm"
	"github.com/engezna/engezna-agent/internal/memory"
	"github.com/engezna/engezna-agent/internal/observability"
	"github.com/engezna/engezna-agent/internal/prompt"
	"github.com/engezna/engezna-agent/internal/ratelimit"
	"github.com/engezna/engezna-agent/internal/storage"
	"github.com/engezna/engezna-agent/internal/tools"
)

// providerRetryDelay is the backoff before the single provider retry.
const providerRetryDelay = 2 * time.Second

// Handler drives one conversation turn at a time. Safe for concurrent use
// across customers; within one turn everything is sequential.
type Handler struct {
	provider llm.Provider
	registry *tools.Registry
	limiter  *ratelimit.Limiter
	store    storage.Store
	embedder embeddings.Embedder // nil = keyword search only
	obs      *observability.Observability
	logger   *slog.Logger

	maxRounds   int // 0 = DefaultMaxRounds
	maxTokens   int
	maxHistory  int           // 0 = DefaultMaxHistoryMessages
	retryDelay  time.Duration // overridable in tests
	memoryDelay func()        // test hook: invoked before async memory persist
}

// NewHandler creates a turn handler.
func NewHandler(provider llm.Provider, registry *tools.Registry, limiter *ratelimit.Limiter, store storage.Store, logger *slog.Logger) *Handler {
	return &Handler{
		provider:   provider,
		registry:   registry,
		limiter:    limiter,
		store:      store,
		logger:     logger,
		retryDelay: providerRetryDelay,
	}
}

// WithEmbedder attaches a semantic-search embedder.
func (h *Handler) WithEmbedder(e embeddings.Embedder) *Handler {
	h.embedder = e
	return h
}

// WithObservability attaches metrics and tracing.
func (h *Handler) WithObservability(obs *observability.Observability) *Handler {
	h.obs = obs
	return h
}

// WithMaxRounds sets the tool-call round cap for a turn.
func (h *Handler) WithMaxRounds(n int) *Handler {
	h.maxRounds = n
	return h
}

// WithMaxTokens sets the per-request token ceiling passed to the provider.
func (h *Handler) WithMaxTokens(n int) *Handler {
	h.maxTokens = n
	return h
}

// WithMaxHistory bounds the number of history messages sent to the provider.
func (h *Handler) WithMaxHistory(n int) *Handler {
	h.maxHistory = n
	return h
}

// HandleTurn runs one full customer turn: load memory, build the prompt,
// drive the bounded tool-calling loop, and persist memory after responding.
//
// The customer always receives natural-language text. Provider failures are
// retried once with backoff; a second failure or hitting the round cap yields
// a localized apologetic fallback rather than an error the gateway would have
// to translate.
func (h *Handler) HandleTurn(ctx context.Context, input *Input) (*Response, error) {
	return h.handleTurn(ctx, input, nil)
}

// handleTurn is the turn body. onToolResult, when non-nil, receives each tool
// call's summary as it completes; streamed turns use it for progress frames.
func (h *Handler) handleTurn(ctx context.Context, input *Input, onToolResult func(ToolCallResult)) (*Response, error) {
	if h.obs != nil && h.obs.Tracer != nil {
		var span trace.Span
		ctx, span = h.obs.Tracer.Tracer().Start(ctx, "agent.turn",
			trace.WithAttributes(
				attribute.String("customer_id", input.CustomerID),
				attribute.String("locale", input.Locale),
				attribute.String("correlation_id", input.CorrelationID),
			))
		defer span.End()
	}

	if input.Locale == "" {
		input.Locale = "ar"
	}
	turnStarted := time.Now()

	h.logger.DebugContext(ctx, "handling turn",
		slog.String("customer_id", input.CustomerID),
		slog.String("locale", input.Locale),
		slog.String("correlation_id", input.CorrelationID),
	)

	// Memory is best effort: a load failure degrades to a first-time
	// customer, it never fails the turn.
	mem, err := h.store.Memories().Load(ctx, input.CustomerID)
	if err != nil {
		h.logger.WarnContext(ctx, "memory load failed, continuing without",
			slog.String("customer_id", input.CustomerID),
			slog.String("error", err.Error()),
		)
		mem = memory.NewEmpty(input.CustomerID)
	}

	tc := &tools.ToolContext{
		CustomerID:   input.CustomerID,
		CustomerName: input.CustomerName,
		Locale:       input.Locale,
		City:         input.City,
		Governorate:  input.Governorate,
		Store:        h.store,
		Embedder:     h.embedder,
	}
	available := h.registry.Available(tc)

	systemPrompt := prompt.Build(&prompt.Input{
		CustomerName: input.CustomerName,
		Locale:       input.Locale,
		City:         input.City,
		Governorate:  input.Governorate,
		Memory:       mem,
		Tools:        available,
	})

	history := append([]llm.Message(nil), input.History...)
	history = append(history, llm.Message{Role: llm.RoleUser, Content: input.Message})
	history = truncateHistory(history, h.historyLimit())
	turnStart := len(history) - 1

	maxRounds := h.maxRounds
	if maxRounds <= 0 {
		maxRounds = DefaultMaxRounds
	}

	totalTokens := 0
	var allResults []ToolCallResult

	for round := 0; round < maxRounds; round++ {
		resp, err := h.callProvider(ctx, &llm.Request{
			SystemPrompt: systemPrompt,
			Messages:     history,
			MaxTokens:    h.maxTokens,
			Tools:        tools.ToDefinitions(available),
		})
		if err != nil {
			if span := trace.SpanFromContext(ctx); span.IsRecording() {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			h.logger.ErrorContext(ctx, "provider failed after retry",
				slog.String("provider", h.provider.Name()),
				slog.String("correlation_id", input.CorrelationID),
				slog.String("error", err.Error()),
			)
			h.recordTurn("provider_failure", turnStarted)
			return &Response{
				Message:     fallbackMessage(input.Locale),
				Done:        true,
				TokensUsed:  totalTokens,
				ToolResults: allResults,
				History:     history,
			}, nil
		}

		totalTokens += resp.Usage.InputTokens + resp.Usage.OutputTokens

		history = append(history, llm.Message{
			Role:          llm.RoleAssistant,
			ContentBlocks: resp.ContentBlocks,
		})

		if !resp.HasToolUse() {
			h.recordTurn("completed", turnStarted)
			h.persistMemoryAsync(ctx, input.CustomerID, history[turnStart:])
			return &Response{
				Message:     resp.Content,
				Done:        true,
				TokensUsed:  totalTokens,
				ToolResults: allResults,
				History:     history,
			}, nil
		}

		h.logger.InfoContext(ctx, "executing tool calls",
			slog.Int("round", round+1),
			slog.Int("tool_calls", len(resp.ToolUseBlocks())),
			slog.String("correlation_id", input.CorrelationID),
		)

		resultBlocks, results := h.executeToolCalls(ctx, tc, resp.ToolUseBlocks(), onToolResult)
		allResults = append(allResults, results...)

		history = append(history, llm.Message{
			Role:          llm.RoleUser,
			ContentBlocks: resultBlocks,
		})
	}

	// Round cap hit: the model kept requesting tools. Terminate with an
	// apology instead of looping forever.
	h.logger.WarnContext(ctx, "tool-call round cap reached",
		slog.Int("max_rounds", maxRounds),
		slog.String("customer_id", input.CustomerID),
		slog.String("correlation_id", input.CorrelationID),
	)
	h.recordTurn("loop_limit", turnStarted)

	h.persistMemoryAsync(ctx, input.CustomerID, history[turnStart:])
	return &Response{
		Message:     loopLimitMessage(input.Locale),
		Done:        false,
		TokensUsed:  totalTokens,
		ToolResults: allResults,
		History:     history,
	}, nil
}

// callProvider invokes the LLM, retrying exactly once with backoff on failure.
func (h *Handler) callProvider(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	start := time.Now()
	resp, err := h.provider.SendMessage(ctx, req)
	h.recordProviderCall(start, resp, err)
	if err == nil {
		return resp, nil
	}
	if ctx.Err() != nil {
		return nil, err
	}

	h.logger.WarnContext(ctx, "provider call failed, retrying",
		slog.String("provider", h.provider.Name()),
		slog.String("error", err.Error()),
	)

	select {
	case <-time.After(h.retryDelay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	start = time.Now()
	resp, err = h.provider.SendMessage(ctx, req)
	h.recordProviderCall(start, resp, err)
	if err != nil {
		return nil, fmt.Errorf("provider %s unavailable: %w", h.provider.Name(), err)
	}
	return resp, nil
}

func (h *Handler) recordTurn(outcome string, started time.Time) {
	if h.obs != nil && h.obs.Metrics != nil {
		h.obs.Metrics.TurnsTotal.WithLabelValues(outcome).Inc()
		h.obs.Metrics.TurnDuration.Observe(time.Since(started).Seconds())
	}
}

func (h *Handler) recordProviderCall(start time.Time, resp *llm.Response, err error) {
	if h.obs == nil || h.obs.Metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	name := h.provider.Name()
	h.obs.Metrics.ProviderRequestsTotal.WithLabelValues(name, status).Inc()
	h.obs.Metrics.ProviderRequestDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	if resp != nil {
		h.obs.Metrics.ProviderTokensUsed.WithLabelValues(name, "input").Add(float64(resp.Usage.InputTokens))
		h.obs.Metrics.ProviderTokensUsed.WithLabelValues(name, "output").Add(float64(resp.Usage.OutputTokens))
	}
}

// executeToolCalls routes each requested call through rate limit, validation
// and execution, in the order the model requested them. Every failure comes
// back as tool_result data so the model can adapt mid-turn.
func (h *Handler) executeToolCalls(ctx context.Context, tc *tools.ToolContext, blocks []llm.ContentBlock, onToolResult func(ToolCallResult)) ([]llm.ContentBlock, []ToolCallResult) {
	resultBlocks := make([]llm.ContentBlock, 0, len(blocks))
	results := make([]ToolCallResult, 0, len(blocks))

	for _, block := range blocks {
		result := h.runToolCall(ctx, tc, block.Name, block.Input)
		resultBlocks = append(resultBlocks, llm.ToolResultBlock(block.ID, result.ModelText(), !result.Ok()))

		summary := ToolCallResult{ToolName: block.Name, Success: result.Ok()}
		if !result.Ok() {
			summary.Error = string(result.Error)
		}
		results = append(results, summary)
		if onToolResult != nil {
			onToolResult(summary)
		}

		if h.obs != nil && h.obs.Metrics != nil {
			outcome := "success"
			if !result.Ok() {
				outcome = string(result.Error)
			}
			h.obs.Metrics.ToolExecutionsTotal.WithLabelValues(block.Name, outcome).Inc()
		}
	}

	return resultBlocks, results
}

// runToolCall is the per-call gate pipeline: rate limit, then schema
// validation, then availability, then execution.
func (h *Handler) runToolCall(ctx context.Context, tc *tools.ToolContext, name string, params map[string]any) *tools.Result {
	if decision := h.limiter.Allow(tc.CustomerID); !decision.Allowed {
		if h.obs != nil && h.obs.Metrics != nil {
			h.obs.Metrics.RateLimitRejectionsTotal.Inc()
		}
		return tools.Fail(tools.ErrRateLimited,
			"too many requests; ask the customer to wait about %d seconds before trying again",
			int(decision.RetryAfter.Seconds())+1)
	}

	if failed, _ := h.registry.ValidateFor(name, params); failed != nil {
		return failed
	}

	tool := h.registry.Get(name)
	if tool != nil && !tool.Available(tc) {
		// The model can name a tool it was never offered this turn.
		return tools.Fail(tools.ErrPermissionDenied,
			"tool %s is not available for this customer right now", name)
	}
	if tool != nil && !tool.ReadOnly() {
		// A dispatched write must survive a client disconnect; only the
		// waiting-for-model leg is cancellable.
		ctx = context.WithoutCancel(ctx)
	}

	start := time.Now()
	result := h.registry.Execute(ctx, name, params, tc)
	if h.obs != nil && h.obs.Metrics != nil {
		h.obs.Metrics.ToolExecutionDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	}
	return result
}

// persistMemoryAsync analyzes the turn and merges any insights into the
// customer's stored memory. Runs detached from the request: the response has
// already been sent, and a persistence failure is logged, never surfaced.
func (h *Handler) persistMemoryAsync(ctx context.Context, customerID string, turn []llm.Message) {
	delta := memory.AnalyzeConversation(turn)
	if delta.Empty() {
		return
	}

	bg := context.WithoutCancel(ctx)
	go func() {
		if h.memoryDelay != nil {
			h.memoryDelay()
		}
		saveCtx, cancel := context.WithTimeout(bg, 10*time.Second)
		defer cancel()
		if err := h.store.Memories().Save(saveCtx, customerID, delta); err != nil {
			h.logger.Warn("memory save failed",
				slog.String("customer_id", customerID),
				slog.String("error", err.Error()),
			)
		}
	}()
}

func (h *Handler) historyLimit() int {
	if h.maxHistory > 0 {
		return h.maxHistory
	}
	return DefaultMaxHistoryMessages
}

// truncateHistory keeps the most recent messages, ensuring the window starts
// on a plain user message so the provider wire protocol stays valid. Assistant
// messages and tool_result carriers are stripped from the front: a tool_result
// whose matching tool_use fell outside the window is rejected by the API.
func truncateHistory(history []llm.Message, max int) []llm.Message {
	if len(history) <= max {
		return history
	}
	truncated := history[len(history)-max:]
	for len(truncated) > 0 && (truncated[0].Role == llm.RoleAssistant || carriesToolResult(truncated[0])) {
		truncated = truncated[1:]
	}
	return truncated
}

func carriesToolResult(m llm.Message) bool {
	for _, b := range m.ContentBlocks {
		if b.Type == "tool_result" {
			return true
		}
	}
	return false
}

func fallbackMessage(locale string) string {
	if locale == "ar" {
		return "معلش، حصلت مشكلة مؤقتة عندنا. جرب تاني بعد شوية."
	}
	return "Sorry, we hit a temporary problem on our side. Please try again in a moment."
}

func loopLimitMessage(locale string) string {
	if locale == "ar" {
		return "معلش، مقدرتش أكمل الطلب ده دلوقتي. ممكن تقولي تاني بطريقة أبسط؟"
	}
	return "Sorry, I couldn't complete that request right now. Could you rephrase it more simply?"
}

// Package httpapi implements the HTTP API gateway for the Engezna agent.
//
// Security:
//   - API key authentication on every /v1 request (constant-time comparison)
//   - Request body size limits (default 64 KiB)
//   - All requests logged with correlation IDs
//   - TLS expected via reverse proxy (not handled here)
package httpapi

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/engezna/engezna-agent/internal/agent"
	"github.com/engezna/engezna-agent/internal/llm"
	"github.com/engezna/engezna-agent/internal/observability"
	"github.com/jkaninda/okapi"
)

const defaultMaxRequestSize = 64 << 10 // 64 KiB

// ErrorBody is the standard error response used in OpenAPI documentation.
type ErrorBody struct {
	Error string `json:"error"`
}

// Config configures the HTTP API gateway.
type Config struct {
	ListenAddr     string // e.g., ":8080"
	EnableDocs     bool
	APIKeys        map[string]string // API key to customer ID mapping. Keys from env.
	MaxRequestSize int64             // Maximum request body in bytes. 0 = 64 KiB default.

	// Observability
	MetricsRegistry *prometheus.Registry            // Custom Prometheus registry for /metrics.
	MetricsPath     string                          // Path for metrics endpoint. Default: "/metrics".
	HealthChecker   *observability.HealthChecker    // Health checker for /readyz endpoint.
	Metrics         *observability.MetricsCollector // Metrics collector for HTTP middleware.
	Tracer          trace.Tracer                    // OTel tracer for HTTP middleware.
}

// Gateway is the HTTP API gateway.
type Gateway struct {
	config  Config
	handler *agent.Handler
	logger  *slog.Logger
	server  *http.Server

	// Streaming support.
	sseEnabled bool

	// Extra handlers mounted on the HTTP mux (e.g., WebSocket chat endpoint).
	extraRoutes []extraRoute

	okapi *okapi.Okapi
	group *okapi.Group
}

// extraRoute stores an additional handler to be mounted on the HTTP mux.
type extraRoute struct {
	pattern string
	handler http.Handler
}

// NewGateway creates an HTTP API gateway.
func NewGateway(cfg Config, h *agent.Handler, logger *slog.Logger) *Gateway {
	maxSize := cfg.MaxRequestSize
	if maxSize <= 0 {
		maxSize = defaultMaxRequestSize
	}
	return &Gateway{
		config:  cfg,
		handler: h,
		logger:  logger,
		okapi:   okapi.New(okapi.WithMaxMultipartMemory(maxSize)),
	}
}

// WithSSE enables the SSE streaming endpoint.
func (g *Gateway) WithSSE(enabled bool) *Gateway {
	g.sseEnabled = enabled
	return g
}

// WithHandler mounts an additional handler on the HTTP mux at the given pattern.
// Useful for adding the WebSocket chat endpoint alongside the API routes.
func (g *Gateway) WithHandler(pattern string, handler http.Handler) *Gateway {
	g.extraRoutes = append(g.extraRoutes, extraRoute{pattern: pattern, handler: handler})
	return g
}

func (g *Gateway) WithOpenAPIDocs() *Gateway {
	g.okapi.WithOpenAPIDocs(
		okapi.OpenAPI{
			Title:   "Engezna Agent",
			Version: "v0.1.0",
		},
	)
	return g
}

// Start launches the HTTP server and blocks until it exits or ctx is canceled.
func (g *Gateway) Start(ctx context.Context) error {
	// Authenticated /v1 group, instrumented when observability is configured.
	v1Middleware := g.authenticate
	if g.config.Metrics != nil || g.config.Tracer != nil {
		metricsMW := observability.MetricsMiddleware(g.config.Metrics, g.config.Tracer)
		auth := g.authenticate
		v1Middleware = func(next okapi.HandlerFunc) okapi.HandlerFunc {
			return metricsMW(auth(next))
		}
	}
	g.group = g.okapi.Group("/v1", v1Middleware)

	g.group.Post("/chat", g.handleChat,
		okapi.DocSummary("Send a customer message to the ordering assistant"),
		okapi.DocTags("Chat"),
		okapi.DocRequestBody(ChatRequest{}),
		okapi.DocResponse(ChatResponse{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		okapi.DocResponse(http.StatusUnauthorized, ErrorBody{}),
	)
	g.group.Get("/healthz", g.handleHealth,
		okapi.DocSummary("Authenticated health check"),
		okapi.DocTags("Health"),
		okapi.DocResponse(HealthResponse{}),
	)

	// SSE streaming endpoint.
	if g.sseEnabled {
		g.group.Post("/chat/stream", g.handleChatStream,
			okapi.DocSummary("Stream a chat turn via SSE"),
			okapi.DocTags("Chat"),
			okapi.DocRequestBody(ChatRequest{}),
			okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
			okapi.DocResponse(http.StatusUnauthorized, ErrorBody{}),
		)
	}

	// Extra handlers (e.g., WebSocket chat endpoint).
	for _, er := range g.extraRoutes {
		g.okapi.HandleStd("GET", er.pattern, er.handler.ServeHTTP)
	}

	// Observability endpoints (unauthenticated).
	g.okapi.Get("/healthz", g.handleLiveness)
	g.okapi.Get("/readyz", g.handleReadiness)

	if g.config.MetricsRegistry != nil {
		path := g.config.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		g.okapi.HandleStd("GET", path, promhttp.HandlerFor(g.config.MetricsRegistry, promhttp.HandlerOpts{}).ServeHTTP)
	}
	if g.config.EnableDocs {
		g.WithOpenAPIDocs()
	}

	g.server = &http.Server{
		Addr:              g.config.ListenAddr,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	g.logger.Info("http api gateway starting", slog.String("addr", g.config.ListenAddr))

	return g.okapi.StartServer(g.server)
}

// Stop gracefully shuts down the HTTP server.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}
	g.logger.Info("http api gateway stopping")
	return g.okapi.Shutdown(g.server)
}

// --- Handlers ---

// ChatMessage is one prior message in the client-kept conversation history.
// Tool exchanges are internal to a turn and are not replayed across turns.
type ChatMessage struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// ChatRequest is the JSON body for POST /v1/chat.
type ChatRequest struct {
	Message      string        `json:"message"`
	CustomerName string        `json:"customer_name,omitempty"`
	Locale       string        `json:"locale,omitempty"` // "ar" (default) or "en".
	City         string        `json:"city,omitempty"`
	Governorate  string        `json:"governorate,omitempty"`
	History      []ChatMessage `json:"history,omitempty"` // Oldest first.
}

// ToolCallSummary reports one tool execution performed during the turn.
type ToolCallSummary struct {
	Tool    string `json:"tool"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// ChatResponse is the JSON response for POST /v1/chat.
type ChatResponse struct {
	Message       string            `json:"message"`
	Done          bool              `json:"done"`
	CorrelationID string            `json:"correlation_id"`
	TokensUsed    int               `json:"tokens_used,omitempty"`
	ToolCalls     []ToolCallSummary `json:"tool_calls,omitempty"`
	History       []ChatMessage     `json:"history"` // For the client to send back next turn.
}

func (g *Gateway) handleChat(c *okapi.Context) error {
	customerID := c.GetString("customerID")
	if customerID == "" {
		return c.AbortUnauthorized("Unauthorized")
	}

	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}
	if strings.TrimSpace(req.Message) == "" {
		return c.AbortBadRequest("message is required")
	}

	correlationID := newCorrelationID()

	g.logger.Info("http chat",
		slog.String("customer_id", customerID),
		slog.String("correlation_id", correlationID),
		slog.String("locale", req.Locale),
	)

	resp, err := g.handler.HandleTurn(c.Context(), g.agentInput(customerID, correlationID, &req))
	if err != nil {
		g.logger.Error("chat turn failed",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)
		return c.AbortInternalServerError("processing failed")
	}

	return c.OK(chatResponse(resp, correlationID))
}

// HealthResponse is the JSON response for the health endpoints.
type HealthResponse struct {
	Status string `json:"status"`
}

func (g *Gateway) handleHealth(c *okapi.Context) error {
	return c.OK(&HealthResponse{Status: "ok"})
}

// handleLiveness is the Kubernetes liveness probe
func (g *Gateway) handleLiveness(c *okapi.Context) error {
	return c.OK(&HealthResponse{Status: "ok"})
}

// handleReadiness checks all registered dependencies and returns 200 or 503.
func (g *Gateway) handleReadiness(c *okapi.Context) error {
	if g.config.HealthChecker == nil {
		return c.OK(&HealthResponse{Status: "ok"})
	}

	status := g.config.HealthChecker.CheckReady(c.Context())
	code := http.StatusOK
	if status.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, status)
}

// --- Authentication ---

// authenticate validates the API key and stores the mapped customer ID on
// the request context.
func (g *Gateway) authenticate(next okapi.HandlerFunc) okapi.HandlerFunc {
	return func(c *okapi.Context) error {
		authHeader := c.Header("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return c.AbortUnauthorized("missing or invalid Authorization header")
		}
		apiKey := strings.TrimPrefix(authHeader, "Bearer ")

		customerID := ""
		for key, id := range g.config.APIKeys {
			if subtle.ConstantTimeCompare([]byte(apiKey), []byte(key)) == 1 {
				customerID = id
			}
		}
		if customerID == "" {
			return c.AbortUnauthorized("invalid API key")
		}
		c.Set("customerID", customerID)
		return next(c)
	}
}

// --- Helpers ---

func (g *Gateway) agentInput(customerID, correlationID string, req *ChatRequest) *agent.Input {
	history := make([]llm.Message, 0, len(req.History))
	for _, m := range req.History {
		role := llm.RoleUser
		if m.Role == string(llm.RoleAssistant) {
			role = llm.RoleAssistant
		}
		history = append(history, llm.Message{Role: role, Content: m.Content})
	}
	return &agent.Input{
		CustomerID:    customerID,
		CustomerName:  req.CustomerName,
		Locale:        req.Locale,
		City:          req.City,
		Governorate:   req.Governorate,
		Message:       req.Message,
		History:       history,
		CorrelationID: correlationID,
	}
}

func chatResponse(resp *agent.Response, correlationID string) ChatResponse {
	out := ChatResponse{
		Message:       resp.Message,
		Done:          resp.Done,
		CorrelationID: correlationID,
		TokensUsed:    resp.TokensUsed,
		History:       flattenHistory(resp.History),
	}
	for _, tr := range resp.ToolResults {
		out.ToolCalls = append(out.ToolCalls, ToolCallSummary{
			Tool:    tr.ToolName,
			Success: tr.Success,
			Error:   tr.Error,
		})
	}
	return out
}

// flattenHistory reduces structured turn history to the text-only form the
// client carries between turns. Tool use and tool result blocks are dropped.
func flattenHistory(history []llm.Message) []ChatMessage {
	out := make([]ChatMessage, 0, len(history))
	for _, m := range history {
		text := m.TextContent()
		if text == "" {
			continue
		}
		out = append(out, ChatMessage{Role: string(m.Role), Content: text})
	}
	return out
}

func newCorrelationID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

package httpapi

import (
	"strings"

	"github.com/engezna/engezna-agent/internal/agent"
	"github.com/jkaninda/okapi"
)

// SSEEvent represents a server-sent event for streaming responses.
type SSEEvent struct {
	Type          string `json:"type"`                     // "tool", "text", "done", "error"
	Content       string `json:"content,omitempty"`        // Text content.
	Tool          string `json:"tool,omitempty"`           // Tool name for tool events.
	Success       *bool  `json:"success,omitempty"`        // Tool outcome for tool events.
	Done          *bool  `json:"done,omitempty"`           // Turn completion flag on "done".
	CorrelationID string `json:"correlation_id,omitempty"` // Set on the "done" event.
}

// handleChatStream handles POST /v1/chat/stream with SSE responses.
// Tool events are emitted live as the turn executes them; the assistant
// text arrives once the loop settles.
func (g *Gateway) handleChatStream(c *okapi.Context) error {
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

	events := make(chan agent.TurnEvent, 16)
	go func() {
		// Errors surface as "error" events on the channel.
		_ = g.handler.HandleTurnStream(c.Context(), g.agentInput(customerID, correlationID, &req), events)
	}()

	for ev := range events {
		switch ev.Type {
		case "tool":
			success := ev.Success
			c.SSEvent("tool", SSEEvent{Type: "tool", Tool: ev.ToolName, Success: &success})
		case "text":
			c.SSEvent("text", SSEEvent{Type: "text", Content: ev.Text})
		case "done":
			done := ev.Response.Done
			c.SSEvent("done", SSEEvent{Type: "done", Done: &done, CorrelationID: correlationID})
		case "error":
			g.logger.Error("chat stream failed",
				"correlation_id", correlationID,
				"error", ev.Text,
			)
			c.SSEvent("error", SSEEvent{Type: "error", Content: "processing failed"})
		}
	}
	return nil
}

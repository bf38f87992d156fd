// Package ws implements the WebSocket chat endpoint. A connection is one
// customer session: the server keeps the conversation history for the
// lifetime of the connection and streams tool activity and assistant text
// as the turn runs.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/engezna/engezna-agent/internal/agent"
	"github.com/engezna/engezna-agent/internal/llm"
)

const (
	subprotocol  = "engezna-chat-v1"
	writeTimeout = 10 * time.Second
	// A turn can spend a while in provider retries and tool calls.
	turnTimeout = 3 * time.Minute
)

// ClientMessage is a frame sent by the client.
type ClientMessage struct {
	Type         string `json:"type"` // "chat"
	Message      string `json:"message"`
	CustomerName string `json:"customer_name,omitempty"`
	Locale       string `json:"locale,omitempty"`
	City         string `json:"city,omitempty"`
	Governorate  string `json:"governorate,omitempty"`
}

// ServerMessage is a frame sent to the client.
type ServerMessage struct {
	Type    string `json:"type"`              // "tool", "text", "done", "error"
	Content string `json:"content,omitempty"` // Assistant text, or error detail.
	Tool    string `json:"tool,omitempty"`
	Success *bool  `json:"success,omitempty"`
	Done    *bool  `json:"done,omitempty"` // False on "done" means the turn hit the round cap.
}

// Server upgrades HTTP connections and runs chat sessions over them.
type Server struct {
	handler *agent.Handler
	apiKeys map[string]string // API key to customer ID, same mapping as the HTTP gateway.
	logger  *slog.Logger
}

// NewServer creates a WebSocket chat server.
func NewServer(h *agent.Handler, apiKeys map[string]string, logger *slog.Logger) *Server {
	return &Server{handler: h, apiKeys: apiKeys, logger: logger}
}

// Handler returns an http.Handler that upgrades connections to WebSocket.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.handleUpgrade)
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	customerID := s.authenticate(r)
	if customerID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols: []string{subprotocol},
	})
	if err != nil {
		s.logger.Error("websocket accept failed", slog.String("error", err.Error()))
		return
	}

	s.handleSession(r.Context(), conn, customerID)
}

// authenticate resolves the customer ID from the token query parameter or
// the Authorization header.
func (s *Server) authenticate(r *http.Request) string {
	if len(s.apiKeys) == 0 {
		return ""
	}
	token := r.URL.Query().Get("token")
	if token == "" {
		token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	}
	return s.apiKeys[token]
}

func (s *Server) handleSession(ctx context.Context, conn *websocket.Conn, customerID string) {
	defer conn.Close(websocket.StatusNormalClosure, "session closed")

	s.logger.Info("websocket session started", slog.String("customer_id", customerID))

	// Conversation history lives for the duration of the connection.
	var history []llm.Message

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				s.logger.Info("websocket session closed", slog.String("customer_id", customerID))
			} else {
				s.logger.Warn("websocket read error",
					slog.String("customer_id", customerID),
					slog.String("error", err.Error()),
				)
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.writeMessage(ctx, conn, ServerMessage{Type: "error", Content: "invalid message"})
			continue
		}
		if msg.Type != "chat" || strings.TrimSpace(msg.Message) == "" {
			s.writeMessage(ctx, conn, ServerMessage{Type: "error", Content: "message is required"})
			continue
		}

		history = s.runTurn(ctx, conn, customerID, history, &msg)
	}
}

// runTurn executes one chat turn, streaming events to the client, and
// returns the updated session history.
func (s *Server) runTurn(ctx context.Context, conn *websocket.Conn, customerID string, history []llm.Message, msg *ClientMessage) []llm.Message {
	turnCtx, cancel := context.WithTimeout(ctx, turnTimeout)
	defer cancel()

	events := make(chan agent.TurnEvent, 16)
	go func() {
		_ = s.handler.HandleTurnStream(turnCtx, &agent.Input{
			CustomerID:   customerID,
			CustomerName: msg.CustomerName,
			Locale:       msg.Locale,
			City:         msg.City,
			Governorate:  msg.Governorate,
			Message:      msg.Message,
			History:      history,
		}, events)
	}()

	for ev := range events {
		switch ev.Type {
		case "tool":
			success := ev.Success
			s.writeMessage(ctx, conn, ServerMessage{Type: "tool", Tool: ev.ToolName, Success: &success})
		case "text":
			s.writeMessage(ctx, conn, ServerMessage{Type: "text", Content: ev.Text})
		case "done":
			done := ev.Response.Done
			s.writeMessage(ctx, conn, ServerMessage{Type: "done", Done: &done})
			history = ev.Response.History
		case "error":
			s.logger.Error("websocket turn failed",
				slog.String("customer_id", customerID),
				slog.String("error", ev.Text),
			)
			s.writeMessage(ctx, conn, ServerMessage{Type: "error", Content: "processing failed"})
		}
	}
	return history
}

func (s *Server) writeMessage(ctx context.Context, conn *websocket.Conn, msg ServerMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := conn.Write(wctx, websocket.MessageText, data); err != nil {
		s.logger.Debug("websocket write failed", slog.String("error", err.Error()))
	}
}

package agent

import (
	"context"
)

// TurnEvent is an incremental event emitted while a streamed turn runs.
type TurnEvent struct {
	Type     string // "text", "tool", "done", "error"
	Text     string // Assistant text for "text"; error message for "error".
	ToolName string // Executed tool for "tool" events.
	Success  bool   // Tool outcome for "tool" events.
	Response *Response
}

// HandleTurnStream runs HandleTurn while emitting progress events to the
// channel: one "tool" event per executed call as it happens, the assistant's
// text, then "done" carrying the full Response. The channel is closed when
// the turn completes. Gateways fan these out over SSE or WebSocket.
func (h *Handler) HandleTurnStream(ctx context.Context, input *Input, events chan<- TurnEvent) error {
	defer close(events)

	progress := make(chan ToolCallResult, 16)
	done := make(chan struct{})

	onToolResult := func(r ToolCallResult) {
		select {
		case progress <- r:
		case <-ctx.Done():
		}
	}

	var resp *Response
	var err error
	go func() {
		defer close(done)
		resp, err = h.handleTurn(ctx, input, onToolResult)
	}()

	for {
		select {
		case r := <-progress:
			events <- TurnEvent{Type: "tool", ToolName: r.ToolName, Success: r.Success}
		case <-done:
			// Drain any tool events that raced with completion.
			for {
				select {
				case r := <-progress:
					events <- TurnEvent{Type: "tool", ToolName: r.ToolName, Success: r.Success}
					continue
				default:
				}
				break
			}
			if err != nil {
				events <- TurnEvent{Type: "error", Text: err.Error()}
				return err
			}
			if resp.Message != "" {
				events <- TurnEvent{Type: "text", Text: resp.Message}
			}
			events <- TurnEvent{Type: "done", Response: resp}
			return nil
		case <-ctx.Done():
			<-done
			events <- TurnEvent{Type: "error", Text: ctx.Err().Error()}
			return ctx.Err()
		}
	}
}

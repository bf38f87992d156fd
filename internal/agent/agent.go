// Package agent implements the conversation turn handler: the bounded
// tool-calling loop between the customer, the LLM provider and the tool
// catalog.
package agent

import "github.com/engezna/engezna-agent/internal/llm"

// Input represents one customer message entering the agent.
type Input struct {
	CustomerID    string
	CustomerName  string
	Locale        string // "ar" or "en". Defaults to "ar".
	City          string
	Governorate   string
	Message       string
	History       []llm.Message // Prior turns, oldest first. Caller-managed.
	CorrelationID string
}

// DefaultMaxRounds caps tool-call rounds per turn. A round is one
// model-requests-tools, execute, feed-back cycle.
const DefaultMaxRounds = 6

// DefaultMaxHistoryMessages bounds the history sent to the provider.
const DefaultMaxHistoryMessages = 40

// Response is the agent's output for one turn. Message is always set:
// loop-cap and provider failures produce an apologetic localized fallback,
// never an empty response.
type Response struct {
	Message     string
	Done        bool // False when the turn ended on the round cap.
	TokensUsed  int
	ToolResults []ToolCallResult
	History     []llm.Message // Full history after the turn, for the caller to keep.
}

// ToolCallResult summarizes one tool execution within the loop.
type ToolCallResult struct {
	ToolName string
	Success  bool
	Error    string // Error kind when Success is false.
}

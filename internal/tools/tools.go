// Package tools defines the tool interface and registry for the Engezna
// ordering assistant. Tools are the only way the model touches marketplace
// data: each declares a parameter schema the model must satisfy, and each
// execution returns a Result; business failures cross the tool boundary
// as data, never as panics, so the conversation loop can report them back
// to the model without crashing the turn.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/engezna/engezna-agent/internal/embeddings"
	"github.com/engezna/engezna-agent/internal/llm"
	"github.com/engezna/engezna-agent/internal/storage"
)

// ErrorKind classifies a tool failure for logging and for the model's
// corrective feedback. Customers never see these codes directly.
type ErrorKind string

const (
	ErrValidation       ErrorKind = "validation_error"
	ErrUnknownTool      ErrorKind = "unknown_tool"
	ErrRateLimited      ErrorKind = "rate_limited"
	ErrNotFound         ErrorKind = "not_found"
	ErrConflict         ErrorKind = "conflict"
	ErrPermissionDenied ErrorKind = "permission_denied"
	ErrUpstreamFailure  ErrorKind = "upstream_failure"
	ErrInvalidState     ErrorKind = "invalid_state"
	ErrLoopLimit        ErrorKind = "loop_limit_exceeded"
)

// ToolContext is the capability bundle passed to every tool execution in a
// turn. It is shared read-only across the turn's tool calls; tools must not
// mutate it.
type ToolContext struct {
	CustomerID   string
	CustomerName string
	Locale       string // "ar" or "en".
	City         string
	Governorate  string

	Store    storage.Store
	Embedder embeddings.Embedder // nil = keyword search only.
}

// InServiceArea reports whether the customer's geo scope is serviceable.
// Tools with side effects are withheld from the model outside the area.
func (tc *ToolContext) InServiceArea() bool {
	return tc.City != "" || tc.Governorate != ""
}

// Result is the tagged outcome of a tool execution: either Data or
// (Error, Message), never both, never neither. The constructors below
// enforce this.
type Result struct {
	Data    map[string]any `json:"data,omitempty"`
	Error   ErrorKind      `json:"error,omitempty"`
	Message string         `json:"message,omitempty"`
}

// OK creates a success result carrying a tool-specific payload.
func OK(data map[string]any) *Result {
	if data == nil {
		data = map[string]any{}
	}
	return &Result{Data: data}
}

// Fail creates a failure result with an error kind and a message for the model.
func Fail(kind ErrorKind, format string, args ...any) *Result {
	return &Result{Error: kind, Message: fmt.Sprintf(format, args...)}
}

// Ok reports whether the result is a success.
func (r *Result) Ok() bool { return r.Error == "" }

// ModelText renders the result as the JSON payload fed back to the model.
func (r *Result) ModelText() string {
	var v any
	if r.Ok() {
		v = r.Data
	} else {
		v = map[string]any{"error": string(r.Error), "message": r.Message}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf(`{"error":"upstream_failure","message":%q}`, err.Error())
	}
	return string(b)
}

// Tool is the interface all Engezna agent tools implement.
type Tool interface {
	// Name returns the tool's unique identifier (e.g. "search_menu").
	Name() string

	// Description returns the model-facing description.
	Description() string

	// InputSchema returns a JSON Schema object describing the tool's parameters.
	InputSchema() map[string]any

	// ReadOnly reports whether the tool mutates marketplace state.
	// Read-only tools may be cancelled mid-flight; write tools must not be.
	ReadOnly() bool

	// Available reports whether the tool is usable in this turn's context.
	// Unavailable tools are never offered to the model.
	Available(tc *ToolContext) bool

	// Execute runs the tool. Params have already passed schema validation.
	Execute(ctx context.Context, params map[string]any, tc *ToolContext) *Result
}

// Registry holds the fixed tool catalog keyed by name.
// Thread-safe for concurrent reads; registration happens at startup only.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string // Registration order, for stable catalogs and prompts.
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool. Panics on duplicate names (startup config error, not runtime).
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name()]; exists {
		panic("duplicate tool registration: " + t.Name())
	}
	r.tools[t.Name()] = t
	r.order = append(r.order, t.Name())
}

// Get returns the tool by name, or nil if not found.
func (r *Registry) Get(name string) Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Available returns the tools usable in the given context, in registration
// order. This is the per-turn capability scope: the model is only offered
// what it can actually call.
func (r *Registry) Available(tc *ToolContext) []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		if t := r.tools[name]; t.Available(tc) {
			out = append(out, t)
		}
	}
	return out
}

// List returns all registered tool names in registration order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Execute validates that the tool exists and runs it, converting any panic
// into an upstream-failure Result so a buggy executor cannot crash a turn.
func (r *Registry) Execute(ctx context.Context, name string, params map[string]any, tc *ToolContext) (result *Result) {
	tool := r.Get(name)
	if tool == nil {
		return Fail(ErrUnknownTool, "no such tool: %s", name)
	}

	defer func() {
		if rec := recover(); rec != nil {
			result = Fail(ErrUpstreamFailure, "tool %s failed unexpectedly: %v", name, rec)
		}
	}()

	return tool.Execute(ctx, params, tc)
}

// ToDefinitions converts a tool list into LLM tool definitions.
func ToDefinitions(list []Tool) []llm.ToolDefinition {
	defs := make([]llm.ToolDefinition, len(list))
	for i, t := range list {
		defs[i] = llm.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.InputSchema(),
		}
	}
	return defs
}

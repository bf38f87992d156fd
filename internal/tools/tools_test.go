package tools

import (
	"context"
	"strings"
	"testing"
)

type stubTool struct {
	name      string
	readOnly  bool
	available bool
	execute   func(ctx context.Context, params map[string]any, tc *ToolContext) *Result
}

func (s *stubTool) Name() string                { return s.name }
func (s *stubTool) Description() string         { return "stub tool " + s.name }
func (s *stubTool) InputSchema() map[string]any { return map[string]any{"type": "object"} }
func (s *stubTool) ReadOnly() bool              { return s.readOnly }
func (s *stubTool) Available(*ToolContext) bool { return s.available }
func (s *stubTool) Execute(ctx context.Context, params map[string]any, tc *ToolContext) *Result {
	if s.execute != nil {
		return s.execute(ctx, params, tc)
	}
	return OK(nil)
}

func TestRegistry_DuplicateRegistrationPanics(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubTool{name: "search_menu", available: true})

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on duplicate registration")
		}
	}()
	r.Register(&stubTool{name: "search_menu", available: true})
}

func TestRegistry_AvailablePreservesRegistrationOrder(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubTool{name: "search_menu", available: true})
	r.Register(&stubTool{name: "place_order", available: false})
	r.Register(&stubTool{name: "order_status", available: true})

	avail := r.Available(&ToolContext{City: "Cairo"})
	if len(avail) != 2 {
		t.Fatalf("expected 2 available tools, got %d", len(avail))
	}
	if avail[0].Name() != "search_menu" || avail[1].Name() != "order_status" {
		t.Errorf("registration order not preserved: %s, %s", avail[0].Name(), avail[1].Name())
	}
}

func TestRegistry_ExecuteUnknownTool(t *testing.T) {
	r := NewRegistry()
	res := r.Execute(context.Background(), "ghost", nil, &ToolContext{})
	if res.Error != ErrUnknownTool {
		t.Fatalf("expected unknown_tool, got %v", res.Error)
	}
}

func TestRegistry_ExecuteRecoversPanic(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubTool{
		name:      "boom",
		available: true,
		execute: func(context.Context, map[string]any, *ToolContext) *Result {
			panic("nil map write")
		},
	})

	res := r.Execute(context.Background(), "boom", nil, &ToolContext{})
	if res == nil || res.Error != ErrUpstreamFailure {
		t.Fatalf("expected upstream_failure from recovered panic, got %v", res)
	}
	if !strings.Contains(res.Message, "nil map write") {
		t.Errorf("panic value missing from message: %q", res.Message)
	}
}

func TestResult_ModelText(t *testing.T) {
	ok := OK(map[string]any{"order_id": "abc"})
	if got := ok.ModelText(); !strings.Contains(got, `"order_id":"abc"`) {
		t.Errorf("unexpected success payload: %s", got)
	}

	fail := Fail(ErrNotFound, "merchant %s not found", "m-1")
	got := fail.ModelText()
	if !strings.Contains(got, `"error":"not_found"`) || !strings.Contains(got, "m-1") {
		t.Errorf("unexpected failure payload: %s", got)
	}
	if fail.Ok() {
		t.Error("failure result must not report Ok")
	}
}

func TestToolContext_InServiceArea(t *testing.T) {
	if (&ToolContext{}).InServiceArea() {
		t.Error("no geo scope must be out of area")
	}
	if !(&ToolContext{City: "Cairo"}).InServiceArea() {
		t.Error("city alone is in area")
	}
	if !(&ToolContext{Governorate: "Giza"}).InServiceArea() {
		t.Error("governorate alone is in area")
	}
}

func TestToDefinitions(t *testing.T) {
	defs := ToDefinitions([]Tool{&stubTool{name: "search_menu", available: true}})
	if len(defs) != 1 || defs[0].Name != "search_menu" {
		t.Fatalf("unexpected definitions: %+v", defs)
	}
	if defs[0].InputSchema == nil {
		t.Error("schema must be carried into the definition")
	}
}

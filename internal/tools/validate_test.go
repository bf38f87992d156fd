package tools

import (
	"testing"
)

func searchSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query":    map[string]any{"type": "string", "minLength": 2},
			"category": map[string]any{"type": "string", "enum": []string{"pizza", "burger", "koshary"}},
			"limit":    map[string]any{"type": "integer", "minimum": 1},
		},
		"required": []string{"query"},
	}
}

func TestValidateParams_Valid(t *testing.T) {
	errs := ValidateParams(searchSchema(), map[string]any{
		"query":    "pizza margherita",
		"category": "pizza",
		"limit":    float64(5), // JSON decoding yields float64.
	})
	if len(errs) != 0 {
		t.Fatalf("expected no errors, got %v", errs)
	}
}

func TestValidateParams_CollectsAllErrors(t *testing.T) {
	errs := ValidateParams(searchSchema(), map[string]any{
		"category": "sushi",      // not in enum
		"limit":    float64(0),   // below minimum
		"extra":    "whatever",   // undeclared
	})
	// missing query + bad enum + bad minimum + unknown param = 4
	if len(errs) != 4 {
		t.Fatalf("expected 4 field errors, got %d: %v", len(errs), errs)
	}
	fields := map[string]bool{}
	for _, e := range errs {
		fields[e.Field] = true
	}
	for _, want := range []string{"query", "category", "limit", "extra"} {
		if !fields[want] {
			t.Errorf("expected an error for field %q, got %v", want, errs)
		}
	}
}

func TestValidateParams_TypeMismatches(t *testing.T) {
	errs := ValidateParams(searchSchema(), map[string]any{
		"query": 42,
		"limit": "five",
	})
	if len(errs) != 2 {
		t.Fatalf("expected 2 errors, got %v", errs)
	}
}

func TestValidateParams_IntegerRejectsFraction(t *testing.T) {
	errs := ValidateParams(searchSchema(), map[string]any{
		"query": "koshary",
		"limit": 2.5,
	})
	if len(errs) != 1 || errs[0].Field != "limit" {
		t.Fatalf("expected fractional integer rejection, got %v", errs)
	}
}

func TestValidateParams_UUIDFormat(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"order_id": map[string]any{"type": "string", "format": "uuid"},
		},
		"required": []string{"order_id"},
	}

	if errs := ValidateParams(schema, map[string]any{"order_id": "not-a-uuid"}); len(errs) != 1 {
		t.Errorf("expected malformed id rejection, got %v", errs)
	}
	if errs := ValidateParams(schema, map[string]any{"order_id": "0d4c8e7a-1f7b-4f4e-9c62-8a2f1b3d5e90"}); len(errs) != 0 {
		t.Errorf("expected well-formed id accepted, got %v", errs)
	}
}

func TestValidateParams_NestedArrayOfObjects(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"items": map[string]any{
				"type":     "array",
				"minItems": 1,
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"item_id":  map[string]any{"type": "string"},
						"quantity": map[string]any{"type": "integer", "minimum": 1},
					},
					"required": []string{"item_id", "quantity"},
				},
			},
		},
		"required": []string{"items"},
	}

	if errs := ValidateParams(schema, map[string]any{"items": []any{}}); len(errs) != 1 {
		t.Errorf("expected minItems rejection, got %v", errs)
	}

	errs := ValidateParams(schema, map[string]any{
		"items": []any{
			map[string]any{"item_id": "a1", "quantity": float64(2)},
			map[string]any{"quantity": float64(0)},
		},
	})
	// second item: missing item_id, quantity below minimum
	if len(errs) != 2 {
		t.Fatalf("expected 2 nested errors, got %v", errs)
	}
	if errs[0].Field != "items[1].item_id" && errs[1].Field != "items[1].item_id" {
		t.Errorf("nested field path missing, got %v", errs)
	}
}

func TestValidateParams_RequiredFromDecodedJSON(t *testing.T) {
	// Schemas round-tripped through encoding/json carry []any required lists.
	schema := map[string]any{
		"type":       "object",
		"properties": map[string]any{"query": map[string]any{"type": "string"}},
		"required":   []any{"query"},
	}
	if errs := ValidateParams(schema, map[string]any{}); len(errs) != 1 {
		t.Errorf("expected missing required error, got %v", errs)
	}
}

func TestValidateFor_UnknownTool(t *testing.T) {
	r := NewRegistry()
	res, errs := r.ValidateFor("nope", map[string]any{})
	if res == nil || res.Error != ErrUnknownTool {
		t.Fatalf("expected unknown_tool result, got %v", res)
	}
	if errs != nil {
		t.Errorf("unknown tool carries no field errors, got %v", errs)
	}
}

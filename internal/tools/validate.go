package tools

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/google/uuid"
)

// FieldError describes one invalid parameter field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidateParams checks raw parameters against a tool's declared JSON Schema.
// All fields are checked and all errors collected before returning, so the
// model gets maximal correction signal in one round-trip. Pure function of
// (schema, raw); no coercion is performed beyond JSON's own number decoding.
func ValidateParams(schema map[string]any, raw map[string]any) []FieldError {
	var errs []FieldError

	properties, _ := schema["properties"].(map[string]any)

	if required, ok := schema["required"].([]string); ok {
		for _, field := range required {
			if _, present := raw[field]; !present {
				errs = append(errs, FieldError{Field: field, Message: "missing required parameter"})
			}
		}
	} else if required, ok := schema["required"].([]any); ok {
		// Schemas decoded from JSON carry []any.
		for _, f := range required {
			field, _ := f.(string)
			if _, present := raw[field]; field != "" && !present {
				errs = append(errs, FieldError{Field: field, Message: "missing required parameter"})
			}
		}
	}

	for field, value := range raw {
		propAny, declared := properties[field]
		if !declared {
			errs = append(errs, FieldError{Field: field, Message: "unknown parameter"})
			continue
		}
		prop, _ := propAny.(map[string]any)
		errs = append(errs, checkField(field, value, prop)...)
	}

	return errs
}

// ValidateFor looks up the tool and validates raw params against its schema.
// An unknown tool name is itself a validation failure.
func (r *Registry) ValidateFor(name string, raw map[string]any) (*Result, []FieldError) {
	tool := r.Get(name)
	if tool == nil {
		return Fail(ErrUnknownTool, "no such tool: %s", name), nil
	}
	errs := ValidateParams(tool.InputSchema(), raw)
	if len(errs) == 0 {
		return nil, nil
	}
	msg := "invalid parameters:"
	for _, e := range errs {
		msg += fmt.Sprintf(" %s (%s);", e.Field, e.Message)
	}
	return Fail(ErrValidation, "%s", msg), errs
}

func checkField(field string, value any, prop map[string]any) []FieldError {
	var errs []FieldError

	declType, _ := prop["type"].(string)
	switch declType {
	case "string":
		s, ok := value.(string)
		if !ok {
			return []FieldError{{Field: field, Message: fmt.Sprintf("must be a string, got %T", value)}}
		}
		if s == "" {
			errs = append(errs, FieldError{Field: field, Message: "must not be empty"})
		}
		if minLen, ok := numberValue(prop["minLength"]); ok && len(s) < int(minLen) {
			errs = append(errs, FieldError{Field: field, Message: fmt.Sprintf("must be at least %d characters", int(minLen))})
		}
		if format, _ := prop["format"].(string); format == "uuid" {
			if _, err := uuid.Parse(s); err != nil {
				errs = append(errs, FieldError{Field: field, Message: "must be a well-formed ID"})
			}
		}
		errs = append(errs, checkEnum(field, s, prop)...)

	case "integer":
		n, ok := numberValue(value)
		if !ok || n != math.Trunc(n) {
			return []FieldError{{Field: field, Message: fmt.Sprintf("must be an integer, got %v", value)}}
		}
		errs = append(errs, checkMinimum(field, n, prop)...)

	case "number":
		n, ok := numberValue(value)
		if !ok {
			return []FieldError{{Field: field, Message: fmt.Sprintf("must be a number, got %T", value)}}
		}
		errs = append(errs, checkMinimum(field, n, prop)...)

	case "boolean":
		if _, ok := value.(bool); !ok {
			return []FieldError{{Field: field, Message: fmt.Sprintf("must be a boolean, got %T", value)}}
		}

	case "array":
		items, ok := value.([]any)
		if !ok {
			return []FieldError{{Field: field, Message: fmt.Sprintf("must be an array, got %T", value)}}
		}
		if minItems, ok := numberValue(prop["minItems"]); ok && len(items) < int(minItems) {
			errs = append(errs, FieldError{Field: field, Message: fmt.Sprintf("must have at least %d items", int(minItems))})
		}
		if itemSchema, ok := prop["items"].(map[string]any); ok {
			for i, item := range items {
				for _, e := range checkField(fmt.Sprintf("%s[%d]", field, i), item, itemSchema) {
					errs = append(errs, e)
				}
			}
		}

	case "object":
		obj, ok := value.(map[string]any)
		if !ok {
			return []FieldError{{Field: field, Message: fmt.Sprintf("must be an object, got %T", value)}}
		}
		for _, e := range ValidateParams(prop, obj) {
			errs = append(errs, FieldError{Field: field + "." + e.Field, Message: e.Message})
		}
	}

	return errs
}

func checkEnum(field, s string, prop map[string]any) []FieldError {
	var allowed []string
	switch vals := prop["enum"].(type) {
	case []string:
		allowed = vals
	case []any:
		for _, v := range vals {
			if sv, ok := v.(string); ok {
				allowed = append(allowed, sv)
			}
		}
	default:
		return nil
	}
	for _, v := range allowed {
		if s == v {
			return nil
		}
	}
	return []FieldError{{Field: field, Message: fmt.Sprintf("must be one of %v", allowed)}}
}

func checkMinimum(field string, n float64, prop map[string]any) []FieldError {
	var errs []FieldError
	if min, ok := numberValue(prop["minimum"]); ok && n < min {
		errs = append(errs, FieldError{Field: field, Message: fmt.Sprintf("must be >= %v", min)})
	}
	if min, ok := numberValue(prop["exclusiveMinimum"]); ok && n <= min {
		errs = append(errs, FieldError{Field: field, Message: fmt.Sprintf("must be > %v", min)})
	}
	return errs
}

// numberValue extracts a float64 from JSON-decoded or Go-literal numbers.
func numberValue(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

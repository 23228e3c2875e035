package schema

import (
	"encoding/json"
	"testing"
)

func setSpeedSchema() json.RawMessage {
	return json.RawMessage(`{
		"$schema": "https://json-schema.org/draft/2020-12/schema",
		"type": "object",
		"properties": {
			"speed": {"type": "integer", "minimum": 0, "maximum": 3},
			"direction": {"type": "string", "enum": ["forward", "reverse"]}
		},
		"required": ["speed"],
		"additionalProperties": false
	}`)
}

func TestValidate_ValidInputs(t *testing.T) {
	v := NewValidator()

	err := v.Validate(setSpeedSchema(), map[string]any{
		"speed":     2,
		"direction": "reverse",
	})
	if err != nil {
		t.Errorf("expected valid inputs, got: %v", err)
	}
}

func TestValidate_DecodedJSONNumbers(t *testing.T) {
	v := NewValidator()

	err := v.Validate(setSpeedSchema(), map[string]any{
		"speed": float64(3),
	})
	if err != nil {
		t.Errorf("expected valid inputs, got: %v", err)
	}
}

func TestValidate_MissingRequired(t *testing.T) {
	v := NewValidator()

	err := v.Validate(setSpeedSchema(), map[string]any{
		"direction": "forward",
	})
	if err == nil {
		t.Error("expected validation error for missing speed")
	}
}

func TestValidate_InvalidEnum(t *testing.T) {
	v := NewValidator()

	err := v.Validate(setSpeedSchema(), map[string]any{
		"speed":     1,
		"direction": "sideways",
	})
	if err == nil {
		t.Error("expected validation error for invalid enum value")
	}
}

func TestValidate_OutOfRange(t *testing.T) {
	v := NewValidator()

	err := v.Validate(setSpeedSchema(), map[string]any{
		"speed": 4,
	})
	if err == nil {
		t.Error("expected validation error for out-of-range speed")
	}
}

func TestValidate_UnknownInput(t *testing.T) {
	v := NewValidator()

	err := v.Validate(setSpeedSchema(), map[string]any{
		"speed":  1,
		"colour": "red",
	})
	if err == nil {
		t.Error("expected validation error for unknown input")
	}
}

func TestValidate_EmptySchema(t *testing.T) {
	v := NewValidator()

	err := v.Validate(json.RawMessage(`{}`), map[string]any{
		"anything": "goes",
	})
	if err != nil {
		t.Errorf("empty schema should skip validation, got: %v", err)
	}
}

func TestValidate_NilSchema(t *testing.T) {
	v := NewValidator()

	if err := v.Validate(nil, nil); err != nil {
		t.Errorf("nil schema should skip validation, got: %v", err)
	}
}

func TestValidate_BadSchema(t *testing.T) {
	v := NewValidator()

	err := v.Validate(json.RawMessage(`{"type": 12}`), map[string]any{})
	if err == nil {
		t.Error("expected error for malformed schema")
	}
}

func TestValidate_CachesSchema(t *testing.T) {
	v := NewValidator()
	schema := setSpeedSchema()

	if err := v.Validate(schema, map[string]any{"speed": 0}); err != nil {
		t.Fatal(err)
	}
	if err := v.Validate(schema, map[string]any{"speed": 1}); err != nil {
		t.Fatal(err)
	}

	if n := v.Cached(); n != 1 {
		t.Errorf("expected 1 cached schema, got %d", n)
	}
}

package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ValidateAgainstSchema checks a decoded JSON value against the subset of
// JSON schema our prompt schemas use: type, properties/required/
// additionalProperties, items and enum. Anything else is ignored.
func ValidateAgainstSchema(value any, schema map[string]any) error {
	return validateNode(value, schema, "$")
}

func validateNode(value any, schema map[string]any, path string) error {
	if schema == nil {
		return nil
	}

	if enum, ok := schema["enum"].([]any); ok {
		if err := validateEnum(value, enum, path); err != nil {
			return err
		}
	}
	if enum, ok := schema["enum"].([]string); ok {
		gen := make([]any, 0, len(enum))
		for _, e := range enum {
			gen = append(gen, e)
		}
		if err := validateEnum(value, gen, path); err != nil {
			return err
		}
	}

	typ, _ := schema["type"].(string)
	switch typ {
	case "object":
		obj, ok := value.(map[string]any)
		if !ok {
			return fmt.Errorf("%s: expected object, got %T", path, value)
		}
		props, _ := schema["properties"].(map[string]any)
		if req := requiredList(schema); len(req) > 0 {
			for _, name := range req {
				if _, present := obj[name]; !present {
					return fmt.Errorf("%s: missing required field %q", path, name)
				}
			}
		}
		if addl, ok := schema["additionalProperties"].(bool); ok && !addl && props != nil {
			for key := range obj {
				if _, known := props[key]; !known {
					return fmt.Errorf("%s: unexpected field %q", path, key)
				}
			}
		}
		for key, val := range obj {
			sub, _ := props[key].(map[string]any)
			if sub == nil {
				continue
			}
			if err := validateNode(val, sub, path+"."+key); err != nil {
				return err
			}
		}
	case "array":
		arr, ok := value.([]any)
		if !ok {
			return fmt.Errorf("%s: expected array, got %T", path, value)
		}
		items, _ := schema["items"].(map[string]any)
		if items != nil {
			for i, el := range arr {
				if err := validateNode(el, items, fmt.Sprintf("%s[%d]", path, i)); err != nil {
					return err
				}
			}
		}
	case "string":
		if _, ok := value.(string); !ok {
			return fmt.Errorf("%s: expected string, got %T", path, value)
		}
	case "number", "integer":
		if !isJSONNumber(value) {
			return fmt.Errorf("%s: expected number, got %T", path, value)
		}
	case "boolean":
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("%s: expected boolean, got %T", path, value)
		}
	}
	return nil
}

func validateEnum(value any, enum []any, path string) error {
	sv, ok := value.(string)
	if !ok {
		return nil
	}
	for _, e := range enum {
		if es, ok := e.(string); ok && es == sv {
			return nil
		}
	}
	return fmt.Errorf("%s: value %q not in enum", path, sv)
}

func requiredList(schema map[string]any) []string {
	switch req := schema["required"].(type) {
	case []string:
		return req
	case []any:
		out := make([]string, 0, len(req))
		for _, r := range req {
			if s, ok := r.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func isJSONNumber(v any) bool {
	switch v.(type) {
	case float64, int, int64, json.Number:
		return true
	}
	return false
}

// ---------- shared schema fragments ----------
//
// Prompt schemas are built as map[string]any the same way everywhere: strict
// objects (additionalProperties:false, required lists every property) so
// strict-mode providers accept them as-is.

func ObjectSchema(props map[string]any) map[string]any {
	required := make([]string, 0, len(props))
	for k := range props {
		required = append(required, k)
	}
	sortStrings(required)
	return map[string]any{
		"type":                 "object",
		"properties":           props,
		"required":             required,
		"additionalProperties": false,
	}
}

func ArraySchema(items map[string]any) map[string]any {
	return map[string]any{"type": "array", "items": items}
}

func StringSchema() map[string]any  { return map[string]any{"type": "string"} }
func NumberSchema() map[string]any  { return map[string]any{"type": "number"} }
func IntegerSchema() map[string]any { return map[string]any{"type": "integer"} }
func BooleanSchema() map[string]any { return map[string]any{"type": "boolean"} }

func StringArraySchema() map[string]any { return ArraySchema(StringSchema()) }

func EnumSchema(options ...string) map[string]any {
	vals := make([]any, 0, len(options))
	for _, o := range options {
		vals = append(vals, o)
	}
	return map[string]any{"type": "string", "enum": vals}
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && strings.Compare(s[j], s[j-1]) < 0; j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}

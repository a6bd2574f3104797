package tool

import (
	"encoding/json"
	"fmt"
	"strings"
)

// OutputVarField is the input field naming the variable a built-in writes
// its output to.
const OutputVarField = "outputVar"

func stringField(input map[string]any, key string) string {
	switch v := input[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

func mapField(input map[string]any, key string) map[string]any {
	switch v := input[key].(type) {
	case map[string]any:
		return v
	case map[string]string:
		out := make(map[string]any, len(v))
		for k, s := range v {
			out[k] = s
		}
		return out
	default:
		return nil
	}
}

func boolField(input map[string]any, key string) bool {
	switch v := input[key].(type) {
	case bool:
		return v
	case string:
		return strings.EqualFold(strings.TrimSpace(v), "true")
	default:
		return false
	}
}

// intField reads a numeric field that may arrive as a JSON float64, a YAML
// int or a numeric string.
func intField(input map[string]any, key string, fallback int) int {
	switch v := input[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
	case string:
		var n int
		if _, err := fmt.Sscanf(strings.TrimSpace(v), "%d", &n); err == nil {
			return n
		}
	}
	return fallback
}

func stringSliceField(input map[string]any, key string) []string {
	switch v := input[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	default:
		return nil
	}
}

// storeOutput writes value to the variable named by the outputVar field, or
// to fallback when the field is absent. An empty name writes nothing.
func storeOutput(cc *CallContext, input map[string]any, fallback string, value any) {
	name := fallback
	if _, ok := input[OutputVarField]; ok {
		name = stringField(input, OutputVarField)
	}
	if name == "" || cc == nil {
		return
	}
	cc.Set(name, value)
}

func requireString(toolID string, input map[string]any, key string) (string, error) {
	v := stringField(input, key)
	if v == "" {
		return "", NewError(ErrorCodeInvalidInput, fmt.Sprintf("%s: %s input is required", toolID, key), nil).
			WithDetails(map[string]any{"field": key})
	}
	return v, nil
}

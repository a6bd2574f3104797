package tool

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"

	"github.com/piyushagarwal-55/flowforge/core"
)

// Issue is one validation finding against a JSON schema.
type Issue struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// ValidateValue checks value against a raw JSON Schema document. It returns a
// ToolError with code INVALID_INPUT whose details list every issue.
func ValidateValue(schema map[string]any, value any) error {
	if len(schema) == 0 {
		return nil
	}
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(schema))
	if err != nil {
		return NewError(ErrorCodeInvalidInput, "invalid schema", err)
	}
	result, err := compiled.Validate(gojsonschema.NewGoLoader(value))
	if err != nil {
		return NewError(ErrorCodeInvalidInput, "value is not valid JSON", err)
	}
	if result.Valid() {
		return nil
	}

	issues := make([]Issue, 0, len(result.Errors()))
	for _, re := range result.Errors() {
		issues = append(issues, Issue{Field: re.Field(), Message: re.Description()})
	}
	msg := "validation failed"
	if len(issues) == 1 {
		msg = fmt.Sprintf("validation failed: %s: %s", issues[0].Field, issues[0].Message)
	}
	return NewError(ErrorCodeInvalidInput, msg, nil).WithDetails(map[string]any{"errors": issues})
}

// ValidateInput checks input against a tool input schema. A nil schema
// accepts everything.
func ValidateInput(schema *core.Schema, input map[string]any) error {
	if schema == nil {
		return nil
	}
	if input == nil {
		input = map[string]any{}
	}
	return ValidateValue(schema.JSONSchema(), input)
}

// ValidateInput validates input against the input schema of the tool
// registered under toolID.
func (r *Registry) ValidateInput(toolID string, input map[string]any) error {
	t, ok := r.Get(toolID)
	if !ok {
		return NewError(ErrorCodeNotFound, fmt.Sprintf("tool %q is not registered", toolID), nil)
	}
	return ValidateInput(t.InputSchema, input)
}

package core

// SchemaKind is the structural kind of a schema node.
type SchemaKind string

const (
	KindObject  SchemaKind = "object"
	KindArray   SchemaKind = "array"
	KindString  SchemaKind = "string"
	KindNumber  SchemaKind = "number"
	KindInteger SchemaKind = "integer"
	KindBoolean SchemaKind = "boolean"
	KindAny     SchemaKind = "any"
)

// Schema is a structural description of a tool's input or output. It is used
// for documentation and validation tooling only; handler signatures stay
// untyped. The JSON form is a subset of JSON Schema.
type Schema struct {
	Kind        SchemaKind         `json:"type" yaml:"type"`
	Description string             `json:"description,omitempty" yaml:"description,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty" yaml:"properties,omitempty"`
	Required    []string           `json:"required,omitempty" yaml:"required,omitempty"`
	Items       *Schema            `json:"items,omitempty" yaml:"items,omitempty"`
	Enum        []any              `json:"enum,omitempty" yaml:"enum,omitempty"`
	Format      string             `json:"format,omitempty" yaml:"format,omitempty"`
}

// ObjectSchema builds an object schema from the given properties.
func ObjectSchema(props map[string]*Schema, required ...string) *Schema {
	return &Schema{Kind: KindObject, Properties: props, Required: required}
}

// StringSchema builds a string schema with a description.
func StringSchema(description string) *Schema {
	return &Schema{Kind: KindString, Description: description}
}

// NumberSchema builds a number schema with a description.
func NumberSchema(description string) *Schema {
	return &Schema{Kind: KindNumber, Description: description}
}

// BooleanSchema builds a boolean schema with a description.
func BooleanSchema(description string) *Schema {
	return &Schema{Kind: KindBoolean, Description: description}
}

// AnySchema accepts any value.
func AnySchema(description string) *Schema {
	return &Schema{Kind: KindAny, Description: description}
}

// ArraySchema builds an array schema of the given item schema.
func ArraySchema(items *Schema, description string) *Schema {
	return &Schema{Kind: KindArray, Items: items, Description: description}
}

// JSONSchema renders the schema as a JSON Schema document. KindAny renders
// as an unconstrained schema.
func (s *Schema) JSONSchema() map[string]any {
	if s == nil {
		return map[string]any{}
	}
	out := make(map[string]any)
	if s.Kind != "" && s.Kind != KindAny {
		out["type"] = string(s.Kind)
	}
	if s.Description != "" {
		out["description"] = s.Description
	}
	if s.Format != "" {
		out["format"] = s.Format
	}
	if len(s.Enum) > 0 {
		out["enum"] = s.Enum
	}
	if len(s.Properties) > 0 {
		props := make(map[string]any, len(s.Properties))
		for name, prop := range s.Properties {
			props[name] = prop.JSONSchema()
		}
		out["properties"] = props
	}
	if len(s.Required) > 0 {
		out["required"] = s.Required
	}
	if s.Items != nil {
		out["items"] = s.Items.JSONSchema()
	}
	return out
}

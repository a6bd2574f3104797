package graph

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Parse decodes a graph definition from JSON, JSON with comments and
// trailing commas, or YAML. Documents starting with '{' are treated as JSON.
func Parse(data []byte) (*Definition, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("graph: empty definition")
	}

	var def Definition
	if trimmed[0] == '{' {
		if err := json.Unmarshal(jsonc.ToJSON(trimmed), &def); err != nil {
			return nil, fmt.Errorf("graph: parse json: %w", err)
		}
		return &def, nil
	}

	if err := yaml.Unmarshal(trimmed, &def); err != nil {
		return nil, fmt.Errorf("graph: parse yaml: %w", err)
	}
	return &def, nil
}

// ParseFile reads and parses a graph definition file. A missing id defaults
// to the file name without extension.
func ParseFile(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("graph: read %s: %w", path, err)
	}
	def, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if def.ID == "" {
		base := filepath.Base(path)
		def.ID = strings.TrimSuffix(base, filepath.Ext(base))
	}
	return def, nil
}

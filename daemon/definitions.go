package daemon

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/piyushagarwal-55/flowforge/core"
)

// IsDefinitionFile reports whether path has a server definition extension.
func IsDefinitionFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json":
		return true
	default:
		return false
	}
}

// ParseServerDefinition decodes a server definition from JSON (comments and
// trailing commas allowed) or YAML.
func ParseServerDefinition(data []byte) (core.ServerDefinition, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return core.ServerDefinition{}, fmt.Errorf("empty server definition")
	}

	var def core.ServerDefinition
	if trimmed[0] == '{' {
		if err := json.Unmarshal(jsonc.ToJSON(trimmed), &def); err != nil {
			return core.ServerDefinition{}, fmt.Errorf("parse json: %w", err)
		}
		return def, nil
	}
	if err := yaml.Unmarshal(trimmed, &def); err != nil {
		return core.ServerDefinition{}, fmt.Errorf("parse yaml: %w", err)
	}
	return def, nil
}

// LoadServerDefinition reads one definition file. A missing serverId
// defaults to the file name without extension.
func LoadServerDefinition(path string) (core.ServerDefinition, error) {
	// #nosec G304 -- path comes from the configured definitions directory.
	data, err := os.ReadFile(path)
	if err != nil {
		return core.ServerDefinition{}, fmt.Errorf("reading definition %q: %w", path, err)
	}
	def, err := ParseServerDefinition(data)
	if err != nil {
		return core.ServerDefinition{}, fmt.Errorf("%s: %w", path, err)
	}
	if strings.TrimSpace(def.ID) == "" {
		def.ID = idFromPath(path)
	}
	return def, nil
}

// definitionFiles lists the definition files directly inside dir, sorted.
func definitionFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !IsDefinitionFile(entry.Name()) {
			continue
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(files)
	return files, nil
}

func idFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

package spec

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads and decodes a specification document from path. YAML is
// decoded into a generic tree first (yaml.v3 produces map[string]any for
// mappings, unlike v2's map[interface{}]any) and round-tripped through
// encoding/json so Document's existing `json:"..."` tags drive the real
// decode — avoids maintaining a parallel set of yaml tags.
func Load(path string) (*Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read spec document %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse decodes a specification document from raw YAML bytes.
func Parse(raw []byte) (*Document, error) {
	var generic any
	if err := yaml.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("parse spec yaml: %w", err)
	}

	normalized, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("normalize spec document: %w", err)
	}

	var doc Document
	if err := json.Unmarshal(normalized, &doc); err != nil {
		return nil, fmt.Errorf("decode spec document: %w", err)
	}
	return &doc, nil
}

package pipeline

import (
	"encoding/json"

	"gopkg.in/yaml.v3"
)

// DecodeYAML parses the YAML-friendly pipeline declaration format of
// spec.md §6.
func DecodeYAML(data []byte) (Declaration, error) {
	var decl Declaration
	if err := yaml.Unmarshal(data, &decl); err != nil {
		return Declaration{}, err
	}
	return decl, nil
}

// DecodeJSON parses the JSON-friendly variant of the same document.
func DecodeJSON(data []byte) (Declaration, error) {
	var decl Declaration
	if err := json.Unmarshal(data, &decl); err != nil {
		return Declaration{}, err
	}
	return decl, nil
}

// Package value implements the content-addressed value registry of
// spec.md §4.C: immutable, typed values with deduplicating
// registration and reference-stable ids.
package value

import (
	"github.com/kiara-project/kiara-go/pkg/domain/encoding"
)

// Schema declares the type name, an optional per-instance type
// configuration, a description, an optional default and whether the
// field is optional, matching spec.md §3 "Value schema".
type Schema struct {
	Type        string         `cbor:"type"`
	TypeConfig  map[string]any `cbor:"type_config,omitempty"`
	Description string         `cbor:"description,omitempty"`
	Default     any            `cbor:"default,omitempty"`
	Optional    bool           `cbor:"optional,omitempty"`
}

// Hash returns the schema's canonical content hash. Two schemas are
// equal iff their Hash values match (spec.md §3).
func (s Schema) Hash() (encoding.Hash, error) {
	return encoding.HashOfValue(s)
}

func (s Schema) Equal(o Schema) bool {
	ha, erra := s.Hash()
	hb, errb := o.Hash()
	if erra != nil || errb != nil {
		return false
	}
	return ha == hb
}

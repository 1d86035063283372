// Package job implements the manifest/job model of spec.md §4.F: the
// three deterministic hash formulas that together form a job's
// identity, plus the JobRecord shape and its registry.
package job

import (
	"sort"

	"github.com/kiara-project/kiara-go/pkg/domain/encoding"
	"github.com/kiara-project/kiara-go/pkg/domain/module"
)

// ManifestHash = hash(canonical_encode({module_type, module_config})).
func ManifestHash(m module.Manifest) (encoding.Hash, error) {
	return encoding.HashOfValue(m)
}

// fieldHash is the canonical sorted-map shape inputs/outputs hash the
// same way: field name -> value hash.
type fieldHash struct {
	Field string        `cbor:"field"`
	Hash  encoding.Hash  `cbor:"hash"`
}

func sortedFieldHashes(m map[string]encoding.Hash) []fieldHash {
	fields := make([]string, 0, len(m))
	for f := range m {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	out := make([]fieldHash, 0, len(fields))
	for _, f := range fields {
		out = append(out, fieldHash{Field: f, Hash: m[f]})
	}
	return out
}

// InputsHash = hash(canonical_encode(sorted_map(field -> value_hash))).
func InputsHash(inputValueHashes map[string]encoding.Hash) (encoding.Hash, error) {
	return encoding.HashOfValue(sortedFieldHashes(inputValueHashes))
}

type manifestAndInputs struct {
	ManifestHash encoding.Hash `cbor:"manifest_hash"`
	InputsHash   encoding.Hash `cbor:"inputs_hash"`
}

// Hash = hash(canonical_encode({manifest_hash, inputs_hash})).
func Hash(manifestHash, inputsHash encoding.Hash) (encoding.Hash, error) {
	return encoding.HashOfValue(manifestAndInputs{ManifestHash: manifestHash, InputsHash: inputsHash})
}

// Package builtin holds the literal test-fixture module types named
// by spec.md §8's scenarios (logic.and, logic.not, table.from_csv,
// table.query.graphql). They exist to exercise the module.Module
// contract end to end, not as a general-purpose module library.
package builtin

import "github.com/kiara-project/kiara-go/pkg/domain/moduletype"

// RegisterAll wires every fixture module type into r.
func RegisterAll(r *moduletype.Registry) error {
	if err := RegisterLogicModules(r); err != nil {
		return err
	}
	if err := RegisterTableModules(r); err != nil {
		return err
	}
	return RegisterMetadataModules(r)
}

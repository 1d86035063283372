package builtin

import (
	"context"

	"github.com/kiara-project/kiara-go/pkg/domain/datatype"
	"github.com/kiara-project/kiara-go/pkg/domain/module"
	"github.com/kiara-project/kiara-go/pkg/domain/moduletype"
	"github.com/kiara-project/kiara-go/pkg/domain/operation"
	"github.com/kiara-project/kiara-go/pkg/domain/value"
)

var dictSchema = value.Schema{Type: "dict"}

// extractTableMetadataModule implements metadata.extract_table: it
// runs every extractor datatype.TableType.Extractors() declares
// against its "value" input and returns the combined result as a
// single dict output, giving component B's Extractors() hook a real
// caller (spec.md §4.J's extract_metadata operation) instead of
// leaving it declared but unreachable.
type extractTableMetadataModule struct{}

func (extractTableMetadataModule) InputsSchema() map[string]value.Schema {
	return map[string]value.Schema{"value": tableSchema}
}
func (extractTableMetadataModule) OutputsSchema() map[string]value.Schema {
	return map[string]value.Schema{"metadata": dictSchema}
}
func (extractTableMetadataModule) Process(ctx context.Context, inputs module.ValueMap) (module.OutputMap, error) {
	v, ok := inputs["value"]
	if !ok || v.Payload() == nil {
		return nil, module.NewFieldFailure("value", "missing table input")
	}
	payload := v.Payload()

	metadata := make(map[string]any)
	for name, extract := range (datatype.TableType{}).Extractors() {
		extracted, err := extract(payload)
		if err != nil {
			return nil, module.NewFieldFailure("value", err.Error())
		}
		metadata[name] = extracted
	}
	return module.OutputMap{"metadata": metadata}, nil
}

// RegisterMetadataModules wires metadata.extract_table into r.
func RegisterMetadataModules(r *moduletype.Registry) error {
	return r.Register("metadata.extract_table", func(module.Manifest) (module.Module, error) {
		return extractTableMetadataModule{}, nil
	})
}

// RegisterOperations binds the extract_metadata operation's "table"
// dispatch key to metadata.extract_table, so operation.ApplyOperation
// has at least one concrete (opType, dispatchKey) pair to resolve
// instead of an always-empty dispatch table.
func RegisterOperations(r *operation.Registry) {
	r.RegisterModule(operation.OpExtractMetadata, "table", module.Manifest{ModuleType: "metadata.extract_table"})
}

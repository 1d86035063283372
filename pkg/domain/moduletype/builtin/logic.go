package builtin

import (
	"context"

	"github.com/kiara-project/kiara-go/pkg/domain/module"
	"github.com/kiara-project/kiara-go/pkg/domain/moduletype"
	"github.com/kiara-project/kiara-go/pkg/domain/value"
)

var booleanSchema = value.Schema{Type: "boolean"}

// andModule implements logic.and: y = a && b.
type andModule struct{}

func (andModule) InputsSchema() map[string]value.Schema {
	return map[string]value.Schema{"a": booleanSchema, "b": booleanSchema}
}
func (andModule) OutputsSchema() map[string]value.Schema {
	return map[string]value.Schema{"y": booleanSchema}
}
func (andModule) Process(ctx context.Context, inputs module.ValueMap) (module.OutputMap, error) {
	a, b, err := twoBools(inputs)
	if err != nil {
		return nil, err
	}
	return module.OutputMap{"y": a && b}, nil
}

// notModule implements logic.not: y = !a.
type notModule struct{}

func (notModule) InputsSchema() map[string]value.Schema {
	return map[string]value.Schema{"a": booleanSchema}
}
func (notModule) OutputsSchema() map[string]value.Schema {
	return map[string]value.Schema{"y": booleanSchema}
}
func (notModule) Process(ctx context.Context, inputs module.ValueMap) (module.OutputMap, error) {
	av, err := oneBool(inputs, "a")
	if err != nil {
		return nil, err
	}
	return module.OutputMap{"y": !av}, nil
}

func oneBool(inputs module.ValueMap, field string) (bool, error) {
	v, ok := inputs[field]
	if !ok || v.Payload() == nil {
		return false, module.NewFieldFailure(field, "missing boolean input")
	}
	b, ok := v.Payload().(bool)
	if !ok {
		return false, module.NewFieldFailure(field, "expected boolean payload")
	}
	return b, nil
}

func twoBools(inputs module.ValueMap) (bool, bool, error) {
	a, err := oneBool(inputs, "a")
	if err != nil {
		return false, false, err
	}
	b, err := oneBool(inputs, "b")
	if err != nil {
		return false, false, err
	}
	return a, b, nil
}

// RegisterLogicModules wires logic.and/logic.not into r, matching the
// two modules spec.md §8 S1's NAND pipeline names literally.
func RegisterLogicModules(r *moduletype.Registry) error {
	if err := r.Register("logic.and", func(module.Manifest) (module.Module, error) { return andModule{}, nil }); err != nil {
		return err
	}
	return r.Register("logic.not", func(module.Manifest) (module.Module, error) { return notModule{}, nil })
}

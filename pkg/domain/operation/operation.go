// Package operation implements the operation dispatch layer of
// spec.md §4.J: named, type-dispatched entry points (pretty_print,
// serialize, ...) that resolve to a concrete module manifest for a
// given value's data type and run through the same job machinery as
// any other step, inheriting its caching and lineage.
package operation

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/kiara-project/kiara-go/pkg/domain/job"
	"github.com/kiara-project/kiara-go/pkg/domain/module"
	"github.com/kiara-project/kiara-go/pkg/domain/value"
)

// Named operation types, matching spec.md §4.J exactly. Most resolve
// to test fixtures only: pretty_print/serialize/deserialize/import_data
// are explicitly out of scope per spec.md §1, so the dispatch table
// for them stays empty until a concrete deployment registers modules.
const (
	OpPrettyPrint     = "pretty_print"
	OpSerialize       = "serialize"
	OpDeserialize     = "deserialize"
	OpExtractMetadata = "extract_metadata"
	OpCreateFrom      = "create_from"
	OpImportData      = "import_data"
	OpExportAs        = "export_as"
	OpRenderValue     = "render_value"
	OpFilter          = "filter"
)

var ErrNoOperationModule = errors.New("no module registered for operation/dispatch-key pair")

// OperationType is a named operation's dispatch strategy: which field
// of a candidate value determines the dispatch key, and how an
// operation's own input field names map onto the resolved module's
// input field names.
type OperationType interface {
	Name() string
	DispatchKey(v *value.Value) string
	InputMap() map[string]string
}

// TypeDispatch is the OperationType every built-in operation uses:
// dispatch by the value's declared data type name, with a fixed
// field-name remapping onto the target module's inputs.
type TypeDispatch struct {
	OpName   string
	Fields   map[string]string
}

func (t TypeDispatch) Name() string                { return t.OpName }
func (t TypeDispatch) DispatchKey(v *value.Value) string { return v.Schema.Type }
func (t TypeDispatch) InputMap() map[string]string { return t.Fields }

type registrationKey struct {
	opType      string
	dispatchKey string
}

// Registry is the (operation_type, dispatch_key) -> manifest table of
// spec.md §4.J.
type Registry struct {
	mu    sync.RWMutex
	table map[registrationKey]module.Manifest
}

func NewRegistry() *Registry {
	return &Registry{table: map[registrationKey]module.Manifest{}}
}

// RegisterModule binds (opType, dispatchKey) to the module manifest
// that should run when that pair is dispatched.
func (r *Registry) RegisterModule(opType, dispatchKey string, manifestTemplate module.Manifest) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.table[registrationKey{opType, dispatchKey}] = manifestTemplate
}

func (r *Registry) Resolve(opType, dispatchKey string) (module.Manifest, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.table[registrationKey{opType, dispatchKey}]
	return m, ok
}

// JobRunner is the narrow slice of engine.Context's surface
// ApplyOperation needs: run a job and get back its resolved outputs
// and record, inheriting whatever caching/lineage the runner applies.
// Declared here (rather than imported from engine) so operation never
// depends on engine, keeping the dependency one-directional.
type JobRunner interface {
	RunJob(ctx context.Context, manifest module.Manifest, inputs module.ValueMap) (module.ValueMap, *job.Record, error)
}

// ApplyOperation resolves opType for v's dispatch key, remaps fields
// per the resolved OperationType's InputMap, merges in extra fields,
// and runs the resulting job through runner.
func ApplyOperation(ctx context.Context, runner JobRunner, registry *Registry, opType OperationType, v *value.Value, extra module.ValueMap) (module.ValueMap, *job.Record, error) {
	dispatchKey := opType.DispatchKey(v)
	manifest, ok := registry.Resolve(opType.Name(), dispatchKey)
	if !ok {
		return nil, nil, fmt.Errorf("%w: operation=%s dispatch_key=%s", ErrNoOperationModule, opType.Name(), dispatchKey)
	}

	inputs := make(module.ValueMap, len(extra)+1)
	for k, v := range extra {
		inputs[k] = v
	}
	if fieldMap := opType.InputMap(); len(fieldMap) > 0 {
		for opField, moduleField := range fieldMap {
			if opField == "value" {
				inputs[moduleField] = v
			}
		}
	} else {
		inputs["value"] = v
	}

	return runner.RunJob(ctx, manifest, inputs)
}

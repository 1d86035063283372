// Package datatype implements the process-wide data-type registry
// (spec.md §4.B): named, versioned capability bundles declaring
// representation acceptance, canonical encoding, equality, validation
// and metadata extraction for a value's payload.
package datatype

import (
	"errors"
	"fmt"
	"sync"

	xerrors "github.com/kiara-project/kiara-go/pkg/errors"
)

var (
	ErrDuplicateType          = errors.New("duplicate data type")
	ErrTypeValidation         = errors.New("type validation failed")
	ErrUnknownDataType        = errors.New("unknown data type")
	ErrOpaqueNotPersistable   = errors.New("opaque payload cannot be persisted")
)

func NewErrTypeValidation(path, reason string) error {
	return fmt.Errorf("%w (path = %s): %s", ErrTypeValidation, path, reason)
}

// PropertyExtractor derives one well-known metadata key from a payload.
type PropertyExtractor func(payload any) (any, error)

// DataType is the capability bundle a registered type descriptor provides.
//
// A type that cannot be encoded (e.g. the "opaque" type) returns
// ErrOpaqueNotPersistable from Encode. value.Registry.RegisterValue
// encodes every non-nil payload, so registering such a payload fails
// with that error, whether or not it is later persisted.
type DataType interface {
	Name() string
	Version() string

	// Accepts reports whether payload is an acceptable representation
	// for this type without fully validating it.
	Accepts(payload any) bool

	// Validate runs the type's validation predicates, returning
	// ErrTypeValidation (via NewErrTypeValidation) on failure.
	Validate(payload any) error

	// Encode/Decode define the canonical byte representation. A type
	// that cannot be persisted (e.g. "opaque") returns
	// ErrOpaqueNotPersistable from Encode.
	Encode(payload any) ([]byte, error)
	Decode(data []byte) (any, error)

	// EqualPayload reports whether two decoded payloads of this type
	// are equal.
	EqualPayload(a, b any) bool

	// Extractors returns the named property extractors this type
	// contributes to the extract_metadata operation.
	Extractors() map[string]PropertyExtractor

	// Subtypes lists other type names this type is dispatch-compatible
	// with (e.g. "file_bundle" also satisfies a query accepting "any").
	Subtypes() []string
}

// Registry is a process-wide, fail-fast, immutable-after-registration
// map of type name -> DataType. Safe for concurrent reads; Register is
// expected to run only during context construction.
type Registry struct {
	mu    sync.RWMutex
	types map[string]DataType
}

func NewRegistry() *Registry {
	return &Registry{types: map[string]DataType{}}
}

// Register adds dt to the registry. Registering a name twice is an
// error (ErrDuplicateType) regardless of whether the descriptor is
// identical: registration failures must fail fast, never merge.
func (r *Registry) Register(dt DataType) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.types[dt.Name()]; exists {
		return xerrors.Wrap(fmt.Errorf("%w: %s", ErrDuplicateType, dt.Name()))
	}
	r.types[dt.Name()] = dt
	return nil
}

func (r *Registry) Get(name string) (DataType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	dt, ok := r.types[name]
	return dt, ok
}

func (r *Registry) MustGet(name string) (DataType, error) {
	dt, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDataType, name)
	}
	return dt, nil
}

// Satisfies reports whether a value declared as `have` may be used
// where `want` is required: either the names match, or `want` is
// listed among `have`'s subtypes.
func (r *Registry) Satisfies(have, want string) bool {
	if have == want {
		return true
	}
	dt, ok := r.Get(have)
	if !ok {
		return false
	}
	for _, s := range dt.Subtypes() {
		if s == want {
			return true
		}
	}
	return false
}

// RegisterDefaults registers the core built-in types of spec.md §3.
func RegisterDefaults(r *Registry) error {
	for _, dt := range []DataType{
		NoneType{},
		AnyType{},
		BytesType{},
		StringType{},
		BooleanType{},
		DictType{},
		TableType{},
		FileType{},
		FileBundleType{},
		OpaqueType{},
		PipelineStructureType{},
		JobRecordType{},
	} {
		if err := r.Register(dt); err != nil {
			return err
		}
	}
	return nil
}

// Package module declares the abstract unit of work (spec.md §4.E):
// typed inputs flow through a pure Process function into typed
// outputs. A module is reconstructed from its Manifest on every
// invocation; it is never itself persisted.
package module

import (
	"context"
	"errors"
	"fmt"

	"github.com/kiara-project/kiara-go/pkg/domain/value"
)

// ValueMap is a module's resolved input payload, keyed by field name:
// each field is a fully registered, content-addressed *value.Value.
type ValueMap map[string]*value.Value

// OutputMap is what Process returns: raw payloads keyed by output
// field name. The processor (not the module) registers these into
// the value registry against the module's declared OutputsSchema and
// the producing job's lineage, so a module never needs to know about
// hashing or persistence (spec.md §4.E: Module is reconstructed from
// its manifest and is otherwise stateless).
type OutputMap map[string]any

// Manifest pairs a module_type name with its module_config
// (spec.md §3 "Manifest").
type Manifest struct {
	ModuleType   string         `cbor:"module_type"`
	ModuleConfig map[string]any `cbor:"module_config,omitempty"`
}

func (m Manifest) Equal(o Manifest) bool {
	if m.ModuleType != o.ModuleType {
		return false
	}
	if len(m.ModuleConfig) != len(o.ModuleConfig) {
		return false
	}
	for k, v := range m.ModuleConfig {
		if ov, ok := o.ModuleConfig[k]; !ok || fmt.Sprint(ov) != fmt.Sprint(v) {
			return false
		}
	}
	return true
}

// Module is the logical entity spec.md §4.E describes: not stored,
// reconstructed from its manifest, exposing input/output schemas and
// a pure Process function.
type Module interface {
	InputsSchema() map[string]value.Schema
	OutputsSchema() map[string]value.Schema
	Process(ctx context.Context, inputs ValueMap) (OutputMap, error)
}

// Failure is a recoverable, expected business error a module may
// raise from Process (spec.md §4.E / §7): ModuleFailure.
type Failure struct {
	Reason string
	Field  string
}

func (f *Failure) Error() string {
	if f.Field == "" {
		return fmt.Sprintf("module failure: %s", f.Reason)
	}
	return fmt.Sprintf("module failure (field=%s): %s", f.Field, f.Reason)
}

func NewFailure(reason string) *Failure {
	return &Failure{Reason: reason}
}

func NewFieldFailure(field, reason string) *Failure {
	return &Failure{Reason: reason, Field: field}
}

// IsFailure reports whether err is (or wraps) a *Failure, i.e. whether
// the processor should treat it as a recoverable ModuleFailure rather
// than an unexpected ModuleCrash.
func IsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

// Crash wraps any error a module raised that was not a *Failure: an
// unexpected panic or unchecked error (spec.md §7: ModuleCrash).
type Crash struct {
	Cause error
}

func (c *Crash) Error() string { return fmt.Sprintf("module crash: %v", c.Cause) }
func (c *Crash) Unwrap() error { return c.Cause }

func NewCrash(cause error) *Crash {
	return &Crash{Cause: cause}
}

package job

import (
	"time"

	"github.com/kiara-project/kiara-go/pkg/cmp"
	"github.com/kiara-project/kiara-go/pkg/domain/encoding"
	"github.com/kiara-project/kiara-go/pkg/domain/value"
)

// Status is the tagged-variant job lifecycle (spec.md §9 "tagged
// variants for closed sets").
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusDone      Status = "done"
	StatusFailed    Status = "failed"
	StatusCrashed   Status = "crashed"
	StatusCancelled Status = "cancelled"
	StatusTimedOut  Status = "timed_out"
)

func (s Status) HasFinished() bool {
	switch s {
	case StatusDone, StatusFailed, StatusCrashed, StatusCancelled, StatusTimedOut:
		return true
	default:
		return false
	}
}

// Runtime captures the job's execution metrics (SPEC_FULL.md §4,
// supplementing the distilled spec with
// original_source/src/kiara/models/module/jobs.py's runtime tracking).
type Runtime struct {
	WallClock      time.Duration `cbor:"wall_clock"`
	PeakMemoryBytes *int64       `cbor:"peak_memory_bytes,omitempty"`
}

// Record is the immutable, once-stored job record of spec.md §3/§6.
type Record struct {
	JobHash      encoding.Hash            `cbor:"job_hash"`
	ManifestHash encoding.Hash            `cbor:"manifest_hash"`
	ModuleType   string                   `cbor:"module_type"`
	ModuleConfig map[string]any           `cbor:"module_config,omitempty"`
	Inputs       map[string]encoding.Hash `cbor:"inputs"`
	Outputs      map[string]encoding.Hash `cbor:"outputs"`
	InputsSchema map[string]value.Schema  `cbor:"inputs_schema"`
	OutputsSchema map[string]value.Schema `cbor:"outputs_schema"`
	Status       Status                   `cbor:"status"`
	StartedAt    time.Time                `cbor:"started_at"`
	FinishedAt   time.Time                `cbor:"finished_at,omitempty"`
	Comment      string                   `cbor:"comment"`
	Runtime      Runtime                  `cbor:"runtime"`
	FailureField string                   `cbor:"failure_field,omitempty"`
	FailureNote  string                   `cbor:"failure_note,omitempty"`
}

func (r *Record) Equal(o *Record) bool {
	if r == nil || o == nil {
		return r == nil && o == nil
	}
	return r.JobHash == o.JobHash && r.Status == o.Status && cmp.MapEq(r.Outputs, o.Outputs)
}

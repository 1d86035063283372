package value

import (
	"fmt"

	"github.com/kiara-project/kiara-go/pkg/domain/encoding"
)

// OriginKind is the tagged-variant of where a value came from
// (spec.md §3: "external" or "job").
type OriginKind string

const (
	OriginExternal OriginKind = "external"
	OriginJob      OriginKind = "job"
)

// Origin is a value's lineage pointer. For OriginExternal, Label
// describes who/what supplied it. For OriginJob, JobHash/OutputName
// identify the producing job and the specific output field.
type Origin struct {
	Kind       OriginKind    `cbor:"kind"`
	Label      string        `cbor:"label,omitempty"`
	JobHash    encoding.Hash `cbor:"job_hash,omitempty"`
	OutputName string        `cbor:"output_name,omitempty"`
}

func External(label string) Origin {
	return Origin{Kind: OriginExternal, Label: label}
}

func FromJob(jobHash encoding.Hash, outputName string) Origin {
	return Origin{Kind: OriginJob, JobHash: jobHash, OutputName: outputName}
}

func (o Origin) String() string {
	switch o.Kind {
	case OriginExternal:
		return fmt.Sprintf("external(%s)", o.Label)
	case OriginJob:
		return fmt.Sprintf("job(%s, %s)", o.JobHash, o.OutputName)
	default:
		return "unknown-origin"
	}
}

func (o Origin) Equal(other Origin) bool {
	return o == other
}

package processor

import (
	"context"
	"time"

	"github.com/kiara-project/kiara-go/pkg/domain/module"
	"github.com/kiara-project/kiara-go/pkg/domain/value"
)

// Synchronous runs a step's job inline on the calling goroutine
// (spec.md §4.I).
type Synchronous struct {
	core core
}

func NewSynchronous(deps Deps) *Synchronous {
	return &Synchronous{core: core{deps: deps}}
}

// RunStep resolves manifest's job (cache hit or fresh module.Process
// call), registering any freshly-produced outputs into deps.Values.
// jobTimeout of 0 means no per-job deadline beyond ctx's own.
func (s *Synchronous) RunStep(ctx context.Context, manifest module.Manifest, outputsSchema map[string]value.Schema, inputs module.ValueMap, jobTimeout time.Duration) Result {
	return s.core.run(ctx, manifest, outputsSchema, inputs, jobTimeout)
}

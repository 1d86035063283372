// Package processor implements the synchronous and parallel execution
// strategies of spec.md §4.I: resolve a step's manifest, consult the
// job cache, run the module if there is no reusable record, and
// register outputs into the value registry under the producing job's
// lineage.
package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kiara-project/kiara-go/pkg/domain/archive"
	"github.com/kiara-project/kiara-go/pkg/domain/encoding"
	"github.com/kiara-project/kiara-go/pkg/domain/job"
	"github.com/kiara-project/kiara-go/pkg/domain/module"
	"github.com/kiara-project/kiara-go/pkg/domain/moduletype"
	"github.com/kiara-project/kiara-go/pkg/domain/value"
	xerrors "github.com/kiara-project/kiara-go/pkg/errors"
)

// Deps are the registries and stores a core needs to resolve,
// execute and memoize one step (spec.md §4.K's Context binds exactly
// these for the engine as a whole; a core borrows references to them).
type Deps struct {
	Modules     *moduletype.Registry
	Values      *value.Registry
	Jobs        *job.Registry
	DataArchive archive.Archive
}

// Result is the outcome of running (or reusing) one step's job.
type Result struct {
	JobHash encoding.Hash
	Record  *job.Record
	Outputs module.ValueMap
	Err     error
}

type core struct {
	deps Deps
}

// hashInputs computes the sorted field->value-hash map job.InputsHash
// needs from a resolved ValueMap.
func hashInputs(inputs module.ValueMap) map[string]encoding.Hash {
	out := make(map[string]encoding.Hash, len(inputs))
	for field, v := range inputs {
		out[field] = v.Hash
	}
	return out
}

func computeJobHash(manifest module.Manifest, inputs module.ValueMap) (encoding.Hash, encoding.Hash, encoding.Hash, error) {
	manifestHash, err := job.ManifestHash(manifest)
	if err != nil {
		return "", "", "", xerrors.Wrap(err)
	}
	inputsHash, err := job.InputsHash(hashInputs(inputs))
	if err != nil {
		return "", "", "", xerrors.Wrap(err)
	}
	jobHash, err := job.Hash(manifestHash, inputsHash)
	if err != nil {
		return "", "", "", xerrors.Wrap(err)
	}
	return manifestHash, inputsHash, jobHash, nil
}

// run is the shared step-execution path for both the Synchronous and
// Parallel strategies: resolve the job hash, try the cache, and fall
// back to invoking the module.
func (c *core) run(ctx context.Context, manifest module.Manifest, outputsSchema map[string]value.Schema, inputs module.ValueMap, timeout time.Duration) Result {
	manifestHash, inputsHash, jobHash, err := computeJobHash(manifest, inputs)
	if err != nil {
		return Result{Err: err}
	}

	if rec, ok, err := c.deps.Jobs.LookupJob(jobHash); err != nil {
		return Result{JobHash: jobHash, Err: xerrors.Wrap(err)}
	} else if ok {
		outputs, err := c.resolveCachedOutputs(rec)
		return Result{JobHash: jobHash, Record: rec, Outputs: outputs, Err: err}
	}

	return c.runFresh(ctx, manifest, manifestHash, inputsHash, jobHash, outputsSchema, inputs, timeout)
}

// resolveCachedOutputs rebuilds a module.ValueMap from a cached
// job.Record's output hashes. A hash not present in the bound data
// archive is a hard JobOutputMissing error (spec.md §4.F): the cache
// is authoritative, so a missing output must never silently trigger a
// re-run; it must surface so provenance is never silently broken.
func (c *core) resolveCachedOutputs(rec *job.Record) (module.ValueMap, error) {
	if rec.Status != job.StatusDone {
		return nil, job.NewErrCachedJobFailed(rec)
	}

	outputs := make(module.ValueMap, len(rec.Outputs))
	for field, hash := range rec.Outputs {
		if v, err := c.deps.Values.GetByHash(hash); err == nil {
			outputs[field] = v
			continue
		}

		ok, err := c.deps.DataArchive.Contains(hash)
		if err != nil {
			return nil, xerrors.Wrap(err)
		}
		if !ok {
			return nil, job.NewErrJobOutputMissing(rec.JobHash, field)
		}

		wire, err := c.deps.DataArchive.LoadValue(hash)
		if err != nil {
			return nil, xerrors.Wrap(err)
		}
		v, err := c.deps.Values.RegisterFromWire(wire)
		if err != nil {
			return nil, xerrors.Wrap(err)
		}
		outputs[field] = v
	}
	return outputs, nil
}

func (c *core) runFresh(
	ctx context.Context,
	manifest module.Manifest,
	manifestHash, inputsHash, jobHash encoding.Hash,
	outputsSchema map[string]value.Schema,
	inputs module.ValueMap,
	timeout time.Duration,
) Result {
	mod, err := c.deps.Modules.Build(manifest)
	if err != nil {
		return Result{JobHash: jobHash, Err: xerrors.Wrap(err)}
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	startedAt := time.Now()
	outputPayloads, procErr := runProcess(runCtx, mod, inputs)
	wallClock := time.Since(startedAt)

	rec := &job.Record{
		JobHash:       jobHash,
		ManifestHash:  manifestHash,
		ModuleType:    manifest.ModuleType,
		ModuleConfig:  manifest.ModuleConfig,
		Inputs:        hashInputs(inputs),
		InputsSchema:  schemasOf(inputs),
		OutputsSchema: outputsSchema,
		StartedAt:     startedAt,
		FinishedAt:    time.Now(),
		Runtime:       job.Runtime{WallClock: wallClock},
	}

	switch {
	case runCtx.Err() == context.DeadlineExceeded:
		rec.Status = job.StatusTimedOut
	case errors.Is(runCtx.Err(), context.Canceled):
		rec.Status = job.StatusCancelled
	case procErr != nil:
		if failure, ok := module.IsFailure(procErr); ok {
			rec.Status = job.StatusFailed
			rec.FailureField = failure.Field
			rec.FailureNote = failure.Reason
		} else {
			rec.Status = job.StatusCrashed
			rec.FailureNote = procErr.Error()
		}
	default:
		rec.Status = job.StatusDone
	}

	var outputs module.ValueMap
	if rec.Status == job.StatusDone {
		outputs = make(module.ValueMap, len(outputPayloads))
		rec.Outputs = make(map[string]encoding.Hash, len(outputPayloads))
		for field, payload := range outputPayloads {
			schema, ok := outputsSchema[field]
			if !ok {
				return Result{JobHash: jobHash, Record: rec, Err: fmt.Errorf("module produced undeclared output field: %s", field)}
			}
			v, err := c.deps.Values.RegisterValue(schema, payload, value.FromJob(jobHash, field))
			if err != nil {
				return Result{JobHash: jobHash, Record: rec, Err: xerrors.Wrap(err)}
			}
			outputs[field] = v
			rec.Outputs[field] = v.Hash
		}
	}

	// A crashed or timed-out run leaves no job record (spec.md §5/§7):
	// both are transient-looking failures a retry might resolve
	// differently, so caching either as if it were a reproducible
	// outcome would be wrong.
	if rec.Status != job.StatusCrashed && rec.Status != job.StatusTimedOut {
		if err := c.deps.Jobs.RecordJob(rec); err != nil {
			return Result{JobHash: jobHash, Record: rec, Outputs: outputs, Err: xerrors.Wrap(err)}
		}
	}

	if rec.Status != job.StatusDone {
		return Result{JobHash: jobHash, Record: rec, Outputs: outputs, Err: recordStatusError(rec, procErr)}
	}
	return Result{JobHash: jobHash, Record: rec, Outputs: outputs}
}

func recordStatusError(rec *job.Record, procErr error) error {
	switch rec.Status {
	case job.StatusTimedOut:
		return fmt.Errorf("job %s timed out", rec.JobHash)
	case job.StatusCancelled:
		return fmt.Errorf("job %s cancelled", rec.JobHash)
	default:
		return procErr
	}
}

func schemasOf(inputs module.ValueMap) map[string]value.Schema {
	out := make(map[string]value.Schema, len(inputs))
	for field, v := range inputs {
		out[field] = v.Schema
	}
	return out
}

// runProcess invokes mod.Process, recovering a panic into a
// *module.Crash so a misbehaving module can never take the processor
// down with it (spec.md §7: ModuleCrash is always catchable).
func runProcess(ctx context.Context, mod module.Module, inputs module.ValueMap) (module.OutputMap, error) {
	var (
		outputs module.OutputMap
		err     error
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = module.NewCrash(fmt.Errorf("panic: %v", r))
			}
		}()
		outputs, err = mod.Process(ctx, inputs)
		if err != nil {
			if _, ok := module.IsFailure(err); !ok {
				err = module.NewCrash(err)
			}
		}
	}()
	return outputs, err
}

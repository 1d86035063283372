// Package engine implements the Context of spec.md §4.K: the single
// object binding every registry and store the engine needs, and the
// minimum API surface (RunJob, QueueJob, GetValue, StoreValue, ...)
// spec.md §6 names.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiara-project/kiara-go/pkg/domain/archive"
	"github.com/kiara-project/kiara-go/pkg/domain/datatype"
	"github.com/kiara-project/kiara-go/pkg/domain/encoding"
	"github.com/kiara-project/kiara-go/pkg/domain/job"
	"github.com/kiara-project/kiara-go/pkg/domain/module"
	"github.com/kiara-project/kiara-go/pkg/domain/moduletype"
	"github.com/kiara-project/kiara-go/pkg/domain/operation"
	"github.com/kiara-project/kiara-go/pkg/domain/pipeline"
	"github.com/kiara-project/kiara-go/pkg/domain/pipelinestate"
	"github.com/kiara-project/kiara-go/pkg/domain/processor"
	"github.com/kiara-project/kiara-go/pkg/domain/value"
	xerrors "github.com/kiara-project/kiara-go/pkg/errors"
)

// Stores groups the per-kind archive.Store bindings spec.md §4.K
// describes. A deployment is free to point every field at the same
// backend instance (the common case: one filesystem root or one
// Postgres database serves all kinds) or split them across backends.
type Stores struct {
	Data     archive.Store
	Job      archive.Store
	Alias    archive.Store
	Metadata archive.Store
	Workflow archive.WorkflowStore
}

// Context is the engine's single composition root (spec.md §4.K).
type Context struct {
	Types      *datatype.Registry
	Modules    *moduletype.Registry
	Values     *value.Registry
	Operations *operation.Registry
	Jobs       *job.Registry
	Stores     Stores

	Synchronous *processor.Synchronous
	Parallel    *processor.Parallel

	mu        sync.RWMutex
	pipelines map[string]*pipeline.Structure
}

// New wires a Context from already-constructed registries and stores.
// Workers <= 0 sizes the parallel pool at runtime.GOMAXPROCS.
func New(types *datatype.Registry, modules *moduletype.Registry, stores Stores, workers int) *Context {
	values := value.NewRegistry(types)
	jobs := job.NewRegistry(stores.Job)
	deps := processor.Deps{
		Modules:     modules,
		Values:      values,
		Jobs:        jobs,
		DataArchive: stores.Data,
	}
	return &Context{
		Types:       types,
		Modules:     modules,
		Values:      values,
		Operations:  operation.NewRegistry(),
		Jobs:        jobs,
		Stores:      stores,
		Synchronous: processor.NewSynchronous(deps),
		Parallel:    processor.NewParallel(deps, workers),
		pipelines:   map[string]*pipeline.Structure{},
	}
}

// Close releases resources RunJob/QueueJob started in the
// background. It does not wait for jobs already in flight.
func (c *Context) Close() {
	c.Parallel.Close()
}

// RunJob runs manifest's job inline, blocking until it completes, and
// returns its resolved outputs alongside the job.Record.
func (c *Context) RunJob(ctx context.Context, manifest module.Manifest, inputs module.ValueMap) (module.ValueMap, *job.Record, error) {
	mod, err := c.Modules.Build(manifest)
	if err != nil {
		return nil, nil, xerrors.Wrap(err)
	}
	res := c.Synchronous.RunStep(ctx, manifest, mod.OutputsSchema(), inputs, 0)
	return res.Outputs, res.Record, res.Err
}

// QueueJob dispatches manifest's job onto the parallel worker pool
// and returns its job hash immediately; GetJobRecord or
// Parallel.WaitFor observe completion.
func (c *Context) QueueJob(ctx context.Context, manifest module.Manifest, inputs module.ValueMap, timeout time.Duration) (encoding.Hash, error) {
	mod, err := c.Modules.Build(manifest)
	if err != nil {
		return "", xerrors.Wrap(err)
	}
	return c.Parallel.Submit(ctx, manifest, mod.OutputsSchema(), inputs, timeout)
}

// GetValue resolves ref (a literal value id or "alias:NAME") to a
// live value.
func (c *Context) GetValue(ref string) (*value.Value, error) {
	return c.Values.Resolve(ref, c.Stores.Alias)
}

// StoreValue registers payload under schema, persists its wire
// encoding into the bound data store, and returns the resulting
// *value.Value.
func (c *Context) StoreValue(schema value.Schema, payload any, origin value.Origin) (*value.Value, error) {
	v, err := c.Values.RegisterValue(schema, payload, origin)
	if err != nil {
		return nil, err
	}
	dt, err := c.Types.MustGet(schema.Type)
	if err != nil {
		return nil, xerrors.Wrap(err)
	}
	var payloadBytes []byte
	if payload != nil {
		payloadBytes, err = dt.Encode(payload)
		if err != nil {
			return nil, xerrors.Wrap(err)
		}
	}
	if err := c.Stores.Data.WriteValue(v.ToWireRecord(payloadBytes)); err != nil {
		return nil, xerrors.Wrap(err)
	}
	return v, nil
}

// ResolveAlias dereferences name through the alias store and
// rehydrates the target value if necessary.
func (c *Context) ResolveAlias(name string) (*value.Value, error) {
	id, ok, err := c.Stores.Alias.LookupAlias(name)
	if err != nil {
		return nil, xerrors.Wrap(err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: alias %q", archive.ErrUnknownAlias, name)
	}
	if v, err := c.Values.Get(id); err == nil {
		return v, nil
	}
	hashes, err := c.Stores.Data.IterValues()
	if err != nil {
		return nil, xerrors.Wrap(err)
	}
	for _, h := range hashes {
		wire, err := c.Stores.Data.LoadValue(h)
		if err != nil {
			continue
		}
		v, err := c.Values.RegisterFromWire(wire)
		if err == nil && v.ID == id {
			return v, nil
		}
	}
	return nil, fmt.Errorf("%w: alias %q points at a value not present in the data store", archive.ErrUnknownAlias, name)
}

func (c *Context) ListAliases() ([]string, error) {
	return c.Stores.Alias.ListAliases()
}

func (c *Context) GetJobRecord(jobHash encoding.Hash) (*job.Record, bool, error) {
	return c.Jobs.LookupJob(jobHash)
}

// ArchiveSnapshot is the export_archive/import_archive blob shape
// (spec.md §6, property 8: a round trip preserves the set of stored
// value hashes, alias->value-id mappings, and job records). Workflow
// snapshots ride along per SPEC_FULL.md's supplemented workflow
// archive kind.
type ArchiveSnapshot struct {
	Values    []value.WireRecord            `cbor:"values"`
	Aliases   map[string]uuid.UUID          `cbor:"aliases"`
	Jobs      []*job.Record                 `cbor:"jobs"`
	Workflows []archive.WorkflowSnapshot    `cbor:"workflows"`
}

// ExportArchive snapshots every value, alias, job and workflow record
// currently bound into the context's stores and canonically encodes
// them into one portable blob.
func (c *Context) ExportArchive() ([]byte, error) {
	hashes, err := c.Stores.Data.IterValues()
	if err != nil {
		return nil, xerrors.Wrap(err)
	}
	values := make([]value.WireRecord, 0, len(hashes))
	for _, h := range hashes {
		wire, err := c.Stores.Data.LoadValue(h)
		if err != nil {
			return nil, xerrors.Wrap(err)
		}
		values = append(values, wire)
	}

	names, err := c.Stores.Alias.ListAliases()
	if err != nil {
		return nil, xerrors.Wrap(err)
	}
	aliases := make(map[string]uuid.UUID, len(names))
	for _, name := range names {
		id, ok, err := c.Stores.Alias.LookupAlias(name)
		if err != nil {
			return nil, xerrors.Wrap(err)
		}
		if ok {
			aliases[name] = id
		}
	}

	jobs, err := c.Stores.Job.IterJobs()
	if err != nil {
		return nil, xerrors.Wrap(err)
	}

	workflowIDs, err := c.Stores.Workflow.ListWorkflows()
	if err != nil {
		return nil, xerrors.Wrap(err)
	}
	workflows := make([]archive.WorkflowSnapshot, 0, len(workflowIDs))
	for _, id := range workflowIDs {
		wf, err := c.Stores.Workflow.LoadWorkflow(id)
		if err != nil {
			return nil, xerrors.Wrap(err)
		}
		workflows = append(workflows, wf)
	}

	return encoding.CanonicalEncode(ArchiveSnapshot{
		Values: values, Aliases: aliases, Jobs: jobs, Workflows: workflows,
	})
}

// ImportArchive replays a blob produced by ExportArchive into the
// context's bound stores. Writes are idempotent on hash/name (spec.md
// §4.D), so importing a blob whose contents already exist is a no-op.
func (c *Context) ImportArchive(blob []byte) error {
	var snap ArchiveSnapshot
	if err := encoding.CanonicalDecode(blob, &snap); err != nil {
		return xerrors.Wrap(err)
	}
	for _, wire := range snap.Values {
		if err := c.Stores.Data.WriteValue(wire); err != nil {
			return xerrors.Wrap(err)
		}
	}
	for name, id := range snap.Aliases {
		if err := c.Stores.Alias.WriteAlias(name, id); err != nil {
			return xerrors.Wrap(err)
		}
	}
	for _, rec := range snap.Jobs {
		if err := c.Stores.Job.WriteJob(rec); err != nil {
			return xerrors.Wrap(err)
		}
	}
	for _, wf := range snap.Workflows {
		if err := c.Stores.Workflow.WriteWorkflow(wf); err != nil {
			return xerrors.Wrap(err)
		}
	}
	return nil
}

// ArchiveInfo reports one bound store's identity and configuration
// (spec.md §6's retrieve_archive_info).
type ArchiveInfo struct {
	ArchiveID string
	Kind      archive.Kind
	Config    archive.Config
}

// RetrieveArchiveInfo looks up the store bound to kind.
func (c *Context) RetrieveArchiveInfo(kind archive.Kind) (ArchiveInfo, error) {
	var a archive.Archive
	switch kind {
	case archive.KindData:
		a = c.Stores.Data
	case archive.KindJob:
		a = c.Stores.Job
	case archive.KindAlias:
		a = c.Stores.Alias
	case archive.KindMetadata:
		a = c.Stores.Metadata
	case archive.KindWorkflow:
		a = c.Stores.Workflow
	default:
		return ArchiveInfo{}, fmt.Errorf("unknown archive kind: %s", kind)
	}
	return ArchiveInfo{ArchiveID: a.ArchiveID(), Kind: a.Kind(), Config: a.Config()}, nil
}

// RegisterPipeline compiles decl and makes it available to
// ListPipelines/GetPipeline under its declared name.
func (c *Context) RegisterPipeline(decl pipeline.Declaration) (*pipeline.Structure, error) {
	structure, err := pipeline.Compile(decl, c.Modules, c.Types)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.pipelines[structure.Name] = structure
	c.mu.Unlock()
	return structure, nil
}

func (c *Context) ListPipelines() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.pipelines))
	for name := range c.pipelines {
		names = append(names, name)
	}
	return names
}

func (c *Context) GetPipeline(name string) (*pipeline.Structure, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.pipelines[name]
	return s, ok
}

// RunPipeline drives structure to completion synchronously: it seeds
// the pipeline's inputs, then repeatedly runs every step whose inputs
// are ready until every step has run (spec.md §4.G/H end to end). If a
// pass finds no ready step while steps remain (for example because a
// pipeline input was not supplied), it returns an error naming the
// steps that never became ready.
func (c *Context) RunPipeline(ctx context.Context, structure *pipeline.Structure, inputs map[string]*value.Value) (map[string]*value.Value, error) {
	ctrl := pipelinestate.New(structure, pipelinestate.Callbacks{})
	defer ctrl.Close()

	if err := ctrl.SetPipelineInputs(ctx, inputs); err != nil {
		return nil, err
	}

	remaining := make(map[string]bool, len(structure.Steps))
	for id := range structure.Steps {
		remaining[id] = true
	}

	for len(remaining) > 0 {
		progressed := false
		for id := range remaining {
			if !ctrl.StepIsReady(id) {
				continue
			}
			stepInputs, _ := ctrl.StepInputs(id)
			st := structure.Steps[id]

			res := c.Synchronous.RunStep(ctx, st.Manifest, toValueSchemas(st.OutputsSchema), stepInputs, 0)
			if res.Err != nil {
				return nil, fmt.Errorf("step %s: %w", id, res.Err)
			}
			if err := ctrl.ProcessStep(ctx, id, res.Outputs); err != nil {
				return nil, err
			}
			delete(remaining, id)
			progressed = true
		}
		if !progressed {
			stalled := make([]string, 0, len(remaining))
			for id := range remaining {
				stalled = append(stalled, id)
			}
			return nil, fmt.Errorf("pipeline %s stalled: steps never became ready: %v", structure.Name, stalled)
		}
	}

	return ctrl.PipelineOutputs(), nil
}

func toValueSchemas(m map[string]pipeline.StepSchema) map[string]value.Schema {
	out := make(map[string]value.Schema, len(m))
	for field, s := range m {
		out[field] = value.Schema{Type: s.Type, TypeConfig: s.TypeConfig, Optional: s.Optional}
	}
	return out
}

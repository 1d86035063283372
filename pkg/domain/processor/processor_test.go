package processor_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kiara-project/kiara-go/pkg/domain/archive"
	"github.com/kiara-project/kiara-go/pkg/domain/archive/mock"
	"github.com/kiara-project/kiara-go/pkg/domain/datatype"
	"github.com/kiara-project/kiara-go/pkg/domain/encoding"
	"github.com/kiara-project/kiara-go/pkg/domain/job"
	"github.com/kiara-project/kiara-go/pkg/domain/module"
	"github.com/kiara-project/kiara-go/pkg/domain/moduletype"
	"github.com/kiara-project/kiara-go/pkg/domain/moduletype/builtin"
	"github.com/kiara-project/kiara-go/pkg/domain/processor"
	"github.com/kiara-project/kiara-go/pkg/domain/value"
)

// crashModule always panics, exercising the ModuleCrash recovery path.
type crashModule struct{}

func (crashModule) InputsSchema() map[string]value.Schema  { return map[string]value.Schema{} }
func (crashModule) OutputsSchema() map[string]value.Schema { return map[string]value.Schema{} }
func (crashModule) Process(context.Context, module.ValueMap) (module.OutputMap, error) {
	panic("boom")
}

// slowModule blocks until its context is done, exercising the
// per-job timeout path.
type slowModule struct{}

func (slowModule) InputsSchema() map[string]value.Schema  { return map[string]value.Schema{} }
func (slowModule) OutputsSchema() map[string]value.Schema { return map[string]value.Schema{} }
func (slowModule) Process(ctx context.Context, _ module.ValueMap) (module.OutputMap, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func newTestDeps(t *testing.T) (processor.Deps, *mock.Store) {
	t.Helper()
	types := datatype.NewRegistry()
	if err := datatype.RegisterDefaults(types); err != nil {
		t.Fatalf("RegisterDefaults: %v", err)
	}
	modules := moduletype.NewRegistry()
	if err := builtin.RegisterLogicModules(modules); err != nil {
		t.Fatalf("RegisterLogicModules: %v", err)
	}
	store := mock.New("test", archive.KindData)
	return processor.Deps{
		Modules:     modules,
		Values:      value.NewRegistry(types),
		Jobs:        job.NewRegistry(store),
		DataArchive: store,
	}, store
}

var booleanSchema = value.Schema{Type: "boolean"}

func TestSynchronousRunsFreshJobAndMemoizes(t *testing.T) {
	deps, _ := newTestDeps(t)
	s := processor.NewSynchronous(deps)

	a, err := deps.Values.RegisterValue(booleanSchema, true, value.External("test"))
	if err != nil {
		t.Fatalf("RegisterValue(a): %v", err)
	}
	b, err := deps.Values.RegisterValue(booleanSchema, true, value.External("test"))
	if err != nil {
		t.Fatalf("RegisterValue(b): %v", err)
	}

	manifest := module.Manifest{ModuleType: "logic.and"}
	outputsSchema := map[string]value.Schema{"y": booleanSchema}
	inputs := module.ValueMap{"a": a, "b": b}

	res := s.RunStep(context.Background(), manifest, outputsSchema, inputs, 0)
	if res.Err != nil {
		t.Fatalf("RunStep: %v", res.Err)
	}
	if res.Record.Status != job.StatusDone {
		t.Fatalf("status = %s, want done", res.Record.Status)
	}
	y, ok := res.Outputs["y"]
	if !ok || y.Payload() != true {
		t.Fatalf("outputs[y] = %v, want true", res.Outputs["y"])
	}

	again := s.RunStep(context.Background(), manifest, outputsSchema, inputs, 0)
	if again.Err != nil {
		t.Fatalf("second RunStep: %v", again.Err)
	}
	if again.JobHash != res.JobHash {
		t.Fatalf("job hash changed across identical inputs: %s vs %s", again.JobHash, res.JobHash)
	}
	if again.Outputs["y"].Hash != y.Hash {
		t.Fatalf("cached run produced a different output value")
	}
}

func TestSynchronousSurfacesJobOutputMissingInsteadOfRerunning(t *testing.T) {
	deps, _ := newTestDeps(t)
	s := processor.NewSynchronous(deps)

	a, _ := deps.Values.RegisterValue(booleanSchema, true, value.External("test"))
	b, _ := deps.Values.RegisterValue(booleanSchema, false, value.External("test"))

	manifest := module.Manifest{ModuleType: "logic.and"}
	manifestHash, err := job.ManifestHash(manifest)
	if err != nil {
		t.Fatalf("ManifestHash: %v", err)
	}
	inputHashes := map[string]encoding.Hash{"a": a.Hash, "b": b.Hash}
	inputsHash, err := job.InputsHash(inputHashes)
	if err != nil {
		t.Fatalf("InputsHash: %v", err)
	}
	jobHash, err := job.Hash(manifestHash, inputsHash)
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}

	if err := deps.Jobs.RecordJob(&job.Record{
		JobHash:      jobHash,
		ManifestHash: manifestHash,
		ModuleType:   manifest.ModuleType,
		Inputs:       inputHashes,
		Outputs:      map[string]encoding.Hash{"y": encoding.Hash("deadbeef-not-present")},
		Status:       job.StatusDone,
	}); err != nil {
		t.Fatalf("RecordJob: %v", err)
	}

	outputsSchema := map[string]value.Schema{"y": booleanSchema}
	inputs := module.ValueMap{"a": a, "b": b}

	res := s.RunStep(context.Background(), manifest, outputsSchema, inputs, 0)
	if !errors.Is(res.Err, job.ErrJobOutputMissing) {
		t.Fatalf("err = %v, want ErrJobOutputMissing", res.Err)
	}
}

func TestCrashedAndTimedOutJobsAreNotRecorded(t *testing.T) {
	deps, _ := newTestDeps(t)
	if err := deps.Modules.Register("test.crash", func(module.Manifest) (module.Module, error) {
		return crashModule{}, nil
	}); err != nil {
		t.Fatalf("Register(test.crash): %v", err)
	}
	if err := deps.Modules.Register("test.slow", func(module.Manifest) (module.Module, error) {
		return slowModule{}, nil
	}); err != nil {
		t.Fatalf("Register(test.slow): %v", err)
	}
	s := processor.NewSynchronous(deps)

	crashRes := s.RunStep(context.Background(), module.Manifest{ModuleType: "test.crash"}, map[string]value.Schema{}, module.ValueMap{}, 0)
	if crashRes.Record == nil || crashRes.Record.Status != job.StatusCrashed {
		t.Fatalf("status = %+v, want crashed", crashRes.Record)
	}
	if _, ok, _ := deps.Jobs.LookupJob(crashRes.JobHash); ok {
		t.Fatalf("crashed job was recorded, want no record")
	}

	slowRes := s.RunStep(context.Background(), module.Manifest{ModuleType: "test.slow"}, map[string]value.Schema{}, module.ValueMap{}, time.Millisecond)
	if slowRes.Record == nil || slowRes.Record.Status != job.StatusTimedOut {
		t.Fatalf("status = %+v, want timed_out", slowRes.Record)
	}
	if _, ok, _ := deps.Jobs.LookupJob(slowRes.JobHash); ok {
		t.Fatalf("timed-out job was recorded, want no record")
	}
}

func TestCachedFailedJobReplaysErrorInsteadOfEmptySuccess(t *testing.T) {
	deps, _ := newTestDeps(t)

	manifest := module.Manifest{ModuleType: "logic.and"}
	manifestHash, err := job.ManifestHash(manifest)
	if err != nil {
		t.Fatalf("ManifestHash: %v", err)
	}
	a, _ := deps.Values.RegisterValue(booleanSchema, true, value.External("test"))
	b, _ := deps.Values.RegisterValue(booleanSchema, false, value.External("test"))
	inputHashes := map[string]encoding.Hash{"a": a.Hash, "b": b.Hash}
	inputsHash, err := job.InputsHash(inputHashes)
	if err != nil {
		t.Fatalf("InputsHash: %v", err)
	}
	jobHash, err := job.Hash(manifestHash, inputsHash)
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}

	if err := deps.Jobs.RecordJob(&job.Record{
		JobHash:      jobHash,
		ManifestHash: manifestHash,
		ModuleType:   manifest.ModuleType,
		Inputs:       inputHashes,
		Status:       job.StatusFailed,
		FailureField: "a",
		FailureNote:  "boom",
	}); err != nil {
		t.Fatalf("RecordJob: %v", err)
	}

	s := processor.NewSynchronous(deps)
	res := s.RunStep(context.Background(), manifest, map[string]value.Schema{"y": booleanSchema}, module.ValueMap{"a": a, "b": b}, 0)
	if !errors.Is(res.Err, job.ErrCachedJobFailed) {
		t.Fatalf("err = %v, want ErrCachedJobFailed", res.Err)
	}
	if res.Outputs != nil {
		t.Fatalf("outputs = %v, want nil on a failed cache hit", res.Outputs)
	}
}

func TestParallelSubmitAndWaitFor(t *testing.T) {
	deps, _ := newTestDeps(t)
	p := processor.NewParallel(deps, 2)
	defer p.Wait()

	a, _ := deps.Values.RegisterValue(booleanSchema, true, value.External("test"))
	b, _ := deps.Values.RegisterValue(booleanSchema, true, value.External("test"))

	manifest := module.Manifest{ModuleType: "logic.and"}
	outputsSchema := map[string]value.Schema{"y": booleanSchema}
	inputs := module.ValueMap{"a": a, "b": b}

	ctx := context.Background()
	jobHash, err := p.Submit(ctx, manifest, outputsSchema, inputs, 0)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	results, err := p.WaitFor(ctx, []encoding.Hash{jobHash}, true)
	if err != nil {
		t.Fatalf("WaitFor: %v", err)
	}
	res, ok := results[jobHash]
	if !ok {
		t.Fatalf("missing result for job %s", jobHash)
	}
	if res.Err != nil {
		t.Fatalf("job error: %v", res.Err)
	}
	if res.Outputs["y"].Payload() != true {
		t.Fatalf("outputs[y] = %v, want true", res.Outputs["y"])
	}
}

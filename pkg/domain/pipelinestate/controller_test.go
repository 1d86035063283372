package pipelinestate_test

import (
	"context"
	"testing"
	"time"

	"github.com/kiara-project/kiara-go/pkg/domain/datatype"
	"github.com/kiara-project/kiara-go/pkg/domain/moduletype"
	"github.com/kiara-project/kiara-go/pkg/domain/moduletype/builtin"
	"github.com/kiara-project/kiara-go/pkg/domain/pipeline"
	"github.com/kiara-project/kiara-go/pkg/domain/pipelinestate"
	"github.com/kiara-project/kiara-go/pkg/domain/value"
)

func compileNandPipeline(t *testing.T) (*pipeline.Structure, *value.Registry) {
	t.Helper()

	types := datatype.NewRegistry()
	if err := datatype.RegisterDefaults(types); err != nil {
		t.Fatalf("RegisterDefaults: %v", err)
	}
	modules := moduletype.NewRegistry()
	if err := builtin.RegisterLogicModules(modules); err != nil {
		t.Fatalf("RegisterLogicModules: %v", err)
	}

	decl := pipeline.Declaration{
		PipelineName: "nand",
		Steps: []pipeline.StepDeclaration{
			{StepID: "and1", ModuleType: "logic.and"},
			{StepID: "not1", ModuleType: "logic.not", InputLinks: map[string]string{"a": "and1.y"}},
		},
		OutputAliases: map[string]string{"result": "not1.y"},
	}

	structure, err := pipeline.Compile(decl, modules, types)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	return structure, value.NewRegistry(types)
}

func TestControllerDrivesNandPipelineToCompletion(t *testing.T) {
	structure, values := compileNandPipeline(t)

	var (
		pipelineInputEvents []string
		stepInputEvents     []string
		stepOutputEvents    []string
		pipelineOutputEvts  []string
	)
	ctrl := pipelinestate.New(structure, pipelinestate.Callbacks{
		OnPipelineInputsChanged: func(fields []string) { pipelineInputEvents = append(pipelineInputEvents, fields...) },
		OnStepInputsChanged:     func(stepID string, fields []string) { stepInputEvents = append(stepInputEvents, stepID) },
		OnStepOutputsChanged:    func(stepID string, fields []string) { stepOutputEvents = append(stepOutputEvents, stepID) },
		OnPipelineOutputsChanged: func(fields []string) { pipelineOutputEvts = append(pipelineOutputEvts, fields...) },
	})
	defer ctrl.Close()

	ctx := context.Background()

	a, err := values.RegisterValue(value.Schema{Type: "boolean"}, true, value.External("test"))
	if err != nil {
		t.Fatalf("RegisterValue(a): %v", err)
	}
	b, err := values.RegisterValue(value.Schema{Type: "boolean"}, true, value.External("test"))
	if err != nil {
		t.Fatalf("RegisterValue(b): %v", err)
	}

	if err := ctrl.SetPipelineInputs(ctx, map[string]*value.Value{"a": a, "b": b}); err != nil {
		t.Fatalf("SetPipelineInputs: %v", err)
	}
	if len(pipelineInputEvents) == 0 {
		t.Fatal("expected OnPipelineInputsChanged to fire")
	}
	if !ctrl.StepIsReady("and1") {
		t.Fatal("and1 should be ready once both pipeline inputs are set")
	}
	if ctrl.StepIsReady("not1") {
		t.Fatal("not1 should not be ready before and1 has run")
	}

	andOut, err := values.RegisterValue(value.Schema{Type: "boolean"}, true, value.External("test"))
	if err != nil {
		t.Fatalf("RegisterValue(andOut): %v", err)
	}
	if err := ctrl.ProcessStep(ctx, "and1", map[string]*value.Value{"y": andOut}); err != nil {
		t.Fatalf("ProcessStep(and1): %v", err)
	}
	if len(stepOutputEvents) != 1 || stepOutputEvents[0] != "and1" {
		t.Fatalf("expected OnStepOutputsChanged(and1), got %v", stepOutputEvents)
	}
	if len(stepInputEvents) != 2 || stepInputEvents[0] != "and1" || stepInputEvents[1] != "not1" {
		t.Fatalf("expected OnStepInputsChanged(and1) from SetPipelineInputs, then (not1) from propagation, got %v", stepInputEvents)
	}
	if !ctrl.StepIsReady("not1") {
		t.Fatal("not1 should be ready once and1.y has propagated")
	}

	notOut, err := values.RegisterValue(value.Schema{Type: "boolean"}, false, value.External("test"))
	if err != nil {
		t.Fatalf("RegisterValue(notOut): %v", err)
	}
	if err := ctrl.ProcessStep(ctx, "not1", map[string]*value.Value{"y": notOut}); err != nil {
		t.Fatalf("ProcessStep(not1): %v", err)
	}
	if len(pipelineOutputEvts) == 0 {
		t.Fatal("expected OnPipelineOutputsChanged to fire once result alias is set")
	}
	if !ctrl.PipelineIsFinished() {
		t.Fatal("pipeline should be finished once result alias is set")
	}

	outputs := ctrl.PipelineOutputs()
	got, ok := outputs["result"]
	if !ok || got.Hash != notOut.Hash {
		t.Fatalf("pipeline output result = %v, want %v", got, notOut)
	}
}

func TestControllerWaitForRespectsContextCancellation(t *testing.T) {
	structure, _ := compileNandPipeline(t)
	ctrl := pipelinestate.New(structure, pipelinestate.Callbacks{})
	defer ctrl.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := ctrl.WaitFor(ctx, func(c *pipelinestate.Controller) bool {
		return c.PipelineIsFinished()
	})
	if err == nil {
		t.Fatal("expected WaitFor to return an error once the context deadline is exceeded")
	}
}

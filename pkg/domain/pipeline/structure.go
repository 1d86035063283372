package pipeline

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kiara-project/kiara-go/pkg/domain/datatype"
	"github.com/kiara-project/kiara-go/pkg/domain/encoding"
	"github.com/kiara-project/kiara-go/pkg/domain/module"
	"github.com/kiara-project/kiara-go/pkg/domain/moduletype"
	"github.com/kiara-project/kiara-go/pkg/domain/value"
	xerrors "github.com/kiara-project/kiara-go/pkg/errors"
)

var (
	ErrPipelineCycle      = errors.New("pipeline structure contains a cycle")
	ErrUnknownStep        = errors.New("input link refers to an unknown step")
	ErrIncompatibleLink   = errors.New("link source type is not compatible with its target schema")
	ErrDuplicateStepID    = errors.New("duplicate step id")
)

// LinkSource is the tagged-variant resolved source of a step's input
// link: either a pipeline input field, or another step's output.
type LinkSource struct {
	IsPipelineInput bool
	PipelineInput   string
	SourceStepID    string
	SourceField     string
}

// Step is one compiled node of the pipeline.
type Step struct {
	StepID        string
	Manifest      module.Manifest
	InputsSchema  map[string]StepSchema
	OutputsSchema map[string]StepSchema
	InputLinks    map[string]LinkSource // field -> source
	StageIndex    int
}

// StepSchema records a step field's type, type config and optional
// flag for the pipeline's own compile-time bookkeeping.
type StepSchema struct {
	Type       string
	TypeConfig map[string]any
	Optional   bool
}

// Structure is the compiled, immutable pipeline (spec.md §4.G).
type Structure struct {
	Name           string
	Doc            string
	Steps          map[string]*Step
	StepOrder      []string // declaration order, for deterministic iteration
	InputFields    map[string]StepSchema
	OutputAliases  map[string]LinkSource // pipeline output name -> step output
	hash           encoding.Hash
}

// Hash is the structure's own canonical content hash (spec.md §4.G:
// "content-addressable via its own canonical encoding").
func (s *Structure) Hash() encoding.Hash { return s.hash }

type structureForHash struct {
	Name  string            `cbor:"name"`
	Steps []stepForHash     `cbor:"steps"`
}

type stepForHash struct {
	StepID   string        `cbor:"step_id"`
	Manifest module.Manifest `cbor:"manifest"`
	Links    map[string]string `cbor:"links"`
}

// Compile validates and compiles a Declaration into a Structure
// (spec.md §4.G, steps 1-5).
func Compile(decl Declaration, modules *moduletype.Registry, types *datatype.Registry) (*Structure, error) {
	if len(decl.Steps) == 0 {
		return nil, xerrors.Wrap(errors.New("pipeline declaration has no steps"))
	}

	steps := make(map[string]*Step, len(decl.Steps))
	order := make([]string, 0, len(decl.Steps))

	for _, sd := range decl.Steps {
		if _, exists := steps[sd.StepID]; exists {
			return nil, xerrors.Wrap(fmt.Errorf("%w: %s", ErrDuplicateStepID, sd.StepID))
		}

		mod, err := modules.Build(module.Manifest{ModuleType: sd.ModuleType, ModuleConfig: sd.ModuleConfig})
		if err != nil {
			return nil, xerrors.Wrap(fmt.Errorf("step %s: %w", sd.StepID, err))
		}

		inSchema := toStepSchema(mod.InputsSchema())
		outSchema := toStepSchema(mod.OutputsSchema())

		links := make(map[string]LinkSource, len(sd.InputLinks))
		for field, ref := range sd.InputLinks {
			links[field] = parseLink(ref)
		}

		steps[sd.StepID] = &Step{
			StepID:        sd.StepID,
			Manifest:      module.Manifest{ModuleType: sd.ModuleType, ModuleConfig: sd.ModuleConfig},
			InputsSchema:  inSchema,
			OutputsSchema: outSchema,
			InputLinks:    links,
		}
		order = append(order, sd.StepID)
	}

	// Validate every link references a known step/output and every
	// un-linked step-input becomes a pipeline input field
	// (spec.md §4.G step 4).
	inputFields := map[string]StepSchema{}
	for _, stepID := range order {
		st := steps[stepID]
		for field, schema := range st.InputsSchema {
			link, linked := st.InputLinks[field]
			if !linked {
				inputFields[field] = schema
				st.InputLinks[field] = LinkSource{IsPipelineInput: true, PipelineInput: field}
				continue
			}
			if link.IsPipelineInput {
				inputFields[link.PipelineInput] = schema
				continue
			}
			srcStep, ok := steps[link.SourceStepID]
			if !ok {
				return nil, xerrors.Wrap(fmt.Errorf("%w: step %s, field %s -> %s", ErrUnknownStep, stepID, field, link.SourceStepID))
			}
			srcSchema, ok := srcStep.OutputsSchema[link.SourceField]
			if !ok {
				return nil, xerrors.Wrap(fmt.Errorf("%w: step %s, field %s -> %s.%s", ErrUnknownStep, stepID, field, link.SourceStepID, link.SourceField))
			}
			if !schemaCompatible(srcSchema, schema, types) {
				return nil, xerrors.Wrap(fmt.Errorf("%w: %s.%s (%s) -> %s.%s (%s)",
					ErrIncompatibleLink, link.SourceStepID, link.SourceField, srcSchema.Type, stepID, field, schema.Type))
			}
		}
	}

	if err := assignStageIndices(steps); err != nil {
		return nil, err
	}

	outputAliases := map[string]LinkSource{}
	for alias, ref := range decl.OutputAliases {
		outputAliases[alias] = parseLink(ref)
	}

	structure := &Structure{
		Name:          decl.PipelineName,
		Doc:           decl.Doc,
		Steps:         steps,
		StepOrder:     order,
		InputFields:   inputFields,
		OutputAliases: outputAliases,
	}

	h, err := structureHash(structure)
	if err != nil {
		return nil, err
	}
	structure.hash = h

	return structure, nil
}

func toStepSchema(m map[string]value.Schema) map[string]StepSchema {
	out := make(map[string]StepSchema, len(m))
	for field, schema := range m {
		out[field] = StepSchema{Type: schema.Type, TypeConfig: schema.TypeConfig, Optional: schema.Optional}
	}
	return out
}

func parseLink(ref string) LinkSource {
	if rest, ok := strings.CutPrefix(ref, pipelineInputPrefix); ok {
		return LinkSource{IsPipelineInput: true, PipelineInput: rest}
	}
	parts := strings.SplitN(ref, ".", 2)
	if len(parts) != 2 {
		return LinkSource{IsPipelineInput: true, PipelineInput: ref}
	}
	return LinkSource{SourceStepID: parts[0], SourceField: parts[1]}
}

func schemaCompatible(src, dst StepSchema, types *datatype.Registry) bool {
	if src.Type == dst.Type {
		return true
	}
	return types.Satisfies(src.Type, dst.Type)
}

// assignStageIndices computes each step's topological stage index
// (spec.md §4.G step 3) via Kahn's algorithm, failing with
// ErrPipelineCycle if the link graph is not acyclic (property 4).
func assignStageIndices(steps map[string]*Step) error {
	indegree := map[string]int{}
	dependents := map[string][]string{}
	for id := range steps {
		indegree[id] = 0
	}
	for id, st := range steps {
		seen := map[string]bool{}
		for _, link := range st.InputLinks {
			if link.IsPipelineInput || seen[link.SourceStepID] {
				continue
			}
			seen[link.SourceStepID] = true
			indegree[id]++
			dependents[link.SourceStepID] = append(dependents[link.SourceStepID], id)
		}
	}

	queue := make([]string, 0, len(steps))
	for id, deg := range indegree {
		if deg == 0 {
			queue = append(queue, id)
			steps[id].StageIndex = 1
		}
	}

	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++

		for _, dep := range dependents[id] {
			if steps[dep].StageIndex < steps[id].StageIndex+1 {
				steps[dep].StageIndex = steps[id].StageIndex + 1
			}
			indegree[dep]--
			if indegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	if visited != len(steps) {
		return xerrors.Wrap(ErrPipelineCycle)
	}
	return nil
}

func structureHash(s *Structure) (encoding.Hash, error) {
	steps := make([]stepForHash, 0, len(s.StepOrder))
	for _, id := range s.StepOrder {
		st := s.Steps[id]
		links := make(map[string]string, len(st.InputLinks))
		for field, l := range st.InputLinks {
			if l.IsPipelineInput {
				links[field] = pipelineInputPrefix + l.PipelineInput
			} else {
				links[field] = l.SourceStepID + "." + l.SourceField
			}
		}
		steps = append(steps, stepForHash{StepID: id, Manifest: st.Manifest, Links: links})
	}
	return encoding.HashOfValue(structureForHash{Name: s.Name, Steps: steps})
}

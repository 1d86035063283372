// Package pipeline implements the pipeline structure of spec.md §4.G:
// compiling a declarative step+link graph into a staged execution
// plan.
package pipeline

// Declaration is the YAML/JSON-friendly wire shape of spec.md §6
// "Pipeline declaration format".
type Declaration struct {
	PipelineName   string            `yaml:"pipeline_name" json:"pipeline_name"`
	Doc            string            `yaml:"doc,omitempty" json:"doc,omitempty"`
	Steps          []StepDeclaration `yaml:"steps" json:"steps"`
	InputAliases   map[string]string `yaml:"input_aliases,omitempty" json:"input_aliases,omitempty"`
	OutputAliases  map[string]string `yaml:"output_aliases,omitempty" json:"output_aliases,omitempty"`
	Inputs         map[string]any    `yaml:"inputs,omitempty" json:"inputs,omitempty"`
}

// StepDeclaration is one step within a Declaration.
type StepDeclaration struct {
	StepID       string            `yaml:"step_id" json:"step_id"`
	ModuleType   string            `yaml:"module_type" json:"module_type"`
	ModuleConfig map[string]any    `yaml:"module_config,omitempty" json:"module_config,omitempty"`
	InputLinks   map[string]string `yaml:"input_links,omitempty" json:"input_links,omitempty"`
}

// link prefixes recognized in InputLinks values, per spec.md §6:
// "pipeline_input:NAME | STEP.OUTPUT".
const pipelineInputPrefix = "pipeline_input:"

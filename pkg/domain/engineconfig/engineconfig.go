// Package engineconfig loads the YAML context document that selects
// and configures the archive backends an engine.Context binds
// (SPEC_FULL.md §1 "Configuration"): an environment-variable-selected,
// YAML-shaped named-profile config.
package engineconfig

import (
	"context"
	"fmt"
	"os"

	yaml "gopkg.in/yaml.v3"

	"github.com/kiara-project/kiara-go/pkg/domain/archive"
	"github.com/kiara-project/kiara-go/pkg/domain/archive/fsarchive"
	"github.com/kiara-project/kiara-go/pkg/domain/archive/postgres"
	"github.com/kiara-project/kiara-go/pkg/domain/engine"
)

// EnvContext is the environment variable that selects the active
// context out of a loaded Document; DefaultContext is used when it is
// unset, matching spec.md §6's default context name.
const (
	EnvContext     = "KIARA_CONTEXT"
	DefaultContext = "default"
)

// BackendConfig names one archive.Kind's backend and its connection
// detail. Backend is either "fs" (fsarchive.Open, Root required) or
// "postgres" (postgres.Open, URL required).
type BackendConfig struct {
	Backend string `yaml:"backend"`
	Root    string `yaml:"root,omitempty"`
	URL     string `yaml:"url,omitempty"`
}

// ContextConfig binds one backend per archive kind a Context needs.
type ContextConfig struct {
	Data     BackendConfig `yaml:"data"`
	Job      BackendConfig `yaml:"job"`
	Alias    BackendConfig `yaml:"alias"`
	Metadata BackendConfig `yaml:"metadata"`
	Workflow BackendConfig `yaml:"workflow"`
}

// Document is the full kiara.yaml shape: a name -> ContextConfig map.
type Document struct {
	Contexts map[string]ContextConfig `yaml:"contexts"`
}

// Load reads and parses a kiara.yaml document from path.
func Load(path string) (Document, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("reading %s: %w", path, err)
	}
	var doc Document
	if err := yaml.Unmarshal(buf, &doc); err != nil {
		return Document{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	return doc, nil
}

// SelectContext resolves the active context name from KIARA_CONTEXT
// (DefaultContext if unset) and looks it up in doc.
func SelectContext(doc Document) (string, ContextConfig, error) {
	name := os.Getenv(EnvContext)
	if name == "" {
		name = DefaultContext
	}
	cfg, ok := doc.Contexts[name]
	if !ok {
		return name, ContextConfig{}, fmt.Errorf("unknown context %q (set %s or add it to kiara.yaml)", name, EnvContext)
	}
	return name, cfg, nil
}

// OpenStores opens one backend per archive.Kind per cfg and returns
// them bound as engine.Stores.
func OpenStores(ctx context.Context, contextName string, cfg ContextConfig) (engine.Stores, error) {
	data, err := openStore(ctx, contextName, archive.KindData, cfg.Data)
	if err != nil {
		return engine.Stores{}, err
	}
	job, err := openStore(ctx, contextName, archive.KindJob, cfg.Job)
	if err != nil {
		return engine.Stores{}, err
	}
	alias, err := openStore(ctx, contextName, archive.KindAlias, cfg.Alias)
	if err != nil {
		return engine.Stores{}, err
	}
	metadata, err := openStore(ctx, contextName, archive.KindMetadata, cfg.Metadata)
	if err != nil {
		return engine.Stores{}, err
	}
	workflow, err := openWorkflowStore(ctx, contextName, cfg.Workflow)
	if err != nil {
		return engine.Stores{}, err
	}
	return engine.Stores{Data: data, Job: job, Alias: alias, Metadata: metadata, Workflow: workflow}, nil
}

func openStore(ctx context.Context, id string, kind archive.Kind, bc BackendConfig) (archive.Store, error) {
	switch bc.Backend {
	case "fs", "":
		if bc.Root == "" {
			return nil, fmt.Errorf("context %s: %s backend requires root", id, kind)
		}
		return fsarchive.Open(id, kind, bc.Root)
	case "postgres":
		if bc.URL == "" {
			return nil, fmt.Errorf("context %s: %s backend requires url", id, kind)
		}
		return postgres.Open(ctx, id, kind, bc.URL)
	default:
		return nil, fmt.Errorf("context %s: unknown backend %q for %s", id, bc.Backend, kind)
	}
}

func openWorkflowStore(ctx context.Context, id string, bc BackendConfig) (archive.WorkflowStore, error) {
	store, err := openStore(ctx, id, archive.KindWorkflow, bc)
	if err != nil {
		return nil, err
	}
	wstore, ok := store.(archive.WorkflowStore)
	if !ok {
		return nil, fmt.Errorf("context %s: %s backend does not implement the workflow store surface", id, bc.Backend)
	}
	return wstore, nil
}

// Package archive implements the pluggable persistence layer of
// spec.md §4.D: archives are read-only by contract, stores
// additionally accept writes, and writes are idempotent on value
// hashes.
package archive

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/kiara-project/kiara-go/pkg/domain/encoding"
	"github.com/kiara-project/kiara-go/pkg/domain/job"
	"github.com/kiara-project/kiara-go/pkg/domain/value"
)

// Kind is the tagged-variant of archive content (spec.md §3, §9
// "tagged variants for closed sets").
type Kind string

const (
	KindData     Kind = "data"
	KindJob      Kind = "job"
	KindAlias    Kind = "alias"
	KindWorkflow Kind = "workflow"
	KindMetadata Kind = "metadata"
)

var (
	ErrArchiveLocked      = errors.New("archive locked by another writer")
	ErrIncompatibleArchive = errors.New("archive schema version is incompatible")
	ErrUnknownAlias        = errors.New("unknown alias")
)

func NewErrIncompatibleArchive(found, supported int) error {
	return fmt.Errorf("%w: found schema version %d, this build supports up to %d", ErrIncompatibleArchive, found, supported)
}

// Config is an archive instance's opaque configuration blob
// (spec.md §3: "Every archive has a stable archive-id and a
// configuration blob").
type Config map[string]any

// Archive is the read-only contract every backend implements
// (spec.md §4.D).
type Archive interface {
	ArchiveID() string
	Kind() Kind
	Config() Config

	Contains(valueHash encoding.Hash) (bool, error)
	LoadValue(valueHash encoding.Hash) (value.WireRecord, error)
	IterValues() ([]encoding.Hash, error)
}

// AliasArchive is the read surface an alias-kind archive adds.
type AliasArchive interface {
	Archive
	LookupAlias(name string) (uuid.UUID, bool, error)
	AliasHistory(name string) ([]AliasEntry, error)
	ListAliases() ([]string, error)
}

// AliasEntry is one append-only history record for an alias
// (spec.md §3: "Aliases may be updated; the archive records the
// history").
type AliasEntry struct {
	ValueID   uuid.UUID `cbor:"value_id"`
	UpdatedAt int64     `cbor:"updated_at"`
}

// Store is a writable Archive (spec.md §4.D). A single backend
// instance (e.g. one filesystem root, one Postgres database) is
// expected to serve all of values, aliases, jobs and metadata at
// once — spec.md §4.D describes the filesystem archive's aliases and
// jobs as living alongside its value payloads under one root, and
// §4.K's Context binds one Store per kind only because a deployment
// may choose to point each kind at a different backend, not because a
// backend is incapable of serving more than one kind.
type Store interface {
	Archive
	LookupAlias(name string) (uuid.UUID, bool, error)
	AliasHistory(name string) ([]AliasEntry, error)
	ListAliases() ([]string, error)
	LookupJob(jobHash encoding.Hash) (*job.Record, bool, error)
	IterJobs() ([]*job.Record, error)

	WriteValue(wire value.WireRecord) error
	WriteAlias(name string, valueID uuid.UUID) error
	WriteJob(record *job.Record) error
	RetainJobComment(jobHash encoding.Hash, comment string) error
	WriteMetadata(valueHash encoding.Hash, metadata map[string]any) error
	LoadMetadata(valueHash encoding.Hash) (map[string]any, error)
}

// WorkflowSnapshot is the storage shape for the workflow archive kind
// (SPEC_FULL.md §4, resolving spec.md §9's open question about the
// workflow archive's shape; resumption logic stays out of scope).
type WorkflowSnapshot struct {
	WorkflowID    string            `cbor:"workflow_id"`
	PipelineHash  encoding.Hash     `cbor:"pipeline_hash"`
	StepStatuses  map[string]string `cbor:"step_statuses"`
	CreatedAt     int64             `cbor:"created_at"`
}

// WorkflowArchive is the read surface a workflow-kind archive adds.
type WorkflowArchive interface {
	Archive
	LoadWorkflow(workflowID string) (WorkflowSnapshot, error)
	ListWorkflows() ([]string, error)
}

// WorkflowStore additionally accepts writes.
type WorkflowStore interface {
	WorkflowArchive
	WriteWorkflow(snapshot WorkflowSnapshot) error
}

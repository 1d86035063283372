// Package mock implements an in-memory archive.Store: a fake good
// enough to drive the full archive.Store contract in unit tests
// without a filesystem or database.
package mock

import (
	"sync"

	"github.com/google/uuid"
	"github.com/kiara-project/kiara-go/pkg/domain/archive"
	"github.com/kiara-project/kiara-go/pkg/domain/encoding"
	"github.com/kiara-project/kiara-go/pkg/domain/job"
	"github.com/kiara-project/kiara-go/pkg/domain/value"
)

type Store struct {
	id   string
	kind archive.Kind
	cfg  archive.Config

	mu        sync.RWMutex
	values    map[encoding.Hash]value.WireRecord
	aliases   map[string][]archive.AliasEntry
	jobs      map[encoding.Hash]*job.Record
	workflows map[string]archive.WorkflowSnapshot
	metadata  map[encoding.Hash]map[string]any
}

func New(id string, kind archive.Kind) *Store {
	return &Store{
		id:        id,
		kind:      kind,
		cfg:       archive.Config{"backend": "mock"},
		values:    map[encoding.Hash]value.WireRecord{},
		aliases:   map[string][]archive.AliasEntry{},
		jobs:      map[encoding.Hash]*job.Record{},
		workflows: map[string]archive.WorkflowSnapshot{},
		metadata:  map[encoding.Hash]map[string]any{},
	}
}

func (s *Store) WriteMetadata(h encoding.Hash, metadata map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metadata[h] = metadata
	return nil
}

func (s *Store) LoadMetadata(h encoding.Hash) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.metadata[h], nil
}

func (s *Store) ArchiveID() string    { return s.id }
func (s *Store) Kind() archive.Kind   { return s.kind }
func (s *Store) Config() archive.Config { return s.cfg }

func (s *Store) Contains(h encoding.Hash) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.values[h]
	return ok, nil
}

func (s *Store) LoadValue(h encoding.Hash) (value.WireRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.values[h]
	if !ok {
		return value.WireRecord{}, encoding.NewCanonicalizationError("value not found: " + h.String())
	}
	return rec, nil
}

func (s *Store) IterValues() ([]encoding.Hash, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]encoding.Hash, 0, len(s.values))
	for h := range s.values {
		out = append(out, h)
	}
	return out, nil
}

// WriteValue is idempotent on value hash (spec.md §4.D): a second
// write of the same hash is a no-op.
func (s *Store) WriteValue(wire value.WireRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.values[wire.ValueHash]; exists {
		return nil
	}
	s.values[wire.ValueHash] = wire
	return nil
}

func (s *Store) LookupAlias(name string) (uuid.UUID, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	hist, ok := s.aliases[name]
	if !ok || len(hist) == 0 {
		return uuid.UUID{}, false, nil
	}
	return hist[len(hist)-1].ValueID, true, nil
}

func (s *Store) AliasHistory(name string) ([]archive.AliasEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]archive.AliasEntry{}, s.aliases[name]...), nil
}

func (s *Store) ListAliases() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.aliases))
	for n := range s.aliases {
		names = append(names, n)
	}
	return names, nil
}

// WriteAlias appends to the alias's history (spec.md §3: "its history
// is append-only"); the alias always resolves to the most recent
// entry (property 7: single-valuedness at any instant).
func (s *Store) WriteAlias(name string, valueID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aliases[name] = append(s.aliases[name], archive.AliasEntry{ValueID: valueID, UpdatedAt: nowUnix()})
	return nil
}

func (s *Store) WriteJob(record *job.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[record.JobHash] = record
	return nil
}

func (s *Store) LookupJob(jobHash encoding.Hash) (*job.Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.jobs[jobHash]
	return rec, ok, nil
}

func (s *Store) IterJobs() ([]*job.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*job.Record, 0, len(s.jobs))
	for _, rec := range s.jobs {
		out = append(out, rec)
	}
	return out, nil
}

func (s *Store) RetainJobComment(jobHash encoding.Hash, comment string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.jobs[jobHash]
	if !ok {
		return job.NewErrJobOutputMissing(jobHash, "")
	}
	rec.Comment = comment
	return nil
}

func (s *Store) WriteWorkflow(snapshot archive.WorkflowSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workflows[snapshot.WorkflowID] = snapshot
	return nil
}

func (s *Store) LoadWorkflow(workflowID string) (archive.WorkflowSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.workflows[workflowID]
	if !ok {
		return archive.WorkflowSnapshot{}, encoding.NewCanonicalizationError("workflow not found: " + workflowID)
	}
	return snap, nil
}

func (s *Store) ListWorkflows() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.workflows))
	for n := range s.workflows {
		names = append(names, n)
	}
	return names, nil
}

var _ archive.Store = (*Store)(nil)
var _ archive.AliasArchive = (*Store)(nil)
var _ archive.WorkflowStore = (*Store)(nil)

package job

import (
	"errors"
	"fmt"
	"sync"

	"github.com/kiara-project/kiara-go/pkg/domain/encoding"
)

var (
	// ErrJobOutputMissing is a hard error (spec.md §4.F): a recorded
	// job's output value is missing or corrupt in the bound data
	// store. The cache is authoritative; a missing output must never
	// silently trigger a re-run, to preserve provenance.
	ErrJobOutputMissing = errors.New("job output missing from data store")

	// ErrCachedJobFailed is returned when a job hash resolves to a
	// cached record that did not finish successfully: the recorded
	// failure is replayed rather than a cache hit silently producing
	// an empty result.
	ErrCachedJobFailed = errors.New("cached job did not complete successfully")
)

func NewErrJobOutputMissing(jobHash encoding.Hash, field string) error {
	return fmt.Errorf("%w: job %s, field %s", ErrJobOutputMissing, jobHash, field)
}

func NewErrCachedJobFailed(rec *Record) error {
	if rec.FailureNote != "" {
		return fmt.Errorf("%w: job %s status %s, field %q: %s", ErrCachedJobFailed, rec.JobHash, rec.Status, rec.FailureField, rec.FailureNote)
	}
	return fmt.Errorf("%w: job %s status %s", ErrCachedJobFailed, rec.JobHash, rec.Status)
}

// Store is satisfied by the archive layer's job kind (spec.md §4.D):
// the minimal persistence surface the registry needs.
type Store interface {
	LookupJob(jobHash encoding.Hash) (*Record, bool, error)
	IterJobs() ([]*Record, error)
	WriteJob(record *Record) error
}

// Registry is the job cache facade of spec.md §4.F. It is a thin
// wrapper over a Store: the registry itself holds no state beyond an
// optional in-process mirror used to avoid redundant store round
// trips within a single pipeline run.
type Registry struct {
	store Store

	mu    sync.RWMutex
	cache map[encoding.Hash]*Record
}

func NewRegistry(store Store) *Registry {
	return &Registry{store: store, cache: map[encoding.Hash]*Record{}}
}

func (r *Registry) LookupJob(jobHash encoding.Hash) (*Record, bool, error) {
	r.mu.RLock()
	if rec, ok := r.cache[jobHash]; ok {
		r.mu.RUnlock()
		return rec, true, nil
	}
	r.mu.RUnlock()

	rec, ok, err := r.store.LookupJob(jobHash)
	if err != nil || !ok {
		return nil, ok, err
	}

	r.mu.Lock()
	r.cache[jobHash] = rec
	r.mu.Unlock()
	return rec, true, nil
}

func (r *Registry) RecordJob(rec *Record) error {
	if err := r.store.WriteJob(rec); err != nil {
		return err
	}
	r.mu.Lock()
	r.cache[rec.JobHash] = rec
	r.mu.Unlock()
	return nil
}

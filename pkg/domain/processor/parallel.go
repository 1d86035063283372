package processor

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/kiara-project/kiara-go/pkg/domain/encoding"
	"github.com/kiara-project/kiara-go/pkg/domain/module"
	"github.com/kiara-project/kiara-go/pkg/domain/value"
	"github.com/kiara-project/kiara-go/pkg/loop"
)

// pendingRetention is how long a completed job's Result stays in the
// pending map after it finishes, so a WaitFor racing the prune loop
// still finds it; pendingPruneInterval is how often the pool sweeps
// for entries older than that.
const (
	pendingRetention     = 5 * time.Minute
	pendingPruneInterval = time.Minute
)

// Parallel runs steps' jobs on a bounded worker pool (spec.md §4.I):
// each Submit dispatches one job to a free worker slot and returns
// immediately with the job's hash; WaitFor blocks for completions
// without the caller ever touching a module directly, so the
// controller never blocks on a module call.
type Parallel struct {
	core core
	sem  chan struct{}
	wg   sync.WaitGroup

	mu      sync.Mutex
	pending map[encoding.Hash]*jobState

	stopPrune context.CancelFunc
}

type jobState struct {
	done       chan struct{}
	result     Result
	finishedAt time.Time
}

// NewParallel builds a worker pool sized workers (runtime.GOMAXPROCS
// when workers <= 0). It also starts a background sweep that evicts
// pending entries well after their job finished, so a pool fed a long
// stream of Submit calls doesn't grow its pending map without bound.
func NewParallel(deps Deps, workers int) *Parallel {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	pruneCtx, stopPrune := context.WithCancel(context.Background())
	p := &Parallel{
		core:      core{deps: deps},
		sem:       make(chan struct{}, workers),
		pending:   map[encoding.Hash]*jobState{},
		stopPrune: stopPrune,
	}
	go loop.Start(pruneCtx, struct{}{}, func(ctx context.Context, s struct{}) (struct{}, loop.Next) {
		p.prune()
		return s, loop.Continue(pendingPruneInterval)
	})
	return p
}

// prune evicts pending entries whose job finished more than
// pendingRetention ago.
func (p *Parallel) prune() {
	cutoff := time.Now().Add(-pendingRetention)
	p.mu.Lock()
	defer p.mu.Unlock()
	for h, js := range p.pending {
		select {
		case <-js.done:
			if js.finishedAt.Before(cutoff) {
				delete(p.pending, h)
			}
		default:
		}
	}
}

// Close stops the background prune sweep. It does not wait for
// in-flight jobs; call Wait first if that's needed.
func (p *Parallel) Close() {
	p.stopPrune()
}

// Submit dispatches manifest's job to a worker and returns its job
// hash immediately. Submitting an already-pending identical
// (manifest, inputs) pair returns the same hash without spawning a
// second worker: the in-flight job is shared rather than duplicated.
func (p *Parallel) Submit(ctx context.Context, manifest module.Manifest, outputsSchema map[string]value.Schema, inputs module.ValueMap, jobTimeout time.Duration) (encoding.Hash, error) {
	_, _, jobHash, err := computeJobHash(manifest, inputs)
	if err != nil {
		return "", err
	}

	p.mu.Lock()
	if _, exists := p.pending[jobHash]; exists {
		p.mu.Unlock()
		return jobHash, nil
	}
	js := &jobState{done: make(chan struct{})}
	p.pending[jobHash] = js
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		select {
		case p.sem <- struct{}{}:
		case <-ctx.Done():
			js.result = Result{JobHash: jobHash, Err: ctx.Err()}
			js.finishedAt = time.Now()
			close(js.done)
			return
		}
		defer func() { <-p.sem }()

		js.result = p.core.run(ctx, manifest, outputsSchema, inputs, jobTimeout)
		js.finishedAt = time.Now()
		close(js.done)
	}()
	return jobHash, nil
}

// WaitFor blocks until every job in jobHashes has completed or ctx is
// cancelled. syncOutputs is always honored: a job's outputs are
// registered into the value registry before its result is delivered,
// so by the time WaitFor returns, every completed job's outputs are
// already visible to Values.GetByHash — the flag exists for API
// parity with callers that may, in a future strategy, want to observe
// completion before output registration finishes.
func (p *Parallel) WaitFor(ctx context.Context, jobHashes []encoding.Hash, syncOutputs bool) (map[encoding.Hash]Result, error) {
	results := make(map[encoding.Hash]Result, len(jobHashes))
	for _, h := range jobHashes {
		p.mu.Lock()
		js, ok := p.pending[h]
		p.mu.Unlock()
		if !ok {
			return results, fmt.Errorf("unknown or not-yet-submitted job hash: %s", h)
		}
		select {
		case <-js.done:
			results[h] = js.result
		case <-ctx.Done():
			return results, ctx.Err()
		}
	}
	return results, nil
}

// Wait blocks until every worker goroutine this pool ever spawned has
// returned. Intended for shutdown, not for per-job synchronization.
func (p *Parallel) Wait() {
	p.wg.Wait()
}

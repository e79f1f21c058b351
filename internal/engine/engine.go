// Package engine evaluates a sealed binding graph concurrently. It owns the
// evaluation policy the graph package deliberately does not: the worker
// pool, per-request evaluation contexts, cycle resolution, and the
// tentative/commit transaction protocol that keeps unresolved placeholders
// from ever becoming globally visible.
//
// Concurrency model: any number of contexts evaluate into the same shared
// graph. A context blocks on a cell only when it is a top-level request and
// a different context is computing the node; a context that is already
// mid-evaluation computes the node speculatively instead of blocking, so
// cross-context deadlock is impossible, and same-context reentrance is
// routed to cycle resolution, so self-deadlock is impossible. The first
// publication into a cell wins; every other computation of the same node is
// discarded, diagnostics included.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/vk/bindgraph/internal/firstuse"
	"github.com/vk/bindgraph/internal/graph"
	"github.com/vk/bindgraph/internal/nodeid"
	"github.com/vk/bindgraph/internal/placeholder"
	"github.com/vk/bindgraph/internal/typerule"
)

// Options configures an Engine.
type Options struct {
	// Logger receives debug-level evaluation events. Defaults to a
	// discarding logger.
	Logger *slog.Logger
	// Filename is used as the subject filename on diagnostics.
	Filename string
}

// Engine evaluates one sealed graph. Safe for concurrent use.
type Engine struct {
	graph    *graph.Graph
	rules    typerule.Rules
	fu       *firstuse.Resolution
	store    *placeholder.Store
	logger   *slog.Logger
	filename string

	metrics Metrics
	nextCtx atomic.Int64
}

// New creates an engine over a sealed graph, the type-rule collaborator,
// and the first-use resolution for that graph.
func New(g *graph.Graph, rules typerule.Rules, fu *firstuse.Resolution, opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Engine{
		graph:    g,
		rules:    rules,
		fu:       fu,
		store:    placeholder.NewStore(),
		logger:   logger,
		filename: opts.Filename,
	}
}

// Metrics returns a snapshot of the telemetry counters.
func (e *Engine) Metrics() MetricsSnapshot {
	return e.metrics.Snapshot()
}

// Request obtains a binding's final, committed value. It is the sole entry
// point for external callers; requesting an already-committed binding
// returns the same result object without recomputation.
func (e *Engine) Request(ctx context.Context, key nodeid.Key) (res *graph.Result, err error) {
	n, ok := e.graph.NodeByKey(key)
	if !ok {
		return nil, fmt.Errorf("unknown binding %s", key)
	}
	e.metrics.requests.Add(1)

	if r := n.Result(); r != nil {
		return r, nil
	}

	c := &evalCtx{
		eng: e,
		id:  e.nextCtx.Add(1),
		pos: make(map[int]int),
	}
	defer func() {
		// A panic inside a computation must not leak tentative state, and
		// must not leave claimed cells wedged in Computing.
		if rec := recover(); rec != nil {
			c.discardTxn()
			res = nil
			err = fatalf(key, "panic during evaluation: %v", rec)
			c.degradeClaimed(err)
		}
	}()

	e.logger.Debug("evaluating request", "binding", key.String(), "context", c.id)
	if _, err := c.value(ctx, n.Index); err != nil {
		c.discardTxn()
		c.degradeClaimed(err)
		return nil, err
	}

	r := n.Result()
	if r == nil {
		err := fatalf(key, "evaluation finished without committing a result")
		c.degradeClaimed(err)
		return nil, err
	}
	return r, nil
}

// RequestAll evaluates a set of bindings with a fixed pool of workers and
// returns the results keyed by canonical binding key.
func (e *Engine) RequestAll(ctx context.Context, keys []nodeid.Key, workers int) (map[string]*graph.Result, error) {
	if workers < 1 {
		workers = 1
	}

	jobs := make(chan nodeid.Key, len(keys))
	for _, key := range keys {
		jobs <- key
	}
	close(jobs)

	var (
		mu      sync.Mutex
		results = make(map[string]*graph.Result, len(keys))
		errs    []error
		wg      sync.WaitGroup
	)

	e.logger.Debug("starting request workers", "workers", workers, "requests", len(keys))
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for key := range jobs {
				r, err := e.Request(ctx, key)
				mu.Lock()
				if err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", key, err))
				} else {
					results[key.String()] = r
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(errs) > 0 {
		return results, errors.Join(errs...)
	}
	return results, nil
}

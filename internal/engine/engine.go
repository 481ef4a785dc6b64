// Package engine coordinates all access to the face store. A single worker
// goroutine executes index writes, owner removals and query scans in
// submission order, so the store itself needs no locking.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/kozaktomas/face-search/internal/database"
	"github.com/kozaktomas/face-search/internal/indexer"
	"github.com/kozaktomas/face-search/internal/query"
)

var (
	// ErrNotStarted is returned for submissions before Start.
	ErrNotStarted = errors.New("engine not started")

	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("engine already started")

	// ErrAlreadyShutdown is returned for any use after Shutdown.
	ErrAlreadyShutdown = errors.New("engine already shut down")
)

// RemoveResult is the outcome of removing an owner's records.
type RemoveResult struct {
	OwnerID string `json:"owner_id"`
	Removed int    `json:"removed"`
	Err     error  `json:"-"`
}

// Stats describes the engine and its store.
type Stats struct {
	database.StoreStats
	QueueDepth int      `json:"queue_depth"`
	Processed  uint64   `json:"processed"`
	Indexers   []string `json:"indexers"`
}

// job is one unit of work for the worker. abort is called instead of run when
// the job is dropped during a timed-out shutdown.
type job struct {
	kind  string
	run   func()
	abort func(error)
}

// Engine is the single-writer coordinator.
type Engine struct {
	store          database.Store
	backend        string
	logger         *slog.Logger
	registry       *indexer.Registry
	defaultIndexer string

	mu       sync.Mutex
	cond     *sync.Cond
	queue    []job
	started  bool
	stopping bool
	done     chan struct{}

	processed atomic.Uint64
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithIndexer registers ix under its name and makes it the default strategy.
func WithIndexer(ix indexer.Indexer) Option {
	return func(e *Engine) {
		e.registry.Register(ix.Name(), ix)
		e.defaultIndexer = ix.Name()
	}
}

// WithBackend sets the backend name reported by Stats.
func WithBackend(name string) Option {
	return func(e *Engine) { e.backend = name }
}

// New creates a coordinator owning store. The store is closed by Shutdown.
func New(store database.Store, opts ...Option) *Engine {
	e := &Engine{
		store:          store,
		logger:         slog.Default(),
		registry:       indexer.NewRegistry(),
		defaultIndexer: indexer.FaceLBP,
		done:           make(chan struct{}),
	}
	e.cond = sync.NewCond(&e.mu)
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Register adds an indexing strategy.
func (e *Engine) Register(name string, ix indexer.Indexer) {
	e.registry.Register(name, ix)
}

// Start launches the worker.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopping {
		return ErrAlreadyShutdown
	}
	if e.started {
		return ErrAlreadyStarted
	}
	e.started = true
	go e.work()
	e.logger.Info("engine started", "backend", e.backend, "layout", e.store.Layout().String())
	return nil
}

func (e *Engine) work() {
	defer close(e.done)
	for {
		e.mu.Lock()
		for len(e.queue) == 0 && !e.stopping {
			e.cond.Wait()
		}
		if len(e.queue) == 0 {
			e.mu.Unlock()
			return
		}
		j := e.queue[0]
		e.queue[0] = job{}
		e.queue = e.queue[1:]
		e.mu.Unlock()

		j.run()
		e.processed.Add(1)
		e.logger.Debug("job done", "kind", j.kind)
	}
}

// enqueue appends j to the FIFO queue.
func (e *Engine) enqueue(j job) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopping {
		return ErrAlreadyShutdown
	}
	if !e.started {
		return ErrNotStarted
	}
	e.queue = append(e.queue, j)
	e.cond.Signal()
	return nil
}

// IndexFace queues doc for the default indexer. The result is delivered on the
// returned channel; errors never escape any other way.
func (e *Engine) IndexFace(ctx context.Context, doc indexer.Document) <-chan indexer.Result {
	return e.IndexWith(ctx, e.defaultIndexer, doc)
}

// IndexWith queues doc for the named indexing strategy.
func (e *Engine) IndexWith(ctx context.Context, name string, doc indexer.Document) <-chan indexer.Result {
	out := make(chan indexer.Result, 1)

	ix, err := e.registry.Get(name)
	if err != nil {
		out <- indexer.Failed(doc.OwnerID, err)
		return out
	}

	err = e.enqueue(job{
		kind: "index",
		run: func() {
			if err := ctx.Err(); err != nil {
				out <- indexer.Failed(doc.OwnerID, err)
				return
			}
			res := ix.Index(ctx, doc, e.store)
			if res.Err != nil {
				e.logger.Warn("indexing failed", "owner", res.OwnerID, "indexer", name, "error", res.Err)
			}
			out <- res
		},
		abort: func(err error) { out <- indexer.Failed(doc.OwnerID, err) },
	})
	if err != nil {
		out <- indexer.Failed(doc.OwnerID, err)
	}
	return out
}

// RunQuery queues q and returns immediately; progress is reported through the
// query's events. Writes queued before q are visible to it.
func (e *Engine) RunQuery(ctx context.Context, q *query.Query) error {
	return e.enqueue(job{
		kind: "query",
		run: func() {
			if err := q.Evaluate(ctx, e.store); err != nil {
				e.logger.Warn("query failed", "query", q.ID(), "error", err)
				return
			}
			e.logger.Debug("query finished", "query", q.ID(), "state", q.State().String(), "scanned", q.Scanned())
		},
		abort: func(error) { q.Cancel() },
	})
}

// RemoveOwner queues the removal of every record of owner.
func (e *Engine) RemoveOwner(ctx context.Context, owner string) <-chan RemoveResult {
	out := make(chan RemoveResult, 1)

	normalized, err := database.NormalizeOwnerID(owner)
	if err != nil {
		out <- RemoveResult{OwnerID: owner, Err: err}
		return out
	}

	err = e.enqueue(job{
		kind: "remove",
		run: func() {
			if err := ctx.Err(); err != nil {
				out <- RemoveResult{OwnerID: normalized, Err: err}
				return
			}
			n, err := e.store.RemoveByOwner(ctx, normalized)
			if err != nil {
				e.logger.Warn("removing owner failed", "owner", normalized, "error", err)
			}
			out <- RemoveResult{OwnerID: normalized, Removed: n, Err: err}
		},
		abort: func(err error) { out <- RemoveResult{OwnerID: normalized, Err: err} },
	})
	if err != nil {
		out <- RemoveResult{OwnerID: normalized, Err: err}
	}
	return out
}

// Stats reads the store counters through the worker and blocks until they
// are available or ctx is done.
func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	type reply struct {
		stats Stats
		err   error
	}
	out := make(chan reply, 1)

	err := e.enqueue(job{
		kind: "stats",
		run: func() {
			var r reply
			r.stats.Layout = e.store.Layout().String()
			r.stats.Backend = e.backend
			r.stats.Records, r.err = e.store.Count(ctx)
			if r.err == nil {
				r.stats.Owners, r.err = e.store.Owners(ctx)
			}
			out <- r
		},
		abort: func(err error) { out <- reply{err: err} },
	})
	if err != nil {
		return Stats{}, err
	}

	select {
	case r := <-out:
		if r.err != nil {
			return Stats{}, fmt.Errorf("reading store stats: %w", r.err)
		}
		r.stats.QueueDepth = e.QueueDepth()
		r.stats.Processed = e.processed.Load()
		r.stats.Indexers = e.registry.Names()
		return r.stats, nil
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	}
}

// QueueDepth returns the number of jobs waiting for the worker.
func (e *Engine) QueueDepth() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue)
}

// Shutdown stops intake, lets the worker drain the queue and closes the store.
// When ctx expires first, queued jobs are aborted, the job in progress is
// allowed to finish and ctx's error is returned. Only the first call does any
// work; later calls return ErrAlreadyShutdown.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if e.stopping {
		e.mu.Unlock()
		return ErrAlreadyShutdown
	}
	e.stopping = true
	started := e.started
	e.cond.Broadcast()
	e.mu.Unlock()

	var waitErr error
	if started {
		select {
		case <-e.done:
		case <-ctx.Done():
			waitErr = ctx.Err()
			e.abortQueued()
			<-e.done
		}
	}

	if err := e.store.Close(); err != nil {
		return errors.Join(waitErr, fmt.Errorf("closing store: %w", err))
	}
	e.logger.Info("engine stopped", "processed", e.processed.Load())
	return waitErr
}

func (e *Engine) abortQueued() {
	e.mu.Lock()
	dropped := e.queue
	e.queue = nil
	e.mu.Unlock()

	for _, j := range dropped {
		if j.abort != nil {
			j.abort(ErrAlreadyShutdown)
		}
	}
	if len(dropped) > 0 {
		e.logger.Warn("shutdown timed out, dropped queued jobs", "jobs", len(dropped))
	}
}

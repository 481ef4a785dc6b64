// Package query implements the cancelable similarity query: build the probe
// descriptor, stream stored records through Chi-square ranking, then hand out
// the ranked results.
package query

import (
	"context"
	"errors"
	"fmt"
	"image"
	"iter"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/kozaktomas/face-search/internal/database"
	"github.com/kozaktomas/face-search/internal/descriptor"
	"github.com/kozaktomas/face-search/internal/ranking"
)

var (
	// ErrAlreadyEvaluated is returned by a second call to Evaluate.
	ErrAlreadyEvaluated = errors.New("query already evaluated")

	// ErrCanceled is the cause reported by a canceled query.
	ErrCanceled = errors.New("query canceled")
)

// Extractor builds the probe descriptor of a face region.
type Extractor interface {
	Describe(img image.Image, region database.FaceRegion) (descriptor.Descriptor, error)
}

// Query is a single similarity search. It is evaluated at most once.
type Query struct {
	id        string
	region    database.FaceRegion
	source    image.Image
	extractor Extractor

	limit       int
	maxDistance float64
	candidates  int
	listener    Listener

	events   chan Event
	done     chan struct{}
	canceled atomic.Bool
	scanned  atomic.Int64

	mu        sync.Mutex
	state     State
	err       error
	evaluated bool
	probe     descriptor.Descriptor
	results   []ranking.Result
	next      int
}

// New creates a query whose probe descriptor is extracted from region of img
// when the query starts.
func New(img image.Image, region database.FaceRegion, extractor Extractor, opts ...Option) *Query {
	q := newQuery(region, opts)
	q.source = img
	q.extractor = extractor
	return q
}

// FromDescriptor creates a query for an already built probe descriptor.
func FromDescriptor(d descriptor.Descriptor, region database.FaceRegion, opts ...Option) *Query {
	q := newQuery(region, opts)
	q.probe = d
	return q
}

func newQuery(region database.FaceRegion, opts []Option) *Query {
	q := &Query{
		id:     uuid.NewString(),
		region: region,
		events: make(chan Event, eventBuffer),
		done:   make(chan struct{}),
		state:  StateInit,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// ID returns the query identifier.
func (q *Query) ID() string { return q.id }

// Region returns the probe face region.
func (q *Query) Region() database.FaceRegion { return q.region }

// Limit returns the top-K cap (0 = unbounded).
func (q *Query) Limit() int { return q.limit }

// State returns the current state.
func (q *Query) State() State {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

// Err returns the cause of an Error or Canceled state.
func (q *Query) Err() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.err
}

// Scanned returns how many candidates have been ranked so far.
func (q *Query) Scanned() int { return int(q.scanned.Load()) }

// Events returns the state change stream. It is closed after the terminal state.
func (q *Query) Events() <-chan Event { return q.events }

// Done is closed when the query reaches a terminal state.
func (q *Query) Done() <-chan struct{} { return q.done }

// Wait blocks until the query is terminal or ctx is done.
func (q *Query) Wait(ctx context.Context) (State, error) {
	select {
	case <-q.done:
		return q.State(), q.Err()
	case <-ctx.Done():
		return q.State(), ctx.Err()
	}
}

// Cancel requests cancellation. It is safe from any goroutine and state; a query
// that has not started yet becomes Canceled immediately.
func (q *Query) Cancel() {
	if q.canceled.Swap(true) {
		return
	}
	q.mu.Lock()
	init := q.state == StateInit
	q.mu.Unlock()
	if init {
		q.finish(StateCanceled, ErrCanceled)
	}
}

// Evaluate ranks every record of store against the probe. It runs at most once;
// a query canceled before starting returns immediately.
func (q *Query) Evaluate(ctx context.Context, store database.IndexReader) error {
	q.mu.Lock()
	if q.evaluated {
		q.mu.Unlock()
		return ErrAlreadyEvaluated
	}
	q.evaluated = true
	if q.state.Terminal() {
		q.mu.Unlock()
		return nil
	}
	q.mu.Unlock()

	if !q.transition(StateStarted, nil) {
		return nil
	}

	if q.probe.IsZero() {
		if q.extractor == nil {
			return q.fail(errors.New("query has neither descriptor nor extractor"))
		}
		d, err := q.extractor.Describe(q.source, q.region)
		if err != nil {
			return q.fail(fmt.Errorf("building probe descriptor: %w", err))
		}
		q.mu.Lock()
		q.probe = d
		q.mu.Unlock()
	}

	top := ranking.NewTopK(q.limit)
	for rec, err := range q.records(ctx, store) {
		if q.canceled.Load() {
			q.finish(StateCanceled, ErrCanceled)
			return nil
		}
		if ctx.Err() != nil {
			q.finish(StateCanceled, fmt.Errorf("%w: %w", ErrCanceled, ctx.Err()))
			return nil
		}
		if err != nil {
			return q.fail(err)
		}

		dist, err := ranking.ChiSquare(q.probe, rec.Descriptor)
		if err != nil {
			return q.fail(fmt.Errorf("record %s: %w", rec.ID, err))
		}
		q.scanned.Add(1)
		if q.maxDistance > 0 && dist > q.maxDistance {
			continue
		}
		top.Offer(rec, dist)
	}

	// A cancel that raced with the last candidate still wins.
	if q.canceled.Load() {
		q.finish(StateCanceled, ErrCanceled)
		return nil
	}

	q.mu.Lock()
	q.results = top.Drain()
	q.mu.Unlock()
	q.finish(StateCompleted, nil)
	return nil
}

// records streams the candidates: the store's approximate pre-selection when
// configured and supported, otherwise a full scan.
func (q *Query) records(ctx context.Context, store database.IndexReader) iter.Seq2[*database.IndexRecord, error] {
	searcher, ok := store.(database.CandidateSearcher)
	if q.candidates <= 0 || !ok {
		return store.Scan(ctx)
	}
	return func(yield func(*database.IndexRecord, error) bool) {
		recs, err := searcher.Candidates(ctx, q.probe, q.candidates)
		if err != nil {
			yield(nil, err)
			return
		}
		for _, rec := range recs {
			if !yield(rec, nil) {
				return
			}
		}
	}
}

// Dequeue removes and returns the best remaining result. It reports false before
// completion and once the results are exhausted.
func (q *Query) Dequeue() (ranking.Result, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.state != StateCompleted || q.next >= len(q.results) {
		return ranking.Result{}, false
	}
	r := q.results[q.next]
	q.results[q.next] = ranking.Result{}
	q.next++
	return r, true
}

// Remaining returns how many results have not been dequeued.
func (q *Query) Remaining() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.results) - q.next
}

func (q *Query) fail(err error) error {
	q.finish(StateError, err)
	return err
}

// finish moves to a terminal state.
func (q *Query) finish(state State, err error) {
	q.transition(state, err)
}

// transition applies a state change and emits its event. Terminal states are
// final; reaching one discards results unless Completed and closes the streams.
// The listener is called outside the lock and may observe events late.
func (q *Query) transition(state State, err error) bool {
	q.mu.Lock()
	if q.state.Terminal() {
		q.mu.Unlock()
		return false
	}
	q.state = state
	q.err = err
	ev := Event{Kind: EventStateChanged, QueryID: q.id, State: state, Err: err}
	q.events <- ev
	if state.Terminal() {
		if state != StateCompleted {
			q.results = nil
		}
		close(q.events)
		close(q.done)
	}
	q.mu.Unlock()

	if q.listener != nil {
		q.listener(ev)
	}
	return true
}

package indexer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// Submitter hands a document to whatever performs the index write. The engine
// coordinator satisfies it.
type Submitter interface {
	IndexFace(ctx context.Context, doc Document) <-chan Result
}

// Loader produces the document of one batch item.
type Loader func(ctx context.Context, item string) (Document, error)

// Progress reports the state of a batch after each item.
type Progress struct {
	Item    string
	Done    int
	Total   int
	Indexed int
	Faces   int
	Failed  int
	Result  Result
}

// BatchSummary is the final outcome of a batch.
type BatchSummary struct {
	Total   int
	Indexed int
	Faces   int
	Failed  int
	Errors  map[string]error
}

// Batch indexes a list of items one after another and can be paused between
// items.
type Batch struct {
	items    []string
	load     Loader
	submit   Submitter
	progress func(Progress)

	mu      sync.Mutex
	paused  bool
	resume  chan struct{}
	running atomic.Bool
}

// NewBatch creates a batch over items.
func NewBatch(items []string, load Loader, submit Submitter) *Batch {
	return &Batch{items: items, load: load, submit: submit}
}

// OnProgress registers a progress callback, called from the Run goroutine.
func (b *Batch) OnProgress(fn func(Progress)) {
	b.progress = fn
}

// Pause stops the batch before its next item.
func (b *Batch) Pause() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.paused {
		b.paused = true
		b.resume = make(chan struct{})
	}
}

// Resume continues a paused batch.
func (b *Batch) Resume() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.paused {
		b.paused = false
		close(b.resume)
	}
}

// Paused reports whether the batch is paused.
func (b *Batch) Paused() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.paused
}

// wait blocks while the batch is paused.
func (b *Batch) wait(ctx context.Context) error {
	b.mu.Lock()
	if !b.paused {
		b.mu.Unlock()
		return nil
	}
	ch := b.resume
	b.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run processes every item. It stops early only when ctx is canceled; item
// failures are collected in the summary.
func (b *Batch) Run(ctx context.Context) (BatchSummary, error) {
	if !b.running.CompareAndSwap(false, true) {
		return BatchSummary{}, errors.New("batch is already running")
	}
	defer b.running.Store(false)

	sum := BatchSummary{Total: len(b.items), Errors: make(map[string]error)}
	for i, item := range b.items {
		if err := b.wait(ctx); err != nil {
			return sum, err
		}
		if err := ctx.Err(); err != nil {
			return sum, err
		}

		var res Result
		doc, err := b.load(ctx, item)
		if err != nil {
			res = Failed(item, err)
		} else {
			select {
			case res = <-b.submit.IndexFace(ctx, doc):
			case <-ctx.Done():
				return sum, ctx.Err()
			}
		}

		if res.OK {
			sum.Indexed++
			sum.Faces += len(res.RecordIDs)
		} else {
			sum.Failed++
			sum.Errors[item] = res.Err
		}
		if b.progress != nil {
			b.progress(Progress{
				Item:    item,
				Done:    i + 1,
				Total:   sum.Total,
				Indexed: sum.Indexed,
				Faces:   sum.Faces,
				Failed:  sum.Failed,
				Result:  res,
			})
		}
	}
	return sum, nil
}

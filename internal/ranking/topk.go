package ranking

import (
	"container/heap"
	"slices"

	"github.com/kozaktomas/face-search/internal/database"
)

// Result is a ranked match.
type Result struct {
	Record   *database.IndexRecord `json:"record"`
	Distance float64               `json:"distance"`
}

type entry struct {
	Result
	seq uint64
}

// less orders entries by distance, then record ID, then arrival.
func less(a, b entry) bool {
	if a.Distance != b.Distance {
		return a.Distance < b.Distance
	}
	if a.Record != nil && b.Record != nil && a.Record.ID != b.Record.ID {
		return a.Record.ID < b.Record.ID
	}
	return a.seq < b.seq
}

// maxHeap keeps the worst retained entry at the root.
type maxHeap []entry

func (h maxHeap) Len() int           { return len(h) }
func (h maxHeap) Less(i, j int) bool { return less(h[j], h[i]) }
func (h maxHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *maxHeap) Push(x any)        { *h = append(*h, x.(entry)) }
func (h *maxHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// TopK retains the K smallest-distance results offered to it. Memory is O(K).
// A TopK is not safe for concurrent use.
type TopK struct {
	k    int
	seq  uint64
	heap maxHeap
}

// NewTopK returns a TopK bounded to k results; k <= 0 keeps everything.
func NewTopK(k int) *TopK {
	t := &TopK{k: k}
	if k > 0 {
		t.heap = make(maxHeap, 0, k)
	}
	return t
}

// Offer considers a candidate. Once full, it replaces the current worst only when
// the candidate ranks strictly better: a smaller distance, or an equal distance
// and a smaller record ID. Ties are therefore decided by ID, not by arrival.
// It reports whether the candidate was kept.
func (t *TopK) Offer(rec *database.IndexRecord, distance float64) bool {
	e := entry{Result: Result{Record: rec, Distance: distance}, seq: t.seq}
	t.seq++

	if t.k <= 0 || len(t.heap) < t.k {
		heap.Push(&t.heap, e)
		return true
	}
	if !less(e, t.heap[0]) {
		return false
	}
	t.heap[0] = e
	heap.Fix(&t.heap, 0)
	return true
}

// Len returns the number of retained results.
func (t *TopK) Len() int { return len(t.heap) }

// Worst returns the largest retained distance, or false if empty.
func (t *TopK) Worst() (float64, bool) {
	if len(t.heap) == 0 {
		return 0, false
	}
	return t.heap[0].Distance, true
}

// Drain removes and returns all retained results in ascending distance order.
func (t *TopK) Drain() []Result {
	entries := []entry(t.heap)
	t.heap = nil
	slices.SortFunc(entries, func(a, b entry) int {
		switch {
		case less(a, b):
			return -1
		case less(b, a):
			return 1
		default:
			return 0
		}
	})
	out := make([]Result, len(entries))
	for i, e := range entries {
		out[i] = e.Result
	}
	return out
}

package query

// State is a query lifecycle state.
type State int

const (
	StateInit State = iota
	StateStarted
	StateCompleted
	StateCanceled
	StateError
)

var stateNames = [...]string{
	StateInit:      "init",
	StateStarted:   "started",
	StateCompleted: "completed",
	StateCanceled:  "canceled",
	StateError:     "error",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateCanceled || s == StateError
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// EventKind identifies the kind of a query event.
type EventKind int

const (
	// EventStateChanged reports a lifecycle transition.
	EventStateChanged EventKind = iota
)

// eventBuffer holds every event a query can emit (Started plus one terminal
// state), so emitting never blocks.
const eventBuffer = 4

// Event is delivered for every state transition.
type Event struct {
	Kind    EventKind
	QueryID string
	State   State
	Err     error
}

// Listener receives events synchronously from the evaluating goroutine.
type Listener func(Event)

// Option configures a Query.
type Option func(*Query)

// WithLimit caps the number of results (k <= 0 returns every match).
func WithLimit(k int) Option {
	return func(q *Query) { q.limit = k }
}

// WithMaxDistance drops candidates farther than d (d <= 0 disables the cut-off).
func WithMaxDistance(d float64) Option {
	return func(q *Query) { q.maxDistance = d }
}

// WithCandidates ranks only the n approximate nearest records when the store
// can pre-select them. Exact distances are still computed for each candidate.
func WithCandidates(n int) Option {
	return func(q *Query) { q.candidates = n }
}

// WithListener registers a callback for state events.
func WithListener(l Listener) Option {
	return func(q *Query) { q.listener = l }
}

// WithID overrides the generated query ID.
func WithID(id string) Option {
	return func(q *Query) {
		if id != "" {
			q.id = id
		}
	}
}

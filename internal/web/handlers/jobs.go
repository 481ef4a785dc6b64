package handlers

import (
	"context"
	"sync"
	"time"

	"github.com/kozaktomas/face-search/internal/constants"
	"github.com/kozaktomas/face-search/internal/database"
	"github.com/kozaktomas/face-search/internal/query"
	"github.com/kozaktomas/face-search/internal/ranking"
)

// JobEvent represents an event from a query job.
type JobEvent struct {
	Type     string `json:"type"`
	State    string `json:"state"`
	Terminal bool   `json:"terminal"`
	Message  string `json:"message,omitempty"`
}

// EventBroadcaster provides listener management and event broadcasting for async jobs.
// Embed this in job structs to get AddListener, RemoveListener, and SendEvent methods.
type EventBroadcaster struct {
	listeners []chan JobEvent
	mu        sync.RWMutex
}

// AddListener adds an event listener.
func (b *EventBroadcaster) AddListener() chan JobEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan JobEvent, constants.EventChannelBuffer)
	b.listeners = append(b.listeners, ch)
	return ch
}

// RemoveListener removes an event listener.
func (b *EventBroadcaster) RemoveListener(ch chan JobEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, listener := range b.listeners {
		if listener == ch {
			b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
			close(ch)
			return
		}
	}
}

// SendEvent sends an event to all listeners.
func (b *EventBroadcaster) SendEvent(event JobEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, listener := range b.listeners {
		select {
		case listener <- event:
		default:
			// Listener buffer full, skip.
		}
	}
}

// Match is one ranked result of a query job.
type Match struct {
	RecordID string              `json:"record_id"`
	FaceID   string              `json:"face_id"`
	OwnerID  string              `json:"owner_id"`
	Region   database.FaceRegion `json:"region"`
	Distance float64             `json:"distance"`
}

// QueryJob tracks one asynchronously evaluated query.
type QueryJob struct {
	EventBroadcaster

	ID        string
	Query     *query.Query
	CreatedAt time.Time

	cancel    context.CancelFunc
	drainOnce sync.Once
	results   []Match
}

// QueryStatus is the JSON view of a query job.
type QueryStatus struct {
	ID        string              `json:"id"`
	State     string              `json:"state"`
	Error     string              `json:"error,omitempty"`
	Scanned   int                 `json:"scanned"`
	Limit     int                 `json:"limit"`
	Region    database.FaceRegion `json:"region"`
	CreatedAt time.Time           `json:"created_at"`
	Results   []Match             `json:"results,omitempty"`
}

// Status returns a snapshot of the job.
func (j *QueryJob) Status() QueryStatus {
	s := QueryStatus{
		ID:        j.ID,
		State:     j.Query.State().String(),
		Scanned:   j.Query.Scanned(),
		Limit:     j.Query.Limit(),
		Region:    j.Query.Region(),
		CreatedAt: j.CreatedAt,
	}
	if s.State == query.StateCompleted.String() {
		j.drain()
	}
	if err := j.Query.Err(); err != nil {
		s.Error = err.Error()
	}
	j.mu.RLock()
	s.Results = j.results
	j.mu.RUnlock()
	return s
}

// GetState returns the query state (implements SSEJob).
func (j *QueryJob) GetState() query.State {
	return j.Query.State()
}

// Cancel requests cancellation of the query.
func (j *QueryJob) Cancel() {
	j.Query.Cancel()
}

// drain moves the ranked results out of the completed query so that status
// requests can return them repeatedly.
func (j *QueryJob) drain() {
	j.drainOnce.Do(func() {
		var matches []Match
		for {
			r, ok := j.Query.Dequeue()
			if !ok {
				break
			}
			matches = append(matches, toMatch(r))
		}
		j.mu.Lock()
		j.results = matches
		j.mu.Unlock()
	})
}

// onEvent is the query listener.
func (j *QueryJob) onEvent(ev query.Event) {
	if ev.State == query.StateCompleted {
		j.drain()
	}
	if ev.State.Terminal() && j.cancel != nil {
		j.cancel()
	}

	je := JobEvent{Type: "state", State: ev.State.String(), Terminal: ev.State.Terminal()}
	if ev.Err != nil {
		je.Message = ev.Err.Error()
	}
	j.SendEvent(je)
}

func toMatch(r ranking.Result) Match {
	return Match{
		RecordID: r.Record.ID,
		FaceID:   r.Record.FaceID,
		OwnerID:  r.Record.OwnerID,
		Region:   r.Record.Region,
		Distance: r.Distance,
	}
}

// SSEJob is the interface required by streamSSEEvents to stream job events via SSE.
type SSEJob interface {
	AddListener() chan JobEvent
	RemoveListener(ch chan JobEvent)
	GetState() query.State
}

// JobManager keeps query jobs for a limited time after creation.
type JobManager struct {
	jobs      map[string]*QueryJob
	retention time.Duration
	maxJobs   int
	mu        sync.RWMutex
}

// NewJobManager creates a new job manager.
func NewJobManager() *JobManager {
	return &JobManager{
		jobs:      make(map[string]*QueryJob),
		retention: constants.QueryJobRetention,
		maxJobs:   constants.MaxQueryJobs,
	}
}

// NewJob creates a query job and the options that wire the query's events into
// it. The query must be built with the returned options and attached with
// Attach before it is run.
func (m *JobManager) NewJob(id string) (*QueryJob, []query.Option) {
	job := &QueryJob{ID: id, CreatedAt: time.Now()}
	return job, []query.Option{query.WithID(id), query.WithListener(job.onEvent)}
}

// Attach registers job with its query and the context cancel func that is
// released when the query finishes. It returns false when the manager is full
// of unfinished jobs.
func (m *JobManager) Attach(job *QueryJob, q *query.Query, cancel context.CancelFunc) bool {
	job.Query = q
	job.cancel = cancel

	m.mu.Lock()
	defer m.mu.Unlock()
	m.pruneLocked(time.Now())
	if len(m.jobs) >= m.maxJobs {
		return false
	}
	m.jobs[job.ID] = job
	return true
}

// pruneLocked drops expired terminal jobs.
func (m *JobManager) pruneLocked(now time.Time) {
	for id, job := range m.jobs {
		if job.Query.State().Terminal() && now.Sub(job.CreatedAt) > m.retention {
			delete(m.jobs, id)
		}
	}
}

// GetJob retrieves a job by ID.
func (m *JobManager) GetJob(id string) *QueryJob {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.jobs[id]
}

// DeleteJob removes a job.
func (m *JobManager) DeleteJob(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, id)
}

// Count returns the number of tracked jobs.
func (m *JobManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.jobs)
}

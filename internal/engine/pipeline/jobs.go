package pipeline

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Status tracks each pipeline stage for a single transcription job.
type Status string

const (
	StatusQueued       Status = "queued"
	StatusFetching     Status = "fetching"
	StatusTranscribing Status = "transcribing"
	StatusStoring      Status = "storing"
	StatusDone         Status = "done"
	StatusFailed       Status = "failed"
	StatusCancelled    Status = "cancelled"
)

// JobInfo is a snapshot of one job as reported by GET /transcribe/jobs.
type JobInfo struct {
	ID                 string    `json:"id"`
	OwnerID            int64     `json:"owner_id"`
	Origin             string    `json:"origin"`
	Source             string    `json:"source,omitempty"`
	FileName           string    `json:"file_name,omitempty"`
	Status             Status    `json:"status"`
	Error              string    `json:"error,omitempty"`
	TranscriptFilename string    `json:"transcript_filename,omitempty"`
	RecordID           int64     `json:"record_id,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Registry keeps active jobs and a bounded history of finished ones.
type Registry struct {
	mu    sync.RWMutex
	jobs  map[string]*JobInfo
	limit int
	now   func() time.Time
}

// NewRegistry keeps at most limit finished jobs. Active jobs are never evicted.
func NewRegistry(limit int) *Registry {
	if limit <= 0 {
		limit = 100
	}
	return &Registry{
		jobs:  make(map[string]*JobInfo),
		limit: limit,
		now:   time.Now,
	}
}

// Add registers a new job in queued state.
func (r *Registry) Add(id string, ownerID int64, origin string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.jobs[id] = &JobInfo{
		ID:        id,
		OwnerID:   ownerID,
		Origin:    origin,
		Status:    StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.evictLocked()
}

// Describe records what the job resolved to.
func (r *Registry) Describe(id, source, fileName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if j, ok := r.jobs[id]; ok {
		j.Source = source
		j.FileName = fileName
		j.UpdatedAt = r.now()
	}
}

// Transition validates and applies a state change.
func (r *Registry) Transition(id string, to Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, err := r.transitionLocked(id, to)
	return err
}

func (r *Registry) transitionLocked(id string, to Status) (*JobInfo, error) {
	j, ok := r.jobs[id]
	if !ok {
		return nil, fmt.Errorf("unknown job %s", id)
	}
	if j.Status == to {
		return j, nil
	}
	if !isValidTransition(j.Status, to) {
		return nil, fmt.Errorf("invalid transition: %s -> %s", j.Status, to)
	}
	j.Status = to
	j.UpdatedAt = r.now()
	return j, nil
}

// Complete moves a storing job to done.
func (r *Registry) Complete(id, transcriptName string, recordID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, err := r.transitionLocked(id, StatusDone)
	if err != nil {
		return err
	}
	j.TranscriptFilename = transcriptName
	j.RecordID = recordID
	r.evictLocked()
	return nil
}

// Fail moves an active job to failed, or cancelled when cancelled is set.
func (r *Registry) Fail(id string, message string, cancelled bool) error {
	to := StatusFailed
	if cancelled {
		to = StatusCancelled
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	j, err := r.transitionLocked(id, to)
	if err != nil {
		return err
	}
	j.Error = message
	r.evictLocked()
	return nil
}

// Get returns a snapshot of one job.
func (r *Registry) Get(id string) (JobInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.jobs[id]
	if !ok {
		return JobInfo{}, false
	}
	return *j, true
}

// List returns snapshots of all known jobs, newest first.
func (r *Registry) List() []JobInfo {
	r.mu.RLock()
	out := make([]JobInfo, 0, len(r.jobs))
	for _, j := range r.jobs {
		out = append(out, *j)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(a, b int) bool {
		if out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].ID > out[b].ID
		}
		return out[a].CreatedAt.After(out[b].CreatedAt)
	})
	return out
}

// Active counts jobs that have not reached a terminal state.
func (r *Registry) Active() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, j := range r.jobs {
		if !isTerminal(j.Status) {
			n++
		}
	}
	return n
}

// evictLocked drops the oldest finished jobs beyond the limit.
func (r *Registry) evictLocked() {
	var finished []*JobInfo
	for _, j := range r.jobs {
		if isTerminal(j.Status) {
			finished = append(finished, j)
		}
	}
	if len(finished) <= r.limit {
		return
	}
	sort.Slice(finished, func(a, b int) bool {
		return finished[a].UpdatedAt.Before(finished[b].UpdatedAt)
	})
	for _, j := range finished[:len(finished)-r.limit] {
		delete(r.jobs, j.ID)
	}
}

func isTerminal(s Status) bool {
	switch s {
	case StatusDone, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// isValidTransition enforces the allowed job state machine edges.
func isValidTransition(from, to Status) bool {
	if to == StatusFailed || to == StatusCancelled {
		return !isTerminal(from)
	}
	switch from {
	case StatusQueued:
		return to == StatusFetching
	case StatusFetching:
		return to == StatusTranscribing
	case StatusTranscribing:
		return to == StatusStoring
	case StatusStoring:
		return to == StatusDone
	default:
		return false
	}
}

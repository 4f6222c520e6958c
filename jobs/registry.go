package jobs

import (
	"maps"
	"sync"
	"time"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Job is the tracked state of one asynchronous search, keyed by query hash.
type Job struct {
	QueryHash string         `json:"query_hash"`
	Query     string         `json:"query"`
	Status    Status         `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	Result    map[string]any `json:"result,omitempty"`
	Error     string         `json:"error,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Registry is an in-memory job table. Jobs are process local.
type Registry struct {
	mu   sync.RWMutex
	jobs map[string]*Job
	now  func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		jobs: make(map[string]*Job),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// MarkPending starts or restarts a job, clearing any previous outcome.
func (r *Registry) MarkPending(queryHash, query string, metadata map[string]any) Job {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	job, ok := r.jobs[queryHash]
	if !ok {
		job = &Job{QueryHash: queryHash, Query: query, CreatedAt: now, Metadata: map[string]any{}}
		r.jobs[queryHash] = job
	}
	if query != "" {
		job.Query = query
	}
	job.Status = StatusPending
	job.Result = nil
	job.Error = ""
	job.UpdatedAt = now
	maps.Copy(job.Metadata, metadata)
	return job.clone()
}

func (r *Registry) MarkCompleted(queryHash string, result map[string]any) Job {
	return r.finish(queryHash, func(job *Job) {
		job.Status = StatusCompleted
		job.Result = result
		job.Error = ""
	})
}

func (r *Registry) MarkFailed(queryHash, errMsg string) Job {
	return r.finish(queryHash, func(job *Job) {
		job.Status = StatusFailed
		job.Error = errMsg
	})
}

func (r *Registry) finish(queryHash string, apply func(*Job)) Job {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	job, ok := r.jobs[queryHash]
	if !ok {
		job = &Job{QueryHash: queryHash, CreatedAt: now, Metadata: map[string]any{}}
		r.jobs[queryHash] = job
	}
	apply(job)
	job.UpdatedAt = now
	return job.clone()
}

func (r *Registry) Get(queryHash string) (Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[queryHash]
	if !ok {
		return Job{}, false
	}
	return job.clone(), true
}

func (r *Registry) Clear(queryHash string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.jobs, queryHash)
}

func (j *Job) clone() Job {
	c := *j
	c.Metadata = maps.Clone(j.Metadata)
	c.Result = maps.Clone(j.Result)
	return c
}

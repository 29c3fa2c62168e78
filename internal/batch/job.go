package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrJobNotFound is returned for unknown job IDs.
var ErrJobNotFound = errors.New("job not found")

// JobStatus is the lifecycle state of a submitted batch.
type JobStatus string

// Job states.
const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusPartial   JobStatus = "partial"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCanceled  JobStatus = "canceled"
)

// Job tracks an asynchronous batch.
type Job struct {
	ID       string         `json:"job_id"`
	Status   JobStatus      `json:"status"`
	Slugs    []string       `json:"slugs"`
	Force    bool           `json:"force"`
	Created  time.Time      `json:"created_at"`
	Started  *time.Time     `json:"started_at,omitempty"`
	Finished *time.Time     `json:"finished_at,omitempty"`
	Results  []TargetResult `json:"results,omitempty"`
}

// NewJobID returns a time-ordered UUIDv7 string.
func NewJobID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}

// JobStore keeps jobs in memory.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]Job
}

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]Job)}
}

// CreateJob stores a new job.
func (s *JobStore) CreateJob(_ context.Context, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	s.jobs[job.ID] = job
	return nil
}

// UpdateJob sets the status and results of a job, stamping start and
// finish times on the corresponding transitions.
func (s *JobStore) UpdateJob(_ context.Context, id string, status JobStatus, results []TargetResult, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	job.Status = status
	if results != nil {
		job.Results = append([]TargetResult(nil), results...)
	}
	if status == JobStatusRunning && job.Started == nil {
		job.Started = pointerTime(at)
	}
	if status.Terminal() {
		job.Finished = pointerTime(at)
	}
	s.jobs[id] = job
	return nil
}

// GetJob fetches a copy of a job.
func (s *JobStore) GetJob(_ context.Context, id string) (Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	job.Slugs = append([]string(nil), job.Slugs...)
	job.Results = append([]TargetResult(nil), job.Results...)
	return job, nil
}

// Terminal reports whether no further transitions happen.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusSucceeded, JobStatusPartial, JobStatusFailed, JobStatusCanceled:
		return true
	default:
		return false
	}
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}

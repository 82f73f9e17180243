package entity

import (
	"time"

	"github.com/google/uuid"
)

type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusInProgress JobStatus = "in_progress"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
	StatusCancelled  JobStatus = "cancelled"
)

// AllStatuses is the display order used by statistics and filters.
var AllStatuses = []JobStatus{
	StatusPending,
	StatusInProgress,
	StatusCompleted,
	StatusFailed,
	StatusCancelled,
}

// Status graph:
//
//	pending ──► in_progress ──► completed
//	   │             ├────────► failed
//	   └─────────────┴────────► cancelled
//
// completed, failed and cancelled are terminal. Nothing re-enters pending.
var validTransitions = map[JobStatus][]JobStatus{
	StatusPending:    {StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusCompleted, StatusFailed, StatusCancelled},
}

// ParseStatus validates a raw status string.
func ParseStatus(s string) (JobStatus, bool) {
	st := JobStatus(s)
	for _, known := range AllStatuses {
		if st == known {
			return st, true
		}
	}
	return "", false
}

func CanTransition(from, to JobStatus) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func (s JobStatus) IsTerminal() bool {
	_, hasNext := validTransitions[s]
	return !hasNext
}

func (s JobStatus) Cancellable() bool {
	return CanTransition(s, StatusCancelled)
}

type Job struct {
	ID          uuid.UUID  `json:"id"`
	Name        string     `json:"name"`
	Status      JobStatus  `json:"status"`
	RecordType  RecordType `json:"record_type"`
	TokenHint   string     `json:"-"`
	RecordCount int        `json:"record_count"`
	Error       *string    `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// JobPatch is a partial update applied together with a status transition.
// Nil fields are left untouched.
type JobPatch struct {
	Status      JobStatus
	StartedAt   *time.Time
	CompletedAt *time.Time
	Error       *string
}

// Apply mutates j in place. Stores use it to keep in-memory copies in sync
// with what they persisted.
func (p JobPatch) Apply(j *Job, now time.Time) {
	j.Status = p.Status
	if p.StartedAt != nil {
		t := *p.StartedAt
		j.StartedAt = &t
	}
	if p.CompletedAt != nil {
		t := *p.CompletedAt
		j.CompletedAt = &t
	}
	if p.Error != nil {
		e := *p.Error
		j.Error = &e
	}
	j.UpdatedAt = now
}

type JobFilter struct {
	Status *JobStatus
	Limit  int
	Offset int
}

// Clone returns a deep copy so callers can't mutate store-owned state.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	if j.Error != nil {
		e := *j.Error
		c.Error = &e
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

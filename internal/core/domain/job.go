package domain

import "time"

type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobSuccess    JobStatus = "success"
	JobFailed     JobStatus = "failed"
)

func (s JobStatus) Valid() bool {
	switch s {
	case JobPending, JobProcessing, JobSuccess, JobFailed:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transition is allowed out of s.
func (s JobStatus) Terminal() bool {
	return s == JobSuccess || s == JobFailed
}

// CanTransitionTo encodes pending -> processing -> {success | failed}.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	switch s {
	case JobPending:
		return next == JobProcessing
	case JobProcessing:
		return next == JobSuccess || next == JobFailed
	default:
		return false
	}
}

// Predecessors lists the statuses a job may hold right before moving to s.
func (s JobStatus) Predecessors() []JobStatus {
	switch s {
	case JobProcessing:
		return []JobStatus{JobPending}
	case JobSuccess, JobFailed:
		return []JobStatus{JobProcessing}
	default:
		return nil
	}
}

type ProcessingJob struct {
	ID           string    `json:"id"`
	FileName     string    `json:"file_name"`
	Status       JobStatus `json:"status"`
	ErrorMessage *string   `json:"error_message"`
	CreatedBy    string    `json:"created_by"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// NewJob returns a pending job owned by createdBy.
func NewJob(fileName, createdBy string) (*ProcessingJob, error) {
	id, err := NewID(PrefixJob)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	return &ProcessingJob{
		ID:        id,
		FileName:  fileName,
		Status:    JobPending,
		CreatedBy: createdBy,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

type JobFilter struct {
	CreatedBy string
	Limit     int
}

// JobFinishedEvent is broadcast once a tracked pipeline run reaches a terminal state.
type JobFinishedEvent struct {
	JobID        string       `json:"job_id"`
	Status       JobStatus    `json:"status"`
	DocumentType DocumentType `json:"document_type,omitempty"`
	RecordID     string       `json:"record_id,omitempty"`
	Error        string       `json:"error,omitempty"`
	CreatedBy    string       `json:"created_by"`
	FinishedAt   time.Time    `json:"finished_at"`
}

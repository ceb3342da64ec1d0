package domain

import (
	"fmt"
	"strings"
)

// JobStatus enumerates job lifecycle states as reported by the provider.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusInProgress JobStatus = "in_progress"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether no further transition is possible from s.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// PlaceholderPrefix marks locally synthesized job ids that exist only until the
// gateway acknowledges a submission.
const PlaceholderPrefix = "temp_"

// IsPlaceholderID reports whether id belongs to a placeholder job.
func IsPlaceholderID(id string) bool {
	return strings.HasPrefix(id, PlaceholderPrefix)
}

// JobState is the per-status payload of a Job. Only the variants below
// implement it.
type JobState interface {
	Status() JobStatus
	Progress() int
	isJobState()
}

// Queued is the state of a job accepted by the provider but not started.
type Queued struct{}

// InProgress carries the provider-reported completion percentage.
type InProgress struct {
	Percent int
}

// Completed is the state of a job whose artifacts can be downloaded.
// LastProgress is the value reported with the completion.
type Completed struct {
	LastProgress int
}

// Failed records why the provider gave up on a job.
type Failed struct {
	Message      string
	Code         string
	LastProgress int
}

func (Queued) Status() JobStatus     { return JobStatusQueued }
func (InProgress) Status() JobStatus { return JobStatusInProgress }
func (Completed) Status() JobStatus  { return JobStatusCompleted }
func (Failed) Status() JobStatus     { return JobStatusFailed }

func (Queued) Progress() int       { return 0 }
func (s InProgress) Progress() int { return clampProgress(s.Percent) }
func (s Completed) Progress() int { return clampProgress(s.LastProgress) }
func (s Failed) Progress() int     { return clampProgress(s.LastProgress) }

func (Queued) isJobState()     {}
func (InProgress) isJobState() {}
func (Completed) isJobState()  {}
func (Failed) isJobState()     {}

// Job is one generation or remix request tracked from submission to a
// terminal state.
type Job struct {
	ID        string
	Model     string
	Size      string
	Seconds   string
	Prompt    string
	RemixOf   string
	CreatedAt int64 // unix seconds
	State     JobState
}

// Status returns the status tag of the job, treating a missing state as queued.
func (j Job) Status() JobStatus {
	if j.State == nil {
		return JobStatusQueued
	}
	return j.State.Status()
}

// Progress returns the completion percentage in the range 0..100.
func (j Job) Progress() int {
	if j.State == nil {
		return 0
	}
	return j.State.Progress()
}

// Terminal reports whether the job reached completed or failed.
func (j Job) Terminal() bool {
	return j.Status().Terminal()
}

// Placeholder reports whether the job is a transient local placeholder.
func (j Job) Placeholder() bool {
	return IsPlaceholderID(j.ID)
}

// ErrorMessage returns the failure message for failed jobs.
func (j Job) ErrorMessage() string {
	if f, ok := j.State.(Failed); ok {
		return f.Message
	}
	return ""
}

// JobError is the error object attached to failed jobs on the wire.
type JobError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// VideoJob is the JSON shape exchanged with the gateway and the provider.
type VideoJob struct {
	ID        string    `json:"id"`
	Object    string    `json:"object,omitempty"`
	CreatedAt int64     `json:"created_at,omitempty"`
	Status    JobStatus `json:"status"`
	Model     string    `json:"model,omitempty"`
	Progress  int       `json:"progress"`
	Seconds   string    `json:"seconds,omitempty"`
	Size      string    `json:"size,omitempty"`
	Prompt    string    `json:"prompt,omitempty"`
	Error     *JobError `json:"error,omitempty"`
	RemixOf   string    `json:"remix_of,omitempty"`
}

// ToJob converts the wire shape into the tagged representation.
func (v VideoJob) ToJob() (Job, error) {
	job := Job{
		ID:        v.ID,
		Model:     v.Model,
		Size:      v.Size,
		Seconds:   v.Seconds,
		Prompt:    v.Prompt,
		RemixOf:   v.RemixOf,
		CreatedAt: v.CreatedAt,
	}
	switch v.Status {
	case JobStatusQueued:
		job.State = Queued{}
	case JobStatusInProgress:
		job.State = InProgress{Percent: clampProgress(v.Progress)}
	case JobStatusCompleted:
		job.State = Completed{LastProgress: clampProgress(v.Progress)}
	case JobStatusFailed:
		failed := Failed{LastProgress: clampProgress(v.Progress)}
		if v.Error != nil {
			failed.Message = v.Error.Message
			failed.Code = v.Error.Code
		}
		job.State = failed
	default:
		return Job{}, fmt.Errorf("%w: %q", ErrUnknownStatus, v.Status)
	}
	return job, nil
}

// Wire converts the job back into its JSON shape.
func (j Job) Wire() VideoJob {
	v := VideoJob{
		ID:        j.ID,
		Object:    "video",
		CreatedAt: j.CreatedAt,
		Status:    j.Status(),
		Model:     j.Model,
		Progress:  j.Progress(),
		Seconds:   j.Seconds,
		Size:      j.Size,
		Prompt:    j.Prompt,
		RemixOf:   j.RemixOf,
	}
	if f, ok := j.State.(Failed); ok {
		v.Error = &JobError{Message: f.Message, Code: f.Code}
	}
	return v
}

func clampProgress(p int) int {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return p
	}
}

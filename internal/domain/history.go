package domain

import "strconv"

// HistoryStatus is the coarse status recorded on history entries.
type HistoryStatus string

const (
	HistoryProcessing HistoryStatus = "processing"
	HistoryCompleted  HistoryStatus = "completed"
	HistoryFailed     HistoryStatus = "failed"
)

// HistoryStatusFor derives the history status from a job status.
func HistoryStatusFor(s JobStatus) HistoryStatus {
	switch s {
	case JobStatusCompleted:
		return HistoryCompleted
	case JobStatusFailed:
		return HistoryFailed
	default:
		return HistoryProcessing
	}
}

// GenerationMode tells whether an entry came from a create or a remix.
type GenerationMode string

const (
	ModeCreate GenerationMode = "create"
	ModeRemix  GenerationMode = "remix"
)

// DefaultFailureMessage is recorded when the provider fails a job without a
// message.
const DefaultFailureMessage = "Video generation failed"

// HistoryEntry is the durable record of a past or in-progress job. Its
// lifecycle is independent of the active job set.
type HistoryEntry struct {
	ID              string         `json:"id"`
	Timestamp       int64          `json:"timestamp"` // unix millis
	Filename        string         `json:"filename"`
	StorageModeUsed StorageMode    `json:"storageModeUsed,omitempty"`
	DurationMs      int64          `json:"durationMs"`
	Model           string         `json:"model"`
	Size            string         `json:"size"`
	Seconds         int            `json:"seconds"`
	Prompt          string         `json:"prompt"`
	Mode            GenerationMode `json:"mode"`
	CostDetails     *CostDetails   `json:"costDetails"`
	RemixOf         string         `json:"remix_of,omitempty"`
	Status          HistoryStatus  `json:"status,omitempty"`
	Error           string         `json:"error,omitempty"`
	Progress        int            `json:"progress,omitempty"`
}

// ResumeJob reconstructs a non-terminal job from a processing entry. The
// status is forced to in_progress; the next poll corrects it.
func (e HistoryEntry) ResumeJob() Job {
	return Job{
		ID:        e.ID,
		Model:     e.Model,
		Size:      e.Size,
		Seconds:   strconv.Itoa(e.Seconds),
		Prompt:    e.Prompt,
		RemixOf:   e.RemixOf,
		CreatedAt: e.Timestamp / 1000,
		State:     InProgress{Percent: e.Progress},
	}
}

// DisplayJob builds the job shown for an entry that is no longer tracked.
func (e HistoryEntry) DisplayJob() Job {
	job := Job{
		ID:        e.ID,
		Model:     e.Model,
		Size:      e.Size,
		Seconds:   strconv.Itoa(e.Seconds),
		Prompt:    e.Prompt,
		RemixOf:   e.RemixOf,
		CreatedAt: e.Timestamp / 1000,
		State:     Completed{LastProgress: 100},
	}
	if e.Status == HistoryFailed {
		job.State = Failed{Message: e.Error, LastProgress: e.Progress}
	}
	return job
}

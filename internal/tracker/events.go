package tracker

// EventKind tags an Event.
type EventKind string

const (
	EventJobUpdated   EventKind = "job_updated"
	EventJobCompleted EventKind = "job_completed"
	EventJobFailed    EventKind = "job_failed"
	EventError        EventKind = "error"
)

// Event is a notification for the presentation layer. Error events are
// dismissible and never change job state.
type Event struct {
	Kind    EventKind
	JobID   string
	Message string
}

func (t *Tracker) emit(ev Event) {
	select {
	case t.events <- ev:
	default:
		t.logger.Debug().Str("kind", string(ev.Kind)).Str("job_id", ev.JobID).Msg("tracker: event dropped")
	}
}

// Package tracker follows submitted video jobs until they settle, keeps the
// generation history and stores finished artifacts.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"videogateway/internal/apiclient"
	"videogateway/internal/domain"
	"videogateway/internal/obs"
	"videogateway/internal/state"
)

const defaultPollInterval = 10 * time.Second

// Gateway is the slice of the gateway API the tracker drives.
type Gateway interface {
	Create(ctx context.Context, p apiclient.CreateParams) (domain.VideoJob, error)
	Remix(ctx context.Context, sourceID, prompt string) (domain.VideoJob, error)
	Status(ctx context.Context, id string) (domain.VideoJob, error)
	Delete(ctx context.Context, id string) error
	Content(ctx context.Context, id string, variant domain.Variant) ([]byte, error)
}

// Options configures a Tracker. Blobs is required in blob storage mode.
type Options struct {
	Gateway      Gateway
	History      *state.HistoryStore
	Blobs        *state.BlobStore
	StorageMode  domain.StorageMode
	PollInterval time.Duration
	Logger       zerolog.Logger
	EventBuffer  int
	Now          func() time.Time
	NewID        func() string
}

// Tracker owns the active job set and the history list. All mutations go
// through its mutex; polling runs on a single goroutine that exists only while
// there is something to poll.
type Tracker struct {
	gateway  Gateway
	history  *state.HistoryStore
	blobs    *state.BlobStore
	mode     domain.StorageMode
	interval time.Duration
	logger   zerolog.Logger
	now      func() time.Time
	newID    func() string
	events   chan Event

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	active     map[string]domain.Job
	entries    []domain.HistoryEntry
	stopPoll   context.CancelFunc
	closed     bool
	background sync.WaitGroup
}

func New(opts Options) (*Tracker, error) {
	if opts.Gateway == nil {
		return nil, errors.New("tracker: gateway is required")
	}
	if opts.History == nil {
		return nil, errors.New("tracker: history store is required")
	}
	mode := opts.StorageMode
	if mode == "" {
		mode = domain.StorageModeFS
	}
	if mode == domain.StorageModeBlob && opts.Blobs == nil {
		return nil, errors.New("tracker: blob store is required in blob mode")
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	buffer := opts.EventBuffer
	if buffer <= 0 {
		buffer = 64
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	newID := opts.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Tracker{
		gateway:  opts.Gateway,
		history:  opts.History,
		blobs:    opts.Blobs,
		mode:     mode,
		interval: interval,
		logger:   opts.Logger,
		now:      now,
		newID:    newID,
		events:   make(chan Event, buffer),
		ctx:      ctx,
		cancel:   cancel,
		active:   make(map[string]domain.Job),
	}, nil
}

// Events delivers state changes. Slow readers miss events; the channel is
// never closed.
func (t *Tracker) Events() <-chan Event {
	return t.events
}

// StorageMode returns the mode new entries are recorded with.
func (t *Tracker) StorageMode() domain.StorageMode {
	return t.mode
}

// Resume restores tracking of jobs that were still processing when the
// previous session ended.
func (t *Tracker) Resume(ctx context.Context) error {
	entries, err := t.history.LoadHistory(ctx)
	if err != nil {
		return fmt.Errorf("tracker: load history: %w", err)
	}
	ids, err := t.history.LoadActiveIDs(ctx)
	if err != nil {
		return fmt.Errorf("tracker: load active jobs: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = entries
	processing := make(map[string]domain.HistoryEntry, len(entries))
	for _, e := range entries {
		if e.Status == domain.HistoryProcessing {
			processing[e.ID] = e
		}
	}
	for _, id := range ids {
		entry, ok := processing[id]
		if !ok || domain.IsPlaceholderID(id) {
			continue
		}
		t.active[id] = entry.ResumeJob()
	}
	t.logger.Info().Int("history", len(entries)).Int("resumed", len(t.active)).Msg("tracker: resumed")
	t.persistActiveLocked(ctx)
	t.schedulePollingLocked()
	return nil
}

// Close stops polling, aborts downloads and waits for background work.
func (t *Tracker) Close() {
	t.mu.Lock()
	t.closed = true
	if t.stopPoll != nil {
		t.stopPoll()
		t.stopPoll = nil
	}
	t.mu.Unlock()
	t.cancel()
	t.background.Wait()
}

// Wait blocks until background downloads and the poll loop have exited. It
// returns early when ctx ends.
func (t *Tracker) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		t.background.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Polling reports whether the poll loop is running.
func (t *Tracker) Polling() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopPoll != nil
}

// Active returns the tracked jobs ordered by id.
func (t *Tracker) Active() []domain.Job {
	t.mu.Lock()
	defer t.mu.Unlock()
	jobs := make([]domain.Job, 0, len(t.active))
	for _, job := range t.active {
		jobs = append(jobs, job)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].ID < jobs[j].ID })
	return jobs
}

// History returns a copy of the history, newest first.
func (t *Tracker) History() []domain.HistoryEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]domain.HistoryEntry(nil), t.entries...)
}

// pollableLocked lists ids that need status queries, sorted.
func (t *Tracker) pollableLocked() []string {
	ids := make([]string, 0, len(t.active))
	for id, job := range t.active {
		if job.Placeholder() || job.Terminal() {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// schedulePollingLocked starts the loop when there is work and stops it when
// there is none.
func (t *Tracker) schedulePollingLocked() {
	obs.SetActiveJobs(len(t.active))
	pending := len(t.pollableLocked()) > 0
	switch {
	case pending && t.stopPoll == nil && !t.closed:
		ctx, cancel := context.WithCancel(t.ctx)
		t.stopPoll = cancel
		t.background.Add(1)
		go t.pollLoop(ctx)
	case !pending && t.stopPoll != nil:
		t.stopPoll()
		t.stopPoll = nil
	}
}

func (t *Tracker) pollLoop(ctx context.Context) {
	defer t.background.Done()
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		t.PollOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// PollOnce queries every pollable job once, in id order. No query is issued
// once ctx is done.
func (t *Tracker) PollOnce(ctx context.Context) {
	t.mu.Lock()
	ids := t.pollableLocked()
	t.mu.Unlock()

	for _, id := range ids {
		if ctx.Err() != nil {
			return
		}
		fresh, err := t.gateway.Status(ctx, id)
		obs.RecordPoll(err)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			t.logger.Warn().Err(err).Str("job_id", id).Msg("tracker: status poll failed")
			continue
		}
		t.applyStatus(ctx, id, fresh)
	}
}

func (t *Tracker) applyStatus(ctx context.Context, id string, wire domain.VideoJob) {
	fresh, err := wire.ToJob()
	if err != nil {
		t.logger.Warn().Err(err).Str("job_id", id).Msg("tracker: ignoring status")
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	prev, ok := t.active[id]
	if !ok || prev.Terminal() {
		return
	}
	merged := domain.MergeStatus(prev, fresh)
	t.active[id] = merged
	if i := t.entryIndexLocked(id); i >= 0 {
		t.entries[i].Progress = merged.Progress()
		t.entries[i].Status = domain.HistoryStatusFor(merged.Status())
	}
	t.settleLocked(ctx, merged)
	t.persistHistoryLocked(ctx)
	t.persistActiveLocked(ctx)
	t.schedulePollingLocked()
}

// settleLocked finishes the bookkeeping of a job that reached a terminal
// state. Non-terminal jobs only produce an update event.
func (t *Tracker) settleLocked(ctx context.Context, job domain.Job) {
	switch job.Status() {
	case domain.JobStatusCompleted:
		delete(t.active, job.ID)
		// The id must be gone from the persisted set before the download
		// starts, so a restart never downloads twice.
		t.persistActiveLocked(ctx)
		t.logger.Info().Str("job_id", job.ID).Msg("tracker: job completed")
		t.emit(Event{Kind: EventJobCompleted, JobID: job.ID})
		if !t.closed {
			t.background.Add(1)
			go t.download(job)
		}
	case domain.JobStatusFailed:
		delete(t.active, job.ID)
		msg := job.ErrorMessage()
		if msg == "" {
			msg = domain.DefaultFailureMessage
		}
		if i := t.entryIndexLocked(job.ID); i >= 0 {
			t.entries[i].Status = domain.HistoryFailed
			t.entries[i].Error = msg
			t.entries[i].CostDetails = nil
		}
		t.logger.Warn().Str("job_id", job.ID).Str("error", msg).Msg("tracker: job failed")
		t.emit(Event{Kind: EventJobFailed, JobID: job.ID, Message: msg})
	default:
		t.emit(Event{Kind: EventJobUpdated, JobID: job.ID})
	}
}

func (t *Tracker) entryIndexLocked(id string) int {
	for i := range t.entries {
		if t.entries[i].ID == id {
			return i
		}
	}
	return -1
}

func (t *Tracker) persistHistoryLocked(ctx context.Context) {
	if err := t.history.SaveHistory(context.WithoutCancel(ctx), t.entries); err != nil {
		t.logger.Error().Err(err).Msg("tracker: save history failed")
		t.emit(Event{Kind: EventError, Message: "Failed to save history: " + err.Error()})
	}
}

func (t *Tracker) persistActiveLocked(ctx context.Context) {
	ids := make([]string, 0, len(t.active))
	for id := range t.active {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	if err := t.history.SaveActiveIDs(context.WithoutCancel(ctx), ids); err != nil {
		t.logger.Error().Err(err).Msg("tracker: save active jobs failed")
		t.emit(Event{Kind: EventError, Message: "Failed to save active jobs: " + err.Error()})
	}
}

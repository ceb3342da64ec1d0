package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"videogateway/internal/apiclient"
	"videogateway/internal/domain"
	"videogateway/internal/pricing"
	"videogateway/internal/state"
	"videogateway/pkg/zip"
)

// Create submits a new generation. A placeholder job is tracked until the
// gateway answers; on error it is removed and the error returned unchanged,
// so callers can test for apiclient.ErrUnauthorized.
func (t *Tracker) Create(ctx context.Context, p apiclient.CreateParams) (domain.Job, error) {
	if strings.TrimSpace(p.Prompt) == "" {
		return domain.Job{}, domain.ErrInvalidPrompt
	}
	placeholder := t.insertPlaceholder(domain.Job{
		Model:   p.Model,
		Size:    p.Size,
		Seconds: p.Seconds,
		Prompt:  p.Prompt,
	})
	wire, err := t.gateway.Create(ctx, p)
	if err != nil {
		t.dropPlaceholder(placeholder)
		return domain.Job{}, err
	}
	return t.acknowledge(ctx, placeholder, wire, domain.ModeCreate)
}

// Remix starts a job derived from sourceID.
func (t *Tracker) Remix(ctx context.Context, sourceID, prompt string) (domain.Job, error) {
	if strings.TrimSpace(sourceID) == "" {
		return domain.Job{}, fmt.Errorf("tracker: remix source is required: %w", domain.ErrNotFound)
	}
	if strings.TrimSpace(prompt) == "" {
		return domain.Job{}, domain.ErrInvalidPrompt
	}
	seed := domain.Job{Prompt: prompt, RemixOf: sourceID}
	t.mu.Lock()
	if i := t.entryIndexLocked(sourceID); i >= 0 {
		src := t.entries[i]
		seed.Model, seed.Size, seed.Seconds = src.Model, src.Size, strconv.Itoa(src.Seconds)
	}
	t.mu.Unlock()

	placeholder := t.insertPlaceholder(seed)
	wire, err := t.gateway.Remix(ctx, sourceID, prompt)
	if err != nil {
		t.dropPlaceholder(placeholder)
		return domain.Job{}, err
	}
	return t.acknowledge(ctx, placeholder, wire, domain.ModeRemix)
}

func (t *Tracker) insertPlaceholder(seed domain.Job) domain.Job {
	seed.ID = domain.PlaceholderPrefix + t.newID()
	seed.CreatedAt = t.now().Unix()
	seed.State = domain.Queued{}
	t.mu.Lock()
	t.active[seed.ID] = seed
	t.mu.Unlock()
	t.emit(Event{Kind: EventJobUpdated, JobID: seed.ID})
	return seed
}

func (t *Tracker) dropPlaceholder(p domain.Job) {
	t.mu.Lock()
	delete(t.active, p.ID)
	t.mu.Unlock()
	t.emit(Event{Kind: EventJobUpdated, JobID: p.ID})
}

// acknowledge replaces the placeholder with the job the gateway returned and
// records the history entry.
func (t *Tracker) acknowledge(ctx context.Context, placeholder domain.Job, wire domain.VideoJob, mode domain.GenerationMode) (domain.Job, error) {
	job, err := wire.ToJob()
	if err != nil {
		t.dropPlaceholder(placeholder)
		return domain.Job{}, fmt.Errorf("tracker: gateway response: %w", err)
	}
	if job.ID == "" {
		t.dropPlaceholder(placeholder)
		return domain.Job{}, errors.New("tracker: gateway response has no job id")
	}
	job.Prompt = placeholder.Prompt
	if job.RemixOf == "" {
		job.RemixOf = placeholder.RemixOf
	}
	if job.Model == "" {
		job.Model = placeholder.Model
	}
	if job.Size == "" {
		job.Size = placeholder.Size
	}
	if job.Seconds == "" {
		job.Seconds = placeholder.Seconds
	}
	if job.CreatedAt == 0 {
		job.CreatedAt = placeholder.CreatedAt
	}

	var cost *domain.CostDetails
	if details, err := pricing.CalculateVideoCost(pricing.ParseUsage(job.Model, job.Size, job.Seconds)); err == nil {
		cost = &details
	} else {
		t.logger.Warn().Err(err).Str("job_id", job.ID).Msg("tracker: cost unavailable")
	}
	seconds, _ := strconv.Atoi(strings.TrimSpace(job.Seconds))
	entry := domain.HistoryEntry{
		ID:              job.ID,
		Timestamp:       t.now().UnixMilli(),
		Filename:        job.ID + ".mp4",
		StorageModeUsed: t.mode,
		Model:           job.Model,
		Size:            job.Size,
		Seconds:         seconds,
		Prompt:          job.Prompt,
		Mode:            mode,
		CostDetails:     cost,
		RemixOf:         job.RemixOf,
		Status:          domain.HistoryStatusFor(job.Status()),
		Progress:        job.Progress(),
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.active, placeholder.ID)
	t.active[job.ID] = job
	if i := t.entryIndexLocked(job.ID); i >= 0 {
		t.entries = append(t.entries[:i], t.entries[i+1:]...)
	}
	t.entries = append([]domain.HistoryEntry{entry}, t.entries...)
	t.logger.Info().Str("job_id", job.ID).Str("mode", string(mode)).Str("model", job.Model).Msg("tracker: job submitted")
	if job.Terminal() {
		t.settleLocked(ctx, job)
	} else {
		t.emit(Event{Kind: EventJobUpdated, JobID: job.ID})
	}
	t.persistHistoryLocked(ctx)
	t.persistActiveLocked(ctx)
	t.schedulePollingLocked()
	return job, nil
}

// Delete removes a history entry. Artifacts are removed first: locally in blob
// mode, through the gateway in fs mode. Failed entries have no artifacts.
func (t *Tracker) Delete(ctx context.Context, id string) error {
	t.mu.Lock()
	i := t.entryIndexLocked(id)
	if i < 0 {
		t.mu.Unlock()
		return fmt.Errorf("tracker: history entry %s: %w", id, domain.ErrNotFound)
	}
	entry := t.entries[i]
	t.mu.Unlock()

	if entry.Status != domain.HistoryFailed {
		switch t.entryMode(entry) {
		case domain.StorageModeBlob:
			if err := t.blobs.Delete(ctx, id); err != nil {
				return fmt.Errorf("tracker: delete local video: %w", err)
			}
		default:
			if err := t.gateway.Delete(ctx, id); err != nil {
				return err
			}
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if i := t.entryIndexLocked(id); i >= 0 {
		t.entries = append(t.entries[:i], t.entries[i+1:]...)
	}
	delete(t.active, id)
	t.persistHistoryLocked(ctx)
	t.persistActiveLocked(ctx)
	t.schedulePollingLocked()
	t.logger.Info().Str("job_id", id).Msg("tracker: history entry deleted")
	t.emit(Event{Kind: EventJobUpdated, JobID: id, Message: "deleted"})
	return nil
}

// ClearHistory forgets every entry and tracked job. In blob mode the locally
// kept videos go too.
func (t *Tracker) ClearHistory(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = nil
	t.active = make(map[string]domain.Job)
	t.schedulePollingLocked()

	err := t.history.Clear(ctx)
	if t.mode == domain.StorageModeBlob {
		err = errors.Join(err, t.blobs.Clear(ctx))
	}
	if err != nil {
		return fmt.Errorf("tracker: clear history: %w", err)
	}
	t.logger.Info().Msg("tracker: history cleared")
	return nil
}

// Select returns the job to display for a history entry: the tracked job when
// it is still active, otherwise one rebuilt from the entry.
func (t *Tracker) Select(id string) (domain.Job, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if job, ok := t.active[id]; ok {
		return job, nil
	}
	i := t.entryIndexLocked(id)
	if i < 0 {
		return domain.Job{}, fmt.Errorf("tracker: history entry %s: %w", id, domain.ErrNotFound)
	}
	return t.entries[i].DisplayJob(), nil
}

// Entry returns the history entry for id.
func (t *Tracker) Entry(id string) (domain.HistoryEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	i := t.entryIndexLocked(id)
	if i < 0 {
		return domain.HistoryEntry{}, false
	}
	return t.entries[i], true
}

// Export writes a zip with the entry metadata and whatever artifacts exist.
func (t *Tracker) Export(ctx context.Context, id string, w io.Writer) error {
	entry, ok := t.Entry(id)
	if !ok {
		return fmt.Errorf("tracker: history entry %s: %w", id, domain.ErrNotFound)
	}
	meta, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("tracker: encode entry: %w", err)
	}
	assets := []zip.Asset{{Filename: id + ".json", Data: meta}}

	if entry.Status == domain.HistoryCompleted {
		var video, thumbnail []byte
		switch t.entryMode(entry) {
		case domain.StorageModeBlob:
			rec, err := t.blobs.Get(ctx, id)
			if err != nil && !errors.Is(err, state.ErrNotFound) {
				return fmt.Errorf("tracker: read local video: %w", err)
			}
			video, thumbnail = rec.Video, rec.Thumbnail
		default:
			if video, err = t.gateway.Content(ctx, id, domain.VariantVideo); err != nil {
				return fmt.Errorf("tracker: fetch video: %w", err)
			}
			thumbnail, _ = t.gateway.Content(ctx, id, domain.VariantThumbnail)
		}
		name := entry.Filename
		if name == "" {
			name = id + ".mp4"
		}
		assets = append(assets,
			zip.Asset{Filename: name, Data: video},
			zip.Asset{Filename: domain.ArtifactFilename(id, domain.VariantThumbnail), Data: thumbnail},
		)
	}
	return zip.WriteAssets(w, time.UnixMilli(entry.Timestamp), assets)
}

// entryMode is the storage mode the entry was created under.
func (t *Tracker) entryMode(e domain.HistoryEntry) domain.StorageMode {
	if e.StorageModeUsed == domain.StorageModeBlob && t.blobs != nil {
		return domain.StorageModeBlob
	}
	if e.StorageModeUsed == "" {
		return t.mode
	}
	return domain.StorageModeFS
}

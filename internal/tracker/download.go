package tracker

import (
	"time"

	"videogateway/internal/domain"
	"videogateway/internal/obs"
	"videogateway/internal/state"
)

// download fetches the artifacts of a completed job. Entries created in blob
// mode keep the video and thumbnail locally; for fs entries the fetch warms
// the gateway cache and the bytes are dropped.
func (t *Tracker) download(job domain.Job) {
	defer t.background.Done()
	ctx := t.ctx
	start := time.Now()
	log := t.logger.With().Str("job_id", job.ID).Logger()

	entry, ok := t.Entry(job.ID)
	if !ok {
		log.Debug().Msg("tracker: entry removed before download")
		return
	}
	mode := t.entryMode(entry)

	video, err := t.gateway.Content(ctx, job.ID, domain.VariantVideo)
	if err != nil {
		obs.RecordDownload(start, err)
		log.Error().Err(err).Msg("tracker: video download failed")
		t.emit(Event{Kind: EventError, JobID: job.ID, Message: "Failed to download video: " + err.Error()})
		return
	}
	thumbnail, err := t.gateway.Content(ctx, job.ID, domain.VariantThumbnail)
	if err != nil {
		log.Debug().Err(err).Msg("tracker: thumbnail unavailable")
		thumbnail = nil
	}
	if _, err := t.gateway.Content(ctx, job.ID, domain.VariantSpritesheet); err != nil {
		log.Debug().Err(err).Msg("tracker: spritesheet unavailable")
	}

	if mode == domain.StorageModeBlob {
		// A clear or delete while downloading drops the result.
		if !t.hasEntry(job.ID) {
			obs.RecordDownload(start, nil)
			log.Debug().Msg("tracker: entry removed during download")
			return
		}
		rec := state.BlobRecord{
			ID:        job.ID,
			Filename:  job.ID + ".mp4",
			CreatedAt: job.CreatedAt,
			Video:     video,
			Thumbnail: thumbnail,
		}
		if err := t.blobs.Put(ctx, rec); err != nil {
			obs.RecordDownload(start, err)
			log.Error().Err(err).Msg("tracker: store video failed")
			t.emit(Event{Kind: EventError, JobID: job.ID, Message: "Failed to store video: " + err.Error()})
			return
		}
	}

	t.mu.Lock()
	i := t.entryIndexLocked(job.ID)
	if i >= 0 {
		e := &t.entries[i]
		if job.CreatedAt > 0 {
			e.DurationMs = t.now().UnixMilli() - job.CreatedAt*1000
		}
		e.Status = domain.HistoryCompleted
		t.persistHistoryLocked(ctx)
	}
	t.mu.Unlock()
	if i < 0 && mode == domain.StorageModeBlob {
		// Removed between the store write and now.
		if err := t.blobs.Delete(ctx, job.ID); err != nil {
			log.Warn().Err(err).Msg("tracker: drop orphaned video failed")
		}
		return
	}

	obs.RecordDownload(start, nil)
	log.Info().Int("bytes", len(video)).Str("storage_mode", string(mode)).Msg("tracker: video stored")
	t.emit(Event{Kind: EventJobUpdated, JobID: job.ID, Message: "stored"})
}

func (t *Tracker) hasEntry(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.entryIndexLocked(id) >= 0
}

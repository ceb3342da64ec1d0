package tracker

import (
	stdzip "archive/zip"
	"bytes"
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"videogateway/internal/domain"
	"videogateway/internal/state"
)

func TestBlobModeDownloadStoresRecord(t *testing.T) {
	h := newHarness(t, domain.StorageModeBlob, nil)
	h.gateway.content[domain.VariantVideo] = []byte("mp4")
	h.gateway.content[domain.VariantThumbnail] = []byte("webp")
	h.gateway.contentErrs[domain.VariantSpritesheet] = errors.New("spritesheet not ready")
	entry := processingEntry("job_1", 90)
	entry.StorageModeUsed = domain.StorageModeBlob
	h.seed(t, []domain.HistoryEntry{entry}, []string{"job_1"})
	h.gateway.setStatus(domain.VideoJob{ID: "job_1", Status: domain.JobStatusCompleted, Progress: 100, CreatedAt: 1_700_000_000})

	if err := h.tracker.Resume(context.Background()); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	waitForEvent(t, h.tracker, isStored("job_1"))

	rec, err := h.blobs.Get(context.Background(), "job_1")
	if err != nil {
		t.Fatalf("blob Get: %v", err)
	}
	if string(rec.Video) != "mp4" || string(rec.Thumbnail) != "webp" || rec.Filename != "job_1.mp4" || rec.CreatedAt != 1_700_000_000 {
		t.Fatalf("record = %+v", rec)
	}
	got, _ := h.tracker.Entry("job_1")
	if got.StorageModeUsed != domain.StorageModeBlob || got.Status != domain.HistoryCompleted || got.DurationMs != 100_000 {
		t.Fatalf("entry = %+v", got)
	}
}

func TestDownloadFailureKeepsEntryCompleted(t *testing.T) {
	h := newHarness(t, domain.StorageModeFS, nil)
	h.gateway.contentErrs[domain.VariantVideo] = errors.New("gateway timeout")
	h.seed(t, []domain.HistoryEntry{processingEntry("job_1", 90)}, []string{"job_1"})
	h.gateway.setStatus(domain.VideoJob{ID: "job_1", Status: domain.JobStatusCompleted, Progress: 100})

	if err := h.tracker.Resume(context.Background()); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	ev := waitForEvent(t, h.tracker, isEvent(EventError, "job_1"))
	if ev.Message == "" {
		t.Fatalf("error event without message")
	}
	entry, _ := h.tracker.Entry("job_1")
	if entry.Status != domain.HistoryCompleted {
		t.Fatalf("entry status = %s, want completed", entry.Status)
	}
}

func TestDelete(t *testing.T) {
	t.Run("fs mode deletes through gateway", func(t *testing.T) {
		h := newHarness(t, domain.StorageModeFS, nil)
		h.seed(t, []domain.HistoryEntry{{ID: "video_1", Status: domain.HistoryCompleted, StorageModeUsed: domain.StorageModeFS}}, nil)
		_ = h.tracker.Resume(context.Background())

		if err := h.tracker.Delete(context.Background(), "video_1"); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if len(h.gateway.deleted) != 1 || h.gateway.deleted[0] != "video_1" {
			t.Fatalf("gateway deletes = %v", h.gateway.deleted)
		}
		if len(h.tracker.History()) != 0 {
			t.Fatalf("entry not removed")
		}
		stored, _ := h.history.LoadHistory(context.Background())
		if len(stored) != 0 {
			t.Fatalf("persisted history = %+v", stored)
		}
	})

	t.Run("failed entry is removed locally only", func(t *testing.T) {
		h := newHarness(t, domain.StorageModeFS, nil)
		h.seed(t, []domain.HistoryEntry{{ID: "video_1", Status: domain.HistoryFailed, Error: "policy violation"}}, nil)
		_ = h.tracker.Resume(context.Background())

		if err := h.tracker.Delete(context.Background(), "video_1"); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if len(h.gateway.deleted) != 0 {
			t.Fatalf("gateway deletes = %v, want none", h.gateway.deleted)
		}
	})

	t.Run("gateway error keeps entry", func(t *testing.T) {
		h := newHarness(t, domain.StorageModeFS, nil)
		h.gateway.deleteErr = errors.New("upstream unavailable")
		h.seed(t, []domain.HistoryEntry{{ID: "video_1", Status: domain.HistoryCompleted}}, nil)
		_ = h.tracker.Resume(context.Background())

		if err := h.tracker.Delete(context.Background(), "video_1"); err == nil {
			t.Fatalf("Delete succeeded, want error")
		}
		if len(h.tracker.History()) != 1 {
			t.Fatalf("entry removed despite error")
		}
	})

	t.Run("blob mode deletes local record", func(t *testing.T) {
		h := newHarness(t, domain.StorageModeBlob, nil)
		ctx := context.Background()
		_ = h.blobs.Put(ctx, state.BlobRecord{ID: "video_1", Filename: "video_1.mp4", Video: []byte("mp4")})
		h.seed(t, []domain.HistoryEntry{{ID: "video_1", Status: domain.HistoryCompleted, StorageModeUsed: domain.StorageModeBlob}}, nil)
		_ = h.tracker.Resume(ctx)

		if err := h.tracker.Delete(ctx, "video_1"); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if _, err := h.blobs.Get(ctx, "video_1"); !errors.Is(err, state.ErrNotFound) {
			t.Fatalf("blob still present: %v", err)
		}
		if len(h.gateway.deleted) != 0 {
			t.Fatalf("gateway deletes = %v, want none", h.gateway.deleted)
		}
	})

	t.Run("unknown id", func(t *testing.T) {
		h := newHarness(t, domain.StorageModeFS, nil)
		if err := h.tracker.Delete(context.Background(), "nope"); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("error = %v, want ErrNotFound", err)
		}
	})
}

func TestClearHistorySurvivesReload(t *testing.T) {
	kv := state.NewMemoryKV()
	h := newHarness(t, domain.StorageModeBlob, kv)
	ctx := context.Background()
	h.seed(t, []domain.HistoryEntry{
		processingEntry("job_1", 20),
		{ID: "video_0", Status: domain.HistoryCompleted, StorageModeUsed: domain.StorageModeBlob},
	}, []string{"job_1"})
	_ = h.blobs.Put(ctx, state.BlobRecord{ID: "video_0", Filename: "video_0.mp4", Video: []byte("mp4")})
	h.gateway.setStatus(domain.VideoJob{ID: "job_1", Status: domain.JobStatusInProgress, Progress: 20})
	if err := h.tracker.Resume(ctx); err != nil {
		t.Fatalf("Resume: %v", err)
	}

	if err := h.tracker.ClearHistory(ctx); err != nil {
		t.Fatalf("ClearHistory: %v", err)
	}
	if len(h.tracker.History()) != 0 || len(h.tracker.Active()) != 0 {
		t.Fatalf("tracker not empty after clear")
	}
	if h.tracker.Polling() {
		t.Fatalf("poll loop still running after clear")
	}
	if _, err := h.blobs.Get(ctx, "video_0"); !errors.Is(err, state.ErrNotFound) {
		t.Fatalf("blob survived clear: %v", err)
	}
	h.tracker.Close()

	reloaded := newHarness(t, domain.StorageModeFS, kv)
	if err := reloaded.tracker.Resume(ctx); err != nil {
		t.Fatalf("Resume after reload: %v", err)
	}
	if len(reloaded.tracker.History()) != 0 || len(reloaded.tracker.Active()) != 0 {
		t.Fatalf("cleared state came back: history=%+v active=%+v", reloaded.tracker.History(), reloaded.tracker.Active())
	}
}

func TestSelect(t *testing.T) {
	h := newHarness(t, domain.StorageModeFS, nil)
	h.tracker.Close()
	h.seed(t, []domain.HistoryEntry{
		processingEntry("job_1", 55),
		{ID: "video_ok", Status: domain.HistoryCompleted, Progress: 90, Prompt: "sunrise"},
		{ID: "video_bad", Status: domain.HistoryFailed, Progress: 35, Error: "policy violation"},
	}, []string{"job_1"})
	_ = h.tracker.Resume(context.Background())

	job, err := h.tracker.Select("job_1")
	if err != nil || job.Status() != domain.JobStatusInProgress || job.Progress() != 55 {
		t.Fatalf("Select(job_1) = %+v, %v", job, err)
	}
	job, _ = h.tracker.Select("video_ok")
	if job.Status() != domain.JobStatusCompleted || job.Progress() != 100 || job.Prompt != "sunrise" {
		t.Fatalf("Select(video_ok) = %+v", job)
	}
	job, _ = h.tracker.Select("video_bad")
	if job.Status() != domain.JobStatusFailed || job.Progress() != 35 || job.ErrorMessage() != "policy violation" {
		t.Fatalf("Select(video_bad) = %+v", job)
	}
	if _, err := h.tracker.Select("missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Select(missing) error = %v", err)
	}
	if len(h.tracker.Active()) != 1 {
		t.Fatalf("Select changed the active set")
	}
}

func TestExport(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, domain.StorageModeBlob, nil)
	_ = h.blobs.Put(ctx, state.BlobRecord{ID: "video_1", Filename: "video_1.mp4", Video: []byte("mp4"), Thumbnail: []byte("webp")})
	h.seed(t, []domain.HistoryEntry{
		{ID: "video_1", Filename: "video_1.mp4", Status: domain.HistoryCompleted, StorageModeUsed: domain.StorageModeBlob, Timestamp: 1_700_000_000_000},
		{ID: "video_2", Filename: "video_2.mp4", Status: domain.HistoryFailed, Timestamp: 1_700_000_000_000},
	}, nil)
	_ = h.tracker.Resume(ctx)

	tests := []struct {
		id    string
		names []string
	}{
		{id: "video_1", names: []string{"video_1.json", "video_1.mp4", "video_1_thumbnail.webp"}},
		{id: "video_2", names: []string{"video_2.json"}},
	}
	for _, tc := range tests {
		var buf bytes.Buffer
		if err := h.tracker.Export(ctx, tc.id, &buf); err != nil {
			t.Fatalf("Export(%s): %v", tc.id, err)
		}
		zr, err := stdzip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
		if err != nil {
			t.Fatalf("open archive: %v", err)
		}
		var names []string
		for _, f := range zr.File {
			names = append(names, f.Name)
		}
		sort.Strings(names)
		if len(names) != len(tc.names) {
			t.Fatalf("Export(%s) names = %v, want %v", tc.id, names, tc.names)
		}
		for i := range names {
			if names[i] != tc.names[i] {
				t.Fatalf("Export(%s) names = %v, want %v", tc.id, names, tc.names)
			}
		}
	}
}

func TestCompletionKeepsCreationModeAndLastProgress(t *testing.T) {
	for _, mode := range []domain.StorageMode{domain.StorageModeFS, domain.StorageModeBlob} {
		t.Run(string(mode), func(t *testing.T) {
			h := newHarness(t, mode, nil)
			ctx := context.Background()
			h.gateway.content[domain.VariantVideo] = []byte("mp4")
			h.seed(t, []domain.HistoryEntry{processingEntry("job_1", 50)}, []string{"job_1"})
			h.gateway.setStatus(domain.VideoJob{ID: "job_1", Status: domain.JobStatusCompleted, Progress: 50})

			if err := h.tracker.Resume(ctx); err != nil {
				t.Fatalf("Resume: %v", err)
			}
			waitForEvent(t, h.tracker, isStored("job_1"))

			entry, _ := h.tracker.Entry("job_1")
			if entry.StorageModeUsed != domain.StorageModeFS {
				t.Fatalf("StorageModeUsed = %s, want fs", entry.StorageModeUsed)
			}
			if entry.Status != domain.HistoryCompleted || entry.Progress != 50 {
				t.Fatalf("entry status/progress = %s/%d, want completed/50", entry.Status, entry.Progress)
			}
			if h.blobs != nil {
				if _, err := h.blobs.Get(ctx, "job_1"); !errors.Is(err, state.ErrNotFound) {
					t.Fatalf("fs entry stored locally: %v", err)
				}
			}

			if err := h.tracker.Delete(ctx, "job_1"); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if len(h.gateway.deleted) != 1 || h.gateway.deleted[0] != "job_1" {
				t.Fatalf("gateway deletes = %v, want [job_1]", h.gateway.deleted)
			}
		})
	}
}

func TestClearHistoryDropsInFlightDownload(t *testing.T) {
	h := newHarness(t, domain.StorageModeBlob, nil)
	ctx := context.Background()
	h.gateway.videoGate = make(chan struct{})
	h.gateway.content[domain.VariantVideo] = []byte("mp4")
	entry := processingEntry("job_1", 80)
	entry.StorageModeUsed = domain.StorageModeBlob
	h.seed(t, []domain.HistoryEntry{entry}, []string{"job_1"})
	h.gateway.setStatus(domain.VideoJob{ID: "job_1", Status: domain.JobStatusCompleted, Progress: 100})

	if err := h.tracker.Resume(ctx); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	waitForEvent(t, h.tracker, isEvent(EventJobCompleted, "job_1"))
	if err := h.tracker.ClearHistory(ctx); err != nil {
		t.Fatalf("ClearHistory: %v", err)
	}
	close(h.gateway.videoGate)

	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := h.tracker.Wait(waitCtx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if _, err := h.blobs.Get(ctx, "job_1"); !errors.Is(err, state.ErrNotFound) {
		t.Fatalf("download after clear left a record: %v", err)
	}
	if len(h.tracker.History()) != 0 {
		t.Fatalf("history = %+v, want empty", h.tracker.History())
	}
}

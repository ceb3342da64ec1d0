package tracker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"videogateway/internal/apiclient"
	"videogateway/internal/domain"
	"videogateway/internal/infra"
	"videogateway/internal/state"
)

type fakeGateway struct {
	mu          sync.Mutex
	statuses    map[string]domain.VideoJob
	statusErrs  map[string]error
	statusCalls []string
	createReply domain.VideoJob
	createErr   error
	remixReply  domain.VideoJob
	remixCalls  []string
	content     map[domain.Variant][]byte
	contentErrs map[domain.Variant]error
	contentHits map[domain.Variant]int
	deleted     []string
	deleteErr   error
	// videoGate, when set, holds video downloads until closed.
	videoGate chan struct{}
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		statuses:    map[string]domain.VideoJob{},
		statusErrs:  map[string]error{},
		content:     map[domain.Variant][]byte{},
		contentErrs: map[domain.Variant]error{},
		contentHits: map[domain.Variant]int{},
	}
}

func (f *fakeGateway) setStatus(job domain.VideoJob) {
	f.mu.Lock()
	f.statuses[job.ID] = job
	f.mu.Unlock()
}

func (f *fakeGateway) Create(_ context.Context, _ apiclient.CreateParams) (domain.VideoJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.createReply, f.createErr
}

func (f *fakeGateway) Remix(_ context.Context, sourceID, _ string) (domain.VideoJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.remixCalls = append(f.remixCalls, sourceID)
	return f.remixReply, nil
}

func (f *fakeGateway) Status(_ context.Context, id string) (domain.VideoJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls = append(f.statusCalls, id)
	if err := f.statusErrs[id]; err != nil {
		return domain.VideoJob{}, err
	}
	job, ok := f.statuses[id]
	if !ok {
		return domain.VideoJob{}, &apiclient.StatusError{Status: 404, Message: "Video not found"}
	}
	return job, nil
}

func (f *fakeGateway) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeGateway) Content(_ context.Context, id string, v domain.Variant) ([]byte, error) {
	if v == domain.VariantVideo && f.videoGate != nil {
		<-f.videoGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.contentHits[v]++
	if err := f.contentErrs[v]; err != nil {
		return nil, err
	}
	if data, ok := f.content[v]; ok {
		return data, nil
	}
	return nil, errors.New("no content")
}

func (f *fakeGateway) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.statusCalls...)
}

func (f *fakeGateway) hits(v domain.Variant) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.contentHits[v]
}

type harness struct {
	tracker *Tracker
	gateway *fakeGateway
	kv      state.KV
	history *state.HistoryStore
	blobs   *state.BlobStore
}

var fixedNow = time.Unix(1_700_000_100, 0)

func newHarness(t *testing.T, mode domain.StorageMode, kv state.KV) *harness {
	t.Helper()
	if kv == nil {
		kv = state.NewMemoryKV()
	}
	h := &harness{
		gateway: newFakeGateway(),
		kv:      kv,
		history: state.NewHistoryStore(kv, infra.NopLogger()),
	}
	if mode == domain.StorageModeBlob {
		blobs, err := state.NewBlobStore(t.TempDir())
		if err != nil {
			t.Fatalf("NewBlobStore: %v", err)
		}
		h.blobs = blobs
	}
	tr, err := New(Options{
		Gateway:      h.gateway,
		History:      h.history,
		Blobs:        h.blobs,
		StorageMode:  mode,
		PollInterval: time.Hour,
		Logger:       infra.NopLogger(),
		Now:          func() time.Time { return fixedNow },
		NewID:        func() string { return "placeholder" },
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(tr.Close)
	h.tracker = tr
	return h
}

// seed stores a history and active id list as a previous session left them.
func (h *harness) seed(t *testing.T, entries []domain.HistoryEntry, active []string) {
	t.Helper()
	ctx := context.Background()
	if err := h.history.SaveHistory(ctx, entries); err != nil {
		t.Fatalf("SaveHistory: %v", err)
	}
	if err := h.history.SaveActiveIDs(ctx, active); err != nil {
		t.Fatalf("SaveActiveIDs: %v", err)
	}
}

func waitForEvent(t *testing.T, tr *Tracker, match func(Event) bool) Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-tr.Events():
			if match(ev) {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for event")
			return Event{}
		}
	}
}

func isEvent(kind EventKind, id string) func(Event) bool {
	return func(ev Event) bool { return ev.Kind == kind && ev.JobID == id }
}

func isStored(id string) func(Event) bool {
	return func(ev Event) bool { return ev.Kind == EventJobUpdated && ev.JobID == id && ev.Message == "stored" }
}

func processingEntry(id string, progress int) domain.HistoryEntry {
	return domain.HistoryEntry{
		ID:              id,
		Timestamp:       1_700_000_000_000,
		Filename:        id + ".mp4",
		StorageModeUsed: domain.StorageModeFS,
		Model:           "sora-2",
		Size:            "1280x720",
		Seconds:         4,
		Prompt:          "waves at dusk",
		Mode:            domain.ModeCreate,
		CostDetails:     &domain.CostDetails{Model: "sora-2", Resolution: "1280x720", Duration: 4, PricePerSecond: 0.1, TotalCost: 0.4},
		Status:          domain.HistoryProcessing,
		Progress:        progress,
	}
}

func findEntry(entries []domain.HistoryEntry, id string) (domain.HistoryEntry, bool) {
	for _, e := range entries {
		if e.ID == id {
			return e, true
		}
	}
	return domain.HistoryEntry{}, false
}

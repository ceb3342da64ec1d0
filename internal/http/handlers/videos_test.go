package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"

	"videogateway/internal/domain"
	"videogateway/internal/infra"
	"videogateway/internal/middleware"
	"videogateway/internal/providers/video"
	"videogateway/internal/storage"
)

type fakeProvider struct {
	mu        sync.Mutex
	noKey     bool
	jobs      map[string]domain.VideoJob
	content   map[string][]byte
	err       error
	created   []video.CreateRequest
	remixed   []string
	lists     []video.ListParams
	deleted   []string
	downloads int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{jobs: map[string]domain.VideoJob{}, content: map[string][]byte{}}
}

func (f *fakeProvider) HasCredentials() bool { return !f.noKey }

func (f *fakeProvider) Create(ctx context.Context, req video.CreateRequest) (domain.VideoJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return domain.VideoJob{}, f.err
	}
	f.created = append(f.created, req)
	return domain.VideoJob{ID: "video_new", Object: "video", Status: domain.JobStatusQueued, Model: req.Model, Size: req.Size, Seconds: req.Seconds, CreatedAt: 1712697600}, nil
}

func (f *fakeProvider) Retrieve(ctx context.Context, id string) (domain.VideoJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return domain.VideoJob{}, f.err
	}
	job, ok := f.jobs[id]
	if !ok {
		return domain.VideoJob{}, &video.APIError{Status: http.StatusNotFound, Message: "Video not found"}
	}
	return job, nil
}

func (f *fakeProvider) Remix(ctx context.Context, id, prompt string) (domain.VideoJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return domain.VideoJob{}, f.err
	}
	f.remixed = append(f.remixed, id+":"+prompt)
	return domain.VideoJob{ID: "video_remix", Object: "video", Status: domain.JobStatusQueued, Model: "sora-2"}, nil
}

func (f *fakeProvider) List(ctx context.Context, params video.ListParams) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists = append(f.lists, params)
	return json.RawMessage(`{"object":"list","data":[],"has_more":false}`), nil
}

func (f *fakeProvider) Delete(ctx context.Context, id string) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.deleted = append(f.deleted, id)
	return json.RawMessage(`{"id":"` + id + `","object":"video.deleted","deleted":true}`), nil
}

func (f *fakeProvider) DownloadContent(ctx context.Context, id string, variant domain.Variant) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.downloads++
	data, ok := f.content[id+"/"+string(variant)]
	if !ok {
		return nil, &video.APIError{Status: http.StatusNotFound, Message: "content not ready"}
	}
	return data, nil
}

type testEnv struct {
	provider *fakeProvider
	dir      string
	handler  http.Handler
}

func newTestEnv(t *testing.T, mode domain.StorageMode, password string) *testEnv {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	provider := newFakeProvider()
	app := &App{
		Logger:      infra.NopLogger(),
		Videos:      provider,
		Cache:       storage.NewArtifactCache(store),
		StorageMode: mode,
		Password:    middleware.NewPasswordGuard(password),
	}
	r := chi.NewRouter()
	r.Post("/videos", app.CreateVideo)
	r.Get("/videos", app.ListVideos)
	r.Get("/videos/{videoID}", app.GetVideo)
	r.Delete("/videos/{videoID}", app.DeleteVideo)
	r.Post("/videos/{videoID}/remix", app.RemixVideo)
	r.Get("/videos/{videoID}/content", app.VideoContent)
	r.Get("/auth-status", app.AuthStatus)
	return &testEnv{provider: provider, dir: dir, handler: r}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return body["error"]
}

func multipartRequest(t *testing.T, target string, fields map[string]string, file []byte) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	if file != nil {
		part, err := mw.CreateFormFile("input_reference", "frame.png")
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		_, _ = part.Write(file)
	}
	_ = mw.Close()
	req := httptest.NewRequest(http.MethodPost, target, body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestCreateVideoAppliesDefaults(t *testing.T) {
	env := newTestEnv(t, domain.StorageModeFS, "")
	rec := env.do(multipartRequest(t, "/videos", map[string]string{"prompt": "a lighthouse at dusk"}, []byte("png")))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if len(env.provider.created) != 1 {
		t.Fatalf("created = %d, want 1", len(env.provider.created))
	}
	got := env.provider.created[0]
	if got.Model != "sora-2" || got.Size != "1280x720" || got.Seconds != "4" {
		t.Fatalf("defaults = %+v", got)
	}
	if got.InputReference == nil || got.InputReference.Filename != "frame.png" {
		t.Fatalf("input reference = %+v", got.InputReference)
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["id"] != "video_new" || resp["status"] != "queued" || resp["object"] != "video" {
		t.Fatalf("response = %v", resp)
	}
	if _, ok := resp["progress"]; !ok {
		t.Fatalf("progress missing from response: %v", resp)
	}
}

func TestCreateVideoAcceptsURLEncodedForm(t *testing.T) {
	env := newTestEnv(t, domain.StorageModeFS, "")
	form := url.Values{"prompt": {"rain"}, "model": {"sora-2-pro"}, "size": {"1792x1024"}, "seconds": {"8"}}
	req := httptest.NewRequest(http.MethodPost, "/videos", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := env.do(req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	got := env.provider.created[0]
	if got.Model != "sora-2-pro" || got.Size != "1792x1024" || got.Seconds != "8" || got.InputReference != nil {
		t.Fatalf("request = %+v", got)
	}
}

func TestCreateVideoValidation(t *testing.T) {
	secretHash := middleware.HashPassword("secret")
	tests := []struct {
		name       string
		password   string
		noKey      bool
		fields     map[string]string
		wantStatus int
		wantError  string
	}{
		{name: "missing prompt", fields: map[string]string{"model": "sora-2"}, wantStatus: http.StatusBadRequest, wantError: "Missing required parameter: prompt"},
		{name: "missing api key", noKey: true, fields: map[string]string{"prompt": "x"}, wantStatus: http.StatusInternalServerError, wantError: "Server configuration error: API key not found."},
		{name: "missing password hash", password: "secret", fields: map[string]string{"prompt": "x"}, wantStatus: http.StatusUnauthorized, wantError: "Unauthorized: Missing password hash."},
		{name: "wrong password hash", password: "secret", fields: map[string]string{"prompt": "x", "passwordHash": "abc"}, wantStatus: http.StatusUnauthorized, wantError: "Unauthorized: Invalid password."},
		{name: "api key checked before password", password: "secret", noKey: true, fields: map[string]string{"prompt": "x"}, wantStatus: http.StatusInternalServerError, wantError: "Server configuration error: API key not found."},
		{name: "auth checked before prompt", password: "secret", fields: map[string]string{}, wantStatus: http.StatusUnauthorized, wantError: "Unauthorized: Missing password hash."},
		{name: "valid hash", password: "secret", fields: map[string]string{"prompt": "x", "passwordHash": secretHash}, wantStatus: http.StatusOK},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t, domain.StorageModeFS, tc.password)
			env.provider.noKey = tc.noKey
			rec := env.do(multipartRequest(t, "/videos", tc.fields, nil))
			if rec.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tc.wantStatus, rec.Body.String())
			}
			if tc.wantError != "" {
				if got := decodeError(t, rec); got != tc.wantError {
					t.Fatalf("error = %q, want %q", got, tc.wantError)
				}
				if len(env.provider.created) != 0 {
					t.Fatalf("upstream called on rejected request")
				}
			}
		})
	}
}

func TestCreateVideoPropagatesUpstreamStatus(t *testing.T) {
	env := newTestEnv(t, domain.StorageModeFS, "")
	env.provider.err = &video.APIError{Status: http.StatusBadRequest, Message: "Your request was blocked by our moderation system."}
	rec := env.do(multipartRequest(t, "/videos", map[string]string{"prompt": "x"}, nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if got := decodeError(t, rec); got != "Your request was blocked by our moderation system." {
		t.Fatalf("error = %q", got)
	}
}

func TestCreateVideoUnknownUpstreamFailure(t *testing.T) {
	env := newTestEnv(t, domain.StorageModeFS, "")
	env.provider.err = errors.New("connection reset")
	rec := env.do(multipartRequest(t, "/videos", map[string]string{"prompt": "x"}, nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}

func TestGetVideoRequiresHeaderHash(t *testing.T) {
	env := newTestEnv(t, domain.StorageModeFS, "secret")
	env.provider.jobs["video_1"] = domain.VideoJob{
		ID: "video_1", Object: "video", Status: domain.JobStatusFailed, Progress: 40,
		Error: &domain.JobError{Message: "policy violation", Code: "moderation_blocked"},
	}

	rec := env.do(httptest.NewRequest(http.MethodGet, "/videos/video_1", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status without hash = %d, want 401", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/videos/video_1", nil)
	req.Header.Set("x-password-hash", middleware.HashPassword("secret"))
	rec = env.do(req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var got domain.VideoJob
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Status != domain.JobStatusFailed || got.Error == nil || got.Error.Message != "policy violation" || got.Progress != 40 {
		t.Fatalf("job = %+v", got)
	}
}

func TestGetVideoNotFound(t *testing.T) {
	env := newTestEnv(t, domain.StorageModeFS, "")
	rec := env.do(httptest.NewRequest(http.MethodGet, "/videos/missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if got := decodeError(t, rec); got != "Video not found" {
		t.Fatalf("error = %q", got)
	}
}

func TestListVideosDefaultsAndValidation(t *testing.T) {
	env := newTestEnv(t, domain.StorageModeFS, "")
	rec := env.do(httptest.NewRequest(http.MethodGet, "/videos", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"object":"list"`) {
		t.Fatalf("body = %s", rec.Body.String())
	}
	if got := env.provider.lists[0]; got.Limit != 20 || got.Order != "desc" || got.After != "" {
		t.Fatalf("params = %+v", got)
	}

	rec = env.do(httptest.NewRequest(http.MethodGet, "/videos?limit=5&after=video_3&order=asc", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := env.provider.lists[1]; got.Limit != 5 || got.Order != "asc" || got.After != "video_3" {
		t.Fatalf("params = %+v", got)
	}

	for _, q := range []string{"limit=abc", "limit=0", "order=sideways"} {
		rec = env.do(httptest.NewRequest(http.MethodGet, "/videos?"+q, nil))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: status = %d, want 400", q, rec.Code)
		}
	}
}

func TestRemixVideo(t *testing.T) {
	env := newTestEnv(t, domain.StorageModeFS, "secret")
	body := `{"prompt":"make it snow","passwordHash":"` + middleware.HashPassword("secret") + `"}`
	rec := env.do(httptest.NewRequest(http.MethodPost, "/videos/video_1/remix", strings.NewReader(body)))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["remix_of"] != "video_1" || resp["id"] != "video_remix" {
		t.Fatalf("response = %v", resp)
	}
	if len(env.provider.remixed) != 1 || env.provider.remixed[0] != "video_1:make it snow" {
		t.Fatalf("remixed = %v", env.provider.remixed)
	}

	rec = env.do(httptest.NewRequest(http.MethodPost, "/videos/video_1/remix", strings.NewReader(`{"passwordHash":"`+middleware.HashPassword("secret")+`"}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing prompt status = %d, want 400", rec.Code)
	}
	rec = env.do(httptest.NewRequest(http.MethodPost, "/videos/video_1/remix", strings.NewReader(`{"prompt":"x"}`)))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing hash status = %d, want 401", rec.Code)
	}
	rec = env.do(httptest.NewRequest(http.MethodPost, "/videos/video_1/remix", strings.NewReader(`not json`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad json status = %d, want 400", rec.Code)
	}
}

func TestVideoContentCachesInFSMode(t *testing.T) {
	env := newTestEnv(t, domain.StorageModeFS, "")
	env.provider.content["video_1/video"] = []byte("mp4-bytes")

	for i := 0; i < 2; i++ {
		rec := env.do(httptest.NewRequest(http.MethodGet, "/videos/video_1/content", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
		}
		if rec.Body.String() != "mp4-bytes" {
			t.Fatalf("body = %q", rec.Body.String())
		}
		h := rec.Header()
		if h.Get("Content-Type") != "video/mp4" {
			t.Fatalf("Content-Type = %q", h.Get("Content-Type"))
		}
		if h.Get("Content-Disposition") != `inline; filename="video_1_video.mp4"` {
			t.Fatalf("Content-Disposition = %q", h.Get("Content-Disposition"))
		}
		if h.Get("Cache-Control") != "public, max-age=31536000, immutable" {
			t.Fatalf("Cache-Control = %q", h.Get("Cache-Control"))
		}
	}
	if env.provider.downloads != 1 {
		t.Fatalf("downloads = %d, want 1 (second request served from cache)", env.provider.downloads)
	}
}

func TestVideoContentBlobModeNeverCaches(t *testing.T) {
	env := newTestEnv(t, domain.StorageModeBlob, "")
	env.provider.content["video_1/thumbnail"] = []byte("webp")

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/videos/video_1/content?variant=thumbnail", nil)
		rec := env.do(req)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		if rec.Header().Get("Content-Type") != "image/webp" {
			t.Fatalf("Content-Type = %q", rec.Header().Get("Content-Type"))
		}
	}
	if env.provider.downloads != 2 {
		t.Fatalf("downloads = %d, want 2", env.provider.downloads)
	}
	entries, _ := filepathGlob(env.dir)
	if len(entries) != 0 {
		t.Fatalf("blob mode wrote cache files: %v", entries)
	}
}

func TestVideoContentRejectsUnknownVariant(t *testing.T) {
	env := newTestEnv(t, domain.StorageModeFS, "")
	rec := env.do(httptest.NewRequest(http.MethodGet, "/videos/video_1/content?variant=poster", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if env.provider.downloads != 0 {
		t.Fatalf("upstream called for invalid variant")
	}
}

func TestDeleteVideoRemovesCacheInFSMode(t *testing.T) {
	env := newTestEnv(t, domain.StorageModeFS, "")
	env.provider.content["video_1/video"] = []byte("mp4")
	env.provider.content["video_1/spritesheet"] = []byte("jpg")
	for _, v := range []string{"video", "spritesheet"} {
		rec := env.do(httptest.NewRequest(http.MethodGet, "/videos/video_1/content?variant="+v, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("prime %s: status = %d", v, rec.Code)
		}
	}
	if entries, _ := filepathGlob(env.dir); len(entries) != 2 {
		t.Fatalf("cache entries = %v, want 2", entries)
	}

	rec := env.do(httptest.NewRequest(http.MethodDelete, "/videos/video_1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"deleted":true`) {
		t.Fatalf("body = %s", rec.Body.String())
	}
	if entries, _ := filepathGlob(env.dir); len(entries) != 0 {
		t.Fatalf("cache entries after delete = %v", entries)
	}
}

func TestDeleteVideoUpstreamFailureKeepsCache(t *testing.T) {
	env := newTestEnv(t, domain.StorageModeFS, "")
	env.provider.content["video_1/video"] = []byte("mp4")
	env.do(httptest.NewRequest(http.MethodGet, "/videos/video_1/content", nil))

	env.provider.err = &video.APIError{Status: http.StatusNotFound, Message: "Video not found"}
	rec := env.do(httptest.NewRequest(http.MethodDelete, "/videos/video_1", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if entries, _ := filepathGlob(env.dir); len(entries) != 1 {
		t.Fatalf("cache entries = %v, want 1", entries)
	}
}

func TestAuthStatus(t *testing.T) {
	for _, tc := range []struct {
		password string
		want     bool
	}{{"", false}, {"secret", true}} {
		env := newTestEnv(t, domain.StorageModeFS, tc.password)
		rec := env.do(httptest.NewRequest(http.MethodGet, "/auth-status", nil))
		var body map[string]bool
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body["passwordRequired"] != tc.want {
			t.Fatalf("passwordRequired = %v, want %v", body["passwordRequired"], tc.want)
		}
	}
}

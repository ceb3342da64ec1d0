package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"videogateway/internal/domain"
	"videogateway/internal/middleware"
	"videogateway/internal/obs"
	"videogateway/internal/providers/video"
)

const (
	defaultModel   = "sora-2"
	defaultSize    = "1280x720"
	defaultSeconds = "4"
	defaultLimit   = 20

	maxFormMemory = 32 << 20
)

type videoResponse struct {
	ID        string           `json:"id"`
	Object    string           `json:"object,omitempty"`
	Status    domain.JobStatus `json:"status"`
	Progress  int              `json:"progress"`
	Model     string           `json:"model,omitempty"`
	Size      string           `json:"size,omitempty"`
	Seconds   string           `json:"seconds,omitempty"`
	CreatedAt int64            `json:"created_at,omitempty"`
	Error     *domain.JobError `json:"error,omitempty"`
	RemixOf   string           `json:"remix_of,omitempty"`
}

func newVideoResponse(v domain.VideoJob) videoResponse {
	return videoResponse{
		ID:        v.ID,
		Object:    v.Object,
		Status:    v.Status,
		Progress:  v.Progress,
		Model:     v.Model,
		Size:      v.Size,
		Seconds:   v.Seconds,
		CreatedAt: v.CreatedAt,
		Error:     v.Error,
	}
}

type remixRequest struct {
	Prompt       string `json:"prompt"`
	PasswordHash string `json:"passwordHash"`
}

// CreateVideo handles POST /videos with a multipart or urlencoded form.
func (a *App) CreateVideo(w http.ResponseWriter, r *http.Request) {
	if a.Videos == nil || !a.Videos.HasCredentials() {
		a.authorize(w, "")
		return
	}
	if err := parseForm(r); err != nil {
		a.Logger.Warn().Err(err).Msg("create: invalid form")
		a.error(w, http.StatusBadRequest, "Invalid form payload.")
		return
	}
	if !a.authorize(w, r.FormValue("passwordHash")) {
		return
	}

	req := video.CreateRequest{
		Model:   formValueOr(r, "model", defaultModel),
		Prompt:  r.FormValue("prompt"),
		Size:    formValueOr(r, "size", defaultSize),
		Seconds: formValueOr(r, "seconds", defaultSeconds),
	}
	if strings.TrimSpace(req.Prompt) == "" {
		a.error(w, http.StatusBadRequest, msgMissingPrompt)
		return
	}
	ref, err := inputReference(r)
	if err != nil {
		a.Logger.Warn().Err(err).Msg("create: unreadable input_reference")
		a.error(w, http.StatusBadRequest, "Invalid input_reference file.")
		return
	}
	req.InputReference = ref

	a.Logger.Info().
		Str("model", req.Model).
		Str("size", req.Size).
		Str("seconds", req.Seconds).
		Bool("input_reference", ref != nil).
		Msg("create: submitting video job")

	job, err := a.Videos.Create(r.Context(), req)
	if err != nil {
		a.upstreamError(w, err, "create: upstream call failed")
		return
	}
	a.Logger.Info().Str("job_id", job.ID).Str("status", string(job.Status)).Msg("create: video job created")
	resp := newVideoResponse(job)
	resp.Error = nil
	a.json(w, http.StatusOK, resp)
}

// ListVideos handles GET /videos and returns the upstream payload verbatim.
func (a *App) ListVideos(w http.ResponseWriter, r *http.Request) {
	if !a.authorize(w, r.Header.Get(middleware.PasswordHashHeader)) {
		return
	}
	q := r.URL.Query()
	params := video.ListParams{Limit: defaultLimit, After: q.Get("after"), Order: "desc"}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			a.error(w, http.StatusBadRequest, "Invalid parameter: limit")
			return
		}
		params.Limit = n
	}
	switch order := q.Get("order"); order {
	case "":
	case "asc", "desc":
		params.Order = order
	default:
		a.error(w, http.StatusBadRequest, "Invalid parameter: order")
		return
	}

	payload, err := a.Videos.List(r.Context(), params)
	if err != nil {
		a.upstreamError(w, err, "list: upstream call failed")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

// GetVideo handles GET /videos/{videoID}.
func (a *App) GetVideo(w http.ResponseWriter, r *http.Request) {
	if !a.authorize(w, r.Header.Get(middleware.PasswordHashHeader)) {
		return
	}
	id := chi.URLParam(r, "videoID")
	job, err := a.Videos.Retrieve(r.Context(), id)
	if err != nil {
		a.upstreamError(w, err, "retrieve: upstream call failed")
		return
	}
	a.Logger.Debug().Str("job_id", id).Str("status", string(job.Status)).Int("progress", job.Progress).Msg("retrieve: status")
	a.json(w, http.StatusOK, newVideoResponse(job))
}

// DeleteVideo handles DELETE /videos/{videoID}. In fs mode the cached
// artifacts are removed as well; missing files are ignored.
func (a *App) DeleteVideo(w http.ResponseWriter, r *http.Request) {
	if !a.authorize(w, r.Header.Get(middleware.PasswordHashHeader)) {
		return
	}
	id := chi.URLParam(r, "videoID")
	payload, err := a.Videos.Delete(r.Context(), id)
	if err != nil {
		a.upstreamError(w, err, "delete: upstream call failed")
		return
	}
	a.Logger.Info().Str("job_id", id).Msg("delete: removed upstream")

	if a.StorageMode == domain.StorageModeFS && a.Cache != nil {
		if err := a.Cache.Remove(r.Context(), id); err != nil {
			a.Logger.Error().Err(err).Str("job_id", id).Msg("delete: failed to remove cached artifacts")
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

// RemixVideo handles POST /videos/{videoID}/remix with a JSON body.
func (a *App) RemixVideo(w http.ResponseWriter, r *http.Request) {
	if a.Videos == nil || !a.Videos.HasCredentials() {
		a.authorize(w, "")
		return
	}
	var req remixRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "Invalid JSON payload.")
		return
	}
	if !a.authorize(w, req.PasswordHash) {
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		a.error(w, http.StatusBadRequest, msgMissingPrompt)
		return
	}

	id := chi.URLParam(r, "videoID")
	a.Logger.Info().Str("remix_of", id).Str("prompt", truncate(req.Prompt, 50)).Msg("remix: submitting video job")
	job, err := a.Videos.Remix(r.Context(), id, req.Prompt)
	if err != nil {
		a.upstreamError(w, err, "remix: upstream call failed")
		return
	}
	a.Logger.Info().Str("job_id", job.ID).Str("remix_of", id).Msg("remix: video job created")
	resp := newVideoResponse(job)
	resp.Error = nil
	resp.RemixOf = id
	a.json(w, http.StatusOK, resp)
}

// VideoContent handles GET /videos/{videoID}/content?variant=.
func (a *App) VideoContent(w http.ResponseWriter, r *http.Request) {
	if !a.authorize(w, r.Header.Get(middleware.PasswordHashHeader)) {
		return
	}
	id := chi.URLParam(r, "videoID")
	variant, err := domain.ParseVariant(r.URL.Query().Get("variant"))
	if err != nil {
		a.error(w, http.StatusBadRequest, "Invalid parameter: variant")
		return
	}
	log := a.Logger.With().Str("job_id", id).Str("variant", string(variant)).Logger()

	var data []byte
	if a.StorageMode == domain.StorageModeFS && a.Cache != nil {
		cached, hit, err := a.Cache.Get(r.Context(), id, variant)
		if err != nil {
			log.Error().Err(err).Msg("content: cache read failed")
			a.error(w, http.StatusInternalServerError, "Failed to access video output directory.")
			return
		}
		obs.RecordCacheLookup(string(variant), hit)
		if hit {
			log.Debug().Msg("content: serving from cache")
			data = cached
		}
	}
	if data == nil {
		data, err = a.Videos.DownloadContent(r.Context(), id, variant)
		if err != nil {
			a.upstreamError(w, err, "content: upstream download failed")
			return
		}
		if a.StorageMode == domain.StorageModeFS && a.Cache != nil {
			if err := a.Cache.Put(r.Context(), id, variant, data); err != nil {
				log.Error().Err(err).Msg("content: cache write failed")
			} else {
				log.Info().Int("bytes", len(data)).Msg("content: cached artifact")
			}
		}
	}

	h := w.Header()
	h.Set("Content-Type", variant.ContentType())
	h.Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", domain.ArtifactFilename(id, variant)))
	h.Set("Cache-Control", "public, max-age=31536000, immutable")
	h.Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func parseForm(r *http.Request) error {
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "multipart/form-data" {
		return r.ParseMultipartForm(maxFormMemory)
	}
	return r.ParseForm()
}

func formValueOr(r *http.Request, key, fallback string) string {
	if v := strings.TrimSpace(r.FormValue(key)); v != "" {
		return v
	}
	return fallback
}

func inputReference(r *http.Request) (*video.Reference, error) {
	file, header, err := r.FormFile("input_reference")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
			return nil, nil
		}
		return nil, err
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	return &video.Reference{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"videogateway/internal/domain"
	"videogateway/internal/infra"
	"videogateway/internal/middleware"
	"videogateway/internal/providers/video"
)

// VideoProvider is the upstream surface the gateway forwards to.
type VideoProvider interface {
	HasCredentials() bool
	Create(ctx context.Context, req video.CreateRequest) (domain.VideoJob, error)
	Retrieve(ctx context.Context, id string) (domain.VideoJob, error)
	Remix(ctx context.Context, id, prompt string) (domain.VideoJob, error)
	List(ctx context.Context, params video.ListParams) (json.RawMessage, error)
	Delete(ctx context.Context, id string) (json.RawMessage, error)
	DownloadContent(ctx context.Context, id string, variant domain.Variant) ([]byte, error)
}

// ArtifactStore caches job artifacts by id and variant.
type ArtifactStore interface {
	Get(ctx context.Context, id string, v domain.Variant) ([]byte, bool, error)
	Put(ctx context.Context, id string, v domain.Variant, data []byte) error
	Remove(ctx context.Context, id string) error
}

// App holds the dependencies shared by the gateway handlers.
type App struct {
	Logger      infra.Logger
	Videos      VideoProvider
	Cache       ArtifactStore
	StorageMode domain.StorageMode
	Password    *middleware.PasswordGuard
}

const (
	msgMissingAPIKey = "Server configuration error: API key not found."
	msgMissingPrompt = "Missing required parameter: prompt"
	msgMissingHash   = "Unauthorized: Missing password hash."
	msgBadPassword   = "Unauthorized: Invalid password."
	msgUnexpected    = "An unexpected error occurred."
)

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, message string) {
	a.json(w, code, map[string]string{"error": message})
}

// authorize runs the checks every /videos route shares, in order: upstream key
// configured, then password digest. It writes the failure response itself.
func (a *App) authorize(w http.ResponseWriter, supplied string) bool {
	if a.Videos == nil || !a.Videos.HasCredentials() {
		a.Logger.Error().Msg("upstream api key is not set")
		a.error(w, http.StatusInternalServerError, msgMissingAPIKey)
		return false
	}
	if err := a.Password.Check(supplied); err != nil {
		a.Logger.Warn().Err(err).Msg("password check failed")
		a.error(w, http.StatusUnauthorized, passwordMessage(err))
		return false
	}
	return true
}

func passwordMessage(err error) string {
	if errors.Is(err, middleware.ErrMissingPasswordHash) {
		return msgMissingHash
	}
	return msgBadPassword
}

// upstreamError renders a provider failure with its status when it has one.
func (a *App) upstreamError(w http.ResponseWriter, err error, msg string) {
	a.Logger.Error().Err(err).Msg(msg)
	var apiErr *video.APIError
	switch {
	case errors.As(err, &apiErr):
		status := apiErr.Status
		if status < 400 || status > 599 {
			status = http.StatusInternalServerError
		}
		a.error(w, status, apiErr.Message)
	case errors.Is(err, domain.ErrMissingAPIKey):
		a.error(w, http.StatusInternalServerError, msgMissingAPIKey)
	case errors.Is(err, domain.ErrInvalidPrompt):
		a.error(w, http.StatusBadRequest, msgMissingPrompt)
	case errors.Is(err, context.DeadlineExceeded):
		a.error(w, http.StatusGatewayTimeout, "Upstream request timed out.")
	default:
		a.error(w, http.StatusInternalServerError, msgUnexpected)
	}
}

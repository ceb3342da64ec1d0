// Package apiclient talks to the gateway routes on behalf of the studio.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"sync"
	"time"

	"videogateway/internal/domain"
	"videogateway/internal/infra"
	"videogateway/internal/middleware"
)

// ErrUnauthorized is returned for 401 responses so callers can re-prompt for
// the password.
var ErrUnauthorized = fmt.Errorf("apiclient: %w", domain.ErrUnauthorized)

// StatusError is a non-2xx gateway response.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gateway: %s (status %d)", e.Message, e.Status)
}

func (e *StatusError) Unwrap() error {
	switch e.Status {
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusNotFound:
		return domain.ErrNotFound
	}
	return nil
}

// Options configures the gateway client.
type Options struct {
	BaseURL        string
	PasswordHash   string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

// Client calls the gateway's /videos routes.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *infra.Logger

	mu           sync.RWMutex
	passwordHash string
}

// InputReference is an optional first-frame image sent with a create call.
type InputReference struct {
	Filename    string
	ContentType string
	Data        []byte
}

// CreateParams are the form fields of a create call.
type CreateParams struct {
	Model          string
	Prompt         string
	Size           string
	Seconds        string
	InputReference *InputReference
}

type errorBody struct {
	Error string `json:"error"`
}

func NewClient(opts Options) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("apiclient: base url is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("apiclient: invalid base url: %w", err)
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := opts.Logger
	if logger == nil {
		l := infra.NopLogger()
		logger = &l
	}
	return &Client{
		baseURL:      baseURL,
		httpClient:   httpClient,
		logger:       logger,
		passwordHash: strings.TrimSpace(opts.PasswordHash),
	}, nil
}

// SetPasswordHash replaces the digest sent with every request.
func (c *Client) SetPasswordHash(hash string) {
	c.mu.Lock()
	c.passwordHash = strings.TrimSpace(hash)
	c.mu.Unlock()
}

// HasPasswordHash reports whether a digest is set.
func (c *Client) HasPasswordHash() bool {
	return c.hash() != ""
}

func (c *Client) hash() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.passwordHash
}

// PasswordRequired asks the gateway whether a password is configured.
func (c *Client) PasswordRequired(ctx context.Context) (bool, error) {
	var out struct {
		PasswordRequired bool `json:"passwordRequired"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/auth-status", "", nil, &out); err != nil {
		return false, err
	}
	return out.PasswordRequired, nil
}

// Create submits a generation job.
func (c *Client) Create(ctx context.Context, p CreateParams) (domain.VideoJob, error) {
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	fields := [][2]string{
		{"model", p.Model},
		{"prompt", p.Prompt},
		{"size", p.Size},
		{"seconds", p.Seconds},
		{"passwordHash", c.hash()},
	}
	for _, f := range fields {
		if f[1] == "" {
			continue
		}
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return domain.VideoJob{}, fmt.Errorf("apiclient: encode form: %w", err)
		}
	}
	if ref := p.InputReference; ref != nil && len(ref.Data) > 0 {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="input_reference"; filename=%q`, ref.Filename))
		ct := ref.ContentType
		if ct == "" {
			ct = http.DetectContentType(ref.Data)
		}
		h.Set("Content-Type", ct)
		part, err := mw.CreatePart(h)
		if err != nil {
			return domain.VideoJob{}, fmt.Errorf("apiclient: encode reference: %w", err)
		}
		if _, err := part.Write(ref.Data); err != nil {
			return domain.VideoJob{}, fmt.Errorf("apiclient: encode reference: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return domain.VideoJob{}, fmt.Errorf("apiclient: encode form: %w", err)
	}
	var job domain.VideoJob
	if err := c.doJSON(ctx, http.MethodPost, "/videos", mw.FormDataContentType(), body, &job); err != nil {
		return domain.VideoJob{}, err
	}
	return job, nil
}

// Remix starts a job derived from sourceID.
func (c *Client) Remix(ctx context.Context, sourceID, prompt string) (domain.VideoJob, error) {
	payload, err := json.Marshal(map[string]string{"prompt": prompt, "passwordHash": c.hash()})
	if err != nil {
		return domain.VideoJob{}, fmt.Errorf("apiclient: encode request: %w", err)
	}
	var job domain.VideoJob
	path := "/videos/" + url.PathEscape(sourceID) + "/remix"
	if err := c.doJSON(ctx, http.MethodPost, path, "application/json", bytes.NewReader(payload), &job); err != nil {
		return domain.VideoJob{}, err
	}
	return job, nil
}

// Status fetches the current state of a job.
func (c *Client) Status(ctx context.Context, id string) (domain.VideoJob, error) {
	var job domain.VideoJob
	if err := c.doJSON(ctx, http.MethodGet, "/videos/"+url.PathEscape(id), "", nil, &job); err != nil {
		return domain.VideoJob{}, err
	}
	return job, nil
}

// Delete removes a job upstream and from the gateway cache.
func (c *Client) Delete(ctx context.Context, id string) error {
	var ignored json.RawMessage
	return c.doJSON(ctx, http.MethodDelete, "/videos/"+url.PathEscape(id), "", nil, &ignored)
}

// Content downloads one artifact of a completed job.
func (c *Client) Content(ctx context.Context, id string, variant domain.Variant) ([]byte, error) {
	path := "/videos/" + url.PathEscape(id) + "/content?variant=" + url.QueryEscape(string(variant))
	resp, err := c.do(ctx, http.MethodGet, path, "", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("apiclient: read content: %w", err)
	}
	return data, nil
}

func (c *Client) doJSON(ctx context.Context, method, path, contentType string, body io.Reader, out any) error {
	resp, err := c.do(ctx, method, path, contentType, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("apiclient: decode response: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("apiclient: build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if hash := c.hash(); hash != "" {
		req.Header.Set(middleware.PasswordHashHeader, hash)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("apiclient: %s %s: %w", method, path, err)
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		msg := strings.TrimSpace(string(raw))
		var eb errorBody
		if json.Unmarshal(raw, &eb) == nil && eb.Error != "" {
			msg = eb.Error
		}
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		c.logger.Debug().Str("method", method).Str("path", path).Int("status", resp.StatusCode).Msg("apiclient: request failed")
		return nil, &StatusError{Status: resp.StatusCode, Message: msg}
	}
	return resp, nil
}

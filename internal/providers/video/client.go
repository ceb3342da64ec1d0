package video

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
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"videogateway/internal/domain"
	"videogateway/internal/infra"
	"videogateway/internal/obs"
)

// Options configures the upstream videos API client.
type Options struct {
	APIKey         string
	BaseURL        string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

// Client performs HTTP calls to an OpenAI-compatible videos API.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *infra.Logger
}

// Reference is an optional image that seeds the first frame of a video.
type Reference struct {
	Filename    string
	ContentType string
	Data        []byte
}

// CreateRequest captures the inputs of a create call.
type CreateRequest struct {
	Model          string
	Prompt         string
	Size           string
	Seconds        string
	InputReference *Reference
}

// ListParams pages through previously created videos.
type ListParams struct {
	Limit int
	After string
	Order string
}

// APIError is a non-2xx response from the provider.
type APIError struct {
	Status  int
	Message string
	Code    string
	Type    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("video: %s (%s)", e.Message, e.Code)
	}
	return "video: " + e.Message
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}

type remixRequest struct {
	Prompt string `json:"prompt"`
}

// NewClient constructs a client with defaults for any unset option.
func NewClient(opts Options) (*Client, error) {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 120 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("video: invalid base url: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		l := infra.NopLogger()
		logger = &l
	}
	return &Client{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// HasCredentials reports whether the client can perform remote calls.
func (c *Client) HasCredentials() bool {
	return c != nil && c.apiKey != ""
}

// Create submits a new generation job.
func (c *Client) Create(ctx context.Context, req CreateRequest) (domain.VideoJob, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return domain.VideoJob{}, domain.ErrInvalidPrompt
	}
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	fields := [][2]string{
		{"model", req.Model},
		{"prompt", req.Prompt},
		{"size", req.Size},
		{"seconds", req.Seconds},
	}
	for _, f := range fields {
		if f[1] == "" {
			continue
		}
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return domain.VideoJob{}, fmt.Errorf("video: encode form: %w", err)
		}
	}
	if ref := req.InputReference; ref != nil && len(ref.Data) > 0 {
		if err := writeFilePart(mw, "input_reference", ref); err != nil {
			return domain.VideoJob{}, err
		}
	}
	if err := mw.Close(); err != nil {
		return domain.VideoJob{}, fmt.Errorf("video: encode form: %w", err)
	}

	var job domain.VideoJob
	err := c.doJSON(ctx, "create", http.MethodPost, "/videos", mw.FormDataContentType(), body, &job)
	if err != nil {
		return domain.VideoJob{}, err
	}
	c.logger.Debug().Str("job_id", job.ID).Str("status", string(job.Status)).Msg("video: job created")
	return job, nil
}

// Retrieve fetches the current status of a job.
func (c *Client) Retrieve(ctx context.Context, id string) (domain.VideoJob, error) {
	var job domain.VideoJob
	if err := c.doJSON(ctx, "retrieve", http.MethodGet, "/videos/"+url.PathEscape(id), "", nil, &job); err != nil {
		return domain.VideoJob{}, err
	}
	return job, nil
}

// Remix starts a new job derived from a completed one.
func (c *Client) Remix(ctx context.Context, id, prompt string) (domain.VideoJob, error) {
	if strings.TrimSpace(prompt) == "" {
		return domain.VideoJob{}, domain.ErrInvalidPrompt
	}
	payload, err := json.Marshal(remixRequest{Prompt: prompt})
	if err != nil {
		return domain.VideoJob{}, fmt.Errorf("video: encode request: %w", err)
	}
	var job domain.VideoJob
	path := "/videos/" + url.PathEscape(id) + "/remix"
	if err := c.doJSON(ctx, "remix", http.MethodPost, path, "application/json", bytes.NewReader(payload), &job); err != nil {
		return domain.VideoJob{}, err
	}
	return job, nil
}

// List returns the provider's list payload untouched.
func (c *Client) List(ctx context.Context, params ListParams) (json.RawMessage, error) {
	q := url.Values{}
	if params.Limit > 0 {
		q.Set("limit", strconv.Itoa(params.Limit))
	}
	if params.After != "" {
		q.Set("after", params.After)
	}
	if params.Order != "" {
		q.Set("order", params.Order)
	}
	path := "/videos"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var raw json.RawMessage
	if err := c.doJSON(ctx, "list", http.MethodGet, path, "", nil, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// Delete removes a job upstream and returns the provider's payload.
func (c *Client) Delete(ctx context.Context, id string) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.doJSON(ctx, "delete", http.MethodDelete, "/videos/"+url.PathEscape(id), "", nil, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// DownloadContent fetches the binary artifact of a completed job.
func (c *Client) DownloadContent(ctx context.Context, id string, variant domain.Variant) ([]byte, error) {
	path := "/videos/" + url.PathEscape(id) + "/content?variant=" + url.QueryEscape(string(variant))
	resp, err := c.do(ctx, "content", http.MethodGet, path, "", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("video: read content: %w", err)
	}
	c.logger.Debug().Str("job_id", id).Str("variant", string(variant)).Int("bytes", len(data)).Msg("video: downloaded content")
	return data, nil
}

func (c *Client) doJSON(ctx context.Context, op, method, path, contentType string, body io.Reader, out any) error {
	resp, err := c.do(ctx, op, method, path, contentType, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("video: read response: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("video: decode response: %w", err)
	}
	return nil
}

// do sends the request and returns the response only for 2xx statuses; the
// caller owns the body.
func (c *Client) do(ctx context.Context, op, method, path, contentType string, body io.Reader) (resp *http.Response, err error) {
	ctx, span := obs.Tracer("videogateway/providers/video").Start(ctx, "video."+op)
	defer func() {
		obs.RecordUpstream(op, err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if !c.HasCredentials() {
		return nil, domain.ErrMissingAPIKey
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("video: build request: %w", err)
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err = c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("video: http request: %w", err)
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return nil, decodeAPIError(resp.StatusCode, raw)
	}
	return resp, nil
}

func decodeAPIError(status int, raw []byte) *APIError {
	apiErr := &APIError{Status: status}
	var detail errorResponse
	if err := json.Unmarshal(raw, &detail); err == nil && detail.Error.Message != "" {
		apiErr.Message = detail.Error.Message
		apiErr.Type = detail.Error.Type
		if detail.Error.Code != nil {
			apiErr.Code = fmt.Sprint(detail.Error.Code)
		}
		return apiErr
	}
	msg := strings.TrimSpace(string(raw))
	if msg == "" {
		msg = http.StatusText(status)
	}
	apiErr.Message = fmt.Sprintf("status %d: %s", status, msg)
	return apiErr
}

func writeFilePart(mw *multipart.Writer, field string, ref *Reference) error {
	filename := strings.TrimSpace(ref.Filename)
	if filename == "" {
		filename = "reference"
	}
	contentType := strings.TrimSpace(ref.ContentType)
	if contentType == "" {
		contentType = http.DetectContentType(ref.Data)
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, filename))
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return fmt.Errorf("video: encode reference: %w", err)
	}
	if _, err := part.Write(ref.Data); err != nil {
		return fmt.Errorf("video: encode reference: %w", err)
	}
	return nil
}

// StatusOf extracts the HTTP status carried by an upstream error, or 0.
func StatusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

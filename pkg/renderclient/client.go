// Package renderclient is the HTTP client of the render API, including the
// status polling contract used by dashboards and automation.
package renderclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Error codes surfaced by the client
const (
	CodeQuotaExceeded = "QUOTA_EXCEEDED"
	CodeNotFound      = "NOT_FOUND"
)

// HeaderClientID identifies the caller for per-client rate limits
const HeaderClientID = "X-Client-ID"

// ErrNotFound is returned when the job is unknown to the server.
var ErrNotFound = errors.New("renderclient: " + CodeNotFound)

// QuotaError is returned on HTTP 429. RetryAfter is zero when the server gave
// no hint.
type QuotaError struct {
	Code       string
	Message    string
	RetryAfter time.Duration
}

func (e *QuotaError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("renderclient: %s (retry after %s)", e.Code, e.RetryAfter)
	}
	return "renderclient: " + e.Code
}

// APIError is any other non-2xx response
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("renderclient: %s (status %d): %s", e.Code, e.StatusCode, e.Message)
}

type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Client talks to the render API
type Client struct {
	httpClient *http.Client
	baseURL    string
	clientID   string
}

type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithClientID sets the X-Client-ID header on every request.
func WithClientID(id string) Option {
	return func(c *Client) { c.clientID = id }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit queues a render job and returns its id
func (c *Client) Submit(ctx context.Context, plan Plan) (string, error) {
	var out struct {
		JobID string `json:"job_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/jobs", plan, &out); err != nil {
		return "", err
	}
	return out.JobID, nil
}

// GetStatus returns the current job snapshot
func (c *Client) GetStatus(ctx context.Context, jobID string) (*Status, error) {
	var st Status
	if err := c.do(ctx, http.MethodGet, "/api/jobs/"+url.PathEscape(jobID), nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Cancel requests cancellation; finished jobs are left untouched
func (c *Client) Cancel(ctx context.Context, jobID string) error {
	return c.do(ctx, http.MethodPost, "/api/jobs/"+url.PathEscape(jobID)+"/cancel", nil, nil)
}

// Activity returns the newest limit events of a job, oldest first. limit <= 0
// uses the server default.
func (c *Client) Activity(ctx context.Context, jobID string, limit int) ([]Event, error) {
	path := "/api/jobs/" + url.PathEscape(jobID) + "/activity"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out struct {
		Events []Event `json:"events"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Events, nil
}

// PreviewTTS synthesizes a narration sample
func (c *Client) PreviewTTS(ctx context.Context, req PreviewRequest) (*Preview, error) {
	var out Preview
	if err := c.do(ctx, http.MethodPost, "/api/tts/preview", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.clientID != "" {
		req.Header.Set(HeaderClientID, c.clientID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp, respBody)
	}
	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response, body []byte) error {
	var env errorEnvelope
	_ = json.Unmarshal(body, &env)

	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		return &QuotaError{
			Code:       CodeQuotaExceeded,
			Message:    env.Error.Message,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
		}
	case http.StatusNotFound:
		if env.Error.Message != "" {
			return fmt.Errorf("%w: %s", ErrNotFound, env.Error.Message)
		}
		return ErrNotFound
	}

	code := env.Error.Code
	if code == "" {
		code = http.StatusText(resp.StatusCode)
	}
	msg := env.Error.Message
	if msg == "" {
		msg = strings.TrimSpace(string(body))
		if len(msg) > 512 {
			msg = msg[:512]
		}
	}
	return &APIError{StatusCode: resp.StatusCode, Code: code, Message: msg}
}

// parseRetryAfter accepts delay-seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

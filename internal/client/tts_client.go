package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/narrately/api/internal/config"
)

// StatusError is returned when a service answers with a non-2xx status
type StatusError struct {
	Service    string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s service error (status %d): %s", e.Service, e.StatusCode, e.Body)
}

// Retryable reports whether the status may succeed on a later attempt.
func (e *StatusError) Retryable() bool {
	switch {
	case e.StatusCode == http.StatusRequestTimeout, e.StatusCode == http.StatusTooManyRequests:
		return true
	case e.StatusCode >= 400 && e.StatusCode < 500:
		return false
	}
	return true
}

// SpeechSynthesizer defines the interface for the neural TTS service
type SpeechSynthesizer interface {
	Synthesize(ctx context.Context, req *SynthesizeRequest) (*SynthesizeResponse, error)
	HealthCheck(ctx context.Context) error
}

// TTSClient implements SpeechSynthesizer over the TTS service HTTP API
type TTSClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// SynthesizeRequest represents the request for speech synthesis
type SynthesizeRequest struct {
	Text       string  `json:"text"`
	Lang       string  `json:"lang"`
	VoiceID    string  `json:"voice_id"`
	Pace       float64 `json:"pace"`
	SampleRate int     `json:"sample_rate,omitempty"`
	Format     string  `json:"format"`
}

// SynthesizeResponse represents the synthesized audio; Audio is base64 on the wire
type SynthesizeResponse struct {
	Audio       []byte  `json:"audio"`
	DurationSec float64 `json:"duration_sec"`
	SampleRate  int     `json:"sample_rate"`
}

// NewTTSClient creates a new TTS service client. Per-attempt deadlines are
// applied by the caller through ctx.
func NewTTSClient(cfg *config.TTSConfig) *TTSClient {
	return &TTSClient{
		httpClient: &http.Client{},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
	}
}

// Synthesize converts text to WAV audio
func (c *TTSClient) Synthesize(ctx context.Context, req *SynthesizeRequest) (*SynthesizeResponse, error) {
	if req.Format == "" {
		req.Format = "wav"
	}
	bodyBytes, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/synthesize", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Service: "tts", StatusCode: resp.StatusCode, Body: truncate(string(respBody), 512)}
	}

	var result SynthesizeResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if len(result.Audio) == 0 {
		return nil, fmt.Errorf("tts service returned empty audio")
	}

	return &result, nil
}

// HealthCheck checks if the TTS service is available
func (c *TTSClient) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("tts service unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// IsConfigured returns true if the client has valid configuration
func (c *TTSClient) IsConfigured() bool {
	return c.baseURL != ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

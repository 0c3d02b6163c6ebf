package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/narrately/api/internal/config"
)

// ImageGenerator defines the interface for the external image service
type ImageGenerator interface {
	Generate(ctx context.Context, req *ImageRequest) (*ImageResponse, error)
}

// ImageClient implements ImageGenerator over HTTP
type ImageClient struct {
	httpClient *http.Client
	baseURL    string
}

// ImageRequest represents one scene image generation request
type ImageRequest struct {
	Prompt    string `json:"prompt"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	OutputKey string `json:"output_key"`
}

// ImageResponse represents the generated image location
type ImageResponse struct {
	ImageURL string `json:"image_url"`
}

// NewImageClient creates a new image service client
func NewImageClient(cfg *config.ServiceConfig) *ImageClient {
	return &ImageClient{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    strings.TrimRight(cfg.ServiceURL, "/"),
	}
}

// Generate requests an image for a prompt
func (c *ImageClient) Generate(ctx context.Context, req *ImageRequest) (*ImageResponse, error) {
	var result ImageResponse
	if err := postJSON(ctx, c.httpClient, "image", c.baseURL+"/generate", req, &result); err != nil {
		return nil, err
	}
	if result.ImageURL == "" {
		return nil, fmt.Errorf("image service returned no url")
	}
	return &result, nil
}

// IsConfigured returns true if the client has valid configuration
func (c *ImageClient) IsConfigured() bool {
	return c.baseURL != ""
}

// postJSON sends a POST request with JSON body and parses the response
func postJSON(ctx context.Context, hc *http.Client, service, url string, body, result any) error {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Service: service, StatusCode: resp.StatusCode, Body: truncate(string(respBody), 512)}
	}

	if result == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}

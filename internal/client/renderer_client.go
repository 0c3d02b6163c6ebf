package client

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/narrately/api/internal/config"
)

// VideoRenderer defines the interface for the external stitch renderer
type VideoRenderer interface {
	Render(ctx context.Context, req *RenderRequest) (*RenderResponse, error)
}

// RendererClient implements VideoRenderer over HTTP
type RendererClient struct {
	httpClient *http.Client
	baseURL    string
}

// TimelineClip is one scene on the render timeline
type TimelineClip struct {
	Index       int     `json:"index"`
	ImageURL    string  `json:"image_url,omitempty"`
	AudioURL    string  `json:"audio_url,omitempty"`
	StartSec    float64 `json:"start_sec"`
	DurationSec float64 `json:"duration_sec"`
}

// RenderRequest represents the full stitch timeline
type RenderRequest struct {
	JobID       string         `json:"job_id"`
	Clips       []TimelineClip `json:"clips"`
	SubtitleURL string         `json:"subtitle_url,omitempty"`
	OutputKey   string         `json:"output_key"`
}

// RenderResponse represents the stitched video
type RenderResponse struct {
	VideoURL    string  `json:"video_url"`
	DurationSec float64 `json:"duration_sec"`
}

// NewRendererClient creates a new renderer client
func NewRendererClient(cfg *config.ServiceConfig) *RendererClient {
	return &RendererClient{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    strings.TrimRight(cfg.ServiceURL, "/"),
	}
}

// Render submits the timeline and waits for the stitched video
func (c *RendererClient) Render(ctx context.Context, req *RenderRequest) (*RenderResponse, error) {
	var result RenderResponse
	if err := postJSON(ctx, c.httpClient, "renderer", c.baseURL+"/render", req, &result); err != nil {
		return nil, err
	}
	if result.VideoURL == "" {
		return nil, fmt.Errorf("renderer returned no video url")
	}
	return &result, nil
}

// IsConfigured returns true if the client has valid configuration
func (c *RendererClient) IsConfigured() bool {
	return c.baseURL != ""
}

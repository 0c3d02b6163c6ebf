package stage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/narrately/api/internal/client"
	"github.com/narrately/api/internal/model"
)

// Publisher pushes a finished render to an external destination.
type Publisher interface {
	Upload(ctx context.Context, name string, body io.Reader, contentType string) (*client.PublishedFile, error)
}

// PublishStage uploads the rendered video, or the narration track when only a
// local timeline was produced.
type PublishStage struct {
	publisher Publisher
	storage   client.StorageClient
}

// NewPublishStage creates the stage. A nil publisher makes the stage a no-op.
func NewPublishStage(publisher Publisher, storage client.StorageClient) *PublishStage {
	return &PublishStage{publisher: publisher, storage: storage}
}

func (s *PublishStage) Stage() model.Stage           { return model.StagePublish }
func (s *PublishStage) Artifact() model.ArtifactKind { return model.ArtifactPublish }

func (s *PublishStage) Execute(ctx context.Context, job *model.Job) (*Result, error) {
	if s.publisher == nil {
		return &Result{Meta: map[string]any{"publisher": "none"}}, nil
	}

	name := fmt.Sprintf("%s.mp4", job.ID)
	contentType := "video/mp4"
	data, err := s.storage.Get(ctx, VideoKey(job.ID))
	if errors.Is(err, client.ErrObjectNotFound) {
		name = fmt.Sprintf("%s-narration.wav", job.ID)
		contentType = "audio/wav"
		data, err = s.storage.Get(ctx, NarrationKey(job.ID))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read render output: %w", err)
	}

	file, err := s.publisher.Upload(ctx, name, bytes.NewReader(data), contentType)
	if err != nil {
		return nil, err
	}
	return &Result{
		Locations: []string{file.WebLink},
		Meta:      map[string]any{"publisher": "gdrive", "file_id": file.FileID},
	}, nil
}

func (s *PublishStage) HealthCheck(ctx context.Context) Health {
	if s.publisher == nil {
		return Unhealthy(string(model.StagePublish), "no publisher configured")
	}
	return Healthy(string(model.StagePublish))
}

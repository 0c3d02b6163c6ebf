package stage

import (
	"bytes"
	"context"
	"fmt"
	"hash/fnv"
	"image"
	"image/color"
	"image/png"

	"github.com/narrately/api/internal/client"
	"github.com/narrately/api/internal/model"
)

const (
	ImageWidth  = 1280
	ImageHeight = 720

	// placeholders are rendered small; the renderer scales them
	placeholderWidth  = 320
	placeholderHeight = 180
)

// ImagesStage produces one image per scene, via the image service when
// configured and a deterministic placeholder otherwise.
type ImagesStage struct {
	generator client.ImageGenerator
	storage   client.StorageClient
}

// NewImagesStage creates the stage. generator may be nil.
func NewImagesStage(generator client.ImageGenerator, storage client.StorageClient) *ImagesStage {
	return &ImagesStage{generator: generator, storage: storage}
}

func (s *ImagesStage) Stage() model.Stage           { return model.StageImages }
func (s *ImagesStage) Artifact() model.ArtifactKind { return model.ArtifactImage }

func (s *ImagesStage) Execute(ctx context.Context, job *model.Job) (*Result, error) {
	res := &Result{Meta: map[string]any{}}
	generated := 0
	for i, scene := range job.Plan.Scenes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		key := SceneImageKey(job.ID, i)
		if s.generator != nil && scene.ImagePrompt != "" {
			resp, err := s.generator.Generate(ctx, &client.ImageRequest{
				Prompt:    scene.ImagePrompt,
				Width:     ImageWidth,
				Height:    ImageHeight,
				OutputKey: key,
			})
			if err != nil {
				return nil, fmt.Errorf("scene %d: %w", i, err)
			}
			res.Locations = append(res.Locations, resp.ImageURL)
			generated++
			continue
		}

		data, err := Placeholder(scene.ImagePrompt, i)
		if err != nil {
			return nil, err
		}
		url, err := s.storage.Upload(ctx, key, bytes.NewReader(data), "image/png")
		if err != nil {
			return nil, fmt.Errorf("scene %d: %w", i, err)
		}
		res.Locations = append(res.Locations, url)
	}
	res.Meta["generated"] = generated
	res.Meta["placeholders"] = len(job.Plan.Scenes) - generated
	return res, nil
}

func (s *ImagesStage) HealthCheck(ctx context.Context) Health {
	if s.generator == nil {
		return Unhealthy(string(model.StageImages), "image service not configured, using placeholders")
	}
	return Healthy(string(model.StageImages))
}

// Placeholder renders a flat two-tone PNG whose colors derive from the prompt.
func Placeholder(prompt string, index int) ([]byte, error) {
	h := fnv.New32a()
	fmt.Fprintf(h, "%d:%s", index, prompt)
	sum := h.Sum32()
	top := color.RGBA{R: uint8(sum), G: uint8(sum >> 8), B: uint8(sum >> 16), A: 0xff}
	bottom := color.RGBA{R: top.R / 2, G: top.G / 2, B: top.B / 2, A: 0xff}

	img := image.NewRGBA(image.Rect(0, 0, placeholderWidth, placeholderHeight))
	for y := 0; y < placeholderHeight; y++ {
		c := top
		if y >= placeholderHeight/2 {
			c = bottom
		}
		for x := 0; x < placeholderWidth; x++ {
			img.SetRGBA(x, y, c)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode placeholder: %w", err)
	}
	return buf.Bytes(), nil
}

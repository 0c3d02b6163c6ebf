package service

import (
	"bytes"
	"context"
	"strings"

	"github.com/narrately/api/internal/activity"
	"github.com/narrately/api/internal/apperr"
	"github.com/narrately/api/internal/client"
	"github.com/narrately/api/internal/logger"
	"github.com/narrately/api/internal/model"
	"github.com/narrately/api/internal/stage"
	"github.com/narrately/api/internal/synthcache"
	"github.com/narrately/api/internal/tts"
)

// PreviewStream is the activity stream preview events are recorded under
const PreviewStream = "previews"

// PreviewDefaults fills request fields left empty
type PreviewDefaults struct {
	VoiceID string
	Lang    string
}

// PreviewService synthesizes short narration samples outside any job
type PreviewService struct {
	provider tts.Provider
	cache    *synthcache.Cache
	storage  client.StorageClient
	events   activity.Recorder
	defaults PreviewDefaults
	log      *logger.Logger
}

func NewPreviewService(
	provider tts.Provider,
	cache *synthcache.Cache,
	storage client.StorageClient,
	events activity.Recorder,
	defaults PreviewDefaults,
	log *logger.Logger,
) *PreviewService {
	if log == nil {
		log = logger.Nop()
	}
	if events == nil {
		events = activity.Nop{}
	}
	return &PreviewService{
		provider: provider,
		cache:    cache,
		storage:  storage,
		events:   events,
		defaults: defaults,
		log:      log.WithComponent("preview"),
	}
}

// Preview returns a URL for the narration of req.Text. Repeated identical
// requests are served from the synthesis cache.
func (s *PreviewService) Preview(ctx context.Context, req *model.PreviewRequest) (*model.PreviewResponse, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, apperr.New(apperr.CodeValidation, "preview", "text is required")
	}
	voice := orDefault(req.VoiceID, s.defaults.VoiceID)
	lang := orDefault(req.Lang, s.defaults.Lang)
	pace := req.Pace
	if pace <= 0 {
		pace = 1
	}

	entry, out, err := s.cache.GetOrSynthesize(ctx, voice, text, pace, func(ctx context.Context) (synthcache.Entry, error) {
		res, err := s.provider.Synthesize(ctx, tts.Request{Text: text, Lang: lang, VoiceID: voice, Pace: pace})
		if err != nil {
			return synthcache.Entry{}, err
		}
		return synthcache.Entry{Audio: res.Audio, DurationSec: res.DurationSec, Provider: res.Provider, Transient: res.Substitute}, nil
	})
	if err != nil {
		return nil, apperr.Wrap(err, "preview", "narration unavailable")
	}
	if out.WriteErr != nil {
		s.events.Record(ctx, PreviewStream, model.EventCacheWriteFailed, out.WriteErr.Error(), map[string]any{"key": out.Key})
	}

	key := stage.PreviewKey(out.Key)
	url, err := s.storage.Upload(ctx, key, bytes.NewReader(entry.Audio), "audio/wav")
	if err != nil {
		return nil, apperr.Wrap(err, "preview", "failed to store preview")
	}

	s.events.Record(ctx, PreviewStream, model.EventPreviewGenerated, "preview generated", map[string]any{
		"key":      out.Key,
		"cached":   out.Hit,
		"provider": entry.Provider,
	})
	return &model.PreviewResponse{URL: url, DurationSec: entry.DurationSec, Cached: out.Hit}, nil
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return strings.TrimSpace(v)
}

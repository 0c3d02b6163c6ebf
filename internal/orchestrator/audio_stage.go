package orchestrator

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/narrately/api/internal/activity"
	"github.com/narrately/api/internal/apperr"
	"github.com/narrately/api/internal/client"
	"github.com/narrately/api/internal/logger"
	"github.com/narrately/api/internal/model"
	"github.com/narrately/api/internal/pacing"
	"github.com/narrately/api/internal/stage"
	"github.com/narrately/api/internal/synthcache"
	"github.com/narrately/api/internal/tts"
)

// AudioOptions controls narration synthesis.
type AudioOptions struct {
	// Strict fails the job on the first provider failure instead of
	// substituting silence.
	Strict       bool
	Tolerance    float64
	DefaultVoice string
	DefaultLang  string
	Parallelism  int
}

// AudioStage narrates every scene through cache, provider and pacing.
type AudioStage struct {
	provider tts.Provider
	cache    *synthcache.Cache
	engine   *pacing.Engine
	storage  client.StorageClient
	events   activity.Recorder
	opts     AudioOptions
	log      *logger.Logger
}

// NewAudioStage creates the audio stage.
func NewAudioStage(
	provider tts.Provider,
	cache *synthcache.Cache,
	engine *pacing.Engine,
	storage client.StorageClient,
	events activity.Recorder,
	opts AudioOptions,
	log *logger.Logger,
) *AudioStage {
	if log == nil {
		log = logger.Nop()
	}
	if events == nil {
		events = activity.Nop{}
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = 1
	}
	if opts.Tolerance <= 0 {
		opts.Tolerance = pacing.DefaultTolerance
	}
	return &AudioStage{
		provider: provider,
		cache:    cache,
		engine:   engine,
		storage:  storage,
		events:   events,
		opts:     opts,
		log:      log.WithComponent("audio"),
	}
}

func (s *AudioStage) Stage() model.Stage           { return model.StageAudio }
func (s *AudioStage) Artifact() model.ArtifactKind { return model.ArtifactAudio }

func (s *AudioStage) HealthCheck(ctx context.Context) stage.Health {
	if s.provider == nil {
		return stage.Unhealthy(string(model.StageAudio), "no tts provider")
	}
	return stage.Healthy(string(model.StageAudio) + ":" + s.provider.Name())
}

type sceneJob struct {
	jobID   string
	index   int
	text    string
	lang    string
	voiceID string
	pace    float64
	target  float64
}

type sceneOutcome struct {
	meta     model.SceneAudioMeta
	synthErr error
}

// Execute synthesizes all narrated scenes. In strict mode the first provider
// failure aborts the stage with PROVIDER_UNAVAILABLE.
func (s *AudioStage) Execute(ctx context.Context, job *model.Job) (*stage.Result, error) {
	lang := orDefault(job.Plan.Language, s.opts.DefaultLang)
	voice := orDefault(job.Plan.VoiceID, s.opts.DefaultVoice)
	pace := job.Plan.Pace
	if pace <= 0 {
		pace = 1
	}

	outcomes := make([]sceneOutcome, len(job.Plan.Scenes))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Parallelism)

	for i, sc := range job.Plan.Scenes {
		if !sc.HasNarration() {
			outcomes[i] = sceneOutcome{meta: model.SceneAudioMeta{
				Index:             i,
				Provider:          model.ProviderSilence,
				Skipped:           true,
				TargetDurationSec: sc.DurationSec,
				FinalDurationSec:  sc.DurationSec,
			}}
			continue
		}
		sj := sceneJob{
			jobID:   job.ID,
			index:   i,
			text:    strings.TrimSpace(sc.Narration),
			lang:    lang,
			voiceID: voice,
			pace:    pace,
			target:  sc.DurationSec,
		}
		g.Go(func() error {
			out, err := s.scene(gctx, sj)
			outcomes[sj.index] = out
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return s.aggregate(job.ID, lang, voice, outcomes), nil
}

// scene produces the final audio of one scene. The returned error is fatal to
// the stage; absorbed synthesis failures are reported on the outcome.
func (s *AudioStage) scene(ctx context.Context, sj sceneJob) (sceneOutcome, error) {
	log := s.log.WithJobID(sj.jobID)
	meta := model.SceneAudioMeta{Index: sj.index, TargetDurationSec: sj.target}

	entry, cached, err := s.cache.GetOrSynthesize(ctx, sj.voiceID, sj.text, sj.pace, func(ctx context.Context) (synthcache.Entry, error) {
		res, err := s.provider.Synthesize(ctx, tts.Request{
			Text:    sj.text,
			Lang:    sj.lang,
			VoiceID: sj.voiceID,
			Pace:    sj.pace,
		})
		if err != nil {
			return synthcache.Entry{}, err
		}
		return synthcache.Entry{Audio: res.Audio, DurationSec: res.DurationSec, Provider: res.Provider, Transient: res.Substitute}, nil
	})
	if cached.WriteErr != nil {
		s.events.Record(ctx, sj.jobID, model.EventCacheWriteFailed, cached.WriteErr.Error(),
			map[string]any{"index": sj.index, "key": cached.Key})
	}

	var outcome sceneOutcome
	var audio []byte
	switch {
	case err != nil && ctx.Err() != nil:
		return sceneOutcome{meta: meta}, ctx.Err()
	case err != nil:
		synthErr := apperr.WrapWithCode(err, apperr.CodeProviderUnavailable, "audio.scene",
			fmt.Sprintf("scene %d narration failed", sj.index))
		if s.opts.Strict {
			return sceneOutcome{meta: meta, synthErr: synthErr}, synthErr
		}
		log.Warn("narration failed, substituting silence", "index", sj.index, "error", err.Error())
		s.events.Record(ctx, sj.jobID, model.EventTTSFallback, synthErr.Error(), map[string]any{"index": sj.index})

		silent, serr := s.engine.Silence(sj.target)
		if serr != nil {
			return sceneOutcome{meta: meta}, serr
		}
		audio = silent
		meta.Provider = model.ProviderFallback
		meta.Error = synthErr.Error()
		meta.FinalDurationSec = sj.target
		outcome.synthErr = synthErr
	default:
		if cached.Hit {
			s.events.Record(ctx, sj.jobID, model.EventTTSCacheHit, "narration served from cache",
				map[string]any{"index": sj.index, "key": cached.Key})
		}
		meta.Provider = entry.Provider
		meta.CacheHit = cached.Hit
		meta.MeasuredDurationSec = entry.DurationSec
		if meta.MeasuredDurationSec <= 0 {
			if d, derr := pacing.Duration(entry.Audio); derr == nil {
				meta.MeasuredDurationSec = d
			}
		}

		paced, ok, perr := s.engine.Reconcile(entry.Audio, meta.MeasuredDurationSec, sj.target, s.opts.Tolerance)
		if perr != nil {
			log.Warn("pacing failed, keeping original narration", "index", sj.index, "error", perr.Error())
			s.events.Record(ctx, sj.jobID, model.EventPacingFailed, perr.Error(), map[string]any{"index": sj.index})
			meta.Error = perr.Error()
		}
		audio = paced
		meta.Paced = ok
		meta.FinalDurationSec = meta.MeasuredDurationSec
		if d, derr := pacing.Duration(audio); derr == nil {
			meta.FinalDurationSec = d
		}
	}

	url, err := s.storage.Upload(ctx, stage.SceneAudioKey(sj.jobID, sj.index), bytes.NewReader(audio), "audio/wav")
	if err != nil {
		return sceneOutcome{meta: meta}, fmt.Errorf("scene %d upload: %w", sj.index, err)
	}
	meta.Location = url
	outcome.meta = meta

	s.events.Record(ctx, sj.jobID, model.EventTTSScene, fmt.Sprintf("scene %d narrated", sj.index), map[string]any{
		"index":              sj.index,
		"provider":           meta.Provider,
		"cache_hit":          meta.CacheHit,
		"paced":              meta.Paced,
		"final_duration_sec": meta.FinalDurationSec,
	})
	return outcome, nil
}

func (s *AudioStage) aggregate(jobID, lang, voice string, outcomes []sceneOutcome) *stage.Result {
	meta := &model.AudioMetadata{Lang: lang, VoiceID: voice}
	res := &stage.Result{AudioMetadata: meta}

	providers := make(map[string]struct{})
	var failed []int
	var firstErr error
	for _, o := range outcomes {
		m := o.meta
		meta.PerScene = append(meta.PerScene, m)
		meta.TotalDurationSec += m.FinalDurationSec
		meta.Paced = meta.Paced || m.Paced
		if m.Location != "" {
			res.Locations = append(res.Locations, m.Location)
		}
		if !m.Skipped {
			providers[m.Provider] = struct{}{}
		}
		if o.synthErr != nil {
			failed = append(failed, m.Index)
			if firstErr == nil {
				firstErr = o.synthErr
			}
		}
	}

	switch len(providers) {
	case 0:
		meta.Provider = model.ProviderSilence
	case 1:
		for p := range providers {
			meta.Provider = p
		}
	default:
		meta.Provider = model.ProviderMixed
	}

	if len(failed) > 0 {
		sort.Ints(failed)
		res.AudioError = &model.AudioError{
			Code:    string(apperr.GetCode(firstErr)),
			Message: firstErr.Error(),
			Scenes:  failed,
		}
	}

	res.Meta = map[string]any{
		"provider":           meta.Provider,
		"paced":              meta.Paced,
		"total_duration_sec": meta.TotalDurationSec,
		"failed_scenes":      len(failed),
	}
	return res
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

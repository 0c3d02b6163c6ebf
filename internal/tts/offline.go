package tts

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/narrately/api/internal/apperr"
	"github.com/narrately/api/internal/model"
	"github.com/narrately/api/internal/pacing"
)

const (
	offlineSecPerRune  = 0.065
	offlineMinDuration = 0.4
	offlineSyllableSec = 0.18
	offlineAmplitude   = 0.3
)

// OfflineProvider renders a deterministic placeholder voice locally. The
// same request always yields byte-identical audio.
type OfflineProvider struct {
	sampleRate int
}

// NewOfflineProvider creates an offline provider emitting audio at sampleRate.
func NewOfflineProvider(sampleRate int) *OfflineProvider {
	if sampleRate <= 0 {
		sampleRate = 24000
	}
	return &OfflineProvider{sampleRate: sampleRate}
}

func (p *OfflineProvider) Name() string { return model.ProviderOffline }

// EstimateDuration is the speaking time the offline voice uses for text.
func EstimateDuration(text string, pace float64) float64 {
	if pace <= 0 {
		pace = 1
	}
	runes := utf8.RuneCountInString(strings.TrimSpace(text))
	return math.Max(offlineMinDuration, float64(runes)*offlineSecPerRune/pace)
}

func (p *OfflineProvider) Synthesize(ctx context.Context, req Request) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if strings.TrimSpace(req.Text) == "" {
		return Result{}, apperr.New(apperr.CodeValidation, "tts.offline", "empty narration text")
	}

	duration := EstimateDuration(req.Text, req.Pace)
	n := int(math.Round(duration * float64(p.sampleRate)))
	samples := make([]float64, n)

	f0 := voicePitch(req.VoiceID)
	gaps := wordGaps(req.Text, n)
	syllable := offlineSyllableSec * float64(p.sampleRate)
	for i := range samples {
		if gaps[i] {
			continue
		}
		t := float64(i) / float64(p.sampleRate)
		phase := math.Mod(float64(i), syllable) / syllable
		env := math.Sin(math.Pi * phase)
		v := math.Sin(2*math.Pi*f0*t) + 0.35*math.Sin(4*math.Pi*f0*t) + 0.15*math.Sin(6*math.Pi*f0*t)
		samples[i] = offlineAmplitude * env * v / 1.5
	}

	audio, err := pacing.Encode(samples, p.sampleRate)
	if err != nil {
		return Result{}, apperr.WrapWithCode(err, apperr.CodeInternal, "tts.offline", "encode audio")
	}
	return Result{Audio: audio, DurationSec: float64(n) / float64(p.sampleRate), Provider: p.Name()}, nil
}

// voicePitch maps a voice id onto a stable fundamental between 100 and 260 Hz.
func voicePitch(voiceID string) float64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(voiceID))
	return 100 + float64(h.Sum32()%160)
}

// wordGaps marks the sample ranges that fall on whitespace in text, mapped
// proportionally over n samples.
func wordGaps(text string, n int) []bool {
	gaps := make([]bool, n)
	runes := []rune(strings.TrimSpace(text))
	if len(runes) == 0 || n == 0 {
		return gaps
	}
	per := float64(n) / float64(len(runes))
	for i, r := range runes {
		if !unicode.IsSpace(r) {
			continue
		}
		start := int(float64(i) * per)
		end := int(float64(i+1) * per)
		if end > n {
			end = n
		}
		for j := start; j < end; j++ {
			gaps[j] = true
		}
	}
	return gaps
}

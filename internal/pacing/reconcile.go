// Package pacing reconciles synthesized narration with a scene's target
// duration.
package pacing

import (
	"math"

	"github.com/narrately/api/internal/apperr"
)

// DefaultTolerance is the relative duration mismatch accepted without pacing.
const DefaultTolerance = 0.05

// Engine paces audio to target durations at a fixed output sample rate.
// It holds no mutable state and is safe for concurrent use.
type Engine struct {
	sampleRate int
}

// New creates an Engine producing PCM16 mono at sampleRate.
func New(sampleRate int) *Engine {
	if sampleRate <= 0 {
		sampleRate = 24000
	}
	return &Engine{sampleRate: sampleRate}
}

// SampleRate returns the output sample rate.
func (e *Engine) SampleRate() int { return e.sampleRate }

// WithinTolerance reports whether measured is close enough to target.
func WithinTolerance(measured, target, tolerance float64) bool {
	if target <= 0 {
		return measured <= 0
	}
	return math.Abs(measured-target)/target <= tolerance
}

// Reconcile returns audio whose duration matches target. Audio already within
// tolerance is returned untouched. On any codec failure the input is returned
// unmodified together with a PACING_FAILED error; callers record it and keep
// the original audio.
func (e *Engine) Reconcile(audio []byte, measured, target, tolerance float64) ([]byte, bool, error) {
	if tolerance < 0 {
		tolerance = DefaultTolerance
	}
	if WithinTolerance(measured, target, tolerance) {
		return audio, false, nil
	}

	samples, rate, err := Decode(audio)
	if err != nil {
		return audio, false, apperr.WrapWithCode(err, apperr.CodePacingFailure, "pacing.decode", "cannot decode narration")
	}
	samples = resample(samples, rate, e.sampleRate)

	want := samplesFor(target, e.sampleRate)
	if len(samples) > 0 && want > 0 {
		ratio := clampFloat(float64(want)/float64(len(samples)), minStretch, maxStretch)
		if math.Abs(ratio-1) > 1e-3 {
			if stretched := wsola(samples, ratio, e.sampleRate); stretched != nil {
				samples = stretched
			}
		}
	}
	samples = fit(samples, want)

	out, err := Encode(samples, e.sampleRate)
	if err != nil {
		return audio, false, apperr.WrapWithCode(err, apperr.CodePacingFailure, "pacing.encode", "cannot encode paced narration")
	}
	return out, true, nil
}

// Silence returns silent audio of durationSec at the engine sample rate.
func (e *Engine) Silence(durationSec float64) ([]byte, error) {
	return Silence(durationSec, e.sampleRate)
}

// Concat joins clips at the engine sample rate.
func (e *Engine) Concat(clips ...[]byte) ([]byte, error) {
	return Concat(e.sampleRate, clips...)
}

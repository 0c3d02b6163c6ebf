package tts

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/narrately/api/internal/apperr"
	"github.com/narrately/api/internal/client"
	"github.com/narrately/api/internal/logger"
	"github.com/narrately/api/internal/model"
	"github.com/narrately/api/internal/pacing"
)

// NetworkOptions configures retry and timeout behavior of NetworkProvider.
type NetworkOptions struct {
	MaxAttempts    int
	AttemptTimeout time.Duration
	SampleRate     int
	// NewBackOff overrides the retry schedule; tests use a zero backoff.
	NewBackOff func() backoff.BackOff
}

// NetworkProvider calls the neural TTS service with bounded retries.
type NetworkProvider struct {
	client client.SpeechSynthesizer
	opts   NetworkOptions
	log    *logger.Logger
}

// NewNetworkProvider wraps a TTS service client.
func NewNetworkProvider(c client.SpeechSynthesizer, opts NetworkOptions, log *logger.Logger) *NetworkProvider {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 3
	}
	if opts.AttemptTimeout <= 0 {
		opts.AttemptTimeout = 20 * time.Second
	}
	if opts.NewBackOff == nil {
		opts.NewBackOff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 250 * time.Millisecond
			b.MaxInterval = 4 * time.Second
			b.RandomizationFactor = 0.5
			b.MaxElapsedTime = 0
			return b
		}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &NetworkProvider{client: c, opts: opts, log: log.WithComponent("tts.network")}
}

func (p *NetworkProvider) Name() string { return model.ProviderNetwork }

// Synthesize calls the service, retrying transient failures. Exhaustion and
// permanent rejections both surface as PROVIDER_UNAVAILABLE.
func (p *NetworkProvider) Synthesize(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.Text) == "" {
		return Result{}, apperr.New(apperr.CodeValidation, "tts.network", "empty narration text")
	}

	attempt := 0
	op := func() (Result, error) {
		attempt++
		attemptCtx, cancel := context.WithTimeout(ctx, p.opts.AttemptTimeout)
		defer cancel()

		resp, err := p.client.Synthesize(attemptCtx, &client.SynthesizeRequest{
			Text:       req.Text,
			Lang:       req.Lang,
			VoiceID:    req.VoiceID,
			Pace:       req.Pace,
			SampleRate: p.opts.SampleRate,
		})
		if err != nil {
			if ctx.Err() != nil {
				return Result{}, backoff.Permanent(ctx.Err())
			}
			var se *client.StatusError
			if errors.As(err, &se) && !se.Retryable() {
				return Result{}, backoff.Permanent(err)
			}
			p.log.Warn("tts attempt failed", "attempt", attempt, "error", err.Error())
			return Result{}, err
		}

		duration := resp.DurationSec
		if duration <= 0 {
			if d, derr := pacing.Duration(resp.Audio); derr == nil {
				duration = d
			}
		}
		return Result{Audio: resp.Audio, DurationSec: duration, Provider: p.Name()}, nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(p.opts.NewBackOff(), uint64(p.opts.MaxAttempts-1)),
		ctx,
	)
	res, err := backoff.RetryWithData(op, policy)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return Result{}, apperr.ProviderUnavailable(p.Name(), err)
	}
	return res, nil
}

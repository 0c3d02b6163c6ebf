package tts

import (
	"context"
	"errors"
	"strings"

	"github.com/narrately/api/internal/apperr"
	"github.com/narrately/api/internal/logger"
)

// Chain tries providers in order, moving to the next one only when the
// current provider reports PROVIDER_UNAVAILABLE.
type Chain struct {
	providers []Provider
	log       *logger.Logger
}

// NewChain creates a fall-through chain over providers.
func NewChain(providers ...Provider) *Chain {
	return &Chain{providers: providers, log: logger.Nop()}
}

// WithLogger sets the logger used to report fall-through.
func (c *Chain) WithLogger(log *logger.Logger) *Chain {
	if log != nil {
		c.log = log.WithComponent("tts.chain")
	}
	return c
}

func (c *Chain) Name() string {
	names := make([]string, len(c.providers))
	for i, p := range c.providers {
		names[i] = p.Name()
	}
	return strings.Join(names, ">")
}

func (c *Chain) Synthesize(ctx context.Context, req Request) (Result, error) {
	var lastErr error
	for i, p := range c.providers {
		res, err := p.Synthesize(ctx, req)
		if err == nil {
			if res.Provider == "" {
				res.Provider = p.Name()
			}
			res.Substitute = res.Substitute || i > 0
			return res, nil
		}
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		if !errors.Is(err, apperr.ErrProviderUnavailable) {
			return Result{}, err
		}
		c.log.Warn("provider unavailable, trying next", "provider", p.Name(), "error", err.Error())
		lastErr = err
	}
	if lastErr == nil {
		lastErr = apperr.New(apperr.CodeProviderUnavailable, "tts.chain", "no providers configured")
	}
	return Result{}, lastErr
}

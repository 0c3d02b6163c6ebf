package tts

import (
	"github.com/narrately/api/internal/client"
	"github.com/narrately/api/internal/config"
	"github.com/narrately/api/internal/logger"
)

// NewFromConfig builds the configured provider chain. In strict mode the
// chain has no fallback leg.
func NewFromConfig(cfg *config.TTSConfig, sampleRate int, strict bool, log *logger.Logger) (Provider, Selection, error) {
	sel, err := Select(Mode(cfg.Provider), cfg.BaseURL != "")
	if err != nil {
		return nil, Selection{}, err
	}
	if strict {
		sel = sel.Strict()
	}

	var network Provider
	if sel.Primary == VariantNetwork {
		network = NewNetworkProvider(client.NewTTSClient(cfg), NetworkOptions{
			MaxAttempts:    cfg.MaxAttempts,
			AttemptTimeout: cfg.Timeout,
			SampleRate:     sampleRate,
		}, log)
	}
	offline := NewOfflineProvider(sampleRate)

	p, err := Build(sel, network, offline)
	if err != nil {
		return nil, Selection{}, err
	}
	if chain, ok := p.(*Chain); ok {
		chain.WithLogger(log)
	}
	return p, sel, nil
}

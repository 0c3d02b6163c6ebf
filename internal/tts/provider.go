// Package tts abstracts narration synthesis behind a single Provider
// interface with network and offline implementations.
package tts

import (
	"context"
	"fmt"

	"github.com/narrately/api/internal/model"
)

//go:generate mockgen -source=provider.go -destination=provider_mock.go -package=tts

// Request is one synthesis call.
type Request struct {
	Text    string
	Lang    string
	VoiceID string
	Pace    float64
}

// Result is synthesized WAV PCM16 mono audio. Provider names whoever
// actually served the request, which differs from the called provider when
// a Chain falls through.
type Result struct {
	Audio       []byte
	DurationSec float64
	Provider    string
	// Substitute is set when a fallback provider served the request in
	// place of the primary.
	Substitute bool
}

// Provider synthesizes speech. Implementations must be safe for concurrent
// use.
type Provider interface {
	Name() string
	Synthesize(ctx context.Context, req Request) (Result, error)
}

// Variant tags a concrete provider implementation.
type Variant int

const (
	VariantNone Variant = iota
	VariantNetwork
	VariantOffline
)

func (v Variant) String() string {
	switch v {
	case VariantNetwork:
		return model.ProviderNetwork
	case VariantOffline:
		return model.ProviderOffline
	}
	return "none"
}

// Mode is the configured provider selection.
type Mode string

const (
	ModeAuto    Mode = "auto"
	ModeNetwork Mode = "network"
	ModeOffline Mode = "offline"
)

// Selection is the ordered provider chain chosen for a deployment.
type Selection struct {
	Primary  Variant
	Fallback Variant
}

// Variants lists the selected variants in call order.
func (s Selection) Variants() []Variant {
	if s.Fallback == VariantNone {
		return []Variant{s.Primary}
	}
	return []Variant{s.Primary, s.Fallback}
}

// Strict drops the fallback leg so a primary failure is never masked by
// substitute audio.
func (s Selection) Strict() Selection {
	s.Fallback = VariantNone
	return s
}

// Select picks providers from configuration and network availability. It
// performs no I/O.
func Select(mode Mode, networkAvailable bool) (Selection, error) {
	switch mode {
	case ModeAuto, "":
		if networkAvailable {
			return Selection{Primary: VariantNetwork, Fallback: VariantOffline}, nil
		}
		return Selection{Primary: VariantOffline}, nil
	case ModeNetwork:
		if !networkAvailable {
			return Selection{}, fmt.Errorf("tts provider %q requested but no base url is configured", mode)
		}
		return Selection{Primary: VariantNetwork}, nil
	case ModeOffline:
		return Selection{Primary: VariantOffline}, nil
	}
	return Selection{}, fmt.Errorf("unknown tts provider mode %q", mode)
}

// Build assembles the Provider for sel from the available implementations.
func Build(sel Selection, network, offline Provider) (Provider, error) {
	pick := func(v Variant) (Provider, error) {
		switch v {
		case VariantNetwork:
			if network == nil {
				return nil, fmt.Errorf("network provider not constructed")
			}
			return network, nil
		case VariantOffline:
			if offline == nil {
				return nil, fmt.Errorf("offline provider not constructed")
			}
			return offline, nil
		}
		return nil, fmt.Errorf("no provider for variant %s", v)
	}

	variants := sel.Variants()
	providers := make([]Provider, 0, len(variants))
	for _, v := range variants {
		p, err := pick(v)
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}
	if len(providers) == 1 {
		return providers[0], nil
	}
	return NewChain(providers...), nil
}

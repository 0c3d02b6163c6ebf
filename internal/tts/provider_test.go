package tts

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"

	"github.com/cenkalti/backoff/v4"
	"github.com/narrately/api/internal/apperr"
	"github.com/narrately/api/internal/client"
	"github.com/narrately/api/internal/config"
	"github.com/narrately/api/internal/pacing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestSelect(t *testing.T) {
	tests := []struct {
		mode      Mode
		available bool
		want      []Variant
		wantErr   bool
	}{
		{ModeAuto, true, []Variant{VariantNetwork, VariantOffline}, false},
		{ModeAuto, false, []Variant{VariantOffline}, false},
		{"", true, []Variant{VariantNetwork, VariantOffline}, false},
		{ModeNetwork, true, []Variant{VariantNetwork}, false},
		{ModeNetwork, false, nil, true},
		{ModeOffline, true, []Variant{VariantOffline}, false},
		{"polly", true, nil, true},
	}

	for _, tt := range tests {
		sel, err := Select(tt.mode, tt.available)
		if tt.wantErr {
			assert.Error(t, err, "mode %q", tt.mode)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, sel.Variants(), "mode %q available=%v", tt.mode, tt.available)
	}
}

func TestOfflineProviderIsDeterministic(t *testing.T) {
	p := NewOfflineProvider(16000)
	req := Request{Text: "नमस्ते दुनिया", Lang: "hi-IN", VoiceID: "asha", Pace: 1}

	a, err := p.Synthesize(context.Background(), req)
	require.NoError(t, err)
	b, err := p.Synthesize(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, a.Audio, b.Audio)
	assert.Equal(t, "offline", a.Provider)

	d, err := pacing.Duration(a.Audio)
	require.NoError(t, err)
	assert.InDelta(t, a.DurationSec, d, 1e-3)
	assert.InDelta(t, EstimateDuration(req.Text, 1), a.DurationSec, 1e-3)
}

func TestOfflineProviderVoiceChangesAudio(t *testing.T) {
	p := NewOfflineProvider(16000)
	a, err := p.Synthesize(context.Background(), Request{Text: "hello there", VoiceID: "a", Pace: 1})
	require.NoError(t, err)
	b, err := p.Synthesize(context.Background(), Request{Text: "hello there", VoiceID: "b", Pace: 1})
	require.NoError(t, err)
	assert.NotEqual(t, a.Audio, b.Audio)
}

func TestEstimateDuration(t *testing.T) {
	assert.InDelta(t, 0.4, EstimateDuration("hi", 1), 1e-9)
	assert.InDelta(t, 1.3, EstimateDuration("twenty characters!!!", 1), 1e-9)
	assert.InDelta(t, 0.65, EstimateDuration("twenty characters!!!", 2), 1e-9)
	assert.InDelta(t, 1.3, EstimateDuration("twenty characters!!!", 0), 1e-9)
}

type stubSynth struct {
	calls atomic.Int32
	fn    func(n int32) (*client.SynthesizeResponse, error)
}

func (s *stubSynth) Synthesize(ctx context.Context, req *client.SynthesizeRequest) (*client.SynthesizeResponse, error) {
	return s.fn(s.calls.Add(1))
}

func (s *stubSynth) HealthCheck(ctx context.Context) error { return nil }

func zeroBackOff() backoff.BackOff { return &backoff.ZeroBackOff{} }

func TestNetworkProviderRetriesTransientFailures(t *testing.T) {
	wav, err := pacing.Silence(1, 16000)
	require.NoError(t, err)

	stub := &stubSynth{fn: func(n int32) (*client.SynthesizeResponse, error) {
		if n < 3 {
			return nil, &client.StatusError{Service: "tts", StatusCode: http.StatusServiceUnavailable}
		}
		return &client.SynthesizeResponse{Audio: wav}, nil
	}}
	p := NewNetworkProvider(stub, NetworkOptions{MaxAttempts: 3, NewBackOff: zeroBackOff}, nil)

	res, err := p.Synthesize(context.Background(), Request{Text: "hello"})
	require.NoError(t, err)
	assert.Equal(t, int32(3), stub.calls.Load())
	assert.Equal(t, "network", res.Provider)
	assert.InDelta(t, 1.0, res.DurationSec, 1e-3)
}

func TestNetworkProviderExhaustionIsProviderUnavailable(t *testing.T) {
	stub := &stubSynth{fn: func(int32) (*client.SynthesizeResponse, error) {
		return nil, errors.New("connection reset")
	}}
	p := NewNetworkProvider(stub, NetworkOptions{MaxAttempts: 3, NewBackOff: zeroBackOff}, nil)

	_, err := p.Synthesize(context.Background(), Request{Text: "hello"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrProviderUnavailable))
	assert.Equal(t, int32(3), stub.calls.Load())
}

func TestNetworkProviderDoesNotRetryPermanentRejection(t *testing.T) {
	stub := &stubSynth{fn: func(int32) (*client.SynthesizeResponse, error) {
		return nil, &client.StatusError{Service: "tts", StatusCode: http.StatusBadRequest}
	}}
	p := NewNetworkProvider(stub, NetworkOptions{MaxAttempts: 5, NewBackOff: zeroBackOff}, nil)

	_, err := p.Synthesize(context.Background(), Request{Text: "hello"})
	assert.True(t, errors.Is(err, apperr.ErrProviderUnavailable))
	assert.Equal(t, int32(1), stub.calls.Load())
}

func TestNetworkProviderHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	stub := &stubSynth{fn: func(int32) (*client.SynthesizeResponse, error) {
		cancel()
		return nil, context.Canceled
	}}
	p := NewNetworkProvider(stub, NetworkOptions{MaxAttempts: 3, NewBackOff: zeroBackOff}, nil)

	_, err := p.Synthesize(ctx, Request{Text: "hello"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(1), stub.calls.Load())
}

func TestChainFallsThroughOnProviderUnavailable(t *testing.T) {
	ctrl := gomock.NewController(t)
	primary := NewMockProvider(ctrl)
	secondary := NewMockProvider(ctrl)

	req := Request{Text: "hello", VoiceID: "v"}
	primary.EXPECT().Synthesize(gomock.Any(), req).
		Return(Result{}, apperr.ProviderUnavailable("network", errors.New("down")))
	primary.EXPECT().Name().Return("network").AnyTimes()
	secondary.EXPECT().Synthesize(gomock.Any(), req).
		Return(Result{Audio: []byte("a"), DurationSec: 1, Provider: "offline"}, nil)

	res, err := NewChain(primary, secondary).Synthesize(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "offline", res.Provider)
	assert.True(t, res.Substitute)
}

func TestChainPrimaryResultIsNotSubstitute(t *testing.T) {
	ctrl := gomock.NewController(t)
	primary := NewMockProvider(ctrl)
	secondary := NewMockProvider(ctrl)

	primary.EXPECT().Synthesize(gomock.Any(), gomock.Any()).
		Return(Result{Audio: []byte("a"), DurationSec: 1, Provider: "network"}, nil)

	res, err := NewChain(primary, secondary).Synthesize(context.Background(), Request{Text: "x"})
	require.NoError(t, err)
	assert.Equal(t, "network", res.Provider)
	assert.False(t, res.Substitute)
}

func TestChainStopsOnOtherErrors(t *testing.T) {
	ctrl := gomock.NewController(t)
	primary := NewMockProvider(ctrl)
	secondary := NewMockProvider(ctrl)

	primary.EXPECT().Synthesize(gomock.Any(), gomock.Any()).
		Return(Result{}, apperr.New(apperr.CodeValidation, "tts", "bad"))

	_, err := NewChain(primary, secondary).Synthesize(context.Background(), Request{Text: "x"})
	assert.Equal(t, apperr.CodeValidation, apperr.GetCode(err))
}

func TestNewFromConfigStrictDropsOfflineFallback(t *testing.T) {
	cfg := &config.TTSConfig{Provider: "auto", BaseURL: "http://tts.invalid"}

	_, sel, err := NewFromConfig(cfg, 16000, false, nil)
	require.NoError(t, err)
	assert.Equal(t, []Variant{VariantNetwork, VariantOffline}, sel.Variants())

	p, sel, err := NewFromConfig(cfg, 16000, true, nil)
	require.NoError(t, err)
	assert.Equal(t, []Variant{VariantNetwork}, sel.Variants())
	_, chained := p.(*Chain)
	assert.False(t, chained)
}

func TestBuildSingleProviderIsNotChained(t *testing.T) {
	off := NewOfflineProvider(16000)
	p, err := Build(Selection{Primary: VariantOffline}, nil, off)
	require.NoError(t, err)
	assert.Same(t, off, p)

	_, err = Build(Selection{Primary: VariantNetwork, Fallback: VariantOffline}, nil, off)
	assert.Error(t, err)
}

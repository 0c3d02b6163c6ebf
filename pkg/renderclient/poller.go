package renderclient

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// Timer is the part of time.Timer the poller needs
type Timer interface {
	C() <-chan time.Time
	Stop() bool
}

// Clock abstracts time for the poller
type Clock interface {
	Now() time.Time
	NewTimer(d time.Duration) Timer
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) NewTimer(d time.Duration) Timer { return realTimer{t: time.NewTimer(d)} }

type realTimer struct{ t *time.Timer }

func (r realTimer) C() <-chan time.Time { return r.t.C }
func (r realTimer) Stop() bool          { return r.t.Stop() }

// StatusGetter fetches job snapshots; *Client implements it.
type StatusGetter interface {
	GetStatus(ctx context.Context, jobID string) (*Status, error)
}

// PollConfig tunes the polling backoff
type PollConfig struct {
	MinDelay      time.Duration
	MaxDelay      time.Duration
	Jitter        float64 // relative, f is drawn from [1-Jitter, 1+Jitter]
	LeaseDuration time.Duration
	StaleBias     float64
	// MaxErrors bounds consecutive transient failures; 0 retries forever.
	MaxErrors int
	Clock     Clock
	Rand      func() float64 // uniform in [0, 1)
}

// DefaultPollConfig returns the standard polling contract.
func DefaultPollConfig() PollConfig {
	return PollConfig{
		MinDelay:      time.Second,
		MaxDelay:      30 * time.Second,
		Jitter:        0.2,
		LeaseDuration: 30 * time.Second,
		StaleBias:     2,
		MaxErrors:     5,
		Clock:         realClock{},
		Rand:          rand.Float64,
	}
}

func (c PollConfig) withDefaults() PollConfig {
	d := DefaultPollConfig()
	if c.MinDelay <= 0 {
		c.MinDelay = d.MinDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = d.MaxDelay
	}
	if c.MaxDelay < c.MinDelay {
		c.MaxDelay = c.MinDelay
	}
	if c.Jitter < 0 || c.Jitter >= 1 {
		c.Jitter = d.Jitter
	}
	if c.LeaseDuration <= 0 {
		c.LeaseDuration = d.LeaseDuration
	}
	if c.StaleBias < 1 {
		c.StaleBias = d.StaleBias
	}
	if c.Clock == nil {
		c.Clock = d.Clock
	}
	if c.Rand == nil {
		c.Rand = d.Rand
	}
	return c
}

// Session holds the backoff state of one polled job. It is not safe for
// concurrent use.
type Session struct {
	cfg      PollConfig
	observed bool
	state    string
	base     time.Duration
	factor   float64
}

// NewSession starts a session; a zero-valued field in cfg takes its default.
func NewSession(cfg PollConfig) *Session {
	return &Session{cfg: cfg.withDefaults()}
}

// IsStale reports whether a running job missed its heartbeat for more than
// two leases.
func (s *Session) IsStale(st *Status) bool {
	if st == nil || st.State != StateRunning || st.HeartbeatAt == nil {
		return false
	}
	return s.cfg.Clock.Now().Sub(*st.HeartbeatAt) > 2*s.cfg.LeaseDuration
}

// Observe records a snapshot, marks it stale when needed and returns the
// delay before the next poll.
func (s *Session) Observe(st *Status) time.Duration {
	st.IsStale = s.IsStale(st)

	if !s.observed || st.State != s.state {
		s.observed = true
		s.state = st.State
		s.reset()
	} else {
		s.grow(2)
	}
	if st.IsStale {
		s.grow(s.cfg.StaleBias)
	}
	return s.delay()
}

// Retry returns the delay after a failed poll; the state is unchanged.
func (s *Session) Retry() time.Duration {
	if !s.observed && s.base == 0 {
		s.reset()
	} else {
		s.grow(2)
	}
	return s.delay()
}

func (s *Session) reset() {
	s.base = s.cfg.MinDelay
	j := s.cfg.Jitter
	s.factor = 1 - j + 2*j*s.cfg.Rand()
}

func (s *Session) grow(by float64) {
	next := time.Duration(float64(s.base) * by)
	if next > s.cfg.MaxDelay || next < s.base {
		next = s.cfg.MaxDelay
	}
	s.base = next
}

func (s *Session) delay() time.Duration {
	d := time.Duration(float64(s.base) * s.factor)
	if d < 0 {
		return 0
	}
	if d > s.cfg.MaxDelay {
		return s.cfg.MaxDelay
	}
	return d
}

// Poller drives a Session against the status endpoint
type Poller struct {
	getter StatusGetter
	cfg    PollConfig
}

func NewPoller(getter StatusGetter, cfg PollConfig) *Poller {
	return &Poller{getter: getter, cfg: cfg.withDefaults()}
}

// Run polls jobID until it reaches a terminal state, passing every snapshot
// to onStatus. The first poll happens after MinDelay. It stops on
// QuotaError, ErrNotFound, an onStatus error or ctx cancellation, returning
// the last snapshot seen.
func (p *Poller) Run(ctx context.Context, jobID string, onStatus func(*Status) error) (*Status, error) {
	sess := NewSession(p.cfg)
	var last *Status
	failures := 0

	if err := p.sleep(ctx, p.cfg.MinDelay); err != nil {
		return nil, err
	}
	for {
		st, err := p.getter.GetStatus(ctx, jobID)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return last, ctxErr
		}

		var delay time.Duration
		if err != nil {
			if isFatal(err) {
				return last, err
			}
			failures++
			if p.cfg.MaxErrors > 0 && failures >= p.cfg.MaxErrors {
				return last, err
			}
			delay = sess.Retry()
		} else {
			failures = 0
			delay = sess.Observe(st)
			last = st
			if onStatus != nil {
				if err := onStatus(st); err != nil {
					return st, err
				}
			}
			if IsTerminal(st.State) {
				return st, nil
			}
		}

		if err := p.sleep(ctx, delay); err != nil {
			return last, err
		}
	}
}

func (p *Poller) sleep(ctx context.Context, d time.Duration) error {
	t := p.cfg.Clock.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C():
		return nil
	}
}

func isFatal(err error) bool {
	var qe *QuotaError
	return errors.As(err, &qe) || errors.Is(err, ErrNotFound)
}

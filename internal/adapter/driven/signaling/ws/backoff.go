package ws

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

type BackoffConfig struct {
	Base        time.Duration
	Max         time.Duration
	Multiplier  float64
	StableAfter time.Duration
}

func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		Base:        time.Second,
		Max:         30 * time.Second,
		Multiplier:  2,
		StableAfter: 10 * time.Second,
	}
}

// Backoff yields reconnect delays that never decrease until capped. The
// sequence restarts from the base once a connection stayed up StableAfter.
type Backoff struct {
	exp         *backoff.ExponentialBackOff
	stableAfter time.Duration
	upSince     time.Time
}

func NewBackoff(cfg BackoffConfig) *Backoff {
	def := DefaultBackoffConfig()
	if cfg.Base <= 0 {
		cfg.Base = def.Base
	}
	if cfg.Max < cfg.Base {
		cfg.Max = max(def.Max, cfg.Base)
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = def.Multiplier
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = cfg.Base
	exp.MaxInterval = cfg.Max
	exp.Multiplier = cfg.Multiplier
	exp.RandomizationFactor = 0
	exp.MaxElapsedTime = 0
	exp.Reset()

	return &Backoff{exp: exp, stableAfter: cfg.StableAfter}
}

func (b *Backoff) Next() time.Duration {
	return b.exp.NextBackOff()
}

func (b *Backoff) Connected(at time.Time) {
	b.upSince = at
}

// Disconnected resets the sequence if the link that just dropped was stable.
func (b *Backoff) Disconnected(at time.Time) {
	if !b.upSince.IsZero() && at.Sub(b.upSince) >= b.stableAfter {
		b.exp.Reset()
	}
	b.upSince = time.Time{}
}

func (b *Backoff) Reset() {
	b.exp.Reset()
}

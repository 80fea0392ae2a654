package notifier

import "time"

type BackoffConfig struct {
	Delay1 time.Duration // default: 5 seconds
	Delay2 time.Duration // default: 15 seconds
	Delay3 time.Duration // default: 30 seconds
	Delay4 time.Duration // default: 60 seconds
}

func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		Delay1: 5 * time.Second,
		Delay2: 15 * time.Second,
		Delay3: 30 * time.Second,
		Delay4: 60 * time.Second,
	}
}

type Backoff struct {
	cfg BackoffConfig
}

func NewBackoff(cfg BackoffConfig) *Backoff {
	def := DefaultBackoffConfig()
	if cfg.Delay1 <= 0 {
		cfg.Delay1 = def.Delay1
	}
	if cfg.Delay2 <= 0 {
		cfg.Delay2 = def.Delay2
	}
	if cfg.Delay3 <= 0 {
		cfg.Delay3 = def.Delay3
	}
	if cfg.Delay4 <= 0 {
		cfg.Delay4 = def.Delay4
	}
	return &Backoff{cfg: cfg}
}

// Delay — пауза перед следующей попыткой после attempt неудач.
func (b *Backoff) Delay(attempt int) time.Duration {
	switch {
	case attempt <= 1:
		return b.cfg.Delay1
	case attempt == 2:
		return b.cfg.Delay2
	case attempt == 3:
		return b.cfg.Delay3
	default:
		return b.cfg.Delay4
	}
}

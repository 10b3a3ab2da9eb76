package syncer

import "time"

const (
	defaultBackoffBase = 5 * time.Second
	defaultBackoffMax  = 5 * time.Minute
)

// Backoff is a bounded exponential retry schedule.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

func (b Backoff) withDefaults() Backoff {
	if b.Base <= 0 {
		b.Base = defaultBackoffBase
	}
	if b.Max <= 0 {
		b.Max = defaultBackoffMax
	}
	if b.Max < b.Base {
		b.Max = b.Base
	}
	return b
}

// Delay returns Base * 2^(attempts-1), capped at Max.
func (b Backoff) Delay(attempts int) time.Duration {
	b = b.withDefaults()
	if attempts <= 1 {
		return b.Base
	}
	delay := b.Base
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= b.Max {
			return b.Max
		}
	}
	return delay
}

package scheduler

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// Backoff computes exponentially growing retry delays.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
	// Jitter spreads each delay uniformly over [d*(1-Jitter), d*(1+Jitter)).
	// Zero disables it.
	Jitter float64
}

func DefaultBackoff() Backoff {
	return Backoff{Base: 500 * time.Millisecond, Max: 30 * time.Second, Jitter: 0.5}
}

// Delay returns the wait before retry number attempt (1-based). A zero Max
// leaves the growth uncapped.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := b.Base
	for i := 1; i < attempt && (b.Max <= 0 || d < b.Max) && d <= math.MaxInt64/2; i++ {
		d *= 2
	}
	if b.Max > 0 && d > b.Max {
		d = b.Max
	}
	if b.Jitter > 0 {
		f := float64(d) * (1 - b.Jitter + 2*b.Jitter*rand.Float64())
		if f >= math.MaxInt64 {
			f = math.MaxInt64 / 2
		}
		d = time.Duration(f)
		if b.Max > 0 && d > b.Max {
			d = b.Max
		}
	}
	return d
}

// wait sleeps for the delay of attempt or until ctx is done.
func (b Backoff) wait(ctx context.Context, attempt int) error {
	t := time.NewTimer(b.Delay(attempt))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

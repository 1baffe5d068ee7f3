package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Limiter admits outbound calls within a rolling request budget. Waiters
// are served in arrival order.
type Limiter struct {
	rl *rate.Limiter
}

// NewLimiter allows requests calls per window, bursting up to requests.
// A non-positive budget disables limiting.
func NewLimiter(requests int, window time.Duration) *Limiter {
	if requests <= 0 || window <= 0 {
		return &Limiter{rl: rate.NewLimiter(rate.Inf, 0)}
	}
	return &Limiter{rl: rate.NewLimiter(rate.Every(window/time.Duration(requests)), requests)}
}

func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil {
		return nil
	}
	return l.rl.Wait(ctx)
}

// Guard runs a gateway call through admission control and resolves the
// transient failures itself: an expired session is re-authenticated and
// a rate-limited call is retried after backoff. Anything else is returned
// unchanged.
type Guard struct {
	Limiter    *Limiter
	Reauth     Reauthenticator
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

func (g *Guard) Do(ctx context.Context, op string, fn func(context.Context) error) error {
	retries := g.MaxRetries
	if retries <= 0 {
		retries = 3
	}
	for attempt := 0; ; attempt++ {
		if err := g.Limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%s: admission: %w", op, err)
		}
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if attempt >= retries {
			return err
		}

		switch {
		case errors.Is(err, ErrSessionExpired):
			if g.Reauth == nil {
				return err
			}
			log.Warn().Str("op", op).Int("attempt", attempt+1).Msg("session expired, re-authenticating")
			if rerr := g.Reauth.Reauthenticate(ctx); rerr != nil {
				return fmt.Errorf("%s: reauthenticate: %w", op, rerr)
			}
		case errors.Is(err, ErrRateLimited):
			d := g.backoff(attempt + 1)
			log.Warn().Str("op", op).Dur("delay", d).Msg("rate limited, backing off")
			t := time.NewTimer(d)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		default:
			return err
		}
	}
}

func (g *Guard) backoff(attempt int) time.Duration {
	base, max := g.BaseDelay, g.MaxDelay
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	if max <= 0 {
		max = 30 * time.Second
	}
	d := base << (attempt - 1) // base, 2*base, 4*base...
	if d > max || d <= 0 {
		d = max
	}
	return d
}

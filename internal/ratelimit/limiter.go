package ratelimit

import (
	"context"
	"fmt"
	"time"

	"visitor-tracker/internal/common/errors"
)

// Backend is the atomic increment-with-expiry primitive the limiter
// counts on. The Redis client implements it; tests may substitute an
// in-process fake.
type Backend interface {
	IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error)
}

type Limiter struct {
	backend Backend
	config  *Config
}

// Config controls limiter behavior. The window length is fixed per
// limiter; only the per-call threshold varies (callers pick it by
// priority tier).
type Config struct {
	Window  time.Duration `json:"window"`
	Enabled bool          `json:"enabled"`
}

type Quota struct {
	Limit     int           `json:"limit"`
	Window    time.Duration `json:"window"`
	Remaining int           `json:"remaining"`
	ResetTime time.Time     `json:"reset_time"`
}

func NewLimiter(backend Backend, config *Config) *Limiter {
	if config == nil {
		config = &Config{
			Window:  time.Minute,
			Enabled: true,
		}
	}
	if config.Window <= 0 {
		config.Window = time.Minute
	}

	return &Limiter{
		backend: backend,
		config:  config,
	}
}

// Window returns the fixed window length this limiter counts over.
func (l *Limiter) Window() time.Duration {
	return l.config.Window
}

// CheckLimit consumes one unit from the fixed-window counter for key and
// fails with a rate-limit error once the post-increment count exceeds
// maxPerWindow. The consumed unit is not refunded on rejection; the
// counter expires with its window.
func (l *Limiter) CheckLimit(ctx context.Context, key string, maxPerWindow int) (*Quota, error) {
	if !l.config.Enabled {
		return &Quota{
			Limit:     maxPerWindow,
			Window:    l.config.Window,
			Remaining: maxPerWindow,
			ResetTime: time.Now().Add(l.config.Window),
		}, nil
	}

	count, err := l.backend.IncrWindow(ctx, fmt.Sprintf("rate_limit:%s", key), l.config.Window)
	if err != nil {
		return nil, errors.TransientStoreError("failed to check rate limit", err)
	}

	if count > int64(maxPerWindow) {
		return nil, errors.RateLimitError(key).
			WithContext("limit", maxPerWindow).
			WithContext("window", l.config.Window.String())
	}

	remaining := maxPerWindow - int(count)
	if remaining < 0 {
		remaining = 0
	}

	return &Quota{
		Limit:     maxPerWindow,
		Window:    l.config.Window,
		Remaining: remaining,
		ResetTime: time.Now().Add(l.config.Window),
	}, nil
}

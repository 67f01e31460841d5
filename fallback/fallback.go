// Package fallback runs an ordered list of candidate model identifiers
// against an invoke closure, returning the first usable result. The text and
// image generation chains share this control flow.
package fallback

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"
)

// ErrExhausted is returned when every candidate failed or produced an empty
// result.
var ErrExhausted = errors.New("fallback: all candidates exhausted")

// DefaultBackoff is the pause between consecutive candidate attempts.
const DefaultBackoff = time.Second

// Result carries the winning payload and which candidate produced it. The
// model identifier is for logging and telemetry only; callers must not
// branch on it.
type Result[T any] struct {
	Value     T
	ModelUsed string
}

// Runner holds the chain parameters. Sleep is injectable for tests and
// defaults to time.Sleep-backed waiting.
type Runner[T any] struct {
	Candidates []string
	Backoff    time.Duration
	Sleep      func(time.Duration)

	// Empty reports whether a non-error result is still unusable (e.g. a
	// blank string) and the chain should advance. Nil means never.
	Empty func(T) bool
}

// Run invokes each candidate in priority order and stops at the first
// success. Failures advance the chain after the backoff pause; there is no
// per-candidate retry here (cold-start retries belong to the invoke closure).
func (r Runner[T]) Run(ctx context.Context, invoke func(ctx context.Context, model string) (T, error)) (Result[T], error) {
	var zero Result[T]
	sleep := r.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}
	backoff := r.Backoff
	if backoff == 0 {
		backoff = DefaultBackoff
	}

	for i, model := range r.Candidates {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		value, err := invoke(ctx, model)
		if err == nil && (r.Empty == nil || !r.Empty(value)) {
			return Result[T]{Value: value, ModelUsed: model}, nil
		}
		if err != nil {
			log.Warnf("fallback: model %s failed: %v", model, err)
		} else {
			log.Warnf("fallback: model %s returned an empty result", model)
		}

		if i < len(r.Candidates)-1 {
			sleep(backoff)
		}
	}

	return zero, ErrExhausted
}

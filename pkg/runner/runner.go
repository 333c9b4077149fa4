// Package runner provides the bounded fan-out and rate limiting
// primitives shared by the RPC-heavy settlement loops.
package runner

import (
	"context"

	"github.com/alitto/pond/v2"
	"go.uber.org/ratelimit"
)

// Map runs fn over items with at most concurrency workers and returns the
// results in input order. The first error cancels the remaining work.
func Map[T, R any](ctx context.Context, concurrency int, items []T, fn func(ctx context.Context, item T) (R, error)) ([]R, error) {
	pool := pond.NewResultPool[R](concurrency)
	defer pool.StopAndWait()

	group := pool.NewGroupContext(ctx)
	for _, item := range items {
		group.SubmitErr(func() (R, error) {
			return fn(ctx, item)
		})
	}
	return group.Wait()
}

// Limiter is a process-wide leaky-bucket rate limiter for RPC call sites.
type Limiter struct {
	rl ratelimit.Limiter
}

// NewLimiter returns a limiter that admits rps operations per second.
// A non-positive rps returns an unlimited limiter.
func NewLimiter(rps int) *Limiter {
	if rps <= 0 {
		return &Limiter{rl: ratelimit.NewUnlimited()}
	}
	return &Limiter{rl: ratelimit.New(rps)}
}

// Take blocks until the next operation is admitted.
func (l *Limiter) Take() {
	l.rl.Take()
}

package app

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// refresher coalesces refresh requests into a single-flight loop. The
// trigger channel holds at most one pending request, so any burst collapses
// to one refresh plus a trailing one for events that arrive mid-flight. A
// token bucket paces consecutive refreshes.
type refresher struct {
	refresh func(ctx context.Context)
	limiter *rate.Limiter
	pending chan struct{}
	wg      sync.WaitGroup
}

func newRefresher(minInterval time.Duration, refresh func(ctx context.Context)) *refresher {
	limit := rate.Inf
	if minInterval > 0 {
		limit = rate.Every(minInterval)
	}
	return &refresher{
		refresh: refresh,
		limiter: rate.NewLimiter(limit, 1),
		pending: make(chan struct{}, 1),
	}
}

// trigger requests a refresh. Safe to call from any goroutine; requests
// arriving while one is already queued are absorbed into it.
func (r *refresher) trigger() {
	select {
	case r.pending <- struct{}{}:
	default:
	}
}

// start runs the refresh loop until ctx is cancelled.
func (r *refresher) start(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-r.pending:
			}
			if err := r.limiter.Wait(ctx); err != nil {
				return
			}
			r.refresh(ctx)
		}
	}()
}

func (r *refresher) wait() {
	r.wg.Wait()
}

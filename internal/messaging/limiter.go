package messaging

import (
	"sync"

	"golang.org/x/time/rate"
)

// tenantLimiter throttles outbound messages per tenant so one clinic's
// reminder burst cannot exhaust the gateway quota of the others.
type tenantLimiter struct {
	limiters sync.Map
	rps      float64
	burst    int
}

func newTenantLimiter(rps float64, burst int) *tenantLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &tenantLimiter{rps: rps, burst: burst}
}

func (l *tenantLimiter) get(tenantID string) *rate.Limiter {
	if v, ok := l.limiters.Load(tenantID); ok {
		if lim, ok := v.(*rate.Limiter); ok {
			return lim
		}
	}

	limit := rate.Inf
	if l.rps > 0 {
		limit = rate.Limit(l.rps)
	}
	lim := rate.NewLimiter(limit, l.burst)
	actual, loaded := l.limiters.LoadOrStore(tenantID, lim)
	if loaded {
		if actualLim, ok := actual.(*rate.Limiter); ok {
			return actualLim
		}
	}
	return lim
}

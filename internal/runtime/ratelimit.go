// Grounded on the teacher's api/ratelimit.go ipLimiter: a map of
// rate.Limiter values keyed by a string, guarded by a mutex, with
// lazy creation on first use. Generalized here from per-IP to
// per-provider_code (spec.md §4.4, §5 "Rate limiters: shared,
// thread-safe token buckets keyed by provider_code").
package runtime

import (
	"sync"

	"golang.org/x/time/rate"
)

type limiterSet struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newLimiterSet() *limiterSet {
	return &limiterSet{limiters: make(map[string]*rate.Limiter)}
}

// get returns the limiter for providerCode, creating it at
// requestsPerMinute on first use.
func (s *limiterSet) get(providerCode string, requestsPerMinute int) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.limiters[providerCode]; ok {
		return l
	}
	perSecond := float64(requestsPerMinute) / 60.0
	if perSecond <= 0 {
		perSecond = 1
	}
	burst := requestsPerMinute
	if burst < 1 {
		burst = 1
	}
	l := rate.NewLimiter(rate.Limit(perSecond), burst)
	s.limiters[providerCode] = l
	return l
}

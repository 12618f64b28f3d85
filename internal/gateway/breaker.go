package gateway

import (
	"time"

	"github.com/sony/gobreaker"
)

// breakerRegistry keeps one gobreaker.CircuitBreaker per upstream service so
// a failing downstream doesn't trip the limit for every other route. No pack
// example ships a circuit breaker; sony/gobreaker is the one out-of-pack
// dependency this module adds, justified in DESIGN.md because its
// Settings{ReadyToTrip, Interval, Timeout}/Execute shape matches spec §4.5
// item 6's sliding-window/half-open contract directly.
type breakerRegistry struct {
	breakers map[string]*gobreaker.CircuitBreaker[any]
}

// newBreakerRegistry builds one breaker per known upstream.
func newBreakerRegistry(services []string, maxRequests uint32, interval, timeout time.Duration) *breakerRegistry {
	r := &breakerRegistry{breakers: make(map[string]*gobreaker.CircuitBreaker[any], len(services))}
	for _, name := range services {
		name := name
		r.breakers[name] = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
			Name:        name,
			MaxRequests: maxRequests,
			Interval:    interval,
			Timeout:     timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.Requests >= 10 && float64(counts.TotalFailures)/float64(counts.Requests) >= 0.5
			},
		})
	}
	return r
}

func (r *breakerRegistry) forService(name string) *gobreaker.CircuitBreaker[any] {
	if b, ok := r.breakers[name]; ok {
		return b
	}
	// Unknown service (registered after startup): build a breaker lazily
	// rather than bypassing the breaker. It uses gobreaker's own default
	// settings, not the thresholds newBreakerRegistry configures.
	b := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{Name: name})
	r.breakers[name] = b
	return b
}

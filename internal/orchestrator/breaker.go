package orchestrator

import (
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

// breakerRegistry lazily creates one circuit breaker per worker name,
// isolating a struggling worker (e.g. a dead vegetation_analyzer
// deployment) from tripping unrelated ones.
type breakerRegistry struct {
	mu  sync.Mutex
	cbs map[string]*gobreaker.CircuitBreaker[[]byte]
}

func newBreakerRegistry() *breakerRegistry {
	return &breakerRegistry{cbs: make(map[string]*gobreaker.CircuitBreaker[[]byte])}
}

func (r *breakerRegistry) get(name string) *gobreaker.CircuitBreaker[[]byte] {
	r.mu.Lock()
	defer r.mu.Unlock()
	cb, ok := r.cbs[name]
	if ok {
		return cb
	}
	cb = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	r.cbs[name] = cb
	return cb
}

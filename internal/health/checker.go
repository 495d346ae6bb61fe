// Package health runs periodic health checks against ForestShield's
// three storage collaborators — the Shared State Store, the Object
// Store, and the Distributed Coordinator — so an operator or liveness
// probe can see which backend is degraded.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/forestshield/core/internal/domain"
)

// Check defines a single health check.
type Check struct {
	Name    string
	CheckFn func(ctx context.Context) error
}

// Status represents the result of a health check.
type Status struct {
	Name      string    `json:"name"`
	Healthy   bool      `json:"healthy"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Checker runs periodic health checks against SSS, OS, and DC.
type Checker struct {
	mu       sync.RWMutex
	checks   []Check
	statuses []Status
	interval time.Duration
}

// SSSPinger is the subset of the Shared State Store Checker needs.
type SSSPinger interface {
	Ping() error
}

// NewChecker builds the standard checks: SQLite connectivity, Object
// Store reachability (a bounded List call), and Distributed Coordinator
// connectivity. dc may be nil when no Coordinator is wired at all — in
// that case the coordinator check is omitted and only the two storage
// checks run.
func NewChecker(sss SSSPinger, os domain.ObjectStore, dc domain.Coordinator) *Checker {
	checks := []Check{
		{
			Name: "sss",
			CheckFn: func(ctx context.Context) error {
				return sss.Ping()
			},
		},
		{
			Name: "object_store",
			CheckFn: func(ctx context.Context) error {
				_, err := os.List(ctx, "", 1)
				return err
			},
		},
	}
	if dc != nil {
		checks = append(checks, Check{
			Name: "coordinator",
			CheckFn: func(ctx context.Context) error {
				connected, _ := dc.Health(ctx)
				if !connected {
					return errNotConnected
				}
				return nil
			},
		})
	}
	return &Checker{interval: 60 * time.Second, checks: checks}
}

var errNotConnected = &notConnectedError{}

type notConnectedError struct{}

func (*notConnectedError) Error() string { return "not connected" }

// Run starts the health check loop. Call in a goroutine.
func (c *Checker) Run(ctx context.Context) {
	c.runAll(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.runAll(ctx)
		}
	}
}

func (c *Checker) runAll(ctx context.Context) {
	statuses := make([]Status, len(c.checks))
	for i, check := range c.checks {
		s := Status{Name: check.Name, CheckedAt: time.Now()}
		if err := check.CheckFn(ctx); err != nil {
			s.Healthy = false
			s.Error = err.Error()
		} else {
			s.Healthy = true
		}
		statuses[i] = s
	}

	c.mu.Lock()
	c.statuses = statuses
	c.mu.Unlock()
}

// Statuses returns the latest health check results.
func (c *Checker) Statuses() []Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result := make([]Status, len(c.statuses))
	copy(result, c.statuses)
	return result
}

// IsHealthy returns true if all checks pass. The Coordinator's
// degraded fallback mode still reports Health()'s connected=true/false
// honestly; an operator relying on IsHealthy should treat a degraded DC
// as informational, not as grounds to fail a liveness probe, since
// spec §4.3 defines degraded mode as correct operation.
func (c *Checker) IsHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.statuses {
		if !s.Healthy {
			return false
		}
	}
	return true
}

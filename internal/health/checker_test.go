package health

import (
	"context"
	"os"
	"testing"

	"github.com/forestshield/core/internal/objectstore"
	"github.com/forestshield/core/internal/sss"
)

func newTestSSS(t *testing.T) *sss.Store {
	t.Helper()
	store, err := sss.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestNewChecker(t *testing.T) {
	c := NewChecker(newTestSSS(t), objectstore.NewMock(), nil)
	if c == nil {
		t.Fatal("NewChecker() returned nil")
	}
	if len(c.checks) != 2 {
		t.Errorf("checks = %d, want 2 (coordinator omitted when nil)", len(c.checks))
	}
}

func TestChecker_RunAllHealthy(t *testing.T) {
	c := NewChecker(newTestSSS(t), objectstore.NewMock(), nil)
	c.runAll(context.Background())

	statuses := c.Statuses()
	if len(statuses) != 2 {
		t.Fatalf("Statuses() = %d, want 2", len(statuses))
	}
	for _, s := range statuses {
		if !s.Healthy {
			t.Errorf("check %q should be healthy, got error: %s", s.Name, s.Error)
		}
	}
}

func TestChecker_IsHealthy_AllPass(t *testing.T) {
	c := NewChecker(newTestSSS(t), objectstore.NewMock(), nil)
	c.runAll(context.Background())

	if !c.IsHealthy() {
		t.Error("IsHealthy() should be true when all checks pass")
	}
}

func TestChecker_IsHealthy_BeforeRun(t *testing.T) {
	c := NewChecker(newTestSSS(t), objectstore.NewMock(), nil)

	if !c.IsHealthy() {
		t.Error("IsHealthy() should be true before first run (no statuses)")
	}
}

func TestChecker_SSSCheck(t *testing.T) {
	c := NewChecker(newTestSSS(t), objectstore.NewMock(), nil)
	c.runAll(context.Background())

	found := false
	for _, s := range c.Statuses() {
		if s.Name == "sss" {
			found = true
			if !s.Healthy {
				t.Errorf("sss check should be healthy")
			}
		}
	}
	if !found {
		t.Error("sss check not found in statuses")
	}
}

func TestChecker_ObjectStoreCheck(t *testing.T) {
	c := NewChecker(newTestSSS(t), objectstore.NewMock(), nil)
	c.runAll(context.Background())

	for _, s := range c.Statuses() {
		if s.Name == "object_store" && !s.Healthy {
			t.Errorf("object_store check should be healthy")
		}
	}
}

func TestChecker_CustomCheck(t *testing.T) {
	c := &Checker{
		checks: []Check{
			{Name: "always_pass", CheckFn: func(ctx context.Context) error { return nil }},
		},
	}
	c.runAll(context.Background())

	statuses := c.Statuses()
	if len(statuses) != 1 {
		t.Fatalf("statuses = %d, want 1", len(statuses))
	}
	if !statuses[0].Healthy {
		t.Error("always_pass check should be healthy")
	}
}

func TestChecker_FailingCheck(t *testing.T) {
	c := &Checker{
		checks: []Check{
			{Name: "always_fail", CheckFn: func(ctx context.Context) error { return os.ErrPermission }},
		},
	}
	c.runAll(context.Background())

	statuses := c.Statuses()
	if statuses[0].Healthy {
		t.Error("always_fail check should not be healthy")
	}
	if statuses[0].Error == "" {
		t.Error("error message should be populated")
	}
	if !c.mu.TryLock() {
		t.Error("runAll must not hold the lock after returning")
	} else {
		c.mu.Unlock()
	}
}

func TestChecker_StatusesCopy(t *testing.T) {
	c := NewChecker(newTestSSS(t), objectstore.NewMock(), nil)
	c.runAll(context.Background())

	s1 := c.Statuses()
	s2 := c.Statuses()

	if len(s1) > 0 {
		s1[0].Healthy = false
		if !s2[0].Healthy {
			t.Error("Statuses() should return a copy, not a reference")
		}
	}
}

package objectstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/forestshield/core/internal/domain"
	"github.com/forestshield/core/internal/errs"
)

// Mock is an in-memory domain.ObjectStore used by orchestrator and MLM
// tests in place of a live S3 bucket — the same role the teacher's
// engine.MockBackend plays for InferenceEngine.
type Mock struct {
	mu   sync.RWMutex
	data map[string][]byte
	meta map[string]map[string]string
}

func NewMock() *Mock {
	return &Mock{data: map[string][]byte{}, meta: map[string]map[string]string{}}
}

func (m *Mock) Put(_ context.Context, key string, data []byte, metadata map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	m.data[key] = cp
	m.meta[key] = metadata
	return nil
}

func (m *Mock) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.data[key]
	if !ok {
		return nil, errs.Wrap(errs.KindNotFound, errs.ErrNotFound, "mock object "+key)
	}
	cp := make([]byte, len(d))
	copy(cp, d)
	return cp, nil
}

func (m *Mock) List(_ context.Context, prefix string, max int) ([]domain.ObjectInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.ObjectInfo
	for k, v := range m.data {
		if strings.HasPrefix(k, prefix) {
			out = append(out, domain.ObjectInfo{Key: k, Size: int64(len(v)), LastModified: time.Time{}})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	if max > 0 && len(out) > max {
		out = out[:max]
	}
	return out, nil
}

func (m *Mock) SignedURL(_ context.Context, key string, ttl time.Duration) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.data[key]; !ok {
		return "", errs.Wrap(errs.KindNotFound, errs.ErrNotFound, "mock object "+key)
	}
	return fmt.Sprintf("mock://%s?ttl=%s", key, ttl), nil
}

func (m *Mock) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	delete(m.meta, key)
	return nil
}

var _ domain.ObjectStore = (*Mock)(nil)

package store

import (
	"context"
	"sort"
	"sync"
)

// Memory is a HistoryStore for single replica installs and tests.
// Each cluster keeps at most maxPerCluster records.
type Memory struct {
	mu            sync.RWMutex
	records       map[string][]PhaseRecord
	maxPerCluster int
}

func NewMemory() *Memory {
	return &Memory{records: map[string][]PhaseRecord{}, maxPerCluster: 500}
}

func (m *Memory) Record(ctx context.Context, r PhaseRecord) error {
	r = prepare(r)
	m.mu.Lock()
	defer m.mu.Unlock()
	list := append(m.records[r.Cluster], r)
	if len(list) > m.maxPerCluster {
		list = list[len(list)-m.maxPerCluster:]
	}
	m.records[r.Cluster] = list
	return nil
}

func (m *Memory) History(ctx context.Context, cluster string, limit int) ([]PhaseRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list, ok := m.records[cluster]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]PhaseRecord, len(list))
	copy(out, list)
	sort.SliceStable(out, func(i, j int) bool { return out[i].At.After(out[j].At) })
	if limit = limitOrDefault(limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) Forget(ctx context.Context, cluster string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, cluster)
	return nil
}

func (m *Memory) Health(ctx context.Context) error { return nil }

func (m *Memory) Close(ctx context.Context) error { return nil }

package store

import (
	"context"
	"errors"
	"testing"
	"time"

	v1alpha1 "github.com/vaheed/odoonova/pkg/api/v1alpha1"
)

func TestMemoryHistoryNewestFirst(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	steps := []v1alpha1.Phase{v1alpha1.PhasePending, v1alpha1.PhaseProvisioning, v1alpha1.PhaseReady}
	for i, ph := range steps {
		if err := m.Record(ctx, PhaseRecord{Cluster: "acme", Phase: ph, At: base.Add(time.Duration(i) * time.Minute)}); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	got, err := m.History(ctx, "acme", 2)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(got) != 2 || got[0].Phase != v1alpha1.PhaseReady || got[1].Phase != v1alpha1.PhaseProvisioning {
		t.Fatalf("unexpected history %+v", got)
	}
	if got[0].ID == "" {
		t.Fatalf("record id not assigned")
	}
}

func TestMemoryUnknownClusterAndForget(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	if _, err := m.History(ctx, "nope", 0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	_ = m.Record(ctx, PhaseRecord{Cluster: "acme", Phase: v1alpha1.PhaseReady})
	_ = m.Forget(ctx, "acme")
	if _, err := m.History(ctx, "acme", 0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("forget left records behind: %v", err)
	}
}

func TestMemoryBoundsPerCluster(t *testing.T) {
	m := NewMemory()
	m.maxPerCluster = 3
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_ = m.Record(ctx, PhaseRecord{Cluster: "acme", Phase: v1alpha1.PhaseProvisioning, Generation: int64(i)})
	}
	got, _ := m.History(ctx, "acme", 10)
	if len(got) != 3 {
		t.Fatalf("expected 3 records, got %d", len(got))
	}
}

func TestEnvOrMemoryWithoutDSN(t *testing.T) {
	st, err := EnvOrMemory(context.Background(), "")
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if _, ok := st.(*Memory); !ok {
		t.Fatalf("expected the memory store, got %T", st)
	}
}

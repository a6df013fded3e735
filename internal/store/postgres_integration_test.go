//go:build integration
// +build integration

package store

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	v1alpha1 "github.com/vaheed/odoonova/pkg/api/v1alpha1"
)

func startPostgres(t *testing.T) (dsn string, terminate func()) {
	t.Helper()
	ctx := context.Background()
	req := tc.ContainerRequest{
		Image:        "postgres:16",
		ExposedPorts: []string{"5432/tcp"},
		Env:          map[string]string{"POSTGRES_PASSWORD": "pw", "POSTGRES_DB": "odoonova", "POSTGRES_USER": "odoonova"},
		WaitingFor:   wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(60 * time.Second),
	}
	c, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		t.Fatalf("container: %v", err)
	}
	host, _ := c.Host(ctx)
	port, _ := c.MappedPort(ctx, "5432")
	dsn = fmt.Sprintf("postgres://odoonova:pw@%s:%s/odoonova?sslmode=disable", host, port.Port())
	return dsn, func() { _ = c.Terminate(ctx) }
}

func TestPostgresHistoryIntegration(t *testing.T) {
	if os.Getenv("RUN_PG_INTEGRATION") == "" {
		t.Skip("set RUN_PG_INTEGRATION=1 to run")
	}
	dsn, stop := startPostgres(t)
	defer stop()
	ctx := context.Background()
	p, err := NewPostgresStore(ctx, dsn)
	if err != nil {
		t.Fatalf("pg connect: %v", err)
	}
	defer p.Close(ctx)

	base := time.Now().UTC().Truncate(time.Second)
	for i, ph := range []v1alpha1.Phase{v1alpha1.PhaseProvisioning, v1alpha1.PhaseReady} {
		if err := p.Record(ctx, PhaseRecord{Cluster: "acme", Generation: 1, Phase: ph, At: base.Add(time.Duration(i) * time.Second)}); err != nil {
			t.Fatal(err)
		}
	}
	got, err := p.History(ctx, "acme", 10)
	if err != nil || len(got) != 2 || got[0].Phase != v1alpha1.PhaseReady {
		t.Fatalf("history %#v %v", got, err)
	}
	// migrations are idempotent
	if _, err := NewPostgresStore(ctx, dsn); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if err := p.Forget(ctx, "acme"); err != nil {
		t.Fatal(err)
	}
	if _, err := p.History(ctx, "acme", 10); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after forget, got %v", err)
	}
}

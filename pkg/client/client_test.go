package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	httpapi "github.com/vaheed/odoonova/internal/http"
	"github.com/vaheed/odoonova/internal/store"
	v1alpha1 "github.com/vaheed/odoonova/pkg/api/v1alpha1"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	scheme := runtime.NewScheme()
	if err := v1alpha1.AddToScheme(scheme); err != nil {
		t.Fatalf("scheme: %v", err)
	}
	reader := fake.NewClientBuilder().WithScheme(scheme).WithObjects(
		&v1alpha1.OdooCluster{
			ObjectMeta: metav1.ObjectMeta{Name: "acme"},
			Status:     v1alpha1.OdooClusterStatus{Phase: v1alpha1.PhaseReady},
		},
		&v1alpha1.OdooCluster{
			ObjectMeta: metav1.ObjectMeta{Name: "initech"},
			Status:     v1alpha1.OdooClusterStatus{Phase: v1alpha1.PhaseProvisioning},
		},
	).Build()
	hist := store.NewMemory()
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	_ = hist.Record(context.Background(), store.PhaseRecord{Cluster: "acme", Phase: v1alpha1.PhasePending, At: at})
	_ = hist.Record(context.Background(), store.PhaseRecord{Cluster: "acme", Previous: v1alpha1.PhasePending, Phase: v1alpha1.PhaseReady, At: at.Add(time.Minute)})

	srv := httpapi.NewServer(httpapi.Options{Reader: reader, History: hist, Version: "1.2.3"})
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts
}

func TestClientReadsStatus(t *testing.T) {
	ts := newServer(t)
	c := New(ts.URL+"/", "")
	ctx := context.Background()

	v, err := c.Version(ctx)
	if err != nil || v != "1.2.3" {
		t.Fatalf("version: %q %v", v, err)
	}
	all, err := c.ListClusters(ctx, "")
	if err != nil || len(all) != 2 {
		t.Fatalf("list: %v %d", err, len(all))
	}
	ready, err := c.ListClusters(ctx, "Ready")
	if err != nil || len(ready) != 1 || ready[0].Name != "acme" {
		t.Fatalf("filtered list: %v %+v", err, ready)
	}
	d, err := c.GetCluster(ctx, "initech")
	if err != nil || d.Phase != "Provisioning" || d.Namespace != "odoo-initech" {
		t.Fatalf("describe: %v %+v", err, d)
	}
	hist, err := c.History(ctx, "acme", 10)
	if err != nil || len(hist) != 2 || hist[0].Phase != "Ready" || hist[0].Previous != "Pending" {
		t.Fatalf("history: %v %+v", err, hist)
	}
	evs, err := c.Events(ctx, "acme", 0)
	if err != nil || len(evs) != 0 {
		t.Fatalf("events: %v %+v", err, evs)
	}
}

func TestClientSurfacesAPIErrors(t *testing.T) {
	ts := newServer(t)
	c := New(ts.URL, "")
	_, err := c.GetCluster(context.Background(), "missing")
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if apiErr.Status != http.StatusNotFound || apiErr.Code != "ODN-404" {
		t.Fatalf("unexpected error %+v", apiErr)
	}
}

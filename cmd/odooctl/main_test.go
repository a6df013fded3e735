package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	httpapi "github.com/vaheed/odoonova/internal/http"
	"github.com/vaheed/odoonova/internal/store"
	v1alpha1 "github.com/vaheed/odoonova/pkg/api/v1alpha1"
	"github.com/vaheed/odoonova/pkg/types"
)

func startAPI(t *testing.T) string {
	t.Helper()
	scheme := runtime.NewScheme()
	if err := v1alpha1.AddToScheme(scheme); err != nil {
		t.Fatalf("scheme: %v", err)
	}
	reader := fake.NewClientBuilder().WithScheme(scheme).WithObjects(&v1alpha1.OdooCluster{
		ObjectMeta: metav1.ObjectMeta{Name: "acme", Generation: 3},
		Status: v1alpha1.OdooClusterStatus{
			Phase:              v1alpha1.PhaseDegraded,
			ObservedGeneration: 3,
			Conditions: []metav1.Condition{{
				Type:    v1alpha1.ConditionCacheReady,
				Status:  metav1.ConditionFalse,
				Reason:  "RollingOut",
				Message: "0/1 replicas available",
			}},
			ChildRefs: []v1alpha1.ChildRef{{APIVersion: "apps/v1", Kind: "Deployment", Namespace: "odoo-acme", Name: "acme-odoo"}},
		},
	}).Build()
	hist := store.NewMemory()
	_ = hist.Record(context.Background(), store.PhaseRecord{
		Cluster: "acme", Previous: v1alpha1.PhaseReady, Phase: v1alpha1.PhaseDegraded,
		Generation: 3, Reason: "RollingOut", At: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	})
	ts := httptest.NewServer(httpapi.NewServer(httpapi.Options{Reader: reader, History: hist}).Router())
	t.Cleanup(ts.Close)
	return ts.URL
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	cmd := newRootCmd(&buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestListText(t *testing.T) {
	url := startAPI(t)
	out, err := run(t, "--server", url, "list")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, "NAME") || !strings.Contains(out, "acme") || !strings.Contains(out, "Degraded") {
		t.Fatalf("unexpected output:\n%s", out)
	}
}

func TestDescribeJSON(t *testing.T) {
	url := startAPI(t)
	out, err := run(t, "--server", url, "-o", "json", "describe", "acme")
	if err != nil {
		t.Fatalf("describe: %v", err)
	}
	var d types.ClusterDetail
	if err := json.Unmarshal([]byte(out), &d); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	if d.Name != "acme" || len(d.Children) != 1 || d.Children[0].Name != "acme-odoo" {
		t.Fatalf("unexpected detail %+v", d)
	}
}

func TestDescribeText(t *testing.T) {
	url := startAPI(t)
	out, err := run(t, "--server", url, "describe", "acme")
	if err != nil {
		t.Fatalf("describe: %v", err)
	}
	for _, want := range []string{"Namespace:   odoo-acme", "CacheReady", "RollingOut", "Deployment odoo-acme/acme-odoo"} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in:\n%s", want, out)
		}
	}
}

func TestHistoryText(t *testing.T) {
	url := startAPI(t)
	out, err := run(t, "--server", url, "history", "acme")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if !strings.Contains(out, "2025-03-01T12:00:00Z") || !strings.Contains(out, "Ready") {
		t.Fatalf("unexpected output:\n%s", out)
	}
}

func TestMissingClusterFails(t *testing.T) {
	url := startAPI(t)
	if _, err := run(t, "--server", url, "describe", "nope"); err == nil || !strings.Contains(err.Error(), "ODN-404") {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestRejectsUnknownOutput(t *testing.T) {
	if _, err := run(t, "-o", "yaml", "list"); err == nil {
		t.Fatalf("expected an error for -o yaml")
	}
}

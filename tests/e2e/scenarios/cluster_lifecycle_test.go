package scenarios

import (
	"context"
	"testing"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"

	v1alpha1 "github.com/vaheed/odoonova/pkg/api/v1alpha1"
	"github.com/vaheed/odoonova/tests/e2e/assertions"
	"github.com/vaheed/odoonova/tests/e2e/setup"
)

func TestClusterLifecycle(t *testing.T) {
	env := setup.SuiteEnvironment()
	if env == nil {
		t.Skip("suite environment unavailable")
	}
	name := env.ClusterName("lifecycle")
	ctx := context.Background()
	env.Logger().Info("scenario.cluster_lifecycle.start", "cluster", name)

	cluster := &v1alpha1.OdooCluster{
		ObjectMeta: metav1.ObjectMeta{Name: name, Labels: map[string]string{setup.SuiteLabel: "true"}},
		Spec: v1alpha1.OdooClusterSpec{
			Application: v1alpha1.ApplicationSpec{ReplicaCount: 1, StorageSize: "1Gi"},
			Database:    v1alpha1.DatabaseSpec{InstanceCount: 1, StorageSize: "1Gi"},
			Extensions: v1alpha1.ExtensionsSpec{
				Cache: &v1alpha1.CacheSpec{Enabled: true, StorageSize: "1Gi"},
			},
		},
	}
	if err := env.Kube().Create(ctx, cluster); err != nil {
		t.Fatalf("create cluster: %v", err)
	}

	assertions.RequireCondition(t, env, name, v1alpha1.ConditionDatabaseReady, metav1.ConditionTrue, "")
	env.Logger().Info("scenario.cluster_lifecycle.database_ready")

	ready := assertions.RequirePhase(t, env, name, v1alpha1.PhaseReady)
	if !ready.Status.Database.Ready || ready.Status.Database.SecretName == "" {
		t.Fatalf("database status not published: %+v", ready.Status.Database)
	}
	assertions.RequireStatusAPIPhase(t, env, name, v1alpha1.PhaseReady)
	env.Logger().Info("scenario.cluster_lifecycle.ready")

	// disabling the cache must converge back to Ready without it
	patch := client.MergeFrom(ready.DeepCopyObject().(client.Object))
	ready.Spec.Extensions.Cache.Enabled = false
	if err := env.Kube().Patch(ctx, ready, patch); err != nil {
		t.Fatalf("disable cache: %v", err)
	}
	assertions.RequirePhase(t, env, name, v1alpha1.PhaseReady)
	env.Logger().Info("scenario.cluster_lifecycle.cache_disabled")

	if err := env.Kube().Delete(ctx, ready); err != nil {
		t.Fatalf("delete cluster: %v", err)
	}
	assertions.RequireGone(t, env, name, "odoo-"+name)
	env.Logger().Info("scenario.cluster_lifecycle.torn_down")
}

func TestInvalidSpecIsRejected(t *testing.T) {
	env := setup.SuiteEnvironment()
	if env == nil {
		t.Skip("suite environment unavailable")
	}
	name := env.ClusterName("invalid")
	ctx := context.Background()
	cluster := &v1alpha1.OdooCluster{
		ObjectMeta: metav1.ObjectMeta{Name: name, Labels: map[string]string{setup.SuiteLabel: "true"}},
		Spec: v1alpha1.OdooClusterSpec{
			Database: v1alpha1.DatabaseSpec{InstanceCount: 1},
			Extensions: v1alpha1.ExtensionsSpec{
				Analytics: &v1alpha1.AnalyticsSpec{Enabled: true, Tool: "superset"},
			},
		},
	}
	if err := env.Kube().Create(ctx, cluster); err != nil {
		t.Fatalf("create cluster: %v", err)
	}
	t.Cleanup(func() { _ = client.IgnoreNotFound(env.Kube().Delete(context.Background(), cluster)) })

	assertions.RequireCondition(t, env, name, v1alpha1.ConditionDegraded, metav1.ConditionTrue, "InvalidSpec")
}

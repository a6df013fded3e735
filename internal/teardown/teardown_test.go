package teardown

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	appsv1 "k8s.io/api/apps/v1"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	rbacv1 "k8s.io/api/rbac/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/tools/record"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"
	"sigs.k8s.io/controller-runtime/pkg/client/interceptor"

	"github.com/vaheed/odoonova/internal/builder"
	v1alpha1 "github.com/vaheed/odoonova/pkg/api/v1alpha1"
)

var deletedAt = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

const clusterUID = types.UID("7d0c2a4e-5b1f-4c1e-9a57-3f0e8c2d1b6a")

func deletingCluster() *v1alpha1.OdooCluster {
	ts := metav1.NewTime(deletedAt)
	return &v1alpha1.OdooCluster{ObjectMeta: metav1.ObjectMeta{
		Name:              "acme",
		UID:               clusterUID,
		DeletionTimestamp: &ts,
		Finalizers:        []string{"odoo.simstech.cloud/finalizer"},
	}}
}

func newScheme() *runtime.Scheme {
	scheme := runtime.NewScheme()
	_ = corev1.AddToScheme(scheme)
	_ = appsv1.AddToScheme(scheme)
	_ = batchv1.AddToScheme(scheme)
	_ = networkingv1.AddToScheme(scheme)
	_ = rbacv1.AddToScheme(scheme)
	_ = v1alpha1.AddToScheme(scheme)
	return scheme
}

func controller(uid types.UID) []metav1.OwnerReference {
	yes := true
	return []metav1.OwnerReference{{
		APIVersion: v1alpha1.GroupVersion.String(),
		Kind:       v1alpha1.Kind,
		Name:       "acme",
		UID:        uid,
		Controller: &yes,
	}}
}

func children() []client.Object {
	ns := "odoo-acme"
	owned := metav1.ObjectMeta{Namespace: ns, OwnerReferences: controller(clusterUID)}
	deploy := func(name string) *appsv1.Deployment {
		meta := owned
		meta.Name = name
		return &appsv1.Deployment{ObjectMeta: meta}
	}
	claim := func(name string) *corev1.PersistentVolumeClaim {
		meta := owned
		meta.Name = name
		return &corev1.PersistentVolumeClaim{ObjectMeta: meta}
	}
	db := &unstructured.Unstructured{}
	db.SetGroupVersionKind(builder.DatabaseClusterGVK)
	db.SetNamespace(ns)
	db.SetName("acme-db")
	db.SetOwnerReferences(controller(clusterUID))
	return []client.Object{
		&corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: ns, OwnerReferences: controller(clusterUID)}},
		claim("acme-odoo-filestore"),
		claim("acme-valkey-data"),
		db,
		deploy("acme-odoo"),
		deploy("acme-valkey"),
	}
}

type deleteLog struct{ names []string }

func (l *deleteLog) funcs() interceptor.Funcs {
	return interceptor.Funcs{
		Delete: func(ctx context.Context, c client.WithWatch, obj client.Object, opts ...client.DeleteOption) error {
			if err := c.Delete(ctx, obj, opts...); err != nil {
				return err
			}
			l.names = append(l.names, obj.GetObjectKind().GroupVersionKind().Kind+"/"+obj.GetName())
			return nil
		},
	}
}

func TestRunDeletesInStageOrder(t *testing.T) {
	log := &deleteLog{}
	c := fake.NewClientBuilder().WithScheme(newScheme()).WithObjects(children()...).WithInterceptorFuncs(log.funcs()).Build()
	rec := record.NewFakeRecorder(10)
	s := &Sequencer{Client: c, Recorder: rec, Now: func() time.Time { return deletedAt.Add(time.Minute) }}

	out, err := s.Run(context.Background(), deletingCluster())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !out.Done || out.TimedOut {
		t.Fatalf("expected a completed teardown, got %+v", out)
	}
	want := []string{
		"Deployment/acme-valkey",
		"Deployment/acme-odoo",
		"Cluster/acme-db",
		"PersistentVolumeClaim/acme-valkey-data",
		"PersistentVolumeClaim/acme-odoo-filestore",
		"Namespace/odoo-acme",
	}
	if diff := cmp.Diff(want, log.names); diff != "" {
		t.Fatalf("delete order (-want +got):\n%s", diff)
	}
	select {
	case ev := <-rec.Events:
		if !strings.Contains(ev, EventTeardownComplete) {
			t.Fatalf("unexpected event %q", ev)
		}
	default:
		t.Fatalf("expected a completion event")
	}
}

// stuck makes one object survive deletion, the way a finalizer would.
func stuck(kind, name string) interceptor.Funcs {
	return interceptor.Funcs{
		Delete: func(ctx context.Context, c client.WithWatch, obj client.Object, opts ...client.DeleteOption) error {
			if obj.GetObjectKind().GroupVersionKind().Kind == kind && obj.GetName() == name {
				return nil
			}
			return c.Delete(ctx, obj, opts...)
		},
	}
}

func TestRunWaitsForStage(t *testing.T) {
	c := fake.NewClientBuilder().WithScheme(newScheme()).WithObjects(children()...).
		WithInterceptorFuncs(stuck("Deployment", "acme-odoo")).Build()
	s := &Sequencer{Client: c, Now: func() time.Time { return deletedAt.Add(time.Minute) }}

	out, err := s.Run(context.Background(), deletingCluster())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.Done || out.Stage != builder.StageWorkloads || out.RequeueAfter != PollInterval {
		t.Fatalf("expected to wait on workloads, got %+v", out)
	}
	if diff := cmp.Diff([]string{"Deployment/odoo-acme/acme-odoo"}, out.Remaining); diff != "" {
		t.Fatalf("remaining (-want +got):\n%s", diff)
	}
	var claim corev1.PersistentVolumeClaim
	if err := c.Get(context.Background(), client.ObjectKey{Namespace: "odoo-acme", Name: "acme-odoo-filestore"}, &claim); err != nil {
		t.Fatalf("data must outlive workloads: %v", err)
	}
}

func TestRunForcesCompletionAfterTimeout(t *testing.T) {
	c := fake.NewClientBuilder().WithScheme(newScheme()).WithObjects(children()...).
		WithInterceptorFuncs(stuck("Cluster", "acme-db")).Build()
	rec := record.NewFakeRecorder(10)
	s := &Sequencer{
		Client:   c,
		Recorder: rec,
		Timeout:  10 * time.Minute,
		Now:      func() time.Time { return deletedAt.Add(11 * time.Minute) },
	}

	out, err := s.Run(context.Background(), deletingCluster())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !out.Done || !out.TimedOut || out.Stage != builder.StageDatabase {
		t.Fatalf("expected a forced completion in the database stage, got %+v", out)
	}
	ev := <-rec.Events
	if !strings.HasPrefix(ev, "Warning "+EventTeardownTimeout) {
		t.Fatalf("event = %q", ev)
	}
}

func TestRunLeavesForeignObjects(t *testing.T) {
	// A namespace and a deployment that happen to carry catalog names but
	// belong to another owner, plus one owned child.
	foreignNS := &corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: "odoo-acme", OwnerReferences: controller("0b9e6f1c")}}
	unowned := &appsv1.Deployment{ObjectMeta: metav1.ObjectMeta{Name: "acme-odoo", Namespace: "odoo-acme"}}
	mine := &appsv1.Deployment{ObjectMeta: metav1.ObjectMeta{Name: "acme-valkey", Namespace: "odoo-acme", OwnerReferences: controller(clusterUID)}}
	log := &deleteLog{}
	c := fake.NewClientBuilder().WithScheme(newScheme()).WithObjects(foreignNS, unowned, mine).
		WithInterceptorFuncs(log.funcs()).Build()
	s := &Sequencer{Client: c, Now: func() time.Time { return deletedAt.Add(time.Minute) }}

	out, err := s.Run(context.Background(), deletingCluster())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !out.Done || out.TimedOut {
		t.Fatalf("expected a completed teardown, got %+v", out)
	}
	if diff := cmp.Diff([]string{"Deployment/acme-valkey"}, log.names); diff != "" {
		t.Fatalf("deletes (-want +got):\n%s", diff)
	}
	ctx := context.Background()
	if err := c.Get(ctx, client.ObjectKey{Name: "odoo-acme"}, &corev1.Namespace{}); err != nil {
		t.Fatalf("foreign namespace removed: %v", err)
	}
	if err := c.Get(ctx, client.ObjectKey{Namespace: "odoo-acme", Name: "acme-odoo"}, &appsv1.Deployment{}); err != nil {
		t.Fatalf("unowned deployment removed: %v", err)
	}
}

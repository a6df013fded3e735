// Package builder computes the full desired set of Kubernetes objects for an
// OdooCluster. Build is pure: it reads nothing but its argument and the same
// spec always yields byte-identical objects.
package builder

import (
	"fmt"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/vaheed/odoonova/internal/addons"
	v1alpha1 "github.com/vaheed/odoonova/pkg/api/v1alpha1"
)

// Stage orders teardown. Lower stages are removed first.
type Stage int

const (
	StageWorkloads Stage = iota
	StageDatabase
	StageData
	StageNamespace
)

func (s Stage) String() string {
	switch s {
	case StageWorkloads:
		return "workloads"
	case StageDatabase:
		return "database"
	case StageData:
		return "data"
	case StageNamespace:
		return "namespace"
	default:
		return fmt.Sprintf("stage-%d", int(s))
	}
}

// Desired is one object the cluster should have, with its apply policy.
type Desired struct {
	Object    client.Object
	Component Component
	Stage     Stage
	// RequiresDatabase holds the object back until the database reports ready.
	RequiresDatabase bool
	// RequiresInit holds the object back until the database init job has
	// completed for the current desired set.
	RequiresInit bool
	// CreateOnly objects are created once and never patched.
	CreateOnly bool
	// Replace objects are deleted and created again when their content
	// changes, for kinds whose spec is immutable.
	Replace bool
}

// GVK returns the object's kind. Every built object carries its TypeMeta.
func (d Desired) GVK() schema.GroupVersionKind {
	return d.Object.GetObjectKind().GroupVersionKind()
}

// Key identifies the object in the API.
func (d Desired) Key() client.ObjectKey {
	return client.ObjectKeyFromObject(d.Object)
}

// DesiredSet is the ordered output of Build.
type DesiredSet struct {
	Names   Names
	Objects []Desired
	// Endpoints are the hostnames exposed by the networking modes, sorted.
	Endpoints []string
}

// Find returns the desired object for kind and name.
func (s *DesiredSet) Find(kind, name string) (Desired, bool) {
	for _, d := range s.Objects {
		if d.GVK().Kind == kind && d.Object.GetName() == name {
			return d, true
		}
	}
	return Desired{}, false
}

type setBuilder struct {
	cluster *v1alpha1.OdooCluster
	spec    v1alpha1.OdooClusterSpec
	names   Names
	owner   metav1.OwnerReference
	addons  *addons.Plan
	out     []Desired
}

// Build validates cluster and returns every object it should own.
func Build(cluster *v1alpha1.OdooCluster) (*DesiredSet, error) {
	if err := Validate(cluster); err != nil {
		return nil, err
	}
	b := &setBuilder{
		cluster: cluster,
		spec:    withDefaults(cluster.Name, cluster.Spec),
		names:   NamesFor(cluster.Name),
		owner:   *metav1.NewControllerRef(cluster, v1alpha1.GroupVersion.WithKind(v1alpha1.Kind)),
	}
	plan, err := addons.Resolve(b.spec.Application.Addons, addons.Options{VolumeName: volumeAddons})
	if err != nil {
		return nil, err
	}
	b.addons = plan

	steps := []func() error{
		b.namespace,
		b.database,
		b.application,
		b.cache,
		b.analytics,
		b.overlayNetwork,
		b.publicTunnel,
		b.ingress,
		b.filestoreBackup,
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return nil, err
		}
	}
	for i := range b.out {
		stampHash(b.out[i].Object)
	}
	return &DesiredSet{Names: b.names, Objects: b.out, Endpoints: exposedHostnames(b.spec)}, nil
}

// add stamps metadata shared by every child and appends it to the set.
func (b *setBuilder) add(obj client.Object, gvk schema.GroupVersionKind, d Desired) {
	obj.GetObjectKind().SetGroupVersionKind(gvk)
	if gvk != namespaceGVK {
		obj.SetNamespace(b.names.Namespace)
	}
	obj.SetLabels(MergeLabels(StandardLabels(b.cluster.Name, d.Component), obj.GetLabels()))
	obj.SetOwnerReferences([]metav1.OwnerReference{b.owner})
	d.Object = obj
	b.out = append(b.out, d)
}

func (b *setBuilder) objectMeta(name string, component Component) metav1.ObjectMeta {
	return metav1.ObjectMeta{Name: name, Labels: StandardLabels(b.cluster.Name, component)}
}

func (b *setBuilder) namespace() error {
	ns := &corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: b.names.Namespace}}
	b.add(ns, namespaceGVK, Desired{Component: ComponentNamespace, Stage: StageNamespace})
	return nil
}

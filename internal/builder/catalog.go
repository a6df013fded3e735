package builder

import (
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

// Ref identifies one child the controller may have created.
type Ref struct {
	GVK       schema.GroupVersionKind
	Namespace string
	Name      string
	Component Component
	Stage     Stage
}

func (r Ref) String() string {
	if r.Namespace == "" {
		return r.GVK.Kind + "/" + r.Name
	}
	return r.GVK.Kind + "/" + r.Namespace + "/" + r.Name
}

// Object returns an empty object addressing r, usable for Get and Delete.
func (r Ref) Object() client.Object {
	u := &unstructured.Unstructured{}
	u.SetGroupVersionKind(r.GVK)
	u.SetNamespace(r.Namespace)
	u.SetName(r.Name)
	return u
}

// Catalog lists every child that any spec of the named cluster can produce,
// in teardown order: workloads, then the database, then data and
// configuration, then the namespace. Within a stage, optional components go
// before the application.
func Catalog(cluster string) []Ref {
	n := NamesFor(cluster)
	ns := n.Namespace
	ref := func(gvk schema.GroupVersionKind, name string, c Component, s Stage) Ref {
		return Ref{GVK: gvk, Namespace: ns, Name: name, Component: c, Stage: s}
	}
	return []Ref{
		ref(deploymentGVK, n.Tunnel, ComponentNetworking, StageWorkloads),
		ref(ingressGVK, n.Ingress, ComponentNetworking, StageWorkloads),
		ref(cronJobGVK, n.FilestoreBackup, ComponentBackup, StageWorkloads),
		ref(deploymentGVK, n.Analytics, ComponentAnalytics, StageWorkloads),
		ref(serviceGVK, n.Analytics, ComponentAnalytics, StageWorkloads),
		ref(deploymentGVK, n.Cache, ComponentCache, StageWorkloads),
		ref(serviceGVK, n.Cache, ComponentCache, StageWorkloads),
		ref(deploymentGVK, n.Application, ComponentApplication, StageWorkloads),
		ref(serviceGVK, n.Application, ComponentApplication, StageWorkloads),
		ref(JobGVK, n.AppDBInit, ComponentDBInit, StageWorkloads),

		ref(ScheduledBackupGVK, n.DatabaseBackup, ComponentDatabase, StageDatabase),
		ref(DatabaseClusterGVK, n.Database, ComponentDatabase, StageDatabase),

		ref(pvcGVK, n.CacheData, ComponentCache, StageData),
		ref(pvcGVK, n.AnalyticsData, ComponentAnalytics, StageData),
		ref(pvcGVK, n.AppOverlayState, ComponentNetworking, StageData),
		ref(pvcGVK, n.AnalyticsOverlayState, ComponentNetworking, StageData),
		ref(pvcGVK, n.AppFilestore, ComponentApplication, StageData),
		ref(pvcGVK, n.AppAddons, ComponentApplication, StageData),
		ref(configMapGVK, n.TunnelConfig, ComponentNetworking, StageData),
		ref(configMapGVK, n.OverlayServe, ComponentNetworking, StageData),
		ref(roleBindingGVK, n.OverlayRole, ComponentNetworking, StageData),
		ref(roleGVK, n.OverlayRole, ComponentNetworking, StageData),
		ref(configMapGVK, n.AppConfig, ComponentApplication, StageData),
		ref(secretGVK, n.AppAdmin, ComponentApplication, StageData),
		ref(saGVK, n.Application, ComponentApplication, StageData),

		{GVK: namespaceGVK, Name: ns, Component: ComponentNamespace, Stage: StageNamespace},
	}
}

package builder

import "maps"

// Standard Kubernetes label keys following kubernetes.io conventions.
const (
	LabelAppName      = "app.kubernetes.io/name"
	LabelAppInstance  = "app.kubernetes.io/instance"
	LabelAppComponent = "app.kubernetes.io/component"
	LabelAppPartOf    = "app.kubernetes.io/part-of"
	LabelAppManagedBy = "app.kubernetes.io/managed-by"
)

const (
	AppNameOdoo   = "odoo"
	ManagedByOdoo = "odoonova"

	// LabelCluster identifies which OdooCluster a resource belongs to.
	LabelCluster = "odoo.simstech.cloud/cluster"
)

const (
	// AnnotationSpecHash stores the hash of the desired content last applied.
	AnnotationSpecHash = "odoo.simstech.cloud/spec-hash"
	// AnnotationConfigHash on pod templates rolls pods when rendered config changes.
	AnnotationConfigHash = "odoo.simstech.cloud/config-hash"
	// AnnotationPurge opts a retained PersistentVolumeClaim into deletion.
	AnnotationPurge = "odoo.simstech.cloud/purge"
)

// Component groups the children of a cluster into tracked families.
type Component string

const (
	ComponentNamespace   Component = "namespace"
	ComponentDatabase    Component = "database"
	ComponentApplication Component = "application"
	ComponentDBInit      Component = "db-init"
	ComponentCache       Component = "cache"
	ComponentAnalytics   Component = "analytics"
	ComponentNetworking  Component = "networking"
	ComponentBackup      Component = "backup"
)

// StandardLabels returns the labels carried by every child of cluster.
func StandardLabels(cluster string, component Component) map[string]string {
	return map[string]string{
		LabelAppName:      AppNameOdoo,
		LabelAppInstance:  cluster,
		LabelAppComponent: string(component),
		LabelAppPartOf:    AppNameOdoo,
		LabelAppManagedBy: ManagedByOdoo,
		LabelCluster:      cluster,
	}
}

var selectorLabelsAllowList = map[string]bool{
	LabelAppInstance:  true,
	LabelAppComponent: true,
	LabelCluster:      true,
}

// SelectorLabels keeps only the stable identity labels, so selectors never
// change when mutable metadata does.
func SelectorLabels(labels map[string]string) map[string]string {
	out := make(map[string]string, len(selectorLabelsAllowList))
	for k, v := range labels {
		if selectorLabelsAllowList[k] {
			out[k] = v
		}
	}
	return out
}

// MergeLabels returns a new map with the keys of extra layered over base.
func MergeLabels(base, extra map[string]string) map[string]string {
	out := maps.Clone(base)
	if out == nil {
		out = map[string]string{}
	}
	maps.Copy(out, extra)
	return out
}

package builder

import (
	"sort"
	"strings"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"

	v1alpha1 "github.com/vaheed/odoonova/pkg/api/v1alpha1"
)

const (
	DefaultOdooVersion          = "17.0"
	DefaultStorageSize          = "10Gi"
	DefaultAddonsStorageSize    = "5Gi"
	DefaultExtensionStorageSize = "1Gi"
	DefaultBackupSchedule       = "0 2 * * *"
	DefaultBackupRetention      = "30d"
	DefaultFilestoreSchedule    = "30 2 * * *"
	DefaultBackupBucket         = "odoo-backups"
	DefaultTunnelReplicas       = 2
	DefaultAnalyticsTool        = "metabase"
)

// withDefaults returns a copy of spec with every optional value filled in.
func withDefaults(name string, in v1alpha1.OdooClusterSpec) v1alpha1.OdooClusterSpec {
	spec := in.DeepCopy()

	app := &spec.Application
	if app.Version == "" {
		app.Version = DefaultOdooVersion
	}
	if app.Image == "" {
		app.Image = "odoo:" + app.Version
	}
	if app.ReplicaCount == 0 {
		app.ReplicaCount = 1
	}
	if app.StorageSize == "" {
		app.StorageSize = DefaultStorageSize
	}
	if app.AddonsStorageSize == "" {
		app.AddonsStorageSize = DefaultAddonsStorageSize
	}
	if isEmptyResources(app.Resources) {
		app.Resources = resources("500m", "1Gi", "2", "4Gi")
	}

	db := &spec.Database
	if db.StorageSize == "" {
		db.StorageSize = DefaultStorageSize
	}
	if isEmptyResources(db.Resources) {
		db.Resources = resources("250m", "512Mi", "1", "2Gi")
	}
	if b := db.Backup; b != nil {
		if b.Schedule == "" {
			b.Schedule = DefaultBackupSchedule
		}
		if b.Retention == "" {
			b.Retention = DefaultBackupRetention
		}
		if b.DestinationPath == "" {
			b.DestinationPath = "s3://" + DefaultBackupBucket + "/" + name
		}
		if b.FilestoreSchedule == "" {
			b.FilestoreSchedule = DefaultFilestoreSchedule
		}
	}

	if c := spec.Extensions.Cache; c != nil {
		if c.StorageSize == "" {
			c.StorageSize = DefaultExtensionStorageSize
		}
		if isEmptyResources(c.Resources) {
			c.Resources = resources("100m", "128Mi", "500m", "512Mi")
		}
	}
	if a := spec.Extensions.Analytics; a != nil {
		if a.Tool == "" {
			a.Tool = DefaultAnalyticsTool
		}
		if a.StorageSize == "" {
			a.StorageSize = DefaultExtensionStorageSize
		}
		if isEmptyResources(a.Resources) {
			a.Resources = resources("250m", "1Gi", "1", "2Gi")
		}
	}
	if t := spec.Networking.PublicTunnel; t != nil && t.Replicas == 0 {
		t.Replicas = DefaultTunnelReplicas
	}
	return spec
}

func isEmptyResources(r corev1.ResourceRequirements) bool {
	return len(r.Requests) == 0 && len(r.Limits) == 0 && len(r.Claims) == 0
}

func resources(cpuReq, memReq, cpuLim, memLim string) corev1.ResourceRequirements {
	return corev1.ResourceRequirements{
		Requests: corev1.ResourceList{
			corev1.ResourceCPU:    resource.MustParse(cpuReq),
			corev1.ResourceMemory: resource.MustParse(memReq),
		},
		Limits: corev1.ResourceList{
			corev1.ResourceCPU:    resource.MustParse(cpuLim),
			corev1.ResourceMemory: resource.MustParse(memLim),
		},
	}
}

// exposedHostnames lists every hostname a networking mode publishes.
func exposedHostnames(spec v1alpha1.OdooClusterSpec) []string {
	var out []string
	net := spec.Networking
	if o := net.OverlayNetwork; o != nil {
		for _, ep := range overlayEndpoints(o) {
			if ep.cfg.Enabled {
				out = append(out, strings.ToLower(overlayFQDN(o, ep.cfg.Hostname)))
			}
		}
	}
	if t := net.PublicTunnel; t != nil && t.Enabled {
		for _, r := range t.Routes {
			out = append(out, strings.ToLower(r.Hostname))
		}
	}
	if in := net.Ingress; in != nil && in.Enabled {
		for _, r := range in.Rules {
			out = append(out, strings.ToLower(r.Hostname))
		}
	}
	sort.Strings(out)
	return out
}

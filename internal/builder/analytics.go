package builder

import (
	"fmt"

	corev1 "k8s.io/api/core/v1"

	v1alpha1 "github.com/vaheed/odoonova/pkg/api/v1alpha1"
)

const (
	AnalyticsPort  = 3000
	AnalyticsImage = "metabase/metabase:v0.50.26"
)

func (b *setBuilder) analytics() error {
	if !analyticsEnabled(b.spec) {
		return nil
	}
	a := b.spec.Extensions.Analytics
	n := b.names

	b.pvc(n.AnalyticsData, a.StorageSize, corev1.ReadWriteOnce, ComponentAnalytics)

	containers := []corev1.Container{{
		Name:  "metabase",
		Image: AnalyticsImage,
		Ports: []corev1.ContainerPort{{Name: "http", ContainerPort: AnalyticsPort, Protocol: corev1.ProtocolTCP}},
		Env: []corev1.EnvVar{
			{Name: "MB_DB_TYPE", Value: "postgres"},
			{Name: "MB_DB_HOST", Value: n.DatabaseHost()},
			{Name: "MB_DB_PORT", Value: fmt.Sprint(DatabasePort)},
			{Name: "MB_DB_DBNAME", Value: AnalyticsDatabaseName},
			{Name: "MB_DB_USER", Value: DatabaseUser},
			b.dbPasswordEnv("MB_DB_PASS"),
			{Name: "MB_PLUGINS_DIR", Value: "/plugins"},
			{Name: "JAVA_OPTS", Value: "-Xmx1g"},
		},
		VolumeMounts:   []corev1.VolumeMount{{Name: "data", MountPath: "/plugins"}},
		Resources:      a.Resources,
		ReadinessProbe: httpProbe("/api/health", AnalyticsPort, 60, 10, 6),
		LivenessProbe:  httpProbe("/api/health", AnalyticsPort, 180, 30, 3),
	}}
	volumes := []corev1.Volume{pvcVolume("data", n.AnalyticsData)}
	pod := corev1.PodSpec{Containers: containers, Volumes: volumes}
	if sidecar, vols := b.overlaySidecar(v1alpha1.EndpointAnalytics, n.AnalyticsOverlayState); sidecar != nil {
		pod.Containers = append(pod.Containers, *sidecar)
		pod.Volumes = append(pod.Volumes, vols...)
		pod.ServiceAccountName = n.Application
	}

	selector := b.deployment(deploymentOpts{
		name:             n.Analytics,
		component:        ComponentAnalytics,
		replicas:         1,
		recreate:         true,
		pod:              pod,
		requiresDatabase: true,
	})
	b.service(n.Analytics, ComponentAnalytics, selector, servicePort{name: "http", port: AnalyticsPort})
	return nil
}

package builder

import (
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
)

const (
	CachePort  = 6379
	CacheImage = "valkey/valkey:8-alpine"
)

func (b *setBuilder) cache() error {
	if !cacheEnabled(b.spec) {
		return nil
	}
	c := b.spec.Extensions.Cache
	n := b.names

	b.pvc(n.CacheData, c.StorageSize, corev1.ReadWriteOnce, ComponentCache)

	selector := b.deployment(deploymentOpts{
		name:      n.Cache,
		component: ComponentCache,
		replicas:  1,
		recreate:  true,
		pod: corev1.PodSpec{
			Containers: []corev1.Container{{
				Name:  "valkey",
				Image: CacheImage,
				Args: []string{
					"--appendonly", "yes",
					"--maxmemory", "256mb",
					"--maxmemory-policy", "allkeys-lru",
				},
				Ports:        []corev1.ContainerPort{{Name: "valkey", ContainerPort: CachePort, Protocol: corev1.ProtocolTCP}},
				VolumeMounts: []corev1.VolumeMount{{Name: "data", MountPath: "/data"}},
				Resources:    c.Resources,
				ReadinessProbe: &corev1.Probe{
					ProbeHandler: corev1.ProbeHandler{
						Exec: &corev1.ExecAction{Command: []string{"valkey-cli", "ping"}},
					},
					InitialDelaySeconds: 5,
					PeriodSeconds:       10,
				},
				LivenessProbe: &corev1.Probe{
					ProbeHandler: corev1.ProbeHandler{
						TCPSocket: &corev1.TCPSocketAction{Port: intstr.FromInt32(CachePort)},
					},
					InitialDelaySeconds: 15,
					PeriodSeconds:       20,
				},
			}},
			Volumes: []corev1.Volume{pvcVolume("data", n.CacheData)},
		},
	})
	b.service(n.Cache, ComponentCache, selector, servicePort{name: "valkey", port: CachePort})
	return nil
}

package builder

import (
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
	"k8s.io/utils/ptr"
)

var (
	namespaceGVK  = corev1.SchemeGroupVersion.WithKind("Namespace")
	deploymentGVK = appsv1.SchemeGroupVersion.WithKind("Deployment")
	serviceGVK    = corev1.SchemeGroupVersion.WithKind("Service")
	configMapGVK  = corev1.SchemeGroupVersion.WithKind("ConfigMap")
	secretGVK     = corev1.SchemeGroupVersion.WithKind("Secret")
	pvcGVK        = corev1.SchemeGroupVersion.WithKind("PersistentVolumeClaim")
	saGVK         = corev1.SchemeGroupVersion.WithKind("ServiceAccount")
)

// pvc builds a claim sized from a validated quantity string.
func (b *setBuilder) pvc(name, size string, mode corev1.PersistentVolumeAccessMode, component Component) *corev1.PersistentVolumeClaim {
	claim := &corev1.PersistentVolumeClaim{
		ObjectMeta: b.objectMeta(name, component),
		Spec: corev1.PersistentVolumeClaimSpec{
			AccessModes: []corev1.PersistentVolumeAccessMode{mode},
			Resources: corev1.VolumeResourceRequirements{
				Requests: corev1.ResourceList{
					corev1.ResourceStorage: resource.MustParse(size),
				},
			},
		},
	}
	if sc := b.spec.Application.StorageClassName; sc != nil {
		claim.Spec.StorageClassName = ptr.To(*sc)
	}
	b.add(claim, pvcGVK, Desired{Component: component, Stage: StageData})
	return claim
}

type servicePort struct {
	name string
	port int32
}

func (b *setBuilder) service(name string, component Component, selector map[string]string, ports ...servicePort) {
	svc := &corev1.Service{
		ObjectMeta: b.objectMeta(name, component),
		Spec: corev1.ServiceSpec{
			Type:     corev1.ServiceTypeClusterIP,
			Selector: selector,
		},
	}
	for _, p := range ports {
		svc.Spec.Ports = append(svc.Spec.Ports, corev1.ServicePort{
			Name:       p.name,
			Port:       p.port,
			TargetPort: intstr.FromInt32(p.port),
			Protocol:   corev1.ProtocolTCP,
		})
	}
	b.add(svc, serviceGVK, Desired{Component: component, Stage: StageWorkloads})
}

type deploymentOpts struct {
	name             string
	component        Component
	replicas         int32
	recreate         bool
	podAnnotations   map[string]string
	pod              corev1.PodSpec
	requiresDatabase bool
	requiresInit     bool
}

// deployment wraps a pod spec and returns the selector labels it uses.
func (b *setBuilder) deployment(o deploymentOpts) map[string]string {
	labels := StandardLabels(b.cluster.Name, o.component)
	selector := SelectorLabels(labels)
	strategy := appsv1.DeploymentStrategy{Type: appsv1.RollingUpdateDeploymentStrategyType}
	if o.recreate {
		strategy = appsv1.DeploymentStrategy{Type: appsv1.RecreateDeploymentStrategyType}
	}
	dep := &appsv1.Deployment{
		ObjectMeta: b.objectMeta(o.name, o.component),
		Spec: appsv1.DeploymentSpec{
			Replicas: ptr.To(o.replicas),
			Selector: &metav1.LabelSelector{MatchLabels: selector},
			Strategy: strategy,
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{
					Labels:      labels,
					Annotations: o.podAnnotations,
				},
				Spec: o.pod,
			},
		},
	}
	b.add(dep, deploymentGVK, Desired{
		Component:        o.component,
		Stage:            StageWorkloads,
		RequiresDatabase: o.requiresDatabase,
		RequiresInit:     o.requiresInit,
	})
	return selector
}

func httpProbe(path string, port int32, delay, period, failures int32) *corev1.Probe {
	return &corev1.Probe{
		ProbeHandler: corev1.ProbeHandler{
			HTTPGet: &corev1.HTTPGetAction{Path: path, Port: intstr.FromInt32(port)},
		},
		InitialDelaySeconds: delay,
		PeriodSeconds:       period,
		TimeoutSeconds:      5,
		FailureThreshold:    failures,
	}
}

func pvcVolume(name, claim string) corev1.Volume {
	return corev1.Volume{
		Name: name,
		VolumeSource: corev1.VolumeSource{
			PersistentVolumeClaim: &corev1.PersistentVolumeClaimVolumeSource{ClaimName: claim},
		},
	}
}

func configMapVolume(name, configMap string, items ...corev1.KeyToPath) corev1.Volume {
	return corev1.Volume{
		Name: name,
		VolumeSource: corev1.VolumeSource{
			ConfigMap: &corev1.ConfigMapVolumeSource{
				LocalObjectReference: corev1.LocalObjectReference{Name: configMap},
				Items:                items,
			},
		},
	}
}

func secretEnv(name, secret, key string) corev1.EnvVar {
	return corev1.EnvVar{
		Name: name,
		ValueFrom: &corev1.EnvVarSource{SecretKeyRef: &corev1.SecretKeySelector{
			LocalObjectReference: corev1.LocalObjectReference{Name: secret},
			Key:                  key,
		}},
	}
}

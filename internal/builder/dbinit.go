package builder

import (
	"path"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/utils/ptr"
)

// JobGVK is the kind of the database init job.
var JobGVK = batchv1.SchemeGroupVersion.WithKind("Job")

const dbInitBackoffLimit = 3

// databaseInit builds the job that creates the odoo schema and installs the
// addon modules marked for install. It runs with the application's config,
// volumes and addon checkouts, and the application deployment waits for it.
func (b *setBuilder) databaseInit(env []corev1.EnvVar, mounts []corev1.VolumeMount, volumes []corev1.Volume) {
	n := b.names
	app := b.spec.Application
	job := &batchv1.Job{
		ObjectMeta: b.objectMeta(n.AppDBInit, ComponentDBInit),
		Spec: batchv1.JobSpec{
			BackoffLimit: ptr.To[int32](dbInitBackoffLimit),
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: StandardLabels(b.cluster.Name, ComponentDBInit)},
				Spec: corev1.PodSpec{
					RestartPolicy:      corev1.RestartPolicyOnFailure,
					ServiceAccountName: n.Application,
					SecurityContext:    &corev1.PodSecurityContext{FSGroup: ptr.To[int64](odooUID)},
					InitContainers:     b.addons.InitContainers(),
					Containers: []corev1.Container{{
						Name:  "db-init",
						Image: app.Image,
						// The image entrypoint waits for the database and adds the
						// connection flags from the environment.
						Args: []string{
							"odoo",
							"--config=" + path.Join(odooConfigDir, odooConfigFile),
							"--database=" + DatabaseName,
							"--init=" + b.addons.InitModules(),
							"--without-demo=all",
							"--stop-after-init",
							"--no-http",
						},
						Env:          env,
						VolumeMounts: mounts,
						Resources:    app.Resources,
					}},
					Volumes: volumes,
				},
			},
		},
	}
	b.add(job, JobGVK, Desired{
		Component:        ComponentDBInit,
		Stage:            StageWorkloads,
		RequiresDatabase: true,
		Replace:          true,
	})
}

package builder

import (
	"fmt"
	"slices"
	"strings"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/utils/ptr"

	"github.com/vaheed/odoonova/internal/addons"
	v1alpha1 "github.com/vaheed/odoonova/pkg/api/v1alpha1"
)

const (
	OdooHTTPPort        = 8069
	OdooLongpollingPort = 8072

	// AdminPasswordKey is the key of the generated admin credential.
	AdminPasswordKey = "admin-password"

	odooConfigFile = "odoo.conf"
	odooDataDir    = "/var/lib/odoo"
	odooConfigDir  = "/etc/odoo"
	odooUID        = 101

	volumeConfig    = "config"
	volumeFilestore = "filestore"
	volumeAddons    = "addons"
)

func (b *setBuilder) application() error {
	app := b.spec.Application
	n := b.names

	sa := &corev1.ServiceAccount{ObjectMeta: b.objectMeta(n.Application, ComponentApplication)}
	b.add(sa, saGVK, Desired{Component: ComponentApplication, Stage: StageData})

	admin := &corev1.Secret{
		ObjectMeta: b.objectMeta(n.AppAdmin, ComponentApplication),
		Type:       corev1.SecretTypeOpaque,
	}
	b.add(admin, secretGVK, Desired{Component: ComponentApplication, Stage: StageData, CreateOnly: true})

	conf := b.odooConf()
	cm := &corev1.ConfigMap{
		ObjectMeta: b.objectMeta(n.AppConfig, ComponentApplication),
		Data:       map[string]string{odooConfigFile: conf},
	}
	b.add(cm, configMapGVK, Desired{Component: ComponentApplication, Stage: StageData})

	b.pvc(n.AppFilestore, app.StorageSize, corev1.ReadWriteMany, ComponentApplication)
	if !b.addons.Empty() {
		b.pvc(n.AppAddons, app.AddonsStorageSize, corev1.ReadWriteMany, ComponentApplication)
	}

	dbEnv := []corev1.EnvVar{
		{Name: "HOST", Value: n.DatabaseHost()},
		{Name: "PORT", Value: fmt.Sprint(DatabasePort)},
		{Name: "USER", Value: DatabaseUser},
		b.dbPasswordEnv("PASSWORD"),
	}
	env := append(slices.Clone(dbEnv), secretEnv("ODOO_ADMIN_PASSWD", n.AppAdmin, AdminPasswordKey))
	if cacheEnabled(b.spec) {
		env = append(env,
			corev1.EnvVar{Name: "ODOO_REDIS_HOST", Value: n.ServiceHost(n.Cache)},
			corev1.EnvVar{Name: "ODOO_REDIS_PORT", Value: fmt.Sprint(CachePort)},
		)
	}

	mounts := []corev1.VolumeMount{
		{Name: volumeConfig, MountPath: odooConfigDir, ReadOnly: true},
		{Name: volumeFilestore, MountPath: odooDataDir},
	}
	volumes := []corev1.Volume{
		configMapVolume(volumeConfig, n.AppConfig),
		pvcVolume(volumeFilestore, n.AppFilestore),
	}
	if !b.addons.Empty() {
		mounts = append(mounts, corev1.VolumeMount{Name: volumeAddons, MountPath: addons.MountPath, ReadOnly: true})
		volumes = append(volumes, pvcVolume(volumeAddons, n.AppAddons))
		volumes = append(volumes, b.addons.Volumes...)
	}

	b.databaseInit(dbEnv, slices.Clone(mounts), slices.Clone(volumes))

	containers := []corev1.Container{{
		Name:  "odoo",
		Image: app.Image,
		Ports: []corev1.ContainerPort{
			{Name: "http", ContainerPort: OdooHTTPPort, Protocol: corev1.ProtocolTCP},
			{Name: "longpolling", ContainerPort: OdooLongpollingPort, Protocol: corev1.ProtocolTCP},
		},
		Env:            env,
		VolumeMounts:   mounts,
		Resources:      app.Resources,
		ReadinessProbe: httpProbe("/web/health", OdooHTTPPort, 30, 10, 3),
		LivenessProbe:  httpProbe("/web/health", OdooHTTPPort, 120, 30, 3),
	}}
	if sidecar, vols := b.overlaySidecar(v1alpha1.EndpointApplication, n.AppOverlayState); sidecar != nil {
		containers = append(containers, *sidecar)
		volumes = append(volumes, vols...)
	}

	selector := b.deployment(deploymentOpts{
		name:           n.Application,
		component:      ComponentApplication,
		replicas:       app.ReplicaCount,
		podAnnotations: map[string]string{AnnotationConfigHash: computeHash(conf)},
		pod: corev1.PodSpec{
			ServiceAccountName: n.Application,
			SecurityContext:    &corev1.PodSecurityContext{FSGroup: ptr.To[int64](odooUID)},
			InitContainers:     b.addons.InitContainers(),
			Containers:         containers,
			Volumes:            volumes,
		},
		requiresDatabase: true,
		requiresInit:     true,
	})
	b.service(n.Application, ComponentApplication, selector,
		servicePort{name: "http", port: OdooHTTPPort},
		servicePort{name: "longpolling", port: OdooLongpollingPort},
	)
	return nil
}

// odooConf renders odoo.conf. Keys are written in a fixed order.
func (b *setBuilder) odooConf() string {
	n := b.names
	var sb strings.Builder
	line := func(k string, v any) { fmt.Fprintf(&sb, "%s = %v\n", k, v) }

	sb.WriteString("[options]\n")
	line("addons_path", b.addons.AddonsPath)
	line("data_dir", odooDataDir)
	line("db_host", n.DatabaseHost())
	line("db_port", DatabasePort)
	line("db_user", DatabaseUser)
	line("db_name", DatabaseName)
	line("dbfilter", "^"+DatabaseName+"$")
	line("list_db", "False")
	line("proxy_mode", "True")
	line("without_demo", "all")
	if cacheEnabled(b.spec) {
		line("session_redis", "True")
		line("session_redis_host", n.ServiceHost(n.Cache))
		line("session_redis_port", CachePort)
		line("session_redis_prefix", b.cluster.Name)
	}
	return sb.String()
}

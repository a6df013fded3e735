package builder

import (
	"encoding/json"
	"fmt"
	"strings"

	corev1 "k8s.io/api/core/v1"
	rbacv1 "k8s.io/api/rbac/v1"
	"k8s.io/utils/ptr"

	v1alpha1 "github.com/vaheed/odoonova/pkg/api/v1alpha1"
)

const (
	OverlayImage      = "tailscale/tailscale:v1.76.1"
	overlayStateSize  = "100Mi"
	overlayStateDir   = "/var/lib/tailscale"
	overlayConfigDir  = "/config"
	overlayAuthKey    = "TS_AUTHKEY"
	certDomainPattern = "${TS_CERT_DOMAIN}:443"
)

var (
	roleGVK        = rbacv1.SchemeGroupVersion.WithKind("Role")
	roleBindingGVK = rbacv1.SchemeGroupVersion.WithKind("RoleBinding")
)

func (b *setBuilder) overlayEndpoint(ep v1alpha1.Endpoint) *v1alpha1.OverlayEndpoint {
	o := b.spec.Networking.OverlayNetwork
	if o == nil {
		return nil
	}
	for _, e := range overlayEndpoints(o) {
		if e.endpoint == ep && e.cfg.Enabled {
			cfg := e.cfg
			return &cfg
		}
	}
	return nil
}

// overlaySidecar returns the overlay network container and its volumes for
// the workload behind ep, or nil when ep is not exposed on the overlay.
func (b *setBuilder) overlaySidecar(ep v1alpha1.Endpoint, stateClaim string) (*corev1.Container, []corev1.Volume) {
	cfg := b.overlayEndpoint(ep)
	if cfg == nil {
		return nil, nil
	}
	o := b.spec.Networking.OverlayNetwork
	env := []corev1.EnvVar{
		secretEnv("TS_AUTHKEY", o.AuthSecretRef, overlayAuthKey),
		{Name: "TS_HOSTNAME", Value: cfg.Hostname},
		{Name: "TS_STATE_DIR", Value: overlayStateDir},
		{Name: "TS_KUBE_SECRET", Value: ""},
		{Name: "TS_USERSPACE", Value: "false"},
		{Name: "TS_SERVE_CONFIG", Value: overlayConfigDir + "/serve.json"},
	}
	if len(o.Tags) > 0 {
		env = append(env, corev1.EnvVar{Name: "TS_EXTRA_ARGS", Value: "--advertise-tags=" + strings.Join(o.Tags, ",")})
	}
	c := &corev1.Container{
		Name:  "tailscale",
		Image: OverlayImage,
		Env:   env,
		SecurityContext: &corev1.SecurityContext{
			Capabilities: &corev1.Capabilities{Add: []corev1.Capability{"NET_ADMIN"}},
		},
		VolumeMounts: []corev1.VolumeMount{
			{Name: "tailscale-state", MountPath: overlayStateDir},
			{Name: "tailscale-config", MountPath: overlayConfigDir, ReadOnly: true},
			{Name: "dev-net-tun", MountPath: "/dev/net/tun"},
		},
	}
	volumes := []corev1.Volume{
		pvcVolume("tailscale-state", stateClaim),
		configMapVolume("tailscale-config", b.names.OverlayServe, corev1.KeyToPath{Key: serveConfigKey(ep), Path: "serve.json"}),
		{
			Name: "dev-net-tun",
			VolumeSource: corev1.VolumeSource{
				HostPath: &corev1.HostPathVolumeSource{Path: "/dev/net/tun", Type: ptr.To(corev1.HostPathCharDev)},
			},
		},
	}
	return c, volumes
}

func serveConfigKey(ep v1alpha1.Endpoint) string { return string(ep) + ".json" }

// serveConfig proxies HTTPS on the node's cert domain to the local workload port.
func serveConfig(port int32, funnel bool) string {
	cfg := map[string]any{
		"TCP": map[string]any{"443": map[string]any{"HTTPS": true}},
		"Web": map[string]any{
			certDomainPattern: map[string]any{
				"Handlers": map[string]any{
					"/": map[string]any{"Proxy": fmt.Sprintf("http://127.0.0.1:%d", port)},
				},
			},
		},
	}
	if funnel {
		cfg["AllowFunnel"] = map[string]any{certDomainPattern: true}
	}
	raw, _ := json.MarshalIndent(cfg, "", "  ")
	return string(raw)
}

// overlayNetwork emits the shared objects the sidecars need.
func (b *setBuilder) overlayNetwork() error {
	n := b.names
	type target struct {
		ep    v1alpha1.Endpoint
		port  int32
		state string
	}
	var enabled []target
	for _, t := range []target{
		{v1alpha1.EndpointApplication, OdooHTTPPort, n.AppOverlayState},
		{v1alpha1.EndpointAnalytics, AnalyticsPort, n.AnalyticsOverlayState},
	} {
		if b.overlayEndpoint(t.ep) != nil {
			enabled = append(enabled, t)
		}
	}
	if len(enabled) == 0 {
		return nil
	}

	data := map[string]string{}
	for _, t := range enabled {
		data[serveConfigKey(t.ep)] = serveConfig(t.port, b.overlayEndpoint(t.ep).Funnel)
	}
	cm := &corev1.ConfigMap{ObjectMeta: b.objectMeta(n.OverlayServe, ComponentNetworking), Data: data}
	b.add(cm, configMapGVK, Desired{Component: ComponentNetworking, Stage: StageData})

	for _, t := range enabled {
		b.pvc(t.state, overlayStateSize, corev1.ReadWriteOnce, ComponentNetworking)
	}

	role := &rbacv1.Role{
		ObjectMeta: b.objectMeta(n.OverlayRole, ComponentNetworking),
		Rules: []rbacv1.PolicyRule{{
			APIGroups: []string{""},
			Resources: []string{"secrets"},
			Verbs:     []string{"create", "get", "update", "patch", "delete"},
		}},
	}
	b.add(role, roleGVK, Desired{Component: ComponentNetworking, Stage: StageData})

	binding := &rbacv1.RoleBinding{
		ObjectMeta: b.objectMeta(n.OverlayRole, ComponentNetworking),
		Subjects: []rbacv1.Subject{{
			Kind:      rbacv1.ServiceAccountKind,
			Name:      n.Application,
			Namespace: n.Namespace,
		}},
		RoleRef: rbacv1.RoleRef{APIGroup: rbacv1.GroupName, Kind: "Role", Name: n.OverlayRole},
	}
	b.add(binding, roleBindingGVK, Desired{Component: ComponentNetworking, Stage: StageData})
	return nil
}

package builder

import (
	"fmt"
	"sort"
	"strings"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/utils/ptr"
	"sigs.k8s.io/yaml"

	v1alpha1 "github.com/vaheed/odoonova/pkg/api/v1alpha1"
)

const (
	TunnelImage       = "cloudflare/cloudflared:2024.10.0"
	TunnelMetricsPort = 2000
	// TunnelCredentialsKey is the key of the tunnel credentials in the referenced secret.
	TunnelCredentialsKey = "credentials.json"
	// TunnelCatchAll answers any hostname without a route.
	TunnelCatchAll = "http_status:404"

	tunnelConfigFile = "config.yaml"
	tunnelConfigDir  = "/etc/cloudflared/config"
	tunnelCredsDir   = "/etc/cloudflared/creds"
)

type tunnelIngressRule struct {
	Hostname string `json:"hostname,omitempty"`
	Service  string `json:"service"`
}

type tunnelConfig struct {
	Tunnel          string              `json:"tunnel"`
	CredentialsFile string              `json:"credentials-file"`
	Metrics         string              `json:"metrics"`
	NoAutoupdate    bool                `json:"no-autoupdate"`
	Ingress         []tunnelIngressRule `json:"ingress"`
}

// endpointURL resolves an endpoint to its in-cluster service URL.
func (b *setBuilder) endpointURL(ep v1alpha1.Endpoint) string {
	n := b.names
	switch ep {
	case v1alpha1.EndpointAnalytics:
		return fmt.Sprintf("http://%s:%d", n.ServiceHost(n.Analytics), AnalyticsPort)
	default:
		return fmt.Sprintf("http://%s:%d", n.ServiceHost(n.Application), OdooHTTPPort)
	}
}

// renderTunnelConfig returns the connector config with routes sorted by
// hostname and the catch-all rule last.
func (b *setBuilder) renderTunnelConfig(t *v1alpha1.PublicTunnelSpec) (string, error) {
	routes := append([]v1alpha1.TunnelRoute{}, t.Routes...)
	sort.SliceStable(routes, func(i, j int) bool {
		return strings.ToLower(routes[i].Hostname) < strings.ToLower(routes[j].Hostname)
	})
	cfg := tunnelConfig{
		Tunnel:          t.TunnelID,
		CredentialsFile: tunnelCredsDir + "/" + TunnelCredentialsKey,
		Metrics:         fmt.Sprintf("0.0.0.0:%d", TunnelMetricsPort),
		NoAutoupdate:    true,
	}
	for _, r := range routes {
		cfg.Ingress = append(cfg.Ingress, tunnelIngressRule{
			Hostname: strings.ToLower(r.Hostname),
			Service:  b.endpointURL(r.Service),
		})
	}
	cfg.Ingress = append(cfg.Ingress, tunnelIngressRule{Service: TunnelCatchAll})
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("render tunnel config: %w", err)
	}
	return string(raw), nil
}

func (b *setBuilder) publicTunnel() error {
	t := b.spec.Networking.PublicTunnel
	if t == nil || !t.Enabled {
		return nil
	}
	n := b.names
	conf, err := b.renderTunnelConfig(t)
	if err != nil {
		return err
	}
	cm := &corev1.ConfigMap{
		ObjectMeta: b.objectMeta(n.TunnelConfig, ComponentNetworking),
		Data:       map[string]string{tunnelConfigFile: conf},
	}
	b.add(cm, configMapGVK, Desired{Component: ComponentNetworking, Stage: StageData})

	b.deployment(deploymentOpts{
		name:           n.Tunnel,
		component:      ComponentNetworking,
		replicas:       t.Replicas,
		podAnnotations: map[string]string{AnnotationConfigHash: computeHash(conf)},
		pod: corev1.PodSpec{
			Containers: []corev1.Container{{
				Name:  "cloudflared",
				Image: TunnelImage,
				Args: []string{
					"tunnel", "--config", tunnelConfigDir + "/" + tunnelConfigFile,
					"--no-autoupdate", "run",
				},
				Ports: []corev1.ContainerPort{{Name: "metrics", ContainerPort: TunnelMetricsPort, Protocol: corev1.ProtocolTCP}},
				VolumeMounts: []corev1.VolumeMount{
					{Name: "config", MountPath: tunnelConfigDir, ReadOnly: true},
					{Name: "creds", MountPath: tunnelCredsDir, ReadOnly: true},
				},
				Resources:      resources("50m", "64Mi", "500m", "256Mi"),
				LivenessProbe:  httpProbe("/ready", TunnelMetricsPort, 10, 10, 3),
				ReadinessProbe: httpProbe("/ready", TunnelMetricsPort, 5, 10, 3),
			}},
			Volumes: []corev1.Volume{
				configMapVolume("config", n.TunnelConfig),
				{
					Name: "creds",
					VolumeSource: corev1.VolumeSource{Secret: &corev1.SecretVolumeSource{
						SecretName:  t.CredentialSecretRef,
						Items:       []corev1.KeyToPath{{Key: TunnelCredentialsKey, Path: TunnelCredentialsKey}},
						DefaultMode: ptr.To[int32](0o400),
					}},
				},
			},
		},
	})
	return nil
}

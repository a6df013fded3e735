package builder

import (
	"maps"
	"sort"
	"strings"

	networkingv1 "k8s.io/api/networking/v1"
	"k8s.io/utils/ptr"

	v1alpha1 "github.com/vaheed/odoonova/pkg/api/v1alpha1"
)

var ingressGVK = networkingv1.SchemeGroupVersion.WithKind("Ingress")

func (b *setBuilder) ingress() error {
	in := b.spec.Networking.Ingress
	if in == nil || !in.Enabled || len(in.Rules) == 0 {
		return nil
	}
	n := b.names

	rules := append([]v1alpha1.IngressRule{}, in.Rules...)
	sort.SliceStable(rules, func(i, j int) bool {
		return strings.ToLower(rules[i].Hostname) < strings.ToLower(rules[j].Hostname)
	})

	obj := &networkingv1.Ingress{
		ObjectMeta: b.objectMeta(n.Ingress, ComponentNetworking),
		Spec:       networkingv1.IngressSpec{IngressClassName: in.ClassName},
	}
	if len(in.Annotations) > 0 {
		obj.Annotations = maps.Clone(in.Annotations)
	}
	var hosts []string
	for _, r := range rules {
		host := strings.ToLower(r.Hostname)
		hosts = append(hosts, host)
		svc, port := n.Application, int32(OdooHTTPPort)
		if r.Service == v1alpha1.EndpointAnalytics {
			svc, port = n.Analytics, AnalyticsPort
		}
		obj.Spec.Rules = append(obj.Spec.Rules, networkingv1.IngressRule{
			Host: host,
			IngressRuleValue: networkingv1.IngressRuleValue{HTTP: &networkingv1.HTTPIngressRuleValue{
				Paths: []networkingv1.HTTPIngressPath{{
					Path:     "/",
					PathType: ptr.To(networkingv1.PathTypePrefix),
					Backend: networkingv1.IngressBackend{Service: &networkingv1.IngressServiceBackend{
						Name: svc,
						Port: networkingv1.ServiceBackendPort{Number: port},
					}},
				}},
			}},
		})
	}
	if in.TLSSecretRef != "" {
		obj.Spec.TLS = []networkingv1.IngressTLS{{Hosts: hosts, SecretName: in.TLSSecretRef}}
	}
	b.add(obj, ingressGVK, Desired{Component: ComponentNetworking, Stage: StageWorkloads})
	return nil
}

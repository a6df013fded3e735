package builder

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"k8s.io/apimachinery/pkg/api/resource"
	"k8s.io/apimachinery/pkg/util/validation"

	"github.com/vaheed/odoonova/internal/addons"
	"github.com/vaheed/odoonova/internal/lib/tenanterr"
	v1alpha1 "github.com/vaheed/odoonova/pkg/api/v1alpha1"
)

// Exposure modes checked for hostname collisions.
const (
	modeOverlay = "overlayNetwork"
	modeTunnel  = "publicTunnel"
	modeIngress = "ingress"
)

var supportedAnalyticsTools = []string{"metabase"}

// Validate checks the structural rules of a cluster spec. It never reads the
// API server; secret existence is checked by the reconciler.
func Validate(cluster *v1alpha1.OdooCluster) error {
	spec := cluster.Spec
	var errs tenanterr.ValidationErrors

	errs = append(errs, validateName(cluster.Name)...)
	if spec.Database.InstanceCount < 1 {
		errs = append(errs, tenanterr.Invalid("database.instanceCount", "must be at least 1, got %d", spec.Database.InstanceCount))
	}
	if spec.Application.ReplicaCount < 0 {
		errs = append(errs, tenanterr.Invalid("application.replicaCount", "must not be negative"))
	}
	errs = append(errs, validateQuantity("application.storageSize", spec.Application.StorageSize)...)
	errs = append(errs, validateQuantity("application.addonsStorageSize", spec.Application.AddonsStorageSize)...)
	errs = append(errs, validateQuantity("database.storageSize", spec.Database.StorageSize)...)

	errs = append(errs, addons.Validate(spec.Application.Addons)...)

	if b := spec.Database.Backup; b != nil {
		errs = append(errs, requireSecretRef("database.backup.objectStoreSecretRef", b.ObjectStoreSecretRef)...)
	}
	if c := spec.Extensions.Cache; c != nil {
		errs = append(errs, validateQuantity("extensions.cache.storageSize", c.StorageSize)...)
	}
	if a := spec.Extensions.Analytics; a != nil {
		if a.Tool != "" && !slices.Contains(supportedAnalyticsTools, a.Tool) {
			errs = append(errs, tenanterr.Invalid("extensions.analytics.tool", "unsupported tool %q, supported: %s", a.Tool, strings.Join(supportedAnalyticsTools, ", ")))
		}
		errs = append(errs, validateQuantity("extensions.analytics.storageSize", a.StorageSize)...)
	}

	errs = append(errs, validateNetworking(spec)...)
	return errs.Err()
}

// validateName keeps the cluster name usable verbatim in every derived name.
// A name that would be rewritten or truncated could collide with another
// cluster's namespace.
func validateName(name string) tenanterr.ValidationErrors {
	if msgs := validation.IsDNS1035Label(name); len(msgs) > 0 {
		return tenanterr.ValidationErrors{tenanterr.Invalid("metadata.name", "invalid cluster name %q: %s", name, strings.Join(msgs, ", "))}
	}
	n := NamesFor(name)
	if n.Namespace != namespacePrefix+name {
		return tenanterr.ValidationErrors{tenanterr.Invalid("metadata.name", "cluster name %q does not fit namespace %s", name, n.Namespace)}
	}
	for _, child := range n.children() {
		if len(child) > validation.DNS1123LabelMaxLength {
			return tenanterr.ValidationErrors{tenanterr.Invalid("metadata.name",
				"cluster name %q is too long: child name %s exceeds %d characters", name, child, validation.DNS1123LabelMaxLength)}
		}
	}
	return nil
}

func validateQuantity(field, value string) tenanterr.ValidationErrors {
	if value == "" {
		return nil
	}
	if _, err := resource.ParseQuantity(value); err != nil {
		return tenanterr.ValidationErrors{tenanterr.Invalid(field, "invalid quantity %q", value)}
	}
	return nil
}

func requireSecretRef(field, name string) tenanterr.ValidationErrors {
	if strings.TrimSpace(name) == "" {
		return tenanterr.ValidationErrors{tenanterr.Invalid(field, "referenced secret name is empty")}
	}
	if msgs := validation.IsDNS1123Subdomain(name); len(msgs) > 0 {
		return tenanterr.ValidationErrors{tenanterr.Invalid(field, "invalid secret name %q: %s", name, strings.Join(msgs, ", "))}
	}
	return nil
}

type exposure struct {
	mode     string
	endpoint v1alpha1.Endpoint
}

func validateNetworking(spec v1alpha1.OdooClusterSpec) tenanterr.ValidationErrors {
	var errs tenanterr.ValidationErrors
	net := spec.Networking
	analyticsOn := analyticsEnabled(spec)
	hosts := map[string][]exposure{}
	expose := func(host, mode string, ep v1alpha1.Endpoint) {
		key := strings.ToLower(strings.TrimSuffix(strings.TrimSpace(host), "."))
		hosts[key] = append(hosts[key], exposure{mode: mode, endpoint: ep})
	}
	checkEndpoint := func(field string, ep v1alpha1.Endpoint) {
		switch ep {
		case v1alpha1.EndpointApplication:
		case v1alpha1.EndpointAnalytics:
			if !analyticsOn {
				errs = append(errs, tenanterr.Invalid(field, "targets analytics but analytics is not enabled"))
			}
		default:
			errs = append(errs, tenanterr.Invalid(field, "unknown endpoint %q", ep))
		}
	}

	overlayTargets := map[v1alpha1.Endpoint]bool{}
	if o := net.OverlayNetwork; o != nil {
		for _, ep := range overlayEndpoints(o) {
			if !ep.cfg.Enabled {
				continue
			}
			field := "networking.overlayNetwork." + string(ep.endpoint)
			if strings.TrimSpace(ep.cfg.Hostname) == "" {
				errs = append(errs, tenanterr.Invalid(field+".hostname", "must not be empty"))
			} else {
				expose(overlayFQDN(o, ep.cfg.Hostname), modeOverlay, ep.endpoint)
			}
			checkEndpoint(field, ep.endpoint)
			overlayTargets[ep.endpoint] = true
		}
		if len(overlayTargets) > 0 {
			errs = append(errs, requireSecretRef("networking.overlayNetwork.authSecretRef", o.AuthSecretRef)...)
		}
	}

	if t := net.PublicTunnel; t != nil && t.Enabled {
		errs = append(errs, requireSecretRef("networking.publicTunnel.credentialSecretRef", t.CredentialSecretRef)...)
		if strings.TrimSpace(t.TunnelID) == "" {
			errs = append(errs, tenanterr.Invalid("networking.publicTunnel.tunnelID", "must not be empty"))
		}
		if t.Replicas < 0 {
			errs = append(errs, tenanterr.Invalid("networking.publicTunnel.replicas", "must not be negative"))
		}
		for i, r := range t.Routes {
			field := fmt.Sprintf("networking.publicTunnel.routes[%d]", i)
			if strings.TrimSpace(r.Hostname) == "" {
				errs = append(errs, tenanterr.Invalid(field+".hostname", "must not be empty"))
			} else {
				expose(r.Hostname, modeTunnel, r.Service)
			}
			checkEndpoint(field+".service", r.Service)
			if overlayTargets[r.Service] && !net.AllowCombined {
				errs = append(errs, tenanterr.Invalid(field+".service",
					"endpoint %q is already exposed on the overlay network; set networking.allowCombined to expose it through both", r.Service))
			}
		}
	}

	if in := net.Ingress; in != nil && in.Enabled {
		if in.ClassName != nil && strings.TrimSpace(*in.ClassName) == "" {
			errs = append(errs, tenanterr.Invalid("networking.ingress.className", "must not be empty when set"))
		}
		for i, r := range in.Rules {
			field := fmt.Sprintf("networking.ingress.rules[%d]", i)
			if strings.TrimSpace(r.Hostname) == "" {
				errs = append(errs, tenanterr.Invalid(field+".hostname", "must not be empty"))
			} else {
				expose(r.Hostname, modeIngress, r.Service)
			}
			checkEndpoint(field+".service", r.Service)
		}
	}

	names := make([]string, 0, len(hosts))
	for h := range hosts {
		names = append(names, h)
	}
	sort.Strings(names)
	for _, h := range names {
		if exp := hosts[h]; len(exp) > 1 {
			modes := make([]string, 0, len(exp))
			for _, e := range exp {
				modes = append(modes, e.mode)
			}
			errs = append(errs, tenanterr.Invalid("networking", "hostname %q is exposed more than once (%s)", h, strings.Join(modes, ", ")))
		}
	}
	return errs
}

// ReferencedSecrets lists the user supplied secrets the cluster depends on, sorted.
func ReferencedSecrets(cluster *v1alpha1.OdooCluster) []string {
	spec := cluster.Spec
	set := map[string]bool{}
	for _, a := range spec.Application.Addons {
		if a.DeployKeySecretRef != nil && *a.DeployKeySecretRef != "" {
			set[*a.DeployKeySecretRef] = true
		}
	}
	if b := spec.Database.Backup; b != nil && b.ObjectStoreSecretRef != "" {
		set[b.ObjectStoreSecretRef] = true
	}
	if o := spec.Networking.OverlayNetwork; o != nil && o.AuthSecretRef != "" {
		for _, ep := range overlayEndpoints(o) {
			if ep.cfg.Enabled {
				set[o.AuthSecretRef] = true
			}
		}
	}
	if t := spec.Networking.PublicTunnel; t != nil && t.Enabled && t.CredentialSecretRef != "" {
		set[t.CredentialSecretRef] = true
	}
	if in := spec.Networking.Ingress; in != nil && in.Enabled && in.TLSSecretRef != "" {
		set[in.TLSSecretRef] = true
	}
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

type overlayEndpoint struct {
	endpoint v1alpha1.Endpoint
	cfg      v1alpha1.OverlayEndpoint
}

func overlayEndpoints(o *v1alpha1.OverlayNetworkSpec) []overlayEndpoint {
	var out []overlayEndpoint
	if o.Application != nil {
		out = append(out, overlayEndpoint{endpoint: v1alpha1.EndpointApplication, cfg: *o.Application})
	}
	if o.Analytics != nil {
		out = append(out, overlayEndpoint{endpoint: v1alpha1.EndpointAnalytics, cfg: *o.Analytics})
	}
	return out
}

func overlayFQDN(o *v1alpha1.OverlayNetworkSpec, host string) string {
	if o.TailnetDomain == "" || strings.Contains(host, ".") {
		return host
	}
	return host + "." + strings.TrimPrefix(o.TailnetDomain, ".")
}

func analyticsEnabled(spec v1alpha1.OdooClusterSpec) bool {
	return spec.Extensions.Analytics != nil && spec.Extensions.Analytics.Enabled
}

func cacheEnabled(spec v1alpha1.OdooClusterSpec) bool {
	return spec.Extensions.Cache != nil && spec.Extensions.Cache.Enabled
}

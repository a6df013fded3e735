package builder

import "strings"

const (
	namespacePrefix    = "odoo-"
	namespaceMaxLength = 63
	clusterSegmentMax  = namespaceMaxLength - len(namespacePrefix)
)

// NamespaceName returns the isolated namespace for a cluster using the
// odoo-<cluster> convention.
func NamespaceName(cluster string) string {
	return namespacePrefix + sanitizeSegment(cluster, "cluster", clusterSegmentMax)
}

// Names holds every child object name derived from one cluster name.
type Names struct {
	Cluster   string
	Namespace string

	Database              string
	DatabaseBackup        string
	DatabaseRW            string
	DatabaseSecret        string
	Application           string
	AppConfig             string
	AppFilestore          string
	AppAddons             string
	AppAdmin              string
	AppDBInit             string
	Cache                 string
	CacheData             string
	Analytics             string
	AnalyticsData         string
	OverlayServe          string
	OverlayRole           string
	AppOverlayState       string
	AnalyticsOverlayState string
	Tunnel                string
	TunnelConfig          string
	Ingress               string
	FilestoreBackup       string
}

// NamesFor derives the child names for cluster.
func NamesFor(cluster string) Names {
	return Names{
		Cluster:               cluster,
		Namespace:             NamespaceName(cluster),
		Database:              cluster + "-db",
		DatabaseBackup:        cluster + "-db-backup",
		DatabaseRW:            cluster + "-db-rw",
		DatabaseSecret:        cluster + "-db-app",
		Application:           cluster + "-odoo",
		AppConfig:             cluster + "-odoo-config",
		AppFilestore:          cluster + "-odoo-filestore",
		AppAddons:             cluster + "-odoo-addons",
		AppAdmin:              cluster + "-odoo-admin",
		AppDBInit:             cluster + "-odoo-db-init",
		Cache:                 cluster + "-valkey",
		CacheData:             cluster + "-valkey-data",
		Analytics:             cluster + "-metabase",
		AnalyticsData:         cluster + "-metabase-data",
		OverlayServe:          cluster + "-tailscale-serve",
		OverlayRole:           cluster + "-tailscale",
		AppOverlayState:       cluster + "-odoo-tailscale-state",
		AnalyticsOverlayState: cluster + "-metabase-tailscale-state",
		Tunnel:                cluster + "-cloudflare-tunnel",
		TunnelConfig:          cluster + "-cloudflare-tunnel-config",
		Ingress:               cluster + "-odoo",
		FilestoreBackup:       cluster + "-odoo-filestore-backup",
	}
}

// children lists every derived object name except the namespace.
func (n Names) children() []string {
	return []string{
		n.Database, n.DatabaseBackup, n.DatabaseRW, n.DatabaseSecret,
		n.Application, n.AppConfig, n.AppFilestore, n.AppAddons, n.AppAdmin, n.AppDBInit,
		n.Cache, n.CacheData, n.Analytics, n.AnalyticsData,
		n.OverlayServe, n.OverlayRole, n.AppOverlayState, n.AnalyticsOverlayState,
		n.Tunnel, n.TunnelConfig, n.Ingress, n.FilestoreBackup,
	}
}

// DatabaseHost is the in-cluster DNS name of the read-write database service.
func (n Names) DatabaseHost() string {
	return n.DatabaseRW + "." + n.Namespace + ".svc.cluster.local"
}

// ServiceHost returns the in-cluster DNS name of a service in the tenant namespace.
func (n Names) ServiceHost(service string) string {
	return service + "." + n.Namespace + ".svc.cluster.local"
}

func sanitizeSegment(value, fallback string, maxLen int) string {
	in := strings.ToLower(strings.TrimSpace(value))
	var b strings.Builder
	b.Grow(len(in))
	prevHyphen := false
	for _, r := range in {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			prevHyphen = false
		} else {
			if prevHyphen {
				continue
			}
			b.WriteRune('-')
			prevHyphen = true
		}
	}
	out := strings.Trim(b.String(), "-")
	if out == "" {
		out = fallback
	}
	if len(out) > maxLen {
		out = strings.Trim(out[:maxLen], "-")
	}
	return out
}

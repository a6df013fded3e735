package v1alpha1

import (
	"maps"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
)

var (
	GroupVersion = schema.GroupVersion{Group: "odoo.simstech.cloud", Version: "v1alpha1"}
)

const Kind = "OdooCluster"

// Phase is the coarse lifecycle state reported on an OdooCluster.
type Phase string

const (
	PhasePending      Phase = "Pending"
	PhaseProvisioning Phase = "Provisioning"
	PhaseReady        Phase = "Ready"
	PhaseDegraded     Phase = "Degraded"
	PhaseDeleting     Phase = "Deleting"
)

// Endpoint names a workload that networking modes can expose.
type Endpoint string

const (
	EndpointApplication Endpoint = "application"
	EndpointAnalytics   Endpoint = "analytics"
)

// Condition types, one per tracked family plus a summary.
const (
	ConditionDatabaseReady    = "DatabaseReady"
	ConditionApplicationReady = "ApplicationReady"
	ConditionCacheReady       = "CacheReady"
	ConditionAnalyticsReady   = "AnalyticsReady"
	ConditionNetworkingReady  = "NetworkingReady"
	ConditionDegraded         = "Degraded"
)

// AddonSpec is a git repository cloned into the application's addon path.
type AddonSpec struct {
	Name    string `json:"name"`
	GitRepo string `json:"gitRepo"`
	// +kubebuilder:default=main
	Branch             string  `json:"branch,omitempty"`
	DeployKeySecretRef *string `json:"deployKeySecretRef,omitempty"`
	// Install runs the module at Path when the database is initialized.
	Install bool `json:"install,omitempty"`
	// Path is the module directory inside the repository.
	Path string `json:"path,omitempty"`
}

// ApplicationSpec configures the Odoo tier.
type ApplicationSpec struct {
	// +kubebuilder:default="17.0"
	Version string `json:"version,omitempty"`
	Image   string `json:"image,omitempty"`
	// +kubebuilder:default=1
	ReplicaCount      int32                       `json:"replicaCount,omitempty"`
	StorageSize       string                      `json:"storageSize,omitempty"`
	StorageClassName  *string                     `json:"storageClassName,omitempty"`
	AddonsStorageSize string                      `json:"addonsStorageSize,omitempty"`
	Resources         corev1.ResourceRequirements `json:"resources,omitempty"`
	Addons            []AddonSpec                 `json:"addons,omitempty"`
}

func (s ApplicationSpec) DeepCopy() ApplicationSpec {
	out := s
	if s.StorageClassName != nil {
		v := *s.StorageClassName
		out.StorageClassName = &v
	}
	out.Resources = *s.Resources.DeepCopy()
	if s.Addons != nil {
		out.Addons = make([]AddonSpec, len(s.Addons))
		for i, a := range s.Addons {
			out.Addons[i] = a
			if a.DeployKeySecretRef != nil {
				v := *a.DeployKeySecretRef
				out.Addons[i].DeployKeySecretRef = &v
			}
		}
	}
	return out
}

// BackupSpec configures database and optional filestore backups to an object store.
type BackupSpec struct {
	// +kubebuilder:default="0 2 * * *"
	Schedule string `json:"schedule,omitempty"`
	// +kubebuilder:default="30d"
	Retention            string `json:"retention,omitempty"`
	ObjectStoreSecretRef string `json:"objectStoreSecretRef"`
	DestinationPath      string `json:"destinationPath,omitempty"`
	EndpointURL          string `json:"endpointURL,omitempty"`
	Filestore            bool   `json:"filestore,omitempty"`
	FilestoreSchedule    string `json:"filestoreSchedule,omitempty"`
}

// DatabaseSpec configures the managed PostgreSQL cluster.
type DatabaseSpec struct {
	StorageSize string `json:"storageSize,omitempty"`
	// +kubebuilder:default=1
	InstanceCount int32                       `json:"instanceCount"`
	Resources     corev1.ResourceRequirements `json:"resources,omitempty"`
	Backup        *BackupSpec                 `json:"backup,omitempty"`
}

func (s DatabaseSpec) DeepCopy() DatabaseSpec {
	out := s
	out.Resources = *s.Resources.DeepCopy()
	if s.Backup != nil {
		b := *s.Backup
		out.Backup = &b
	}
	return out
}

// CacheSpec enables a Valkey cache for sessions and ORM caching.
type CacheSpec struct {
	Enabled     bool                        `json:"enabled"`
	StorageSize string                      `json:"storageSize,omitempty"`
	Resources   corev1.ResourceRequirements `json:"resources,omitempty"`
}

// AnalyticsSpec enables a BI tool backed by the tenant database.
type AnalyticsSpec struct {
	Enabled bool `json:"enabled"`
	// +kubebuilder:default=metabase
	Tool        string                      `json:"tool,omitempty"`
	StorageSize string                      `json:"storageSize,omitempty"`
	Resources   corev1.ResourceRequirements `json:"resources,omitempty"`
}

type ExtensionsSpec struct {
	Cache     *CacheSpec     `json:"cache,omitempty"`
	Analytics *AnalyticsSpec `json:"analytics,omitempty"`
}

func (s ExtensionsSpec) DeepCopy() ExtensionsSpec {
	out := s
	if s.Cache != nil {
		c := *s.Cache
		c.Resources = *s.Cache.Resources.DeepCopy()
		out.Cache = &c
	}
	if s.Analytics != nil {
		a := *s.Analytics
		a.Resources = *s.Analytics.Resources.DeepCopy()
		out.Analytics = &a
	}
	return out
}

// OverlayEndpoint exposes one workload on the overlay network.
type OverlayEndpoint struct {
	Enabled  bool   `json:"enabled"`
	Hostname string `json:"hostname"`
	Funnel   bool   `json:"funnel,omitempty"`
}

// OverlayNetworkSpec attaches a Tailscale sidecar to exposed workloads.
type OverlayNetworkSpec struct {
	AuthSecretRef string           `json:"authSecretRef"`
	TailnetDomain string           `json:"tailnetDomain,omitempty"`
	Tags          []string         `json:"tags,omitempty"`
	Application   *OverlayEndpoint `json:"application,omitempty"`
	Analytics     *OverlayEndpoint `json:"analytics,omitempty"`
}

// TunnelRoute maps a public hostname to an internal endpoint.
type TunnelRoute struct {
	Hostname string   `json:"hostname"`
	Service  Endpoint `json:"service"`
}

// PublicTunnelSpec runs a cloudflared connector for the listed routes.
type PublicTunnelSpec struct {
	Enabled             bool          `json:"enabled"`
	TunnelID            string        `json:"tunnelID"`
	CredentialSecretRef string        `json:"credentialSecretRef"`
	Replicas            int32         `json:"replicas,omitempty"`
	Routes              []TunnelRoute `json:"routes,omitempty"`
}

// IngressRule maps a hostname to an internal endpoint through the cluster ingress.
type IngressRule struct {
	Hostname string   `json:"hostname"`
	Service  Endpoint `json:"service"`
}

type IngressSpec struct {
	Enabled      bool              `json:"enabled"`
	ClassName    *string           `json:"className,omitempty"`
	TLSSecretRef string            `json:"tlsSecretRef,omitempty"`
	Annotations  map[string]string `json:"annotations,omitempty"`
	Rules        []IngressRule     `json:"rules,omitempty"`
}

// NetworkingSpec selects how the application and analytics endpoints are exposed.
type NetworkingSpec struct {
	// AllowCombined permits one endpoint to be reachable via both the overlay network and the public tunnel.
	AllowCombined  bool                `json:"allowCombined,omitempty"`
	OverlayNetwork *OverlayNetworkSpec `json:"overlayNetwork,omitempty"`
	PublicTunnel   *PublicTunnelSpec   `json:"publicTunnel,omitempty"`
	Ingress        *IngressSpec        `json:"ingress,omitempty"`
}

func (s NetworkingSpec) DeepCopy() NetworkingSpec {
	out := s
	if s.OverlayNetwork != nil {
		o := *s.OverlayNetwork
		if s.OverlayNetwork.Tags != nil {
			o.Tags = append([]string{}, s.OverlayNetwork.Tags...)
		}
		if s.OverlayNetwork.Application != nil {
			e := *s.OverlayNetwork.Application
			o.Application = &e
		}
		if s.OverlayNetwork.Analytics != nil {
			e := *s.OverlayNetwork.Analytics
			o.Analytics = &e
		}
		out.OverlayNetwork = &o
	}
	if s.PublicTunnel != nil {
		t := *s.PublicTunnel
		if s.PublicTunnel.Routes != nil {
			t.Routes = append([]TunnelRoute{}, s.PublicTunnel.Routes...)
		}
		out.PublicTunnel = &t
	}
	if s.Ingress != nil {
		in := *s.Ingress
		if s.Ingress.ClassName != nil {
			v := *s.Ingress.ClassName
			in.ClassName = &v
		}
		if s.Ingress.Annotations != nil {
			in.Annotations = maps.Clone(s.Ingress.Annotations)
		}
		if s.Ingress.Rules != nil {
			in.Rules = append([]IngressRule{}, s.Ingress.Rules...)
		}
		out.Ingress = &in
	}
	return out
}

// OdooClusterSpec defines the desired state of one tenant.
type OdooClusterSpec struct {
	Application ApplicationSpec `json:"application"`
	Database    DatabaseSpec    `json:"database"`
	Extensions  ExtensionsSpec  `json:"extensions,omitempty"`
	Networking  NetworkingSpec  `json:"networking,omitempty"`
}

func (s OdooClusterSpec) DeepCopy() OdooClusterSpec {
	return OdooClusterSpec{
		Application: s.Application.DeepCopy(),
		Database:    s.Database.DeepCopy(),
		Extensions:  s.Extensions.DeepCopy(),
		Networking:  s.Networking.DeepCopy(),
	}
}

// ChildRef records an object applied on behalf of an OdooCluster.
type ChildRef struct {
	APIVersion string `json:"apiVersion"`
	Kind       string `json:"kind"`
	Namespace  string `json:"namespace,omitempty"`
	Name       string `json:"name"`
}

type DatabaseStatus struct {
	Host       string `json:"host,omitempty"`
	SecretName string `json:"secretName,omitempty"`
	Ready      bool   `json:"ready"`
}

// OdooClusterStatus is the observed state written by the controller.
type OdooClusterStatus struct {
	Phase              Phase              `json:"phase,omitempty"`
	ObservedGeneration int64              `json:"observedGeneration,omitempty"`
	Conditions         []metav1.Condition `json:"conditions,omitempty"`
	ChildRefs          []ChildRef         `json:"childRefs,omitempty"`
	Database           DatabaseStatus     `json:"database,omitempty"`
	Endpoints          []string           `json:"endpoints,omitempty"`
}

func (s OdooClusterStatus) DeepCopy() OdooClusterStatus {
	out := s
	if s.Conditions != nil {
		out.Conditions = make([]metav1.Condition, len(s.Conditions))
		for i := range s.Conditions {
			s.Conditions[i].DeepCopyInto(&out.Conditions[i])
		}
	}
	if s.ChildRefs != nil {
		out.ChildRefs = append([]ChildRef{}, s.ChildRefs...)
	}
	if s.Endpoints != nil {
		out.Endpoints = append([]string{}, s.Endpoints...)
	}
	return out
}

// OdooCluster is a single tenant: database, application and optional extensions.
type OdooCluster struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   OdooClusterSpec   `json:"spec,omitempty"`
	Status OdooClusterStatus `json:"status,omitempty"`
}

func (in *OdooCluster) DeepCopyObject() runtime.Object {
	if in == nil {
		return nil
	}
	out := *in
	out.ObjectMeta = *in.ObjectMeta.DeepCopy()
	out.Spec = in.Spec.DeepCopy()
	out.Status = in.Status.DeepCopy()
	return &out
}

// OdooClusterList contains a list of clusters.
type OdooClusterList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []OdooCluster `json:"items"`
}

func (in *OdooClusterList) DeepCopyObject() runtime.Object {
	if in == nil {
		return nil
	}
	out := *in
	out.ListMeta = in.ListMeta
	if in.Items != nil {
		out.Items = make([]OdooCluster, len(in.Items))
		for i := range in.Items {
			out.Items[i] = *in.Items[i].DeepCopyObject().(*OdooCluster)
		}
	}
	return &out
}

// AddToScheme registers the OdooCluster API types.
func AddToScheme(scheme *runtime.Scheme) error {
	scheme.AddKnownTypes(GroupVersion,
		&OdooCluster{}, &OdooClusterList{},
	)
	metav1.AddToGroupVersion(scheme, GroupVersion)
	return nil
}

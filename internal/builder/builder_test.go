package builder

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	appsv1 "k8s.io/api/apps/v1"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/equality"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/utils/ptr"
	"sigs.k8s.io/yaml"

	"github.com/vaheed/odoonova/internal/lib/tenanterr"
	v1alpha1 "github.com/vaheed/odoonova/pkg/api/v1alpha1"
)

func newCluster() *v1alpha1.OdooCluster {
	return &v1alpha1.OdooCluster{
		ObjectMeta: metav1.ObjectMeta{Name: "acme", UID: types.UID("7d0c2a4e"), Generation: 1},
		Spec: v1alpha1.OdooClusterSpec{
			Application: v1alpha1.ApplicationSpec{Version: "17.0", ReplicaCount: 2, StorageSize: "20Gi"},
			Database:    v1alpha1.DatabaseSpec{InstanceCount: 1, StorageSize: "10Gi"},
		},
	}
}

func fullCluster() *v1alpha1.OdooCluster {
	c := newCluster()
	c.Spec.Application.Addons = []v1alpha1.AddonSpec{
		{Name: "oca-web", GitRepo: "https://github.com/OCA/web.git", Branch: "17.0"},
		{Name: "private", GitRepo: "git@github.com:acme/private.git", DeployKeySecretRef: ptr.To("acme-deploy-key")},
	}
	c.Spec.Database.Backup = &v1alpha1.BackupSpec{ObjectStoreSecretRef: "acme-s3", Filestore: true}
	c.Spec.Extensions = v1alpha1.ExtensionsSpec{
		Cache:     &v1alpha1.CacheSpec{Enabled: true},
		Analytics: &v1alpha1.AnalyticsSpec{Enabled: true},
	}
	c.Spec.Networking = v1alpha1.NetworkingSpec{
		OverlayNetwork: &v1alpha1.OverlayNetworkSpec{
			AuthSecretRef: "acme-ts",
			Tags:          []string{"tag:odoo"},
			Analytics:     &v1alpha1.OverlayEndpoint{Enabled: true, Hostname: "acme-bi"},
		},
		PublicTunnel: &v1alpha1.PublicTunnelSpec{
			Enabled:             true,
			TunnelID:            "3f1c",
			CredentialSecretRef: "acme-tunnel",
			Routes: []v1alpha1.TunnelRoute{
				{Hostname: "erp.acme.example", Service: v1alpha1.EndpointApplication},
				{Hostname: "crm.acme.example", Service: v1alpha1.EndpointApplication},
			},
		},
	}
	return c
}

func mustBuild(t *testing.T, c *v1alpha1.OdooCluster) *DesiredSet {
	t.Helper()
	set, err := Build(c)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	return set
}

func serialize(t *testing.T, set *DesiredSet) []string {
	t.Helper()
	out := make([]string, 0, len(set.Objects))
	for _, d := range set.Objects {
		raw, err := json.Marshal(d.Object)
		if err != nil {
			t.Fatalf("marshal %s: %v", d.Object.GetName(), err)
		}
		out = append(out, string(raw))
	}
	return out
}

func TestBuildIsDeterministic(t *testing.T) {
	first := serialize(t, mustBuild(t, fullCluster()))
	for i := 0; i < 5; i++ {
		again := serialize(t, mustBuild(t, fullCluster()))
		if diff := cmp.Diff(first, again); diff != "" {
			t.Fatalf("build output changed between runs (-first +again):\n%s", diff)
		}
	}
}

func TestBuildDoesNotMutateInput(t *testing.T) {
	c := fullCluster()
	before := c.DeepCopyObject()
	mustBuild(t, c)
	if !equality.Semantic.DeepEqual(before, c.DeepCopyObject()) {
		t.Fatalf("build mutated its input")
	}
}

func TestBuildStampsOwnershipLabelsAndHash(t *testing.T) {
	c := fullCluster()
	set := mustBuild(t, c)
	for _, d := range set.Objects {
		obj := d.Object
		refs := obj.GetOwnerReferences()
		if len(refs) != 1 || refs[0].UID != c.UID || refs[0].Controller == nil || !*refs[0].Controller {
			t.Fatalf("%s/%s: expected a controller reference to the cluster, got %+v", d.GVK().Kind, obj.GetName(), refs)
		}
		labels := obj.GetLabels()
		for _, k := range []string{LabelAppName, LabelAppInstance, LabelAppComponent, LabelAppPartOf, LabelAppManagedBy} {
			if labels[k] == "" {
				t.Fatalf("%s/%s: missing label %s", d.GVK().Kind, obj.GetName(), k)
			}
		}
		if obj.GetAnnotations()[AnnotationSpecHash] == "" {
			t.Fatalf("%s/%s: missing spec hash", d.GVK().Kind, obj.GetName())
		}
		if d.GVK().Kind != "Namespace" && obj.GetNamespace() != "odoo-acme" {
			t.Fatalf("%s/%s: namespace %q", d.GVK().Kind, obj.GetName(), obj.GetNamespace())
		}
	}
	if set.Objects[0].GVK().Kind != "Namespace" {
		t.Fatalf("namespace must come first, got %s", set.Objects[0].GVK().Kind)
	}
}

func TestSpecHashTracksContent(t *testing.T) {
	a := mustBuild(t, newCluster())
	c := newCluster()
	c.Spec.Application.ReplicaCount = 3
	b := mustBuild(t, c)

	depA, _ := a.Find("Deployment", "acme-odoo")
	depB, _ := b.Find("Deployment", "acme-odoo")
	if depA.Object.GetAnnotations()[AnnotationSpecHash] == depB.Object.GetAnnotations()[AnnotationSpecHash] {
		t.Fatalf("replica change must change the deployment hash")
	}
	svcA, _ := a.Find("Service", "acme-odoo")
	svcB, _ := b.Find("Service", "acme-odoo")
	if svcA.Object.GetAnnotations()[AnnotationSpecHash] != svcB.Object.GetAnnotations()[AnnotationSpecHash] {
		t.Fatalf("service hash must not depend on replicas")
	}
}

func TestTunnelRoutesSortedWithCatchAllLast(t *testing.T) {
	set := mustBuild(t, fullCluster())
	d, ok := set.Find("ConfigMap", "acme-cloudflare-tunnel-config")
	if !ok {
		t.Fatalf("tunnel config missing")
	}
	raw := d.Object.(*corev1.ConfigMap).Data["config.yaml"]
	var cfg tunnelConfig
	if err := yaml.Unmarshal([]byte(raw), &cfg); err != nil {
		t.Fatalf("parse tunnel config: %v\n%s", err, raw)
	}
	want := []tunnelIngressRule{
		{Hostname: "crm.acme.example", Service: "http://acme-odoo.odoo-acme.svc.cluster.local:8069"},
		{Hostname: "erp.acme.example", Service: "http://acme-odoo.odoo-acme.svc.cluster.local:8069"},
		{Service: TunnelCatchAll},
	}
	if diff := cmp.Diff(want, cfg.Ingress); diff != "" {
		t.Fatalf("tunnel ingress mismatch (-want +got):\n%s", diff)
	}
	if cfg.Tunnel != "3f1c" {
		t.Fatalf("tunnel id = %q", cfg.Tunnel)
	}
}

func TestOptionalComponentsFollowSpec(t *testing.T) {
	set := mustBuild(t, newCluster())
	for _, name := range []string{"acme-valkey", "acme-metabase", "acme-cloudflare-tunnel"} {
		if _, ok := set.Find("Deployment", name); ok {
			t.Fatalf("%s must not be built for a minimal spec", name)
		}
	}
	if _, ok := set.Find("PersistentVolumeClaim", "acme-odoo-addons"); ok {
		t.Fatalf("addons volume must not exist without addons")
	}

	full := mustBuild(t, fullCluster())
	for _, name := range []string{"acme-valkey", "acme-metabase", "acme-cloudflare-tunnel", "acme-odoo"} {
		if _, ok := full.Find("Deployment", name); !ok {
			t.Fatalf("deployment %s missing", name)
		}
	}
	if _, ok := full.Find("CronJob", "acme-odoo-filestore-backup"); !ok {
		t.Fatalf("filestore backup missing")
	}
	backup, ok := full.Find("ScheduledBackup", "acme-db-backup")
	if !ok {
		t.Fatalf("scheduled backup missing")
	}
	schedule, _, _ := unstructured.NestedString(backup.Object.(*unstructured.Unstructured).Object, "spec", "schedule")
	if schedule != "0 0 2 * * *" {
		t.Fatalf("schedule = %q", schedule)
	}
}

func TestDatabaseGatesAndCreateOnly(t *testing.T) {
	set := mustBuild(t, fullCluster())
	gated := map[string]bool{}
	for _, d := range set.Objects {
		if d.RequiresDatabase {
			gated[d.Object.GetName()] = true
		}
	}
	if diff := cmp.Diff(map[string]bool{"acme-odoo": true, "acme-odoo-db-init": true, "acme-metabase": true}, gated); diff != "" {
		t.Fatalf("database gated objects (-want +got):\n%s", diff)
	}
	app, _ := set.Find("Deployment", "acme-odoo")
	if !app.RequiresInit {
		t.Fatalf("application must wait for the init job")
	}
	admin, ok := set.Find("Secret", "acme-odoo-admin")
	if !ok || !admin.CreateOnly {
		t.Fatalf("admin secret must be create-only")
	}
}

func TestApplicationPodWiring(t *testing.T) {
	set := mustBuild(t, fullCluster())
	d, _ := set.Find("Deployment", "acme-odoo")
	pod := d.Object.(*appsv1.Deployment).Spec.Template

	var inits []string
	for _, c := range pod.Spec.InitContainers {
		inits = append(inits, c.Name)
	}
	if diff := cmp.Diff([]string{"addon-oca-web", "addon-private"}, inits); diff != "" {
		t.Fatalf("init order (-want +got):\n%s", diff)
	}
	if pod.Annotations[AnnotationConfigHash] == "" {
		t.Fatalf("pod template must carry the config hash")
	}
	if len(pod.Spec.Containers) != 1 {
		t.Fatalf("application is not on the overlay, expected a single container, got %d", len(pod.Spec.Containers))
	}

	cm, _ := set.Find("ConfigMap", "acme-odoo-config")
	conf := cm.Object.(*corev1.ConfigMap).Data["odoo.conf"]
	for _, want := range []string{
		"addons_path = /mnt/extra-addons,/mnt/addons/oca-web,/mnt/addons/private\n",
		"db_host = acme-db-rw.odoo-acme.svc.cluster.local\n",
		"session_redis_host = acme-valkey.odoo-acme.svc.cluster.local\n",
	} {
		if !strings.Contains(conf, want) {
			t.Fatalf("odoo.conf missing %q:\n%s", want, conf)
		}
	}

	bi, _ := set.Find("Deployment", "acme-metabase")
	var sidecar *corev1.Container
	for i, c := range bi.Object.(*appsv1.Deployment).Spec.Template.Spec.Containers {
		if c.Name == "tailscale" {
			sidecar = &bi.Object.(*appsv1.Deployment).Spec.Template.Spec.Containers[i]
		}
	}
	if sidecar == nil {
		t.Fatalf("analytics must carry the overlay sidecar")
	}
	if ref := sidecar.Env[0].ValueFrom.SecretKeyRef; ref.Name != "acme-ts" || ref.Key != "TS_AUTHKEY" {
		t.Fatalf("sidecar auth ref = %+v", ref)
	}
}

func TestValidation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*v1alpha1.OdooCluster)
		field  string
	}{
		{
			name:   "instance count below one",
			mutate: func(c *v1alpha1.OdooCluster) { c.Spec.Database.InstanceCount = 0 },
			field:  "database.instanceCount",
		},
		{
			name: "duplicate addon",
			mutate: func(c *v1alpha1.OdooCluster) {
				c.Spec.Application.Addons = append(c.Spec.Application.Addons, c.Spec.Application.Addons[0])
			},
			field: "application.addons[2].name",
		},
		{
			name:   "empty deploy key reference",
			mutate: func(c *v1alpha1.OdooCluster) { c.Spec.Application.Addons[1].DeployKeySecretRef = ptr.To("") },
			field:  "application.addons[1].deployKeySecretRef",
		},
		{
			name:   "unsupported analytics tool",
			mutate: func(c *v1alpha1.OdooCluster) { c.Spec.Extensions.Analytics.Tool = "superset" },
			field:  "extensions.analytics.tool",
		},
		{
			name: "hostname on tunnel and ingress",
			mutate: func(c *v1alpha1.OdooCluster) {
				c.Spec.Networking.Ingress = &v1alpha1.IngressSpec{
					Enabled: true,
					Rules:   []v1alpha1.IngressRule{{Hostname: "ERP.acme.example", Service: v1alpha1.EndpointApplication}},
				}
			},
			field: "networking",
		},
		{
			name: "overlay and tunnel target the same endpoint",
			mutate: func(c *v1alpha1.OdooCluster) {
				c.Spec.Networking.PublicTunnel.Routes = append(c.Spec.Networking.PublicTunnel.Routes,
					v1alpha1.TunnelRoute{Hostname: "bi.acme.example", Service: v1alpha1.EndpointAnalytics})
			},
			field: "networking.publicTunnel.routes[2].service",
		},
		{
			name:   "tunnel without credentials",
			mutate: func(c *v1alpha1.OdooCluster) { c.Spec.Networking.PublicTunnel.CredentialSecretRef = "" },
			field:  "networking.publicTunnel.credentialSecretRef",
		},
		{
			name:   "bad quantity",
			mutate: func(c *v1alpha1.OdooCluster) { c.Spec.Application.StorageSize = "lots" },
			field:  "application.storageSize",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := fullCluster()
			tc.mutate(c)
			set, err := Build(c)
			if err == nil {
				t.Fatalf("expected a validation error, got %d objects", len(set.Objects))
			}
			if !tenanterr.IsValidation(err) {
				t.Fatalf("expected a validation error, got %T: %v", err, err)
			}
			if !strings.Contains(err.Error(), tc.field) {
				t.Fatalf("error %q does not name %s", err, tc.field)
			}
		})
	}
}

func TestAllowCombinedPermitsOverlayAndTunnel(t *testing.T) {
	c := fullCluster()
	c.Spec.Networking.AllowCombined = true
	c.Spec.Networking.PublicTunnel.Routes = append(c.Spec.Networking.PublicTunnel.Routes,
		v1alpha1.TunnelRoute{Hostname: "bi.acme.example", Service: v1alpha1.EndpointAnalytics})
	set := mustBuild(t, c)
	want := []string{"acme-bi", "bi.acme.example", "crm.acme.example", "erp.acme.example"}
	if diff := cmp.Diff(want, set.Endpoints); diff != "" {
		t.Fatalf("endpoints (-want +got):\n%s", diff)
	}
}

func TestReferencedSecrets(t *testing.T) {
	got := ReferencedSecrets(fullCluster())
	want := []string{"acme-deploy-key", "acme-s3", "acme-ts", "acme-tunnel"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("referenced secrets (-want +got):\n%s", diff)
	}
}

func TestCatalogCoversEveryBuiltObject(t *testing.T) {
	c := fullCluster()
	c.Spec.Networking.Ingress = &v1alpha1.IngressSpec{
		Enabled: true,
		Rules:   []v1alpha1.IngressRule{{Hostname: "shop.acme.example", Service: v1alpha1.EndpointApplication}},
	}
	c.Spec.Networking.OverlayNetwork.Application = &v1alpha1.OverlayEndpoint{Enabled: true, Hostname: "acme-erp"}
	c.Spec.Networking.AllowCombined = true
	set := mustBuild(t, c)

	known := map[string]Stage{}
	for _, r := range Catalog(c.Name) {
		known[r.GVK.Kind+"/"+r.Name] = r.Stage
	}
	for _, d := range set.Objects {
		key := d.GVK().Kind + "/" + d.Object.GetName()
		stage, ok := known[key]
		if !ok {
			t.Fatalf("%s is built but not in the catalog", key)
		}
		if stage != d.Stage {
			t.Fatalf("%s: catalog stage %s, built stage %s", key, stage, d.Stage)
		}
	}
}

func TestNamespaceName(t *testing.T) {
	cases := map[string]string{
		"acme":                  "odoo-acme",
		"Acme Corp":             "odoo-acme-corp",
		"--":                    "odoo-cluster",
		strings.Repeat("a", 80): "odoo-" + strings.Repeat("a", 58),
	}
	for in, want := range cases {
		if got := NamespaceName(in); got != want {
			t.Fatalf("NamespaceName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDatabaseInitJob(t *testing.T) {
	c := fullCluster()
	c.Spec.Application.Addons[0].Install = true
	c.Spec.Application.Addons[0].Path = "web_responsive"
	set := mustBuild(t, c)

	d, ok := set.Find("Job", "acme-odoo-db-init")
	if !ok {
		t.Fatalf("init job missing")
	}
	if !d.Replace || d.CreateOnly || d.RequiresInit {
		t.Fatalf("init job policy = %+v", d)
	}
	job := d.Object.(*batchv1.Job)
	pod := job.Spec.Template.Spec
	if pod.RestartPolicy != corev1.RestartPolicyOnFailure || *job.Spec.BackoffLimit != dbInitBackoffLimit {
		t.Fatalf("job spec = %+v", job.Spec)
	}
	if job.Spec.Template.Labels[LabelAppComponent] != string(ComponentDBInit) {
		t.Fatalf("init pods must not match the application selector, labels %v", job.Spec.Template.Labels)
	}
	args := strings.Join(pod.Containers[0].Args, " ")
	for _, want := range []string{"--init=base,web_responsive", "--stop-after-init", "--database=odoo", "--config=/etc/odoo/odoo.conf"} {
		if !strings.Contains(args, want) {
			t.Fatalf("args %q missing %q", args, want)
		}
	}
	var inits []string
	for _, ic := range pod.InitContainers {
		inits = append(inits, ic.Name)
	}
	if diff := cmp.Diff([]string{"addon-oca-web", "addon-private"}, inits); diff != "" {
		t.Fatalf("init job addon fetch (-want +got):\n%s", diff)
	}
	for _, e := range pod.Containers[0].Env {
		if e.Name == "ODOO_ADMIN_PASSWD" || e.Name == "ODOO_REDIS_HOST" {
			t.Fatalf("init job must only carry database settings, got %s", e.Name)
		}
	}

	jobAt, appAt := -1, -1
	for i, o := range set.Objects {
		switch o.Object.GetName() {
		case "acme-odoo-db-init":
			jobAt = i
		case "acme-odoo":
			if o.GVK().Kind == "Deployment" {
				appAt = i
			}
		}
	}
	if jobAt < 0 || appAt < jobAt {
		t.Fatalf("init job (%d) must be applied before the application (%d)", jobAt, appAt)
	}

	// enabling the cache must not re-run the init job
	before := d.Object.GetAnnotations()[AnnotationSpecHash]
	c.Spec.Extensions.Cache = &v1alpha1.CacheSpec{Enabled: false}
	again, _ := mustBuild(t, c).Find("Job", "acme-odoo-db-init")
	if again.Object.GetAnnotations()[AnnotationSpecHash] != before {
		t.Fatalf("init job hash changed with the cache setting")
	}
}

func TestClusterNameValidation(t *testing.T) {
	cases := map[string]string{
		"dot":           "a.b",
		"uppercase":     "Acme",
		"underscore":    "a_b",
		"leading digit": "1acme",
		"too long":      strings.Repeat("a", 39),
	}
	for name, clusterName := range cases {
		t.Run(name, func(t *testing.T) {
			c := newCluster()
			c.Name = clusterName
			_, err := Build(c)
			if !tenanterr.IsValidation(err) || !strings.Contains(err.Error(), "metadata.name") {
				t.Fatalf("Build(%q) = %v, want a metadata.name validation error", clusterName, err)
			}
		})
	}

	// a.b and a-b would share odoo-a-b
	if NamespaceName("a.b") != NamespaceName("a-b") {
		t.Fatalf("sanitized namespaces are expected to collide")
	}
	c := newCluster()
	c.Name = strings.Repeat("a", 38)
	set := mustBuild(t, c)
	for _, d := range set.Objects {
		if n := d.Object.GetName(); len(n) > 63 {
			t.Fatalf("%s/%s exceeds 63 characters", d.GVK().Kind, n)
		}
	}
	if set.Names.Namespace != "odoo-"+c.Name {
		t.Fatalf("namespace = %s", set.Names.Namespace)
	}
}

package reconcile

import (
	"context"
	"fmt"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	apimeta "k8s.io/apimachinery/pkg/api/meta"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/vaheed/odoonova/internal/builder"
	"github.com/vaheed/odoonova/internal/lib/tenanterr"
	"github.com/vaheed/odoonova/internal/status"
	v1alpha1 "github.com/vaheed/odoonova/pkg/api/v1alpha1"
)

// cnpgHealthyPhase is the phase string the database operator reports once
// the primary accepts connections.
const cnpgHealthyPhase = "Cluster in healthy state"

type databaseState struct {
	Exists  bool
	Ready   bool
	Phase   string
	Reason  string
	Message string
}

// observeDatabase reads the database cluster status. A missing kind is
// reported as not ready rather than failing the pass.
func (r *OdooClusterReconciler) observeDatabase(ctx context.Context, n builder.Names) (databaseState, error) {
	u := &unstructured.Unstructured{}
	u.SetGroupVersionKind(builder.DatabaseClusterGVK)
	err := r.Get(ctx, client.ObjectKey{Namespace: n.Namespace, Name: n.Database}, u)
	switch {
	case apierrors.IsNotFound(err):
		return databaseState{Reason: "Creating", Message: fmt.Sprintf("database cluster %s not created yet", n.Database)}, nil
	case apimeta.IsNoMatchError(err):
		return databaseState{Reason: "OperatorMissing", Message: "database operator CRDs are not installed"}, nil
	case err != nil:
		return databaseState{}, tenanterr.Classify("get", builder.DatabaseClusterGVK.Kind, n.Database, err)
	}

	st := databaseState{Exists: true}
	st.Phase, _, _ = unstructured.NestedString(u.Object, "status", "phase")
	conds, _, _ := unstructured.NestedSlice(u.Object, "status", "conditions")
	readyCond := ""
	for _, c := range conds {
		m, ok := c.(map[string]any)
		if !ok || m["type"] != "Ready" {
			continue
		}
		readyCond, _ = m["status"].(string)
		st.Reason, _ = m["reason"].(string)
		st.Message, _ = m["message"].(string)
	}
	st.Ready = st.Phase == cnpgHealthyPhase || readyCond == "True"
	if st.Message == "" {
		st.Message = st.Phase
	}
	if st.Reason == "" {
		st.Reason = "Provisioning"
		if st.Ready {
			st.Reason = "ClusterHealthy"
		}
	}
	return st, nil
}

func (s databaseState) observation() status.Observation {
	o := status.Observation{Condition: v1alpha1.ConditionDatabaseReady, Reason: s.Reason, Message: s.Message}
	if s.Ready {
		o.Health = status.Healthy
	} else {
		o.Health = status.Converging
	}
	return o
}

// observe gathers one observation per family for status derivation.
func (r *OdooClusterReconciler) observe(ctx context.Context, set *builder.DesiredSet, db databaseState, dbInit initState) ([]status.Observation, error) {
	n := set.Names
	obs := []status.Observation{db.observation()}

	app, err := r.deploymentFamily(ctx, set, db, dbInit, v1alpha1.ConditionApplicationReady, n.Application, n.AppFilestore, n.AppAddons)
	if err != nil {
		return nil, err
	}
	cache, err := r.deploymentFamily(ctx, set, db, dbInit, v1alpha1.ConditionCacheReady, n.Cache, n.CacheData)
	if err != nil {
		return nil, err
	}
	analytics, err := r.deploymentFamily(ctx, set, db, dbInit, v1alpha1.ConditionAnalyticsReady, n.Analytics, n.AnalyticsData)
	if err != nil {
		return nil, err
	}
	networking, err := r.networking(ctx, set)
	if err != nil {
		return nil, err
	}
	return append(obs, app, cache, analytics, networking), nil
}

// deploymentFamily reports a family made of one deployment and its claims.
func (r *OdooClusterReconciler) deploymentFamily(ctx context.Context, set *builder.DesiredSet, db databaseState, dbInit initState, cond, name string, claims ...string) (status.Observation, error) {
	d, ok := set.Find("Deployment", name)
	if !ok {
		return status.Observation{Condition: cond, Health: status.Disabled}, nil
	}
	if d.RequiresInit && dbInit.Failed {
		return status.Observation{Condition: cond, Health: status.Unhealthy, Reason: dbInit.Reason, Message: dbInit.Message}, nil
	}
	var dep appsv1.Deployment
	if err := r.Get(ctx, d.Key(), &dep); err != nil {
		if !apierrors.IsNotFound(err) {
			return status.Observation{}, tenanterr.Classify("get", "Deployment", name, err)
		}
		if d.RequiresDatabase && !db.Ready {
			return status.Observation{
				Condition: cond,
				Health:    status.Converging,
				Reason:    "WaitingForDatabase",
				Message:   fmt.Sprintf("waiting for database cluster %s to become ready", set.Names.Database),
			}, nil
		}
		if d.RequiresInit && !dbInit.Complete {
			return status.Observation{Condition: cond, Health: status.Converging, Reason: dbInit.Reason, Message: dbInit.Message}, nil
		}
		return status.Observation{Condition: cond, Health: status.Converging, Reason: "Creating", Message: "deployment " + name + " not created yet"}, nil
	}
	o := deploymentHealth(&dep)
	o.Condition = cond
	if o.Health == status.Converging {
		if pending, err := r.pendingClaim(ctx, set.Names.Namespace, claims); err != nil {
			return status.Observation{}, err
		} else if pending != "" {
			o.Reason = "PersistentVolumeClaimPending"
			o.Message = "claim " + pending + " is not bound"
		}
	}
	return o, nil
}

// deploymentHealth maps deployment status onto a family health. Failure
// conditions carry their own reason and message through unchanged.
func deploymentHealth(dep *appsv1.Deployment) status.Observation {
	want := int32(1)
	if dep.Spec.Replicas != nil {
		want = *dep.Spec.Replicas
	}
	var available *appsv1.DeploymentCondition
	for i := range dep.Status.Conditions {
		c := &dep.Status.Conditions[i]
		switch {
		case c.Type == appsv1.DeploymentProgressing && c.Status == corev1.ConditionFalse:
			return status.Observation{Health: status.Unhealthy, Reason: c.Reason, Message: c.Message}
		case c.Type == appsv1.DeploymentReplicaFailure && c.Status == corev1.ConditionTrue:
			return status.Observation{Health: status.Unhealthy, Reason: c.Reason, Message: c.Message}
		case c.Type == appsv1.DeploymentAvailable:
			available = c
		}
	}
	if dep.Status.ObservedGeneration < dep.Generation {
		return status.Observation{
			Health:  status.Converging,
			Reason:  "RolloutPending",
			Message: fmt.Sprintf("deployment %s generation %d not observed yet", dep.Name, dep.Generation),
		}
	}
	if dep.Status.UpdatedReplicas < want || dep.Status.AvailableReplicas < want {
		o := status.Observation{
			Health:  status.Converging,
			Reason:  "RollingOut",
			Message: fmt.Sprintf("%d/%d replicas available, %d updated", dep.Status.AvailableReplicas, want, dep.Status.UpdatedReplicas),
		}
		if available != nil && available.Status == corev1.ConditionFalse {
			o.Reason = available.Reason
		}
		return o
	}
	return status.Observation{
		Health:  status.Healthy,
		Reason:  "MinimumReplicasAvailable",
		Message: fmt.Sprintf("%d/%d replicas available", dep.Status.AvailableReplicas, want),
	}
}

func (r *OdooClusterReconciler) pendingClaim(ctx context.Context, namespace string, claims []string) (string, error) {
	for _, name := range claims {
		var pvc corev1.PersistentVolumeClaim
		err := r.Get(ctx, client.ObjectKey{Namespace: namespace, Name: name}, &pvc)
		if apierrors.IsNotFound(err) {
			continue
		}
		if err != nil {
			return "", tenanterr.Classify("get", "PersistentVolumeClaim", name, err)
		}
		if pvc.Status.Phase == corev1.ClaimPending {
			return name, nil
		}
	}
	return "", nil
}

// networking folds every exposure mode into one family and reports the
// worst of them.
func (r *OdooClusterReconciler) networking(ctx context.Context, set *builder.DesiredSet) (status.Observation, error) {
	n := set.Names
	var parts []status.Observation

	if d, ok := set.Find("Deployment", n.Tunnel); ok {
		var dep appsv1.Deployment
		err := r.Get(ctx, d.Key(), &dep)
		switch {
		case apierrors.IsNotFound(err):
			parts = append(parts, status.Observation{Health: status.Converging, Reason: "Creating", Message: "tunnel connector not created yet"})
		case err != nil:
			return status.Observation{}, tenanterr.Classify("get", "Deployment", n.Tunnel, err)
		default:
			parts = append(parts, deploymentHealth(&dep))
		}
	}
	if d, ok := set.Find("ConfigMap", n.OverlayServe); ok {
		var cm corev1.ConfigMap
		err := r.Get(ctx, d.Key(), &cm)
		switch {
		case apierrors.IsNotFound(err):
			parts = append(parts, status.Observation{Health: status.Converging, Reason: "Creating", Message: "overlay serve config not created yet"})
		case err != nil:
			return status.Observation{}, tenanterr.Classify("get", "ConfigMap", n.OverlayServe, err)
		default:
			parts = append(parts, status.Observation{Health: status.Healthy, Reason: "Configured"})
		}
	}
	if d, ok := set.Find("Ingress", n.Ingress); ok {
		var ing networkingv1.Ingress
		err := r.Get(ctx, d.Key(), &ing)
		switch {
		case apierrors.IsNotFound(err):
			parts = append(parts, status.Observation{Health: status.Converging, Reason: "Creating", Message: "ingress not created yet"})
		case err != nil:
			return status.Observation{}, tenanterr.Classify("get", "Ingress", n.Ingress, err)
		default:
			parts = append(parts, status.Observation{Health: status.Healthy, Reason: "Configured"})
		}
	}

	out := status.Observation{Condition: v1alpha1.ConditionNetworkingReady, Health: status.Disabled}
	for _, p := range parts {
		if out.Health == status.Disabled || severity(p.Health) > severity(out.Health) {
			out.Health, out.Reason, out.Message = p.Health, p.Reason, p.Message
		}
	}
	if out.Health == status.Healthy {
		out.Reason, out.Message = "Exposed", fmt.Sprintf("%d endpoint(s) exposed", len(set.Endpoints))
	}
	return out, nil
}

func severity(h status.Health) int {
	switch h {
	case status.Unhealthy:
		return 3
	case status.Converging:
		return 2
	case status.Healthy:
		return 1
	default:
		return 0
	}
}

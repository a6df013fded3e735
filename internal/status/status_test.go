package status

import (
	"testing"
	"time"

	apimeta "k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	v1alpha1 "github.com/vaheed/odoonova/pkg/api/v1alpha1"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func allHealthy() []Observation {
	return []Observation{
		{Condition: v1alpha1.ConditionDatabaseReady, Health: Healthy, Reason: "ClusterIsReady", Message: "Cluster in healthy state"},
		{Condition: v1alpha1.ConditionApplicationReady, Health: Healthy},
		{Condition: v1alpha1.ConditionCacheReady, Health: Disabled},
		{Condition: v1alpha1.ConditionAnalyticsReady, Health: Disabled},
		{Condition: v1alpha1.ConditionNetworkingReady, Health: Disabled},
	}
}

func TestDeriveReady(t *testing.T) {
	res := Derive(Input{Observations: allHealthy(), Generation: 3, Now: t0})
	if res.Phase != v1alpha1.PhaseReady {
		t.Fatalf("phase = %s", res.Phase)
	}
	db := apimeta.FindStatusCondition(res.Conditions, v1alpha1.ConditionDatabaseReady)
	if db == nil || db.Reason != "ClusterIsReady" || db.Message != "Cluster in healthy state" {
		t.Fatalf("database condition must carry the child signal, got %+v", db)
	}
	cache := apimeta.FindStatusCondition(res.Conditions, v1alpha1.ConditionCacheReady)
	if cache.Status != metav1.ConditionTrue || cache.Reason != ReasonDisabled {
		t.Fatalf("disabled family = %+v", cache)
	}
	if apimeta.IsStatusConditionTrue(res.Conditions, v1alpha1.ConditionDegraded) {
		t.Fatalf("ready cluster must not be degraded")
	}
}

func TestDeriveConvergingWithinGraceIsProvisioning(t *testing.T) {
	obs := allHealthy()
	obs[1] = Observation{Condition: v1alpha1.ConditionApplicationReady, Health: Converging, Reason: "ImagePullBackOff", Message: "Back-off pulling image \"odoo:17.0\""}
	first := Derive(Input{Observations: obs, Now: t0})
	if first.Phase != v1alpha1.PhaseProvisioning {
		t.Fatalf("phase = %s", first.Phase)
	}
	later := Derive(Input{Observations: obs, Previous: first.Conditions, Now: t0.Add(9 * time.Minute)})
	if later.Phase != v1alpha1.PhaseProvisioning {
		t.Fatalf("phase inside the grace window = %s", later.Phase)
	}
	app := apimeta.FindStatusCondition(later.Conditions, v1alpha1.ConditionApplicationReady)
	if !app.LastTransitionTime.Time.Equal(t0) {
		t.Fatalf("transition time moved without a status flip: %s", app.LastTransitionTime)
	}
	if app.Reason != "ImagePullBackOff" {
		t.Fatalf("reason = %s", app.Reason)
	}
}

func TestDeriveDegradedAfterGrace(t *testing.T) {
	obs := allHealthy()
	obs[0] = Observation{Condition: v1alpha1.ConditionDatabaseReady, Health: Unhealthy, Reason: "Failing", Message: "Unable to create required cluster objects"}
	first := Derive(Input{Observations: obs, Now: t0, GracePeriod: 5 * time.Minute})
	late := Derive(Input{Observations: obs, Previous: first.Conditions, Now: t0.Add(6 * time.Minute), GracePeriod: 5 * time.Minute})
	if late.Phase != v1alpha1.PhaseDegraded {
		t.Fatalf("phase = %s, want Degraded", late.Phase)
	}
	if len(late.Stalled) != 1 || late.Stalled[0] != v1alpha1.ConditionDatabaseReady {
		t.Fatalf("stalled = %v", late.Stalled)
	}
	deg := apimeta.FindStatusCondition(late.Conditions, v1alpha1.ConditionDegraded)
	if deg.Status != metav1.ConditionTrue || deg.Reason != ReasonGracePeriodExpired {
		t.Fatalf("degraded condition = %+v", deg)
	}
}

func TestDeriveRecoveryFlipsTransition(t *testing.T) {
	obs := allHealthy()
	obs[1].Health = Converging
	first := Derive(Input{Observations: obs, Now: t0})
	recovered := Derive(Input{Observations: allHealthy(), Previous: first.Conditions, Now: t0.Add(time.Minute)})
	app := apimeta.FindStatusCondition(recovered.Conditions, v1alpha1.ConditionApplicationReady)
	if app.Status != metav1.ConditionTrue || !app.LastTransitionTime.Time.Equal(t0.Add(time.Minute)) {
		t.Fatalf("application condition after recovery = %+v", app)
	}
	if recovered.Phase != v1alpha1.PhaseReady {
		t.Fatalf("phase = %s", recovered.Phase)
	}
}

func TestInvalidIsStickyPerGeneration(t *testing.T) {
	res := Invalid(nil, 4, t0, "invalid spec: database.instanceCount: must be at least 1, got 0")
	if res.Phase != v1alpha1.PhaseDegraded {
		t.Fatalf("phase = %s", res.Phase)
	}
	if !IsInvalidFor(res.Conditions, 4) {
		t.Fatalf("generation 4 should be recorded as invalid")
	}
	if IsInvalidFor(res.Conditions, 5) {
		t.Fatalf("a new generation must be evaluated again")
	}
}

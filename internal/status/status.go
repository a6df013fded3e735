// Package status turns child observations into an OdooCluster phase and
// conditions. Derive has no side effects; the reconciler gathers the input and
// writes the result.
package status

import (
	"fmt"
	"strings"
	"time"

	apimeta "k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	v1alpha1 "github.com/vaheed/odoonova/pkg/api/v1alpha1"
)

// DefaultGracePeriod is how long a family may stay not ready before the
// cluster is reported Degraded.
const DefaultGracePeriod = 10 * time.Minute

// Health is the observed state of one component family.
type Health string

const (
	Healthy    Health = "Healthy"
	Converging Health = "Converging"
	Unhealthy  Health = "Unhealthy"
	Disabled   Health = "Disabled"
)

// Reasons set by the controller itself. Child reasons are passed through.
const (
	ReasonReady              = "Ready"
	ReasonDisabled           = "Disabled"
	ReasonProgressing        = "Progressing"
	ReasonUnhealthy          = "Unhealthy"
	ReasonAsExpected         = "AsExpected"
	ReasonGracePeriodExpired = "GracePeriodExceeded"
	ReasonInvalidSpec        = "InvalidSpec"
)

// Observation is what the reconciler saw for one family this pass.
type Observation struct {
	// Condition is the condition type, for example v1alpha1.ConditionDatabaseReady.
	Condition string
	Health    Health
	Reason    string
	Message   string
}

// Input is everything Derive needs.
type Input struct {
	Observations []Observation
	Previous     []metav1.Condition
	Generation   int64
	Now          time.Time
	GracePeriod  time.Duration
}

// Result is the derived phase and full condition list.
type Result struct {
	Phase      v1alpha1.Phase
	Conditions []metav1.Condition
	// Stalled names the families that exceeded the grace window.
	Stalled []string
}

// Derive computes the phase and conditions for one pass. Ready requires
// every family healthy or disabled. A family that has been not ready for
// longer than the grace window, measured from its previous transition,
// makes the cluster Degraded. Anything else not ready is Provisioning.
func Derive(in Input) Result {
	grace := in.GracePeriod
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	now := metav1.NewTime(in.Now)
	conds := cloneConditions(in.Previous)

	ready := true
	var stalled, details []string
	for _, o := range in.Observations {
		cond := metav1.Condition{
			Type:               o.Condition,
			ObservedGeneration: in.Generation,
			LastTransitionTime: now,
			Reason:             o.Reason,
			Message:            o.Message,
		}
		switch o.Health {
		case Healthy:
			cond.Status = metav1.ConditionTrue
			cond.Reason = orDefault(o.Reason, ReasonReady)
		case Disabled:
			cond.Status = metav1.ConditionTrue
			cond.Reason = ReasonDisabled
			cond.Message = orDefault(o.Message, "component is not enabled")
		case Unhealthy:
			cond.Status = metav1.ConditionFalse
			cond.Reason = orDefault(o.Reason, ReasonUnhealthy)
		default:
			cond.Status = metav1.ConditionFalse
			cond.Reason = orDefault(o.Reason, ReasonProgressing)
		}
		if cond.Status == metav1.ConditionFalse {
			ready = false
			if prev := apimeta.FindStatusCondition(in.Previous, o.Condition); prev != nil &&
				prev.Status == metav1.ConditionFalse && in.Now.Sub(prev.LastTransitionTime.Time) > grace {
				stalled = append(stalled, o.Condition)
				details = append(details, fmt.Sprintf("%s: %s", o.Condition, cond.Message))
			}
		}
		apimeta.SetStatusCondition(&conds, cond)
	}

	res := Result{Stalled: stalled}
	summary := metav1.Condition{
		Type:               v1alpha1.ConditionDegraded,
		ObservedGeneration: in.Generation,
		LastTransitionTime: now,
	}
	switch {
	case len(stalled) > 0:
		res.Phase = v1alpha1.PhaseDegraded
		summary.Status = metav1.ConditionTrue
		summary.Reason = ReasonGracePeriodExpired
		summary.Message = fmt.Sprintf("not ready for more than %s: %s", grace, strings.Join(details, "; "))
	case ready:
		res.Phase = v1alpha1.PhaseReady
		summary.Status = metav1.ConditionFalse
		summary.Reason = ReasonAsExpected
	default:
		res.Phase = v1alpha1.PhaseProvisioning
		summary.Status = metav1.ConditionFalse
		summary.Reason = ReasonProgressing
		summary.Message = "waiting for components to become ready"
	}
	apimeta.SetStatusCondition(&conds, summary)
	res.Conditions = conds
	return res
}

// Invalid reports a spec the controller refuses to apply. Family conditions
// are kept as they were; only the Degraded summary changes.
func Invalid(previous []metav1.Condition, generation int64, now time.Time, message string) Result {
	conds := cloneConditions(previous)
	apimeta.SetStatusCondition(&conds, metav1.Condition{
		Type:               v1alpha1.ConditionDegraded,
		Status:             metav1.ConditionTrue,
		ObservedGeneration: generation,
		LastTransitionTime: metav1.NewTime(now),
		Reason:             ReasonInvalidSpec,
		Message:            message,
	})
	return Result{Phase: v1alpha1.PhaseDegraded, Conditions: conds}
}

// IsInvalidFor reports whether conditions already record an invalid spec for
// generation, so the same generation is not retried.
func IsInvalidFor(conds []metav1.Condition, generation int64) bool {
	c := apimeta.FindStatusCondition(conds, v1alpha1.ConditionDegraded)
	return c != nil && c.Status == metav1.ConditionTrue && c.Reason == ReasonInvalidSpec && c.ObservedGeneration == generation
}

func cloneConditions(in []metav1.Condition) []metav1.Condition {
	if len(in) == 0 {
		return nil
	}
	out := make([]metav1.Condition, len(in))
	copy(out, in)
	return out
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

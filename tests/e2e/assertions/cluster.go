package assertions

import (
	"context"
	"testing"
	"time"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/wait"
	"sigs.k8s.io/controller-runtime/pkg/client"

	v1alpha1 "github.com/vaheed/odoonova/pkg/api/v1alpha1"
	"github.com/vaheed/odoonova/tests/e2e/setup"
)

// RequirePhase waits until the cluster reports phase for its current generation.
func RequirePhase(t *testing.T, env *setup.Environment, name string, phase v1alpha1.Phase) *v1alpha1.OdooCluster {
	t.Helper()
	var c v1alpha1.OdooCluster
	poll(t, env, "phase "+string(phase)+" for "+name, func(ctx context.Context) (bool, error) {
		if err := env.Kube().Get(ctx, client.ObjectKey{Name: name}, &c); err != nil {
			if apierrors.IsNotFound(err) {
				return false, nil
			}
			return false, err
		}
		return c.Status.Phase == phase && c.Status.ObservedGeneration == c.Generation, nil
	})
	return &c
}

// RequireCondition waits until the named condition carries status and reason.
func RequireCondition(t *testing.T, env *setup.Environment, name, condType string, status metav1.ConditionStatus, reason string) {
	t.Helper()
	poll(t, env, condType+" on "+name, func(ctx context.Context) (bool, error) {
		var c v1alpha1.OdooCluster
		if err := env.Kube().Get(ctx, client.ObjectKey{Name: name}, &c); err != nil {
			return false, client.IgnoreNotFound(err)
		}
		cond := meta.FindStatusCondition(c.Status.Conditions, condType)
		return cond != nil && cond.Status == status && (reason == "" || cond.Reason == reason), nil
	})
}

// RequireGone waits until the cluster and its namespace no longer exist.
func RequireGone(t *testing.T, env *setup.Environment, name, namespace string) {
	t.Helper()
	poll(t, env, name+" teardown", func(ctx context.Context) (bool, error) {
		err := env.Kube().Get(ctx, client.ObjectKey{Name: name}, &v1alpha1.OdooCluster{})
		if err == nil || !apierrors.IsNotFound(err) {
			return false, client.IgnoreNotFound(err)
		}
		err = env.Kube().Get(ctx, client.ObjectKey{Name: namespace}, &corev1.Namespace{})
		if apierrors.IsNotFound(err) {
			return true, nil
		}
		return false, err
	})
}

// RequireStatusAPIPhase checks the status API agrees with the resource.
func RequireStatusAPIPhase(t *testing.T, env *setup.Environment, name string, phase v1alpha1.Phase) {
	t.Helper()
	if env.Status() == nil {
		t.Log("status API not configured, skipping API check")
		return
	}
	poll(t, env, "status API phase for "+name, func(ctx context.Context) (bool, error) {
		d, err := env.Status().GetCluster(ctx, name)
		if err != nil {
			return false, nil
		}
		return d.Phase == string(phase), nil
	})
}

func poll(t *testing.T, env *setup.Environment, what string, cond wait.ConditionWithContextFunc) {
	t.Helper()
	cfg := env.Config()
	ctx, cancel := context.WithTimeout(context.Background(), cfg.WaitTimeout)
	defer cancel()
	started := time.Now()
	if err := wait.PollUntilContextTimeout(ctx, cfg.PollInterval, cfg.WaitTimeout, true, cond); err != nil {
		t.Fatalf("waiting for %s: %v", what, err)
	}
	env.Logger().Info("assertion.satisfied", "what", what, "after", time.Since(started).Round(time.Second))
}

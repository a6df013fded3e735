package reconcile

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"

	"go.uber.org/zap"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/util/retry"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/vaheed/odoonova/internal/builder"
	"github.com/vaheed/odoonova/internal/lib/tenanterr"
	"github.com/vaheed/odoonova/internal/logging"
	"github.com/vaheed/odoonova/internal/metrics"
	v1alpha1 "github.com/vaheed/odoonova/pkg/api/v1alpha1"
)

// Apply actions, also used as the action label of the child apply metric.
const (
	actionCreated   = "created"
	actionPatched   = "patched"
	actionUnchanged = "unchanged"
	actionReverted  = "reverted"
	actionReplaced  = "replaced"
	actionDeleted   = "deleted"
	actionRetained  = "retained"
)

const adminPasswordLength = 32

const passwordAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz23456789"

// conflictBackoff retries a write that lost a resource version race. The
// retry re-reads the object, so there is nothing to wait for.
var conflictBackoff = wait.Backoff{Steps: 5}

// apply makes one desired object exist with the desired content. An object
// is left untouched when its spec hash annotation matches and its live
// content still carries every rendered field, so a converged cluster costs
// reads only while edits made behind the controller's back are reverted.
func (r *OdooClusterReconciler) apply(ctx context.Context, cluster *v1alpha1.OdooCluster, d builder.Desired) (string, error) {
	gvk := d.GVK()
	key := d.Key()
	want := d.Object.GetAnnotations()[builder.AnnotationSpecHash]
	content, err := toUnstructured(d.Object)
	if err != nil {
		return "", fmt.Errorf("convert %s %s: %w", gvk.Kind, key.Name, err)
	}

	action := actionUnchanged
	err = retry.RetryOnConflict(conflictBackoff, func() error {
		live := &unstructured.Unstructured{}
		live.SetGroupVersionKind(gvk)
		if err := r.Get(ctx, key, live); err != nil {
			if !apierrors.IsNotFound(err) {
				return err
			}
			action = actionCreated
			return r.create(ctx, d)
		}
		if err := checkOwnership(cluster, live); err != nil {
			return err
		}
		current := live.GetAnnotations()[builder.AnnotationSpecHash] == want
		switch {
		case d.CreateOnly:
			action = actionUnchanged
			return nil
		case d.Replace && current:
			action = actionUnchanged
			return nil
		case d.Replace:
			action = actionReplaced
			return r.replace(ctx, live, d)
		case current && liveMatches(content, d.Object, live):
			action = actionUnchanged
			return nil
		}
		body, err := mergePatch(content, d.Object, live)
		if err != nil {
			return err
		}
		action = actionPatched
		if current {
			action = actionReverted
		}
		return r.Patch(ctx, live, client.RawPatch(types.MergePatchType, body))
	})
	if err != nil {
		if tenanterr.IsValidation(err) {
			return "", err
		}
		return "", tenanterr.Classify("apply", gvk.Kind, key.Name, err)
	}
	metrics.ChildApplyTotal.WithLabelValues(gvk.Kind, action).Inc()
	switch action {
	case actionUnchanged:
	case actionReverted:
		logging.FromContext(ctx).Info("child_drift_reverted",
			zap.String("kind", gvk.Kind),
			zap.String("namespace", key.Namespace),
			zap.String("name", key.Name),
		)
	default:
		logging.FromContext(ctx).Debug("child_"+action,
			zap.String("kind", gvk.Kind),
			zap.String("namespace", key.Namespace),
			zap.String("name", key.Name),
		)
	}
	return action, nil
}

// replace deletes live and creates the desired object in its place. The
// delete is pinned to the live UID so a newer object is never removed.
func (r *OdooClusterReconciler) replace(ctx context.Context, live *unstructured.Unstructured, d builder.Desired) error {
	uid := live.GetUID()
	err := r.Delete(ctx, live,
		client.PropagationPolicy(metav1.DeletePropagationBackground),
		client.Preconditions{UID: &uid},
	)
	if err != nil && !apierrors.IsNotFound(err) {
		return err
	}
	return r.create(ctx, d)
}

func (r *OdooClusterReconciler) create(ctx context.Context, d builder.Desired) error {
	obj := d.Object.DeepCopyObject().(client.Object)
	if secret, ok := obj.(*corev1.Secret); ok && d.CreateOnly {
		if err := fillAdminSecret(secret); err != nil {
			return err
		}
	}
	return r.Create(ctx, obj)
}

// fillAdminSecret generates the admin credential the first time the secret
// is created. Later passes never touch it.
func fillAdminSecret(secret *corev1.Secret) error {
	if _, ok := secret.Data[builder.AdminPasswordKey]; ok {
		return nil
	}
	pw, err := generatePassword(adminPasswordLength)
	if err != nil {
		return fmt.Errorf("generate admin password: %w", err)
	}
	if secret.Data == nil {
		secret.Data = map[string][]byte{}
	}
	secret.Data[builder.AdminPasswordKey] = []byte(pw)
	return nil
}

func generatePassword(n int) (string, error) {
	size := big.NewInt(int64(len(passwordAlphabet)))
	out := make([]byte, n)
	for i := range out {
		idx, err := rand.Int(rand.Reader, size)
		if err != nil {
			return "", err
		}
		out[i] = passwordAlphabet[idx.Int64()]
	}
	return string(out), nil
}

// checkOwnership refuses to adopt an object controlled by someone else.
func checkOwnership(cluster *v1alpha1.OdooCluster, live client.Object) error {
	ref := metav1.GetControllerOf(live)
	if ref == nil || ref.UID == cluster.UID {
		return nil
	}
	return tenanterr.Invalid("ownership", "%s %s/%s is controlled by %s %s",
		live.GetObjectKind().GroupVersionKind().Kind, live.GetNamespace(), live.GetName(), ref.Kind, ref.Name)
}

// mergePatch renders the JSON merge patch that moves live to desired. Every
// top level field the controller owns is sent whole; server populated fields
// outside it are left alone. The live resource version makes a concurrent
// write fail with a conflict instead of being overwritten.
func mergePatch(content map[string]any, desired client.Object, live *unstructured.Unstructured) ([]byte, error) {
	body := map[string]any{}
	for k, v := range content {
		switch k {
		case "apiVersion", "kind", "metadata", "status":
			continue
		}
		body[k] = runtime.DeepCopyJSONValue(v)
	}
	// Keys dropped from rendered config must disappear from the live object.
	for _, field := range []string{"data", "binaryData"} {
		liveData, ok, _ := unstructured.NestedMap(live.Object, field)
		if !ok {
			continue
		}
		next, _ := body[field].(map[string]any)
		if next == nil {
			next = map[string]any{}
		}
		for k := range liveData {
			if _, keep := next[k]; !keep {
				next[k] = nil
			}
		}
		body[field] = next
	}
	body["metadata"] = map[string]any{
		"labels":          desired.GetLabels(),
		"annotations":     desired.GetAnnotations(),
		"ownerReferences": desired.GetOwnerReferences(),
		"resourceVersion": live.GetResourceVersion(),
	}
	return json.Marshal(body)
}

func toUnstructured(obj client.Object) (map[string]any, error) {
	if u, ok := obj.(*unstructured.Unstructured); ok {
		return u.DeepCopy().UnstructuredContent(), nil
	}
	return runtime.DefaultUnstructuredConverter.ToUnstructured(obj)
}

// refFor records a child in status.
func refFor(gvk schema.GroupVersionKind, key client.ObjectKey) v1alpha1.ChildRef {
	return v1alpha1.ChildRef{
		APIVersion: gvk.GroupVersion().String(),
		Kind:       gvk.Kind,
		Namespace:  key.Namespace,
		Name:       key.Name,
	}
}

// prune deletes children recorded by an earlier pass that are no longer
// desired. Claims are kept unless they carry the purge annotation, and stay
// in the returned list while they exist.
func (r *OdooClusterReconciler) prune(ctx context.Context, cluster *v1alpha1.OdooCluster, desired map[v1alpha1.ChildRef]bool) ([]v1alpha1.ChildRef, error) {
	log := logging.FromContext(ctx)
	var retained []v1alpha1.ChildRef
	for _, ref := range cluster.Status.ChildRefs {
		if desired[ref] {
			continue
		}
		obj := &unstructured.Unstructured{}
		obj.SetGroupVersionKind(schema.FromAPIVersionAndKind(ref.APIVersion, ref.Kind))
		key := client.ObjectKey{Namespace: ref.Namespace, Name: ref.Name}
		if err := r.Get(ctx, key, obj); err != nil {
			if apierrors.IsNotFound(err) {
				continue
			}
			return nil, tenanterr.Classify("get", ref.Kind, ref.Name, err)
		}
		if owner := metav1.GetControllerOf(obj); owner == nil || owner.UID != cluster.UID {
			continue
		}
		if ref.Kind == "PersistentVolumeClaim" && obj.GetAnnotations()[builder.AnnotationPurge] != "true" {
			metrics.ChildApplyTotal.WithLabelValues(ref.Kind, actionRetained).Inc()
			retained = append(retained, ref)
			continue
		}
		if err := r.Delete(ctx, obj, client.PropagationPolicy(metav1.DeletePropagationBackground)); err != nil && !apierrors.IsNotFound(err) {
			return nil, tenanterr.Classify("delete", ref.Kind, ref.Name, err)
		}
		metrics.ChildApplyTotal.WithLabelValues(ref.Kind, actionDeleted).Inc()
		log.Info("child_pruned", zap.String("kind", ref.Kind), zap.String("name", ref.Name))
	}
	return retained, nil
}

// Package reconcile drives OdooClusters towards their desired state.
package reconcile

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	appsv1 "k8s.io/api/apps/v1"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	rbacv1 "k8s.io/api/rbac/v1"
	"k8s.io/apimachinery/pkg/api/equality"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	apimeta "k8s.io/apimachinery/pkg/api/meta"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/tools/record"
	"k8s.io/client-go/util/retry"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"

	"github.com/vaheed/odoonova/internal/builder"
	"github.com/vaheed/odoonova/internal/lib/tenanterr"
	"github.com/vaheed/odoonova/internal/logging"
	"github.com/vaheed/odoonova/internal/metrics"
	"github.com/vaheed/odoonova/internal/observability"
	"github.com/vaheed/odoonova/internal/status"
	"github.com/vaheed/odoonova/internal/store"
	"github.com/vaheed/odoonova/internal/teardown"
	"github.com/vaheed/odoonova/internal/telemetry"
	"github.com/vaheed/odoonova/internal/util"
	v1alpha1 "github.com/vaheed/odoonova/pkg/api/v1alpha1"
)

const (
	// Finalizer guards ordered teardown of a cluster's children.
	Finalizer = "odoo.simstech.cloud/finalizer"

	DefaultResyncInterval = 5 * time.Minute

	// ConflictRequeueDelay is how long a pass that kept losing write races
	// waits before trying again.
	ConflictRequeueDelay = time.Second

	EventPhaseChanged = "PhaseChanged"
	EventInvalidSpec  = "InvalidSpec"
)

// Options tunes the reconciler. Zero values fall back to defaults.
type Options struct {
	ResyncInterval          time.Duration
	GracePeriod             time.Duration
	TeardownTimeout         time.Duration
	MaxConcurrentReconciles int
}

// OdooClusterReconciler applies the desired children of every OdooCluster,
// reports their health and tears them down in order on deletion.
type OdooClusterReconciler struct {
	client.Client
	Scheme   *runtime.Scheme
	Recorder record.EventRecorder
	Events   telemetry.Publisher
	History  store.HistoryStore
	Options  Options
	Now      func() time.Time

	limiter *util.RateLimiter
}

func (r *OdooClusterReconciler) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	started := time.Now()
	requeues := r.requeues(req)
	ctx, span := observability.StartReconcile(ctx, req.Name, builder.NamesFor(req.Name).Namespace, requeues)
	ctx = logging.ForCluster(ctx, req.Name)
	log := logging.FromContext(ctx)

	res, err := r.reconcile(ctx, req)
	switch {
	case tenanterr.IsConflict(err):
		// Another writer won every immediate retry. Come back shortly
		// without growing the failure backoff.
		log.Info("conflict_requeued", zap.Error(err))
		res, err = ctrl.Result{RequeueAfter: ConflictRequeueDelay}, nil
		observability.EndReconcile(span, "conflict", nil)
		metrics.ObserveReconcile("requeue", started)
	case err != nil:
		log.Log(failureLevel(requeues), "reconcile_failed", zap.Error(err), zap.Int("requeues", requeues))
		observability.EndReconcile(span, "error", err)
		metrics.ObserveReconcile("error", started)
	case res.RequeueAfter > 0 || res.Requeue:
		observability.EndReconcile(span, "requeue", nil)
		metrics.ObserveReconcile("requeue", started)
	default:
		observability.EndReconcile(span, "success", nil)
		metrics.ObserveReconcile("success", started)
	}
	return res, err
}

// failureLevel raises the severity of a failing reconcile with the number of
// back-to-back failures for the same cluster.
func failureLevel(requeues int) zapcore.Level {
	switch {
	case requeues >= 5:
		return zapcore.ErrorLevel
	case requeues >= 2:
		return zapcore.WarnLevel
	default:
		return zapcore.InfoLevel
	}
}

func (r *OdooClusterReconciler) requeues(req ctrl.Request) int {
	if r.limiter == nil {
		return 0
	}
	return r.limiter.NumRequeues(req)
}

func (r *OdooClusterReconciler) reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	log := logging.FromContext(ctx)

	var cluster v1alpha1.OdooCluster
	if err := r.Get(ctx, req.NamespacedName, &cluster); err != nil {
		if apierrors.IsNotFound(err) {
			metrics.ForgetCluster(req.Name)
			return ctrl.Result{}, nil
		}
		return ctrl.Result{}, tenanterr.Classify("get", v1alpha1.Kind, req.Name, err)
	}
	observability.AnnotateCluster(ctx, cluster.Generation, string(cluster.Status.Phase))

	if !cluster.DeletionTimestamp.IsZero() {
		return r.finalize(ctx, &cluster)
	}

	if !controllerutil.ContainsFinalizer(&cluster, Finalizer) {
		controllerutil.AddFinalizer(&cluster, Finalizer)
		if err := r.Update(ctx, &cluster); err != nil {
			return ctrl.Result{}, tenanterr.Classify("add finalizer", v1alpha1.Kind, cluster.Name, err)
		}
		log.Info("finalizer_added")
	}
	if cluster.Status.Phase == "" {
		if err := r.writeStatus(ctx, &cluster, func(st *v1alpha1.OdooClusterStatus) {
			st.Phase = v1alpha1.PhasePending
		}); err != nil {
			return ctrl.Result{}, err
		}
	}

	set, err := builder.Build(&cluster)
	if err != nil {
		if tenanterr.IsValidation(err) {
			return r.reject(ctx, &cluster, err, false)
		}
		return ctrl.Result{}, err
	}
	return r.converge(ctx, &cluster, set)
}

// converge applies the desired set, prunes what is no longer wanted and
// writes the derived status.
func (r *OdooClusterReconciler) converge(ctx context.Context, cluster *v1alpha1.OdooCluster, set *builder.DesiredSet) (ctrl.Result, error) {
	log := logging.FromContext(ctx)

	// The namespace goes first so user supplied secrets have somewhere to live.
	if _, err := r.apply(ctx, cluster, set.Objects[0]); err != nil {
		return r.applyFailed(ctx, cluster, err)
	}
	if missing, err := r.missingSecrets(ctx, cluster, set.Names.Namespace); err != nil {
		return ctrl.Result{}, err
	} else if len(missing) > 0 {
		verr := tenanterr.Invalid("secrets", "referenced secrets not found in namespace %s: %s",
			set.Names.Namespace, strings.Join(missing, ", "))
		return r.reject(ctx, cluster, verr, true)
	}

	desired := make(map[v1alpha1.ChildRef]bool, len(set.Objects))
	tracked := make(map[v1alpha1.ChildRef]bool, len(cluster.Status.ChildRefs))
	for _, ref := range cluster.Status.ChildRefs {
		tracked[ref] = true
	}
	var refs []v1alpha1.ChildRef
	g := &gate{r: r, set: set}
	held := map[string]int{}
	for i, d := range set.Objects {
		ref := refFor(d.GVK(), d.Key())
		desired[ref] = true
		if i == 0 {
			refs = append(refs, ref)
			continue
		}
		if err := g.check(ctx, d); err != nil {
			if !tenanterr.IsDependencyNotReady(err) {
				return ctrl.Result{}, err
			}
			if held[err.Error()] == 0 {
				log.Info("waiting_for_dependency", zap.Error(err), zap.String("held", d.Key().Name))
			}
			held[err.Error()]++
			if tracked[ref] {
				refs = append(refs, ref)
			}
			continue
		}
		if _, err := r.apply(ctx, cluster, d); err != nil {
			return r.applyFailed(ctx, cluster, err)
		}
		refs = append(refs, ref)
	}
	db, err := g.database(ctx)
	if err != nil {
		return ctrl.Result{}, err
	}
	dbInit, err := g.initJob(ctx)
	if err != nil {
		return ctrl.Result{}, err
	}

	retained, err := r.prune(ctx, cluster, desired)
	if err != nil {
		return ctrl.Result{}, err
	}
	refs = append(refs, retained...)

	obs, err := r.observe(ctx, set, db, dbInit)
	if err != nil {
		return ctrl.Result{}, err
	}
	derived := status.Derive(status.Input{
		Observations: obs,
		Previous:     cluster.Status.Conditions,
		Generation:   cluster.Generation,
		Now:          r.now(),
		GracePeriod:  r.Options.GracePeriod,
	})
	if len(derived.Stalled) > 0 {
		log.Warn("grace_period_exceeded", zap.Strings("families", derived.Stalled))
	}

	fullPass := len(held) == 0
	err = r.writeStatus(ctx, cluster, func(st *v1alpha1.OdooClusterStatus) {
		st.Phase = derived.Phase
		st.Conditions = derived.Conditions
		st.ChildRefs = refs
		st.Database = v1alpha1.DatabaseStatus{
			Host:       set.Names.DatabaseHost(),
			SecretName: set.Names.DatabaseSecret,
			Ready:      db.Ready,
		}
		st.Endpoints = set.Endpoints
		if fullPass {
			st.ObservedGeneration = cluster.Generation
		}
	})
	if err != nil {
		return ctrl.Result{}, err
	}
	return ctrl.Result{RequeueAfter: r.resync()}, nil
}

// applyFailed turns an apply error into a result. Errors the API rejects as
// invalid are reported like spec problems; everything else is retried.
func (r *OdooClusterReconciler) applyFailed(ctx context.Context, cluster *v1alpha1.OdooCluster, err error) (ctrl.Result, error) {
	if tenanterr.IsValidation(err) {
		return r.reject(ctx, cluster, err, false)
	}
	return ctrl.Result{}, err
}

// missingSecrets lists the user supplied secrets that do not exist yet.
func (r *OdooClusterReconciler) missingSecrets(ctx context.Context, cluster *v1alpha1.OdooCluster, namespace string) ([]string, error) {
	var missing []string
	for _, name := range builder.ReferencedSecrets(cluster) {
		var s corev1.Secret
		err := r.Get(ctx, client.ObjectKey{Namespace: namespace, Name: name}, &s)
		switch {
		case err == nil:
		case apierrors.IsNotFound(err):
			missing = append(missing, name)
		default:
			return nil, tenanterr.Classify("get", "Secret", name, err)
		}
	}
	return missing, nil
}

// reject records a spec the controller will not apply. Structural problems
// stay rejected until the generation changes; recheck asks for another look
// after the resync interval for problems outside the spec, like a secret
// that has not been created yet.
func (r *OdooClusterReconciler) reject(ctx context.Context, cluster *v1alpha1.OdooCluster, cause error, recheck bool) (ctrl.Result, error) {
	msg := cause.Error()
	res := ctrl.Result{}
	if recheck {
		res.RequeueAfter = r.resync()
	}
	if prev := apimeta.FindStatusCondition(cluster.Status.Conditions, v1alpha1.ConditionDegraded); prev != nil &&
		status.IsInvalidFor(cluster.Status.Conditions, cluster.Generation) && prev.Message == msg {
		return res, nil
	}

	logging.FromContext(ctx).Warn("spec_rejected", zap.Error(cause))
	invalid := status.Invalid(cluster.Status.Conditions, cluster.Generation, r.now(), msg)
	err := r.writeStatus(ctx, cluster, func(st *v1alpha1.OdooClusterStatus) {
		st.Phase = invalid.Phase
		st.Conditions = invalid.Conditions
		st.ObservedGeneration = cluster.Generation
	})
	if err != nil {
		return ctrl.Result{}, err
	}
	r.event(cluster, corev1.EventTypeWarning, EventInvalidSpec, msg)
	r.publish(ctx, telemetry.Event{
		Cluster: cluster.Name,
		Type:    telemetry.TypeValidationFailed,
		Phase:   cluster.Status.Phase,
		Reason:  status.ReasonInvalidSpec,
		Message: msg,
	})
	return res, nil
}

// finalize runs one teardown step and releases the finalizer once done.
func (r *OdooClusterReconciler) finalize(ctx context.Context, cluster *v1alpha1.OdooCluster) (ctrl.Result, error) {
	log := logging.FromContext(ctx)
	if !controllerutil.ContainsFinalizer(cluster, Finalizer) {
		return ctrl.Result{}, nil
	}
	if cluster.Status.Phase != v1alpha1.PhaseDeleting {
		err := r.writeStatus(ctx, cluster, func(st *v1alpha1.OdooClusterStatus) {
			st.Phase = v1alpha1.PhaseDeleting
		})
		if err != nil && !apierrors.IsNotFound(err) {
			return ctrl.Result{}, err
		}
	}

	seq := &teardown.Sequencer{
		Client:   r.Client,
		Recorder: r.Recorder,
		Timeout:  r.Options.TeardownTimeout,
		Now:      r.now,
	}
	out, err := seq.Run(ctx, cluster)
	if err != nil {
		return ctrl.Result{}, err
	}
	if !out.Done {
		return ctrl.Result{RequeueAfter: out.RequeueAfter}, nil
	}

	ev := telemetry.Event{Cluster: cluster.Name, Type: telemetry.TypeTeardownComplete, Previous: v1alpha1.PhaseDeleting}
	if out.TimedOut {
		ev.Type = telemetry.TypeTeardownTimeout
		ev.Message = fmt.Sprintf("forced after timeout in stage %s, remaining: %s", out.Stage, strings.Join(out.Remaining, ", "))
	}
	r.publish(ctx, ev)
	if r.History != nil {
		if err := r.History.Forget(ctx, cluster.Name); err != nil {
			log.Warn("history_forget_failed", zap.Error(err))
		}
	}
	metrics.ForgetCluster(cluster.Name)

	patch := client.MergeFrom(cluster.DeepCopyObject().(client.Object))
	controllerutil.RemoveFinalizer(cluster, Finalizer)
	if err := r.Patch(ctx, cluster, patch); err != nil && !apierrors.IsNotFound(err) {
		return ctrl.Result{}, tenanterr.Classify("remove finalizer", v1alpha1.Kind, cluster.Name, err)
	}
	log.Info("finalizer_removed", zap.Bool("timed_out", out.TimedOut))
	return ctrl.Result{}, nil
}

// writeStatus applies mutate to the latest status and writes it when it
// changed. Phase transitions are announced afterwards.
func (r *OdooClusterReconciler) writeStatus(ctx context.Context, cluster *v1alpha1.OdooCluster, mutate func(*v1alpha1.OdooClusterStatus)) error {
	var previous v1alpha1.Phase
	err := retry.RetryOnConflict(conflictBackoff, func() error {
		var latest v1alpha1.OdooCluster
		if err := r.Get(ctx, client.ObjectKeyFromObject(cluster), &latest); err != nil {
			return err
		}
		previous = latest.Status.Phase
		next := latest.Status.DeepCopy()
		mutate(&next)
		if equality.Semantic.DeepEqual(latest.Status, next) {
			*cluster = latest
			return nil
		}
		latest.Status = next
		if err := r.Status().Update(ctx, &latest); err != nil {
			return err
		}
		*cluster = latest
		return nil
	})
	if err != nil {
		return tenanterr.Classify("update status", v1alpha1.Kind, cluster.Name, err)
	}
	if cluster.Status.Phase != previous {
		r.phaseChanged(ctx, cluster, previous)
	}
	return nil
}

func (r *OdooClusterReconciler) phaseChanged(ctx context.Context, cluster *v1alpha1.OdooCluster, previous v1alpha1.Phase) {
	phase := cluster.Status.Phase
	reason, message := string(phase), ""
	if c := apimeta.FindStatusCondition(cluster.Status.Conditions, v1alpha1.ConditionDegraded); c != nil {
		reason, message = c.Reason, c.Message
	}
	logging.FromContext(ctx).Info("phase_changed",
		zap.String("from", string(previous)),
		zap.String("to", string(phase)),
		zap.String("reason", reason),
	)
	r.event(cluster, corev1.EventTypeNormal, EventPhaseChanged, fmt.Sprintf("%s -> %s", orNone(previous), phase))
	r.publish(ctx, telemetry.Event{
		Cluster:  cluster.Name,
		Type:     telemetry.TypePhaseChanged,
		Phase:    phase,
		Previous: previous,
		Reason:   reason,
		Message:  message,
	})
	if r.History != nil {
		err := r.History.Record(ctx, store.PhaseRecord{
			Cluster:    cluster.Name,
			Generation: cluster.Generation,
			Previous:   previous,
			Phase:      phase,
			Reason:     reason,
			Message:    message,
			At:         r.now(),
		})
		if err != nil {
			logging.FromContext(ctx).Warn("history_record_failed", zap.Error(err))
		}
	}
	metrics.SetPhase(cluster.Name, phase)
}

func (r *OdooClusterReconciler) event(cluster *v1alpha1.OdooCluster, kind, reason, msg string) {
	if r.Recorder != nil {
		r.Recorder.Event(cluster, kind, reason, msg)
	}
}

func (r *OdooClusterReconciler) publish(ctx context.Context, ev telemetry.Event) {
	if r.Events == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = r.now().UTC()
	}
	r.Events.Publish(ctx, ev)
}

func (r *OdooClusterReconciler) resync() time.Duration {
	if r.Options.ResyncInterval > 0 {
		return r.Options.ResyncInterval
	}
	return DefaultResyncInterval
}

func (r *OdooClusterReconciler) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func orNone(p v1alpha1.Phase) string {
	if p == "" {
		return "<none>"
	}
	return string(p)
}

func (r *OdooClusterReconciler) SetupWithManager(mgr ctrl.Manager) error {
	if r.Scheme == nil {
		r.Scheme = mgr.GetScheme()
	}
	if r.Recorder == nil {
		r.Recorder = mgr.GetEventRecorderFor("odoonova")
	}
	r.limiter = util.NewRateLimiter(time.Second, 5*time.Minute)
	workers := r.Options.MaxConcurrentReconciles
	if workers <= 0 {
		workers = 1
	}
	return ctrl.NewControllerManagedBy(mgr).
		For(&v1alpha1.OdooCluster{}).
		Owns(&corev1.Namespace{}).
		Owns(&appsv1.Deployment{}).
		Owns(&corev1.Service{}).
		Owns(&corev1.ConfigMap{}).
		Owns(&corev1.Secret{}).
		Owns(&corev1.PersistentVolumeClaim{}).
		Owns(&corev1.ServiceAccount{}).
		Owns(&rbacv1.Role{}).
		Owns(&rbacv1.RoleBinding{}).
		Owns(&networkingv1.Ingress{}).
		Owns(&batchv1.Job{}).
		Owns(&batchv1.CronJob{}).
		WithOptions(controller.Options{
			MaxConcurrentReconciles: workers,
			RateLimiter:             r.limiter,
		}).
		Complete(r)
}

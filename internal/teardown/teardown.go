// Package teardown removes an OdooCluster's children in a fixed stage order
// before its finalizer is released.
package teardown

import (
	"context"
	"time"

	"go.uber.org/zap"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	apimeta "k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/tools/record"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/vaheed/odoonova/internal/builder"
	"github.com/vaheed/odoonova/internal/lib/tenanterr"
	"github.com/vaheed/odoonova/internal/logging"
	"github.com/vaheed/odoonova/internal/metrics"
	v1alpha1 "github.com/vaheed/odoonova/pkg/api/v1alpha1"
)

const (
	// DefaultTimeout bounds a teardown, measured from the deletion timestamp.
	DefaultTimeout = 15 * time.Minute
	// PollInterval is the requeue delay while a stage is draining.
	PollInterval = 5 * time.Second

	EventTeardownComplete = "TeardownComplete"
	EventTeardownTimeout  = "TeardownTimeout"
)

var stageOrder = []builder.Stage{
	builder.StageWorkloads,
	builder.StageDatabase,
	builder.StageData,
	builder.StageNamespace,
}

// Sequencer deletes children stage by stage. A stage counts as done only
// once every object in it is confirmed absent.
type Sequencer struct {
	Client   client.Client
	Recorder record.EventRecorder
	Timeout  time.Duration
	Now      func() time.Time
}

// Outcome tells the caller whether the finalizer may be removed.
type Outcome struct {
	Done      bool
	TimedOut  bool
	Stage     builder.Stage
	Remaining []string
	// RequeueAfter is set while a stage is still draining.
	RequeueAfter time.Duration
}

// Run advances the teardown of cluster as far as it can in one pass.
func (s *Sequencer) Run(ctx context.Context, cluster *v1alpha1.OdooCluster) (Outcome, error) {
	log := logging.FromContext(ctx)
	refs := builder.Catalog(cluster.Name)

	for _, stage := range stageOrder {
		var stageRefs []builder.Ref
		for _, r := range refs {
			if r.Stage == stage {
				stageRefs = append(stageRefs, r)
			}
		}
		remaining, err := s.drain(ctx, cluster, stageRefs)
		if err != nil {
			return Outcome{Stage: stage}, err
		}
		if len(remaining) == 0 {
			continue
		}

		elapsed := s.elapsed(cluster)
		if elapsed > s.timeout() {
			terr := &tenanterr.TeardownTimeoutError{Elapsed: elapsed, Stage: stage.String(), Remaining: remaining}
			log.Error("teardown_timeout", zap.Error(terr))
			s.event(cluster, corev1.EventTypeWarning, EventTeardownTimeout, terr.Error())
			metrics.TeardownTotal.WithLabelValues("timeout").Inc()
			return Outcome{Done: true, TimedOut: true, Stage: stage, Remaining: remaining}, nil
		}
		log.Info("teardown_waiting",
			zap.String("stage", stage.String()),
			zap.Strings("remaining", remaining),
			zap.Duration("elapsed", elapsed),
		)
		return Outcome{Stage: stage, Remaining: remaining, RequeueAfter: PollInterval}, nil
	}

	log.Info("teardown_complete", zap.Duration("elapsed", s.elapsed(cluster)))
	s.event(cluster, corev1.EventTypeNormal, EventTeardownComplete, "all children removed")
	metrics.TeardownTotal.WithLabelValues("complete").Inc()
	return Outcome{Done: true, Stage: builder.StageNamespace}, nil
}

// drain deletes the refs controlled by cluster and returns the ones still
// present. Objects that exist under a catalog name but belong to someone
// else are left alone.
func (s *Sequencer) drain(ctx context.Context, cluster *v1alpha1.OdooCluster, refs []builder.Ref) ([]string, error) {
	log := logging.FromContext(ctx)
	var owned []builder.Ref
	for _, r := range refs {
		obj := r.Object()
		err := s.Client.Get(ctx, client.ObjectKeyFromObject(obj), obj)
		switch {
		case err == nil:
		case gone(err):
			continue
		default:
			return nil, tenanterr.Classify("get", r.GVK.Kind, r.Name, err)
		}
		if !controlledBy(obj, cluster) {
			log.Debug("teardown_skip_foreign", zap.String("object", r.String()))
			continue
		}
		owned = append(owned, r)
		if obj.GetDeletionTimestamp() != nil {
			continue
		}
		uid := obj.GetUID()
		err = s.Client.Delete(ctx, obj,
			client.PropagationPolicy(metav1.DeletePropagationBackground),
			client.Preconditions{UID: &uid},
		)
		switch {
		case err == nil:
			log.Debug("teardown_delete", zap.String("object", r.String()))
		case gone(err), apierrors.IsConflict(err):
		default:
			return nil, tenanterr.Classify("delete", r.GVK.Kind, r.Name, err)
		}
	}
	var remaining []string
	for _, r := range owned {
		obj := r.Object()
		err := s.Client.Get(ctx, client.ObjectKeyFromObject(obj), obj)
		switch {
		case err == nil:
			if controlledBy(obj, cluster) {
				remaining = append(remaining, r.String())
			}
		case gone(err):
		default:
			return nil, tenanterr.Classify("get", r.GVK.Kind, r.Name, err)
		}
	}
	return remaining, nil
}

func controlledBy(obj client.Object, cluster *v1alpha1.OdooCluster) bool {
	ref := metav1.GetControllerOf(obj)
	return ref != nil && ref.UID == cluster.UID && ref.Kind == v1alpha1.Kind
}

// gone treats a missing object and a missing kind alike, so clusters without
// the database operator's CRDs can still be torn down.
func gone(err error) bool {
	return apierrors.IsNotFound(err) || apimeta.IsNoMatchError(err)
}

func (s *Sequencer) elapsed(cluster *v1alpha1.OdooCluster) time.Duration {
	if cluster.DeletionTimestamp == nil {
		return 0
	}
	return s.now().Sub(cluster.DeletionTimestamp.Time)
}

func (s *Sequencer) timeout() time.Duration {
	if s.Timeout > 0 {
		return s.Timeout
	}
	return DefaultTimeout
}

func (s *Sequencer) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Sequencer) event(cluster *v1alpha1.OdooCluster, kind, reason, msg string) {
	if s.Recorder != nil {
		s.Recorder.Event(cluster, kind, reason, msg)
	}
}

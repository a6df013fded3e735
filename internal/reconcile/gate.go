package reconcile

import (
	"context"
	"fmt"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"

	"github.com/vaheed/odoonova/internal/builder"
	"github.com/vaheed/odoonova/internal/lib/tenanterr"
)

type initState struct {
	Complete bool
	Failed   bool
	Reason   string
	Message  string
}

// gate decides whether a desired object's prerequisites are met. Each
// prerequisite is read at most once per pass.
type gate struct {
	r      *OdooClusterReconciler
	set    *builder.DesiredSet
	db     *databaseState
	dbInit *initState
}

// check returns a DependencyNotReadyError when d has to wait.
func (g *gate) check(ctx context.Context, d builder.Desired) error {
	if d.RequiresDatabase {
		db, err := g.database(ctx)
		if err != nil {
			return err
		}
		if !db.Ready {
			return &tenanterr.DependencyNotReadyError{Dependency: g.set.Names.Database, Reason: db.Message}
		}
	}
	if d.RequiresInit {
		st, err := g.initJob(ctx)
		if err != nil {
			return err
		}
		if !st.Complete {
			return &tenanterr.DependencyNotReadyError{Dependency: g.set.Names.AppDBInit, Reason: st.Message}
		}
	}
	return nil
}

func (g *gate) database(ctx context.Context) (databaseState, error) {
	if g.db == nil {
		st, err := g.r.observeDatabase(ctx, g.set.Names)
		if err != nil {
			return databaseState{}, err
		}
		g.db = &st
	}
	return *g.db, nil
}

func (g *gate) initJob(ctx context.Context) (initState, error) {
	if g.dbInit == nil {
		st, err := g.r.observeInit(ctx, g.set)
		if err != nil {
			return initState{}, err
		}
		g.dbInit = &st
	}
	return *g.dbInit, nil
}

// observeInit reads the database init job. A job built from an older spec
// does not count as complete.
func (r *OdooClusterReconciler) observeInit(ctx context.Context, set *builder.DesiredSet) (initState, error) {
	name := set.Names.AppDBInit
	d, ok := set.Find(builder.JobGVK.Kind, name)
	if !ok {
		return initState{Complete: true}, nil
	}
	var job batchv1.Job
	if err := r.Get(ctx, d.Key(), &job); err != nil {
		if apierrors.IsNotFound(err) {
			return initState{Reason: "DatabaseInitPending", Message: fmt.Sprintf("job %s not created yet", name)}, nil
		}
		return initState{}, tenanterr.Classify("get", builder.JobGVK.Kind, name, err)
	}
	if job.Annotations[builder.AnnotationSpecHash] != d.Object.GetAnnotations()[builder.AnnotationSpecHash] {
		return initState{Reason: "DatabaseInitPending", Message: fmt.Sprintf("job %s is being replaced", name)}, nil
	}
	for _, c := range job.Status.Conditions {
		if c.Status != corev1.ConditionTrue {
			continue
		}
		switch c.Type {
		case batchv1.JobComplete:
			return initState{Complete: true, Reason: "DatabaseInitialized"}, nil
		case batchv1.JobFailed:
			return initState{Failed: true, Reason: "DatabaseInitFailed", Message: fmt.Sprintf("job %s failed: %s", name, c.Message)}, nil
		}
	}
	return initState{Reason: "DatabaseInitializing", Message: fmt.Sprintf("job %s running, %d failed attempts", name, job.Status.Failed)}, nil
}

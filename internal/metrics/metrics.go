package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	crmetrics "sigs.k8s.io/controller-runtime/pkg/metrics"

	v1alpha1 "github.com/vaheed/odoonova/pkg/api/v1alpha1"
)

var (
	ReconcileSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "odoonova",
		Name:      "reconcile_duration_seconds",
		Help:      "Duration of OdooCluster reconcile passes by result.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"result"})
	ClusterPhase = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "odoonova",
		Name:      "cluster_phase",
		Help:      "Current phase of each OdooCluster, 1 for the active phase.",
	}, []string{"cluster", "phase"})
	TeardownTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "odoonova",
		Name:      "teardown_total",
		Help:      "Completed teardowns by outcome.",
	}, []string{"outcome"})
	ChildApplyTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "odoonova",
		Name:      "child_apply_total",
		Help:      "Child object writes by kind and action.",
	}, []string{"kind", "action"})
)

var phases = []v1alpha1.Phase{
	v1alpha1.PhasePending,
	v1alpha1.PhaseProvisioning,
	v1alpha1.PhaseReady,
	v1alpha1.PhaseDegraded,
	v1alpha1.PhaseDeleting,
}

func init() {
	crmetrics.Registry.MustRegister(ReconcileSeconds, ClusterPhase, TeardownTotal, ChildApplyTotal)
}

// ObserveReconcile records one reconcile pass.
func ObserveReconcile(result string, started time.Time) {
	ReconcileSeconds.WithLabelValues(result).Observe(time.Since(started).Seconds())
}

// SetPhase marks phase as the active one for cluster.
func SetPhase(cluster string, phase v1alpha1.Phase) {
	for _, p := range phases {
		v := 0.0
		if p == phase {
			v = 1
		}
		ClusterPhase.WithLabelValues(cluster, string(p)).Set(v)
	}
}

// ForgetCluster drops the phase series of a removed cluster.
func ForgetCluster(cluster string) {
	ClusterPhase.DeletePartialMatch(prometheus.Labels{"cluster": cluster})
}

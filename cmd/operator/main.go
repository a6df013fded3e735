package main

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
	"k8s.io/apimachinery/pkg/runtime"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/healthz"
	crzap "sigs.k8s.io/controller-runtime/pkg/log/zap"
	metricsserver "sigs.k8s.io/controller-runtime/pkg/metrics/server"

	"github.com/vaheed/odoonova/internal/config"
	httpapi "github.com/vaheed/odoonova/internal/http"
	"github.com/vaheed/odoonova/internal/logging"
	"github.com/vaheed/odoonova/internal/observability"
	"github.com/vaheed/odoonova/internal/reconcile"
	"github.com/vaheed/odoonova/internal/store"
	"github.com/vaheed/odoonova/internal/telemetry"
	"github.com/vaheed/odoonova/internal/util"
	v1alpha1 "github.com/vaheed/odoonova/pkg/api/v1alpha1"
)

func main() {
	config.LoadDotenv()
	cfg, err := config.FromEnv()
	if err != nil {
		logging.L.Fatal("config", zap.Error(err))
	}

	scheme := runtime.NewScheme()
	utilruntime.Must(clientgoscheme.AddToScheme(scheme))
	utilruntime.Must(v1alpha1.AddToScheme(scheme))

	ctrl.SetLogger(crzap.New(crzap.UseDevMode(cfg.Environment == "dev")))

	ctx := ctrl.SetupSignalHandler()

	shutdownTrace, err := observability.SetupOTel(ctx, observability.Config{
		Endpoint:       cfg.OTLPEndpoint,
		Insecure:       cfg.OTLPInsecure,
		ServiceVersion: cfg.Version,
		Environment:    cfg.Environment,
		PodNamespace:   cfg.PodNamespace,
		PodName:        cfg.PodName,
	})
	if err != nil {
		logging.L.Warn("otel_setup_failed", zap.Error(err))
	} else {
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdownTrace(sctx)
		}()
	}

	var history store.HistoryStore
	err = util.Retry(60*time.Second, func() (bool, error) {
		h, e := store.EnvOrMemory(ctx, cfg.DatabaseURL)
		if e != nil {
			logging.L.Warn("history_store_connect_failed", zap.Error(e))
			return true, e
		}
		history = h
		return false, nil
	})
	if err != nil {
		logging.L.Fatal("history store", zap.Error(err))
	}
	defer func() { _ = history.Close(context.Background()) }()

	events := telemetry.NewStream(cfg.RedisAddr)
	defer func() { _ = events.Close() }()

	mgr, err := ctrl.NewManager(ctrl.GetConfigOrDie(), ctrl.Options{
		Scheme:                 scheme,
		Metrics:                metricsserver.Options{BindAddress: cfg.MetricsAddr},
		HealthProbeBindAddress: cfg.HealthAddr,
		LeaderElection:         cfg.LeaderElect,
		LeaderElectionID:       cfg.LeaderElectionID,
	})
	if err != nil {
		logging.L.Fatal("manager", zap.Error(err))
	}

	rec := &reconcile.OdooClusterReconciler{
		Client:  mgr.GetClient(),
		Scheme:  mgr.GetScheme(),
		Events:  events,
		History: history,
		Options: reconcile.Options{
			ResyncInterval:          cfg.ResyncInterval,
			GracePeriod:             cfg.StatusGracePeriod,
			TeardownTimeout:         cfg.TeardownTimeout,
			MaxConcurrentReconciles: cfg.MaxConcurrentReconciles,
		},
	}
	if err := rec.SetupWithManager(mgr); err != nil {
		logging.L.Fatal("odoocluster reconciler", zap.Error(err))
	}

	api := httpapi.NewServer(httpapi.Options{
		Addr:       cfg.StatusAPIAddr,
		Reader:     mgr.GetClient(),
		History:    history,
		Events:     events,
		RateLimit:  cfg.StatusAPIRateLimit,
		SigningKey: []byte(cfg.StatusAPISigningKey),
		Version:    cfg.Version,
	})
	if err := mgr.Add(api); err != nil {
		logging.L.Fatal("status api", zap.Error(err))
	}

	if err := mgr.AddHealthzCheck("healthz", healthz.Ping); err != nil {
		logging.L.Fatal("healthz", zap.Error(err))
	}
	if err := mgr.AddReadyzCheck("readyz", func(req *http.Request) error {
		return history.Health(req.Context())
	}); err != nil {
		logging.L.Fatal("readyz", zap.Error(err))
	}

	logging.L.Info("operator_starting",
		zap.String("version", cfg.Version),
		zap.Bool("leader_elect", cfg.LeaderElect),
		zap.Bool("events_enabled", events.Enabled()),
		zap.Bool("status_api_auth", cfg.StatusAPISigningKey != ""),
	)
	if err := mgr.Start(ctx); err != nil {
		logging.L.Fatal("manager stopped", zap.Error(err))
	}
}

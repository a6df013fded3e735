// Package httpapi serves the read-only OdooCluster status API.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/vaheed/odoonova/internal/builder"
	"github.com/vaheed/odoonova/internal/lib/httperr"
	"github.com/vaheed/odoonova/internal/logging"
	"github.com/vaheed/odoonova/internal/store"
	"github.com/vaheed/odoonova/internal/telemetry"
	v1alpha1 "github.com/vaheed/odoonova/pkg/api/v1alpha1"
	"github.com/vaheed/odoonova/pkg/types"
)

const (
	otelServiceName  = "odoonova-status-api"
	defaultRateLimit = 120
	defaultListLimit = 50
	maxListLimit     = 500
	shutdownTimeout  = 10 * time.Second
)

// EventReader returns recent lifecycle events of a cluster, oldest first.
type EventReader interface {
	Recent(ctx context.Context, cluster string, n int) ([]telemetry.Event, error)
}

type Options struct {
	Addr   string
	Reader client.Reader
	// History and Events may be nil; their routes then return an empty list.
	History store.HistoryStore
	Events  EventReader
	// RateLimit is requests per minute per client IP on /api/v1.
	RateLimit  int
	SigningKey []byte
	Version    string
}

// Server exposes cluster status over HTTP.
type Server struct {
	opts Options
	auth AuthConfig
}

func NewServer(opts Options) *Server {
	if opts.RateLimit <= 0 {
		opts.RateLimit = defaultRateLimit
	}
	return &Server{opts: opts, auth: AuthConfig{Key: opts.SigningKey}}
}

// Router returns the configured HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(otelhttp.NewMiddleware(otelServiceName))
	r.Use(logMiddleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(httprate.Limit(s.opts.RateLimit, time.Minute,
			httprate.WithKeyFuncs(httprate.KeyByIP),
			httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
				httperr.Write(w, http.StatusTooManyRequests, httperr.CodeRateLimited, "rate limit exceeded")
			}),
		))
		api.Get("/version", s.version)
		api.Group(func(g chi.Router) {
			g.Use(s.auth.Middleware)
			g.Get("/clusters", s.listClusters)
			g.Get("/clusters/{name}", s.getCluster)
			g.Get("/clusters/{name}/history", s.history)
			g.Get("/clusters/{name}/events", s.events)
		})
	})
	return r
}

// Start serves until ctx is cancelled. It satisfies manager.Runnable.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	logging.L.Info("status_api_listening", zap.String("addr", s.opts.Addr))
	err := StartHTTP(ctx, srv)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// NeedLeaderElection is false so every replica serves reads.
func (s *Server) NeedLeaderElection() bool { return false }

// StartHTTP runs srv until ctx is done or the listener fails.
func StartHTTP(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(sctx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		fields := []zap.Field{
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		}
		spanCtx := trace.SpanContextFromContext(r.Context())
		if spanCtx.IsValid() {
			fields = append(fields, zap.String("trace_id", spanCtx.TraceID().String()))
		}
		logging.L.Info("http_request", fields...)
	})
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.opts.History != nil {
		if err := s.opts.History.Health(r.Context()); err != nil {
			httperr.Write(w, http.StatusServiceUnavailable, httperr.CodeUnavailable, "history store not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) version(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": s.opts.Version})
}

func (s *Server) listClusters(w http.ResponseWriter, r *http.Request) {
	var list v1alpha1.OdooClusterList
	if err := s.opts.Reader.List(r.Context(), &list); err != nil {
		logging.FromContext(r.Context()).Error("cluster_list_failed", zap.Error(err))
		httperr.Write(w, http.StatusInternalServerError, httperr.CodeInternal, "listing clusters failed")
		return
	}
	phase := v1alpha1.Phase(r.URL.Query().Get("phase"))
	out := make([]types.ClusterSummary, 0, len(list.Items))
	for i := range list.Items {
		c := &list.Items[i]
		if phase != "" && c.Status.Phase != phase {
			continue
		}
		out = append(out, summary(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getCluster(w http.ResponseWriter, r *http.Request) {
	c, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, detail(c))
}

func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	limit, ok := limitParam(w, r)
	if !ok {
		return
	}
	name := chi.URLParam(r, "name")
	if _, ok := s.lookup(w, r); !ok {
		return
	}
	if s.opts.History == nil {
		writeJSON(w, http.StatusOK, []types.PhaseTransition{})
		return
	}
	records, err := s.opts.History.History(r.Context(), name, limit)
	if err != nil {
		logging.FromContext(r.Context()).Error("history_read_failed", zap.String("cluster", name), zap.Error(err))
		httperr.Write(w, http.StatusInternalServerError, httperr.CodeInternal, "reading history failed")
		return
	}
	out := make([]types.PhaseTransition, 0, len(records))
	for _, rec := range records {
		out = append(out, types.PhaseTransition{
			ID:         rec.ID,
			Generation: rec.Generation,
			Previous:   string(rec.Previous),
			Phase:      string(rec.Phase),
			Reason:     rec.Reason,
			Message:    rec.Message,
			At:         rec.At,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) events(w http.ResponseWriter, r *http.Request) {
	limit, ok := limitParam(w, r)
	if !ok {
		return
	}
	name := chi.URLParam(r, "name")
	if _, ok := s.lookup(w, r); !ok {
		return
	}
	out := []types.LifecycleEvent{}
	if s.opts.Events != nil {
		evs, err := s.opts.Events.Recent(r.Context(), name, limit)
		if err != nil {
			logging.FromContext(r.Context()).Warn("events_read_failed", zap.String("cluster", name), zap.Error(err))
			httperr.Write(w, http.StatusServiceUnavailable, httperr.CodeUnavailable, "event stream unavailable")
			return
		}
		for _, ev := range evs {
			out = append(out, types.LifecycleEvent{
				ID:       ev.ID,
				Time:     ev.Time,
				Type:     ev.Type,
				Phase:    string(ev.Phase),
				Previous: string(ev.Previous),
				Reason:   ev.Reason,
				Message:  ev.Message,
			})
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*v1alpha1.OdooCluster, bool) {
	name := chi.URLParam(r, "name")
	var c v1alpha1.OdooCluster
	if err := s.opts.Reader.Get(r.Context(), client.ObjectKey{Name: name}, &c); err != nil {
		if apierrors.IsNotFound(err) {
			httperr.Write(w, http.StatusNotFound, httperr.CodeNotFound, "cluster "+name+" not found")
			return nil, false
		}
		logging.FromContext(r.Context()).Error("cluster_get_failed", zap.String("cluster", name), zap.Error(err))
		httperr.Write(w, http.StatusInternalServerError, httperr.CodeInternal, "reading cluster failed")
		return nil, false
	}
	return &c, true
}

func limitParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultListLimit, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 || n > maxListLimit {
		httperr.Write(w, http.StatusBadRequest, httperr.CodeBadRequest, "limit must be between 1 and "+strconv.Itoa(maxListLimit))
		return 0, false
	}
	return n, true
}

func summary(c *v1alpha1.OdooCluster) types.ClusterSummary {
	return types.ClusterSummary{
		Name:               c.Name,
		Namespace:          builder.NamesFor(c.Name).Namespace,
		Phase:              string(c.Status.Phase),
		Generation:         c.Generation,
		ObservedGeneration: c.Status.ObservedGeneration,
		Ready:              c.Status.Phase == v1alpha1.PhaseReady,
		Deleting:           !c.DeletionTimestamp.IsZero(),
		Endpoints:          c.Status.Endpoints,
		CreatedAt:          c.CreationTimestamp.UTC(),
	}
}

func detail(c *v1alpha1.OdooCluster) types.ClusterDetail {
	d := types.ClusterDetail{
		ClusterSummary: summary(c),
		Database: types.Database{
			Host:       c.Status.Database.Host,
			SecretName: c.Status.Database.SecretName,
			Ready:      c.Status.Database.Ready,
		},
	}
	for _, cond := range c.Status.Conditions {
		d.Conditions = append(d.Conditions, types.Condition{
			Type:               cond.Type,
			Status:             string(cond.Status),
			Reason:             cond.Reason,
			Message:            cond.Message,
			LastTransitionTime: cond.LastTransitionTime.UTC(),
		})
	}
	for _, ref := range c.Status.ChildRefs {
		d.Children = append(d.Children, types.ChildRef{
			APIVersion: ref.APIVersion,
			Kind:       ref.Kind,
			Namespace:  ref.Namespace,
			Name:       ref.Name,
		})
	}
	return d
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

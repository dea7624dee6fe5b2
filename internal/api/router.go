// Package api exposes the rebuild subsystem over HTTP: rebuild webhooks,
// upload notifications, admin deletion and the aggregation callback.
package api

import (
	"crypto/subtle"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mwantia/lakesync/internal/rebuild"
	"github.com/mwantia/lakesync/pkg/db/store"
	"github.com/mwantia/lakesync/pkg/log"
	"github.com/mwantia/lakesync/pkg/objstore"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lakesync_http_requests_total",
		Help: "HTTP requests by route and status.",
	}, []string{"method", "route", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lakesync_http_request_duration_seconds",
		Help:    "HTTP request duration by route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})
)

type Config struct {
	// Token protects /api/v1 when set.
	Token string

	// Admin credentials used for deletions; the account keys are used when
	// they are empty.
	AdminAccessKey string
	AdminSecretKey string

	PresignTTL time.Duration
}

type Handler struct {
	catalog   store.CatalogStore
	service   *rebuild.Service
	deleter   *rebuild.Deleter
	lifecycle *rebuild.Lifecycle
	factory   objstore.Factory
	logger    log.LoggerService
	cfg       Config
}

func NewHandler(catalog store.CatalogStore, service *rebuild.Service, deleter *rebuild.Deleter, lifecycle *rebuild.Lifecycle,
	factory objstore.Factory, logger log.LoggerService, cfg Config) *Handler {
	if cfg.PresignTTL <= 0 {
		cfg.PresignTTL = time.Hour
	}

	return &Handler{
		catalog:   catalog,
		service:   service,
		deleter:   deleter,
		lifecycle: lifecycle,
		factory:   factory,
		logger:    logger,
		cfg:       cfg,
	}
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(metricsMiddleware)

	r.Get("/healthz", h.health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(h.authenticate)

		r.Route("/accounts/{account}", func(r chi.Router) {
			r.Post("/rebuild", h.rebuildAccount)
			r.Post("/uploads", h.uploads)
			r.Get("/files", h.listFiles)
			r.Post("/files/delete", h.deleteFiles)
			r.Get("/runs", h.listRuns)
			r.Get("/sources/{source}/files", h.sourceFiles)
		})

		r.Post("/sources/{source}/callback", h.callback)
	})

	return r
}

func (h *Handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.cfg.Token != "" {
			token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if subtle.ConstantTimeCompare([]byte(token), []byte(h.cfg.Token)) != 1 {
				writeError(w, http.StatusUnauthorized, "missing or invalid token")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		// Route patterns keep the label cardinality bounded.
		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if err := h.catalog.Health(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "fail", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Package server exposes the busy signal, the preload cache and metrics over
// HTTP, and proxies the remote API through the activity-tracking transport.
package server

import (
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sho7650/media-stage/internal/activity"
	"github.com/sho7650/media-stage/internal/logger"
	"github.com/sho7650/media-stage/internal/preload"
)

// requestTimeout bounds every route except the event stream.
const requestTimeout = 30 * time.Second

// Deps are the components the router serves.
type Deps struct {
	Counter  *activity.Counter
	Cache    *preload.Cache
	Gatherer prometheus.Gatherer
	// API handles /api/*. nil leaves the route unregistered.
	API http.Handler
}

// NewRouter creates the chi router with all middleware and routes.
//
// Routes:
//   - GET /health - Liveness probe
//   - GET /busy - Busy indicator snapshot
//   - GET /busy/events - Busy indicator changes as server-sent events
//   - GET /resources - Preloaded resources
//   - GET /resources/{key} - One preloaded resource
//   - DELETE /resources - Clear the preload cache
//   - POST /preload/{key} - Preload a key and wait for its outcome
//   - GET /metrics - Prometheus metrics
//   - /api/* - Remote API proxy
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	h := &handlers{counter: deps.Counter, cache: deps.Cache}

	// Long-lived stream, no timeout
	r.Get("/busy/events", h.busyEvents)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(requestTimeout))

		r.Get("/health", h.health)
		r.Get("/busy", h.busy)

		r.Route("/resources", func(r chi.Router) {
			r.Get("/", h.listResources)
			r.Delete("/", h.clearResources)
			r.Get("/{key}", h.getResource)
		})
		r.Post("/preload/{key}", h.preload)

		if deps.Gatherer != nil {
			r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
		}

		if deps.API != nil {
			r.Handle("/api/*", http.StripPrefix("/api", deps.API))
		}
	})

	return r
}

// NewAPIProxy forwards requests to target through transport. Passing an
// activity.Transport makes every proxied call count toward the busy signal.
func NewAPIProxy(target *url.URL, transport http.RoundTripper) *httputil.ReverseProxy {
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
		},
		Transport: transport,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			logger.Warn("API proxy request failed", "component", "server", "path", r.URL.Path, "error", err)
			writeProblem(w, http.StatusBadGateway, "upstream request failed")
		},
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		logArgs := []any{
			"component", "server",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).String(),
		}

		// Probes and scrapes are noisy
		if isQuietPath(r.URL.Path) {
			logger.Debug("HTTP request completed", logArgs...)
		} else {
			logger.Info("HTTP request completed", logArgs...)
		}
	})
}

func isQuietPath(path string) bool {
	return path == "/health" || path == "/metrics" || strings.HasPrefix(path, "/busy")
}

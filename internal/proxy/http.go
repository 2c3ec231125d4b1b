package proxy

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"graphmem/internal/logging"
)

// Router mounts the SSE endpoints next to /healthz and /metrics.
// sse may be nil, which serves only the operational endpoints.
func (s *Server) Router(sse http.Handler) http.Handler {
	router := chi.NewRouter()

	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.Recoverer)
	router.Use(s.instrument)

	router.Get("/healthz", s.handleHealth)
	router.Handle("/metrics", promhttp.HandlerFor(s.graph.Metrics().Registry(), promhttp.HandlerOpts{}))

	if sse != nil {
		router.Handle("/sse", sse)
		router.Handle("/message", sse)
	}
	return router
}

// healthReport is the /healthz body.
type healthReport struct {
	Status      string `json:"status"`
	Upstream    string `json:"upstream"`
	Breaker     string `json:"breaker,omitempty"`
	EntityTypes int    `json:"entity_types"`
	EdgeTypes   int    `json:"edge_types"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := healthReport{Status: "ok", Upstream: "unknown"}
	if set := s.Types(); set != nil {
		report.EntityTypes = len(set.Entities)
		report.EdgeTypes = len(set.Edges)
	}

	code := http.StatusOK
	if s.upstream != nil {
		report.Breaker = s.upstream.BreakerState()
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		if err := s.upstream.Ping(ctx); err != nil {
			report.Status = "degraded"
			report.Upstream = err.Error()
			code = http.StatusServiceUnavailable
		} else {
			report.Upstream = "ok"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(report)
}

// instrument records request counts and latency per route.
func (s *Server) instrument(next http.Handler) http.Handler {
	metrics := s.graph.Metrics()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		metrics.HTTPDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		logging.ProxyDebug("%s %s -> %d (%v)", r.Method, r.URL.Path, status, time.Since(start))
	})
}

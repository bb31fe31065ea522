// Package api serves a loaded feature collection over HTTP.
package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"

	"github.com/sells-group/tractkit/internal/analysis"
	"github.com/sells-group/tractkit/internal/geofile"
	"github.com/sells-group/tractkit/internal/query"
)

// Options configures the router.
type Options struct {
	// AllowedOrigins for CORS; empty allows any origin.
	AllowedOrigins []string
	// Source describes where the collection came from, reported by /health.
	Source string
	// Metadata is the fetch sidecar served at /metadata, if one was found.
	Metadata *geofile.Metadata
}

// Server answers questions about one immutable collection.
type Server struct {
	fc        *geojson.FeatureCollection
	responder *query.Responder
	frame     *analysis.Frame
	opts      Options
	started   time.Time
}

// NewServer wraps fc. A nil collection serves as empty.
func NewServer(fc *geojson.FeatureCollection, opts Options) *Server {
	if fc == nil {
		fc = &geojson.FeatureCollection{}
	}
	if fc.Features == nil {
		fc.Features = []*geojson.Feature{}
	}
	return &Server{
		fc:        fc,
		responder: query.NewResponder(fc),
		frame:     analysis.FromCollection(fc),
		opts:      opts,
		started:   time.Now(),
	}
}

// Handler returns the chi router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	origins := s.opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.health)
	r.Get("/features", s.features)
	r.Get("/query", s.query)
	r.Get("/stats/{field}", s.stats)
	r.Get("/metadata", s.metadata)
	return r
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"features": len(s.fc.Features),
		"source":   s.opts.Source,
		"uptime":   time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) features(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/geo+json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(s.fc); err != nil {
		zap.L().Warn("api: encode features", zap.Error(err))
	}
}

func (s *Server) query(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "q is required"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"question": q,
		"answer":   s.responder.Answer(q),
	})
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	field := chi.URLParam(r, "field")
	fs, ok := analysis.DescribeField(s.frame, field)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no numeric field " + field})
		return
	}
	writeJSON(w, http.StatusOK, fs)
}

func (s *Server) metadata(w http.ResponseWriter, _ *http.Request) {
	if s.opts.Metadata == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no metadata for " + s.opts.Source})
		return
	}
	writeJSON(w, http.StatusOK, s.opts.Metadata)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("api: encode response", zap.Error(err))
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("request",
			zap.String("component", "api"),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

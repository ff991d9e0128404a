// Package admin serves the HTTP admin surface: health, metrics, tool and
// template listings, pipeline validation and runs, and the event stream.
package admin

import (
	"net/http"
	"time"

	"debugbridge/internal/logging"
	"debugbridge/internal/orchestrator"
	"debugbridge/internal/remote"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const maxBodyBytes = 1 << 20

type StatusSource interface {
	Stats() remote.Stats
}

type Options struct {
	Orchestrator *orchestrator.Orchestrator
	Status       StatusSource
	// Events streams pipeline events; nil leaves /v1/events unrouted.
	Events http.Handler
	Logger logging.Logger
	// Token, when set, must be sent as X-Internal-Token on /v1 routes.
	Token          string
	AllowedOrigins []string
	ContextConfig  orchestrator.ToolContextConfig
	Version        string
}

type api struct {
	orch    *orchestrator.Orchestrator
	status  StatusSource
	logger  logging.Logger
	ctxCfg  orchestrator.ToolContextConfig
	version string
}

// NewRouter builds the admin handler.
func NewRouter(opts Options) http.Handler {
	a := &api{
		orch:    opts.Orchestrator,
		status:  opts.Status,
		logger:  opts.Logger,
		ctxCfg:  opts.ContextConfig,
		version: opts.Version,
	}
	if a.logger == nil {
		a.logger = logging.Discard()
	}
	if a.ctxCfg == (orchestrator.ToolContextConfig{}) {
		a.ctxCfg = orchestrator.DefaultToolContextConfig()
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(requestLogger(a.logger))
	if len(opts.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: opts.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Internal-Token", "X-Request-Id"},
			ExposedHeaders: []string{"X-Request-Id"},
			MaxAge:         300,
		}))
	}

	r.Get("/health", a.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(requireToken(opts.Token))
		r.Get("/tools", a.handleTools)
		r.Get("/templates", a.handleTemplates)
		r.Get("/templates/{name}", a.handleTemplate)
		r.Post("/pipelines/validate", a.handleValidate)
		r.Post("/pipelines/run", a.handleRun)
		if opts.Events != nil {
			r.Handle("/events", opts.Events)
		}
	})
	return r
}

func requestLogger(logger logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			args := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", chimw.GetReqID(r.Context()),
			}
			switch {
			case ww.Status() >= 500:
				logger.Error("request", args...)
			case ww.Status() >= 400:
				logger.Warn("request", args...)
			default:
				logger.Debug("request", args...)
			}
		})
	}
}

func requireToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token != "" && r.Header.Get("X-Internal-Token") != token {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

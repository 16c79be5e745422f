package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"spotcheck/internal/analysis"
	"spotcheck/internal/config"
)

type Server struct {
	cfg      *config.Manager
	service  *analysis.Service
	gatherer prometheus.Gatherer
	logger   *slog.Logger
	version  string
	started  time.Time
}

type Options struct {
	Service  *analysis.Service
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
	Version  string
}

func NewServer(opts Options) *Server {
	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Server{
		cfg:      opts.Service.Config(),
		service:  opts.Service,
		gatherer: gatherer,
		logger:   opts.Logger,
		version:  opts.Version,
		started:  time.Now().UTC(),
	}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(chimiddleware.Recoverer)
	if origins := s.cfg.Get().API.CORSOrigins; len(origins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: origins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
			ExposedHeaders: []string{"X-Request-Id"},
			MaxAge:         300,
		}))
	}
	if limit := s.cfg.Get().API.RateLimit; limit > 0 {
		r.Use(httprate.LimitByIP(limit, time.Minute))
	}

	r.Get("/health", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/analyze", s.handleAnalyze)
		r.Post("/analyze/csv", s.handleAnalyzeCSV)
		r.Get("/analyses", s.handleListAnalyses)
		r.Get("/analyses/{id}", s.handleGetAnalysis)
		r.Delete("/analyses/{id}", s.handleDeleteAnalysis)
		r.Get("/channels", s.handleChannels)
		r.Get("/channels/{channel}/history", s.handleChannelHistory)
		r.Get("/config/analysis", s.handleGetAnalysisConfig)
		r.Put("/config/analysis", s.handlePutAnalysisConfig)
	})
	r.Post("/admin/clear", s.handleClear)
	return r
}

func Start(ctx context.Context, opts Options) *http.Server {
	logger := opts.Logger
	current := opts.Service.Config().Get().API
	if !current.Enabled {
		if logger != nil {
			logger.Info("api disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("api enabled", "addr", current.Addr)
	}
	server := NewServer(opts)
	httpServer := &http.Server{
		Addr:              current.Addr,
		Handler:           server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if logger != nil {
				logger.Error("api server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.logger == nil {
			next.ServeHTTP(w, r)
			return
		}
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"elapsed", time.Since(start),
			"request_id", chimiddleware.GetReqID(r.Context()),
		)
	})
}

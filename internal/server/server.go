package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/minji/invitation-studio/internal/artifacts"
	"github.com/minji/invitation-studio/internal/config"
	"github.com/minji/invitation-studio/internal/jobs"
	"github.com/minji/invitation-studio/internal/llm"
	"github.com/minji/invitation-studio/internal/pipeline"
	"github.com/minji/invitation-studio/internal/server/ratelimit"
)

// PipelineRunner runs a full chained generation. *pipeline.Orchestrator
// satisfies it.
type PipelineRunner interface {
	Run(ctx context.Context, stages []pipeline.StageSpec, req *pipeline.GenerationRequest, onProgress pipeline.ProgressCallback) (*pipeline.PipelineRun, error)
}

// JobTracker submits and polls async jobs. *jobs.Tracker satisfies it.
type JobTracker interface {
	SubmitMesh(ctx context.Context, imageRef string) (string, error)
	SubmitVideo(ctx context.Context, prompt string, seconds int) (string, error)
	SubmitPosterBatch(ctx context.Context, prompt string, couple llm.Reference, posters []llm.Reference) (string, error)
	Poll(ctx context.Context, taskID string) (*jobs.AsyncJobStatus, error)
	FetchResult(ctx context.Context, taskID string) (map[string]string, error)
}

// Dependencies are the services the handlers delegate to.
type Dependencies struct {
	Runner PipelineRunner
	Jobs   JobTracker
	Images pipeline.StageGenerator
	Texts  pipeline.StageGenerator
	Store  *artifacts.Store
	Logger *zap.Logger

	// Registry serves /metrics; nil disables the endpoint.
	Registry *prometheus.Registry
}

// Server is the HTTP front of the studio.
type Server struct {
	httpServer  *http.Server
	cfg         *config.Config
	deps        Dependencies
	logger      *zap.Logger
	rateLimiter *ratelimit.Limiter
}

// New creates a new server instance.
func New(cfg *config.Config, deps Dependencies) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	s := &Server{
		cfg:         cfg,
		deps:        deps,
		logger:      deps.Logger,
		rateLimiter: ratelimit.NewLimiter(ratelimit.LoadConfig()),
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.Handler(),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 600 * time.Second, // pipeline runs hold the connection
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

// Handler builds the routed handler with middleware applied. Exposed so
// tests can drive it through httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /generate-image", s.handleGenerateImage)
	mux.HandleFunc("POST /generate-text", s.handleGenerateText)
	mux.HandleFunc("POST /generate-pipeline", s.handleGeneratePipeline)
	mux.HandleFunc("POST /generate-pipeline/stream", s.handleGeneratePipelineStream)
	mux.HandleFunc("POST /generate-3d", s.handleGenerate3D)
	mux.HandleFunc("POST /generate-video", s.handleGenerateVideo)
	mux.HandleFunc("POST /generate-poster", s.handleGeneratePoster)
	// batch job names contain slashes, so the ID captures the rest of the path
	mux.HandleFunc("GET /status/{task_id...}", s.handleStatus)
	mux.HandleFunc("GET /result/{task_id...}", s.handleResult)

	if s.deps.Registry != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.deps.Registry, promhttp.HandlerOpts{}))
	}
	if s.deps.Store != nil {
		mux.Handle("GET /content/", http.StripPrefix("/content/",
			http.FileServer(http.Dir(s.deps.Store.Dir()))))
	}

	return s.withRateLimit(s.withLogging(s.withCORS(mux)))
}

// Start begins listening for requests and blocks until shutdown.
func (s *Server) Start() error {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		s.logger.Info("server starting", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Fatal("server error", zap.Error(err))
		}
	}()

	<-stop
	s.logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

	s.logger.Info("server stopped")
	return nil
}

// withCORS adds CORS headers
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// withRateLimit adds rate limiting middleware
func (s *Server) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientID := s.extractClientID(r)

		allowed, info := s.rateLimiter.Allow(clientID, r.URL.Path, r.Method)
		s.setRateLimitHeaders(w, info)
		if !allowed {
			s.rateLimitResponse(w, info)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// withLogging adds structured request logging
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("remote", r.RemoteAddr),
			zap.Duration("duration", time.Since(start)))
	})
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

// jsonResponse writes a JSON response
func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("encoding response", zap.Error(err))
	}
}

// errorResponse writes an error envelope with the status mapped from the
// error type.
func (s *Server) errorResponse(w http.ResponseWriter, err error) {
	status := HTTPStatus(err)
	if status >= 500 {
		s.logger.Error("request failed", zap.Error(err))
	}
	s.jsonResponse(w, status, map[string]any{
		"success": false,
		"error":   err.Error(),
	})
}

// extractClientID extracts the client identifier from the request.
// Uses the IP address from RemoteAddr; X-Forwarded-For is deliberately
// ignored since there is no trusted proxy in front.
func (s *Server) extractClientID(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// setRateLimitHeaders sets standard rate limit headers on the response.
func (s *Server) setRateLimitHeaders(w http.ResponseWriter, info ratelimit.Info) {
	if info.Limit > 0 {
		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", info.Limit))
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", info.Remaining))
		w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", info.ResetTime.Unix()))
	}
}

// rateLimitResponse writes a 429 Too Many Requests response.
func (s *Server) rateLimitResponse(w http.ResponseWriter, info ratelimit.Info) {
	response := map[string]any{
		"success":   false,
		"error":     "rate_limit_exceeded",
		"limit":     info.Limit,
		"remaining": info.Remaining,
		"reset_at":  info.ResetTime.Format(time.RFC3339),
	}

	if info.RetryAfter > 0 {
		response["retry_after"] = int(info.RetryAfter.Seconds())
		w.Header().Set("Retry-After", fmt.Sprintf("%d", int(info.RetryAfter.Seconds())))
	}

	s.logger.Warn("rate limit exceeded",
		zap.Int("limit", info.Limit),
		zap.Time("reset", info.ResetTime))
	s.jsonResponse(w, http.StatusTooManyRequests, response)
}

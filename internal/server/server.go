// Package server exposes the ingestion trigger and analysis dashboard
// over HTTP.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/admitdata/harvest-cli/internal/analysis"
	"github.com/admitdata/harvest-cli/internal/gate"
	"github.com/admitdata/harvest-cli/internal/model"
	"github.com/admitdata/harvest-cli/internal/pipeline"
)

// Runner starts an ingestion run; the gate decides admission.
type Runner interface {
	Run(ctx context.Context) (*pipeline.Result, error)
	Progress() model.Progress
}

// Analyzer answers the dashboard questions.
type Analyzer interface {
	Run(ctx context.Context) ([]analysis.QA, error)
}

// Server routes ingestion and analysis requests.
type Server struct {
	gate     *gate.Gate
	runner   Runner
	analyzer Analyzer
	http     *http.Server
}

func New(port int, g *gate.Gate, runner Runner, analyzer Analyzer) *Server {
	s := &Server{gate: g, runner: runner, analyzer: analyzer}
	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Routes builds the chi router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Post("/pull-data", s.handlePullData)
		r.Get("/status", s.handleStatus)
		r.Get("/analysis", s.handleAnalysis)
	})
	return r
}

// ListenAndServe serves until the context is canceled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		zap.L().Info("server: listening", zap.String("addr", s.http.Addr))
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handlePullData starts an ingestion run in the background. A second
// trigger while one is in flight gets a 409 with the running run's ID.
func (s *Server) handlePullData(w http.ResponseWriter, _ *http.Request) {
	runID, ok := s.gate.TryStart(s.runner.Progress)
	if !ok {
		writeJSON(w, http.StatusConflict, map[string]string{
			"error":  "a data pull is already in progress",
			"run_id": runID,
		})
		return
	}

	go func() {
		outcome := model.OutcomeFailed
		defer func() {
			if r := recover(); r != nil {
				zap.L().Error("server: ingestion run panicked",
					zap.String("run_id", runID), zap.Any("panic", r))
			}
			s.gate.Finish(outcome)
		}()

		res, err := s.runner.Run(context.Background())
		if err != nil {
			zap.L().Error("server: ingestion run failed",
				zap.String("run_id", runID), zap.Error(err))
			return
		}
		outcome = res.Outcome
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{
		"message": "data pull started",
		"run_id":  runID,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.gate.Status())
}

// handleAnalysis refuses to read mid-run data.
func (s *Server) handleAnalysis(w http.ResponseWriter, r *http.Request) {
	if s.gate.Running() {
		writeJSON(w, http.StatusConflict, map[string]string{
			"error": "analysis unavailable while a data pull is in progress",
		})
		return
	}

	qas, err := s.analyzer.Run(r.Context())
	if err != nil {
		zap.L().Error("server: analysis failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "analysis failed",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"questions": qas})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("server: write response", zap.Error(err))
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

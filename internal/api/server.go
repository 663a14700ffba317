package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MikeSquared-Agency/quill/internal/conditioning"
	"github.com/MikeSquared-Agency/quill/internal/learning"
	"github.com/MikeSquared-Agency/quill/internal/metrics"
	"github.com/MikeSquared-Agency/quill/internal/profiles"
	"github.com/MikeSquared-Agency/quill/internal/style"
)

// Learning is the part of the learning pipeline the API drives.
type Learning interface {
	ProcessLetter(ctx context.Context, sub learning.LetterSubmission) (learning.ProcessResult, error)
	ShouldTriggerAnalysis(ctx context.Context, userID, subspecialty string) (bool, error)
	RunAnalysis(ctx context.Context, userID, subspecialty string) (learning.Outcome, error)
	ForceAnalysis(ctx context.Context, userID, subspecialty string) (learning.ForceResult, error)
	Status(ctx context.Context, userID, subspecialty string) (learning.Status, error)
	AddSeedLetter(ctx context.Context, l *style.SeedLetter) error
	AnalyzeSeedLetters(ctx context.Context, userID, subspecialty string) (learning.Outcome, error)
}

type Profiles interface {
	GetEffectiveProfile(ctx context.Context, userID, subspecialty string) (profiles.Effective, error)
	SetLearningStrength(ctx context.Context, userID, subspecialty string, strength float64) (*style.Profile, error)
	Reset(ctx context.Context, userID, subspecialty string) (profiles.ResetResult, error)
}

type Conditioner interface {
	ConditionPrompt(ctx context.Context, userID, subspecialty, basePrompt string) (conditioning.Result, error)
}

type Aggregator interface {
	Aggregate(ctx context.Context, subspecialty, period string, from, to time.Time) (*style.AggregatedPattern, error)
	AggregateAll(ctx context.Context, period string, from, to time.Time) (int, error)
}

// Patterns reads stored aggregates.
type Patterns interface {
	GetAggregatedPattern(ctx context.Context, subspecialty, period string) (*style.AggregatedPattern, error)
}

// Pinger reports storage health for /health.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Learning          Learning
	Profiles          Profiles
	Conditioner       Conditioner
	Aggregator        Aggregator
	Patterns          Patterns
	DB                Pinger
	AggregationWindow time.Duration
}

type Server struct {
	router *chi.Mux
	srv    *http.Server
	port   int
	deps   Deps
	logger *slog.Logger
	now    func() time.Time
}

func NewServer(port int, apiToken string, deps Deps, logger *slog.Logger) *Server {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	if deps.AggregationWindow <= 0 {
		deps.AggregationWindow = 30 * 24 * time.Hour
	}
	s := &Server{
		router: router,
		port:   port,
		deps:   deps,
		logger: logger,
		now:    time.Now,
	}

	router.Get("/health", s.health)
	router.Handle("/metrics", metrics.Handler())

	router.Route("/api/v1", func(r chi.Router) {
		r.Use(BearerAuthMiddleware(apiToken))

		r.Post("/letters/diff", s.diffLetters)
		r.Post("/letters/finalize", s.finalizeLetter)

		r.Route("/profiles/{userID}", func(r chi.Router) {
			r.Get("/", s.getProfile)
			r.Delete("/", s.resetProfile)
			r.Get("/status", s.profileStatus)
			r.Post("/analyze", s.analyzeProfile)
			r.Put("/learning-strength", s.setLearningStrength)
			r.Post("/seed-letters", s.addSeedLetter)
			r.Post("/seed-letters/analyze", s.analyzeSeedLetters)
		})

		r.Post("/prompts/condition", s.conditionPrompt)
		r.Post("/analytics/aggregate", s.aggregate)
		r.Get("/analytics/patterns/{subspecialty}", s.getPatterns)
	})

	return s
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.srv = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("API server starting", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if s.deps.DB != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.DB.Ping(ctx); err != nil {
			s.logger.Warn("health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 2<<20))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

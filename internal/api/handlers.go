package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/MikeSquared-Agency/quill/internal/analytics"
	"github.com/MikeSquared-Agency/quill/internal/diff"
	"github.com/MikeSquared-Agency/quill/internal/learning"
	"github.com/MikeSquared-Agency/quill/internal/store"
	"github.com/MikeSquared-Agency/quill/internal/style"
)

type DiffRequest struct {
	DraftText    string `json:"draft_text"`
	FinalText    string `json:"final_text"`
	Subspecialty string `json:"subspecialty,omitempty"`
}

// diffLetters handles POST /api/v1/letters/diff
func (s *Server) diffLetters(w http.ResponseWriter, r *http.Request) {
	var req DiffRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, diff.Analyze(req.DraftText, req.FinalText, req.Subspecialty))
}

// FinalizeResponse carries the processing result. AnalysisError is set
// when edits were recorded but the triggered analysis failed.
type FinalizeResponse struct {
	learning.ProcessResult
	AnalysisError string `json:"analysis_error,omitempty"`
}

// finalizeLetter handles POST /api/v1/letters/finalize
func (s *Server) finalizeLetter(w http.ResponseWriter, r *http.Request) {
	var req learning.LetterSubmission
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	res, err := s.deps.Learning.ProcessLetter(r.Context(), req)
	var aerr *learning.AnalysisError
	switch {
	case errors.As(err, &aerr):
		s.logger.Warn("analysis failed after letter finalize", "user_id", req.UserID, "subspecialty", req.Subspecialty, "error", err)
		writeJSON(w, http.StatusOK, FinalizeResponse{ProcessResult: res, AnalysisError: aerr.Err.Error()})
	case err != nil:
		s.logger.Error("finalize letter failed", "user_id", req.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to process letter")
	default:
		writeJSON(w, http.StatusOK, FinalizeResponse{ProcessResult: res})
	}
}

// getProfile handles GET /api/v1/profiles/{userID}?subspecialty=
// The profile returned is already damped by its learning strength.
func (s *Server) getProfile(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	sub := r.URL.Query().Get("subspecialty")

	eff, err := s.deps.Profiles.GetEffectiveProfile(r.Context(), userID, sub)
	if err != nil {
		s.logger.Error("get effective profile failed", "user_id", userID, "subspecialty", sub, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load profile")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"profile": eff.Profile.Effective(),
		"source":  eff.Source,
	})
}

// resetProfile handles DELETE /api/v1/profiles/{userID}?subspecialty=
func (s *Server) resetProfile(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	sub := r.URL.Query().Get("subspecialty")

	res, err := s.deps.Profiles.Reset(r.Context(), userID, sub)
	if err != nil {
		s.logger.Error("reset profile failed", "user_id", userID, "subspecialty", sub, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to reset profile")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// profileStatus handles GET /api/v1/profiles/{userID}/status?subspecialty=
func (s *Server) profileStatus(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	sub := r.URL.Query().Get("subspecialty")

	st, err := s.deps.Learning.Status(r.Context(), userID, sub)
	if err != nil {
		s.logger.Error("learning status failed", "user_id", userID, "subspecialty", sub, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load status")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// analyzeProfile handles POST /api/v1/profiles/{userID}/analyze?subspecialty=&force=
// Without force the analysis only runs when the thresholds are met.
func (s *Server) analyzeProfile(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	sub := r.URL.Query().Get("subspecialty")
	force := false
	if v := r.URL.Query().Get("force"); v != "" {
		f, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid force: "+v)
			return
		}
		force = f
	}

	if force {
		res, err := s.deps.Learning.ForceAnalysis(r.Context(), userID, sub)
		if err != nil {
			s.analysisFailed(w, userID, sub, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
		return
	}

	trigger, err := s.deps.Learning.ShouldTriggerAnalysis(r.Context(), userID, sub)
	if err != nil {
		s.logger.Error("check analysis trigger failed", "user_id", userID, "subspecialty", sub, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to check thresholds")
		return
	}
	if !trigger {
		writeJSON(w, http.StatusOK, map[string]any{"queued": false, "reason": "not enough new edits"})
		return
	}
	out, err := s.deps.Learning.RunAnalysis(r.Context(), userID, sub)
	if err != nil {
		s.analysisFailed(w, userID, sub, err)
		return
	}
	writeJSON(w, http.StatusOK, learning.ForceResult{Queued: true, Outcome: out})
}

func (s *Server) analysisFailed(w http.ResponseWriter, userID, sub string, err error) {
	if errors.Is(err, learning.ErrAnalysisFailed) {
		s.logger.Warn("analysis failed", "user_id", userID, "subspecialty", sub, "error", err)
		writeError(w, http.StatusBadGateway, "style analysis failed; profile unchanged")
		return
	}
	s.logger.Error("analysis failed", "user_id", userID, "subspecialty", sub, "error", err)
	writeError(w, http.StatusInternalServerError, "failed to run analysis")
}

type LearningStrengthRequest struct {
	Subspecialty string   `json:"subspecialty"`
	Strength     *float64 `json:"strength"`
}

// setLearningStrength handles PUT /api/v1/profiles/{userID}/learning-strength
func (s *Server) setLearningStrength(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	var req LearningStrengthRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Strength == nil {
		writeError(w, http.StatusBadRequest, "strength is required")
		return
	}

	p, err := s.deps.Profiles.SetLearningStrength(r.Context(), userID, req.Subspecialty, *req.Strength)
	if errors.Is(err, style.ErrNoProfile) {
		writeError(w, http.StatusNotFound, "no style profile for this subspecialty")
		return
	}
	if err != nil {
		s.logger.Error("set learning strength failed", "user_id", userID, "subspecialty", req.Subspecialty, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update learning strength")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type SeedLetterRequest struct {
	Subspecialty string `json:"subspecialty"`
	Text         string `json:"text"`
	Source       string `json:"source,omitempty"`
}

// addSeedLetter handles POST /api/v1/profiles/{userID}/seed-letters
func (s *Server) addSeedLetter(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	var req SeedLetterRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	l := &style.SeedLetter{UserID: userID, Subspecialty: req.Subspecialty, Text: req.Text, Source: req.Source}
	if err := s.deps.Learning.AddSeedLetter(r.Context(), l); err != nil {
		s.logger.Error("add seed letter failed", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to store seed letter")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": l.ID})
}

// analyzeSeedLetters handles POST /api/v1/profiles/{userID}/seed-letters/analyze?subspecialty=
func (s *Server) analyzeSeedLetters(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	sub := r.URL.Query().Get("subspecialty")

	out, err := s.deps.Learning.AnalyzeSeedLetters(r.Context(), userID, sub)
	if err != nil {
		s.analysisFailed(w, userID, sub, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type ConditionRequest struct {
	UserID       string `json:"user_id"`
	Subspecialty string `json:"subspecialty"`
	BasePrompt   string `json:"base_prompt"`
}

// conditionPrompt handles POST /api/v1/prompts/condition
func (s *Server) conditionPrompt(w http.ResponseWriter, r *http.Request) {
	var req ConditionRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	res, err := s.deps.Conditioner.ConditionPrompt(r.Context(), req.UserID, req.Subspecialty, req.BasePrompt)
	if err != nil {
		s.logger.Error("condition prompt failed", "user_id", req.UserID, "subspecialty", req.Subspecialty, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to condition prompt")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// AggregateRequest selects the window to aggregate. Every field is
// optional: the window defaults to the trailing aggregation window ending
// now, the period to the ISO week of To, and an empty subspecialty runs
// every subspecialty with edits in the window.
type AggregateRequest struct {
	Subspecialty string     `json:"subspecialty,omitempty"`
	Period       string     `json:"period,omitempty"`
	From         *time.Time `json:"from,omitempty"`
	To           *time.Time `json:"to,omitempty"`
}

// aggregate handles POST /api/v1/analytics/aggregate
func (s *Server) aggregate(w http.ResponseWriter, r *http.Request) {
	var req AggregateRequest
	if r.ContentLength != 0 {
		if err := decode(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	to := s.now().UTC()
	if req.To != nil {
		to = *req.To
	}
	from := to.Add(-s.deps.AggregationWindow)
	if req.From != nil {
		from = *req.From
	}
	if !from.Before(to) {
		writeError(w, http.StatusBadRequest, "from must be before to")
		return
	}
	period := req.Period
	if period == "" {
		period = analytics.Period(to)
	}

	if req.Subspecialty == "" {
		written, err := s.deps.Aggregator.AggregateAll(r.Context(), period, from, to)
		if err != nil {
			s.logger.Error("aggregation failed", "period", period, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]any{"period": period, "written": written, "error": "aggregation failed"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"period": period, "written": written})
		return
	}

	p, err := s.deps.Aggregator.Aggregate(r.Context(), req.Subspecialty, period, from, to)
	if err != nil {
		s.logger.Error("aggregation failed", "subspecialty", req.Subspecialty, "period", period, "error", err)
		writeError(w, http.StatusInternalServerError, "aggregation failed")
		return
	}
	if p == nil {
		writeJSON(w, http.StatusOK, map[string]any{"period": period, "aggregated": false, "reason": "below privacy threshold"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"period": period, "aggregated": true, "pattern": p})
}

// getPatterns handles GET /api/v1/analytics/patterns/{subspecialty}?period=
// The period defaults to the current ISO week.
func (s *Server) getPatterns(w http.ResponseWriter, r *http.Request) {
	sub := chi.URLParam(r, "subspecialty")
	period := r.URL.Query().Get("period")
	if period == "" {
		period = analytics.Period(s.now().UTC())
	}

	p, err := s.deps.Patterns.GetAggregatedPattern(r.Context(), sub, period)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no patterns for "+sub+" in "+period)
		return
	}
	if err != nil {
		s.logger.Error("failed to load patterns", "subspecialty", sub, "period", period, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load patterns")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

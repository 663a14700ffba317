// Package learning decides when a clinician's edits warrant analysis, runs
// the analysis and folds the result into their profiles.
package learning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/MikeSquared-Agency/quill/internal/audit"
	"github.com/MikeSquared-Agency/quill/internal/edits"
	"github.com/MikeSquared-Agency/quill/internal/hermes"
	"github.com/MikeSquared-Agency/quill/internal/metrics"
	"github.com/MikeSquared-Agency/quill/internal/profiles"
	"github.com/MikeSquared-Agency/quill/internal/style"
)

// ErrAnalysisFailed marks every error produced by a failed analysis run.
var ErrAnalysisFailed = errors.New("style analysis failed")

// AnalysisError reports a failed analysis for one profile key. The profile
// is left as it was.
type AnalysisError struct {
	UserID       string
	Subspecialty string
	Err          error
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("analyze %s/%s: %v", e.UserID, e.Subspecialty, e.Err)
}

func (e *AnalysisError) Unwrap() []error {
	return []error{ErrAnalysisFailed, e.Err}
}

// Thresholds gate when analysis runs and how much it sees.
type Thresholds struct {
	MinEdits int // edits needed before the first analysis
	Interval int // new edits needed before each re-analysis
	MaxEdits int // edits sent per analysis
}

var DefaultThresholds = Thresholds{MinEdits: 5, Interval: 10, MaxEdits: 50}

// Store is the edit and seed-letter persistence the pipeline reads.
type Store interface {
	CountEdits(ctx context.Context, userID, subspecialty string, since *time.Time) (int, error)
	RecentEdits(ctx context.Context, userID, subspecialty string, limit int) ([]style.Edit, error)
	InsertSeedLetter(ctx context.Context, l *style.SeedLetter) error
	PendingSeedLetters(ctx context.Context, userID, subspecialty string, limit int) ([]style.SeedLetter, error)
	MarkSeedLettersAnalyzed(ctx context.Context, ids []uuid.UUID, at time.Time) error
}

// Analyzer infers preferences from a batch of edits.
type Analyzer interface {
	Analyze(ctx context.Context, subspecialty string, edits []style.Edit) (style.AnalysisResult, error)
}

// Profiles is the profile access the pipeline needs.
type Profiles interface {
	Get(ctx context.Context, userID, subspecialty string) (*style.Profile, error)
	Save(ctx context.Context, p *style.Profile) error
	GetGlobal(ctx context.Context, userID string) (*style.GlobalProfile, error)
	SaveGlobal(ctx context.Context, g *style.GlobalProfile) error
}

// Publisher is the event-bus subset used for profile updates.
type Publisher interface {
	Publish(subject string, data any) error
}

// Outcome describes one analysis run.
type Outcome struct {
	Analyzed      bool           `json:"analyzed"`
	EditsAnalyzed int            `json:"edits_analyzed"`
	Profile       *style.Profile `json:"profile,omitempty"`
}

type Pipeline struct {
	store    Store
	recorder *edits.Recorder
	analyzer Analyzer
	profiles Profiles
	audit    *audit.Logger
	pub      Publisher
	th       Thresholds
	logger   *slog.Logger
	now      func() time.Time

	flight singleflight.Group
}

func New(s Store, rec *edits.Recorder, an Analyzer, p Profiles, a *audit.Logger, pub Publisher, th Thresholds, logger *slog.Logger) *Pipeline {
	if th.MinEdits <= 0 {
		th.MinEdits = DefaultThresholds.MinEdits
	}
	if th.Interval <= 0 {
		th.Interval = DefaultThresholds.Interval
	}
	if th.MaxEdits <= 0 {
		th.MaxEdits = DefaultThresholds.MaxEdits
	}
	return &Pipeline{
		store:    s,
		recorder: rec,
		analyzer: an,
		profiles: p,
		audit:    a,
		pub:      pub,
		th:       th,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// ShouldTrigger applies the thresholds. A profile that has never been
// analyzed counts as no profile.
func ShouldTrigger(th Thresholds, analyzed bool, totalEdits, editsSinceAnalysis int) bool {
	if !analyzed {
		return totalEdits >= th.MinEdits
	}
	return editsSinceAnalysis >= th.Interval
}

// ShouldTriggerAnalysis reports whether the key has enough new edits for an
// analysis run.
func (p *Pipeline) ShouldTriggerAnalysis(ctx context.Context, userID, subspecialty string) (bool, error) {
	st, err := p.Status(ctx, userID, subspecialty)
	if err != nil {
		return false, err
	}
	return st.State == StatePendingAnalysis || st.State == StateReanalysisPending, nil
}

// analysisTimeout bounds a run once it is detached from its caller.
const analysisTimeout = 2 * time.Minute

// RunAnalysis analyzes the most relevant recent edits and merges the result
// into the subspecialty and global profiles. Concurrent calls for one key
// share a single run. With no eligible edits nothing is called or written.
//
// The run is detached from ctx: if the caller gives up first it gets
// ctx.Err() back while the analysis finishes and is stored.
func (p *Pipeline) RunAnalysis(ctx context.Context, userID, subspecialty string) (Outcome, error) {
	ch := p.flight.DoChan(userID+"\x00"+subspecialty, func() (interface{}, error) {
		run, cancel := context.WithTimeout(context.WithoutCancel(ctx), analysisTimeout)
		defer cancel()
		return p.runAnalysis(run, userID, subspecialty)
	})
	select {
	case r := <-ch:
		if r.Err != nil {
			return Outcome{}, r.Err
		}
		return r.Val.(Outcome), nil
	case <-ctx.Done():
		p.logger.Info("caller left before analysis finished, result will still be stored",
			"user_id", userID, "subspecialty", subspecialty)
		return Outcome{}, fmt.Errorf("analyze %s/%s: %w", userID, subspecialty, ctx.Err())
	}
}

func (p *Pipeline) runAnalysis(ctx context.Context, userID, subspecialty string) (Outcome, error) {
	recent, err := p.store.RecentEdits(ctx, userID, subspecialty, p.th.MaxEdits*4)
	if err != nil {
		return Outcome{}, fmt.Errorf("load edits: %w", err)
	}
	return p.apply(ctx, userID, subspecialty, selectRelevant(recent, p.th.MaxEdits), "analysis")
}

// ForceResult is returned by ForceAnalysis. Queued is always true once the
// request is accepted, including when there was nothing to analyze.
type ForceResult struct {
	Queued bool `json:"queued"`
	Outcome
}

// ForceAnalysis runs an analysis regardless of thresholds and waits for it
// even when ctx is cancelled.
func (p *Pipeline) ForceAnalysis(ctx context.Context, userID, subspecialty string) (ForceResult, error) {
	out, err := p.RunAnalysis(context.WithoutCancel(ctx), userID, subspecialty)
	if err != nil {
		return ForceResult{}, err
	}
	return ForceResult{Queued: true, Outcome: out}, nil
}

// apply sends batch for analysis and merges the result. Profiles are only
// written after a successful analysis.
func (p *Pipeline) apply(ctx context.Context, userID, subspecialty string, batch []style.Edit, source string) (Outcome, error) {
	log := p.logger.With("user_id", userID, "subspecialty", subspecialty)
	if len(batch) == 0 {
		metrics.AnalysisRuns.WithLabelValues("skipped").Inc()
		log.Info("no eligible edits, skipping analysis")
		return Outcome{}, nil
	}

	start := time.Now()
	res, err := p.analyzer.Analyze(ctx, subspecialty, batch)
	metrics.AnalysisDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.AnalysisRuns.WithLabelValues("failure").Inc()
		log.Error("analysis failed", "edits", len(batch), "error", err)
		return Outcome{}, &AnalysisError{UserID: userID, Subspecialty: subspecialty, Err: err}
	}

	existing, err := p.profiles.Get(ctx, userID, subspecialty)
	if err != nil && !errors.Is(err, style.ErrNoProfile) {
		return Outcome{}, fmt.Errorf("load profile: %w", err)
	}

	now := p.now()
	merged := style.Merge(existing, res, now)
	merged.UserID, merged.Subspecialty = userID, subspecialty
	if err := p.profiles.Save(ctx, merged); err != nil {
		return Outcome{}, fmt.Errorf("save profile: %w", err)
	}
	p.mergeGlobal(ctx, userID, res, now)

	var previous map[style.Feature]float64
	if existing != nil {
		previous = existing.Confidence
	}
	p.audit.Record(ctx, audit.ActionProfileAnalyzed, userID, profiles.ProfileKey(userID, subspecialty), map[string]any{
		"subspecialty":        subspecialty,
		"source":              source,
		"edits":               res.EditsAnalyzed,
		"total_edits":         merged.TotalEditsAnalyzed,
		"previous_confidence": previous,
		"confidence":          merged.Confidence,
	})
	p.publish(hermes.ProfileUpdated{
		UserID:             userID,
		Subspecialty:       subspecialty,
		TotalEditsAnalyzed: merged.TotalEditsAnalyzed,
		EditsAnalyzed:      res.EditsAnalyzed,
		Source:             source,
		UpdatedAt:          now,
	})
	metrics.AnalysisRuns.WithLabelValues("success").Inc()

	log.Info("profile updated",
		"source", source,
		"edits", res.EditsAnalyzed,
		"total_edits", merged.TotalEditsAnalyzed,
		"insights", len(res.Insights),
	)
	return Outcome{Analyzed: true, EditsAnalyzed: res.EditsAnalyzed, Profile: merged}, nil
}

// mergeGlobal folds res into the user-level profile. Failures only cost the
// fallback profile some freshness, so they are logged.
func (p *Pipeline) mergeGlobal(ctx context.Context, userID string, res style.AnalysisResult, now time.Time) {
	g, err := p.profiles.GetGlobal(ctx, userID)
	if err != nil && !errors.Is(err, style.ErrNoProfile) {
		p.logger.Warn("failed to load global profile", "user_id", userID, "error", err)
		return
	}
	merged := style.MergeGlobal(g, userID, res, now)
	merged.UserID = userID
	if err := p.profiles.SaveGlobal(ctx, merged); err != nil {
		p.logger.Warn("failed to save global profile", "user_id", userID, "error", err)
	}
}

func (p *Pipeline) publish(evt hermes.ProfileUpdated) {
	if p.pub == nil {
		return
	}
	if err := p.pub.Publish(hermes.SubjectProfileUpdated, evt); err != nil {
		p.logger.Warn("failed to publish profile update", "user_id", evt.UserID, "error", err)
	}
}

// selectRelevant drops edits whose text did not change beyond whitespace,
// then keeps the largest edits first, newest first on ties.
func selectRelevant(in []style.Edit, limit int) []style.Edit {
	out := make([]style.Edit, 0, len(in))
	for _, e := range in {
		if strings.Join(strings.Fields(e.BeforeText), " ") == strings.Join(strings.Fields(e.AfterText), " ") {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool {
		wi, wj := abs(out[i].WordChanges), abs(out[j].WordChanges)
		if wi != wj {
			return wi > wj
		}
		ci, cj := abs(out[i].CharacterChanges), abs(out[j].CharacterChanges)
		if ci != cj {
			return ci > cj
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

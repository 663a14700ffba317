package learning

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MikeSquared-Agency/quill/internal/style"
)

// State is where a profile key sits in the learning cycle.
type State string

const (
	StateNoProfile         State = "no-profile"
	StatePendingAnalysis   State = "pending-analysis"
	StateAnalyzed          State = "analyzed"
	StateReanalysisPending State = "re-analysis-pending"
)

// Status summarizes learning progress for one profile key. NextThreshold
// is the count that triggers the next analysis: total edits before the
// first analysis, edits since the last analysis afterwards.
type Status struct {
	State              State      `json:"state"`
	TotalEdits         int        `json:"total_edits"`
	EditsSinceAnalysis int        `json:"edits_since_analysis"`
	LastAnalyzedAt     *time.Time `json:"last_analyzed_at,omitempty"`
	NextThreshold      int        `json:"next_threshold"`
}

func (p *Pipeline) Status(ctx context.Context, userID, subspecialty string) (Status, error) {
	prof, err := p.profiles.Get(ctx, userID, subspecialty)
	if err != nil && !errors.Is(err, style.ErrNoProfile) {
		return Status{}, err
	}

	total, err := p.store.CountEdits(ctx, userID, subspecialty, nil)
	if err != nil {
		return Status{}, fmt.Errorf("count edits: %w", err)
	}
	st := Status{TotalEdits: total, EditsSinceAnalysis: total}

	analyzed := prof != nil && prof.LastAnalyzedAt != nil
	if !analyzed {
		st.NextThreshold = p.th.MinEdits
		st.State = StateNoProfile
		if ShouldTrigger(p.th, false, total, total) {
			st.State = StatePendingAnalysis
		}
		return st, nil
	}

	since := *prof.LastAnalyzedAt
	st.LastAnalyzedAt = &since
	st.EditsSinceAnalysis, err = p.store.CountEdits(ctx, userID, subspecialty, &since)
	if err != nil {
		return Status{}, fmt.Errorf("count edits since analysis: %w", err)
	}
	st.NextThreshold = p.th.Interval
	st.State = StateAnalyzed
	if ShouldTrigger(p.th, true, total, st.EditsSinceAnalysis) {
		st.State = StateReanalysisPending
	}
	return st, nil
}

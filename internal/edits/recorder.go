package edits

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/MikeSquared-Agency/quill/internal/audit"
	"github.com/MikeSquared-Agency/quill/internal/diff"
	"github.com/MikeSquared-Agency/quill/internal/metrics"
	"github.com/MikeSquared-Agency/quill/internal/style"
)

// Store persists edits together with their audit entry. A failed audit
// write is reported through auditErr and never undoes the edits.
type Store interface {
	InsertEdits(ctx context.Context, edits []style.Edit, entry audit.Entry) (auditErr, err error)
}

// Result is the outcome of recording one finalized letter.
type Result struct {
	Diff  diff.LetterDiff `json:"diff"`
	Edits []style.Edit    `json:"edits"`
}

type Recorder struct {
	store  Store
	audit  *audit.Logger
	logger *slog.Logger
	now    func() time.Time
}

func NewRecorder(s Store, a *audit.Logger, logger *slog.Logger) *Recorder {
	return &Recorder{
		store:  s,
		audit:  a,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Record diffs draft against final and stores the resulting edits. Letters
// with nothing to learn from are diffed but write nothing.
func (r *Recorder) Record(ctx context.Context, l Letter, draft, final string) (Result, error) {
	d := diff.Analyze(draft, final, l.Subspecialty)
	res := Result{Diff: d, Edits: Extract(d, l, r.now())}
	if len(res.Edits) == 0 {
		return res, nil
	}

	entry := audit.NewEntry(audit.ActionEditsRecorded, l.UserID, l.LetterID, map[string]any{
		"subspecialty":       l.Subspecialty,
		"edits":              len(res.Edits),
		"sections_added":     d.SectionsAdded,
		"sections_modified":  d.SectionsModified,
		"section_order_diff": d.SectionOrderChanged,
	})
	auditErr, err := r.store.InsertEdits(ctx, res.Edits, entry)
	if err != nil {
		return Result{Diff: d}, fmt.Errorf("insert edits: %w", err)
	}
	if auditErr != nil {
		r.logger.Warn("audit write failed for recorded edits", "letter_id", l.LetterID, "error", auditErr)
	}
	r.audit.Publish(entry)

	for _, e := range res.Edits {
		metrics.EditsRecorded.WithLabelValues(string(e.EditType)).Inc()
	}
	r.logger.Info("edits recorded",
		"user_id", l.UserID,
		"letter_id", l.LetterID,
		"subspecialty", l.Subspecialty,
		"edits", len(res.Edits),
	)
	return res, nil
}

package learning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/MikeSquared-Agency/quill/internal/diff"
	"github.com/MikeSquared-Agency/quill/internal/edits"
	"github.com/MikeSquared-Agency/quill/internal/hermes"
)

// LetterSubmission is a finalized letter together with the draft it
// started from.
type LetterSubmission struct {
	UserID       string `json:"user_id"`
	LetterID     string `json:"letter_id"`
	Subspecialty string `json:"subspecialty"`
	DraftText    string `json:"draft_text"`
	FinalText    string `json:"final_text"`
}

// ProcessResult is the outcome of ProcessLetter. Analysis is set only when
// the submission pushed the key over a threshold and the run succeeded.
type ProcessResult struct {
	Diff              diff.LetterDiff `json:"diff"`
	EditsRecorded     int             `json:"edits_recorded"`
	AnalysisTriggered bool            `json:"analysis_triggered"`
	Analysis          *Outcome        `json:"analysis,omitempty"`
}

// ProcessLetter records the edits in a finalized letter and runs analysis
// when the thresholds are met. If that analysis fails the recorded edits
// stand; the result is returned with the *AnalysisError.
func (p *Pipeline) ProcessLetter(ctx context.Context, sub LetterSubmission) (ProcessResult, error) {
	if strings.TrimSpace(sub.UserID) == "" {
		return ProcessResult{}, errors.New("user_id is required")
	}

	rec, err := p.recorder.Record(ctx, edits.Letter{
		UserID:       sub.UserID,
		LetterID:     sub.LetterID,
		Subspecialty: sub.Subspecialty,
	}, sub.DraftText, sub.FinalText)
	res := ProcessResult{Diff: rec.Diff, EditsRecorded: len(rec.Edits)}
	if err != nil {
		return res, fmt.Errorf("record edits: %w", err)
	}
	if res.EditsRecorded == 0 {
		return res, nil
	}

	trigger, err := p.ShouldTriggerAnalysis(ctx, sub.UserID, sub.Subspecialty)
	if err != nil {
		return res, fmt.Errorf("check analysis trigger: %w", err)
	}
	if !trigger {
		return res, nil
	}

	res.AnalysisTriggered = true
	out, err := p.RunAnalysis(ctx, sub.UserID, sub.Subspecialty)
	if err != nil {
		return res, err
	}
	res.Analysis = &out
	return res, nil
}

// HandleLetterFinalized is the NATS handler for quill.letter.finalized.
func (p *Pipeline) HandleLetterFinalized(subject string, data []byte) {
	ctx := context.Background()

	var evt hermes.LetterFinalized
	if err := json.Unmarshal(data, &evt); err != nil {
		p.logger.Error("failed to parse letter event", "subject", subject, "error", err)
		return
	}

	res, err := p.ProcessLetter(ctx, LetterSubmission(evt))
	if err != nil {
		var aerr *AnalysisError
		if errors.As(err, &aerr) {
			p.logger.Warn("letter recorded but analysis failed",
				"user_id", evt.UserID,
				"letter_id", evt.LetterID,
				"error", aerr.Err,
			)
			return
		}
		p.logger.Error("failed to process letter", "user_id", evt.UserID, "letter_id", evt.LetterID, "error", err)
		return
	}

	p.logger.Info("letter processed",
		"user_id", evt.UserID,
		"letter_id", evt.LetterID,
		"subspecialty", evt.Subspecialty,
		"edits", res.EditsRecorded,
		"analysis_triggered", res.AnalysisTriggered,
	)
}

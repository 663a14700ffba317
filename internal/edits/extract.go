// Package edits turns a letter diff into durable style edits and records
// them.
package edits

import (
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/quill/internal/diff"
	"github.com/MikeSquared-Agency/quill/internal/style"
)

// Letter identifies who finalized which letter.
type Letter struct {
	UserID       string `json:"user_id"`
	LetterID     string `json:"letter_id"`
	Subspecialty string `json:"subspecialty"`
}

// Extract emits one edit per added or modified section. Unchanged sections
// carry no signal and removed sections are retractions, so neither is
// recorded.
func Extract(d diff.LetterDiff, l Letter, now time.Time) []style.Edit {
	var out []style.Edit
	for _, s := range d.Sections {
		if s.Status != diff.StatusAdded && s.Status != diff.StatusModified {
			continue
		}
		editType := style.EditModification
		if s.DraftContent == "" {
			editType = style.EditAddition
		}
		out = append(out, style.Edit{
			ID:               uuid.New(),
			UserID:           l.UserID,
			LetterID:         l.LetterID,
			Subspecialty:     l.Subspecialty,
			SectionType:      s.SectionType,
			EditType:         editType,
			BeforeText:       s.DraftContent,
			AfterText:        s.FinalContent,
			CharacterChanges: s.TotalCharDelta,
			WordChanges:      s.TotalWordDelta,
			CreatedAt:        now,
		})
	}
	return out
}

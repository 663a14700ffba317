package learning

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/quill/internal/audit"
	"github.com/MikeSquared-Agency/quill/internal/sections"
	"github.com/MikeSquared-Agency/quill/internal/style"
)

// AddSeedLetter stores an exemplar letter for later analysis.
func (p *Pipeline) AddSeedLetter(ctx context.Context, l *style.SeedLetter) error {
	if strings.TrimSpace(l.UserID) == "" {
		return errors.New("user_id is required")
	}
	if strings.TrimSpace(l.Text) == "" {
		return errors.New("letter text is required")
	}
	if l.Source == "" {
		l.Source = "upload"
	}
	if err := p.store.InsertSeedLetter(ctx, l); err != nil {
		return err
	}
	p.audit.Record(ctx, audit.ActionSeedLetterAdded, l.UserID, l.ID.String(), map[string]any{
		"subspecialty": l.Subspecialty,
		"source":       l.Source,
		"chars":        utf8.RuneCountInString(l.Text),
	})
	return nil
}

// AnalyzeSeedLetters treats each section of every pending seed letter as
// text the clinician wrote from scratch and analyzes it like any other
// batch. Letters are marked analyzed only after the profile is saved.
func (p *Pipeline) AnalyzeSeedLetters(ctx context.Context, userID, subspecialty string) (Outcome, error) {
	letters, err := p.store.PendingSeedLetters(ctx, userID, subspecialty, p.th.MaxEdits)
	if err != nil {
		return Outcome{}, fmt.Errorf("load seed letters: %w", err)
	}

	var (
		batch []style.Edit
		used  []uuid.UUID
	)
	for _, l := range letters {
		e := seedEdits(l)
		if len(batch)+len(e) > p.th.MaxEdits {
			// A letter larger than a whole batch is sent truncated, or it
			// would stay pending forever. Any other letter waits for the
			// next run so none of its sections are skipped.
			if len(batch) == 0 {
				batch = e[:p.th.MaxEdits]
				used = append(used, l.ID)
			}
			break
		}
		batch = append(batch, e...)
		used = append(used, l.ID)
	}

	v, err, _ := p.flight.Do("seed\x00"+userID+"\x00"+subspecialty, func() (interface{}, error) {
		return p.apply(ctx, userID, subspecialty, batch, "seed_letters")
	})
	if err != nil {
		return Outcome{}, err
	}
	out := v.(Outcome)
	if !out.Analyzed {
		return out, nil
	}

	if err := p.store.MarkSeedLettersAnalyzed(ctx, used, p.now()); err != nil {
		return out, fmt.Errorf("mark seed letters analyzed: %w", err)
	}
	return out, nil
}

func seedEdits(l style.SeedLetter) []style.Edit {
	var out []style.Edit
	for _, s := range sections.Parse(l.Text) {
		content := strings.TrimSpace(s.Content)
		if s.Type == sections.Greeting || s.Type == sections.Signoff {
			content = strings.TrimSpace(s.Header + "\n" + s.Content)
		}
		if content == "" {
			continue
		}
		out = append(out, style.Edit{
			ID:               uuid.New(),
			UserID:           l.UserID,
			LetterID:         l.ID.String(),
			Subspecialty:     l.Subspecialty,
			SectionType:      s.Type,
			EditType:         style.EditAddition,
			AfterText:        content,
			CharacterChanges: utf8.RuneCountInString(content),
			WordChanges:      len(strings.Fields(content)),
			CreatedAt:        l.CreatedAt,
		})
	}
	return out
}

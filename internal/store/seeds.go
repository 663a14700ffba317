package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/quill/internal/style"
)

// InsertSeedLetter stores an exemplar letter awaiting analysis.
func (s *Store) InsertSeedLetter(ctx context.Context, l *style.SeedLetter) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO seed_letters (id, user_id, subspecialty, letter_text, source, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		l.ID, l.UserID, l.Subspecialty, l.Text, l.Source, l.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert seed letter: %w", err)
	}
	return nil
}

// PendingSeedLetters returns seed letters not yet analyzed, oldest first.
func (s *Store) PendingSeedLetters(ctx context.Context, userID, subspecialty string, limit int) ([]style.SeedLetter, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, subspecialty, letter_text, source, analyzed_at, created_at
		FROM seed_letters
		WHERE user_id = $1 AND subspecialty = $2 AND analyzed_at IS NULL
		ORDER BY created_at
		LIMIT $3`,
		userID, subspecialty, limit)
	if err != nil {
		return nil, fmt.Errorf("query seed letters: %w", err)
	}
	defer rows.Close()

	var out []style.SeedLetter
	for rows.Next() {
		var l style.SeedLetter
		if err := rows.Scan(&l.ID, &l.UserID, &l.Subspecialty, &l.Text, &l.Source, &l.AnalyzedAt, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan seed letter: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// MarkSeedLettersAnalyzed stamps analyzed_at on the given letters.
func (s *Store) MarkSeedLettersAnalyzed(ctx context.Context, ids []uuid.UUID, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE seed_letters SET analyzed_at = $2 WHERE id = ANY($1)`, ids, at)
	if err != nil {
		return fmt.Errorf("mark seed letters analyzed: %w", err)
	}
	return nil
}

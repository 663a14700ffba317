package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/MikeSquared-Agency/quill/internal/audit"
	"github.com/MikeSquared-Agency/quill/internal/sections"
	"github.com/MikeSquared-Agency/quill/internal/style"
)

const editColumns = `id, user_id, letter_id, subspecialty, section_type, edit_type,
	before_text, after_text, character_changes, word_changes, created_at`

// InsertEdits writes edits and their audit entry in one transaction. The
// audit row sits behind a savepoint: if it fails only the savepoint is
// rolled back, the edits still commit, and the failure comes back as
// auditErr.
func (s *Store) InsertEdits(ctx context.Context, edits []style.Edit, entry audit.Entry) (auditErr, err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	batch := &pgx.Batch{}
	for _, e := range edits {
		batch.Queue(`
			INSERT INTO style_edits (`+editColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			e.ID, e.UserID, e.LetterID, e.Subspecialty, string(e.SectionType), string(e.EditType),
			e.BeforeText, e.AfterText, e.CharacterChanges, e.WordChanges, e.CreatedAt,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return nil, fmt.Errorf("insert style_edits: %w", err)
	}

	auditErr = writeAuditSavepoint(ctx, tx, entry)

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit edits: %w", err)
	}
	return auditErr, nil
}

func writeAuditSavepoint(ctx context.Context, tx pgx.Tx, entry audit.Entry) error {
	sp, err := tx.Begin(ctx)
	if err != nil {
		return fmt.Errorf("savepoint: %w", err)
	}
	if err := insertAudit(ctx, sp, entry); err != nil {
		_ = sp.Rollback(ctx)
		return err
	}
	return sp.Commit(ctx)
}

// CountEdits returns how many edits a clinician has in a subspecialty,
// optionally only those created after since.
func (s *Store) CountEdits(ctx context.Context, userID, subspecialty string, since *time.Time) (int, error) {
	var n int
	var err error
	if since == nil {
		err = s.pool.QueryRow(ctx, `
			SELECT count(*) FROM style_edits WHERE user_id = $1 AND subspecialty = $2`,
			userID, subspecialty).Scan(&n)
	} else {
		err = s.pool.QueryRow(ctx, `
			SELECT count(*) FROM style_edits WHERE user_id = $1 AND subspecialty = $2 AND created_at > $3`,
			userID, subspecialty, *since).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("count style_edits: %w", err)
	}
	return n, nil
}

// RecentEdits returns up to limit of the clinician's newest edits.
func (s *Store) RecentEdits(ctx context.Context, userID, subspecialty string, limit int) ([]style.Edit, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+editColumns+`
		FROM style_edits
		WHERE user_id = $1 AND subspecialty = $2
		ORDER BY created_at DESC
		LIMIT $3`,
		userID, subspecialty, limit)
	if err != nil {
		return nil, fmt.Errorf("query style_edits: %w", err)
	}
	return collectEdits(rows)
}

// EditsInWindow returns every edit for a subspecialty created in [from, to).
func (s *Store) EditsInWindow(ctx context.Context, subspecialty string, from, to time.Time) ([]style.Edit, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+editColumns+`
		FROM style_edits
		WHERE subspecialty = $1 AND created_at >= $2 AND created_at < $3
		ORDER BY created_at`,
		subspecialty, from, to)
	if err != nil {
		return nil, fmt.Errorf("query style_edits window: %w", err)
	}
	return collectEdits(rows)
}

// Subspecialties lists subspecialties with edits in [from, to).
func (s *Store) Subspecialties(ctx context.Context, from, to time.Time) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT subspecialty FROM style_edits
		WHERE subspecialty <> '' AND created_at >= $1 AND created_at < $2
		ORDER BY subspecialty`, from, to)
	if err != nil {
		return nil, fmt.Errorf("query subspecialties: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func collectEdits(rows pgx.Rows) ([]style.Edit, error) {
	defer rows.Close()
	var out []style.Edit
	for rows.Next() {
		var e style.Edit
		var sectionType, editType string
		if err := rows.Scan(&e.ID, &e.UserID, &e.LetterID, &e.Subspecialty, &sectionType, &editType,
			&e.BeforeText, &e.AfterText, &e.CharacterChanges, &e.WordChanges, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan style_edit: %w", err)
		}
		e.SectionType = sections.Type(sectionType)
		e.EditType = style.EditType(editType)
		out = append(out, e)
	}
	return out, rows.Err()
}

// WriteAudit inserts a standalone audit-log row.
func (s *Store) WriteAudit(ctx context.Context, e audit.Entry) error {
	return insertAudit(ctx, s.pool, e)
}

// execer is satisfied by both the pool and a transaction.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insertAudit(ctx context.Context, db execer, e audit.Entry) error {
	meta := []byte("{}")
	if e.Metadata != nil {
		var err error
		if meta, err = json.Marshal(e.Metadata); err != nil {
			return fmt.Errorf("marshal audit metadata: %w", err)
		}
	}
	_, err := db.Exec(ctx, `
		INSERT INTO audit_log (id, action, user_id, resource_id, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, e.Action, e.UserID, e.ResourceID, meta, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit_log: %w", err)
	}
	return nil
}

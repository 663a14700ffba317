package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/quill/internal/style"
)

// UpsertAggregatedPattern writes the aggregate for (subspecialty, period),
// replacing any earlier run for the same key.
func (s *Store) UpsertAggregatedPattern(ctx context.Context, p *style.AggregatedPattern) error {
	additions, _ := json.Marshal(orEmptySlice(p.CommonAdditions))
	deletions, _ := json.Marshal(orEmptySlice(p.CommonDeletions))
	orders, _ := json.Marshal(orEmptySlice(p.SectionOrderPatterns))
	phrasing, _ := json.Marshal(orEmptySlice(p.PhrasingPatterns))

	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	_, err := s.pool.Exec(ctx, `
		INSERT INTO aggregated_patterns
			(id, subspecialty, period, common_additions, common_deletions,
			 section_order_patterns, phrasing_patterns, sample_size, clinician_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (subspecialty, period) DO UPDATE SET
			common_additions       = EXCLUDED.common_additions,
			common_deletions       = EXCLUDED.common_deletions,
			section_order_patterns = EXCLUDED.section_order_patterns,
			phrasing_patterns      = EXCLUDED.phrasing_patterns,
			sample_size            = EXCLUDED.sample_size,
			clinician_count        = EXCLUDED.clinician_count,
			updated_at             = EXCLUDED.updated_at`,
		p.ID, p.Subspecialty, p.Period, additions, deletions, orders, phrasing,
		p.SampleSize, p.ClinicianCount, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert aggregated pattern: %w", err)
	}
	return nil
}

// GetAggregatedPattern fetches the aggregate for (subspecialty, period).
func (s *Store) GetAggregatedPattern(ctx context.Context, subspecialty, period string) (*style.AggregatedPattern, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, subspecialty, period, common_additions, common_deletions,
		       section_order_patterns, phrasing_patterns, sample_size, clinician_count, created_at, updated_at
		FROM aggregated_patterns WHERE subspecialty = $1 AND period = $2`,
		subspecialty, period)

	var (
		p                                      style.AggregatedPattern
		additions, deletions, orders, phrasing []byte
	)
	if err := row.Scan(&p.ID, &p.Subspecialty, &p.Period, &additions, &deletions, &orders, &phrasing,
		&p.SampleSize, &p.ClinicianCount, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, fmt.Errorf("get aggregated pattern: %w", notFound(err))
	}
	for _, f := range []struct {
		raw []byte
		dst *[]style.PatternCount
	}{
		{additions, &p.CommonAdditions},
		{deletions, &p.CommonDeletions},
		{orders, &p.SectionOrderPatterns},
		{phrasing, &p.PhrasingPatterns},
	} {
		if err := json.Unmarshal(f.raw, f.dst); err != nil {
			return nil, fmt.Errorf("decode aggregated pattern: %w", err)
		}
	}
	return &p, nil
}

func orEmptySlice(v []style.PatternCount) []style.PatternCount {
	if v == nil {
		return []style.PatternCount{}
	}
	return v
}

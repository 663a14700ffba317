package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/quill/internal/sections"
	"github.com/MikeSquared-Agency/quill/internal/style"
)

// preferences is the JSONB shape of a subspecialty profile's learned values.
type preferences struct {
	SectionOrder        []sections.Type                   `json:"section_order,omitempty"`
	SectionInclusion    map[sections.Type]float64         `json:"section_inclusion,omitempty"`
	SectionVerbosity    map[sections.Type]style.Verbosity `json:"section_verbosity,omitempty"`
	PhrasingPreferences map[sections.Type][]string        `json:"phrasing_preferences,omitempty"`
	AvoidedPhrases      map[sections.Type][]string        `json:"avoided_phrases,omitempty"`
	VocabularyMap       map[string]string                 `json:"vocabulary_map,omitempty"`
	TerminologyLevel    style.TerminologyLevel            `json:"terminology_level,omitempty"`
	GreetingStyle       style.GreetingStyle               `json:"greeting_style,omitempty"`
	ClosingStyle        style.ClosingStyle                `json:"closing_style,omitempty"`
	SignoffTemplate     string                            `json:"signoff_template,omitempty"`
	FormalityLevel      style.FormalityLevel              `json:"formality_level,omitempty"`
	ParagraphStructure  style.ParagraphStructure          `json:"paragraph_structure,omitempty"`
}

// globalPreferences is the JSONB shape of a user-level profile.
type globalPreferences struct {
	SectionOrder       []sections.Type           `json:"section_order,omitempty"`
	SectionInclusion   map[sections.Type]float64 `json:"section_inclusion,omitempty"`
	Verbosity          style.Verbosity           `json:"verbosity,omitempty"`
	PreferredPhrases   []string                  `json:"preferred_phrases,omitempty"`
	AvoidedPhrases     []string                  `json:"avoided_phrases,omitempty"`
	VocabularyMap      map[string]string         `json:"vocabulary_map,omitempty"`
	TerminologyLevel   style.TerminologyLevel    `json:"terminology_level,omitempty"`
	GreetingStyle      style.GreetingStyle       `json:"greeting_style,omitempty"`
	ClosingStyle       style.ClosingStyle        `json:"closing_style,omitempty"`
	SignoffTemplate    string                    `json:"signoff_template,omitempty"`
	FormalityLevel     style.FormalityLevel      `json:"formality_level,omitempty"`
	ParagraphStructure style.ParagraphStructure  `json:"paragraph_structure,omitempty"`
}

// GetProfile loads the profile for (userID, subspecialty), or ErrNotFound.
func (s *Store) GetProfile(ctx context.Context, userID, subspecialty string) (*style.Profile, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, user_id, subspecialty, preferences, confidence, learning_strength,
		       total_edits_analyzed, last_analyzed_at, created_at, updated_at
		FROM subspecialty_style_profiles
		WHERE user_id = $1 AND subspecialty = $2`,
		userID, subspecialty)

	var (
		p           style.Profile
		prefs, conf []byte
	)
	if err := row.Scan(&p.ID, &p.UserID, &p.Subspecialty, &prefs, &conf, &p.LearningStrength,
		&p.TotalEditsAnalyzed, &p.LastAnalyzedAt, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, fmt.Errorf("get profile: %w", notFound(err))
	}

	var pr preferences
	if err := json.Unmarshal(prefs, &pr); err != nil {
		return nil, fmt.Errorf("decode profile preferences: %w", err)
	}
	if err := json.Unmarshal(conf, &p.Confidence); err != nil {
		return nil, fmt.Errorf("decode profile confidence: %w", err)
	}
	applyPreferences(&p, pr)
	return &p, nil
}

// UpsertProfile inserts or replaces the profile keyed by (user, subspecialty).
// total_edits_analyzed never moves backwards.
func (s *Store) UpsertProfile(ctx context.Context, p *style.Profile) error {
	prefs, err := json.Marshal(preferencesOf(p))
	if err != nil {
		return fmt.Errorf("marshal preferences: %w", err)
	}
	conf, err := json.Marshal(nonNilConfidence(p.Confidence))
	if err != nil {
		return fmt.Errorf("marshal confidence: %w", err)
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	_, err = s.pool.Exec(ctx, `
		INSERT INTO subspecialty_style_profiles
			(id, user_id, subspecialty, preferences, confidence, learning_strength,
			 total_edits_analyzed, last_analyzed_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (user_id, subspecialty) DO UPDATE SET
			preferences          = EXCLUDED.preferences,
			confidence           = EXCLUDED.confidence,
			learning_strength    = EXCLUDED.learning_strength,
			total_edits_analyzed = GREATEST(subspecialty_style_profiles.total_edits_analyzed, EXCLUDED.total_edits_analyzed),
			last_analyzed_at     = EXCLUDED.last_analyzed_at,
			updated_at           = EXCLUDED.updated_at`,
		p.ID, p.UserID, p.Subspecialty, prefs, conf, style.Clamp01(p.LearningStrength),
		p.TotalEditsAnalyzed, p.LastAnalyzedAt, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}

// SetLearningStrength updates only the learning strength and returns the
// previous value.
func (s *Store) SetLearningStrength(ctx context.Context, userID, subspecialty string, strength float64) (float64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var previous float64
	err = tx.QueryRow(ctx, `
		SELECT learning_strength FROM subspecialty_style_profiles
		WHERE user_id = $1 AND subspecialty = $2
		FOR UPDATE`, userID, subspecialty).Scan(&previous)
	if err != nil {
		return 0, fmt.Errorf("get learning strength: %w", notFound(err))
	}
	if _, err := tx.Exec(ctx, `
		UPDATE subspecialty_style_profiles
		SET learning_strength = $3, updated_at = now()
		WHERE user_id = $1 AND subspecialty = $2`,
		userID, subspecialty, style.Clamp01(strength)); err != nil {
		return 0, fmt.Errorf("update learning strength: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit learning strength: %w", err)
	}
	return previous, nil
}

// DeleteProfile hard-deletes a profile. It reports whether a row existed.
func (s *Store) DeleteProfile(ctx context.Context, userID, subspecialty string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM subspecialty_style_profiles WHERE user_id = $1 AND subspecialty = $2`,
		userID, subspecialty)
	if err != nil {
		return false, fmt.Errorf("delete profile: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// GetGlobalProfile loads a clinician's user-level profile, or ErrNotFound.
func (s *Store) GetGlobalProfile(ctx context.Context, userID string) (*style.GlobalProfile, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, user_id, preferences, confidence, learning_strength,
		       total_edits_analyzed, last_analyzed_at, created_at, updated_at
		FROM style_profiles WHERE user_id = $1`, userID)

	var (
		g           style.GlobalProfile
		prefs, conf []byte
	)
	if err := row.Scan(&g.ID, &g.UserID, &prefs, &conf, &g.LearningStrength,
		&g.TotalEditsAnalyzed, &g.LastAnalyzedAt, &g.CreatedAt, &g.UpdatedAt); err != nil {
		return nil, fmt.Errorf("get global profile: %w", notFound(err))
	}
	var pr globalPreferences
	if err := json.Unmarshal(prefs, &pr); err != nil {
		return nil, fmt.Errorf("decode global preferences: %w", err)
	}
	if err := json.Unmarshal(conf, &g.Confidence); err != nil {
		return nil, fmt.Errorf("decode global confidence: %w", err)
	}
	g.SectionOrder = pr.SectionOrder
	g.SectionInclusion = pr.SectionInclusion
	g.Verbosity = pr.Verbosity
	g.PreferredPhrases = pr.PreferredPhrases
	g.AvoidedPhrases = pr.AvoidedPhrases
	g.VocabularyMap = pr.VocabularyMap
	g.TerminologyLevel = pr.TerminologyLevel
	g.GreetingStyle = pr.GreetingStyle
	g.ClosingStyle = pr.ClosingStyle
	g.SignoffTemplate = pr.SignoffTemplate
	g.FormalityLevel = pr.FormalityLevel
	g.ParagraphStructure = pr.ParagraphStructure
	return &g, nil
}

// UpsertGlobalProfile inserts or replaces a user-level profile.
func (s *Store) UpsertGlobalProfile(ctx context.Context, g *style.GlobalProfile) error {
	prefs, err := json.Marshal(globalPreferences{
		SectionOrder:       g.SectionOrder,
		SectionInclusion:   g.SectionInclusion,
		Verbosity:          g.Verbosity,
		PreferredPhrases:   g.PreferredPhrases,
		AvoidedPhrases:     g.AvoidedPhrases,
		VocabularyMap:      g.VocabularyMap,
		TerminologyLevel:   g.TerminologyLevel,
		GreetingStyle:      g.GreetingStyle,
		ClosingStyle:       g.ClosingStyle,
		SignoffTemplate:    g.SignoffTemplate,
		FormalityLevel:     g.FormalityLevel,
		ParagraphStructure: g.ParagraphStructure,
	})
	if err != nil {
		return fmt.Errorf("marshal global preferences: %w", err)
	}
	conf, err := json.Marshal(nonNilConfidence(g.Confidence))
	if err != nil {
		return fmt.Errorf("marshal global confidence: %w", err)
	}
	if g.ID == uuid.Nil {
		g.ID = uuid.New()
	}
	now := time.Now().UTC()
	if g.CreatedAt.IsZero() {
		g.CreatedAt = now
	}
	g.UpdatedAt = now

	_, err = s.pool.Exec(ctx, `
		INSERT INTO style_profiles
			(id, user_id, preferences, confidence, learning_strength,
			 total_edits_analyzed, last_analyzed_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (user_id) DO UPDATE SET
			preferences          = EXCLUDED.preferences,
			confidence           = EXCLUDED.confidence,
			learning_strength    = EXCLUDED.learning_strength,
			total_edits_analyzed = GREATEST(style_profiles.total_edits_analyzed, EXCLUDED.total_edits_analyzed),
			last_analyzed_at     = EXCLUDED.last_analyzed_at,
			updated_at           = EXCLUDED.updated_at`,
		g.ID, g.UserID, prefs, conf, style.Clamp01(g.LearningStrength),
		g.TotalEditsAnalyzed, g.LastAnalyzedAt, g.CreatedAt, g.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert global profile: %w", err)
	}
	return nil
}

func preferencesOf(p *style.Profile) preferences {
	return preferences{
		SectionOrder:        p.SectionOrder,
		SectionInclusion:    p.SectionInclusion,
		SectionVerbosity:    p.SectionVerbosity,
		PhrasingPreferences: p.PhrasingPreferences,
		AvoidedPhrases:      p.AvoidedPhrases,
		VocabularyMap:       p.VocabularyMap,
		TerminologyLevel:    p.TerminologyLevel,
		GreetingStyle:       p.GreetingStyle,
		ClosingStyle:        p.ClosingStyle,
		SignoffTemplate:     p.SignoffTemplate,
		FormalityLevel:      p.FormalityLevel,
		ParagraphStructure:  p.ParagraphStructure,
	}
}

func applyPreferences(p *style.Profile, pr preferences) {
	p.SectionOrder = pr.SectionOrder
	p.SectionInclusion = orEmpty(pr.SectionInclusion)
	p.SectionVerbosity = orEmpty(pr.SectionVerbosity)
	p.PhrasingPreferences = orEmpty(pr.PhrasingPreferences)
	p.AvoidedPhrases = orEmpty(pr.AvoidedPhrases)
	p.VocabularyMap = orEmpty(pr.VocabularyMap)
	p.TerminologyLevel = pr.TerminologyLevel
	p.GreetingStyle = pr.GreetingStyle
	p.ClosingStyle = pr.ClosingStyle
	p.SignoffTemplate = pr.SignoffTemplate
	p.FormalityLevel = pr.FormalityLevel
	p.ParagraphStructure = pr.ParagraphStructure
	if p.Confidence == nil {
		p.Confidence = map[style.Feature]float64{}
	}
}

func orEmpty[K comparable, V any](m map[K]V) map[K]V {
	if m == nil {
		return map[K]V{}
	}
	return m
}

func nonNilConfidence(m map[style.Feature]float64) map[style.Feature]float64 {
	return orEmpty(m)
}

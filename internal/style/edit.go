package style

import (
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/quill/internal/sections"
)

type EditType string

const (
	EditAddition     EditType = "addition"
	EditModification EditType = "modification"
)

// Edit is one section-level difference between a draft and its finalized
// letter. Edits are append-only.
type Edit struct {
	ID               uuid.UUID     `json:"id"`
	UserID           string        `json:"userId"`
	LetterID         string        `json:"letterId"`
	Subspecialty     string        `json:"subspecialty"`
	SectionType      sections.Type `json:"sectionType"`
	EditType         EditType      `json:"editType"`
	BeforeText       string        `json:"beforeText"`
	AfterText        string        `json:"afterText"`
	CharacterChanges int           `json:"characterChanges"`
	WordChanges      int           `json:"wordChanges"`
	CreatedAt        time.Time     `json:"createdAt"`
}

// SeedLetter is an exemplar letter a clinician submitted for analysis.
type SeedLetter struct {
	ID           uuid.UUID  `json:"id"`
	UserID       string     `json:"userId"`
	Subspecialty string     `json:"subspecialty"`
	Text         string     `json:"text"`
	Source       string     `json:"source,omitempty"`
	AnalyzedAt   *time.Time `json:"analyzedAt,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
}

// PatternCount is one redacted population-level pattern and how often it
// occurred.
type PatternCount struct {
	Pattern     string        `json:"pattern"`
	SectionType sections.Type `json:"sectionType,omitempty"`
	Count       int           `json:"count"`
}

// AggregatedPattern holds population statistics for one subspecialty and
// period. Every text field has been redacted.
type AggregatedPattern struct {
	ID                   uuid.UUID      `json:"id"`
	Subspecialty         string         `json:"subspecialty"`
	Period               string         `json:"period"`
	CommonAdditions      []PatternCount `json:"commonAdditions"`
	CommonDeletions      []PatternCount `json:"commonDeletions"`
	SectionOrderPatterns []PatternCount `json:"sectionOrderPatterns"`
	PhrasingPatterns     []PatternCount `json:"phrasingPatterns"`
	SampleSize           int            `json:"sampleSize"`
	ClinicianCount       int            `json:"clinicianCount"`
	CreatedAt            time.Time      `json:"createdAt"`
	UpdatedAt            time.Time      `json:"updatedAt"`
}

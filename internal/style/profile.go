// Package style holds the learned letter-style model: recorded edits, the
// per-subspecialty profile, analysis results, and the pure functions that
// merge and damp them.
package style

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/quill/internal/sections"
)

// ErrNoProfile is returned when a clinician has no stored profile for a key.
var ErrNoProfile = errors.New("style profile not found")

const (
	// MaxPhrasesPerSection caps each preferred/avoided phrase list.
	MaxPhrasesPerSection = 10
	// MaxVocabularyEntries caps the substitution map.
	MaxVocabularyEntries = 50
)

type Verbosity string

const (
	VerbosityDetailed Verbosity = "detailed"
	VerbosityNormal   Verbosity = "normal"
	VerbosityBrief    Verbosity = "brief"
)

type TerminologyLevel string

const (
	TerminologyLay        TerminologyLevel = "lay"
	TerminologyMixed      TerminologyLevel = "mixed"
	TerminologySpecialist TerminologyLevel = "specialist"
)

type GreetingStyle string

const (
	GreetingFormal    GreetingStyle = "formal"
	GreetingFirstName GreetingStyle = "first_name"
	GreetingCollegial GreetingStyle = "collegial"
	GreetingNone      GreetingStyle = "none"
)

type ClosingStyle string

const (
	ClosingFormal ClosingStyle = "formal"
	ClosingWarm   ClosingStyle = "warm"
	ClosingBrief  ClosingStyle = "brief"
	ClosingNone   ClosingStyle = "none"
)

type FormalityLevel string

const (
	FormalityVeryFormal     FormalityLevel = "very_formal"
	FormalityFormal         FormalityLevel = "formal"
	FormalityNeutral        FormalityLevel = "neutral"
	FormalityConversational FormalityLevel = "conversational"
)

type ParagraphStructure string

const (
	ParagraphProse   ParagraphStructure = "prose"
	ParagraphBullets ParagraphStructure = "bullets"
	ParagraphMixed   ParagraphStructure = "mixed"
)

func (v Verbosity) Valid() bool {
	return v == VerbosityDetailed || v == VerbosityNormal || v == VerbosityBrief
}

func (t TerminologyLevel) Valid() bool {
	return t == TerminologyLay || t == TerminologyMixed || t == TerminologySpecialist
}

func (g GreetingStyle) Valid() bool {
	switch g {
	case GreetingFormal, GreetingFirstName, GreetingCollegial, GreetingNone:
		return true
	}
	return false
}

func (c ClosingStyle) Valid() bool {
	switch c {
	case ClosingFormal, ClosingWarm, ClosingBrief, ClosingNone:
		return true
	}
	return false
}

func (f FormalityLevel) Valid() bool {
	switch f {
	case FormalityVeryFormal, FormalityFormal, FormalityNeutral, FormalityConversational:
		return true
	}
	return false
}

func (p ParagraphStructure) Valid() bool {
	return p == ParagraphProse || p == ParagraphBullets || p == ParagraphMixed
}

// Feature names one confidence-bearing preference family.
type Feature string

const (
	FeatureSectionOrder        Feature = "sectionOrder"
	FeatureSectionInclusion    Feature = "sectionInclusion"
	FeatureSectionVerbosity    Feature = "sectionVerbosity"
	FeaturePhrasingPreferences Feature = "phrasingPreferences"
	FeatureAvoidedPhrases      Feature = "avoidedPhrases"
	FeatureVocabularyMap       Feature = "vocabularyMap"
	FeatureTerminologyLevel    Feature = "terminologyLevel"
	FeatureGreetingStyle       Feature = "greetingStyle"
	FeatureClosingStyle        Feature = "closingStyle"
	FeatureSignoffTemplate     Feature = "signoffTemplate"
	FeatureFormalityLevel      Feature = "formalityLevel"
	FeatureParagraphStructure  Feature = "paragraphStructure"
)

// Features lists all twelve feature families.
var Features = []Feature{
	FeatureSectionOrder, FeatureSectionInclusion, FeatureSectionVerbosity,
	FeaturePhrasingPreferences, FeatureAvoidedPhrases, FeatureVocabularyMap,
	FeatureTerminologyLevel, FeatureGreetingStyle, FeatureClosingStyle,
	FeatureSignoffTemplate, FeatureFormalityLevel, FeatureParagraphStructure,
}

func knownFeature(f Feature) bool {
	for _, k := range Features {
		if k == f {
			return true
		}
	}
	return false
}

// Profile is the learned preference set for one clinician in one
// subspecialty. Confidence values and LearningStrength stay in [0,1].
type Profile struct {
	ID           uuid.UUID `json:"id"`
	UserID       string    `json:"userId"`
	Subspecialty string    `json:"subspecialty"`

	SectionOrder        []sections.Type             `json:"sectionOrder"`
	SectionInclusion    map[sections.Type]float64   `json:"sectionInclusion"`
	SectionVerbosity    map[sections.Type]Verbosity `json:"sectionVerbosity"`
	PhrasingPreferences map[sections.Type][]string  `json:"phrasingPreferences"`
	AvoidedPhrases      map[sections.Type][]string  `json:"avoidedPhrases"`
	VocabularyMap       map[string]string           `json:"vocabularyMap"`
	TerminologyLevel    TerminologyLevel            `json:"terminologyLevel,omitempty"`
	GreetingStyle       GreetingStyle               `json:"greetingStyle,omitempty"`
	ClosingStyle        ClosingStyle                `json:"closingStyle,omitempty"`
	SignoffTemplate     string                      `json:"signoffTemplate,omitempty"`
	FormalityLevel      FormalityLevel              `json:"formalityLevel,omitempty"`
	ParagraphStructure  ParagraphStructure          `json:"paragraphStructure,omitempty"`

	Confidence         map[Feature]float64 `json:"confidence"`
	LearningStrength   float64             `json:"learningStrength"`
	TotalEditsAnalyzed int                 `json:"totalEditsAnalyzed"`
	LastAnalyzedAt     *time.Time          `json:"lastAnalyzedAt,omitempty"`
	CreatedAt          time.Time           `json:"createdAt"`
	UpdatedAt          time.Time           `json:"updatedAt"`
}

// NewProfile returns an empty profile at full learning strength.
func NewProfile(userID, subspecialty string) *Profile {
	return &Profile{
		ID:                  uuid.New(),
		UserID:              userID,
		Subspecialty:        subspecialty,
		SectionInclusion:    map[sections.Type]float64{},
		SectionVerbosity:    map[sections.Type]Verbosity{},
		PhrasingPreferences: map[sections.Type][]string{},
		AvoidedPhrases:      map[sections.Type][]string{},
		VocabularyMap:       map[string]string{},
		Confidence:          map[Feature]float64{},
		LearningStrength:    1,
	}
}

// ConfidenceFor returns the confidence of f, zero when unknown.
func (p *Profile) ConfidenceFor(f Feature) float64 {
	if p == nil {
		return 0
	}
	return p.Confidence[f]
}

// Clone returns a deep copy of p.
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	c := *p
	c.SectionOrder = append([]sections.Type(nil), p.SectionOrder...)
	c.SectionInclusion = cloneMap(p.SectionInclusion)
	c.SectionVerbosity = cloneMap(p.SectionVerbosity)
	c.PhrasingPreferences = clonePhrases(p.PhrasingPreferences)
	c.AvoidedPhrases = clonePhrases(p.AvoidedPhrases)
	c.VocabularyMap = cloneMap(p.VocabularyMap)
	c.Confidence = cloneMap(p.Confidence)
	if p.LastAnalyzedAt != nil {
		t := *p.LastAnalyzedAt
		c.LastAnalyzedAt = &t
	}
	return &c
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func clonePhrases(m map[sections.Type][]string) map[sections.Type][]string {
	out := make(map[sections.Type][]string, len(m))
	for k, v := range m {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// Clamp01 bounds v to [0,1].
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

package style

import (
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/quill/internal/sections"
)

// GlobalProfile is a clinician's user-level style, learned across every
// subspecialty. Phrases are not tied to a section.
type GlobalProfile struct {
	ID                 uuid.UUID                 `json:"id"`
	UserID             string                    `json:"userId"`
	SectionOrder       []sections.Type           `json:"sectionOrder"`
	SectionInclusion   map[sections.Type]float64 `json:"sectionInclusion"`
	Verbosity          Verbosity                 `json:"verbosity,omitempty"`
	PreferredPhrases   []string                  `json:"preferredPhrases"`
	AvoidedPhrases     []string                  `json:"avoidedPhrases"`
	VocabularyMap      map[string]string         `json:"vocabularyMap"`
	TerminologyLevel   TerminologyLevel          `json:"terminologyLevel,omitempty"`
	GreetingStyle      GreetingStyle             `json:"greetingStyle,omitempty"`
	ClosingStyle       ClosingStyle              `json:"closingStyle,omitempty"`
	SignoffTemplate    string                    `json:"signoffTemplate,omitempty"`
	FormalityLevel     FormalityLevel            `json:"formalityLevel,omitempty"`
	ParagraphStructure ParagraphStructure        `json:"paragraphStructure,omitempty"`
	Confidence         map[Feature]float64       `json:"confidence"`
	LearningStrength   float64                   `json:"learningStrength"`
	TotalEditsAnalyzed int                       `json:"totalEditsAnalyzed"`
	LastAnalyzedAt     *time.Time                `json:"lastAnalyzedAt,omitempty"`
	CreatedAt          time.Time                 `json:"createdAt"`
	UpdatedAt          time.Time                 `json:"updatedAt"`
}

// Usable reports whether g carries enough evidence to stand in for a
// missing subspecialty profile.
func (g *GlobalProfile) Usable() bool {
	return g != nil && g.TotalEditsAnalyzed > 0 && len(g.Confidence) > 0
}

// Clone returns a deep copy of g.
func (g *GlobalProfile) Clone() *GlobalProfile {
	if g == nil {
		return nil
	}
	c := *g
	c.SectionOrder = append([]sections.Type(nil), g.SectionOrder...)
	c.SectionInclusion = cloneMap(g.SectionInclusion)
	c.PreferredPhrases = append([]string(nil), g.PreferredPhrases...)
	c.AvoidedPhrases = append([]string(nil), g.AvoidedPhrases...)
	c.VocabularyMap = cloneMap(g.VocabularyMap)
	c.Confidence = cloneMap(g.Confidence)
	if g.LastAnalyzedAt != nil {
		t := *g.LastAnalyzedAt
		c.LastAnalyzedAt = &t
	}
	return &c
}

// ToProfile converts g into the subspecialty profile shape. The single
// verbosity applies to every ordered section and section-independent
// phrases live under the untyped key.
func (g *GlobalProfile) ToProfile(subspecialty string) *Profile {
	if g == nil {
		return nil
	}
	p := NewProfile(g.UserID, subspecialty)
	p.ID = g.ID
	p.SectionOrder = append([]sections.Type(nil), g.SectionOrder...)
	p.SectionInclusion = cloneMap(g.SectionInclusion)
	if g.Verbosity.Valid() {
		for _, t := range g.SectionOrder {
			p.SectionVerbosity[t] = g.Verbosity
		}
	}
	if len(g.PreferredPhrases) > 0 {
		p.PhrasingPreferences[sections.Untyped] = append([]string(nil), g.PreferredPhrases...)
	}
	if len(g.AvoidedPhrases) > 0 {
		p.AvoidedPhrases[sections.Untyped] = append([]string(nil), g.AvoidedPhrases...)
	}
	p.VocabularyMap = cloneMap(g.VocabularyMap)
	p.TerminologyLevel = g.TerminologyLevel
	p.GreetingStyle = g.GreetingStyle
	p.ClosingStyle = g.ClosingStyle
	p.SignoffTemplate = g.SignoffTemplate
	p.FormalityLevel = g.FormalityLevel
	p.ParagraphStructure = g.ParagraphStructure
	p.Confidence = cloneMap(g.Confidence)
	p.LearningStrength = Clamp01(g.LearningStrength)
	p.TotalEditsAnalyzed = g.TotalEditsAnalyzed
	if g.LastAnalyzedAt != nil {
		t := *g.LastAnalyzedAt
		p.LastAnalyzedAt = &t
	}
	p.CreatedAt = g.CreatedAt
	p.UpdatedAt = g.UpdatedAt
	return p
}

// GlobalFromProfile flattens a profile into the user-level shape. Phrases
// from all sections are pooled and the most common verbosity is kept.
func GlobalFromProfile(p *Profile) *GlobalProfile {
	if p == nil {
		return nil
	}
	g := &GlobalProfile{
		ID:                 p.ID,
		UserID:             p.UserID,
		SectionOrder:       append([]sections.Type(nil), p.SectionOrder...),
		SectionInclusion:   cloneMap(p.SectionInclusion),
		Verbosity:          dominantVerbosity(p.SectionVerbosity),
		PreferredPhrases:   pooledPhrases(p.PhrasingPreferences),
		AvoidedPhrases:     pooledPhrases(p.AvoidedPhrases),
		VocabularyMap:      cloneMap(p.VocabularyMap),
		TerminologyLevel:   p.TerminologyLevel,
		GreetingStyle:      p.GreetingStyle,
		ClosingStyle:       p.ClosingStyle,
		SignoffTemplate:    p.SignoffTemplate,
		FormalityLevel:     p.FormalityLevel,
		ParagraphStructure: p.ParagraphStructure,
		Confidence:         cloneMap(p.Confidence),
		LearningStrength:   Clamp01(p.LearningStrength),
		TotalEditsAnalyzed: p.TotalEditsAnalyzed,
		CreatedAt:          p.CreatedAt,
		UpdatedAt:          p.UpdatedAt,
	}
	if p.LastAnalyzedAt != nil {
		t := *p.LastAnalyzedAt
		g.LastAnalyzedAt = &t
	}
	return g
}

// MergeGlobal folds an analysis from any subspecialty into the user-level
// profile.
func MergeGlobal(existing *GlobalProfile, userID string, a AnalysisResult, now time.Time) *GlobalProfile {
	if existing == nil {
		p := FromAnalysis(userID, "", a, now)
		return GlobalFromProfile(p)
	}
	merged := Merge(existing.ToProfile(""), a, now)
	g := GlobalFromProfile(merged)
	g.CreatedAt = existing.CreatedAt
	return g
}

func dominantVerbosity(m map[sections.Type]Verbosity) Verbosity {
	counts := map[Verbosity]int{}
	for _, v := range m {
		counts[v]++
	}
	var best Verbosity
	for _, v := range []Verbosity{VerbosityNormal, VerbosityDetailed, VerbosityBrief} {
		if counts[v] > counts[best] {
			best = v
		}
	}
	return best
}

func pooledPhrases(m map[sections.Type][]string) []string {
	var all []string
	for _, t := range append([]sections.Type{sections.Untyped}, sections.All...) {
		all = append(all, m[t]...)
	}
	return mergePhraseLists(all, nil)
}

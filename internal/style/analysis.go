package style

import (
	"strings"

	"github.com/MikeSquared-Agency/quill/internal/sections"
)

// PhrasePattern is a recurring phrase-level edit seen in one analysis batch.
type PhrasePattern struct {
	SectionType sections.Type `json:"sectionType,omitempty"`
	Phrase      string        `json:"phrase"`
	Action      string        `json:"action"` // added, removed or replaced
	Frequency   int           `json:"frequency"`
}

// SectionOrderPattern is a section ordering observed across letters.
type SectionOrderPattern struct {
	Order     []sections.Type `json:"order"`
	Frequency int             `json:"frequency"`
}

// AnalysisResult is the structured output of one analysis run. Every field
// is optional: the analyzer may omit any of them and a nil or empty field
// means "no evidence" rather than "prefers nothing".
type AnalysisResult struct {
	DetectedSectionOrder        []sections.Type             `json:"detectedSectionOrder,omitempty"`
	DetectedSectionInclusion    map[sections.Type]float64   `json:"detectedSectionInclusion,omitempty"`
	DetectedSectionVerbosity    map[sections.Type]Verbosity `json:"detectedSectionVerbosity,omitempty"`
	DetectedPhrasingPreferences map[sections.Type][]string  `json:"detectedPhrasingPreferences,omitempty"`
	DetectedAvoidedPhrases      map[sections.Type][]string  `json:"detectedAvoidedPhrases,omitempty"`
	DetectedVocabularyMap       map[string]string           `json:"detectedVocabularyMap,omitempty"`
	DetectedTerminologyLevel    *TerminologyLevel           `json:"detectedTerminologyLevel,omitempty"`
	DetectedGreetingStyle       *GreetingStyle              `json:"detectedGreetingStyle,omitempty"`
	DetectedClosingStyle        *ClosingStyle               `json:"detectedClosingStyle,omitempty"`
	DetectedSignoffTemplate     *string                     `json:"detectedSignoffTemplate,omitempty"`
	DetectedFormalityLevel      *FormalityLevel             `json:"detectedFormalityLevel,omitempty"`
	DetectedParagraphStructure  *ParagraphStructure         `json:"detectedParagraphStructure,omitempty"`

	Confidence           map[Feature]float64   `json:"confidence,omitempty"`
	EditsAnalyzed        int                   `json:"editsAnalyzed"`
	PhrasePatterns       []PhrasePattern       `json:"phrasePatterns,omitempty"`
	SectionOrderPatterns []SectionOrderPattern `json:"sectionOrderPatterns,omitempty"`
	Insights             []string              `json:"insights,omitempty"`
}

// Sanitize drops values the profile cannot hold: unknown section types and
// features, invalid enum values and blank phrases. Probabilities and
// confidences are clamped to [0,1] and lists are deduplicated and capped.
func (a *AnalysisResult) Sanitize() {
	if a.EditsAnalyzed < 0 {
		a.EditsAnalyzed = 0
	}

	a.DetectedSectionOrder = uniqueSections(a.DetectedSectionOrder)

	for k, v := range a.DetectedSectionInclusion {
		if !sections.Valid(k) {
			delete(a.DetectedSectionInclusion, k)
			continue
		}
		a.DetectedSectionInclusion[k] = Clamp01(v)
	}
	for k, v := range a.DetectedSectionVerbosity {
		if !sections.Valid(k) || !v.Valid() {
			delete(a.DetectedSectionVerbosity, k)
		}
	}
	a.DetectedPhrasingPreferences = sanitizePhrases(a.DetectedPhrasingPreferences)
	a.DetectedAvoidedPhrases = sanitizePhrases(a.DetectedAvoidedPhrases)

	for k, v := range a.DetectedVocabularyMap {
		from, to := strings.TrimSpace(k), strings.TrimSpace(v)
		if from == "" || to == "" || strings.EqualFold(from, to) {
			delete(a.DetectedVocabularyMap, k)
		}
	}

	if a.DetectedTerminologyLevel != nil && !a.DetectedTerminologyLevel.Valid() {
		a.DetectedTerminologyLevel = nil
	}
	if a.DetectedGreetingStyle != nil && !a.DetectedGreetingStyle.Valid() {
		a.DetectedGreetingStyle = nil
	}
	if a.DetectedClosingStyle != nil && !a.DetectedClosingStyle.Valid() {
		a.DetectedClosingStyle = nil
	}
	if a.DetectedSignoffTemplate != nil && strings.TrimSpace(*a.DetectedSignoffTemplate) == "" {
		a.DetectedSignoffTemplate = nil
	}
	if a.DetectedFormalityLevel != nil && !a.DetectedFormalityLevel.Valid() {
		a.DetectedFormalityLevel = nil
	}
	if a.DetectedParagraphStructure != nil && !a.DetectedParagraphStructure.Valid() {
		a.DetectedParagraphStructure = nil
	}

	for f, v := range a.Confidence {
		if !knownFeature(f) {
			delete(a.Confidence, f)
			continue
		}
		a.Confidence[f] = Clamp01(v)
	}
}

// present reports whether the result carries a value for f.
func (a *AnalysisResult) present(f Feature) bool {
	switch f {
	case FeatureSectionOrder:
		return len(a.DetectedSectionOrder) > 0
	case FeatureSectionInclusion:
		return len(a.DetectedSectionInclusion) > 0
	case FeatureSectionVerbosity:
		return len(a.DetectedSectionVerbosity) > 0
	case FeaturePhrasingPreferences:
		return len(a.DetectedPhrasingPreferences) > 0
	case FeatureAvoidedPhrases:
		return len(a.DetectedAvoidedPhrases) > 0
	case FeatureVocabularyMap:
		return len(a.DetectedVocabularyMap) > 0
	case FeatureTerminologyLevel:
		return a.DetectedTerminologyLevel != nil
	case FeatureGreetingStyle:
		return a.DetectedGreetingStyle != nil
	case FeatureClosingStyle:
		return a.DetectedClosingStyle != nil
	case FeatureSignoffTemplate:
		return a.DetectedSignoffTemplate != nil
	case FeatureFormalityLevel:
		return a.DetectedFormalityLevel != nil
	case FeatureParagraphStructure:
		return a.DetectedParagraphStructure != nil
	}
	return false
}

func uniqueSections(in []sections.Type) []sections.Type {
	seen := make(map[sections.Type]bool, len(in))
	var out []sections.Type
	for _, t := range in {
		if !sections.Valid(t) || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

func sanitizePhrases(m map[sections.Type][]string) map[sections.Type][]string {
	if m == nil {
		return nil
	}
	out := make(map[sections.Type][]string, len(m))
	for k, list := range m {
		if k != sections.Untyped && !sections.Valid(k) {
			continue
		}
		if cleaned := mergePhraseLists(list, nil); len(cleaned) > 0 {
			out[k] = cleaned
		}
	}
	return out
}

// mergePhraseLists concatenates first then second, trimming blanks and
// dropping case-insensitive duplicates, capped at MaxPhrasesPerSection.
func mergePhraseLists(first, second []string) []string {
	seen := make(map[string]bool, len(first)+len(second))
	var out []string
	for _, list := range [][]string{first, second} {
		for _, p := range list {
			p = strings.TrimSpace(p)
			key := strings.ToLower(p)
			if p == "" || seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, p)
			if len(out) == MaxPhrasesPerSection {
				return out
			}
		}
	}
	return out
}

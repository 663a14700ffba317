package style

import (
	"time"

	"github.com/MikeSquared-Agency/quill/internal/sections"
)

// Observation is one side of a merge: a preference value, the confidence in
// it, and the number of edits that produced it. Present is false when that
// side carries no evidence for the feature at all.
type Observation[T any] struct {
	Value      T
	Confidence float64
	Weight     float64
	Present    bool
}

// Reduce merges two observations of a categorical preference. The value with
// the higher confidence wins and an exact tie keeps the incoming value. The
// merged confidence is the edit-weighted mean of both confidences. An absent
// side does not take part.
func Reduce[T any](existing, incoming Observation[T]) (T, float64) {
	switch {
	case !incoming.Present:
		return existing.Value, Clamp01(existing.Confidence)
	case !existing.Present:
		return incoming.Value, Clamp01(incoming.Confidence)
	}
	conf := weightedMean(existing.Confidence, incoming.Confidence, existing.Weight, incoming.Weight)
	if incoming.Confidence >= existing.Confidence {
		return incoming.Value, conf
	}
	return existing.Value, conf
}

// weightedMean averages a and b by their weights, falling back to the plain
// mean when both weights are zero.
func weightedMean(a, b, wa, wb float64) float64 {
	if wa < 0 {
		wa = 0
	}
	if wb < 0 {
		wb = 0
	}
	if wa+wb == 0 {
		return Clamp01((a + b) / 2)
	}
	return Clamp01((a*wa + b*wb) / (wa + wb))
}

// FromAnalysis builds a fresh profile from a single analysis result.
func FromAnalysis(userID, subspecialty string, a AnalysisResult, now time.Time) *Profile {
	a.Sanitize()
	p := NewProfile(userID, subspecialty)
	p.SectionOrder = append([]sections.Type(nil), a.DetectedSectionOrder...)
	for k, v := range a.DetectedSectionInclusion {
		p.SectionInclusion[k] = v
	}
	for k, v := range a.DetectedSectionVerbosity {
		p.SectionVerbosity[k] = v
	}
	p.PhrasingPreferences = clonePhrases(a.DetectedPhrasingPreferences)
	p.AvoidedPhrases = clonePhrases(a.DetectedAvoidedPhrases)
	p.VocabularyMap = capVocabulary(cloneMap(a.DetectedVocabularyMap))
	if a.DetectedTerminologyLevel != nil {
		p.TerminologyLevel = *a.DetectedTerminologyLevel
	}
	if a.DetectedGreetingStyle != nil {
		p.GreetingStyle = *a.DetectedGreetingStyle
	}
	if a.DetectedClosingStyle != nil {
		p.ClosingStyle = *a.DetectedClosingStyle
	}
	if a.DetectedSignoffTemplate != nil {
		p.SignoffTemplate = *a.DetectedSignoffTemplate
	}
	if a.DetectedFormalityLevel != nil {
		p.FormalityLevel = *a.DetectedFormalityLevel
	}
	if a.DetectedParagraphStructure != nil {
		p.ParagraphStructure = *a.DetectedParagraphStructure
	}
	for f, v := range a.Confidence {
		p.Confidence[f] = v
	}
	p.TotalEditsAnalyzed = a.EditsAnalyzed
	p.CreatedAt = now
	p.UpdatedAt = now
	p.LastAnalyzedAt = &now
	return p
}

// Merge folds an analysis result into an existing profile and returns the
// merged copy; existing is never modified. With no existing profile the
// analysis becomes the profile verbatim. Learning strength carries over and
// TotalEditsAnalyzed becomes the sum of both sides.
func Merge(existing *Profile, a AnalysisResult, now time.Time) *Profile {
	if existing == nil {
		return FromAnalysis("", "", a, now)
	}
	a.Sanitize()

	out := existing.Clone()
	if out.Confidence == nil {
		out.Confidence = map[Feature]float64{}
	}
	we := float64(existing.TotalEditsAnalyzed)
	wn := float64(a.EditsAnalyzed)

	side := func(f Feature) (Observation[struct{}], Observation[struct{}]) {
		_, eok := existing.Confidence[f]
		return Observation[struct{}]{Confidence: existing.Confidence[f], Weight: we, Present: eok || existingHas(existing, f)},
			Observation[struct{}]{Confidence: a.Confidence[f], Weight: wn, Present: a.present(f)}
	}
	setConf := func(f Feature, c float64, present bool) {
		if present {
			out.Confidence[f] = c
		}
	}

	// Confidence merges on its own: a reply may report a confidence for a
	// feature without a detected value, and that evidence still counts.
	for _, f := range []Feature{
		FeatureSectionOrder, FeatureSectionInclusion, FeatureSectionVerbosity,
		FeaturePhrasingPreferences, FeatureAvoidedPhrases, FeatureVocabularyMap,
	} {
		e, n := side(f)
		_, nok := a.Confidence[f]
		n.Present = n.Present || nok
		_, c := Reduce(e, n)
		setConf(f, c, e.Present || n.Present)
	}

	// Section order is categorical: the better-supported ordering wins.
	if e, n := side(FeatureSectionOrder); n.Present {
		order, _ := Reduce(
			Observation[[]sections.Type]{existing.SectionOrder, e.Confidence, we, e.Present},
			Observation[[]sections.Type]{a.DetectedSectionOrder, n.Confidence, wn, true},
		)
		out.SectionOrder = append([]sections.Type(nil), order...)
	}

	// Inclusion probabilities average per section by edit count.
	if a.present(FeatureSectionInclusion) {
		incl := cloneMap(existing.SectionInclusion)
		for k, v := range a.DetectedSectionInclusion {
			if old, ok := incl[k]; ok {
				incl[k] = weightedMean(old, v, we, wn)
			} else {
				incl[k] = v
			}
		}
		out.SectionInclusion = incl
	}

	// Verbosity is categorical per section, decided by feature confidence.
	if e, n := side(FeatureSectionVerbosity); n.Present {
		verb := cloneMap(existing.SectionVerbosity)
		for k, v := range a.DetectedSectionVerbosity {
			old, ok := verb[k]
			merged, _ := Reduce(
				Observation[Verbosity]{old, e.Confidence, we, ok},
				Observation[Verbosity]{v, n.Confidence, wn, true},
			)
			verb[k] = merged
		}
		out.SectionVerbosity = verb
	}

	if a.present(FeaturePhrasingPreferences) {
		out.PhrasingPreferences = unionPhrases(existing.PhrasingPreferences, a.DetectedPhrasingPreferences)
		out.AvoidedPhrases = withoutPhrases(out.AvoidedPhrases, a.DetectedPhrasingPreferences)
	}
	if a.present(FeatureAvoidedPhrases) {
		out.AvoidedPhrases = unionPhrases(out.AvoidedPhrases, a.DetectedAvoidedPhrases)
		out.PhrasingPreferences = withoutPhrases(out.PhrasingPreferences, a.DetectedAvoidedPhrases)
	}

	if a.present(FeatureVocabularyMap) {
		vocab := cloneMap(existing.VocabularyMap)
		for k, v := range a.DetectedVocabularyMap {
			vocab[k] = v
		}
		out.VocabularyMap = capVocabulary(vocab)
	}

	out.TerminologyLevel = reduceEnum(existing, a, FeatureTerminologyLevel, existing.TerminologyLevel, a.DetectedTerminologyLevel, setConf)
	out.GreetingStyle = reduceEnum(existing, a, FeatureGreetingStyle, existing.GreetingStyle, a.DetectedGreetingStyle, setConf)
	out.ClosingStyle = reduceEnum(existing, a, FeatureClosingStyle, existing.ClosingStyle, a.DetectedClosingStyle, setConf)
	out.SignoffTemplate = reduceEnum(existing, a, FeatureSignoffTemplate, existing.SignoffTemplate, a.DetectedSignoffTemplate, setConf)
	out.FormalityLevel = reduceEnum(existing, a, FeatureFormalityLevel, existing.FormalityLevel, a.DetectedFormalityLevel, setConf)
	out.ParagraphStructure = reduceEnum(existing, a, FeatureParagraphStructure, existing.ParagraphStructure, a.DetectedParagraphStructure, setConf)

	out.TotalEditsAnalyzed = existing.TotalEditsAnalyzed + a.EditsAnalyzed
	out.LearningStrength = Clamp01(existing.LearningStrength)
	out.UpdatedAt = now
	out.LastAnalyzedAt = &now
	return out
}

func reduceEnum[T comparable](existing *Profile, a AnalysisResult, f Feature, current T, detected *T, setConf func(Feature, float64, bool)) T {
	var zero T
	_, eok := existing.Confidence[f]
	e := Observation[T]{Value: current, Confidence: existing.Confidence[f], Weight: float64(existing.TotalEditsAnalyzed), Present: eok || current != zero}
	n := Observation[T]{Confidence: a.Confidence[f], Weight: float64(a.EditsAnalyzed), Present: detected != nil}
	if detected != nil {
		n.Value = *detected
	}
	v, _ := Reduce(e, n)

	// A confidence without a value still moves the merged confidence.
	_, nok := a.Confidence[f]
	n.Present = n.Present || nok
	_, c := Reduce(e, n)
	setConf(f, c, e.Present || n.Present)
	return v
}

// existingHas reports whether the profile holds a value for f even when no
// confidence was recorded for it.
func existingHas(p *Profile, f Feature) bool {
	switch f {
	case FeatureSectionOrder:
		return len(p.SectionOrder) > 0
	case FeatureSectionInclusion:
		return len(p.SectionInclusion) > 0
	case FeatureSectionVerbosity:
		return len(p.SectionVerbosity) > 0
	case FeaturePhrasingPreferences:
		return len(p.PhrasingPreferences) > 0
	case FeatureAvoidedPhrases:
		return len(p.AvoidedPhrases) > 0
	case FeatureVocabularyMap:
		return len(p.VocabularyMap) > 0
	}
	return false
}

// unionPhrases merges per-section phrase lists with incoming phrases first.
func unionPhrases(existing, incoming map[sections.Type][]string) map[sections.Type][]string {
	out := clonePhrases(existing)
	for k, list := range incoming {
		out[k] = mergePhraseLists(list, existing[k])
	}
	return out
}

// withoutPhrases removes from m every phrase that now appears in the
// opposite list, so a phrase is never both preferred and avoided.
func withoutPhrases(m, remove map[sections.Type][]string) map[sections.Type][]string {
	out := make(map[sections.Type][]string, len(m))
	for k, list := range m {
		drop := make(map[string]bool, len(remove[k]))
		for _, p := range remove[k] {
			drop[lower(p)] = true
		}
		var kept []string
		for _, p := range list {
			if !drop[lower(p)] {
				kept = append(kept, p)
			}
		}
		if len(kept) > 0 {
			out[k] = kept
		}
	}
	return out
}

func capVocabulary(m map[string]string) map[string]string {
	if len(m) <= MaxVocabularyEntries {
		return m
	}
	keys := sortedKeys(m)
	out := make(map[string]string, MaxVocabularyEntries)
	for _, k := range keys[:MaxVocabularyEntries] {
		out[k] = m[k]
	}
	return out
}

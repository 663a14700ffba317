package style

import (
	"math"
	"sort"
	"strings"

	"github.com/MikeSquared-Agency/quill/internal/sections"
)

// ApplyLearningStrength returns a damped copy of p for use at read time; the
// stored profile is never changed. Confidences scale by strength, inclusion
// probabilities move toward 0.5, and phrase and vocabulary lists keep
// round(len*strength) entries. At strength 0 every list and map is empty and
// every confidence is 0.
func ApplyLearningStrength(p *Profile, strength float64) *Profile {
	if p == nil {
		return nil
	}
	s := Clamp01(strength)
	out := p.Clone()
	if s == 1 {
		return out
	}

	for f, c := range out.Confidence {
		out.Confidence[f] = Clamp01(c * s)
	}
	for k, v := range out.SectionInclusion {
		out.SectionInclusion[k] = Clamp01(0.5 + (v-0.5)*s)
	}
	out.PhrasingPreferences = truncatePhrases(out.PhrasingPreferences, s)
	out.AvoidedPhrases = truncatePhrases(out.AvoidedPhrases, s)

	keys := sortedKeys(out.VocabularyMap)
	keep := scaledLen(len(keys), s)
	vocab := make(map[string]string, keep)
	for _, k := range keys[:keep] {
		vocab[k] = out.VocabularyMap[k]
	}
	out.VocabularyMap = vocab

	if s == 0 {
		out.SectionOrder = []sections.Type{}
		out.SectionInclusion = map[sections.Type]float64{}
		out.SectionVerbosity = map[sections.Type]Verbosity{}
	}
	return out
}

// Effective applies the profile's own learning strength.
func (p *Profile) Effective() *Profile {
	if p == nil {
		return nil
	}
	return ApplyLearningStrength(p, p.LearningStrength)
}

func truncatePhrases(m map[sections.Type][]string, s float64) map[sections.Type][]string {
	out := make(map[sections.Type][]string, len(m))
	for k, list := range m {
		if n := scaledLen(len(list), s); n > 0 {
			out[k] = list[:n]
		}
	}
	return out
}

func scaledLen(n int, s float64) int {
	k := int(math.Round(float64(n) * s))
	if k < 0 {
		return 0
	}
	if k > n {
		return n
	}
	return k
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func lower(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

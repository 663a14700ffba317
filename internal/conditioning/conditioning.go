// Package conditioning turns a clinician's style profile into a guidance
// block for the letter-generation prompt. It reads only the profile, never
// letter or patient text.
package conditioning

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/MikeSquared-Agency/quill/internal/profiles"
	"github.com/MikeSquared-Agency/quill/internal/sections"
	"github.com/MikeSquared-Agency/quill/internal/style"
)

// Header opens the guidance block. Apply keys replacement on it.
const Header = "## Clinician Style Guidance"

// DefaultThreshold is the confidence a feature needs before it is applied.
const DefaultThreshold = 0.5

const (
	maxPhrasesPerSection = 3
	maxVocabulary        = 8
	includeAbove         = 0.8
	omitBelow            = 0.2
)

// Options tune Build. Overrides force a feature on or off regardless of
// its confidence.
type Options struct {
	Threshold float64
	Overrides map[style.Feature]bool
}

// Config records which feature families a render will use.
type Config struct {
	Source    profiles.Source        `json:"source"`
	Threshold float64                `json:"threshold"`
	Enabled   map[style.Feature]bool `json:"enabled"`
}

// Any reports whether at least one feature is enabled.
func (c Config) Any() bool {
	for _, on := range c.Enabled {
		if on {
			return true
		}
	}
	return false
}

// Applied lists enabled features in canonical order.
func (c Config) Applied() []style.Feature {
	var out []style.Feature
	for _, f := range style.Features {
		if c.Enabled[f] {
			out = append(out, f)
		}
	}
	return out
}

// Build decides which features of p to apply. Nothing is enabled for the
// default source, a nil profile or zero learning strength; otherwise a
// feature is enabled when its confidence reaches the threshold, unless an
// override says otherwise.
func Build(p *style.Profile, source profiles.Source, opts Options) Config {
	th := opts.Threshold
	if th <= 0 {
		th = DefaultThreshold
	}
	cfg := Config{Source: source, Threshold: th, Enabled: map[style.Feature]bool{}}
	if p == nil || source == profiles.SourceDefault || p.LearningStrength <= 0 {
		return cfg
	}
	for _, f := range style.Features {
		on := p.ConfidenceFor(f) >= th
		if forced, ok := opts.Overrides[f]; ok {
			on = forced
		}
		cfg.Enabled[f] = on
	}
	return cfg
}

// Render writes the guidance block for p under cfg, or "" when no enabled
// feature has anything to say.
func Render(p *style.Profile, cfg Config) string {
	if p == nil || !cfg.Any() {
		return ""
	}

	var lines []string
	add := func(s string) {
		if s != "" {
			lines = append(lines, "- "+s)
		}
	}

	if cfg.Enabled[style.FeatureSectionOrder] {
		add(sectionOrder(p.SectionOrder))
	}
	if cfg.Enabled[style.FeatureSectionVerbosity] {
		for _, s := range verbosity(p) {
			add(s)
		}
	}
	if cfg.Enabled[style.FeatureSectionInclusion] {
		include, omit := inclusion(p.SectionInclusion)
		add(include)
		add(omit)
	}
	if cfg.Enabled[style.FeaturePhrasingPreferences] {
		for _, s := range phrases(p.PhrasingPreferences, "Preferred phrasing") {
			add(s)
		}
	}
	if cfg.Enabled[style.FeatureAvoidedPhrases] {
		for _, s := range phrases(p.AvoidedPhrases, "Avoid phrasing") {
			add(s)
		}
	}
	if cfg.Enabled[style.FeatureVocabularyMap] {
		add(vocabulary(p.VocabularyMap))
	}
	if cfg.Enabled[style.FeatureGreetingStyle] {
		add(greetingText[p.GreetingStyle])
	}
	if cfg.Enabled[style.FeatureClosingStyle] {
		add(closingText[p.ClosingStyle])
	}
	if cfg.Enabled[style.FeatureSignoffTemplate] && strings.TrimSpace(p.SignoffTemplate) != "" {
		add(fmt.Sprintf("Sign off using this template: %q.", clean(p.SignoffTemplate)))
	}
	if cfg.Enabled[style.FeatureFormalityLevel] {
		add(formalityText[p.FormalityLevel])
	}
	if cfg.Enabled[style.FeatureTerminologyLevel] {
		add(terminologyText[p.TerminologyLevel])
	}
	if cfg.Enabled[style.FeatureParagraphStructure] {
		add(paragraphText[p.ParagraphStructure])
	}
	if len(lines) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString(Header)
	b.WriteString("\n\n")
	b.WriteString(general(p, cfg))
	b.WriteString("\n\n")
	b.WriteString(strings.Join(lines, "\n"))
	b.WriteString("\n\nClinical accuracy and patient safety always take precedence over these style preferences.")
	return b.String()
}

var nextHeading = regexp.MustCompile(`(?m)^#{1,2}\s`)

// Apply places guidance into base. An existing block under Header is
// replaced up to the next top-level heading; otherwise guidance is
// appended. Empty guidance removes any existing block.
func Apply(base, guidance string) string {
	start := headerIndex(base)
	if start < 0 {
		if guidance == "" {
			return base
		}
		trimmed := strings.TrimRight(base, "\n ")
		if trimmed == "" {
			return guidance + "\n"
		}
		return trimmed + "\n\n" + guidance + "\n"
	}

	after := start + len(Header)
	end := len(base)
	if loc := nextHeading.FindStringIndex(base[after:]); loc != nil {
		end = after + loc[0]
	}

	before := base[:start]
	rest := base[end:]
	switch {
	case guidance == "" && rest == "":
		return strings.TrimRight(before, "\n ") + "\n"
	case guidance == "":
		return before + rest
	case rest == "":
		return before + guidance + "\n"
	default:
		return before + guidance + "\n\n" + rest
	}
}

func headerIndex(s string) int {
	for i := 0; ; {
		j := strings.Index(s[i:], Header)
		if j < 0 {
			return -1
		}
		at := i + j
		lineStart := at == 0 || s[at-1] == '\n'
		end := at + len(Header)
		lineEnd := end == len(s) || s[end] == '\n' || s[end] == '\r'
		if lineStart && lineEnd {
			return at
		}
		i = end
	}
}

func general(p *style.Profile, cfg Config) string {
	scope := "this subspecialty"
	if cfg.Source == profiles.SourceGlobal {
		scope = "all of this clinician's letters"
	}
	return fmt.Sprintf("Write in this clinician's preferred style, learned from %d of their edits across %s (%s confidence).",
		p.TotalEditsAnalyzed, scope, tier(p, cfg))
}

func tier(p *style.Profile, cfg Config) string {
	applied := cfg.Applied()
	if len(applied) == 0 {
		return "low"
	}
	var sum float64
	for _, f := range applied {
		sum += p.ConfidenceFor(f)
	}
	switch avg := sum / float64(len(applied)); {
	case avg >= 0.75:
		return "high"
	case avg >= 0.5:
		return "moderate"
	default:
		return "low"
	}
}

func sectionOrder(order []sections.Type) string {
	if len(order) == 0 {
		return ""
	}
	labels := make([]string, 0, len(order))
	for _, t := range order {
		labels = append(labels, label(t))
	}
	return "Order the sections as: " + strings.Join(labels, " → ") + "."
}

func verbosity(p *style.Profile) []string {
	var out []string
	for _, t := range orderedKeys(p.SectionVerbosity, p.SectionOrder) {
		switch p.SectionVerbosity[t] {
		case style.VerbosityDetailed:
			out = append(out, fmt.Sprintf("Write the %s section in detail.", label(t)))
		case style.VerbosityBrief:
			out = append(out, fmt.Sprintf("Keep the %s section brief.", label(t)))
		case style.VerbosityNormal:
			out = append(out, fmt.Sprintf("Keep the %s section at a standard length.", label(t)))
		}
	}
	return out
}

func inclusion(m map[sections.Type]float64) (string, string) {
	var include, omit []string
	for _, t := range orderedKeys(m, nil) {
		switch v := m[t]; {
		case v >= includeAbove:
			include = append(include, label(t))
		case v <= omitBelow:
			omit = append(omit, label(t))
		}
	}
	var in, out string
	if len(include) > 0 {
		in = "Always include these sections: " + strings.Join(include, ", ") + "."
	}
	if len(omit) > 0 {
		out = "Leave out these sections unless clinically necessary: " + strings.Join(omit, ", ") + "."
	}
	return in, out
}

func phrases(m map[sections.Type][]string, lead string) []string {
	var out []string
	for _, t := range orderedKeys(m, nil) {
		list := m[t]
		if len(list) > maxPhrasesPerSection {
			list = list[:maxPhrasesPerSection]
		}
		quoted := make([]string, 0, len(list))
		for _, ph := range list {
			if ph = clean(ph); ph != "" {
				quoted = append(quoted, fmt.Sprintf("%q", ph))
			}
		}
		if len(quoted) == 0 {
			continue
		}
		where := ""
		if t != sections.Untyped {
			where = " in " + label(t)
		}
		out = append(out, fmt.Sprintf("%s%s: %s.", lead, where, strings.Join(quoted, ", ")))
	}
	return out
}

func vocabulary(m map[string]string) string {
	if len(m) == 0 {
		return ""
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) > maxVocabulary {
		keys = keys[:maxVocabulary]
	}
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, fmt.Sprintf("%q instead of %q", clean(m[k]), clean(k)))
	}
	return "Use these terms: " + strings.Join(pairs, "; ") + "."
}

// orderedKeys lists the keys of m following order first, then the rest in
// canonical section order.
func orderedKeys[V any](m map[sections.Type]V, order []sections.Type) []sections.Type {
	seen := map[sections.Type]bool{}
	var out []sections.Type
	push := func(t sections.Type) {
		if _, ok := m[t]; ok && !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	for _, t := range order {
		push(t)
	}
	push(sections.Untyped)
	for _, t := range sections.All {
		push(t)
	}
	return out
}

func label(t sections.Type) string {
	if l := sections.Label(t); l != "" {
		return l
	}
	return "General"
}

func clean(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

var greetingText = map[style.GreetingStyle]string{
	style.GreetingFormal:    "Open with a formal salutation using title and surname, e.g. \"Dear Dr Surname\".",
	style.GreetingFirstName: "Open by addressing the recipient by first name.",
	style.GreetingCollegial: "Open with a collegial salutation, e.g. \"Dear colleague\".",
	style.GreetingNone:      "Do not include a salutation.",
}

var closingText = map[style.ClosingStyle]string{
	style.ClosingFormal: "Close formally, e.g. \"Yours sincerely\".",
	style.ClosingWarm:   "Close warmly, e.g. \"With best wishes\".",
	style.ClosingBrief:  "Keep the closing to a brief line such as \"Regards\".",
	style.ClosingNone:   "Do not include a closing line.",
}

var formalityText = map[style.FormalityLevel]string{
	style.FormalityVeryFormal:     "Keep the tone very formal throughout.",
	style.FormalityFormal:         "Keep the tone formal.",
	style.FormalityNeutral:        "Use a neutral, professional tone.",
	style.FormalityConversational: "Use a conversational tone while staying professional.",
}

var terminologyText = map[style.TerminologyLevel]string{
	style.TerminologyLay:        "Prefer plain language over medical jargon.",
	style.TerminologyMixed:      "Use medical terms with brief plain-language explanations where helpful.",
	style.TerminologySpecialist: "Use specialist medical terminology without lay explanations.",
}

var paragraphText = map[style.ParagraphStructure]string{
	style.ParagraphProse:   "Write in flowing prose paragraphs.",
	style.ParagraphBullets: "Use bullet or numbered lists rather than prose where possible.",
	style.ParagraphMixed:   "Mix short prose paragraphs with lists where they aid clarity.",
}

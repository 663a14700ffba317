package style

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeSquared-Agency/quill/internal/sections"
)

var now = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

func existingProfile() *Profile {
	p := NewProfile("user-1", "cardiology")
	p.SectionOrder = []sections.Type{sections.Greeting, sections.History, sections.Plan}
	p.SectionInclusion[sections.Examination] = 0.9
	p.SectionVerbosity[sections.History] = VerbosityBrief
	p.PhrasingPreferences[sections.Plan] = []string{"I have arranged"}
	p.AvoidedPhrases[sections.History] = []string{"pleasant gentleman"}
	p.VocabularyMap["heart attack"] = "myocardial infarction"
	p.GreetingStyle = GreetingFormal
	p.Confidence = map[Feature]float64{
		FeatureSectionOrder:        0.7,
		FeatureSectionInclusion:    0.6,
		FeatureSectionVerbosity:    0.5,
		FeaturePhrasingPreferences: 0.6,
		FeatureAvoidedPhrases:      0.6,
		FeatureVocabularyMap:       0.6,
		FeatureGreetingStyle:       0.6,
	}
	p.LearningStrength = 0.8
	p.TotalEditsAnalyzed = 20
	return p
}

func TestReduce(t *testing.T) {
	tests := []struct {
		name     string
		existing Observation[string]
		incoming Observation[string]
		want     string
		wantConf float64
	}{
		{
			name:     "higher incoming confidence wins",
			existing: Observation[string]{"formal", 0.6, 20, true},
			incoming: Observation[string]{"collegial", 0.8, 10, true},
			want:     "collegial",
			wantConf: (0.6*20 + 0.8*10) / 30,
		},
		{
			name:     "higher existing confidence wins",
			existing: Observation[string]{"formal", 0.9, 10, true},
			incoming: Observation[string]{"collegial", 0.3, 10, true},
			want:     "formal",
			wantConf: 0.6,
		},
		{
			name:     "tie favors incoming",
			existing: Observation[string]{"formal", 0.5, 10, true},
			incoming: Observation[string]{"collegial", 0.5, 30, true},
			want:     "collegial",
			wantConf: 0.5,
		},
		{
			name:     "absent incoming keeps existing",
			existing: Observation[string]{"formal", 0.7, 10, true},
			incoming: Observation[string]{Confidence: 0.9, Weight: 5},
			want:     "formal",
			wantConf: 0.7,
		},
		{
			name:     "absent existing takes incoming",
			existing: Observation[string]{},
			incoming: Observation[string]{"brief", 0.4, 5, true},
			want:     "brief",
			wantConf: 0.4,
		},
		{
			name:     "zero weights use plain mean",
			existing: Observation[string]{"a", 0.2, 0, true},
			incoming: Observation[string]{"b", 0.6, 0, true},
			want:     "b",
			wantConf: 0.4,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, conf := Reduce(tt.existing, tt.incoming)
			assert.Equal(t, tt.want, got)
			assert.InDelta(t, tt.wantConf, conf, 1e-9)
		})
	}
}

func TestMerge_NoExistingProfileIsVerbatim(t *testing.T) {
	a := AnalysisResult{
		DetectedSectionOrder:  []sections.Type{sections.History, sections.Plan},
		DetectedGreetingStyle: ptr(GreetingCollegial),
		Confidence:            map[Feature]float64{FeatureGreetingStyle: 0.8},
		EditsAnalyzed:         7,
	}
	p := FromAnalysis("user-1", "cardiology", a, now)

	assert.Equal(t, "user-1", p.UserID)
	assert.Equal(t, []sections.Type{sections.History, sections.Plan}, p.SectionOrder)
	assert.Equal(t, GreetingCollegial, p.GreetingStyle)
	assert.Equal(t, 0.8, p.Confidence[FeatureGreetingStyle])
	assert.Equal(t, 7, p.TotalEditsAnalyzed)
	assert.Equal(t, 1.0, p.LearningStrength)
	require.NotNil(t, p.LastAnalyzedAt)
	assert.True(t, p.LastAnalyzedAt.Equal(now))

	viaMerge := Merge(nil, a, now)
	assert.Equal(t, p.SectionOrder, viaMerge.SectionOrder)
	assert.Equal(t, p.TotalEditsAnalyzed, viaMerge.TotalEditsAnalyzed)
}

func TestMerge_ConfidenceWeighting(t *testing.T) {
	existing := existingProfile()
	a := AnalysisResult{
		DetectedGreetingStyle: ptr(GreetingCollegial),
		Confidence:            map[Feature]float64{FeatureGreetingStyle: 0.8},
		EditsAnalyzed:         10,
	}
	merged := Merge(existing, a, now)

	assert.InDelta(t, (0.6*20+0.8*10)/30.0, merged.Confidence[FeatureGreetingStyle], 1e-9)
	assert.InDelta(t, 0.667, merged.Confidence[FeatureGreetingStyle], 0.001)
	assert.Equal(t, GreetingCollegial, merged.GreetingStyle)
}

func TestMerge_EditCountsSum(t *testing.T) {
	for _, n := range []int{0, 1, 10, 50} {
		t.Run(fmt.Sprint(n), func(t *testing.T) {
			existing := existingProfile()
			merged := Merge(existing, AnalysisResult{EditsAnalyzed: n}, now)
			assert.Equal(t, existing.TotalEditsAnalyzed+n, merged.TotalEditsAnalyzed)
		})
	}
}

func TestMerge_AbsentFieldsPreserveExisting(t *testing.T) {
	existing := existingProfile()
	merged := Merge(existing, AnalysisResult{EditsAnalyzed: 10}, now)

	assert.Equal(t, existing.SectionOrder, merged.SectionOrder)
	assert.Equal(t, existing.GreetingStyle, merged.GreetingStyle)
	assert.Equal(t, existing.VocabularyMap, merged.VocabularyMap)
	assert.Equal(t, existing.PhrasingPreferences, merged.PhrasingPreferences)
	assert.Equal(t, existing.Confidence[FeatureGreetingStyle], merged.Confidence[FeatureGreetingStyle])
	assert.Equal(t, 0.8, merged.LearningStrength, "learning strength must carry over")
}

func TestMerge_ConfidenceWithoutValueIsAveraged(t *testing.T) {
	existing := existingProfile()
	merged := Merge(existing, AnalysisResult{
		Confidence: map[Feature]float64{
			FeatureGreetingStyle: 0.2,
			FeatureVocabularyMap: 0.9,
			FeatureClosingStyle:  0.4,
		},
		EditsAnalyzed: 10,
	}, now)

	assert.Equal(t, GreetingFormal, merged.GreetingStyle)
	assert.Equal(t, existing.VocabularyMap, merged.VocabularyMap)
	assert.InDelta(t, (0.6*20+0.2*10)/30.0, merged.Confidence[FeatureGreetingStyle], 1e-9)
	assert.InDelta(t, (0.6*20+0.9*10)/30.0, merged.Confidence[FeatureVocabularyMap], 1e-9)

	// Nothing on the existing side: the incoming confidence is taken as is.
	assert.Equal(t, ClosingStyle(""), merged.ClosingStyle)
	assert.InDelta(t, 0.4, merged.Confidence[FeatureClosingStyle], 1e-9)
	assert.Equal(t, existing.Confidence[FeatureSectionOrder], merged.Confidence[FeatureSectionOrder])
}

func TestMerge_DoesNotMutateExisting(t *testing.T) {
	existing := existingProfile()
	before := existing.Clone()
	Merge(existing, AnalysisResult{
		DetectedVocabularyMap: map[string]string{"tablet": "tab"},
		DetectedSectionOrder:  []sections.Type{sections.Plan},
		Confidence:            map[Feature]float64{FeatureVocabularyMap: 1, FeatureSectionOrder: 1},
		EditsAnalyzed:         5,
	}, now)
	assert.Equal(t, before, existing)
}

func TestMerge_MapsUnionWithIncomingPrecedence(t *testing.T) {
	existing := existingProfile()
	a := AnalysisResult{
		DetectedVocabularyMap: map[string]string{
			"heart attack": "MI",
			"tablet":       "tab",
		},
		DetectedPhrasingPreferences: map[sections.Type][]string{
			sections.Plan:    {"I would be grateful if", "i have arranged"},
			sections.History: {"pleasant gentleman"},
		},
		Confidence:    map[Feature]float64{FeatureVocabularyMap: 0.9, FeaturePhrasingPreferences: 0.9},
		EditsAnalyzed: 10,
	}
	merged := Merge(existing, a, now)

	assert.Equal(t, "MI", merged.VocabularyMap["heart attack"])
	assert.Equal(t, "tab", merged.VocabularyMap["tablet"])

	assert.Equal(t, []string{"I would be grateful if", "i have arranged"}, merged.PhrasingPreferences[sections.Plan],
		"incoming first, case-insensitive duplicates removed")
	assert.Equal(t, []string{"pleasant gentleman"}, merged.PhrasingPreferences[sections.History])
	assert.NotContains(t, merged.AvoidedPhrases, sections.History,
		"a newly preferred phrase leaves the avoided list")
}

func TestMerge_PhraseListsAreCapped(t *testing.T) {
	existing := existingProfile()
	var many []string
	for i := 0; i < 15; i++ {
		many = append(many, fmt.Sprintf("phrase %d", i))
	}
	merged := Merge(existing, AnalysisResult{
		DetectedPhrasingPreferences: map[sections.Type][]string{sections.Plan: many},
		EditsAnalyzed:               3,
	}, now)
	assert.Len(t, merged.PhrasingPreferences[sections.Plan], MaxPhrasesPerSection)
}

func TestMerge_InclusionWeightedAverage(t *testing.T) {
	existing := existingProfile()
	merged := Merge(existing, AnalysisResult{
		DetectedSectionInclusion: map[sections.Type]float64{
			sections.Examination:   0.3,
			sections.SocialHistory: 0.1,
		},
		Confidence:    map[Feature]float64{FeatureSectionInclusion: 0.9},
		EditsAnalyzed: 10,
	}, now)

	assert.InDelta(t, (0.9*20+0.3*10)/30, merged.SectionInclusion[sections.Examination], 1e-9)
	assert.InDelta(t, 0.1, merged.SectionInclusion[sections.SocialHistory], 1e-9)
	assert.InDelta(t, (0.6*20+0.9*10)/30, merged.Confidence[FeatureSectionInclusion], 1e-9)
}

func TestMerge_VerbosityPerSection(t *testing.T) {
	existing := existingProfile()

	weak := Merge(existing, AnalysisResult{
		DetectedSectionVerbosity: map[sections.Type]Verbosity{sections.History: VerbosityDetailed},
		Confidence:               map[Feature]float64{FeatureSectionVerbosity: 0.2},
		EditsAnalyzed:            5,
	}, now)
	assert.Equal(t, VerbosityBrief, weak.SectionVerbosity[sections.History])

	strong := Merge(existing, AnalysisResult{
		DetectedSectionVerbosity: map[sections.Type]Verbosity{sections.History: VerbosityDetailed, sections.Plan: VerbosityBrief},
		Confidence:               map[Feature]float64{FeatureSectionVerbosity: 0.9},
		EditsAnalyzed:            5,
	}, now)
	assert.Equal(t, VerbosityDetailed, strong.SectionVerbosity[sections.History])
	assert.Equal(t, VerbosityBrief, strong.SectionVerbosity[sections.Plan])
}

func TestMerge_ConfidenceStaysInRange(t *testing.T) {
	existing := existingProfile()
	merged := Merge(existing, AnalysisResult{
		DetectedGreetingStyle: ptr(GreetingNone),
		DetectedSectionInclusion: map[sections.Type]float64{
			sections.Plan: 4,
		},
		Confidence: map[Feature]float64{
			FeatureGreetingStyle:    7,
			FeatureSectionInclusion: -2,
			Feature("madeUp"):       0.5,
		},
		EditsAnalyzed: 10,
	}, now)

	for f, c := range merged.Confidence {
		assert.GreaterOrEqual(t, c, 0.0, f)
		assert.LessOrEqual(t, c, 1.0, f)
	}
	assert.NotContains(t, merged.Confidence, Feature("madeUp"))
	assert.LessOrEqual(t, merged.SectionInclusion[sections.Plan], 1.0)
}

func TestSanitize_DropsInvalidValues(t *testing.T) {
	a := AnalysisResult{
		DetectedSectionOrder:     []sections.Type{"plan", "appendix", "plan", "history"},
		DetectedSectionVerbosity: map[sections.Type]Verbosity{sections.Plan: "verbose"},
		DetectedGreetingStyle:    ptr(GreetingStyle("shouty")),
		DetectedSignoffTemplate:  ptr("   "),
		DetectedVocabularyMap:    map[string]string{"BP": "bp", "": "x", "tablet": "tab"},
		EditsAnalyzed:            -3,
	}
	a.Sanitize()

	assert.Equal(t, []sections.Type{sections.Plan, sections.History}, a.DetectedSectionOrder)
	assert.Empty(t, a.DetectedSectionVerbosity)
	assert.Nil(t, a.DetectedGreetingStyle)
	assert.Nil(t, a.DetectedSignoffTemplate)
	assert.Equal(t, map[string]string{"tablet": "tab"}, a.DetectedVocabularyMap)
	assert.Equal(t, 0, a.EditsAnalyzed)
}

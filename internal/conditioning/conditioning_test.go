package conditioning

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeSquared-Agency/quill/internal/profiles"
	"github.com/MikeSquared-Agency/quill/internal/sections"
	"github.com/MikeSquared-Agency/quill/internal/style"
)

func fullProfile() *style.Profile {
	p := style.NewProfile("clin-1", "cardiology")
	p.SectionOrder = []sections.Type{sections.History, sections.Examination, sections.Plan}
	p.SectionVerbosity = map[sections.Type]style.Verbosity{
		sections.Plan:    style.VerbosityBrief,
		sections.History: style.VerbosityDetailed,
	}
	p.SectionInclusion = map[sections.Type]float64{
		sections.Allergies:     0.9,
		sections.FamilyHistory: 0.1,
		sections.Medications:   0.5,
	}
	p.PhrasingPreferences = map[sections.Type][]string{
		sections.Plan: {"I would be grateful if", "Please arrange", "I have requested", "We will review"},
	}
	p.AvoidedPhrases = map[sections.Type][]string{
		sections.Untyped: {"It was a pleasure to see"},
	}
	p.VocabularyMap = map[string]string{}
	for i := 0; i < 10; i++ {
		p.VocabularyMap[fmt.Sprintf("term%02d", i)] = fmt.Sprintf("preferred%02d", i)
	}
	p.GreetingStyle = style.GreetingCollegial
	p.ClosingStyle = style.ClosingWarm
	p.SignoffTemplate = "With best wishes,\n  {name}"
	p.FormalityLevel = style.FormalityFormal
	p.TerminologyLevel = style.TerminologySpecialist
	p.ParagraphStructure = style.ParagraphBullets
	for _, f := range style.Features {
		p.Confidence[f] = 0.8
	}
	p.TotalEditsAnalyzed = 42
	return p
}

func TestBuild(t *testing.T) {
	p := fullProfile()
	p.Confidence[style.FeatureGreetingStyle] = 0.49
	p.Confidence[style.FeatureClosingStyle] = 0.5

	cfg := Build(p, profiles.SourceSubspecialty, Options{})
	assert.False(t, cfg.Enabled[style.FeatureGreetingStyle], "below threshold")
	assert.True(t, cfg.Enabled[style.FeatureClosingStyle], "threshold is inclusive")
	assert.True(t, cfg.Enabled[style.FeatureSectionOrder])

	cfg = Build(p, profiles.SourceSubspecialty, Options{Overrides: map[style.Feature]bool{
		style.FeatureGreetingStyle: true,
		style.FeatureSectionOrder:  false,
	}})
	assert.True(t, cfg.Enabled[style.FeatureGreetingStyle])
	assert.False(t, cfg.Enabled[style.FeatureSectionOrder])

	cfg = Build(p, profiles.SourceSubspecialty, Options{Threshold: 0.9})
	assert.False(t, cfg.Any())
}

func TestBuild_DisabledCases(t *testing.T) {
	p := fullProfile()
	assert.False(t, Build(nil, profiles.SourceSubspecialty, Options{}).Any())
	assert.False(t, Build(p, profiles.SourceDefault, Options{}).Any())

	p.LearningStrength = 0
	cfg := Build(p, profiles.SourceSubspecialty, Options{Overrides: map[style.Feature]bool{style.FeatureGreetingStyle: true}})
	assert.False(t, cfg.Any(), "zero strength disables even overrides")
}

func TestRender(t *testing.T) {
	p := fullProfile()
	out := Render(p, Build(p, profiles.SourceSubspecialty, Options{}))

	require.True(t, strings.HasPrefix(out, Header+"\n\n"))
	for _, want := range []string{
		"Order the sections as: History → Examination → Plan.",
		"Write the History section in detail.",
		"Keep the Plan section brief.",
		"Always include these sections: Allergies.",
		"Leave out these sections unless clinically necessary: Family History.",
		`Preferred phrasing in Plan: "I would be grateful if", "Please arrange", "I have requested".`,
		`Avoid phrasing: "It was a pleasure to see".`,
		`"preferred00" instead of "term00"`,
		"collegial salutation",
		"Close warmly",
		`Sign off using this template: "With best wishes, {name}".`,
		"Keep the tone formal.",
		"specialist medical terminology",
		"bullet or numbered lists",
		"learned from 42 of their edits across this subspecialty (high confidence)",
		"patient safety",
	} {
		assert.Contains(t, out, want)
	}
	assert.NotContains(t, out, "We will review", "phrases are capped at 3 per section")
	assert.NotContains(t, out, "term08", "vocabulary is capped at 8 entries")
	assert.NotContains(t, out, "Medications", "mid-band inclusion is not mentioned")
	assert.Less(t, strings.Index(out, "History section in detail"), strings.Index(out, "Plan section brief"),
		"verbosity follows the preferred section order")
}

func TestRender_ConfidenceTiers(t *testing.T) {
	tests := []struct {
		conf float64
		want string
	}{
		{0.9, "high confidence"},
		{0.6, "moderate confidence"},
	}
	for _, tt := range tests {
		p := fullProfile()
		for _, f := range style.Features {
			p.Confidence[f] = tt.conf
		}
		out := Render(p, Build(p, profiles.SourceSubspecialty, Options{}))
		assert.Contains(t, out, tt.want)
	}

	p := fullProfile()
	for _, f := range style.Features {
		p.Confidence[f] = 0.2
	}
	out := Render(p, Build(p, profiles.SourceSubspecialty, Options{Overrides: map[style.Feature]bool{style.FeatureGreetingStyle: true}}))
	assert.Contains(t, out, "low confidence")
}

func TestRender_GlobalSource(t *testing.T) {
	p := fullProfile()
	out := Render(p, Build(p, profiles.SourceGlobal, Options{}))
	assert.Contains(t, out, "all of this clinician's letters")
}

func TestRender_NothingToSay(t *testing.T) {
	p := style.NewProfile("clin-1", "cardiology")
	p.Confidence[style.FeatureSectionOrder] = 0.9
	assert.Empty(t, Render(p, Build(p, profiles.SourceSubspecialty, Options{})), "enabled feature with no value renders nothing")
	assert.Empty(t, Render(nil, Config{}))
}

func TestApply(t *testing.T) {
	guidance := Header + "\n\n- Keep the Plan section brief."

	t.Run("appends when absent", func(t *testing.T) {
		out := Apply("# Task\nWrite a clinic letter.\n", guidance)
		assert.Equal(t, "# Task\nWrite a clinic letter.\n\n"+guidance+"\n", out)
	})

	t.Run("empty base", func(t *testing.T) {
		assert.Equal(t, guidance+"\n", Apply("", guidance))
	})

	t.Run("replaces up to next heading", func(t *testing.T) {
		base := "# Task\nWrite a clinic letter.\n\n" + Header + "\n\n- Old rule one.\n- Old rule two.\n\n## Output\nReturn plain text.\n"
		out := Apply(base, guidance)
		assert.Equal(t, "# Task\nWrite a clinic letter.\n\n"+guidance+"\n\n## Output\nReturn plain text.\n", out)
		assert.Equal(t, 1, strings.Count(out, Header))
		assert.NotContains(t, out, "Old rule")
	})

	t.Run("replaces to end", func(t *testing.T) {
		base := "# Task\n\n" + Header + "\n- Old rule.\n### Not a top-level heading\nstill old\n"
		out := Apply(base, guidance)
		assert.Equal(t, "# Task\n\n"+guidance+"\n", out)
	})

	t.Run("idempotent", func(t *testing.T) {
		once := Apply("# Task\nWrite.\n", guidance)
		assert.Equal(t, once, Apply(once, guidance))
	})

	t.Run("empty guidance removes stale block", func(t *testing.T) {
		base := "# Task\nWrite.\n\n" + Header + "\n- Old.\n\n## Output\nText.\n"
		out := Apply(base, "")
		assert.Equal(t, "# Task\nWrite.\n\n## Output\nText.\n", out)
	})

	t.Run("empty guidance without block", func(t *testing.T) {
		assert.Equal(t, "# Task\n", Apply("# Task\n", ""))
	})

	t.Run("header text inside a line is not a block", func(t *testing.T) {
		base := "Mention " + Header + " inline.\n"
		out := Apply(base, guidance)
		assert.True(t, strings.HasPrefix(out, base))
		assert.True(t, strings.HasSuffix(out, guidance+"\n"))
	})
}

type fakeResolver struct {
	eff profiles.Effective
	err error
}

func (f fakeResolver) GetEffectiveProfile(context.Context, string, string) (profiles.Effective, error) {
	return f.eff, f.err
}

func TestConditionPrompt(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()
	base := "# Task\nWrite a clinic letter.\n"

	t.Run("subspecialty profile", func(t *testing.T) {
		svc := NewService(fakeResolver{eff: profiles.Effective{Profile: fullProfile(), Source: profiles.SourceSubspecialty}}, Options{}, logger)
		res, err := svc.ConditionPrompt(ctx, "clin-1", "cardiology", base)
		require.NoError(t, err)
		assert.Equal(t, profiles.SourceSubspecialty, res.Source)
		assert.Contains(t, res.Prompt, Header)
		assert.Len(t, res.Applied, len(style.Features))
	})

	t.Run("default source leaves prompt alone", func(t *testing.T) {
		svc := NewService(fakeResolver{eff: profiles.Effective{Source: profiles.SourceDefault}}, Options{}, logger)
		res, err := svc.ConditionPrompt(ctx, "clin-1", "cardiology", base)
		require.NoError(t, err)
		assert.Equal(t, base, res.Prompt)
		assert.Empty(t, res.Applied)
	})

	t.Run("learning strength damps below threshold", func(t *testing.T) {
		p := fullProfile()
		p.LearningStrength = 0.5
		svc := NewService(fakeResolver{eff: profiles.Effective{Profile: p, Source: profiles.SourceSubspecialty}}, Options{}, logger)
		res, err := svc.ConditionPrompt(ctx, "clin-1", "cardiology", base)
		require.NoError(t, err)
		assert.Equal(t, base, res.Prompt, "0.8 confidence at half strength is 0.4")
	})

	t.Run("resolver error", func(t *testing.T) {
		svc := NewService(fakeResolver{err: errors.New("db down")}, Options{}, logger)
		_, err := svc.ConditionPrompt(ctx, "clin-1", "cardiology", base)
		assert.Error(t, err)
	})
}

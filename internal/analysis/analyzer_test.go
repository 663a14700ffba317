package analysis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/MikeSquared-Agency/quill/internal/sections"
	"github.com/MikeSquared-Agency/quill/internal/style"
)

type fakeCompleter struct {
	reply  string
	err    error
	calls  int
	system string
	user   string
}

func (f *fakeCompleter) Complete(_ context.Context, system, user string, _ int) (string, error) {
	f.calls++
	f.system, f.user = system, user
	return f.reply, f.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleEdits(n int) []style.Edit {
	out := make([]style.Edit, n)
	for i := range out {
		out[i] = style.Edit{
			UserID:       "u1",
			Subspecialty: "cardiology",
			SectionType:  sections.Plan,
			EditType:     style.EditModification,
			BeforeText:   fmt.Sprintf("ECG %d.", i),
			AfterText:    fmt.Sprintf("1. ECG %d\n2. Echo.", i),
		}
	}
	return out
}

const fencedReply = "Here is the analysis.\n\n```json\n" + `{
  "detectedSectionOrder": ["history", "examination", "plan"],
  "detectedGreetingStyle": "collegial",
  "detectedVocabularyMap": {"heart attack": "myocardial infarction"},
  "detectedParagraphStructure": "bullets",
  "confidence": {"sectionOrder": 0.7, "greetingStyle": 0.9, "vocabularyMap": 0.6, "paragraphStructure": 0.8},
  "editsAnalyzed": 999,
  "insights": ["Prefers numbered plans."]
}` + "\n```\nLet me know if you need more."

func TestAnalyze_ParsesFencedReply(t *testing.T) {
	llm := &fakeCompleter{reply: fencedReply}
	a := New(llm, 50, testLogger())

	res, err := a.Analyze(context.Background(), "cardiology", sampleEdits(6))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.EditsAnalyzed != 6 {
		t.Errorf("expected EditsAnalyzed 6 (batch size), got %d", res.EditsAnalyzed)
	}
	if res.DetectedGreetingStyle == nil || *res.DetectedGreetingStyle != style.GreetingCollegial {
		t.Errorf("expected collegial greeting, got %v", res.DetectedGreetingStyle)
	}
	if len(res.DetectedSectionOrder) != 3 || res.DetectedSectionOrder[2] != sections.Plan {
		t.Errorf("unexpected section order %v", res.DetectedSectionOrder)
	}
	if res.Confidence[style.FeatureGreetingStyle] != 0.9 {
		t.Errorf("expected greeting confidence 0.9, got %v", res.Confidence[style.FeatureGreetingStyle])
	}
	if res.DetectedTerminologyLevel != nil {
		t.Errorf("missing field should stay nil, got %v", *res.DetectedTerminologyLevel)
	}
	if llm.calls != 1 {
		t.Errorf("expected 1 llm call, got %d", llm.calls)
	}
}

func TestAnalyze_PromptTagsSections(t *testing.T) {
	llm := &fakeCompleter{reply: "{}"}
	a := New(llm, 50, testLogger())

	edits := sampleEdits(2)
	edits[1].SectionType = sections.Untyped
	edits[1].EditType = style.EditAddition
	edits[1].BeforeText = ""

	if _, err := a.Analyze(context.Background(), "cardiology", edits); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{
		"Subspecialty: cardiology",
		"### Edit 1 [section: plan] (modification)",
		"### Edit 2 [section: untitled] (addition)",
		"Before:\n(empty)",
	} {
		if !strings.Contains(llm.user, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
	if !strings.Contains(llm.system, "```json") {
		t.Error("system prompt should request a fenced json block")
	}
}

func TestAnalyze_CapsBatch(t *testing.T) {
	llm := &fakeCompleter{reply: "{}"}
	a := New(llm, 5, testLogger())

	res, err := a.Analyze(context.Background(), "cardiology", sampleEdits(12))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.EditsAnalyzed != 5 {
		t.Errorf("expected 5 edits analyzed, got %d", res.EditsAnalyzed)
	}
	if strings.Contains(llm.user, "### Edit 6 ") {
		t.Error("prompt should hold at most 5 edits")
	}
}

func TestAnalyze_EmptyBatchSkipsCall(t *testing.T) {
	llm := &fakeCompleter{reply: "{}"}
	a := New(llm, 50, testLogger())

	_, err := a.Analyze(context.Background(), "cardiology", nil)
	if !errors.Is(err, ErrNoEdits) {
		t.Fatalf("expected ErrNoEdits, got %v", err)
	}
	if llm.calls != 0 {
		t.Errorf("expected no llm call, got %d", llm.calls)
	}
}

func TestAnalyze_TransportError(t *testing.T) {
	llm := &fakeCompleter{err: errors.New("timeout")}
	a := New(llm, 50, testLogger())

	if _, err := a.Analyze(context.Background(), "cardiology", sampleEdits(1)); err == nil {
		t.Fatal("expected error")
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
		check   func(t *testing.T, res style.AnalysisResult)
	}{
		{
			name: "bare object",
			raw:  `{"detectedFormalityLevel": "formal", "confidence": {"formalityLevel": 0.6}}`,
			check: func(t *testing.T, res style.AnalysisResult) {
				if res.DetectedFormalityLevel == nil || *res.DetectedFormalityLevel != style.FormalityFormal {
					t.Errorf("expected formal, got %v", res.DetectedFormalityLevel)
				}
			},
		},
		{
			name: "object wrapped in prose without fence",
			raw:  `Sure. {"detectedClosingStyle": "warm"} Hope that helps.`,
			check: func(t *testing.T, res style.AnalysisResult) {
				if res.DetectedClosingStyle == nil || *res.DetectedClosingStyle != style.ClosingWarm {
					t.Errorf("expected warm, got %v", res.DetectedClosingStyle)
				}
			},
		},
		{
			name: "unlabelled fence",
			raw:  "```\n{\"detectedTerminologyLevel\": \"specialist\"}\n```",
			check: func(t *testing.T, res style.AnalysisResult) {
				if res.DetectedTerminologyLevel == nil || *res.DetectedTerminologyLevel != style.TerminologySpecialist {
					t.Errorf("expected specialist, got %v", res.DetectedTerminologyLevel)
				}
			},
		},
		{
			name: "invalid values are dropped",
			raw:  `{"detectedGreetingStyle": "yo", "detectedSectionVerbosity": {"plan": "brief", "bogus": "brief"}, "confidence": {"greetingStyle": 1.4, "mood": 0.5}}`,
			check: func(t *testing.T, res style.AnalysisResult) {
				if res.DetectedGreetingStyle != nil {
					t.Errorf("invalid greeting should be dropped, got %v", *res.DetectedGreetingStyle)
				}
				if len(res.DetectedSectionVerbosity) != 1 {
					t.Errorf("expected only plan verbosity, got %v", res.DetectedSectionVerbosity)
				}
				if res.Confidence[style.FeatureGreetingStyle] != 1 {
					t.Errorf("confidence should clamp to 1, got %v", res.Confidence[style.FeatureGreetingStyle])
				}
				if _, ok := res.Confidence["mood"]; ok {
					t.Error("unknown feature should be dropped")
				}
			},
		},
		{name: "no json", raw: "I could not analyse these edits.", wantErr: true},
		{name: "broken json", raw: "```json\n{\"detectedSectionOrder\": [\n```", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Parse(tt.raw)
			if tt.wantErr {
				if !errors.Is(err, ErrUnparseable) {
					t.Fatalf("expected ErrUnparseable, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			tt.check(t, res)
		})
	}
}

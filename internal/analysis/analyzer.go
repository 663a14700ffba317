// Package analysis asks a language model to infer style preferences from a
// batch of recorded edits and parses its structured answer.
package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/MikeSquared-Agency/quill/internal/sections"
	"github.com/MikeSquared-Agency/quill/internal/style"
)

var (
	// ErrUnparseable is returned when the reply has no decodable JSON object.
	ErrUnparseable = errors.New("analysis response could not be parsed")
	// ErrNoEdits is returned for an empty batch. Callers skip the call instead.
	ErrNoEdits = errors.New("no edits to analyze")
)

// DefaultMaxEdits bounds the batch embedded in one prompt.
const DefaultMaxEdits = 50

const maxTokens = 4096

// Completer is the text-completion transport.
type Completer interface {
	Complete(ctx context.Context, system, user string, maxTokens int) (string, error)
}

type Analyzer struct {
	llm      Completer
	maxEdits int
	logger   *slog.Logger
}

func New(llm Completer, maxEdits int, logger *slog.Logger) *Analyzer {
	if maxEdits <= 0 {
		maxEdits = DefaultMaxEdits
	}
	return &Analyzer{llm: llm, maxEdits: maxEdits, logger: logger}
}

// Analyze sends up to maxEdits edits for analysis. EditsAnalyzed in the
// result is the number of edits sent, whatever the model reports.
func (a *Analyzer) Analyze(ctx context.Context, subspecialty string, edits []style.Edit) (style.AnalysisResult, error) {
	if len(edits) == 0 {
		return style.AnalysisResult{}, ErrNoEdits
	}
	if len(edits) > a.maxEdits {
		edits = edits[:a.maxEdits]
	}

	a.logger.Info("analyzing edits",
		"subspecialty", subspecialty,
		"edits", len(edits),
	)

	raw, err := a.llm.Complete(ctx, systemPrompt, BuildPrompt(subspecialty, edits), maxTokens)
	if err != nil {
		return style.AnalysisResult{}, fmt.Errorf("llm analysis: %w", err)
	}

	res, err := Parse(raw)
	if err != nil {
		a.logger.Error("failed to parse analysis response",
			"error", err,
			"response_len", len(raw),
		)
		return style.AnalysisResult{}, err
	}
	res.EditsAnalyzed = len(edits)

	a.logger.Info("analysis complete",
		"subspecialty", subspecialty,
		"edits", res.EditsAnalyzed,
		"features", len(res.Confidence),
		"insights", len(res.Insights),
	)
	return res, nil
}

// BuildPrompt renders the user message for a batch of edits.
func BuildPrompt(subspecialty string, edits []style.Edit) string {
	if subspecialty == "" {
		subspecialty = "general"
	}
	var b strings.Builder
	fmt.Fprintf(&b, userPromptHeader, subspecialty, len(edits))
	for i, e := range edits {
		section := string(e.SectionType)
		if e.SectionType == sections.Untyped {
			section = "untitled"
		}
		fmt.Fprintf(&b, "### Edit %d [section: %s] (%s)\n", i+1, section, e.EditType)
		fmt.Fprintf(&b, "Before:\n%s\n\nAfter:\n%s\n\n", orNone(e.BeforeText), orNone(e.AfterText))
	}
	return b.String()
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "(empty)"
	}
	return s
}

// Parse extracts the analysis object from a model reply. It prefers a
// fenced json block and falls back to the outermost braces. Missing fields
// stay empty; invalid values are dropped by Sanitize.
func Parse(raw string) (style.AnalysisResult, error) {
	body, ok := extractJSON(raw)
	if !ok {
		return style.AnalysisResult{}, ErrUnparseable
	}
	var res style.AnalysisResult
	if err := json.Unmarshal([]byte(body), &res); err != nil {
		return style.AnalysisResult{}, fmt.Errorf("%w: %v", ErrUnparseable, err)
	}
	res.Sanitize()
	return res, nil
}

func extractJSON(raw string) (string, bool) {
	if block, ok := fenced(raw); ok {
		return block, true
	}
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return raw[start : end+1], true
}

func fenced(raw string) (string, bool) {
	for _, marker := range []string{"```json", "```JSON", "```"} {
		i := strings.Index(raw, marker)
		if i < 0 {
			continue
		}
		rest := raw[i+len(marker):]
		j := strings.Index(rest, "```")
		if j < 0 {
			continue
		}
		block := strings.TrimSpace(rest[:j])
		if strings.HasPrefix(block, "{") {
			return block, true
		}
	}
	return "", false
}

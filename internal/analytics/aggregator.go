// Package analytics builds population-level style statistics from many
// clinicians' edits. Text is redacted before it is counted, and nothing is
// written for a cohort too small to hide any one clinician.
package analytics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/quill/internal/audit"
	"github.com/MikeSquared-Agency/quill/internal/diff"
	"github.com/MikeSquared-Agency/quill/internal/metrics"
	"github.com/MikeSquared-Agency/quill/internal/sections"
	"github.com/MikeSquared-Agency/quill/internal/style"
)

// Thresholds are the privacy gates and output limits of a run.
type Thresholds struct {
	MinClinicians int
	MinEdits      int
	MaxPatterns   int
	MinFrequency  int
}

var DefaultThresholds = Thresholds{
	MinClinicians: 5,
	MinEdits:      50,
	MaxPatterns:   20,
	MinFrequency:  3,
}

type Store interface {
	EditsInWindow(ctx context.Context, subspecialty string, from, to time.Time) ([]style.Edit, error)
	Subspecialties(ctx context.Context, from, to time.Time) ([]string, error)
	UpsertAggregatedPattern(ctx context.Context, p *style.AggregatedPattern) error
}

type Aggregator struct {
	store  Store
	audit  *audit.Logger
	th     Thresholds
	logger *slog.Logger
}

func New(s Store, a *audit.Logger, th Thresholds, logger *slog.Logger) *Aggregator {
	if th.MaxPatterns <= 0 {
		th.MaxPatterns = DefaultThresholds.MaxPatterns
	}
	if th.MinFrequency <= 0 {
		th.MinFrequency = 1
	}
	return &Aggregator{store: s, audit: a, th: th, logger: logger}
}

// Period names the ISO week containing t, e.g. "2026-W42".
func Period(t time.Time) string {
	year, week := t.UTC().ISOWeek()
	return fmt.Sprintf("%d-W%02d", year, week)
}

// Aggregate computes and stores the pattern statistics for one subspecialty
// over [from, to). It returns nil and writes nothing when the window has
// fewer clinicians or edits than the thresholds require.
func (a *Aggregator) Aggregate(ctx context.Context, subspecialty, period string, from, to time.Time) (*style.AggregatedPattern, error) {
	edits, err := a.store.EditsInWindow(ctx, subspecialty, from, to)
	if err != nil {
		metrics.AggregationRuns.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("load edits: %w", err)
	}

	p := Compute(edits, a.th)
	if p == nil {
		metrics.AggregationRuns.WithLabelValues("gated").Inc()
		a.logger.Info("aggregation below privacy threshold",
			"subspecialty", subspecialty,
			"period", period,
			"edits", len(edits),
			"clinicians", clinicianCount(edits),
		)
		return nil, nil
	}
	p.Subspecialty = subspecialty
	p.Period = period

	if err := a.store.UpsertAggregatedPattern(ctx, p); err != nil {
		metrics.AggregationRuns.WithLabelValues("failed").Inc()
		return nil, err
	}
	metrics.AggregationRuns.WithLabelValues("written").Inc()

	a.audit.Record(ctx, audit.ActionPatternsStored, "", p.ID.String(), map[string]any{
		"subspecialty": subspecialty,
		"period":       period,
		"sample_size":  p.SampleSize,
		"clinicians":   p.ClinicianCount,
	})
	a.logger.Info("patterns aggregated",
		"subspecialty", subspecialty,
		"period", period,
		"sample_size", p.SampleSize,
		"clinicians", p.ClinicianCount,
	)
	return p, nil
}

// AggregateAll runs Aggregate for every subspecialty with edits in the
// window and returns how many aggregates were written. A failure for one
// subspecialty does not stop the others.
func (a *Aggregator) AggregateAll(ctx context.Context, period string, from, to time.Time) (int, error) {
	subs, err := a.store.Subspecialties(ctx, from, to)
	if err != nil {
		return 0, fmt.Errorf("list subspecialties: %w", err)
	}
	var (
		written int
		errs    []error
	)
	for _, sub := range subs {
		p, err := a.Aggregate(ctx, sub, period, from, to)
		if err != nil {
			a.logger.Error("aggregation failed", "subspecialty", sub, "period", period, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", sub, err))
			continue
		}
		if p != nil {
			written++
		}
	}
	return written, errors.Join(errs...)
}

// Compute builds an aggregate from edits, or returns nil when the privacy
// gates are not met. Subspecialty and period are left for the caller.
func Compute(edits []style.Edit, th Thresholds) *style.AggregatedPattern {
	clinicians := clinicianCount(edits)
	if clinicians < th.MinClinicians || len(edits) < th.MinEdits {
		return nil
	}

	var additions, deletions, phrasing counter
	for _, e := range edits {
		for _, c := range diff.SentenceChanges(e.BeforeText, e.AfterText) {
			switch c.Type {
			case diff.ChangeAddition:
				additions.add(c.Modified, e.SectionType)
			case diff.ChangeDeletion:
				deletions.add(c.Original, e.SectionType)
			case diff.ChangeModification:
				before, ok := Phrase(c.Original)
				if !ok {
					continue
				}
				after, ok := Phrase(c.Modified)
				if !ok {
					continue
				}
				phrasing.addClean(before+" → "+after, e.SectionType)
			}
		}
	}

	return &style.AggregatedPattern{
		CommonAdditions:      additions.top(th),
		CommonDeletions:      deletions.top(th),
		SectionOrderPatterns: sectionOrders(edits).top(th),
		PhrasingPatterns:     phrasing.top(th),
		SampleSize:           len(edits),
		ClinicianCount:       clinicians,
	}
}

// sectionOrders counts, per letter, the sequence of section types the
// clinician edited.
func sectionOrders(edits []style.Edit) *counter {
	type letterKey struct{ user, letter string }
	var (
		keys  []letterKey
		types = map[letterKey][]sections.Type{}
	)
	for _, e := range edits {
		k := letterKey{e.UserID, e.LetterID}
		if _, ok := types[k]; !ok {
			keys = append(keys, k)
		}
		types[k] = append(types[k], e.SectionType)
	}

	c := &counter{}
	for _, k := range keys {
		var names []string
		for _, t := range types[k] {
			if t == sections.Untyped {
				continue
			}
			if n := len(names); n > 0 && names[n-1] == string(t) {
				continue
			}
			names = append(names, string(t))
		}
		if len(names) < 2 {
			continue
		}
		c.addClean(strings.Join(names, " → "), sections.Untyped)
	}
	return c
}

func clinicianCount(edits []style.Edit) int {
	seen := map[string]struct{}{}
	for _, e := range edits {
		seen[e.UserID] = struct{}{}
	}
	return len(seen)
}

type tally struct {
	pattern string
	section sections.Type
	count   int
}

// counter tallies phrases case-insensitively, keeping the first spelling
// seen.
type counter struct {
	byKey map[string]*tally
}

func (c *counter) add(raw string, section sections.Type) {
	if p, ok := Phrase(raw); ok {
		c.addClean(p, section)
	}
}

func (c *counter) addClean(p string, section sections.Type) {
	if c.byKey == nil {
		c.byKey = map[string]*tally{}
	}
	key := string(section) + "\x00" + strings.ToLower(p)
	t, ok := c.byKey[key]
	if !ok {
		t = &tally{pattern: p, section: section}
		c.byKey[key] = t
	}
	t.count++
}

func (c *counter) top(th Thresholds) []style.PatternCount {
	out := []style.PatternCount{}
	for _, t := range c.byKey {
		if t.count < th.MinFrequency {
			continue
		}
		out = append(out, style.PatternCount{Pattern: t.pattern, SectionType: t.section, Count: t.count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		if out[i].Pattern != out[j].Pattern {
			return out[i].Pattern < out[j].Pattern
		}
		return out[i].SectionType < out[j].SectionType
	})
	if th.MaxPatterns > 0 && len(out) > th.MaxPatterns {
		out = out[:th.MaxPatterns]
	}
	return out
}

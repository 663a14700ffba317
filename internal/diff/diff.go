// Package diff compares a generated letter draft with the version a clinician
// finalized. It aligns the two section sequences by type and reports
// per-section and sentence-level changes. Everything here is pure and safe
// for concurrent use.
package diff

import (
	"github.com/MikeSquared-Agency/quill/internal/sections"
)

type Status string

const (
	StatusAdded     Status = "added"
	StatusRemoved   Status = "removed"
	StatusModified  Status = "modified"
	StatusUnchanged Status = "unchanged"
)

type ChangeType string

const (
	ChangeAddition     ChangeType = "addition"
	ChangeDeletion     ChangeType = "deletion"
	ChangeModification ChangeType = "modification"
)

// Change is one sentence-level edit inside a section.
type Change struct {
	Type      ChangeType `json:"type"`
	Original  string     `json:"original,omitempty"`
	Modified  string     `json:"modified,omitempty"`
	CharDelta int        `json:"charDelta"`
	WordDelta int        `json:"wordDelta"`
	Position  int        `json:"position"`
}

// SectionDiff describes how one section changed between draft and final.
type SectionDiff struct {
	SectionType    sections.Type `json:"sectionType"`
	DraftContent   string        `json:"draftContent"`
	FinalContent   string        `json:"finalContent"`
	Status         Status        `json:"status"`
	Similarity     float64       `json:"similarity"`
	Changes        []Change      `json:"changes"`
	TotalCharDelta int           `json:"totalCharDelta"`
	TotalWordDelta int           `json:"totalWordDelta"`
}

// LetterDiff is the whole-letter comparison.
type LetterDiff struct {
	Subspecialty        string          `json:"subspecialty,omitempty"`
	Sections            []SectionDiff   `json:"sections"`
	SectionsAdded       int             `json:"sectionsAdded"`
	SectionsRemoved     int             `json:"sectionsRemoved"`
	SectionsModified    int             `json:"sectionsModified"`
	SectionsUnchanged   int             `json:"sectionsUnchanged"`
	TotalCharDelta      int             `json:"totalCharDelta"`
	TotalWordDelta      int             `json:"totalWordDelta"`
	SectionOrderChanged bool            `json:"sectionOrderChanged"`
	DraftOrder          []sections.Type `json:"draftOrder"`
	FinalOrder          []sections.Type `json:"finalOrder"`
}

// HasChanges reports whether any section was added, removed or modified.
func (d LetterDiff) HasChanges() bool {
	return d.SectionsAdded+d.SectionsRemoved+d.SectionsModified > 0
}

// Analyze parses and compares draft and final letter text. Empty or
// unparseable input yields an empty diff, never an error.
func Analyze(draft, final, subspecialty string) LetterDiff {
	out := CompareSections(sections.Parse(draft), sections.Parse(final))
	out.Subspecialty = subspecialty
	return out
}

// CompareSections diffs two already-parsed section sequences. Sections are
// reported in final order, followed by draft sections that were removed.
func CompareSections(draft, final []sections.Section) LetterDiff {
	pairs := align(draft, final)

	out := LetterDiff{
		Sections:   make([]SectionDiff, 0, len(final)+len(draft)),
		DraftOrder: sections.Types(draft),
		FinalOrder: sections.Types(final),
	}

	draftFor := make([]int, len(final))
	for i := range draftFor {
		draftFor[i] = -1
	}
	for di, fi := range pairs {
		if fi >= 0 {
			draftFor[fi] = di
		}
	}

	for fi, f := range final {
		var sd SectionDiff
		if di := draftFor[fi]; di >= 0 {
			sd = compareSection(draft[di], f)
		} else {
			sd = addedSection(f)
		}
		out.add(sd)
	}
	for di, fi := range pairs {
		if fi < 0 {
			out.add(removedSection(draft[di]))
		}
	}

	out.SectionOrderChanged = orderChanged(pairs)
	return out
}

func (d *LetterDiff) add(sd SectionDiff) {
	d.Sections = append(d.Sections, sd)
	d.TotalCharDelta += sd.TotalCharDelta
	d.TotalWordDelta += sd.TotalWordDelta
	switch sd.Status {
	case StatusAdded:
		d.SectionsAdded++
	case StatusRemoved:
		d.SectionsRemoved++
	case StatusModified:
		d.SectionsModified++
	default:
		d.SectionsUnchanged++
	}
}

// align pairs each draft section with the first unconsumed final section
// of the same type, scanning the final letter in order. The result maps
// draft index to final index, or -1 when the draft section has no partner.
func align(draft, final []sections.Section) []int {
	pairs := make([]int, len(draft))
	consumed := make([]bool, len(final))
	for di, d := range draft {
		pairs[di] = -1
		for fi, f := range final {
			if consumed[fi] || f.Type != d.Type {
				continue
			}
			pairs[di] = fi
			consumed[fi] = true
			break
		}
	}
	return pairs
}

// orderChanged reports whether paired sections appear in a different
// relative order in the final letter.
func orderChanged(pairs []int) bool {
	last := -1
	for _, fi := range pairs {
		if fi < 0 {
			continue
		}
		if fi < last {
			return true
		}
		last = fi
	}
	return false
}

func compareSection(d, f sections.Section) SectionDiff {
	dt, ft := Tokens(d.Content), Tokens(f.Content)
	sd := SectionDiff{
		SectionType:    f.Type,
		DraftContent:   d.Content,
		FinalContent:   f.Content,
		Similarity:     tokenSimilarity(dt, ft),
		Changes:        []Change{},
		TotalCharDelta: charDelta(d.Content, f.Content),
		TotalWordDelta: wordDelta(d.Content, f.Content),
	}
	if sameTokens(dt, ft) {
		sd.Status = StatusUnchanged
		return sd
	}
	sd.Status = StatusModified
	if changes := SentenceChanges(d.Content, f.Content); changes != nil {
		sd.Changes = changes
	}
	return sd
}

func addedSection(f sections.Section) SectionDiff {
	sd := SectionDiff{
		SectionType:    f.Type,
		FinalContent:   f.Content,
		Status:         StatusAdded,
		Changes:        []Change{},
		TotalCharDelta: charDelta("", f.Content),
		TotalWordDelta: wordDelta("", f.Content),
	}
	if f.Content != "" {
		sd.Changes = append(sd.Changes, Change{
			Type:      ChangeAddition,
			Modified:  f.Content,
			CharDelta: sd.TotalCharDelta,
			WordDelta: sd.TotalWordDelta,
		})
	}
	return sd
}

func removedSection(d sections.Section) SectionDiff {
	sd := SectionDiff{
		SectionType:    d.Type,
		DraftContent:   d.Content,
		Status:         StatusRemoved,
		Changes:        []Change{},
		TotalCharDelta: charDelta(d.Content, ""),
		TotalWordDelta: wordDelta(d.Content, ""),
	}
	if d.Content != "" {
		sd.Changes = append(sd.Changes, Change{
			Type:      ChangeDeletion,
			Original:  d.Content,
			CharDelta: sd.TotalCharDelta,
			WordDelta: sd.TotalWordDelta,
		})
	}
	return sd
}

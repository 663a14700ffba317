package sections

import (
	"regexp"
	"strings"
)

// maxHeadingLen bounds how long a line may be and still count as a heading.
// Longer lines are prose even when they start with a salutation.
const maxHeadingLen = 80

// Section is one contiguous region of a letter.
type Section struct {
	Type    Type   `json:"type"`
	Header  string `json:"header,omitempty"`
	Content string `json:"content"`
	// StartIndex and EndIndex are byte offsets into the parsed text.
	StartIndex int `json:"start_index"`
	EndIndex   int `json:"end_index"`
}

var (
	inlineHeading = regexp.MustCompile(`^(?:#+\s*)?[*_]*([A-Za-z][A-Za-z/ &'-]{0,40}?)[*_]*\s*:[*_]*\s*(\S.*)$`)
	spaceRun      = regexp.MustCompile(`\s+`)
)

// Parse splits letter text into ordered sections. It never fails: text with
// no recognisable headings yields a single untyped section, and blank input
// yields none.
func Parse(text string) []Section {
	var (
		out     []Section
		cur     *Section
		body    []string
		offset  int
		lastEnd int
	)

	flush := func() {
		if cur == nil {
			return
		}
		cur.Content = strings.TrimSpace(strings.Join(body, "\n"))
		cur.EndIndex = lastEnd
		if cur.Type != Untyped || cur.Content != "" {
			out = append(out, *cur)
		}
		cur = nil
		body = nil
	}

	for _, line := range strings.SplitAfter(text, "\n") {
		start := offset
		offset += len(line)
		raw := strings.TrimRight(line, "\r\n")
		trimmed := strings.TrimSpace(raw)
		lineEnd := start + len(raw)

		if trimmed == "" {
			if cur != nil {
				body = append(body, "")
			}
			continue
		}

		if typ, rest, ok := detectHeading(trimmed); ok {
			flush()
			cur = &Section{Type: typ, Header: trimmed, StartIndex: start}
			if rest != "" {
				body = append(body, rest)
			}
			lastEnd = lineEnd
			continue
		}

		if cur == nil {
			cur = &Section{Type: Untyped, StartIndex: start}
		}
		body = append(body, trimmed)
		lastEnd = lineEnd
	}
	flush()
	return out
}

// Types returns the section types of secs in order.
func Types(secs []Section) []Type {
	out := make([]Type, 0, len(secs))
	for _, s := range secs {
		out = append(out, s.Type)
	}
	return out
}

// detectHeading reports whether line is a section heading. For inline
// headings ("Plan: repeat ECG") rest carries the text after the colon.
func detectHeading(line string) (Type, string, bool) {
	if len(line) <= maxHeadingLen {
		if typ, ok := classify(normalizeHeading(line), false); ok {
			return typ, "", true
		}
	}
	m := inlineHeading.FindStringSubmatch(line)
	if m == nil {
		return Untyped, "", false
	}
	if typ, ok := classify(normalizeHeading(m[1]), true); ok {
		return typ, strings.TrimSpace(m[2]), true
	}
	return Untyped, "", false
}

func normalizeHeading(s string) string {
	s = strings.TrimLeft(s, "#")
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "*_")
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, ":")
	s = strings.Trim(s, "*_ ")
	s = strings.TrimSuffix(s, ":")
	return spaceRun.ReplaceAllString(strings.TrimSpace(s), " ")
}

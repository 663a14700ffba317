package diff

import (
	"sort"
	"strings"
	"unicode"
)

// sentenceMatchThreshold is the minimum similarity for a draft and final
// sentence to be treated as one edited sentence rather than a deletion plus
// an addition.
const sentenceMatchThreshold = 0.5

var abbreviations = map[string]bool{
	"dr": true, "mr": true, "mrs": true, "ms": true, "prof": true, "st": true,
	"e.g": true, "i.e": true, "vs": true, "approx": true,
}

// SplitSentences breaks text into sentences on terminal punctuation followed
// by whitespace and on line breaks. Titles ("Dr."), latin abbreviations and
// list markers ("1.") do not end a sentence.
func SplitSentences(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		out = append(out, splitLine(line)...)
	}
	return out
}

func splitLine(line string) []string {
	var out []string
	runes := []rune(line)
	start := 0
	for i, r := range runes {
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		if i+1 < len(runes) && !unicode.IsSpace(runes[i+1]) {
			continue
		}
		if r == '.' && protectedStop(string(runes[start:i])) {
			continue
		}
		if s := strings.TrimSpace(string(runes[start : i+1])); s != "" {
			out = append(out, s)
		}
		start = i + 1
	}
	if s := strings.TrimSpace(string(runes[start:])); s != "" {
		out = append(out, s)
	}
	return out
}

// protectedStop reports whether a full stop after prefix belongs to the word
// before it rather than ending the sentence.
func protectedStop(prefix string) bool {
	fields := strings.Fields(prefix)
	if len(fields) == 0 {
		return false
	}
	word := strings.TrimLeft(fields[len(fields)-1], "([\"'")
	if abbreviations[strings.ToLower(word)] {
		return true
	}
	// "1." or "b." opening a list item.
	if len(fields) == 1 && len(word) <= 2 && isListMarker(word) {
		return true
	}
	// Initials: "J. Smith".
	r := []rune(word)
	return len(r) == 1 && unicode.IsUpper(r[0])
}

func isListMarker(word string) bool {
	allDigits := true
	for _, r := range word {
		if !unicode.IsDigit(r) {
			allDigits = false
		}
	}
	if allDigits {
		return true
	}
	r := []rune(word)
	return len(r) == 1 && unicode.IsLetter(r[0])
}

type sentence struct {
	text   string
	tokens []string
}

func toSentences(text string) []sentence {
	parts := SplitSentences(text)
	out := make([]sentence, len(parts))
	for i, p := range parts {
		out[i] = sentence{text: p, tokens: Tokens(p)}
	}
	return out
}

// SentenceChanges aligns the sentences of two versions of one section by
// content similarity and reports what was added, removed or rewritten.
// Position is the sentence index in the final text, or in the draft for
// deletions.
func SentenceChanges(draft, final string) []Change {
	ds := toSentences(draft)
	fs := toSentences(final)
	matched := make([]int, len(ds))
	used := make([]bool, len(fs))

	for i, d := range ds {
		matched[i] = -1
		best, bestScore := -1, 0.0
		for j, f := range fs {
			if used[j] {
				continue
			}
			score := tokenSimilarity(d.tokens, f.tokens)
			if score > bestScore {
				best, bestScore = j, score
			}
		}
		if best >= 0 && bestScore >= sentenceMatchThreshold {
			matched[i] = best
			used[best] = true
		}
	}

	var changes []Change
	for i, d := range ds {
		j := matched[i]
		if j < 0 {
			changes = append(changes, Change{
				Type:      ChangeDeletion,
				Original:  d.text,
				CharDelta: charDelta(d.text, ""),
				WordDelta: wordDelta(d.text, ""),
				Position:  i,
			})
			continue
		}
		f := fs[j]
		if sameTokens(d.tokens, f.tokens) {
			continue
		}
		changes = append(changes, Change{
			Type:      ChangeModification,
			Original:  d.text,
			Modified:  f.text,
			CharDelta: charDelta(d.text, f.text),
			WordDelta: wordDelta(d.text, f.text),
			Position:  j,
		})
	}
	for j, f := range fs {
		if used[j] {
			continue
		}
		changes = append(changes, Change{
			Type:      ChangeAddition,
			Modified:  f.text,
			CharDelta: charDelta("", f.text),
			WordDelta: wordDelta("", f.text),
			Position:  j,
		})
	}

	sort.SliceStable(changes, func(a, b int) bool {
		return changes[a].Position < changes[b].Position
	})
	return changes
}

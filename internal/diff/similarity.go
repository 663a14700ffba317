package diff

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Tokens lowercases text and splits it into runs of letters and digits.
// Punctuation, case and whitespace never produce a token.
func Tokens(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Similarity is the Dice coefficient over the token multisets of a and b:
// 1.0 when they differ only in case, whitespace or punctuation and 0.0 when
// they share no vocabulary. Two empty texts are identical.
func Similarity(a, b string) float64 {
	return tokenSimilarity(Tokens(a), Tokens(b))
}

func tokenSimilarity(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	counts := make(map[string]int, len(a))
	for _, t := range a {
		counts[t]++
	}
	shared := 0
	for _, t := range b {
		if counts[t] > 0 {
			counts[t]--
			shared++
		}
	}
	return 2 * float64(shared) / float64(len(a)+len(b))
}

func sameTokens(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func charDelta(before, after string) int {
	return utf8.RuneCountInString(after) - utf8.RuneCountInString(before)
}

func wordDelta(before, after string) int {
	return len(strings.Fields(after)) - len(strings.Fields(before))
}

package analytics

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Token replaces every redacted span.
const Token = "[REDACTED]"

const minPhraseLen = 5

type phiPattern struct {
	name string
	re   *regexp.Regexp
	// keep, when set, rejects a match that the expression over-approximates.
	keep func(match string) bool
}

const months = `(?:Jan(?:uary)?|Feb(?:ruary)?|Mar(?:ch)?|Apr(?:il)?|May|June?|July?|Aug(?:ust)?|Sep(?:t(?:ember)?)?|Oct(?:ober)?|Nov(?:ember)?|Dec(?:ember)?)`

// Order matters: identifiers with their own punctuation go before the
// looser digit runs.
var phiPatterns = []phiPattern{
	{name: "email", re: regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)},
	{name: "mrn", re: regexp.MustCompile(`(?i)\b(?:MRN|NHS\s+(?:number|no\.?)|hospital\s+(?:number|no\.?))\s*[:#]?\s*[A-Z]{0,3}\d[\d\- ]{2,}\d\b`)},
	{name: "titled_name", re: regexp.MustCompile(`\b(?:Mr|Mrs|Ms|Miss|Dr|Prof|Professor|Master|Mx)\.?\s+[A-Z][A-Za-z'\-]+(?:\s+[A-Z][A-Za-z'\-]+){0,2}`)},
	{name: "date_iso", re: regexp.MustCompile(`\b\d{4}-\d{1,2}-\d{1,2}\b`)},
	{name: "date_numeric", re: regexp.MustCompile(`\b\d{1,2}[/.\-]\d{1,2}[/.\-]\d{2,4}\b`)},
	{name: "date_day_month", re: regexp.MustCompile(`(?i)\b\d{1,2}(?:st|nd|rd|th)?\s+(?:of\s+)?` + months + `\.?,?\s+\d{2,4}\b`)},
	{name: "date_month_day", re: regexp.MustCompile(`(?i)\b` + months + `\.?\s+\d{1,2}(?:st|nd|rd|th)?,?\s+\d{4}\b`)},
	{name: "nhs_number", re: regexp.MustCompile(`\b\d{3}[ \-]?\d{3}[ \-]?\d{4}\b`)},
	// Phone numbers carry a trunk 0 or an international prefix, so bare
	// runs of results such as "60 80 90 100" stay.
	{name: "phone", re: regexp.MustCompile(`(?:\+\d{1,3}[ \-]?(?:\(0\)[ \-]?)?|\(0|\b0)\d[\d ()\-]{6,}\d`), keep: func(m string) bool {
		return countDigits(m) >= 9
	}},
	{name: "street_address", re: regexp.MustCompile(`\b\d{1,5}[A-Za-z]?,?\s+(?:[A-Z][A-Za-z'\-]+\s+){1,3}(?:Street|St|Road|Rd|Avenue|Ave|Lane|Ln|Drive|Close|Way|Court|Crescent|Place|Terrace|Gardens|Grove|Boulevard|Square|Hill|Row|Walk)\b\.?`)},
	{name: "postcode", re: regexp.MustCompile(`\b[A-Z]{1,2}\d[A-Z\d]?\s*\d[A-Z]{2}\b`)},
}

var repeatedTokens = regexp.MustCompile(regexp.QuoteMeta(Token) + `(?:[\s,;/]*` + regexp.QuoteMeta(Token) + `)+`)

// Redact replaces identifying spans in s with Token. Adjacent tokens are
// collapsed into one. Text without identifiers comes back unchanged.
func Redact(s string) string {
	for _, p := range phiPatterns {
		if p.keep == nil {
			s = p.re.ReplaceAllString(s, Token)
			continue
		}
		keep := p.keep
		s = p.re.ReplaceAllStringFunc(s, func(m string) string {
			if keep(m) {
				return Token
			}
			return m
		})
	}
	return repeatedTokens.ReplaceAllString(s, Token)
}

// ContainsPHI reports whether any identifier pattern matches s.
func ContainsPHI(s string) bool {
	for _, p := range phiPatterns {
		for _, m := range p.re.FindAllString(s, -1) {
			if p.keep == nil || p.keep(m) {
				return true
			}
		}
	}
	return false
}

// Phrase redacts a candidate phrase and reports whether it is fit to enter
// an aggregate. Phrases shorter than five characters, phrases that are
// nothing but redaction tokens, and phrases that still look identifying
// after redaction are dropped.
func Phrase(s string) (string, bool) {
	out := strings.Join(strings.Fields(Redact(s)), " ")
	if utf8.RuneCountInString(out) < minPhraseLen {
		return "", false
	}
	rest := strings.TrimFunc(strings.ReplaceAll(out, Token, ""), func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r)
	})
	if rest == "" {
		return "", false
	}
	if ContainsPHI(out) {
		return "", false
	}
	return out, true
}

func countDigits(s string) int {
	n := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			n++
		}
	}
	return n
}

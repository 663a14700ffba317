package sections

import "regexp"

// Type identifies the clinical or structural role of a letter section.
type Type string

const (
	Untyped            Type = ""
	Greeting           Type = "greeting"
	History            Type = "history"
	PastMedicalHistory Type = "past_medical_history"
	Medications        Type = "medications"
	Allergies          Type = "allergies"
	FamilyHistory      Type = "family_history"
	SocialHistory      Type = "social_history"
	Examination        Type = "examination"
	Investigations     Type = "investigations"
	Impression         Type = "impression"
	Plan               Type = "plan"
	FollowUp           Type = "follow_up"
	Signoff            Type = "signoff"
)

// All lists every typed section in conventional letter order.
var All = []Type{
	Greeting, History, PastMedicalHistory, Medications, Allergies, FamilyHistory,
	SocialHistory, Examination, Investigations, Impression, Plan, FollowUp, Signoff,
}

// Valid reports whether t is a known section type.
func Valid(t Type) bool {
	for _, known := range All {
		if known == t {
			return true
		}
	}
	return false
}

// Label returns a human-readable heading for t.
func Label(t Type) string {
	switch t {
	case Greeting:
		return "Greeting"
	case History:
		return "History"
	case PastMedicalHistory:
		return "Past Medical History"
	case Medications:
		return "Medications"
	case Allergies:
		return "Allergies"
	case FamilyHistory:
		return "Family History"
	case SocialHistory:
		return "Social History"
	case Examination:
		return "Examination"
	case Investigations:
		return "Investigations"
	case Impression:
		return "Impression"
	case Plan:
		return "Plan"
	case FollowUp:
		return "Follow-up"
	case Signoff:
		return "Sign-off"
	default:
		return "Other"
	}
}

// rule maps a heading pattern to a section type. Rules are evaluated top to
// bottom and the first match wins, so more specific headings ("past medical
// history") must sit above the general ones ("history").
type rule struct {
	pattern *regexp.Regexp
	typ     Type
	// inline rules may carry content on the heading line ("Plan: ECG").
	inline bool
}

func heading(expr string) *regexp.Regexp {
	return regexp.MustCompile(`^(?i:` + expr + `)$`)
}

var rules = []rule{
	{regexp.MustCompile(`^(?i:(dear|hi|hello)\s+\S.*|to whom it may concern)[,:!]?$`), Greeting, false},
	{regexp.MustCompile(`^(?i:yours\s+(sincerely|faithfully|truly)|(kind|best|warm|warmest)\s+regards|with\s+(kind|best)\s+(regards|wishes)|best\s+wishes|many\s+thanks|regards|sincerely)[,.!]?$`), Signoff, false},
	{heading(`past\s+medical\s+history|past\s+history|medical\s+history|pmhx?|background(\s+history)?`), PastMedicalHistory, true},
	{heading(`family\s+history|fhx?`), FamilyHistory, true},
	{heading(`social\s+history|shx?`), SocialHistory, true},
	{heading(`(current\s+)?medications?|medication\s+list|meds|drug\s+history|dhx`), Medications, true},
	{heading(`allerg(y|ies)`), Allergies, true},
	{heading(`history(\s+of\s+(the\s+)?present(ing)?\s+(complaint|illness))?|hp[ci]|hx|presenting\s+complaint|clinical\s+history|reason\s+for\s+referral`), History, true},
	{heading(`(on\s+|physical\s+|clinical\s+)?examination|exam|o/e`), Examination, true},
	{heading(`investigations?|results|tests|labs|imaging|ix`), Investigations, true},
	{heading(`(clinical\s+)?impression|assessment|diagnos[ie]s|summary|opinion`), Impression, true},
	{heading(`(management\s+|treatment\s+)?plan|management|recommendations?`), Plan, true},
	{heading(`follow[\s-]?up(\s+arrangements)?|review|next\s+review`), FollowUp, true},
}

// classify returns the section type for a normalised heading candidate.
func classify(candidate string, inlineOnly bool) (Type, bool) {
	for _, r := range rules {
		if inlineOnly && !r.inline {
			continue
		}
		if r.pattern.MatchString(candidate) {
			return r.typ, true
		}
	}
	return Untyped, false
}

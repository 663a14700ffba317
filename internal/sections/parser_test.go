package sections

import (
	"testing"
)

func TestParse_ClinicalLetter(t *testing.T) {
	text := "Dear Dr. Smith,\n\nHistory:\nChest pain.\n\nPlan:\nECG.\n\nYours sincerely,\nDr Jones"
	secs := Parse(text)

	want := []Type{Greeting, History, Plan, Signoff}
	got := Types(secs)
	if len(got) != len(want) {
		t.Fatalf("expected %d sections, got %d (%v)", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("section %d: expected %q, got %q", i, want[i], got[i])
		}
	}

	if secs[1].Content != "Chest pain." {
		t.Errorf("expected history content %q, got %q", "Chest pain.", secs[1].Content)
	}
	if secs[1].Header != "History:" {
		t.Errorf("expected header %q, got %q", "History:", secs[1].Header)
	}
	if secs[3].Content != "Dr Jones" {
		t.Errorf("expected signoff content %q, got %q", "Dr Jones", secs[3].Content)
	}
}

func TestParse_Offsets(t *testing.T) {
	text := "History:\nChest pain.\n\nPlan:\nECG."
	secs := Parse(text)
	if len(secs) != 2 {
		t.Fatalf("expected 2 sections, got %d", len(secs))
	}
	if secs[0].StartIndex != 0 {
		t.Errorf("expected first section at 0, got %d", secs[0].StartIndex)
	}
	if got := text[secs[0].StartIndex:secs[0].EndIndex]; got != "History:\nChest pain." {
		t.Errorf("unexpected first span %q", got)
	}
	if got := text[secs[1].StartIndex:secs[1].EndIndex]; got != "Plan:\nECG." {
		t.Errorf("unexpected second span %q", got)
	}
}

func TestParse_HeadingVariants(t *testing.T) {
	tests := []struct {
		line string
		want Type
	}{
		{"PMHx", PastMedicalHistory},
		{"PMH:", PastMedicalHistory},
		{"Past Medical History", PastMedicalHistory},
		{"## Past medical history", PastMedicalHistory},
		{"**Plan:**", Plan},
		{"# IMPRESSION", Impression},
		{"Assessment:", Impression},
		{"Ix", Investigations},
		{"O/E:", Examination},
		{"On examination", Examination},
		{"Current medications:", Medications},
		{"Allergies", Allergies},
		{"Social history", SocialHistory},
		{"FHx", FamilyHistory},
		{"Follow-up", FollowUp},
		{"Follow up:", FollowUp},
		{"History of presenting complaint", History},
		{"Reason for referral:", History},
		{"Management plan", Plan},
		{"Kind regards,", Signoff},
		{"Yours faithfully", Signoff},
		{"Dear Colleague,", Greeting},
		{"To whom it may concern", Greeting},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			secs := Parse(tt.line + "\nbody text")
			if len(secs) == 0 {
				t.Fatalf("no sections parsed")
			}
			if secs[0].Type != tt.want {
				t.Errorf("expected %q, got %q", tt.want, secs[0].Type)
			}
		})
	}
}

func TestParse_InlineHeading(t *testing.T) {
	secs := Parse("Plan: repeat ECG in 6 weeks.\nImpression: stable angina.")
	if len(secs) != 2 {
		t.Fatalf("expected 2 sections, got %d", len(secs))
	}
	if secs[0].Type != Plan || secs[0].Content != "repeat ECG in 6 weeks." {
		t.Errorf("unexpected first section %+v", secs[0])
	}
	if secs[1].Type != Impression || secs[1].Content != "stable angina." {
		t.Errorf("unexpected second section %+v", secs[1])
	}
}

func TestParse_SalutationInProseIsNotGreeting(t *testing.T) {
	// Only a short standalone salutation line counts as a greeting.
	secs := Parse("Plan:\nDear patient was advised to return if symptoms recur and to bring all medications next time.")
	if len(secs) != 1 {
		t.Fatalf("expected 1 section, got %d", len(secs))
	}
	if secs[0].Type != Plan {
		t.Errorf("expected plan, got %q", secs[0].Type)
	}
}

func TestParse_LeadingUntypedText(t *testing.T) {
	secs := Parse("Re: John, DOB on file\n\nHistory:\nPalpitations.")
	if len(secs) != 2 {
		t.Fatalf("expected 2 sections, got %d", len(secs))
	}
	if secs[0].Type != Untyped {
		t.Errorf("expected untyped leading section, got %q", secs[0].Type)
	}
	if secs[0].Header != "" {
		t.Errorf("expected no header for untyped section, got %q", secs[0].Header)
	}
}

func TestParse_RepeatedHeadingStartsNewSection(t *testing.T) {
	secs := Parse("Plan:\nECG.\nPlan:\nEcho.")
	if len(secs) != 2 {
		t.Fatalf("expected 2 sections, got %d", len(secs))
	}
	if secs[0].Content != "ECG." || secs[1].Content != "Echo." {
		t.Errorf("unexpected contents %q / %q", secs[0].Content, secs[1].Content)
	}
}

func TestParse_FailsSoft(t *testing.T) {
	if secs := Parse(""); len(secs) != 0 {
		t.Errorf("expected no sections for empty input, got %d", len(secs))
	}
	if secs := Parse("   \n\n\t"); len(secs) != 0 {
		t.Errorf("expected no sections for blank input, got %d", len(secs))
	}

	secs := Parse("just some prose with no headings at all.\nAnother line.")
	if len(secs) != 1 {
		t.Fatalf("expected 1 untyped section, got %d", len(secs))
	}
	if secs[0].Type != Untyped {
		t.Errorf("expected untyped, got %q", secs[0].Type)
	}
}

func TestParse_CRLF(t *testing.T) {
	secs := Parse("History:\r\nChest pain.\r\n\r\nPlan:\r\nECG.")
	if len(secs) != 2 {
		t.Fatalf("expected 2 sections, got %d", len(secs))
	}
	if secs[0].Content != "Chest pain." {
		t.Errorf("expected CR stripped, got %q", secs[0].Content)
	}
}

func TestValid(t *testing.T) {
	if !Valid(History) {
		t.Error("history should be valid")
	}
	if Valid(Untyped) {
		t.Error("untyped should not be valid")
	}
	if Valid(Type("appendix")) {
		t.Error("unknown type should not be valid")
	}
}

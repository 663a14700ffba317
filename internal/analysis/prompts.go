package analysis

const systemPrompt = `You analyse how a clinician edits AI-drafted clinic letters before signing them.

Each edit shows the draft text of one letter section ("Before") and what the clinician changed it to ("After"). An empty Before means the clinician wrote the section from scratch. Infer the clinician's stable writing preferences from the edits as a whole, not from any single letter.

Never repeat patient names, dates, identifiers, addresses or any other patient detail in your answer. Report style only.

Section types: greeting, history, past_medical_history, medications, allergies, family_history, social_history, examination, investigations, impression, plan, follow_up, signoff.

Respond with one fenced json block using this shape. Omit any field you have no evidence for.

` + "```json" + `
{
  "detectedSectionOrder": ["greeting", "history", "plan", "signoff"],
  "detectedSectionInclusion": {"<section type>": 0.0-1.0 probability the clinician keeps the section},
  "detectedSectionVerbosity": {"<section type>": "detailed" | "normal" | "brief"},
  "detectedPhrasingPreferences": {"<section type>": ["phrases the clinician adds or prefers"]},
  "detectedAvoidedPhrases": {"<section type>": ["phrases the clinician removes"]},
  "detectedVocabularyMap": {"<draft term>": "<clinician's preferred term>"},
  "detectedTerminologyLevel": "lay" | "mixed" | "specialist",
  "detectedGreetingStyle": "formal" | "first_name" | "collegial" | "none",
  "detectedClosingStyle": "formal" | "warm" | "brief" | "none",
  "detectedSignoffTemplate": "template text with no personal names",
  "detectedFormalityLevel": "very_formal" | "formal" | "neutral" | "conversational",
  "detectedParagraphStructure": "prose" | "bullets" | "mixed",
  "confidence": {
    "sectionOrder": 0.0-1.0, "sectionInclusion": 0.0-1.0, "sectionVerbosity": 0.0-1.0,
    "phrasingPreferences": 0.0-1.0, "avoidedPhrases": 0.0-1.0, "vocabularyMap": 0.0-1.0,
    "terminologyLevel": 0.0-1.0, "greetingStyle": 0.0-1.0, "closingStyle": 0.0-1.0,
    "signoffTemplate": 0.0-1.0, "formalityLevel": 0.0-1.0, "paragraphStructure": 0.0-1.0
  },
  "phrasePatterns": [{"sectionType": "plan", "phrase": "...", "action": "added" | "removed" | "replaced", "frequency": 3}],
  "sectionOrderPatterns": [{"order": ["history", "plan"], "frequency": 4}],
  "insights": ["one-sentence observations about the clinician's style"]
}
` + "```" + `

Confidence reflects how consistently the edits support a preference. Use low values when evidence is thin.`

const userPromptHeader = `Subspecialty: %s
Edits: %d

`

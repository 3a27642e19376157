package domain

// TriageLevel is the 5-point ESI-style acuity scale, ESI-1 most urgent.
type TriageLevel string

const (
	LevelResuscitation TriageLevel = "ESI-1"
	LevelEmergent      TriageLevel = "ESI-2"
	LevelUrgent        TriageLevel = "ESI-3"
	LevelLessUrgent    TriageLevel = "ESI-4"
	LevelNonUrgent     TriageLevel = "ESI-5"
)

// Routing priority values.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

// Routing directs a case to a specialty with a handoff priority.
type Routing struct {
	Specialty string `json:"specialty"`
	Priority  string `json:"priority"`
}

// AssessmentMeta records provenance of an assessment. It is always set by
// the normalizer, never taken from provider output.
type AssessmentMeta struct {
	Provider      string `json:"provider"`
	PromptVersion string `json:"prompt_version"`
	CorpusHint    string `json:"corpus_hint"`
}

// TriageAssessment is the normalized, safety-checked acuity assessment
// for a case. EvidenceIDs is always a subset of the ids retrieved for
// the case.
type TriageAssessment struct {
	Level             TriageLevel    `json:"triage_level"`
	RedFlags          []string       `json:"red_flags"`
	ImmediateActions  []string       `json:"immediate_actions"`
	FollowupQuestions []string       `json:"questions_to_ask_next"`
	Routing           Routing        `json:"routing"`
	Rationale         string         `json:"rationale_brief"`
	EvidenceIDs       []string       `json:"evidence_ids"`
	Meta              AssessmentMeta `json:"model_meta"`
}

// Clone returns a deep copy so callers can truncate question lists without
// touching a cached assessment.
func (a TriageAssessment) Clone() TriageAssessment {
	out := a
	out.RedFlags = append([]string(nil), a.RedFlags...)
	out.ImmediateActions = append([]string(nil), a.ImmediateActions...)
	out.FollowupQuestions = append([]string(nil), a.FollowupQuestions...)
	out.EvidenceIDs = append([]string(nil), a.EvidenceIDs...)
	return out
}

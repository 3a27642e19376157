package domain

import (
	"strings"
	"time"
)

// QATurn is one interview exchange.
type QATurn struct {
	Question string `json:"q"`
	Answer   string `json:"a"`
}

// PatientIntake is the caller-supplied presentation for a new case.
type PatientIntake struct {
	PatientID string            `json:"patient_id,omitempty"`
	Age       int               `json:"age"`
	Sex       string            `json:"sex"`
	Complaint string            `json:"complaint_text"`
	Vitals    map[string]string `json:"vitals,omitempty"`
	Pregnancy string            `json:"pregnancy,omitempty"`
	Chief     string            `json:"chief,omitempty"`
}

// CaseSession is the mutable state of one triage case. It is owned and
// mutated exclusively by the interview orchestrator; once Terminated it
// never changes again.
type CaseSession struct {
	CaseID       string            `json:"case_id"`
	Intake       PatientIntake     `json:"intake"`
	AgeGroup     string            `json:"age_group"`
	Cards        []RetrievedCard   `json:"rag_cards"`
	QA           []QATurn          `json:"qa"`
	CachedFirst  *TriageAssessment `json:"cached_triage,omitempty"`
	Terminated   bool              `json:"done"`
	ForcedFinish bool              `json:"forced_finish"`
	CreatedAt    time.Time         `json:"created_at"`
}

// Clone returns a deep copy. Stores hand out clones so in-flight reads
// never observe orchestrator mutations.
func (s *CaseSession) Clone() *CaseSession {
	if s == nil {
		return nil
	}
	out := *s
	out.Cards = append([]RetrievedCard(nil), s.Cards...)
	out.QA = append([]QATurn(nil), s.QA...)
	if s.Intake.Vitals != nil {
		vitals := make(map[string]string, len(s.Intake.Vitals))
		for k, v := range s.Intake.Vitals {
			vitals[k] = v
		}
		out.Intake.Vitals = vitals
	}
	if s.CachedFirst != nil {
		cached := s.CachedFirst.Clone()
		out.CachedFirst = &cached
	}
	return &out
}

// AskedQuestion reports whether q matches a question already present in
// the history, comparing case-insensitively after trimming.
func (s *CaseSession) AskedQuestion(q string) bool {
	for _, turn := range s.QA {
		if equalQuestion(turn.Question, q) {
			return true
		}
	}
	return false
}

func equalQuestion(a, b string) bool {
	return normalizeQuestion(a) == normalizeQuestion(b)
}

func normalizeQuestion(q string) string {
	return strings.ToLower(strings.TrimSpace(q))
}

// FinishReason explains what triggered finalization.
type FinishReason string

const (
	FinishEarly     FinishReason = "early_finish"
	FinishMaxTurns  FinishReason = "max_turns"
	FinishDuplicate FinishReason = "duplicate_question"
)

// FinalizedRecord is the durable artifact produced once per case at
// finalize time.
type FinalizedRecord struct {
	CaseID      string           `json:"case_id"`
	Intake      PatientIntake    `json:"intake"`
	AgeGroup    string           `json:"age_group"`
	QA          []QATurn         `json:"qa"`
	Assessment  TriageAssessment `json:"assessment"`
	Reason      FinishReason     `json:"finish_reason"`
	FinalizedAt time.Time        `json:"finalized_at"`
}

// TurnSnapshot is the per-turn transcript written to local output for
// audit. Best-effort: snapshot failures never fail a request.
type TurnSnapshot struct {
	CaseID     string           `json:"case_id"`
	PatientID  string           `json:"patient_id,omitempty"`
	Assessment TriageAssessment `json:"triage"`
	InputCtx   map[string]any   `json:"input_context"`
	Cards      []RetrievedCard  `json:"rag_cards"`
	SavedAt    time.Time        `json:"saved_at"`
}

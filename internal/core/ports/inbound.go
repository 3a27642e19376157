package ports

import (
	"context"

	"github.com/furkanyilmaz/ed-triage/internal/core/domain"
)

// TurnResult is the outcome of one interview operation. Assessment is
// always set: before finalization it is a copy of the cached first
// assessment with FollowupQuestions truncated to the turns remaining
// (mirrored in NextQuestions); once Finished it is the final assessment
// and NextQuestions is empty.
type TurnResult struct {
	CaseID        string
	Finished      bool
	Reason        domain.FinishReason
	NextQuestions []string
	Assessment    *domain.TriageAssessment

	// RetrievedCards is the number of reference cards bound to the case,
	// surfaced for observability.
	RetrievedCards int
}

// Interviewer is the inbound contract for the triage interview lifecycle.
type Interviewer interface {
	StartCase(ctx context.Context, intake domain.PatientIntake) (*TurnResult, error)
	SubmitAnswers(ctx context.Context, caseID string, answers []domain.QATurn, earlyFinish bool) (*TurnResult, error)
}

// RecordReader is the inbound read model for archived triage records.
type RecordReader interface {
	GetByCaseID(ctx context.Context, caseID string) (*domain.FinalizedRecord, error)
}

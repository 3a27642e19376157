package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/furkanyilmaz/ed-triage/internal/core/domain"
	"github.com/furkanyilmaz/ed-triage/internal/core/ports"
)

// InterviewLimits bounds one triage interview.
type InterviewLimits struct {
	MaxQA int
	TopK  int
}

// InterviewUseCase owns the lifecycle of triage cases: retrieval at case
// start, the cached first assessment, incremental answer turns, the
// duplicate-question guard, and finalization.
//
// Intermediate turns are served from the assessment cached at case start;
// only finalization makes a fresh provider call incorporating the full
// Q/A history.
type InterviewUseCase struct {
	retriever  ports.CardRetriever
	provider   ports.AssessmentProvider
	sessions   ports.SessionStore
	archive    ports.TriageArchive
	snapshots  ports.SnapshotWriter
	normalizer Normalizer
	limits     InterviewLimits
	logger     *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewInterviewUseCase(
	retriever ports.CardRetriever,
	provider ports.AssessmentProvider,
	sessions ports.SessionStore,
	archive ports.TriageArchive,
	snapshots ports.SnapshotWriter,
	limits InterviewLimits,
	logger *slog.Logger,
) *InterviewUseCase {
	if limits.MaxQA <= 0 {
		limits.MaxQA = 3
	}
	if limits.TopK <= 0 {
		limits.TopK = 3
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &InterviewUseCase{
		retriever:  retriever,
		provider:   provider,
		sessions:   sessions,
		archive:    archive,
		snapshots:  snapshots,
		normalizer: Normalizer{Provider: provider.Model()},
		limits:     limits,
		logger:     logger,
		locks:      make(map[string]*sync.Mutex),
	}
}

// StartCase runs retrieval once, obtains and caches the first assessment,
// and opens the interview.
func (uc *InterviewUseCase) StartCase(ctx context.Context, intake domain.PatientIntake) (*ports.TurnResult, error) {
	if strings.TrimSpace(intake.Complaint) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "start case", fmt.Errorf("complaint_text is required"))
	}
	if intake.Age < 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "start case", fmt.Errorf("age must be non-negative"))
	}

	ageGroup := domain.AgeGroupForAge(intake.Age)
	cards, err := uc.retriever.Search(ctx, domain.RetrievalQuery{
		Text:      presentationText(intake),
		Chief:     intake.Chief,
		AgeGroup:  ageGroup,
		Pregnancy: intake.Pregnancy,
		K:         uc.limits.TopK,
	})
	if err != nil {
		return nil, fmt.Errorf("retrieve cards: %w", err)
	}

	session := &domain.CaseSession{
		CaseID:    uuid.NewString(),
		Intake:    intake,
		AgeGroup:  ageGroup,
		Cards:     cards,
		QA:        []domain.QATurn{},
		CreatedAt: time.Now().UTC(),
	}

	first, err := uc.generateAssessment(ctx, session, false)
	if err != nil {
		return nil, err
	}
	session.CachedFirst = &first

	if err := uc.sessions.Put(ctx, session); err != nil {
		return nil, fmt.Errorf("store session: %w", err)
	}

	uc.writeSnapshot(ctx, session, first)

	out := first.Clone()
	if len(out.FollowupQuestions) > uc.limits.MaxQA {
		out.FollowupQuestions = out.FollowupQuestions[:uc.limits.MaxQA]
	}
	return &ports.TurnResult{
		CaseID:         session.CaseID,
		Finished:       false,
		NextQuestions:  out.FollowupQuestions,
		Assessment:     &out,
		RetrievedCards: len(cards),
	}, nil
}

// SubmitAnswers appends the given answers and either returns the next
// questions or finalizes the case. Operations on one case are strictly
// serialized; a failed provider call leaves the session untouched.
func (uc *InterviewUseCase) SubmitAnswers(ctx context.Context, caseID string, answers []domain.QATurn, earlyFinish bool) (*ports.TurnResult, error) {
	unlock := uc.lockCase(caseID)
	defer unlock()

	session, ok, err := uc.sessions.Get(ctx, caseID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if !ok || session.Terminated {
		uc.releaseCase(caseID)
		return nil, domain.WrapError(domain.ErrCaseNotFound, "submit answers", fmt.Errorf("case %q", caseID))
	}

	for _, turn := range answers {
		session.QA = append(session.QA, domain.QATurn{
			Question: strings.TrimSpace(turn.Question),
			Answer:   strings.TrimSpace(turn.Answer),
		})
	}

	reason := domain.FinishReason("")
	switch {
	case earlyFinish:
		reason = domain.FinishEarly
	case len(session.QA) >= uc.limits.MaxQA:
		reason = domain.FinishMaxTurns
	}

	var questions []string
	if reason == "" {
		// Never re-ask an answered question; if nothing new remains the
		// interview has looped and must finish now.
		questions = uc.remainingQuestions(session)
		if len(questions) == 0 {
			reason = domain.FinishDuplicate
			session.ForcedFinish = true
		}
	}

	if reason == "" {
		out := session.CachedFirst.Clone()
		out.FollowupQuestions = questions
		if err := uc.sessions.Put(ctx, session); err != nil {
			return nil, fmt.Errorf("store session: %w", err)
		}
		uc.writeSnapshot(ctx, session, out)
		return &ports.TurnResult{
			CaseID:        session.CaseID,
			Finished:      false,
			NextQuestions: questions,
			Assessment:    &out,
		}, nil
	}

	final, err := uc.generateAssessment(ctx, session, true)
	if err != nil {
		// Session state is only committed on success; the caller may
		// retry the same call.
		return nil, err
	}
	final.FollowupQuestions = []string{}

	session.Terminated = true
	if err := uc.sessions.Put(ctx, session); err != nil {
		return nil, fmt.Errorf("store session: %w", err)
	}
	// Terminated cases take no further operations; drop the lock entry.
	uc.releaseCase(session.CaseID)

	record := domain.FinalizedRecord{
		CaseID:      session.CaseID,
		Intake:      session.Intake,
		AgeGroup:    session.AgeGroup,
		QA:          session.QA,
		Assessment:  final,
		Reason:      reason,
		FinalizedAt: time.Now().UTC(),
	}
	if err := uc.archive.Save(ctx, record); err != nil {
		uc.logger.Error("archive finalized record failed", "case_id", session.CaseID, "error", err)
	}

	uc.writeSnapshot(ctx, session, final)

	return &ports.TurnResult{
		CaseID:     session.CaseID,
		Finished:   true,
		Reason:     reason,
		Assessment: &final,
	}, nil
}

// remainingQuestions returns the cached follow-up questions not yet
// answered, capped to the turns still remaining.
func (uc *InterviewUseCase) remainingQuestions(session *domain.CaseSession) []string {
	remaining := uc.limits.MaxQA - len(session.QA)
	if remaining <= 0 || session.CachedFirst == nil {
		return nil
	}
	out := make([]string, 0, remaining)
	for _, q := range session.CachedFirst.FollowupQuestions {
		if session.AskedQuestion(q) {
			continue
		}
		out = append(out, q)
		if len(out) == remaining {
			break
		}
	}
	return out
}

func (uc *InterviewUseCase) generateAssessment(ctx context.Context, session *domain.CaseSession, final bool) (domain.TriageAssessment, error) {
	raw, err := uc.provider.GenerateTriage(ctx, ports.AssessmentRequest{
		Age:       session.Intake.Age,
		Sex:       session.Intake.Sex,
		Complaint: session.Intake.Complaint,
		Vitals:    session.Intake.Vitals,
		Cards:     session.Cards,
		History:   session.QA,
	})
	if err != nil {
		return domain.TriageAssessment{}, fmt.Errorf("provider turn: %w", err)
	}
	return uc.normalizer.Normalize(raw, domain.CardIDs(session.Cards), uc.limits.MaxQA, final)
}

func (uc *InterviewUseCase) writeSnapshot(ctx context.Context, session *domain.CaseSession, assessment domain.TriageAssessment) {
	if uc.snapshots == nil {
		return
	}
	path, err := uc.snapshots.Save(ctx, domain.TurnSnapshot{
		CaseID:     session.CaseID,
		PatientID:  session.Intake.PatientID,
		Assessment: assessment,
		InputCtx: map[string]any{
			"age":       session.Intake.Age,
			"sex":       session.Intake.Sex,
			"age_group": session.AgeGroup,
			"qa":        session.QA,
		},
		Cards:   session.Cards,
		SavedAt: time.Now().UTC(),
	})
	if err != nil {
		uc.logger.Warn("snapshot write failed", "case_id", session.CaseID, "error", err)
		return
	}
	uc.logger.Debug("snapshot written", "case_id", session.CaseID, "path", path)
}

func (uc *InterviewUseCase) lockCase(caseID string) func() {
	uc.mu.Lock()
	lock, ok := uc.locks[caseID]
	if !ok {
		lock = &sync.Mutex{}
		uc.locks[caseID] = lock
	}
	uc.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

// releaseCase drops the keyed mutex for a terminated case. Late waiters
// holding the old mutex still serialize and then observe the terminated
// session.
func (uc *InterviewUseCase) releaseCase(caseID string) {
	uc.mu.Lock()
	delete(uc.locks, caseID)
	uc.mu.Unlock()
}

func presentationText(intake domain.PatientIntake) string {
	var b strings.Builder
	b.WriteString(intake.Complaint)
	fmt.Fprintf(&b, "\nAge:%d Sex:%s", intake.Age, intake.Sex)
	if intake.Pregnancy != "" {
		fmt.Fprintf(&b, " Pregnancy:%s", intake.Pregnancy)
	}
	return b.String()
}

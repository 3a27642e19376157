package usecase

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/furkanyilmaz/ed-triage/internal/core/domain"
	"github.com/furkanyilmaz/ed-triage/internal/core/ports"
)

type stubRetriever struct {
	cards []domain.RetrievedCard
	err   error

	gotQuery domain.RetrievalQuery
}

func (s *stubRetriever) Search(_ context.Context, query domain.RetrievalQuery) ([]domain.RetrievedCard, error) {
	s.gotQuery = query
	return s.cards, s.err
}

type stubProvider struct {
	responses []string
	errs      []error
	calls     int

	gotRequests []ports.AssessmentRequest
}

func (s *stubProvider) GenerateTriage(_ context.Context, req ports.AssessmentRequest) (domain.RawAssessment, error) {
	s.gotRequests = append(s.gotRequests, req)
	idx := s.calls
	s.calls++
	if idx < len(s.errs) && s.errs[idx] != nil {
		return domain.RawAssessment{}, s.errs[idx]
	}
	body := s.responses[len(s.responses)-1]
	if idx < len(s.responses) {
		body = s.responses[idx]
	}
	return domain.DecodeRawAssessment(body)
}

func (s *stubProvider) Model() string { return "stub-model" }

type stubStore struct {
	sessions map[string]*domain.CaseSession
	putErr   error
}

func newStubStore() *stubStore {
	return &stubStore{sessions: make(map[string]*domain.CaseSession)}
}

func (s *stubStore) Get(_ context.Context, caseID string) (*domain.CaseSession, bool, error) {
	session, ok := s.sessions[caseID]
	if !ok {
		return nil, false, nil
	}
	return session.Clone(), true, nil
}

func (s *stubStore) Put(_ context.Context, session *domain.CaseSession) error {
	if s.putErr != nil {
		return s.putErr
	}
	s.sessions[session.CaseID] = session.Clone()
	return nil
}

func (s *stubStore) Delete(_ context.Context, caseID string) error {
	delete(s.sessions, caseID)
	return nil
}

type stubArchive struct {
	records []domain.FinalizedRecord
	err     error
}

func (s *stubArchive) Save(_ context.Context, record domain.FinalizedRecord) error {
	if s.err != nil {
		return s.err
	}
	s.records = append(s.records, record)
	return nil
}

type stubSnapshots struct {
	saves []domain.TurnSnapshot
}

func (s *stubSnapshots) Save(_ context.Context, snap domain.TurnSnapshot) (string, error) {
	s.saves = append(s.saves, snap)
	return "/tmp/snap.json", nil
}

const firstResponse = `{
	"triage_level":"2",
	"red_flags":["diaphoresis"],
	"questions_to_ask_next":["Does the pain radiate?","Any shortness of breath?","Nausea or vomiting?"],
	"routing":{"specialty":"cardiology","priority":"high"},
	"evidence_ids":["chest"]
}`

const finalResponse = `{
	"triage_level":"1",
	"red_flags":["hypotension"],
	"immediate_actions":["ECG now"],
	"routing":{"specialty":"cardiology","priority":"high"},
	"rationale_brief":"suspected ACS",
	"evidence_ids":["chest"]
}`

type fixture struct {
	uc        *InterviewUseCase
	retriever *stubRetriever
	provider  *stubProvider
	store     *stubStore
	archive   *stubArchive
	snapshots *stubSnapshots
}

func newFixture(provider *stubProvider) *fixture {
	retriever := &stubRetriever{
		cards: []domain.RetrievedCard{
			{ID: "chest", Title: "Chest pain", Content: "card body", Score: 0.91},
		},
	}
	store := newStubStore()
	archive := &stubArchive{}
	snapshots := &stubSnapshots{}
	uc := NewInterviewUseCase(retriever, provider, store, archive, snapshots, InterviewLimits{MaxQA: 3, TopK: 3}, nil)
	return &fixture{uc: uc, retriever: retriever, provider: provider, store: store, archive: archive, snapshots: snapshots}
}

func adultIntake() domain.PatientIntake {
	return domain.PatientIntake{
		PatientID: "p-1",
		Age:       61,
		Sex:       "M",
		Complaint: "crushing chest pain",
		Chief:     "chest pain",
		Vitals:    map[string]string{"hr": "118"},
	}
}

func TestStartCaseRetrievesAndCaches(t *testing.T) {
	f := newFixture(&stubProvider{responses: []string{firstResponse}})

	result, err := f.uc.StartCase(context.Background(), adultIntake())
	if err != nil {
		t.Fatalf("StartCase() error = %v", err)
	}
	if result.CaseID == "" || result.Finished {
		t.Fatalf("unexpected result %+v", result)
	}
	if len(result.NextQuestions) != 3 {
		t.Fatalf("expected 3 questions, got %v", result.NextQuestions)
	}
	if result.Assessment == nil || result.Assessment.Level != domain.LevelEmergent {
		t.Fatalf("start must carry the cached assessment, got %+v", result.Assessment)
	}
	if !reflect.DeepEqual(result.Assessment.FollowupQuestions, result.NextQuestions) {
		t.Fatalf("assessment questions %v != next questions %v", result.Assessment.FollowupQuestions, result.NextQuestions)
	}
	if result.RetrievedCards != 1 {
		t.Fatalf("expected card count 1, got %d", result.RetrievedCards)
	}

	if f.retriever.gotQuery.Chief != "chest pain" || f.retriever.gotQuery.AgeGroup != domain.AgeGroupAdult || f.retriever.gotQuery.K != 3 {
		t.Fatalf("unexpected retrieval query %+v", f.retriever.gotQuery)
	}

	session := f.store.sessions[result.CaseID]
	if session == nil || session.CachedFirst == nil {
		t.Fatalf("session not stored with cached assessment")
	}
	if session.CachedFirst.Level != domain.LevelEmergent {
		t.Fatalf("cached level = %s", session.CachedFirst.Level)
	}
	if len(f.snapshots.saves) != 1 {
		t.Fatalf("expected start snapshot, got %d", len(f.snapshots.saves))
	}
}

func TestStartCaseValidatesIntake(t *testing.T) {
	f := newFixture(&stubProvider{responses: []string{firstResponse}})

	if _, err := f.uc.StartCase(context.Background(), domain.PatientIntake{Age: 30}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input for empty complaint, got %v", err)
	}
	if _, err := f.uc.StartCase(context.Background(), domain.PatientIntake{Age: -1, Complaint: "x"}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input for negative age, got %v", err)
	}
}

func TestInterviewFinalizesAtMaxTurns(t *testing.T) {
	provider := &stubProvider{responses: []string{firstResponse, finalResponse}}
	f := newFixture(provider)
	ctx := context.Background()

	start, err := f.uc.StartCase(ctx, adultIntake())
	if err != nil {
		t.Fatalf("StartCase() error = %v", err)
	}

	// turns 1 and 2 are served from the cached assessment
	for turn := 0; turn < 2; turn++ {
		res, err := f.uc.SubmitAnswers(ctx, start.CaseID, []domain.QATurn{
			{Question: start.NextQuestions[turn], Answer: "yes"},
		}, false)
		if err != nil {
			t.Fatalf("turn %d error = %v", turn, err)
		}
		if res.Finished {
			t.Fatalf("turn %d finished early", turn)
		}
		// each intermediate turn serves a copy of the cached assessment
		// with the question list re-truncated
		if res.Assessment == nil || res.Assessment.Level != domain.LevelEmergent {
			t.Fatalf("turn %d missing cached assessment: %+v", turn, res.Assessment)
		}
		if !reflect.DeepEqual(res.Assessment.FollowupQuestions, res.NextQuestions) {
			t.Fatalf("turn %d assessment questions %v != next questions %v", turn, res.Assessment.FollowupQuestions, res.NextQuestions)
		}
		if len(res.NextQuestions) != 2-turn {
			t.Fatalf("turn %d expected %d remaining questions, got %v", turn, 2-turn, res.NextQuestions)
		}
	}
	if provider.calls != 1 {
		t.Fatalf("intermediate turns must not call the provider, calls = %d", provider.calls)
	}

	res, err := f.uc.SubmitAnswers(ctx, start.CaseID, []domain.QATurn{
		{Question: start.NextQuestions[2], Answer: "no"},
	}, false)
	if err != nil {
		t.Fatalf("final turn error = %v", err)
	}
	if !res.Finished || res.Reason != domain.FinishMaxTurns {
		t.Fatalf("unexpected final result %+v", res)
	}
	if res.Assessment == nil || res.Assessment.Level != domain.LevelResuscitation {
		t.Fatalf("unexpected final assessment %+v", res.Assessment)
	}
	if len(res.Assessment.FollowupQuestions) != 0 {
		t.Fatalf("final assessment must carry no questions")
	}
	if provider.calls != 2 {
		t.Fatalf("finalize must call the provider once more, calls = %d", provider.calls)
	}

	// the finalize prompt carries the whole transcript
	lastReq := provider.gotRequests[len(provider.gotRequests)-1]
	if len(lastReq.History) != 3 {
		t.Fatalf("final request history = %+v", lastReq.History)
	}

	if len(f.archive.records) != 1 {
		t.Fatalf("expected one archived record, got %d", len(f.archive.records))
	}
	archived := f.archive.records[0]
	if archived.CaseID != start.CaseID || archived.Reason != domain.FinishMaxTurns || len(archived.QA) != 3 {
		t.Fatalf("unexpected archived record %+v", archived)
	}

	// case is closed now and its lock entry is gone
	if _, err := f.uc.SubmitAnswers(ctx, start.CaseID, nil, false); !errors.Is(err, domain.ErrCaseNotFound) {
		t.Fatalf("expected closed case to report not found, got %v", err)
	}
	f.uc.mu.Lock()
	_, stillHeld := f.uc.locks[start.CaseID]
	f.uc.mu.Unlock()
	if stillHeld {
		t.Fatalf("terminated case must release its lock entry")
	}
}

func TestInterviewEarlyFinish(t *testing.T) {
	provider := &stubProvider{responses: []string{firstResponse, finalResponse}}
	f := newFixture(provider)
	ctx := context.Background()

	start, err := f.uc.StartCase(ctx, adultIntake())
	if err != nil {
		t.Fatalf("StartCase() error = %v", err)
	}

	res, err := f.uc.SubmitAnswers(ctx, start.CaseID, []domain.QATurn{
		{Question: start.NextQuestions[0], Answer: "yes"},
	}, true)
	if err != nil {
		t.Fatalf("SubmitAnswers() error = %v", err)
	}
	if !res.Finished || res.Reason != domain.FinishEarly {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestInterviewForcesFinishWhenNoFreshQuestionRemains(t *testing.T) {
	// cached assessment offers a single question; once answered there is
	// nothing new to ask, so the second turn must finalize
	oneQuestion := `{
		"triage_level":"3",
		"questions_to_ask_next":["Any fever?"],
		"evidence_ids":["chest"]
	}`
	provider := &stubProvider{responses: []string{oneQuestion, finalResponse}}
	f := newFixture(provider)
	ctx := context.Background()

	start, err := f.uc.StartCase(ctx, adultIntake())
	if err != nil {
		t.Fatalf("StartCase() error = %v", err)
	}
	if !reflect.DeepEqual(start.NextQuestions, []string{"Any fever?"}) {
		t.Fatalf("unexpected questions %v", start.NextQuestions)
	}

	res, err := f.uc.SubmitAnswers(ctx, start.CaseID, []domain.QATurn{
		{Question: "any fever?  ", Answer: "no"},
	}, false)
	if err != nil {
		t.Fatalf("SubmitAnswers() error = %v", err)
	}
	if !res.Finished || res.Reason != domain.FinishDuplicate {
		t.Fatalf("expected duplicate-guard finalization, got %+v", res)
	}

	session := f.store.sessions[start.CaseID]
	if !session.ForcedFinish {
		t.Fatalf("expected forced finish flag on session")
	}
}

func TestSubmitAnswersUnknownCase(t *testing.T) {
	f := newFixture(&stubProvider{responses: []string{firstResponse}})

	_, err := f.uc.SubmitAnswers(context.Background(), "nope", nil, false)
	if !errors.Is(err, domain.ErrCaseNotFound) {
		t.Fatalf("expected ErrCaseNotFound, got %v", err)
	}
}

func TestFinalizeFailureLeavesSessionOpen(t *testing.T) {
	provider := &stubProvider{
		responses: []string{firstResponse, "", finalResponse},
		errs:      []error{nil, domain.WrapError(domain.ErrUpstreamUnavailable, "triage_generate", errors.New("down"))},
	}
	f := newFixture(provider)
	ctx := context.Background()

	start, err := f.uc.StartCase(ctx, adultIntake())
	if err != nil {
		t.Fatalf("StartCase() error = %v", err)
	}

	answers := []domain.QATurn{{Question: start.NextQuestions[0], Answer: "yes"}}
	if _, err := f.uc.SubmitAnswers(ctx, start.CaseID, answers, true); !errors.Is(err, domain.ErrUpstreamUnavailable) {
		t.Fatalf("expected upstream error, got %v", err)
	}

	// the failed turn committed nothing, so the same call succeeds on retry
	session := f.store.sessions[start.CaseID]
	if session.Terminated || len(session.QA) != 0 {
		t.Fatalf("failed finalize mutated the session: %+v", session)
	}

	res, err := f.uc.SubmitAnswers(ctx, start.CaseID, answers, true)
	if err != nil {
		t.Fatalf("retry error = %v", err)
	}
	if !res.Finished || res.Reason != domain.FinishEarly {
		t.Fatalf("unexpected retry result %+v", res)
	}
}

func TestArchiveFailureDoesNotFailFinalize(t *testing.T) {
	provider := &stubProvider{responses: []string{firstResponse, finalResponse}}
	f := newFixture(provider)
	f.archive.err = errors.New("nats down")
	ctx := context.Background()

	start, err := f.uc.StartCase(ctx, adultIntake())
	if err != nil {
		t.Fatalf("StartCase() error = %v", err)
	}

	res, err := f.uc.SubmitAnswers(ctx, start.CaseID, nil, true)
	if err != nil {
		t.Fatalf("SubmitAnswers() error = %v", err)
	}
	if !res.Finished || res.Assessment == nil {
		t.Fatalf("finalize must succeed despite archive failure: %+v", res)
	}
}

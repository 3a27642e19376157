package ports

import (
	"context"

	"github.com/furkanyilmaz/ed-triage/internal/core/domain"
)

// Embedder builds vectors for card content and query text.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// CardRetriever selects the reference cards most relevant to a patient
// presentation. Safe for unlimited concurrent reads.
type CardRetriever interface {
	Search(ctx context.Context, query domain.RetrievalQuery) ([]domain.RetrievedCard, error)
}

// AssessmentRequest is everything the reasoning provider needs to draft
// one assessment turn.
type AssessmentRequest struct {
	Age       int
	Sex       string
	Complaint string
	Vitals    map[string]string
	Cards     []domain.RetrievedCard
	History   []domain.QATurn
}

// AssessmentProvider drafts an acuity assessment from a prompt. Output is
// untrusted; it is decoded leniently and must always pass through the
// normalizer before use.
type AssessmentProvider interface {
	GenerateTriage(ctx context.Context, req AssessmentRequest) (domain.RawAssessment, error)
	Model() string
}

// SessionStore holds active case sessions. Implementations return copies;
// the interview orchestrator is the only writer for a given case.
type SessionStore interface {
	Get(ctx context.Context, caseID string) (*domain.CaseSession, bool, error)
	Put(ctx context.Context, session *domain.CaseSession) error
	Delete(ctx context.Context, caseID string) error
}

// TriageArchive accepts the finalized record for durable storage. Called
// exactly once per finalized case.
type TriageArchive interface {
	Save(ctx context.Context, record domain.FinalizedRecord) error
}

// SnapshotWriter persists per-turn transcript snapshots for audit.
type SnapshotWriter interface {
	Save(ctx context.Context, snap domain.TurnSnapshot) (string, error)
}

package httpadapter

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/furkanyilmaz/ed-triage/internal/core/domain"
	"github.com/furkanyilmaz/ed-triage/internal/core/ports"
	"github.com/furkanyilmaz/ed-triage/internal/observability/metrics"
)

const backpressureWait = 100 * time.Millisecond

type Options struct {
	Service        string
	RateLimitRPS   float64
	RateLimitBurst int
	MaxConcurrent  int
	AllowedOrigins []string
}

type Router struct {
	interviewer ports.Interviewer
	records     ports.RecordReader
	metrics     *metrics.HTTPServerMetrics
	opts        Options
}

func NewRouter(
	interviewer ports.Interviewer,
	records ports.RecordReader,
	m *metrics.HTTPServerMetrics,
	opts Options,
) *Router {
	if opts.Service == "" {
		opts.Service = "api"
	}
	return &Router{
		interviewer: interviewer,
		records:     records,
		metrics:     m,
		opts:        opts,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := chi.NewRouter()
	mux.Use(requestIDMiddleware)
	mux.Use(accessLogMiddleware)
	if len(rt.opts.AllowedOrigins) > 0 {
		mux.Use(func(next http.Handler) http.Handler {
			return corsMiddleware(next, rt.opts.AllowedOrigins)
		})
	}

	mux.Get("/healthz", rt.healthz)
	mux.Method(http.MethodGet, "/metrics", rt.metrics.Handler())

	mux.Route("/v1", func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler {
			return rateLimitMiddleware(next, rt.opts.RateLimitRPS, rt.opts.RateLimitBurst)
		})
		r.Use(func(next http.Handler) http.Handler {
			return backpressureMiddleware(next, rt.opts.MaxConcurrent, backpressureWait)
		})

		r.Post("/triage/start", rt.startCase)
		r.Post("/triage/{caseID}/answers", rt.submitAnswers)
		r.Get("/records/{caseID}", rt.getRecord)
	})

	return rt.metrics.Middleware(rt.opts.Service, mux)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type answerEntry struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

type answersRequest struct {
	Answers     []answerEntry `json:"answers"`
	EarlyFinish bool          `json:"early_finish"`
}

// turnResponse always carries an assessment: the cached copy with
// re-truncated questions while the interview runs, the final one once
// finished (next_questions is then empty).
type turnResponse struct {
	CaseID        string                   `json:"case_id"`
	Finished      bool                     `json:"finished"`
	FinishReason  string                   `json:"finish_reason,omitempty"`
	NextQuestions []string                 `json:"next_questions,omitempty"`
	Assessment    *domain.TriageAssessment `json:"assessment,omitempty"`
}

func (rt *Router) startCase(w http.ResponseWriter, r *http.Request) {
	var intake domain.PatientIntake
	if err := json.NewDecoder(r.Body).Decode(&intake); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	result, err := rt.interviewer.StartCase(r.Context(), intake)
	if err != nil {
		writeError(w, err)
		return
	}

	rt.metrics.RecordCaseStarted(rt.opts.Service, result.RetrievedCards)
	writeJSON(w, http.StatusCreated, toTurnResponse(result))
}

func (rt *Router) submitAnswers(w http.ResponseWriter, r *http.Request) {
	caseID := chi.URLParam(r, "caseID")
	if strings.TrimSpace(caseID) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "case id is required"})
		return
	}

	var req answersRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	answers := make([]domain.QATurn, 0, len(req.Answers))
	for _, entry := range req.Answers {
		answers = append(answers, domain.QATurn{Question: entry.Question, Answer: entry.Answer})
	}

	result, err := rt.interviewer.SubmitAnswers(r.Context(), caseID, answers, req.EarlyFinish)
	if err != nil {
		writeError(w, err)
		return
	}

	rt.metrics.RecordTurn(rt.opts.Service, result.Finished)
	if result.Finished {
		level := ""
		if result.Assessment != nil {
			level = string(result.Assessment.Level)
		}
		rt.metrics.RecordFinalize(rt.opts.Service, string(result.Reason), level)
	}
	writeJSON(w, http.StatusOK, toTurnResponse(result))
}

func (rt *Router) getRecord(w http.ResponseWriter, r *http.Request) {
	caseID := chi.URLParam(r, "caseID")
	if strings.TrimSpace(caseID) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "case id is required"})
		return
	}

	record, err := rt.records.GetByCaseID(r.Context(), caseID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func toTurnResponse(result *ports.TurnResult) turnResponse {
	return turnResponse{
		CaseID:        result.CaseID,
		Finished:      result.Finished,
		FinishReason:  string(result.Reason),
		NextQuestions: result.NextQuestions,
		Assessment:    result.Assessment,
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

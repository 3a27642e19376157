package ollama

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/furkanyilmaz/ed-triage/internal/core/domain"
	"github.com/furkanyilmaz/ed-triage/internal/core/ports"
	"github.com/furkanyilmaz/ed-triage/internal/infrastructure/resilience"
)

type Client struct {
	baseURL    string
	genModel   string
	embedModel string
	httpClient *http.Client
	executor   *resilience.Executor
}

func New(baseURL, genModel, embedModel string, executor *resilience.Executor) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		genModel:   genModel,
		embedModel: embedModel,
		httpClient: &http.Client{Timeout: 120 * time.Second},
		executor:   executor,
	}
}

type Embedder struct {
	client *Client
}

func NewEmbedder(client *Client) *Embedder {
	return &Embedder{client: client}
}

func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	request := map[string]any{
		"model": e.client.embedModel,
		"input": texts,
	}

	var response struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	err := e.client.execute(ctx, "embed", func(ctx context.Context) error {
		return e.client.postJSON(ctx, "/api/embed", request, &response, "embed")
	})
	if err != nil {
		return nil, wrapUnavailableIfNeeded("embed", err)
	}
	if len(response.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embed count mismatch: sent %d texts, got %d vectors", len(texts), len(response.Embeddings))
	}
	return response.Embeddings, nil
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("empty embedding result")
	}
	return vectors[0], nil
}

// TriageGenerator drafts acuity assessments through the local generate
// endpoint. Responses are decoded leniently inside the retry loop so a
// malformed JSON body counts as a retryable provider fault.
type TriageGenerator struct {
	client *Client
}

func NewTriageGenerator(client *Client) *TriageGenerator {
	return &TriageGenerator{client: client}
}

var _ ports.AssessmentProvider = (*TriageGenerator)(nil)

func (g *TriageGenerator) Model() string {
	return g.client.genModel
}

func (g *TriageGenerator) GenerateTriage(ctx context.Context, req ports.AssessmentRequest) (domain.RawAssessment, error) {
	reqBody := map[string]any{
		"model":  g.client.genModel,
		"system": triageSystemPrompt,
		"prompt": buildTriagePrompt(req),
		"stream": false,
		"format": "json",
	}

	var raw domain.RawAssessment
	err := g.client.execute(ctx, "triage_generate", func(ctx context.Context) error {
		var response struct {
			Response string `json:"response"`
		}
		if err := g.client.postJSON(ctx, "/api/generate", reqBody, &response, "triage_generate"); err != nil {
			return err
		}
		decoded, err := domain.DecodeRawAssessment(extractJSONObject(response.Response))
		if err != nil {
			return &malformedResponseError{operation: "triage_generate", cause: err}
		}
		raw = decoded
		return nil
	})
	if err != nil {
		return domain.RawAssessment{}, wrapUnavailableIfNeeded("triage_generate", err)
	}
	return raw, nil
}

func (c *Client) execute(ctx context.Context, operation string, fn func(context.Context) error) error {
	if c.executor == nil {
		return fn(ctx)
	}
	return c.executor.Execute(ctx, operation, fn, classifyOllamaError)
}

func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return raw
}

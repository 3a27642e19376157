package memindex

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/furkanyilmaz/ed-triage/internal/core/domain"
)

type fakeEmbedder struct {
	byText map[string][]float32
	query  []float32
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, ok := f.byText[t]
		if !ok {
			return nil, errors.New("unknown text")
		}
		out[i] = vec
	}
	return out, nil
}

func (f *fakeEmbedder) EmbedQuery(context.Context, string) ([]float32, error) {
	return f.query, nil
}

func buildTestIndex(t *testing.T, cards []domain.Card, emb *fakeEmbedder) *Index {
	t.Helper()
	idx, err := Build(context.Background(), cards, emb)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	return idx
}

func TestSearchRanksByCosineSimilarity(t *testing.T) {
	cards := []domain.Card{
		{ID: "card-1", Title: "One", Content: "one"},
		{ID: "card-2", Title: "Two", Content: "two"},
		{ID: "card-3", Title: "Three", Content: "three"},
	}
	emb := &fakeEmbedder{
		byText: map[string][]float32{
			"one":   {1, 0},
			"two":   {0, 1},
			"three": {0.7, 0.7},
		},
		query: []float32{1, 0},
	}
	idx := buildTestIndex(t, cards, emb)

	results, err := idx.Search(context.Background(), domain.RetrievalQuery{Text: "q", K: 2})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].ID != "card-1" || math.Abs(results[0].Score-1.0) > 1e-6 {
		t.Fatalf("unexpected top result %s score=%f", results[0].ID, results[0].Score)
	}
	if results[1].ID != "card-3" || math.Abs(results[1].Score-math.Sqrt2/2) > 1e-6 {
		t.Fatalf("unexpected second result %s score=%f", results[1].ID, results[1].Score)
	}
}

func TestSearchValidatesQuery(t *testing.T) {
	idx := buildTestIndex(t,
		[]domain.Card{{ID: "c", Title: "C", Content: "c"}},
		&fakeEmbedder{byText: map[string][]float32{"c": {1}}, query: []float32{1}},
	)

	if _, err := idx.Search(context.Background(), domain.RetrievalQuery{Text: "   ", K: 3}); !errors.Is(err, domain.ErrInvalidQuery) {
		t.Fatalf("expected invalid query for blank text, got %v", err)
	}
	if _, err := idx.Search(context.Background(), domain.RetrievalQuery{Text: "x", K: 0}); !errors.Is(err, domain.ErrInvalidQuery) {
		t.Fatalf("expected invalid query for k=0, got %v", err)
	}
}

func TestSearchFuzzyFilterSelectsCandidates(t *testing.T) {
	cards := []domain.Card{
		{ID: "chest", Title: "Chest", Content: "chest", Complaints: []string{"chest pain"}},
		{ID: "ankle", Title: "Ankle", Content: "ankle", Complaints: []string{"ankle sprain"}},
	}
	emb := &fakeEmbedder{
		byText: map[string][]float32{"chest": {1, 0}, "ankle": {0, 1}},
		// closer to the ankle card, so filtering must be what excludes it
		query: []float32{0.1, 1},
	}
	idx := buildTestIndex(t, cards, emb)

	results, err := idx.Search(context.Background(), domain.RetrievalQuery{Text: "q", Chief: "chest pains", K: 5})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 1 || results[0].ID != "chest" {
		t.Fatalf("expected only chest card, got %+v", results)
	}
}

func TestSearchAnySuppliedFilterQualifies(t *testing.T) {
	cards := []domain.Card{
		{ID: "peds", Title: "Peds", Content: "peds", AgeGroups: []string{"pediatric"}},
		{ID: "adult", Title: "Adult", Content: "adult", Complaints: []string{"headache"}},
	}
	emb := &fakeEmbedder{
		byText: map[string][]float32{"peds": {1, 0}, "adult": {0, 1}},
		query:  []float32{1, 0},
	}
	idx := buildTestIndex(t, cards, emb)

	// chief matches the adult card, age group matches the peds card;
	// both qualify because filters combine as OR
	results, err := idx.Search(context.Background(), domain.RetrievalQuery{Text: "q", Chief: "headache", AgeGroup: "pediatric", K: 5})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected both cards, got %+v", results)
	}
}

func TestSearchFallsBackToFullCorpusWhenNothingMatches(t *testing.T) {
	cards := []domain.Card{
		{ID: "a", Title: "A", Content: "a", Complaints: []string{"chest pain"}},
		{ID: "b", Title: "B", Content: "b", Complaints: []string{"ankle sprain"}},
	}
	emb := &fakeEmbedder{
		byText: map[string][]float32{"a": {1, 0}, "b": {0, 1}},
		query:  []float32{1, 0},
	}
	idx := buildTestIndex(t, cards, emb)

	results, err := idx.Search(context.Background(), domain.RetrievalQuery{Text: "q", Chief: "zzzz unrelated zzzz", K: 5})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected full corpus fallback, got %+v", results)
	}
}

func TestSearchStableOrderOnScoreTies(t *testing.T) {
	cards := []domain.Card{
		{ID: "first", Title: "F", Content: "f"},
		{ID: "second", Title: "S", Content: "s"},
	}
	emb := &fakeEmbedder{
		byText: map[string][]float32{"f": {1, 0}, "s": {1, 0}},
		query:  []float32{1, 0},
	}
	idx := buildTestIndex(t, cards, emb)

	results, err := idx.Search(context.Background(), domain.RetrievalQuery{Text: "q", K: 2})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if results[0].ID != "first" || results[1].ID != "second" {
		t.Fatalf("tie order not stable: %+v", results)
	}
}

func TestPartialRatio(t *testing.T) {
	cases := []struct {
		a, b string
		min  float64
		max  float64
	}{
		{"chest pain", "severe chest pain on exertion", 1.0, 1.0},
		{"Chest Pain", "chest pain", 1.0, 1.0},
		{"chest pains", "chest pain radiating", 0.70, 1.0},
		{"pediatric", "pediatric", 1.0, 1.0},
		{"pregnant", "ankle sprain", 0, 0.5},
		{"", "anything", 0, 0},
	}
	for _, tc := range cases {
		got := partialRatio(tc.a, tc.b)
		if got < tc.min || got > tc.max {
			t.Errorf("partialRatio(%q, %q) = %f, want in [%f, %f]", tc.a, tc.b, got, tc.min, tc.max)
		}
	}
}

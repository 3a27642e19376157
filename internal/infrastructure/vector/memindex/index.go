// Package memindex is an in-process vector index over the card corpus.
// The corpus is small and immutable, so a flat scan with precomputed
// unit vectors beats an external vector store here.
package memindex

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/furkanyilmaz/ed-triage/internal/core/domain"
	"github.com/furkanyilmaz/ed-triage/internal/core/ports"
)

const (
	chiefThreshold    = 0.70
	metadataThreshold = 0.80
)

type Index struct {
	cards    []domain.Card
	vectors  [][]float32
	embedder ports.Embedder
}

var _ ports.CardRetriever = (*Index)(nil)

// Build embeds every card body in one bulk call and stores unit-length
// vectors, so search scoring reduces to a dot product.
func Build(ctx context.Context, cards []domain.Card, embedder ports.Embedder) (*Index, error) {
	if len(cards) == 0 {
		return nil, errors.New("memindex: empty corpus")
	}

	texts := make([]string, len(cards))
	for i, card := range cards {
		texts[i] = card.Content
	}
	vectors, err := embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed corpus: %w", err)
	}
	if len(vectors) != len(cards) {
		return nil, fmt.Errorf("memindex: embedded %d of %d cards", len(vectors), len(cards))
	}
	for i := range vectors {
		vectors[i] = normalize(vectors[i])
	}

	return &Index{cards: cards, vectors: vectors, embedder: embedder}, nil
}

func (idx *Index) Size() int {
	return len(idx.cards)
}

// Search scores candidate cards by cosine similarity against the query
// text. Metadata filters are soft: a card qualifies when any supplied
// filter matches fuzzily, and when nothing qualifies the whole corpus is
// scored so retrieval never comes back empty on an over-narrow filter.
func (idx *Index) Search(ctx context.Context, query domain.RetrievalQuery) ([]domain.RetrievedCard, error) {
	if strings.TrimSpace(query.Text) == "" {
		return nil, domain.WrapError(domain.ErrInvalidQuery, "search", errors.New("empty query text"))
	}
	if query.K < 1 {
		return nil, domain.WrapError(domain.ErrInvalidQuery, "search", fmt.Errorf("k must be positive, got %d", query.K))
	}

	qvec, err := idx.embedder.EmbedQuery(ctx, query.Text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	qvec = normalize(qvec)

	candidates := idx.filterCandidates(query)
	results := make([]domain.RetrievedCard, 0, len(candidates))
	for _, i := range candidates {
		card := idx.cards[i]
		results = append(results, domain.RetrievedCard{
			ID:       card.ID,
			Title:    card.Title,
			Content:  card.Content,
			Score:    dot(qvec, idx.vectors[i]),
			Evidence: card.Evidence,
		})
	}

	sort.SliceStable(results, func(a, b int) bool {
		return results[a].Score > results[b].Score
	})
	if len(results) > query.K {
		results = results[:query.K]
	}
	return results, nil
}

func (idx *Index) filterCandidates(query domain.RetrievalQuery) []int {
	hasFilter := query.Chief != "" || query.AgeGroup != "" || query.Pregnancy != ""
	all := make([]int, len(idx.cards))
	for i := range all {
		all[i] = i
	}
	if !hasFilter {
		return all
	}

	matched := make([]int, 0, len(idx.cards))
	for i, card := range idx.cards {
		if cardMatches(query, card) {
			matched = append(matched, i)
		}
	}
	if len(matched) == 0 {
		return all
	}
	return matched
}

func cardMatches(query domain.RetrievalQuery, card domain.Card) bool {
	if query.Chief != "" && anyAbove(query.Chief, card.Complaints, chiefThreshold) {
		return true
	}
	if query.AgeGroup != "" && anyAbove(query.AgeGroup, card.AgeGroups, metadataThreshold) {
		return true
	}
	if query.Pregnancy != "" && anyAbove(query.Pregnancy, card.PregnancyTags, metadataThreshold) {
		return true
	}
	return false
}

func anyAbove(needle string, haystack []string, threshold float64) bool {
	for _, candidate := range haystack {
		if partialRatio(needle, candidate) >= threshold {
			return true
		}
	}
	return false
}

func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		return v
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

func dot(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

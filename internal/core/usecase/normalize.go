package usecase

import (
	"fmt"
	"strings"

	"github.com/furkanyilmaz/ed-triage/internal/core/domain"
)

const (
	promptVersion = "triage-prompt-v1"
	corpusHint    = "memory-cards"
)

// Normalizer coerces loosely-typed provider output into a strict,
// internally consistent TriageAssessment. Pure, no I/O.
type Normalizer struct {
	Provider string
}

// Normalize applies the output guardrails in order: routing shape
// coercion, level normalization, collection defaults, evidence backfill
// from the retrieved set, question cap, meta attachment.
//
// In final mode a structurally absent level cannot be defaulted and
// yields ErrIncompleteAssessment; everything else is always salvageable.
func (n Normalizer) Normalize(raw domain.RawAssessment, retrievedIDs []string, maxQuestions int, final bool) (domain.TriageAssessment, error) {
	level, ok := normalizeLevel(raw.TriageLevel)
	if !ok && final {
		return domain.TriageAssessment{}, domain.WrapError(
			domain.ErrIncompleteAssessment, "normalize", fmt.Errorf("triage level missing from final assessment"))
	}

	out := domain.TriageAssessment{
		Level:             level,
		RedFlags:          defaultList(raw.RedFlags),
		ImmediateActions:  defaultList(raw.ImmediateActions),
		FollowupQuestions: defaultList(raw.FollowupQuestions),
		Routing:           normalizeRouting(raw.Routing),
		Rationale:         strings.TrimSpace(raw.Rationale.Value),
		EvidenceIDs:       defaultList(raw.EvidenceIDs),
		Meta: domain.AssessmentMeta{
			Provider:      n.Provider,
			PromptVersion: promptVersion,
			CorpusHint:    corpusHint,
		},
	}

	// Evidence is always a subset of the cards offered, and never empty
	// when any were: out-of-set citations are dropped, an empty result
	// backfills the full retrieved set.
	out.EvidenceIDs = intersectEvidence(out.EvidenceIDs, retrievedIDs)
	if len(out.EvidenceIDs) == 0 {
		out.EvidenceIDs = append([]string{}, retrievedIDs...)
	}

	if maxQuestions >= 0 && len(out.FollowupQuestions) > maxQuestions {
		out.FollowupQuestions = out.FollowupQuestions[:maxQuestions]
	}

	return out, nil
}

// normalizeLevel maps the many shapes providers emit onto the ESI scale.
// An unrecognized (but present) value maps to ESI-3: an unparseable
// response is "insufficient signal", not a red flag.
func normalizeLevel(raw domain.LooseString) (domain.TriageLevel, bool) {
	value := strings.TrimSpace(raw.Value)
	if !raw.Present || value == "" {
		return "", false
	}

	normalized := strings.ToUpper(value)
	normalized = strings.NewReplacer(" ", "", "_", "", "-", "").Replace(normalized)
	normalized = strings.TrimPrefix(normalized, "ESI")
	normalized = strings.TrimPrefix(normalized, "LEVEL")

	switch normalized {
	case "1":
		return domain.LevelResuscitation, true
	case "2":
		return domain.LevelEmergent, true
	case "3":
		return domain.LevelUrgent, true
	case "4":
		return domain.LevelLessUrgent, true
	case "5":
		return domain.LevelNonUrgent, true
	}

	switch strings.ToLower(value) {
	case "critical", "resuscitation", "immediate":
		return domain.LevelResuscitation, true
	case "urgent", "high", "emergent", "severe":
		return domain.LevelEmergent, true
	case "moderate", "standard", "medium":
		return domain.LevelUrgent, true
	case "routine", "low", "less-urgent", "less urgent":
		return domain.LevelLessUrgent, true
	case "non-urgent", "nonurgent", "non urgent", "minimal":
		return domain.LevelNonUrgent, true
	}

	return domain.LevelUrgent, true
}

func normalizeRouting(raw domain.RawRouting) domain.Routing {
	switch {
	case raw.ObjectForm != nil:
		return domain.Routing{
			Specialty: strings.TrimSpace(raw.ObjectForm.Specialty),
			Priority:  normalizePriority(raw.ObjectForm.Priority),
		}
	case strings.TrimSpace(raw.StringForm) != "":
		return domain.Routing{
			Specialty: strings.TrimSpace(raw.StringForm),
			Priority:  domain.PriorityMedium,
		}
	default:
		return domain.Routing{Specialty: "", Priority: domain.PriorityMedium}
	}
}

func normalizePriority(p string) string {
	switch strings.ToLower(strings.TrimSpace(p)) {
	case domain.PriorityLow:
		return domain.PriorityLow
	case domain.PriorityHigh:
		return domain.PriorityHigh
	default:
		return domain.PriorityMedium
	}
}

func intersectEvidence(ids, retrievedIDs []string) []string {
	allowed := make(map[string]struct{}, len(retrievedIDs))
	for _, id := range retrievedIDs {
		allowed[id] = struct{}{}
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := allowed[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

func defaultList(in []string) []string {
	if len(in) == 0 {
		return []string{}
	}
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

package ollama

import (
	"fmt"
	"sort"
	"strings"

	"github.com/furkanyilmaz/ed-triage/internal/core/ports"
)

const triageSystemPrompt = `You are an emergency department e-triage assistant.
You do not diagnose and you do not prescribe treatment.
Assign an acuity level on the ESI scale from ESI-1 (resuscitation) to ESI-5 (non-urgent).
When uncertain between two levels, pick the more urgent one.
Return a strict JSON object with keys:
triage_level (string), red_flags (array of strings), immediate_actions (array of strings),
questions_to_ask_next (array of strings), routing (object with specialty and priority),
rationale_brief (string), evidence_ids (array of strings).
No markdown, no extra keys.`

func buildTriagePrompt(req ports.AssessmentRequest) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Patient: age %d, sex %s\n", req.Age, req.Sex)
	fmt.Fprintf(&b, "Chief complaint: %s\n", req.Complaint)

	if len(req.Vitals) > 0 {
		keys := make([]string, 0, len(req.Vitals))
		for k := range req.Vitals {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("Vitals:\n")
		for _, k := range keys {
			fmt.Fprintf(&b, "  %s: %s\n", k, req.Vitals[k])
		}
	}

	if len(req.History) > 0 {
		b.WriteString("\nInterview so far:\n")
		for _, turn := range req.History {
			fmt.Fprintf(&b, "Q: %s\nA: %s\n", turn.Question, turn.Answer)
		}
	}

	if len(req.Cards) > 0 {
		b.WriteString("\nReference cards:\n")
		snippets := make([]string, 0, len(req.Cards))
		for _, card := range req.Cards {
			snippets = append(snippets, fmt.Sprintf("[%s] %s", card.ID, card.Content))
		}
		b.WriteString(strings.Join(snippets, "\n\n---\n\n"))
		b.WriteString("\n")
	}

	b.WriteString("\nCite the ids of the cards you used in evidence_ids.\n")
	b.WriteString("Respond with the JSON object only.")
	return b.String()
}

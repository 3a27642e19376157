package domain

// Card is an immutable reference knowledge snippet used as retrieval
// context. Cards are loaded once at startup and never mutated.
type Card struct {
	ID            string   `json:"id"`
	Title         string   `json:"title"`
	ESIHint       string   `json:"esi_hint,omitempty"`
	RedFlags      []string `json:"red_flags,omitempty"`
	Actions       []string `json:"immediate_actions,omitempty"`
	NextQuestions []string `json:"questions_to_ask_next,omitempty"`
	Complaints    []string `json:"complaints,omitempty"`
	AgeGroups     []string `json:"age_groups,omitempty"`
	PregnancyTags []string `json:"pregnancy,omitempty"`
	Evidence      []string `json:"evidence,omitempty"`

	// Content is the rendered natural-language body, used both for the
	// card embedding and for prompt injection.
	Content string `json:"-"`
}

// Age group buckets referenced by card metadata and derived from patient age.
const (
	AgeGroupAdult     = "adult"
	AgeGroupPediatric = "pediatric"
	AgeGroupGeriatric = "geriatric"
)

// AgeGroupForAge buckets a patient age: adult [18,65), pediatric <18,
// geriatric >=65.
func AgeGroupForAge(age int) string {
	switch {
	case age < 18:
		return AgeGroupPediatric
	case age < 65:
		return AgeGroupAdult
	default:
		return AgeGroupGeriatric
	}
}

// RetrievalQuery selects cards for a patient presentation. Text is
// required; the remaining filters are optional hints.
type RetrievalQuery struct {
	Text      string `json:"text"`
	Chief     string `json:"chief,omitempty"`
	AgeGroup  string `json:"age_group,omitempty"`
	Pregnancy string `json:"pregnancy,omitempty"`
	K         int    `json:"k"`
}

// RetrievedCard is one entry of a retrieval result, score in [-1, 1].
type RetrievedCard struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Content  string   `json:"content"`
	Score    float64  `json:"score"`
	Evidence []string `json:"evidence,omitempty"`
}

// CardIDs returns the ids of a retrieval result in order.
func CardIDs(cards []RetrievedCard) []string {
	ids := make([]string, 0, len(cards))
	for _, c := range cards {
		ids = append(ids, c.ID)
	}
	return ids
}

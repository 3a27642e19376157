package domain

import (
	"encoding/json"
	"strconv"
	"strings"
)

// RawAssessment is the loosely-typed shape of provider output, decoded
// leniently so that a structurally odd response still reaches the
// normalizer instead of failing the whole turn.
type RawAssessment struct {
	TriageLevel       LooseString  `json:"triage_level"`
	RedFlags          LooseStrings `json:"red_flags"`
	ImmediateActions  LooseStrings `json:"immediate_actions"`
	FollowupQuestions LooseStrings `json:"questions_to_ask_next"`
	Routing           RawRouting   `json:"routing"`
	Rationale         LooseString  `json:"rationale_brief"`
	EvidenceIDs       LooseStrings `json:"evidence_ids"`
}

// DecodeRawAssessment parses raw provider text as JSON. A parse failure
// here is a retryable provider fault, not a caller error.
func DecodeRawAssessment(raw string) (RawAssessment, error) {
	var out RawAssessment
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return RawAssessment{}, err
	}
	return out, nil
}

// LooseString accepts a JSON string or number and records whether the
// field was present at all, so the normalizer can distinguish "absent"
// from "unrecognized".
type LooseString struct {
	Value   string
	Present bool
}

func (s *LooseString) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "null" {
		return nil
	}
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		s.Value = str
		s.Present = true
		return nil
	}
	var num float64
	if err := json.Unmarshal(data, &num); err == nil {
		s.Value = strconv.FormatFloat(num, 'f', -1, 64)
		s.Present = true
	}
	// any other shape is treated as absent
	return nil
}

// LooseStrings accepts a JSON array of strings, a single string, or
// anything else (treated as empty).
type LooseStrings []string

func (l *LooseStrings) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*l = list
		return nil
	}
	var one string
	if err := json.Unmarshal(data, &one); err == nil && one != "" {
		*l = []string{one}
		return nil
	}
	*l = nil
	return nil
}

// RawRouting is the string-or-object form providers return for routing,
// decoded as an explicit union rather than by field inspection downstream.
type RawRouting struct {
	StringForm string
	ObjectForm *Routing
}

func (r *RawRouting) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "null" {
		return nil
	}
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		r.StringForm = str
		return nil
	}
	var obj Routing
	if err := json.Unmarshal(data, &obj); err == nil {
		r.ObjectForm = &obj
	}
	return nil
}

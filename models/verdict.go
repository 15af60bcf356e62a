package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Severity represents the categorical penalty outcome of a verdict
type Severity string

const (
	SeverityNoAction         Severity = "No Action"
	SeverityWarning          Severity = "Warning"
	SeverityTimePenalty      Severity = "Time Penalty"
	SeverityGridDrop         Severity = "Grid Drop"
	SeverityDisqualification Severity = "Disqualification"
)

// Severities lists every severity from least to most serious
var Severities = []Severity{
	SeverityNoAction,
	SeverityWarning,
	SeverityTimePenalty,
	SeverityGridDrop,
	SeverityDisqualification,
}

// ParseSeverity maps a string onto a known severity
func ParseSeverity(s string) (Severity, bool) {
	for _, sev := range Severities {
		if string(sev) == s {
			return sev, true
		}
	}
	return SeverityNoAction, false
}

// Regulation is a rule reference cited by a verdict
type Regulation struct {
	Article     string `json:"article"`
	Description string `json:"description"`
	Relevance   string `json:"relevance"`
	ID          string `json:"id"`
}

// Precedent is a historical incident used for consistency comparison
type Precedent struct {
	Driver          string `json:"driver"`
	Year            string `json:"year"`
	Race            string `json:"race"`
	Incident        string `json:"incident"`
	Penalty         string `json:"penalty"`
	SimilarityScore int    `json:"similarity_score"`
	ID              string `json:"id"`
}

// Verdict is the structured steward assessment of an incident.
// Field names match the structured generation schema so verdicts from the
// heuristic annotator and from the model are interchangeable.
type Verdict struct {
	Title                string       `json:"title"`
	FanSummary           string       `json:"fan_summary"`
	TechnicalVerdict     string       `json:"technical_verdict"`
	PenaltySeverity      Severity     `json:"penalty_severity"`
	FairnessRating       int          `json:"fairness_rating"`
	RegulationsBreached  []Regulation `json:"regulations_breached"`
	HistoricalPrecedents []Precedent  `json:"historical_precedents"`
	KeyFactors           []string     `json:"key_factors"`
	RawResponse          string       `json:"raw_response"`
}

// Value implements driver.Valuer for JSONB
func (v Verdict) Value() (driver.Value, error) {
	return json.Marshal(v)
}

// Scan implements sql.Scanner for JSONB
func (v *Verdict) Scan(value interface{}) error {
	if value == nil {
		*v = Verdict{}
		return nil
	}

	var bytes []byte
	switch val := value.(type) {
	case []byte:
		bytes = val
	case string:
		bytes = []byte(val)
	default:
		return fmt.Errorf("cannot scan %T into Verdict", value)
	}

	if len(bytes) == 0 {
		*v = Verdict{}
		return nil
	}

	return json.Unmarshal(bytes, v)
}

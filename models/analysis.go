package models

import (
	"time"

	"github.com/google/uuid"
)

// AnalysisMode selects how a verdict is produced
type AnalysisMode string

const (
	// ModeHeuristic queries the upstream steward endpoint and annotates its free-text reply
	ModeHeuristic AnalysisMode = "heuristic"
	// ModeStructured asks the generative model for a schema-constrained verdict
	ModeStructured AnalysisMode = "structured"
)

// Valid reports whether the mode is one of the known modes
func (m AnalysisMode) Valid() bool {
	return m == ModeHeuristic || m == ModeStructured
}

// LLM choices understood by the upstream query endpoint
const (
	LLMChoiceDefault   = "gemini-default"
	LLMChoiceFinetuned = "gemini-finetuned"
)

// Analysis represents a persisted verdict for a single incident
type Analysis struct {
	ID             uuid.UUID    `json:"id"`
	Prompt         string       `json:"prompt"`
	Mode           AnalysisMode `json:"mode"`
	LLMChoice      string       `json:"llm_choice,omitempty"`
	SourcePath     *string      `json:"-"`
	SourceFilename *string      `json:"source_filename,omitempty"`
	SourceMimeType *string      `json:"source_mime_type,omitempty"`
	Verdict        Verdict      `json:"verdict"`
	CreatedAt      time.Time    `json:"created_at"`
}

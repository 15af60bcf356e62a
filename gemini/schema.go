package gemini

import (
	"penaltydesk-backend/models"

	"github.com/google/generative-ai-go/genai"
)

func str(description string) *genai.Schema {
	return &genai.Schema{Type: genai.TypeString, Description: description}
}

func num(description string) *genai.Schema {
	return &genai.Schema{Type: genai.TypeNumber, Description: description}
}

// verdictSchema is the response schema every structured verdict must satisfy
func verdictSchema() *genai.Schema {
	severities := make([]string, 0, len(models.Severities))
	for _, s := range models.Severities {
		severities = append(severities, string(s))
	}

	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"title":             str("A short, punchy headline for the incident analysis."),
			"fan_summary":       str("A simplified explanation of what happened and why it matters, avoiding jargon."),
			"technical_verdict": str("The formal steward decision and technical reasoning."),
			"penalty_severity": {
				Type:        genai.TypeString,
				Format:      "enum",
				Enum:        severities,
				Description: "The likely or actual penalty category.",
			},
			"fairness_rating": num("A score from 0 to 100 indicating strictness. 0 is very lenient, 100 is very harsh, 50 is standard."),
			"regulations_breached": {
				Type: genai.TypeArray,
				Items: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"article":     str("The specific FIA Sporting Code article number."),
						"description": str("The text of the rule."),
						"relevance":   str("Why this rule applies here."),
					},
					Required: []string{"article", "description", "relevance"},
				},
			},
			"historical_precedents": {
				Type: genai.TypeArray,
				Items: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"driver":           str("The full name of the primary driver involved (e.g. 'Lewis Hamilton', 'Max Verstappen')."),
						"year":             {Type: genai.TypeString},
						"race":             {Type: genai.TypeString},
						"incident":         {Type: genai.TypeString},
						"penalty":          {Type: genai.TypeString},
						"similarity_score": {Type: genai.TypeNumber},
					},
					Required: []string{"driver", "year", "race", "incident", "penalty", "similarity_score"},
				},
			},
			"key_factors": {
				Type:        genai.TypeArray,
				Items:       &genai.Schema{Type: genai.TypeString},
				Description: `List of 3-5 key bullet points influencing the decision (e.g., "Telemetry showed no braking").`,
			},
		},
		Required: []string{
			"title", "fan_summary", "technical_verdict", "penalty_severity",
			"fairness_rating", "regulations_breached", "historical_precedents", "key_factors",
		},
	}
}

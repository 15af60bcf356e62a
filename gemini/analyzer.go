package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"penaltydesk-backend/models"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
)

// DefaultModel is used when no model name is configured
const DefaultModel = "gemini-2.5-flash"

var (
	// ErrEmptyResponse is returned when the model produced no text
	ErrEmptyResponse = errors.New("no response from gemini")
	// ErrInvalidResponse is returned when the model output is not a verdict
	ErrInvalidResponse = errors.New("invalid verdict from gemini")
	// ErrEmptyDocument is returned when AnalyzeDocument gets no bytes
	ErrEmptyDocument = errors.New("document is empty")
)

const systemInstruction = "You are the 'Virtual Steward'. You have access to knowledge of the FIA International Sporting Code and F1 Sporting Regulations. Always be objective."

const incidentPromptTemplate = `You are an expert FIA Formula One Steward and Fan Explainer. Analyze the following incident description provided by a user.

Incident Description: "%s"

Your goal is to explain the potential or actual penalty, cite the specific FIA Sporting Regulations involved, and compare it to historical precedents to determine consistency.

Maintain a tone that is authoritative yet accessible to casual fans.`

const documentPrompt = `You are an expert FIA Formula One Steward and Fan Explainer. The attached document is an official stewards' decision or incident report.

Explain the penalty it describes, cite the specific FIA Sporting Regulations involved, and compare it to historical precedents to determine consistency.

Maintain a tone that is authoritative yet accessible to casual fans.`

// contentGenerator is the part of *genai.GenerativeModel the analyzer uses
type contentGenerator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// Analyzer produces schema-constrained verdicts with Gemini
type Analyzer struct {
	model  contentGenerator
	logger *zap.Logger
}

// Option configures an Analyzer
type Option func(*Analyzer)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(a *Analyzer) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// NewAnalyzer configures modelName on client for JSON verdict output
func NewAnalyzer(client *genai.Client, modelName string, opts ...Option) *Analyzer {
	if modelName == "" {
		modelName = DefaultModel
	}

	model := client.GenerativeModel(modelName)
	model.ResponseMIMEType = "application/json"
	model.ResponseSchema = verdictSchema()
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(systemInstruction)},
	}
	model.SetTemperature(0.4)

	return newAnalyzer(model, opts...)
}

func newAnalyzer(model contentGenerator, opts ...Option) *Analyzer {
	a := &Analyzer{
		model:  model,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// AnalyzeIncident asks the model for a verdict on a free-text incident description
func (a *Analyzer) AnalyzeIncident(ctx context.Context, description string) (models.Verdict, error) {
	prompt := fmt.Sprintf(incidentPromptTemplate, description)
	return a.generate(ctx, genai.Text(prompt))
}

// AnalyzeDocument asks the model for a verdict on an attached document such as a stewards' decision PDF
func (a *Analyzer) AnalyzeDocument(ctx context.Context, data []byte, mimeType string) (models.Verdict, error) {
	if len(data) == 0 {
		return models.Verdict{}, ErrEmptyDocument
	}
	return a.generate(ctx,
		genai.Blob{MIMEType: mimeType, Data: data},
		genai.Text(documentPrompt),
	)
}

func (a *Analyzer) generate(ctx context.Context, parts ...genai.Part) (models.Verdict, error) {
	resp, err := a.model.GenerateContent(ctx, parts...)
	if err != nil {
		return models.Verdict{}, fmt.Errorf("gemini generate content: %w", err)
	}

	text := responseText(resp)
	if strings.TrimSpace(text) == "" {
		return models.Verdict{}, ErrEmptyResponse
	}

	verdict, err := ParseVerdict(text)
	if err != nil {
		a.logger.Warn("gemini returned an unparseable verdict", zap.Error(err), zap.Int("bytes", len(text)))
		return models.Verdict{}, err
	}
	return verdict, nil
}

// responseText joins the text parts of the first candidate
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	candidate := resp.Candidates[0]
	if candidate == nil || candidate.Content == nil {
		return ""
	}

	var sb strings.Builder
	for _, part := range candidate.Content.Parts {
		if t, ok := part.(genai.Text); ok {
			sb.WriteString(string(t))
		}
	}
	return sb.String()
}

// wireVerdict mirrors the response schema; numbers arrive as JSON floats
type wireVerdict struct {
	Title                string           `json:"title"`
	FanSummary           string           `json:"fan_summary"`
	TechnicalVerdict     string           `json:"technical_verdict"`
	PenaltySeverity      string           `json:"penalty_severity"`
	FairnessRating       float64          `json:"fairness_rating"`
	RegulationsBreached  []wireRegulation `json:"regulations_breached"`
	HistoricalPrecedents []wirePrecedent  `json:"historical_precedents"`
	KeyFactors           []string         `json:"key_factors"`
}

type wireRegulation struct {
	Article     string `json:"article"`
	Description string `json:"description"`
	Relevance   string `json:"relevance"`
}

type wirePrecedent struct {
	Driver          string  `json:"driver"`
	Year            string  `json:"year"`
	Race            string  `json:"race"`
	Incident        string  `json:"incident"`
	Penalty         string  `json:"penalty"`
	SimilarityScore float64 `json:"similarity_score"`
}

// ParseVerdict converts the model's JSON output into a Verdict.
// The raw text is kept in RawResponse.
func ParseVerdict(text string) (models.Verdict, error) {
	body := stripCodeFence(text)

	var w wireVerdict
	if err := json.Unmarshal([]byte(body), &w); err != nil {
		return models.Verdict{}, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}

	severity, _ := models.ParseSeverity(w.PenaltySeverity)

	regulations := make([]models.Regulation, 0, len(w.RegulationsBreached))
	for i, r := range w.RegulationsBreached {
		regulations = append(regulations, models.Regulation{
			Article:     r.Article,
			Description: r.Description,
			Relevance:   r.Relevance,
			ID:          fmt.Sprintf("%s-%d", r.Article, i),
		})
	}

	precedents := make([]models.Precedent, 0, len(w.HistoricalPrecedents))
	for i, p := range w.HistoricalPrecedents {
		precedents = append(precedents, models.Precedent{
			Driver:          p.Driver,
			Year:            p.Year,
			Race:            p.Race,
			Incident:        p.Incident,
			Penalty:         p.Penalty,
			SimilarityScore: clampScore(p.SimilarityScore),
			ID:              fmt.Sprintf("precedent-%d", i),
		})
	}

	keyFactors := w.KeyFactors
	if keyFactors == nil {
		keyFactors = []string{}
	}

	return models.Verdict{
		Title:                w.Title,
		FanSummary:           w.FanSummary,
		TechnicalVerdict:     w.TechnicalVerdict,
		PenaltySeverity:      severity,
		FairnessRating:       clampScore(w.FairnessRating),
		RegulationsBreached:  regulations,
		HistoricalPrecedents: precedents,
		KeyFactors:           keyFactors,
		RawResponse:          text,
	}, nil
}

// clampScore rounds to the nearest integer within [0, 100]
func clampScore(v float64) int {
	if math.IsNaN(v) {
		return 0
	}
	return int(math.Max(0, math.Min(100, math.Round(v))))
}

func stripCodeFence(text string) string {
	s := strings.TrimSpace(text)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

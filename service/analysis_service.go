package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"penaltydesk-backend/annotator"
	"penaltydesk-backend/ingest"
	"penaltydesk-backend/metrics"
	"penaltydesk-backend/models"
	"penaltydesk-backend/repository"
	"penaltydesk-backend/storage"
	"penaltydesk-backend/upstream"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// MaxBatchSize bounds the number of prompts in one batch request
const MaxBatchSize = 20

const (
	// DefaultPrompt stands in for a blank incident description
	DefaultPrompt = "Analyze this Formula 1 penalty incident."

	defaultListLimit = 50
	maxListLimit     = 200
	// maxQueryRunes bounds document text sent to the query service in a URL
	maxQueryRunes = 8000
)

var (
	ErrUpstreamFailed        = errors.New("steward model request failed")
	ErrStructuredUnavailable = errors.New("structured analysis is not configured")
	ErrInvalidMode           = errors.New("invalid analysis mode")
	ErrInvalidLLMChoice      = errors.New("invalid llm choice")
	ErrEmptyBatch            = errors.New("batch contains no prompts")
	ErrBatchTooLarge         = fmt.Errorf("batch exceeds %d prompts", MaxBatchSize)
	ErrAnalysisNotFound      = errors.New("analysis not found")
	ErrNoDocument            = errors.New("analysis has no source document")
)

// ReplySource answers a prompt with free text from the steward model
type ReplySource interface {
	Query(ctx context.Context, prompt, llmChoice string) (string, error)
}

// StructuredAnalyzer produces schema-constrained verdicts
type StructuredAnalyzer interface {
	AnalyzeIncident(ctx context.Context, description string) (models.Verdict, error)
	AnalyzeDocument(ctx context.Context, data []byte, mimeType string) (models.Verdict, error)
}

// AnalysisService handles business logic for incident analyses
type AnalysisService struct {
	analysisRepo repository.AnalysisRepository
	jobRepo      repository.AnalysisJobRepository
	replySource  ReplySource
	analyzer     StructuredAnalyzer
	storage      storage.Storage
	metrics      *metrics.Recorder
	logger       *zap.Logger

	defaultMode      models.AnalysisMode
	defaultPrompt    string
	defaultLLMChoice string
	batchConcurrency int
}

// AnalysisServiceOption is a functional option for AnalysisService
type AnalysisServiceOption func(*AnalysisService)

// WithAnalysisRepository sets the analysis repository
func WithAnalysisRepository(repo repository.AnalysisRepository) AnalysisServiceOption {
	return func(s *AnalysisService) {
		s.analysisRepo = repo
	}
}

// WithAnalysisJobRepository sets the analysis job repository
func WithAnalysisJobRepository(repo repository.AnalysisJobRepository) AnalysisServiceOption {
	return func(s *AnalysisService) {
		s.jobRepo = repo
	}
}

// WithReplySource sets the free-text steward model used by heuristic analysis
func WithReplySource(src ReplySource) AnalysisServiceOption {
	return func(s *AnalysisService) {
		s.replySource = src
	}
}

// WithStructuredAnalyzer sets the analyzer used by structured analysis
func WithStructuredAnalyzer(a StructuredAnalyzer) AnalysisServiceOption {
	return func(s *AnalysisService) {
		s.analyzer = a
	}
}

// WithDocumentStorage sets the storage for uploaded incident documents
func WithDocumentStorage(st storage.Storage) AnalysisServiceOption {
	return func(s *AnalysisService) {
		s.storage = st
	}
}

// WithMetrics sets the metrics recorder
func WithMetrics(m *metrics.Recorder) AnalysisServiceOption {
	return func(s *AnalysisService) {
		s.metrics = m
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) AnalysisServiceOption {
	return func(s *AnalysisService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithDefaultMode sets the mode used when a request names none
func WithDefaultMode(mode models.AnalysisMode) AnalysisServiceOption {
	return func(s *AnalysisService) {
		if mode != "" {
			s.defaultMode = mode
		}
	}
}

// WithDefaultPrompt sets the prompt used for blank incident descriptions
func WithDefaultPrompt(prompt string) AnalysisServiceOption {
	return func(s *AnalysisService) {
		if strings.TrimSpace(prompt) != "" {
			s.defaultPrompt = prompt
		}
	}
}

// WithDefaultLLMChoice sets the llm_choice used when a request names none
func WithDefaultLLMChoice(choice string) AnalysisServiceOption {
	return func(s *AnalysisService) {
		if choice != "" {
			s.defaultLLMChoice = choice
		}
	}
}

// WithBatchConcurrency bounds the number of batch items analysed at once
func WithBatchConcurrency(n int) AnalysisServiceOption {
	return func(s *AnalysisService) {
		if n > 0 {
			s.batchConcurrency = n
		}
	}
}

// NewAnalysisService creates a new analysis service
func NewAnalysisService(opts ...AnalysisServiceOption) *AnalysisService {
	s := &AnalysisService{
		logger:           zap.NewNop(),
		defaultMode:      models.ModeHeuristic,
		defaultPrompt:    DefaultPrompt,
		defaultLLMChoice: models.LLMChoiceDefault,
		batchConcurrency: 4,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AnalyzeRequest represents a request to analyse one incident
type AnalyzeRequest struct {
	Prompt    string
	Mode      models.AnalysisMode
	LLMChoice string
}

// AnalyzeResult represents the result of analysing one incident
type AnalyzeResult struct {
	Analysis *models.Analysis
}

// Analyze produces and persists a verdict for a single incident description
func (s *AnalysisService) Analyze(ctx context.Context, req AnalyzeRequest) (*AnalyzeResult, error) {
	if s.analysisRepo == nil {
		return nil, errors.New("analysis repository not set")
	}

	params, err := s.resolve(req.Prompt, req.Mode, req.LLMChoice)
	if err != nil {
		return nil, err
	}

	verdict, err := s.verdictFor(ctx, params)
	if err != nil {
		return nil, err
	}

	analysis := params.newAnalysis(verdict)
	if err := s.analysisRepo.Create(ctx, analysis); err != nil {
		return nil, fmt.Errorf("failed to save analysis: %w", err)
	}

	return &AnalyzeResult{Analysis: analysis}, nil
}

// BatchRequest represents a request to analyse several incidents
type BatchRequest struct {
	Prompts   []string
	Mode      models.AnalysisMode
	LLMChoice string
}

// BatchItem is the outcome for one prompt of a batch
type BatchItem struct {
	Index    int              `json:"index"`
	Prompt   string           `json:"prompt"`
	Analysis *models.Analysis `json:"analysis,omitempty"`
	Error    string           `json:"error,omitempty"`
}

// BatchResult represents the result of a batch analysis, in input order
type BatchResult struct {
	Items     []BatchItem `json:"items"`
	Succeeded int         `json:"succeeded"`
	Failed    int         `json:"failed"`
}

// AnalyzeBatch analyses every prompt with bounded concurrency.
// A failing item is reported in its BatchItem and does not abort the batch.
func (s *AnalysisService) AnalyzeBatch(ctx context.Context, req BatchRequest) (*BatchResult, error) {
	if len(req.Prompts) == 0 {
		return nil, ErrEmptyBatch
	}
	if len(req.Prompts) > MaxBatchSize {
		return nil, ErrBatchTooLarge
	}
	// reject bad mode or llm_choice once rather than once per item
	if _, err := s.resolve("", req.Mode, req.LLMChoice); err != nil {
		return nil, err
	}

	items := make([]BatchItem, len(req.Prompts))

	var g errgroup.Group
	g.SetLimit(s.batchConcurrency)
	for i, prompt := range req.Prompts {
		g.Go(func() error {
			item := BatchItem{Index: i, Prompt: prompt}
			res, err := s.Analyze(ctx, AnalyzeRequest{Prompt: prompt, Mode: req.Mode, LLMChoice: req.LLMChoice})
			if err != nil {
				item.Error = err.Error()
			} else {
				item.Analysis = res.Analysis
			}
			items[i] = item
			return nil
		})
	}
	_ = g.Wait()

	result := &BatchResult{Items: items}
	for _, item := range items {
		if item.Error != "" {
			result.Failed++
		} else {
			result.Succeeded++
		}
	}

	s.logger.Info("batch analysis finished",
		zap.Int("size", len(items)),
		zap.Int("succeeded", result.Succeeded),
		zap.Int("failed", result.Failed),
	)
	return result, nil
}

// AnalyzeDocumentRequest represents an uploaded incident document
type AnalyzeDocumentRequest struct {
	Filename    string
	ContentType string
	Data        []byte
	// Prompt optionally frames the document, e.g. a question about it
	Prompt    string
	Mode      models.AnalysisMode
	LLMChoice string
}

// AnalyzeDocument stores an incident document and produces a verdict from it.
// PDFs are always analysed by the structured analyzer.
func (s *AnalysisService) AnalyzeDocument(ctx context.Context, req AnalyzeDocumentRequest) (*AnalyzeResult, error) {
	if s.analysisRepo == nil {
		return nil, errors.New("analysis repository not set")
	}
	if s.storage == nil {
		return nil, errors.New("document storage not set")
	}

	doc, err := ingest.Prepare(req.Filename, req.ContentType, req.Data)
	if err != nil {
		return nil, err
	}

	params, err := s.resolve(req.Prompt, req.Mode, req.LLMChoice)
	if err != nil {
		return nil, err
	}
	if doc.Binary() {
		if s.analyzer == nil {
			return nil, ErrStructuredUnavailable
		}
		params.mode = models.ModeStructured
		params.llmChoice = ""
	}

	id := uuid.New()
	storagePath, err := s.storage.Upload(ctx, id, req.Filename, doc.ContentType, bytes.NewReader(req.Data))
	if err != nil {
		return nil, fmt.Errorf("failed to store document: %w", err)
	}

	analysis, err := s.analyzeDocument(ctx, params, doc)
	if err != nil {
		s.discardDocument(ctx, storagePath)
		return nil, err
	}

	analysis.ID = id
	analysis.SourcePath = &storagePath
	analysis.SourceFilename = &req.Filename
	analysis.SourceMimeType = &doc.ContentType

	if err := s.analysisRepo.Create(ctx, analysis); err != nil {
		s.discardDocument(ctx, storagePath)
		return nil, fmt.Errorf("failed to save analysis: %w", err)
	}

	s.logger.Info("document analysed",
		zap.String("analysis_id", analysis.ID.String()),
		zap.String("content_type", doc.ContentType),
		zap.Int("pages", doc.Pages),
		zap.String("severity", string(analysis.Verdict.PenaltySeverity)),
	)
	return &AnalyzeResult{Analysis: analysis}, nil
}

func (s *AnalysisService) analyzeDocument(ctx context.Context, params analysisParams, doc *ingest.Document) (*models.Analysis, error) {
	if doc.Binary() {
		verdict, err := s.analyzer.AnalyzeDocument(ctx, doc.Data, doc.ContentType)
		if err != nil {
			return nil, s.upstreamFailure(params.mode, err)
		}
		s.metrics.AnalysisCompleted(string(params.mode), string(verdict.PenaltySeverity))
		return params.newAnalysis(verdict), nil
	}

	text := doc.Text
	if doc.Title != "" && !strings.Contains(text, doc.Title) {
		text = doc.Title + "\n\n" + text
	}
	if params.explicitPrompt {
		text = params.prompt + "\n\n" + text
	}
	if params.mode == models.ModeHeuristic {
		text = truncateRunes(text, maxQueryRunes)
	}

	verdict, err := s.verdictFor(ctx, analysisParams{
		prompt:    text,
		mode:      params.mode,
		llmChoice: params.llmChoice,
	})
	if err != nil {
		return nil, err
	}
	return params.newAnalysis(verdict), nil
}

func (s *AnalysisService) discardDocument(ctx context.Context, storagePath string) {
	if err := s.storage.Delete(ctx, storagePath); err != nil {
		s.logger.Warn("failed to remove stored document", zap.String("path", storagePath), zap.Error(err))
	}
}

// GetAnalysis retrieves an analysis by ID
func (s *AnalysisService) GetAnalysis(ctx context.Context, id uuid.UUID) (*models.Analysis, error) {
	if s.analysisRepo == nil {
		return nil, errors.New("analysis repository not set")
	}

	analysis, err := s.analysisRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrAnalysisNotFound
		}
		return nil, err
	}
	return analysis, nil
}

// ListAnalysesRequest represents a request to list analyses
type ListAnalysesRequest struct {
	Severity *models.Severity
	Limit    int
	Offset   int
}

// ListAnalyses lists analyses newest first
func (s *AnalysisService) ListAnalyses(ctx context.Context, req ListAnalysesRequest) ([]*models.Analysis, error) {
	if s.analysisRepo == nil {
		return nil, errors.New("analysis repository not set")
	}

	limit := req.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	offset := max(req.Offset, 0)

	return s.analysisRepo.List(ctx, req.Severity, limit, offset)
}

// DeleteAnalysis deletes an analysis and its stored document
func (s *AnalysisService) DeleteAnalysis(ctx context.Context, id uuid.UUID) error {
	analysis, err := s.GetAnalysis(ctx, id)
	if err != nil {
		return err
	}

	if err := s.analysisRepo.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrAnalysisNotFound
		}
		return err
	}

	if analysis.SourcePath != nil && s.storage != nil {
		s.discardDocument(ctx, *analysis.SourcePath)
	}
	return nil
}

// OpenDocument returns the stored source document of an analysis. The caller closes the reader.
func (s *AnalysisService) OpenDocument(ctx context.Context, id uuid.UUID) (io.ReadCloser, *models.Analysis, error) {
	analysis, err := s.GetAnalysis(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if analysis.SourcePath == nil || s.storage == nil {
		return nil, nil, ErrNoDocument
	}

	rc, err := s.storage.Download(ctx, *analysis.SourcePath)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil, ErrNoDocument
		}
		return nil, nil, err
	}
	return rc, analysis, nil
}

// analysisParams are request values after defaults and validation
type analysisParams struct {
	prompt         string
	explicitPrompt bool
	mode           models.AnalysisMode
	llmChoice      string
}

func (p analysisParams) newAnalysis(verdict models.Verdict) *models.Analysis {
	return &models.Analysis{
		ID:        uuid.New(),
		Prompt:    p.prompt,
		Mode:      p.mode,
		LLMChoice: p.llmChoice,
		Verdict:   verdict,
	}
}

func (s *AnalysisService) resolve(prompt string, mode models.AnalysisMode, llmChoice string) (analysisParams, error) {
	p := analysisParams{prompt: prompt, explicitPrompt: true, mode: mode, llmChoice: llmChoice}

	if strings.TrimSpace(p.prompt) == "" {
		p.prompt = s.defaultPrompt
		p.explicitPrompt = false
	}
	if p.mode == "" {
		p.mode = s.defaultMode
	}
	if !p.mode.Valid() {
		return p, fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}

	if p.mode == models.ModeStructured {
		if s.analyzer == nil {
			return p, ErrStructuredUnavailable
		}
		p.llmChoice = ""
		return p, nil
	}

	if p.llmChoice == "" {
		p.llmChoice = s.defaultLLMChoice
	}
	if !upstream.ValidLLMChoice(p.llmChoice) {
		return p, fmt.Errorf("%w: %q", ErrInvalidLLMChoice, llmChoice)
	}
	return p, nil
}

// verdictFor runs the configured model for params.mode
func (s *AnalysisService) verdictFor(ctx context.Context, params analysisParams) (models.Verdict, error) {
	var verdict models.Verdict

	switch params.mode {
	case models.ModeStructured:
		v, err := s.analyzer.AnalyzeIncident(ctx, params.prompt)
		if err != nil {
			return verdict, s.upstreamFailure(params.mode, err)
		}
		verdict = v

	default:
		reply, err := s.queryReply(ctx, params)
		if err != nil {
			return verdict, err
		}
		verdict = annotator.Annotate(params.prompt, reply)
	}

	s.metrics.AnalysisCompleted(string(params.mode), string(verdict.PenaltySeverity))
	return verdict, nil
}

func (s *AnalysisService) queryReply(ctx context.Context, params analysisParams) (string, error) {
	if s.replySource == nil {
		return "", errors.New("reply source not set")
	}
	reply, err := s.replySource.Query(ctx, params.prompt, params.llmChoice)
	if err != nil {
		return "", s.upstreamFailure(params.mode, err)
	}
	return reply, nil
}

func (s *AnalysisService) upstreamFailure(mode models.AnalysisMode, err error) error {
	s.metrics.UpstreamFailed()
	s.logger.Warn("steward model request failed", zap.String("mode", string(mode)), zap.Error(err))
	return fmt.Errorf("%w: %w", ErrUpstreamFailed, err)
}

func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}

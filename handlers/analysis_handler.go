package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"

	"penaltydesk-backend/models"
	"penaltydesk-backend/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultMaxDocumentSize caps uploaded incident documents
const DefaultMaxDocumentSize = 10 * 1024 * 1024

// AnalysisHandler handles HTTP requests for incident analyses
type AnalysisHandler struct {
	analysisService *service.AnalysisService
	logger          *zap.Logger
	maxFileSize     int64
	jobs            sync.WaitGroup
}

// NewAnalysisHandler creates a new analysis handler
func NewAnalysisHandler(analysisService *service.AnalysisService, logger *zap.Logger) *AnalysisHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AnalysisHandler{
		analysisService: analysisService,
		logger:          logger,
		maxFileSize:     DefaultMaxDocumentSize,
	}
}

// WaitForJobs blocks until every background job started by this handler has finished
func (h *AnalysisHandler) WaitForJobs() {
	h.jobs.Wait()
}

// AnalyzeRequest represents the request body for analysing an incident
type AnalyzeRequest struct {
	IncidentDescription string `json:"incident_description"`
	// IncidentDescriptionCamel accepts the camelCase field sent by older clients
	IncidentDescriptionCamel string `json:"incidentDescription"`
	Prompt                   string `json:"prompt"`
	Mode                     string `json:"mode"`
	LLMChoice                string `json:"llm_choice"`
}

func (r AnalyzeRequest) description() string {
	switch {
	case r.IncidentDescription != "":
		return r.IncidentDescription
	case r.IncidentDescriptionCamel != "":
		return r.IncidentDescriptionCamel
	default:
		return r.Prompt
	}
}

// bindOptionalJSON binds a JSON body that may be absent
func bindOptionalJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil && !errors.Is(err, io.EOF) {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return false
	}
	return true
}

// Analyze handles POST /api/analyze
func (h *AnalysisHandler) Analyze(c *gin.Context) {
	var req AnalyzeRequest
	if !bindOptionalJSON(c, &req) {
		return
	}

	result, err := h.analysisService.Analyze(c.Request.Context(), service.AnalyzeRequest{
		Prompt:    req.description(),
		Mode:      models.AnalysisMode(req.Mode),
		LLMChoice: req.LLMChoice,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}

	respondOK(c, http.StatusOK, result.Analysis)
}

// BatchRequest represents the request body for batch analysis
type BatchRequest struct {
	Prompts   []string `json:"prompts" binding:"required"`
	Mode      string   `json:"mode"`
	LLMChoice string   `json:"llm_choice"`
}

// AnalyzeBatch handles POST /api/analyses/batch
func (h *AnalysisHandler) AnalyzeBatch(c *gin.Context) {
	var req BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	result, err := h.analysisService.AnalyzeBatch(c.Request.Context(), service.BatchRequest{
		Prompts:   req.Prompts,
		Mode:      models.AnalysisMode(req.Mode),
		LLMChoice: req.LLMChoice,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}

	respondOK(c, http.StatusOK, result)
}

// UploadDocument handles POST /api/analyses/upload
func (h *AnalysisHandler) UploadDocument(c *gin.Context) {
	// leave room for the other multipart fields
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxFileSize+1<<20)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			respondError(c, http.StatusBadRequest, "FILE_TOO_LARGE", fmt.Sprintf("File size exceeds maximum of %d bytes", h.maxFileSize))
			return
		}
		respondError(c, http.StatusBadRequest, "MISSING_FILE", "File is required")
		return
	}

	if fileHeader.Size > h.maxFileSize {
		respondError(c, http.StatusBadRequest, "FILE_TOO_LARGE", fmt.Sprintf("File size exceeds maximum of %d bytes", h.maxFileSize))
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		respondError(c, http.StatusInternalServerError, "FILE_OPEN_ERROR", err.Error())
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "FILE_READ_ERROR", err.Error())
		return
	}

	result, err := h.analysisService.AnalyzeDocument(c.Request.Context(), service.AnalyzeDocumentRequest{
		Filename:    fileHeader.Filename,
		ContentType: fileHeader.Header.Get("Content-Type"),
		Data:        data,
		Prompt:      c.PostForm("prompt"),
		Mode:        models.AnalysisMode(c.PostForm("mode")),
		LLMChoice:   c.PostForm("llm_choice"),
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}

	respondOK(c, http.StatusCreated, result.Analysis)
}

// ListAnalyses handles GET /api/analyses
func (h *AnalysisHandler) ListAnalyses(c *gin.Context) {
	var req service.ListAnalysesRequest

	if s := c.Query("severity"); s != "" {
		severity, ok := models.ParseSeverity(s)
		if !ok {
			respondError(c, http.StatusBadRequest, "INVALID_SEVERITY", fmt.Sprintf("Unknown severity %q", s))
			return
		}
		req.Severity = &severity
	}

	var err error
	if req.Limit, err = intQuery(c, "limit"); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_LIMIT", "limit must be an integer")
		return
	}
	if req.Offset, err = intQuery(c, "offset"); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_OFFSET", "offset must be an integer")
		return
	}

	analyses, err := h.analysisService.ListAnalyses(c.Request.Context(), req)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	respondOK(c, http.StatusOK, analyses)
}

func intQuery(c *gin.Context, key string) (int, error) {
	v := c.Query(key)
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}

// parseID parses the :id path parameter, writing a 400 on failure
func parseID(c *gin.Context, what string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_ID", fmt.Sprintf("Invalid %s ID format", what))
		return uuid.Nil, false
	}
	return id, true
}

// GetAnalysis handles GET /api/analyses/:id
func (h *AnalysisHandler) GetAnalysis(c *gin.Context) {
	id, ok := parseID(c, "analysis")
	if !ok {
		return
	}

	analysis, err := h.analysisService.GetAnalysis(c.Request.Context(), id)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	respondOK(c, http.StatusOK, analysis)
}

// DeleteAnalysis handles DELETE /api/analyses/:id
func (h *AnalysisHandler) DeleteAnalysis(c *gin.Context) {
	id, ok := parseID(c, "analysis")
	if !ok {
		return
	}

	if err := h.analysisService.DeleteAnalysis(c.Request.Context(), id); err != nil {
		respondServiceError(c, err)
		return
	}

	respondOK(c, http.StatusOK, gin.H{"id": id, "deleted": true})
}

// GetDocument handles GET /api/analyses/:id/document
func (h *AnalysisHandler) GetDocument(c *gin.Context) {
	id, ok := parseID(c, "analysis")
	if !ok {
		return
	}

	reader, analysis, err := h.analysisService.OpenDocument(c.Request.Context(), id)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	defer reader.Close()

	mimeType := "application/octet-stream"
	if analysis.SourceMimeType != nil {
		mimeType = *analysis.SourceMimeType
	}
	filename := "incident"
	if analysis.SourceFilename != nil {
		filename = *analysis.SourceFilename
	}

	c.DataFromReader(http.StatusOK, -1, mimeType, reader, map[string]string{
		"Content-Disposition": fmt.Sprintf("attachment; filename=%q", filename),
	})
}

// SubmitJob handles POST /api/analyses/jobs
func (h *AnalysisHandler) SubmitJob(c *gin.Context) {
	var req AnalyzeRequest
	if !bindOptionalJSON(c, &req) {
		return
	}

	// create job (synchronous, fast)
	result, err := h.analysisService.SubmitJob(c.Request.Context(), service.SubmitJobRequest{
		Prompt:    req.description(),
		Mode:      models.AnalysisMode(req.Mode),
		LLMChoice: req.LLMChoice,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}

	jobID := result.Job.ID
	h.jobs.Add(1)
	// background context: the job outlives the request
	go func() {
		defer h.jobs.Done()
		if err := h.analysisService.ProcessJob(context.Background(), jobID); err != nil {
			h.logger.Warn("analysis job failed", zap.String("job_id", jobID.String()), zap.Error(err))
		}
	}()

	respondOK(c, http.StatusAccepted, gin.H{
		"job_id":  jobID,
		"status":  models.JobStatusPending,
		"message": "Analysis job created. Poll /api/jobs/:id for updates.",
	})
}

// GetJobStatus handles GET /api/jobs/:id
func (h *AnalysisHandler) GetJobStatus(c *gin.Context) {
	id, ok := parseID(c, "job")
	if !ok {
		return
	}

	job, err := h.analysisService.GetJobStatus(c.Request.Context(), id)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	respondOK(c, http.StatusOK, job)
}

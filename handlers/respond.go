package handlers

import (
	"errors"
	"net/http"

	"penaltydesk-backend/ingest"
	"penaltydesk-backend/service"

	"github.com/gin-gonic/gin"
)

func respondOK(c *gin.Context, status int, data any) {
	c.JSON(status, gin.H{
		"success": true,
		"data":    data,
	})
}

func respondError(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{
		"success": false,
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	})
}

// serviceError maps a service error to its HTTP status and error code
func serviceError(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrAnalysisNotFound),
		errors.Is(err, service.ErrJobNotFound),
		errors.Is(err, service.ErrChatNotFound),
		errors.Is(err, service.ErrNoDocument):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, service.ErrInvalidMode):
		return http.StatusBadRequest, "INVALID_MODE"
	case errors.Is(err, service.ErrInvalidLLMChoice):
		return http.StatusBadRequest, "INVALID_LLM_CHOICE"
	case errors.Is(err, service.ErrEmptyBatch),
		errors.Is(err, service.ErrBatchTooLarge):
		return http.StatusBadRequest, "INVALID_BATCH"
	case errors.Is(err, service.ErrEmptyMessage):
		return http.StatusBadRequest, "EMPTY_MESSAGE"
	case errors.Is(err, ingest.ErrUnsupportedDocument):
		return http.StatusUnsupportedMediaType, "UNSUPPORTED_DOCUMENT"
	case errors.Is(err, ingest.ErrCorruptDocument),
		errors.Is(err, ingest.ErrTooManyPages),
		errors.Is(err, ingest.ErrEmptyDocument):
		return http.StatusUnprocessableEntity, "INVALID_DOCUMENT"
	case errors.Is(err, service.ErrUpstreamFailed):
		return http.StatusBadGateway, "UPSTREAM_FAILED"
	case errors.Is(err, service.ErrStructuredUnavailable):
		return http.StatusServiceUnavailable, "STRUCTURED_UNAVAILABLE"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}

func respondServiceError(c *gin.Context, err error) {
	status, code := serviceError(err)
	respondError(c, status, code, err.Error())
}

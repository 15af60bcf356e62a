package handlers

import (
	"net/http"

	"penaltydesk-backend/metrics"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RouterConfig holds what the HTTP routes are wired to
type RouterConfig struct {
	Analyses    *AnalysisHandler
	Chats       *ChatHandler
	Metrics     *metrics.Recorder
	Logger      *zap.Logger
	CORSOrigins []string
}

// NewRouter builds the gin engine with middleware and every route
func NewRouter(cfg RouterConfig) *gin.Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger(logger))
	r.Use(cfg.Metrics.Middleware())
	r.Use(CORS(cfg.CORSOrigins))

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "Welcome to the Penalty Desk API",
		})
	})

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
		})
	})
	r.GET("/metrics", gin.WrapH(cfg.Metrics.Handler()))

	api := r.Group("/api")
	{
		if h := cfg.Analyses; h != nil {
			api.POST("/analyze", h.Analyze)
			api.POST("/analyses/batch", h.AnalyzeBatch)
			api.POST("/analyses/upload", h.UploadDocument)
			api.POST("/analyses/jobs", h.SubmitJob)
			api.GET("/analyses", h.ListAnalyses)
			api.GET("/analyses/:id", h.GetAnalysis)
			api.GET("/analyses/:id/document", h.GetDocument)
			api.DELETE("/analyses/:id", h.DeleteAnalysis)

			// Job endpoints
			api.GET("/jobs/:id", h.GetJobStatus)
		}

		if h := cfg.Chats; h != nil {
			api.POST("/chats", h.StartChat)
			api.GET("/chats", h.ListChats)
			api.GET("/chats/:id", h.GetChat)
			api.POST("/chats/:id/messages", h.ContinueChat)
		}
	}

	return r
}

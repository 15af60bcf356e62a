package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder_Counters(t *testing.T) {
	r := NewRecorder()

	r.AnalysisCompleted("heuristic", "Time Penalty")
	r.AnalysisCompleted("heuristic", "Time Penalty")
	r.AnalysisCompleted("structured", "Warning")
	r.UpstreamFailed()

	assert.Equal(t, 2.0, testutil.ToFloat64(r.analyses.WithLabelValues("heuristic", "Time Penalty")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.analyses.WithLabelValues("structured", "Warning")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.upstreamFailures))
}

func TestRecorder_NilIsSafe(t *testing.T) {
	var r *Recorder
	assert.NotPanics(t, func() {
		r.AnalysisCompleted("heuristic", "Warning")
		r.UpstreamFailed()
	})

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(r.Middleware())
	router.GET("/ping", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestRecorder_MiddlewareAndHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := NewRecorder()

	router := gin.New()
	router.Use(r.Middleware())
	router.GET("/api/analyses/:id", func(c *gin.Context) { c.Status(http.StatusNotFound) })
	router.GET("/metrics", gin.WrapH(r.Handler()))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/analyses/123", nil))
	require.Equal(t, http.StatusNotFound, w.Code)

	assert.Equal(t, 1, testutil.CollectAndCount(r.requestDuration))

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	body, err := io.ReadAll(w.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `penaltydesk_http_request_duration_seconds_count{method="GET",route="/api/analyses/:id",status="404"} 1`))
}

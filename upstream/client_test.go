package upstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"penaltydesk-backend/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(url string, opts ...Option) *Client {
	opts = append([]Option{WithInitialBackoff(time.Millisecond)}, opts...)
	return NewClient(url, opts...)
}

func TestQuery_Success(t *testing.T) {
	var gotPrompt, gotChoice, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotPrompt = r.URL.Query().Get("prompt")
		gotChoice = r.URL.Query().Get("llm_choice")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"response":"Under Article 38.1 a 5 second time penalty applies."}`))
	}))
	defer srv.Close()

	reply, err := newTestClient(srv.URL+"/").Query(context.Background(), "Car 44 & car 1 collided", "")
	require.NoError(t, err)
	assert.Equal(t, "Under Article 38.1 a 5 second time penalty applies.", reply)
	assert.Equal(t, "/query/", gotPath)
	assert.Equal(t, "Car 44 & car 1 collided", gotPrompt)
	assert.Equal(t, models.LLMChoiceDefault, gotChoice)
}

func TestQuery_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"response":"No further action."}`))
	}))
	defer srv.Close()

	reply, err := newTestClient(srv.URL).Query(context.Background(), "incident", models.LLMChoiceFinetuned)
	require.NoError(t, err)
	assert.Equal(t, "No further action.", reply)
	assert.Equal(t, int32(3), calls.Load())
}

func TestQuery_GivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"model overloaded"}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, WithMaxRetries(2)).Query(context.Background(), "incident", "")
	require.Error(t, err)
	assert.Equal(t, int32(2), calls.Load())

	msg, ok := ErrorMessage(err)
	assert.True(t, ok)
	assert.Equal(t, "model overloaded", msg)
}

func TestQuery_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"Invalid LLM choice"}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Query(context.Background(), "incident", "")
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "Invalid LLM choice", apiErr.Message)
}

func TestQuery_ErrorFieldOnSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error":"retrieval index missing"}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, WithMaxRetries(1)).Query(context.Background(), "incident", "")
	msg, ok := ErrorMessage(err)
	assert.True(t, ok)
	assert.Equal(t, "retrieval index missing", msg)
}

func TestQuery_ValidatesInput(t *testing.T) {
	c := NewClient("http://127.0.0.1:0")

	_, err := c.Query(context.Background(), "   ", "")
	assert.ErrorIs(t, err, ErrEmptyPrompt)

	_, err = c.Query(context.Background(), "incident", "gpt")
	assert.ErrorIs(t, err, ErrInvalidLLMChoice)
}

func TestQuery_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewClient(srv.URL, WithInitialBackoff(time.Hour)).Query(ctx, "incident", "")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestErrorMessage_NonAPIError(t *testing.T) {
	_, ok := ErrorMessage(assert.AnError)
	assert.False(t, ok)
}

func TestNewClient_TimeoutDoesNotMutateSharedClient(t *testing.T) {
	shared := &http.Client{Timeout: 5 * time.Second}

	before := NewClient("http://steward.local", WithTimeout(2*time.Second), WithHTTPClient(shared))
	after := NewClient("http://steward.local", WithHTTPClient(shared), WithTimeout(2*time.Second))

	assert.Equal(t, 5*time.Second, shared.Timeout)
	assert.NotSame(t, shared, before.httpClient)
	assert.Equal(t, 2*time.Second, before.httpClient.Timeout)
	assert.Equal(t, 2*time.Second, after.httpClient.Timeout)

	plain := NewClient("http://steward.local")
	assert.Equal(t, defaultTimeout, plain.httpClient.Timeout)

	own := NewClient("http://steward.local", WithHTTPClient(shared))
	assert.Same(t, shared, own.httpClient)
}

package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"penaltydesk-backend/models"

	"go.uber.org/zap"
)

const (
	defaultTimeout        = 60 * time.Second
	defaultMaxRetries     = 3
	defaultInitialBackoff = time.Second
	maxErrorBodyBytes     = 64 << 10
)

var (
	// ErrEmptyPrompt is returned when Query is called without a prompt
	ErrEmptyPrompt = errors.New("prompt is required")
	// ErrInvalidLLMChoice is returned for an llm_choice the query service does not understand
	ErrInvalidLLMChoice = errors.New("invalid llm choice")
)

// APIError is a non-2xx reply from the query service
type APIError struct {
	StatusCode int
	// Message is the body's "error" field, empty when the body carried none
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("upstream error %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("upstream error %d", e.StatusCode)
}

// ErrorMessage returns the upstream "error" field carried by err, if any
func ErrorMessage(err error) (string, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message, true
	}
	return "", false
}

// queryResponse is the body returned by GET /query/
type queryResponse struct {
	Response string `json:"response"`
	Error    string `json:"error"`
}

// Client queries the steward model service
type Client struct {
	baseURL        string
	httpClient     *http.Client
	timeout        time.Duration
	maxRetries     int
	initialBackoff time.Duration
	logger         *zap.Logger
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient sets the underlying http client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimeout sets the per-attempt request timeout, applied after all options
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithMaxRetries sets the total number of attempts
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxRetries = n
		}
	}
}

// WithInitialBackoff sets the wait before the second attempt; it doubles afterwards
func WithInitialBackoff(d time.Duration) Option {
	return func(c *Client) {
		c.initialBackoff = d
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient creates a client for the query service at baseURL
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		httpClient:     &http.Client{Timeout: defaultTimeout},
		maxRetries:     defaultMaxRetries,
		initialBackoff: defaultInitialBackoff,
		logger:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	// a shallow copy keeps a shared client such as http.DefaultClient untouched
	if c.timeout > 0 {
		hc := *c.httpClient
		hc.Timeout = c.timeout
		c.httpClient = &hc
	}
	return c
}

// ValidLLMChoice reports whether choice is understood by the query service
func ValidLLMChoice(choice string) bool {
	return choice == models.LLMChoiceDefault || choice == models.LLMChoiceFinetuned
}

// Query sends the prompt to the steward model and returns its free-text reply
func (c *Client) Query(ctx context.Context, prompt, llmChoice string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", ErrEmptyPrompt
	}
	if llmChoice == "" {
		llmChoice = models.LLMChoiceDefault
	}
	if !ValidLLMChoice(llmChoice) {
		return "", fmt.Errorf("%w: %s", ErrInvalidLLMChoice, llmChoice)
	}

	params := url.Values{}
	params.Set("prompt", prompt)
	params.Set("llm_choice", llmChoice)
	endpoint := c.baseURL + "/query/?" + params.Encode()

	var lastErr error
	backoff := c.initialBackoff
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		reply, err := c.do(ctx, endpoint)
		if err == nil {
			return reply, nil
		}
		lastErr = err

		// 4xx means the request itself is wrong; retrying will not help
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode < http.StatusInternalServerError {
			return "", err
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		c.logger.Warn("upstream query attempt failed",
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", c.maxRetries),
			zap.Error(err),
		)
	}

	return "", fmt.Errorf("query failed after %d attempts: %w", c.maxRetries, lastErr)
}

func (c *Client) do(ctx context.Context, endpoint string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		var payload queryResponse
		_ = json.Unmarshal(body, &payload)
		return "", &APIError{StatusCode: resp.StatusCode, Message: payload.Error}
	}

	var payload queryResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if payload.Error != "" {
		return "", &APIError{StatusCode: resp.StatusCode, Message: payload.Error}
	}

	return payload.Response, nil
}

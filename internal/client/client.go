// Package client talks to the quiz backend that generates questions and
// scores submitted assessments.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/neurobridge/assessment-session/internal/metrics"
)

// IdempotencyHeader carries the key that lets the backend drop duplicate submissions.
const IdempotencyHeader = "Idempotency-Key"

// APIError is a non-2xx answer from the backend.
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend returned %d: %s", e.StatusCode, e.Detail)
}

// IsAPIStatus reports whether err is an APIError with the given status code.
func IsAPIStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == status
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenSource
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

func WithTokenSource(ts TokenSource) Option {
	return func(cl *Client) { cl.tokens = ts }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(cl *Client) { cl.metrics = m }
}

func New(baseURL string, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		tokens:     StaticTokenSource(""),
		logger:     logger.With("component", "quiz_client"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) GenerateQuiz(ctx context.Context, req *QuizGenerationRequest) (*QuizGenerationResponse, error) {
	var resp QuizGenerationResponse
	if err := c.do(ctx, http.MethodPost, "/quiz/generate/", "generate", req, "", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) GetQuizInfo(ctx context.Context) (*QuizInfo, error) {
	var info QuizInfo
	if err := c.do(ctx, http.MethodGet, "/quiz/info/", "info", nil, "", &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (c *Client) SubmitAssessment(ctx context.Context, submission *AssessmentSubmission, idempotencyKey string) (*AssessmentResult, error) {
	var result AssessmentResult
	if err := c.do(ctx, http.MethodPost, "/quiz/submit/", "submit", submission, idempotencyKey, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) SubmitCombinedAssessment(ctx context.Context, submission *CombinedAssessmentSubmission, idempotencyKey string) (*AssessmentResult, error) {
	var result AssessmentResult
	if err := c.do(ctx, http.MethodPost, "/quiz/submit-combined/", "submit_combined", submission, idempotencyKey, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// do sends one request and, when the token source can refresh, retries
// exactly once after a 401.
func (c *Client) do(ctx context.Context, method, path, endpoint string, body any, idempotencyKey string, out any) error {
	var payload []byte
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		payload = data
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("obtain access token: %w", err)
	}

	resp, err := c.send(ctx, method, path, endpoint, payload, token, idempotencyKey)
	if err != nil {
		return err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		if refresher, ok := c.tokens.(Refresher); ok {
			resp.Body.Close()
			c.logger.InfoContext(ctx, "Access token rejected, refreshing", "endpoint", endpoint)

			token, err = refresher.Refresh(ctx)
			if err != nil {
				return fmt.Errorf("request failed after token refresh: %w", err)
			}
			resp, err = c.send(ctx, method, path, endpoint, payload, token, idempotencyKey)
			if err != nil {
				return err
			}
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := decodeAPIError(resp)
		c.logger.WarnContext(ctx, "Backend request failed",
			"endpoint", endpoint,
			"status_code", apiErr.StatusCode,
			"detail", apiErr.Detail)
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", endpoint, err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, path, endpoint string, payload []byte, token, idempotencyKey string) (*http.Response, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if idempotencyKey != "" {
		req.Header.Set(IdempotencyHeader, idempotencyKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.BackendRequest(endpoint, "error")
		return nil, fmt.Errorf("send %s request: %w", endpoint, err)
	}
	c.metrics.BackendRequest(endpoint, strconv.Itoa(resp.StatusCode))
	c.logger.DebugContext(ctx, "Backend request",
		"endpoint", endpoint,
		"status_code", resp.StatusCode,
		"duration", time.Since(start))
	return resp, nil
}

// decodeAPIError prefers the backend's detail field and falls back to the status text.
func decodeAPIError(resp *http.Response) *APIError {
	apiErr := &APIError{StatusCode: resp.StatusCode}

	var body struct {
		Detail string `json:"detail"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err := json.Unmarshal(data, &body); err == nil && body.Detail != "" {
		apiErr.Detail = body.Detail
	} else {
		apiErr.Detail = http.StatusText(resp.StatusCode)
	}
	return apiErr
}

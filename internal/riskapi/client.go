// Package riskapi is the client for the external risk-analysis service: simulation, input
// validation, translation, report generation and the AI assistant.
package riskapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"flowguard/api/internal/metrics"
	"flowguard/api/internal/simulation"
)

const (
	DefaultSimulateTimeout = 240 * time.Second
	MaxSimulateTimeout     = 600 * time.Second
	DefaultAssistTimeout   = 30 * time.Second
	defaultRequestTimeout  = 60 * time.Second
)

var (
	ErrTimeout     = errors.New("risk api request timed out")
	ErrRateLimited = errors.New("risk api rate limited")
	// ErrInvalidResponse means the service answered 2xx with a body of the wrong shape.
	ErrInvalidResponse = errors.New("invalid risk api response")
)

// APIError is a non-2xx answer other than a rate limit.
type APIError struct {
	Status int
	Detail string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return e.Detail
	}
	return fmt.Sprintf("HTTP %d", e.Status)
}

// Classify buckets an error for logs, metrics and HTTP mapping.
func Classify(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	default:
		return "error"
	}
}

type Options struct {
	BaseURL         string
	SimulateTimeout time.Duration
	AssistTimeout   time.Duration
	Cache           TranslationCache
	Logger          *zap.Logger
}

type Client struct {
	http            *resty.Client
	simulateTimeout time.Duration
	assistTimeout   time.Duration
	cache           TranslationCache
	logger          *zap.Logger
}

// New returns a client for opts.BaseURL. The simulate timeout is capped at MaxSimulateTimeout.
func New(opts Options) *Client {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	simulateTimeout := opts.SimulateTimeout
	if simulateTimeout <= 0 {
		simulateTimeout = DefaultSimulateTimeout
	}
	if simulateTimeout > MaxSimulateTimeout {
		simulateTimeout = MaxSimulateTimeout
	}
	assistTimeout := opts.AssistTimeout
	if assistTimeout <= 0 {
		assistTimeout = DefaultAssistTimeout
	}
	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(opts.BaseURL, "/")).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	return &Client{
		http:            httpClient,
		simulateTimeout: simulateTimeout,
		assistTimeout:   assistTimeout,
		cache:           opts.Cache,
		logger:          opts.Logger,
	}
}

func (c *Client) SimulateTimeout() time.Duration {
	return c.simulateTimeout
}

// Simulate runs a risk analysis. It fails with ErrTimeout when the analysis does not finish
// within the simulate timeout.
func (c *Client) Simulate(ctx context.Context, req simulation.Request) (*simulation.Result, error) {
	body, err := c.call(ctx, "simulate", http.MethodPost, "/api/simulate", req, c.simulateTimeout)
	if err != nil {
		return nil, err
	}
	var result simulation.Result
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return &result, nil
}

type ValidateRequest struct {
	EventName          string `json:"event_name"`
	EventLocation      string `json:"event_location"`
	DateTime           string `json:"date_time"`
	ExpectedAttendance int    `json:"expected_attendance"`
}

type ValidationIssue struct {
	Field    string `json:"field,omitempty"`
	Code     string `json:"code"`
	Message  string `json:"message"`
	Severity string `json:"severity"`
}

type ValidateResult struct {
	Valid  bool              `json:"valid"`
	Issues []ValidationIssue `json:"issues"`
}

func (c *Client) Validate(ctx context.Context, req ValidateRequest) (ValidateResult, error) {
	var out ValidateResult
	body, err := c.call(ctx, "validate", http.MethodPost, "/api/validate", req, defaultRequestTimeout)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return out, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if out.Issues == nil {
		out.Issues = []ValidationIssue{}
	}
	return out, nil
}

type ScenarioTemplate struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	EventType string         `json:"event_type"`
	Preset    TemplatePreset `json:"preset"`
}

type TemplatePreset struct {
	EventName          string `json:"event_name"`
	EventLocation      string `json:"event_location"`
	ExpectedAttendance int    `json:"expected_attendance"`
	AdditionalNotes    string `json:"additional_notes,omitempty"`
}

func (c *Client) Templates(ctx context.Context) ([]ScenarioTemplate, error) {
	body, err := c.call(ctx, "templates", http.MethodGet, "/api/templates", nil, defaultRequestTimeout)
	if err != nil {
		return nil, err
	}
	var out struct {
		Templates []ScenarioTemplate `json:"templates"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if out.Templates == nil {
		out.Templates = []ScenarioTemplate{}
	}
	return out.Templates, nil
}

// Health reports whether the service answers its health probe.
func (c *Client) Health(ctx context.Context) error {
	_, err := c.call(ctx, "health", http.MethodGet, "/health", nil, 5*time.Second)
	return err
}

// call performs one request and returns the raw 2xx body.
func (c *Client) call(ctx context.Context, endpoint, method, path string, body any, timeout time.Duration) ([]byte, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	req := c.http.R().SetContext(ctx)
	if body != nil {
		req.SetBody(body)
	}

	started := time.Now()
	resp, err := req.Execute(method, path)
	metrics.UpstreamDuration.WithLabelValues(endpoint).Observe(time.Since(started).Seconds())

	if err != nil {
		err = transportError(ctx, err)
	} else if resp.IsError() {
		err = statusError(resp.StatusCode(), resp.Body())
	}
	metrics.UpstreamRequests.WithLabelValues(endpoint, Classify(err)).Inc()
	if err != nil {
		c.logger.Warn("risk api request failed",
			zap.String("endpoint", endpoint),
			zap.String("outcome", Classify(err)),
			zap.Duration("elapsed", time.Since(started)),
			zap.Error(err),
		)
		return nil, err
	}
	return resp.Body(), nil
}

func transportError(ctx context.Context, err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) ||
		(errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("risk api request: %w", err)
}

func statusError(status int, body []byte) error {
	detail := fmt.Sprintf("HTTP %d", status)
	var payload struct {
		Detail json.RawMessage `json:"detail"`
	}
	if json.Unmarshal(body, &payload) == nil && len(payload.Detail) > 0 {
		var text string
		if json.Unmarshal(payload.Detail, &text) == nil {
			detail = text
		} else {
			detail = string(payload.Detail)
		}
	} else if trimmed := strings.TrimSpace(string(body)); trimmed != "" && !strings.HasPrefix(trimmed, "{") {
		detail = trimmed
	}
	if status == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %s", ErrRateLimited, detail)
	}
	return &APIError{Status: status, Detail: detail}
}

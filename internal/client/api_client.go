package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"Mansoor88-6/escort-alerts/internal/models"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// ErrNotConnected is returned when no backend URL is configured
var ErrNotConnected = errors.New("no remote connection configured")

// APIClient talks to alert-server
type APIClient struct {
	baseURL    string
	httpClient *resty.Client
	logger     *zap.Logger
}

// NewAPIClient creates a new API client. An empty baseURL yields a client whose
// calls all fail with ErrNotConnected.
func NewAPIClient(baseURL, apiKey string, timeout time.Duration, logger *zap.Logger) *APIClient {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	if apiKey != "" {
		httpClient.SetAuthToken(apiKey)
	}

	return &APIClient{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

// InsertEvent persists an event and returns the stored row
func (c *APIClient) InsertEvent(ctx context.Context, event models.AlarmEvent) (*models.AlarmEvent, error) {
	if c.baseURL == "" {
		return nil, ErrNotConnected
	}

	var stored models.AlarmEvent
	startTime := time.Now()
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(event).
		SetResult(&stored).
		Post("/api/v1/events")
	duration := time.Since(startTime)

	if err != nil {
		c.logger.Warn("Failed to insert event",
			zap.Error(err),
			zap.String("type", string(event.Type)),
			zap.Duration("duration", duration),
		)
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if err := c.statusError(resp); err != nil {
		return nil, err
	}

	c.logger.Debug("Event inserted",
		zap.String("id", stored.ID),
		zap.String("type", string(stored.Type)),
		zap.Duration("duration", duration),
	)
	return &stored, nil
}

// ListEvents reads recent events, newest first
func (c *APIClient) ListEvents(ctx context.Context, filter models.EventFilter) ([]models.AlarmEvent, error) {
	if c.baseURL == "" {
		return nil, ErrNotConnected
	}

	req := c.httpClient.R().SetContext(ctx)
	if filter.Type != "" {
		req.SetQueryParam("type", string(filter.Type))
	}
	if filter.ServiceID != "" {
		req.SetQueryParam("service_id", filter.ServiceID)
	}
	if filter.Company != "" {
		req.SetQueryParam("company", filter.Company)
	}
	if !filter.Since.IsZero() {
		req.SetQueryParam("since", filter.Since.UTC().Format(time.RFC3339Nano))
	}
	if filter.Limit > 0 {
		req.SetQueryParam("limit", strconv.Itoa(filter.Limit))
	}

	var events []models.AlarmEvent
	resp, err := req.SetResult(&events).Get("/api/v1/events")
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if err := c.statusError(resp); err != nil {
		return nil, err
	}
	return events, nil
}

// TriggerPush asks the server to fan a broadcast out to matching subscriptions
func (c *APIClient) TriggerPush(ctx context.Context, broadcast models.BroadcastRequest) (*models.DispatchResult, error) {
	return c.postDispatch(ctx, "/api/v1/push/broadcast", broadcast)
}

// Dispatch calls the push dispatch endpoint directly
func (c *APIClient) Dispatch(ctx context.Context, req models.DispatchRequest) (*models.DispatchResult, error) {
	return c.postDispatch(ctx, "/api/v1/push/dispatch", req)
}

func (c *APIClient) postDispatch(ctx context.Context, path string, body any) (*models.DispatchResult, error) {
	if c.baseURL == "" {
		return nil, ErrNotConnected
	}

	var result models.DispatchResult
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&result).
		Post(path)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if err := c.statusError(resp); err != nil {
		return nil, err
	}
	return &result, nil
}

// HealthCheck checks if the backend is reachable
func (c *APIClient) HealthCheck(ctx context.Context) error {
	if c.baseURL == "" {
		return ErrNotConnected
	}

	resp, err := c.httpClient.R().SetContext(ctx).Get("/health")
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode())
	}
	return nil
}

func (c *APIClient) statusError(resp *resty.Response) error {
	if resp.IsSuccess() {
		return nil
	}

	status := resp.StatusCode()
	body := resp.String()
	errMsg := fmt.Sprintf("backend returned status %d: %s", status, body)

	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		c.logger.Error("Authentication failed",
			zap.Int("status_code", status),
			zap.String("response", body),
		)
		return &AuthError{Message: errMsg, StatusCode: status}
	case http.StatusTooManyRequests:
		c.logger.Warn("Rate limited", zap.Int("status_code", status))
		return &RateLimitError{Message: errMsg, StatusCode: status}
	case http.StatusBadRequest:
		c.logger.Error("Invalid request",
			zap.Int("status_code", status),
			zap.String("response", body),
		)
		return &BadRequestError{Message: errMsg, StatusCode: status}
	default:
		c.logger.Error("Backend error",
			zap.Int("status_code", status),
			zap.String("response", body),
		)
		return &BackendError{Message: errMsg, StatusCode: status}
	}
}

// Error types
type AuthError struct {
	Message    string
	StatusCode int
}

func (e *AuthError) Error() string {
	return e.Message
}

type RateLimitError struct {
	Message    string
	StatusCode int
}

func (e *RateLimitError) Error() string {
	return e.Message
}

type BadRequestError struct {
	Message    string
	StatusCode int
}

func (e *BadRequestError) Error() string {
	return e.Message
}

type BackendError struct {
	Message    string
	StatusCode int
}

func (e *BackendError) Error() string {
	return e.Message
}

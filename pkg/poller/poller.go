// Package poller asks the status endpoint whether an order has settled, a bounded number of times.
// It only observes; settlement is written by the provider webhooks.
package poller

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/angelmondragon/marketplace-settlement/pkg/config"
	"github.com/angelmondragon/marketplace-settlement/pkg/types"
)

// ErrStillPending means the attempt budget ran out with the order unresolved.
var ErrStillPending = errors.New("order still pending, check back later")

const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// OrderStatus mirrors the status endpoint payload.
type OrderStatus struct {
	OrderID string `json:"orderId"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// APIError is a non-2xx answer from the status endpoint.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Retryable  bool
}

func (e *APIError) Error() string {
	return fmt.Sprintf("status endpoint returned %d %s: %s", e.StatusCode, e.Code, e.Message)
}

type Client struct {
	http        *resty.Client
	maxAttempts int
	interval    time.Duration
}

// New builds a poller that authenticates with the caller's bearer token.
func New(cfg config.PollerConfig, bearerToken string) *Client {
	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(10 * time.Second).
		SetAuthToken(bearerToken)

	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	return &Client{http: httpClient, maxAttempts: attempts, interval: cfg.Interval}
}

// Status performs a single read.
func (c *Client) Status(ctx context.Context, orderID string) (*OrderStatus, error) {
	var (
		ok      types.Envelope[OrderStatus]
		failure types.ErrorEnvelope
	)
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("orderId", orderID).
		SetResult(&ok).
		SetError(&failure).
		Get("/api/v1/orders/{orderId}/status")
	if err != nil {
		return nil, fmt.Errorf("poll order status: %w", err)
	}
	if resp.IsError() {
		return nil, &APIError{StatusCode: resp.StatusCode(), Code: failure.Error.Code, Message: failure.Error.Message, Retryable: failure.Retryable()}
	}
	return &ok.Data, nil
}

// Wait polls until the order leaves pending, the attempts run out or ctx ends.
// Retryable API errors and transport failures count as an attempt; anything else stops immediately.
func (c *Client) Wait(ctx context.Context, orderID string) (*OrderStatus, error) {
	var last *OrderStatus
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		status, err := c.Status(ctx, orderID)
		switch {
		case err == nil:
			last = status
			if status.Status != StatusPending {
				return status, nil
			}
		case !retryable(err):
			return nil, err
		}

		if attempt == c.maxAttempts {
			break
		}
		timer := time.NewTimer(c.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return last, ctx.Err()
		case <-timer.C:
		}
	}
	return last, ErrStillPending
}

func retryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable || apiErr.StatusCode >= http.StatusInternalServerError
	}
	return true
}

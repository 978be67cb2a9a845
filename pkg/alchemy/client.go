// Package alchemy talks to the Alchemy Notify API and decodes its address-activity webhooks.
package alchemy

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"

	"github.com/angelmondragon/marketplace-settlement/pkg/config"
	"github.com/angelmondragon/marketplace-settlement/pkg/logger"
)

const tokenHeader = "X-Alchemy-Token"

// ErrNotConfigured is returned when the Notify API credentials are absent.
var ErrNotConfigured = errors.New("alchemy notify api not configured")

// Client updates the address list watched by the address-activity webhook.
type Client struct {
	http      *resty.Client
	webhookID string
	logg      *logger.Logger
}

type updateAddressesRequest struct {
	WebhookID         string   `json:"webhook_id"`
	AddressesToAdd    []string `json:"addresses_to_add"`
	AddressesToRemove []string `json:"addresses_to_remove"`
}

type apiError struct {
	Message string `json:"message"`
}

// NewClient builds a Notify API client. It returns ErrNotConfigured without an auth token or webhook id.
func NewClient(cfg config.AlchemyConfig, logg *logger.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.AuthToken) == "" || strings.TrimSpace(cfg.WebhookID) == "" {
		return nil, ErrNotConfigured
	}
	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(cfg.NotifyURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader(tokenHeader, cfg.AuthToken).
		SetHeader("Content-Type", "application/json").
		SetRetryCount(2)
	return &Client{http: httpClient, webhookID: cfg.WebhookID, logg: logg}, nil
}

// AddAddresses subscribes the webhook to activity on the given addresses.
func (c *Client) AddAddresses(ctx context.Context, addresses ...string) error {
	return c.updateAddresses(ctx, addresses, nil)
}

// RemoveAddresses stops watching the given addresses.
func (c *Client) RemoveAddresses(ctx context.Context, addresses ...string) error {
	return c.updateAddresses(ctx, nil, addresses)
}

func (c *Client) updateAddresses(ctx context.Context, add, remove []string) error {
	if c == nil || c.http == nil {
		return ErrNotConfigured
	}
	if len(add) == 0 && len(remove) == 0 {
		return nil
	}
	body := updateAddressesRequest{
		WebhookID:         c.webhookID,
		AddressesToAdd:    nonNil(add),
		AddressesToRemove: nonNil(remove),
	}

	var failure apiError
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		SetError(&failure).
		Patch("/update-webhook-addresses")
	if err != nil {
		return fmt.Errorf("alchemy update webhook addresses: %w", err)
	}
	if resp.IsError() {
		msg := failure.Message
		if msg == "" {
			msg = resp.Status()
		}
		return fmt.Errorf("alchemy update webhook addresses: status %d: %s", resp.StatusCode(), msg)
	}

	if c.logg != nil {
		logCtx := c.logg.WithFields(ctx, map[string]any{
			"webhook_id": c.webhookID,
			"added":      len(add),
			"removed":    len(remove),
		})
		c.logg.Info(logCtx, "alchemy webhook addresses updated")
	}
	return nil
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

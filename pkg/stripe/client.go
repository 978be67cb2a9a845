package stripe

import (
	"context"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/marketplace-settlement/pkg/config"
	"github.com/angelmondragon/marketplace-settlement/pkg/logger"
)

// Mode is the Stripe account mode a secret key belongs to.
type Mode string

const (
	ModeTest Mode = "test"
	ModeLive Mode = "live"
)

var keyPrefixes = map[Mode][]string{
	ModeTest: {"sk_test_", "rk_test_"},
	ModeLive: {"sk_live_", "rk_live_"},
}

// Client carries the card rail credentials. A nil *Client means the card rail is disabled.
type Client struct {
	api           *stripe.Client
	mode          Mode
	signingSecret string
}

// NewClient validates the configured credentials and sets the package-level key used by resource calls.
func NewClient(ctx context.Context, cfg config.StripeConfig, logg *logger.Logger) (*Client, error) {
	mode, err := parseMode(cfg.Environment())
	if err != nil {
		return nil, err
	}

	apiKey := strings.TrimSpace(cfg.APIKey)
	signingSecret := strings.TrimSpace(cfg.Secret)
	switch {
	case apiKey == "":
		return nil, fmt.Errorf("stripe: api key is required")
	case signingSecret == "":
		return nil, fmt.Errorf("stripe: webhook signing secret is required")
	}

	keyMode, ok := modeOfKey(apiKey)
	if !ok {
		return nil, fmt.Errorf("stripe: api key has an unrecognized prefix")
	}
	if keyMode != mode {
		return nil, fmt.Errorf("stripe: %s key configured for %s environment", keyMode, mode)
	}

	stripe.Key = apiKey
	c := &Client{
		api:           stripe.NewClient(apiKey),
		mode:          mode,
		signingSecret: signingSecret,
	}
	if logg != nil {
		logg.Info(logg.WithField(ctx, "stripe_mode", string(mode)), "card rail enabled")
	}
	return c, nil
}

// API exposes the typed Stripe client for calls outside the card rail helpers.
func (c *Client) API() *stripe.Client {
	if c == nil {
		return nil
	}
	return c.api
}

// Environment reports the account mode as a string.
func (c *Client) Environment() string {
	if c == nil {
		return ""
	}
	return string(c.mode)
}

func (c *Client) SigningSecret() string {
	if c == nil {
		return ""
	}
	return c.signingSecret
}

func parseMode(raw string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(raw))); m {
	case "":
		return ModeTest, nil
	case ModeTest, ModeLive:
		return m, nil
	default:
		return "", fmt.Errorf("stripe: environment %q is neither %q nor %q", raw, ModeTest, ModeLive)
	}
}

func modeOfKey(key string) (Mode, bool) {
	for mode, prefixes := range keyPrefixes {
		for _, prefix := range prefixes {
			if strings.HasPrefix(key, prefix) {
				return mode, true
			}
		}
	}
	return "", false
}

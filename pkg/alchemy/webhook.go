package alchemy

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"math/big"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// SignatureHeader carries the hex HMAC-SHA256 of the raw body.
	SignatureHeader = "X-Alchemy-Signature"

	EventTypeAddressActivity = "ADDRESS_ACTIVITY"

	CategoryExternal = "external"
	AssetETH         = "ETH"

	etherDecimals = 18
)

// WebhookEvent is the envelope Alchemy posts for every notification.
type WebhookEvent struct {
	WebhookID string       `json:"webhookId"`
	ID        string       `json:"id"`
	CreatedAt time.Time    `json:"createdAt"`
	Type      string       `json:"type"`
	Event     ActivityList `json:"event"`
}

type ActivityList struct {
	Network  string     `json:"network"`
	Activity []Activity `json:"activity"`
}

// Activity is one transfer observed on a watched address.
type Activity struct {
	FromAddress string          `json:"fromAddress"`
	ToAddress   string          `json:"toAddress"`
	BlockNum    string          `json:"blockNum"`
	Hash        string          `json:"hash"`
	Value       decimal.Decimal `json:"value"`
	Asset       string          `json:"asset"`
	Category    string          `json:"category"`
	RawContract RawContract     `json:"rawContract"`
}

type RawContract struct {
	RawValue string `json:"rawValue"`
	Address  string `json:"address"`
	Decimals *int32 `json:"decimals"`
}

// IsNativeTransfer reports whether the activity moved ETH itself rather than a token.
func (a Activity) IsNativeTransfer() bool {
	return strings.EqualFold(a.Asset, AssetETH) &&
		(a.Category == "" || strings.EqualFold(a.Category, CategoryExternal) || strings.EqualFold(a.Category, "internal"))
}

// EtherValue prefers the exact hex wei amount and falls back to the rounded decimal value.
func (a Activity) EtherValue() decimal.Decimal {
	raw := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(a.RawContract.RawValue)), "0x")
	if raw == "" {
		return a.Value
	}
	wei, ok := new(big.Int).SetString(raw, 16)
	if !ok {
		return a.Value
	}
	decimals := int32(etherDecimals)
	if a.RawContract.Decimals != nil {
		decimals = *a.RawContract.Decimals
	}
	return decimal.NewFromBigInt(wei, -decimals)
}

// Sign returns the hex signature Alchemy would send for body.
func Sign(body []byte, signingKey string) string {
	mac := hmac.New(sha256.New, []byte(signingKey))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature compares the header signature with the expected HMAC in constant time.
func VerifySignature(body []byte, signature, signingKey string) bool {
	if signingKey == "" || signature == "" {
		return false
	}
	given, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(signingKey))
	mac.Write(body)
	return hmac.Equal(given, mac.Sum(nil))
}

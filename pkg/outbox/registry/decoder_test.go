package registry

import (
	"encoding/json"
	"testing"

	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
	"github.com/angelmondragon/marketplace-settlement/pkg/outbox/payloads"
)

func TestDecoderRegistryPicksVersion(t *testing.T) {
	reg := NewDecoderRegistry()
	RegisterJSON[payloads.WalletRegisteredEvent](reg, enums.EventWalletRegistered, 1)
	reg.Register(enums.EventWalletRegistered, 2, func(json.RawMessage) (any, error) { return "v2", nil })

	v1, err := reg.Decode(enums.EventWalletRegistered, 1, json.RawMessage(`{"address":"0xabc"}`))
	if err != nil {
		t.Fatalf("decode v1: %v", err)
	}
	if got := v1.(payloads.WalletRegisteredEvent).Address; got != "0xabc" {
		t.Fatalf("unexpected address %q", got)
	}
	if v2, _ := reg.Decode(enums.EventWalletRegistered, 2, nil); v2 != "v2" {
		t.Fatalf("expected v2 decoder, got %v", v2)
	}
	if _, err := reg.Decode(enums.EventWalletRegistered, 3, nil); err == nil {
		t.Fatalf("unregistered version decoded")
	}
	if _, err := reg.Decode(enums.EventWalletRegistered, 1, json.RawMessage(`[`)); err == nil {
		t.Fatalf("malformed data decoded")
	}
}

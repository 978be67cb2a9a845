package controllers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-settlement/api/middleware"
	"github.com/angelmondragon/marketplace-settlement/internal/wallets"
)

type stubWallets struct {
	userID  uuid.UUID
	address string
}

func (s *stubWallets) Register(_ context.Context, userID uuid.UUID, address string) (*wallets.Wallet, error) {
	s.userID, s.address = userID, address
	return &wallets.Wallet{UserID: userID, Address: strings.ToLower(address), Checksum: address}, nil
}

func TestRegisterWalletSuccess(t *testing.T) {
	userID := uuid.New()
	svc := &stubWallets{}
	req := httptest.NewRequest(http.MethodPut, "/api/v1/users/me/wallet", strings.NewReader(`{"address":"0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"}`))
	req = req.WithContext(middleware.WithUserID(req.Context(), userID.String()))
	resp := httptest.NewRecorder()

	RegisterWallet(svc, nil)(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
	if svc.userID != userID {
		t.Fatalf("unexpected user %s", svc.userID)
	}
	if !strings.Contains(resp.Body.String(), `"address":"0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed"`) {
		t.Fatalf("unexpected body %s", resp.Body.String())
	}
}

func TestRegisterWalletRejectsMalformedAddress(t *testing.T) {
	svc := &stubWallets{}
	req := httptest.NewRequest(http.MethodPut, "/api/v1/users/me/wallet", strings.NewReader(`{"address":"0x1234"}`))
	req = req.WithContext(middleware.WithUserID(req.Context(), uuid.NewString()))
	resp := httptest.NewRecorder()

	RegisterWallet(svc, nil)(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
	if svc.userID != uuid.Nil {
		t.Fatal("service should not be called")
	}
}

func TestRegisterWalletRequiresUser(t *testing.T) {
	req := httptest.NewRequest(http.MethodPut, "/api/v1/users/me/wallet", strings.NewReader(`{}`))
	resp := httptest.NewRecorder()
	RegisterWallet(&stubWallets{}, nil)(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

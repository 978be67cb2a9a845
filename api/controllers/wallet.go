package controllers

import (
	"net/http"

	"github.com/angelmondragon/marketplace-settlement/api/responses"
	"github.com/angelmondragon/marketplace-settlement/api/validators"
	"github.com/angelmondragon/marketplace-settlement/internal/wallets"
	"github.com/angelmondragon/marketplace-settlement/pkg/logger"
)

type registerWalletRequest struct {
	Address string `json:"address" validate:"required,eth_addr"`
}

// RegisterWallet sets the address the caller is paid to for crypto sales.
func RegisterWallet(svc wallets.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := caller(w, r, logg, svc != nil, "wallet")
		if !ok {
			return
		}
		ctx := r.Context()

		var req registerWalletRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		wallet, err := svc.Register(ctx, userID, validators.SanitizeString(req.Address, 42))
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, wallet)
	}
}

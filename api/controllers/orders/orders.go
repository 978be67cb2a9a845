// Package orders exposes the purchase and order-status endpoints.
package orders

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-settlement/api/middleware"
	"github.com/angelmondragon/marketplace-settlement/api/responses"
	"github.com/angelmondragon/marketplace-settlement/api/validators"
	"github.com/angelmondragon/marketplace-settlement/internal/reservation"
	"github.com/angelmondragon/marketplace-settlement/internal/settlement"
	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-settlement/pkg/errors"
	"github.com/angelmondragon/marketplace-settlement/pkg/logger"
)

type reserveRequest struct {
	ItemID        string `json:"itemId" validate:"required,uuid"`
	PaymentMethod string `json:"paymentMethod" validate:"required,oneof=card crypto"`

	BuyerWalletAddress string `json:"buyerWalletAddress" validate:"required_if=PaymentMethod crypto,excluded_if=PaymentMethod card,omitempty,eth_addr"`
	TxHash             string `json:"txHash" validate:"required_if=PaymentMethod crypto,excluded_if=PaymentMethod card,omitempty,tx_hash"`
	AmountPaidCrypto   string `json:"amountPaidCrypto" validate:"required_if=PaymentMethod crypto,excluded_if=PaymentMethod card"`
	ChainID            *int64 `json:"chainId" validate:"omitempty,gt=0"`

	PaymentIntentID string `json:"paymentIntentId" validate:"required_if=PaymentMethod card,excluded_if=PaymentMethod crypto,omitempty,startswith=pi_"`
}

func (r reserveRequest) payment() reservation.Payment {
	method := enums.PaymentMethod(r.PaymentMethod)
	payment := reservation.Payment{Method: method}
	switch method {
	case enums.PaymentMethodCrypto:
		payment.Crypto = &reservation.CryptoPayment{
			BuyerWalletAddress: r.BuyerWalletAddress,
			TxHash:             r.TxHash,
			AmountPaidCrypto:   r.AmountPaidCrypto,
			ChainID:            r.ChainID,
		}
	case enums.PaymentMethodCard:
		payment.Card = &reservation.CardPayment{PaymentIntentID: r.PaymentIntentID}
	}
	return payment
}

type reserveResponse struct {
	OrderID uuid.UUID         `json:"orderId"`
	Status  enums.OrderStatus `json:"status"`
}

// Reserve creates a pending order for the authenticated buyer.
func Reserve(svc reservation.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "reservation service unavailable"))
			return
		}
		buyerID, err := currentUser(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var req reserveRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		itemID, err := uuid.Parse(req.ItemID)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid item id"))
			return
		}

		res, err := svc.ReserveItem(ctx, buyerID, itemID, req.payment())
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, reserveResponse{OrderID: res.OrderID, Status: res.Status})
	}
}

type cardIntentRequest struct {
	ItemID string `json:"itemId" validate:"required,uuid"`
}

type cardIntentResponse struct {
	PaymentIntentID string `json:"paymentIntentId"`
	ClientSecret    string `json:"clientSecret"`
	AmountCents     int64  `json:"amountCents"`
	Currency        string `json:"currency"`
}

// CardIntent creates the Stripe PaymentIntent the client confirms before reserving.
func CardIntent(svc reservation.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "reservation service unavailable"))
			return
		}
		buyerID, err := currentUser(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var req cardIntentRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		itemID, err := uuid.Parse(req.ItemID)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid item id"))
			return
		}

		intent, err := svc.CreateCardIntent(ctx, buyerID, itemID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, cardIntentResponse{
			PaymentIntentID: intent.PaymentIntentID,
			ClientSecret:    intent.ClientSecret,
			AmountCents:     intent.AmountCents,
			Currency:        intent.Currency,
		})
	}
}

// List returns the caller's orders as buyer (default) or seller.
func List(svc settlement.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "settlement service unavailable"))
			return
		}
		userID, err := currentUser(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		limit, cursor, err := validators.ParsePage(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		role := enums.OrderRole(strings.ToLower(strings.TrimSpace(r.URL.Query().Get("role"))))

		page, err := svc.ListOrders(ctx, userID, role, limit, cursor)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, page)
	}
}

// Status is the observer-only read the polling client hits.
func Status(svc settlement.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "settlement service unavailable"))
			return
		}
		userID, err := currentUser(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		orderID, err := orderIDParam(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		view, err := svc.OrderStatus(ctx, userID, orderID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}

type debugSettleRequest struct {
	Result string `json:"result" validate:"required,oneof=confirmed rejected"`
}

type settleResponse struct {
	OrderID uuid.UUID         `json:"orderId"`
	Status  enums.OrderStatus `json:"status"`
	Changed bool              `json:"changed"`
}

// DebugSettle simulates a provider confirmation. Only mounted outside production.
func DebugSettle(svc settlement.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "settlement service unavailable"))
			return
		}
		userID, err := currentUser(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		orderID, err := orderIDParam(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var req debugSettleRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		result, err := svc.DebugSimulate(ctx, userID, orderID, enums.SettlementResult(req.Result))
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, settleResponse{
			OrderID: result.OrderID,
			Status:  result.Status.Public(),
			Changed: result.Changed,
		})
	}
}

func currentUser(r *http.Request) (uuid.UUID, error) {
	userID, ok := middleware.UserUUIDFromContext(r.Context())
	if !ok {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing user context")
	}
	return userID, nil
}

func orderIDParam(r *http.Request) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, "orderId"))
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	orderID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid order id")
	}
	return orderID, nil
}

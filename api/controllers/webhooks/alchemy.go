package webhooks

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/angelmondragon/marketplace-settlement/api/responses"
	"github.com/angelmondragon/marketplace-settlement/pkg/alchemy"
	pkgerrors "github.com/angelmondragon/marketplace-settlement/pkg/errors"
	"github.com/angelmondragon/marketplace-settlement/pkg/logger"
)

type AlchemyWebhookService interface {
	HandleEvent(ctx context.Context, event *alchemy.WebhookEvent) error
}

// AlchemyWebhook verifies X-Alchemy-Signature and applies address-activity notifications once.
func AlchemyWebhook(svc AlchemyWebhookService, signingKey string, guard webhookGuard, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil || guard == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "alchemy webhook unavailable"))
			return
		}

		payload, err := readPayload(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if !alchemy.VerifySignature(payload, r.Header.Get(alchemy.SignatureHeader), signingKey) {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid alchemy signature"))
			return
		}

		var event alchemy.WebhookEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid alchemy payload"))
			return
		}
		if event.ID == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "alchemy event id missing"))
			return
		}

		if logg != nil {
			ctx = logg.WithEventID(ctx, event.ID)
		}
		applyOnce(ctx, w, logg, guard, event.ID, func(ctx context.Context) error {
			return svc.HandleEvent(ctx, &event)
		})
	}
}

// Package webhooks receives payment provider callbacks.
package webhooks

import (
	"context"
	"io"
	"net/http"

	"github.com/angelmondragon/marketplace-settlement/api/responses"
	pkgerrors "github.com/angelmondragon/marketplace-settlement/pkg/errors"
	"github.com/angelmondragon/marketplace-settlement/pkg/logger"
)

// maxWebhookBody caps provider payloads; both providers stay well under it.
const maxWebhookBody = 1 << 20

type webhookGuard interface {
	Applied(ctx context.Context, eventID string) (bool, error)
	Record(ctx context.Context, eventID string) error
}

func readPayload(r *http.Request) ([]byte, error) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body")
	}
	return payload, nil
}

// applyOnce acknowledges events already recorded as applied and otherwise runs apply. The event is
// recorded only after apply commits, so a redelivery racing an in-flight or failed attempt is
// processed again; apply must be safe to repeat.
func applyOnce(ctx context.Context, w http.ResponseWriter, logg *logger.Logger, guard webhookGuard, eventID string, apply func(context.Context) error) {
	applied, err := guard.Applied(ctx, eventID)
	if err != nil {
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency"))
		return
	}
	if applied {
		if logg != nil {
			logg.Debug(ctx, "duplicate webhook delivery acknowledged")
		}
		responses.WriteSuccess(w, nil)
		return
	}

	if err := apply(ctx); err != nil {
		responses.WriteError(ctx, logg, w, err)
		return
	}
	if err := guard.Record(context.WithoutCancel(ctx), eventID); err != nil && logg != nil {
		// the effect is committed; a missing marker only costs a repeat apply on redelivery
		logg.Error(ctx, "record applied webhook event", err)
	}
	if logg != nil {
		logg.Info(ctx, "webhook event processed")
	}
	responses.WriteSuccess(w, nil)
}

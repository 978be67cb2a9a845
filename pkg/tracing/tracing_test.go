package tracing

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"

	"github.com/angelmondragon/marketplace-settlement/pkg/config"
)

func TestInitDisabledReturnsNoopShutdown(t *testing.T) {
	shutdown, err := Init(context.Background(), config.TracingConfig{Enabled: false}, "api")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("unexpected shutdown error: %v", err)
	}
}

func TestStartAndEndWithoutProvider(t *testing.T) {
	ctx, span := Start(context.Background(), "settlement.settle", attribute.String("order_id", "abc"))
	if ctx == nil {
		t.Fatalf("expected context")
	}
	End(span, errors.New("boom"))
}

package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v84"

	webhookguard "github.com/angelmondragon/marketplace-settlement/internal/webhooks"
	pkgerrors "github.com/angelmondragon/marketplace-settlement/pkg/errors"
)

const stripeSecret = "whsec_test"

type stripeFixture struct {
	handler http.Handler
	svc     *recordingStripeService
	store   *inMemoryStore
}

func newStripeFixture(t *testing.T) *stripeFixture {
	t.Helper()
	store := newInMemoryStore()
	guard, err := webhookguard.NewAppliedEvents(store, time.Minute, "stripe-webhook")
	require.NoError(t, err)
	svc := &recordingStripeService{}
	return &stripeFixture{
		handler: StripeWebhook(svc, signingSecret(stripeSecret), guard, nil),
		svc:     svc,
		store:   store,
	}
}

func (f *stripeFixture) post(payload []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", bytes.NewReader(payload))
	if signature != "" {
		req.Header.Set(stripeSignatureHeader, signature)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func TestStripeWebhookAppliesEachEventOnce(t *testing.T) {
	f := newStripeFixture(t)
	payload := succeededEvent(t, "pi_once")
	sig := stripeSignature(payload, stripeSecret, time.Now())

	first := f.post(payload, sig)
	require.Equal(t, http.StatusOK, first.Code, first.Body.String())
	replay := f.post(payload, sig)
	require.Equal(t, http.StatusOK, replay.Code)

	require.Len(t, f.svc.events, 1)
	assert.Equal(t, stripe.EventTypePaymentIntentSucceeded, f.svc.events[0].Type)
}

func TestStripeWebhookSignatureFailures(t *testing.T) {
	payload := succeededEvent(t, "pi_sig")
	cases := map[string]string{
		"missing":    "",
		"garbage":    "t=1,v1=invalid",
		"wrong key":  stripeSignature(payload, "whsec_other", time.Now()),
		"stale time": stripeSignature(payload, stripeSecret, time.Now().Add(-time.Hour)),
	}
	for name, sig := range cases {
		t.Run(name, func(t *testing.T) {
			f := newStripeFixture(t)
			rec := f.post(payload, sig)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Empty(t, f.svc.events)
		})
	}
}

func TestStripeWebhookFailureIsNotRecorded(t *testing.T) {
	f := newStripeFixture(t)
	f.svc.err = pkgerrors.New(pkgerrors.CodeNotFound, "no order for payment intent")
	payload := succeededEvent(t, "pi_retry")
	sig := stripeSignature(payload, stripeSecret, time.Now())

	assert.Equal(t, http.StatusNotFound, f.post(payload, sig).Code)
	assert.Empty(t, f.store.data, "failed delivery must not be recorded")

	f.svc.err = nil
	assert.Equal(t, http.StatusOK, f.post(payload, sig).Code)
	assert.Len(t, f.svc.events, 2)
	assert.Len(t, f.store.data, 1)
}

func TestStripeWebhookRedeliveryDuringFailingAttemptIsApplied(t *testing.T) {
	f := newStripeFixture(t)
	entered := make(chan struct{})
	release := make(chan struct{})
	f.svc.hook = func(call int) error {
		if call == 1 {
			close(entered)
			<-release
			return pkgerrors.New(pkgerrors.CodeDependency, "database unavailable")
		}
		return nil
	}
	payload := succeededEvent(t, "pi_race")
	sig := stripeSignature(payload, stripeSecret, time.Now())

	firstCode := make(chan int, 1)
	go func() { firstCode <- f.post(payload, sig).Code }()
	<-entered

	// the first attempt is still in flight; the redelivery must run rather than be acknowledged blind
	second := f.post(payload, sig)
	close(release)

	assert.Equal(t, http.StatusOK, second.Code, second.Body.String())
	assert.Equal(t, http.StatusServiceUnavailable, <-firstCode)
	assert.Equal(t, 2, f.svc.callCount())
	assert.Len(t, f.store.data, 1, "the successful attempt records the event")

	assert.Equal(t, http.StatusOK, f.post(payload, sig).Code)
	assert.Equal(t, 2, f.svc.callCount(), "recorded event is acknowledged without applying")
}

func TestStripeWebhookGuardOutage(t *testing.T) {
	f := newStripeFixture(t)
	f.store.getErr = errors.New("redis down")
	payload := succeededEvent(t, "pi_outage")

	rec := f.post(payload, stripeSignature(payload, stripeSecret, time.Now()))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Empty(t, f.svc.events)
}

func TestStripeWebhookRecordFailureStillAcknowledges(t *testing.T) {
	f := newStripeFixture(t)
	f.store.setErr = errors.New("redis down")
	payload := succeededEvent(t, "pi_unrecorded")

	rec := f.post(payload, stripeSignature(payload, stripeSecret, time.Now()))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, f.svc.events, 1)
	assert.Empty(t, f.store.data)
}

func TestStripeWebhookUnavailableWithoutDependencies(t *testing.T) {
	rec := httptest.NewRecorder()
	StripeWebhook(nil, nil, nil, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{}")))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func succeededEvent(t *testing.T, intentID string) []byte {
	t.Helper()
	rawIntent, err := json.Marshal(stripe.PaymentIntent{
		ID:             intentID,
		Amount:         10800,
		AmountReceived: 10800,
		Currency:       stripe.CurrencyUSD,
		Status:         stripe.PaymentIntentStatusSucceeded,
	})
	require.NoError(t, err)
	payload, err := json.Marshal(stripe.Event{
		ID:         "evt_" + uuid.NewString(),
		Type:       stripe.EventTypePaymentIntentSucceeded,
		Object:     "event",
		APIVersion: stripe.APIVersion,
		Data:       &stripe.EventData{Raw: rawIntent},
	})
	require.NoError(t, err)
	return payload
}

// stripeSignature builds a v1 header the way Stripe signs deliveries.
func stripeSignature(payload []byte, secret string, at time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", at.Unix(), payload)
	return fmt.Sprintf("t=%d,v1=%s", at.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

type recordingStripeService struct {
	mu     sync.Mutex
	events []*stripe.Event
	err    error
	hook   func(call int) error
}

func (s *recordingStripeService) HandleEvent(_ context.Context, event *stripe.Event) error {
	s.mu.Lock()
	s.events = append(s.events, event)
	call, hook, err := len(s.events), s.hook, s.err
	s.mu.Unlock()
	if hook != nil {
		return hook(call)
	}
	return err
}

func (s *recordingStripeService) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

type signingSecret string

func (s signingSecret) SigningSecret() string { return string(s) }

// inMemoryStore backs the idempotency guard in both webhook tests.
type inMemoryStore struct {
	mu     sync.Mutex
	data   map[string]string
	getErr error
	setErr error
}

func newInMemoryStore() *inMemoryStore {
	return &inMemoryStore{data: map[string]string{}}
}

func (s *inMemoryStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return "", s.getErr
	}
	v, ok := s.data[key]
	if !ok {
		return "", goredis.Nil
	}
	return v, nil
}

func (s *inMemoryStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.setErr != nil {
		return false, s.setErr
	}
	if _, ok := s.data[key]; ok {
		return false, nil
	}
	s.data[key] = fmt.Sprint(value)
	return true, nil
}

func (s *inMemoryStore) IdempotencyKey(scope, id string) string {
	return "mkt:idempotency:" + scope + ":" + id
}

func (s *inMemoryStore) Del(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.data, key)
	}
	return nil
}

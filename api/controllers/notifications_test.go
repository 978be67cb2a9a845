package controllers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/marketplace-settlement/api/middleware"
	"github.com/angelmondragon/marketplace-settlement/internal/notifications"
	pkgerrors "github.com/angelmondragon/marketplace-settlement/pkg/errors"
	"github.com/angelmondragon/marketplace-settlement/pkg/logger"
)

type recordingInbox struct {
	listed  *notifications.ListParams
	readBy  uuid.UUID
	readID  uuid.UUID
	readErr error
	marked  int64
}

func (s *recordingInbox) List(_ context.Context, params notifications.ListParams) (*notifications.ListResult, error) {
	s.listed = &params
	return &notifications.ListResult{Cursor: "next"}, nil
}

func (s *recordingInbox) MarkRead(_ context.Context, userID, id uuid.UUID) error {
	s.readBy, s.readID = userID, id
	return s.readErr
}

func (s *recordingInbox) MarkAllRead(_ context.Context, userID uuid.UUID) (int64, error) {
	s.readBy = userID
	return s.marked, nil
}

func inboxRouter(svc notifications.Service) http.Handler {
	logg := logger.New(logger.Options{ServiceName: "controllers-test", Output: io.Discard})
	r := chi.NewRouter()
	r.Get("/notifications", ListNotifications(svc, logg))
	r.Post("/notifications/read-all", MarkAllNotificationsRead(svc, logg))
	r.Post("/notifications/{notificationId}/read", MarkNotificationRead(svc, logg))
	return r
}

func serveAs(h http.Handler, user, method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	if user != "" {
		req = req.WithContext(middleware.WithUserID(req.Context(), user))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, into any) {
	t.Helper()
	envelope := struct {
		Data any `json:"data"`
	}{Data: into}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
}

func TestListNotificationsPassesQuery(t *testing.T) {
	svc := &recordingInbox{}
	user := uuid.New()

	rec := serveAs(inboxRouter(svc), user.String(), http.MethodGet, "/notifications?limit=5&unreadOnly=true&cursor=abc")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, svc.listed)
	assert.Equal(t, notifications.ListParams{UserID: user, Limit: 5, Cursor: "abc", UnreadOnly: true}, *svc.listed)

	var page notifications.ListResult
	decodeData(t, rec, &page)
	assert.Equal(t, "next", page.Cursor)
}

func TestListNotificationsRejectsBadQuery(t *testing.T) {
	for _, target := range []string{"/notifications?unreadOnly=maybe", "/notifications?limit=abc"} {
		svc := &recordingInbox{}
		rec := serveAs(inboxRouter(svc), uuid.NewString(), http.MethodGet, target)
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
		assert.Nil(t, svc.listed, target)
	}
}

func TestMarkNotificationRead(t *testing.T) {
	svc := &recordingInbox{}
	user, id := uuid.New(), uuid.New()

	rec := serveAs(inboxRouter(svc), user.String(), http.MethodPost, "/notifications/"+id.String()+"/read")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, user, svc.readBy)
	assert.Equal(t, id, svc.readID)

	var body map[string]bool
	decodeData(t, rec, &body)
	assert.True(t, body["read"])
}

func TestMarkNotificationReadErrors(t *testing.T) {
	cases := map[string]struct {
		user   string
		target string
		svcErr error
		want   int
	}{
		"no user":        {target: "/notifications/" + uuid.NewString() + "/read", want: http.StatusUnauthorized},
		"malformed user": {user: "bad", target: "/notifications/" + uuid.NewString() + "/read", want: http.StatusUnauthorized},
		"malformed id":   {user: uuid.NewString(), target: "/notifications/nope/read", want: http.StatusBadRequest},
		"not owned": {
			user:   uuid.NewString(),
			target: "/notifications/" + uuid.NewString() + "/read",
			svcErr: pkgerrors.New(pkgerrors.CodeNotFound, "notification not found"),
			want:   http.StatusNotFound,
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			rec := serveAs(inboxRouter(&recordingInbox{readErr: tc.svcErr}), tc.user, http.MethodPost, tc.target)
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestMarkAllNotificationsRead(t *testing.T) {
	svc := &recordingInbox{marked: 5}
	user := uuid.New()

	rec := serveAs(inboxRouter(svc), user.String(), http.MethodPost, "/notifications/read-all")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, user, svc.readBy)

	var body map[string]int64
	decodeData(t, rec, &body)
	assert.EqualValues(t, 5, body["updated"])
}

func TestNotificationHandlersWithoutService(t *testing.T) {
	rec := serveAs(inboxRouter(nil), uuid.NewString(), http.MethodGet, "/notifications")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

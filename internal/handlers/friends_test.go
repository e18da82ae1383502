package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/educonnect/backend/internal/friends"
	"github.com/educonnect/backend/internal/models"
	"github.com/educonnect/backend/internal/repositories"
)

type fixedLimiter struct {
	allowed int
}

func (l *fixedLimiter) Allow(string) bool {
	if l.allowed <= 0 {
		return false
	}
	l.allowed--
	return true
}

type failingService struct {
	FriendService
	err error
}

func (s failingService) ListFriends(context.Context, string) ([]models.User, error) {
	return nil, s.err
}

func newTestRouter(t *testing.T, limiter RateLimiter) (http.Handler, *repositories.MemoryStore) {
	t.Helper()

	store := repositories.NewMemoryStore()
	clock := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	store.WithNowFunc(func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	})

	users := []models.User{
		{ID: "asha", FullName: "Asha Rao", College: "MIT Tech", Branch: "CSE", Location: "Pune", IsOnboarded: true},
		{ID: "ben", FullName: "Ben Stone", College: "Stanford", Branch: "Mechanical", Location: "Palo Alto", IsOnboarded: true},
		{ID: "chen", FullName: "Chen Li", College: "MIT", Branch: "Electrical", Location: "Boston", IsOnboarded: true},
		{ID: "dana", FullName: "Dana Cruz", IsOnboarded: false},
	}
	for _, user := range users {
		if err := store.AddUser(user); err != nil {
			t.Fatalf("add user: %v", err)
		}
	}

	engine := friends.NewEngine(store, friends.DefaultConfig())
	return NewRouter(Dependencies{Friends: engine, FriendRequestLimiter: limiter}), store
}

func doRequest(t *testing.T, handler http.Handler, method, path, userID string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestFriendRequestLifecycleOverHTTP(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	rec := doRequest(t, router, http.MethodPost, "/api/v1/users/friend-request/ben", "asha")
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status %d got %d: %s", http.StatusCreated, rec.Code, rec.Body.String())
	}
	sent := decode[requestActionResponse](t, rec)
	if sent.Request == nil || sent.Request.Status != string(models.RequestStatusPending) {
		t.Fatalf("unexpected send response: %+v", sent)
	}

	rec = doRequest(t, router, http.MethodPost, "/api/v1/users/friend-request/ben", "asha")
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected duplicate to conflict got %d", rec.Code)
	}

	rec = doRequest(t, router, http.MethodGet, "/api/v1/users/outgoing-friend-requests", "asha")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d", rec.Code)
	}
	outgoing := decode[[]friendRequestResponse](t, rec)
	if len(outgoing) != 1 || outgoing[0].Recipient == nil || outgoing[0].Recipient.FullName != "Ben Stone" {
		t.Fatalf("unexpected outgoing payload: %+v", outgoing)
	}

	rec = doRequest(t, router, http.MethodGet, "/api/v1/users/friend-requests", "ben")
	incoming := decode[friendRequestsResponse](t, rec)
	if len(incoming.IncomingReqs) != 1 || incoming.IncomingReqs[0].Sender == nil || incoming.IncomingReqs[0].Sender.ID != "asha" {
		t.Fatalf("unexpected incoming payload: %+v", incoming)
	}

	acceptPath := "/api/v1/users/friend-request/" + sent.Request.ID + "/accept"
	rec = doRequest(t, router, http.MethodPut, acceptPath, "asha")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected sender accept to be forbidden got %d", rec.Code)
	}

	rec = doRequest(t, router, http.MethodPut, acceptPath, "ben")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, router, http.MethodPut, acceptPath, "ben")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected second accept to be not found got %d", rec.Code)
	}

	rec = doRequest(t, router, http.MethodGet, "/api/v1/users/friends", "asha")
	friendsOfAsha := decode[[]userResponse](t, rec)
	if len(friendsOfAsha) != 1 || friendsOfAsha[0].ID != "ben" {
		t.Fatalf("unexpected friends payload: %+v", friendsOfAsha)
	}

	rec = doRequest(t, router, http.MethodGet, "/api/v1/users/friend-requests", "asha")
	notifications := decode[friendRequestsResponse](t, rec)
	if len(notifications.AcceptedReqs) != 1 || notifications.AcceptedReqs[0].Recipient == nil || notifications.AcceptedReqs[0].Recipient.ID != "ben" {
		t.Fatalf("unexpected accepted payload: %+v", notifications)
	}
	if notifications.AcceptedReqs[0].RespondedAt == nil {
		t.Fatalf("expected respondedAt on accepted request")
	}

	rec = doRequest(t, router, http.MethodPost, "/api/v1/users/friend-request/asha", "ben")
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected already friends conflict got %d", rec.Code)
	}
}

func TestDeclineAllowsResend(t *testing.T) {
	router, store := newTestRouter(t, nil)

	rec := doRequest(t, router, http.MethodPost, "/api/v1/users/friend-request/chen", "asha")
	sent := decode[requestActionResponse](t, rec)

	rec = doRequest(t, router, http.MethodDelete, "/api/v1/users/friend-request/"+sent.Request.ID+"/decline", "chen")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d", rec.Code)
	}

	if _, err := store.GetRequest(context.Background(), sent.Request.ID); !errors.Is(err, repositories.ErrNotFound) {
		t.Fatalf("expected declined request to be deleted, got %v", err)
	}

	rec = doRequest(t, router, http.MethodPost, "/api/v1/users/friend-request/chen", "asha")
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected resend to succeed got %d", rec.Code)
	}
}

func TestMutualRequestAutoAccepts(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	doRequest(t, router, http.MethodPost, "/api/v1/users/friend-request/ben", "asha")
	rec := doRequest(t, router, http.MethodPost, "/api/v1/users/friend-request/asha", "ben")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d", rec.Code)
	}
	resp := decode[requestActionResponse](t, rec)
	if resp.Request == nil || resp.Request.Status != string(models.RequestStatusAccepted) {
		t.Fatalf("expected accepted request, got %+v", resp)
	}
}

func TestSendFriendRequestErrors(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	cases := []struct {
		name       string
		userID     string
		target     string
		wantStatus int
	}{
		{"self", "asha", "asha", http.StatusBadRequest},
		{"missingRecipient", "asha", "ghost", http.StatusBadRequest},
		{"recipientNotOnboarded", "asha", "dana", http.StatusBadRequest},
		{"senderNotOnboarded", "dana", "asha", http.StatusForbidden},
		{"unknownSender", "ghost", "asha", http.StatusNotFound},
		{"missingIdentity", "", "asha", http.StatusUnauthorized},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doRequest(t, router, http.MethodPost, "/api/v1/users/friend-request/"+tc.target, tc.userID)
			if rec.Code != tc.wantStatus {
				t.Fatalf("expected status %d got %d", tc.wantStatus, rec.Code)
			}
		})
	}
}

func TestSendFriendRequestRateLimited(t *testing.T) {
	router, _ := newTestRouter(t, &fixedLimiter{allowed: 1})

	rec := doRequest(t, router, http.MethodPost, "/api/v1/users/friend-request/ben", "asha")
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201 got %d", rec.Code)
	}

	rec = doRequest(t, router, http.MethodPost, "/api/v1/users/friend-request/chen", "asha")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429 got %d", rec.Code)
	}
}

func TestRecommendEndpoint(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	rec := doRequest(t, router, http.MethodGet, "/api/v1/users?college=mit", "ben")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d", rec.Code)
	}
	users := decode[[]userResponse](t, rec)
	if len(users) != 2 || users[0].ID != "asha" || users[1].ID != "chen" {
		t.Fatalf("unexpected recommendations: %+v", users)
	}

	rec = doRequest(t, router, http.MethodGet, "/api/v1/users?search=boston", "asha")
	users = decode[[]userResponse](t, rec)
	if len(users) != 1 || users[0].ID != "chen" {
		t.Fatalf("unexpected search results: %+v", users)
	}

	rec = doRequest(t, router, http.MethodGet, "/api/v1/users?limit=1", "asha")
	users = decode[[]userResponse](t, rec)
	if len(users) != 1 || users[0].ID != "ben" {
		t.Fatalf("unexpected limited results: %+v", users)
	}

	rec = doRequest(t, router, http.MethodGet, "/api/v1/users?limit=zero", "asha")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected bad request got %d", rec.Code)
	}

	rec = doRequest(t, router, http.MethodGet, "/api/v1/users", "ghost")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected not found for unknown user got %d", rec.Code)
	}
}

func TestFriendHandlerFailures(t *testing.T) {
	router := NewRouter(Dependencies{Friends: failingService{err: errors.New("db down")}})
	rec := doRequest(t, router, http.MethodGet, "/api/v1/users/friends", "asha")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected internal error got %d", rec.Code)
	}

	router = NewRouter(Dependencies{})
	rec = doRequest(t, router, http.MethodGet, "/api/v1/users/friends", "asha")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected internal error without service got %d", rec.Code)
	}
}

func TestRouterReportsMethodNotAllowed(t *testing.T) {
	router := NewRouter(Dependencies{})

	for _, tc := range []struct {
		method, path string
	}{
		{http.MethodGet, "/api/v1/users/friend-request/x"},
		{http.MethodPost, "/api/v1/users/friend-request/x/accept"},
		{http.MethodPost, "/healthz"},
	} {
		rec := doRequest(t, router, tc.method, tc.path, "asha")
		if rec.Code != http.StatusMethodNotAllowed {
			t.Fatalf("%s %s: expected method not allowed got %d", tc.method, tc.path, rec.Code)
		}
		if !strings.Contains(rec.Body.String(), "method not allowed") {
			t.Fatalf("%s %s: unexpected body %q", tc.method, tc.path, rec.Body.String())
		}
	}

	rec := doRequest(t, router, http.MethodGet, "/api/v1/users/nothing-here", "asha")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected not found for unknown path got %d", rec.Code)
	}
}

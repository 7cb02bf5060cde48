package handler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"neighborly-auth/internal/models"
	"neighborly-auth/internal/service"
	"neighborly-auth/internal/token"
)

func TestAuthenticator(t *testing.T) {
	validator := &fakeValidator{
		validateFn: func(tokenString string) (*token.Claims, error) {
			if tokenString != "good" {
				return nil, token.ErrTokenInvalid
			}
			return &token.Claims{UserID: "user-1"}, nil
		},
	}
	resolver := &fakeResolver{
		resolveFn: func(_ context.Context, userID string) (*models.User, error) {
			switch userID {
			case "user-1":
				return &models.User{UserID: "user-1", IsActive: true}, nil
			default:
				return nil, service.ErrUserNotFound
			}
		},
	}

	var seenUser *models.User
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenUser, _ = UserFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	handler := Authenticator(validator, resolver)(inner)

	tests := []struct {
		name       string
		header     string
		wantStatus int
	}{
		{"no header", "", http.StatusUnauthorized},
		{"not bearer", "Basic abc", http.StatusUnauthorized},
		{"bad token", "Bearer bad", http.StatusUnauthorized},
		{"valid", "Bearer good", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seenUser = nil
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantStatus == http.StatusOK {
				if seenUser == nil || seenUser.UserID != "user-1" {
					t.Errorf("handler saw user %+v", seenUser)
				}
			}
		})
	}
}

func TestAuthenticatorBannedUser(t *testing.T) {
	resolver := &fakeResolver{
		resolveFn: func(context.Context, string) (*models.User, error) {
			return nil, service.ErrUserBanned
		},
	}
	handler := Authenticator(&fakeValidator{}, resolver)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer anything")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("banned user: status = %d, want 403", rec.Code)
	}
}

func TestAuthenticatorExpiredToken(t *testing.T) {
	validator := &fakeValidator{
		validateFn: func(string) (*token.Claims, error) {
			return nil, token.ErrTokenExpired
		},
	}
	handler := Authenticator(validator, &fakeResolver{})(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer stale")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expired token: status = %d, want 401", rec.Code)
	}
}

func TestAdminOnly(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name       string
		configured string
		provided   string
		wantStatus int
	}{
		{"valid key", "admin-key", "admin-key", http.StatusOK},
		{"wrong key", "admin-key", "other", http.StatusForbidden},
		{"missing key", "admin-key", "", http.StatusForbidden},
		{"unset config denies all", "", "anything", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := AdminOnly(tt.configured)(inner)
			req := httptest.NewRequest(http.MethodPost, "/", nil)
			if tt.provided != "" {
				req.Header.Set("X-Admin-Key", tt.provided)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestGetStatusCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{service.ErrRateLimitExceeded, http.StatusTooManyRequests},
		{service.ErrOTPAttemptsExceeded, http.StatusTooManyRequests},
		{service.ErrOTPNotFound, http.StatusBadRequest},
		{service.ErrOTPInvalid, http.StatusBadRequest},
		{service.ErrInvalidInput, http.StatusBadRequest},
		{service.ErrUserNotFound, http.StatusNotFound},
		{service.ErrUserBanned, http.StatusForbidden},
		{token.ErrTokenInvalid, http.StatusUnauthorized},
		{token.ErrTokenExpired, http.StatusUnauthorized},
		{fmt.Errorf("wrapped: %w", service.ErrRateLimitExceeded), http.StatusTooManyRequests},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		if got := getStatusCode(tt.err); got != tt.want {
			t.Errorf("getStatusCode(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

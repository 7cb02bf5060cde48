package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"neighborly-auth/internal/models"
	"neighborly-auth/internal/service"
	"neighborly-auth/internal/token"
)

type fakeAuthFlow struct {
	sendFn    func(ctx context.Context, phone, ip string) (*service.OTPIssueResult, error)
	verifyFn  func(ctx context.Context, phone, code, ip string) (*service.VerifyResult, error)
	refreshFn func(ctx context.Context, userID, ip string) (*service.VerifyResult, error)
	logoutFn  func(ctx context.Context, userID, ip string) error
}

func (f *fakeAuthFlow) SendOTP(ctx context.Context, phone, ip string) (*service.OTPIssueResult, error) {
	if f.sendFn != nil {
		return f.sendFn(ctx, phone, ip)
	}
	return &service.OTPIssueResult{ExpiresAt: time.Now().Add(10 * time.Minute)}, nil
}

func (f *fakeAuthFlow) VerifyOTP(ctx context.Context, phone, code, ip string) (*service.VerifyResult, error) {
	if f.verifyFn != nil {
		return f.verifyFn(ctx, phone, code, ip)
	}
	return &service.VerifyResult{Token: "signed", User: &models.User{UserID: "user-1"}}, nil
}

func (f *fakeAuthFlow) Refresh(ctx context.Context, userID, ip string) (*service.VerifyResult, error) {
	if f.refreshFn != nil {
		return f.refreshFn(ctx, userID, ip)
	}
	return &service.VerifyResult{Token: "signed", User: &models.User{UserID: userID}}, nil
}

func (f *fakeAuthFlow) Logout(ctx context.Context, userID, ip string) error {
	if f.logoutFn != nil {
		return f.logoutFn(ctx, userID, ip)
	}
	return nil
}

type fakeValidator struct {
	validateFn func(tokenString string) (*token.Claims, error)
}

func (f *fakeValidator) Validate(tokenString string) (*token.Claims, error) {
	if f.validateFn != nil {
		return f.validateFn(tokenString)
	}
	return &token.Claims{UserID: "user-1"}, nil
}

type fakeResolver struct {
	resolveFn func(ctx context.Context, userID string) (*models.User, error)
}

func (f *fakeResolver) ResolveActive(ctx context.Context, userID string) (*models.User, error) {
	if f.resolveFn != nil {
		return f.resolveFn(ctx, userID)
	}
	return &models.User{UserID: userID, Phone: "9876543210", IsActive: true}, nil
}

func newAuthTestServer(flow AuthFlow, validator TokenValidator, resolver AccountResolver) *httptest.Server {
	router := chi.NewRouter()
	NewAuthHandler(flow).RegisterRoutes(router, Authenticator(validator, resolver))
	return httptest.NewServer(router)
}

func decodeResponse(t *testing.T, res *http.Response) Response {
	t.Helper()
	defer res.Body.Close()
	var body Response
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return body
}

func postJSON(t *testing.T, url, payload string) *http.Response {
	t.Helper()
	res, err := http.Post(url, "application/json", strings.NewReader(payload))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return res
}

func TestSendOTPEndpoint(t *testing.T) {
	var gotPhone string
	flow := &fakeAuthFlow{
		sendFn: func(_ context.Context, phone, _ string) (*service.OTPIssueResult, error) {
			gotPhone = phone
			return &service.OTPIssueResult{ExpiresAt: time.Now().Add(10 * time.Minute)}, nil
		},
	}
	srv := newAuthTestServer(flow, &fakeValidator{}, &fakeResolver{})
	defer srv.Close()

	res := postJSON(t, srv.URL+"/auth/otp/send", `{"phone":"+91 98765 43210"}`)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", res.StatusCode)
	}
	body := decodeResponse(t, res)
	if !body.Success {
		t.Errorf("success = false: %+v", body)
	}
	if gotPhone != "9876543210" {
		t.Errorf("service saw phone %q, want normalized", gotPhone)
	}
}

func TestSendOTPRejectsBadPhone(t *testing.T) {
	srv := newAuthTestServer(&fakeAuthFlow{}, &fakeValidator{}, &fakeResolver{})
	defer srv.Close()

	tests := []struct {
		name    string
		payload string
	}{
		{"too short", `{"phone":"12345"}`},
		{"bad first digit", `{"phone":"1234567890"}`},
		{"empty", `{"phone":""}`},
		{"not json", `phone=987`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := postJSON(t, srv.URL+"/auth/otp/send", tt.payload)
			res.Body.Close()
			if res.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", res.StatusCode)
			}
		})
	}
}

func TestSendOTPRateLimited(t *testing.T) {
	flow := &fakeAuthFlow{
		sendFn: func(context.Context, string, string) (*service.OTPIssueResult, error) {
			return nil, service.ErrRateLimitExceeded
		},
	}
	srv := newAuthTestServer(flow, &fakeValidator{}, &fakeResolver{})
	defer srv.Close()

	res := postJSON(t, srv.URL+"/auth/otp/send", `{"phone":"9876543210"}`)
	res.Body.Close()
	if res.StatusCode != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", res.StatusCode)
	}
}

func TestVerifyOTPEndpoint(t *testing.T) {
	flow := &fakeAuthFlow{
		verifyFn: func(_ context.Context, _, code, _ string) (*service.VerifyResult, error) {
			if code != "482913" {
				return nil, service.ErrOTPInvalid
			}
			return &service.VerifyResult{
				Token:     "signed-token",
				User:      &models.User{UserID: "user-1", Phone: "9876543210", PhoneHash: "secret-hash"},
				IsNewUser: true,
			}, nil
		},
	}
	srv := newAuthTestServer(flow, &fakeValidator{}, &fakeResolver{})
	defer srv.Close()

	res := postJSON(t, srv.URL+"/auth/otp/verify", `{"phone":"9876543210","code":"482913"}`)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", res.StatusCode)
	}

	defer res.Body.Close()
	var body struct {
		Success bool `json:"success"`
		Data    struct {
			Token     string          `json:"token"`
			IsNewUser bool            `json:"is_new_user"`
			User      json.RawMessage `json:"user"`
		} `json:"data"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Data.Token != "signed-token" || !body.Data.IsNewUser {
		t.Errorf("data = %+v", body.Data)
	}
	// Internal fields must not leak through the sanitized view.
	if strings.Contains(string(body.Data.User), "secret-hash") {
		t.Error("phone hash leaked into the response")
	}
}

func TestVerifyOTPErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"wrong code", service.ErrOTPInvalid, http.StatusBadRequest},
		{"no code", service.ErrOTPNotFound, http.StatusBadRequest},
		{"attempts exceeded", service.ErrOTPAttemptsExceeded, http.StatusTooManyRequests},
		{"banned", service.ErrUserBanned, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flow := &fakeAuthFlow{
				verifyFn: func(context.Context, string, string, string) (*service.VerifyResult, error) {
					return nil, tt.err
				},
			}
			srv := newAuthTestServer(flow, &fakeValidator{}, &fakeResolver{})
			defer srv.Close()

			res := postJSON(t, srv.URL+"/auth/otp/verify", `{"phone":"9876543210","code":"000000"}`)
			res.Body.Close()
			if res.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", res.StatusCode, tt.wantStatus)
			}
		})
	}
}

func TestVerifyOTPRequiresCode(t *testing.T) {
	srv := newAuthTestServer(&fakeAuthFlow{}, &fakeValidator{}, &fakeResolver{})
	defer srv.Close()

	res := postJSON(t, srv.URL+"/auth/otp/verify", `{"phone":"9876543210"}`)
	res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", res.StatusCode)
	}
}

func TestMeEndpoint(t *testing.T) {
	srv := newAuthTestServer(&fakeAuthFlow{}, &fakeValidator{}, &fakeResolver{})
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/auth/me", nil)
	req.Header.Set("Authorization", "Bearer some-token")
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /auth/me: %v", err)
	}
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", res.StatusCode)
	}
	body := decodeResponse(t, res)
	if !body.Success {
		t.Errorf("success = false: %+v", body)
	}
}

func TestProtectedEndpointsRequireToken(t *testing.T) {
	srv := newAuthTestServer(&fakeAuthFlow{}, &fakeValidator{}, &fakeResolver{})
	defer srv.Close()

	for _, path := range []string{"/auth/refresh", "/auth/logout"} {
		res := postJSON(t, srv.URL+path, "")
		res.Body.Close()
		if res.StatusCode != http.StatusUnauthorized {
			t.Errorf("%s without token: status = %d, want 401", path, res.StatusCode)
		}
	}
}

func TestRefreshEndpoint(t *testing.T) {
	srv := newAuthTestServer(&fakeAuthFlow{}, &fakeValidator{}, &fakeResolver{})
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/auth/refresh", nil)
	req.Header.Set("Authorization", "Bearer some-token")
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST /auth/refresh: %v", err)
	}
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", res.StatusCode)
	}
	res.Body.Close()
}

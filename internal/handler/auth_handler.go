package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"neighborly-auth/internal/service"
	"neighborly-auth/internal/util"
)

// AuthFlow is the slice of the auth service the HTTP layer needs.
type AuthFlow interface {
	SendOTP(ctx context.Context, phone, ip string) (*service.OTPIssueResult, error)
	VerifyOTP(ctx context.Context, phone, code, ip string) (*service.VerifyResult, error)
	Refresh(ctx context.Context, userID, ip string) (*service.VerifyResult, error)
	Logout(ctx context.Context, userID, ip string) error
}

// AuthHandler serves the OTP login endpoints.
type AuthHandler struct {
	auth AuthFlow
}

func NewAuthHandler(auth AuthFlow) *AuthHandler {
	return &AuthHandler{auth: auth}
}

type sendOTPRequest struct {
	Phone string `json:"phone"`
}

type verifyOTPRequest struct {
	Phone string `json:"phone"`
	Code  string `json:"code"`
}

type sendOTPResponse struct {
	ExpiresAt time.Time `json:"expires_at"`
	Code      string    `json:"code,omitempty"`
}

type sessionResponse struct {
	Token     string    `json:"token"`
	User      *UserView `json:"user"`
	IsNewUser bool      `json:"is_new_user"`
}

// RegisterRoutes mounts the auth endpoints. The protected group runs behind
// the Authenticator middleware.
func (h *AuthHandler) RegisterRoutes(router chi.Router, authenticate func(http.Handler) http.Handler) {
	router.Route("/auth", func(r chi.Router) {
		r.Post("/otp/send", h.SendOTP)
		r.Post("/otp/verify", h.VerifyOTP)

		r.Group(func(r chi.Router) {
			r.Use(authenticate)
			r.Post("/refresh", h.Refresh)
			r.Post("/logout", h.Logout)
			r.Get("/me", h.Me)
		})
	})
}

// SendOTP issues a one-time code for the phone
// @Summary Send OTP
// @Tags auth
// @Accept json
// @Produce json
// @Param request body sendOTPRequest true "Phone number"
// @Success 200 {object} Response
// @Failure 400 {object} Response
// @Failure 429 {object} Response
// @Router /auth/otp/send [post]
func (h *AuthHandler) SendOTP(w http.ResponseWriter, r *http.Request) {
	var req sendOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	phone := util.NormalizePhone(req.Phone)
	if !util.ValidatePhone(phone) {
		respondWithError(w, http.StatusBadRequest,
			service.ErrInvalidInput, "Invalid phone number")
		return
	}

	result, err := h.auth.SendOTP(r.Context(), phone, r.RemoteAddr)
	if err != nil {
		respondWithError(w, getStatusCode(err), err, "Could not send OTP")
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(sendOTPResponse{
		ExpiresAt: result.ExpiresAt,
		Code:      result.Code,
	}, "OTP sent"))
}

// VerifyOTP checks the code and logs the caller in
// @Summary Verify OTP
// @Tags auth
// @Accept json
// @Produce json
// @Param request body verifyOTPRequest true "Phone and code"
// @Success 200 {object} Response
// @Failure 400 {object} Response
// @Failure 403 {object} Response
// @Failure 429 {object} Response
// @Router /auth/otp/verify [post]
func (h *AuthHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req verifyOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	phone := util.NormalizePhone(req.Phone)
	if !util.ValidatePhone(phone) {
		respondWithError(w, http.StatusBadRequest,
			service.ErrInvalidInput, "Invalid phone number")
		return
	}
	if req.Code == "" {
		respondWithError(w, http.StatusBadRequest,
			service.ErrInvalidInput, "Code is required")
		return
	}

	result, err := h.auth.VerifyOTP(r.Context(), phone, req.Code, r.RemoteAddr)
	if err != nil {
		respondWithError(w, getStatusCode(err), err, "Verification failed")
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(sessionResponse{
		Token:     result.Token,
		User:      sanitizeUser(result.User),
		IsNewUser: result.IsNewUser,
	}, "Login successful"))
}

// Refresh exchanges the current session for a fresh token
// @Summary Refresh session
// @Tags auth
// @Produce json
// @Security BearerAuth
// @Success 200 {object} Response
// @Failure 401 {object} Response
// @Router /auth/refresh [post]
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized,
			errors.New("no authenticated user"), "Unauthorized")
		return
	}

	result, err := h.auth.Refresh(r.Context(), user.UserID, r.RemoteAddr)
	if err != nil {
		respondWithError(w, getStatusCode(err), err, "Could not refresh session")
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(sessionResponse{
		Token: result.Token,
		User:  sanitizeUser(result.User),
	}, "Session refreshed"))
}

// Logout records the logout. Tokens are stateless and are not revoked; the
// client discards its copy and any outstanding token stays valid until exp.
// @Summary Logout
// @Tags auth
// @Produce json
// @Security BearerAuth
// @Success 200 {object} Response
// @Failure 401 {object} Response
// @Router /auth/logout [post]
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized,
			errors.New("no authenticated user"), "Unauthorized")
		return
	}

	if err := h.auth.Logout(r.Context(), user.UserID, r.RemoteAddr); err != nil {
		respondWithError(w, getStatusCode(err), err, "Logout failed")
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(nil, "Logged out"))
}

// Me returns the authenticated user's profile
// @Summary Current user
// @Tags auth
// @Produce json
// @Security BearerAuth
// @Success 200 {object} Response
// @Failure 401 {object} Response
// @Router /auth/me [get]
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized,
			errors.New("no authenticated user"), "Unauthorized")
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(sanitizeUser(user), "OK"))
}

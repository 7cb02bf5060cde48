package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"neighborly-auth/internal/models"
	"neighborly-auth/internal/service"
	"neighborly-auth/internal/token"
	"neighborly-auth/internal/util"
)

// Response is the standard API envelope.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
	Meta    *Meta       `json:"meta,omitempty"`
}

// Meta carries pagination metadata on list responses.
type Meta struct {
	Total    int `json:"total,omitempty"`
	PageSize int `json:"page_size,omitempty"`
}

// UserView is the sanitized user shape sent over the wire. Hashes, key ids
// and ciphertext never leave the service.
type UserView struct {
	UserID     string     `json:"user_id"`
	Phone      string     `json:"phone"`
	Name       string     `json:"name,omitempty"`
	Avatar     string     `json:"avatar,omitempty"`
	Language   string     `json:"language,omitempty"`
	TrustScore int        `json:"trust_score"`
	IsVerified bool       `json:"is_verified"`
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

func sanitizeUser(user *models.User) *UserView {
	return &UserView{
		UserID:     user.UserID,
		Phone:      user.Phone,
		Name:       user.Name,
		Avatar:     user.Avatar,
		Language:   user.Language,
		TrustScore: user.TrustScore,
		IsVerified: user.IsVerified,
		LastSeenAt: user.LastSeenAt,
		CreatedAt:  user.CreatedAt,
	}
}

func successResponse(data interface{}, message string) Response {
	return Response{
		Success: true,
		Data:    data,
		Message: message,
	}
}

func errorResponse(err error, message string) Response {
	return Response{
		Success: false,
		Error:   err.Error(),
		Message: message,
	}
}

func respondWithJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		util.Error("Failed to encode JSON response", util.ErrorField(err))
	}
}

func respondWithError(w http.ResponseWriter, statusCode int, err error, message string) {
	util.Warn("HTTP error response",
		util.ErrorField(err),
		util.Int("status_code", statusCode),
		util.String("message", message))
	respondWithJSON(w, statusCode, errorResponse(err, message))
}

// getStatusCode maps service sentinels to HTTP status codes.
func getStatusCode(err error) int {
	switch {
	case errors.Is(err, service.ErrRateLimitExceeded),
		errors.Is(err, service.ErrOTPAttemptsExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, service.ErrOTPNotFound),
		errors.Is(err, service.ErrOTPInvalid),
		errors.Is(err, service.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrUserNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrUserBanned):
		return http.StatusForbidden
	case errors.Is(err, token.ErrTokenInvalid),
		errors.Is(err, token.ErrTokenExpired):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

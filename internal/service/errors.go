package service

import "errors"

// Sentinel errors returned by the auth flows. The handler layer maps these
// to HTTP status codes with errors.Is.
var (
	ErrRateLimitExceeded   = errors.New("too many OTP requests")
	ErrOTPNotFound         = errors.New("OTP expired or not found")
	ErrOTPAttemptsExceeded = errors.New("too many failed attempts")
	ErrOTPInvalid          = errors.New("invalid OTP code")
	ErrUserNotFound        = errors.New("user not found")
	ErrUserBanned          = errors.New("user is banned")
	ErrInvalidInput        = errors.New("invalid input")
)

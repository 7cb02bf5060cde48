package models

import "time"

// OTPRequest is one issued code. The code itself is never stored; only the
// argon2id hash plus the salt and pepper version needed to recheck it.
// Rows are append-only except for attempts and is_used.
type OTPRequest struct {
	PhoneHash     string    `db:"phone_hash"`
	CreatedAt     time.Time `db:"created_at"`
	OTPID         string    `db:"otp_id"`
	CodeHash      string    `db:"code_hash"`
	CodeSalt      string    `db:"code_salt"`
	Algorithm     string    `db:"algorithm"`
	PepperVersion int       `db:"pepper_version"`
	UserID        string    `db:"user_id"`
	Attempts      int       `db:"attempts"`
	IsUsed        bool      `db:"is_used"`
	ExpiresAt     time.Time `db:"expires_at"`
}

// Expired reports whether the code is past its TTL.
func (o *OTPRequest) Expired(now time.Time) bool {
	return !o.ExpiresAt.After(now)
}

// Active means the row can still be consumed by a verification.
func (o *OTPRequest) Active(now time.Time) bool {
	return !o.IsUsed && !o.Expired(now)
}

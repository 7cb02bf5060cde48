package models

import "time"

// Security event types emitted by the auth flows.
const (
	EventOTPIssued       = "otp_issued"
	EventOTPRateLimited  = "otp_rate_limited"
	EventOTPVerifyFailed = "otp_verify_failed"
	EventOTPVerified     = "otp_verified"
	EventLogin           = "login"
	EventTokenRefreshed  = "token_refreshed"
	EventLogout          = "logout"
	EventBanApplied      = "ban_applied"
	EventBanLifted       = "ban_lifted"
)

// SecurityEvent is an audit record. Events are buffered in-process and
// flushed to the analytics sinks in batches; losing one under pressure is
// acceptable, slowing an auth request down is not.
type SecurityEvent struct {
	EventBucket int       `db:"event_bucket" json:"event_bucket"`
	EventDate   string    `db:"event_date" json:"event_date"`
	EventTime   time.Time `db:"event_time" json:"event_time"`
	EventType   string    `db:"event_type" json:"event_type"`
	UserID      string    `db:"user_id" json:"user_id,omitempty"`
	PhoneHash   string    `db:"phone_hash" json:"phone_hash,omitempty"`
	IPAddress   string    `db:"ip_address" json:"ip_address,omitempty"`
	RequestID   string    `db:"request_id" json:"request_id,omitempty"`
	Details     string    `db:"details" json:"details,omitempty"`
}

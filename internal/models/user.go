package models

import "time"

// User is the account row. The clear phone number is envelope-encrypted at
// rest; lookups go through PhoneHash. Phone is populated in memory after
// decryption and never written back as-is.
type User struct {
	UserBucket     int        `db:"user_bucket"`
	UserID         string     `db:"user_id"`
	PhoneHash      string     `db:"phone_hash"`
	PhoneEncrypted string     `db:"phone_encrypted"`
	PhoneDEK       string     `db:"phone_dek"`
	PhoneKeyID     string     `db:"phone_key_id"`
	Name           string     `db:"name"`
	Avatar         string     `db:"avatar"`
	Language       string     `db:"language"`
	TrustScore     int        `db:"trust_score"`
	IsVerified     bool       `db:"is_verified"`
	IsActive       bool       `db:"is_active"`
	IsBanned       bool       `db:"is_banned"`
	BanExpiresAt   *time.Time `db:"ban_expires_at"`
	LastSeenAt     *time.Time `db:"last_seen_at"`
	CreatedAt      time.Time  `db:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at"`

	Phone string `db:"-"`
}

// BanLapsed reports whether a temporary ban has run out as of now.
// Permanent bans (nil BanExpiresAt) never lapse.
func (u *User) BanLapsed(now time.Time) bool {
	return u.IsBanned && u.BanExpiresAt != nil && !u.BanExpiresAt.After(now)
}

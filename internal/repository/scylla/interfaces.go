package scylla

import (
	"context"
	"time"

	"neighborly-auth/internal/models"
)

// OTPStore is the durable OTP row store. Absence is reported as a nil row,
// not an error; sentinel mapping belongs to the service layer.
type OTPStore interface {
	Insert(ctx context.Context, otp *models.OTPRequest, keepFor time.Duration) error
	CountSince(ctx context.Context, phoneHash string, since time.Time) (int, error)
	LatestActive(ctx context.Context, phoneHash string, now time.Time) (*models.OTPRequest, error)
	MarkUsed(ctx context.Context, otp *models.OTPRequest) (bool, error)
	IncrementAttempts(ctx context.Context, otp *models.OTPRequest) error
	PurgeBefore(ctx context.Context, phoneHash string, cutoff time.Time) error
}

// UserStore is the durable account store. Create claims the phone mapping
// with a conditional insert; claimed=false hands back the row that won.
type UserStore interface {
	Create(ctx context.Context, user *models.User) (claimed bool, existing *models.User, err error)
	GetByID(ctx context.Context, userID string) (*models.User, error)
	GetByPhoneHash(ctx context.Context, phoneHash string) (*models.User, error)
	UpdateLastSeen(ctx context.Context, userID string, at time.Time) error
	SetBan(ctx context.Context, userID string, banned bool, expiresAt *time.Time) error
}

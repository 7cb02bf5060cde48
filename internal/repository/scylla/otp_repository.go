package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"neighborly-auth/internal/models"
	"neighborly-auth/internal/util"
)

// latestScanLimit bounds the scan for an active row. Rows are clustered
// newest-first and the rate limit caps issuance well below this.
const latestScanLimit = 10

type OTPRepository struct {
	client *ScyllaClient
}

func NewOTPRepository(client *ScyllaClient) *OTPRepository {
	return &OTPRepository{
		client: client,
	}
}

// Insert persists a new OTP row. keepFor is the row TTL and must cover both
// the code TTL and the rate-limit window, otherwise issued rows would fall
// out of the count before the window closes.
func (r *OTPRepository) Insert(ctx context.Context, otp *models.OTPRequest, keepFor time.Duration) error {
	if otp.OTPID == "" {
		otp.OTPID = uuid.New().String()
	}
	if otp.CreatedAt.IsZero() {
		otp.CreatedAt = time.Now().UTC()
	}

	query := r.client.Prepared.InsertOTP.Bind(
		otp.PhoneHash, otp.CreatedAt, otp.OTPID, otp.CodeHash, otp.CodeSalt,
		otp.Algorithm, otp.PepperVersion, otp.UserID, otp.Attempts, otp.IsUsed,
		otp.ExpiresAt, int(keepFor.Seconds())).WithContext(ctx)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to insert OTP row",
			zap.String("otp_id", otp.OTPID),
			zap.Error(err))
		return fmt.Errorf("failed to insert OTP row: %w", err)
	}

	util.Debug("OTP row inserted",
		zap.String("otp_id", otp.OTPID),
		zap.Time("expires_at", otp.ExpiresAt))

	return nil
}

// CountSince counts every row created in the window, consumed or not. This
// is the rate-limit source of truth; there is no separate counter to drift.
func (r *OTPRepository) CountSince(ctx context.Context, phoneHash string, since time.Time) (int, error) {
	var count int

	query := r.client.Prepared.CountOTPSince.Bind(phoneHash, since).WithContext(ctx)
	if err := r.client.ScanWithRetry(query, &count); err != nil {
		return 0, fmt.Errorf("failed to count OTP rows: %w", err)
	}

	return count, nil
}

// LatestActive returns the most recent unused, unexpired row for the phone,
// or nil when there is none.
func (r *OTPRepository) LatestActive(ctx context.Context, phoneHash string, now time.Time) (*models.OTPRequest, error) {
	iter := r.client.Prepared.RecentOTPs.Bind(phoneHash, latestScanLimit).WithContext(ctx).Iter()

	var found *models.OTPRequest
	for {
		otp := &models.OTPRequest{}
		if !iter.Scan(&otp.PhoneHash, &otp.CreatedAt, &otp.OTPID, &otp.CodeHash,
			&otp.CodeSalt, &otp.Algorithm, &otp.PepperVersion, &otp.UserID,
			&otp.Attempts, &otp.IsUsed, &otp.ExpiresAt) {
			break
		}
		if otp.Active(now) {
			found = otp
			break
		}
	}

	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to scan OTP rows: %w", err)
	}

	return found, nil
}

// MarkUsed flips is_used through a conditional update. A false return means
// the row was already consumed by a concurrent verification.
func (r *OTPRepository) MarkUsed(ctx context.Context, otp *models.OTPRequest) (bool, error) {
	query := r.client.Prepared.MarkOTPUsed.Bind(
		otp.PhoneHash, otp.CreatedAt, otp.OTPID).WithContext(ctx)

	var prevUsed bool
	applied, err := query.ScanCAS(&prevUsed)
	if err != nil {
		util.Error("Failed to mark OTP used",
			zap.String("otp_id", otp.OTPID),
			zap.Error(err))
		return false, fmt.Errorf("failed to mark OTP used: %w", err)
	}

	if !applied {
		util.Warn("OTP already consumed",
			zap.String("otp_id", otp.OTPID))
	}

	return applied, nil
}

// IncrementAttempts writes attempts+1. Concurrent wrong guesses may collapse
// into one increment; the cap check still holds because the consume step is
// conditional.
func (r *OTPRepository) IncrementAttempts(ctx context.Context, otp *models.OTPRequest) error {
	query := r.client.Prepared.IncrementOTPAttempts.Bind(
		otp.Attempts+1, otp.PhoneHash, otp.CreatedAt, otp.OTPID).WithContext(ctx)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to increment OTP attempts",
			zap.String("otp_id", otp.OTPID),
			zap.Error(err))
		return fmt.Errorf("failed to increment OTP attempts: %w", err)
	}

	otp.Attempts++
	return nil
}

// PurgeBefore range-deletes rows older than cutoff for one phone. Rows also
// carry a TTL, so this is belt-and-braces housekeeping.
func (r *OTPRepository) PurgeBefore(ctx context.Context, phoneHash string, cutoff time.Time) error {
	query := r.client.Prepared.PurgeOTPBefore.Bind(phoneHash, cutoff).WithContext(ctx)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		return fmt.Errorf("failed to purge OTP rows: %w", err)
	}

	return nil
}

// Stats reports approximate row counts for the health endpoint.
func (r *OTPRepository) Stats(ctx context.Context) (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	var total int64
	err := r.client.Query(`SELECT COUNT(*) FROM otp_requests`).WithContext(ctx).Scan(&total)
	if err != nil && err != gocql.ErrNotFound {
		util.Warn("Failed to count OTP rows", zap.Error(err))
	} else {
		stats["total_otp_rows"] = total
	}

	return stats, nil
}

package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"go.uber.org/zap"

	"neighborly-auth/internal/config"
	"neighborly-auth/internal/hashing"
	"neighborly-auth/internal/models"
	"neighborly-auth/internal/notification"
	"neighborly-auth/internal/repository/scylla"
	"neighborly-auth/internal/token"
	"neighborly-auth/internal/util"
)

const dispatchTimeout = 10 * time.Second

// AuthService runs the OTP login flows: issue a code, verify it, mint and
// refresh session tokens.
type AuthService struct {
	otps       scylla.OTPStore
	directory  *UserDirectory
	hasher     *hashing.Hasher
	tokens     *token.Service
	dispatcher notification.Dispatcher
	recorder   EventRecorder
	policy     config.OTPConfig
}

// OTPIssueResult reports a successful issuance. Code is populated only when
// the expose-code flag is on, which config validation forbids in production.
type OTPIssueResult struct {
	ExpiresAt time.Time
	Code      string
}

// VerifyResult is a completed login.
type VerifyResult struct {
	Token     string
	User      *models.User
	IsNewUser bool
}

func NewAuthService(
	otps scylla.OTPStore,
	directory *UserDirectory,
	hasher *hashing.Hasher,
	tokens *token.Service,
	dispatcher notification.Dispatcher,
	recorder EventRecorder,
	policy config.OTPConfig,
) *AuthService {
	return &AuthService{
		otps:       otps,
		directory:  directory,
		hasher:     hasher,
		tokens:     tokens,
		dispatcher: dispatcher,
		recorder:   recorder,
		policy:     policy,
	}
}

// SendOTP issues a fresh code for the phone. The sliding-window rate limit
// is recomputed from stored rows on every call; used and expired rows in
// the window still count. Delivery is handed off after the row is durable
// and can no longer fail the request.
func (s *AuthService) SendOTP(ctx context.Context, phone, ip string) (*OTPIssueResult, error) {
	phoneHash := util.HashPhone(phone)
	now := time.Now().UTC()

	issued, err := s.otps.CountSince(ctx, phoneHash, now.Add(-s.policy.RateLimitWindow))
	if err != nil {
		return nil, fmt.Errorf("failed to check rate limit: %w", err)
	}
	if issued >= s.policy.RateLimitMax {
		s.recorder.Record(models.SecurityEvent{
			EventType: models.EventOTPRateLimited,
			PhoneHash: phoneHash,
			IPAddress: ip,
		})
		util.Warn("OTP rate limit exceeded",
			zap.String("phone", util.MaskPhone(phone)),
			zap.Int("issued_in_window", issued))
		return nil, ErrRateLimitExceeded
	}

	code, err := generateCode(s.policy.CodeLength)
	if err != nil {
		return nil, fmt.Errorf("failed to generate code: %w", err)
	}

	hashed, err := s.hasher.HashOTP(code)
	if err != nil {
		return nil, fmt.Errorf("failed to hash code: %w", err)
	}

	otp := &models.OTPRequest{
		PhoneHash:     phoneHash,
		CreatedAt:     now,
		CodeHash:      hashed.Hash,
		CodeSalt:      hashed.Salt,
		Algorithm:     hashed.Algorithm,
		PepperVersion: hashed.PepperVersion,
		ExpiresAt:     now.Add(s.policy.TTL),
	}

	// Link the row to an existing account when the phone is known. Lookup
	// failure only loses the link, never the issuance.
	if owner, err := s.directory.FindByPhone(ctx, phone); err != nil {
		util.Warn("Owner lookup failed during OTP issue", zap.Error(err))
	} else if owner != nil {
		otp.UserID = owner.UserID
	}

	// Rows must outlive both the code TTL and the rate-limit window.
	keepFor := s.policy.RateLimitWindow + s.policy.TTL
	if err := s.otps.Insert(ctx, otp, keepFor); err != nil {
		return nil, err
	}

	s.dispatchAsync(phone, code, otp.ExpiresAt)
	s.purgeAsync(phoneHash, now.Add(-keepFor))

	s.recorder.Record(models.SecurityEvent{
		EventType: models.EventOTPIssued,
		PhoneHash: phoneHash,
		UserID:    otp.UserID,
		IPAddress: ip,
	})

	result := &OTPIssueResult{ExpiresAt: otp.ExpiresAt}
	if s.policy.ExposeCode {
		result.Code = code
	}

	return result, nil
}

// dispatchAsync hands the code to the dispatcher in the background. The row
// is already durable; a delivery failure must not fail or slow the caller.
func (s *AuthService) dispatchAsync(phone, code string, expiresAt time.Time) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
		defer cancel()

		if err := s.dispatcher.SendOTP(ctx, phone, code, expiresAt); err != nil {
			util.Error("OTP dispatch failed",
				zap.String("phone", util.MaskPhone(phone)),
				zap.Error(err))
		}
	}()
}

// purgeAsync opportunistically deletes rows that fell out of the window.
func (s *AuthService) purgeAsync(phoneHash string, cutoff time.Time) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
		defer cancel()

		if err := s.otps.PurgeBefore(ctx, phoneHash, cutoff); err != nil {
			util.Debug("OTP purge failed", zap.Error(err))
		}
	}()
}

// VerifyOTP checks the code and logs the phone owner in, creating the
// account on first login. The check order is fixed: active row, attempts
// cap, code match, conditional consume. A row verifies at most once; after
// the attempts cap even the correct code is refused.
func (s *AuthService) VerifyOTP(ctx context.Context, phone, code, ip string) (*VerifyResult, error) {
	phoneHash := util.HashPhone(phone)

	if s.policy.SkipVerify {
		// Test-rig escape hatch. Config validation refuses this flag in
		// production, so the warn is for staging operators.
		util.Warn("OTP verification skipped by configuration",
			zap.String("phone", util.MaskPhone(phone)))
	} else {
		if err := s.consumeOTP(ctx, phoneHash, code, ip); err != nil {
			return nil, err
		}
	}

	user, isNew, err := s.directory.FindOrCreateByPhone(ctx, phone)
	if err != nil {
		return nil, err
	}

	if !isNew {
		// Enforce account state on login; also clears a lapsed ban.
		user, err = s.directory.ResolveActive(ctx, user.UserID)
		if err != nil {
			return nil, err
		}
	}

	if err := s.directory.TouchLastSeen(ctx, user.UserID); err != nil {
		util.Warn("Failed to stamp last seen",
			zap.String("user_id", user.UserID),
			zap.Error(err))
	}

	signed, err := s.tokens.Issue(user.UserID, user.Phone)
	if err != nil {
		return nil, fmt.Errorf("failed to issue token: %w", err)
	}

	s.recorder.Record(models.SecurityEvent{
		EventType: models.EventLogin,
		UserID:    user.UserID,
		PhoneHash: phoneHash,
		IPAddress: ip,
		Details:   fmt.Sprintf("is_new_user=%t", isNew),
	})

	return &VerifyResult{
		Token:     signed,
		User:      user,
		IsNewUser: isNew,
	}, nil
}

func (s *AuthService) consumeOTP(ctx context.Context, phoneHash, code, ip string) error {
	now := time.Now().UTC()

	otp, err := s.otps.LatestActive(ctx, phoneHash, now)
	if err != nil {
		return err
	}
	if otp == nil {
		s.recordVerifyFailure(phoneHash, ip, "no active code")
		return ErrOTPNotFound
	}

	if otp.Attempts >= s.policy.MaxAttempts {
		s.recordVerifyFailure(phoneHash, ip, "attempts exceeded")
		return ErrOTPAttemptsExceeded
	}

	match, err := s.hasher.VerifyOTP(code, &hashing.HashResult{
		Hash:          otp.CodeHash,
		Salt:          otp.CodeSalt,
		PepperVersion: otp.PepperVersion,
		Algorithm:     otp.Algorithm,
	})
	if err != nil {
		return fmt.Errorf("failed to verify code: %w", err)
	}

	if !match {
		if err := s.otps.IncrementAttempts(ctx, otp); err != nil {
			util.Error("Failed to record wrong attempt", zap.Error(err))
		}
		s.recordVerifyFailure(phoneHash, ip, "wrong code")
		return ErrOTPInvalid
	}

	applied, err := s.otps.MarkUsed(ctx, otp)
	if err != nil {
		return err
	}
	if !applied {
		// Lost the consume race; for the caller the code no longer exists.
		s.recordVerifyFailure(phoneHash, ip, "already consumed")
		return ErrOTPNotFound
	}

	s.recorder.Record(models.SecurityEvent{
		EventType: models.EventOTPVerified,
		PhoneHash: phoneHash,
		UserID:    otp.UserID,
		IPAddress: ip,
	})

	return nil
}

func (s *AuthService) recordVerifyFailure(phoneHash, ip, reason string) {
	s.recorder.Record(models.SecurityEvent{
		EventType: models.EventOTPVerifyFailed,
		PhoneHash: phoneHash,
		IPAddress: ip,
		Details:   reason,
	})
}

// Refresh exchanges a valid session for a fresh one, re-checking account
// state on the way.
func (s *AuthService) Refresh(ctx context.Context, userID, ip string) (*VerifyResult, error) {
	user, err := s.directory.ResolveActive(ctx, userID)
	if err != nil {
		return nil, err
	}

	signed, err := s.tokens.Issue(user.UserID, user.Phone)
	if err != nil {
		return nil, fmt.Errorf("failed to issue token: %w", err)
	}

	s.recorder.Record(models.SecurityEvent{
		EventType: models.EventTokenRefreshed,
		UserID:    user.UserID,
		IPAddress: ip,
	})

	return &VerifyResult{
		Token: signed,
		User:  user,
	}, nil
}

// Logout stamps activity and records the event. Sessions are stateless, so
// previously issued tokens remain valid until they expire; clients discard
// theirs and that is the extent of the guarantee.
func (s *AuthService) Logout(ctx context.Context, userID, ip string) error {
	if err := s.directory.TouchLastSeen(ctx, userID); err != nil {
		util.Warn("Failed to stamp last seen on logout",
			zap.String("user_id", userID),
			zap.Error(err))
	}

	s.recorder.Record(models.SecurityEvent{
		EventType: models.EventLogout,
		UserID:    userID,
		IPAddress: ip,
	})

	return nil
}

// generateCode draws each digit independently from crypto/rand.
func generateCode(length int) (string, error) {
	digits := make([]byte, length)
	for i := range digits {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		digits[i] = byte('0' + n.Int64())
	}
	return string(digits), nil
}

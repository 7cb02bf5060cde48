package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"neighborly-auth/internal/models"
	"neighborly-auth/internal/repository/scylla"
	"neighborly-auth/internal/util"
)

// UserCacheStore is the read-through cache in front of the user store.
type UserCacheStore interface {
	GetUser(ctx context.Context, userID string) (*models.User, error)
	SetUser(ctx context.Context, user *models.User) error
	Invalidate(ctx context.Context, userID string) error
}

// EventRecorder receives audit events. Recording is fire-and-forget.
type EventRecorder interface {
	Record(event models.SecurityEvent)
}

// UserDirectory owns account lookup, creation and moderation state. Every
// authenticated request funnels through ResolveActive.
type UserDirectory struct {
	users    scylla.UserStore
	cache    UserCacheStore
	recorder EventRecorder
}

func NewUserDirectory(users scylla.UserStore, cache UserCacheStore, recorder EventRecorder) *UserDirectory {
	return &UserDirectory{
		users:    users,
		cache:    cache,
		recorder: recorder,
	}
}

// FindByPhone returns the account owning the phone, or nil when the phone
// is unclaimed.
func (d *UserDirectory) FindByPhone(ctx context.Context, phone string) (*models.User, error) {
	user, err := d.users.GetByPhoneHash(ctx, util.HashPhone(phone))
	if err != nil {
		return nil, fmt.Errorf("failed to look up phone: %w", err)
	}
	return user, nil
}

// FindOrCreateByPhone returns the account for the phone, creating one on
// first login. Two concurrent verifications for a fresh phone converge on a
// single account: creation claims the phone mapping conditionally and the
// losing call adopts the winner's row.
func (d *UserDirectory) FindOrCreateByPhone(ctx context.Context, phone string) (*models.User, bool, error) {
	phoneHash := util.HashPhone(phone)

	user, err := d.users.GetByPhoneHash(ctx, phoneHash)
	if err != nil {
		return nil, false, fmt.Errorf("failed to look up phone: %w", err)
	}
	if user != nil {
		return user, false, nil
	}

	fresh := &models.User{
		Phone:      phone,
		PhoneHash:  phoneHash,
		Language:   "en",
		IsActive:   true,
		IsVerified: true,
	}

	claimed, existing, err := d.users.Create(ctx, fresh)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create user: %w", err)
	}
	if !claimed {
		util.Info("Concurrent signup lost phone claim, adopting existing account",
			zap.String("user_id", existing.UserID))
		return existing, false, nil
	}

	util.Info("New user registered", zap.String("user_id", fresh.UserID))
	return fresh, true, nil
}

// ResolveActive loads the user and enforces account state. A lapsed
// temporary ban is cleared durably on the way through; the write is
// idempotent, so concurrent resolutions converge on the same state.
func (d *UserDirectory) ResolveActive(ctx context.Context, userID string) (*models.User, error) {
	var user *models.User
	var err error

	if d.cache != nil {
		user, err = d.cache.GetUser(ctx, userID)
		if err != nil {
			return nil, err
		}
	}
	fromCache := user != nil

	if user == nil {
		user, err = d.users.GetByID(ctx, userID)
		if err != nil {
			return nil, err
		}
	}

	if user == nil || !user.IsActive {
		return nil, ErrUserNotFound
	}

	now := time.Now().UTC()
	if user.BanLapsed(now) {
		if err := d.users.SetBan(ctx, user.UserID, false, nil); err != nil {
			return nil, fmt.Errorf("failed to clear lapsed ban: %w", err)
		}
		user.IsBanned = false
		user.BanExpiresAt = nil
		d.invalidate(ctx, user.UserID)
		fromCache = false

		d.recorder.Record(models.SecurityEvent{
			EventType: models.EventBanLifted,
			UserID:    user.UserID,
			Details:   "ban lapsed",
		})
		util.Info("Lapsed ban cleared", zap.String("user_id", user.UserID))
	}

	if user.IsBanned {
		return nil, ErrUserBanned
	}

	if !fromCache && d.cache != nil {
		if err := d.cache.SetUser(ctx, user); err != nil {
			util.Debug("User cache write skipped", zap.Error(err))
		}
	}

	return user, nil
}

func (d *UserDirectory) invalidate(ctx context.Context, userID string) {
	if d.cache == nil {
		return
	}
	if err := d.cache.Invalidate(ctx, userID); err != nil {
		util.Debug("User cache invalidation skipped", zap.Error(err))
	}
}

// TouchLastSeen stamps activity on the account.
func (d *UserDirectory) TouchLastSeen(ctx context.Context, userID string) error {
	if err := d.users.UpdateLastSeen(ctx, userID, time.Now().UTC()); err != nil {
		return err
	}
	d.invalidate(ctx, userID)
	return nil
}

// Ban applies a moderation ban. A nil expiresAt is permanent.
func (d *UserDirectory) Ban(ctx context.Context, userID string, expiresAt *time.Time) error {
	user, err := d.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if user == nil {
		return ErrUserNotFound
	}

	if err := d.users.SetBan(ctx, userID, true, expiresAt); err != nil {
		return err
	}
	d.invalidate(ctx, userID)

	details := "permanent"
	if expiresAt != nil {
		details = "until " + expiresAt.UTC().Format(time.RFC3339)
	}
	d.recorder.Record(models.SecurityEvent{
		EventType: models.EventBanApplied,
		UserID:    userID,
		Details:   details,
	})

	return nil
}

// Unban lifts a ban ahead of its expiry.
func (d *UserDirectory) Unban(ctx context.Context, userID string) error {
	user, err := d.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if user == nil {
		return ErrUserNotFound
	}

	if err := d.users.SetBan(ctx, userID, false, nil); err != nil {
		return err
	}
	d.invalidate(ctx, userID)

	d.recorder.Record(models.SecurityEvent{
		EventType: models.EventBanLifted,
		UserID:    userID,
		Details:   "lifted by admin",
	})

	return nil
}

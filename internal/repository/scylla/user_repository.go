package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"neighborly-auth/internal/bucketing"
	"neighborly-auth/internal/encryption"
	"neighborly-auth/internal/models"
	"neighborly-auth/internal/util"
)

// UserRepository persists accounts across the users and phone_to_user
// tables. The clear phone only exists in memory: it goes through the
// encryption manager on write and back out on read.
type UserRepository struct {
	client    *ScyllaClient
	buckets   *bucketing.BucketingManager
	encryptor *encryption.Manager
}

func NewUserRepository(client *ScyllaClient, buckets *bucketing.BucketingManager, encryptor *encryption.Manager) *UserRepository {
	return &UserRepository{
		client:    client,
		buckets:   buckets,
		encryptor: encryptor,
	}
}

// Create claims the phone mapping with a conditional insert and only then
// writes the user row. When the claim loses to a concurrent creation the
// winner's row is fetched and returned with claimed=false.
func (r *UserRepository) Create(ctx context.Context, user *models.User) (bool, *models.User, error) {
	if user.UserID == "" {
		user.UserID = uuid.New().String()
	}

	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now
	user.UserBucket = r.buckets.UserBucket(user.UserID)

	encrypted, err := r.encryptor.EncryptField(ctx, user.Phone)
	if err != nil {
		return false, nil, fmt.Errorf("failed to encrypt phone: %w", err)
	}
	user.PhoneEncrypted = encrypted.Ciphertext
	user.PhoneDEK = encrypted.EncryptedDEK
	user.PhoneKeyID = encrypted.KeyID

	claim := r.client.Prepared.ClaimPhone.Bind(
		user.PhoneHash, user.UserBucket, user.UserID, now).WithContext(ctx)

	prev := make(map[string]interface{})
	applied, err := claim.MapScanCAS(prev)
	if err != nil {
		util.Error("Failed to claim phone mapping",
			zap.String("user_id", user.UserID),
			zap.Error(err))
		return false, nil, fmt.Errorf("failed to claim phone mapping: %w", err)
	}

	if !applied {
		winnerBucket, _ := prev["user_bucket"].(int)
		winnerID := fmt.Sprintf("%v", prev["user_id"])
		existing, err := r.getByBucketAndID(ctx, winnerBucket, winnerID)
		if err != nil {
			return false, nil, err
		}
		if existing == nil {
			// Mapping exists but the winner's row has not landed yet.
			return false, nil, fmt.Errorf("phone already claimed by user %s", winnerID)
		}
		return false, existing, nil
	}

	insert := r.client.Prepared.CreateUser.Bind(
		user.UserBucket, user.UserID, user.PhoneHash, user.PhoneEncrypted,
		user.PhoneDEK, user.PhoneKeyID, user.Name, user.Avatar, user.Language,
		user.TrustScore, user.IsVerified, user.IsActive, user.IsBanned,
		user.BanExpiresAt, user.LastSeenAt, user.CreatedAt, user.UpdatedAt).WithContext(ctx)

	if err := r.client.ExecuteWithRetry(insert, 2); err != nil {
		util.Error("Failed to create user",
			zap.String("user_id", user.UserID),
			zap.Error(err))
		return false, nil, fmt.Errorf("failed to create user: %w", err)
	}

	util.Info("User created",
		zap.String("user_id", user.UserID),
		zap.Int("user_bucket", user.UserBucket))

	return true, nil, nil
}

// GetByID returns the user, or nil when no row exists.
func (r *UserRepository) GetByID(ctx context.Context, userID string) (*models.User, error) {
	return r.getByBucketAndID(ctx, r.buckets.UserBucket(userID), userID)
}

func (r *UserRepository) getByBucketAndID(ctx context.Context, bucket int, userID string) (*models.User, error) {
	user := &models.User{}
	var banExpiresAt, lastSeenAt time.Time

	query := r.client.Prepared.GetUserByID.Bind(bucket, userID).WithContext(ctx)

	err := r.client.ScanWithRetry(query,
		&user.UserBucket, &user.UserID, &user.PhoneHash, &user.PhoneEncrypted,
		&user.PhoneDEK, &user.PhoneKeyID, &user.Name, &user.Avatar,
		&user.Language, &user.TrustScore, &user.IsVerified, &user.IsActive,
		&user.IsBanned, &banExpiresAt, &lastSeenAt, &user.CreatedAt, &user.UpdatedAt)

	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, nil
		}
		util.Error("Failed to get user by ID",
			zap.String("user_id", userID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get user by ID: %w", err)
	}

	if !banExpiresAt.IsZero() {
		user.BanExpiresAt = &banExpiresAt
	}
	if !lastSeenAt.IsZero() {
		user.LastSeenAt = &lastSeenAt
	}

	if err := r.decryptPhone(ctx, user); err != nil {
		return nil, err
	}

	return user, nil
}

// GetByPhoneHash resolves the phone mapping and loads the user row. Returns
// nil when the phone is unclaimed.
func (r *UserRepository) GetByPhoneHash(ctx context.Context, phoneHash string) (*models.User, error) {
	var bucket int
	var userID string

	query := r.client.Prepared.GetPhoneMapping.Bind(phoneHash).WithContext(ctx)
	if err := r.client.ScanWithRetry(query, &bucket, &userID); err != nil {
		if err == gocql.ErrNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to resolve phone mapping: %w", err)
	}

	return r.getByBucketAndID(ctx, bucket, userID)
}

func (r *UserRepository) UpdateLastSeen(ctx context.Context, userID string, at time.Time) error {
	query := r.client.Prepared.UpdateLastSeen.Bind(
		at, at, r.buckets.UserBucket(userID), userID).WithContext(ctx)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to update last seen",
			zap.String("user_id", userID),
			zap.Error(err))
		return fmt.Errorf("failed to update last seen: %w", err)
	}

	return nil
}

// SetBan writes the ban flags. Clearing a lapsed ban and clearing an already
// clear ban write the same values, which keeps the self-heal idempotent.
func (r *UserRepository) SetBan(ctx context.Context, userID string, banned bool, expiresAt *time.Time) error {
	query := r.client.Prepared.SetBan.Bind(
		banned, expiresAt, time.Now().UTC(),
		r.buckets.UserBucket(userID), userID).WithContext(ctx)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to update ban state",
			zap.String("user_id", userID),
			zap.Bool("banned", banned),
			zap.Error(err))
		return fmt.Errorf("failed to update ban state: %w", err)
	}

	util.Info("Ban state updated",
		zap.String("user_id", userID),
		zap.Bool("banned", banned))

	return nil
}

func (r *UserRepository) decryptPhone(ctx context.Context, user *models.User) error {
	if user.PhoneEncrypted == "" {
		return nil
	}

	phone, err := r.encryptor.DecryptField(ctx, &encryption.EncryptedField{
		Ciphertext:   user.PhoneEncrypted,
		EncryptedDEK: user.PhoneDEK,
		KeyID:        user.PhoneKeyID,
	})
	if err != nil {
		return fmt.Errorf("failed to decrypt phone for user %s: %w", user.UserID, err)
	}

	user.Phone = phone
	return nil
}

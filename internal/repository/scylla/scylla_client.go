package scylla

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"neighborly-auth/internal/config"
	"neighborly-auth/internal/util"
)

// PreparedStatements holds every statement the repositories run. The LWT
// statements (ClaimPhone, MarkOTPUsed) carry the conditional clauses that
// make phone claiming and OTP consumption race-safe.
type PreparedStatements struct {
	InsertOTP            *gocql.Query
	CountOTPSince        *gocql.Query
	RecentOTPs           *gocql.Query
	MarkOTPUsed          *gocql.Query
	IncrementOTPAttempts *gocql.Query
	PurgeOTPBefore       *gocql.Query

	CreateUser      *gocql.Query
	ClaimPhone      *gocql.Query
	GetPhoneMapping *gocql.Query
	GetUserByID     *gocql.Query
	UpdateLastSeen  *gocql.Query
	SetBan          *gocql.Query
}

type ScyllaClient struct {
	Session      *gocql.Session
	config       *config.ScyllaConfig
	Prepared     *PreparedStatements
	prepareMutex sync.RWMutex
	isPrepared   bool
}

func NewScyllaClient(cfg *config.Config) (*ScyllaClient, error) {
	scyllaConfig := cfg.Scylla

	cluster := gocql.NewCluster(scyllaConfig.Hosts...)
	cluster.Keyspace = scyllaConfig.Keyspace
	cluster.Consistency = gocql.LocalQuorum
	cluster.Timeout = scyllaConfig.Timeout
	cluster.ConnectTimeout = 10 * time.Second
	cluster.NumConns = 4
	cluster.SocketKeepalive = 30 * time.Second
	cluster.MaxPreparedStmts = 1000
	cluster.PageSize = 1000
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		Min:        time.Second,
		Max:        10 * time.Second,
		NumRetries: 3,
	}

	if !cfg.IsDevelopment() {
		cluster.SslOpts = &gocql.SslOptions{
			CaPath:                 envOr("SCYLLA_CA_FILE", "/app/certs/ca.pem"),
			CertPath:               envOr("SCYLLA_CERT_FILE", "/app/certs/scylla.pem"),
			KeyPath:                envOr("SCYLLA_KEY_FILE", "/app/certs/scylla.key"),
			EnableHostVerification: true,
		}
	}

	if scyllaConfig.Username != "" && scyllaConfig.Password != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: scyllaConfig.Username,
			Password: scyllaConfig.Password,
		}
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create scylla session: %w", err)
	}

	client := &ScyllaClient{
		Session: session,
		config:  &scyllaConfig,
	}

	if err := client.prepareStatements(); err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	util.Info("ScyllaDB client initialized with prepared statements",
		zap.Strings("hosts", scyllaConfig.Hosts),
		zap.String("keyspace", scyllaConfig.Keyspace))

	return client, nil
}

func (s *ScyllaClient) prepareStatements() error {
	s.prepareMutex.Lock()
	defer s.prepareMutex.Unlock()

	if s.isPrepared {
		return nil
	}

	prepared := &PreparedStatements{}

	prepared.InsertOTP = s.Session.Query(`
        INSERT INTO otp_requests (
            phone_hash, created_at, otp_id, code_hash, code_salt, algorithm,
            pepper_version, user_id, attempts, is_used, expires_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) USING TTL ?`)

	prepared.CountOTPSince = s.Session.Query(`
        SELECT COUNT(*) FROM otp_requests WHERE phone_hash = ? AND created_at >= ?`)

	prepared.RecentOTPs = s.Session.Query(`
        SELECT phone_hash, created_at, otp_id, code_hash, code_salt, algorithm,
            pepper_version, user_id, attempts, is_used, expires_at
        FROM otp_requests WHERE phone_hash = ? LIMIT ?`)

	prepared.MarkOTPUsed = s.Session.Query(`
        UPDATE otp_requests SET is_used = true
        WHERE phone_hash = ? AND created_at = ? AND otp_id = ?
        IF is_used = false`)

	prepared.IncrementOTPAttempts = s.Session.Query(`
        UPDATE otp_requests SET attempts = ?
        WHERE phone_hash = ? AND created_at = ? AND otp_id = ?`)

	prepared.PurgeOTPBefore = s.Session.Query(`
        DELETE FROM otp_requests WHERE phone_hash = ? AND created_at < ?`)

	prepared.CreateUser = s.Session.Query(`
        INSERT INTO users (
            user_bucket, user_id, phone_hash, phone_encrypted, phone_dek,
            phone_key_id, name, avatar, language, trust_score, is_verified,
            is_active, is_banned, ban_expires_at, last_seen_at, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	prepared.ClaimPhone = s.Session.Query(`
        INSERT INTO phone_to_user (phone_hash, user_bucket, user_id, created_at)
        VALUES (?, ?, ?, ?) IF NOT EXISTS`)

	prepared.GetPhoneMapping = s.Session.Query(`
        SELECT user_bucket, user_id FROM phone_to_user WHERE phone_hash = ?`)

	prepared.GetUserByID = s.Session.Query(`
        SELECT user_bucket, user_id, phone_hash, phone_encrypted, phone_dek,
            phone_key_id, name, avatar, language, trust_score, is_verified,
            is_active, is_banned, ban_expires_at, last_seen_at, created_at, updated_at
        FROM users WHERE user_bucket = ? AND user_id = ?`)

	prepared.UpdateLastSeen = s.Session.Query(`
        UPDATE users SET last_seen_at = ?, updated_at = ?
        WHERE user_bucket = ? AND user_id = ?`)

	prepared.SetBan = s.Session.Query(`
        UPDATE users SET is_banned = ?, ban_expires_at = ?, updated_at = ?
        WHERE user_bucket = ? AND user_id = ?`)

	s.Prepared = prepared
	s.isPrepared = true

	util.Info("ScyllaDB prepared statements created")
	return nil
}

func (s *ScyllaClient) Close() {
	if s.Session != nil {
		s.Session.Close()
		util.Info("ScyllaDB client closed")
	}
}

func (s *ScyllaClient) Query(stmt string, values ...interface{}) *gocql.Query {
	return s.Session.Query(stmt, values...)
}

func (s *ScyllaClient) HealthCheck() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var clusterName string
	err := s.Session.Query(`SELECT cluster_name FROM system.local`).WithContext(ctx).Scan(&clusterName)
	if err != nil {
		return fmt.Errorf("scylla health check failed: %w", err)
	}

	util.Debug("ScyllaDB health check passed", zap.String("cluster_name", clusterName))
	return nil
}

func (s *ScyllaClient) ExecuteWithRetry(query *gocql.Query, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if err := query.Exec(); err != nil {
			lastErr = err
			if i < maxRetries {
				time.Sleep(time.Duration(i+1) * 100 * time.Millisecond)
				continue
			}
		} else {
			return nil
		}
	}
	return lastErr
}

func envOr(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func (s *ScyllaClient) ScanWithRetry(query *gocql.Query, dest ...interface{}) error {
	var lastErr error
	for i := 0; i < 3; i++ {
		if err := query.Scan(dest...); err != nil {
			lastErr = err
			if err == gocql.ErrNotFound {
				return err
			}
			if i < 2 {
				time.Sleep(time.Duration(i+1) * 100 * time.Millisecond)
				continue
			}
		} else {
			return nil
		}
	}
	return lastErr
}

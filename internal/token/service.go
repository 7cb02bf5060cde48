package token

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"neighborly-auth/internal/config"
)

var (
	ErrTokenInvalid = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

// Claims is the verified content of a session token.
type Claims struct {
	UserID string
	Phone  string
	JTI    string
}

// Service issues and validates HS256 session tokens. Tokens are stateless:
// nothing is persisted server-side and there is no revocation list, so a
// token stays valid until exp regardless of logout.
type Service struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

func NewService(cfg *config.Config) *Service {
	secret := cfg.JWT.Secret
	if secret == "" {
		// Development convenience; Validate rejects an empty secret in production.
		secret = "dev-jwt-secret"
	}

	return &Service{
		secret: []byte(secret),
		issuer: cfg.JWT.Issuer,
		ttl:    cfg.JWT.TTL,
	}
}

// Issue signs a fresh token for the user.
func (s *Service) Issue(userID, phone string) (string, error) {
	jti, err := generateJTI()
	if err != nil {
		return "", fmt.Errorf("failed to generate jti: %w", err)
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"sub":   userID,
		"phone": phone,
		"jti":   jti,
		"iss":   s.issuer,
		"iat":   now.Unix(),
		"exp":   now.Add(s.ttl).Unix(),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return signed, nil
}

// Validate parses and verifies a token, returning its claims.
func (s *Service) Validate(tokenString string) (*Claims, error) {
	parsed, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithIssuer(s.issuer), jwt.WithExpirationRequired())

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return nil, ErrTokenInvalid
	}

	userID, _ := claims["sub"].(string)
	if userID == "" {
		return nil, ErrTokenInvalid
	}
	phone, _ := claims["phone"].(string)
	jti, _ := claims["jti"].(string)

	return &Claims{
		UserID: userID,
		Phone:  phone,
		JTI:    jti,
	}, nil
}

func generateJTI() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

package handler

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"neighborly-auth/internal/models"
	"neighborly-auth/internal/service"
	"neighborly-auth/internal/token"
)

type contextKey string

const userContextKey contextKey = "auth_user"

// TokenValidator verifies a session token and returns its claims.
type TokenValidator interface {
	Validate(tokenString string) (*token.Claims, error)
}

// AccountResolver loads a user and enforces account state (active, ban).
type AccountResolver interface {
	ResolveActive(ctx context.Context, userID string) (*models.User, error)
}

// Authenticator validates the Bearer token and resolves the account. A user
// that disappeared or deactivated since the token was minted gets 401, a
// banned user 403. The resolved user lands in the request context.
func Authenticator(tokens TokenValidator, directory AccountResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				respondWithError(w, http.StatusUnauthorized,
					token.ErrTokenInvalid, "Missing bearer token")
				return
			}

			claims, err := tokens.Validate(strings.TrimPrefix(header, "Bearer "))
			if err != nil {
				respondWithError(w, http.StatusUnauthorized, err, "Invalid session")
				return
			}

			user, err := directory.ResolveActive(r.Context(), claims.UserID)
			if err != nil {
				status := http.StatusUnauthorized
				if errors.Is(err, service.ErrUserBanned) {
					status = http.StatusForbidden
				}
				respondWithError(w, status, err, "Session rejected")
				return
			}

			ctx := context.WithValue(r.Context(), userContextKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserFromContext returns the authenticated user placed by Authenticator.
func UserFromContext(ctx context.Context) (*models.User, bool) {
	user, ok := ctx.Value(userContextKey).(*models.User)
	return user, ok
}

// AdminOnly gates the moderation endpoints behind a shared key header.
func AdminOnly(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			provided := r.Header.Get("X-Admin-Key")
			if apiKey == "" ||
				subtle.ConstantTimeCompare([]byte(provided), []byte(apiKey)) != 1 {
				respondWithError(w, http.StatusForbidden,
					errors.New("admin access denied"), "Admin access denied")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/wyzwanie/challenge/models"
)

const (
	DefaultTTL    = 7 * 24 * time.Hour
	stravaIDClaim = "stravaId"
)

var (
	ErrMissingToken = errors.New("no token provided")
	ErrInvalidToken = errors.New("invalid or expired token")
)

// Claims is what a verified session token tells us about its holder
type Claims struct {
	ID        string
	UserID    int64
	StravaID  string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Manager issues and verifies HS256 session tokens
type Manager struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewSessionManager(secret string, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// CreateToken signs a session token for the user
func (sm *Manager) CreateToken(user *models.User) (string, error) {
	now := sm.now()
	tok, err := jwt.NewBuilder().
		JwtID(uuid.NewString()).
		Subject(strconv.FormatInt(user.ID, 10)).
		IssuedAt(now).
		Expiration(now.Add(sm.ttl)).
		Claim(stravaIDClaim, user.StravaID).
		Build()
	if err != nil {
		return "", fmt.Errorf("build session token: %w", err)
	}

	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, sm.secret))
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return string(signed), nil
}

// ParseToken verifies the signature and expiry of a token. Every failure is
// reported as ErrInvalidToken.
func (sm *Manager) ParseToken(raw string) (*Claims, error) {
	if raw == "" {
		return nil, ErrMissingToken
	}

	tok, err := jwt.Parse([]byte(raw),
		jwt.WithKey(jwa.HS256, sm.secret),
		jwt.WithValidate(true),
		jwt.WithClock(jwt.ClockFunc(sm.now)),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	userID, err := strconv.ParseInt(tok.Subject(), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad subject", ErrInvalidToken)
	}

	claims := &Claims{
		ID:        tok.JwtID(),
		UserID:    userID,
		IssuedAt:  tok.IssuedAt(),
		ExpiresAt: tok.Expiration(),
	}
	if v, ok := tok.Get(stravaIDClaim); ok {
		claims.StravaID, _ = v.(string)
	}
	return claims, nil
}

// ExtractBearerToken reads the token from an "Authorization: Bearer" header
func ExtractBearerToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", ErrMissingToken
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", ErrMissingToken
	}
	return strings.TrimSpace(parts[1]), nil
}

// WithAuth rejects requests without a valid bearer token: 401 when there is
// no token, 403 when it does not verify.
func WithAuth(handler http.HandlerFunc, sm *Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, err := ExtractBearerToken(r)
		if err != nil {
			writeAuthError(w, http.StatusUnauthorized, "Authentication required", err)
			return
		}

		claims, err := sm.ParseToken(raw)
		if err != nil {
			writeAuthError(w, http.StatusForbidden, "Invalid token", err)
			return
		}

		ctx := WithUserID(r.Context(), claims.UserID)
		ctx = WithClaims(ctx, claims)
		handler(w, r.WithContext(ctx))
	}
}

func writeAuthError(w http.ResponseWriter, status int, message string, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"message": message,
		"error":   err.Error(),
	})
}

type contextKey int

const (
	userIDKey contextKey = iota
	claimsKey
)

func WithUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

func GetUserID(ctx context.Context) (int64, bool) {
	userID, ok := ctx.Value(userIDKey).(int64)
	return userID, ok
}

func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

func GetClaims(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsKey).(*Claims)
	return claims, ok
}

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultSessionTTL is how long a session token stays valid.
const DefaultSessionTTL = 24 * time.Hour

const sessionIssuer = "webiot"

// SessionClaims are the JWT claims of a session token.
type SessionClaims struct {
	jwt.RegisteredClaims
	Username string `json:"username"`
	Role     Role   `json:"role"`
	Email    string `json:"email,omitempty"`
}

// Sessions issues and verifies HS256 session tokens.
type Sessions struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSessions creates a token issuer. A non-positive ttl uses DefaultSessionTTL.
func NewSessions(secret []byte, ttl time.Duration) *Sessions {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &Sessions{secret: secret, ttl: ttl, now: time.Now}
}

// TTL returns the token lifetime.
func (s *Sessions) TTL() time.Duration {
	return s.ttl
}

// Issue signs a token for id, returning it with its expiry.
func (s *Sessions) Issue(id Identity) (string, time.Time, error) {
	now := s.now()
	expires := now.Add(s.ttl)
	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    sessionIssuer,
			Subject:   id.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
			ID:        uuid.NewString(),
		},
		Username: id.Username,
		Role:     id.Role,
		Email:    id.Email,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing session token: %w", err)
	}
	return signed, expires, nil
}

// Parse verifies a token's signature, issuer and expiry and returns its identity.
func (s *Sessions) Parse(token string) (Identity, error) {
	claims := &SessionClaims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(_ *jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(sessionIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, ErrTokenExpired
		}
		return Identity{}, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}

	if claims.Subject == "" || claims.Username == "" {
		return Identity{}, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}

	return Identity{
		ID:       claims.Subject,
		Username: claims.Username,
		Role:     claims.Role,
		Email:    claims.Email,
	}, nil
}

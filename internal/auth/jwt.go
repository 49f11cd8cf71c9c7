package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const defaultTTL = 12 * time.Hour

// Claims is the token body. Subject carries the principal ID.
type Claims struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Role  Role   `json:"role"`
	jwt.RegisteredClaims
}

// TokenManager issues and verifies HS256 tokens.
type TokenManager struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// TokenOption configures a TokenManager.
type TokenOption func(*TokenManager)

// WithTTL sets the lifetime of issued tokens.
func WithTTL(d time.Duration) TokenOption {
	return func(m *TokenManager) {
		if d > 0 {
			m.ttl = d
		}
	}
}

// WithTokenClock replaces the time source, for tests.
func WithTokenClock(now func() time.Time) TokenOption {
	return func(m *TokenManager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewTokenManager signs with secret, which must not be empty.
func NewTokenManager(secret string, opts ...TokenOption) (*TokenManager, error) {
	if secret == "" {
		return nil, fmt.Errorf("%w: empty signing secret", ErrInvalidToken)
	}
	m := &TokenManager{secret: []byte(secret), ttl: defaultTTL, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Issue signs a token for p.
func (m *TokenManager) Issue(p Principal) (string, error) {
	if _, err := ParseRole(string(p.Role)); err != nil {
		return "", err
	}
	now := m.now()
	claims := &Claims{
		Name:  p.Name,
		Email: p.Email,
		Role:  p.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify parses raw and returns its principal. Only HS256 is accepted.
func (m *TokenManager) Verify(raw string) (Principal, error) {
	if raw == "" {
		return Principal{}, ErrMissingToken
	}
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	role, err := ParseRole(string(claims.Role))
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return Principal{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return Principal{ID: claims.Subject, Name: claims.Name, Email: claims.Email, Role: role}, nil
}

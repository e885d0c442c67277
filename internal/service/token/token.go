package token

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"sigchat/internal/model"
)

type (
	// Claims bind a principal's id and display identity to a
	// time-limited bearer credential.
	Claims struct {
		UserID   int64  `json:"uid"`
		Username string `json:"username"`
		jwt.RegisteredClaims
	}

	Manager struct {
		secret []byte
		ttl    time.Duration
	}
)

func NewManager(secret string, ttl time.Duration) *Manager {
	return &Manager{secret: []byte(secret), ttl: ttl}
}

func (m *Manager) Mint(user *model.User) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID:   user.ID,
		Username: user.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

// Verify parses and validates the bearer credential, rejecting bad
// signatures, wrong algorithms and expired tokens.
func (m *Manager) Verify(raw string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return nil, err
	}
	return claims, nil
}

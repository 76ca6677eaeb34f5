// Package auth issues and verifies the bridge's access tokens and guards the
// HTTP surface.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/etwicaksono/droid-remote/internal/common/config"
)

var (
	ErrBadCredentials = errors.New("invalid username or password")
	ErrInvalidToken   = errors.New("invalid or expired token")
)

// TokenService issues and verifies HS256 bearer tokens for the web UI.
type TokenService struct {
	cfg config.AuthConfig
}

// NewTokenService creates the token service.
func NewTokenService(cfg config.AuthConfig) *TokenService {
	return &TokenService{cfg: cfg}
}

// Login checks the configured credentials and issues a token.
func (s *TokenService) Login(username, password string) (string, time.Time, error) {
	if s.cfg.Username == "" || username != s.cfg.Username || password != s.cfg.Password {
		return "", time.Time{}, ErrBadCredentials
	}
	return s.Issue(username)
}

// Issue creates a signed token for the subject.
func (s *TokenService) Issue(subject string) (string, time.Time, error) {
	now := time.Now()
	expiry := now.Add(time.Duration(s.cfg.JWTExpiryHours) * time.Hour)
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiry),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiry, nil
}

// Verify validates a token and returns its subject.
func (s *TokenService) Verify(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(s.cfg.JWTSecret), nil
	})
	if err != nil || !token.Valid {
		return "", ErrInvalidToken
	}
	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

// Refresh verifies the old token and issues a fresh one for its subject.
func (s *TokenService) Refresh(tokenString string) (string, time.Time, error) {
	subject, err := s.Verify(tokenString)
	if err != nil {
		return "", time.Time{}, err
	}
	return s.Issue(subject)
}

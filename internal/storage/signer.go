package storage

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/smallbiznis/surge/internal/clock"
)

var ErrInvalidDownloadToken = errors.New("invalid_download_token")

type downloadClaims struct {
	Key string `json:"key"`
	jwt.RegisteredClaims
}

// Signer issues time-limited download tokens for stored objects.
type Signer struct {
	secret  []byte
	baseURL string
	clock   clock.Clock
}

func NewSigner(secret, baseURL string, clk clock.Clock) (*Signer, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("download signing key is required")
	}
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &Signer{
		secret:  []byte(secret),
		baseURL: strings.TrimRight(baseURL, "/"),
		clock:   clk,
	}, nil
}

// Sign returns a download URL for key that expires after ttl.
func (s *Signer) Sign(key string, ttl time.Duration) (string, time.Time, error) {
	if strings.TrimSpace(key) == "" {
		return "", time.Time{}, ErrInvalidKey
	}
	if ttl <= 0 {
		return "", time.Time{}, errors.New("download ttl must be positive")
	}
	now := s.clock.Now()
	expiresAt := now.Add(ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, downloadClaims{
		Key: key,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "download",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign download token: %w", err)
	}
	return s.baseURL + "/downloads/" + signed, expiresAt, nil
}

// Verify returns the object key of a valid, unexpired token.
func (s *Signer) Verify(token string) (string, error) {
	var claims downloadClaims
	_, err := jwt.ParseWithClaims(
		token,
		&claims,
		func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.clock.Now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidDownloadToken, err)
	}
	if claims.Key == "" || claims.Subject != "download" {
		return "", ErrInvalidDownloadToken
	}
	return claims.Key, nil
}

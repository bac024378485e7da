package service

import (
	"crypto/sha256"
	"encoding/hex"
	stderrors "errors"
	"fmt"
	"time"

	"rexe/internal/submission/model"
	pkgerrors "rexe/pkg/errors"

	"github.com/golang-jwt/jwt/v5"
)

const cookieNamePrefix = "rx-"

// Cookie is a signed fingerprint cookie for one submission key.
type Cookie struct {
	Name   string
	Value  string
	MaxAge time.Duration
}

type fingerprintClaims struct {
	Fingerprint   string `json:"fp"`
	SubmissionKey string `json:"sk"`
	jwt.RegisteredClaims
}

// CookieSigner issues and verifies fingerprint cookies.
type CookieSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewCookieSigner creates a signer. ttl should equal the queue retention window.
func NewCookieSigner(secret string, ttl time.Duration) (*CookieSigner, error) {
	if secret == "" {
		return nil, fmt.Errorf("cookie secret is required")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("cookie ttl must be positive")
	}
	return &CookieSigner{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// CookieName derives a stable, path-safe cookie name from the submission key.
func CookieName(key model.Key) string {
	sum := sha256.Sum256([]byte(key.String()))
	return cookieNamePrefix + hex.EncodeToString(sum[:8])
}

// Sign issues a cookie binding fingerprint to key.
func (s *CookieSigner) Sign(key model.Key, fingerprint string) (Cookie, error) {
	now := s.now()
	claims := fingerprintClaims{
		Fingerprint:   fingerprint,
		SubmissionKey: key.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return Cookie{}, pkgerrors.Wrap(fmt.Errorf("sign cookie failed: %w", err), pkgerrors.TokenGenerationFailed)
	}
	return Cookie{Name: CookieName(key), Value: raw, MaxAge: s.ttl}, nil
}

// Verify returns the fingerprint carried by a cookie issued for key.
func (s *CookieSigner) Verify(key model.Key, raw string) (string, error) {
	if raw == "" {
		return "", pkgerrors.New(pkgerrors.SubmissionCookieStale)
	}
	parsed, err := jwt.ParseWithClaims(raw, &fingerprintClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		if stderrors.Is(err, jwt.ErrTokenExpired) {
			return "", pkgerrors.New(pkgerrors.SubmissionCookieStale).WithMessage("cookie expired")
		}
		return "", pkgerrors.New(pkgerrors.SubmissionCookieStale)
	}
	claims, ok := parsed.Claims.(*fingerprintClaims)
	if !ok || !parsed.Valid {
		return "", pkgerrors.New(pkgerrors.SubmissionCookieStale)
	}
	if claims.SubmissionKey != key.String() || claims.Fingerprint == "" {
		return "", pkgerrors.New(pkgerrors.SubmissionCookieStale).WithMessage("cookie issued for another submission")
	}
	return claims.Fingerprint, nil
}

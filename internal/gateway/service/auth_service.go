package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"rexe/internal/gateway/repository"
	"rexe/internal/submission/model"
	pkgerrors "rexe/pkg/errors"

	"github.com/golang-jwt/jwt/v5"
)

const defaultTokenTTL = time.Hour

// AuthConfig configures token verification.
type AuthConfig struct {
	Secret string        `yaml:"secret"`
	Issuer string        `yaml:"issuer"`
	TTL    time.Duration `yaml:"ttl"`
}

type AuthService struct {
	jwtSecret []byte
	jwtIssuer string
	ttl       time.Duration
	blacklist *repository.TokenBlacklistRepository
	now       func() time.Time
}

func NewAuthService(cfg AuthConfig, blacklist *repository.TokenBlacklistRepository) *AuthService {
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTokenTTL
	}
	return &AuthService{
		jwtSecret: []byte(cfg.Secret),
		jwtIssuer: cfg.Issuer,
		ttl:       cfg.TTL,
		blacklist: blacklist,
		now:       time.Now,
	}
}

type tokenClaims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Issue signs an access token for username. Account management lives elsewhere;
// this is used by operators and tests to mint tokens.
func (s *AuthService) Issue(username string) (string, time.Time, error) {
	if !model.ValidUsername(username) {
		return "", time.Time{}, pkgerrors.ValidationError("username", "invalid")
	}
	if len(s.jwtSecret) == 0 {
		return "", time.Time{}, pkgerrors.New(pkgerrors.TokenGenerationFailed).WithMessage("jwt secret is not configured")
	}
	now := s.now()
	expiresAt := now.Add(s.ttl)
	claims := tokenClaims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.jwtIssuer,
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
	if err != nil {
		return "", time.Time{}, pkgerrors.Wrap(err, pkgerrors.TokenGenerationFailed)
	}
	return raw, expiresAt, nil
}

// Authenticate returns the username carried by a valid, non-revoked token.
func (s *AuthService) Authenticate(ctx context.Context, raw string) (string, error) {
	if raw == "" {
		return "", pkgerrors.New(pkgerrors.Unauthorized)
	}
	claims, err := s.parseToken(raw)
	if err != nil {
		return "", err
	}
	if s.blacklist != nil {
		blacklisted, err := s.blacklist.IsBlacklisted(ctx, hashToken(raw))
		if err != nil {
			return "", pkgerrors.Wrap(err, pkgerrors.ServiceUnavailable)
		}
		if blacklisted {
			return "", pkgerrors.New(pkgerrors.TokenRevoked)
		}
	}
	return claims.Username, nil
}

// SignOut revokes raw until its natural expiry.
func (s *AuthService) SignOut(ctx context.Context, raw string) error {
	claims, err := s.parseToken(raw)
	if err != nil {
		return err
	}
	if s.blacklist == nil {
		return pkgerrors.New(pkgerrors.ServiceUnavailable).WithMessage("token blacklist unavailable")
	}
	remaining := claims.ExpiresAt.Time.Sub(s.now())
	return s.blacklist.Add(ctx, hashToken(raw), remaining)
}

func (s *AuthService) parseToken(raw string) (*tokenClaims, error) {
	if len(s.jwtSecret) == 0 {
		return nil, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	parsed, err := jwt.ParseWithClaims(raw, &tokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	}, jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, pkgerrors.New(pkgerrors.TokenExpired)
		}
		return nil, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	if !parsed.Valid {
		return nil, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	claims, ok := parsed.Claims.(*tokenClaims)
	if !ok {
		return nil, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	if s.jwtIssuer != "" && claims.Issuer != s.jwtIssuer {
		return nil, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	if !model.ValidUsername(claims.Username) {
		return nil, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	return claims, nil
}

func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

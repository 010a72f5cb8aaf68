package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/seu-repo/sigec-csms/internal/domain"
	"github.com/seu-repo/sigec-csms/internal/ports"
)

// Claims are the operator token claims.
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// JWTService issues and validates operator API tokens.
type JWTService struct {
	secret   []byte
	issuer   string
	duration time.Duration
	cache    ports.Cache
	log      *zap.Logger
}

func NewJWTService(secret, issuer string, duration time.Duration, cache ports.Cache, log *zap.Logger) *JWTService {
	if duration <= 0 {
		duration = time.Hour
	}
	return &JWTService{
		secret:   []byte(secret),
		issuer:   issuer,
		duration: duration,
		cache:    cache,
		log:      log,
	}
}

// GenerateToken signs a token for an operator with the given role.
func (s *JWTService) GenerateToken(subject, role string) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    s.issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.duration)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.New().String(),
		},
		Role: role,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken parses a token and rejects revoked or foreign ones.
func (s *JWTService) ValidateToken(ctx context.Context, tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, opts...)
	if err != nil {
		s.log.Debug("token validation failed", zap.Error(err))
		return nil, fmt.Errorf("%w: invalid token", domain.ErrSecurityViolation)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("%w: invalid token claims", domain.ErrSecurityViolation)
	}
	if s.IsTokenRevoked(ctx, claims.ID) {
		return nil, fmt.Errorf("%w: token revoked", domain.ErrSecurityViolation)
	}
	return claims, nil
}

// RevokeToken blacklists a token id until any token carrying it would have expired.
func (s *JWTService) RevokeToken(ctx context.Context, tokenID string) error {
	if err := s.cache.Set(ctx, revokedKey(tokenID), "revoked", s.duration); err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	s.log.Info("token revoked", zap.String("token_id", tokenID))
	return nil
}

func (s *JWTService) IsTokenRevoked(ctx context.Context, tokenID string) bool {
	val, err := s.cache.Get(ctx, revokedKey(tokenID))
	if err != nil {
		if !errors.Is(err, ports.ErrCacheMiss) {
			s.log.Warn("revocation lookup failed", zap.Error(err))
		}
		return false
	}
	return val == "revoked"
}

func revokedKey(tokenID string) string {
	return "revoked_token:" + tokenID
}

package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/seu-repo/sigec-csms/internal/domain"
	"github.com/seu-repo/sigec-csms/internal/observability/telemetry"
	"github.com/seu-repo/sigec-csms/internal/ports"
	"github.com/seu-repo/sigec-csms/pkg/config"
)

const (
	// allowListPrefix keys the operator allow-list; entries never expire.
	allowListPrefix = "auth:allow:"
	// answerPrefix keys remembered online answers, kept for cacheTTL.
	answerPrefix = "auth:answer:"
)

// Service authorizes id tokens against the external authorization service,
// guarded by a circuit breaker. When the service cannot answer it falls back
// to the offline allow-list kept in the cache.
type Service struct {
	client   ports.AuthorizationClient
	cache    ports.Cache
	breaker  *gobreaker.CircuitBreaker
	cacheTTL time.Duration
	log      *zap.Logger
}

func NewService(client ports.AuthorizationClient, cache ports.Cache, authCfg config.AuthConfig, cbCfg config.CircuitBreakerConfig, log *zap.Logger) *Service {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "authorization-service",
		MaxRequests: cbCfg.MaxRequests,
		Interval:    cbCfg.Interval,
		Timeout:     cbCfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cbCfg.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cbCfg.FailureThreshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warn("Circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return &Service{
		client:   client,
		cache:    cache,
		breaker:  cb,
		cacheTTL: authCfg.CacheTTL,
		log:      log,
	}
}

var _ ports.AuthorizationService = (*Service)(nil)

// Seed loads the configured offline allow-list into the cache.
func (s *Service) Seed(ctx context.Context, tokens []string) error {
	for _, token := range tokens {
		if err := s.cache.Set(ctx, allowListPrefix+token, string(domain.AuthorizationAccepted), 0); err != nil {
			return fmt.Errorf("failed to seed allow-list: %w", err)
		}
	}
	if len(tokens) > 0 {
		s.log.Info("offline allow-list seeded", zap.Int("tokens", len(tokens)))
	}
	return nil
}

func (s *Service) Authorize(ctx context.Context, token string) (domain.AuthorizationResult, error) {
	if token == "" {
		return domain.AuthorizationResult{Status: domain.AuthorizationInvalid}, nil
	}

	if s.client != nil {
		res, err := s.breaker.Execute(func() (interface{}, error) {
			return s.client.Lookup(ctx, token)
		})
		if err == nil {
			status := res.(domain.AuthorizationStatus)
			s.remember(ctx, token, status)
			telemetry.AuthDecisionsTotal.WithLabelValues(string(status), "online").Inc()
			return domain.AuthorizationResult{Status: status}, nil
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			s.log.Debug("authorization service circuit open, using allow-list", zap.String("token", mask(token)))
		} else {
			s.log.Warn("authorization lookup failed, using allow-list", zap.String("token", mask(token)), zap.Error(err))
		}
	}

	status := s.offline(ctx, token)
	telemetry.AuthDecisionsTotal.WithLabelValues(string(status), "offline").Inc()
	return domain.AuthorizationResult{Status: status, Offline: true}, nil
}

// offline answers from the operator allow-list first, then from recent
// online answers. Tokens on neither are Unknown.
func (s *Service) offline(ctx context.Context, token string) domain.AuthorizationStatus {
	for _, key := range []string{allowListPrefix + token, answerPrefix + token} {
		val, err := s.cache.Get(ctx, key)
		if err != nil {
			if !errors.Is(err, ports.ErrCacheMiss) {
				s.log.Warn("allow-list lookup failed", zap.Error(err))
			}
			continue
		}
		if domain.AuthorizationStatus(val) == domain.AuthorizationAccepted {
			return domain.AuthorizationAccepted
		}
	}
	return domain.AuthorizationUnknown
}

// remember caches online answers. An Accepted answer never touches the
// operator allow-list; a Blocked or Invalid one removes the token from both.
func (s *Service) remember(ctx context.Context, token string, status domain.AuthorizationStatus) {
	var err error
	switch status {
	case domain.AuthorizationAccepted:
		err = s.cache.Set(ctx, answerPrefix+token, string(status), s.cacheTTL)
	case domain.AuthorizationBlocked, domain.AuthorizationInvalid:
		err = s.forget(ctx, token)
	}
	if err != nil {
		s.log.Debug("failed to update allow-list", zap.Error(err))
	}
}

func (s *Service) forget(ctx context.Context, token string) error {
	return errors.Join(
		s.cache.Delete(ctx, allowListPrefix+token),
		s.cache.Delete(ctx, answerPrefix+token),
	)
}

func (s *Service) AllowOffline(ctx context.Context, token string) error {
	if token == "" {
		return fmt.Errorf("%w: empty token", domain.ErrProtocolFormat)
	}
	return s.cache.Set(ctx, allowListPrefix+token, string(domain.AuthorizationAccepted), 0)
}

func (s *Service) RevokeOffline(ctx context.Context, token string) error {
	return s.forget(ctx, token)
}

// mask keeps id tokens out of logs.
func mask(token string) string {
	if len(token) <= 4 {
		return "****"
	}
	return token[:2] + "****" + token[len(token)-2:]
}

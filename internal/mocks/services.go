package mocks

import (
	"context"
	"sync"

	"github.com/seu-repo/sigec-csms/internal/domain"
)

// MockAuthorizationClient is a mock implementation of ports.AuthorizationClient
type MockAuthorizationClient struct {
	mu         sync.Mutex
	Calls      int
	LookupFunc func(ctx context.Context, token string) (domain.AuthorizationStatus, error)
}

func (m *MockAuthorizationClient) Lookup(ctx context.Context, token string) (domain.AuthorizationStatus, error) {
	m.mu.Lock()
	m.Calls++
	m.mu.Unlock()
	if m.LookupFunc != nil {
		return m.LookupFunc(ctx, token)
	}
	return domain.AuthorizationAccepted, nil
}

// MockAuthorizationService is a mock implementation of ports.AuthorizationService
type MockAuthorizationService struct {
	AuthorizeFunc     func(ctx context.Context, token string) (domain.AuthorizationResult, error)
	AllowOfflineFunc  func(ctx context.Context, token string) error
	RevokeOfflineFunc func(ctx context.Context, token string) error
}

func (m *MockAuthorizationService) Authorize(ctx context.Context, token string) (domain.AuthorizationResult, error) {
	if m.AuthorizeFunc != nil {
		return m.AuthorizeFunc(ctx, token)
	}
	return domain.AuthorizationResult{Status: domain.AuthorizationAccepted}, nil
}

func (m *MockAuthorizationService) AllowOffline(ctx context.Context, token string) error {
	if m.AllowOfflineFunc != nil {
		return m.AllowOfflineFunc(ctx, token)
	}
	return nil
}

func (m *MockAuthorizationService) RevokeOffline(ctx context.Context, token string) error {
	if m.RevokeOfflineFunc != nil {
		return m.RevokeOfflineFunc(ctx, token)
	}
	return nil
}

// PublishedEvent is one call recorded by MockEventPublisher.
type PublishedEvent struct {
	Subject string
	Event   any
}

// MockEventPublisher is a mock implementation of ports.EventPublisher
type MockEventPublisher struct {
	mu          sync.Mutex
	Events      []PublishedEvent
	PublishFunc func(ctx context.Context, subject string, event any) error
}

func (m *MockEventPublisher) Publish(ctx context.Context, subject string, event any) error {
	if m.PublishFunc != nil {
		return m.PublishFunc(ctx, subject, event)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events = append(m.Events, PublishedEvent{Subject: subject, Event: event})
	return nil
}

// BySubject returns the events published under subject, in order.
func (m *MockEventPublisher) BySubject(subject string) []any {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []any
	for _, e := range m.Events {
		if e.Subject == subject {
			out = append(out, e.Event)
		}
	}
	return out
}

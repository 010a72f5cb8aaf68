package health

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func ok(context.Context) error   { return nil }
func down(context.Context) error { return errors.New("connection refused") }

func TestReady_CriticalFailureMakesUnready(t *testing.T) {
	s := NewService("test", zap.NewNop())
	s.RegisterPing("database", true, down)
	s.RegisterPing("redis", false, ok)

	resp := s.Ready(context.Background())

	assert.False(t, resp.Ready)
	assert.Equal(t, StatusUnhealthy, resp.Status)
	assert.Equal(t, StatusHealthy, resp.Checks["redis"].Status)
	assert.Contains(t, resp.Checks["database"].Message, "connection refused")
}

func TestReady_DegradedStaysReady(t *testing.T) {
	s := NewService("test", zap.NewNop())
	s.RegisterPing("database", true, ok)
	s.RegisterPing("queue", false, down)

	resp := s.Ready(context.Background())

	assert.True(t, resp.Ready)
	assert.Equal(t, StatusDegraded, resp.Status)
}

func TestFiberHandler_Probes(t *testing.T) {
	s := NewService("v9", zap.NewNop())
	s.RegisterPing("database", true, down)
	app := fiber.New()
	NewFiberHandler(s).RegisterRoutes(app)

	resp, err := app.Test(httptest.NewRequest("GET", "/health/live", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), `"version":"v9"`)

	resp, err = app.Test(httptest.NewRequest("GET", "/health/ready", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)
}

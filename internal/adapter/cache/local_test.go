package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/seu-repo/sigec-csms/internal/ports"
)

func TestLocalCache_SetGet(t *testing.T) {
	// Arrange
	ctx := context.Background()
	c := NewLocalCache(time.Minute, zap.NewNop())
	defer c.Close()

	// Act
	if err := c.Set(ctx, "auth:allow:T1", "Accepted", 0); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	val, err := c.Get(ctx, "auth:allow:T1")

	// Assert
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if val != "Accepted" {
		t.Errorf("expected 'Accepted', got '%s'", val)
	}
}

func TestLocalCache_MissAndDelete(t *testing.T) {
	ctx := context.Background()
	c := NewLocalCache(time.Minute, zap.NewNop())
	defer c.Close()

	if _, err := c.Get(ctx, "absent"); !errors.Is(err, ports.ErrCacheMiss) {
		t.Fatalf("expected ErrCacheMiss, got %v", err)
	}

	_ = c.Set(ctx, "k", []byte("v"), 0)
	_ = c.Delete(ctx, "k")
	if _, err := c.Get(ctx, "k"); !errors.Is(err, ports.ErrCacheMiss) {
		t.Fatalf("expected ErrCacheMiss after delete, got %v", err)
	}
}

func TestLocalCache_Expiration(t *testing.T) {
	ctx := context.Background()
	c := NewLocalCache(time.Minute, zap.NewNop())
	defer c.Close()

	_ = c.Set(ctx, "short", "v", 20*time.Millisecond)
	time.Sleep(40 * time.Millisecond)

	if _, err := c.Get(ctx, "short"); !errors.Is(err, ports.ErrCacheMiss) {
		t.Fatalf("expected expired key to miss, got %v", err)
	}
}

func TestLocalCache_MarshalsStructs(t *testing.T) {
	ctx := context.Background()
	c := NewLocalCache(time.Minute, zap.NewNop())
	defer c.Close()

	_ = c.Set(ctx, "obj", map[string]int{"a": 1}, 0)
	val, err := c.Get(ctx, "obj")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if val != `{"a":1}` {
		t.Errorf("expected JSON encoding, got %s", val)
	}
}

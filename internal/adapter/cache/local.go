package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/seu-repo/sigec-csms/internal/ports"
)

// LocalCache implements ports.Cache in process memory.
// Used as a fallback when Redis is unavailable.
type LocalCache struct {
	store *gocache.Cache
	log   *zap.Logger
}

// NewLocalCache creates an in-memory cache; expired entries are purged every cleanupInterval.
func NewLocalCache(cleanupInterval time.Duration, log *zap.Logger) ports.Cache {
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}

	c := &LocalCache{
		store: gocache.New(gocache.NoExpiration, cleanupInterval),
		log:   log,
	}
	c.store.OnEvicted(func(key string, _ interface{}) {
		log.Debug("Cache entry expired", zap.String("key", key))
	})

	log.Info("Local in-memory cache initialized",
		zap.Duration("cleanup_interval", cleanupInterval),
	)
	return c
}

func (c *LocalCache) Get(ctx context.Context, key string) (string, error) {
	v, ok := c.store.Get(key)
	if !ok {
		return "", ports.ErrCacheMiss
	}
	return v.(string), nil
}

func (c *LocalCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	var strVal string
	switch v := value.(type) {
	case string:
		strVal = v
	case []byte:
		strVal = string(v)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to marshal value: %w", err)
		}
		strVal = string(data)
	}

	if expiration <= 0 {
		expiration = gocache.NoExpiration
	}
	c.store.Set(key, strVal, expiration)
	return nil
}

func (c *LocalCache) Delete(ctx context.Context, key string) error {
	c.store.Delete(key)
	return nil
}

func (c *LocalCache) Ping() error {
	return nil
}

func (c *LocalCache) Close() error {
	c.store.Flush()
	return nil
}

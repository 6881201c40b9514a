package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// BumpChannel carries "<owner>:<version>" payloads after every invalidation.
const BumpChannel = "dashboard.bump"

const keyPrefix = "dashboard"

// Cache wraps Redis based caching with per-owner versioning.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewCache instantiates the cache helper. A nil client disables caching.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl, logger: slog.Default()}
}

// WithLogger sets the logger used for cache write failures.
func (c *Cache) WithLogger(logger *slog.Logger) *Cache {
	if c != nil && logger != nil {
		c.logger = logger
	}
	return c
}

func versionKey(owner string) string {
	return keyPrefix + ":" + owner + ":version"
}

// Version returns the owner's cache version, initialising when missing.
func (c *Cache) Version(ctx context.Context, owner string) (int64, error) {
	if c == nil || c.client == nil {
		return 0, nil
	}
	key := versionKey(owner)
	ver, err := c.client.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		// SETNX so two first readers agree on the initial version.
		if err := c.client.SetNX(ctx, key, 1, 0).Err(); err != nil {
			return 0, err
		}
		return c.client.Get(ctx, key).Int64()
	}
	if err != nil {
		return 0, err
	}
	if ver <= 0 {
		ver = 1
		if err := c.client.Set(ctx, key, ver, 0).Err(); err != nil {
			return 0, err
		}
	}
	return ver, nil
}

// BuildKey composes dashboard:<owner>:<version>.
func (c *Cache) BuildKey(ctx context.Context, owner string) (string, error) {
	if c == nil || c.client == nil {
		return strings.Join([]string{keyPrefix, owner}, ":"), nil
	}
	ver, err := c.Version(ctx, owner)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:%s:%d", keyPrefix, owner, ver), nil
}

// FetchJSON loads a cached value or populates it using the loader. Redis
// failures degrade to an uncached load; only loader errors are returned.
func (c *Cache) FetchJSON(ctx context.Context, key string, dest any, loader func(context.Context) (any, error)) error {
	if loader == nil {
		return errors.New("dashboard: cache loader required")
	}
	if c == nil || c.client == nil {
		value, err := loader(ctx)
		if err != nil {
			return err
		}
		return roundTrip(value, dest)
	}
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		return json.Unmarshal(payload, dest)
	}
	cacheable := errors.Is(err, redis.Nil)
	if !cacheable {
		c.logger.Warn("dashboard cache read failed", slog.String("key", key), slog.Any("error", err))
	}
	value, err := loader(ctx)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if cacheable {
		if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
			c.logger.Warn("dashboard cache write failed", slog.String("key", key), slog.Any("error", err))
		}
	}
	return json.Unmarshal(raw, dest)
}

func roundTrip(value, dest any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dest)
}

// Bump invalidates the owner's dashboard by incrementing its version and
// publishing the new version on BumpChannel.
func (c *Cache) Bump(ctx context.Context, owner string) error {
	if c == nil || c.client == nil {
		return nil
	}
	ver, err := c.client.Incr(ctx, versionKey(owner)).Result()
	if err != nil {
		return err
	}
	return c.client.Publish(ctx, BumpChannel, owner+":"+strconv.FormatInt(ver, 10)).Err()
}

// Invalidation is one decoded BumpChannel message.
type Invalidation struct {
	Owner   string
	Version int64
}

// ParseInvalidation decodes a BumpChannel payload. The owner may itself
// contain colons so the version is taken from the last separator.
func ParseInvalidation(payload string) (Invalidation, error) {
	idx := strings.LastIndex(payload, ":")
	if idx <= 0 {
		return Invalidation{}, fmt.Errorf("dashboard: malformed invalidation %q", payload)
	}
	ver, err := strconv.ParseInt(payload[idx+1:], 10, 64)
	if err != nil {
		return Invalidation{}, fmt.Errorf("dashboard: malformed invalidation %q: %w", payload, err)
	}
	return Invalidation{Owner: payload[:idx], Version: ver}, nil
}

// ListenForInvalidation subscribes to bump notifications and hands each one
// to fn until ctx is cancelled. Malformed payloads are skipped.
func (c *Cache) ListenForInvalidation(ctx context.Context, fn func(Invalidation)) error {
	if c == nil || c.client == nil || fn == nil {
		return nil
	}
	pubsub := c.client.Subscribe(ctx, BumpChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return err
	}
	go func() {
		defer func() { _ = pubsub.Close() }()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				inv, err := ParseInvalidation(msg.Payload)
				if err != nil {
					continue
				}
				fn(inv)
			}
		}
	}()
	return nil
}

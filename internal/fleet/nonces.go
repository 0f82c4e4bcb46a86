package fleet

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// NonceClient is the slice of Redis the nonce registry needs. The registry
// does not hold a concrete driver: cmd/fleetd creates the go-redis client
// and injects it, and tests inject an in-memory fake.
type NonceClient interface {
	SAdd(ctx context.Context, key string, member string) (added bool, err error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
}

// NonceRegistry enforces the wire protocol's "host-chosen, not reused"
// nonce obligation centrally: a nonce is issued to a flashing station only
// if it has never been issued for that device before. Per-device sets are
// kept in Redis so every fleetd replica sees the same history.
type NonceRegistry struct {
	client    NonceClient
	keyPrefix string
	ttl       time.Duration
}

// NewNonceRegistry creates a registry namespaced under keyPrefix. ttl
// bounds how long a device's nonce history is retained; zero means the
// history never expires.
func NewNonceRegistry(client NonceClient, keyPrefix string, ttl time.Duration) *NonceRegistry {
	if keyPrefix == "" {
		keyPrefix = "fleet:nonces:"
	}
	return &NonceRegistry{client: client, keyPrefix: keyPrefix, ttl: ttl}
}

// Reserve records nonce as used for device. It returns an error if the
// nonce was already issued for that device; the caller must generate a
// fresh one.
func (r *NonceRegistry) Reserve(ctx context.Context, device string, nonce [24]byte) error {
	key := r.keyPrefix + device
	added, err := r.client.SAdd(ctx, key, hex.EncodeToString(nonce[:]))
	if err != nil {
		return fmt.Errorf("fleet: reserve nonce for %s: %w", device, err)
	}
	if !added {
		return fmt.Errorf("fleet: nonce already issued for device %s", device)
	}
	if r.ttl > 0 {
		if err := r.client.Expire(ctx, key, r.ttl); err != nil {
			return fmt.Errorf("fleet: refresh nonce ttl for %s: %w", device, err)
		}
	}
	return nil
}

// redisNonceClient adapts a go-redis client to NonceClient.
type redisNonceClient struct {
	rdb *redis.Client
}

// NewRedisNonceClient wraps rdb for use with NewNonceRegistry.
func NewRedisNonceClient(rdb *redis.Client) NonceClient {
	return &redisNonceClient{rdb: rdb}
}

func (c *redisNonceClient) SAdd(ctx context.Context, key string, member string) (bool, error) {
	n, err := c.rdb.SAdd(ctx, key, member).Result()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (c *redisNonceClient) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return c.rdb.Expire(ctx, key, ttl).Err()
}

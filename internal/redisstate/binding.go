package redisstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"lingua-scheduler/internal/domain"
)

// PutBindingIfAbsent records which job a request_id resolved to, but only
// if no binding exists yet — the dispatcher's phase1/phase2 idempotency
// guard. Returns the binding that actually
// won the race (either the one just written, or whatever another
// goroutine/instance wrote first).
func (c *Client) PutBindingIfAbsent(ctx context.Context, binding domain.RequestBinding, ttl time.Duration) (domain.RequestBinding, bool, error) {
	payload, err := json.Marshal(binding)
	if err != nil {
		return domain.RequestBinding{}, false, fmt.Errorf("marshal binding: %w", err)
	}
	key := RequestBindingKey(binding.RequestID)
	ok, err := c.RDB.SetNX(ctx, key, payload, ttl).Result()
	if err != nil {
		return domain.RequestBinding{}, false, fmt.Errorf("setnx binding: %w", err)
	}
	if ok {
		return binding, true, nil
	}
	existing, err := c.GetBinding(ctx, binding.RequestID)
	if err != nil {
		return domain.RequestBinding{}, false, err
	}
	return existing, false, nil
}

// GetBinding looks up a request's existing job binding, if any.
func (c *Client) GetBinding(ctx context.Context, requestID string) (domain.RequestBinding, error) {
	raw, err := c.RDB.Get(ctx, RequestBindingKey(requestID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.RequestBinding{}, fmt.Errorf("binding for %s: %w", requestID, redis.Nil)
	}
	if err != nil {
		return domain.RequestBinding{}, fmt.Errorf("get binding: %w", err)
	}
	var binding domain.RequestBinding
	if err := json.Unmarshal(raw, &binding); err != nil {
		return domain.RequestBinding{}, fmt.Errorf("unmarshal binding: %w", err)
	}
	return binding, nil
}

// AddPoolMember adds a node to a pool's membership set.
func (c *Client) AddPoolMember(ctx context.Context, poolName, nodeID string) error {
	return c.RDB.SAdd(ctx, PoolMembersKey(poolName), nodeID).Err()
}

// RemovePoolMember removes a node from a pool's membership set.
func (c *Client) RemovePoolMember(ctx context.Context, poolName, nodeID string) error {
	return c.RDB.SRem(ctx, PoolMembersKey(poolName), nodeID).Err()
}

// PoolMembers lists a pool's current node membership.
func (c *Client) PoolMembers(ctx context.Context, poolName string) ([]string, error) {
	members, err := c.RDB.SMembers(ctx, PoolMembersKey(poolName)).Result()
	if err != nil {
		return nil, fmt.Errorf("pool members: %w", err)
	}
	return members, nil
}

package redisstate

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// EnsureGroup creates the forwarding consumer group for a stream if it
// doesn't already exist (MKSTREAM creates the stream itself too).
func (c *Client) EnsureGroup(ctx context.Context, stream, group string) error {
	err := c.RDB.XGroupCreateMkStream(ctx, stream, group, "$").Err()
	if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return fmt.Errorf("ensure group: %w", err)
	}
	return nil
}

// Publish appends a forwarded event onto the target instance's stream.
func (c *Client) Publish(ctx context.Context, stream string, fields map[string]any) (string, error) {
	id, err := c.RDB.XAdd(ctx, &redis.XAddArgs{Stream: stream, Values: fields}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd: %w", err)
	}
	return id, nil
}

// ReadGroup reads up to count new (never-delivered) messages for a
// consumer; pending messages are not re-read here.
func (c *Client) ReadGroup(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]redis.XStream, error) {
	res, err := c.RDB.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("xreadgroup: %w", err)
	}
	return res, nil
}

// Ack acknowledges successful processing of a message.
func (c *Client) Ack(ctx context.Context, stream, group, id string) error {
	if err := c.RDB.XAck(ctx, stream, group, id).Err(); err != nil {
		return fmt.Errorf("xack: %w", err)
	}
	return nil
}

// ClaimStale reaps messages that have been pending longer than minIdle,
// handing them to consumer — the mechanism that lets a surviving
// scheduler instance pick up forwarded events whose original consumer
// died mid-delivery.
func (c *Client) ClaimStale(ctx context.Context, stream, group, consumer string, minIdle time.Duration, count int64) ([]redis.XMessage, error) {
	msgs, _, err := c.RDB.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   stream,
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Start:    "0",
		Count:    count,
	}).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("xautoclaim: %w", err)
	}
	return msgs, nil
}

// DeliveryCount returns how many times a pending message has been
// delivered, used to decide when to move it to the DLQ.
func (c *Client) DeliveryCount(ctx context.Context, stream, group, id string) (int64, error) {
	pending, err := c.RDB.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: stream,
		Group:  group,
		Start:  id,
		End:    id,
		Count:  1,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("xpending: %w", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}
	return pending[0].RetryCount, nil
}

// MoveToDLQ appends the message to the DLQ stream and acks it off the
// original stream/group.
func (c *Client) MoveToDLQ(ctx context.Context, stream, group string, msg redis.XMessage) error {
	fields := make(map[string]any, len(msg.Values)+1)
	for k, v := range msg.Values {
		fields[k] = v
	}
	fields["_original_id"] = msg.ID
	fields["_original_stream"] = stream
	if _, err := c.Publish(ctx, DLQStreamName(), fields); err != nil {
		return err
	}
	return c.Ack(ctx, stream, group, msg.ID)
}

package services

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const replayKeyPrefix = "appstore:notification:"

// RedisReplayGuard shares processed notifications between instances through Redis
type RedisReplayGuard struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisReplayGuard(client *redis.Client) *RedisReplayGuard {
	return &RedisReplayGuard{client: client, ttl: notificationTTL}
}

func (g *RedisReplayGuard) IsReplay(ctx context.Context, notificationUUID string, signedDate int64) (bool, error) {
	if notificationUUID == "" {
		return false, nil
	}

	key := replayKeyPrefix + notificationKey(notificationUUID, signedDate)
	stored, err := g.client.SetNX(ctx, key, time.Now().Unix(), g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to record notification in Redis: %w", err)
	}
	// SETNX stores nothing when the key already exists
	return !stored, nil
}

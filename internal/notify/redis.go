package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pitabwire/drill/model"
)

// Redis publishes events on a per-team channel and keeps the latest row id
// under a key with TTL, so pollers that missed a message can catch up.
type Redis struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedis creates a Redis-backed notifier.
func NewRedis(client redis.UniversalClient, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

// Publish sends each pollable row in one pipeline.
func (r *Redis) Publish(ctx context.Context, rows []model.StatusRow) error {
	events := Events(rows)
	if len(events) == 0 {
		return nil
	}

	pipe := r.client.Pipeline()
	for _, e := range events {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal event %d: %w", e.RowID, err)
		}
		team := model.Team{AccessID: e.AccessID, TeamNo: e.TeamNo}
		pipe.Publish(ctx, Channel(team), data)
		pipe.Set(ctx, LatestKey(team), e.RowID, r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// LatestID returns the latest published row id for team.
func (r *Redis) LatestID(ctx context.Context, team model.Team) (int64, bool, error) {
	id, err := r.client.Get(ctx, LatestKey(team)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("redis get %q: %w", LatestKey(team), err)
	}
	return id, true, nil
}

// HealthCheck pings the server.
func (r *Redis) HealthCheck(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (r *Redis) Close() error {
	return r.client.Close()
}

package history

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/macroscope-ai/macroscope/config"
)

const historyKeyPrefix = "history:"

// RedisStore keeps each session's turns in a capped redis list with a TTL.
type RedisStore struct {
	client *redis.Client
	cfg    config.HistoryConfig
}

func NewRedisStore(cfg config.HistoryConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pong, err := client.Ping(context.Background()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	if pong != "PONG" {
		return nil, fmt.Errorf("expected PONG, got %s", pong)
	}
	return &RedisStore{client: client, cfg: cfg}, nil
}

func (r *RedisStore) Append(ctx context.Context, sessionID string, turns ...Turn) error {
	key := historyKeyPrefix + sessionID
	vals := make([]interface{}, 0, len(turns))
	for _, t := range turns {
		data, err := json.Marshal(t)
		if err != nil {
			return err
		}
		vals = append(vals, data)
	}

	pipe := r.client.TxPipeline()
	pipe.RPush(ctx, key, vals...)
	if max := r.cfg.MaxTurns; max > 0 {
		pipe.LTrim(ctx, key, int64(-max), -1)
	}
	if r.cfg.TTL > 0 {
		pipe.Expire(ctx, key, r.cfg.TTL)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisStore) Recent(ctx context.Context, sessionID string, limit int) ([]Turn, error) {
	key := historyKeyPrefix + sessionID
	start := int64(0)
	if limit > 0 {
		start = int64(-limit)
	}
	raw, err := r.client.LRange(ctx, key, start, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Turn, 0, len(raw))
	for _, item := range raw {
		var t Turn
		if err := json.Unmarshal([]byte(item), &t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// Close releases the redis connection.
func (r *RedisStore) Close() error { return r.client.Close() }

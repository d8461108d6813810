package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/MimeLyc/transcription-service/internal/jobs"
	"github.com/MimeLyc/transcription-service/pkg/log"
	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix = "transcription:"
	redisIndexKey  = "transcriptions"
)

// RedisStore keeps each record as a JSON string plus an id index set.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore uses namespace to prefix every key; empty means no prefix.
func NewRedisStore(client *redis.Client, namespace string) *RedisStore {
	prefix := ""
	if namespace != "" {
		prefix = namespace + ":"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) recordKey(id string) string {
	return s.prefix + redisKeyPrefix + id
}

func (s *RedisStore) indexKey() string {
	return s.prefix + redisIndexKey
}

func (s *RedisStore) Save(ctx context.Context, rec *jobs.Record) error {
	if rec == nil {
		return fmt.Errorf("record is nil")
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record %s: %w", rec.ID, err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.recordKey(rec.ID), data, 0)
		pipe.SAdd(ctx, s.indexKey(), rec.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis save %s: %w", rec.ID, err)
	}
	return nil
}

func (s *RedisStore) FindByID(ctx context.Context, id string) (*jobs.Record, bool, error) {
	data, err := s.client.Get(ctx, s.recordKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("redis get %s: %w", id, err)
	}
	var rec jobs.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, false, fmt.Errorf("decode record %s: %w", id, err)
	}
	return &rec, true, nil
}

func (s *RedisStore) FindAll(ctx context.Context) ([]*jobs.Record, error) {
	ids, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list: %w", err)
	}
	if len(ids) == 0 {
		return []*jobs.Record{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.recordKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget: %w", err)
	}

	ret := make([]*jobs.Record, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			// index entry without a value
			continue
		}
		var rec jobs.Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			log.Warn("Skipping undecodable transcription %s: %v", ids[i], err)
			continue
		}
		ret = append(ret, &rec)
	}
	sortByCreatedDesc(ret)
	return ret, nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.recordKey(id))
		pipe.SRem(ctx, s.indexKey(), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis delete %s: %w", id, err)
	}
	return nil
}

package unitstate

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// Cache is the read model behind the unit board.
type Cache interface {
	SetUnit(ctx context.Context, s *UnitState) error
	GetUnit(ctx context.Context, unitID int64) (*UnitState, error)
	GetAllUnitIDs(ctx context.Context) ([]int64, error)
	FlushAll(ctx context.Context) error
}

type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func unitKey(unitID int64) string {
	return fmt.Sprintf("firecore:unit:%d", unitID)
}

const allUnitsKey = "firecore:units"

func (r *RedisStore) SetUnit(ctx context.Context, s *UnitState) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	pipe := r.client.Pipeline()
	pipe.Set(ctx, unitKey(s.ID), data, 0)
	pipe.SAdd(ctx, allUnitsKey, s.ID)
	_, err = pipe.Exec(ctx)
	return err
}

// GetUnit returns nil without error when the unit is not cached.
func (r *RedisStore) GetUnit(ctx context.Context, unitID int64) (*UnitState, error) {
	data, err := r.client.Get(ctx, unitKey(unitID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var s UnitState
	return &s, json.Unmarshal(data, &s)
}

func (r *RedisStore) GetAllUnitIDs(ctx context.Context) ([]int64, error) {
	members, err := r.client.SMembers(ctx, allUnitsKey).Result()
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (r *RedisStore) FlushAll(ctx context.Context) error {
	ids, err := r.GetAllUnitIDs(ctx)
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, unitKey(id))
	}
	keys = append(keys, allUnitsKey)
	return r.client.Del(ctx, keys...).Err()
}

package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/ticket-escrow/internal/core/domain"
)

const (
	listingKeyPrefix     = "escrow:listing:"
	listingIndexKey      = "escrow:listings"
	transactionKeyPrefix = "escrow:txn:"
	transactionIndexKey  = "escrow:txns"

	fieldVersion = "v"
	fieldData    = "d"
)

// setIfVersionScript writes the entity hash only when the stored version
// equals ARGV[1]; a missing hash counts as version 0.
var setIfVersionScript = redis.NewScript(`
local key = KEYS[1]
local expected = tonumber(ARGV[1])

local current = redis.call('HGET', key, 'v')
if not current then
	current = 0
else
	current = tonumber(current)
end

if current ~= expected then
	return 0
end

redis.call('HSET', key, 'v', expected + 1, 'd', ARGV[2])
redis.call('SADD', KEYS[2], ARGV[3])
return 1
`)

// RedisRepository stores each entity as a hash of version and CBOR data,
// plus a set indexing all ids.
type RedisRepository[T any] struct {
	client    redis.UniversalClient
	info      entityInfo[T]
	keyPrefix string
	indexKey  string
}

func NewRedisListingRepository(client redis.UniversalClient) *RedisRepository[*domain.Listing] {
	return &RedisRepository[*domain.Listing]{
		client:    client,
		info:      listingInfo,
		keyPrefix: listingKeyPrefix,
		indexKey:  listingIndexKey,
	}
}

func NewRedisTransactionRepository(client redis.UniversalClient) *RedisRepository[*domain.Transaction] {
	return &RedisRepository[*domain.Transaction]{
		client:    client,
		info:      transactionInfo,
		keyPrefix: transactionKeyPrefix,
		indexKey:  transactionIndexKey,
	}
}

func (r *RedisRepository[T]) Get(ctx context.Context, id string) (T, error) {
	var zero T
	vals, err := r.client.HMGet(ctx, r.keyPrefix+id, fieldVersion, fieldData).Result()
	if err != nil {
		return zero, fmt.Errorf("get %s: %w", r.info.name, err)
	}
	v, ok, err := r.decode(vals)
	if err != nil || !ok {
		return zero, err
	}
	return v, nil
}

func (r *RedisRepository[T]) GetMany(ctx context.Context, ids []string) ([]T, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.SliceCmd, len(ids))
	_, err := r.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = p.HMGet(ctx, r.keyPrefix+id, fieldVersion, fieldData)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get %s batch: %w", r.info.name, err)
	}

	res := make([]T, 0, len(ids))
	for _, cmd := range cmds {
		v, ok, err := r.decode(cmd.Val())
		if err != nil {
			return nil, err
		}
		if ok {
			res = append(res, v)
		}
	}
	return res, nil
}

func (r *RedisRepository[T]) GetAll(ctx context.Context) ([]T, error) {
	ids, err := r.client.SMembers(ctx, r.indexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list %s ids: %w", r.info.name, err)
	}
	return r.GetMany(ctx, ids)
}

func (r *RedisRepository[T]) Set(ctx context.Context, v T) error {
	version := r.info.version(v)
	next := *version + 1

	c := r.info.clone(v)
	*r.info.version(c) = next
	data, err := encMode.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode %s: %w", r.info.name, err)
	}

	id := r.info.id(v)
	ok, err := setIfVersionScript.Run(ctx, r.client,
		[]string{r.keyPrefix + id, r.indexKey},
		*version, data, id,
	).Int()
	if err != nil {
		return fmt.Errorf("set %s: %w", r.info.name, err)
	}
	if ok != 1 {
		return domain.ErrVersionConflict
	}

	*version = next
	return nil
}

func (r *RedisRepository[T]) decode(vals []any) (T, bool, error) {
	var v T
	if len(vals) != 2 || vals[1] == nil {
		return v, false, nil
	}
	data, ok := vals[1].(string)
	if !ok {
		return v, false, errors.New("unexpected " + r.info.name + " payload type")
	}
	if err := decMode.Unmarshal([]byte(data), &v); err != nil {
		return v, false, fmt.Errorf("decode %s: %w", r.info.name, err)
	}
	return v, true, nil
}

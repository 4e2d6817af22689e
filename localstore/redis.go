package localstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

const clearNamespaceScript = `
local members = redis.call("SMEMBERS", KEYS[1])
for _, key in ipairs(members) do
  redis.call("DEL", ARGV[1] .. key)
end
redis.call("DEL", KEYS[1])
return #members
`

var clearNamespaceLua = redis.NewScript(clearNamespaceScript)

// Redis is a durable Store namespaced under prefix:namespace. Keys are
// tracked in an index set so ClearAll removes exactly this namespace.
type Redis struct {
	redis     redis.UniversalClient
	prefix    string
	namespace string
	ttl       time.Duration
}

// NewRedis returns a Redis store. A zero ttl keeps values until removed.
func NewRedis(client redis.UniversalClient, prefix, namespace string, ttl time.Duration) *Redis {
	if prefix == "" {
		prefix = "authsession"
	}
	if namespace == "" {
		namespace = "default"
	}
	return &Redis{
		redis:     client,
		prefix:    prefix,
		namespace: namespace,
		ttl:       ttl,
	}
}

func (s *Redis) valuePrefix() string {
	return s.prefix + ":" + s.namespace + ":k:"
}

func (s *Redis) key(k string) string {
	return s.valuePrefix() + k
}

func (s *Redis) indexKey() string {
	return s.prefix + ":" + s.namespace + ":idx"
}

func (s *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.redis.Get(ctx, s.key(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return v, true, nil
}

func (s *Redis) Set(ctx context.Context, key, value string) error {
	if key == "" {
		return ErrEmptyKey
	}
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(key), value, s.ttl)
		pipe.SAdd(ctx, s.indexKey(), key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *Redis) Remove(ctx context.Context, key string) error {
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key(key))
		pipe.SRem(ctx, s.indexKey(), key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *Redis) ClearAll(ctx context.Context) error {
	if err := clearNamespaceLua.Run(ctx, s.redis, []string{s.indexKey()}, s.valuePrefix()).Err(); err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Keys lists indexed keys. Entries whose value expired through the TTL are
// pruned from the index as a side effect.
func (s *Redis) Keys(ctx context.Context) ([]string, error) {
	members, err := s.redis.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(members) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.IntCmd, len(members))
	_, err = s.redis.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, m := range members {
			cmds[i] = pipe.Exists(ctx, s.key(m))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	keys := make([]string, 0, len(members))
	var stale []any
	for i, m := range members {
		if cmds[i].Val() == 1 {
			keys = append(keys, m)
		} else {
			stale = append(stale, m)
		}
	}
	if len(stale) > 0 {
		_ = s.redis.SRem(ctx, s.indexKey(), stale...).Err()
	}
	sort.Strings(keys)
	return keys, nil
}

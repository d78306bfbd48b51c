package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/tehmaze-labs/yubistack/interfaces"
)

// replayCASScript implements the compare-and-set server-side so several
// validator processes can share one replay store. ARGV[1] is the expected
// monotonic key as "counter:session" ("" for create-if-absent), ARGV[2]
// the new JSON state.
var replayCASScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if ARGV[1] == '' then
	if cur then return 0 end
	redis.call('SET', KEYS[1], ARGV[2])
	return 1
end
if not cur then return 0 end
local state = cjson.decode(cur)
local key = tostring(state.counter) .. ':' .. tostring(state.session)
if key ~= ARGV[1] then return 0 end
redis.call('SET', KEYS[1], ARGV[2])
return 1
`)

// RedisReplayStore keeps replay state in Redis, giving redundant
// validators a consistent high-water mark without a sync protocol.
type RedisReplayStore struct {
	client *redis.Client
	log    *slog.Logger
}

// NewRedisReplayStore creates a Redis-backed replay store from a
// redis:// URL.
func NewRedisReplayStore(rawURL string, log *slog.Logger) (*RedisReplayStore, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	return &RedisReplayStore{client: redis.NewClient(opts), log: log}, nil
}

// Get returns the stored state for id, or nil.
func (s *RedisReplayStore) Get(ctx context.Context, id interfaces.PublicID) (*interfaces.ReplayState, error) {
	data, err := s.client.Get(ctx, s.key(id)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}

	var state interfaces.ReplayState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("%w: corrupt replay state: %v", interfaces.ErrBackendUnavailable, err)
	}
	return &state, nil
}

// CompareAndSet replaces the state for id if the stored value still
// matches expected on the (counter, session) pair.
func (s *RedisReplayStore) CompareAndSet(ctx context.Context, id interfaces.PublicID, expected *interfaces.ReplayState, next interfaces.ReplayState) (bool, error) {
	data, err := json.Marshal(next)
	if err != nil {
		return false, err
	}

	expectedKey := ""
	if expected != nil {
		expectedKey = fmt.Sprintf("%d:%d", expected.Counter, expected.Session)
	}

	res, err := replayCASScript.Run(ctx, s.client, []string{s.key(id)}, expectedKey, string(data)).Int()
	if err != nil {
		return false, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	return res == 1, nil
}

func (s *RedisReplayStore) key(id interfaces.PublicID) string {
	return "yubistack:replay:" + id.String()
}

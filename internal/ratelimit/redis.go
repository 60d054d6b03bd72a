package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// reserveScript checks every counter and enforced cooldown before touching
// anything, so a rejected send never leaves a partial increment behind.
// Returns 0 on success or the 1-based index of the first failing key.
//
// KEYS: counter keys, then cooldown keys.
// ARGV: n (counter count), then per counter (max, pttl), then per cooldown
// (pwindow, enforce).
var reserveScript = redis.NewScript(`
local n = tonumber(ARGV[1])
local total = #KEYS

for i = 1, n do
  local cur = tonumber(redis.call('GET', KEYS[i]) or '0')
  if cur >= tonumber(ARGV[2*i]) then
    return i
  end
end

local base = 1 + 2*n
for j = n + 1, total do
  local enforce = tonumber(ARGV[base + 2*(j-n)])
  if enforce == 1 and redis.call('EXISTS', KEYS[j]) == 1 then
    return j
  end
end

for i = 1, n do
  local v = redis.call('INCR', KEYS[i])
  if v == 1 then
    redis.call('PEXPIRE', KEYS[i], tonumber(ARGV[2*i+1]))
  end
end
for j = n + 1, total do
  local pw = tonumber(ARGV[base + 2*(j-n) - 1])
  if pw > 0 then
    redis.call('SET', KEYS[j], '1', 'PX', pw)
  end
end
return 0
`)

type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

// Reserve runs the whole reservation as one Lua script. The Redis server
// clock owns expiry; now is unused here and exists for the in-memory store.
func (s *RedisStore) Reserve(ctx context.Context, res Reservation, _ time.Time) (Kind, error) {
	keys := make([]string, 0, len(res.Counters)+len(res.Cooldowns))
	argv := make([]any, 0, 1+2*len(res.Counters)+2*len(res.Cooldowns))
	argv = append(argv, len(res.Counters))

	for _, c := range res.Counters {
		keys = append(keys, c.Key)
		argv = append(argv, c.Max, c.TTL.Milliseconds())
	}
	for _, cd := range res.Cooldowns {
		keys = append(keys, cd.Key)
		enforce := 0
		if cd.Enforce {
			enforce = 1
		}
		argv = append(argv, cd.Window.Milliseconds(), enforce)
	}

	n, err := reserveScript.Run(ctx, s.rdb, keys, argv...).Int()
	if err != nil {
		return "", err
	}
	if n == 0 {
		return "", nil
	}
	if n <= len(res.Counters) {
		return res.Counters[n-1].Kind, nil
	}
	return res.Cooldowns[n-1-len(res.Counters)].Kind, nil
}

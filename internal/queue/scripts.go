package queue

import "github.com/redis/go-redis/v9"

// Scores and timestamps are passed through as strings so Lua never
// formats a large number and loses precision.

// KEYS: wait, delayed, active, paused
// ARGV: now ms, lock expiry ms, job key prefix
// Returns the claimed id, or "" when paused or empty.
var moveToActiveScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', ARGV[1], 'LIMIT', 0, 100)
for _, id in ipairs(due) do
  local jk = ARGV[3] .. id
  redis.call('ZREM', KEYS[2], id)
  local ws = redis.call('HGET', jk, 'wscore')
  if ws then
    redis.call('ZADD', KEYS[1], ws, id)
    redis.call('HSET', jk, 'state', 'waiting')
  end
end
if redis.call('EXISTS', KEYS[4]) == 1 then
  return ''
end
local head = redis.call('ZRANGE', KEYS[1], 0, 0)
if #head == 0 then
  return ''
end
local id = head[1]
redis.call('ZREM', KEYS[1], id)
local jk = ARGV[3] .. id
redis.call('ZADD', KEYS[3], ARGV[2], id)
redis.call('HINCRBY', jk, 'attempts_made', 1)
redis.call('HSET', jk, 'state', 'active', 'processed_on', ARGV[1])
return id
`)

// KEYS: active, completed, job key
// ARGV: id, now ms, result, keep (-1 keeps all), job key prefix
// Returns -1 when the entry no longer holds the lock.
var completeScript = redis.NewScript(`
if redis.call('ZREM', KEYS[1], ARGV[1]) == 0 then
  return -1
end
redis.call('HSET', KEYS[3], 'state', 'completed', 'finished_on', ARGV[2], 'result', ARGV[3], 'failed_reason', '')
redis.call('ZADD', KEYS[2], ARGV[2], ARGV[1])
local keep = tonumber(ARGV[4])
if keep >= 0 then
  local excess = redis.call('ZCARD', KEYS[2]) - keep
  if excess > 0 then
    local old = redis.call('ZRANGE', KEYS[2], 0, excess - 1)
    for _, id in ipairs(old) do
      redis.call('DEL', ARGV[5] .. id)
    end
    redis.call('ZREMRANGEBYRANK', KEYS[2], 0, excess - 1)
  end
end
return 1
`)

// KEYS: active, delayed, failed, job key
// ARGV: id, now ms, reason, retry-at ms or "" for terminal, keep, job key prefix
// Returns -1 when the lock was lost, 0 when redelivery is scheduled, 1 when failed.
var failScript = redis.NewScript(`
if redis.call('ZREM', KEYS[1], ARGV[1]) == 0 then
  return -1
end
redis.call('HSET', KEYS[4], 'failed_reason', ARGV[3])
if ARGV[4] ~= '' then
  redis.call('ZADD', KEYS[2], ARGV[4], ARGV[1])
  redis.call('HSET', KEYS[4], 'state', 'delayed')
  return 0
end
redis.call('HSET', KEYS[4], 'state', 'failed', 'finished_on', ARGV[2])
redis.call('ZADD', KEYS[3], ARGV[2], ARGV[1])
local keep = tonumber(ARGV[5])
if keep >= 0 then
  local excess = redis.call('ZCARD', KEYS[3]) - keep
  if excess > 0 then
    local old = redis.call('ZRANGE', KEYS[3], 0, excess - 1)
    for _, id in ipairs(old) do
      redis.call('DEL', ARGV[6] .. id)
    end
    redis.call('ZREMRANGEBYRANK', KEYS[3], 0, excess - 1)
  end
end
return 1
`)

// KEYS: active, wait, failed
// ARGV: now ms, job key prefix, reason, keep failed (-1 keeps all)
// Entries whose lock expired go back to waiting, or to failed when no
// attempts remain. Returns the number of entries touched.
var recoverStalledScript = redis.NewScript(`
local expired = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 100)
local failed = 0
for _, id in ipairs(expired) do
  local jk = ARGV[2] .. id
  redis.call('ZREM', KEYS[1], id)
  local ws = redis.call('HGET', jk, 'wscore')
  if ws then
    local made = tonumber(redis.call('HGET', jk, 'attempts_made') or '0')
    local max = tonumber(redis.call('HGET', jk, 'attempts') or '1')
    if made >= max then
      redis.call('HSET', jk, 'state', 'failed', 'finished_on', ARGV[1], 'failed_reason', ARGV[3])
      redis.call('ZADD', KEYS[3], ARGV[1], id)
      failed = failed + 1
    else
      redis.call('ZADD', KEYS[2], ws, id)
      redis.call('HSET', jk, 'state', 'waiting')
    end
  end
end
local keep = tonumber(ARGV[4])
if failed > 0 and keep >= 0 then
  local excess = redis.call('ZCARD', KEYS[3]) - keep
  if excess > 0 then
    local old = redis.call('ZRANGE', KEYS[3], 0, excess - 1)
    for _, id in ipairs(old) do
      redis.call('DEL', ARGV[2] .. id)
    end
    redis.call('ZREMRANGEBYRANK', KEYS[3], 0, excess - 1)
  end
end
return #expired
`)

// KEYS: active, wait, delayed, completed, failed, job key
// ARGV: id
// Returns -1 for an active entry, otherwise the number of hashes deleted.
var removeScript = redis.NewScript(`
if redis.call('ZSCORE', KEYS[1], ARGV[1]) then
  return -1
end
redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('ZREM', KEYS[3], ARGV[1])
redis.call('ZREM', KEYS[4], ARGV[1])
redis.call('ZREM', KEYS[5], ARGV[1])
return redis.call('DEL', KEYS[6])
`)

// KEYS: finished set
// ARGV: max finished ms, job key prefix, batch size
var cleanScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[3]))
for _, id in ipairs(ids) do
  redis.call('DEL', ARGV[2] .. id)
  redis.call('ZREM', KEYS[1], id)
end
return #ids
`)

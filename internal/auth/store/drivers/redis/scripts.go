package redis

import "github.com/redis/go-redis/v9"

// The scripts reach keys derived from the prefix and hash contents, so they
// assume a single Redis node rather than a cluster.

// KEYS: session, refresh, user set. ARGV: ttl ms, sid, field/value pairs.
var createScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[1], unpack(ARGV, 3))
redis.call('PEXPIRE', KEYS[1], ARGV[1])
redis.call('SET', KEYS[2], ARGV[2], 'PX', ARGV[1])
redis.call('SADD', KEYS[3], ARGV[2])
if redis.call('PTTL', KEYS[3]) < tonumber(ARGV[1]) then
  redis.call('PEXPIRE', KEYS[3], ARGV[1])
end
return 1
`)

// KEYS: session, new refresh. ARGV: old fp, new fp, ttl ms, now ms,
// expires ms, prefix, sid.
// Returns 1 rotated, 0 missing, -1 stale (session revoked).
var rotateScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'refresh_fp')
if not cur then
  return 0
end
local uid = redis.call('HGET', KEYS[1], 'user_id')
local set = ARGV[6] .. 'user_sessions:' .. uid
if cur ~= ARGV[1] then
  redis.call('DEL', KEYS[1])
  redis.call('DEL', ARGV[6] .. 'refresh:' .. cur)
  redis.call('SREM', set, ARGV[7])
  return -1
end
redis.call('DEL', ARGV[6] .. 'refresh:' .. cur)
redis.call('SET', KEYS[2], ARGV[7], 'PX', ARGV[3])
redis.call('HSET', KEYS[1], 'refresh_fp', ARGV[2], 'last_activity_at', ARGV[4], 'expires_at', ARGV[5])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
if redis.call('PTTL', set) < tonumber(ARGV[3]) then
  redis.call('PEXPIRE', set, ARGV[3])
end
return 1
`)

// KEYS: session. ARGV: prefix, sid.
var revokeScript = redis.NewScript(`
local f = redis.call('HMGET', KEYS[1], 'user_id', 'refresh_fp')
if not f[1] then
  return 0
end
redis.call('DEL', KEYS[1])
if f[2] then
  redis.call('DEL', ARGV[1] .. 'refresh:' .. f[2])
end
redis.call('SREM', ARGV[1] .. 'user_sessions:' .. f[1], ARGV[2])
return 1
`)

// KEYS: user set. ARGV: prefix. Returns the number of live sessions removed.
var revokeAllScript = redis.NewScript(`
local n = 0
for _, sid in ipairs(redis.call('SMEMBERS', KEYS[1])) do
  local key = ARGV[1] .. 'session:' .. sid
  local fp = redis.call('HGET', key, 'refresh_fp')
  if fp then
    redis.call('DEL', ARGV[1] .. 'refresh:' .. fp)
    redis.call('DEL', key)
    n = n + 1
  end
end
redis.call('DEL', KEYS[1])
return n
`)

// KEYS: session. ARGV: activity ms. HSET leaves the key TTL alone.
var touchScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
redis.call('HSET', KEYS[1], 'last_activity_at', ARGV[1])
return 1
`)

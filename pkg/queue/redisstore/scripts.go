package redisstore

import "github.com/redis/go-redis/v9"

// The scripts below implement the atomic transitions
// assigns to JobRepository. They are written against a single-node (or
// primary-replica) Redis: key names for the per-tenant pending list and
// per-(tenant,queue) id set are built inside the script from ARGV, which
// is why this package does not attempt Redis Cluster key-hashing — fine
// for duraq's non-goal of cross-cluster replication.
//
// Grounded on the redis.Script/Lua dispatch pattern used for atomic job
// fetch in the retrieved work-queue worker (garyburd/redigo style),
// adapted here to go-redis/v9's redis.NewScript.

var enqueueScript = redis.NewScript(`
local jobKey = 'job:' .. ARGV[3]
local exists = redis.call('EXISTS', jobKey)
local replaced = 0
local deferred = 0
if exists == 1 then
  replaced = 1
  local inProcessing = redis.call('ZSCORE', KEYS[2], ARGV[3])
  if inProcessing then
    if ARGV[5] == '1' then
      return redis.error_reply('QUEUE_LOCKED')
    end
    deferred = 1
  else
    redis.call('ZREM', KEYS[1], ARGV[3])
    redis.call('LREM', KEYS[3], 0, ARGV[3])
  end
end
if #ARGV >= 6 then
  redis.call('HSET', jobKey, unpack(ARGV, 6))
end
redis.call('SADD', KEYS[4], ARGV[4])
if deferred == 0 then
  if tonumber(ARGV[2]) <= tonumber(ARGV[1]) then
    redis.call('RPUSH', KEYS[3], ARGV[3])
  else
    redis.call('ZADD', KEYS[1], ARGV[2], ARGV[3])
  end
end
return {replaced, deferred}
`)

var promoteDueScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
local n = 0
for _, fp in ipairs(due) do
  redis.call('ZREM', KEYS[1], fp)
  local tenant = redis.call('HGET', 'job:' .. fp, 'tenant')
  if tenant ~= false then
    redis.call('RPUSH', 'pending:' .. tenant, fp)
    n = n + 1
  end
end
return n
`)

var claimScript = redis.NewScript(`
local fp = redis.call('LPOP', KEYS[1])
if not fp then
  return false
end
local deadline = tonumber(ARGV[1]) + tonumber(ARGV[2])
redis.call('ZADD', KEYS[2], deadline, fp)
local count = redis.call('HINCRBY', 'job:' .. fp, 'count', 1)
return {fp, count}
`)

var acknowledgeScript = redis.NewScript(`
local jobKey = 'job:' .. ARGV[1]
local score = redis.call('ZSCORE', KEYS[1], ARGV[1])
if not score then
  return redis.error_reply('STALE_ACK')
end
local current = redis.call('HGET', jobKey, 'count')
if current ~= ARGV[2] then
  return redis.error_reply('STALE_ACK')
end
redis.call('ZREM', KEYS[1], ARGV[1])
local schedType = redis.call('HGET', jobKey, 'schedule_type')
if (not schedType) or schedType == '' or ARGV[3] == '1' then
  local tenant = redis.call('HGET', jobKey, 'tenant')
  local queueName = redis.call('HGET', jobKey, 'queue')
  local id = redis.call('HGET', jobKey, 'id')
  redis.call('DEL', jobKey)
  if tenant and queueName and id then
    redis.call('SREM', 'ids:' .. tenant .. ':' .. queueName, id)
  end
  return {0}
else
  local meta = redis.call('HGET', jobKey, 'schedule_meta') or ''
  local last = redis.call('HGET', jobKey, 'schedule_last') or '0'
  local maxTimes = redis.call('HGET', jobKey, 'max_times') or '0'
  return {1, schedType, meta, last, ARGV[2], maxTimes}
end
`)

var commitRescheduleScript = redis.NewScript(`
local jobKey = 'job:' .. ARGV[1]
redis.call('HSET', jobKey, 'runAt', ARGV[2], 'schedule_last', ARGV[2])
redis.call('ZADD', KEYS[1], ARGV[2], ARGV[1])
return 1
`)

var terminateScript = redis.NewScript(`
local jobKey = 'job:' .. ARGV[1]
local current = redis.call('HGET', jobKey, 'count')
if current ~= false and current ~= ARGV[2] then
  return 0
end
local tenant = redis.call('HGET', jobKey, 'tenant')
local queueName = redis.call('HGET', jobKey, 'queue')
local id = redis.call('HGET', jobKey, 'id')
redis.call('DEL', jobKey)
if tenant and queueName and id then
  redis.call('SREM', 'ids:' .. tenant .. ':' .. queueName, id)
end
return 1
`)

var reportStaleScript = redis.NewScript(`
local jobKey = 'job:' .. ARGV[1]
local score = redis.call('ZSCORE', KEYS[1], ARGV[1])
if not score then
  return {1, 0, 0, 0, '', '', ''}
end
redis.call('ZREM', KEYS[1], ARGV[1])
local tenant = redis.call('HGET', jobKey, 'tenant') or ''
local queueName = redis.call('HGET', jobKey, 'queue') or ''
local id = redis.call('HGET', jobKey, 'id') or ''
local count = tonumber(redis.call('HGET', jobKey, 'count') or '0')
local retryStr = redis.call('HGET', jobKey, 'retry')
local retries = {}
if retryStr and retryStr ~= '' then
  for m in string.gmatch(retryStr, '([^,]+)') do
    table.insert(retries, m)
  end
end
if count >= 1 and count <= #retries then
  local delayMs = tonumber(retries[count])
  local nextAt = tonumber(ARGV[2]) + delayMs
  redis.call('HSET', jobKey, 'runAt', tostring(nextAt))
  redis.call('ZADD', KEYS[2], nextAt, ARGV[1])
  return {0, 1, 0, nextAt, tenant, queueName, id}
else
  redis.call('DEL', jobKey)
  redis.call('SREM', 'ids:' .. tenant .. ':' .. queueName, id)
  return {0, 0, 1, 0, tenant, queueName, id}
end
`)

var deleteScript = redis.NewScript(`
local jobKey = 'job:' .. ARGV[1]
local exists = redis.call('EXISTS', jobKey)
if exists == 0 then
  return 0
end
redis.call('ZREM', KEYS[1], ARGV[1])
redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('LREM', 'pending:' .. ARGV[2], 0, ARGV[1])
redis.call('DEL', jobKey)
redis.call('SREM', 'ids:' .. ARGV[2] .. ':' .. ARGV[3], ARGV[4])
return 1
`)

var invokeScript = redis.NewScript(`
local jobKey = 'job:' .. ARGV[1]
local exists = redis.call('EXISTS', jobKey)
if exists == 0 then
  return 0
end
local inProc = redis.call('ZSCORE', KEYS[2], ARGV[1])
if inProc then
  return 0
end
local removed = redis.call('ZREM', KEYS[1], ARGV[1])
if removed == 1 then
  redis.call('RPUSH', KEYS[3], ARGV[1])
  return 1
end
local pending = redis.call('LRANGE', KEYS[3], 0, -1)
for _, v in ipairs(pending) do
  if v == ARGV[1] then
    return 1
  end
end
return 0
`)

package redisstate

// Lua scripts backing the capacity-reservation protocol and the job FSM.
// Every script is a single atomic unit so that check-then-act races
// between concurrent dispatcher goroutines (possibly on different
// scheduler instances) cannot double-reserve a node's capacity or skip
// an FSM transition.

// tryReserveLua: KEYS[1]=node running-count key, KEYS[2]=reservation key
// ARGV[1]=capacity ARGV[2]=reservation ttl seconds ARGV[3]=reservation payload
// Returns 1 on success, 0 if the node is already at capacity.
const tryReserveLua = `
local running = tonumber(redis.call('GET', KEYS[1]) or '0')
local capacity = tonumber(ARGV[1])
if running >= capacity then
  return 0
end
redis.call('INCR', KEYS[1])
redis.call('SET', KEYS[2], ARGV[3], 'EX', tonumber(ARGV[2]))
return 1
`

// commitReserveLua: KEYS[1]=reservation key, KEYS[2]=job fsm key
// ARGV[1]=new fsm state ARGV[2]=fsm ttl seconds
// Converts a pending reservation into a running job. Returns 1 on
// success, 0 if the reservation already expired/vanished.
const commitReserveLua = `
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
redis.call('HSET', KEYS[2], 'state', ARGV[1])
redis.call('EXPIRE', KEYS[2], tonumber(ARGV[2]))
return 1
`

// releaseReserveLua: KEYS[1]=node running-count key, KEYS[2]=reservation key
// Decrements the node's running count (floored at 0) and removes the
// reservation key. Idempotent: safe to call twice.
const releaseReserveLua = `
local existed = redis.call('DEL', KEYS[2])
if existed == 1 then
  local running = tonumber(redis.call('GET', KEYS[1]) or '0')
  if running > 0 then
    redis.call('DECR', KEYS[1])
  end
end
return existed
`

// fsmTransitionLua: KEYS[1]=job fsm key
// ARGV[1]=expected current state (or '*' to skip the check)
// ARGV[2]=new state ARGV[3]=ttl seconds ARGV[4]=updated_at timestamp
// Returns 1 on success, 0 if the current state didn't match (lost race
// or stale transition attempt), -1 if the record doesn't exist.
const fsmTransitionLua = `
local exists = redis.call('EXISTS', KEYS[1])
if exists == 0 then
  return -1
end
local current = redis.call('HGET', KEYS[1], 'state')
if ARGV[1] ~= '*' and current ~= ARGV[1] then
  return 0
end
redis.call('HSET', KEYS[1], 'state', ARGV[2], 'updated_at', ARGV[4])
redis.call('EXPIRE', KEYS[1], tonumber(ARGV[3]))
return 1
`

// heartbeatLua: KEYS[1]=node presence key, KEYS[2]=node snapshot key
// ARGV[1]=ttl seconds ARGV[2]=snapshot payload (serialized fields)
// Refreshes presence TTL and overwrites the snapshot in one round trip.
const heartbeatLua = `
redis.call('SET', KEYS[1], '1', 'EX', tonumber(ARGV[1]))
redis.call('SET', KEYS[2], ARGV[2], 'EX', tonumber(ARGV[1]))
return 1
`

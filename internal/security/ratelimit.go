package security

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Throttle is a redis-backed token bucket shared by every console
// replica. Claim attempts are keyed per operator so one runaway desk
// script cannot lock the others out of the claim protocol.
type Throttle struct {
	Redis  *redis.Client
	Prefix string
	Burst  int
	Refill float64 // tokens per second
}

// Returns {admitted, retry_after_seconds}. Bucket level and refill
// stamp live in one hash so the read-modify-write is atomic.
var throttleScript = redis.NewScript(`
local bucket = KEYS[1]
local burst = tonumber(ARGV[1])
local refill = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local state = redis.call('HMGET', bucket, 'level', 'stamp')
local level = tonumber(state[1])
local stamp = tonumber(state[2])
if level == nil then level = burst end
if stamp == nil then stamp = now end

local elapsed = now - stamp
if elapsed > 0 then
	level = math.min(burst, level + elapsed * refill)
end

local admitted = 0
local wait = 0
if level >= 1 then
	admitted = 1
	level = level - 1
else
	wait = (1 - level) / refill
end

redis.call('HSET', bucket, 'level', level, 'stamp', now)
redis.call('EXPIRE', bucket, ttl)
return {admitted, tostring(wait)}
`)

func (t *Throttle) bucket(key string) string {
	if t.Prefix == "" {
		return key
	}
	return t.Prefix + ":" + key
}

// Allow spends one token for key, reporting how long the caller
// should wait when the bucket is empty. A zero-valued throttle admits
// everything.
func (t *Throttle) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	if t == nil || t.Redis == nil || t.Burst <= 0 || t.Refill <= 0 {
		return true, 0, nil
	}

	now := float64(time.Now().UnixNano()) / 1e9
	ttl := int64(float64(t.Burst)/t.Refill) + 1

	res, err := throttleScript.Run(ctx, t.Redis, []string{t.bucket(key)}, t.Burst, t.Refill, now, ttl).Result()
	if err != nil {
		return false, 0, err
	}
	vals, ok := res.([]interface{})
	if !ok || len(vals) != 2 {
		return false, 0, fmt.Errorf("unexpected throttle reply %T", res)
	}
	admitted, _ := vals[0].(int64)
	waitStr, _ := vals[1].(string)
	wait, _ := strconv.ParseFloat(waitStr, 64)

	return admitted == 1, time.Duration(wait * float64(time.Second)), nil
}

// Admit spends one token for key and writes the throttled or
// limiter-unavailable response itself when the request cannot
// proceed. A nil throttle admits everything.
func (t *Throttle) Admit(w http.ResponseWriter, r *http.Request, key string) bool {
	if t == nil {
		return true
	}

	admitted, wait, err := t.Allow(r.Context(), key)
	if err != nil {
		WriteJSONError(w, r, http.StatusServiceUnavailable, "rate_limiter_unavailable")
		return false
	}
	if !admitted {
		if wait > 0 {
			w.Header().Set("Retry-After", strconv.FormatInt(int64(math.Ceil(wait.Seconds())), 10))
		}
		WriteJSONErrorDetail(w, r, http.StatusTooManyRequests, "rate_limited",
			"too many attempts for "+key+", slow down")
		return false
	}
	return true
}

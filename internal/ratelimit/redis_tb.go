package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// TokenBucketLimiter 基于 Redis 的令牌桶限流：
// - tokensKey 记录剩余令牌，tsKey 记录上次补充时间
// - Lua 脚本内原子完成补充、扣减与过期设置
// - Allow 出错时按“放行”处理，限流失效不应阻断消息收发
type TokenBucketLimiter struct {
	client *redis.Client
}

func NewTokenBucketLimiter(c *redis.Client) *TokenBucketLimiter {
	return &TokenBucketLimiter{client: c}
}

var tokenBucketScript = redis.NewScript(`
local tokens_key = KEYS[1]
local ts_key = KEYS[2]
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local now_ms = tonumber(ARGV[3])

local tokens = tonumber(redis.call('GET', tokens_key))
if tokens == nil then tokens = burst end
local ts = tonumber(redis.call('GET', ts_key))
if ts == nil then ts = now_ms end

local elapsed = math.max(0, now_ms - ts) / 1000.0
local refilled = math.min(burst, tokens + elapsed * rate)

local allowed = 0
if refilled >= 1 then
  allowed = 1
  refilled = refilled - 1
end

redis.call('SET', tokens_key, refilled)
redis.call('SET', ts_key, now_ms)
redis.call('PEXPIRE', tokens_key, 2000)
redis.call('PEXPIRE', ts_key, 2000)

return {allowed, refilled}
`)

// Allow 尝试消耗一个令牌，返回 (allowed, remainingTokens)。
// key 建议为 userId:connId:action 维度。
func (l *TokenBucketLimiter) Allow(ctx context.Context, key string, ratePerSec, burst int) (bool, int64, error) {
	if l == nil || l.client == nil {
		return true, 0, nil
	}
	nowMs := time.Now().UnixMilli()
	vals, err := tokenBucketScript.Run(ctx, l.client, []string{key + ":t", key + ":ts"}, ratePerSec, burst, nowMs).Result()
	if err != nil {
		return true, 0, err
	}
	arr := vals.([]interface{})
	allowed := arr[0].(int64) == 1
	rem := int64(0)
	switch v := arr[1].(type) {
	case int64:
		rem = v
	case float64:
		rem = int64(v)
	}
	return allowed, rem, nil
}

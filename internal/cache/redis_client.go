package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// 本包封装 Redis 客户端与在线状态/水位缓存键：
// - 在线集合：imsync:presence:online
// - 用户设备集合：imsync:presence:devices:<userId>
// - 已读/投递水位缓存：imsync:readseq / imsync:deliveredseq
// - 会话最新序列缓存：imsync:lastseq:<convId>
// 所有写操作在客户端未初始化时静默跳过，便于单进程/测试模式运行。
var (
	redisClient *redis.Client
)

func InitRedis(addr, pass string, db int) {
	redisClient = redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: pass,
		DB:       db,
	})
}

func Client() *redis.Client { return redisClient }

func OnlineUsersKey() string { return "imsync:presence:online" }
func DevicePresenceKey(userID string) string {
	return fmt.Sprintf("imsync:presence:devices:%s", userID)
}
func LastSeenKey(userID string) string { return fmt.Sprintf("imsync:presence:lastseen:%s", userID) }
func LastSeqKey(convID string) string  { return fmt.Sprintf("imsync:lastseq:%s", convID) }
func ReadSeqKey(userID, convID string) string {
	return fmt.Sprintf("imsync:readseq:%s:%s", userID, convID)
}

// SetDeviceOnline/SetDeviceOffline 维护多设备在线镜像：
// - 上线：写入用户设备集合 + 全局在线集合
// - 下线：从设备集合移除；若集合为空，则从全局在线集合移除并记录最后在线时间
func SetDeviceOnline(ctx context.Context, userID, connID string) error {
	if redisClient == nil {
		return nil
	}
	pipe := redisClient.TxPipeline()
	pipe.SAdd(ctx, DevicePresenceKey(userID), connID)
	pipe.SAdd(ctx, OnlineUsersKey(), userID)
	_, err := pipe.Exec(ctx)
	return err
}

func SetDeviceOffline(ctx context.Context, userID, connID string) error {
	if redisClient == nil {
		return nil
	}
	if err := redisClient.SRem(ctx, DevicePresenceKey(userID), connID).Err(); err != nil {
		return err
	}
	if n, err := redisClient.SCard(ctx, DevicePresenceKey(userID)).Result(); err == nil && n == 0 {
		pipe := redisClient.TxPipeline()
		pipe.SRem(ctx, OnlineUsersKey(), userID)
		pipe.Set(ctx, LastSeenKey(userID), time.Now().UnixMilli(), 0)
		_, _ = pipe.Exec(ctx)
	}
	return nil
}

// CacheLastSeq/CacheReadSeq 写入水位缓存，供会话列表等读路径加速。
func CacheLastSeq(ctx context.Context, convID string, seq int64) {
	if redisClient == nil {
		return
	}
	redisClient.Set(ctx, LastSeqKey(convID), seq, 10*time.Minute)
}

func CacheReadSeq(ctx context.Context, userID, convID string, seq int64) {
	if redisClient == nil {
		return
	}
	redisClient.Set(ctx, ReadSeqKey(userID, convID), seq, 10*time.Minute)
}

// OnlineDeviceCount 查询用户的在线设备数（镜像值，权威状态在进程内注册表）。
func OnlineDeviceCount(ctx context.Context, userID string) (int64, error) {
	if redisClient == nil {
		return 0, nil
	}
	return redisClient.SCard(ctx, DevicePresenceKey(userID)).Result()
}

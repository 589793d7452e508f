package hub

import (
	"context"
	"hash/fnv"
	"log"
	"strconv"
	"sync"

	"go-msgsync/internal/store"
)

const reactionShardCount = 16

type reactionShard struct {
	mu    sync.Mutex
	byMsg map[string]map[string]map[string]struct{} // convID|seq -> emoji -> userID set
	known map[string]bool
}

// ReactionAggregator 反应聚合器：维护 消息 → emoji → 反应者集合。
// - add 幂等：重复添加不重复计数，但仍返回增量（发起端拿到回显）
// - remove 不存在的反应是静默 no-op，不产生广播
// - 只有增量被扇出，载荷不随反应总量增长
type ReactionAggregator struct {
	shards [reactionShardCount]*reactionShard
	store  store.MessageStoreInterface
}

func NewReactionAggregator(ms store.MessageStoreInterface) *ReactionAggregator {
	a := &ReactionAggregator{store: ms}
	for i := range a.shards {
		a.shards[i] = &reactionShard{
			byMsg: make(map[string]map[string]map[string]struct{}),
			known: make(map[string]bool),
		}
	}
	return a
}

func (a *ReactionAggregator) shardFor(key string) *reactionShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return a.shards[h.Sum32()%reactionShardCount]
}

func reactionKey(convID string, seq int64) string {
	return convID + "|" + strconv.FormatInt(seq, 10)
}

// ensureLoaded 首次触达某消息时从存储恢复反应集合。
// 调用方必须已持有分片锁。
func (a *ReactionAggregator) ensureLoaded(ctx context.Context, s *reactionShard, convID string, seq int64, key string) error {
	if s.known[key] {
		return nil
	}
	if a.store != nil {
		m, err := a.store.GetBySeq(ctx, convID, seq)
		if err != nil || m == nil {
			return ErrMessageNotFound
		}
		if len(m.Reactions) > 0 {
			set := make(map[string]map[string]struct{}, len(m.Reactions))
			for emoji, users := range m.Reactions {
				us := make(map[string]struct{}, len(users))
				for _, uid := range users {
					us[uid] = struct{}{}
				}
				set[emoji] = us
			}
			s.byMsg[key] = set
		}
	}
	s.known[key] = true
	return nil
}

// Add 添加反应并返回广播增量。重复添加返回增量但不落库、不改计数。
func (a *ReactionAggregator) Add(ctx context.Context, convID string, seq int64, userID, emoji string) (*ReactionDelta, error) {
	key := reactionKey(convID, seq)
	s := a.shardFor(key)
	s.mu.Lock()
	if err := a.ensureLoaded(ctx, s, convID, seq, key); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	set, ok := s.byMsg[key]
	if !ok {
		set = make(map[string]map[string]struct{})
		s.byMsg[key] = set
	}
	users, ok := set[emoji]
	if !ok {
		users = make(map[string]struct{})
		set[emoji] = users
	}
	_, dup := users[userID]
	if !dup {
		users[userID] = struct{}{}
	}
	count := len(users)
	snapshot := a.snapshotLocked(set)
	s.mu.Unlock()

	delta := &ReactionDelta{ConvID: convID, Seq: seq, Emoji: emoji, UserID: userID, Op: "add", Count: count}
	if dup {
		return delta, nil
	}
	a.persist(ctx, convID, seq, snapshot)
	return delta, nil
}

// Remove 移除反应。不存在的 (用户, emoji) 对返回 nil（无广播）。
func (a *ReactionAggregator) Remove(ctx context.Context, convID string, seq int64, userID, emoji string) (*ReactionDelta, error) {
	key := reactionKey(convID, seq)
	s := a.shardFor(key)
	s.mu.Lock()
	if err := a.ensureLoaded(ctx, s, convID, seq, key); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	set := s.byMsg[key]
	users, ok := set[emoji]
	if !ok {
		s.mu.Unlock()
		return nil, nil
	}
	if _, exists := users[userID]; !exists {
		s.mu.Unlock()
		return nil, nil
	}
	delete(users, userID)
	count := len(users)
	if count == 0 {
		delete(set, emoji)
	}
	snapshot := a.snapshotLocked(set)
	s.mu.Unlock()

	a.persist(ctx, convID, seq, snapshot)
	return &ReactionDelta{ConvID: convID, Seq: seq, Emoji: emoji, UserID: userID, Op: "remove", Count: count}, nil
}

// ReactorsOf 返回某消息某 emoji 的反应者（测试与历史补齐用）。
func (a *ReactionAggregator) ReactorsOf(ctx context.Context, convID string, seq int64, emoji string) []string {
	key := reactionKey(convID, seq)
	s := a.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := a.ensureLoaded(ctx, s, convID, seq, key); err != nil {
		return nil
	}
	users := s.byMsg[key][emoji]
	return snapshotKeys(users)
}

func (a *ReactionAggregator) snapshotLocked(set map[string]map[string]struct{}) map[string][]string {
	out := make(map[string][]string, len(set))
	for emoji, users := range set {
		out[emoji] = snapshotKeys(users)
	}
	return out
}

func (a *ReactionAggregator) persist(ctx context.Context, convID string, seq int64, snapshot map[string][]string) {
	if a.store == nil {
		return
	}
	if err := a.store.SetReactions(ctx, convID, seq, snapshot); err != nil {
		log.Printf("reaction persist error: conv=%s seq=%d err=%v", convID, seq, err)
	}
}

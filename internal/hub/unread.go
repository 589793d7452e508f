package hub

import (
	"hash/fnv"
	"sync"
)

const unreadShardCount = 16

type unreadShard struct {
	mu     sync.Mutex
	counts map[string]int64  // userID|convID -> 未读数
	focus  map[string]string // userID -> 正在查看的 convID（"" 表示无焦点）
}

// UnreadCounter 未读计数器：按用户分片加锁，避免全局热点。
// 计数恒为非负，等于该用户上次 focus 之后被分发给他、且非他本人发送的消息数。
type UnreadCounter struct {
	shards [unreadShardCount]*unreadShard

	notify func(userID, convID string, count int64)
}

func NewUnreadCounter() *UnreadCounter {
	u := &UnreadCounter{}
	for i := range u.shards {
		u.shards[i] = &unreadShard{
			counts: make(map[string]int64),
			focus:  make(map[string]string),
		}
	}
	return u
}

func (u *UnreadCounter) SetNotifyHook(fn func(userID, convID string, count int64)) {
	u.notify = fn
}

func (u *UnreadCounter) shardFor(userID string) *unreadShard {
	h := fnv.New32a()
	h.Write([]byte(userID))
	return u.shards[h.Sum32()%unreadShardCount]
}

func unreadKey(userID, convID string) string { return userID + "|" + convID }

// OnDispatch 在消息分发给某接收者时调用。
// 发送者本人由分发方跳过；焦点在该会话上的接收者不计数。
func (u *UnreadCounter) OnDispatch(convID, recipientID string) {
	s := u.shardFor(recipientID)
	s.mu.Lock()
	if s.focus[recipientID] == convID {
		s.mu.Unlock()
		return
	}
	key := unreadKey(recipientID, convID)
	s.counts[key]++
	n := s.counts[key]
	s.mu.Unlock()

	if u.notify != nil {
		u.notify(recipientID, convID, n)
	}
}

// OnFocus 声明用户正在查看某会话：原子清零该对计数并记录焦点。
// convID 为空表示失焦。幂等：重复调用不产生额外变化。
func (u *UnreadCounter) OnFocus(userID, convID string) {
	s := u.shardFor(userID)
	s.mu.Lock()
	s.focus[userID] = convID
	changed := false
	if convID != "" {
		key := unreadKey(userID, convID)
		if s.counts[key] != 0 {
			changed = true
		}
		delete(s.counts, key)
	}
	s.mu.Unlock()

	if changed && u.notify != nil {
		u.notify(userID, convID, 0)
	}
}

// ClearFocus 清除用户的焦点记录，不触碰计数。
// 用户最后一条连接断开时调用：离线后没有“正在查看”可言，
// 否则断线期间分发到原焦点会话的消息会被静默漏计。
func (u *UnreadCounter) ClearFocus(userID string) {
	s := u.shardFor(userID)
	s.mu.Lock()
	delete(s.focus, userID)
	s.mu.Unlock()
}

// Count 查询某 (用户, 会话) 的当前未读数。
func (u *UnreadCounter) Count(userID, convID string) int64 {
	s := u.shardFor(userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[unreadKey(userID, convID)]
}

// FocusOf 返回用户当前焦点会话（"" 表示无）。
func (u *UnreadCounter) FocusOf(userID string) string {
	s := u.shardFor(userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.focus[userID]
}

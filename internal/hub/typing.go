package hub

import (
	"sync"
	"time"
)

// TypingCoordinator 输入中状态协调器。
// 每个 (会话, 用户) 一个过期定时器：重复 set 只刷新不叠加；
// 只有状态转移（开始/停止）才广播，事件量与击键速度无关。
// 发送消息会通过 submit 的副作用隐式清除输入中状态。
type TypingCoordinator struct {
	mu    sync.Mutex
	ttl   time.Duration
	marks map[string]map[string]*time.Timer // convID -> userID -> 过期定时器

	broadcast func(convID, userID string, typing bool)
}

func NewTypingCoordinator(ttl time.Duration) *TypingCoordinator {
	if ttl <= 0 {
		ttl = 3 * time.Second
	}
	return &TypingCoordinator{
		ttl:   ttl,
		marks: make(map[string]map[string]*time.Timer),
	}
}

func (t *TypingCoordinator) SetBroadcastHook(fn func(convID, userID string, typing bool)) {
	t.broadcast = fn
}

// SetTyping (重新)标记输入中。首次标记广播 typing.start，刷新则静默。
func (t *TypingCoordinator) SetTyping(convID, userID string) {
	t.mu.Lock()
	users, ok := t.marks[convID]
	if !ok {
		users = make(map[string]*time.Timer)
		t.marks[convID] = users
	}
	if timer, exists := users[userID]; exists {
		timer.Reset(t.ttl)
		t.mu.Unlock()
		return
	}
	users[userID] = time.AfterFunc(t.ttl, func() { t.expire(convID, userID) })
	t.mu.Unlock()

	if t.broadcast != nil {
		t.broadcast(convID, userID, true)
	}
}

// ClearTyping 显式停止；非输入中状态下调用是静默 no-op。
func (t *TypingCoordinator) ClearTyping(convID, userID string) {
	if t.remove(convID, userID, true) && t.broadcast != nil {
		t.broadcast(convID, userID, false)
	}
}

func (t *TypingCoordinator) expire(convID, userID string) {
	if t.remove(convID, userID, false) && t.broadcast != nil {
		t.broadcast(convID, userID, false)
	}
}

// remove 摘除标记；stop=true 时同时取消未触发的定时器。
func (t *TypingCoordinator) remove(convID, userID string, stop bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	users, ok := t.marks[convID]
	if !ok {
		return false
	}
	timer, exists := users[userID]
	if !exists {
		return false
	}
	if stop {
		timer.Stop()
	}
	delete(users, userID)
	if len(users) == 0 {
		delete(t.marks, convID)
	}
	return true
}

// IsTyping 查询 (会话, 用户) 是否处于输入中（测试与调试用）。
func (t *TypingCoordinator) IsTyping(convID, userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	users, ok := t.marks[convID]
	if !ok {
		return false
	}
	_, exists := users[userID]
	return exists
}

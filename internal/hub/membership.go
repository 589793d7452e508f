package hub

import (
	"context"
	"sync"
)

// ParticipantLoader 从持久化协作方装载会话参与者（冷启动种子）。
type ParticipantLoader interface {
	LoadParticipants(ctx context.Context, convID string) ([]string, error)
}

// Membership 会话成员索引：会话 → 参与者集合（持久事实）。
// 成员身份与设备是否在线无关；扇出解析永远走 成员 → 连接注册表，
// 不依赖任何“已订阅某 socket 房间”的瞬时状态——刚重连的设备
// 不会因为尚未重新订阅而漏掉消息。
type Membership struct {
	mu      sync.RWMutex
	members map[string]map[string]struct{} // convID -> userID set
	byUser  map[string]map[string]struct{} // userID -> convID set
	loaded  map[string]bool

	loader ParticipantLoader // 可为 nil（纯内存模式）
}

func NewMembership(loader ParticipantLoader) *Membership {
	return &Membership{
		members: make(map[string]map[string]struct{}),
		byUser:  make(map[string]map[string]struct{}),
		loaded:  make(map[string]bool),
		loader:  loader,
	}
}

// Join 将用户加入会话成员集合。
func (m *Membership) Join(convID, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.joinLocked(convID, userID)
}

func (m *Membership) joinLocked(convID, userID string) {
	set, ok := m.members[convID]
	if !ok {
		set = make(map[string]struct{})
		m.members[convID] = set
	}
	set[userID] = struct{}{}
	convs, ok := m.byUser[userID]
	if !ok {
		convs = make(map[string]struct{})
		m.byUser[userID] = convs
	}
	convs[convID] = struct{}{}
}

// Leave 将用户移出会话；清理空集合避免泄漏。
func (m *Membership) Leave(convID, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if set, ok := m.members[convID]; ok {
		delete(set, userID)
		if len(set) == 0 {
			delete(m.members, convID)
			delete(m.loaded, convID)
		}
	}
	if convs, ok := m.byUser[userID]; ok {
		delete(convs, convID)
		if len(convs) == 0 {
			delete(m.byUser, userID)
		}
	}
}

// MembersOf 返回会话参与者快照；未命中时从持久层按需装载。
func (m *Membership) MembersOf(ctx context.Context, convID string) ([]string, error) {
	m.mu.RLock()
	if m.loaded[convID] || m.loader == nil {
		out := snapshotKeys(m.members[convID])
		m.mu.RUnlock()
		return out, nil
	}
	m.mu.RUnlock()

	ids, err := m.loader.LoadParticipants(ctx, convID)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	if !m.loaded[convID] {
		for _, uid := range ids {
			m.joinLocked(convID, uid)
		}
		m.loaded[convID] = true
	}
	out := snapshotKeys(m.members[convID])
	m.mu.Unlock()
	return out, nil
}

// IsMember 判断用户是否会话参与者。
func (m *Membership) IsMember(ctx context.Context, convID, userID string) (bool, error) {
	members, err := m.MembersOf(ctx, convID)
	if err != nil {
		return false, err
	}
	for _, uid := range members {
		if uid == userID {
			return true, nil
		}
	}
	return false, nil
}

// ConversationsOf 返回用户当前已装载的会话集合（presence 扩散用）。
func (m *Membership) ConversationsOf(userID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return snapshotKeys(m.byUser[userID])
}

func snapshotKeys(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}

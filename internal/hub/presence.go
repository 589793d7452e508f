package hub

import (
	"sync"
	"time"

	"go-msgsync/internal/models"
)

// Presence 在线状态追踪器：完全由连接注册表的转移事件推导，
// 自身从不独立变更。仅在 离线→在线 / 在线→离线 两种转移时广播，
// 同用户追加设备不产生事件。
type Presence struct {
	mu      sync.RWMutex
	records map[string]*models.PresenceRecord
	gens    map[string]uint64 // userID -> 已应用的最大转移代数

	// broadcast 将 presence.changed 扩散给与该用户共享会话的成员
	broadcast func(userID string, p *PresencePayload)
	// mirror 同步在线镜像（Redis），可为 nil
	mirror func(userID string, online bool)
}

func NewPresence() *Presence {
	return &Presence{
		records: make(map[string]*models.PresenceRecord),
		gens:    make(map[string]uint64),
	}
}

func (p *Presence) SetBroadcastHook(fn func(userID string, payload *PresencePayload)) {
	p.broadcast = fn
}

func (p *Presence) SetMirrorHook(fn func(userID string, online bool)) {
	p.mirror = fn
}

// OnTransition 接收注册表回调；devices 为变化后的连接数。
// gen 低于已应用代数的转移视为过期直接丢弃（回调在注册表锁外触发，
// 同一用户的并发转移可能乱序到达），返回是否被采纳。
func (p *Presence) OnTransition(userID string, devices int, gen uint64) bool {
	now := time.Now()
	p.mu.Lock()
	if gen <= p.gens[userID] {
		p.mu.Unlock()
		return false
	}
	p.gens[userID] = gen
	rec, ok := p.records[userID]
	if !ok {
		rec = &models.PresenceRecord{UserID: userID}
		p.records[userID] = rec
	}
	wasOnline := rec.Devices > 0
	rec.Devices = devices
	rec.Online = devices > 0
	rec.UpdatedAt = now
	if devices == 0 {
		rec.LastSeen = now
	}
	online := rec.Online
	lastSeen := rec.LastSeen
	p.mu.Unlock()

	if online == wasOnline {
		return true
	}
	if p.mirror != nil {
		p.mirror(userID, online)
	}
	if p.broadcast != nil {
		payload := &PresencePayload{UserID: userID, Online: online, Devices: devices}
		if !online {
			payload.LastSeen = lastSeen.UnixMilli()
		}
		p.broadcast(userID, payload)
	}
	return true
}

// Get 查询用户的在线记录（未知用户视为离线、无最后在线时间）。
func (p *Presence) Get(userID string) models.PresenceRecord {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if rec, ok := p.records[userID]; ok {
		return *rec
	}
	return models.PresenceRecord{UserID: userID}
}

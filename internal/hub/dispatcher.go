package hub

import (
	"context"
	"log"
	"time"

	"go-msgsync/internal/metrics"
	"go-msgsync/internal/models"
	"go-msgsync/internal/mq"
)

// Dispatcher 扇出器：把事件解析为 成员 → 连接 并逐连接入队。
// - 解析永远基于持久成员关系，设备在线与否只影响这一刻有没有连接可投
// - Push 失败（队列满/已关闭）即拆除该连接，慢消费者不拖垮整个会话
// - Kafka 导出仅用于异步索引（用户会话摘要），不在实时投递路径上
type Dispatcher struct {
	registry   *Registry
	membership *Membership
	unread     *UnreadCounter
	exporter   *mq.DispatchExporter
}

func NewDispatcher(r *Registry, m *Membership, u *UnreadCounter, e *mq.DispatchExporter) *Dispatcher {
	return &Dispatcher{registry: r, membership: m, unread: u, exporter: e}
}

// pushOrDrop 入队一帧；失败时拆除连接并计数。
func (d *Dispatcher) pushOrDrop(c *Conn, frame []byte) {
	if err := c.Push(frame); err != nil {
		log.Printf("dispatch drop conn: conn=%s user=%s err=%v", c.ID, c.UserID, err)
		d.registry.Unregister(c)
		metrics.DroppedConnsTotal.Inc()
	}
}

// FanoutMessage 将已定序的消息投递给会话全体成员的全部连接。
// 发送者自己的其他设备同样收到（多端回显）；未读计数只对
// 非发送者成员推进，焦点在本会话的成员由计数器内部跳过。
func (d *Dispatcher) FanoutMessage(ctx context.Context, m *models.Message) {
	members, err := d.membership.MembersOf(ctx, m.ConvID)
	if err != nil {
		log.Printf("fanout members error: conv=%s seq=%d err=%v", m.ConvID, m.Seq, err)
		return
	}
	frame := encodeEvent(ActionMessageNew, messageNewPayload(m))
	for _, uid := range members {
		for _, c := range d.registry.ConnectionsOf(uid) {
			d.pushOrDrop(c, frame)
		}
		if uid != m.FromUserID && d.unread != nil {
			d.unread.OnDispatch(m.ConvID, uid)
		}
	}
	metrics.FanoutEventsTotal.WithLabelValues(ActionMessageNew).Inc()

	d.exporter.Export(&mq.DispatchedEvent{
		ConvID:      m.ConvID,
		ConvType:    string(m.ConvType),
		Seq:         m.Seq,
		From:        m.FromUserID,
		ServerMsgID: m.ServerMsgID,
		Timestamp:   m.Timestamp.UnixMilli(),
	})
}

// FanoutEvent 将非消息事件（typing/reaction/delivery/编辑/删除）
// 广播给会话全体成员。这些事件不进序列器，乱序由载荷自身语义吸收。
func (d *Dispatcher) FanoutEvent(ctx context.Context, convID, action string, data interface{}) {
	members, err := d.membership.MembersOf(ctx, convID)
	if err != nil {
		log.Printf("fanout members error: conv=%s action=%s err=%v", convID, action, err)
		return
	}
	frame := encodeEvent(action, data)
	for _, uid := range members {
		for _, c := range d.registry.ConnectionsOf(uid) {
			d.pushOrDrop(c, frame)
		}
	}
	metrics.FanoutEventsTotal.WithLabelValues(action).Inc()
}

// FanoutToUser 定向推送给某用户的全部连接（未读数等私有事件）。
func (d *Dispatcher) FanoutToUser(userID, action string, data interface{}) {
	frame := encodeEvent(action, data)
	for _, c := range d.registry.ConnectionsOf(userID) {
		d.pushOrDrop(c, frame)
	}
	metrics.FanoutEventsTotal.WithLabelValues(action).Inc()
}

// FanoutPresence 把某用户的上下线扩散给与其共享会话的成员（去重，
// 不含本人）。只扩散到已装载的会话，冷会话的成员重连后自会拉到快照。
func (d *Dispatcher) FanoutPresence(userID string, payload *PresencePayload) {
	seen := map[string]struct{}{userID: {}}
	frame := encodeEvent(ActionPresenceChanged, payload)
	for _, convID := range d.membership.ConversationsOf(userID) {
		members, err := d.membership.MembersOf(context.Background(), convID)
		if err != nil {
			continue
		}
		for _, uid := range members {
			if _, dup := seen[uid]; dup {
				continue
			}
			seen[uid] = struct{}{}
			for _, c := range d.registry.ConnectionsOf(uid) {
				d.pushOrDrop(c, frame)
			}
		}
	}
	metrics.FanoutEventsTotal.WithLabelValues(ActionPresenceChanged).Inc()
}

func nowMilli() int64 { return time.Now().UnixMilli() }

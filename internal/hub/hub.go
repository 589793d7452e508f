package hub

import (
	"context"
	"strings"
	"sync"
	"time"

	"go-msgsync/internal/metrics"
	"go-msgsync/internal/models"
	"go-msgsync/internal/mq"
	"go-msgsync/internal/store"

	"github.com/google/uuid"
)

// Options Hub 装配参数。Store/Loader/Sink/Exporter 均可为 nil，
// 对应能力退化为纯内存（测试与单机演示形态）。
type Options struct {
	Store          store.MessageStoreInterface
	Loader         ParticipantLoader
	Sink           ReceiptSink
	Exporter       *mq.DispatchExporter
	TypingTTL      time.Duration
	PersistTimeout time.Duration
	ConnSendBuffer int

	// PresenceMirror 在线状态镜像（Redis），可为 nil
	PresenceMirror func(userID string, online bool)
	// LastSeqMirror 序列水位镜像（Redis），可为 nil
	LastSeqMirror func(convID string, seq int64)
}

// Hub 实时同步核心的唯一对外门面：连接注册、成员索引、在线状态、
// 输入中协调、定序分发、回执状态机、反应聚合、未读计数在此装配。
// 传输层（WS/TCP）只与 Hub 对话，不触碰内部组件。
type Hub struct {
	Registry   *Registry
	Membership *Membership
	Presence   *Presence
	Typing     *TypingCoordinator
	Unread     *UnreadCounter
	Delivery   *DeliveryTracker
	Reactions  *ReactionAggregator
	Sequencer  *Sequencer
	Dispatcher *Dispatcher

	store         store.MessageStoreInterface
	lastSeqMirror func(convID string, seq int64)

	// 发送端幂等：(convId, clientMsgId) → 已定序消息。
	// 进程内去重为主，存储层唯一约束兜底。
	dedupMu sync.Mutex
	dedup   map[string]*models.Message
}

func NewHub(opt Options) *Hub {
	h := &Hub{
		Registry:      NewRegistry(opt.ConnSendBuffer),
		Membership:    NewMembership(opt.Loader),
		Presence:      NewPresence(),
		Typing:        NewTypingCoordinator(opt.TypingTTL),
		Unread:        NewUnreadCounter(),
		Delivery:      NewDeliveryTracker(opt.Sink),
		Reactions:     NewReactionAggregator(opt.Store),
		Sequencer:     NewSequencer(opt.Store, opt.PersistTimeout),
		store:         opt.Store,
		lastSeqMirror: opt.LastSeqMirror,
		dedup:         make(map[string]*models.Message),
	}
	h.Dispatcher = NewDispatcher(h.Registry, h.Membership, h.Unread, opt.Exporter)

	h.Registry.SetTransitionHook(func(userID string, devices int, gen uint64) {
		if !h.Presence.OnTransition(userID, devices, gen) {
			return
		}
		// 最后一条连接断开即失焦：离线用户不存在“正在查看”，
		// 否则断线期间的消息不会计入未读
		if devices == 0 {
			h.Unread.ClearFocus(userID)
		}
	})
	if opt.PresenceMirror != nil {
		h.Presence.SetMirrorHook(opt.PresenceMirror)
	}
	h.Presence.SetBroadcastHook(h.Dispatcher.FanoutPresence)
	h.Typing.SetBroadcastHook(func(convID, userID string, typing bool) {
		action := ActionTypingStart
		if !typing {
			action = ActionTypingStop
		}
		h.Dispatcher.FanoutEvent(context.Background(), convID, action, &TypingPayload{ConvID: convID, UserID: userID, TS: nowMilli()})
	})
	h.Unread.SetNotifyHook(func(userID, convID string, count int64) {
		h.Dispatcher.FanoutToUser(userID, ActionUnreadChanged, &UnreadPayload{ConvID: convID, Count: count})
	})
	h.Sequencer.SetDispatchHook(func(m *models.Message) {
		h.Dispatcher.FanoutMessage(context.Background(), m)
		if h.lastSeqMirror != nil {
			h.lastSeqMirror(m.ConvID, m.Seq)
		}
	})
	return h
}

// Connect 为已认证用户登记一条连接（WS/TCP 共用）。
func (h *Hub) Connect(userID string) *Conn { return h.Registry.Register(userID) }

// Disconnect 注销连接并清理其副作用（Presence 转移由注册表回调驱动）。
func (h *Hub) Disconnect(c *Conn) { h.Registry.Unregister(c) }

// SendRequest 发送参数（传输层上行 send 动作的解码结果）。
type SendRequest struct {
	ConvID      string
	ConvType    models.ConversationType
	ClientMsgID string
	Type        string
	Payload     []byte
	MediaRef    string
	ReplyToSeq  int64
}

func dedupKey(convID, clientMsgID string) string { return convID + "|" + clientMsgID }

// Submit 发送消息：成员校验 → 幂等去重 → 定序持久化 → 按序扇出。
// 重复的 clientMsgId 返回首次定序的消息且不再扇出。
// 发送成功隐式清除发送者在该会话的输入中状态。
func (h *Hub) Submit(ctx context.Context, fromUserID string, req *SendRequest) (*models.Message, error) {
	start := time.Now()
	ok, err := h.Membership.IsMember(ctx, req.ConvID, fromUserID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotParticipant
	}

	if req.ClientMsgID != "" {
		h.dedupMu.Lock()
		if m, dup := h.dedup[dedupKey(req.ConvID, req.ClientMsgID)]; dup {
			h.dedupMu.Unlock()
			return m, nil
		}
		h.dedupMu.Unlock()
	}

	m := &models.Message{
		ServerMsgID: uuid.NewString(),
		ClientMsgID: req.ClientMsgID,
		ConvID:      req.ConvID,
		ConvType:    req.ConvType,
		FromUserID:  fromUserID,
		Timestamp:   time.Now(),
		Type:        req.Type,
		Payload:     req.Payload,
		MediaRef:    req.MediaRef,
		ReplyToSeq:  req.ReplyToSeq,
	}
	if err := h.Sequencer.Submit(ctx, m); err != nil {
		return nil, err
	}

	if req.ClientMsgID != "" {
		h.dedupMu.Lock()
		h.dedup[dedupKey(req.ConvID, req.ClientMsgID)] = m
		h.dedupMu.Unlock()
	}
	h.Typing.ClearTyping(req.ConvID, fromUserID)
	metrics.MessageSendLatency.Observe(float64(time.Since(start).Milliseconds()))
	return m, nil
}

// EditMessage 编辑消息（仅发送者，软删除后不可编辑），广播 message.edited。
func (h *Hub) EditMessage(ctx context.Context, userID, convID string, seq int64, payload []byte) error {
	m, err := h.loadMessage(ctx, convID, seq)
	if err != nil {
		return err
	}
	if m.FromUserID != userID {
		return ErrNotSender
	}
	if m.Deleted {
		return ErrMessageNotFound
	}
	if err := h.store.MarkEdited(ctx, convID, seq, payload); err != nil {
		return err
	}
	h.Dispatcher.FanoutEvent(ctx, convID, ActionMessageEdited, &MessageMutationPayload{ConvID: convID, Seq: seq, Payload: payload})
	return nil
}

// DeleteMessage 软删除消息（仅发送者）：内容清空、记录保留、seq 不复用。
func (h *Hub) DeleteMessage(ctx context.Context, userID, convID string, seq int64) error {
	m, err := h.loadMessage(ctx, convID, seq)
	if err != nil {
		return err
	}
	if m.FromUserID != userID {
		return ErrNotSender
	}
	if err := h.store.SoftDelete(ctx, convID, seq); err != nil {
		return err
	}
	h.Dispatcher.FanoutEvent(ctx, convID, ActionMessageDeleted, &MessageMutationPayload{ConvID: convID, Seq: seq})
	return nil
}

func (h *Hub) loadMessage(ctx context.Context, convID string, seq int64) (*models.Message, error) {
	if h.store == nil {
		return nil, ErrMessageNotFound
	}
	m, err := h.store.GetBySeq(ctx, convID, seq)
	if err != nil || m == nil {
		return nil, ErrMessageNotFound
	}
	return m, nil
}

// React 添加/移除反应并广播增量。op 取 add / remove；
// 重复 add 仍回显增量（幂等不重复计数），remove 不存在的反应无广播。
func (h *Hub) React(ctx context.Context, userID, convID string, seq int64, emoji, op string) (*ReactionDelta, error) {
	ok, err := h.Membership.IsMember(ctx, convID, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotParticipant
	}
	var delta *ReactionDelta
	if strings.EqualFold(op, "remove") {
		delta, err = h.Reactions.Remove(ctx, convID, seq, userID, emoji)
	} else {
		delta, err = h.Reactions.Add(ctx, convID, seq, userID, emoji)
	}
	if err != nil {
		return nil, err
	}
	if delta != nil {
		h.Dispatcher.FanoutEvent(ctx, convID, ActionReactionDelta, delta)
	}
	return delta, nil
}

// MarkDelivered 确认送达到 seq（覆盖 ≤seq 的全部消息）。
// 水位未推进（重复/迟到/乱序确认）时不广播。
func (h *Hub) MarkDelivered(ctx context.Context, userID, convID string, seq int64) {
	if !h.Delivery.MarkDelivered(ctx, convID, userID, seq) {
		return
	}
	h.broadcastDeliveryState(ctx, convID, userID, seq, models.DeliveryDelivered)
}

// MarkRead 确认已读到 seq（同时抬升送达水位）。
func (h *Hub) MarkRead(ctx context.Context, userID, convID string, seq int64) {
	if !h.Delivery.MarkRead(ctx, convID, userID, seq) {
		return
	}
	h.broadcastDeliveryState(ctx, convID, userID, seq, models.DeliveryRead)
}

func (h *Hub) broadcastDeliveryState(ctx context.Context, convID, userID string, seq int64, st models.DeliveryState) {
	payload := &DeliveryStatePayload{ConvID: convID, Seq: seq, UserID: userID, State: st.String()}
	if members, err := h.Membership.MembersOf(ctx, convID); err == nil {
		if m, err := h.loadMessage(ctx, convID, seq); err == nil {
			payload.Aggregate = h.Delivery.Aggregate(ctx, convID, seq, members, m.FromUserID).String()
		}
	}
	h.Dispatcher.FanoutEvent(ctx, convID, ActionDeliveryState, payload)
}

// SetFocus 声明用户正在查看的会话（"" 失焦）；未读清零在计数器内原子完成。
func (h *Hub) SetFocus(userID, convID string) { h.Unread.OnFocus(userID, convID) }

// SetTyping/ClearTyping 输入中状态；转移广播由协调器回调驱动。
func (h *Hub) SetTyping(convID, userID string)   { h.Typing.SetTyping(convID, userID) }
func (h *Hub) ClearTyping(convID, userID string) { h.Typing.ClearTyping(convID, userID) }

// History 按 seq 游标增量拉取历史（成员校验后透传存储层）。
func (h *Hub) History(ctx context.Context, userID, convID string, fromSeq int64, limit int) ([]*models.Message, error) {
	ok, err := h.Membership.IsMember(ctx, convID, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotParticipant
	}
	if h.store == nil {
		return nil, nil
	}
	return h.store.List(ctx, convID, fromSeq, limit)
}

// JoinConversation/LeaveConversation 同步成员索引（API 层完成持久化后调用）。
func (h *Hub) JoinConversation(convID, userID string)  { h.Membership.Join(convID, userID) }
func (h *Hub) LeaveConversation(convID, userID string) { h.Membership.Leave(convID, userID) }

// PresenceOf 查询在线记录。
func (h *Hub) PresenceOf(userID string) models.PresenceRecord { return h.Presence.Get(userID) }

// UnreadOf 查询某 (用户, 会话) 未读数。
func (h *Hub) UnreadOf(userID, convID string) int64 { return h.Unread.Count(userID, convID) }

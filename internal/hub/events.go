package hub

import (
	"encoding/json"

	"go-msgsync/internal/models"
)

// 下行事件动作。message.new 携带会话内 seq，客户端以 (convId, seq) 去重；
// typing/presence/reaction 等事件不进序列器，相对消息无跨类型顺序保证。
const (
	ActionMessageNew      = "message.new"
	ActionReactionDelta   = "message.reaction_delta"
	ActionDeliveryState   = "message.delivery_state"
	ActionMessageEdited   = "message.edited"
	ActionMessageDeleted  = "message.deleted"
	ActionTypingStart     = "typing.start"
	ActionTypingStop      = "typing.stop"
	ActionPresenceChanged = "presence.changed"
	ActionUnreadChanged   = "unread.changed"
)

// Event 统一下行封装，与上行 WSMessage 对称。
type Event struct {
	Action string      `json:"action"`
	Data   interface{} `json:"data"`
}

func encodeEvent(action string, data interface{}) []byte {
	b, _ := json.Marshal(Event{Action: action, Data: data})
	return b
}

// MessageNewPayload 即投递给客户端的消息形态。
type MessageNewPayload struct {
	ServerMsgID string                  `json:"serverMsgId"`
	ClientMsgID string                  `json:"clientMsgId"`
	ConvID      string                  `json:"convId"`
	ConvType    models.ConversationType `json:"convType"`
	From        string                  `json:"from"`
	Seq         int64                   `json:"seq"`
	Timestamp   int64                   `json:"timestamp"`
	Type        string                  `json:"type"`
	Payload     json.RawMessage         `json:"payload"`
	MediaRef    string                  `json:"mediaRef,omitempty"`
	ReplyToSeq  int64                   `json:"replyToSeq,omitempty"`
}

func messageNewPayload(m *models.Message) *MessageNewPayload {
	return &MessageNewPayload{
		ServerMsgID: m.ServerMsgID,
		ClientMsgID: m.ClientMsgID,
		ConvID:      m.ConvID,
		ConvType:    m.ConvType,
		From:        m.FromUserID,
		Seq:         m.Seq,
		Timestamp:   m.Timestamp.UnixMilli(),
		Type:        m.Type,
		Payload:     json.RawMessage(m.Payload),
		MediaRef:    m.MediaRef,
		ReplyToSeq:  m.ReplyToSeq,
	}
}

// ReactionDelta 反应增量：只下发变化量，载荷大小与反应总数无关。
type ReactionDelta struct {
	ConvID string `json:"convId"`
	Seq    int64  `json:"seq"`
	Emoji  string `json:"emoji"`
	UserID string `json:"userId"`
	Op     string `json:"op"` // add / remove
	Count  int    `json:"count"`
}

// DeliveryStatePayload 投递状态事件；Aggregate 为会话级聚合（全体接收者的最小状态）。
type DeliveryStatePayload struct {
	ConvID    string `json:"convId"`
	Seq       int64  `json:"seq"`
	UserID    string `json:"userId"`
	State     string `json:"state"`
	Aggregate string `json:"aggregate,omitempty"`
}

// TypingPayload 输入中状态转移事件（仅转移，不随击键重复）。
type TypingPayload struct {
	ConvID string `json:"convId"`
	UserID string `json:"userId"`
	TS     int64  `json:"ts"`
}

// PresencePayload 在线状态变化。
type PresencePayload struct {
	UserID   string `json:"userId"`
	Online   bool   `json:"online"`
	Devices  int    `json:"devices"`
	LastSeen int64  `json:"lastSeen,omitempty"`
}

// UnreadPayload 未读数变化，推给计数归属用户本人的全部连接。
type UnreadPayload struct {
	ConvID string `json:"convId"`
	Count  int64  `json:"count"`
}

// MessageMutationPayload 编辑/删除事件。
type MessageMutationPayload struct {
	ConvID  string          `json:"convId"`
	Seq     int64           `json:"seq"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

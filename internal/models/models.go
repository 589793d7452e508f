package models

import "time"

// User/Conversation/Message/Receipt 为核心领域模型。
// Message 的 Seq 由会话内单写者序列器分配，严格递增且不复用；
// 消息永不物理删除（软删除后清空内容），Reactions 为 emoji → 用户集合。

type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Password  string    `json:"-"`
	Nickname  string    `json:"nickname"`
	AvatarURL string    `json:"avatarUrl"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type ConversationType string

const (
	ConversationTypeDirect ConversationType = "direct"
	ConversationTypeGroup  ConversationType = "group"
)

// Conversation 会话：参与者集合 + 会话内序列水位。
// NextSeq 仅由序列器在单写者锁内推进，存储层只做持久化。
type Conversation struct {
	ID        string           `json:"id"`
	Type      ConversationType `json:"type"`
	Name      string           `json:"name,omitempty"`
	CreatedBy string           `json:"createdBy"`
	NextSeq   int64            `json:"nextSeq"`
	CreatedAt time.Time        `json:"createdAt"`
	UpdatedAt time.Time        `json:"updatedAt"`
}

// 消息投递状态（按消息×接收者维度，只进不退）
type DeliveryState int

const (
	DeliverySent DeliveryState = iota
	DeliveryDelivered
	DeliveryRead
)

func (s DeliveryState) String() string {
	switch s {
	case DeliveryDelivered:
		return "delivered"
	case DeliveryRead:
		return "read"
	default:
		return "sent"
	}
}

// Message 表示会话中的一条消息。
// - (ConvID, Seq) 即全局消息标识，客户端以此去重
// - ClientMsgID 为发送端幂等键，与 ConvID 构成唯一约束
// - Deleted 为软删除：内容清空、记录保留，Seq 连续性不被破坏
type Message struct {
	ServerMsgID string           `json:"serverMsgId"`
	ClientMsgID string           `json:"clientMsgId"`
	ConvID      string           `json:"convId"`
	ConvType    ConversationType `json:"convType"`
	FromUserID  string           `json:"fromUserId"`
	Seq         int64            `json:"seq"`
	Timestamp   time.Time        `json:"timestamp"`
	Type        string           `json:"type"`
	Payload     []byte           `json:"payload"`
	MediaRef    string           `json:"mediaRef,omitempty"`
	ReplyToSeq  int64            `json:"replyToSeq,omitempty"`
	Edited      bool             `json:"edited"`
	Deleted     bool             `json:"deleted"`
	// emoji → 已反应用户集合（持久化形态；实时侧只下发增量）
	Reactions map[string][]string `json:"reactions,omitempty"`
}

// Receipt 持久化的回执水位：用户在会话内确认到的 seq。
// delivered/read 各自单调不减，read 可直接越过 delivered。
type Receipt struct {
	UserID       string `json:"userId"`
	ConvID       string `json:"convId"`
	DeliveredSeq int64  `json:"deliveredSeq"`
	ReadSeq      int64  `json:"readSeq"`
	UpdatedAt    int64  `json:"updatedAt"`
}

// PresenceRecord 由连接注册表推导：在线连接数 + 最后在线时间。
type PresenceRecord struct {
	UserID    string    `json:"userId"`
	Online    bool      `json:"online"`
	Devices   int       `json:"devices"`
	LastSeen  time.Time `json:"lastSeen"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// 消息类型常量
const (
	MessageTypeText  = "text"
	MessageTypeImage = "image"
	MessageTypeVoice = "voice"
	MessageTypeVideo = "video"
	MessageTypeFile  = "file"
)

// 文本消息载荷
type TextPayload struct {
	Text string `json:"text"`
}

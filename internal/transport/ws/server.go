// Package ws 提供 WebSocket 接入网关：处理认证、连接生命周期、
// 上行动作（发送/回执/输入中/反应/焦点等）与下行写出。
// 下行帧一律经由连接的出站队列（含 ack/error 回执），由唯一写循环
// 顺序写出，避免 gorilla/websocket 并发写冲突，同时保住投递顺序。
package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"go-msgsync/internal/auth"
	"go-msgsync/internal/cache"
	"go-msgsync/internal/hub"
	"go-msgsync/internal/metrics"
	"go-msgsync/internal/models"
	"go-msgsync/internal/ratelimit"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// Server 是 WebSocket 网关服务。
// - 所有领域操作委托给 Hub，网关只做解码、限流与回执
// - 基于 Redis 令牌桶对上行发送做速率限制，防止滥用
type Server struct {
	JWTSecret string
	Hub       *hub.Hub

	// 速率限制参数
	SendQPS   int
	SendBurst int
	Limiter   *ratelimit.TokenBucketLimiter
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WSMessage 统一封装上行的动作与数据载荷。
// action 示例：send、typing、mark_delivered、mark_read、set_focus、react、edit、delete
type WSMessage struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data"`
}

// SendPayload 客户端发送消息时的载荷。
type SendPayload struct {
	ConvID     string          `json:"convId"`
	ConvType   string          `json:"convType"`
	ClientID   string          `json:"clientMsgId"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	MediaRef   string          `json:"mediaRef,omitempty"`
	ReplyToSeq int64           `json:"replyToSeq,omitempty"`
}

// TypingPayload 输入中信令（typing=false 为显式停止）。
type TypingPayload struct {
	ConvID string `json:"convId"`
	Typing bool   `json:"typing"`
}

// ReceiptPayload 回执水位确认：覆盖会话内 ≤seq 的全部消息。
type ReceiptPayload struct {
	ConvID string `json:"convId"`
	Seq    int64  `json:"seq"`
}

// FocusPayload 声明当前查看的会话（convId 为空表示失焦）。
type FocusPayload struct {
	ConvID string `json:"convId"`
}

// ReactPayload 反应操作，op 取 add / remove。
type ReactPayload struct {
	ConvID string `json:"convId"`
	Seq    int64  `json:"seq"`
	Emoji  string `json:"emoji"`
	Op     string `json:"op"`
}

// MutatePayload 编辑/删除消息；编辑时 payload 为新内容。
type MutatePayload struct {
	ConvID  string          `json:"convId"`
	Seq     int64           `json:"seq"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Handle 处理 HTTP 升级为 WebSocket，以及该连接的读/写循环。
// - 认证：支持 URL 查询参数或 Authorization: Bearer 传递 JWT
// - 上线/下线：连接注册表驱动 Presence，Redis 仅作跨进程镜像
// - 下行：唯一写循环消费出站队列，Done 触发（被分发器拆除）即收尾
func (s *Server) Handle(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		authHeader := c.GetHeader("Authorization")
		if strings.HasPrefix(authHeader, "Bearer ") {
			token = strings.TrimPrefix(authHeader, "Bearer ")
		}
	}
	claims, err := auth.ParseJWT(s.JWTSecret, token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	userID := claims.UserID

	hc := s.Hub.Connect(userID)
	log.Printf("WS connected: user=%s conn=%s", userID, hc.ID)
	_ = cache.SetDeviceOnline(c.Request.Context(), userID, hc.ID)
	defer func() {
		s.Hub.Disconnect(hc)
		_ = cache.SetDeviceOffline(context.Background(), userID, hc.ID)
		log.Printf("WS disconnected: user=%s conn=%s", userID, hc.ID)
	}()

	// 读循环：处理客户端上行动作
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			msgType, data, err := conn.ReadMessage()
			if err != nil {
				log.Printf("WS read error: user=%s err=%v", userID, err)
				return
			}
			if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
				continue
			}
			var m WSMessage
			if err := json.Unmarshal(data, &m); err != nil {
				log.Printf("WS unmarshal error: user=%s err=%v data=%q", userID, err, string(data))
				continue
			}
			metrics.WSMessagesTotal.WithLabelValues(m.Action).Inc()
			s.handleInbound(context.Background(), userID, hc, &m)
		}
	}()

	// 写循环：顺序写出出站队列
	for {
		select {
		case frame := <-hc.Outbound():
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				log.Printf("WS write error: user=%s err=%v", userID, err)
				return
			}
		case <-hc.Done():
			return
		case <-readDone:
			return
		}
	}
}

// reply 将 ack/error 回执入队（与广播帧共用出站队列，保持写出顺序）。
func (s *Server) reply(hc *hub.Conn, action string, data interface{}) {
	b, _ := json.Marshal(gin.H{"action": action, "data": data})
	_ = hc.Push(b)
}

func (s *Server) replyError(hc *hub.Conn, code, message string) {
	s.reply(hc, "error", gin.H{"code": code, "message": message})
}

// rateLimitAllow 使用 Redis 令牌桶对用户+连接维度的发送做限速。
// 出错时放行：限流失效不应阻断消息收发。
func (s *Server) rateLimitAllow(ctx context.Context, userID, connID string) bool {
	qps := s.SendQPS
	burst := s.SendBurst
	if qps <= 0 {
		qps = 20
	}
	if burst <= 0 {
		burst = 40
	}
	if s.Limiter == nil {
		return true
	}
	allowed, _, _ := s.Limiter.Allow(ctx, "imsync:tb:ws:send:"+userID+":"+connID, qps, burst)
	return allowed
}

func errCode(err error) string {
	switch err {
	case hub.ErrNotParticipant:
		return "NOT_PARTICIPANT"
	case hub.ErrMessageNotFound:
		return "MESSAGE_NOT_FOUND"
	case hub.ErrNotSender:
		return "NOT_SENDER"
	default:
		return "SEND_FAILED"
	}
}

// handleInbound 处理上行动作，入口统一在这里分发：
// - send：限流 → Hub.Submit（校验/定序/扇出）→ 返回 ack
// - mark_delivered / mark_read：推进回执水位（重复确认静默）
// - typing / set_focus / react / edit / delete：委托对应 Hub 操作
func (s *Server) handleInbound(ctx context.Context, userID string, hc *hub.Conn, m *WSMessage) {
	switch m.Action {
	case "send":
		if !s.rateLimitAllow(ctx, userID, hc.ID) {
			s.replyError(hc, "RATE_LIMIT", "too many messages")
			log.Printf("WS send blocked by rate limit: user=%s conn=%s", userID, hc.ID)
			return
		}
		var p SendPayload
		if err := json.Unmarshal(m.Data, &p); err != nil {
			log.Printf("WS send payload unmarshal error: user=%s err=%v", userID, err)
			return
		}
		msg, err := s.Hub.Submit(ctx, userID, &hub.SendRequest{
			ConvID:      p.ConvID,
			ConvType:    models.ConversationType(p.ConvType),
			ClientMsgID: p.ClientID,
			Type:        p.Type,
			Payload:     p.Payload,
			MediaRef:    p.MediaRef,
			ReplyToSeq:  p.ReplyToSeq,
		})
		if err != nil {
			s.replyError(hc, errCode(err), err.Error())
			log.Printf("WS send failed: user=%s convId=%s err=%v", userID, p.ConvID, err)
			return
		}
		s.reply(hc, "ack", gin.H{
			"convId":      msg.ConvID,
			"clientMsgId": msg.ClientMsgID,
			"serverMsgId": msg.ServerMsgID,
			"seq":         msg.Seq,
			"timestamp":   msg.Timestamp.UnixMilli(),
		})
	case "typing":
		var p TypingPayload
		if err := json.Unmarshal(m.Data, &p); err != nil {
			return
		}
		ok, err := s.Hub.Membership.IsMember(ctx, p.ConvID, userID)
		if err != nil || !ok {
			return
		}
		if p.Typing {
			s.Hub.SetTyping(p.ConvID, userID)
		} else {
			s.Hub.ClearTyping(p.ConvID, userID)
		}
	case "mark_delivered":
		var p ReceiptPayload
		if err := json.Unmarshal(m.Data, &p); err != nil {
			return
		}
		s.Hub.MarkDelivered(ctx, userID, p.ConvID, p.Seq)
	case "mark_read":
		var p ReceiptPayload
		if err := json.Unmarshal(m.Data, &p); err != nil {
			return
		}
		s.Hub.MarkRead(ctx, userID, p.ConvID, p.Seq)
		s.reply(hc, "read_ack", p)
	case "set_focus":
		var p FocusPayload
		if err := json.Unmarshal(m.Data, &p); err != nil {
			return
		}
		s.Hub.SetFocus(userID, p.ConvID)
	case "react":
		var p ReactPayload
		if err := json.Unmarshal(m.Data, &p); err != nil {
			return
		}
		delta, err := s.Hub.React(ctx, userID, p.ConvID, p.Seq, p.Emoji, p.Op)
		if err != nil {
			s.replyError(hc, errCode(err), err.Error())
			return
		}
		if delta == nil {
			// remove 不存在的反应：静默 no-op
			return
		}
	case "edit":
		var p MutatePayload
		if err := json.Unmarshal(m.Data, &p); err != nil {
			return
		}
		if err := s.Hub.EditMessage(ctx, userID, p.ConvID, p.Seq, p.Payload); err != nil {
			s.replyError(hc, errCode(err), err.Error())
		}
	case "delete":
		var p MutatePayload
		if err := json.Unmarshal(m.Data, &p); err != nil {
			return
		}
		if err := s.Hub.DeleteMessage(ctx, userID, p.ConvID, p.Seq); err != nil {
			s.replyError(hc, errCode(err), err.Error())
		}
	default:
		log.Printf("WS unknown action: user=%s action=%s", userID, m.Action)
	}
}

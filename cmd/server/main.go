package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strconv"
	"time"

	"go-msgsync/internal/auth"
	"go-msgsync/internal/cache"
	"go-msgsync/internal/config"
	"go-msgsync/internal/hub"
	"go-msgsync/internal/metrics"
	"go-msgsync/internal/models"
	"go-msgsync/internal/mq"
	"go-msgsync/internal/ratelimit"
	"go-msgsync/internal/store"
	"go-msgsync/internal/store/mongostore"
	"go-msgsync/internal/store/sqlstore"
	"go-msgsync/internal/transport/tcp"
	"go-msgsync/internal/transport/ws"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/crypto/bcrypt"
)

// 解析查询参数为整数
func parseIntQuery(c *gin.Context, key string, defaultValue int) int {
	value, _ := strconv.Atoi(c.DefaultQuery(key, strconv.Itoa(defaultValue)))
	return value
}

func main() {
	cfg := config.Load()

	cache.InitRedis(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
	if cfg.EnableMetrics {
		metrics.Init()
	}

	primaryDB := mustOpen(cfg.MySQLDSN)

	// 根据配置选择消息存储：mysql 或 mongodb
	var msgStore store.MessageStoreInterface
	switch cfg.MessageDB {
	case "mongodb":
		mongoDB, err := mongostore.Connect(cfg.MongoURI)
		if err != nil {
			panic(fmt.Sprintf("MongoDB connection failed: %v", err))
		}
		msgStore = store.NewMongoMessageStore(mongoDB)
	default: // mysql
		msgStore = store.NewMessageStore(primaryDB)
	}

	userStore := store.NewUserStore(primaryDB)
	convStore := store.NewConversationStore(primaryDB)
	receiptStore := store.NewReceiptStore(primaryDB)

	var exporter *mq.DispatchExporter
	if cfg.KafkaBrokers != "" {
		e, err := mq.NewDispatchExporter(cfg.KafkaBrokers, cfg.KafkaMessageTopic)
		if err != nil {
			log.Printf("dispatch exporter init failed: err=%v", err)
		} else {
			exporter = e
			defer exporter.Close()
		}
	}

	h := hub.NewHub(hub.Options{
		Store:          msgStore,
		Loader:         convStore,
		Sink:           receiptStore,
		Exporter:       exporter,
		TypingTTL:      time.Duration(cfg.TypingTTLMS) * time.Millisecond,
		PersistTimeout: time.Duration(cfg.PersistTimeoutMS) * time.Millisecond,
		ConnSendBuffer: cfg.ConnSendBuffer,
		// Redis 在线镜像由 WS/TCP 接入层按连接粒度维护（SetDeviceOnline/Offline）
		LastSeqMirror: func(convID string, seq int64) {
			cache.CacheLastSeq(context.Background(), convID, seq)
		},
	})

	r := gin.Default()
	// 健康/指标
	r.GET("/healthz", func(c *gin.Context) { c.String(200, "ok") })
	if cfg.EnableMetrics {
		r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	// 注册
	r.POST("/api/register", func(c *gin.Context) {
		var req struct{ Username, Password, Nickname string }
		if err := c.BindJSON(&req); err != nil {
			c.JSON(400, gin.H{"error": err.Error()})
			return
		}
		hpw, _ := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		u := &models.User{ID: uuid.NewString(), Username: req.Username, Password: string(hpw), Nickname: req.Nickname}
		if err := userStore.CreateUser(c, u); err != nil {
			c.JSON(500, gin.H{"error": err.Error()})
			return
		}
		c.JSON(200, gin.H{"id": u.ID})
	})
	// 登录
	r.POST("/api/login", func(c *gin.Context) {
		var req struct{ Username, Password string }
		if err := c.BindJSON(&req); err != nil {
			c.JSON(400, gin.H{"error": err.Error()})
			return
		}
		u, err := userStore.GetByUsername(c, req.Username)
		if err != nil || u == nil || bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(req.Password)) != nil {
			c.JSON(401, gin.H{"error": "invalid credentials"})
			return
		}
		tok, _ := auth.SignJWT(cfg.JWTSecret, u.ID, 7*24*time.Hour)
		c.JSON(200, gin.H{"token": tok, "userId": u.ID})
	})

	// 简易认证
	authn := func(c *gin.Context) (string, bool) {
		tok := c.GetHeader("Authorization")
		if len(tok) > 7 && tok[:7] == "Bearer " {
			tok = tok[7:]
		}
		cl, err := auth.ParseJWT(cfg.JWTSecret, tok)
		if err != nil {
			c.JSON(401, gin.H{"error": "unauthorized"})
			return "", false
		}
		return cl.UserID, true
	}

	// 用户资料
	r.PUT("/api/users/me", func(c *gin.Context) {
		uid, ok := authn(c)
		if !ok {
			return
		}
		var req struct{ Nickname, AvatarURL string }
		if err := c.BindJSON(&req); err != nil {
			c.JSON(400, gin.H{"error": err.Error()})
			return
		}
		u := &models.User{ID: uid, Nickname: req.Nickname, AvatarURL: req.AvatarURL}
		if err := userStore.UpdateUser(c, u); err != nil {
			c.JSON(500, gin.H{"error": err.Error()})
			return
		}
		c.Status(204)
	})

	// 创建会话：单聊用确定性 ID（同一对用户幂等），群聊随机 ID
	r.POST("/api/conversations", func(c *gin.Context) {
		uid, ok := authn(c)
		if !ok {
			return
		}
		var req struct {
			Type    string   `json:"type"`
			Name    string   `json:"name"`
			PeerID  string   `json:"peerId"`
			Members []string `json:"members"`
		}
		if err := c.BindJSON(&req); err != nil {
			c.JSON(400, gin.H{"error": err.Error()})
			return
		}
		conv := &models.Conversation{Type: models.ConversationType(req.Type), Name: req.Name, CreatedBy: uid}
		var members []string
		switch conv.Type {
		case models.ConversationTypeDirect:
			if req.PeerID == "" || req.PeerID == uid {
				c.JSON(400, gin.H{"error": "peerId required"})
				return
			}
			conv.ID = store.DirectConvID(uid, req.PeerID)
			members = []string{uid, req.PeerID}
		case models.ConversationTypeGroup:
			conv.ID = "conv_group_" + uuid.NewString()
			members = append([]string{uid}, req.Members...)
		default:
			c.JSON(400, gin.H{"error": "unknown conversation type"})
			return
		}
		if err := convStore.CreateConversation(c, conv); err != nil {
			c.JSON(500, gin.H{"error": err.Error()})
			return
		}
		for _, m := range members {
			if err := convStore.AddParticipant(c, conv.ID, m); err != nil {
				c.JSON(500, gin.H{"error": err.Error()})
				return
			}
			h.JoinConversation(conv.ID, m)
		}
		c.JSON(200, gin.H{"convId": conv.ID})
	})
	// 加入会话
	r.POST("/api/conversations/:id/join", func(c *gin.Context) {
		uid, ok := authn(c)
		if !ok {
			return
		}
		cid := c.Param("id")
		conv, err := convStore.GetConversation(c, cid)
		if err != nil {
			c.JSON(500, gin.H{"error": err.Error()})
			return
		}
		if conv == nil || conv.Type != models.ConversationTypeGroup {
			c.JSON(404, gin.H{"error": "unknown conversation"})
			return
		}
		if err := convStore.AddParticipant(c, cid, uid); err != nil {
			c.JSON(500, gin.H{"error": err.Error()})
			return
		}
		h.JoinConversation(cid, uid)
		c.Status(204)
	})
	// 退出会话
	r.POST("/api/conversations/:id/leave", func(c *gin.Context) {
		uid, ok := authn(c)
		if !ok {
			return
		}
		cid := c.Param("id")
		if err := convStore.RemoveParticipant(c, cid, uid); err != nil {
			c.JSON(500, gin.H{"error": err.Error()})
			return
		}
		h.LeaveConversation(cid, uid)
		c.Status(204)
	})
	// 会话列表（由索引消费者异步维护的 user_conversations）
	r.GET("/api/conversations", func(c *gin.Context) {
		uid, ok := authn(c)
		if !ok {
			return
		}
		limit := parseIntQuery(c, "limit", 50)
		list, err := convStore.ListUserConversations(c, uid, limit)
		if err != nil {
			c.JSON(500, gin.H{"error": err.Error()})
			return
		}
		c.JSON(200, gin.H{"conversations": list})
	})

	// 历史消息（seq 游标增量拉取，软删除消息以内容清空形态返回）
	history := func(c *gin.Context, uid, convID string) {
		var fromSeq int64
		if v := c.Query("fromSeq"); v != "" {
			_, _ = fmt.Sscan(v, &fromSeq)
		}
		limit := parseIntQuery(c, "limit", 50)
		msgs, err := h.History(c, uid, convID, fromSeq, limit)
		if err != nil {
			if err == hub.ErrNotParticipant {
				c.JSON(403, gin.H{"error": err.Error()})
				return
			}
			c.JSON(500, gin.H{"error": err.Error()})
			return
		}
		c.JSON(200, gin.H{"messages": msgs})
	}
	r.GET("/api/conversations/:id/messages", func(c *gin.Context) {
		uid, ok := authn(c)
		if !ok {
			return
		}
		history(c, uid, c.Param("id"))
	})
	r.GET("/api/messages/history", func(c *gin.Context) {
		uid, ok := authn(c)
		if !ok {
			return
		}
		history(c, uid, c.Query("convId"))
	})

	// 未读摘要：冷路径按 last_seq - read_seq 推导，热路径由 WS 事件增量维护
	r.GET("/api/unread/summary", func(c *gin.Context) {
		uid, ok := authn(c)
		if !ok {
			return
		}
		list, err := convStore.ListUserConversations(c, uid, 200)
		if err != nil {
			c.JSON(500, gin.H{"error": err.Error()})
			return
		}
		var total int64
		items := make([]gin.H, 0, len(list))
		for _, it := range list {
			convID, _ := it["convId"].(string)
			lastSeq, _ := it["lastSeq"].(int64)
			rec, err := receiptStore.GetReceipt(c, uid, convID)
			if err != nil {
				continue
			}
			unread := lastSeq - rec.ReadSeq
			if unread < 0 {
				unread = 0
			}
			total += unread
			items = append(items, gin.H{"convId": convID, "unread": unread})
		}
		c.JSON(200, gin.H{"totalUnread": total, "items": items})
	})

	// 在线状态查询（注册表推导的权威记录）
	r.GET("/api/presence/:uid", func(c *gin.Context) {
		_, ok := authn(c)
		if !ok {
			return
		}
		rec := h.PresenceOf(c.Param("uid"))
		resp := gin.H{"userId": rec.UserID, "online": rec.Online, "devices": rec.Devices}
		if !rec.Online && !rec.LastSeen.IsZero() {
			resp["lastSeen"] = rec.LastSeen.UnixMilli()
		}
		c.JSON(200, resp)
	})

	// WebSocket 网关
	limiter := ratelimit.NewTokenBucketLimiter(cache.Client())
	wsServer := &ws.Server{JWTSecret: cfg.JWTSecret, Hub: h, SendQPS: cfg.WSSendQPS, SendBurst: cfg.WSSendBurst, Limiter: limiter}
	r.GET("/ws", wsServer.Handle)

	// TCP 事件流（可选）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go (&tcp.Server{Addr: cfg.TCPAddr, JWTSecret: cfg.JWTSecret, Hub: h}).Start(ctx)

	_ = r.Run(cfg.ListenAddr)
}

func mustOpen(dsn string) *sql.DB {
	db, err := sqlstore.Open(dsn)
	if err != nil {
		panic(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_ = db.PingContext(ctx)
	return db
}

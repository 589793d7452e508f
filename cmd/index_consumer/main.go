package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go-msgsync/internal/config"
	"go-msgsync/internal/mq"
	"go-msgsync/internal/store"
	"go-msgsync/internal/store/sqlstore"

	"github.com/IBM/sarama"
)

// handler 消费服务端导出的分发摘要（mq.DispatchedEvent），
// 按会话参与者更新 user_conversations 索引。
type handler struct {
	ctx       context.Context
	convStore *store.ConversationStore
}

func (h *handler) Setup(_ sarama.ConsumerGroupSession) error   { return nil }
func (h *handler) Cleanup(_ sarama.ConsumerGroupSession) error { return nil }
func (h *handler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		var evt mq.DispatchedEvent
		if err := json.Unmarshal(msg.Value, &evt); err == nil && evt.ConvID != "" {
			ids, err := h.convStore.LoadParticipants(h.ctx, evt.ConvID)
			if err != nil {
				log.Printf("load participants error: conv=%s err=%v", evt.ConvID, err)
			}
			// last_seq 在 SQL 侧单调合并，乱序/重复消费无害
			for _, uid := range ids {
				_ = h.convStore.UpsertUserConversation(h.ctx, uid, evt.ConvID, evt.ConvType, evt.Seq)
			}
		}
		sess.MarkMessage(msg, "")
	}
	return nil
}

func main() {
	cfg := config.Load()
	if cfg.KafkaBrokers == "" {
		log.Fatal("IMSYNC_KAFKA_BROKERS 未配置")
	}

	primaryDB := mustOpen(cfg.MySQLDSN)
	convStore := store.NewConversationStore(primaryDB)

	ctx, cancel := context.WithCancel(context.Background())
	h := &handler{ctx: ctx, convStore: convStore}

	client, err := sarama.NewConsumerGroup(strings.Split(cfg.KafkaBrokers, ","), "msgsync-index-consumer", sarama.NewConfig())
	if err != nil {
		log.Fatal(err)
	}
	defer client.Close()

	topic := cfg.KafkaMessageTopic
	go func() {
		for {
			if err := client.Consume(ctx, []string{topic}, h); err != nil {
				log.Printf("consume error: %v", err)
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	cancel()
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

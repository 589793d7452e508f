package store

import (
	"testing"
	"time"

	"go-msgsync/internal/models"

	"go.mongodb.org/mongo-driver/bson"
)

func TestMongoDocClientMsgIDOptional(t *testing.T) {
	base := models.Message{
		ServerMsgID: "srv-1",
		ConvID:      "c1",
		ConvType:    models.ConversationTypeGroup,
		FromUserID:  "alice",
		Seq:         1,
		Timestamp:   time.Now(),
		Type:        models.MessageTypeText,
		Payload:     []byte(`{"text":"hi"}`),
	}

	// 未带 client_msg_id 的消息不落该字段：幂等索引只覆盖带字段的文档，
	// 同会话多条无 client_msg_id 的消息不得在唯一键上相撞
	raw, err := bson.Marshal(toMongo(&base))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var doc bson.M
	if err := bson.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, present := doc["client_msg_id"]; present {
		t.Fatal("empty client_msg_id must be omitted from the document")
	}

	withID := base
	withID.ClientMsgID = "client-1"
	raw, err = bson.Marshal(toMongo(&withID))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	doc = bson.M{}
	if err := bson.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got, _ := doc["client_msg_id"].(string); got != "client-1" {
		t.Fatalf("client_msg_id not stored: %v", doc["client_msg_id"])
	}

	// 读回路径：缺字段的文档映射回空串
	var d mongoMessage
	rawEmpty, _ := bson.Marshal(toMongo(&base))
	if err := bson.Unmarshal(rawEmpty, &d); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m := fromMongo(&d); m.ClientMsgID != "" {
		t.Fatalf("expected empty clientMsgId, got %q", m.ClientMsgID)
	}
}

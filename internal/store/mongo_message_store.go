package store

import (
	"context"
	"time"

	"go-msgsync/internal/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoMessageStore 基于 MongoDB 的消息存储实现。
// - (conv_id, seq) 唯一索引保证序列不复用
// - (conv_id, client_msg_id) 唯一幂等索引只覆盖带 client_msg_id 的文档：
//   客户端可不带该字段发送，空值不落档、不参与索引，不会互相撞键
// - 序列水位不单独建档：恢复时取会话内最大 seq，写失败自然不留痕
type MongoMessageStore struct {
	DB *mongo.Database
}

func NewMongoMessageStore(db *mongo.Database) *MongoMessageStore {
	ms := &MongoMessageStore{DB: db}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _ = ms.collection().Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "conv_id", Value: 1}, {Key: "seq", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("uniq_conv_seq"),
		},
		{
			Keys: bson.D{{Key: "conv_id", Value: 1}, {Key: "client_msg_id", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("uniq_conv_client").
				SetPartialFilterExpression(bson.D{{Key: "client_msg_id", Value: bson.D{{Key: "$exists", Value: true}}}}),
		},
	})
	return ms
}

// mongoMessage 为存储层内部结构，与 models.Message 字段一一映射。
type mongoMessage struct {
	ID          primitive.ObjectID  `bson:"_id,omitempty"`
	ServerMsgID string              `bson:"server_msg_id"`
	ClientMsgID string              `bson:"client_msg_id,omitempty"`
	ConvID      string              `bson:"conv_id"`
	ConvType    string              `bson:"conv_type"`
	FromUserID  string              `bson:"from_user_id"`
	Seq         int64               `bson:"seq"`
	Timestamp   time.Time           `bson:"timestamp"`
	Type        string              `bson:"type"`
	Payload     []byte              `bson:"payload"`
	MediaRef    string              `bson:"media_ref,omitempty"`
	ReplyToSeq  int64               `bson:"reply_to_seq,omitempty"`
	Edited      bool                `bson:"edited"`
	Deleted     bool                `bson:"deleted"`
	Reactions   map[string][]string `bson:"reactions,omitempty"`
}

func (s *MongoMessageStore) collection() *mongo.Collection {
	return s.DB.Collection("messages")
}

func toMongo(m *models.Message) *mongoMessage {
	return &mongoMessage{
		ServerMsgID: m.ServerMsgID,
		ClientMsgID: m.ClientMsgID,
		ConvID:      m.ConvID,
		ConvType:    string(m.ConvType),
		FromUserID:  m.FromUserID,
		Seq:         m.Seq,
		Timestamp:   m.Timestamp,
		Type:        m.Type,
		Payload:     m.Payload,
		MediaRef:    m.MediaRef,
		ReplyToSeq:  m.ReplyToSeq,
		Edited:      m.Edited,
		Deleted:     m.Deleted,
		Reactions:   m.Reactions,
	}
}

func fromMongo(d *mongoMessage) *models.Message {
	return &models.Message{
		ServerMsgID: d.ServerMsgID,
		ClientMsgID: d.ClientMsgID,
		ConvID:      d.ConvID,
		ConvType:    models.ConversationType(d.ConvType),
		FromUserID:  d.FromUserID,
		Seq:         d.Seq,
		Timestamp:   d.Timestamp,
		Type:        d.Type,
		Payload:     d.Payload,
		MediaRef:    d.MediaRef,
		ReplyToSeq:  d.ReplyToSeq,
		Edited:      d.Edited,
		Deleted:     d.Deleted,
		Reactions:   d.Reactions,
	}
}

// Append 写入消息；唯一索引冲突直接返回错误，由序列器回退序列。
func (s *MongoMessageStore) Append(ctx context.Context, m *models.Message) error {
	_, err := s.collection().InsertOne(ctx, toMongo(m))
	return err
}

// NextSeq 取会话内已持久化的最大 seq 作为序列水位。
func (s *MongoMessageStore) NextSeq(ctx context.Context, convID string) (int64, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "seq", Value: -1}})
	var d mongoMessage
	err := s.collection().FindOne(ctx, bson.M{"conv_id": convID}, opts).Decode(&d)
	if err == mongo.ErrNoDocuments {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return d.Seq, nil
}

// GetBySeq 查询会话内指定 seq 的消息。
func (s *MongoMessageStore) GetBySeq(ctx context.Context, convID string, seq int64) (*models.Message, error) {
	var d mongoMessage
	err := s.collection().FindOne(ctx, bson.M{"conv_id": convID, "seq": seq}).Decode(&d)
	if err != nil {
		return nil, err
	}
	return fromMongo(&d), nil
}

// List 按 seq 游标增量拉取历史。
func (s *MongoMessageStore) List(ctx context.Context, convID string, fromSeq int64, limit int) ([]*models.Message, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	opts := options.Find().SetSort(bson.D{{Key: "seq", Value: 1}}).SetLimit(int64(limit))
	cur, err := s.collection().Find(ctx, bson.M{"conv_id": convID, "seq": bson.M{"$gt": fromSeq}}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var res []*models.Message
	for cur.Next(ctx) {
		var d mongoMessage
		if err := cur.Decode(&d); err != nil {
			return nil, err
		}
		res = append(res, fromMongo(&d))
	}
	return res, cur.Err()
}

// MarkEdited 更新内容并置编辑标记。
func (s *MongoMessageStore) MarkEdited(ctx context.Context, convID string, seq int64, payload []byte) error {
	_, err := s.collection().UpdateOne(ctx,
		bson.M{"conv_id": convID, "seq": seq, "deleted": false},
		bson.M{"$set": bson.M{"payload": payload, "edited": true}})
	return err
}

// SoftDelete 置删除标记并清空内容。
func (s *MongoMessageStore) SoftDelete(ctx context.Context, convID string, seq int64) error {
	_, err := s.collection().UpdateOne(ctx,
		bson.M{"conv_id": convID, "seq": seq},
		bson.M{"$set": bson.M{"deleted": true, "payload": []byte{}, "media_ref": ""}})
	return err
}

// SetReactions 覆盖写入反应集合。
func (s *MongoMessageStore) SetReactions(ctx context.Context, convID string, seq int64, reactions map[string][]string) error {
	_, err := s.collection().UpdateOne(ctx,
		bson.M{"conv_id": convID, "seq": seq},
		bson.M{"$set": bson.M{"reactions": reactions}})
	return err
}

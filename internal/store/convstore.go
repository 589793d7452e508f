package store

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"time"

	"go-msgsync/internal/models"
)

// 会话与参与者存储。
// 参与关系是持久事实：扇出永远从这里（经内存成员索引）解析接收方，
// 与任何 socket 订阅状态无关。
type ConversationStore struct{ DB *sql.DB }

func NewConversationStore(db *sql.DB) *ConversationStore { return &ConversationStore{DB: db} }

// DirectConvID 对单聊使用确定性会话 ID，保证同一对用户只映射到一个会话。
func DirectConvID(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return "conv_direct_" + strings.Join(pair, "_")
}

// CreateConversation 创建会话（幂等：单聊重复创建返回既有记录）。
func (s *ConversationStore) CreateConversation(ctx context.Context, c *models.Conversation) error {
	_, err := s.DB.ExecContext(ctx, `INSERT INTO conversations(id, conv_type, name, created_by, next_seq, created_at, updated_at) VALUES(?,?,?,?,0,?,?) ON DUPLICATE KEY UPDATE updated_at=updated_at`,
		c.ID, c.Type, c.Name, c.CreatedBy, time.Now(), time.Now())
	return err
}

// GetConversation 查询会话元信息。
func (s *ConversationStore) GetConversation(ctx context.Context, convID string) (*models.Conversation, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT id, conv_type, name, created_by, next_seq, created_at, updated_at FROM conversations WHERE id=?`, convID)
	c := &models.Conversation{}
	var name sql.NullString
	if err := row.Scan(&c.ID, &c.Type, &name, &c.CreatedBy, &c.NextSeq, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	c.Name = name.String
	return c, nil
}

// AddParticipant 添加/更新参与者。
func (s *ConversationStore) AddParticipant(ctx context.Context, convID, userID string) error {
	_, err := s.DB.ExecContext(ctx, `INSERT INTO participants(conv_id, user_id, created_at) VALUES(?,?,?) ON DUPLICATE KEY UPDATE created_at=created_at`, convID, userID, time.Now())
	return err
}

// RemoveParticipant 移除参与者。
func (s *ConversationStore) RemoveParticipant(ctx context.Context, convID, userID string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM participants WHERE conv_id=? AND user_id=?`, convID, userID)
	return err
}

// LoadParticipants 列出会话的全部参与者（成员索引冷启动种子）。
func (s *ConversationStore) LoadParticipants(ctx context.Context, convID string) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT user_id FROM participants WHERE conv_id=?`, convID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var uid string
		if err := rows.Scan(&uid); err == nil {
			ids = append(ids, uid)
		}
	}
	return ids, rows.Err()
}

// ListConversationIDs 列出全部会话 ID（冷启动批量装载成员索引）。
func (s *ConversationStore) ListConversationIDs(ctx context.Context) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT id FROM conversations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err == nil {
			ids = append(ids, id)
		}
	}
	return ids, rows.Err()
}

// IsParticipant 判断用户是否会话参与者（API 边界校验用）。
func (s *ConversationStore) IsParticipant(ctx context.Context, convID, userID string) (bool, error) {
	var x int
	err := s.DB.QueryRowContext(ctx, `SELECT COUNT(1) FROM participants WHERE conv_id=? AND user_id=?`, convID, userID).Scan(&x)
	if err != nil {
		return false, err
	}
	return x > 0, nil
}

// UpsertUserConversation 维护用户-会话索引（由索引消费者异步驱动，供会话列表）。
func (s *ConversationStore) UpsertUserConversation(ctx context.Context, userID, convID, convType string, lastSeq int64) error {
	_, err := s.DB.ExecContext(ctx, `INSERT INTO user_conversations(user_id, conv_id, conv_type, last_seq, updated_at) VALUES(?,?,?,?,?) ON DUPLICATE KEY UPDATE last_seq=IF(VALUES(last_seq)>last_seq, VALUES(last_seq), last_seq), updated_at=VALUES(updated_at)`,
		userID, convID, convType, lastSeq, time.Now())
	return err
}

// ListUserConversations 按用户拉取会话索引（按更新时间倒序）。
func (s *ConversationStore) ListUserConversations(ctx context.Context, userID string, limit int) ([]map[string]interface{}, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT conv_id, conv_type, last_seq, updated_at FROM user_conversations WHERE user_id=? ORDER BY updated_at DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []map[string]interface{}
	for rows.Next() {
		var convID, convType string
		var lastSeq int64
		var updatedAt time.Time
		if err := rows.Scan(&convID, &convType, &lastSeq, &updatedAt); err != nil {
			return nil, err
		}
		list = append(list, map[string]interface{}{
			"convId":    convID,
			"convType":  convType,
			"lastSeq":   lastSeq,
			"updatedAt": updatedAt,
		})
	}
	return list, rows.Err()
}

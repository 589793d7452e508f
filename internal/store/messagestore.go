package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"go-msgsync/internal/models"
)

// MessageStore 基于 SQL 的消息存储实现（MySQL 兼容）。
// 约束：
// - messages 表需具备 (conv_id, seq) 与 (conv_id, client_msg_id) 唯一键；
//   client_msg_id 列可空，未带该字段的消息写 NULL——MySQL 唯一键
//   对 NULL 不判重，幂等键只约束真正携带 client_msg_id 的发送
// - idx_conv_seq 支撑按会话顺序拉取
// - reactions 为 JSON 列，整体覆盖写
type MessageStore struct{ DB *sql.DB }

func NewMessageStore(db *sql.DB) *MessageStore { return &MessageStore{DB: db} }

// nullIfEmpty 空串映射为 SQL NULL，避免可选字段在唯一键上互相撞键。
func nullIfEmpty(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Append 在单事务内写入消息并推进 conversations.next_seq。
// 任一步失败整体回滚，调用方（序列器）据此回退内存中的序列。
func (s *MessageStore) Append(ctx context.Context, m *models.Message) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	reactions, _ := json.Marshal(m.Reactions)
	if _, err = tx.ExecContext(ctx, `INSERT INTO messages(server_msg_id, client_msg_id, conv_id, conv_type, from_user_id, seq, timestamp, type, payload, media_ref, reply_to_seq, edited, deleted, reactions) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		m.ServerMsgID, nullIfEmpty(m.ClientMsgID), m.ConvID, m.ConvType, m.FromUserID, m.Seq, m.Timestamp, m.Type, m.Payload, m.MediaRef, m.ReplyToSeq, m.Edited, m.Deleted, reactions); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, `UPDATE conversations SET next_seq=IF(?>next_seq, ?, next_seq), updated_at=NOW() WHERE id=?`, m.Seq, m.Seq, m.ConvID); err != nil {
		return err
	}
	err = tx.Commit()
	return err
}

// NextSeq 读取会话的持久化序列水位。
func (s *MessageStore) NextSeq(ctx context.Context, convID string) (int64, error) {
	var seq sql.NullInt64
	err := s.DB.QueryRowContext(ctx, `SELECT next_seq FROM conversations WHERE id=?`, convID).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if seq.Valid {
		return seq.Int64, nil
	}
	return 0, nil
}

const messageColumns = `server_msg_id, client_msg_id, conv_id, conv_type, from_user_id, seq, timestamp, type, payload, media_ref, reply_to_seq, edited, deleted, reactions`

func scanMessage(row interface {
	Scan(dest ...interface{}) error
}) (*models.Message, error) {
	m := &models.Message{}
	var clientMsgID sql.NullString
	var reactions []byte
	if err := row.Scan(&m.ServerMsgID, &clientMsgID, &m.ConvID, &m.ConvType, &m.FromUserID, &m.Seq, &m.Timestamp, &m.Type, &m.Payload, &m.MediaRef, &m.ReplyToSeq, &m.Edited, &m.Deleted, &reactions); err != nil {
		return nil, err
	}
	m.ClientMsgID = clientMsgID.String
	if len(reactions) > 0 {
		_ = json.Unmarshal(reactions, &m.Reactions)
	}
	return m, nil
}

// GetBySeq 查询会话内指定 seq 的消息。
func (s *MessageStore) GetBySeq(ctx context.Context, convID string, seq int64) (*models.Message, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE conv_id=? AND seq=?`, convID, seq)
	return scanMessage(row)
}

// List 按会话增量拉取历史；软删除消息照常返回（内容已清空），保持 seq 连续。
func (s *MessageStore) List(ctx context.Context, convID string, fromSeq int64, limit int) ([]*models.Message, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE conv_id=? AND seq>? ORDER BY seq ASC LIMIT ?`, convID, fromSeq, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []*models.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

// MarkEdited 更新内容并置编辑标记（已删除消息不可编辑）。
func (s *MessageStore) MarkEdited(ctx context.Context, convID string, seq int64, payload []byte) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE messages SET payload=?, edited=1 WHERE conv_id=? AND seq=? AND deleted=0`, payload, convID, seq)
	return err
}

// SoftDelete 置删除标记并清空内容，物理记录保留。
func (s *MessageStore) SoftDelete(ctx context.Context, convID string, seq int64) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE messages SET deleted=1, payload='', media_ref='' WHERE conv_id=? AND seq=?`, convID, seq)
	return err
}

// SetReactions 覆盖写入反应集合。
func (s *MessageStore) SetReactions(ctx context.Context, convID string, seq int64, reactions map[string][]string) error {
	b, _ := json.Marshal(reactions)
	_, err := s.DB.ExecContext(ctx, `UPDATE messages SET reactions=? WHERE conv_id=? AND seq=?`, b, convID, seq)
	return err
}

package store

import (
	"context"
	"database/sql"

	"go-msgsync/internal/cache"
	"go-msgsync/internal/models"
)

// ReceiptStore 持久化投递/已读水位。
// 两个水位都由 SQL 侧的 IF 保证单调不减——迟到的回退事件在库里也是 no-op，
// 与内存状态机的不回退约束一致。
type ReceiptStore struct{ DB *sql.DB }

func NewReceiptStore(db *sql.DB) *ReceiptStore { return &ReceiptStore{DB: db} }

// UpsertDeliveredSeq 推进用户在会话内的投递水位。
func (s *ReceiptStore) UpsertDeliveredSeq(ctx context.Context, userID, convID string, seq int64) error {
	_, err := s.DB.ExecContext(ctx, `INSERT INTO receipts(user_id, conv_id, delivered_seq, read_seq) VALUES(?,?,?,0) ON DUPLICATE KEY UPDATE delivered_seq=IF(VALUES(delivered_seq)>delivered_seq, VALUES(delivered_seq), delivered_seq)`, userID, convID, seq)
	return err
}

// UpsertReadSeq 推进已读水位；已读蕴含已投递，两列一起抬升。
func (s *ReceiptStore) UpsertReadSeq(ctx context.Context, userID, convID string, seq int64) error {
	_, err := s.DB.ExecContext(ctx, `INSERT INTO receipts(user_id, conv_id, delivered_seq, read_seq) VALUES(?,?,?,?) ON DUPLICATE KEY UPDATE delivered_seq=IF(VALUES(delivered_seq)>delivered_seq, VALUES(delivered_seq), delivered_seq), read_seq=IF(VALUES(read_seq)>read_seq, VALUES(read_seq), read_seq)`, userID, convID, seq, seq)
	if err == nil {
		cache.CacheReadSeq(ctx, userID, convID, seq)
	}
	return err
}

// GetReceipt 读取用户在会话内的水位。
func (s *ReceiptStore) GetReceipt(ctx context.Context, userID, convID string) (*models.Receipt, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT delivered_seq, read_seq FROM receipts WHERE user_id=? AND conv_id=?`, userID, convID)
	r := &models.Receipt{UserID: userID, ConvID: convID}
	err := row.Scan(&r.DeliveredSeq, &r.ReadSeq)
	if err == sql.ErrNoRows {
		return r, nil
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// ListByConversation 列出会话内全部参与者的水位（聚合状态冷启动）。
func (s *ReceiptStore) ListByConversation(ctx context.Context, convID string) ([]*models.Receipt, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT user_id, delivered_seq, read_seq FROM receipts WHERE conv_id=?`, convID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []*models.Receipt
	for rows.Next() {
		r := &models.Receipt{ConvID: convID}
		if err := rows.Scan(&r.UserID, &r.DeliveredSeq, &r.ReadSeq); err != nil {
			return nil, err
		}
		res = append(res, r)
	}
	return res, rows.Err()
}

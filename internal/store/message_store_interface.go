package store

import (
	"context"

	"go-msgsync/internal/models"
)

// MessageStoreInterface 抽象消息存储，便于切换 MySQL/MongoDB：
// - Append：在单条事务/原子写内落库消息并推进会话 next_seq；
//   序列器持有会话锁期间调用，失败即回滚序列，不允许“烧号”
// - GetBySeq/List：按会话内 seq 读取
// - MarkEdited/SoftDelete：编辑与软删除（记录保留、内容清空）
// - SetReactions：整体落库反应集合（实时侧只广播增量）
type MessageStoreInterface interface {
	// Append 写入消息并将会话 next_seq 持久化为 m.Seq；要求底层对
	// (conv_id, seq) 与 (conv_id, client_msg_id) 提供唯一约束。
	Append(ctx context.Context, m *models.Message) error
	// NextSeq 读取会话已持久化的序列水位（冷启动时恢复单写者状态）。
	NextSeq(ctx context.Context, convID string) (int64, error)
	// GetBySeq 查询会话内指定 seq 的消息。
	GetBySeq(ctx context.Context, convID string, seq int64) (*models.Message, error)
	// List 按 seq 游标增量拉取历史（软删除消息以内容清空形态返回）。
	List(ctx context.Context, convID string, fromSeq int64, limit int) ([]*models.Message, error)
	// MarkEdited 更新消息内容并置 edited 标记。
	MarkEdited(ctx context.Context, convID string, seq int64, payload []byte) error
	// SoftDelete 置 deleted 标记并清空内容，seq 永不复用。
	SoftDelete(ctx context.Context, convID string, seq int64) error
	// SetReactions 覆盖写入反应集合。
	SetReactions(ctx context.Context, convID string, seq int64, reactions map[string][]string) error
}

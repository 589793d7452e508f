package hub

import (
	"context"
	"hash/fnv"
	"log"
	"sync"

	"go-msgsync/internal/models"
)

// ReceiptSink 回执水位的持久化协作方（可为 nil，纯内存模式）。
type ReceiptSink interface {
	UpsertDeliveredSeq(ctx context.Context, userID, convID string, seq int64) error
	UpsertReadSeq(ctx context.Context, userID, convID string, seq int64) error
	GetReceipt(ctx context.Context, userID, convID string) (*models.Receipt, error)
}

const deliveryShardCount = 16

// watermark 按 (会话, 接收者) 记录确认进度。两个水位只增不减，
// 天然满足 Sent→Delivered→Read 不回退：迟到的低位事件是静默 no-op。
// read 蕴含 delivered，read 可从 Sent 直接抵达（只报已读的客户端）。
type watermark struct {
	delivered int64
	read      int64
	loaded    bool
}

type deliveryShard struct {
	mu    sync.Mutex
	marks map[string]*watermark // convID|userID
}

// DeliveryTracker 投递/已读状态机。
// 同一用户任一设备先到先得（first-ack-wins）：水位比较使后到的
// 重复确认自动退化为 no-op，无需区分设备。
type DeliveryTracker struct {
	shards [deliveryShardCount]*deliveryShard
	sink   ReceiptSink
}

func NewDeliveryTracker(sink ReceiptSink) *DeliveryTracker {
	t := &DeliveryTracker{sink: sink}
	for i := range t.shards {
		t.shards[i] = &deliveryShard{marks: make(map[string]*watermark)}
	}
	return t
}

func (t *DeliveryTracker) shardFor(convID string) *deliveryShard {
	h := fnv.New32a()
	h.Write([]byte(convID))
	return t.shards[h.Sum32()%deliveryShardCount]
}

func deliveryKey(convID, userID string) string { return convID + "|" + userID }

// markFor 取 (会话, 用户) 的水位，首次访问时从回执存储恢复。
// 调用方必须已持有分片锁。
func (t *DeliveryTracker) markFor(ctx context.Context, s *deliveryShard, convID, userID string) *watermark {
	key := deliveryKey(convID, userID)
	wm, ok := s.marks[key]
	if !ok {
		wm = &watermark{}
		s.marks[key] = wm
	}
	if !wm.loaded {
		wm.loaded = true
		if t.sink != nil {
			if r, err := t.sink.GetReceipt(ctx, userID, convID); err == nil && r != nil {
				if r.DeliveredSeq > wm.delivered {
					wm.delivered = r.DeliveredSeq
				}
				if r.ReadSeq > wm.read {
					wm.read = r.ReadSeq
				}
			}
		}
	}
	return wm
}

// MarkDelivered 推进投递水位；未推进（重复/迟到确认）返回 false。
func (t *DeliveryTracker) MarkDelivered(ctx context.Context, convID, userID string, seq int64) bool {
	s := t.shardFor(convID)
	s.mu.Lock()
	wm := t.markFor(ctx, s, convID, userID)
	if seq <= wm.delivered {
		s.mu.Unlock()
		return false
	}
	wm.delivered = seq
	s.mu.Unlock()

	if t.sink != nil {
		if err := t.sink.UpsertDeliveredSeq(ctx, userID, convID, seq); err != nil {
			log.Printf("delivery persist error: user=%s conv=%s seq=%d err=%v", userID, convID, seq, err)
		}
	}
	return true
}

// MarkRead 推进已读水位（同时抬升投递水位）；未推进返回 false。
func (t *DeliveryTracker) MarkRead(ctx context.Context, convID, userID string, seq int64) bool {
	s := t.shardFor(convID)
	s.mu.Lock()
	wm := t.markFor(ctx, s, convID, userID)
	if seq <= wm.read {
		s.mu.Unlock()
		return false
	}
	wm.read = seq
	if seq > wm.delivered {
		wm.delivered = seq
	}
	s.mu.Unlock()

	if t.sink != nil {
		if err := t.sink.UpsertReadSeq(ctx, userID, convID, seq); err != nil {
			log.Printf("read persist error: user=%s conv=%s seq=%d err=%v", userID, convID, seq, err)
		}
	}
	return true
}

// StateFor 返回某消息对某接收者的当前状态。
func (t *DeliveryTracker) StateFor(ctx context.Context, convID, userID string, seq int64) models.DeliveryState {
	s := t.shardFor(convID)
	s.mu.Lock()
	defer s.mu.Unlock()
	wm := t.markFor(ctx, s, convID, userID)
	switch {
	case wm.read >= seq:
		return models.DeliveryRead
	case wm.delivered >= seq:
		return models.DeliveryDelivered
	default:
		return models.DeliverySent
	}
}

// Aggregate 计算会话级展示状态：全体接收者（不含发送者）的最小状态。
// “全部送达”当且仅当每个接收者都至少到达 Delivered。
func (t *DeliveryTracker) Aggregate(ctx context.Context, convID string, seq int64, members []string, sender string) models.DeliveryState {
	agg := models.DeliveryRead
	found := false
	for _, uid := range members {
		if uid == sender {
			continue
		}
		found = true
		st := t.StateFor(ctx, convID, uid, seq)
		if st < agg {
			agg = st
		}
		if agg == models.DeliverySent {
			break
		}
	}
	if !found {
		return models.DeliverySent
	}
	return agg
}

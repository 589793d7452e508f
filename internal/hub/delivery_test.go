package hub

import (
	"context"
	"sync"
	"testing"

	"go-msgsync/internal/models"
)

// memSink 内存回执水位，模拟持久化协作方。
type memSink struct {
	mu       sync.Mutex
	receipts map[string]*models.Receipt // userID|convID
}

func newMemSink() *memSink { return &memSink{receipts: make(map[string]*models.Receipt)} }

func (s *memSink) get(userID, convID string) *models.Receipt {
	key := userID + "|" + convID
	r, ok := s.receipts[key]
	if !ok {
		r = &models.Receipt{UserID: userID, ConvID: convID}
		s.receipts[key] = r
	}
	return r
}

func (s *memSink) UpsertDeliveredSeq(ctx context.Context, userID, convID string, seq int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.get(userID, convID)
	if seq > r.DeliveredSeq {
		r.DeliveredSeq = seq
	}
	return nil
}

func (s *memSink) UpsertReadSeq(ctx context.Context, userID, convID string, seq int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.get(userID, convID)
	if seq > r.ReadSeq {
		r.ReadSeq = seq
	}
	if seq > r.DeliveredSeq {
		r.DeliveredSeq = seq
	}
	return nil
}

func (s *memSink) GetReceipt(ctx context.Context, userID, convID string) (*models.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.get(userID, convID)
	cp := *r
	return &cp, nil
}

func TestDeliveryStateNeverRegresses(t *testing.T) {
	tr := NewDeliveryTracker(nil)
	ctx := context.Background()

	if !tr.MarkRead(ctx, "c1", "bob", 5) {
		t.Fatal("first read ack should advance")
	}
	if st := tr.StateFor(ctx, "c1", "bob", 5); st != models.DeliveryRead {
		t.Fatalf("expected read, got %v", st)
	}

	// 迟到的 delivered 确认不得把 read 拉回 delivered
	if tr.MarkDelivered(ctx, "c1", "bob", 5) {
		t.Fatal("stale delivered ack must be a no-op")
	}
	if st := tr.StateFor(ctx, "c1", "bob", 5); st != models.DeliveryRead {
		t.Fatalf("state regressed to %v", st)
	}
}

func TestDeliveryFirstAckWins(t *testing.T) {
	tr := NewDeliveryTracker(nil)
	ctx := context.Background()

	if !tr.MarkDelivered(ctx, "c1", "bob", 3) {
		t.Fatal("first ack should advance")
	}
	// 同一用户另一台设备的重复确认
	if tr.MarkDelivered(ctx, "c1", "bob", 3) {
		t.Fatal("duplicate ack from second device must be a no-op")
	}
}

func TestReadImpliesDelivered(t *testing.T) {
	tr := NewDeliveryTracker(nil)
	ctx := context.Background()

	tr.MarkRead(ctx, "c1", "bob", 7)
	if st := tr.StateFor(ctx, "c1", "bob", 6); st != models.DeliveryRead {
		t.Fatalf("watermark should cover earlier seqs, got %v", st)
	}
	if st := tr.StateFor(ctx, "c1", "bob", 8); st != models.DeliverySent {
		t.Fatalf("later seq should stay sent, got %v", st)
	}
}

func TestAggregateIsMinimumAcrossRecipients(t *testing.T) {
	tr := NewDeliveryTracker(nil)
	ctx := context.Background()
	members := []string{"alice", "bob", "carol"}

	tr.MarkRead(ctx, "c1", "bob", 1)
	// carol 尚未确认：聚合停在 sent
	if agg := tr.Aggregate(ctx, "c1", 1, members, "alice"); agg != models.DeliverySent {
		t.Fatalf("expected sent, got %v", agg)
	}
	tr.MarkDelivered(ctx, "c1", "carol", 1)
	if agg := tr.Aggregate(ctx, "c1", 1, members, "alice"); agg != models.DeliveryDelivered {
		t.Fatalf("expected delivered, got %v", agg)
	}
	tr.MarkRead(ctx, "c1", "carol", 1)
	if agg := tr.Aggregate(ctx, "c1", 1, members, "alice"); agg != models.DeliveryRead {
		t.Fatalf("expected read, got %v", agg)
	}
}

func TestAggregateWithoutRecipients(t *testing.T) {
	tr := NewDeliveryTracker(nil)
	// 只有发送者自己的会话：没有接收者可聚合
	if agg := tr.Aggregate(context.Background(), "c1", 1, []string{"alice"}, "alice"); agg != models.DeliverySent {
		t.Fatalf("expected sent, got %v", agg)
	}
}

func TestDeliveryColdStartFromSink(t *testing.T) {
	sink := newMemSink()
	ctx := context.Background()
	_ = sink.UpsertReadSeq(ctx, "bob", "c1", 10)

	tr := NewDeliveryTracker(sink)
	// 首次触达即从持久层恢复水位
	if st := tr.StateFor(ctx, "c1", "bob", 10); st != models.DeliveryRead {
		t.Fatalf("expected read from cold start, got %v", st)
	}
	if tr.MarkRead(ctx, "c1", "bob", 9) {
		t.Fatal("ack below restored watermark must be a no-op")
	}
}

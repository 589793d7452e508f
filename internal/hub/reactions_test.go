package hub

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"go-msgsync/internal/models"
)

func seedMessage(t *testing.T, ms *memStore, convID string, seq int64, from string) {
	t.Helper()
	payload, _ := json.Marshal(models.TextPayload{Text: "seed"})
	err := ms.Append(context.Background(), &models.Message{
		ConvID: convID, Seq: seq, FromUserID: from,
		Type: models.MessageTypeText, Payload: payload,
	})
	if err != nil {
		t.Fatalf("seed failed: %v", err)
	}
}

func TestReactionAddIsIdempotent(t *testing.T) {
	ms := newMemStore()
	seedMessage(t, ms, "c1", 1, "alice")
	a := NewReactionAggregator(ms)
	ctx := context.Background()

	d1, err := a.Add(ctx, "c1", 1, "bob", "👍")
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if d1.Count != 1 || d1.Op != "add" {
		t.Fatalf("unexpected delta: %+v", d1)
	}

	// 重复添加：仍返回增量（发起端回显），计数不变
	d2, err := a.Add(ctx, "c1", 1, "bob", "👍")
	if err != nil {
		t.Fatalf("duplicate add failed: %v", err)
	}
	if d2.Count != 1 {
		t.Fatalf("duplicate add changed count: %d", d2.Count)
	}
}

func TestReactionRemoveAbsentIsSilent(t *testing.T) {
	ms := newMemStore()
	seedMessage(t, ms, "c1", 1, "alice")
	a := NewReactionAggregator(ms)

	d, err := a.Remove(context.Background(), "c1", 1, "bob", "👍")
	if err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if d != nil {
		t.Fatalf("absent removal must not produce a delta: %+v", d)
	}
}

func TestReactionCountsPerEmoji(t *testing.T) {
	ms := newMemStore()
	seedMessage(t, ms, "c1", 1, "alice")
	a := NewReactionAggregator(ms)
	ctx := context.Background()

	a.Add(ctx, "c1", 1, "bob", "👍")
	a.Add(ctx, "c1", 1, "carol", "👍")
	d, _ := a.Add(ctx, "c1", 1, "bob", "❤️")
	if d.Count != 1 {
		t.Fatalf("emoji counts must be independent, got %d", d.Count)
	}

	d2, _ := a.Remove(ctx, "c1", 1, "bob", "👍")
	if d2 == nil || d2.Count != 1 {
		t.Fatalf("expected count 1 after removal, got %+v", d2)
	}
}

func TestReactionUnknownMessage(t *testing.T) {
	a := NewReactionAggregator(newMemStore())
	_, err := a.Add(context.Background(), "c1", 42, "bob", "👍")
	if !errors.Is(err, ErrMessageNotFound) {
		t.Fatalf("expected ErrMessageNotFound, got %v", err)
	}
}

func TestReactionColdStartFromStore(t *testing.T) {
	ms := newMemStore()
	seedMessage(t, ms, "c1", 1, "alice")
	ctx := context.Background()
	if err := ms.SetReactions(ctx, "c1", 1, map[string][]string{"👍": {"bob", "carol"}}); err != nil {
		t.Fatalf("seed reactions failed: %v", err)
	}

	a := NewReactionAggregator(ms)
	d, err := a.Add(ctx, "c1", 1, "dave", "👍")
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if d.Count != 3 {
		t.Fatalf("cold start should restore prior reactors, got count %d", d.Count)
	}
}

func TestReactionPersistsSnapshot(t *testing.T) {
	ms := newMemStore()
	seedMessage(t, ms, "c1", 1, "alice")
	a := NewReactionAggregator(ms)
	ctx := context.Background()

	a.Add(ctx, "c1", 1, "bob", "👍")
	m, _ := ms.GetBySeq(ctx, "c1", 1)
	if len(m.Reactions["👍"]) != 1 || m.Reactions["👍"][0] != "bob" {
		t.Fatalf("reaction snapshot not persisted: %+v", m.Reactions)
	}
}

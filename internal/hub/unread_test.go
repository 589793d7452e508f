package hub

import (
	"sync"
	"testing"
)

func TestUnreadCountsPerConversation(t *testing.T) {
	u := NewUnreadCounter()
	u.OnDispatch("c1", "bob")
	u.OnDispatch("c1", "bob")
	u.OnDispatch("c2", "bob")

	if n := u.Count("bob", "c1"); n != 2 {
		t.Fatalf("expected 2, got %d", n)
	}
	if n := u.Count("bob", "c2"); n != 1 {
		t.Fatalf("expected 1, got %d", n)
	}
}

func TestFocusedConversationSkipsCounting(t *testing.T) {
	u := NewUnreadCounter()
	u.OnFocus("bob", "c1")
	u.OnDispatch("c1", "bob")
	if n := u.Count("bob", "c1"); n != 0 {
		t.Fatalf("focused conversation must not count, got %d", n)
	}
	// 其它会话照常计数
	u.OnDispatch("c2", "bob")
	if n := u.Count("bob", "c2"); n != 1 {
		t.Fatalf("expected 1, got %d", n)
	}
}

func TestFocusResetsAtomically(t *testing.T) {
	u := NewUnreadCounter()
	var mu sync.Mutex
	var notified []int64
	u.SetNotifyHook(func(userID, convID string, count int64) {
		mu.Lock()
		notified = append(notified, count)
		mu.Unlock()
	})

	u.OnDispatch("c1", "bob")
	u.OnDispatch("c1", "bob")
	u.OnFocus("bob", "c1")
	if n := u.Count("bob", "c1"); n != 0 {
		t.Fatalf("focus should zero the count, got %d", n)
	}
	// 重复 focus 幂等：不再通知
	u.OnFocus("bob", "c1")

	mu.Lock()
	defer mu.Unlock()
	if len(notified) != 3 || notified[2] != 0 {
		t.Fatalf("expected 1,2,0 notifications, got %v", notified)
	}
}

func TestUnfocusResumesCounting(t *testing.T) {
	u := NewUnreadCounter()
	u.OnFocus("bob", "c1")
	u.OnFocus("bob", "")
	u.OnDispatch("c1", "bob")
	if n := u.Count("bob", "c1"); n != 1 {
		t.Fatalf("expected counting after unfocus, got %d", n)
	}
}

func TestFocusSwitchBetweenConversations(t *testing.T) {
	u := NewUnreadCounter()
	u.OnFocus("bob", "c1")
	u.OnDispatch("c2", "bob")
	u.OnFocus("bob", "c2")
	if got := u.FocusOf("bob"); got != "c2" {
		t.Fatalf("expected focus c2, got %q", got)
	}
	if n := u.Count("bob", "c2"); n != 0 {
		t.Fatalf("switching focus should zero c2, got %d", n)
	}
	// 此后 c1 的新消息开始计数
	u.OnDispatch("c1", "bob")
	if n := u.Count("bob", "c1"); n != 1 {
		t.Fatalf("expected 1, got %d", n)
	}
}

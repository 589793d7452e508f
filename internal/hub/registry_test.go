package hub

import (
	"sync"
	"testing"
)

func TestRegistryMultiDevice(t *testing.T) {
	r := NewRegistry(8)
	c1 := r.Register("alice")
	c2 := r.Register("alice")

	if n := r.DeviceCount("alice"); n != 2 {
		t.Fatalf("expected 2 devices, got %d", n)
	}
	r.Unregister(c1)
	if n := r.DeviceCount("alice"); n != 1 {
		t.Fatalf("expected 1 device, got %d", n)
	}
	// 双关闭容忍
	r.Unregister(c1)
	r.Unregister(c2)
	if n := r.DeviceCount("alice"); n != 0 {
		t.Fatalf("expected 0 devices, got %d", n)
	}
}

func TestPresenceBroadcastsOnlyOnTransitions(t *testing.T) {
	r := NewRegistry(8)
	p := NewPresence()
	r.SetTransitionHook(func(userID string, devices int, gen uint64) {
		p.OnTransition(userID, devices, gen)
	})

	var mu sync.Mutex
	var flips []bool
	p.SetBroadcastHook(func(userID string, payload *PresencePayload) {
		mu.Lock()
		flips = append(flips, payload.Online)
		mu.Unlock()
	})

	c1 := r.Register("alice") // 离线→在线：广播
	c2 := r.Register("alice") // 追加设备：静默
	r.Unregister(c1)          // 仍在线：静默
	r.Unregister(c2)          // 在线→离线：广播

	mu.Lock()
	defer mu.Unlock()
	if len(flips) != 2 || !flips[0] || flips[1] {
		t.Fatalf("expected [online offline], got %v", flips)
	}

	rec := p.Get("alice")
	if rec.Online || rec.LastSeen.IsZero() {
		t.Fatalf("expected offline with lastSeen, got %+v", rec)
	}
}

func TestPresenceDropsStaleTransitions(t *testing.T) {
	p := NewPresence()

	// 并发注销时回调可能乱序：先到 (devices=0, gen=2)，后到过期的 (devices=1, gen=1)
	if !p.OnTransition("alice", 1, 1) {
		t.Fatal("first transition should apply")
	}
	if !p.OnTransition("alice", 0, 3) {
		t.Fatal("newer transition should apply")
	}
	if p.OnTransition("alice", 1, 2) {
		t.Fatal("stale transition should be dropped")
	}

	rec := p.Get("alice")
	if rec.Online || rec.Devices != 0 {
		t.Fatalf("expected offline after stale drop, got %+v", rec)
	}
}

func TestConnPushAfterClose(t *testing.T) {
	r := NewRegistry(8)
	c := r.Register("alice")
	r.Unregister(c)
	if err := c.Push([]byte("x")); err != ErrConnClosed {
		t.Fatalf("expected ErrConnClosed, got %v", err)
	}
}

func TestConnPushBufferFull(t *testing.T) {
	r := NewRegistry(1)
	c := r.Register("alice")
	defer r.Unregister(c)

	if err := c.Push([]byte("one")); err != nil {
		t.Fatalf("first push failed: %v", err)
	}
	if err := c.Push([]byte("two")); err != ErrSendBufferFull {
		t.Fatalf("expected ErrSendBufferFull, got %v", err)
	}
}

func TestUnknownUserHasNoConnections(t *testing.T) {
	r := NewRegistry(8)
	if conns := r.ConnectionsOf("ghost"); conns != nil {
		t.Fatalf("expected nil, got %v", conns)
	}
}

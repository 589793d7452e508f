package hub

import (
	"context"
	"sort"
	"testing"
)

func TestMembershipLazyLoad(t *testing.T) {
	loader := &fakeLoader{members: map[string][]string{"c1": {"alice", "bob"}}}
	m := NewMembership(loader)

	got, err := m.MembersOf(context.Background(), "c1")
	if err != nil {
		t.Fatalf("MembersOf failed: %v", err)
	}
	sort.Strings(got)
	if len(got) != 2 || got[0] != "alice" || got[1] != "bob" {
		t.Fatalf("unexpected members: %v", got)
	}

	// 装载后新增成员只走内存，不再触发 loader
	loader.mu.Lock()
	loader.members["c1"] = nil
	loader.mu.Unlock()
	m.Join("c1", "carol")
	got, _ = m.MembersOf(context.Background(), "c1")
	if len(got) != 3 {
		t.Fatalf("expected 3 members after join, got %v", got)
	}
}

func TestMembershipLeave(t *testing.T) {
	m := NewMembership(nil)
	m.Join("c1", "alice")
	m.Join("c1", "bob")
	m.Leave("c1", "bob")

	ok, _ := m.IsMember(context.Background(), "c1", "bob")
	if ok {
		t.Fatal("bob should no longer be a member")
	}
	if convs := m.ConversationsOf("bob"); len(convs) != 0 {
		t.Fatalf("reverse index not cleaned: %v", convs)
	}
}

func TestMembershipSurvivesDisconnect(t *testing.T) {
	// 成员关系是持久事实，不随连接生命周期变化
	h, _ := newTestHub(t, map[string][]string{"c1": {"alice", "bob"}})
	c := h.Connect("bob")
	h.Disconnect(c)

	ok, err := h.Membership.IsMember(context.Background(), "c1", "bob")
	if err != nil || !ok {
		t.Fatalf("membership must survive disconnect: ok=%v err=%v", ok, err)
	}
}

func TestConversationsOfReverseIndex(t *testing.T) {
	m := NewMembership(nil)
	m.Join("c1", "alice")
	m.Join("c2", "alice")
	convs := m.ConversationsOf("alice")
	sort.Strings(convs)
	if len(convs) != 2 || convs[0] != "c1" || convs[1] != "c2" {
		t.Fatalf("unexpected conversations: %v", convs)
	}
}

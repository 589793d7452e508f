package models

import "testing"

func TestDeliveryStateString(t *testing.T) {
	cases := []struct {
		state DeliveryState
		want  string
	}{
		{DeliverySent, "sent"},
		{DeliveryDelivered, "delivered"},
		{DeliveryRead, "read"},
		{DeliveryState(99), "sent"},
	}
	for _, c := range cases {
		if got := c.state.String(); got != c.want {
			t.Errorf("state %d: expected %q, got %q", c.state, c.want, got)
		}
	}
}

func TestDeliveryStateOrdering(t *testing.T) {
	// 聚合取最小值依赖枚举的自然序
	if !(DeliverySent < DeliveryDelivered && DeliveryDelivered < DeliveryRead) {
		t.Fatal("delivery states must order sent < delivered < read")
	}
}

package store

import "testing"

func TestDirectConvIDDeterministic(t *testing.T) {
	a := DirectConvID("user-a", "user-b")
	b := DirectConvID("user-b", "user-a")
	if a != b {
		t.Fatalf("direct conv id must be order independent: %s vs %s", a, b)
	}
	if a != "conv_direct_user-a_user-b" {
		t.Fatalf("unexpected id: %s", a)
	}
}

func TestDirectConvIDDistinctPairs(t *testing.T) {
	if DirectConvID("a", "b") == DirectConvID("a", "c") {
		t.Fatal("different pairs must map to different conversations")
	}
}

package store

import "testing"

func TestNullIfEmpty(t *testing.T) {
	// 空串写 NULL：MySQL 唯一键对 NULL 不判重，
	// 可选的 client_msg_id 缺省时不得在 (conv_id, client_msg_id) 上相撞
	if v := nullIfEmpty(""); v.Valid {
		t.Fatalf("empty string must map to NULL, got %+v", v)
	}
	if v := nullIfEmpty("client-1"); !v.Valid || v.String != "client-1" {
		t.Fatalf("non-empty string must stay intact, got %+v", v)
	}
}

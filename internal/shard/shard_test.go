package shard

import (
	"strings"
	"testing"
)

func TestAssociationPK_SingleShard(t *testing.T) {
	tests := []struct {
		ownerRef      string
		associationID string
		want          string
	}{
		{"orders#o1", "order_lines#l1", "orders#o1#00"},
		{"orders#o1", "order_lines#l2", "orders#o1#00"},
		{"customers#c1", "addresses#a1", "customers#c1#00"},
	}

	for _, tt := range tests {
		result := AssociationPK(tt.ownerRef, tt.associationID, 1)
		if result != tt.want {
			t.Errorf("AssociationPK(%q, %q, 1) = %q, want %q", tt.ownerRef, tt.associationID, result, tt.want)
		}
	}
}

func TestAssociationPK_ZeroShardsActsAsOne(t *testing.T) {
	if got := AssociationPK("orders#o1", "order_lines#l1", 0); got != "orders#o1#00" {
		t.Errorf("expected 'orders#o1#00', got %q", got)
	}
}

func TestAssociationPK_MultipleShards(t *testing.T) {
	ownerRef := "orders#o1"
	numShards := 256
	shardCounts := make(map[string]int)

	for i := 0; i < 1000; i++ {
		associationID := "order_lines#" + strings.Repeat("x", i%40) + string(rune('a'+i%26))
		pk := AssociationPK(ownerRef, associationID, numShards)
		if !strings.HasPrefix(pk, ownerRef+"#") {
			t.Fatalf("expected prefix %q, got %q", ownerRef+"#", pk)
		}
		shardCounts[pk[len(ownerRef)+1:]]++
	}

	if len(shardCounts) < 10 {
		t.Errorf("expected distribution across multiple shards, got only %d unique shards", len(shardCounts))
	}
}

func TestAssociationPK_Deterministic(t *testing.T) {
	first := AssociationPK("orders#o1", "order_lines#l1", 256)
	for i := 0; i < 100; i++ {
		if result := AssociationPK("orders#o1", "order_lines#l1", 256); result != first {
			t.Errorf("expected deterministic result %q, got %q on iteration %d", first, result, i)
		}
	}
}

func TestAssociationPK_HexFormat(t *testing.T) {
	result := AssociationPK("orders#o1", "order_lines#test", 256)
	parts := strings.Split(result, "#")
	if len(parts) < 3 {
		t.Fatalf("expected at least 3 parts, got %d: %q", len(parts), result)
	}

	shard := parts[len(parts)-1]
	if len(shard) != 2 {
		t.Errorf("expected 2-character shard, got %q", shard)
	}
	for _, c := range shard {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			t.Errorf("expected hex character, got %c", c)
		}
	}
}

func TestAssociationPK_SameAssociationDifferentOwner(t *testing.T) {
	pk1 := AssociationPK("orders#o1", "order_lines#l1", 256)
	pk2 := AssociationPK("orders#o2", "order_lines#l1", 256)
	if pk1 == pk2 {
		t.Error("expected different PKs for different owners")
	}
	if pk1[len(pk1)-2:] != pk2[len(pk2)-2:] {
		t.Error("expected the same shard for the same association id")
	}
}

func TestAssociationPK_Unicode(t *testing.T) {
	result := AssociationPK("注文#o1", "明細#l1", 256)
	if !strings.HasPrefix(result, "注文#o1#") {
		t.Errorf("expected unicode prefix, got %q", result)
	}
}

func TestForShard(t *testing.T) {
	tests := []struct {
		shardNum int
		want     string
	}{
		{0, "orders#o1#00"},
		{15, "orders#o1#0f"},
		{255, "orders#o1#ff"},
	}
	for _, tt := range tests {
		if got := ForShard("orders#o1", tt.shardNum); got != tt.want {
			t.Errorf("ForShard(%d) = %q, want %q", tt.shardNum, got, tt.want)
		}
	}
}

func TestForShard_CoversAssociationPK(t *testing.T) {
	numShards := 16
	pk := AssociationPK("orders#o1", "order_lines#l7", numShards)
	for i := 0; i < numShards; i++ {
		if ForShard("orders#o1", i) == pk {
			return
		}
	}
	t.Errorf("AssociationPK %q is not reachable by scanning %d shards", pk, numShards)
}

func TestOwnerRef(t *testing.T) {
	if got := OwnerRef("orders", "o1"); got != "orders#o1" {
		t.Errorf("expected 'orders#o1', got %q", got)
	}
}

func BenchmarkAssociationPK_SingleShard(b *testing.B) {
	ownerRef := "orders#550e8400-e29b-41d4-a716-446655440000"
	associationID := "order_lines#6ba7b810-9dad-11d1-80b4-00c04fd430c8"

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		AssociationPK(ownerRef, associationID, 1)
	}
}

func BenchmarkAssociationPK_256Shards(b *testing.B) {
	ownerRef := "orders#550e8400-e29b-41d4-a716-446655440000"
	associationID := "order_lines#6ba7b810-9dad-11d1-80b4-00c04fd430c8"

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		AssociationPK(ownerRef, associationID, 256)
	}
}

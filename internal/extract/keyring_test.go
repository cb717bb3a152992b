package extract

import "testing"

func TestKeyRing_Rotation(t *testing.T) {
	ring := NewKeyRing("key-a", "key-b", "key-c")

	want := []string{"key-a", "key-b", "key-c", "key-a", "key-b"}
	for i, w := range want {
		if got := ring.Next(); got != w {
			t.Errorf("Next() call %d = %q, want %q", i, got, w)
		}
	}
}

func TestKeyRing_SkipsBlankKeys(t *testing.T) {
	ring := NewKeyRing("", "  ", "key-a", "")
	if ring.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", ring.Len())
	}
	if got := ring.Next(); got != "key-a" {
		t.Errorf("Next() = %q, want key-a", got)
	}
	if got := ring.Next(); got != "key-a" {
		t.Errorf("single key ring should repeat, got %q", got)
	}
}

func TestKeyRing_Empty(t *testing.T) {
	ring := NewKeyRing()
	if got := ring.Next(); got != "" {
		t.Errorf("Next() on empty ring = %q, want empty", got)
	}
}

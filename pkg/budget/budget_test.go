package budget

import "testing"

func TestTrackAndRelease(t *testing.T) {
	b := New(100)
	b.Track(40)
	if got := b.Used(); got != 40 {
		t.Fatalf("used = %d, want 40", got)
	}
	b.Track(40)
	if b.Exceeded() {
		t.Fatal("80/100 should not be exceeded")
	}
	b.Track(40)
	if !b.Exceeded() {
		t.Fatal("120/100 should be exceeded")
	}
	b.Release(1000)
	if got := b.Used(); got != 0 {
		t.Fatalf("used after over-release = %d, want floored to 0", got)
	}
}

func TestDefaultLimit(t *testing.T) {
	b := New(0)
	if b.Limit() != DefaultLimit {
		t.Fatalf("limit = %d, want default %d", b.Limit(), DefaultLimit)
	}
	b = New(-5)
	if b.Limit() != DefaultLimit {
		t.Fatalf("negative limit not replaced with default")
	}
}

func TestAvailable(t *testing.T) {
	b := New(100)
	b.Track(30)
	if got := b.Available(); got != 70 {
		t.Fatalf("available = %d, want 70", got)
	}
}

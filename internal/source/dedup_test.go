package source

import (
	"fmt"
	"testing"
	"time"
)

func TestRecentIDs(t *testing.T) {
	r := newRecentIDs(10)
	if r.seen("a") {
		t.Fatal("first sighting reported as seen")
	}
	if !r.seen("a") {
		t.Fatal("second sighting not reported")
	}
	for i := 0; i < 10; i++ {
		r.seen(fmt.Sprintf("k%d", i))
	}
	// 11 keys held -> oldest 5 evicted
	if got := r.len(); got != 6 {
		t.Fatalf("len = %d, want 6", got)
	}
	if r.seen("k9") != true {
		t.Error("newest key should still be held")
	}
	if r.seen("a") {
		t.Error("oldest key should have been evicted")
	}
}

func TestRecordKey(t *testing.T) {
	ts := time.Unix(0, 42)
	if got := recordKey("security", 7, ts); got != "security|7|42" {
		t.Errorf("recordKey = %q", got)
	}
	if recordKey("a", 1, ts) == recordKey("b", 1, ts) {
		t.Error("keys must differ by channel")
	}
}

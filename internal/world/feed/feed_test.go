package feed

import (
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestRing_MostRecentFirstAndBounded(t *testing.T) {
	r := NewRing(3)
	for i := 1; i <= 5; i++ {
		r.Add(Item{Kind: "chat_message", Tick: uint64(i), Summary: fmt.Sprintf("m%d", i)})
	}
	if r.Len() != 3 {
		t.Fatalf("len=%d want 3", r.Len())
	}
	var got []string
	for _, it := range r.Recent(0) {
		got = append(got, it.Summary)
	}
	if diff := cmp.Diff([]string{"m5", "m4", "m3"}, got); diff != "" {
		t.Fatalf("recent mismatch (-want +got):\n%s", diff)
	}
	if n := len(r.Recent(2)); n != 2 {
		t.Fatalf("Recent(2) len=%d", n)
	}
}

func TestRing_PartiallyFilled(t *testing.T) {
	r := NewRing(10)
	r.Add(Item{Summary: "only"})
	got := r.Recent(5)
	if len(got) != 1 || got[0].Summary != "only" {
		t.Fatalf("got %+v", got)
	}
	if got[0].ReceivedAt.IsZero() {
		t.Fatalf("ReceivedAt should be stamped")
	}
}

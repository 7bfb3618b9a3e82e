package protocol

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDecodePush_AIPositionShapes(t *testing.T) {
	want := []PositionDTO{{ID: "a1", X: 1, Y: 2}}
	for _, body := range []string{
		`{"id":"a1","x":1,"y":2}`,
		`[{"id":"a1","x":1,"y":2}]`,
		`{"positions":[{"id":"a1","x":1,"y":2}]}`,
	} {
		ev, err := DecodePush(Envelope{Type: EventAIPosition, Data: json.RawMessage(body)})
		if err != nil {
			t.Fatalf("decode %s: %v", body, err)
		}
		pos, ok := ev.(AIPosition)
		if !ok {
			t.Fatalf("got %T, want AIPosition", ev)
		}
		if diff := cmp.Diff(want, pos.Positions); diff != "" {
			t.Fatalf("positions mismatch for %s (-want +got):\n%s", body, diff)
		}
	}
}

func TestDecodePush_UnknownEvent(t *testing.T) {
	_, err := DecodePush(Envelope{Type: "weather_changed", Data: json.RawMessage(`{}`)})
	if !errors.Is(err, ErrUnknownEvent) {
		t.Fatalf("err=%v, want ErrUnknownEvent", err)
	}
	if KnownEvent("weather_changed") {
		t.Fatalf("weather_changed should not be known")
	}
}

func TestDecodePush_FeedSummary(t *testing.T) {
	ev, err := DecodePush(Envelope{Type: EventConceptCreated, Data: json.RawMessage(`{"name":"Fire","tick":7}`)})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	f := ev.(FeedEvent)
	if f.Kind != EventConceptCreated || f.Summary != "Fire" || f.Tick != 7 {
		t.Fatalf("unexpected feed event: %+v", f)
	}
}

func TestWorldEvent_NeedsEntityRefresh(t *testing.T) {
	if !(WorldEvent{EventType: "Birth"}).NeedsEntityRefresh() {
		t.Fatalf("birth should refresh entities")
	}
	if (WorldEvent{EventType: "weather"}).NeedsEntityRefresh() {
		t.Fatalf("weather should not refresh entities")
	}
}

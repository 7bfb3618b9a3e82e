package protocol_test

import (
	"encoding/json"
	"testing"

	"github.com/Workwrite-Niidome/genesis-sub001/internal/protocol"
)

func TestSchemas_CoverCatalogue(t *testing.T) {
	v, err := protocol.NewValidator()
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	samples := map[string]string{
		protocol.EventThought:            `{"ai_id":"a1","ai_name":"Ada","text":"hello"}`,
		protocol.EventWorldEvent:         `{"event_type":"birth","tick":12}`,
		protocol.EventWorldUpdate:        `{"tick":40}`,
		protocol.EventAIPosition:         `[{"id":"a1","x":1.5,"y":2},{"id":"a2","x":0,"y":0}]`,
		protocol.EventInteraction:        `{"ai_id":"a1","target_id":"a2","interaction_type":"dialogue","text":"hi"}`,
		protocol.EventAIDeath:            `{"ai_id":"a1","cause":"age"}`,
		protocol.EventConceptCreated:     `{"name":"Fire","tick":3}`,
		protocol.EventArtifactCreated:    `{"name":"Lamp"}`,
		protocol.EventOrganizationFormed: `{"name":"Guild"}`,
		protocol.EventChatMessage:        `{"text":"hey","sender":"observer"}`,
		protocol.EventBoardThread:        `{"title":"Plans"}`,
		protocol.EventBoardReply:         `{"content":"agreed"}`,
		protocol.EventSagaChapter:        `{"title":"Chapter 1"}`,
	}
	for _, name := range protocol.EventNames() {
		body, ok := samples[name]
		if !ok {
			t.Fatalf("no sample for %s", name)
		}
		env := protocol.Envelope{Type: name, Data: json.RawMessage(body)}
		if err := v.Validate(env); err != nil {
			t.Fatalf("validate %s: %v", name, err)
		}
	}
}

func TestSchemas_RejectMalformed(t *testing.T) {
	v, err := protocol.NewValidator()
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	bad := []protocol.Envelope{
		{Type: protocol.EventWorldUpdate, Data: json.RawMessage(`{"tick":"soon"}`)},
		{Type: protocol.EventAIPosition, Data: json.RawMessage(`{"x":1,"y":2}`)},
		{Type: protocol.EventThought, Data: json.RawMessage(`{"text":"no speaker"}`)},
		{Type: protocol.EventAIDeath, Data: json.RawMessage(`{}`)},
	}
	for _, env := range bad {
		if err := v.Validate(env); err == nil {
			t.Fatalf("expected %s payload %s to be rejected", env.Type, env.Data)
		}
	}
	if err := v.Validate(protocol.Envelope{Type: "not_in_catalogue", Data: json.RawMessage(`1`)}); err != nil {
		t.Fatalf("events without schema should pass: %v", err)
	}
}

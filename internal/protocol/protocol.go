package protocol

import "encoding/json"

// Version of the v3 world API this client speaks.
const Version = "3"

// Push event names carried on the world socket.
const (
	EventThought            = "thought"
	EventWorldEvent         = "event"
	EventWorldUpdate        = "world_update"
	EventAIPosition         = "ai_position"
	EventInteraction        = "interaction"
	EventAIDeath            = "ai_death"
	EventConceptCreated     = "concept_created"
	EventArtifactCreated    = "artifact_created"
	EventOrganizationFormed = "organization_formed"
	EventChatMessage        = "chat_message"
	EventBoardThread        = "board_thread"
	EventBoardReply         = "board_reply"
	EventSagaChapter        = "saga_chapter"
)

// Envelope is one socket frame: {"type": <event name>, "data": <payload>}.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

func DecodeEnvelope(b []byte) (Envelope, error) {
	var e Envelope
	err := json.Unmarshal(b, &e)
	return e, err
}

// KnownEvent reports whether name is part of the push event catalogue.
func KnownEvent(name string) bool {
	_, ok := decoders[name]
	return ok
}

// EventNames lists the catalogue in a stable order.
func EventNames() []string {
	return []string{
		EventThought,
		EventWorldEvent,
		EventWorldUpdate,
		EventAIPosition,
		EventInteraction,
		EventAIDeath,
		EventConceptCreated,
		EventArtifactCreated,
		EventOrganizationFormed,
		EventChatMessage,
		EventBoardThread,
		EventBoardReply,
		EventSagaChapter,
	}
}

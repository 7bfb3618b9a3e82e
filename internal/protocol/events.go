package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownEvent is returned by DecodePush for names outside the catalogue.
var ErrUnknownEvent = errors.New("unknown push event")

// PushEvent is the closed set of decoded socket events.
type PushEvent interface {
	EventName() string
}

// thought: an entity's inner monologue, shown as a speech bubble.
type Thought struct {
	AIID     string   `json:"ai_id"`
	AIName   string   `json:"ai_name,omitempty"`
	Text     string   `json:"text"`
	Kind     string   `json:"thought_type,omitempty"`
	Position *Vec3DTO `json:"position,omitempty"`
	Tick     uint64   `json:"tick,omitempty"`
}

func (Thought) EventName() string { return EventThought }

// event: a notable world happening (birth, concept, god action, ...).
type WorldEvent struct {
	EventType   string `json:"event_type"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Tick        uint64 `json:"tick,omitempty"`
	AIID        string `json:"ai_id,omitempty"`
}

func (WorldEvent) EventName() string { return EventWorldEvent }

// NeedsEntityRefresh reports whether the event changes the entity population.
func (e WorldEvent) NeedsEntityRefresh() bool {
	switch strings.ToLower(e.EventType) {
	case "birth", "ai_birth", "spawn", "concept", "concept_created", "god_succession":
		return true
	}
	return false
}

type WorldUpdate struct {
	Tick uint64 `json:"tick"`
}

func (WorldUpdate) EventName() string { return EventWorldUpdate }

type PositionDTO struct {
	ID string  `json:"id"`
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
}

// ai_position carries one position or a batch; both decode into Positions.
type AIPosition struct {
	Positions []PositionDTO
}

func (AIPosition) EventName() string { return EventAIPosition }

type Interaction struct {
	AIID     string `json:"ai_id"`
	TargetID string `json:"target_id,omitempty"`
	Kind     string `json:"interaction_type,omitempty"`
	Text     string `json:"text,omitempty"`
	Tick     uint64 `json:"tick,omitempty"`
}

func (Interaction) EventName() string { return EventInteraction }

type AIDeath struct {
	AIID  string `json:"ai_id"`
	Cause string `json:"cause,omitempty"`
	Tick  uint64 `json:"tick,omitempty"`
}

func (AIDeath) EventName() string { return EventAIDeath }

// FeedEvent covers the display-only kinds: concepts, artifacts,
// organizations, chat, board threads/replies and saga chapters.
type FeedEvent struct {
	Kind    string
	Tick    uint64
	Summary string
	Raw     json.RawMessage
}

func (e FeedEvent) EventName() string { return e.Kind }

type decodeFn func(data json.RawMessage) (PushEvent, error)

var decoders = map[string]decodeFn{
	EventThought:            decodeInto[Thought],
	EventWorldEvent:         decodeInto[WorldEvent],
	EventWorldUpdate:        decodeInto[WorldUpdate],
	EventAIPosition:         decodeAIPosition,
	EventInteraction:        decodeInto[Interaction],
	EventAIDeath:            decodeInto[AIDeath],
	EventConceptCreated:     feedDecoder(EventConceptCreated),
	EventArtifactCreated:    feedDecoder(EventArtifactCreated),
	EventOrganizationFormed: feedDecoder(EventOrganizationFormed),
	EventChatMessage:        feedDecoder(EventChatMessage),
	EventBoardThread:        feedDecoder(EventBoardThread),
	EventBoardReply:         feedDecoder(EventBoardReply),
	EventSagaChapter:        feedDecoder(EventSagaChapter),
}

// DecodePush turns an envelope into its typed event.
func DecodePush(env Envelope) (PushEvent, error) {
	dec, ok := decoders[env.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Type)
	}
	ev, err := dec(env.Data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", env.Type, err)
	}
	return ev, nil
}

func decodeInto[T PushEvent](data json.RawMessage) (PushEvent, error) {
	var v T
	if len(data) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func decodeAIPosition(data json.RawMessage) (PushEvent, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return AIPosition{}, nil
	}
	if trimmed[0] == '[' {
		var batch []PositionDTO
		if err := json.Unmarshal(trimmed, &batch); err != nil {
			return nil, err
		}
		return AIPosition{Positions: batch}, nil
	}
	var wrapped struct {
		Positions []PositionDTO `json:"positions"`
		PositionDTO
	}
	if err := json.Unmarshal(trimmed, &wrapped); err != nil {
		return nil, err
	}
	if wrapped.Positions != nil {
		return AIPosition{Positions: wrapped.Positions}, nil
	}
	if wrapped.ID == "" {
		return nil, fmt.Errorf("position without id")
	}
	return AIPosition{Positions: []PositionDTO{wrapped.PositionDTO}}, nil
}

func feedDecoder(kind string) decodeFn {
	return func(data json.RawMessage) (PushEvent, error) {
		ev := FeedEvent{Kind: kind, Raw: append(json.RawMessage(nil), data...)}
		if len(bytes.TrimSpace(data)) == 0 {
			return ev, nil
		}
		var common map[string]any
		if err := json.Unmarshal(data, &common); err != nil {
			return nil, err
		}
		if t, ok := common["tick"].(float64); ok && t > 0 {
			ev.Tick = uint64(t)
		}
		for _, k := range []string{"title", "name", "content", "text", "summary"} {
			if s, ok := common[k].(string); ok && strings.TrimSpace(s) != "" {
				ev.Summary = s
				break
			}
		}
		return ev, nil
	}
}

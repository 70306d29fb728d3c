package events

import (
	"encoding/json"
	"time"

	"formation-backend/internal/workflow"
)

// MessageVersion is bumped when the message layout changes incompatibly.
const MessageVersion = 1

// Message is the payload sent to downstream queue consumers.
type Message struct {
	ID         string         `json:"id"`
	Seq        int64          `json:"seq"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	EventType  string         `json:"event_type"`
	ActorType  string         `json:"actor_type"`
	ActorID    string         `json:"actor_id,omitempty"`
	Payload    map[string]any `json:"payload"`
	CreatedAt  time.Time      `json:"created_at"`
	Version    int            `json:"version"`
}

// FromEvent converts a stored event into its wire message.
func FromEvent(e workflow.Event) Message {
	payload := map[string]any(e.Payload)
	if payload == nil {
		payload = map[string]any{}
	}
	return Message{
		ID:         e.ID,
		Seq:        e.Seq,
		EntityType: e.EntityType,
		EntityID:   e.EntityID,
		EventType:  string(e.EventType),
		ActorType:  string(e.ActorType),
		ActorID:    e.ActorID,
		Payload:    payload,
		CreatedAt:  e.CreatedAt.UTC(),
		Version:    MessageVersion,
	}
}

// EncodeMessage returns the JSON representation of a message.
func EncodeMessage(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}

// DecodeMessage parses a JSON payload into a Message.
func DecodeMessage(payload []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Message{}, err
	}
	return msg, nil
}

package messaging

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MessageType defines the type of an inventory event
type MessageType string

const (
	// Product events
	MsgProductSnapshot MessageType = "product.snapshot"
	MsgProductHistory  MessageType = "product.history"

	// Catalog events
	MsgCategoryTree MessageType = "category.tree"
)

// ErrInvalidEvent marks a payload that cannot be decoded into an Event.
var ErrInvalidEvent = errors.New("invalid event payload")

// Envelope is the wire wrapper every stream record carries.
type Envelope struct {
	MessageID string          `json:"message_id"`
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Version   string          `json:"version,omitempty"`
	Source    string          `json:"source,omitempty"`
	Data      json.RawMessage `json:"data"`
}

// NewEnvelope wraps data into an envelope of the given type.
func NewEnvelope(msgType MessageType, source string, data interface{}) (*Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", msgType, err)
	}
	return &Envelope{
		MessageID: uuid.New().String(),
		Type:      msgType,
		Timestamp: time.Now().UTC(),
		Version:   "1.0",
		Source:    source,
		Data:      raw,
	}, nil
}

// Event is a decoded envelope bound to the stream message it came from.
type Event struct {
	Envelope
	StreamID string
	Stream   string
}

// Decode parses a stream message into an Event.
func Decode(msg StreamMessage) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(msg.Payload, &env); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if env.Type == "" {
		return Event{}, fmt.Errorf("%w: missing type", ErrInvalidEvent)
	}
	return Event{Envelope: env, StreamID: msg.ID, Stream: msg.Stream}, nil
}

// Unmarshal decodes the event data into v.
func (e Event) Unmarshal(v interface{}) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%w: empty data for %s", ErrInvalidEvent, e.Type)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidEvent, e.Type, err)
	}
	return nil
}

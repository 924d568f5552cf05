package control

import (
	"encoding/json"

	"github.com/juju/errors"

	"github.com/rzbill/logfan/internal/logrecord"
)

// MessageType tags control messages on the wire.
const MessageType = "control"

// Action is what a control message asks the fan-out process to do.
type Action string

const (
	// ActionSet starts a backfill for the connection's current subscription.
	ActionSet Action = "set"
	// ActionDrop releases per-connection delivery state.
	ActionDrop Action = "drop"
)

// Message is the control hand-off from the lifecycle side to the fan-out
// side.
type Message struct {
	Type         string                 `json:"type"`
	Action       Action                 `json:"action"`
	ConnectionID string                 `json:"connectionId"`
	IdentifierID *logrecord.Identifiers `json:"identifierId,omitempty"`
}

// NewSet builds a set message for cid.
func NewSet(cid string, ids []string) Message {
	v := logrecord.NewIdentifiers(ids...)
	return Message{Type: MessageType, Action: ActionSet, ConnectionID: cid, IdentifierID: &v}
}

// NewDrop builds a drop message for cid.
func NewDrop(cid string) Message {
	return Message{Type: MessageType, Action: ActionDrop, ConnectionID: cid}
}

// Identifiers returns the identifiers carried by the message, if any.
func (m Message) Identifiers() []string {
	if m.IdentifierID == nil {
		return nil
	}
	return m.IdentifierID.Values()
}

// Validate checks the envelope.
func (m Message) Validate() error {
	if m.Type != MessageType {
		return errors.NotValidf("message type %q", m.Type)
	}
	switch m.Action {
	case ActionSet, ActionDrop:
	default:
		return errors.NotValidf("control action %q", m.Action)
	}
	if m.ConnectionID == "" {
		return errors.NotValidf("control message without connectionId")
	}
	return nil
}

// Encode marshals a validated message.
func Encode(m Message) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	b, err := json.Marshal(m)
	return b, errors.Trace(err)
}

// Decode unmarshals and validates a message.
func Decode(b []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(b, &m); err != nil {
		return Message{}, errors.NewNotValid(err, "decode control message")
	}
	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}

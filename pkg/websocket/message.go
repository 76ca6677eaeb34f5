// Package websocket defines the wire protocol spoken between the bridge and
// its UI clients: a single JSON envelope, the action names, and the action
// dispatcher used by the gateway.
package websocket

import (
	"encoding/json"
	"time"
)

// MessageType distinguishes the four envelope kinds on the wire.
type MessageType string

const (
	MessageTypeRequest      MessageType = "request"
	MessageTypeResponse     MessageType = "response"
	MessageTypeNotification MessageType = "notification"
	MessageTypeError        MessageType = "error"
)

// Message is the envelope every frame carries. Requests and responses are
// correlated by ID; notifications are server pushes and carry none.
type Message struct {
	ID        string          `json:"id,omitempty"`
	Type      MessageType     `json:"type"`
	Action    string          `json:"action"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// ParsePayload unmarshals the payload into v. A missing payload is not an
// error; v is left untouched.
func (m *Message) ParsePayload(v interface{}) error {
	if m.Payload == nil {
		return nil
	}
	return json.Unmarshal(m.Payload, v)
}

// ErrorPayload decodes the payload of an error frame.
func (m *Message) ErrorPayload() (*ErrorPayload, error) {
	var p ErrorPayload
	if err := m.ParsePayload(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

// ErrorPayload is the payload of a MessageTypeError frame.
type ErrorPayload struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// seal marshals the payload into the envelope and stamps the send time.
func (m *Message) seal(payload interface{}) (*Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	m.Payload = raw
	m.Timestamp = time.Now().UTC()
	return m, nil
}

// NewRequest builds a client request frame.
func NewRequest(id, action string, payload interface{}) (*Message, error) {
	m := &Message{ID: id, Type: MessageTypeRequest, Action: action}
	return m.seal(payload)
}

// NewResponse builds the reply to a request, echoing its ID.
func NewResponse(id, action string, payload interface{}) (*Message, error) {
	m := &Message{ID: id, Type: MessageTypeResponse, Action: action}
	return m.seal(payload)
}

// NewNotification builds a server push frame.
func NewNotification(action string, payload interface{}) (*Message, error) {
	m := &Message{Type: MessageTypeNotification, Action: action}
	return m.seal(payload)
}

// NewError builds an error reply. id and action echo the failed request and
// may be empty when the frame could not be parsed at all.
func NewError(id, action, code, message string, details map[string]interface{}) (*Message, error) {
	m := &Message{ID: id, Type: MessageTypeError, Action: action}
	return m.seal(ErrorPayload{Code: code, Message: message, Details: details})
}

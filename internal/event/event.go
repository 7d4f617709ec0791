// Package event defines the wire protocol spoken over the websocket: a small
// closed set of JSON frames of the form {"event": <kind>, "data": {...}}.
// Offer, answer and ICE payloads are opaque to the relay and passed through as
// raw JSON.
package event

import (
	"encoding/json"
	"fmt"
	"time"
)

// Inbound event kinds.
const (
	KindSendMessage  = "send-message"
	KindCallInitiate = "call-initiate"
	KindCallAccept   = "call-accept"
	KindCallICE      = "call-ice"
	KindCallHangup   = "call-hangup"
)

// Outbound event kinds.
const (
	KindMessageReceived = "message-received"
	KindCallIncoming    = "call-incoming"
	KindCallAccepted    = "call-accepted"
	KindCallEnded       = "call-ended"
	KindError           = "error"
)

// Reasons carried by a call-ended frame.
const (
	ReasonHangup       = "hangup"
	ReasonDeclined     = "declined"
	ReasonTimeout      = "timeout"
	ReasonDisconnected = "disconnected"
	ReasonUnavailable  = "unavailable"
)

// Envelope is the outer frame of every websocket message.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type SendMessage struct {
	RecipientID string `json:"recipientId"`
	Body        string `json:"body"`
}

type MessageReceived struct {
	MessageID  string    `json:"messageId"`
	SenderID   string    `json:"senderId"`
	SenderName string    `json:"senderName"`
	Body       string    `json:"body"`
	Timestamp  time.Time `json:"timestamp"`
}

type CallInitiate struct {
	CalleeID string          `json:"calleeId"`
	Offer    json.RawMessage `json:"offer"`
}

type CallIncoming struct {
	CallerID   string          `json:"callerId"`
	CallerName string          `json:"callerName"`
	Offer      json.RawMessage `json:"offer"`
}

type CallAccept struct {
	CallerID string          `json:"callerId"`
	Answer   json.RawMessage `json:"answer"`
}

type CallAccepted struct {
	Answer json.RawMessage `json:"answer"`
}

type CallICE struct {
	TargetID  string          `json:"targetId"`
	Candidate json.RawMessage `json:"candidate"`
}

type CallHangup struct {
	TargetID string `json:"targetId"`
}

type CallEnded struct {
	TargetID string `json:"targetId"`
	Reason   string `json:"reason"`
}

type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Encode wraps data in an Envelope of the given kind and marshals the frame.
func Encode(kind string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", kind, err)
	}
	return json.Marshal(Envelope{Event: kind, Data: raw})
}

// MustEncode is Encode for frames built entirely from relay-owned values,
// where a marshal failure is a programming error.
func MustEncode(kind string, data any) []byte {
	frame, err := Encode(kind, data)
	if err != nil {
		panic(err)
	}
	return frame
}

// Decode parses one inbound frame into its Envelope.
func Decode(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode frame: %w", err)
	}
	return env, nil
}

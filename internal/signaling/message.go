// Package signaling carries call negotiation messages between clients through the relay.
package signaling

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/namithm70/fitness-sub000/internal/domain"
)

type MessageType string

const (
	TypeOffer    MessageType = "call-offer"
	TypeAnswer   MessageType = "call-answer"
	TypeEnd      MessageType = "call-end"
	TypeSignal   MessageType = "call-signal"
	TypePresence MessageType = "presence"
	TypeJoin     MessageType = "join"
	TypeJoined   MessageType = "joined"
	TypePing     MessageType = "ping"
	TypePong     MessageType = "pong"
	TypeError    MessageType = "error"
)

var ErrUnknownType = errors.New("unknown message type")

// Message is one of the variants below.
type Message interface {
	Type() MessageType
}

// Routed messages are relayed to the user named in To.
type Routed interface {
	Message
	Route() (from, to domain.UserID)
	Session() domain.SessionID
}

type Offer struct {
	From      domain.UserID    `json:"from"`
	To        domain.UserID    `json:"to"`
	CallType  domain.CallType  `json:"callType"`
	SessionID domain.SessionID `json:"sessionId"`
	TS        int64            `json:"ts"`
}

type Answer struct {
	SessionID domain.SessionID `json:"sessionId"`
	Accepted  bool             `json:"accepted"`
	TS        int64            `json:"ts"`
	From      domain.UserID    `json:"from,omitempty"`
	To        domain.UserID    `json:"to,omitempty"`
}

type End struct {
	SessionID domain.SessionID `json:"sessionId"`
	Reason    domain.EndReason `json:"reason"`
	TS        int64            `json:"ts"`
	From      domain.UserID    `json:"from,omitempty"`
	To        domain.UserID    `json:"to,omitempty"`
}

type NegotiationKind string

const (
	KindOffer        NegotiationKind = "offer"
	KindAnswer       NegotiationKind = "answer"
	KindICECandidate NegotiationKind = "ice-candidate"
)

// Signal carries an opaque negotiation payload (SDP or ICE candidate JSON).
type Signal struct {
	SessionID domain.SessionID `json:"sessionId"`
	From      domain.UserID    `json:"from"`
	To        domain.UserID    `json:"to"`
	Kind      NegotiationKind  `json:"signalType"`
	Payload   json.RawMessage  `json:"signal"`
}

type Presence struct {
	UserID domain.UserID `json:"userId"`
	Online bool          `json:"online"`
}

type Join struct {
	UserID      domain.UserID `json:"userId"`
	DisplayName string        `json:"displayName,omitempty"`
}

type Joined struct {
	UserID domain.UserID   `json:"userId"`
	Online []domain.UserID `json:"online"`
}

type Ping struct{}

type Pong struct{}

// Error is sent by the relay when it refuses a frame.
type Error struct {
	Code      string           `json:"error"`
	SessionID domain.SessionID `json:"sessionId,omitempty"`
}

func (Offer) Type() MessageType    { return TypeOffer }
func (Answer) Type() MessageType   { return TypeAnswer }
func (End) Type() MessageType      { return TypeEnd }
func (Signal) Type() MessageType   { return TypeSignal }
func (Presence) Type() MessageType { return TypePresence }
func (Join) Type() MessageType     { return TypeJoin }
func (Joined) Type() MessageType   { return TypeJoined }
func (Ping) Type() MessageType     { return TypePing }
func (Pong) Type() MessageType     { return TypePong }
func (Error) Type() MessageType    { return TypeError }

func (m Offer) Route() (domain.UserID, domain.UserID)  { return m.From, m.To }
func (m Answer) Route() (domain.UserID, domain.UserID) { return m.From, m.To }
func (m End) Route() (domain.UserID, domain.UserID)    { return m.From, m.To }
func (m Signal) Route() (domain.UserID, domain.UserID) { return m.From, m.To }

func (m Offer) Session() domain.SessionID  { return m.SessionID }
func (m Answer) Session() domain.SessionID { return m.SessionID }
func (m End) Session() domain.SessionID    { return m.SessionID }
func (m Signal) Session() domain.SessionID { return m.SessionID }

// Now is the wire timestamp: unix milliseconds.
func Now() int64 { return time.Now().UnixMilli() }

type envelope struct {
	Type MessageType `json:"type"`
}

// Encode serializes m with its "type" discriminator.
func Encode(m Message) ([]byte, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	if string(raw) == "{}" {
		return json.Marshal(envelope{Type: m.Type()})
	}
	head, err := json.Marshal(envelope{Type: m.Type()})
	if err != nil {
		return nil, err
	}
	// {"type":"x"} + ,rest-of-object
	out := make([]byte, 0, len(head)+len(raw))
	out = append(out, head[:len(head)-1]...)
	out = append(out, ',')
	out = append(out, raw[1:]...)
	return out, nil
}

// Decode parses a frame into its typed variant.
func Decode(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("bad json: %w", err)
	}
	switch env.Type {
	case TypeOffer:
		return decodeAs[Offer](data)
	case TypeAnswer:
		return decodeAs[Answer](data)
	case TypeEnd:
		return decodeAs[End](data)
	case TypeSignal:
		return decodeAs[Signal](data)
	case TypePresence:
		return decodeAs[Presence](data)
	case TypeJoin:
		return decodeAs[Join](data)
	case TypeJoined:
		return decodeAs[Joined](data)
	case TypePing:
		return Ping{}, nil
	case TypePong:
		return Pong{}, nil
	case TypeError:
		return decodeAs[Error](data)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
}

func decodeAs[T Message](data []byte) (Message, error) {
	var m T
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("bad %s payload: %w", m.Type(), err)
	}
	return m, nil
}

// WithFrom stamps the sender on routed messages that do not carry one yet.
func WithFrom(m Message, from domain.UserID) Message {
	switch v := m.(type) {
	case Offer:
		if v.From == "" {
			v.From = from
		}
		return v
	case Answer:
		if v.From == "" {
			v.From = from
		}
		return v
	case End:
		if v.From == "" {
			v.From = from
		}
		return v
	case Signal:
		if v.From == "" {
			v.From = from
		}
		return v
	}
	return m
}

// ForceFrom overwrites the sender of routed messages; the relay uses it against spoofing.
func ForceFrom(m Message, from domain.UserID) Message {
	switch v := m.(type) {
	case Offer:
		v.From = from
		return v
	case Answer:
		v.From = from
		return v
	case End:
		v.From = from
		return v
	case Signal:
		v.From = from
		return v
	}
	return m
}

package domain

import (
	"fmt"

	"github.com/google/uuid"
)

type SessionID string

func NewSessionID() SessionID {
	return SessionID(uuid.NewString())
}

type CallType string

const (
	CallAudio CallType = "audio"
	CallVideo CallType = "video"
)

func ParseCallType(s string) (CallType, error) {
	switch t := CallType(s); t {
	case CallAudio, CallVideo:
		return t, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCallType, s)
}

func (t CallType) HasVideo() bool { return t == CallVideo }

type SessionState int

const (
	StateIdle SessionState = iota
	StateOutgoingRinging
	StateIncomingRinging
	StateActive
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOutgoingRinging:
		return "outgoing_ringing"
	case StateIncomingRinging:
		return "incoming_ringing"
	case StateActive:
		return "active"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func (s SessionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

type Direction string

const (
	DirectionOutgoing Direction = "outgoing"
	DirectionIncoming Direction = "incoming"
)

type EndReason string

const (
	ReasonUserHangup       EndReason = "user_hangup"
	ReasonUserBusy         EndReason = "user_busy"
	ReasonUserDeclined     EndReason = "user_declined"
	ReasonConnectionFailed EndReason = "connection_failed"
	ReasonTimeout          EndReason = "timeout"
)

func ParseEndReason(s string) (EndReason, error) {
	switch r := EndReason(s); r {
	case ReasonUserHangup, ReasonUserBusy, ReasonUserDeclined, ReasonConnectionFailed, ReasonTimeout:
		return r, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownEndReason, s)
}

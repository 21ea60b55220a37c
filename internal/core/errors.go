package core

import (
	"errors"
	"fmt"

	"github.com/namithm70/fitness-sub000/internal/domain"
)

var (
	ErrRelayUnavailable = errors.New("signaling relay unavailable")
	ErrNotConnected     = errors.New("signaling channel not connected")
	ErrBackpressure     = errors.New("backpressure")
	ErrConnClosed       = errors.New("connection closed")

	ErrPermissionDenied = errors.New("permission denied")
	ErrDeviceNotFound   = errors.New("capture device not found")
	ErrNoLocalStream    = errors.New("no local stream")
	ErrNoVideoTrack     = errors.New("no outgoing video track")

	ErrBusy            = errors.New("call session busy")
	ErrSessionMismatch = errors.New("no ringing call with that session id")
	ErrNoActiveCall    = errors.New("no active call")
	ErrCanceled        = errors.New("call setup canceled")
	ErrClosed          = errors.New("orchestrator closed")
)

// MediaAcquisitionError wraps any failure to open local capture.
type MediaAcquisitionError struct {
	Cause error
}

func (e *MediaAcquisitionError) Error() string {
	return fmt.Sprintf("media acquisition: %v", e.Cause)
}

func (e *MediaAcquisitionError) Unwrap() error { return e.Cause }

// PeerConnectionError reports a negotiation or transport failure for one participant.
type PeerConnectionError struct {
	ParticipantID domain.UserID
	Cause         error
}

func (e *PeerConnectionError) Error() string {
	return fmt.Sprintf("peer %s: %v", e.ParticipantID, e.Cause)
}

func (e *PeerConnectionError) Unwrap() error { return e.Cause }

// ReasonCode maps an error onto the short code the UI renders.
func ReasonCode(err error) string {
	var (
		mediaErr *MediaAcquisitionError
		peerErr  *PeerConnectionError
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCanceled):
		return "canceled"
	case errors.Is(err, ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, ErrDeviceNotFound):
		return "device_not_found"
	case errors.As(err, &mediaErr):
		return "media_unavailable"
	case errors.Is(err, ErrRelayUnavailable), errors.Is(err, ErrNotConnected):
		return "relay_unavailable"
	case errors.As(err, &peerErr):
		return "connection_failed"
	case errors.Is(err, ErrBusy):
		return "busy"
	case errors.Is(err, ErrSessionMismatch), errors.Is(err, ErrNoActiveCall):
		return "no_such_call"
	case errors.Is(err, ErrNoVideoTrack), errors.Is(err, ErrNoLocalStream):
		return "no_video"
	}
	return "internal"
}

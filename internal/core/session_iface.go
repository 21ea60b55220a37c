package core

import (
	"context"
	"time"

	"github.com/namithm70/fitness-sub000/internal/domain"
)

type TrackInfo struct {
	ID      string `json:"id"`
	Kind    string `json:"kind"`
	Enabled bool   `json:"enabled"`
	Live    bool   `json:"live"`
}

type StreamInfo struct {
	ID      string      `json:"id"`
	Tracks  []TrackInfo `json:"tracks"`
	Packets uint64      `json:"packets,omitempty"`
	Bytes   uint64      `json:"bytes,omitempty"`
}

// LiveTracks counts tracks still producing media.
func (s StreamInfo) LiveTracks() int {
	n := 0
	for _, t := range s.Tracks {
		if t.Live {
			n++
		}
	}
	return n
}

// Snapshot is an immutable view of the call session handed to observers.
type Snapshot struct {
	Version       uint64                       `json:"version"`
	SessionID     domain.SessionID             `json:"sessionId,omitempty"`
	Type          domain.CallType              `json:"type,omitempty"`
	State         domain.SessionState          `json:"state"`
	Direction     domain.Direction             `json:"direction,omitempty"`
	Participants  []domain.Participant         `json:"participants"`
	LocalStream   *StreamInfo                  `json:"localStream,omitempty"`
	RemoteStreams map[domain.UserID]StreamInfo `json:"remoteStreams"`
	Muted         bool                         `json:"muted"`
	VideoEnabled  bool                         `json:"videoEnabled"`
	ScreenSharing bool                         `json:"screenSharing"`
	StartedAt     time.Time                    `json:"startedAt,omitzero"`
	AnsweredAt    time.Time                    `json:"answeredAt,omitzero"`
	LastEndReason domain.EndReason             `json:"lastEndReason,omitempty"`
	LastError     string                       `json:"lastError,omitempty"`
}

// CallRecord is a finished session as kept in the call history.
type CallRecord struct {
	SessionID  domain.SessionID `json:"sessionId"`
	Peer       domain.UserID    `json:"peer"`
	Type       domain.CallType  `json:"type"`
	Direction  domain.Direction `json:"direction"`
	Reason     domain.EndReason `json:"reason"`
	StartedAt  time.Time        `json:"startedAt"`
	AnsweredAt time.Time        `json:"answeredAt,omitzero"`
	EndedAt    time.Time        `json:"endedAt"`
}

type PermissionState string

const (
	PermissionPrompt      PermissionState = "prompt"
	PermissionGranted     PermissionState = "granted"
	PermissionDenied      PermissionState = "denied"
	PermissionUnavailable PermissionState = "unavailable"
)

type Permissions struct {
	Audio PermissionState `json:"audio"`
	Video PermissionState `json:"video"`
}

// CallHistory persists finished sessions.
type CallHistory interface {
	Record(ctx context.Context, rec CallRecord) error
	List(ctx context.Context, limit int) ([]CallRecord, error)
}

package core

import (
	"context"

	"github.com/namithm70/fitness-sub000/internal/domain"
	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

type ConnectionState int

const (
	ConnNew ConnectionState = iota
	ConnConnecting
	ConnConnected
	ConnDisconnected
	ConnFailed
	ConnClosed
)

func (s ConnectionState) String() string {
	switch s {
	case ConnNew:
		return "new"
	case ConnConnecting:
		return "connecting"
	case ConnConnected:
		return "connected"
	case ConnDisconnected:
		return "disconnected"
	case ConnFailed:
		return "failed"
	case ConnClosed:
		return "closed"
	}
	return "unknown"
}

// RemoteTrack is an inbound media track of a peer connection.
type RemoteTrack interface {
	ID() string
	Kind() webrtc.RTPCodecType
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

type MediaConnection interface {
	// Close should stop all underlying media resources.
	Close()
	// CreateOffer creates and applies a local offer.
	CreateOffer() (webrtc.SessionDescription, error)
	// ApplyOfferAndCreateAnswer applies a remote offer and returns the local answer.
	ApplyOfferAndCreateAnswer(webrtc.SessionDescription) (webrtc.SessionDescription, error)
	ApplyAnswer(webrtc.SessionDescription) error
	// AddICECandidate applies a remote ICE candidate.
	AddICECandidate(webrtc.ICECandidateInit) error
	// AddLocalTrack attaches an outgoing track.
	AddLocalTrack(webrtc.TrackLocal) error
	// ReplaceTrack swaps the outgoing track of the given kind without renegotiation.
	ReplaceTrack(kind webrtc.RTPCodecType, track webrtc.TrackLocal) error
	// OnICECandidate sets a callback for newly gathered local ICE candidates.
	OnICECandidate(func(webrtc.ICECandidateInit))
	// OnTrack sets a callback that will be invoked when a new remote track arrives.
	OnTrack(func(RemoteTrack))
	OnStateChange(func(ConnectionState))
}

// MediaConnectionFactory builds one connection per remote participant.
type MediaConnectionFactory interface {
	NewConnection(peer domain.UserID) (MediaConnection, error)
}

// MediaSource is an encoded capture feed.
type MediaSource interface {
	ID() string
	Kind() webrtc.RTPCodecType
	Codec() webrtc.RTPCodecCapability
	// ReadSample blocks for the next encoded sample; it fails once the source is closed.
	ReadSample() (media.Sample, error)
	Close() error
}

type MediaConstraints struct {
	Audio    bool
	Video    bool
	Settings domain.MediaSettings
}

// Capturer opens local capture devices.
type Capturer interface {
	UserMedia(ctx context.Context, c MediaConstraints) ([]MediaSource, error)
	DisplayMedia(ctx context.Context) (MediaSource, error)
}

type Device struct {
	ID    string `json:"id"`
	Kind  string `json:"kind"`
	Label string `json:"label"`
}

// DeviceLister is implemented by capturers that can enumerate their devices.
type DeviceLister interface {
	Devices() []Device
}

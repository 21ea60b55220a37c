package core

import "context"

// Frame is a raw text payload of the signaling protocol.
type Frame []byte

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// SignalTransport is the client end of the relay link.
// Inbound is closed once the link is gone.
type SignalTransport interface {
	SignalConnection
	Inbound() <-chan Frame
}

// SignalDialer opens a SignalTransport to the relay.
type SignalDialer interface {
	Dial(ctx context.Context) (SignalTransport, error)
}

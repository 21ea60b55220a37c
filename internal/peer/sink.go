package peer

import (
	"sync/atomic"

	"github.com/pion/rtp"
)

// Sink consumes RTP packets of a remote track (recorders, local playback, forwarding tracks).
type Sink interface {
	WriteRTP(*rtp.Packet) error
}

type SinkState int32

const (
	SinkStateOk SinkState = iota
	SinkStateMuted
	SinkStateDelete
)

// SinkHandle is one attached sink; its state is flipped without taking the stream lock.
type SinkHandle struct {
	id    string
	sink  Sink
	state atomic.Int32 // Zero by default (SinkStateOk)
}

func (h *SinkHandle) ID() string { return h.id }

func (h *SinkHandle) GetState() SinkState {
	return SinkState(h.state.Load())
}

func (h *SinkHandle) MarkOk() {
	h.state.Store(int32(SinkStateOk))
}

func (h *SinkHandle) MarkMuted() {
	h.state.Store(int32(SinkStateMuted))
}

// MarkDelete detaches the sink on the next forwarded packet.
func (h *SinkHandle) MarkDelete() {
	h.state.Store(int32(SinkStateDelete))
}

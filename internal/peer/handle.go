package peer

import (
	"sync"

	"github.com/namithm70/fitness-sub000/internal/core"
	"github.com/namithm70/fitness-sub000/internal/domain"
	"github.com/namithm70/fitness-sub000/internal/signaling"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// handle is the negotiation state for one participant.
type handle struct {
	peer   domain.UserID
	remote *RemoteStream

	// mu serializes negotiation
	mu         sync.Mutex
	conn       core.MediaConnection
	initiator  bool
	pending    []signaling.Signal
	remoteSet  bool
	candidates []webrtc.ICECandidateInit
	closed     bool

	stateMu   sync.Mutex
	state     core.ConnectionState
	announced bool
}

func newHandle(peer domain.UserID) *handle {
	return &handle{peer: peer, remote: newRemoteStream(peer)}
}

// flushCandidates runs with mu held once a remote description exists.
func (h *handle) flushCandidates() {
	for _, c := range h.candidates {
		if err := h.conn.AddICECandidate(c); err != nil {
			log.Warn().Err(err).Str("module", "peer").Str("peer", string(h.peer)).Msg("add buffered candidate")
		}
	}
	h.candidates = nil
}

func (h *handle) opened() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conn != nil && !h.closed
}

// setState records s and reports whether the remote stream appears or disappears.
func (h *handle) setState(s core.ConnectionState) (announce, gone bool) {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	h.state = s
	switch s {
	case core.ConnConnected:
		if !h.announced && h.remote.HasTracks() {
			h.announced = true
			announce = true
		}
	case core.ConnDisconnected, core.ConnFailed, core.ConnClosed:
		if h.announced {
			h.announced = false
			gone = true
		}
	}
	return announce, gone
}

// announceIfConnected is used when a track lands after the connection came up.
func (h *handle) announceIfConnected() bool {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	if h.announced || h.state != core.ConnConnected {
		return false
	}
	h.announced = true
	return true
}

func (h *handle) isAnnounced() bool {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	return h.announced
}

func (h *handle) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closeLocked()
}

func (h *handle) closeLocked() {
	if h.closed {
		return
	}
	h.closed = true
	if h.conn != nil {
		h.conn.Close()
	}
	h.remote.close()
	h.pending = nil
	h.candidates = nil
	h.stateMu.Lock()
	h.announced = false
	h.stateMu.Unlock()
}

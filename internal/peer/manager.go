// Package peer negotiates one media connection per remote participant.
package peer

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/namithm70/fitness-sub000/internal/core"
	"github.com/namithm70/fitness-sub000/internal/domain"
	"github.com/namithm70/fitness-sub000/internal/signaling"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

const DefaultOrphanWindow = 100 * time.Millisecond

var ErrNoSession = errors.New("peer manager has no session")

// Sender delivers negotiation messages to the relay.
type Sender interface {
	Send(signaling.Message) error
}

// Events are invoked from connection goroutines, never under the manager lock.
type Events struct {
	RemoteStream     func(peer domain.UserID, s *RemoteStream)
	RemoteStreamGone func(peer domain.UserID)
	Failure          func(err *core.PeerConnectionError)
}

type Manager struct {
	factory      core.MediaConnectionFactory
	sender       Sender
	clock        clock.Clock
	orphanWindow time.Duration

	mu      sync.Mutex
	events  Events
	session domain.SessionID
	handles map[domain.UserID]*handle
}

func NewManager(factory core.MediaConnectionFactory, sender Sender, clk clock.Clock) *Manager {
	if clk == nil {
		clk = clock.New()
	}
	return &Manager{
		factory:      factory,
		sender:       sender,
		clock:        clk,
		orphanWindow: DefaultOrphanWindow,
		handles:      make(map[domain.UserID]*handle),
	}
}

func (m *Manager) SetEvents(ev Events) {
	m.mu.Lock()
	m.events = ev
	m.mu.Unlock()
}

// Begin scopes the manager to sid; connections of any previous session are closed.
func (m *Manager) Begin(sid domain.SessionID) {
	m.mu.Lock()
	if m.session == sid {
		m.mu.Unlock()
		return
	}
	stale := m.takeAllLocked()
	m.session = sid
	m.mu.Unlock()
	for _, h := range stale {
		h.close()
	}
	log.Debug().Str("module", "peer").Str("session", string(sid)).Msg("session armed")
}

// Reset closes every connection and forgets the session.
func (m *Manager) Reset() {
	m.mu.Lock()
	all := m.takeAllLocked()
	m.session = ""
	m.mu.Unlock()
	for _, h := range all {
		h.close()
	}
}

func (m *Manager) takeAllLocked() []*handle {
	out := make([]*handle, 0, len(m.handles))
	for _, h := range m.handles {
		out = append(out, h)
	}
	m.handles = make(map[domain.UserID]*handle)
	return out
}

func (m *Manager) handleFor(peer domain.UserID) (*handle, domain.SessionID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == "" {
		return nil, "", ErrNoSession
	}
	h := m.handles[peer]
	if h == nil {
		h = newHandle(peer)
		m.handles[peer] = h
	}
	return h, m.session, nil
}

// Open creates the connection to peer. An initiator sends its offer at once;
// otherwise buffered remote signals are replayed.
func (m *Manager) Open(peer domain.UserID, asInitiator bool, tracks []webrtc.TrackLocal) error {
	h, sid, err := m.handleFor(peer)
	if err != nil {
		return &core.PeerConnectionError{ParticipantID: peer, Cause: err}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return &core.PeerConnectionError{ParticipantID: peer, Cause: ErrNoSession}
	}
	if h.conn != nil {
		return nil
	}
	conn, err := m.factory.NewConnection(peer)
	if err != nil {
		m.drop(h)
		return &core.PeerConnectionError{ParticipantID: peer, Cause: err}
	}
	h.conn = conn
	h.initiator = asInitiator

	conn.OnICECandidate(func(c webrtc.ICECandidateInit) {
		m.sendSignal(sid, peer, signaling.KindICECandidate, c)
	})
	conn.OnTrack(func(t core.RemoteTrack) { m.onTrack(sid, h, t) })
	conn.OnStateChange(func(s core.ConnectionState) { m.onState(sid, h, s) })

	for _, t := range tracks {
		if err := conn.AddLocalTrack(t); err != nil {
			m.dropLocked(h)
			return &core.PeerConnectionError{ParticipantID: peer, Cause: err}
		}
	}

	if asInitiator {
		offer, err := conn.CreateOffer()
		if err != nil {
			m.dropLocked(h)
			return &core.PeerConnectionError{ParticipantID: peer, Cause: err}
		}
		m.sendSignal(sid, peer, signaling.KindOffer, offer)
	}

	pending := h.pending
	h.pending = nil
	for _, sig := range pending {
		if err := m.apply(sid, h, sig); err != nil {
			m.dropLocked(h)
			return &core.PeerConnectionError{ParticipantID: peer, Cause: err}
		}
	}
	log.Info().Str("module", "peer").Str("peer", string(peer)).Bool("initiator", asInitiator).Int("replayed", len(pending)).Msg("connection opened")
	return nil
}

// IngestSignal applies a remote negotiation payload. Signals for a session that is
// not armed yet get one more chance after the orphan window.
func (m *Manager) IngestSignal(sig signaling.Signal) {
	m.ingest(sig, true)
}

func (m *Manager) ingest(sig signaling.Signal, retry bool) {
	m.mu.Lock()
	armed := m.session != "" && m.session == sig.SessionID
	m.mu.Unlock()
	if !armed {
		if retry {
			log.Debug().Str("module", "peer").Str("session", string(sig.SessionID)).Str("kind", string(sig.Kind)).Msg("orphan signal, retrying")
			m.clock.AfterFunc(m.orphanWindow, func() { m.ingest(sig, false) })
			return
		}
		log.Debug().Str("module", "peer").Str("session", string(sig.SessionID)).Str("kind", string(sig.Kind)).Msg("orphan signal dropped")
		return
	}

	h, sid, err := m.handleFor(sig.From)
	if err != nil || sid != sig.SessionID {
		return
	}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	if h.conn == nil {
		h.pending = append(h.pending, sig)
		h.mu.Unlock()
		return
	}
	err = m.apply(sid, h, sig)
	h.mu.Unlock()
	if err != nil {
		log.Warn().Err(err).Str("module", "peer").Str("peer", string(h.peer)).Str("kind", string(sig.Kind)).Msg("negotiation failed")
		m.fail(h, err)
	}
}

// apply runs with h.mu held.
func (m *Manager) apply(sid domain.SessionID, h *handle, sig signaling.Signal) error {
	switch sig.Kind {
	case signaling.KindOffer:
		var desc webrtc.SessionDescription
		if err := json.Unmarshal(sig.Payload, &desc); err != nil {
			return fmt.Errorf("decode offer: %w", err)
		}
		if h.initiator {
			log.Warn().Str("module", "peer").Str("peer", string(h.peer)).Msg("offer collision, keeping local offer")
			return nil
		}
		answer, err := h.conn.ApplyOfferAndCreateAnswer(desc)
		if err != nil {
			return err
		}
		h.remoteSet = true
		h.flushCandidates()
		m.sendSignal(sid, h.peer, signaling.KindAnswer, answer)
	case signaling.KindAnswer:
		var desc webrtc.SessionDescription
		if err := json.Unmarshal(sig.Payload, &desc); err != nil {
			return fmt.Errorf("decode answer: %w", err)
		}
		if err := h.conn.ApplyAnswer(desc); err != nil {
			return err
		}
		h.remoteSet = true
		h.flushCandidates()
	case signaling.KindICECandidate:
		var c webrtc.ICECandidateInit
		if err := json.Unmarshal(sig.Payload, &c); err != nil {
			return fmt.Errorf("decode candidate: %w", err)
		}
		if !h.remoteSet {
			h.candidates = append(h.candidates, c)
			return nil
		}
		if err := h.conn.AddICECandidate(c); err != nil {
			log.Warn().Err(err).Str("module", "peer").Str("peer", string(h.peer)).Msg("add ice candidate")
		}
	default:
		log.Warn().Str("module", "peer").Str("kind", string(sig.Kind)).Msg("unknown signal kind")
	}
	return nil
}

func (m *Manager) sendSignal(sid domain.SessionID, to domain.UserID, kind signaling.NegotiationKind, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "peer").Msg("encode signal")
		return
	}
	if err := m.sender.Send(signaling.Signal{SessionID: sid, To: to, Kind: kind, Payload: payload}); err != nil {
		log.Warn().Err(err).Str("module", "peer").Str("peer", string(to)).Str("kind", string(kind)).Msg("signal not sent")
	}
}

func (m *Manager) current(sid domain.SessionID, h *handle) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session == sid && m.handles[h.peer] == h
}

func (m *Manager) onTrack(sid domain.SessionID, h *handle, t core.RemoteTrack) {
	h.remote.addTrack(t)
	if h.announceIfConnected() && m.current(sid, h) {
		m.emitStream(h)
	}
}

func (m *Manager) onState(sid domain.SessionID, h *handle, s core.ConnectionState) {
	announce, gone := h.setState(s)
	if !m.current(sid, h) {
		return
	}
	m.mu.Lock()
	ev := m.events
	m.mu.Unlock()

	if announce {
		m.emitStream(h)
	}
	if gone && ev.RemoteStreamGone != nil {
		ev.RemoteStreamGone(h.peer)
	}
	if s == core.ConnFailed {
		m.fail(h, fmt.Errorf("connection %s", s))
	}
}

func (m *Manager) emitStream(h *handle) {
	m.mu.Lock()
	ev := m.events
	m.mu.Unlock()
	if ev.RemoteStream != nil {
		ev.RemoteStream(h.peer, h.remote)
	}
}

func (m *Manager) fail(h *handle, err error) {
	m.mu.Lock()
	ev := m.events
	m.mu.Unlock()
	if ev.Failure != nil {
		ev.Failure(&core.PeerConnectionError{ParticipantID: h.peer, Cause: err})
	}
}

// drop forgets a half-built handle.
func (m *Manager) drop(h *handle) {
	m.mu.Lock()
	if m.handles[h.peer] == h {
		delete(m.handles, h.peer)
	}
	m.mu.Unlock()
}

// dropLocked runs with h.mu held.
func (m *Manager) dropLocked(h *handle) {
	m.drop(h)
	h.closeLocked()
}

// Close tears down the connection to peer. Unknown peers are ignored.
func (m *Manager) Close(peer domain.UserID) {
	m.mu.Lock()
	h := m.handles[peer]
	delete(m.handles, peer)
	m.mu.Unlock()
	if h != nil {
		h.close()
		log.Info().Str("module", "peer").Str("peer", string(peer)).Msg("connection closed")
	}
}

// ReplaceTrack swaps the outgoing track of kind on every open connection.
// If one fails, the ones already switched are put back to prev.
func (m *Manager) ReplaceTrack(kind webrtc.RTPCodecType, next, prev webrtc.TrackLocal) error {
	m.mu.Lock()
	hs := make([]*handle, 0, len(m.handles))
	for _, h := range m.handles {
		hs = append(hs, h)
	}
	m.mu.Unlock()

	var done []*handle
	for _, h := range hs {
		h.mu.Lock()
		conn := h.conn
		h.mu.Unlock()
		if conn == nil {
			continue
		}
		if err := conn.ReplaceTrack(kind, next); err != nil {
			for _, d := range done {
				if rerr := d.conn.ReplaceTrack(kind, prev); rerr != nil {
					log.Error().Err(rerr).Str("module", "peer").Str("peer", string(d.peer)).Msg("rollback replace track")
				}
			}
			return &core.PeerConnectionError{ParticipantID: h.peer, Cause: err}
		}
		done = append(done, h)
	}
	return nil
}

// RemoteStream returns the stream of peer while its connection is up.
func (m *Manager) RemoteStream(peer domain.UserID) (*RemoteStream, bool) {
	m.mu.Lock()
	h := m.handles[peer]
	m.mu.Unlock()
	if h == nil || !h.isAnnounced() {
		return nil, false
	}
	return h.remote, true
}

// Peers lists participants with an open connection.
func (m *Manager) Peers() []domain.UserID {
	m.mu.Lock()
	hs := make([]*handle, 0, len(m.handles))
	for _, h := range m.handles {
		hs = append(hs, h)
	}
	m.mu.Unlock()

	// h.mu is taken before m.mu elsewhere
	out := make([]domain.UserID, 0, len(hs))
	for _, h := range hs {
		if h.opened() {
			out = append(out, h.peer)
		}
	}
	return out
}

func (m *Manager) Session() domain.SessionID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

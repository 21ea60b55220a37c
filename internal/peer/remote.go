package peer

import (
	"context"
	"maps"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/namithm70/fitness-sub000/internal/core"
	"github.com/namithm70/fitness-sub000/internal/domain"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
)

// RemoteStream drains the inbound tracks of one participant and fans packets out to sinks.
type RemoteStream struct {
	id   string
	peer domain.UserID

	mu     sync.RWMutex
	tracks map[string]core.RemoteTrack
	ended  map[string]bool
	sinks  map[webrtc.RTPCodecType]map[string]*SinkHandle

	packets atomic.Uint64
	bytes   atomic.Uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     conc.WaitGroup
	logger zerolog.Logger
}

func newRemoteStream(peer domain.UserID) *RemoteStream {
	ctx, cancel := context.WithCancel(context.Background())
	return &RemoteStream{
		id:     uuid.NewString(),
		peer:   peer,
		tracks: make(map[string]core.RemoteTrack),
		ended:  make(map[string]bool),
		sinks:  make(map[webrtc.RTPCodecType]map[string]*SinkHandle),
		ctx:    ctx,
		cancel: cancel,
		logger: log.With().Str("module", "peer.remote").Str("peer", string(peer)).Logger(),
	}
}

func (s *RemoteStream) ID() string           { return s.id }
func (s *RemoteStream) Peer() domain.UserID { return s.peer }

func (s *RemoteStream) addTrack(t core.RemoteTrack) {
	s.mu.Lock()
	if _, ok := s.tracks[t.ID()]; ok {
		s.mu.Unlock()
		return
	}
	s.tracks[t.ID()] = t
	s.mu.Unlock()

	s.logger.Info().Str("track", t.ID()).Str("kind", t.Kind().String()).Msg("starting remote track loop")
	s.wg.Go(func() { s.loop(t) })
}

// loop reads RTP packets from the remote track and forwards them to all sinks of its kind.
func (s *RemoteStream) loop(t core.RemoteTrack) {
	defer func() {
		s.mu.Lock()
		s.ended[t.ID()] = true
		s.mu.Unlock()
	}()
	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}
		pkt, _, err := t.ReadRTP()
		if err != nil {
			s.logger.Debug().Err(err).Str("track", t.ID()).Msg("remote track read stopped")
			return
		}
		s.packets.Add(1)
		s.bytes.Add(uint64(len(pkt.Payload)))
		s.forward(t.Kind(), pkt)
	}
}

func (s *RemoteStream) forward(kind webrtc.RTPCodecType, pkt *rtp.Packet) {
	s.mu.RLock()
	snapshot := maps.Clone(s.sinks[kind])
	s.mu.RUnlock()

	var dirty []string
	for id, h := range snapshot {
		switch h.GetState() {
		case SinkStateDelete:
			dirty = append(dirty, id)
		case SinkStateMuted:
		case SinkStateOk:
			if err := h.sink.WriteRTP(pkt); err != nil {
				s.logger.Error().Err(err).Str("sink", id).Msg("sink write error, detaching")
				h.MarkDelete()
				dirty = append(dirty, id)
			}
		}
	}
	if len(dirty) > 0 {
		s.mu.Lock()
		for _, id := range dirty {
			delete(s.sinks[kind], id)
		}
		s.mu.Unlock()
	}
}

// Attach adds a sink for packets of the given kind.
func (s *RemoteStream) Attach(kind webrtc.RTPCodecType, sink Sink) *SinkHandle {
	h := &SinkHandle{id: uuid.NewString(), sink: sink}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sinks[kind] == nil {
		s.sinks[kind] = make(map[string]*SinkHandle)
	}
	s.sinks[kind][h.id] = h
	return h
}

func (s *RemoteStream) HasTracks() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tracks) > 0
}

// Kinds lists the kinds of received tracks.
func (s *RemoteStream) Kinds() []webrtc.RTPCodecType {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[webrtc.RTPCodecType]bool)
	var out []webrtc.RTPCodecType
	for _, t := range s.tracks {
		if !seen[t.Kind()] {
			seen[t.Kind()] = true
			out = append(out, t.Kind())
		}
	}
	return out
}

func (s *RemoteStream) Info() core.StreamInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info := core.StreamInfo{
		ID:      s.id,
		Tracks:  make([]core.TrackInfo, 0, len(s.tracks)),
		Packets: s.packets.Load(),
		Bytes:   s.bytes.Load(),
	}
	for id, t := range s.tracks {
		info.Tracks = append(info.Tracks, core.TrackInfo{ID: id, Kind: t.Kind().String(), Enabled: true, Live: !s.ended[id]})
	}
	return info
}

// close stops forwarding; loops exit once their tracks stop yielding.
func (s *RemoteStream) close() {
	s.cancel()
	s.mu.Lock()
	for _, byID := range s.sinks {
		for _, h := range byID {
			h.MarkDelete()
		}
	}
	s.mu.Unlock()
	go func() {
		s.wg.Wait()
		s.logger.Debug().Msg("remote stream drained")
	}()
}

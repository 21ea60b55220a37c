// Package peertest provides loopback media connections that negotiate without a network.
package peertest

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/namithm70/fitness-sub000/internal/core"
	"github.com/namithm70/fitness-sub000/internal/domain"
	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

var ErrNoRemoteDescription = errors.New("remote description not set")

const sdpPrefix = "v=0 fake "

// Network pairs connections through the ids embedded in their fake SDP.
type Network struct {
	mu          sync.Mutex
	byID        map[string]*Conn
	all         []*Conn
	failCreate error
}

func NewNetwork() *Network {
	return &Network{byID: make(map[string]*Conn)}
}

// Factory builds connections owned by self.
func (n *Network) Factory(self domain.UserID) core.MediaConnectionFactory {
	return factory{net: n, self: self}
}

func (n *Network) FailCreate(err error) {
	n.mu.Lock()
	n.failCreate = err
	n.mu.Unlock()
}

// Conns returns connections owned by self, oldest first.
func (n *Network) Conns(self domain.UserID) []*Conn {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []*Conn
	for _, c := range n.all {
		if c.self == self {
			out = append(out, c)
		}
	}
	return out
}

type factory struct {
	net  *Network
	self domain.UserID
}

func (f factory) NewConnection(peer domain.UserID) (core.MediaConnection, error) {
	f.net.mu.Lock()
	defer f.net.mu.Unlock()
	if f.net.failCreate != nil {
		return nil, f.net.failCreate
	}
	c := &Conn{
		net:    f.net,
		id:     uuid.NewString(),
		self:   f.self,
		peer:   peer,
		tracks: make(map[webrtc.RTPCodecType]webrtc.TrackLocal),
		kinds:  make(map[webrtc.RTPCodecType]bool),
	}
	f.net.byID[c.id] = c
	f.net.all = append(f.net.all, c)
	return c, nil
}

// Conn mimics a pion PeerConnection: callbacks fire on their own goroutine.
type Conn struct {
	net  *Network
	id   string
	self domain.UserID
	peer domain.UserID

	mu         sync.Mutex
	local      *webrtc.SessionDescription
	remote     *webrtc.SessionDescription
	tracks     map[webrtc.RTPCodecType]webrtc.TrackLocal
	kinds      map[webrtc.RTPCodecType]bool // guarded by net.mu
	candidates []webrtc.ICECandidateInit
	remotes    []*RemoteTrack
	connected  bool
	closed     bool
	replaceErr error
	onICE      func(webrtc.ICECandidateInit)
	onTrack    func(core.RemoteTrack)
	onState    func(core.ConnectionState)
}

func (c *Conn) Peer() domain.UserID { return c.peer }

func (c *Conn) CreateOffer() (webrtc.SessionDescription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return webrtc.SessionDescription{}, io.ErrClosedPipe
	}
	d := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdpPrefix + c.id}
	c.local = &d
	c.gatherLocked()
	return d, nil
}

func (c *Conn) ApplyOfferAndCreateAnswer(offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if !strings.HasPrefix(offer.SDP, sdpPrefix) {
		return webrtc.SessionDescription{}, fmt.Errorf("unparsable offer %q", offer.SDP)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return webrtc.SessionDescription{}, io.ErrClosedPipe
	}
	c.remote = &offer
	d := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdpPrefix + c.id}
	c.local = &d
	c.gatherLocked()
	c.connectLocked()
	return d, nil
}

func (c *Conn) ApplyAnswer(answer webrtc.SessionDescription) error {
	if !strings.HasPrefix(answer.SDP, sdpPrefix) {
		return fmt.Errorf("unparsable answer %q", answer.SDP)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.local == nil {
		return errors.New("answer without local offer")
	}
	c.remote = &answer
	c.connectLocked()
	return nil
}

func (c *Conn) AddICECandidate(ci webrtc.ICECandidateInit) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.remote == nil {
		return ErrNoRemoteDescription
	}
	c.candidates = append(c.candidates, ci)
	return nil
}

func (c *Conn) AddLocalTrack(t webrtc.TrackLocal) error {
	c.net.mu.Lock()
	c.kinds[t.Kind()] = true
	c.net.mu.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tracks[t.Kind()] = t
	return nil
}

func (c *Conn) ReplaceTrack(kind webrtc.RTPCodecType, t webrtc.TrackLocal) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.replaceErr != nil {
		return c.replaceErr
	}
	if c.tracks[kind] == nil {
		return fmt.Errorf("no %s sender", kind)
	}
	c.tracks[kind] = t
	return nil
}

// FailReplace makes every later ReplaceTrack return err.
func (c *Conn) FailReplace(err error) {
	c.mu.Lock()
	c.replaceErr = err
	c.mu.Unlock()
}

// Track returns the outgoing track of kind.
func (c *Conn) Track(kind webrtc.RTPCodecType) webrtc.TrackLocal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tracks[kind]
}

// Candidates returns remote candidates applied so far.
func (c *Conn) Candidates() []webrtc.ICECandidateInit {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]webrtc.ICECandidateInit(nil), c.candidates...)
}

// RemoteTracks returns the inbound tracks created on connect.
func (c *Conn) RemoteTracks() []*RemoteTrack {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*RemoteTrack(nil), c.remotes...)
}

func (c *Conn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected && !c.closed
}

func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Conn) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	c.mu.Lock()
	c.onICE = fn
	c.mu.Unlock()
}

func (c *Conn) OnTrack(fn func(core.RemoteTrack)) {
	c.mu.Lock()
	c.onTrack = fn
	c.mu.Unlock()
}

func (c *Conn) OnStateChange(fn func(core.ConnectionState)) {
	c.mu.Lock()
	c.onState = fn
	c.mu.Unlock()
}

// Fail drives the connection into the failed state.
func (c *Conn) Fail() {
	c.mu.Lock()
	fn := c.onState
	c.connected = false
	c.mu.Unlock()
	if fn != nil {
		go fn(core.ConnFailed)
	}
}

// Disconnect drops the transport the way a lost network path does.
func (c *Conn) Disconnect() { c.flip(false, core.ConnDisconnected) }

// Reconnect restores a connection after Disconnect.
func (c *Conn) Reconnect() { c.flip(true, core.ConnConnected) }

func (c *Conn) flip(connected bool, state core.ConnectionState) {
	c.mu.Lock()
	fn := c.onState
	c.connected = connected
	c.mu.Unlock()
	if fn != nil {
		go fn(state)
	}
}

func (c *Conn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	remotes := c.remotes
	fn := c.onState
	c.mu.Unlock()
	for _, r := range remotes {
		r.Close()
	}
	if fn != nil {
		go fn(core.ConnClosed)
	}
}

func (c *Conn) gatherLocked() {
	fn := c.onICE
	if fn == nil {
		return
	}
	mid := "0"
	cand := webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 2130706431 127.0.0.1 9 typ host", SDPMid: &mid}
	go fn(cand)
}

// connectLocked brings the connection up once both descriptions are set.
func (c *Conn) connectLocked() {
	if c.local == nil || c.remote == nil || c.connected {
		return
	}
	c.connected = true

	kinds := []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio}
	partnerID := strings.TrimPrefix(c.remote.SDP, sdpPrefix)
	c.net.mu.Lock()
	if partner := c.net.byID[partnerID]; partner != nil && partner != c {
		kinds = kinds[:0]
		for _, k := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
			if partner.kinds[k] {
				kinds = append(kinds, k)
			}
		}
	}
	c.net.mu.Unlock()
	for _, k := range kinds {
		c.remotes = append(c.remotes, NewRemoteTrack(k))
	}
	remotes := append([]*RemoteTrack(nil), c.remotes...)
	onTrack, onState := c.onTrack, c.onState
	go func() {
		for _, r := range remotes {
			if onTrack != nil {
				onTrack(r)
			}
		}
		if onState != nil {
			onState(core.ConnConnected)
		}
	}()
}

// RemoteTrack is an inbound track fed by Push.
type RemoteTrack struct {
	id      string
	kind    webrtc.RTPCodecType
	packets chan *rtp.Packet
	done    chan struct{}
	once    sync.Once
}

func NewRemoteTrack(kind webrtc.RTPCodecType) *RemoteTrack {
	return &RemoteTrack{
		id:      uuid.NewString(),
		kind:    kind,
		packets: make(chan *rtp.Packet, 64),
		done:    make(chan struct{}),
	}
}

func (r *RemoteTrack) ID() string                { return r.id }
func (r *RemoteTrack) Kind() webrtc.RTPCodecType { return r.kind }

func (r *RemoteTrack) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	select {
	case p := <-r.packets:
		return p, nil, nil
	case <-r.done:
		return nil, nil, io.EOF
	}
}

func (r *RemoteTrack) Push(p *rtp.Packet) {
	select {
	case r.packets <- p:
	case <-r.done:
	}
}

func (r *RemoteTrack) Close() {
	r.once.Do(func() { close(r.done) })
}

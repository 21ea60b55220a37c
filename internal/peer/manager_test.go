package peer

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/namithm70/fitness-sub000/internal/core"
	"github.com/namithm70/fitness-sub000/internal/domain"
	"github.com/namithm70/fitness-sub000/internal/peer/peertest"
	"github.com/namithm70/fitness-sub000/internal/signaling"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	alice domain.UserID = "alice"
	bob   domain.UserID = "bob"
	carol domain.UserID = "carol"
)

// outbox records sent signals and optionally forwards them, in order, to another manager.
type outbox struct {
	self domain.UserID

	mu   sync.Mutex
	sent []signaling.Signal
	fwd  chan signaling.Signal
}

func newOutbox(self domain.UserID) *outbox {
	return &outbox{self: self}
}

func (o *outbox) Send(m signaling.Message) error {
	sig, ok := m.(signaling.Signal)
	if !ok {
		return errors.New("unexpected message")
	}
	sig.From = o.self
	o.mu.Lock()
	o.sent = append(o.sent, sig)
	fwd := o.fwd
	o.mu.Unlock()
	if fwd != nil {
		fwd <- sig
	}
	return nil
}

func (o *outbox) pipe(t *testing.T, to *Manager) {
	ch := make(chan signaling.Signal, 64)
	done := make(chan struct{})
	o.mu.Lock()
	o.fwd = ch
	o.mu.Unlock()
	go func() {
		for {
			select {
			case sig := <-ch:
				to.IngestSignal(sig)
			case <-done:
				return
			}
		}
	}()
	t.Cleanup(func() { close(done) })
}

func (o *outbox) kinds() []signaling.NegotiationKind {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]signaling.NegotiationKind, 0, len(o.sent))
	for _, s := range o.sent {
		out = append(out, s.Kind)
	}
	return out
}

type recorder struct {
	mu       sync.Mutex
	streams  map[domain.UserID]*RemoteStream
	gone     []domain.UserID
	failures []*core.PeerConnectionError
}

func (r *recorder) events() Events {
	r.streams = make(map[domain.UserID]*RemoteStream)
	return Events{
		RemoteStream: func(p domain.UserID, s *RemoteStream) {
			r.mu.Lock()
			r.streams[p] = s
			r.mu.Unlock()
		},
		RemoteStreamGone: func(p domain.UserID) {
			r.mu.Lock()
			r.gone = append(r.gone, p)
			r.mu.Unlock()
		},
		Failure: func(err *core.PeerConnectionError) {
			r.mu.Lock()
			r.failures = append(r.failures, err)
			r.mu.Unlock()
		},
	}
}

func (r *recorder) stream(p domain.UserID) *RemoteStream {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.streams[p]
}

func (r *recorder) goneCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.gone)
}

func (r *recorder) failureCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.failures)
}

type side struct {
	m   *Manager
	out *outbox
	rec *recorder
}

func newSide(t *testing.T, net *peertest.Network, self domain.UserID, clk clock.Clock) side {
	t.Helper()
	out := newOutbox(self)
	m := NewManager(net.Factory(self), out, clk)
	rec := &recorder{}
	m.SetEvents(rec.events())
	t.Cleanup(m.Reset)
	return side{m: m, out: out, rec: rec}
}

func localTrack(t *testing.T, kind webrtc.RTPCodecType) webrtc.TrackLocal {
	t.Helper()
	codec := webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
	id := "audio"
	if kind == webrtc.RTPCodecTypeVideo {
		codec = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
		id = "video"
	}
	tr, err := webrtc.NewTrackLocalStaticSample(codec, id, "local")
	require.NoError(t, err)
	return tr
}

func signalFrom(t *testing.T, sid domain.SessionID, from domain.UserID, kind signaling.NegotiationKind, v any) signaling.Signal {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return signaling.Signal{SessionID: sid, From: from, To: bob, Kind: kind, Payload: raw}
}

func TestNegotiationBringsUpBothSides(t *testing.T) {
	net := peertest.NewNetwork()
	a := newSide(t, net, alice, nil)
	b := newSide(t, net, bob, nil)
	a.out.pipe(t, b.m)
	b.out.pipe(t, a.m)

	sid := domain.NewSessionID()
	a.m.Begin(sid)
	b.m.Begin(sid)

	audio, video := localTrack(t, webrtc.RTPCodecTypeAudio), localTrack(t, webrtc.RTPCodecTypeVideo)
	require.NoError(t, a.m.Open(bob, true, []webrtc.TrackLocal{audio, video}))
	require.NoError(t, b.m.Open(alice, false, []webrtc.TrackLocal{localTrack(t, webrtc.RTPCodecTypeAudio)}))

	require.Eventually(t, func() bool { return a.rec.stream(bob) != nil && b.rec.stream(alice) != nil }, time.Second, 5*time.Millisecond)

	assert.ElementsMatch(t, []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo}, b.rec.stream(alice).Kinds())
	assert.ElementsMatch(t, []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio}, a.rec.stream(bob).Kinds())

	s, ok := a.m.RemoteStream(bob)
	require.True(t, ok)
	assert.Equal(t, bob, s.Peer())
	assert.Equal(t, []domain.UserID{bob}, a.m.Peers())
	assert.Contains(t, a.out.kinds(), signaling.KindOffer)
	assert.Contains(t, b.out.kinds(), signaling.KindAnswer)
	assert.NotContains(t, b.out.kinds(), signaling.KindOffer)
}

func TestSignalsBeforeOpenAreReplayed(t *testing.T) {
	net := peertest.NewNetwork()
	a := newSide(t, net, alice, nil)
	b := newSide(t, net, bob, nil)
	a.out.pipe(t, b.m)
	b.out.pipe(t, a.m)

	sid := domain.NewSessionID()
	a.m.Begin(sid)
	b.m.Begin(sid)
	require.NoError(t, a.m.Open(bob, true, []webrtc.TrackLocal{localTrack(t, webrtc.RTPCodecTypeAudio)}))

	// the offer is parked on bob's side until the call is accepted
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, b.out.kinds())
	assert.Empty(t, b.m.Peers())

	require.NoError(t, b.m.Open(alice, false, []webrtc.TrackLocal{localTrack(t, webrtc.RTPCodecTypeAudio)}))
	require.Eventually(t, func() bool { return a.rec.stream(bob) != nil }, time.Second, 5*time.Millisecond)
}

func TestCandidatesWaitForRemoteDescription(t *testing.T) {
	net := peertest.NewNetwork()
	b := newSide(t, net, bob, nil)
	sid := domain.NewSessionID()
	b.m.Begin(sid)
	require.NoError(t, b.m.Open(alice, false, nil))

	mid := "0"
	b.m.IngestSignal(signalFrom(t, sid, alice, signaling.KindICECandidate, webrtc.ICECandidateInit{Candidate: "candidate:9", SDPMid: &mid}))
	conn := net.Conns(bob)[0]
	assert.Empty(t, conn.Candidates())
	assert.Zero(t, b.rec.failureCount())

	offerer, err := net.Factory(alice).NewConnection(bob)
	require.NoError(t, err)
	offer, err := offerer.CreateOffer()
	require.NoError(t, err)
	b.m.IngestSignal(signalFrom(t, sid, alice, signaling.KindOffer, offer))

	require.Len(t, conn.Candidates(), 1)
	assert.Equal(t, "candidate:9", conn.Candidates()[0].Candidate)
	assert.Contains(t, b.out.kinds(), signaling.KindAnswer)
}

func TestOrphanSignalRetriedOnce(t *testing.T) {
	clk := clock.NewMock()
	net := peertest.NewNetwork()
	b := newSide(t, net, bob, clk)
	sid := domain.NewSessionID()

	offerer, err := net.Factory(alice).NewConnection(bob)
	require.NoError(t, err)
	offer, err := offerer.CreateOffer()
	require.NoError(t, err)
	b.m.IngestSignal(signalFrom(t, sid, alice, signaling.KindOffer, offer))

	b.m.Begin(sid)
	clk.Add(DefaultOrphanWindow)
	require.NoError(t, b.m.Open(alice, false, nil))
	require.Eventually(t, func() bool {
		for _, k := range b.out.kinds() {
			if k == signaling.KindAnswer {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
}

func TestOrphanSignalDroppedAfterRetry(t *testing.T) {
	clk := clock.NewMock()
	net := peertest.NewNetwork()
	b := newSide(t, net, bob, clk)

	b.m.IngestSignal(signalFrom(t, "stale", alice, signaling.KindOffer, webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "x"}))
	clk.Add(DefaultOrphanWindow)
	time.Sleep(10 * time.Millisecond)

	b.m.Begin(domain.NewSessionID())
	require.NoError(t, b.m.Open(alice, false, nil))
	assert.Empty(t, b.out.kinds())
	assert.Zero(t, b.rec.failureCount())
}

func TestSignalForOtherSessionIgnored(t *testing.T) {
	clk := clock.NewMock()
	net := peertest.NewNetwork()
	b := newSide(t, net, bob, clk)
	b.m.Begin("current")
	require.NoError(t, b.m.Open(alice, false, nil))

	b.m.IngestSignal(signalFrom(t, "old", alice, signaling.KindAnswer, webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "x"}))
	clk.Add(DefaultOrphanWindow)
	time.Sleep(10 * time.Millisecond)
	assert.Zero(t, b.rec.failureCount())
}

func TestMalformedSignalReportsFailure(t *testing.T) {
	net := peertest.NewNetwork()
	b := newSide(t, net, bob, nil)
	sid := domain.NewSessionID()
	b.m.Begin(sid)
	require.NoError(t, b.m.Open(alice, false, nil))

	b.m.IngestSignal(signaling.Signal{SessionID: sid, From: alice, To: bob, Kind: signaling.KindOffer, Payload: json.RawMessage(`"nope"`)})
	require.Equal(t, 1, b.rec.failureCount())
	b.rec.mu.Lock()
	assert.Equal(t, alice, b.rec.failures[0].ParticipantID)
	b.rec.mu.Unlock()
}

func TestConnectionFailureReported(t *testing.T) {
	net := peertest.NewNetwork()
	a := newSide(t, net, alice, nil)
	b := newSide(t, net, bob, nil)
	a.out.pipe(t, b.m)
	b.out.pipe(t, a.m)
	sid := domain.NewSessionID()
	a.m.Begin(sid)
	b.m.Begin(sid)
	require.NoError(t, a.m.Open(bob, true, []webrtc.TrackLocal{localTrack(t, webrtc.RTPCodecTypeAudio)}))
	require.NoError(t, b.m.Open(alice, false, []webrtc.TrackLocal{localTrack(t, webrtc.RTPCodecTypeAudio)}))
	require.Eventually(t, func() bool { return a.rec.stream(bob) != nil }, time.Second, 5*time.Millisecond)

	net.Conns(alice)[0].Fail()
	require.Eventually(t, func() bool { return a.rec.failureCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, a.rec.goneCount())
	_, ok := a.m.RemoteStream(bob)
	assert.False(t, ok)
}

func TestOpenFactoryError(t *testing.T) {
	net := peertest.NewNetwork()
	net.FailCreate(errors.New("no ice"))
	a := newSide(t, net, alice, nil)
	a.m.Begin(domain.NewSessionID())

	err := a.m.Open(bob, true, nil)
	var pce *core.PeerConnectionError
	require.ErrorAs(t, err, &pce)
	assert.Equal(t, bob, pce.ParticipantID)
	assert.Empty(t, a.m.Peers())
}

func TestOpenWithoutSession(t *testing.T) {
	a := newSide(t, peertest.NewNetwork(), alice, nil)
	err := a.m.Open(bob, true, nil)
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestBeginNewSessionClosesOld(t *testing.T) {
	net := peertest.NewNetwork()
	a := newSide(t, net, alice, nil)
	a.m.Begin("first")
	require.NoError(t, a.m.Open(bob, true, []webrtc.TrackLocal{localTrack(t, webrtc.RTPCodecTypeAudio)}))
	require.Len(t, net.Conns(alice), 1)

	a.m.Begin("second")
	assert.True(t, net.Conns(alice)[0].Closed())
	assert.Empty(t, a.m.Peers())
	assert.Equal(t, domain.SessionID("second"), a.m.Session())
}

func TestCloseUnknownPeerIsNoop(t *testing.T) {
	net := peertest.NewNetwork()
	a := newSide(t, net, alice, nil)
	a.m.Begin("s")
	require.NoError(t, a.m.Open(bob, true, nil))

	a.m.Close(carol)
	assert.Equal(t, []domain.UserID{bob}, a.m.Peers())
	a.m.Close(bob)
	assert.Empty(t, a.m.Peers())
	assert.True(t, net.Conns(alice)[0].Closed())
}

func TestReplaceTrackRollsBack(t *testing.T) {
	net := peertest.NewNetwork()
	a := newSide(t, net, alice, nil)
	a.m.Begin("s")
	prev := localTrack(t, webrtc.RTPCodecTypeVideo)
	require.NoError(t, a.m.Open(bob, true, []webrtc.TrackLocal{prev}))
	require.NoError(t, a.m.Open(carol, true, []webrtc.TrackLocal{prev}))

	next := localTrack(t, webrtc.RTPCodecTypeVideo)
	require.NoError(t, a.m.ReplaceTrack(webrtc.RTPCodecTypeVideo, next, prev))
	for _, c := range net.Conns(alice) {
		assert.Same(t, next, c.Track(webrtc.RTPCodecTypeVideo))
	}

	conns := net.Conns(alice)
	conns[1].FailReplace(errors.New("sender gone"))
	third := localTrack(t, webrtc.RTPCodecTypeVideo)
	err := a.m.ReplaceTrack(webrtc.RTPCodecTypeVideo, third, next)
	var pce *core.PeerConnectionError
	require.ErrorAs(t, err, &pce)
	assert.Equal(t, conns[1].Peer(), pce.ParticipantID)
	assert.Same(t, next, conns[0].Track(webrtc.RTPCodecTypeVideo))
	assert.Same(t, next, conns[1].Track(webrtc.RTPCodecTypeVideo))
}

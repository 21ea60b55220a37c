// Package orch runs the call session state machine of one client.
package orch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/namithm70/fitness-sub000/internal/core"
	"github.com/namithm70/fitness-sub000/internal/domain"
	"github.com/namithm70/fitness-sub000/internal/media"
	"github.com/namithm70/fitness-sub000/internal/peer"
	"github.com/namithm70/fitness-sub000/internal/signaling"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/panics"
)

const DefaultAnswerTimeout = 30 * time.Second

// Signaler is the relay link as seen by the orchestrator.
type Signaler interface {
	Send(signaling.Message) error
	Subscribe(signaling.Handler) (unsubscribe func())
	TrackSession(domain.SessionID, domain.UserID)
	UntrackSession(domain.SessionID)
	Self() domain.UserID
}

type PermissionGate interface {
	Check() core.Permissions
	Request(ctx context.Context, audio, video bool) (core.Permissions, error)
}

type MediaSession interface {
	Acquire(ctx context.Context, callType domain.CallType, settings domain.MediaSettings) (*media.LocalStream, error)
	ToggleMute() (bool, error)
	ToggleVideo() (bool, error)
	ToggleScreenShare(ctx context.Context) (bool, error)
	Release()
	Info() *core.StreamInfo
}

type PeerConnections interface {
	SetEvents(peer.Events)
	Begin(domain.SessionID)
	Reset()
	Open(p domain.UserID, asInitiator bool, tracks []webrtc.TrackLocal) error
	Close(p domain.UserID)
	IngestSignal(signaling.Signal)
}

type PresenceView interface {
	IsOnline(domain.UserID) bool
}

type Deps struct {
	Channel  Signaler
	Gate     PermissionGate
	Media    MediaSession
	Peers    PeerConnections
	Presence PresenceView
	// History is optional.
	History core.CallHistory
	// Settings returns the media settings used at acquisition time.
	Settings      func() domain.MediaSettings
	Clock         clock.Clock
	AnswerTimeout time.Duration
	// OnRemoteStream is called on the loop goroutine when a participant's stream comes up.
	OnRemoteStream func(domain.UserID, *peer.RemoteStream)
}

// session is the current call; nil while idle.
type session struct {
	id         domain.SessionID
	typ        domain.CallType
	state      domain.SessionState
	direction  domain.Direction
	peer       domain.Participant
	startedAt  time.Time
	answeredAt time.Time
	timer      *clock.Timer
	remote     map[domain.UserID]*peer.RemoteStream
	hooked     map[string]bool // remote stream ids already handed to OnRemoteStream

	muted         bool
	videoEnabled  bool
	screenSharing bool
}

// setup is a StartCall or accept that is acquiring devices off the loop.
type setup struct {
	sid      domain.SessionID
	canceled bool
	cancel   context.CancelFunc // unblocks an open permission prompt
}

// abort marks the setup dead and cuts its device prompts short; loop only.
func (op *setup) abort() {
	op.canceled = true
	if op.cancel != nil {
		op.cancel()
	}
}

type Orchestrator struct {
	deps Deps

	ops  chan func()
	quit chan struct{}
	once sync.Once

	unsubscribe func()

	// loop-owned
	sess          *session
	pending       *setup
	version       uint64
	lastEndReason domain.EndReason
	lastError     string
	observers     map[int]func(core.Snapshot)
	nextObserver  int

	last atomic.Pointer[core.Snapshot]
}

func New(deps Deps) *Orchestrator {
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.AnswerTimeout <= 0 {
		deps.AnswerTimeout = DefaultAnswerTimeout
	}
	if deps.Settings == nil {
		deps.Settings = domain.DefaultMediaSettings
	}
	o := &Orchestrator{
		deps:      deps,
		ops:       make(chan func(), 256),
		quit:      make(chan struct{}),
		observers: make(map[int]func(core.Snapshot)),
	}
	o.last.Store(&core.Snapshot{State: domain.StateIdle, Participants: []domain.Participant{}, RemoteStreams: map[domain.UserID]core.StreamInfo{}})

	deps.Peers.SetEvents(peer.Events{
		RemoteStream: func(p domain.UserID, s *peer.RemoteStream) {
			o.post(func() { o.onRemoteStream(p, s) })
		},
		RemoteStreamGone: func(p domain.UserID) {
			o.post(func() { o.onRemoteStreamGone(p) })
		},
		Failure: func(err *core.PeerConnectionError) {
			o.post(func() { o.onPeerFailure(err) })
		},
	})
	o.unsubscribe = deps.Channel.Subscribe(o.onMessage)

	go o.run()
	return o
}

func (o *Orchestrator) run() {
	for {
		select {
		case <-o.quit:
			return
		case fn := <-o.ops:
			if r := panics.Try(fn); r != nil {
				log.Error().Err(r.AsError()).Str("module", "orch").Msg("loop op panicked")
			}
		}
	}
}

// post queues fn on the loop without waiting.
func (o *Orchestrator) post(fn func()) {
	select {
	case o.ops <- fn:
	case <-o.quit:
	}
}

// do runs fn on the loop and waits for it.
func (o *Orchestrator) do(fn func()) error {
	done := make(chan struct{})
	select {
	case o.ops <- func() { defer close(done); fn() }:
	case <-o.quit:
		return core.ErrClosed
	}
	select {
	case <-done:
		return nil
	case <-o.quit:
		return core.ErrClosed
	}
}

// Close hangs up an ongoing call and stops the loop.
func (o *Orchestrator) Close() {
	o.once.Do(func() {
		o.unsubscribe()
		_ = o.EndCall(domain.ReasonUserHangup)
		o.deps.Peers.SetEvents(peer.Events{})
		close(o.quit)
		log.Info().Str("module", "orch").Msg("orchestrator stopped")
	})
}

// OnStateChange registers fn for every snapshot after a transition. fn runs on the
// loop goroutine and must not call back into the orchestrator synchronously.
func (o *Orchestrator) OnStateChange(fn func(core.Snapshot)) (unsubscribe func()) {
	var id int
	_ = o.do(func() {
		id = o.nextObserver
		o.nextObserver++
		o.observers[id] = fn
	})
	return func() {
		o.post(func() { delete(o.observers, id) })
	}
}

// Snapshot returns the state published by the latest transition.
func (o *Orchestrator) Snapshot() core.Snapshot {
	return *o.last.Load()
}

// notify publishes a new snapshot; loop only.
func (o *Orchestrator) notify() {
	o.version++
	snap := o.buildSnapshot()
	o.last.Store(&snap)
	for id, fn := range o.observers {
		if r := panics.Try(func() { fn(snap) }); r != nil {
			log.Error().Err(r.AsError()).Str("module", "orch").Int("observer", id).Msg("observer panicked")
		}
	}
}

func (o *Orchestrator) buildSnapshot() core.Snapshot {
	snap := core.Snapshot{
		Version:       o.version,
		State:         domain.StateIdle,
		Participants:  []domain.Participant{},
		RemoteStreams: make(map[domain.UserID]core.StreamInfo),
		LastEndReason: o.lastEndReason,
		LastError:     o.lastError,
	}
	s := o.sess
	if s == nil {
		return snap
	}
	p := s.peer
	p.Online = o.online(p.ID)
	snap.SessionID = s.id
	snap.Type = s.typ
	snap.State = s.state
	snap.Direction = s.direction
	snap.Participants = append(snap.Participants, p)
	snap.LocalStream = o.deps.Media.Info()
	for id, rs := range s.remote {
		snap.RemoteStreams[id] = rs.Info()
	}
	snap.Muted = s.muted
	snap.VideoEnabled = s.videoEnabled
	snap.ScreenSharing = s.screenSharing
	snap.StartedAt = s.startedAt
	snap.AnsweredAt = s.answeredAt
	return snap
}

func (o *Orchestrator) online(id domain.UserID) bool {
	if o.deps.Presence == nil {
		return true
	}
	return o.deps.Presence.IsOnline(id)
}

// onMessage runs on the signaling dispatch goroutine; everything is handed to the loop in order.
func (o *Orchestrator) onMessage(m signaling.Message) {
	switch v := m.(type) {
	case signaling.Offer:
		o.post(func() { o.onOffer(v) })
	case signaling.Answer:
		o.post(func() { o.onAnswer(v) })
	case signaling.End:
		o.post(func() { o.onEnd(v) })
	case signaling.Signal:
		o.post(func() { o.deps.Peers.IngestSignal(v) })
	case signaling.Presence:
		o.post(func() {
			if o.sess != nil && o.sess.peer.ID == v.UserID {
				o.notify()
			}
		})
	}
}

// Permissions returns the cached permission state without prompting.
func (o *Orchestrator) Permissions() core.Permissions {
	return o.deps.Gate.Check()
}

// RequestPermissions probes the devices.
func (o *Orchestrator) RequestPermissions(ctx context.Context, audio, video bool) (core.Permissions, error) {
	return o.deps.Gate.Request(ctx, audio, video)
}

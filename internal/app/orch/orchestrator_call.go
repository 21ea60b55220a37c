package orch

import (
	"context"
	"fmt"

	"github.com/namithm70/fitness-sub000/internal/core"
	"github.com/namithm70/fitness-sub000/internal/domain"
	"github.com/namithm70/fitness-sub000/internal/media"
	"github.com/namithm70/fitness-sub000/internal/peer"
	"github.com/namithm70/fitness-sub000/internal/signaling"
	"github.com/rs/zerolog/log"
)

// StartCall rings callee. It returns false, with the session left idle, if anything
// fails before the offer is out.
func (o *Orchestrator) StartCall(ctx context.Context, callee domain.UserID, callType domain.CallType) (bool, error) {
	if err := callee.Validate(); err != nil {
		return false, err
	}
	if _, err := domain.ParseCallType(string(callType)); err != nil {
		return false, err
	}
	self := o.deps.Channel.Self()
	if callee == self {
		return false, fmt.Errorf("%w: cannot call yourself", core.ErrBusy)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		op      *setup
		busyErr error
	)
	if err := o.do(func() {
		if o.sess != nil || o.pending != nil {
			busyErr = core.ErrBusy
			return
		}
		op = &setup{sid: domain.NewSessionID(), cancel: cancel}
		o.pending = op
	}); err != nil {
		return false, err
	}
	if busyErr != nil {
		return false, busyErr
	}

	logger := log.With().Str("module", "orch").Str("session", string(op.sid)).Str("peer", string(callee)).Logger()
	if !o.online(callee) {
		logger.Warn().Msg("callee appears offline, calling anyway")
	}

	stream, err := o.prepareMedia(ctx, callType)

	var result error
	if derr := o.do(func() {
		if op.canceled {
			logger.Info().Msg("call setup canceled")
			result = core.ErrCanceled
			o.abortSetup(op, nil)
			return
		}
		if err != nil {
			logger.Warn().Err(err).Msg("call setup failed")
			result = err
			o.abortSetup(op, err)
			return
		}
		o.pending = nil
		o.deps.Peers.Begin(op.sid)
		o.deps.Channel.TrackSession(op.sid, callee)
		if err := o.deps.Peers.Open(callee, true, stream.Outputs()); err != nil {
			result = err
			o.abortSetup(op, err)
			return
		}
		offer := signaling.Offer{To: callee, CallType: callType, SessionID: op.sid, TS: signaling.Now()}
		if err := o.deps.Channel.Send(offer); err != nil {
			result = err
			o.abortSetup(op, err)
			return
		}

		sid := op.sid
		o.sess = &session{
			id:           sid,
			typ:          callType,
			state:        domain.StateOutgoingRinging,
			direction:    domain.DirectionOutgoing,
			peer:         domain.NewParticipant(callee, o.online(callee)),
			startedAt:    o.deps.Clock.Now(),
			remote:       make(map[domain.UserID]*peer.RemoteStream),
			hooked:       make(map[string]bool),
			videoEnabled: callType.HasVideo(),
		}
		o.sess.timer = o.deps.Clock.AfterFunc(o.deps.AnswerTimeout, func() {
			o.post(func() { o.onTimeout(sid) })
		})
		o.lastEndReason, o.lastError = "", ""
		logger.Info().Str("type", string(callType)).Msg("ringing")
		o.notify()
	}); derr != nil {
		o.deps.Media.Release()
		return false, derr
	}
	if result != nil {
		return false, result
	}
	return true, nil
}

// prepareMedia asks for permissions and opens the devices; it runs off the loop.
func (o *Orchestrator) prepareMedia(ctx context.Context, callType domain.CallType) (*media.LocalStream, error) {
	if _, err := o.deps.Gate.Request(ctx, true, callType.HasVideo()); err != nil {
		return nil, err
	}
	stream, err := o.deps.Media.Acquire(ctx, callType, o.deps.Settings())
	if err != nil {
		return nil, err
	}
	return stream, nil
}

// abortSetup undoes a setup that never reached a session; loop only.
func (o *Orchestrator) abortSetup(op *setup, err error) {
	if o.pending == op {
		o.pending = nil
	}
	o.deps.Channel.UntrackSession(op.sid)
	o.deps.Peers.Reset()
	o.deps.Media.Release()
	if err != nil {
		o.lastError = core.ReasonCode(err)
		o.notify()
	}
}

// Answer accepts or declines the ringing incoming call sid.
func (o *Orchestrator) Answer(ctx context.Context, sid domain.SessionID, accepted bool) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		op       *setup
		caller   domain.UserID
		callType domain.CallType
		result   error
	)
	if err := o.do(func() {
		s := o.sess
		if s == nil || s.state != domain.StateIncomingRinging || s.id != sid {
			result = core.ErrSessionMismatch
			return
		}
		if o.pending != nil {
			result = core.ErrBusy
			return
		}
		if !accepted {
			o.send(signaling.Answer{SessionID: sid, Accepted: false, TS: signaling.Now(), To: s.peer.ID})
			o.teardown(domain.ReasonUserDeclined)
			return
		}
		op = &setup{sid: sid, cancel: cancel}
		o.pending = op
		caller, callType = s.peer.ID, s.typ
	}); err != nil {
		return err
	}
	if result != nil || op == nil {
		return result
	}

	logger := log.With().Str("module", "orch").Str("session", string(sid)).Str("peer", string(caller)).Logger()
	stream, err := o.prepareMedia(ctx, callType)

	if derr := o.do(func() {
		if o.pending == op {
			o.pending = nil
		}
		if op.canceled || o.sess == nil || o.sess.id != sid {
			o.deps.Media.Release()
			result = core.ErrNoActiveCall
			return
		}
		if err != nil {
			logger.Warn().Err(err).Msg("accept failed, declining")
			o.send(signaling.Answer{SessionID: sid, Accepted: false, TS: signaling.Now(), To: caller})
			o.lastError = core.ReasonCode(err)
			o.teardown(domain.ReasonUserDeclined)
			result = err
			return
		}
		o.send(signaling.Answer{SessionID: sid, Accepted: true, TS: signaling.Now(), To: caller})
		if err := o.deps.Peers.Open(caller, false, stream.Outputs()); err != nil {
			logger.Warn().Err(err).Msg("peer connection failed")
			o.send(signaling.End{SessionID: sid, Reason: domain.ReasonConnectionFailed, TS: signaling.Now(), To: caller})
			o.lastError = core.ReasonCode(err)
			o.teardown(domain.ReasonConnectionFailed)
			result = err
			return
		}
		o.sess.state = domain.StateActive
		o.sess.answeredAt = o.deps.Clock.Now()
		logger.Info().Msg("call active")
		o.notify()
	}); derr != nil {
		o.deps.Media.Release()
		return derr
	}
	return result
}

// EndCall hangs up. It is a no-op while idle.
func (o *Orchestrator) EndCall(reason domain.EndReason) error {
	if reason == "" {
		reason = domain.ReasonUserHangup
	}
	if _, err := domain.ParseEndReason(string(reason)); err != nil {
		return err
	}
	return o.do(func() {
		if o.sess == nil {
			if o.pending != nil {
				o.pending.abort()
			}
			return
		}
		o.send(signaling.End{SessionID: o.sess.id, Reason: reason, TS: signaling.Now(), To: o.sess.peer.ID})
		o.teardown(reason)
	})
}

func (o *Orchestrator) onOffer(m signaling.Offer) {
	logger := log.With().Str("module", "orch").Str("session", string(m.SessionID)).Str("peer", string(m.From)).Logger()
	if m.From == "" || m.SessionID == "" {
		logger.Warn().Msg("malformed offer dropped")
		return
	}
	if o.sess != nil && o.sess.id == m.SessionID {
		return
	}
	if o.sess != nil || o.pending != nil {
		logger.Info().Msg("busy, rejecting offer")
		o.send(signaling.End{SessionID: m.SessionID, Reason: domain.ReasonUserBusy, TS: signaling.Now(), To: m.From})
		return
	}
	callType := m.CallType
	if _, err := domain.ParseCallType(string(callType)); err != nil {
		callType = domain.CallAudio
	}

	o.deps.Peers.Begin(m.SessionID)
	o.deps.Channel.TrackSession(m.SessionID, m.From)
	o.sess = &session{
		id:           m.SessionID,
		typ:          callType,
		state:        domain.StateIncomingRinging,
		direction:    domain.DirectionIncoming,
		peer:         domain.NewParticipant(m.From, o.online(m.From)),
		startedAt:    o.deps.Clock.Now(),
		remote:       make(map[domain.UserID]*peer.RemoteStream),
		hooked:       make(map[string]bool),
		videoEnabled: callType.HasVideo(),
	}
	o.lastEndReason, o.lastError = "", ""
	logger.Info().Str("type", string(callType)).Msg("incoming call")
	o.notify()
}

func (o *Orchestrator) onAnswer(m signaling.Answer) {
	s := o.sess
	if s == nil || s.id != m.SessionID || s.state != domain.StateOutgoingRinging {
		return
	}
	if m.From != s.peer.ID {
		log.Warn().Str("module", "orch").Str("session", string(s.id)).Str("from", string(m.From)).Msg("answer from outside the call dropped")
		return
	}
	s.timer.Stop()
	if !m.Accepted {
		log.Info().Str("module", "orch").Str("session", string(s.id)).Msg("call declined")
		o.teardown(domain.ReasonUserDeclined)
		return
	}
	s.state = domain.StateActive
	s.answeredAt = o.deps.Clock.Now()
	log.Info().Str("module", "orch").Str("session", string(s.id)).Msg("call active")
	o.notify()
}

func (o *Orchestrator) onEnd(m signaling.End) {
	s := o.sess
	if s == nil || s.id != m.SessionID {
		return
	}
	if m.From != s.peer.ID {
		log.Warn().Str("module", "orch").Str("session", string(s.id)).Str("from", string(m.From)).Msg("end from outside the call dropped")
		return
	}
	reason := m.Reason
	if _, err := domain.ParseEndReason(string(reason)); err != nil {
		reason = domain.ReasonUserHangup
	}
	log.Info().Str("module", "orch").Str("session", string(s.id)).Str("reason", string(reason)).Msg("remote ended call")
	o.teardown(reason)
}

func (o *Orchestrator) onTimeout(sid domain.SessionID) {
	s := o.sess
	if s == nil || s.id != sid || s.state != domain.StateOutgoingRinging {
		return
	}
	log.Info().Str("module", "orch").Str("session", string(sid)).Msg("no answer")
	o.send(signaling.End{SessionID: sid, Reason: domain.ReasonTimeout, TS: signaling.Now(), To: s.peer.ID})
	o.teardown(domain.ReasonTimeout)
}

func (o *Orchestrator) send(m signaling.Message) {
	if err := o.deps.Channel.Send(m); err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("type", string(m.Type())).Msg("send failed")
	}
}

// teardown releases everything the session holds and returns to idle; loop only.
func (o *Orchestrator) teardown(reason domain.EndReason) {
	s := o.sess
	if s == nil {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	if o.pending != nil {
		o.pending.abort()
	}
	o.deps.Channel.UntrackSession(s.id)
	o.deps.Media.Release()
	o.deps.Peers.Reset()
	o.sess = nil
	o.lastEndReason = reason
	o.record(s, reason)
	log.Info().Str("module", "orch").Str("session", string(s.id)).Str("reason", string(reason)).Msg("call ended")
	o.notify()
}

func (o *Orchestrator) record(s *session, reason domain.EndReason) {
	if o.deps.History == nil {
		return
	}
	rec := core.CallRecord{
		SessionID:  s.id,
		Peer:       s.peer.ID,
		Type:       s.typ,
		Direction:  s.direction,
		Reason:     reason,
		StartedAt:  s.startedAt,
		AnsweredAt: s.answeredAt,
		EndedAt:    o.deps.Clock.Now(),
	}
	go func() {
		if err := o.deps.History.Record(context.Background(), rec); err != nil {
			log.Error().Err(err).Str("module", "orch").Str("session", string(rec.SessionID)).Msg("history write failed")
		}
	}()
}

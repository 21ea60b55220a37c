package orch

import (
	"context"

	"github.com/namithm70/fitness-sub000/internal/core"
	"github.com/namithm70/fitness-sub000/internal/domain"
	"github.com/namithm70/fitness-sub000/internal/peer"
	"github.com/namithm70/fitness-sub000/internal/signaling"
	"github.com/rs/zerolog/log"
)

// ToggleMute flips the microphone and returns whether it is now muted. No signaling is involved.
func (o *Orchestrator) ToggleMute() (bool, error) {
	var (
		muted  bool
		result error
	)
	if err := o.do(func() {
		if o.sess == nil {
			result = core.ErrNoActiveCall
			return
		}
		muted, result = o.deps.Media.ToggleMute()
		if result != nil {
			return
		}
		o.sess.muted = muted
		o.notify()
	}); err != nil {
		return false, err
	}
	return muted, result
}

// ToggleVideo flips the camera and returns whether video is now enabled.
func (o *Orchestrator) ToggleVideo() (bool, error) {
	var (
		enabled bool
		result  error
	)
	if err := o.do(func() {
		if o.sess == nil {
			result = core.ErrNoActiveCall
			return
		}
		enabled, result = o.deps.Media.ToggleVideo()
		if result != nil {
			return
		}
		o.sess.videoEnabled = enabled
		o.notify()
	}); err != nil {
		return false, err
	}
	return enabled, result
}

// ToggleScreenShare starts or stops sharing the screen in place of the camera.
// The display capture runs off the loop.
func (o *Orchestrator) ToggleScreenShare(ctx context.Context) (bool, error) {
	var (
		sid    domain.SessionID
		prior  bool
		result error
	)
	if err := o.do(func() {
		if o.sess == nil {
			result = core.ErrNoActiveCall
			return
		}
		if !o.sess.typ.HasVideo() {
			result = core.ErrNoVideoTrack
			return
		}
		sid, prior = o.sess.id, o.sess.screenSharing
	}); err != nil {
		return false, err
	}
	if result != nil {
		return false, result
	}

	sharing, err := o.deps.Media.ToggleScreenShare(ctx)
	if err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("session", string(sid)).Msg("screen share toggle failed")
		return prior, err
	}
	if derr := o.do(func() {
		if o.sess == nil || o.sess.id != sid {
			result = core.ErrNoActiveCall
			return
		}
		o.sess.screenSharing = sharing
		o.notify()
	}); derr != nil {
		return prior, derr
	}
	if result != nil {
		return prior, result
	}
	return sharing, nil
}

func (o *Orchestrator) onRemoteStream(p domain.UserID, s *peer.RemoteStream) {
	if o.sess == nil || o.sess.peer.ID != p {
		return
	}
	o.sess.remote[p] = s
	log.Info().Str("module", "orch").Str("session", string(o.sess.id)).Str("peer", string(p)).Msg("remote stream up")
	if o.deps.OnRemoteStream != nil && !o.sess.hooked[s.ID()] {
		o.sess.hooked[s.ID()] = true
		o.deps.OnRemoteStream(p, s)
	}
	o.notify()
}

func (o *Orchestrator) onRemoteStreamGone(p domain.UserID) {
	if o.sess == nil {
		return
	}
	if _, ok := o.sess.remote[p]; !ok {
		return
	}
	delete(o.sess.remote, p)
	o.notify()
}

// onPeerFailure drops the failed participant; with nobody left the call ends.
func (o *Orchestrator) onPeerFailure(err *core.PeerConnectionError) {
	s := o.sess
	if s == nil || s.peer.ID != err.ParticipantID {
		return
	}
	log.Warn().Err(err).Str("module", "orch").Str("session", string(s.id)).Msg("peer connection failed")
	o.deps.Peers.Close(err.ParticipantID)
	delete(s.remote, err.ParticipantID)
	o.lastError = core.ReasonCode(err)
	o.send(signaling.End{SessionID: s.id, Reason: domain.ReasonConnectionFailed, TS: signaling.Now(), To: s.peer.ID})
	o.teardown(domain.ReasonConnectionFailed)
}

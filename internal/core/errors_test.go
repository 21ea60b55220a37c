package core

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReasonCode(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{&MediaAcquisitionError{Cause: ErrPermissionDenied}, "permission_denied"},
		{&MediaAcquisitionError{Cause: fmt.Errorf("open: %w", ErrDeviceNotFound)}, "device_not_found"},
		{&MediaAcquisitionError{Cause: errors.New("encoder")}, "media_unavailable"},
		{fmt.Errorf("connect: %w", ErrRelayUnavailable), "relay_unavailable"},
		{&PeerConnectionError{ParticipantID: "bob", Cause: errors.New("ice")}, "connection_failed"},
		{ErrBusy, "busy"},
		{ErrCanceled, "canceled"},
		{&MediaAcquisitionError{Cause: ErrCanceled}, "canceled"},
		{ErrSessionMismatch, "no_such_call"},
		{ErrNoVideoTrack, "no_video"},
		{errors.New("boom"), "internal"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, ReasonCode(c.err), "%v", c.err)
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("sdp")
	err := fmt.Errorf("open: %w", &PeerConnectionError{ParticipantID: "bob", Cause: cause})
	var pe *PeerConnectionError
	assert.True(t, errors.As(err, &pe))
	assert.Equal(t, "bob", string(pe.ParticipantID))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "peer bob: sdp", pe.Error())
}

func TestStreamInfoLiveTracks(t *testing.T) {
	s := StreamInfo{Tracks: []TrackInfo{{Live: true}, {Live: false}, {Live: true}}}
	assert.Equal(t, 2, s.LiveTracks())
}

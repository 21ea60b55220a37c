package rtc

import (
	"strings"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestConn(t *testing.T) *WebRTCConnection {
	t.Helper()
	f, err := NewFactory(Config{})
	require.NoError(t, err)
	mc, err := f.NewConnection("bob")
	require.NoError(t, err)
	t.Cleanup(mc.Close)
	return mc.(*WebRTCConnection)
}

func opusTrack(t *testing.T, id string) *webrtc.TrackLocalStaticSample {
	t.Helper()
	tr, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}, id, "local")
	require.NoError(t, err)
	return tr
}

func TestOfferCarriesLocalTracks(t *testing.T) {
	c := newTestConn(t)
	require.NoError(t, c.AddLocalTrack(opusTrack(t, "mic")))

	offer, err := c.CreateOffer()
	require.NoError(t, err)
	assert.Equal(t, webrtc.SDPTypeOffer, offer.Type)
	assert.True(t, strings.Contains(offer.SDP, "m=audio"))
}

func TestOfferAnswerBetweenConnections(t *testing.T) {
	caller := newTestConn(t)
	callee := newTestConn(t)
	require.NoError(t, caller.AddLocalTrack(opusTrack(t, "a")))
	require.NoError(t, callee.AddLocalTrack(opusTrack(t, "b")))

	offer, err := caller.CreateOffer()
	require.NoError(t, err)
	answer, err := callee.ApplyOfferAndCreateAnswer(offer)
	require.NoError(t, err)
	assert.Equal(t, webrtc.SDPTypeAnswer, answer.Type)
	require.NoError(t, caller.ApplyAnswer(answer))
}

func TestReplaceTrack(t *testing.T) {
	c := newTestConn(t)
	assert.ErrorIs(t, c.ReplaceTrack(webrtc.RTPCodecTypeVideo, opusTrack(t, "x")), ErrNoSender)

	require.NoError(t, c.AddLocalTrack(opusTrack(t, "mic")))
	assert.NoError(t, c.ReplaceTrack(webrtc.RTPCodecTypeAudio, opusTrack(t, "mic2")))
}

func TestCloseTwice(t *testing.T) {
	c := newTestConn(t)
	c.Close()
	c.Close()
}

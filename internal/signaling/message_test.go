package signaling

import (
	"encoding/json"
	"testing"

	"github.com/namithm70/fitness-sub000/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeOfferWireShape(t *testing.T) {
	b, err := Encode(Offer{From: "alice", To: "bob", CallType: domain.CallVideo, SessionID: "s1", TS: 42})
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Equal(t, map[string]any{
		"type":      "call-offer",
		"from":      "alice",
		"to":        "bob",
		"callType":  "video",
		"sessionId": "s1",
		"ts":        float64(42),
	}, got)
}

func TestDecodeVariants(t *testing.T) {
	payload := json.RawMessage(`{"type":"offer","sdp":"v=0"}`)
	msgs := []Message{
		Offer{From: "a", To: "b", CallType: domain.CallAudio, SessionID: "s", TS: 1},
		Answer{SessionID: "s", Accepted: true, TS: 2, From: "b", To: "a"},
		End{SessionID: "s", Reason: domain.ReasonTimeout, TS: 3, To: "b"},
		Signal{SessionID: "s", From: "a", To: "b", Kind: KindOffer, Payload: payload},
		Presence{UserID: "c", Online: true},
		Join{UserID: "a", DisplayName: "Alice"},
		Joined{UserID: "a", Online: []domain.UserID{"b"}},
		Error{Code: "rate_limited"},
	}
	for _, m := range msgs {
		b, err := Encode(m)
		require.NoError(t, err)
		got, err := Decode(b)
		require.NoError(t, err)
		assert.Equal(t, m, got)
	}
}

func TestEncodeEmptyVariant(t *testing.T) {
	b, err := Encode(Ping{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"ping"}`, string(b))

	m, err := Decode([]byte(`{"type":"pong"}`))
	require.NoError(t, err)
	assert.Equal(t, Pong{}, m)
}

func TestDecodeSignalKeepsPayloadOpaque(t *testing.T) {
	m, err := Decode([]byte(`{"type":"call-signal","sessionId":"s","from":"a","to":"b","signalType":"ice-candidate","signal":{"candidate":"c1","sdpMid":"0"}}`))
	require.NoError(t, err)
	sig, ok := m.(Signal)
	require.True(t, ok)
	assert.Equal(t, KindICECandidate, sig.Kind)
	assert.JSONEq(t, `{"candidate":"c1","sdpMid":"0"}`, string(sig.Payload))
}

func TestDecodeErrors(t *testing.T) {
	_, err := Decode([]byte(`{"type":"teleport"}`))
	assert.ErrorIs(t, err, ErrUnknownType)

	_, err = Decode([]byte(`not json`))
	assert.Error(t, err)

	_, err = Decode([]byte(`{"type":"call-answer","accepted":"yes"}`))
	assert.Error(t, err)
}

func TestFromStamping(t *testing.T) {
	m := WithFrom(End{SessionID: "s", Reason: domain.ReasonUserHangup}, "alice")
	assert.Equal(t, domain.UserID("alice"), m.(End).From)

	m = WithFrom(Offer{From: "bob"}, "alice")
	assert.Equal(t, domain.UserID("bob"), m.(Offer).From)

	m = ForceFrom(Signal{From: "mallory"}, "alice")
	assert.Equal(t, domain.UserID("alice"), m.(Signal).From)

	assert.Equal(t, Presence{UserID: "x"}, WithFrom(Presence{UserID: "x"}, "alice"))
}

package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/namithm70/fitness-sub000/internal/core"
	"github.com/namithm70/fitness-sub000/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCalls struct {
	mu        sync.Mutex
	snap      core.Snapshot
	startErr  error
	started   []StartCallRequest
	answered  map[domain.SessionID]bool
	ended     []domain.EndReason
	muted     bool
	observers []func(core.Snapshot)
}

func newFakeCalls() *fakeCalls {
	return &fakeCalls{
		snap:     core.Snapshot{State: domain.StateIdle, Participants: []domain.Participant{}},
		answered: make(map[domain.SessionID]bool),
	}
}

func (f *fakeCalls) StartCall(_ context.Context, callee domain.UserID, typ domain.CallType) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return false, f.startErr
	}
	if err := callee.Validate(); err != nil {
		return false, err
	}
	f.started = append(f.started, StartCallRequest{Callee: callee, CallType: typ})
	return true, nil
}

func (f *fakeCalls) Answer(_ context.Context, sid domain.SessionID, accepted bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if sid != "s1" {
		return core.ErrSessionMismatch
	}
	f.answered[sid] = accepted
	return nil
}

func (f *fakeCalls) EndCall(reason domain.EndReason) error {
	f.mu.Lock()
	f.ended = append(f.ended, reason)
	f.mu.Unlock()
	return nil
}

func (f *fakeCalls) ToggleMute() (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.muted = !f.muted
	return f.muted, nil
}

func (f *fakeCalls) ToggleVideo() (bool, error) { return false, core.ErrNoActiveCall }

func (f *fakeCalls) ToggleScreenShare(context.Context) (bool, error) {
	return false, core.ErrNoVideoTrack
}

func (f *fakeCalls) Permissions() core.Permissions {
	return core.Permissions{Audio: core.PermissionPrompt, Video: core.PermissionPrompt}
}

func (f *fakeCalls) RequestPermissions(_ context.Context, audio, video bool) (core.Permissions, error) {
	p := core.Permissions{Audio: core.PermissionGranted, Video: core.PermissionDenied}
	return p, fmt.Errorf("camera: %w", core.ErrPermissionDenied)
}

func (f *fakeCalls) Snapshot() core.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeCalls) OnStateChange(fn func(core.Snapshot)) func() {
	f.mu.Lock()
	f.observers = append(f.observers, fn)
	f.mu.Unlock()
	return func() {}
}

func (f *fakeCalls) publish(s core.Snapshot) {
	f.mu.Lock()
	f.snap = s
	obs := append([]func(core.Snapshot){}, f.observers...)
	f.mu.Unlock()
	for _, fn := range obs {
		fn(s)
	}
}

type fakeRoster []domain.UserID

func (r fakeRoster) ListOnline() []domain.UserID { return r }

type fakeSettings struct {
	mu  sync.Mutex
	cur domain.MediaSettings
}

func (s *fakeSettings) Get() domain.MediaSettings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur
}

func (s *fakeSettings) Set(m domain.MediaSettings) error {
	s.mu.Lock()
	s.cur = m
	s.mu.Unlock()
	return nil
}

type fakeHistory struct{ recs []core.CallRecord }

func (h *fakeHistory) Record(context.Context, core.CallRecord) error { return nil }

func (h *fakeHistory) List(_ context.Context, limit int) ([]core.CallRecord, error) {
	if limit > 0 && limit < len(h.recs) {
		return h.recs[:limit], nil
	}
	return h.recs, nil
}

type fakeDevices []core.Device

func (d fakeDevices) Devices() []core.Device { return d }

type harness struct {
	calls    *fakeCalls
	settings *fakeSettings
	handler  http.Handler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	h := &harness{calls: newFakeCalls(), settings: &fakeSettings{cur: domain.DefaultMediaSettings()}}
	h.handler = SetupRouter(context.Background(), Deps{
		Calls:    h.calls,
		Presence: fakeRoster{"bob", "carol"},
		Settings: h.settings,
		History: &fakeHistory{recs: []core.CallRecord{
			{SessionID: "s2", Peer: "carol", Type: domain.CallAudio, Reason: domain.ReasonTimeout},
			{SessionID: "s1", Peer: "bob", Type: domain.CallVideo, Reason: domain.ReasonUserHangup},
		}},
		Devices:        fakeDevices{{ID: "cam0", Kind: "video", Label: "Camera"}},
		AllowedOrigins: []string{"http://localhost:5173"},
	})
	return h
}

func (h *harness) do(method, path, body string) *httptest.ResponseRecorder {
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		r.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.handler.ServeHTTP(w, r)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestStartCall(t *testing.T) {
	h := newHarness(t)

	w := h.do(http.MethodPost, "/api/calls", `{"callee":"bob","callType":"audio"}`)
	assert.Equal(t, http.StatusAccepted, w.Code)
	w = h.do(http.MethodPost, "/api/calls", `{"callee":"bob"}`)
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, []StartCallRequest{{"bob", domain.CallAudio}, {"bob", domain.CallVideo}}, h.calls.started)

	w = h.do(http.MethodPost, "/api/calls", `{"callee":""}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.do(http.MethodPost, "/api/calls", `{`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "bad_request", decode[ErrorResponse](t, w).Error)
}

func TestStartCallErrors(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{core.ErrBusy, http.StatusConflict, "busy"},
		{core.ErrCanceled, http.StatusConflict, "canceled"},
		{&core.MediaAcquisitionError{Cause: core.ErrPermissionDenied}, http.StatusForbidden, "permission_denied"},
		{&core.MediaAcquisitionError{Cause: core.ErrDeviceNotFound}, http.StatusFailedDependency, "device_not_found"},
		{fmt.Errorf("send: %w", core.ErrNotConnected), http.StatusServiceUnavailable, "relay_unavailable"},
	}
	for _, tc := range cases {
		h := newHarness(t)
		h.calls.startErr = tc.err
		w := h.do(http.MethodPost, "/api/calls", `{"callee":"bob","callType":"video"}`)
		assert.Equal(t, tc.status, w.Code, "%v", tc.err)
		assert.Equal(t, tc.code, decode[ErrorResponse](t, w).Error)
	}
}

func TestAnswerAndEnd(t *testing.T) {
	h := newHarness(t)

	w := h.do(http.MethodPost, "/api/calls/s1/answer", `{"accepted":true}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, h.calls.answered["s1"])

	w = h.do(http.MethodPost, "/api/calls/zzz/answer", `{"accepted":true}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "no_such_call", decode[ErrorResponse](t, w).Error)

	assert.Equal(t, http.StatusOK, h.do(http.MethodPost, "/api/calls/end", "").Code)
	assert.Equal(t, http.StatusOK, h.do(http.MethodPost, "/api/calls/end", `{"reason":"user_busy"}`).Code)
	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodPost, "/api/calls/end", `{"reason":"bored"}`).Code)
	assert.Equal(t, []domain.EndReason{"", domain.ReasonUserBusy}, h.calls.ended)
}

func TestToggles(t *testing.T) {
	h := newHarness(t)

	w := h.do(http.MethodPost, "/api/media/mute", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]bool{"muted": true}, decode[map[string]bool](t, w))

	w = h.do(http.MethodPost, "/api/media/video", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = h.do(http.MethodPost, "/api/media/screenshare", "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "no_video", decode[ErrorResponse](t, w).Error)
}

func TestPermissions(t *testing.T) {
	h := newHarness(t)

	w := h.do(http.MethodGet, "/api/permissions", "")
	assert.Equal(t, core.PermissionPrompt, decode[core.Permissions](t, w).Audio)

	// a denial is a state, not a failure
	w = h.do(http.MethodPost, "/api/permissions", `{"audio":true,"video":true}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, core.PermissionDenied, decode[core.Permissions](t, w).Video)
}

func TestReadEndpoints(t *testing.T) {
	h := newHarness(t)

	w := h.do(http.MethodGet, "/api/presence", "")
	assert.Equal(t, map[string][]domain.UserID{"online": {"bob", "carol"}}, decode[map[string][]domain.UserID](t, w))

	w = h.do(http.MethodGet, "/api/history?limit=1", "")
	recs := decode[[]core.CallRecord](t, w)
	require.Len(t, recs, 1)
	assert.Equal(t, domain.SessionID("s2"), recs[0].SessionID)
	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodGet, "/api/history?limit=x", "").Code)

	w = h.do(http.MethodGet, "/api/devices", "")
	assert.Equal(t, "cam0", decode[[]core.Device](t, w)[0].ID)

	w = h.do(http.MethodGet, "/api/state", "")
	assert.Equal(t, domain.StateIdle, decode[core.Snapshot](t, w).State)
}

func TestMediaSettings(t *testing.T) {
	h := newHarness(t)

	w := h.do(http.MethodGet, "/api/settings/media", "")
	assert.Equal(t, domain.VideoMedium, decode[domain.MediaSettings](t, w).VideoQuality)

	w = h.do(http.MethodPut, "/api/settings/media", `{"videoQuality":"high","echoCancellation":false}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, domain.VideoHigh, h.settings.Get().VideoQuality)

	w = h.do(http.MethodPut, "/api/settings/media", `{"videoQuality":"8k"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, domain.VideoHigh, h.settings.Get().VideoQuality)

	w = h.do(http.MethodPut, "/api/settings/media", `{"videoQuality":"low","audioQuality":"studio"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, domain.VideoHigh, h.settings.Get().VideoQuality)
}

func TestCORSPreflight(t *testing.T) {
	h := newHarness(t)
	r := httptest.NewRequest(http.MethodOptions, "/api/calls", nil)
	r.Header.Set("Origin", "http://localhost:5173")
	r.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	h.handler.ServeHTTP(w, r)
	assert.Equal(t, "http://localhost:5173", w.Header().Get("Access-Control-Allow-Origin"))

	r = httptest.NewRequest(http.MethodGet, "/api/state", nil)
	r.Header.Set("Origin", "http://evil.example")
	w = httptest.NewRecorder()
	h.handler.ServeHTTP(w, r)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestStateStream(t *testing.T) {
	h := newHarness(t)
	srv := httptest.NewServer(h.handler)
	defer srv.Close()

	c, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/ws/state", nil)
	require.NoError(t, err)
	defer c.Close()

	read := func() core.Snapshot {
		require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
		var s core.Snapshot
		require.NoError(t, c.ReadJSON(&s))
		return s
	}
	assert.Equal(t, domain.StateIdle, read().State)

	require.Eventually(t, func() bool {
		h.calls.mu.Lock()
		defer h.calls.mu.Unlock()
		return len(h.calls.observers) == 1
	}, time.Second, 10*time.Millisecond)
	h.calls.publish(core.Snapshot{Version: 1, State: domain.StateOutgoingRinging, SessionID: "s1", Participants: []domain.Participant{}})

	s := read()
	assert.Equal(t, domain.StateOutgoingRinging, s.State)
	assert.Equal(t, uint64(1), s.Version)
}

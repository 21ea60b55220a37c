package media

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/namithm70/fitness-sub000/internal/core"
	"github.com/namithm70/fitness-sub000/internal/domain"
	"github.com/namithm70/fitness-sub000/internal/media/mediatest"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type replaceCall struct {
	kind       webrtc.RTPCodecType
	next, prev webrtc.TrackLocal
}

type fakeReplacer struct {
	mu    sync.Mutex
	err   error
	calls []replaceCall
}

func (f *fakeReplacer) ReplaceTrack(kind webrtc.RTPCodecType, next, prev webrtc.TrackLocal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, replaceCall{kind, next, prev})
	return f.err
}

func newManager(t *testing.T) (*Manager, *mediatest.Capturer, *fakeReplacer) {
	t.Helper()
	devs := mediatest.NewCapturer()
	r := &fakeReplacer{}
	m := NewManager(devs, r)
	t.Cleanup(m.Release)
	return m, devs, r
}

func TestAcquireAudioCall(t *testing.T) {
	m, devs, _ := newManager(t)
	s, err := m.Acquire(context.Background(), domain.CallAudio, domain.DefaultMediaSettings())
	require.NoError(t, err)

	require.Len(t, s.Audio(), 1)
	assert.True(t, s.Audio()[0].Enabled())
	assert.Nil(t, s.Video())
	assert.Len(t, s.Outputs(), 1)
	assert.Equal(t, 1, devs.Live())
}

func TestAcquireVideoCall(t *testing.T) {
	m, _, _ := newManager(t)
	s, err := m.Acquire(context.Background(), domain.CallVideo, domain.DefaultMediaSettings())
	require.NoError(t, err)
	assert.Len(t, s.Tracks(), 2)
	require.NotNil(t, s.Video())
	assert.True(t, s.Video().Enabled())

	info := m.Info()
	require.NotNil(t, info)
	assert.Equal(t, s.ID(), info.ID)
	assert.Equal(t, 2, info.LiveTracks())
}

func TestAcquireFailureIsWrapped(t *testing.T) {
	m, devs, _ := newManager(t)
	devs.FailUserMedia(core.ErrPermissionDenied)

	_, err := m.Acquire(context.Background(), domain.CallVideo, domain.DefaultMediaSettings())
	var mae *core.MediaAcquisitionError
	require.ErrorAs(t, err, &mae)
	assert.ErrorIs(t, err, core.ErrPermissionDenied)
	assert.Nil(t, m.Stream())
}

func TestMuteRoundTrip(t *testing.T) {
	m, devs, _ := newManager(t)
	s, err := m.Acquire(context.Background(), domain.CallAudio, domain.DefaultMediaSettings())
	require.NoError(t, err)
	mic := devs.Opened()[0]
	track := s.Audio()[0]

	muted, err := m.ToggleMute()
	require.NoError(t, err)
	assert.True(t, muted)
	assert.False(t, track.Enabled())

	mic.Push(media.Sample{Data: []byte{1}, Duration: 20 * time.Millisecond})
	require.Eventually(t, func() bool { return mic.Reads() == 1 }, time.Second, time.Millisecond)
	assert.Zero(t, track.Written())

	muted, err = m.ToggleMute()
	require.NoError(t, err)
	assert.False(t, muted)
	assert.True(t, track.Enabled())

	mic.Push(media.Sample{Data: []byte{2}, Duration: 20 * time.Millisecond})
	require.Eventually(t, func() bool { return track.Written() == 1 }, time.Second, time.Millisecond)
}

func TestToggleWithoutStream(t *testing.T) {
	m, _, _ := newManager(t)
	_, err := m.ToggleMute()
	assert.ErrorIs(t, err, core.ErrNoLocalStream)
	_, err = m.ToggleVideo()
	assert.ErrorIs(t, err, core.ErrNoLocalStream)
	_, err = m.ToggleScreenShare(context.Background())
	assert.ErrorIs(t, err, core.ErrNoLocalStream)
}

func TestToggleVideo(t *testing.T) {
	m, _, _ := newManager(t)
	s, err := m.Acquire(context.Background(), domain.CallVideo, domain.DefaultMediaSettings())
	require.NoError(t, err)

	on, err := m.ToggleVideo()
	require.NoError(t, err)
	assert.False(t, on)
	assert.False(t, s.Video().Enabled())
	assert.True(t, s.Audio()[0].Enabled())

	on, err = m.ToggleVideo()
	require.NoError(t, err)
	assert.True(t, on)
}

func TestAudioOnlyHasNoVideoToToggle(t *testing.T) {
	m, _, _ := newManager(t)
	_, err := m.Acquire(context.Background(), domain.CallAudio, domain.DefaultMediaSettings())
	require.NoError(t, err)

	_, err = m.ToggleVideo()
	assert.ErrorIs(t, err, core.ErrNoVideoTrack)
	sharing, err := m.ToggleScreenShare(context.Background())
	assert.ErrorIs(t, err, core.ErrNoVideoTrack)
	assert.False(t, sharing)
}

func TestScreenShareReplacesTrack(t *testing.T) {
	m, devs, r := newManager(t)
	s, err := m.Acquire(context.Background(), domain.CallVideo, domain.DefaultMediaSettings())
	require.NoError(t, err)
	camera := s.Video()

	sharing, err := m.ToggleScreenShare(context.Background())
	require.NoError(t, err)
	assert.True(t, sharing)
	assert.True(t, m.Sharing())

	screen := s.Video()
	assert.NotEqual(t, camera.ID(), screen.ID())
	assert.Len(t, s.Tracks(), 2)
	require.Len(t, r.calls, 1)
	assert.Equal(t, webrtc.RTPCodecTypeVideo, r.calls[0].kind)
	assert.Equal(t, screen.Output(), r.calls[0].next)
	assert.Equal(t, camera.Output(), r.calls[0].prev)
	assert.True(t, camera.Live())

	sharing, err = m.ToggleScreenShare(context.Background())
	require.NoError(t, err)
	assert.False(t, sharing)
	assert.Equal(t, camera.ID(), s.Video().ID())
	assert.False(t, screen.Live())
	require.Len(t, r.calls, 2)
	assert.Equal(t, camera.Output(), r.calls[1].next)

	opened := devs.Opened()
	assert.Equal(t, "screen", opened[len(opened)-1].Label)
	assert.True(t, opened[len(opened)-1].Closed())
}

func TestScreenShareReplaceFailureKeepsCamera(t *testing.T) {
	m, devs, r := newManager(t)
	s, err := m.Acquire(context.Background(), domain.CallVideo, domain.DefaultMediaSettings())
	require.NoError(t, err)
	camera := s.Video()
	r.err = errors.New("sender gone")

	sharing, err := m.ToggleScreenShare(context.Background())
	assert.Error(t, err)
	assert.False(t, sharing)
	assert.False(t, m.Sharing())
	assert.Equal(t, camera.ID(), s.Video().ID())
	opened := devs.Opened()
	assert.True(t, opened[len(opened)-1].Closed())
}

func TestScreenShareCaptureFailure(t *testing.T) {
	m, devs, r := newManager(t)
	_, err := m.Acquire(context.Background(), domain.CallVideo, domain.DefaultMediaSettings())
	require.NoError(t, err)
	devs.FailDisplayMedia(core.ErrPermissionDenied)

	sharing, err := m.ToggleScreenShare(context.Background())
	var mae *core.MediaAcquisitionError
	assert.ErrorAs(t, err, &mae)
	assert.False(t, sharing)
	assert.Empty(t, r.calls)
}

func TestReleaseIsIdempotent(t *testing.T) {
	m, devs, _ := newManager(t)
	_, err := m.Acquire(context.Background(), domain.CallVideo, domain.DefaultMediaSettings())
	require.NoError(t, err)
	_, err = m.ToggleScreenShare(context.Background())
	require.NoError(t, err)

	m.Release()
	m.Release()
	assert.Nil(t, m.Stream())
	assert.Nil(t, m.Info())
	assert.False(t, m.Sharing())
	assert.Zero(t, devs.Live())
}

func TestAcquireReplacesPreviousStream(t *testing.T) {
	m, devs, _ := newManager(t)
	first, err := m.Acquire(context.Background(), domain.CallAudio, domain.DefaultMediaSettings())
	require.NoError(t, err)
	second, err := m.Acquire(context.Background(), domain.CallAudio, domain.DefaultMediaSettings())
	require.NoError(t, err)
	assert.NotEqual(t, first.ID(), second.ID())
	assert.Equal(t, 1, devs.Live())
}

func TestTrackEndsWithSource(t *testing.T) {
	m, devs, _ := newManager(t)
	s, err := m.Acquire(context.Background(), domain.CallAudio, domain.DefaultMediaSettings())
	require.NoError(t, err)
	_ = devs.Opened()[0].Close()
	require.Eventually(t, func() bool { return !s.Audio()[0].Live() }, time.Second, time.Millisecond)
}

func within(t *testing.T, d time.Duration, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatal("call blocked on capture")
	}
}

func TestReleaseDuringAcquireDiscardsCapture(t *testing.T) {
	m, devs, _ := newManager(t)
	open := devs.Hold()
	defer open()

	type result struct {
		s   *LocalStream
		err error
	}
	got := make(chan result, 1)
	go func() {
		s, err := m.Acquire(context.Background(), domain.CallVideo, domain.DefaultMediaSettings())
		got <- result{s, err}
	}()
	require.Eventually(t, func() bool { return devs.Waiting() == 1 }, time.Second, time.Millisecond)

	within(t, 100*time.Millisecond, func() {
		assert.Nil(t, m.Info())
		m.Release()
	})
	open()

	r := <-got
	assert.Nil(t, r.s)
	assert.ErrorIs(t, r.err, core.ErrCanceled)
	assert.Nil(t, m.Stream())
	assert.Len(t, devs.Opened(), 2)
	assert.Zero(t, devs.Live())
}

func TestReleaseWhilePickerOpen(t *testing.T) {
	m, devs, r := newManager(t)
	s, err := m.Acquire(context.Background(), domain.CallVideo, domain.DefaultMediaSettings())
	require.NoError(t, err)
	camera := s.Video()
	open := devs.Hold()
	defer open()

	type result struct {
		sharing bool
		err     error
	}
	got := make(chan result, 1)
	go func() {
		sharing, err := m.ToggleScreenShare(context.Background())
		got <- result{sharing, err}
	}()
	require.Eventually(t, func() bool { return devs.Waiting() == 1 }, time.Second, time.Millisecond)

	within(t, 100*time.Millisecond, func() {
		if info := m.Info(); assert.NotNil(t, info) {
			assert.Equal(t, s.ID(), info.ID)
		}
		_, err := m.ToggleScreenShare(context.Background())
		assert.ErrorIs(t, err, core.ErrBusy)
		_, err = m.ToggleVideo()
		assert.NoError(t, err)
		m.Release()
	})
	open()

	res := <-got
	assert.ErrorIs(t, res.err, core.ErrNoLocalStream)
	assert.False(t, res.sharing)
	assert.False(t, m.Sharing())
	assert.False(t, camera.Live())
	assert.Empty(t, r.calls)
	assert.Zero(t, devs.Live())
}

func TestPickerCanceledByContext(t *testing.T) {
	m, devs, _ := newManager(t)
	_, err := m.Acquire(context.Background(), domain.CallVideo, domain.DefaultMediaSettings())
	require.NoError(t, err)
	open := devs.Hold()
	defer open()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	sharing, err := m.ToggleScreenShare(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, sharing)

	open()
	sharing, err = m.ToggleScreenShare(context.Background())
	require.NoError(t, err)
	assert.True(t, sharing)
}

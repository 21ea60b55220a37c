package media

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/namithm70/fitness-sub000/internal/core"
	"github.com/namithm70/fitness-sub000/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// TrackReplacer swaps an outgoing track on every open peer connection, all or nothing.
type TrackReplacer interface {
	ReplaceTrack(kind webrtc.RTPCodecType, next, prev webrtc.TrackLocal) error
}

// Manager acquires, toggles and releases the local stream.
// Capture prompts run without holding mu.
type Manager struct {
	capturer core.Capturer
	replacer TrackReplacer

	mu       sync.Mutex
	gen      uint64 // bumped by every release
	stream   *LocalStream
	parked   *LocalTrack // camera while the screen is shared
	sharing  bool
	choosing bool // a display picker is open
}

func NewManager(capturer core.Capturer, replacer TrackReplacer) *Manager {
	return &Manager{capturer: capturer, replacer: replacer}
}

// Acquire opens audio (always) and video (for video calls). Audio starts enabled.
// A Release that lands while devices are opening discards the result with ErrCanceled.
func (m *Manager) Acquire(ctx context.Context, callType domain.CallType, settings domain.MediaSettings) (*LocalStream, error) {
	m.mu.Lock()
	m.releaseLocked()
	gen := m.gen
	m.mu.Unlock()

	sources, err := m.capturer.UserMedia(ctx, core.MediaConstraints{
		Audio:    true,
		Video:    callType.HasVideo(),
		Settings: settings,
	})
	if err != nil {
		return nil, &core.MediaAcquisitionError{Cause: err}
	}

	stream := &LocalStream{id: uuid.NewString()}
	for i, src := range sources {
		t, err := newLocalTrack(src, stream.id)
		if err != nil {
			stream.stop()
			for _, rest := range sources[i:] {
				_ = rest.Close()
			}
			return nil, &core.MediaAcquisitionError{Cause: err}
		}
		stream.tracks = append(stream.tracks, t)
	}
	if len(stream.Audio()) == 0 {
		stream.stop()
		return nil, &core.MediaAcquisitionError{Cause: fmt.Errorf("%w: no audio track", core.ErrDeviceNotFound)}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen || m.stream != nil {
		stream.stop()
		log.Debug().Str("module", "media").Str("stream", stream.id).Msg("capture finished after release, discarded")
		return nil, &core.MediaAcquisitionError{Cause: core.ErrCanceled}
	}
	m.stream = stream
	log.Info().Str("module", "media").Str("stream", stream.id).Int("tracks", len(stream.tracks)).Str("type", string(callType)).Msg("local stream acquired")
	return stream, nil
}

// ToggleMute flips every audio track and returns the resulting muted state.
func (m *Manager) ToggleMute() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stream == nil {
		return false, core.ErrNoLocalStream
	}
	audio := m.stream.Audio()
	if len(audio) == 0 {
		return false, core.ErrNoLocalStream
	}
	enable := !audio[0].Enabled()
	for _, t := range audio {
		t.SetEnabled(enable)
	}
	return !enable, nil
}

// ToggleVideo flips the outgoing video track and returns whether video is now enabled.
func (m *Manager) ToggleVideo() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stream == nil {
		return false, core.ErrNoLocalStream
	}
	v := m.stream.Video()
	if v == nil {
		return false, core.ErrNoVideoTrack
	}
	enable := !v.Enabled()
	v.SetEnabled(enable)
	if m.parked != nil {
		m.parked.SetEnabled(enable)
	}
	return enable, nil
}

// ToggleScreenShare swaps the camera for a display capture (or back) without renegotiation.
// On failure the prior state is kept and returned with the error.
func (m *Manager) ToggleScreenShare(ctx context.Context) (bool, error) {
	m.mu.Lock()
	if m.stream == nil {
		m.mu.Unlock()
		return false, core.ErrNoLocalStream
	}
	current := m.stream.Video()
	if current == nil {
		m.mu.Unlock()
		return false, core.ErrNoVideoTrack
	}
	if m.choosing {
		m.mu.Unlock()
		return false, core.ErrBusy
	}

	if m.sharing {
		defer m.mu.Unlock()
		camera := m.parked
		if err := m.replace(camera, current); err != nil {
			return true, err
		}
		m.stream.replaceVideo(camera)
		current.Stop()
		m.parked = nil
		m.sharing = false
		log.Info().Str("module", "media").Str("stream", m.stream.id).Msg("screen share stopped")
		return false, nil
	}

	m.choosing = true
	stream, gen := m.stream, m.gen
	m.mu.Unlock()

	src, err := m.capturer.DisplayMedia(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.choosing = false
	if err != nil {
		return false, &core.MediaAcquisitionError{Cause: err}
	}
	if m.gen != gen || m.stream != stream {
		_ = src.Close()
		return false, core.ErrNoLocalStream
	}
	display, err := newLocalTrack(src, stream.id)
	if err != nil {
		_ = src.Close()
		return false, &core.MediaAcquisitionError{Cause: err}
	}
	display.SetEnabled(current.Enabled())
	if err := m.replace(display, current); err != nil {
		display.Stop()
		return false, err
	}
	stream.replaceVideo(display)
	m.parked = current
	m.sharing = true
	log.Info().Str("module", "media").Str("stream", stream.id).Msg("screen share started")
	return true, nil
}

func (m *Manager) replace(next, prev *LocalTrack) error {
	if m.replacer == nil {
		return nil
	}
	if err := m.replacer.ReplaceTrack(webrtc.RTPCodecTypeVideo, next.Output(), prev.Output()); err != nil {
		return fmt.Errorf("replace video track: %w", err)
	}
	return nil
}

// Release stops every local track. Calling it again is a no-op.
func (m *Manager) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releaseLocked()
}

func (m *Manager) releaseLocked() {
	m.gen++
	if m.stream == nil {
		return
	}
	m.stream.stop()
	if m.parked != nil {
		m.parked.Stop()
	}
	log.Info().Str("module", "media").Str("stream", m.stream.id).Msg("local stream released")
	m.stream = nil
	m.parked = nil
	m.sharing = false
}

func (m *Manager) Stream() *LocalStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stream
}

func (m *Manager) Sharing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sharing
}

// Info describes the local stream, or nil once released.
func (m *Manager) Info() *core.StreamInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stream == nil {
		return nil
	}
	info := m.stream.Info()
	return &info
}

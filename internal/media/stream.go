package media

import (
	"sync"

	"github.com/namithm70/fitness-sub000/internal/core"
	"github.com/pion/webrtc/v4"
)

// LocalStream groups the local tracks of one call.
type LocalStream struct {
	id string

	mu     sync.RWMutex
	tracks []*LocalTrack
}

func (s *LocalStream) ID() string { return s.id }

func (s *LocalStream) Tracks() []*LocalTrack {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*LocalTrack(nil), s.tracks...)
}

func (s *LocalStream) Audio() []*LocalTrack {
	var out []*LocalTrack
	for _, t := range s.Tracks() {
		if t.Kind() == webrtc.RTPCodecTypeAudio {
			out = append(out, t)
		}
	}
	return out
}

// Video returns the current outgoing video track, or nil.
func (s *LocalStream) Video() *LocalTrack {
	for _, t := range s.Tracks() {
		if t.Kind() == webrtc.RTPCodecTypeVideo {
			return t
		}
	}
	return nil
}

// Outputs lists the pion tracks to attach to a new peer connection.
func (s *LocalStream) Outputs() []webrtc.TrackLocal {
	tracks := s.Tracks()
	out := make([]webrtc.TrackLocal, 0, len(tracks))
	for _, t := range tracks {
		out = append(out, t.Output())
	}
	return out
}

func (s *LocalStream) replaceVideo(next *LocalTrack) (prev *LocalTrack) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, t := range s.tracks {
		if t.Kind() == webrtc.RTPCodecTypeVideo {
			s.tracks[i] = next
			return t
		}
	}
	return nil
}

func (s *LocalStream) stop() {
	for _, t := range s.Tracks() {
		t.Stop()
	}
}

func (s *LocalStream) Info() core.StreamInfo {
	tracks := s.Tracks()
	info := core.StreamInfo{ID: s.id, Tracks: make([]core.TrackInfo, 0, len(tracks))}
	for _, t := range tracks {
		info.Tracks = append(info.Tracks, t.Info())
	}
	return info
}

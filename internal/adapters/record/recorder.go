// Package record writes the remote side of calls to disk.
package record

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/namithm70/fitness-sub000/internal/domain"
	"github.com/namithm70/fitness-sub000/internal/peer"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/ivfwriter"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
	"github.com/rs/zerolog/log"
)

var ErrRecorderClosed = errors.New("recording closed")

type mediaWriter interface {
	WriteRTP(*rtp.Packet) error
	Close() error
}

// Recorder dumps remote audio as Ogg/Opus and remote video as IVF/VP8 into dir.
type Recorder struct {
	dir string

	mu    sync.Mutex
	sinks []*fileSink
	bases map[string]bool // streams already being recorded
}

func New(dir string) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create recording dir: %w", err)
	}
	return &Recorder{dir: dir}, nil
}

// Attach records the stream of p until Flush. Files appear with the first packet.
// Attaching the same stream again is a no-op.
func (r *Recorder) Attach(p domain.UserID, s *peer.RemoteStream) {
	base := filepath.Join(r.dir, fmt.Sprintf("%s-%s", p, s.ID()))
	if !r.claim(base) {
		log.Debug().Str("module", "record").Str("base", base).Msg("stream already recorded")
		return
	}
	s.Attach(webrtc.RTPCodecTypeAudio, r.sink(base+".ogg", func(path string) (mediaWriter, error) {
		return oggwriter.New(path, 48000, 2)
	}))
	s.Attach(webrtc.RTPCodecTypeVideo, r.sink(base+".ivf", func(path string) (mediaWriter, error) {
		return ivfwriter.New(path)
	}))
	log.Info().Str("module", "record").Str("peer", string(p)).Str("base", base).Msg("recording remote stream")
}

func (r *Recorder) claim(base string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.bases[base] {
		return false
	}
	if r.bases == nil {
		r.bases = make(map[string]bool)
	}
	r.bases[base] = true
	return true
}

func (r *Recorder) sink(path string, open func(string) (mediaWriter, error)) *fileSink {
	s := &fileSink{path: path, open: open}
	r.mu.Lock()
	r.sinks = append(r.sinks, s)
	r.mu.Unlock()
	return s
}

// Flush closes every file written so far. Attached streams stop recording.
func (r *Recorder) Flush() {
	r.mu.Lock()
	sinks := r.sinks
	r.sinks = nil
	r.bases = nil
	r.mu.Unlock()
	for _, s := range sinks {
		if err := s.Close(); err != nil {
			log.Warn().Err(err).Str("module", "record").Str("file", s.path).Msg("close recording")
		}
	}
}

// fileSink opens its writer lazily so tracks that never arrive leave no empty files.
type fileSink struct {
	path string
	open func(string) (mediaWriter, error)

	mu     sync.Mutex
	w      mediaWriter
	closed bool
}

func (s *fileSink) WriteRTP(pkt *rtp.Packet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrRecorderClosed
	}
	if s.w == nil {
		w, err := s.open(s.path)
		if err != nil {
			return fmt.Errorf("open %s: %w", s.path, err)
		}
		s.w = w
	}
	return s.w.WriteRTP(pkt)
}

func (s *fileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.w == nil {
		return nil
	}
	return s.w.Close()
}

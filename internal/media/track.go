// Package media owns the local capture stream of a call.
package media

import (
	"sync"
	"sync/atomic"

	"github.com/namithm70/fitness-sub000/internal/core"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// LocalTrack pumps samples from a capture source into a pion sample track.
// A disabled track keeps reading but drops what it reads.
type LocalTrack struct {
	src core.MediaSource
	out *webrtc.TrackLocalStaticSample

	enabled atomic.Bool
	ended   atomic.Bool
	written atomic.Uint64

	stopOnce sync.Once
	done     chan struct{}
}

func newLocalTrack(src core.MediaSource, streamID string) (*LocalTrack, error) {
	out, err := webrtc.NewTrackLocalStaticSample(src.Codec(), src.ID(), streamID)
	if err != nil {
		return nil, err
	}
	t := &LocalTrack{src: src, out: out, done: make(chan struct{})}
	t.enabled.Store(true)
	go t.pump()
	return t, nil
}

func (t *LocalTrack) pump() {
	defer close(t.done)
	for {
		sample, err := t.src.ReadSample()
		if err != nil {
			t.ended.Store(true)
			log.Debug().Err(err).Str("module", "media").Str("track", t.ID()).Msg("source ended")
			return
		}
		if !t.enabled.Load() {
			continue
		}
		if err := t.out.WriteSample(sample); err != nil {
			log.Debug().Err(err).Str("module", "media").Str("track", t.ID()).Msg("write sample")
			continue
		}
		t.written.Add(1)
	}
}

func (t *LocalTrack) ID() string                { return t.src.ID() }
func (t *LocalTrack) Kind() webrtc.RTPCodecType { return t.src.Kind() }

// Output is the track handed to peer connections.
func (t *LocalTrack) Output() webrtc.TrackLocal { return t.out }

func (t *LocalTrack) Enabled() bool     { return t.enabled.Load() }
func (t *LocalTrack) SetEnabled(v bool) { t.enabled.Store(v) }
func (t *LocalTrack) Live() bool        { return !t.ended.Load() }

// Written counts samples forwarded to the network track.
func (t *LocalTrack) Written() uint64 { return t.written.Load() }

// Stop closes the source; the pump exits on its next read.
func (t *LocalTrack) Stop() {
	t.stopOnce.Do(func() {
		t.ended.Store(true)
		if err := t.src.Close(); err != nil {
			log.Warn().Err(err).Str("module", "media").Str("track", t.ID()).Msg("close source")
		}
	})
}

func (t *LocalTrack) Info() core.TrackInfo {
	return core.TrackInfo{ID: t.ID(), Kind: t.Kind().String(), Enabled: t.Enabled(), Live: t.Live()}
}

// Package capture opens camera, microphone and screen through pion/mediadevices.
package capture

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"sync"
	"time"

	"github.com/namithm70/fitness-sub000/internal/core"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

var (
	OpusCodec = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
	VP8Codec  = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
)

type readFunc func() (data []byte, samples uint32, release func(), err error)

// source adapts an encoded reader into core.MediaSource.
type source struct {
	id    string
	kind  webrtc.RTPCodecType
	codec webrtc.RTPCodecCapability
	read  readFunc
	close func() error
	once  sync.Once
}

func (s *source) ID() string                       { return s.id }
func (s *source) Kind() webrtc.RTPCodecType        { return s.kind }
func (s *source) Codec() webrtc.RTPCodecCapability { return s.codec }

func (s *source) ReadSample() (media.Sample, error) {
	data, samples, release, err := s.read()
	if err != nil {
		return media.Sample{}, err
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	if release != nil {
		release()
	}
	return media.Sample{Data: buf, Duration: sampleDuration(samples, s.codec)}, nil
}

func (s *source) Close() error {
	var err error
	s.once.Do(func() { err = s.close() })
	return err
}

func sampleDuration(samples uint32, codec webrtc.RTPCodecCapability) time.Duration {
	if samples == 0 || codec.ClockRate == 0 {
		if codec.MimeType == webrtc.MimeTypeOpus {
			return 20 * time.Millisecond
		}
		return 33 * time.Millisecond
	}
	return time.Duration(samples) * time.Second / time.Duration(codec.ClockRate)
}

// classify maps driver errors onto the core capture taxonomy.
func classify(err error, what string) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	switch {
	case errors.Is(err, fs.ErrPermission), strings.Contains(msg, "permission denied"), strings.Contains(msg, "not allowed"):
		return fmt.Errorf("%w: %s: %v", core.ErrPermissionDenied, what, err)
	case errors.Is(err, fs.ErrNotExist), strings.Contains(msg, "no such device"), strings.Contains(msg, "failed to find"), strings.Contains(msg, "not found"):
		return fmt.Errorf("%w: %s: %v", core.ErrDeviceNotFound, what, err)
	}
	return fmt.Errorf("%s: %w", what, err)
}

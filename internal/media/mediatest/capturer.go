// Package mediatest provides in-memory capture devices for tests.
package mediatest

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/namithm70/fitness-sub000/internal/core"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

var (
	opus = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
	vp8  = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
)

// Source is a capture feed driven by Push.
type Source struct {
	id      string
	kind    webrtc.RTPCodecType
	Label   string
	samples chan media.Sample
	done    chan struct{}
	once    sync.Once
	closed  atomic.Bool
	reads   atomic.Int64
}

func NewSource(kind webrtc.RTPCodecType, label string) *Source {
	return &Source{
		id:      uuid.NewString(),
		kind:    kind,
		Label:   label,
		samples: make(chan media.Sample, 64),
		done:    make(chan struct{}),
	}
}

func (s *Source) ID() string                { return s.id }
func (s *Source) Kind() webrtc.RTPCodecType { return s.kind }

func (s *Source) Codec() webrtc.RTPCodecCapability {
	if s.kind == webrtc.RTPCodecTypeVideo {
		return vp8
	}
	return opus
}

func (s *Source) ReadSample() (media.Sample, error) {
	select {
	case sm := <-s.samples:
		s.reads.Add(1)
		return sm, nil
	case <-s.done:
		return media.Sample{}, io.EOF
	}
}

// Push feeds one sample; it is a no-op after Close.
func (s *Source) Push(sm media.Sample) {
	select {
	case s.samples <- sm:
	case <-s.done:
	}
}

// Reads counts samples consumed by the reader.
func (s *Source) Reads() int64 { return s.reads.Load() }

func (s *Source) Close() error {
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.done)
	})
	return nil
}

func (s *Source) Closed() bool { return s.closed.Load() }

// Capturer hands out Sources and remembers them.
type Capturer struct {
	mu         sync.Mutex
	userErr    error
	displayErr error
	opened     []*Source
	userCalls  int
	gate       chan struct{}
	waiting    atomic.Int32
}

func NewCapturer() *Capturer { return &Capturer{} }

func (c *Capturer) FailUserMedia(err error) {
	c.mu.Lock()
	c.userErr = err
	c.mu.Unlock()
}

func (c *Capturer) FailDisplayMedia(err error) {
	c.mu.Lock()
	c.displayErr = err
	c.mu.Unlock()
}

// Hold makes UserMedia and DisplayMedia block, as a permission prompt or
// screen picker would, until the returned func is called or their context ends.
func (c *Capturer) Hold() (release func()) {
	gate := make(chan struct{})
	c.mu.Lock()
	c.gate = gate
	c.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			if c.gate == gate {
				c.gate = nil
			}
			c.mu.Unlock()
			close(gate)
		})
	}
}

// Waiting counts capture calls currently blocked by Hold.
func (c *Capturer) Waiting() int { return int(c.waiting.Load()) }

func (c *Capturer) wait(ctx context.Context) error {
	c.mu.Lock()
	gate := c.gate
	c.mu.Unlock()
	if gate == nil {
		return ctx.Err()
	}
	c.waiting.Add(1)
	defer c.waiting.Add(-1)
	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Capturer) UserMedia(ctx context.Context, mc core.MediaConstraints) ([]core.MediaSource, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userCalls++
	if c.userErr != nil {
		return nil, c.userErr
	}
	var out []core.MediaSource
	if mc.Audio {
		s := NewSource(webrtc.RTPCodecTypeAudio, "microphone")
		c.opened = append(c.opened, s)
		out = append(out, s)
	}
	if mc.Video {
		s := NewSource(webrtc.RTPCodecTypeVideo, "camera")
		c.opened = append(c.opened, s)
		out = append(out, s)
	}
	return out, nil
}

func (c *Capturer) DisplayMedia(ctx context.Context) (core.MediaSource, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.displayErr != nil {
		return nil, c.displayErr
	}
	s := NewSource(webrtc.RTPCodecTypeVideo, "screen")
	c.opened = append(c.opened, s)
	return s, nil
}

func (c *Capturer) Devices() []core.Device {
	return []core.Device{
		{ID: "mic0", Kind: "audioinput", Label: "Fake Microphone"},
		{ID: "cam0", Kind: "videoinput", Label: "Fake Camera"},
	}
}

// Opened returns every source handed out so far.
func (c *Capturer) Opened() []*Source {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Source(nil), c.opened...)
}

// Live counts handed out sources that are still open.
func (c *Capturer) Live() int {
	n := 0
	for _, s := range c.Opened() {
		if !s.Closed() {
			n++
		}
	}
	return n
}

func (c *Capturer) UserCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userCalls
}

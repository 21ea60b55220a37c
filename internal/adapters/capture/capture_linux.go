//go:build linux && cgo

package capture

import (
	"context"
	"fmt"

	"github.com/namithm70/fitness-sub000/internal/core"
	"github.com/namithm70/fitness-sub000/internal/domain"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	_ "github.com/pion/mediadevices/pkg/driver/screen"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/io/audio"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/mediadevices/pkg/wave"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// Capturer implements core.Capturer with V4L2, malgo and X11 drivers.
type Capturer struct{}

func New() *Capturer { return &Capturer{} }

func (c *Capturer) UserMedia(ctx context.Context, mc core.MediaConstraints) ([]core.MediaSource, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if mc.Audio && !hasDevice(mediadevices.AudioInput) {
		return nil, fmt.Errorf("%w: microphone", core.ErrDeviceNotFound)
	}
	if mc.Video && !hasDevice(mediadevices.VideoInput) {
		return nil, fmt.Errorf("%w: camera", core.ErrDeviceNotFound)
	}
	sel, err := codecSelector(mc.Settings)
	if err != nil {
		return nil, err
	}

	constraints := mediadevices.MediaStreamConstraints{Codec: sel}
	if mc.Audio {
		id := mc.Settings.AudioDeviceID
		suppress := mc.Settings.NoiseSuppression
		constraints.Audio = func(c *mediadevices.MediaTrackConstraints) {
			if id != "" {
				c.DeviceID = prop.StringExact(id)
			}
			if suppress {
				c.AudioTransform = noiseGate
			}
		}
	}
	if mc.Video {
		id := mc.Settings.VideoDeviceID
		w, h, _ := mc.Settings.VideoQuality.Frame()
		constraints.Video = func(c *mediadevices.MediaTrackConstraints) {
			if id != "" {
				c.DeviceID = prop.StringExact(id)
			}
			// MJPEG nodes on some webcams poison the VP8 encoder.
			c.FrameFormat = prop.FrameFormatOneOf{frame.FormatYUYV, frame.FormatI420, frame.FormatI444, frame.FormatRGBA}
			c.Width = prop.IntRanged{Max: w}
			c.Height = prop.IntRanged{Max: h}
		}
	}

	stream, err := mediadevices.GetUserMedia(constraints)
	if err != nil {
		return nil, classify(err, "user media")
	}
	tracks := stream.GetTracks()
	out := make([]core.MediaSource, 0, len(tracks))
	for _, tr := range tracks {
		src, err := wrap(tr)
		if err != nil {
			for _, s := range out {
				_ = s.Close()
			}
			for _, t := range tracks {
				_ = t.Close()
			}
			return nil, classify(err, "encoder")
		}
		out = append(out, src)
	}
	log.Info().Str("module", "capture").Int("tracks", len(out)).Bool("video", mc.Video).Msg("user media opened")
	return out, nil
}

// noiseGate mutes chunks that never rise above the noise floor.
// The drivers have no echo canceller, so EchoCancellation is not applied here.
func noiseGate(r audio.Reader) audio.Reader {
	return audio.ReaderFunc(func() (wave.Audio, func(), error) {
		chunk, release, err := r.Read()
		if err != nil {
			return chunk, release, err
		}
		switch a := chunk.(type) {
		case *wave.Int16Interleaved:
			gateInt16(a.Data)
		case *wave.Float32Interleaved:
			gateFloat32(a.Data)
		}
		return chunk, release, nil
	})
}

func (c *Capturer) DisplayMedia(ctx context.Context) (core.MediaSource, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sel, err := codecSelector(domain.DefaultMediaSettings())
	if err != nil {
		return nil, err
	}
	stream, err := mediadevices.GetDisplayMedia(mediadevices.MediaStreamConstraints{
		Video: func(*mediadevices.MediaTrackConstraints) {},
		Codec: sel,
	})
	if err != nil {
		return nil, classify(err, "display media")
	}
	tracks := stream.GetVideoTracks()
	if len(tracks) == 0 {
		return nil, fmt.Errorf("%w: screen", core.ErrDeviceNotFound)
	}
	src, err := wrap(tracks[0])
	if err != nil {
		_ = tracks[0].Close()
		return nil, classify(err, "screen encoder")
	}
	return src, nil
}

func (c *Capturer) Devices() []core.Device {
	var out []core.Device
	for _, d := range mediadevices.EnumerateDevices() {
		kind := "audioinput"
		if d.Kind == mediadevices.VideoInput {
			kind = "videoinput"
		}
		out = append(out, core.Device{ID: d.DeviceID, Kind: kind, Label: d.Label})
	}
	return out
}

func hasDevice(kind mediadevices.MediaDeviceType) bool {
	for _, d := range mediadevices.EnumerateDevices() {
		if d.Kind == kind {
			return true
		}
	}
	return false
}

func codecSelector(s domain.MediaSettings) (*mediadevices.CodecSelector, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, err
	}
	_, _, bitrate := s.VideoQuality.Frame()
	vpxParams.BitRate = bitrate

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, err
	}
	opusParams.BitRate = s.AudioQuality.Bitrate()

	return mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&vpxParams),
		mediadevices.WithAudioEncoders(&opusParams),
	), nil
}

func wrap(tr mediadevices.Track) (core.MediaSource, error) {
	codec := OpusCodec
	if tr.Kind() == webrtc.RTPCodecTypeVideo {
		codec = VP8Codec
	}
	r, err := tr.NewEncodedReader(codec.MimeType)
	if err != nil {
		return nil, err
	}
	return &source{
		id:    tr.ID(),
		kind:  tr.Kind(),
		codec: codec,
		read: func() ([]byte, uint32, func(), error) {
			buf, release, err := r.Read()
			if err != nil {
				return nil, 0, nil, err
			}
			return buf.Data, buf.Samples, release, nil
		},
		close: func() error {
			_ = r.Close()
			return tr.Close()
		},
	}, nil
}

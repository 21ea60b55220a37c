package domain

import "fmt"

type VideoQuality string

const (
	VideoLow    VideoQuality = "low"
	VideoMedium VideoQuality = "medium"
	VideoHigh   VideoQuality = "high"
)

type AudioQuality string

const (
	AudioVoice AudioQuality = "voice"
	AudioMusic AudioQuality = "music"
)

// MediaSettings is read at acquisition time; changing it never touches a running capture.
type MediaSettings struct {
	AudioDeviceID    string       `json:"audioDeviceId" mapstructure:"audio_device_id" toml:"audio_device_id"`
	VideoDeviceID    string       `json:"videoDeviceId" mapstructure:"video_device_id" toml:"video_device_id"`
	EchoCancellation bool         `json:"echoCancellation" mapstructure:"echo_cancellation" toml:"echo_cancellation"`
	NoiseSuppression bool         `json:"noiseSuppression" mapstructure:"noise_suppression" toml:"noise_suppression"`
	VideoQuality     VideoQuality `json:"videoQuality" mapstructure:"video_quality" toml:"video_quality"`
	AudioQuality     AudioQuality `json:"audioQuality" mapstructure:"audio_quality" toml:"audio_quality"`
}

func DefaultMediaSettings() MediaSettings {
	return MediaSettings{
		EchoCancellation: true,
		NoiseSuppression: true,
		VideoQuality:     VideoMedium,
		AudioQuality:     AudioVoice,
	}
}

func (s MediaSettings) Validate() error {
	switch s.VideoQuality {
	case VideoLow, VideoMedium, VideoHigh, "":
	default:
		return fmt.Errorf("%w: %q", ErrUnknownVideoQuality, s.VideoQuality)
	}
	switch s.AudioQuality {
	case AudioVoice, AudioMusic, "":
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAudioQuality, s.AudioQuality)
	}
	return nil
}

// Frame returns the capture bounds and encoder bitrate for the tier.
func (q VideoQuality) Frame() (width, height, bitrate int) {
	switch q {
	case VideoLow:
		return 320, 240, 300_000
	case VideoHigh:
		return 1280, 720, 2_500_000
	default:
		return 640, 480, 1_000_000
	}
}

func (q AudioQuality) Bitrate() int {
	if q == AudioMusic {
		return 128_000
	}
	return 32_000
}

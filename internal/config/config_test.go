package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/namithm70/fitness-sub000/internal/domain"
	"github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadClientWritesDefaults(t *testing.T) {
	file := filepath.Join(t.TempDir(), "callclient.toml")
	_, cfg, err := LoadClient(file)
	require.NoError(t, err)

	_, err = os.Stat(file)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.Relay.AckTimeout)
	assert.Equal(t, 30*time.Second, cfg.Call.AnswerTimeout)
	assert.Equal(t, 5*time.Second, cfg.Presence.Interval)
	assert.Equal(t, domain.DefaultMediaSettings(), cfg.Media)
	assert.Equal(t, filepath.Join(filepath.Dir(file), "history.db"), cfg.History.Path)
}

func TestLoadClientFileAndEnv(t *testing.T) {
	file := filepath.Join(t.TempDir(), "callclient.toml")
	require.NoError(t, os.WriteFile(file, []byte(`
[user]
id = "alice"

[call]
answer_timeout = "10s"

[media]
video_quality = "high"
`), 0o600))
	t.Setenv("FITCALL_RELAY_URL", "ws://relay.example/api/ws/signal")

	_, cfg, err := LoadClient(file)
	require.NoError(t, err)
	assert.Equal(t, domain.UserID("alice"), cfg.User.ID)
	assert.Equal(t, 10*time.Second, cfg.Call.AnswerTimeout)
	assert.Equal(t, domain.VideoHigh, cfg.Media.VideoQuality)
	assert.True(t, cfg.Media.EchoCancellation, "unset keys keep their defaults")
	assert.Equal(t, "ws://relay.example/api/ws/signal", cfg.Relay.URL)
}

func TestLoadClientRejectsBadMedia(t *testing.T) {
	file := filepath.Join(t.TempDir(), "callclient.toml")
	require.NoError(t, os.WriteFile(file, []byte("[media]\nvideo_quality = \"8k\"\n"), 0o600))
	_, _, err := LoadClient(file)
	assert.ErrorIs(t, err, domain.ErrUnknownVideoQuality)
}

func TestMediaStorePersists(t *testing.T) {
	file := filepath.Join(t.TempDir(), "callclient.toml")
	_, cfg, err := LoadClient(file)
	require.NoError(t, err)

	store := NewMediaStore(file, cfg.Media)
	next := cfg.Media
	next.VideoQuality = domain.VideoLow
	next.AudioDeviceID = "mic7"
	require.NoError(t, store.Set(next))
	assert.Equal(t, next, store.Get())

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	var onDisk struct {
		Relay struct {
			URL string `toml:"url"`
		} `toml:"relay"`
		Media domain.MediaSettings `toml:"media"`
	}
	require.NoError(t, toml.Unmarshal(data, &onDisk))
	assert.Equal(t, next, onDisk.Media)
	assert.Equal(t, cfg.Relay.URL, onDisk.Relay.URL, "other sections survive")

	bad := next
	bad.VideoQuality = "8k"
	assert.Error(t, store.Set(bad))
	assert.Equal(t, next, store.Get())
}

func TestMediaStoreWatchesFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "callclient.toml")
	v, cfg, err := LoadClient(file)
	require.NoError(t, err)
	store := NewMediaStore("", cfg.Media)
	store.Watch(v)

	next := cfg.Media
	next.VideoQuality = domain.VideoHigh
	require.NoError(t, persistMedia(file, next))
	require.Eventually(t, func() bool { return store.Get().VideoQuality == domain.VideoHigh }, 3*time.Second, 10*time.Millisecond)
}

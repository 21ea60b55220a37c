package config

import (
	"fmt"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/namithm70/fitness-sub000/internal/domain"
	"github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// MediaStore holds the process-wide media settings. Readers get a copy; a running
// capture never sees later changes.
type MediaStore struct {
	file string

	mu  sync.RWMutex
	cur domain.MediaSettings
}

func NewMediaStore(file string, initial domain.MediaSettings) *MediaStore {
	return &MediaStore{file: file, cur: initial}
}

func (s *MediaStore) Get() domain.MediaSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur
}

// Set validates next, persists it to the [media] table of the config file and applies it.
func (s *MediaStore) Set(next domain.MediaSettings) error {
	if err := next.Validate(); err != nil {
		return err
	}
	if s.file != "" {
		if err := persistMedia(s.file, next); err != nil {
			return err
		}
	}
	s.mu.Lock()
	s.cur = next
	s.mu.Unlock()
	log.Info().Str("module", "config").Str("video_quality", string(next.VideoQuality)).Msg("media settings updated")
	return nil
}

// Watch reloads the settings whenever the config file behind v changes on disk.
func (s *MediaStore) Watch(v *viper.Viper) {
	v.OnConfigChange(func(e fsnotify.Event) {
		var next domain.MediaSettings
		if err := v.UnmarshalKey("media", &next); err != nil {
			log.Warn().Err(err).Str("module", "config").Str("file", e.Name).Msg("media settings reload failed")
			return
		}
		if err := next.Validate(); err != nil {
			log.Warn().Err(err).Str("module", "config").Str("file", e.Name).Msg("invalid media settings ignored")
			return
		}
		s.mu.Lock()
		s.cur = next
		s.mu.Unlock()
		log.Info().Str("module", "config").Str("op", e.Op.String()).Msg("media settings reloaded")
	})
	v.WatchConfig()
}

func persistMedia(file string, m domain.MediaSettings) error {
	conf := map[string]any{}
	data, err := os.ReadFile(file)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := toml.Unmarshal(data, &conf); err != nil {
			return fmt.Errorf("parse config: %w", err)
		}
	}
	conf["media"] = m

	data, err = toml.Marshal(conf)
	if err != nil {
		return fmt.Errorf("marshaling error: %w", err)
	}
	return os.WriteFile(file, data, 0o600)
}

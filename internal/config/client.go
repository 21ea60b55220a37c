package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/namithm70/fitness-sub000/internal/domain"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const appName = "callclient"

//go:embed callclient.toml
var defaultClientFile []byte

type ClientConfig struct {
	Debug    bool                 `mapstructure:"debug"`
	User     UserConfig           `mapstructure:"user"`
	Relay    RelayConfig          `mapstructure:"relay"`
	ICE      ICEConfig            `mapstructure:"ice"`
	Call     CallConfig           `mapstructure:"call"`
	Presence PresenceConfig       `mapstructure:"presence"`
	HTTP     HTTPConfig           `mapstructure:"http"`
	History  HistoryConfig        `mapstructure:"history"`
	Media    domain.MediaSettings `mapstructure:"media"`
}

type UserConfig struct {
	ID          domain.UserID `mapstructure:"id"`
	DisplayName string        `mapstructure:"display_name"`
}

type RelayConfig struct {
	URL        string        `mapstructure:"url"`
	AckTimeout time.Duration `mapstructure:"ack_timeout"`
}

type ICEConfig struct {
	Servers             []string      `mapstructure:"servers"`
	DisconnectedTimeout time.Duration `mapstructure:"disconnected_timeout"`
	FailedTimeout       time.Duration `mapstructure:"failed_timeout"`
}

type CallConfig struct {
	AnswerTimeout time.Duration `mapstructure:"answer_timeout"`
}

type PresenceConfig struct {
	DirectoryURL string        `mapstructure:"directory_url"`
	Interval     time.Duration `mapstructure:"interval"`
}

type HTTPConfig struct {
	Addr           string   `mapstructure:"addr"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type HistoryConfig struct {
	Path string `mapstructure:"path"`
}

// ConfigDir returns the per-user config directory, creating it if needed.
func ConfigDir() (string, error) {
	dir := filepath.Join(xdg.ConfigHome, appName)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create config dir %s: %w", dir, err)
	}
	return dir, nil
}

// DefaultClientFile is callclient.toml inside ConfigDir.
func DefaultClientFile() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, appName+".toml"), nil
}

// LoadClient reads file, writing the embedded defaults there first if it does not exist.
// FITCALL_* environment variables override file values.
func LoadClient(file string) (*viper.Viper, *ClientConfig, error) {
	if file == "" {
		return nil, nil, errors.New("config file path is empty")
	}
	v := viper.New()
	v.SetConfigType("toml")
	v.SetEnvPrefix("fitcall")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	v.SetConfigFile(file)

	if err := v.ReadConfig(bytes.NewReader(defaultClientFile)); err != nil {
		return nil, nil, fmt.Errorf("read embedded defaults: %w", err)
	}
	if _, err := os.Stat(file); err != nil {
		log.Info().Str("module", "config").Str("file", file).Msg("writing default client config")
		if err := os.MkdirAll(filepath.Dir(file), 0o750); err != nil {
			return nil, nil, err
		}
		if err := os.WriteFile(file, defaultClientFile, 0o600); err != nil {
			return nil, nil, fmt.Errorf("write default config: %w", err)
		}
	} else if err := v.MergeInConfig(); err != nil {
		return nil, nil, fmt.Errorf("read config %s: %w", file, err)
	}

	cfg, err := decodeClient(v)
	if err != nil {
		return nil, nil, err
	}
	if cfg.History.Path == "" {
		cfg.History.Path = filepath.Join(filepath.Dir(file), "history.db")
	}
	return v, cfg, nil
}

func decodeClient(v *viper.Viper) (*ClientConfig, error) {
	var cfg ClientConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse client config: %w", err)
	}
	if err := cfg.Media.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

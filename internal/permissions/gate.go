// Package permissions tracks and requests access to capture devices.
package permissions

import (
	"context"
	"errors"
	"sync"

	"github.com/namithm70/fitness-sub000/internal/core"
	"github.com/rs/zerolog/log"
)

// Gate caches permission state. Check never prompts; Request probes the devices once.
type Gate struct {
	capturer core.Capturer

	mu    sync.Mutex
	perms core.Permissions
}

func NewGate(c core.Capturer) *Gate {
	return &Gate{
		capturer: c,
		perms:    core.Permissions{Audio: core.PermissionPrompt, Video: core.PermissionPrompt},
	}
}

func (g *Gate) Check() core.Permissions {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.perms
}

// Request opens the asked devices, releases them at once and records the outcome.
// Denial and missing devices are returned as-is; there is no retry.
func (g *Gate) Request(ctx context.Context, audio, video bool) (core.Permissions, error) {
	if !audio && !video {
		return g.Check(), nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	sources, err := g.capturer.UserMedia(ctx, core.MediaConstraints{Audio: audio, Video: video})
	for _, s := range sources {
		_ = s.Close()
	}

	var state core.PermissionState
	switch {
	case err == nil:
		state = core.PermissionGranted
	case errors.Is(err, core.ErrPermissionDenied):
		state = core.PermissionDenied
	case errors.Is(err, core.ErrDeviceNotFound):
		state = core.PermissionUnavailable
	default:
		log.Warn().Err(err).Str("module", "permissions").Msg("probe failed")
		return g.perms, err
	}
	if audio {
		g.perms.Audio = state
	}
	if video {
		g.perms.Video = state
	}
	log.Info().Str("module", "permissions").Str("audio", string(g.perms.Audio)).Str("video", string(g.perms.Video)).Msg("permissions updated")
	return g.perms, err
}

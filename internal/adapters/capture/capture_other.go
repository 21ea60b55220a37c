//go:build !linux || !cgo

package capture

import (
	"context"
	"fmt"

	"github.com/namithm70/fitness-sub000/internal/core"
)

// Capturer reports every device as missing on builds without capture drivers.
type Capturer struct{}

func New() *Capturer { return &Capturer{} }

func (c *Capturer) UserMedia(context.Context, core.MediaConstraints) ([]core.MediaSource, error) {
	return nil, fmt.Errorf("%w: capture drivers not built in", core.ErrDeviceNotFound)
}

func (c *Capturer) DisplayMedia(context.Context) (core.MediaSource, error) {
	return nil, fmt.Errorf("%w: screen capture not built in", core.ErrDeviceNotFound)
}

func (c *Capturer) Devices() []core.Device { return nil }

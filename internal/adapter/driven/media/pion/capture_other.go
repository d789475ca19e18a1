//go:build !linux

package pion

import (
	"context"
	"fmt"
	"runtime"

	"github.com/Wyydra/peercall/internal/core/domain"
	"github.com/Wyydra/peercall/internal/core/port"
	"github.com/pion/webrtc/v4"
)

type platformState struct{}

func (c *Capture) initPlatform() error {
	c.log.Warn().Str("os", runtime.GOOS).Msg("No capture drivers on this platform, calls will be receive-only")
	return nil
}

func (c *Capture) RegisterCodecs(m *webrtc.MediaEngine) error {
	return m.RegisterDefaultCodecs()
}

func (c *Capture) Acquire(ctx context.Context, _ domain.MediaConstraints) (port.LocalStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%w: no capture drivers on %s", domain.ErrMediaUnavailable, runtime.GOOS)
}

package pion

import (
	"fmt"

	"github.com/Wyydra/peercall/internal/core/domain"
	"github.com/Wyydra/peercall/internal/core/port"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type CaptureOptions struct {
	// VideoBitRate of the VP8 encoder in bits per second.
	VideoBitRate int
}

// Capture implements port.MediaCapture for the local camera and microphone.
type Capture struct {
	opts CaptureOptions
	log  zerolog.Logger
	platformState
}

var (
	_ port.MediaCapture = (*Capture)(nil)
	_ CodecRegistrar    = (*Capture)(nil)
)

func NewCapture(opts CaptureOptions) (*Capture, error) {
	if opts.VideoBitRate <= 0 {
		opts.VideoBitRate = 1_500_000
	}
	c := &Capture{opts: opts, log: log.With().Str("component", "capture").Logger()}
	if err := c.initPlatform(); err != nil {
		return nil, err
	}
	return c, nil
}

// Release stops every track of stream. Safe to call twice and with nil.
func (c *Capture) Release(stream port.LocalStream) {
	if stream == nil {
		return
	}
	s, ok := stream.(*localStream)
	if !ok {
		c.log.Warn().Str("stream_id", stream.ID()).Msg("Release of a foreign stream ignored")
		return
	}
	if err := s.release(); err != nil {
		c.log.Warn().Err(err).Str("stream_id", s.id).Msg("Failed to stop local tracks")
		return
	}
	c.log.Debug().Str("stream_id", s.id).Msg("Local media released")
}

func (c *Capture) SetTrackEnabled(stream port.LocalStream, kind domain.TrackKind, enabled bool) error {
	s, ok := stream.(*localStream)
	if !ok {
		return errForeignStream
	}
	if !s.setEnabled(kind, enabled) {
		return fmt.Errorf("%w: no %s track", domain.ErrMediaUnavailable, kind)
	}
	return nil
}

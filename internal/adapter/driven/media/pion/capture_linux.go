//go:build linux

package pion

import (
	"context"
	"errors"
	"fmt"

	"github.com/Wyydra/peercall/internal/core/domain"
	"github.com/Wyydra/peercall/internal/core/port"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
)

type platformState struct {
	selector *mediadevices.CodecSelector
}

func (c *Capture) initPlatform() error {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return err
	}
	vpxParams.BitRate = c.opts.VideoBitRate

	opusParams, err := opus.NewParams()
	if err != nil {
		return err
	}

	c.selector = mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&vpxParams),
		mediadevices.WithAudioEncoders(&opusParams),
	)
	return nil
}

func (c *Capture) RegisterCodecs(m *webrtc.MediaEngine) error {
	c.selector.Populate(m)
	return nil
}

// Acquire opens the requested devices. When both kinds are requested and one
// of them cannot be opened, the call goes ahead with the other.
func (c *Capture) Acquire(ctx context.Context, constraints domain.MediaConstraints) (port.LocalStream, error) {
	if !constraints.Audio && !constraints.Video {
		return nil, fmt.Errorf("%w: neither audio nor video requested", domain.ErrMediaUnavailable)
	}

	type attempt struct {
		video, audio bool
		label        string
	}
	attempts := []attempt{{constraints.Video, constraints.Audio, "requested"}}
	if constraints.Video && constraints.Audio {
		attempts = append(attempts, attempt{true, false, "video-only"}, attempt{false, true, "audio-only"})
	}

	var errs []error
	for _, a := range attempts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ms, err := mediadevices.GetUserMedia(c.streamConstraints(constraints, a.video, a.audio))
		if err != nil {
			c.log.Warn().Err(err).Str("attempt", a.label).Msg("Media capture failed")
			errs = append(errs, err)
			continue
		}

		tracks := ms.GetTracks()
		locals := make([]webrtc.TrackLocal, 0, len(tracks))
		closers := make([]func() error, 0, len(tracks))
		for _, track := range tracks {
			track.OnEnded(func(err error) {
				if err != nil {
					c.log.Warn().Err(err).Str("track_id", track.ID()).Msg("Local track ended")
				}
			})
			locals = append(locals, track)
			closers = append(closers, track.Close)
		}
		stream := newLocalStream(locals, closers)

		if err := ctx.Err(); err != nil {
			_ = stream.release()
			return nil, err
		}
		c.log.Info().Str("attempt", a.label).Int("tracks", len(tracks)).Str("stream_id", stream.id).Msg("Local media captured")
		return stream, nil
	}
	return nil, fmt.Errorf("%w: %w", domain.ErrMediaUnavailable, errors.Join(errs...))
}

func (c *Capture) streamConstraints(want domain.MediaConstraints, video, audio bool) mediadevices.MediaStreamConstraints {
	constraints := mediadevices.MediaStreamConstraints{Codec: c.selector}
	if video {
		constraints.Video = func(m *mediadevices.MediaTrackConstraints) {
			// MJPEG nodes on some cameras produce frames the VP8 encoder chokes on.
			m.FrameFormat = prop.FrameFormatOneOf{
				frame.FormatYUYV,
				frame.FormatI420,
				frame.FormatI444,
				frame.FormatRGBA,
			}
			if want.Width > 0 {
				m.Width = prop.IntRanged{Max: want.Width}
			}
			if want.Height > 0 {
				m.Height = prop.IntRanged{Max: want.Height}
			}
			if want.FrameRate > 0 {
				m.FrameRate = prop.FloatRanged{Max: float32(want.FrameRate)}
			}
		}
	}
	if audio {
		constraints.Audio = func(*mediadevices.MediaTrackConstraints) {}
	}
	return constraints
}

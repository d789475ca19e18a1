package pion

import (
	"errors"
	"sync/atomic"
	"testing"

	"github.com/Wyydra/peercall/internal/core/domain"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingWriter struct {
	packets int
}

func (w *countingWriter) WriteRTP(header *rtp.Header, payload []byte) (int, error) {
	w.packets++
	return len(payload), nil
}

func (w *countingWriter) Write(b []byte) (int, error) {
	w.packets++
	return len(b), nil
}

func TestGatedWriter_DropsWhileDisabled(t *testing.T) {
	enabled := &atomic.Bool{}
	enabled.Store(true)
	inner := &countingWriter{}
	w := gatedWriter{TrackLocalWriter: inner, enabled: enabled}
	header := &rtp.Header{Version: 2, SequenceNumber: 1}

	_, err := w.WriteRTP(header, []byte{1, 2, 3})
	require.NoError(t, err)

	enabled.Store(false)
	n, err := w.WriteRTP(header, []byte{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, header.MarshalSize()+3, n)
	_, err = w.Write([]byte{9})
	require.NoError(t, err)
	assert.Equal(t, 1, inner.packets, "muted packets must not reach the network")

	enabled.Store(true)
	_, err = w.Write([]byte{9})
	require.NoError(t, err)
	assert.Equal(t, 2, inner.packets)
}

func newTestStream(t *testing.T, closeErr error) (*localStream, *int) {
	t.Helper()
	audio, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "peercall")
	require.NoError(t, err)
	video, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "peercall")
	require.NoError(t, err)
	closed := 0
	closer := func() error {
		closed++
		return closeErr
	}
	return newLocalStream([]webrtc.TrackLocal{audio, video}, []func() error{closer, closer}), &closed
}

func TestCapture_SetTrackEnabled(t *testing.T) {
	c := &Capture{log: zerolog.Nop()}
	stream, _ := newTestStream(t, nil)
	assert.Equal(t, []domain.TrackKind{domain.TrackAudio, domain.TrackVideo}, stream.Kinds())

	require.NoError(t, c.SetTrackEnabled(stream, domain.TrackVideo, false))

	assert.True(t, stream.tracks[0].enabled.Load())
	assert.False(t, stream.tracks[1].enabled.Load())
	assert.ErrorIs(t, c.SetTrackEnabled(foreignStream{}, domain.TrackAudio, false), errForeignStream)
}

func TestCapture_SetTrackEnabledMissingKind(t *testing.T) {
	c := &Capture{log: zerolog.Nop()}
	audio, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "peercall")
	require.NoError(t, err)
	stream := newLocalStream([]webrtc.TrackLocal{audio}, nil)

	assert.ErrorIs(t, c.SetTrackEnabled(stream, domain.TrackVideo, false), domain.ErrMediaUnavailable)
}

func TestCapture_ReleaseOnce(t *testing.T) {
	c := &Capture{log: zerolog.Nop()}
	stream, closed := newTestStream(t, errors.New("device busy"))

	c.Release(stream)
	c.Release(stream)
	c.Release(nil)

	assert.Equal(t, 2, *closed, "each track stopped exactly once")
}

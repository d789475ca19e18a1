package pion

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/Wyydra/peercall/internal/core/domain"
	"github.com/google/uuid"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// gatedTrack is a local track that can be silenced without renegotiating:
// while disabled its packets are dropped before they reach the network.
type gatedTrack struct {
	webrtc.TrackLocal
	kind    domain.TrackKind
	enabled *atomic.Bool
}

func newGatedTrack(track webrtc.TrackLocal) *gatedTrack {
	kind := domain.TrackAudio
	if track.Kind() == webrtc.RTPCodecTypeVideo {
		kind = domain.TrackVideo
	}
	enabled := &atomic.Bool{}
	enabled.Store(true)
	return &gatedTrack{TrackLocal: track, kind: kind, enabled: enabled}
}

func (t *gatedTrack) Bind(ctx webrtc.TrackLocalContext) (webrtc.RTPCodecParameters, error) {
	return t.TrackLocal.Bind(gatedContext{TrackLocalContext: ctx, enabled: t.enabled})
}

func (t *gatedTrack) Unbind(ctx webrtc.TrackLocalContext) error {
	return t.TrackLocal.Unbind(gatedContext{TrackLocalContext: ctx, enabled: t.enabled})
}

type gatedContext struct {
	webrtc.TrackLocalContext
	enabled *atomic.Bool
}

func (c gatedContext) WriteStream() webrtc.TrackLocalWriter {
	return gatedWriter{TrackLocalWriter: c.TrackLocalContext.WriteStream(), enabled: c.enabled}
}

type gatedWriter struct {
	webrtc.TrackLocalWriter
	enabled *atomic.Bool
}

func (w gatedWriter) WriteRTP(header *rtp.Header, payload []byte) (int, error) {
	if !w.enabled.Load() {
		return header.MarshalSize() + len(payload), nil
	}
	return w.TrackLocalWriter.WriteRTP(header, payload)
}

func (w gatedWriter) Write(b []byte) (int, error) {
	if !w.enabled.Load() {
		return len(b), nil
	}
	return w.TrackLocalWriter.Write(b)
}

// localStream owns the captured tracks of one call.
type localStream struct {
	id      string
	tracks  []*gatedTrack
	closers []func() error

	releaseOnce sync.Once
	releaseErr  error
}

func newLocalStream(tracks []webrtc.TrackLocal, closers []func() error) *localStream {
	s := &localStream{id: uuid.NewString(), closers: closers}
	for _, track := range tracks {
		s.tracks = append(s.tracks, newGatedTrack(track))
	}
	return s
}

func (s *localStream) ID() string {
	return s.id
}

func (s *localStream) Kinds() []domain.TrackKind {
	kinds := make([]domain.TrackKind, 0, len(s.tracks))
	for _, t := range s.tracks {
		kinds = append(kinds, t.kind)
	}
	return kinds
}

func (s *localStream) setEnabled(kind domain.TrackKind, enabled bool) bool {
	found := false
	for _, t := range s.tracks {
		if t.kind == kind {
			t.enabled.Store(enabled)
			found = true
		}
	}
	return found
}

func (s *localStream) release() error {
	s.releaseOnce.Do(func() {
		var errs []error
		for _, closeFn := range s.closers {
			if err := closeFn(); err != nil {
				errs = append(errs, err)
			}
		}
		s.releaseErr = errors.Join(errs...)
	})
	return s.releaseErr
}

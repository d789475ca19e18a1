package port

import (
	"context"

	"github.com/Wyydra/peercall/internal/core/domain"
)

// LocalStream is a set of captured local tracks. Transport adapters know the
// concrete type they can send.
type LocalStream interface {
	ID() string
	Kinds() []domain.TrackKind
}

type MediaCapture interface {
	// Acquire fails with domain.ErrMediaUnavailable when devices are denied or absent.
	Acquire(ctx context.Context, constraints domain.MediaConstraints) (LocalStream, error)
	// Release is idempotent and accepts a nil stream.
	Release(stream LocalStream)
	SetTrackEnabled(stream LocalStream, kind domain.TrackKind, enabled bool) error
}

package domain

import "errors"

var errCandidatesFlushed = errors.New("remote candidates already flushed")

// CandidateBuffer holds network-path candidates until each side of the
// negotiation can consume them. Candidates always leave in arrival order.
type CandidateBuffer struct {
	localReady bool
	local      []Candidate

	remoteReady bool
	remote      []Candidate
}

// OfferLocal relays c if the local description is set, otherwise queues it.
func (b *CandidateBuffer) OfferLocal(c Candidate, relay func(Candidate) error) error {
	if !b.localReady {
		b.local = append(b.local, c)
		return nil
	}
	return relay(c)
}

// LocalDescriptionSet relays every queued local candidate in order. Later
// local candidates are relayed directly by OfferLocal.
func (b *CandidateBuffer) LocalDescriptionSet(relay func(Candidate) error) error {
	if b.localReady {
		return nil
	}
	b.localReady = true
	queued := b.local
	b.local = nil

	var errs []error
	for _, c := range queued {
		if err := relay(c); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// OfferRemote applies c if the remote description was applied, otherwise queues it.
func (b *CandidateBuffer) OfferRemote(c Candidate, apply func(Candidate) error) error {
	if !b.remoteReady {
		b.remote = append(b.remote, c)
		return nil
	}
	return apply(c)
}

// Flush must be called once, right after the remote description is applied.
// Every queued remote candidate is applied in arrival order, a failing one
// does not stop the rest.
func (b *CandidateBuffer) Flush(apply func(Candidate) error) error {
	if b.remoteReady {
		return errCandidatesFlushed
	}
	b.remoteReady = true
	queued := b.remote
	b.remote = nil

	var errs []error
	for _, c := range queued {
		if err := apply(c); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (b *CandidateBuffer) Clear() {
	*b = CandidateBuffer{}
}

func (b *CandidateBuffer) PendingRemote() int {
	return len(b.remote)
}

func (b *CandidateBuffer) PendingLocal() int {
	return len(b.local)
}

func (b *CandidateBuffer) Empty() bool {
	return len(b.local) == 0 && len(b.remote) == 0
}

package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Wyydra/peercall/internal/core/domain"
	"github.com/Wyydra/peercall/internal/core/port"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultErrorRevertDelay = 3 * time.Second
	DefaultSendTimeout      = 5 * time.Second
)

type CallOptions struct {
	Constraints      domain.MediaConstraints
	ErrorRevertDelay time.Duration
	// RingTimeout bounds Calling and Incoming, ConnectTimeout bounds Connecting.
	// Zero disables the deadline.
	RingTimeout    time.Duration
	ConnectTimeout time.Duration
	SendTimeout    time.Duration
	Now            func() time.Time
}

type UpdateKind string

const (
	UpdateStatus   UpdateKind = "status"
	UpdateIncoming UpdateKind = "incoming"
	UpdatePresence UpdateKind = "presence"
)

type Update struct {
	Kind     UpdateKind
	Status   domain.CallStatus
	State    domain.CallState
	Remote   domain.UserID
	Reason   string
	Err      error
	Presence []domain.PresenceEntry
}

type Snapshot struct {
	State        domain.CallState
	Status       domain.CallStatus
	SessionID    string
	Remote       domain.UserID
	Link         port.LinkState
	AudioEnabled bool
	VideoEnabled bool
	LastError    error
	Presence     []domain.PresenceEntry
	// PendingRemoteCandidates counts candidates waiting for the remote description.
	PendingRemoteCandidates int
}

type command struct {
	fn    func() error
	reply chan error
}

// negotiated is what an establish step hands back to the dispatch loop.
type negotiated struct {
	stream    port.LocalStream
	transport port.PeerTransport
	desc      domain.Description
}

// CallService is the call session state machine of one local identity.
// Every field below the mutex-guarded observers is owned by the Run loop.
type CallService struct {
	self       domain.UserID
	signaling  port.SignalingChannel
	media      port.MediaCapture
	transports port.PeerTransportFactory
	opts       CallOptions
	log        zerolog.Logger

	commands chan command
	internal chan func()
	done     chan struct{}

	observersMu sync.RWMutex
	observers   []func(Update)

	state      domain.CallState
	session    *domain.CallSession
	stream     port.LocalStream
	transport  port.PeerTransport
	stepCancel context.CancelFunc
	deadline   *time.Timer
	errorTimer *time.Timer
	errorEpoch uint64
	lastErr    error
	link       port.LinkState
	presence   []domain.PresenceEntry
	audioOn    bool
	videoOn    bool
}

func NewCallService(self domain.UserID, signaling port.SignalingChannel, media port.MediaCapture, transports port.PeerTransportFactory, opts CallOptions) *CallService {
	if opts.ErrorRevertDelay <= 0 {
		opts.ErrorRevertDelay = DefaultErrorRevertDelay
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = DefaultSendTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &CallService{
		self:       self,
		signaling:  signaling,
		media:      media,
		transports: transports,
		opts:       opts,
		log:        log.With().Str("user_id", self.String()).Logger(),
		commands:   make(chan command),
		internal:   make(chan func(), 64),
		done:       make(chan struct{}),
		state:      domain.StateIdle,
		link:       port.LinkDown,
		audioOn:    true,
		videoOn:    true,
	}
}

// OnUpdate registers an observer. Observers run on the dispatch loop and must
// not block or call back into the service synchronously.
func (s *CallService) OnUpdate(fn func(Update)) {
	s.observersMu.Lock()
	s.observers = append(s.observers, fn)
	s.observersMu.Unlock()
}

// Run is the single dispatch point. It returns when ctx is done, after ending
// any call in progress.
func (s *CallService) Run(ctx context.Context) error {
	defer close(s.done)

	events := s.signaling.Events()
	for {
		select {
		case <-ctx.Done():
			s.teardown(true)
			s.disarmError()
			s.log.Info().Msg("Call service stopped")
			return ctx.Err()
		case cmd := <-s.commands:
			cmd.reply <- cmd.fn()
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			s.handleChannelEvent(ev)
		case fn := <-s.internal:
			fn()
		}
	}
}

func (s *CallService) StartCall(ctx context.Context, remote domain.UserID) error {
	if remote.IsZero() || remote == s.self {
		return fmt.Errorf("%w: %q", domain.ErrInvalidPeer, remote)
	}
	return s.do(ctx, func() error {
		if s.state != domain.StateIdle {
			return fmt.Errorf("%w: state %s", domain.ErrSessionBusy, s.state)
		}
		sess := domain.NewCallSession(s.self, remote, domain.StateCalling, s.opts.Now())
		s.begin(sess)
		s.log.Info().Str("remote_user_id", remote.String()).Str("session_id", sess.ID.String()).Msg("Starting call")

		s.establish(sess, func(ctx context.Context, t port.PeerTransport) (domain.Description, error) {
			offer, err := t.CreateOffer(ctx)
			if err != nil {
				return nil, err
			}
			if err := t.SetLocalDescription(offer); err != nil {
				return nil, err
			}
			return offer, nil
		}, s.offerReady)
		return nil
	})
}

func (s *CallService) AcceptCall(ctx context.Context) error {
	return s.do(ctx, func() error {
		sess := s.session
		if s.state != domain.StateIncoming || sess == nil || len(sess.RemoteOffer) == 0 {
			return fmt.Errorf("%w: %w", domain.ErrSessionBusy, domain.ErrNoIncomingCall)
		}
		offer := sess.RemoteOffer
		s.transition(domain.StateConnecting)
		s.armDeadline(s.opts.ConnectTimeout)
		s.emitStatus("", nil)
		s.log.Info().Str("remote_user_id", sess.Remote.String()).Str("session_id", sess.ID.String()).Msg("Accepting call")

		s.establish(sess, func(ctx context.Context, t port.PeerTransport) (domain.Description, error) {
			answer, err := t.CreateAnswer(ctx, offer)
			if err != nil {
				return nil, err
			}
			if err := t.SetLocalDescription(answer); err != nil {
				return nil, err
			}
			return answer, nil
		}, s.answerReady)
		return nil
	})
}

func (s *CallService) RejectCall(ctx context.Context) error {
	return s.do(ctx, func() error {
		if s.state != domain.StateIncoming || s.session == nil {
			return domain.ErrNoIncomingCall
		}
		s.log.Info().Str("remote_user_id", s.session.Remote.String()).Msg("Rejecting call")
		s.teardown(true)
		s.emitStatus("rejected", nil)
		return nil
	})
}

// EndCall is safe from any state. An in-flight negotiation step is cancelled
// and its result discarded.
func (s *CallService) EndCall(ctx context.Context) error {
	return s.do(ctx, func() error {
		switch s.state {
		case domain.StateIdle:
			return nil
		case domain.StateError:
			s.disarmError()
			s.state = domain.StateIdle
			s.emitStatus("", nil)
			return nil
		}
		s.teardown(true)
		s.emitStatus("hangup", nil)
		return nil
	})
}

// SetTrackEnabled mutes or unmutes a local track without renegotiating.
func (s *CallService) SetTrackEnabled(ctx context.Context, kind domain.TrackKind, enabled bool) error {
	return s.do(ctx, func() error {
		if s.stream == nil {
			return fmt.Errorf("%w: no local media in this call", domain.ErrMediaUnavailable)
		}
		if err := s.media.SetTrackEnabled(s.stream, kind, enabled); err != nil {
			return err
		}
		switch kind {
		case domain.TrackAudio:
			s.audioOn = enabled
		case domain.TrackVideo:
			s.videoOn = enabled
		}
		s.log.Info().Str("kind", string(kind)).Bool("enabled", enabled).Msg("Local track toggled")
		return nil
	})
}

func (s *CallService) RequestPresence(ctx context.Context) error {
	return s.signaling.Send(ctx, domain.PresenceRequest{})
}

func (s *CallService) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := s.do(ctx, func() error {
		snap = Snapshot{
			State:        s.state,
			Status:       s.status(),
			Link:         s.link,
			AudioEnabled: s.audioOn,
			VideoEnabled: s.videoOn,
			LastError:    s.lastErr,
			Presence:     append([]domain.PresenceEntry(nil), s.presence...),
		}
		if s.session != nil {
			snap.SessionID = s.session.ID.String()
			snap.Remote = s.session.Remote
			snap.PendingRemoteCandidates = s.session.Candidates.PendingRemote()
		}
		return nil
	})
	return snap, err
}

func (s *CallService) do(ctx context.Context, fn func() error) error {
	reply := make(chan error, 1)
	select {
	case s.commands <- command{fn: fn, reply: reply}:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return domain.ErrStopped
	}
	select {
	case err := <-reply:
		return err
	case <-s.done:
		return domain.ErrStopped
	}
}

// post queues fn on the dispatch loop. It reports false once the loop is gone.
func (s *CallService) post(fn func()) bool {
	select {
	case s.internal <- fn:
		return true
	case <-s.done:
		return false
	}
}

func (s *CallService) begin(sess *domain.CallSession) {
	s.disarmError()
	s.session = sess
	s.state = sess.State
	s.lastErr = nil
	s.armDeadline(s.opts.RingTimeout)
}

func (s *CallService) transition(to domain.CallState) {
	from := s.state
	s.state = to
	if s.session != nil {
		s.session.Transition(to, s.opts.Now())
	}
	s.log.Debug().Str("from", string(from)).Str("to", string(to)).Msg("Call state changed")
}

func (s *CallService) current(id domain.SessionID) bool {
	return s.session != nil && s.session.ID == id
}

// establish acquires media, creates the transport and runs negotiate off the
// loop. Everything acquired is released on every failure path, and also when
// the session is gone by the time the step completes.
func (s *CallService) establish(sess *domain.CallSession, negotiate func(context.Context, port.PeerTransport) (domain.Description, error), ready func(*domain.CallSession, domain.Description)) {
	ctx, cancel := context.WithCancel(context.Background())
	s.stepCancel = cancel
	id := sess.ID

	go func() {
		res, err := s.negotiateStep(ctx, id, negotiate)
		cancel()
		delivered := s.post(func() {
			if !s.current(id) {
				s.log.Debug().Str("session_id", id.String()).Msg("Discarding negotiation result of ended session")
				s.release(res)
				return
			}
			s.stepCancel = nil
			if err != nil {
				s.fail(err)
				return
			}
			s.stream = res.stream
			s.transport = res.transport
			ready(s.session, res.desc)
		})
		if !delivered {
			s.release(res)
		}
	}()
}

func (s *CallService) negotiateStep(ctx context.Context, id domain.SessionID, negotiate func(context.Context, port.PeerTransport) (domain.Description, error)) (res negotiated, err error) {
	stream, err := s.media.Acquire(ctx, s.opts.Constraints)
	if err != nil {
		return res, err
	}
	defer func() {
		if err != nil {
			s.media.Release(stream)
		}
	}()

	t, err := s.transports.Create(ctx, id, port.TransportEvents{
		OnLocalCandidate: func(c domain.Candidate) {
			s.post(func() { s.localCandidate(id, c) })
		},
		OnConnectivityChange: func(state domain.Connectivity) {
			s.post(func() { s.connectivityChanged(id, state) })
		},
	})
	if err != nil {
		return res, fmt.Errorf("%w: create transport: %w", domain.ErrNegotiation, err)
	}
	defer func() {
		if err != nil {
			_ = t.Close()
		}
	}()

	if err := t.AddLocalTracks(stream); err != nil {
		return res, fmt.Errorf("%w: add local tracks: %w", domain.ErrNegotiation, err)
	}
	desc, err := negotiate(ctx, t)
	if err != nil {
		return res, fmt.Errorf("%w: %w", domain.ErrNegotiation, err)
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}
	return negotiated{stream: stream, transport: t, desc: desc}, nil
}

func (s *CallService) release(res negotiated) {
	if res.transport != nil {
		if err := res.transport.Close(); err != nil {
			s.log.Warn().Err(err).Msg("Failed to close peer transport")
		}
	}
	s.media.Release(res.stream)
}

func (s *CallService) offerReady(sess *domain.CallSession, offer domain.Description) {
	sess.LocalDescription = offer
	if err := s.send(domain.CallOffer{Route: domain.Route{Target: sess.Remote}, Offer: offer}); err != nil {
		s.fail(err)
		return
	}
	s.log.Info().Str("remote_user_id", sess.Remote.String()).Msg("Call offer sent")
	s.flushLocalCandidates(sess)
}

func (s *CallService) answerReady(sess *domain.CallSession, answer domain.Description) {
	sess.RemoteDescription = sess.RemoteOffer
	if err := sess.Candidates.Flush(s.transport.AddICECandidate); err != nil {
		s.log.Warn().Err(err).Msg("Some buffered candidates were rejected")
	}
	sess.LocalDescription = answer
	if err := s.send(domain.CallAnswer{Route: domain.Route{Target: sess.Remote}, Answer: answer}); err != nil {
		s.fail(err)
		return
	}
	s.log.Info().Str("remote_user_id", sess.Remote.String()).Msg("Call answer sent")
	s.flushLocalCandidates(sess)
}

func (s *CallService) flushLocalCandidates(sess *domain.CallSession) {
	if err := sess.Candidates.LocalDescriptionSet(s.relayCandidate(sess)); err != nil {
		s.log.Warn().Err(err).Msg("Failed to relay queued candidates")
	}
}

// relayCandidate is bound to the remote identity of sess, fixed at creation.
func (s *CallService) relayCandidate(sess *domain.CallSession) func(domain.Candidate) error {
	target := sess.Remote
	return func(c domain.Candidate) error {
		return s.send(domain.IceCandidate{Route: domain.Route{Target: target}, Candidate: c})
	}
}

func (s *CallService) localCandidate(id domain.SessionID, c domain.Candidate) {
	if !s.current(id) {
		return
	}
	if err := s.session.Candidates.OfferLocal(c, s.relayCandidate(s.session)); err != nil {
		s.log.Warn().Err(err).Msg("Failed to relay candidate")
	}
}

func (s *CallService) connectivityChanged(id domain.SessionID, state domain.Connectivity) {
	if !s.current(id) {
		return
	}
	s.log.Debug().Str("connectivity", string(state)).Msg("Peer connectivity changed")
	switch state {
	case domain.ConnectivityConnected:
		if s.state == domain.StateConnecting {
			s.transition(domain.StateActive)
			s.disarmDeadline()
			s.log.Info().Str("remote_user_id", s.session.Remote.String()).Msg("Call active")
			s.emitStatus("", nil)
		}
	case domain.ConnectivityDisconnected, domain.ConnectivityFailed, domain.ConnectivityClosed:
		s.log.Warn().Str("connectivity", string(state)).Msg("Peer transport lost")
		s.teardown(true)
		s.emitStatus("peer "+string(state), domain.ErrPeerConnectivityFailed)
	}
}

// teardown is the only release point of a session's resources. Notify sends
// call-end to the remote identity of the session.
func (s *CallService) teardown(notify bool) {
	sess := s.session
	if sess == nil {
		return
	}
	s.transition(domain.StateEnding)
	if s.stepCancel != nil {
		s.stepCancel()
		s.stepCancel = nil
	}
	s.disarmDeadline()

	if notify {
		if err := s.send(domain.CallEnd{Route: domain.Route{Target: sess.Remote}}); err != nil {
			s.log.Warn().Err(err).Str("remote_user_id", sess.Remote.String()).Msg("Failed to send call end")
		}
	}
	if s.transport != nil {
		if err := s.transport.Close(); err != nil {
			s.log.Warn().Err(err).Msg("Failed to close peer transport")
		}
		s.transport = nil
	}
	s.media.Release(s.stream)
	s.stream = nil
	sess.Candidates.Clear()

	s.log.Info().Str("remote_user_id", sess.Remote.String()).Str("session_id", sess.ID.String()).Msg("Call ended")
	s.session = nil
	s.state = domain.StateIdle
	s.audioOn = true
	s.videoOn = true
}

// fail tears the session down and parks the machine in Error. The remote is
// only told when it has already seen an offer from either side.
func (s *CallService) fail(err error) {
	s.log.Error().Err(err).Msg("Call failed")
	notify := s.session != nil && (len(s.session.LocalDescription) > 0 || len(s.session.RemoteOffer) > 0)
	s.teardown(notify)
	s.enterError(err)
}

func (s *CallService) enterError(err error) {
	s.disarmError()
	s.state = domain.StateError
	s.lastErr = err
	s.errorEpoch++
	epoch := s.errorEpoch
	s.errorTimer = time.AfterFunc(s.opts.ErrorRevertDelay, func() {
		s.post(func() {
			if s.state == domain.StateError && s.errorEpoch == epoch {
				s.state = domain.StateIdle
				s.emitStatus("", nil)
			}
		})
	})
	s.emitStatus(err.Error(), err)
}

func (s *CallService) disarmError() {
	if s.errorTimer != nil {
		s.errorTimer.Stop()
		s.errorTimer = nil
	}
	s.errorEpoch++
}

func (s *CallService) armDeadline(d time.Duration) {
	s.disarmDeadline()
	if d <= 0 || s.session == nil {
		return
	}
	id := s.session.ID
	state := s.state
	s.deadline = time.AfterFunc(d, func() {
		s.post(func() {
			if s.current(id) && s.state == state {
				s.fail(fmt.Errorf("%w in state %s", domain.ErrTimeout, state))
			}
		})
	})
}

func (s *CallService) disarmDeadline() {
	if s.deadline != nil {
		s.deadline.Stop()
		s.deadline = nil
	}
}

func (s *CallService) send(msg domain.Message) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.SendTimeout)
	defer cancel()
	return s.signaling.Send(ctx, msg)
}

func (s *CallService) status() domain.CallStatus {
	switch s.state {
	case domain.StateCalling:
		return domain.StatusCalling
	case domain.StateIncoming:
		return domain.StatusIncoming
	case domain.StateConnecting:
		return domain.StatusConnecting
	case domain.StateActive:
		return domain.StatusActive
	case domain.StateError:
		return domain.StatusError
	}
	if s.link != port.LinkUp {
		return domain.StatusDisconnected
	}
	return domain.StatusIdle
}

func (s *CallService) emitStatus(reason string, err error) {
	u := Update{Kind: UpdateStatus, Status: s.status(), State: s.state, Reason: reason, Err: err}
	if s.session != nil {
		u.Remote = s.session.Remote
	}
	s.emit(u)
}

func (s *CallService) emit(u Update) {
	s.observersMu.RLock()
	observers := make([]func(Update), len(s.observers))
	copy(observers, s.observers)
	s.observersMu.RUnlock()
	for _, fn := range observers {
		fn(u)
	}
}

func (s *CallService) handleChannelEvent(ev port.ChannelEvent) {
	if ev.Message != nil {
		ev.Message.Accept(s)
		return
	}
	switch ev.Link {
	case port.LinkUp:
		s.link = port.LinkUp
		if ev.Reconnected && s.session != nil {
			// negotiation context from before the gap is not resumed
			s.log.Warn().Str("remote_user_id", s.session.Remote.String()).Msg("Relay reconnected, dropping call")
			s.teardown(true)
			s.emitStatus("relay reconnected", domain.ErrTransportClosed)
			return
		}
		s.emitStatus("", nil)
	case port.LinkDown:
		s.link = port.LinkDown
		s.emitStatus("relay disconnected", domain.ErrTransportClosed)
	}
}

func (s *CallService) dropMessage(m domain.Message, why string) {
	s.log.Warn().
		Err(domain.ErrRelayProtocol).
		Str("type", string(m.Kind())).
		Str("from", m.Routing().From.String()).
		Str("state", string(s.state)).
		Msg("Dropping relay message: " + why)
}

// fromRemote accepts relays that do not stamp the sender.
func (s *CallService) fromRemote(r domain.Route) bool {
	return s.session != nil && (r.From.IsZero() || r.From == s.session.Remote)
}

func (s *CallService) HandleConnectionEstablished(m domain.ConnectionEstablished) {
	s.log.Info().Str("username", m.Username).Msg("Relay connection established")
}

func (s *CallService) HandleCallOffer(m domain.CallOffer) {
	if m.From.IsZero() || len(m.Offer) == 0 {
		s.dropMessage(m, "offer without caller or body")
		return
	}
	if s.state != domain.StateIdle {
		s.log.Info().Str("remote_user_id", m.From.String()).Str("state", string(s.state)).Msg("Busy, refusing call")
		if err := s.send(domain.CallError{Route: domain.Route{Target: m.From}, Reason: "busy"}); err != nil {
			s.log.Warn().Err(err).Msg("Failed to send busy")
		}
		return
	}
	sess := domain.NewCallSession(s.self, m.From, domain.StateIncoming, s.opts.Now())
	sess.RemoteOffer = m.Offer
	s.begin(sess)
	s.log.Info().Str("remote_user_id", m.From.String()).Str("session_id", sess.ID.String()).Msg("Incoming call")
	s.emit(Update{Kind: UpdateIncoming, Status: domain.StatusIncoming, State: s.state, Remote: m.From})
}

func (s *CallService) HandleCallAnswer(m domain.CallAnswer) {
	if s.state != domain.StateCalling || !s.fromRemote(m.Route) {
		s.dropMessage(m, "no outgoing call awaiting an answer")
		return
	}
	if s.transport == nil {
		s.dropMessage(m, "answer before offer was sent")
		return
	}
	sess := s.session
	if err := s.transport.SetRemoteDescription(m.Answer); err != nil {
		s.fail(fmt.Errorf("%w: apply answer: %w", domain.ErrNegotiation, err))
		return
	}
	sess.RemoteDescription = m.Answer
	if err := sess.Candidates.Flush(s.transport.AddICECandidate); err != nil {
		s.log.Warn().Err(err).Msg("Some buffered candidates were rejected")
	}
	s.transition(domain.StateConnecting)
	s.armDeadline(s.opts.ConnectTimeout)
	s.log.Info().Str("remote_user_id", sess.Remote.String()).Msg("Call answer applied")
	s.emitStatus("", nil)
}

func (s *CallService) HandleIceCandidate(m domain.IceCandidate) {
	if s.session == nil || s.state == domain.StateEnding || !s.fromRemote(m.Route) {
		s.dropMessage(m, "no call for candidate")
		return
	}
	apply := func(c domain.Candidate) error {
		if s.transport == nil {
			return errors.New("no peer transport")
		}
		return s.transport.AddICECandidate(c)
	}
	if err := s.session.Candidates.OfferRemote(m.Candidate, apply); err != nil {
		s.log.Warn().Err(err).Msg("Failed to apply remote candidate")
	}
}

func (s *CallService) HandleCallEnd(m domain.CallEnd) {
	if s.session == nil || !s.fromRemote(m.Route) {
		s.log.Debug().Str("from", m.From.String()).Msg("Ignoring call end without matching call")
		return
	}
	s.log.Info().Str("remote_user_id", s.session.Remote.String()).Msg("Call ended by remote")
	s.teardown(false)
	s.emitStatus("remote hangup", nil)
}

func (s *CallService) HandleCallError(m domain.CallError) {
	if s.session != nil && !s.fromRemote(m.Route) {
		s.dropMessage(m, "error from unrelated user")
		return
	}
	s.log.Warn().Str("reason", m.Reason).Msg("Call error received")
	s.teardown(false)
	s.enterError(fmt.Errorf("%w: %s", domain.ErrNegotiationRejected, m.Reason))
}

func (s *CallService) HandlePresenceRequest(m domain.PresenceRequest) {
	s.dropMessage(m, "clients do not serve presence")
}

func (s *CallService) HandlePresenceSnapshot(m domain.PresenceSnapshot) {
	s.presence = append([]domain.PresenceEntry(nil), m.Users...)
	s.emit(Update{Kind: UpdatePresence, Status: s.status(), State: s.state, Presence: s.presence})
}

// Package ws is the client side of the relay connection.
package ws

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/Wyydra/peercall/internal/adapter/wire"
	"github.com/Wyydra/peercall/internal/core/domain"
	"github.com/Wyydra/peercall/internal/core/port"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Options struct {
	// URL of the relay endpoint, the identity is added as the userId parameter.
	URL          string
	// Username is offered to the relay as a display name when set.
	Username     string
	Backoff      BackoffConfig
	PingInterval time.Duration
	PongWait     time.Duration
	WriteWait    time.Duration
	Dialer       *websocket.Dialer
}

// Channel implements port.SignalingChannel over one websocket, redialing with
// backoff whenever the connection drops until Close is called.
type Channel struct {
	opts    Options
	backoff *Backoff
	log     zerolog.Logger

	events chan port.ChannelEvent

	mu       sync.Mutex
	conn     *websocket.Conn
	identity domain.UserID

	writeMu sync.Mutex

	closing   chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

var _ port.SignalingChannel = (*Channel)(nil)

func NewChannel(opts Options) *Channel {
	if opts.PongWait <= 0 {
		opts.PongWait = 60 * time.Second
	}
	if opts.PingInterval <= 0 || opts.PingInterval >= opts.PongWait {
		opts.PingInterval = opts.PongWait * 9 / 10
	}
	if opts.WriteWait <= 0 {
		opts.WriteWait = 10 * time.Second
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	return &Channel{
		opts:    opts,
		backoff: NewBackoff(opts.Backoff),
		log:     log.With().Str("component", "signaling").Logger(),
		events:  make(chan port.ChannelEvent, 64),
		closing: make(chan struct{}),
	}
}

func (c *Channel) Events() <-chan port.ChannelEvent {
	return c.events
}

// Connect dials the relay. When the relay cannot be reached the channel
// reports LinkDown and keeps redialing in the background, as it does after
// a drop. Only a missing identity or a malformed URL is returned as an error.
func (c *Channel) Connect(ctx context.Context, identity domain.UserID) error {
	if identity.IsZero() {
		return domain.ErrInvalidPeer
	}
	c.mu.Lock()
	c.identity = identity
	c.mu.Unlock()

	conn, err := c.dial(ctx)
	switch {
	case errors.Is(err, domain.ErrTransportClosed):
		c.log.Warn().Err(err).Msg("Relay unreachable, retrying in background")
		c.emit(port.ChannelEvent{Link: port.LinkDown})
		conn = nil
	case err != nil:
		return err
	default:
		c.setConn(conn)
		c.emit(port.ChannelEvent{Link: port.LinkUp})
		c.requestPresence()
	}

	c.wg.Add(1)
	go c.supervise(conn)
	return nil
}

func (c *Channel) Send(ctx context.Context, msg domain.Message) error {
	data, err := wire.Encode(msg)
	if err != nil {
		return err
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return domain.ErrTransportClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	deadline := time.Now().Add(c.opts.WriteWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetWriteDeadline(deadline)
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		// the read side notices the close and starts redialing
		_ = conn.Close()
		return fmt.Errorf("%w: %w", domain.ErrTransportClosed, err)
	}
	c.log.Debug().Str("type", string(msg.Kind())).Str("target", msg.Routing().Target.String()).Msg("Relay message sent")
	return nil
}

// Close stops reconnecting, closes the socket and then the events channel.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		close(c.closing)
		c.mu.Lock()
		conn := c.conn
		c.conn = nil
		c.mu.Unlock()
		if conn != nil {
			c.writeMu.Lock()
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			c.writeMu.Unlock()
			_ = conn.Close()
		}
		c.wg.Wait()
		close(c.events)
		c.log.Info().Msg("Relay channel closed")
	})
	return nil
}

func (c *Channel) endpoint() (string, error) {
	u, err := url.Parse(c.opts.URL)
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	identity := c.identity
	c.mu.Unlock()
	q := u.Query()
	q.Set("userId", identity.String())
	if c.opts.Username != "" {
		q.Set("username", c.opts.Username)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Channel) dial(ctx context.Context) (*websocket.Conn, error) {
	endpoint, err := c.endpoint()
	if err != nil {
		return nil, fmt.Errorf("relay url: %w", err)
	}
	conn, _, err := c.opts.Dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", domain.ErrTransportClosed, c.opts.URL, err)
	}
	c.log.Info().Str("url", c.opts.URL).Msg("Connected to relay")
	return conn, nil
}

func (c *Channel) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

func (c *Channel) isClosing() bool {
	select {
	case <-c.closing:
		return true
	default:
		return false
	}
}

func (c *Channel) emit(ev port.ChannelEvent) {
	select {
	case c.events <- ev:
	case <-c.closing:
	}
}

func (c *Channel) requestPresence() {
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.WriteWait)
	defer cancel()
	if err := c.Send(ctx, domain.PresenceRequest{}); err != nil {
		c.log.Warn().Err(err).Msg("Failed to request presence")
	}
}

// supervise serves conn and redials after every drop. A nil conn starts with
// a redial.
func (c *Channel) supervise(conn *websocket.Conn) {
	defer c.wg.Done()
	wasUp := conn != nil
	for {
		if conn != nil {
			c.backoff.Connected(time.Now())
			c.serve(conn)

			c.mu.Lock()
			if c.conn == conn {
				c.conn = nil
			}
			c.mu.Unlock()
			if c.isClosing() {
				return
			}
			c.backoff.Disconnected(time.Now())
			c.log.Warn().Msg("Relay connection lost")
			c.emit(port.ChannelEvent{Link: port.LinkDown})
		}

		conn = c.redial()
		if conn == nil {
			return
		}
		c.setConn(conn)
		if c.isClosing() {
			_ = conn.Close()
			return
		}
		c.emit(port.ChannelEvent{Link: port.LinkUp, Reconnected: wasUp})
		c.requestPresence()
		wasUp = true
	}
}

func (c *Channel) redial() *websocket.Conn {
	for {
		delay := c.backoff.Next()
		c.log.Info().Dur("delay", delay).Msg("Reconnecting to relay")
		timer := time.NewTimer(delay)
		select {
		case <-c.closing:
			timer.Stop()
			return nil
		case <-timer.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), c.opts.PongWait)
		conn, err := c.dial(ctx)
		cancel()
		if err == nil {
			return conn
		}
		c.log.Warn().Err(err).Msg("Reconnect failed")
	}
}

// serve pumps inbound messages until the connection fails.
func (c *Channel) serve(conn *websocket.Conn) {
	stop := make(chan struct{})
	pingDone := make(chan struct{})
	go func() {
		defer close(pingDone)
		c.ping(conn, stop)
	}()
	defer func() {
		close(stop)
		<-pingDone
		_ = conn.Close()
	}()

	_ = conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) && !c.isClosing() {
				c.log.Error().Err(err).Msg("Relay read error")
			}
			return
		}
		msg, err := wire.Decode(data)
		if err != nil {
			c.log.Warn().Err(err).Msg("Dropping relay message")
			continue
		}
		c.emit(port.ChannelEvent{Message: msg})
	}
}

func (c *Channel) ping(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteWait))
			c.writeMu.Unlock()
			if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
				c.log.Debug().Err(err).Msg("Ping failed")
				return
			}
		}
	}
}

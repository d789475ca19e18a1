package http

import (
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Wyydra/peercall/internal/adapter/wire"
	"github.com/Wyydra/peercall/internal/core/domain"
	"github.com/Wyydra/peercall/internal/core/port"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var errSendBufferFull = errors.New("send buffer full")

// WSClient is one relay connection. Writes go through send so only the
// write pump touches the socket.
type WSClient struct {
	id       domain.ClientID
	userID   domain.UserID
	username string
	conn     *websocket.Conn
	send     chan []byte

	closeOnce sync.Once
	done      chan struct{}
}

var _ port.Client = (*WSClient)(nil)

func (c *WSClient) ID() domain.ClientID {
	return c.id
}

func (c *WSClient) UserID() domain.UserID {
	return c.userID
}

func (c *WSClient) Username() string {
	return c.username
}

func (c *WSClient) Send(msg domain.Message) error {
	data, err := wire.Encode(msg)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return domain.ErrTransportClosed
	default:
	}
	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return domain.ErrTransportClosed
	default:
		// a client this far behind cannot follow a negotiation anyway
		c.Close()
		return errSendBufferFull
	}
}

func (c *WSClient) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
	})
	return nil
}

// HTTP handler
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID, err := domain.NewUserIDFromString(r.URL.Query().Get("userId"))
	if err != nil {
		http.Error(w, "userId is required", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Error while upgrading ws")
		return
	}

	client := &WSClient{
		id:       domain.NewClientID(),
		userID:   userID,
		username: strings.TrimSpace(r.URL.Query().Get("username")),
		conn:     conn,
		send:     make(chan []byte, h.opts.SendBuffer),
		done:     make(chan struct{}),
	}

	l := log.With().Str("user_id", userID.String()).Str("client_id", client.id.String()).Logger()
	l.Info().Msg("New client connected")

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.writePump(client, l)
	}()

	if err := h.RelayService.Connect(r.Context(), client); err != nil {
		l.Error().Err(err).Msg("Failed to greet client")
		client.Close()
		<-writerDone
		return
	}

	defer func() {
		l.Info().Msg("Client disconnected")
		h.RelayService.Disconnect(client)
		client.Close()
		<-writerDone
	}()

	h.readPump(client, r, l)
}

func (h *Handler) readPump(client *WSClient, r *http.Request, l zerolog.Logger) {
	conn := client.conn
	conn.SetReadLimit(h.opts.MaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(h.opts.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.opts.PongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				l.Error().Err(err).Msg("Unexpected close error")
			}
			return
		}

		msg, err := wire.Decode(data)
		if err != nil {
			l.Warn().Err(err).Msg("Dropping malformed message")
			continue
		}
		if err := h.RelayService.Route(r.Context(), client, msg); err != nil {
			l.Warn().Err(err).Str("type", string(msg.Kind())).Msg("Failed to route message")
		}
	}
}

func (h *Handler) writePump(client *WSClient, l zerolog.Logger) {
	conn := client.conn
	ticker := time.NewTicker(h.opts.PingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case data := <-client.send:
			_ = conn.SetWriteDeadline(time.Now().Add(h.opts.WriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				l.Error().Err(err).Msg("Error sending message")
				client.Close()
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.opts.WriteWait)); err != nil {
				client.Close()
				return
			}
		case <-client.done:
			h.flush(client)
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(h.opts.WriteWait))
			return
		}
	}
}

// flush writes whatever was queued before the client closed.
func (h *Handler) flush(client *WSClient) {
	for {
		select {
		case data := <-client.send:
			_ = client.conn.SetWriteDeadline(time.Now().Add(h.opts.WriteWait))
			if err := client.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		default:
			return
		}
	}
}

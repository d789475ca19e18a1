package http

import (
	"net/http"
	"time"

	"github.com/Wyydra/peercall/internal/core/service"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type Options struct {
	// Path of the websocket endpoint, /call-signaling by default.
	Path string
	// AllowedOrigins empty accepts any origin.
	AllowedOrigins []string
	PingInterval   time.Duration
	PongWait       time.Duration
	WriteWait      time.Duration
	SendBuffer     int
	MaxMessageSize int64
}

type Handler struct {
	RelayService *service.RelayService
	opts         Options
	upgrader     websocket.Upgrader
}

func NewHandler(relayService *service.RelayService, opts Options) *Handler {
	if opts.Path == "" {
		opts.Path = "/call-signaling"
	}
	if opts.PongWait <= 0 {
		opts.PongWait = 60 * time.Second
	}
	if opts.PingInterval <= 0 || opts.PingInterval >= opts.PongWait {
		opts.PingInterval = opts.PongWait * 9 / 10
	}
	if opts.WriteWait <= 0 {
		opts.WriteWait = 10 * time.Second
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 64
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = 64 << 10
	}

	h := &Handler{RelayService: relayService, opts: opts}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if len(h.opts.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	return origin == "" || lo.Contains(h.opts.AllowedOrigins, origin)
}

func (h *Handler) NewRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get(h.opts.Path, h.ServeWS)
	r.Get("/users", h.ListUsers)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	return r
}

func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	type userDTO struct {
		UserID   string `json:"userId"`
		Username string `json:"username"`
		FullName string `json:"fullName,omitempty"`
	}
	users := make([]userDTO, 0)
	for _, e := range h.RelayService.Presence(r.Context()) {
		users = append(users, userDTO{UserID: e.UserID.String(), Username: e.Username, FullName: e.FullName})
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{"users": users}); err != nil {
		log.Error().Err(err).Msg("Failed to write users")
	}
}

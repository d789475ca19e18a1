package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Wyydra/peercall/internal/adapter/driven/gateway/ws"
	"github.com/Wyydra/peercall/internal/adapter/driven/persistence/memory"
	handler "github.com/Wyydra/peercall/internal/adapter/driving/http"
	"github.com/Wyydra/peercall/internal/config"
	"github.com/Wyydra/peercall/internal/core/domain"
	"github.com/Wyydra/peercall/internal/core/service"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

func main() {
	configPath := flag.String("config", "", "path to settings.toml")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load settings")
	}
	l, err := cfg.Log.Logger(os.Stdout)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to set up logging")
	}
	log.Logger = l

	directory := memory.NewDirectory(lo.Map(cfg.Relay.Users, func(u config.UserConfig, _ int) domain.PresenceEntry {
		return domain.PresenceEntry{UserID: domain.UserID(u.UserID), Username: u.Username, FullName: u.FullName}
	}))
	hub := ws.NewHub()

	relayService := service.NewRelayService(hub, directory)
	h := handler.NewHandler(relayService, handler.Options{
		Path:           cfg.Relay.Path,
		AllowedOrigins: cfg.Relay.AllowedOrigins,
		PingInterval:   cfg.Relay.PingInterval,
		PongWait:       cfg.Relay.PongWait,
		WriteWait:      cfg.Relay.WriteWait,
		SendBuffer:     cfg.Relay.SendBuffer,
		MaxMessageSize: cfg.Relay.MaxMessageBytes,
	})

	go hub.Run()

	srv := &http.Server{
		Addr:    cfg.Relay.Listen,
		Handler: h.NewRouter(),
	}

	go func() {
		l.Info().Str("addr", cfg.Relay.Listen).Str("path", cfg.Relay.Path).Msg("Starting relay")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			l.Fatal().Err(err).Msg("Failed to start relay")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	<-quit
	l.Info().Msg("Shutting down relay...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Relay.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		l.Error().Err(err).Msg("Relay forced to shutdown")
	}

	hub.Stop()
	l.Info().Msg("Relay exited")
}

package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/Wyydra/peercall/internal/adapter/driven/media/pion"
	signaling "github.com/Wyydra/peercall/internal/adapter/driven/signaling/ws"
	"github.com/Wyydra/peercall/internal/adapter/driving/console"
	"github.com/Wyydra/peercall/internal/config"
	"github.com/Wyydra/peercall/internal/core/domain"
	"github.com/Wyydra/peercall/internal/core/service"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	configPath := flag.String("config", "", "path to settings.toml")
	user := flag.String("user", "", "identity announced to the relay, overrides client.user_id")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load settings")
	}
	l, err := cfg.Log.Logger(os.Stderr)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to set up logging")
	}
	log.Logger = l

	if *user == "" {
		*user = cfg.Client.UserID
	}
	self, err := domain.NewUserIDFromString(*user)
	if err != nil {
		l.Fatal().Err(err).Msg("An identity is required, pass -user or set client.user_id")
	}

	capture, err := pion.NewCapture(pion.CaptureOptions{VideoBitRate: cfg.Media.VideoBitRate})
	if err != nil {
		l.Fatal().Err(err).Msg("Failed to initialise media capture")
	}
	iceServers, err := cfg.WebRTC.Servers()
	if err != nil {
		l.Fatal().Err(err).Msg("Invalid ICE servers")
	}
	engine, err := pion.NewEngine(pion.EngineOptions{
		ICEServers:          iceServers,
		DisconnectedTimeout: cfg.WebRTC.DisconnectedTimeout,
		FailedTimeout:       cfg.WebRTC.FailedTimeout,
		KeepAliveInterval:   cfg.WebRTC.KeepAliveInterval,
		PortMin:             cfg.WebRTC.PortMin,
		PortMax:             cfg.WebRTC.PortMax,
	}, capture)
	if err != nil {
		l.Fatal().Err(err).Msg("Failed to create WebRTC engine")
	}

	channel := signaling.NewChannel(signaling.Options{
		URL:      cfg.Client.RelayURL,
		Username: cfg.Client.Username,
		Backoff: signaling.BackoffConfig{
			Base:        cfg.Client.ReconnectBase,
			Max:         cfg.Client.ReconnectMax,
			Multiplier:  2,
			StableAfter: cfg.Client.StableAfter,
		},
		PingInterval: cfg.Client.PingInterval,
		PongWait:     cfg.Client.PongWait,
	})

	calls := service.NewCallService(self, channel, capture, engine, service.CallOptions{
		Constraints: domain.MediaConstraints{
			Audio:        cfg.Media.Audio,
			Video:        cfg.Media.Video,
			Width:        cfg.Media.Width,
			Height:       cfg.Media.Height,
			FrameRate:    cfg.Media.FrameRate,
			VideoBitRate: cfg.Media.VideoBitRate,
		},
		ErrorRevertDelay: cfg.Call.ErrorRevertDelay,
		RingTimeout:      cfg.Call.RingTimeout,
		ConnectTimeout:   cfg.Call.ConnectTimeout,
		SendTimeout:      cfg.Client.SendTimeout,
	})
	term := console.New(calls, os.Stdin, os.Stdout)
	calls.OnUpdate(term.Notify)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serviceDone := make(chan struct{})
	go func() {
		defer close(serviceDone)
		_ = calls.Run(ctx)
	}()

	connectCtx, cancel := context.WithTimeout(ctx, cfg.Client.ConnectTimeout)
	err = channel.Connect(connectCtx, self)
	cancel()
	if err != nil {
		l.Fatal().Err(err).Str("relay_url", cfg.Client.RelayURL).Msg("Failed to start relay channel")
	}
	l.Info().Str("user_id", self.String()).Str("relay_url", cfg.Client.RelayURL).Msg("Relay channel started")

	if err := term.Run(ctx); err != nil && ctx.Err() == nil {
		l.Error().Err(err).Msg("Console stopped")
	}

	stop()
	<-serviceDone
	if err := channel.Close(); err != nil {
		l.Warn().Err(err).Msg("Failed to close relay channel")
	}
	l.Info().Msg("Client exited")
}

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"pi-stream/internal/client"
	"pi-stream/internal/config"
	"pi-stream/internal/media"
	"pi-stream/internal/rtc"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	fs := pflag.NewFlagSet("sender", pflag.ContinueOnError)
	signalURL := fs.String("signal-url", cfg.SignalURL, "signaling server websocket url")
	roomID := fs.String("room", cfg.RoomID, "room to join")
	rtpPort := fs.Int("rtp-port", cfg.RTPInPort, "local udp port the encoder pushes rtp to")
	logLevel := fs.String("log-level", cfg.LogLevel, "log level")
	if err := fs.Parse(os.Args[1:]); err != nil {
		log.Fatal().Err(err).Msg("failed to parse command line arguments")
	}
	if lvl, err := zerolog.ParseLevel(*logLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	if cfg.OptimizeLatency {
		// Socket tuning is handled by the host tooling, not here.
		log.Info().Msg("latency tuning requested, delegated to host")
	}

	source := media.NewRTPSource(*rtpPort)
	rtcCfg := rtc.DefaultConfig(cfg.StunURL)

	manager := client.NewManager(client.Config{
		Role:   client.RoleSender,
		RoomID: *roomID,
		Link:   client.NewLink(*signalURL),
		NewConn: func() (client.MediaConn, error) {
			return rtc.New(rtcCfg)
		},
		Source: source,
		OnStatus: func(status string) {
			log.Info().Str("status", status).Msg("stream status")
		},
	})

	log.Info().
		Str("room", *roomID).
		Str("signal_url", *signalURL).
		Int("rtp_port", *rtpPort).
		Msg("sender started")

	manager.Run(ctx)
	log.Info().Msg("sender exited")
}

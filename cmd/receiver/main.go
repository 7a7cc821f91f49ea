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

	fs := pflag.NewFlagSet("receiver", pflag.ContinueOnError)
	signalURL := fs.String("signal-url", cfg.SignalURL, "signaling server websocket url")
	roomID := fs.String("room", cfg.RoomID, "room to join")
	rtpPort := fs.Int("rtp-port", cfg.RTPOutPort, "local udp port to forward received rtp to")
	logLevel := fs.String("log-level", cfg.LogLevel, "log level")
	if err := fs.Parse(os.Args[1:]); err != nil {
		log.Fatal().Err(err).Msg("failed to parse command line arguments")
	}
	if lvl, err := zerolog.ParseLevel(*logLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	sink := media.NewRTPSink(*rtpPort)
	sink.SetFrameSize(cfg.VideoWidth, cfg.VideoHeight)
	rtcCfg := rtc.DefaultConfig(cfg.StunURL)

	manager := client.NewManager(client.Config{
		Role:   client.RoleReceiver,
		RoomID: *roomID,
		Link:   client.NewLink(*signalURL),
		NewConn: func() (client.MediaConn, error) {
			return rtc.New(rtcCfg)
		},
		Sink: sink,
		OnStatus: func(status string) {
			log.Info().Str("status", status).Msg("stream status")
		},
		OnSample: func(remoteID string, s client.Sample) {
			ev := log.Info().Str("remote", remoteID)
			if s.HasSize {
				ev = ev.Int("width", s.Width).Int("height", s.Height)
			}
			if s.HasFrameRate {
				ev = ev.Float64("fps", s.FrameRate)
			}
			if s.HasBitrate {
				ev = ev.Float64("bitrate_bps", s.BitrateBPS)
			}
			if s.HasLatency {
				ev = ev.Float64("latency_ms", s.LatencyMS)
			}
			ev.Msg("link quality")
		},
	})

	log.Info().
		Str("room", *roomID).
		Str("signal_url", *signalURL).
		Int("rtp_port", *rtpPort).
		Msg("receiver started")

	manager.Run(ctx)
	log.Info().Msg("receiver exited")
}

package config

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Port            int    `mapstructure:"port"`
	RoomID          string `mapstructure:"room_id"`
	VideoWidth      int    `mapstructure:"video_width"`
	VideoHeight     int    `mapstructure:"video_height"`
	FrameRate       int    `mapstructure:"frame_rate"`
	OptimizeLatency bool   `mapstructure:"optimize_latency"`
	SignalURL       string `mapstructure:"signal_url"`
	StunURL         string `mapstructure:"stun_url"`
	RTPInPort       int    `mapstructure:"rtp_in_port"`
	RTPOutPort      int    `mapstructure:"rtp_out_port"`
	LogLevel        string `mapstructure:"log_level"`
}

// Load reads settings from config.yaml if present, then lets
// environment variables (PORT, ROOM_ID, ...) override everything.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("port", 3000)
	v.SetDefault("room_id", "raspberry-pi-stream")
	v.SetDefault("video_width", 640)
	v.SetDefault("video_height", 480)
	v.SetDefault("frame_rate", 30)
	v.SetDefault("optimize_latency", false)
	v.SetDefault("signal_url", "ws://localhost:3000/ws")
	v.SetDefault("stun_url", "stun:stun.l.google.com:19302")
	v.SetDefault("rtp_in_port", 5004)
	v.SetDefault("rtp_out_port", 5006)
	v.SetDefault("log_level", "info")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, key := range v.AllKeys() {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	log.Info().
		Str("module", "config").
		Int("port", cfg.Port).
		Str("room_id", cfg.RoomID).
		Str("log_level", cfg.LogLevel).
		Msg("configuration loaded")
	return &cfg, nil
}

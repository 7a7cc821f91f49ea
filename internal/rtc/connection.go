package rtc

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"pi-stream/internal/client"
)

// Config tunes the underlying peer connection.
type Config struct {
	StunURL string

	DisconnectedTimeout time.Duration
	FailedTimeout       time.Duration
	KeepAliveInterval   time.Duration
}

func DefaultConfig(stunURL string) Config {
	return Config{
		StunURL:             stunURL,
		DisconnectedTimeout: 5 * time.Second,
		FailedTimeout:       10 * time.Second,
		KeepAliveInterval:   2 * time.Second,
	}
}

// Conn adapts a pion PeerConnection to the client.MediaConn contract.
type Conn struct {
	pc *webrtc.PeerConnection

	mu     sync.Mutex
	closed bool
}

var _ client.MediaConn = (*Conn)(nil)

func New(cfg Config) (*Conn, error) {
	settings := webrtc.SettingEngine{}
	if cfg.DisconnectedTimeout > 0 {
		settings.SetICETimeouts(cfg.DisconnectedTimeout, cfg.FailedTimeout, cfg.KeepAliveInterval)
	}
	api := webrtc.NewAPI(webrtc.WithSettingEngine(settings))

	var servers []webrtc.ICEServer
	if cfg.StunURL != "" {
		servers = append(servers, webrtc.ICEServer{URLs: []string{cfg.StunURL}})
	}
	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: servers})
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	return &Conn{pc: pc}, nil
}

func (c *Conn) CreateOffer() (webrtc.SessionDescription, error) {
	return c.pc.CreateOffer(nil)
}

func (c *Conn) CreateAnswer() (webrtc.SessionDescription, error) {
	return c.pc.CreateAnswer(nil)
}

func (c *Conn) SetLocalDescription(desc webrtc.SessionDescription) error {
	return c.pc.SetLocalDescription(desc)
}

func (c *Conn) SetRemoteDescription(desc webrtc.SessionDescription) error {
	return c.pc.SetRemoteDescription(desc)
}

func (c *Conn) AddICECandidate(cand webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(cand)
}

func (c *Conn) AddTrack(track webrtc.TrackLocal) error {
	sender, err := c.pc.AddTrack(track)
	if err != nil {
		return err
	}
	// Drain sender reports so the interceptors keep running.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				if err != io.EOF {
					log.Debug().Err(err).Str("module", "rtc").Msg("rtcp drain stopped")
				}
				return
			}
		}
	}()
	return nil
}

func (c *Conn) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand != nil {
			fn(cand.ToJSON())
		}
	})
}

func (c *Conn) OnTrack(fn func(*webrtc.TrackRemote)) {
	c.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "rtc").
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Msg("remote track")
		fn(track)
	})
}

func (c *Conn) OnStateChange(fn func(webrtc.PeerConnectionState)) {
	c.pc.OnConnectionStateChange(fn)
}

func (c *Conn) WriteRTCP(pkts []rtcp.Packet) error {
	return c.pc.WriteRTCP(pkts)
}

// LinkStats extracts receive-side counters from the transport's stats
// report. Decode timing is never reported here: this transport hands
// frames off without decoding them.
func (c *Conn) LinkStats() (client.LinkStats, bool) {
	report := c.pc.GetStats()

	var st client.LinkStats
	for _, entry := range report {
		switch s := entry.(type) {
		case webrtc.InboundRTPStreamStats:
			if s.Kind != "" && s.Kind != "video" {
				continue
			}
			st.HasInbound = true
			st.BytesReceived = s.BytesReceived
			st.JitterSec = s.Jitter
		case webrtc.ICECandidatePairStats:
			if s.CurrentRoundTripTime > 0 {
				st.HasRTT = true
				st.RTTSec = s.CurrentRoundTripTime
			}
		}
	}
	return st, st.HasInbound || st.HasRTT
}

func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	if err := c.pc.Close(); err != nil {
		return fmt.Errorf("close peer connection: %w", err)
	}
	log.Info().Str("module", "rtc").Msg("peer connection closed")
	return nil
}

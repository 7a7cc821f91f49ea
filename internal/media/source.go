package media

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

const udpReadBufSize = 1 << 16

// RTPSource feeds a local video track from an RTP stream pushed to a
// UDP port by an external encoder (rpicam-vid, ffmpeg). The track
// handle is shared: every acquire returns the same one, and the
// source, not the callers, owns the socket behind it.
type RTPSource struct {
	port int

	mu     sync.Mutex
	track  *webrtc.TrackLocalStaticRTP
	conn   *net.UDPConn
	cancel context.CancelFunc
}

func NewRTPSource(port int) *RTPSource {
	return &RTPSource{port: port}
}

// Acquire binds the ingest socket and starts pumping packets into the
// track. Safe to call again after a failure; callers retry on a fixed
// delay.
func (s *RTPSource) Acquire(ctx context.Context) (webrtc.TrackLocal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.track != nil {
		return s.track, nil
	}

	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: s.port})
	if err != nil {
		return nil, fmt.Errorf("rtp ingest listen: %w", err)
	}

	track, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeH264, ClockRate: 90000},
		"video", "pi-stream",
	)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("new local track: %w", err)
	}

	pumpCtx, cancel := context.WithCancel(ctx)
	s.conn = conn
	s.track = track
	s.cancel = cancel
	go s.pump(pumpCtx, conn, track)

	log.Info().Str("module", "media.source").Int("port", s.port).Msg("rtp ingest started")
	return track, nil
}

// Release closes the ingest socket and drops the track handle.
func (s *RTPSource) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	s.track = nil
	log.Info().Str("module", "media.source").Msg("rtp ingest released")
}

func (s *RTPSource) pump(ctx context.Context, conn *net.UDPConn, track *webrtc.TrackLocalStaticRTP) {
	buf := make([]byte, udpReadBufSize)
	var pkt rtp.Packet
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			log.Warn().Err(err).Str("module", "media.source").Msg("ingest read stopped")
			return
		}
		if err = pkt.Unmarshal(buf[:n]); err != nil {
			log.Debug().Err(err).Str("module", "media.source").Msg("dropping malformed rtp")
			continue
		}
		if err = track.WriteRTP(&pkt); err != nil {
			log.Debug().Err(err).Str("module", "media.source").Msg("track write")
		}
	}
}

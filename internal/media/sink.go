package media

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"pi-stream/internal/client"
)

const pliInterval = 3 * time.Second

// RTPSink forwards a remote video track to a local UDP port where an
// external player picks it up. It keeps the frame counter the stats
// monitor derives frame rate from; a new video frame is recognized by
// the RTP marker bit closing it.
type RTPSink struct {
	port int

	frames atomic.Uint64

	mu     sync.RWMutex
	width  int
	height int
}

var _ client.RenderSink = (*RTPSink)(nil)

func NewRTPSink(port int) *RTPSink {
	return &RTPSink{port: port}
}

// HandleTrack pumps the remote track until it ends or ctx is canceled,
// periodically asking the sender for a keyframe so playback can start
// mid-stream.
func (s *RTPSink) HandleTrack(ctx context.Context, track *webrtc.TrackRemote, rtcpWriter client.RTCPWriter) {
	out, err := net.Dial("udp", fmt.Sprintf("127.0.0.1:%d", s.port))
	if err != nil {
		log.Error().Err(err).Str("module", "media.sink").Int("port", s.port).Msg("egress dial")
		return
	}
	defer out.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go s.requestKeyframes(ctx, uint32(track.SSRC()), rtcpWriter)

	log.Info().
		Str("module", "media.sink").
		Int("port", s.port).
		Str("track_id", track.ID()).
		Msg("rtp egress started")

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		pkt, _, err := track.ReadRTP()
		if err != nil {
			log.Info().Err(err).Str("module", "media.sink").Msg("track ended")
			return
		}
		if pkt.Marker {
			s.frames.Add(1)
		}
		b, err := pkt.Marshal()
		if err != nil {
			continue
		}
		if _, err = out.Write(b); err != nil {
			log.Debug().Err(err).Str("module", "media.sink").Msg("egress write")
		}
	}
}

func (s *RTPSink) requestKeyframes(ctx context.Context, ssrc uint32, rtcpWriter client.RTCPWriter) {
	ticker := time.NewTicker(pliInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := rtcpWriter.WriteRTCP([]rtcp.Packet{
				&rtcp.PictureLossIndication{MediaSSRC: ssrc},
			})
			if err != nil {
				log.Debug().Err(err).Str("module", "media.sink").Msg("pli send")
				return
			}
		}
	}
}

func (s *RTPSink) FramesRendered() uint64 {
	return s.frames.Load()
}

// SetFrameSize records the negotiated resolution once the player
// reports it.
func (s *RTPSink) SetFrameSize(width, height int) {
	s.mu.Lock()
	s.width, s.height = width, height
	s.mu.Unlock()
}

func (s *RTPSink) FrameSize() (int, int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.width == 0 || s.height == 0 {
		return 0, 0, false
	}
	return s.width, s.height, true
}

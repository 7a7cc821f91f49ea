package client

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
)

// fakeMediaConn is a scriptable MediaConn used across the package
// tests. Callbacks can be fired from test goroutines the same way the
// real transport fires them from its own.
type fakeMediaConn struct {
	mu sync.Mutex

	offerSDP  string
	answerSDP string

	localDesc  *webrtc.SessionDescription
	remoteDesc *webrtc.SessionDescription
	candidates []webrtc.ICECandidateInit
	tracks     []webrtc.TrackLocal
	closed     int

	setRemoteErr error

	onICE   func(webrtc.ICECandidateInit)
	onTrack func(*webrtc.TrackRemote)
	onState func(webrtc.PeerConnectionState)

	stats    LinkStats
	hasStats bool
}

func newFakeMediaConn() *fakeMediaConn {
	return &fakeMediaConn{
		offerSDP:  "v=0\r\nm=video 9 UDP/TLS/RTP/SAVPF 96\r\nc=IN IP4 0.0.0.0\r\n",
		answerSDP: "v=0\r\nm=video 9 UDP/TLS/RTP/SAVPF 96\r\nc=IN IP4 0.0.0.0\r\n",
	}
}

func (f *fakeMediaConn) CreateOffer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: f.offerSDP}, nil
}

func (f *fakeMediaConn) CreateAnswer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: f.answerSDP}, nil
}

func (f *fakeMediaConn) SetLocalDescription(desc webrtc.SessionDescription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.localDesc = &desc
	return nil
}

func (f *fakeMediaConn) SetRemoteDescription(desc webrtc.SessionDescription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setRemoteErr != nil {
		return f.setRemoteErr
	}
	f.remoteDesc = &desc
	return nil
}

func (f *fakeMediaConn) AddICECandidate(cand webrtc.ICECandidateInit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.candidates = append(f.candidates, cand)
	return nil
}

func (f *fakeMediaConn) AddTrack(track webrtc.TrackLocal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tracks = append(f.tracks, track)
	return nil
}

func (f *fakeMediaConn) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onICE = fn
}

func (f *fakeMediaConn) OnTrack(fn func(*webrtc.TrackRemote)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onTrack = fn
}

func (f *fakeMediaConn) OnStateChange(fn func(webrtc.PeerConnectionState)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onState = fn
}

func (f *fakeMediaConn) WriteRTCP([]rtcp.Packet) error { return nil }

func (f *fakeMediaConn) LinkStats() (LinkStats, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats, f.hasStats
}

func (f *fakeMediaConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeMediaConn) setStats(st LinkStats) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stats = st
	f.hasStats = true
}

func (f *fakeMediaConn) fireICE(cand webrtc.ICECandidateInit) {
	f.mu.Lock()
	fn := f.onICE
	f.mu.Unlock()
	if fn != nil {
		fn(cand)
	}
}

func (f *fakeMediaConn) fireState(state webrtc.PeerConnectionState) {
	f.mu.Lock()
	fn := f.onState
	f.mu.Unlock()
	if fn != nil {
		fn(state)
	}
}

func (f *fakeMediaConn) fireTrack(track *webrtc.TrackRemote) {
	f.mu.Lock()
	fn := f.onTrack
	f.mu.Unlock()
	if fn != nil {
		fn(track)
	}
}

func (f *fakeMediaConn) appliedCandidates() []webrtc.ICECandidateInit {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]webrtc.ICECandidateInit, len(f.candidates))
	copy(out, f.candidates)
	return out
}

func (f *fakeMediaConn) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeMediaConn) trackCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tracks)
}

func (f *fakeMediaConn) hasRemoteDesc() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.remoteDesc != nil
}

// fakeSource hands out one shared track and can be gated to simulate
// slow or failing acquisition.
type fakeSource struct {
	mu       sync.Mutex
	track    webrtc.TrackLocal
	failures int
	acquires int
	released int
	gate     chan struct{}
}

func newFakeSource() *fakeSource {
	track, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeH264, ClockRate: 90000},
		"video", "test",
	)
	if err != nil {
		panic(err)
	}
	return &fakeSource{track: track}
}

func (s *fakeSource) Acquire(ctx context.Context) (webrtc.TrackLocal, error) {
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acquires++
	if s.failures > 0 {
		s.failures--
		return nil, context.DeadlineExceeded
	}
	return s.track, nil
}

func (s *fakeSource) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released++
}

type fakeSink struct {
	frames atomic.Uint64

	mu     sync.Mutex
	width  int
	height int
}

func (s *fakeSink) HandleTrack(context.Context, *webrtc.TrackRemote, RTCPWriter) {}

func (s *fakeSink) FramesRendered() uint64 { return s.frames.Load() }

func (s *fakeSink) FrameSize() (int, int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.width == 0 {
		return 0, 0, false
	}
	return s.width, s.height, true
}

// waitFor polls cond until it holds or the timeout passes.
func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return cond()
}
